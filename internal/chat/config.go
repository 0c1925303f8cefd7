package chat

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultPrefsDBPath  = "vanishvoice-prefs.db"
	defaultBlobsDBPath  = "vanishvoice-blobs.db"
	defaultBlobsDirPath = "vanishvoice-blobs"
)

// Config holds client runtime settings derived from CLI flags.
type Config struct {
	ServerURL string
	Username  string
	Password  string
	Register  bool
	PeerID    string
	Secret    string
	NoColor   bool
	UseTUI    bool
	UseCLI    bool
	DataDir   string
	UserDir   string
	PrefsDB   string
	BlobsDB   string
	BlobsDir  string
}

// LoadConfig parses CLI flags and returns a populated Config.
func LoadConfig() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ServerURL, "server", "http://127.0.0.1:8090", "sync server base url")
	flag.StringVar(&cfg.Username, "username", "", "account username (also the sender id)")
	flag.StringVar(&cfg.Password, "password", "", "account password")
	flag.BoolVar(&cfg.Register, "register", false, "create the account before logging in")
	flag.StringVar(&cfg.PeerID, "peer", "", "username of the conversation partner")
	flag.StringVar(&cfg.Secret, "secret", "", "shared secret for end-to-end encryption")
	flag.BoolVar(&cfg.NoColor, "no-color", false, "disable ANSI colors in CLI output")
	flag.BoolVar(&cfg.UseTUI, "tui", false, "enable terminal UI mode")
	flag.StringVar(&cfg.DataDir, "data-dir", "vanishvoice-data", "base directory for per-user local state")
	flag.StringVar(&cfg.PrefsDB, "prefs-db", defaultPrefsDBPath, "path to the preferences db")
	flag.StringVar(&cfg.BlobsDB, "blobs-db", defaultBlobsDBPath, "path to the blob metadata db")
	flag.StringVar(&cfg.BlobsDir, "blobs-dir", defaultBlobsDirPath, "directory for sealed media payloads")

	flag.Parse()

	if cfg.Username == "" {
		log.Fatal("--username is required")
	}
	if cfg.PeerID == "" {
		log.Fatal("--peer is required")
	}
	cfg.UseCLI = !cfg.UseTUI

	cfg.ensureDirs()
	return cfg
}

func (cfg *Config) ensureDirs() {
	if cfg.DataDir == "" {
		cfg.DataDir = "vanishvoice-data"
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("init data dir: %v", err)
	}
	cfg.UserDir = filepath.Join(cfg.DataDir, sanitizePathToken(cfg.Username))
	if err := os.MkdirAll(cfg.UserDir, 0o755); err != nil {
		log.Fatalf("prepare user dir: %v", err)
	}
	if cfg.PrefsDB == defaultPrefsDBPath {
		cfg.PrefsDB = filepath.Join(cfg.UserDir, "prefs.db")
	}
	if cfg.BlobsDB == defaultBlobsDBPath {
		cfg.BlobsDB = filepath.Join(cfg.UserDir, "blobs.db")
	}
	if cfg.BlobsDir == defaultBlobsDirPath {
		cfg.BlobsDir = filepath.Join(cfg.UserDir, "blobs")
	}
}

func sanitizePathToken(val string) string {
	val = strings.TrimSpace(val)
	if val == "" {
		return "user"
	}
	var b strings.Builder
	for _, r := range val {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_':
			b.WriteRune(r)
		case r == '.', r == ':':
			b.WriteRune('-')
		}
	}
	out := b.String()
	if out == "" {
		return "user"
	}
	return out
}

func (cfg *Config) String() string {
	return fmt.Sprintf("user=%s peer=%s server=%s tui=%t", cfg.Username, cfg.PeerID, cfg.ServerURL, cfg.UseTUI)
}
