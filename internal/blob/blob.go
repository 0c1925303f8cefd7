// Package blob is the opaque storage collaborator for voice and video
// payloads: bytes are sealed with the conversation's crypto box, written
// to the blob directory, and indexed in BoltDB.
package blob

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/micksolo/VanishVoice-sub000/internal/crypto"
	"github.com/micksolo/VanishVoice-sub000/internal/message"
)

const blobsBucket = "blobs"

// ProgressFunc receives 0-100 while bytes move. May be nil.
type ProgressFunc func(percent int)

type blobMeta struct {
	ID         string    `json:"id"`
	Size       int64     `json:"size"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists sealed payloads on disk with metadata in BoltDB.
type Store struct {
	db  *bbolt.DB
	dir string
	box *crypto.Box
}

func Open(dbPath, dir string, box *crypto.Box) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(blobsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, dir: dir, box: box}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upload seals the local file and stores it, returning the reference to
// embed in the outgoing message. durationMs is the media duration reported
// by the capture layer; the expiry evaluator needs it for playback rules.
func (s *Store) Upload(localPath string, durationMs int64, onProgress ProgressFunc) (message.BlobRef, error) {
	if s == nil || s.db == nil {
		return message.BlobRef{}, fmt.Errorf("blob store not initialized")
	}
	report(onProgress, 0)
	plain, err := os.ReadFile(localPath)
	if err != nil {
		return message.BlobRef{}, err
	}
	report(onProgress, 30)
	env, err := s.box.EncryptFor(plain)
	if err != nil {
		return message.BlobRef{}, err
	}
	id := newBlobID()
	path := filepath.Join(s.dir, id)
	if err := os.WriteFile(path, []byte(env.Data), 0o600); err != nil {
		return message.BlobRef{}, err
	}
	report(onProgress, 80)
	meta := blobMeta{ID: id, Size: int64(len(plain)), DurationMs: durationMs, CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(meta)
	if err != nil {
		return message.BlobRef{}, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(blobsBucket)).Put([]byte(id), data)
	})
	if err != nil {
		return message.BlobRef{}, err
	}
	report(onProgress, 100)
	return message.BlobRef{
		Path:       id,
		Params:     env.Nonce,
		DurationMs: durationMs,
		SizeBytes:  meta.Size,
	}, nil
}

// Download unseals a stored payload into a scratch file and returns its
// path. The caller owns the scratch file.
func (s *Store) Download(ref message.BlobRef, onProgress ProgressFunc) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("blob store not initialized")
	}
	report(onProgress, 0)
	sealed, err := os.ReadFile(filepath.Join(s.dir, ref.Path))
	if err != nil {
		return "", err
	}
	report(onProgress, 40)
	plain, err := s.box.DecryptFrom(crypto.Envelope{Nonce: ref.Params, Data: string(sealed)})
	if err != nil {
		return "", fmt.Errorf("unseal blob %s: %w", ref.Path, err)
	}
	out, err := os.CreateTemp("", "vvblob-*")
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := out.Write(plain); err != nil {
		return "", err
	}
	report(onProgress, 100)
	return out.Name(), nil
}

func report(fn ProgressFunc, pct int) {
	if fn != nil {
		fn(pct)
	}
}

func newBlobID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", b)
}
