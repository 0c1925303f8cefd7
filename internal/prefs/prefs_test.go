package prefs

import (
	"path/filepath"
	"testing"

	"github.com/micksolo/VanishVoice-sub000/internal/message"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "prefs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDefaultExpiryUnsetIsNone(t *testing.T) {
	s := openTemp(t)
	if got := s.DefaultExpiry(); got.Type != message.ExpiryNone {
		t.Fatalf("expected none, got %+v", got)
	}
}

func TestSetDefaultExpiryRoundTrip(t *testing.T) {
	s := openTemp(t)
	rule := message.ExpiryRule{Type: message.ExpiryTime, DurationSec: 60}
	if err := s.SetDefaultExpiry(rule); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := s.DefaultExpiry(); got != rule {
		t.Fatalf("expected %+v, got %+v", rule, got)
	}
}

func TestSetDefaultExpiryRejectsInvalidRule(t *testing.T) {
	s := openTemp(t)
	if err := s.SetDefaultExpiry(message.ExpiryRule{Type: message.ExpiryPlayback}); err == nil {
		t.Fatal("playback without count should be rejected")
	}
}

func TestUserIDRoundTrip(t *testing.T) {
	s := openTemp(t)
	if s.UserID() != "" {
		t.Fatal("fresh store should have no identity")
	}
	if err := s.SetUserID("alice"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := s.UserID(); got != "alice" {
		t.Fatalf("expected alice, got %q", got)
	}
}

func TestNilStoreIsInert(t *testing.T) {
	var s *Store
	if got := s.DefaultExpiry(); got.Type != message.ExpiryNone {
		t.Fatalf("nil store default should be none, got %+v", got)
	}
	if err := s.SetUserID("x"); err != nil {
		t.Fatalf("nil store set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("nil store close: %v", err)
	}
}
