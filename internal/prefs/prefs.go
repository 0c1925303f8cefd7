// Package prefs persists the small amount of client state that survives
// screens: the user identity and the standing expiry-rule default applied
// to outgoing messages.
package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/micksolo/VanishVoice-sub000/internal/message"
)

const prefsBucket = "prefs"

const (
	keyDefaultExpiry = "default_expiry"
	keyUserID        = "user_id"
)

// Store keeps preferences in BoltDB so they survive restarts.
type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(prefsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DefaultExpiry returns the standing expiry rule for new messages. A store
// with no saved value (or none at all) defaults to no expiry.
func (s *Store) DefaultExpiry() message.ExpiryRule {
	rule := message.ExpiryRule{Type: message.ExpiryNone}
	if s == nil || s.db == nil {
		return rule
	}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(prefsBucket)).Get([]byte(keyDefaultExpiry))
		if data == nil {
			return nil
		}
		var saved message.ExpiryRule
		if err := json.Unmarshal(data, &saved); err == nil && saved.Validate() == nil {
			rule = saved
		}
		return nil
	})
	return rule
}

// SetDefaultExpiry saves the standing expiry rule.
func (s *Store) SetDefaultExpiry(rule message.ExpiryRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return nil
	}
	data, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(prefsBucket)).Put([]byte(keyDefaultExpiry), data)
	})
}

// UserID returns the persisted identity, or empty when unset.
func (s *Store) UserID() string {
	if s == nil || s.db == nil {
		return ""
	}
	var id string
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket([]byte(prefsBucket)).Get([]byte(keyUserID)); data != nil {
			id = string(data)
		}
		return nil
	})
	return id
}

// SetUserID persists the identity.
func (s *Store) SetUserID(id string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(prefsBucket)).Put([]byte(keyUserID), []byte(id))
	})
}
