package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/crypto/scrypt"
)

// KeyMatch is the tri-state result of comparing a message's key hint
// against the local pairwise key: the hint may be absent (older clients),
// match, or disagree (peer rotated their secret).
type KeyMatch int

const (
	HintMissing KeyMatch = iota
	HintMatch
	HintMismatch
)

// Box encrypts 1:1 message payloads with a pairwise AES-GCM key derived
// from the shared secret and both participant ids. A nil Box passes data
// through unchanged (encryption disabled).
type Box struct {
	gcm  cipher.AEAD
	hint string
}

// Envelope is the wire form of an encrypted payload.
type Envelope struct {
	Nonce   string
	Data    string
	KeyHint string
}

// NewBox derives the pairwise key for (selfID, peerID). The pair salt is
// order-independent so both sides derive the same key.
func NewBox(secret, selfID, peerID string) (*Box, error) {
	if secret == "" {
		return nil, nil
	}
	pair := []string{selfID, peerID}
	sort.Strings(pair)
	salt := sha256.Sum256([]byte(pair[0] + "|" + pair[1]))
	key, err := scrypt.Key([]byte(secret), salt[:], 1<<15, 8, 1, 32)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(key)
	return &Box{gcm: gcm, hint: hex.EncodeToString(sum[:4])}, nil
}

// KeyHint identifies the derived key without revealing it; senders attach
// it so recipients can detect rotation before attempting decryption.
func (b *Box) KeyHint() string {
	if b == nil {
		return ""
	}
	return b.hint
}

// CheckHint compares a message's recorded key hint against the local key.
// A mismatch is not fatal: decryption is still attempted and only a real
// failure surfaces to the user (validate-but-proceed).
func (b *Box) CheckHint(hint string) KeyMatch {
	if b == nil || hint == "" {
		return HintMissing
	}
	if hint == b.hint {
		return HintMatch
	}
	return HintMismatch
}

// EncryptFor seals plaintext for the peer this box was derived with.
func (b *Box) EncryptFor(plaintext []byte) (Envelope, error) {
	if b == nil {
		return Envelope{Data: base64.StdEncoding.EncodeToString(plaintext)}, nil
	}
	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, err
	}
	ciphertext := b.gcm.Seal(nil, nonce, plaintext, nil)
	return Envelope{
		Nonce:   base64.StdEncoding.EncodeToString(nonce),
		Data:    base64.StdEncoding.EncodeToString(ciphertext),
		KeyHint: b.hint,
	}, nil
}

// DecryptFrom reverses EncryptFor.
func (b *Box) DecryptFrom(env Envelope) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if b == nil {
		return data, nil
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	if len(nonce) != b.gcm.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}
	return b.gcm.Open(nil, nonce, data, nil)
}
