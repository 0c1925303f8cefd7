package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies the message payload.
type Kind string

const (
	KindText  Kind = "text"
	KindVoice Kind = "voice"
	KindVideo Kind = "video"
)

// ConsumptionKind is the concrete user action that consumed a message.
type ConsumptionKind string

const (
	ConsumedOpened ConsumptionKind = "opened"
	ConsumedPlayed ConsumptionKind = "played"
	ConsumedClosed ConsumptionKind = "closed"
)

// ExpiryType selects the expiry rule variant. Exactly one variant is active
// per message and it never changes after send.
type ExpiryType string

const (
	ExpiryNone     ExpiryType = "none"
	ExpiryView     ExpiryType = "view"
	ExpiryPlayback ExpiryType = "playback"
	ExpiryTime     ExpiryType = "time"
)

// ExpiryRule is chosen once at send time from the sender's standing
// preference. PlayCount applies to playback, DurationSec to time.
type ExpiryRule struct {
	Type        ExpiryType `json:"type"`
	PlayCount   int        `json:"play_count,omitempty"`
	DurationSec int        `json:"duration_sec,omitempty"`
}

// BlobRef points at an uploaded voice/video payload. Params carries the
// encryption material needed to decrypt the downloaded bytes.
type BlobRef struct {
	Path       string `json:"path"`
	Params     string `json:"params,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
}

// Message is the unit of conversation content in a 1:1 conversation.
//
// ID is server-assigned; an unconfirmed optimistic entry carries only TempID.
// The two are never both meaningful at once: Confirmed() flips the moment
// the server id arrives.
//
// ReadAt/ViewedAt/ListenedAt are the ground truth consumption timestamps:
// each transitions null to set at most once and is never reset.
type Message struct {
	ID          string     `json:"id,omitempty"`
	TempID      string     `json:"temp_id,omitempty"`
	SenderID    string     `json:"sender_id"`
	RecipientID string     `json:"recipient_id"`
	Kind        Kind       `json:"kind"`
	Body        string     `json:"body,omitempty"`
	Nonce       string     `json:"nonce,omitempty"`
	KeyHint     string     `json:"key_hint,omitempty"`
	Blob        *BlobRef   `json:"blob,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Expiry      ExpiryRule `json:"expiry"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	ViewedAt    *time.Time `json:"viewed_at,omitempty"`
	ListenedAt  *time.Time `json:"listened_at,omitempty"`
	Expired     bool       `json:"expired"`
}

// Confirmed reports whether the server id has been assigned.
func (m Message) Confirmed() bool { return m.ID != "" }

// Key returns the identifier a local store should index the message by:
// the server id once confirmed, the temp id before that.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

// Consumed reports whether any consumption timestamp has been recorded.
func (m Message) Consumed() bool {
	return m.ReadAt != nil || m.ViewedAt != nil || m.ListenedAt != nil
}

// Spent reports whether the expiry protocol has finished with the message.
// A spent row must never enter a conversation view: re-surfacing a consumed
// view-once message would resurrect it on screen. Time rules are only spent
// once the countdown completes and the expired flag lands; a consumed but
// unexpired countdown row is still visible.
func (m Message) Spent() bool {
	if m.Expired {
		return true
	}
	switch m.Expiry.Type {
	case ExpiryView, ExpiryPlayback:
		return m.Consumed()
	}
	return false
}

// ConsumedAt returns the timestamp recorded for the given action, or nil.
func (m Message) ConsumedAt(kind ConsumptionKind) *time.Time {
	switch kind {
	case ConsumedPlayed:
		return m.ListenedAt
	case ConsumedOpened, ConsumedClosed:
		return m.ViewedAt
	}
	return nil
}

// NewTempID produces a client-assigned placeholder id for optimistic entries.
func NewTempID() string {
	return fmt.Sprintf("tmp-%s", uuid.NewString())
}

// Validate rejects rule combinations that cannot be sent.
func (r ExpiryRule) Validate() error {
	switch r.Type {
	case ExpiryNone, ExpiryView:
		return nil
	case ExpiryPlayback:
		if r.PlayCount < 1 {
			return fmt.Errorf("playback rule requires play_count >= 1, got %d", r.PlayCount)
		}
		return nil
	case ExpiryTime:
		if r.DurationSec < 1 {
			return fmt.Errorf("time rule requires duration_sec >= 1, got %d", r.DurationSec)
		}
		return nil
	}
	return fmt.Errorf("unknown expiry type %q", r.Type)
}
