// Package backend defines the narrow seam to the managed message store:
// row queries, inserts, partial updates, and a realtime change feed. The
// client core only ever talks to this interface; the concrete transport
// lives in internal/remote.
package backend

import (
	"context"
	"time"

	"github.com/micksolo/VanishVoice-sub000/internal/message"
)

// EventType tags a realtime change event.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

// Event is one observed change to a conversation row. Old is only present
// on updates, and only when the transport can supply it.
type Event struct {
	Type EventType
	Old  *message.Message
	New  message.Message
}

// ChannelState reports the health of the realtime feed. The reconciliation
// engine never stops on a bad channel; it tightens polling instead.
type ChannelState string

const (
	ChannelConnected ChannelState = "connected"
	ChannelError     ChannelState = "error"
	ChannelClosed    ChannelState = "closed"
)

// Conversation identifies the 1:1 pair whose rows are being observed,
// from the local user's point of view.
type Conversation struct {
	UserID string
	PeerID string
}

// Page is a window into a conversation ordered newest-first.
type Page struct {
	Offset int
	Limit  int
}

// Patch carries the partial fields a consumption or expiry update writes.
// Nil fields are left untouched; timestamps are set-once on the server.
type Patch struct {
	ReadAt     *time.Time `json:"read_at,omitempty"`
	ViewedAt   *time.Time `json:"viewed_at,omitempty"`
	ListenedAt *time.Time `json:"listened_at,omitempty"`
	Expired    *bool      `json:"expired,omitempty"`
}

// Empty reports whether the patch would write nothing.
func (p Patch) Empty() bool {
	return p.ReadAt == nil && p.ViewedAt == nil && p.ListenedAt == nil && p.Expired == nil
}

// UnsubscribeFunc tears down a realtime subscription. Safe to call more
// than once.
type UnsubscribeFunc func()

// Client is the backend collaborator. All methods are safe for concurrent
// use. Subscribe delivers events and channel-state changes on the
// transport's goroutine; callers must not block in the callbacks.
type Client interface {
	Query(ctx context.Context, conv Conversation, page Page) ([]message.Message, error)
	Insert(ctx context.Context, msg message.Message) (message.Message, error)
	Update(ctx context.Context, id string, patch Patch) error
	Subscribe(ctx context.Context, conv Conversation, onEvent func(Event), onState func(ChannelState)) (UnsubscribeFunc, error)
}
