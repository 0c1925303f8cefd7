package status

import (
	"time"

	"github.com/micksolo/VanishVoice-sub000/internal/message"
)

// Status is the derived delivery/read label shown to a sender about their
// own outgoing message. It is computed fresh from canonical fields and is
// never persisted or trusted as an input.
type Status string

const (
	Sending   Status = "sending"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
	Failed    Status = "failed"
)

// deliveredGrace models network settling: a confirmed message older than
// this is shown as delivered even before any receipt arrives.
var deliveredGrace = 2 * time.Second

// Rank orders statuses by lifecycle progress. Reconciliation only applies
// transitions that move rank forward. Failed is terminal: it outranks
// everything because a failed optimistic entry must stay visibly failed
// until the user retries.
func (s Status) Rank() int {
	switch s {
	case Sending:
		return 0
	case Sent:
		return 1
	case Delivered:
		return 2
	case Read:
		return 3
	case Failed:
		return 4
	}
	return -1
}

// Compute derives the display status of msg for viewerID at the given
// instant. It is pure and safe to call on every render.
//
// Only the sender of a message renders a status; recipients render content
// directly. Sending and Failed are owned by the local optimistic send path
// (see the store's pending/failed marking) and are not derived here beyond
// the unconfirmed-id case.
//
// Any non-null consumption timestamp means Read, regardless of ordering
// relative to CreatedAt: clock skew between participants is not reconciled.
func Compute(msg message.Message, viewerID string, now time.Time) Status {
	if !msg.Confirmed() {
		return Sending
	}
	if viewerID != msg.SenderID {
		// Incoming messages have no meaningful delivery status.
		if msg.Consumed() {
			return Read
		}
		return Delivered
	}
	if msg.Consumed() {
		return Read
	}
	if now.Sub(msg.CreatedAt) >= deliveredGrace {
		return Delivered
	}
	return Sent
}
