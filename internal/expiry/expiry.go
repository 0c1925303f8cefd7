// Package expiry decides whether and when a consumed message must vanish
// from a participant's view.
package expiry

import (
	"time"

	"github.com/micksolo/VanishVoice-sub000/internal/message"
)

var (
	// viewGrace lets the reveal animation finish before a view-once
	// message is pulled from the screen.
	viewGrace = 3 * time.Second
	// playbackBuffer pads the removal delay so in-flight audio is not
	// cut off.
	playbackBuffer = 2 * time.Second
)

// Decision describes what must happen after a terminal consumption.
type Decision struct {
	RemoveAfter  time.Duration
	NotifySender bool
}

// OnConsumed evaluates msg's expiry rule against a concrete user action.
// The second return is false when nothing should happen: rule none, an
// action that does not consume this rule, or a message whose relevant
// timestamp is already set (repeat calls are no-ops).
//
// The recipient's consumption write is itself the sender notification: the
// sender's reconciliation observes the timestamp transition on the shared
// row and clears its own copy, so NotifySender never needs a separate
// channel.
func OnConsumed(msg message.Message, kind message.ConsumptionKind) (Decision, bool) {
	if msg.ConsumedAt(kind) != nil {
		return Decision{}, false
	}
	switch msg.Expiry.Type {
	case message.ExpiryView:
		// First on-screen reveal is terminal. Closing a viewer counts
		// the same way for video payloads.
		if kind != message.ConsumedOpened && kind != message.ConsumedClosed {
			return Decision{}, false
		}
		return Decision{RemoveAfter: viewGrace, NotifySender: true}, true
	case message.ExpiryPlayback:
		switch kind {
		case message.ConsumedPlayed:
			return Decision{RemoveAfter: playDuration(msg) + playbackBuffer, NotifySender: true}, true
		case message.ConsumedClosed:
			// Player already closed, no audio left in flight.
			return Decision{RemoveAfter: playbackBuffer, NotifySender: true}, true
		}
		return Decision{}, false
	case message.ExpiryTime:
		// Countdown starts at first reveal, independent of further
		// interaction.
		return Decision{
			RemoveAfter:  time.Duration(msg.Expiry.DurationSec) * time.Second,
			NotifySender: true,
		}, true
	}
	return Decision{}, false
}

func playDuration(msg message.Message) time.Duration {
	if msg.Blob == nil || msg.Blob.DurationMs <= 0 {
		return 0
	}
	return time.Duration(msg.Blob.DurationMs) * time.Millisecond
}
