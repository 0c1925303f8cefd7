package expiry

import (
	"testing"
	"time"

	"github.com/micksolo/VanishVoice-sub000/internal/message"
)

func incoming(rule message.ExpiryRule) message.Message {
	return message.Message{
		ID:          "m1",
		SenderID:    "alice",
		RecipientID: "bob",
		Kind:        message.KindText,
		CreatedAt:   time.Now(),
		Expiry:      rule,
	}
}

func TestOnConsumedNoneNeverFires(t *testing.T) {
	msg := incoming(message.ExpiryRule{Type: message.ExpiryNone})
	for _, kind := range []message.ConsumptionKind{message.ConsumedOpened, message.ConsumedPlayed, message.ConsumedClosed} {
		if _, ok := OnConsumed(msg, kind); ok {
			t.Fatalf("none rule must never schedule removal (kind %s)", kind)
		}
	}
}

func TestOnConsumedViewOnOpen(t *testing.T) {
	msg := incoming(message.ExpiryRule{Type: message.ExpiryView})
	dec, ok := OnConsumed(msg, message.ConsumedOpened)
	if !ok {
		t.Fatal("view rule should fire on open")
	}
	if dec.RemoveAfter != viewGrace {
		t.Fatalf("expected %v grace, got %v", viewGrace, dec.RemoveAfter)
	}
	if !dec.NotifySender {
		t.Fatal("view rule must notify sender")
	}
}

func TestOnConsumedViewIgnoresPlayed(t *testing.T) {
	msg := incoming(message.ExpiryRule{Type: message.ExpiryView})
	if _, ok := OnConsumed(msg, message.ConsumedPlayed); ok {
		t.Fatal("played does not consume a view rule")
	}
}

func TestOnConsumedPlaybackUsesAudioDuration(t *testing.T) {
	msg := incoming(message.ExpiryRule{Type: message.ExpiryPlayback, PlayCount: 1})
	msg.Kind = message.KindVoice
	msg.Blob = &message.BlobRef{Path: "b/1", DurationMs: 4500}
	dec, ok := OnConsumed(msg, message.ConsumedPlayed)
	if !ok {
		t.Fatal("playback rule should fire on play completion")
	}
	audio := 4500 * time.Millisecond
	if dec.RemoveAfter < audio {
		t.Fatalf("removal %v scheduled before audio end %v", dec.RemoveAfter, audio)
	}
	if dec.RemoveAfter > audio+playbackBuffer {
		t.Fatalf("removal %v exceeds audio end plus buffer %v", dec.RemoveAfter, audio+playbackBuffer)
	}
}

func TestOnConsumedPlaybackAfterCloseSkipsAudioDelay(t *testing.T) {
	msg := incoming(message.ExpiryRule{Type: message.ExpiryPlayback, PlayCount: 1})
	msg.Kind = message.KindVideo
	msg.Blob = &message.BlobRef{Path: "b/2", DurationMs: 60000}
	dec, ok := OnConsumed(msg, message.ConsumedClosed)
	if !ok {
		t.Fatal("closing the player consumes a playback rule")
	}
	if dec.RemoveAfter != playbackBuffer {
		t.Fatalf("expected buffer-only delay, got %v", dec.RemoveAfter)
	}
}

func TestOnConsumedTimeCountdown(t *testing.T) {
	msg := incoming(message.ExpiryRule{Type: message.ExpiryTime, DurationSec: 30})
	dec, ok := OnConsumed(msg, message.ConsumedOpened)
	if !ok {
		t.Fatal("time rule should start countdown on reveal")
	}
	if dec.RemoveAfter != 30*time.Second {
		t.Fatalf("expected 30s countdown, got %v", dec.RemoveAfter)
	}
	if !dec.NotifySender {
		t.Fatal("time rule defaults to notifying the sender")
	}
}

func TestOnConsumedIdempotent(t *testing.T) {
	msg := incoming(message.ExpiryRule{Type: message.ExpiryView})
	ts := time.Now()
	msg.ViewedAt = &ts
	if _, ok := OnConsumed(msg, message.ConsumedOpened); ok {
		t.Fatal("already-consumed message must be a no-op")
	}
}
