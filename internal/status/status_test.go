package status

import (
	"testing"
	"time"

	"github.com/micksolo/VanishVoice-sub000/internal/message"
)

func outgoing(createdAt time.Time) message.Message {
	return message.Message{
		ID:          "m1",
		SenderID:    "alice",
		RecipientID: "bob",
		Kind:        message.KindText,
		CreatedAt:   createdAt,
	}
}

func TestComputeUnconfirmedIsSending(t *testing.T) {
	msg := outgoing(time.Now())
	msg.ID = ""
	msg.TempID = message.NewTempID()
	if got := Compute(msg, "alice", time.Now()); got != Sending {
		t.Fatalf("expected sending, got %s", got)
	}
}

func TestComputeSentWithinGrace(t *testing.T) {
	now := time.Now()
	msg := outgoing(now.Add(-500 * time.Millisecond))
	if got := Compute(msg, "alice", now); got != Sent {
		t.Fatalf("expected sent, got %s", got)
	}
}

func TestComputeDeliveredAfterGrace(t *testing.T) {
	now := time.Now()
	msg := outgoing(now.Add(-deliveredGrace))
	if got := Compute(msg, "alice", now); got != Delivered {
		t.Fatalf("expected delivered, got %s", got)
	}
}

func TestComputeAnyConsumptionTimestampMeansRead(t *testing.T) {
	now := time.Now()
	stamps := []func(*message.Message, time.Time){
		func(m *message.Message, ts time.Time) { m.ReadAt = &ts },
		func(m *message.Message, ts time.Time) { m.ViewedAt = &ts },
		func(m *message.Message, ts time.Time) { m.ListenedAt = &ts },
	}
	for i, set := range stamps {
		msg := outgoing(now.Add(-time.Minute))
		set(&msg, now)
		if got := Compute(msg, "alice", now); got != Read {
			t.Fatalf("stamp %d: expected read, got %s", i, got)
		}
	}
}

func TestComputeIgnoresClockSkew(t *testing.T) {
	// Consumption recorded before CreatedAt still counts as read.
	now := time.Now()
	msg := outgoing(now)
	before := now.Add(-time.Hour)
	msg.ListenedAt = &before
	if got := Compute(msg, "alice", now); got != Read {
		t.Fatalf("expected read despite skew, got %s", got)
	}
}

func TestComputeMonotonicOnceRead(t *testing.T) {
	now := time.Now()
	msg := outgoing(now.Add(-time.Millisecond))
	ts := now
	msg.ReadAt = &ts
	for i := 0; i < 5; i++ {
		if got := Compute(msg, "alice", now.Add(time.Duration(i)*time.Second)); got != Read {
			t.Fatalf("evaluation %d regressed to %s", i, got)
		}
	}
}

func TestRankOrdering(t *testing.T) {
	order := []Status{Sending, Sent, Delivered, Read}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("%s should outrank %s", order[i], order[i-1])
		}
	}
	if Failed.Rank() <= Read.Rank() {
		t.Fatalf("failed must be terminal")
	}
}
