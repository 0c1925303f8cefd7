package reconcile

import (
	"time"

	"github.com/micksolo/VanishVoice-sub000/internal/backend"
	"github.com/micksolo/VanishVoice-sub000/internal/expiry"
	"github.com/micksolo/VanishVoice-sub000/internal/message"
	"github.com/micksolo/VanishVoice-sub000/internal/store"
)

// expiredSweepDelay is used when a poll reveals the expired flag without a
// fresh consumption transition (e.g. the grace timer was lost to a screen
// teardown on the other side of a restart).
var expiredSweepDelay = time.Second

// mergeRecord applies one observed backend record to the store. Both
// channels funnel through here, so the result is the same for any
// interleaving: inserts are resolved by id presence, updates only ever move
// forward, and a record identical to current state changes nothing.
func (s *Session) mergeRecord(rec message.Message) bool {
	if rec.ID == "" {
		return false
	}
	existing, ok := s.store.Get(rec.ID)
	if !ok {
		if rec.Spent() {
			return false
		}
		if !s.store.ApplyInsert(store.Entry{Msg: rec}) {
			s.counters.IncSuppressed()
			return false
		}
		s.counters.IncApplied()
		return true
	}

	patch := forwardPatch(existing.Msg, rec)
	if patch.Empty() {
		s.counters.IncSuppressed()
		return false
	}
	if !s.store.ApplyPatch(rec.ID, patch) {
		s.counters.IncSuppressed()
		return false
	}
	s.counters.IncApplied()
	s.scheduleAfterTransition(existing.Msg, patch)
	return true
}

// forwardPatch keeps only forward-progressing fields of the incoming
// record: previously-null timestamps becoming set and the expired flag
// turning on. A stale record that raced a fresher update contributes
// nothing, so a read entry can never regress to delivered.
func forwardPatch(current, incoming message.Message) backend.Patch {
	var patch backend.Patch
	if incoming.ReadAt != nil && current.ReadAt == nil {
		patch.ReadAt = incoming.ReadAt
	}
	if incoming.ViewedAt != nil && current.ViewedAt == nil {
		patch.ViewedAt = incoming.ViewedAt
	}
	if incoming.ListenedAt != nil && current.ListenedAt == nil {
		patch.ListenedAt = incoming.ListenedAt
	}
	if incoming.Expired && !current.Expired {
		t := true
		patch.Expired = &t
	}
	return patch
}

// scheduleAfterTransition reacts to a consumption transition observed on
// the shared row. This is how a sender's copy of a view/playback message
// clears: the recipient's write is the notification, no out-of-band channel
// exists. prior is the entry state before the patch was applied.
func (s *Session) scheduleAfterTransition(prior message.Message, patch backend.Patch) {
	kind, ok := transitionKind(patch)
	if ok {
		if dec, fire := expiry.OnConsumed(prior, kind); fire {
			s.ScheduleRemoval(prior.ID, dec.RemoveAfter)
			return
		}
	}
	if patch.Expired != nil && *patch.Expired && prior.Expiry.Type != message.ExpiryNone {
		s.ScheduleRemoval(prior.ID, expiredSweepDelay)
	}
}

func transitionKind(patch backend.Patch) (message.ConsumptionKind, bool) {
	switch {
	case patch.ListenedAt != nil:
		return message.ConsumedPlayed, true
	case patch.ViewedAt != nil:
		return message.ConsumedOpened, true
	}
	return "", false
}
