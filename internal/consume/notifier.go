// Package consume records local view/playback actions: it patches the
// local store optimistically, pushes the consumption timestamp to the
// backend, and schedules the local removal the expiry rule calls for.
package consume

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/micksolo/VanishVoice-sub000/internal/backend"
	"github.com/micksolo/VanishVoice-sub000/internal/expiry"
	"github.com/micksolo/VanishVoice-sub000/internal/message"
	"github.com/micksolo/VanishVoice-sub000/internal/store"
)

var (
	retryCheckInterval = 3 * time.Second
	retryAfter         = 5 * time.Second
	retryMaxAttempts   = 3
)

// RemovalScheduler arms a deferred store removal; the reconcile session
// implements it with its lifecycle-guarded timers.
type RemovalScheduler interface {
	ScheduleRemoval(id string, after time.Duration)
}

type pendingWrite struct {
	id       string
	patch    backend.Patch
	attempts int
	lastTry  time.Time
}

// Options describes the dependencies needed to construct a Notifier.
type Options struct {
	Client backend.Client
	Store  *store.Store
	Sched  RemovalScheduler
	Render func()
}

// Notifier implements mark-consumed. Failed backend writes are retried on a
// ticker with capped attempts; the optimistic local state is never rolled
// back, because ephemerality is a UX guarantee for the viewer whether or
// not the backend confirms.
type Notifier struct {
	client backend.Client
	store  *store.Store
	sched  RemovalScheduler
	render func()

	mu      sync.Mutex
	pending map[string]*pendingWrite
	timers  map[*time.Timer]struct{}
	stopped bool
	quit    chan struct{}
}

// NewNotifier builds a notifier and starts its retry loop.
func NewNotifier(opts Options) *Notifier {
	n := &Notifier{
		client:  opts.Client,
		store:   opts.Store,
		sched:   opts.Sched,
		render:  opts.Render,
		pending: make(map[string]*pendingWrite),
		timers:  make(map[*time.Timer]struct{}),
		quit:    make(chan struct{}),
	}
	go n.loop()
	return n
}

// MarkConsumed records a user action against a message. Calling it again
// for an action whose timestamp is already set is a no-op: no second write,
// no second removal timer.
func (n *Notifier) MarkConsumed(id string, kind message.ConsumptionKind) {
	n.mu.Lock()
	entry, ok := n.store.Get(id)
	if !ok {
		n.mu.Unlock()
		return
	}
	patch, already := patchFor(entry.Msg, kind)
	if already {
		n.mu.Unlock()
		return
	}

	dec, fire := expiry.OnConsumed(entry.Msg, kind)
	// View and playback consumption is terminal, so the expired flag rides
	// on the same write. A time rule only expires once its countdown has
	// run: flagging it at first reveal would tombstone the row for anyone
	// reloading mid-countdown.
	countdown := fire && entry.Msg.Expiry.Type == message.ExpiryTime
	if fire && !countdown {
		t := true
		patch.Expired = &t
	}

	changed := n.store.ApplyPatch(id, patch)
	n.mu.Unlock()

	if changed && n.render != nil {
		n.render()
	}
	// The write doubles as the sender notification: their reconciliation
	// observes the timestamp transition on the shared row.
	go n.write(id, patch)
	if fire {
		n.sched.ScheduleRemoval(id, dec.RemoveAfter)
		if countdown {
			n.armExpiredWrite(id, dec.RemoveAfter)
		}
	}
}

// armExpiredWrite flags the row expired once a countdown elapses. The timer
// is dropped on Stop so a closed client never writes stale expirations.
func (n *Notifier) armExpiredWrite(id string, after time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(after, func() {
		n.mu.Lock()
		delete(n.timers, timer)
		dead := n.stopped
		n.mu.Unlock()
		if dead {
			return
		}
		t := true
		patch := backend.Patch{Expired: &t}
		if n.store.ApplyPatch(id, patch) && n.render != nil {
			n.render()
		}
		n.write(id, patch)
	})
	n.timers[timer] = struct{}{}
}

// patchFor picks the timestamp a concrete action sets. The second return
// reports that the relevant timestamp is already recorded.
func patchFor(msg message.Message, kind message.ConsumptionKind) (backend.Patch, bool) {
	now := time.Now()
	switch kind {
	case message.ConsumedPlayed:
		if msg.ListenedAt != nil {
			return backend.Patch{}, true
		}
		return backend.Patch{ListenedAt: &now}, false
	case message.ConsumedOpened, message.ConsumedClosed:
		if msg.Expiry.Type == message.ExpiryView || kind == message.ConsumedClosed {
			if msg.ViewedAt != nil {
				return backend.Patch{}, true
			}
			return backend.Patch{ViewedAt: &now}, false
		}
		if msg.ReadAt != nil {
			return backend.Patch{}, true
		}
		return backend.Patch{ReadAt: &now}, false
	}
	return backend.Patch{}, true
}

func (n *Notifier) write(id string, patch backend.Patch) {
	if err := n.client.Update(context.Background(), id, patch); err != nil {
		log.Printf("consumption write for %s failed, queuing retry: %v", id, err)
		n.mu.Lock()
		n.pending[id] = &pendingWrite{id: id, patch: patch, attempts: 1, lastTry: time.Now()}
		n.mu.Unlock()
	}
}

func (n *Notifier) loop() {
	ticker := time.NewTicker(retryCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.retryExpired()
		case <-n.quit:
			return
		}
	}
}

func (n *Notifier) retryExpired() {
	now := time.Now()
	var due []*pendingWrite

	n.mu.Lock()
	for id, pw := range n.pending {
		if now.Sub(pw.lastTry) < retryAfter {
			continue
		}
		if pw.attempts >= retryMaxAttempts {
			log.Printf("dropping consumption write for %s after %d attempts", id, pw.attempts)
			delete(n.pending, id)
			continue
		}
		pw.attempts++
		pw.lastTry = now
		due = append(due, pw)
	}
	n.mu.Unlock()

	for _, pw := range due {
		if err := n.client.Update(context.Background(), pw.id, pw.patch); err != nil {
			log.Printf("consumption retry for %s failed: %v", pw.id, err)
			continue
		}
		n.mu.Lock()
		delete(n.pending, pw.id)
		n.mu.Unlock()
	}
}

// PendingWrites reports how many consumption writes still await the
// backend.
func (n *Notifier) PendingWrites() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

// Stop halts the retry loop and any armed countdown timers. Idempotent.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	for timer := range n.timers {
		timer.Stop()
		delete(n.timers, timer)
	}
	n.mu.Unlock()
	close(n.quit)
}
