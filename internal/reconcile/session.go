// Package reconcile merges two independent observations of the same backend
// state, a realtime push feed and a fixed-interval poll, into one coherent
// stream of local store mutations.
package reconcile

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/micksolo/VanishVoice-sub000/internal/backend"
	"github.com/micksolo/VanishVoice-sub000/internal/store"
)

var (
	pollInterval         = 4 * time.Second
	pollIntervalDegraded = 1500 * time.Millisecond
	pollIntervalIdle     = 15 * time.Second
	idleAfter            = 2 * time.Minute
)

// RenderFunc is invoked after a merge that actually changed the view-model.
type RenderFunc func()

// Options describes the dependencies needed to construct a Session.
type Options struct {
	Client backend.Client
	Store  *store.Store
	Conv   backend.Conversation
	Render RenderFunc
}

// Session owns every subscription, poll ticker, and removal timer tied to
// one open conversation. Dispose tears all of them down; any deferred
// mutation firing after disposal is a guaranteed no-op.
type Session struct {
	client backend.Client
	store  *store.Store
	conv   backend.Conversation
	render RenderFunc

	counters Counters

	mu           sync.Mutex
	disposed     bool
	unsub        backend.UnsubscribeFunc
	timers       map[*time.Timer]struct{}
	channelUp    bool
	lastActivity time.Time

	quit chan struct{}
}

// NewSession wires a session for one conversation. Call Start to begin
// observing and Dispose when the screen goes away.
func NewSession(opts Options) *Session {
	return &Session{
		client:       opts.Client,
		store:        opts.Store,
		conv:         opts.Conv,
		render:       opts.Render,
		timers:       make(map[*time.Timer]struct{}),
		lastActivity: time.Now(),
		quit:         make(chan struct{}),
	}
}

// Start establishes the realtime subscription and launches the poll loop.
// A failed subscribe is not fatal: polling alone keeps the conversation
// converging, at worst with higher latency.
func (s *Session) Start(ctx context.Context) {
	unsub, err := s.client.Subscribe(ctx, s.conv, s.HandleEvent, s.handleChannelState)
	if err != nil {
		log.Printf("realtime subscribe failed, relying on poll: %v", err)
		s.setChannelUp(false)
	} else {
		s.mu.Lock()
		s.unsub = unsub
		s.channelUp = true
		s.mu.Unlock()
	}
	go s.pollLoop(ctx)
}

// HandleEvent feeds one realtime event through the merge. Exported so the
// transport (and tests) can drive the session directly.
func (s *Session) HandleEvent(evt backend.Event) {
	if s.isDisposed() {
		return
	}
	s.counters.IncPush()
	if s.mergeRecord(evt.New) {
		s.touch()
		s.renderIfLive()
	}
}

// PollNow performs one poll pass outside the regular cadence, e.g. right
// after a send failure cleared.
func (s *Session) PollNow(ctx context.Context) {
	s.pollOnce(ctx)
}

func (s *Session) pollLoop(ctx context.Context) {
	for {
		timer := time.NewTimer(s.currentInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.quit:
			timer.Stop()
			return
		case <-timer.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Session) pollOnce(ctx context.Context) {
	if s.isDisposed() {
		return
	}
	limit := s.store.Len()
	if min := store.DefaultPageSize; limit < min {
		limit = min
	}
	records, err := s.client.Query(ctx, s.conv, backend.Page{Offset: 0, Limit: limit})
	if err != nil {
		log.Printf("poll query: %v", err)
		return
	}
	s.counters.IncPoll()
	changed := false
	for _, rec := range records {
		if s.mergeRecord(rec) {
			changed = true
		}
	}
	if changed {
		s.touch()
		s.renderIfLive()
	}
}

// currentInterval picks the poll cadence: tighter while the realtime
// channel is down, relaxed after a stretch with no activity.
func (s *Session) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.channelUp {
		return pollIntervalDegraded
	}
	if time.Since(s.lastActivity) > idleAfter {
		return pollIntervalIdle
	}
	return pollInterval
}

func (s *Session) handleChannelState(state backend.ChannelState) {
	up := state == backend.ChannelConnected
	s.setChannelUp(up)
	if !up {
		log.Printf("realtime channel %s, polling takes over", state)
	}
}

func (s *Session) setChannelUp(up bool) {
	s.mu.Lock()
	s.channelUp = up
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// ScheduleRemoval arms a removal timer for id. The entry is flagged as
// clearing immediately so the UI can animate; the drop itself happens after
// the delay unless the session was disposed in the meantime.
func (s *Session) ScheduleRemoval(id string, after time.Duration) {
	if s.isDisposed() {
		return
	}
	if s.store.SetClearing(id, true) {
		s.renderIfLive()
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.timers, timer)
		dead := s.disposed
		s.mu.Unlock()
		if dead {
			return
		}
		if s.store.ApplyRemoval(id) {
			s.renderIfLive()
		}
	})
	s.timers[timer] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) renderIfLive() {
	if s.render == nil || s.isDisposed() {
		return
	}
	s.render()
}

func (s *Session) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Counters returns a snapshot of the merge counters.
func (s *Session) Counters() CountersSnapshot {
	return s.counters.Snapshot()
}

// Dispose releases the subscription and every pending timer. Idempotent.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	unsub := s.unsub
	s.unsub = nil
	for timer := range s.timers {
		timer.Stop()
		delete(s.timers, timer)
	}
	close(s.quit)
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
