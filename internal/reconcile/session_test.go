package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/micksolo/VanishVoice-sub000/internal/backend"
	"github.com/micksolo/VanishVoice-sub000/internal/message"
	"github.com/micksolo/VanishVoice-sub000/internal/store"
)

type fakeClient struct {
	mu           sync.Mutex
	rows         []message.Message
	queryErr     error
	subscribeErr error
	onEvent      func(backend.Event)
	onState      func(backend.ChannelState)
	unsubCount   int
}

func (f *fakeClient) Query(_ context.Context, _ backend.Conversation, page backend.Page) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if page.Offset >= len(f.rows) {
		return nil, nil
	}
	end := page.Offset + page.Limit
	if end > len(f.rows) {
		end = len(f.rows)
	}
	out := make([]message.Message, end-page.Offset)
	copy(out, f.rows[page.Offset:end])
	return out, nil
}

func (f *fakeClient) Insert(_ context.Context, msg message.Message) (message.Message, error) {
	return msg, nil
}

func (f *fakeClient) Update(context.Context, string, backend.Patch) error { return nil }

func (f *fakeClient) Subscribe(_ context.Context, _ backend.Conversation, onEvent func(backend.Event), onState func(backend.ChannelState)) (backend.UnsubscribeFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.onEvent = onEvent
	f.onState = onState
	return func() {
		f.mu.Lock()
		f.unsubCount++
		f.mu.Unlock()
	}, nil
}

func (f *fakeClient) setRows(rows ...message.Message) {
	f.mu.Lock()
	f.rows = rows
	f.mu.Unlock()
}

type renderCounter struct {
	mu sync.Mutex
	n  int
}

func (r *renderCounter) fn() RenderFunc {
	return func() {
		r.mu.Lock()
		r.n++
		r.mu.Unlock()
	}
}

func (r *renderCounter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func conv() backend.Conversation { return backend.Conversation{UserID: "alice", PeerID: "bob"} }

func sentText(id string) message.Message {
	return message.Message{
		ID:          id,
		SenderID:    "alice",
		RecipientID: "bob",
		Kind:        message.KindText,
		Body:        "hello",
		CreatedAt:   time.Now().Add(-time.Minute),
		Expiry:      message.ExpiryRule{Type: message.ExpiryNone},
	}
}

func newSession(client backend.Client, render RenderFunc) (*Session, *store.Store) {
	st := store.New(client, conv(), store.DefaultPageSize)
	return NewSession(Options{Client: client, Store: st, Conv: conv(), Render: render}), st
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestMergeConvergesRegardlessOfInterleaving(t *testing.T) {
	base := sentText("m1")
	read := base
	ts := time.Now()
	read.ReadAt = &ts

	// Channel A: push insert, push update, then a poll echo.
	sa, stA := newSession(&fakeClient{}, nil)
	sa.HandleEvent(backend.Event{Type: backend.EventInsert, New: base})
	sa.HandleEvent(backend.Event{Type: backend.EventUpdate, Old: &base, New: read})
	sa.mergeRecord(read)

	// Channel B: poll discovers the read row first, stale push arrives late.
	sb, stB := newSession(&fakeClient{}, nil)
	sb.mergeRecord(read)
	sb.HandleEvent(backend.Event{Type: backend.EventInsert, New: base})
	sb.HandleEvent(backend.Event{Type: backend.EventUpdate, Old: &base, New: read})

	a, okA := stA.Get("m1")
	b, okB := stB.Get("m1")
	if !okA || !okB {
		t.Fatal("both stores should hold m1")
	}
	if !a.Equal(b) {
		t.Fatalf("stores diverged:\n%+v\n%+v", a.Msg, b.Msg)
	}
	if a.Msg.ReadAt == nil {
		t.Fatal("converged state must be read")
	}
}

func TestMergeNeverRegressesReadToDelivered(t *testing.T) {
	s, st := newSession(&fakeClient{}, nil)
	base := sentText("m1")
	read := base
	ts := time.Now()
	read.ReadAt = &ts

	s.mergeRecord(read)
	if changed := s.mergeRecord(base); changed {
		t.Fatal("stale record without timestamps must not change the store")
	}
	got, _ := st.Get("m1")
	if got.Msg.ReadAt == nil {
		t.Fatal("readAt was regressed by a stale record")
	}
}

func TestDuplicateChangeRendersOnce(t *testing.T) {
	render := &renderCounter{}
	s, _ := newSession(&fakeClient{}, render.fn())
	base := sentText("m1")
	read := base
	ts := time.Now()
	read.ReadAt = &ts

	s.HandleEvent(backend.Event{Type: backend.EventInsert, New: base})
	s.HandleEvent(backend.Event{Type: backend.EventUpdate, Old: &base, New: read})
	renders := render.count()

	// The same logical change reported by the other channel.
	s.HandleEvent(backend.Event{Type: backend.EventUpdate, Old: &base, New: read})
	s.mergeRecord(read)

	if render.count() != renders {
		t.Fatalf("redundant updates triggered re-renders: %d -> %d", renders, render.count())
	}
	snap := s.Counters()
	if snap.Suppressed == 0 {
		t.Fatal("expected suppressed merges to be counted")
	}
}

func TestInsertRaceResolvedByIDPresence(t *testing.T) {
	s, st := newSession(&fakeClient{}, nil)
	msg := sentText("m1")
	s.HandleEvent(backend.Event{Type: backend.EventInsert, New: msg})
	s.mergeRecord(msg) // poll discovered the same row
	if st.Len() != 1 {
		t.Fatalf("expected one entry, got %d", st.Len())
	}
}

func TestPollingAloneDeliversWhenChannelNeverConnects(t *testing.T) {
	origNormal, origDegraded := pollInterval, pollIntervalDegraded
	pollInterval, pollIntervalDegraded = 10*time.Millisecond, 10*time.Millisecond
	defer func() { pollInterval, pollIntervalDegraded = origNormal, origDegraded }()

	client := &fakeClient{subscribeErr: errors.New("CHANNEL_ERROR")}
	render := &renderCounter{}
	s, st := newSession(client, render.fn())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Dispose()

	client.setRows(sentText("m1"))
	waitFor(t, func() bool { _, ok := st.Get("m1"); return ok })
	if render.count() == 0 {
		t.Fatal("poll-discovered insert should have rendered")
	}
}

func TestChannelErrorTightensPolling(t *testing.T) {
	client := &fakeClient{}
	s, _ := newSession(client, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Dispose()

	if got := s.currentInterval(); got != pollInterval {
		t.Fatalf("healthy channel should poll at %v, got %v", pollInterval, got)
	}
	client.onState(backend.ChannelError)
	if got := s.currentInterval(); got != pollIntervalDegraded {
		t.Fatalf("degraded channel should poll at %v, got %v", pollIntervalDegraded, got)
	}
	client.onState(backend.ChannelConnected)
	if got := s.currentInterval(); got != pollInterval {
		t.Fatalf("recovered channel should poll at %v, got %v", pollInterval, got)
	}
}

func TestScheduleRemovalDropsEntryAfterDelay(t *testing.T) {
	s, st := newSession(&fakeClient{}, nil)
	st.ApplyInsert(store.Entry{Msg: sentText("m1")})
	s.ScheduleRemoval("m1", 10*time.Millisecond)
	entry, _ := st.Get("m1")
	if !entry.Clearing {
		t.Fatal("entry should be flagged clearing while the timer runs")
	}
	waitFor(t, func() bool { _, ok := st.Get("m1"); return !ok })
}

func TestDisposedSessionIgnoresEverything(t *testing.T) {
	render := &renderCounter{}
	client := &fakeClient{}
	s, st := newSession(client, render.fn())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	st.ApplyInsert(store.Entry{Msg: sentText("m1")})
	s.ScheduleRemoval("m1", 20*time.Millisecond)
	s.Dispose()

	s.HandleEvent(backend.Event{Type: backend.EventInsert, New: sentText("m2")})
	if _, ok := st.Get("m2"); ok {
		t.Fatal("disposed session must not mutate the store")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok := st.Get("m1"); !ok {
		t.Fatal("removal timer fired after dispose")
	}
	client.mu.Lock()
	unsubs := client.unsubCount
	client.mu.Unlock()
	if unsubs != 1 {
		t.Fatalf("expected exactly one unsubscribe, got %d", unsubs)
	}
	s.Dispose() // idempotent
}

func TestSenderCopyClearsWhenConsumptionObserved(t *testing.T) {
	s, st := newSession(&fakeClient{}, nil)
	msg := sentText("m1")
	msg.Expiry = message.ExpiryRule{Type: message.ExpiryView}
	st.ApplyInsert(store.Entry{Msg: msg})

	viewed := msg
	ts := time.Now()
	viewed.ViewedAt = &ts
	if changed := s.mergeRecord(viewed); !changed {
		t.Fatal("consumption transition should apply")
	}
	entry, _ := st.Get("m1")
	if !entry.Clearing {
		t.Fatal("sender copy should be clearing after the recipient viewed it")
	}
}

func TestConsumedEphemeralRowsNeverReenterTheStore(t *testing.T) {
	s, st := newSession(&fakeClient{}, nil)
	spent := sentText("m1")
	spent.Expiry = message.ExpiryRule{Type: message.ExpiryView}
	ts := time.Now()
	spent.ViewedAt = &ts
	if s.mergeRecord(spent) {
		t.Fatal("spent view-once row must not be inserted")
	}
	if st.Len() != 0 {
		t.Fatal("store should stay empty")
	}

	expired := sentText("m2")
	expired.Expired = true
	if s.mergeRecord(expired) {
		t.Fatal("expired row must not be inserted")
	}
}
