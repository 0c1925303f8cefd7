package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/micksolo/VanishVoice-sub000/internal/backend"
	"github.com/micksolo/VanishVoice-sub000/internal/message"
	"github.com/micksolo/VanishVoice-sub000/internal/status"
)

// fakeClient serves canned rows newest-first, the way the backend does.
type fakeClient struct {
	mu       sync.Mutex
	rows     []message.Message
	queryErr error
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

func (f *fakeClient) Subscribe(context.Context, backend.Conversation, func(backend.Event), func(backend.ChannelState)) (backend.UnsubscribeFunc, error) {
	return func() {}, nil
}

func row(id string, age time.Duration) message.Message {
	return message.Message{
		ID:          id,
		SenderID:    "alice",
		RecipientID: "bob",
		Kind:        message.KindText,
		Body:        "hi " + id,
		CreatedAt:   time.Now().Add(-age),
		Expiry:      message.ExpiryRule{Type: message.ExpiryNone},
	}
}

func conv() backend.Conversation { return backend.Conversation{UserID: "bob", PeerID: "alice"} }

func TestLoadInitialPageReversesIntoChronologicalOrder(t *testing.T) {
	client := &fakeClient{rows: []message.Message{row("m3", time.Minute), row("m2", 2*time.Minute), row("m1", 3*time.Minute)}}
	s := New(client, conv(), 5)
	if err := s.LoadInitialPage(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if snap[i].Msg.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, snap[i].Msg.ID)
		}
	}
	if s.HasMore() {
		t.Fatal("partial page must clear hasMore")
	}
}

func TestLoadInitialPageFullPageSetsHasMore(t *testing.T) {
	client := &fakeClient{rows: []message.Message{row("m2", time.Minute), row("m1", 2*time.Minute)}}
	s := New(client, conv(), 2)
	if err := s.LoadInitialPage(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !s.HasMore() {
		t.Fatal("full page should leave hasMore set")
	}
}

func TestLoadOlderPagePrependsWithoutDuplicates(t *testing.T) {
	client := &fakeClient{rows: []message.Message{
		row("m4", time.Minute),
		row("m3", 2*time.Minute),
		row("m2", 3*time.Minute),
		row("m1", 4*time.Minute),
	}}
	s := New(client, conv(), 2)
	if err := s.LoadInitialPage(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	added, err := s.LoadOlderPage(context.Background())
	if err != nil {
		t.Fatalf("older: %v", err)
	}
	if added != 2 {
		t.Fatalf("expected 2 older entries, got %d", added)
	}
	snap := s.Snapshot()
	for i, want := range []string{"m1", "m2", "m3", "m4"} {
		if snap[i].Msg.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, snap[i].Msg.ID)
		}
	}
	// Exhausted backlog: the final short page flips hasMore off.
	if _, err := s.LoadOlderPage(context.Background()); err != nil {
		t.Fatalf("older: %v", err)
	}
	if s.HasMore() {
		t.Fatal("hasMore should clear once backlog is drained")
	}
}

func TestLoadOlderPageSkipsIDsAlreadyPresent(t *testing.T) {
	client := &fakeClient{rows: []message.Message{
		row("m3", time.Minute),
		row("m2", 2*time.Minute),
	}}
	s := New(client, conv(), 2)
	if err := s.LoadInitialPage(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	// A new arrival shifts backend offsets so the next page re-serves m2.
	client.mu.Lock()
	client.rows = append([]message.Message{row("m4", time.Second)}, client.rows...)
	client.rows = append(client.rows, row("m1", 3*time.Minute))
	client.mu.Unlock()

	added, err := s.LoadOlderPage(context.Background())
	if err != nil {
		t.Fatalf("older: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected only m1 added, got %d", added)
	}
	if _, ok := s.Get("m1"); !ok {
		t.Fatal("m1 missing after prepend")
	}
}

func TestLoadInitialPageFiltersSpentRows(t *testing.T) {
	ts := time.Now().Add(-time.Minute)
	viewed := row("m2", 2*time.Minute)
	viewed.Expiry = message.ExpiryRule{Type: message.ExpiryView}
	viewed.ViewedAt = &ts
	tombstone := row("m3", time.Minute)
	tombstone.Expired = true
	countdown := row("m4", 30*time.Second)
	countdown.Expiry = message.ExpiryRule{Type: message.ExpiryTime, DurationSec: 300}
	countdown.ReadAt = &ts

	client := &fakeClient{rows: []message.Message{countdown, tombstone, viewed, row("m1", 3*time.Minute)}}
	s := New(client, conv(), 10)
	if err := s.LoadInitialPage(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := s.Get("m2"); ok {
		t.Fatal("consumed view-once row resurrected on reload")
	}
	if _, ok := s.Get("m3"); ok {
		t.Fatal("expired row resurrected on reload")
	}
	// A countdown that has not elapsed is still readable.
	if _, ok := s.Get("m4"); !ok {
		t.Fatal("unexpired countdown row must survive a reload")
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 visible entries, got %d", s.Len())
	}
}

func TestLoadOlderPageFiltersSpentRows(t *testing.T) {
	ts := time.Now().Add(-time.Hour)
	viewed := row("m1", 3*time.Minute)
	viewed.Expiry = message.ExpiryRule{Type: message.ExpiryView}
	viewed.ViewedAt = &ts
	client := &fakeClient{rows: []message.Message{
		row("m3", time.Minute),
		row("m2", 2*time.Minute),
		viewed,
	}}
	s := New(client, conv(), 2)
	if err := s.LoadInitialPage(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	added, err := s.LoadOlderPage(context.Background())
	if err != nil {
		t.Fatalf("older: %v", err)
	}
	if added != 0 {
		t.Fatalf("spent row must not be prepended, got %d", added)
	}
	if _, ok := s.Get("m1"); ok {
		t.Fatal("spent row entered the store via pagination")
	}
}

func TestApplyInsertRejectsDuplicateIDs(t *testing.T) {
	s := New(&fakeClient{}, conv(), 5)
	msg := row("m1", time.Second)
	if !s.ApplyInsert(Entry{Msg: msg}) {
		t.Fatal("first insert should succeed")
	}
	if s.ApplyInsert(Entry{Msg: msg}) {
		t.Fatal("duplicate insert must be rejected")
	}
	if s.Len() != 1 {
		t.Fatalf("expected single entry, got %d", s.Len())
	}
}

func TestApplyPatchIsMonotonic(t *testing.T) {
	s := New(&fakeClient{}, conv(), 5)
	s.ApplyInsert(Entry{Msg: row("m1", time.Second)})
	ts := time.Now()
	if !s.ApplyPatch("m1", backend.Patch{ReadAt: &ts}) {
		t.Fatal("first patch should apply")
	}
	later := ts.Add(time.Hour)
	if s.ApplyPatch("m1", backend.Patch{ReadAt: &later}) {
		t.Fatal("set-once timestamp must not be overwritten")
	}
	got, _ := s.Get("m1")
	if !got.Msg.ReadAt.Equal(ts) {
		t.Fatalf("readAt mutated: %v", got.Msg.ReadAt)
	}
}

func TestApplyPatchUnknownIDIsNoop(t *testing.T) {
	s := New(&fakeClient{}, conv(), 5)
	ts := time.Now()
	if s.ApplyPatch("ghost", backend.Patch{ReadAt: &ts}) {
		t.Fatal("patching an absent id must be a no-op")
	}
}

func TestApplyRemoval(t *testing.T) {
	s := New(&fakeClient{}, conv(), 5)
	s.ApplyInsert(Entry{Msg: row("m1", 2*time.Second)})
	s.ApplyInsert(Entry{Msg: row("m2", time.Second)})
	if !s.ApplyRemoval("m1") {
		t.Fatal("removal should succeed")
	}
	if _, ok := s.Get("m1"); ok {
		t.Fatal("entry still present after removal")
	}
	// Index must stay consistent after compaction.
	if !s.ApplyRemoval("m2") {
		t.Fatal("second removal should succeed")
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d", s.Len())
	}
}

func TestReplaceTempIDPreservesPosition(t *testing.T) {
	s := New(&fakeClient{}, conv(), 5)
	s.ApplyInsert(Entry{Msg: row("m1", time.Minute)})
	pending := message.Message{
		TempID:      "tmp-1",
		SenderID:    "bob",
		RecipientID: "alice",
		Kind:        message.KindText,
		Body:        "draft",
		CreatedAt:   time.Now(),
	}
	s.ApplyInsert(Entry{Msg: pending})
	s.ApplyInsert(Entry{Msg: row("m2", time.Second)})

	confirmed := pending
	confirmed.TempID = "tmp-1"
	confirmed.ID = "m9"
	if !s.ReplaceTempID("tmp-1", confirmed) {
		t.Fatal("replace should succeed")
	}
	snap := s.Snapshot()
	if snap[1].Msg.ID != "m9" {
		t.Fatalf("confirmed entry moved: %+v", snap[1].Msg)
	}
	if snap[1].Msg.TempID != "" {
		t.Fatal("temp id must be cleared on confirmation")
	}
	if _, ok := s.Get("tmp-1"); ok {
		t.Fatal("temp id and real id must never coexist")
	}
}

func TestReplaceTempIDDropsPlaceholderWhenEchoWonTheRace(t *testing.T) {
	s := New(&fakeClient{}, conv(), 5)
	pending := message.Message{TempID: "tmp-1", SenderID: "bob", RecipientID: "alice", Kind: message.KindText}
	s.ApplyInsert(Entry{Msg: pending})
	echo := row("m9", time.Second)
	s.ApplyInsert(Entry{Msg: echo})

	confirmed := echo
	if !s.ReplaceTempID("tmp-1", confirmed) {
		t.Fatal("replace should resolve the race")
	}
	if s.Len() != 1 {
		t.Fatalf("expected one entry after dedup, got %d", s.Len())
	}
	if _, ok := s.Get("m9"); !ok {
		t.Fatal("confirmed row must survive")
	}
}

func TestMarkFailedKeepsEntryVisible(t *testing.T) {
	s := New(&fakeClient{}, conv(), 5)
	pending := message.Message{TempID: "tmp-1", SenderID: "bob", RecipientID: "alice", Kind: message.KindText, CreatedAt: time.Now()}
	s.ApplyInsert(Entry{Msg: pending})
	if !s.MarkFailed("tmp-1") {
		t.Fatal("mark failed should succeed")
	}
	entry, ok := s.Get("tmp-1")
	if !ok {
		t.Fatal("failed entry vanished from the store")
	}
	if got := entry.Status("bob", time.Now()); got != status.Failed {
		t.Fatalf("expected failed status, got %s", got)
	}
}

func TestUIFieldsDoNotTouchTheMessage(t *testing.T) {
	s := New(&fakeClient{}, conv(), 5)
	msg := row("m1", time.Second)
	s.ApplyInsert(Entry{Msg: msg})
	s.SetUploadPercent("m1", 40)
	s.SetPlaying("m1", true)
	s.SetClearing("m1", true)
	entry, _ := s.Get("m1")
	if !sameMessage(entry.Msg, msg) {
		t.Fatal("UI-only mutations leaked into the message entity")
	}
	if entry.UploadPercent != 40 || !entry.Playing || !entry.Clearing {
		t.Fatalf("UI fields not applied: %+v", entry)
	}
}

func TestLoadInitialPagePropagatesQueryError(t *testing.T) {
	client := &fakeClient{queryErr: errors.New("network down")}
	s := New(client, conv(), 5)
	if err := s.LoadInitialPage(context.Background()); err == nil {
		t.Fatal("expected query error")
	}
	if s.Len() != 0 {
		t.Fatal("failed load must not leave partial state")
	}
}

func TestEntryEqualDetectsUIChanges(t *testing.T) {
	a := Entry{Msg: row("m1", time.Second)}
	b := a
	if !a.Equal(b) {
		t.Fatal("identical entries should be equal")
	}
	b.Playing = true
	if a.Equal(b) {
		t.Fatal("playing flag change must be visible to equality")
	}
}
