// Package store keeps the per-conversation, oldest-first collection of
// message view-models the UI renders from. One Store is owned by one open
// conversation screen and is rebuilt from a backend fetch each time the
// conversation is opened.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/micksolo/VanishVoice-sub000/internal/backend"
	"github.com/micksolo/VanishVoice-sub000/internal/message"
	"github.com/micksolo/VanishVoice-sub000/internal/status"
)

// DefaultPageSize is the fixed fetch window for pagination.
const DefaultPageSize = 50

// Entry is the UI-facing projection of a message plus ephemeral UI-only
// fields. The UI fields are never persisted and never compared against the
// backend row.
type Entry struct {
	Msg             message.Message
	UploadPercent   int
	DownloadPercent int
	Playing         bool
	Clearing        bool
	failed          bool
}

// Failed reports whether the local send path marked this entry failed.
func (e Entry) Failed() bool { return e.failed }

// Status derives the display status for the entry. Failed overrides
// derivation: a failed optimistic entry stays failed until resent.
func (e Entry) Status(viewerID string, now time.Time) status.Status {
	if e.failed {
		return status.Failed
	}
	return status.Compute(e.Msg, viewerID, now)
}

// Equal compares the full view-model, UI fields included.
func (e Entry) Equal(other Entry) bool {
	return e.UploadPercent == other.UploadPercent &&
		e.DownloadPercent == other.DownloadPercent &&
		e.Playing == other.Playing &&
		e.Clearing == other.Clearing &&
		e.failed == other.failed &&
		sameMessage(e.Msg, other.Msg)
}

func sameMessage(a, b message.Message) bool {
	return a.ID == b.ID &&
		a.TempID == b.TempID &&
		a.SenderID == b.SenderID &&
		a.RecipientID == b.RecipientID &&
		a.Kind == b.Kind &&
		a.Body == b.Body &&
		a.Nonce == b.Nonce &&
		a.KeyHint == b.KeyHint &&
		sameBlob(a.Blob, b.Blob) &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.Expiry == b.Expiry &&
		sameTime(a.ReadAt, b.ReadAt) &&
		sameTime(a.ViewedAt, b.ViewedAt) &&
		sameTime(a.ListenedAt, b.ListenedAt) &&
		a.Expired == b.Expired
}

func sameBlob(a, b *message.BlobRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Store is an ordered sequence of entries keyed by message id. Mutations
// come from the conversation screen, the reconciliation session, and
// deferred removal timers, so access is serialized with a mutex.
type Store struct {
	client   backend.Client
	conv     backend.Conversation
	pageSize int

	mu      sync.Mutex
	entries []Entry
	index   map[string]int
	fetched int
	hasMore bool
}

// New builds an empty store for one conversation.
func New(client backend.Client, conv backend.Conversation, pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Store{
		client:   client,
		conv:     conv,
		pageSize: pageSize,
		index:    make(map[string]int),
	}
}

// LoadInitialPage fetches the newest page and installs it in chronological
// order, replacing whatever was loaded before.
func (s *Store) LoadInitialPage(ctx context.Context) error {
	records, err := s.client.Query(ctx, s.conv, backend.Page{Offset: 0, Limit: s.pageSize})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]
	s.index = make(map[string]int)
	// Newest-first from the backend, reversed into display order. Spent
	// rows stay in the backend ledger but never re-enter a view.
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Spent() {
			continue
		}
		s.appendLocked(Entry{Msg: records[i]})
	}
	s.fetched = len(records)
	s.hasMore = len(records) == s.pageSize
	return nil
}

// LoadOlderPage fetches the next page further back and prepends it.
// Records whose id is already present are skipped, so a page that raced a
// realtime insert never duplicates. Returns how many entries were added.
func (s *Store) LoadOlderPage(ctx context.Context) (int, error) {
	s.mu.Lock()
	if !s.hasMore {
		s.mu.Unlock()
		return 0, nil
	}
	offset := s.fetched
	s.mu.Unlock()

	records, err := s.client.Query(ctx, s.conv, backend.Page{Offset: offset, Limit: s.pageSize})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var older []Entry
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Spent() {
			continue
		}
		if _, dup := s.index[records[i].Key()]; dup {
			continue
		}
		older = append(older, Entry{Msg: records[i]})
	}
	if len(older) > 0 {
		s.entries = append(older, s.entries...)
		s.reindexLocked()
	}
	s.fetched += len(records)
	s.hasMore = len(records) == s.pageSize
	return len(older), nil
}

// ApplyInsert appends a newly-arrived entry. Ordering is by arrival, not a
// timestamp re-sort. Returns false when the id is already present.
func (s *Store) ApplyInsert(e Entry) bool {
	key := e.Msg.Key()
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[key]; exists {
		return false
	}
	s.appendLocked(e)
	return true
}

// ApplyPatch merges consumption/expiry fields into an existing entry.
// Timestamps only ever transition nil to set; a patch can never clear one.
// Returns true when the stored entry actually changed.
func (s *Store) ApplyPatch(id string, patch backend.Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	entry := s.entries[pos]
	changed := false
	if patch.ReadAt != nil && entry.Msg.ReadAt == nil {
		entry.Msg.ReadAt = patch.ReadAt
		changed = true
	}
	if patch.ViewedAt != nil && entry.Msg.ViewedAt == nil {
		entry.Msg.ViewedAt = patch.ViewedAt
		changed = true
	}
	if patch.ListenedAt != nil && entry.Msg.ListenedAt == nil {
		entry.Msg.ListenedAt = patch.ListenedAt
		changed = true
	}
	if patch.Expired != nil && *patch.Expired && !entry.Msg.Expired {
		entry.Msg.Expired = true
		changed = true
	}
	if changed {
		s.entries[pos] = entry
	}
	return changed
}

// ReplaceMessage swaps the canonical message for id, preserving list
// position and UI-only fields. The caller (reconciliation) has already
// decided the replacement is forward progress.
func (s *Store) ReplaceMessage(id string, msg message.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	entry := s.entries[pos]
	entry.Msg = msg
	s.entries[pos] = entry
	return true
}

// ApplyRemoval drops an entry by id; used for expiry.
func (s *Store) ApplyRemoval(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	s.entries = append(s.entries[:pos], s.entries[pos+1:]...)
	s.reindexLocked()
	return true
}

// ReplaceTempID reconciles an optimistic entry with the server-confirmed
// record after a successful send. The temp id and the real id are never
// simultaneously present: the entry is re-keyed in place.
func (s *Store) ReplaceTempID(tempID string, confirmed message.Message) bool {
	if tempID == "" || confirmed.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[tempID]
	if !ok {
		return false
	}
	if dup, exists := s.index[confirmed.ID]; exists && dup != pos {
		// The realtime echo already inserted the confirmed row; keep
		// it and drop the optimistic placeholder.
		s.entries = append(s.entries[:pos], s.entries[pos+1:]...)
		s.reindexLocked()
		return true
	}
	entry := s.entries[pos]
	confirmed.TempID = ""
	entry.Msg = confirmed
	entry.failed = false
	s.entries[pos] = entry
	delete(s.index, tempID)
	s.index[confirmed.ID] = pos
	return true
}

// MarkFailed flags an unacknowledged optimistic entry after a send error.
// The entry stays visible: messages never silently vanish except by expiry.
func (s *Store) MarkFailed(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[tempID]
	if !ok {
		return false
	}
	s.entries[pos].failed = true
	return true
}

// SetUploadPercent updates the UI-only upload progress field.
func (s *Store) SetUploadPercent(id string, pct int) bool {
	return s.mutateUI(id, func(e *Entry) { e.UploadPercent = pct })
}

// SetDownloadPercent updates the UI-only download progress field.
func (s *Store) SetDownloadPercent(id string, pct int) bool {
	return s.mutateUI(id, func(e *Entry) { e.DownloadPercent = pct })
}

// SetPlaying toggles the currently-playing flag.
func (s *Store) SetPlaying(id string, playing bool) bool {
	return s.mutateUI(id, func(e *Entry) { e.Playing = playing })
}

// SetClearing toggles the is-clearing transition flag shown while the
// removal grace period runs.
func (s *Store) SetClearing(id string, clearing bool) bool {
	return s.mutateUI(id, func(e *Entry) { e.Clearing = clearing })
}

func (s *Store) mutateUI(id string, fn func(*Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	fn(&s.entries[pos])
	return true
}

// Get returns a copy of the entry for id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	return s.entries[pos], true
}

// Snapshot copies the current entries in display order.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// HasMore reports whether older pages remain on the backend.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

func (s *Store) appendLocked(e Entry) {
	s.index[e.Msg.Key()] = len(s.entries)
	s.entries = append(s.entries, e)
}

func (s *Store) reindexLocked() {
	s.index = make(map[string]int, len(s.entries))
	for i, e := range s.entries {
		s.index[e.Msg.Key()] = i
	}
}
