// Package memstore provides in-memory implementations of the triage
// storage interfaces. Suitable for dev/testing.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/junxiaogit/wecom-ai-platform/internal/triage"
)

// Store holds room state, messages, issues, and alert events in memory.
// All methods return copies so callers cannot mutate shared state.
type Store struct {
	mu     sync.RWMutex
	states map[string]*triage.RoomState  // room ID -> state
	msgs   map[string][]*triage.Message  // room ID -> messages, append order
	seen   map[string]struct{}           // message ID dedup
	issues []*triage.Issue               // append order
	events map[string]*triage.AlertEvent // dedup key -> event
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		states: make(map[string]*triage.RoomState),
		msgs:   make(map[string][]*triage.Message),
		seen:   make(map[string]struct{}),
		events: make(map[string]*triage.AlertEvent),
	}
}

// LoadAll returns copies of every stored room state.
func (s *Store) LoadAll(_ context.Context) ([]*triage.RoomState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*triage.RoomState, 0, len(s.states))
	for _, st := range s.states {
		cp := *st
		out = append(out, &cp)
	}
	return out, nil
}

// Save stores a copy of the room state.
func (s *Store) Save(_ context.Context, st *triage.RoomState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.states[st.RoomID] = &cp
	return nil
}

// SaveAll stores copies of all given room states.
func (s *Store) SaveAll(_ context.Context, states []*triage.RoomState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range states {
		cp := *st
		s.states[st.RoomID] = &cp
	}
	return nil
}

// Create appends a copy of the issue.
func (s *Store) Create(_ context.Context, is *triage.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *is
	s.issues = append(s.issues, &cp)
	return nil
}

// ListSince returns issues created at or after since.
func (s *Store) ListSince(_ context.Context, since time.Time) ([]*triage.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.Issue
	for _, is := range s.issues {
		if !is.CreatedAt.Before(since) {
			cp := *is
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListRoomSince returns one room's issues created at or after since.
func (s *Store) ListRoomSince(_ context.Context, roomID string, since time.Time) ([]*triage.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.Issue
	for _, is := range s.issues {
		if is.RoomID == roomID && !is.CreatedAt.Before(since) {
			cp := *is
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GetByDedupKey retrieves an alert event by dedup key. Returns a copy.
func (s *Store) GetByDedupKey(_ context.Context, key string) (*triage.AlertEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[key]
	if !ok {
		return nil, false, nil
	}
	cp := *ev
	if ev.LastSentAt != nil {
		t := *ev.LastSentAt
		cp.LastSentAt = &t
	}
	return &cp, true, nil
}

// Put stores a copy of the alert event.
func (s *Store) Put(_ context.Context, ev *triage.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	if ev.LastSentAt != nil {
		t := *ev.LastSentAt
		cp.LastSentAt = &t
	}
	s.events[ev.DedupKey] = &cp
	return nil
}

// Append stores new messages, skipping IDs seen before. Returns the number
// actually stored.
func (s *Store) Append(_ context.Context, msgs []*triage.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := 0
	for _, m := range msgs {
		if _, dup := s.seen[m.ID]; dup {
			continue
		}
		cp := *m
		s.msgs[m.RoomID] = append(s.msgs[m.RoomID], &cp)
		s.seen[m.ID] = struct{}{}
		stored++
	}
	return stored, nil
}

// ActiveRooms lists rooms with at least one message after since.
func (s *Store) ActiveRooms(_ context.Context, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for roomID, msgs := range s.msgs {
		for _, m := range msgs {
			if m.SentAt.After(since) {
				out = append(out, roomID)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// RoomMessagesAfter returns up to limit messages strictly after the cursor,
// oldest first.
func (s *Store) RoomMessagesAfter(_ context.Context, roomID string, after time.Time, limit int) ([]*triage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.Message
	for _, m := range s.sorted(roomID) {
		if m.SentAt.After(after) {
			cp := *m
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// RecentRoomMessages returns up to limit of the newest messages at or after
// since, reordered oldest first.
func (s *Store) RecentRoomMessages(_ context.Context, roomID string, since time.Time, limit int) ([]*triage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var window []*triage.Message
	for _, m := range s.sorted(roomID) {
		if !m.SentAt.Before(since) {
			window = append(window, m)
		}
	}
	if len(window) > limit {
		window = window[len(window)-limit:]
	}
	out := make([]*triage.Message, len(window))
	for i, m := range window {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

// LatestMessageTime returns the newest message timestamp for a room.
func (s *Store) LatestMessageTime(_ context.Context, roomID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.msgs[roomID]
	if len(msgs) == 0 {
		return time.Time{}, false, nil
	}
	latest := msgs[0].SentAt
	for _, m := range msgs[1:] {
		if m.SentAt.After(latest) {
			latest = m.SentAt
		}
	}
	return latest, true, nil
}

// RoomsWithSenders lists rooms where any of the given senders has posted.
func (s *Store) RoomsWithSenders(_ context.Context, senders []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]struct{}, len(senders))
	for _, sn := range senders {
		want[sn] = struct{}{}
	}
	var out []string
	for roomID, msgs := range s.msgs {
		for _, m := range msgs {
			if _, ok := want[m.Sender]; ok {
				out = append(out, roomID)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// sorted returns the room's messages ordered oldest first. Callers hold the
// read lock; the returned slice is a fresh copy safe to reslice.
func (s *Store) sorted(roomID string) []*triage.Message {
	msgs := append([]*triage.Message(nil), s.msgs[roomID]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].SentAt.Before(msgs[j].SentAt) })
	return msgs
}
