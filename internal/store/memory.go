package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jules-labs/fleet/pkg/jules"
)

// MemoryActivityStore is an in-process ActivityStore, used for
// StorageMemory and in tests. Mirrors pkg/capi's MemoryCache in spirit:
// no persistence, just a mutex-guarded map.
type MemoryActivityStore struct {
	mu   sync.Mutex
	logs map[string][]jules.Activity
	hwm  map[string]string
}

func NewMemoryActivityStore() *MemoryActivityStore {
	return &MemoryActivityStore{logs: map[string][]jules.Activity{}, hwm: map[string]string{}}
}

func (s *MemoryActivityStore) Append(ctx context.Context, sessionID string, a jules.Activity) error {
	return s.AppendMany(ctx, sessionID, []jules.Activity{a})
}

func (s *MemoryActivityStore) AppendMany(ctx context.Context, sessionID string, activities []jules.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.logs[sessionID]
	byID := make(map[string]int, len(existing))
	for i, a := range existing {
		byID[a.ID] = i
	}
	for _, a := range activities {
		if i, ok := byID[a.ID]; ok {
			existing[i] = a
			continue
		}
		byID[a.ID] = len(existing)
		existing = append(existing, a)
	}
	s.logs[sessionID] = existing
	return nil
}

func (s *MemoryActivityStore) All(ctx context.Context, sessionID string) ([]jules.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]jules.Activity, len(s.logs[sessionID]))
	copy(out, s.logs[sessionID])
	return out, nil
}

func (s *MemoryActivityStore) Latest(ctx context.Context, sessionID string, n int) ([]jules.Activity, error) {
	all, _ := s.All(ctx, sessionID)
	if n >= len(all) {
		return all, nil
	}
	return all[len(all)-n:], nil
}

func (s *MemoryActivityStore) HighWaterMark(ctx context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hwm[sessionID], nil
}

func (s *MemoryActivityStore) SetHighWaterMark(ctx context.Context, sessionID, activityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hwm[sessionID] = activityID
	return nil
}

// MemorySessionStore is an in-process SessionStore.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]jules.Session
	now      func() time.Time
}

func NewMemorySessionStore(now func() time.Time) *MemorySessionStore {
	return &MemorySessionStore{sessions: map[string]jules.Session{}, now: now}
}

func (s *MemorySessionStore) Upsert(ctx context.Context, session jules.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *MemorySessionStore) UpsertMany(ctx context.Context, sessions []jules.Session) error {
	for _, sess := range sessions {
		if err := s.Upsert(ctx, sess); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, id string) (jules.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok, nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemorySessionStore) ScanIndex(ctx context.Context) ([]jules.IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]jules.IndexEntry, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, jules.IndexEntry{
			ID:         sess.ID,
			Title:      sess.Title,
			State:      sess.State,
			CreateTime: sess.CreateTime,
			Source:     sess.Source.Owner + "/" + sess.Source.Repo,
			UpdatedAt:  s.now(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
