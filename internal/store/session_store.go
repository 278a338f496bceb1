package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jules-labs/fleet/internal/platform"
	"github.com/jules-labs/fleet/pkg/jules"
)

// SessionStore persists session resources plus a lightweight index
// (spec.md section 4.4): Upsert/UpsertMany write through both the full
// envelope and the index entry; ScanIndex serves list/query operations
// without loading every full envelope.
type SessionStore interface {
	Upsert(ctx context.Context, s jules.Session) error
	UpsertMany(ctx context.Context, sessions []jules.Session) error
	Get(ctx context.Context, id string) (jules.Session, bool, error)
	Delete(ctx context.Context, id string) error
	ScanIndex(ctx context.Context) ([]jules.IndexEntry, error)
}

// FileSessionStore keeps one envelope file per session plus a single
// "index.json" file listing every IndexEntry, rewritten atomically on
// every mutation. A missing index.json falls back to a full directory
// scan, reconstructing it, so a partially-written cache root never loses
// data outright.
type FileSessionStore struct {
	root string
	fs   platform.Adapter
	now  func() time.Time
	mu   sync.Mutex
}

func NewFileSessionStore(root string, fs platform.Adapter, now func() time.Time) (*FileSessionStore, error) {
	if err := fs.MkdirAll(filepath.Join(root, "sessions"), 0o755); err != nil {
		return nil, jules.NewError(jules.KindInvalidState, "creating sessions dir", err, "")
	}
	return &FileSessionStore{root: root, fs: fs, now: now}, nil
}

func (s *FileSessionStore) envelopePath(id string) string {
	return filepath.Join(s.root, "sessions", id+".json")
}

func (s *FileSessionStore) indexPath() string {
	return filepath.Join(s.root, "sessions", "index.json")
}

func (s *FileSessionStore) Upsert(ctx context.Context, session jules.Session) error {
	return s.UpsertMany(ctx, []jules.Session{session})
}

func (s *FileSessionStore) UpsertMany(ctx context.Context, sessions []jules.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	byID := make(map[string]int, len(index))
	for i, e := range index {
		byID[e.ID] = i
	}

	for _, session := range sessions {
		envelope := jules.CachedEnvelope{Resource: session, LastSyncedAt: s.now().UnixMilli()}
		data, err := json.Marshal(envelope)
		if err != nil {
			return jules.NewError(jules.KindInvalidState, "encoding session envelope", err, "")
		}
		if err := s.fs.WriteFile(s.envelopePath(session.ID), data, 0o644); err != nil {
			return jules.NewError(jules.KindInvalidState, "writing session envelope", err, "")
		}

		entry := jules.IndexEntry{
			ID:         session.ID,
			Title:      session.Title,
			State:      session.State,
			CreateTime: session.CreateTime,
			Source:     session.Source.Owner + "/" + session.Source.Repo,
			UpdatedAt:  s.now(),
		}
		if i, ok := byID[session.ID]; ok {
			index[i] = entry
		} else {
			byID[session.ID] = len(index)
			index = append(index, entry)
		}
	}

	return s.writeIndex(index)
}

func (s *FileSessionStore) Get(ctx context.Context, id string) (jules.Session, bool, error) {
	data, err := s.fs.ReadFile(s.envelopePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return jules.Session{}, false, nil
		}
		return jules.Session{}, false, jules.NewError(jules.KindInvalidState, "reading session envelope", err, "")
	}
	var envelope jules.CachedEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return jules.Session{}, false, jules.NewError(jules.KindInvalidState, "decoding session envelope", err, "")
	}
	return envelope.Resource, true, nil
}

func (s *FileSessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(s.envelopePath(id)); err != nil && !os.IsNotExist(err) {
		return jules.NewError(jules.KindInvalidState, "deleting session envelope", err, "")
	}
	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	filtered := index[:0]
	for _, e := range index {
		if e.ID != id {
			filtered = append(filtered, e)
		}
	}
	return s.writeIndex(filtered)
}

func (s *FileSessionStore) ScanIndex(ctx context.Context) ([]jules.IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadIndex()
}

func (s *FileSessionStore) loadIndex() ([]jules.IndexEntry, error) {
	data, err := s.fs.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return s.rebuildIndex()
		}
		return nil, jules.NewError(jules.KindInvalidState, "reading session index", err, "")
	}
	var index []jules.IndexEntry
	if err := json.Unmarshal(data, &index); err != nil {
		return s.rebuildIndex()
	}
	return index, nil
}

// rebuildIndex reconstructs the index from envelope files on disk, used
// when index.json is missing or corrupt.
func (s *FileSessionStore) rebuildIndex() ([]jules.IndexEntry, error) {
	dir := filepath.Join(s.root, "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, jules.NewError(jules.KindInvalidState, "scanning sessions dir", err, "")
	}
	var out []jules.IndexEntry
	for _, de := range entries {
		if de.IsDir() || de.Name() == "index.json" || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		data, err := s.fs.ReadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			continue
		}
		var envelope jules.CachedEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}
		out = append(out, jules.IndexEntry{
			ID:         envelope.Resource.ID,
			Title:      envelope.Resource.Title,
			State:      envelope.Resource.State,
			CreateTime: envelope.Resource.CreateTime,
			Source:     envelope.Resource.Source.Owner + "/" + envelope.Resource.Source.Repo,
			UpdatedAt:  time.UnixMilli(envelope.LastSyncedAt),
		})
	}
	return out, nil
}

func (s *FileSessionStore) writeIndex(index []jules.IndexEntry) error {
	data, err := json.Marshal(index)
	if err != nil {
		return jules.NewError(jules.KindInvalidState, "encoding session index", err, "")
	}
	tmp := s.indexPath() + ".tmp"
	if err := s.fs.WriteFile(tmp, data, 0o644); err != nil {
		return jules.NewError(jules.KindInvalidState, "writing session index", err, "")
	}
	return s.fs.Rename(tmp, s.indexPath())
}
