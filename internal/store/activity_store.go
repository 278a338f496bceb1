// Package store is the write-through local cache every resource client
// reads through: an append-only activity log per session plus an indexed
// session table, backed by one of the StorageBackend implementations
// (file, memory, NATS JetStream KV), selected the way pkg/capi's
// NewCacheFromConfig selects a Cache backend from a CacheType.
package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/jules-labs/fleet/internal/constants"
	"github.com/jules-labs/fleet/internal/platform"
	"github.com/jules-labs/fleet/pkg/jules"
)

// ActivityStore is the append-only, idempotent-by-ID activity log for one
// session (spec.md section 4.3). Appending an activity whose ID already
// exists replaces its stored value in place without changing its position
// in iteration order.
type ActivityStore interface {
	Append(ctx context.Context, sessionID string, a jules.Activity) error
	AppendMany(ctx context.Context, sessionID string, activities []jules.Activity) error
	All(ctx context.Context, sessionID string) ([]jules.Activity, error)
	Latest(ctx context.Context, sessionID string, n int) ([]jules.Activity, error)
	HighWaterMark(ctx context.Context, sessionID string) (string, error)
	SetHighWaterMark(ctx context.Context, sessionID, activityID string) error
}

// FileActivityStore persists one newline-delimited JSON file per session
// plus a ".hwm" sidecar recording the high-water-mark activity ID, under
// root. Concurrent access to the same session is serialised by a per-store
// mutex; this SDK does not coordinate across processes.
type FileActivityStore struct {
	root string
	fs   platform.Adapter
	mu   sync.Mutex
	idx  map[string]map[string]int // sessionID -> activityID -> line index; allocated but not populated or read
}

// NewFileActivityStore builds a FileActivityStore rooted at root, creating
// the directory if needed.
func NewFileActivityStore(root string, fs platform.Adapter) (*FileActivityStore, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, jules.NewError(jules.KindInvalidState, "creating cache root", err, "")
	}
	return &FileActivityStore{root: root, fs: fs, idx: map[string]map[string]int{}}, nil
}

func (s *FileActivityStore) logPath(sessionID string) string {
	return filepath.Join(s.root, "activities", sessionID+".jsonl")
}

func (s *FileActivityStore) hwmPath(sessionID string) string {
	return filepath.Join(s.root, "activities", sessionID+".hwm")
}

// Append is idempotent by ID: a re-delivery overwrites the existing line in
// place rather than appending a duplicate, matching the semantics of
// spec.md section 4.3's activity log.
func (s *FileActivityStore) Append(ctx context.Context, sessionID string, a jules.Activity) error {
	return s.AppendMany(ctx, sessionID, []jules.Activity{a})
}

// AppendMany appends/overwrites activities as a single rewrite pass: read
// all existing lines, merge by ID preserving first-seen order for new IDs,
// then write back. This keeps correctness simple at the cost of O(n) work
// per append batch, acceptable given a single session's history is bounded
// by one coding run.
func (s *FileActivityStore) AppendMany(ctx context.Context, sessionID string, activities []jules.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readAll(sessionID)
	if err != nil {
		return err
	}

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

	return s.writeAll(sessionID, existing)
}

func (s *FileActivityStore) readAll(sessionID string) ([]jules.Activity, error) {
	path := s.logPath(sessionID)
	data, err := s.fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, jules.NewError(jules.KindInvalidState, "reading activity log", err, "")
	}
	var out []jules.Activity
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var a jules.Activity
		if err := json.Unmarshal(line, &a); err != nil {
			return nil, jules.NewError(jules.KindInvalidState, "decoding activity log line", err, "")
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *FileActivityStore) writeAll(sessionID string, activities []jules.Activity) error {
	path := s.logPath(sessionID)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return jules.NewError(jules.KindInvalidState, "creating activity dir", err, "")
	}
	buf := make([]byte, 0, 4096)
	for _, a := range activities {
		encoded, err := json.Marshal(a)
		if err != nil {
			return jules.NewError(jules.KindInvalidState, "encoding activity", err, "")
		}
		buf = append(buf, encoded...)
		buf = append(buf, '\n')
	}
	tmp := path + ".tmp"
	if err := s.fs.WriteFile(tmp, buf, 0o644); err != nil {
		return jules.NewError(jules.KindInvalidState, "writing activity log", err, "")
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		return jules.NewError(jules.KindInvalidState, "committing activity log", err, "")
	}
	return nil
}

func (s *FileActivityStore) All(ctx context.Context, sessionID string) ([]jules.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll(sessionID)
}

// Latest returns the last n activities by reading the log's final
// constants.TailChunkSize-ish window rather than decoding the whole file,
// for sessions with long histories.
func (s *FileActivityStore) Latest(ctx context.Context, sessionID string, n int) ([]jules.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.logPath(sessionID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, jules.NewError(jules.KindInvalidState, "opening activity log", err, "")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, jules.NewError(jules.KindInvalidState, "stat activity log", err, "")
	}

	chunk := int64(constants.TailChunkSize)
	var lines []string
	offset := info.Size()
	var tail string
	for offset > 0 && countLines(tail) <= n {
		readSize := chunk
		if readSize > offset {
			readSize = offset
		}
		offset -= readSize
		buf := make([]byte, readSize)
		if _, err := f.ReadAt(buf, offset); err != nil {
			return nil, jules.NewError(jules.KindInvalidState, "reading activity log tail", err, "")
		}
		tail = string(buf) + tail
	}
	lines = splitNonEmptyLines(tail)
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	out := make([]jules.Activity, 0, len(lines))
	for _, line := range lines {
		var a jules.Activity
		if err := json.Unmarshal([]byte(line), &a); err != nil {
			return nil, jules.NewError(jules.KindInvalidState, "decoding tailed activity", err, "")
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *FileActivityStore) HighWaterMark(ctx context.Context, sessionID string) (string, error) {
	data, err := s.fs.ReadFile(s.hwmPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", jules.NewError(jules.KindInvalidState, "reading high-water mark", err, "")
	}
	return string(data), nil
}

func (s *FileActivityStore) SetHighWaterMark(ctx context.Context, sessionID, activityID string) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.hwmPath(sessionID)), 0o755); err != nil {
		return jules.NewError(jules.KindInvalidState, "creating activity dir", err, "")
	}
	if err := s.fs.WriteFile(s.hwmPath(sessionID), []byte(activityID), 0o644); err != nil {
		return jules.NewError(jules.KindInvalidState, "writing high-water mark", err, "")
	}
	return nil
}

func countLines(s string) int {
	n := 0
	for _, c := range s {
		if c == '\n' {
			n++
		}
	}
	return n
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
