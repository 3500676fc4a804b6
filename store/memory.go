package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/factorymesh/trace"
)

type memoryEntry struct {
	requestID  string
	finishedAt time.Time
	seq        int
	data       []byte
}

// MemoryStore is a volatile Store keeping encoded results in a process local
// map. It is safe for concurrent access and best suited for tests or single
// process deployments. Results are stored encoded so callers can never mutate
// stored state.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]memoryEntry
	seq  int
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]memoryEntry)}
}

// Save stores (or overwrites) the result under its run id.
func (s *MemoryStore) Save(_ context.Context, res *trace.WorkflowResult) error {
	data, err := encode(res)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.runs[res.RunID] = memoryEntry{requestID: res.RequestID, finishedAt: res.FinishedAt, seq: s.seq, data: data}
	return nil
}

// Get returns a copy of the stored result or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, runID string) (*trace.WorkflowResult, error) {
	s.mu.RLock()
	entry, ok := s.runs[runID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return decode(entry.data)
}

// List returns stored results, newest first.
func (s *MemoryStore) List(_ context.Context, requestID string, limit int) ([]*trace.WorkflowResult, error) {
	s.mu.RLock()
	entries := make([]memoryEntry, 0, len(s.runs))
	for _, e := range s.runs {
		if requestID == "" || e.requestID == requestID {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].finishedAt.Equal(entries[j].finishedAt) {
			return entries[i].finishedAt.After(entries[j].finishedAt)
		}
		return entries[i].seq > entries[j].seq
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]*trace.WorkflowResult, 0, len(entries))
	for _, e := range entries {
		res, err := decode(e.data)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// HandleResult saves res; it lets the store act as an engine result sink.
func (s *MemoryStore) HandleResult(ctx context.Context, res *trace.WorkflowResult) error {
	return s.Save(ctx, res)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
