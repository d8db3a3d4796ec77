package cache

import (
	"sync"
	"time"

	"github.com/crmkit/taskbridge/internal/remote"
)

// PipelineTTL is deliberately long: pipeline definitions change far less
// often than task state.
const PipelineTTL = time.Hour

// PipelineEntry is one cached pipeline definition.
type PipelineEntry struct {
	Pipeline  remote.Pipeline
	FetchedAt time.Time
	ExpiresAt time.Time
}

// PipelineStore caches pipeline definitions per pipeline id. The whole
// set is replaced on refresh since the CRM only exposes a list endpoint.
type PipelineStore struct {
	mu      sync.RWMutex
	entries map[string]*PipelineEntry
	order   []string
	ttl     time.Duration
	now     func() time.Time
}

// NewPipelineStore creates an empty pipeline cache.
func NewPipelineStore() *PipelineStore {
	return &PipelineStore{
		entries: make(map[string]*PipelineEntry),
		ttl:     PipelineTTL,
		now:     time.Now,
	}
}

// StoreAll replaces every cached definition with the given list.
func (s *PipelineStore) StoreAll(pipelines []remote.Pipeline) {
	now := s.now()
	entries := make(map[string]*PipelineEntry, len(pipelines))
	order := make([]string, 0, len(pipelines))
	for _, p := range pipelines {
		entries[p.ID] = &PipelineEntry{
			Pipeline:  p,
			FetchedAt: now,
			ExpiresAt: now.Add(s.ttl),
		}
		order = append(order, p.ID)
	}

	s.mu.Lock()
	s.entries = entries
	s.order = order
	s.mu.Unlock()
}

// GetAll returns the cached definitions in fetch order, or ok=false when
// the cache is empty or any entry has expired.
func (s *PipelineStore) GetAll() ([]remote.Pipeline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 {
		return nil, false
	}
	now := s.now()
	out := make([]remote.Pipeline, 0, len(s.order))
	for _, id := range s.order {
		entry := s.entries[id]
		if entry == nil || !now.Before(entry.ExpiresAt) {
			return nil, false
		}
		out = append(out, entry.Pipeline)
	}
	return out, true
}

// Get returns one live pipeline definition.
func (s *PipelineStore) Get(pipelineID string) (*remote.Pipeline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[pipelineID]
	if !ok || !s.now().Before(entry.ExpiresAt) {
		return nil, false
	}
	cp := entry.Pipeline
	return &cp, true
}
