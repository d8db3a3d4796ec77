// Package cache holds the per-pipeline TTL-bounded task store and the
// longer-lived pipeline definition store. The cache is always
// subordinate to the remote CRM and the durable opportunity records:
// point updates are best-effort, and anything past its TTL is a miss.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/crmkit/taskbridge/internal/remote"
)

// TaskTTL bounds how long a task list is served without a refetch.
const TaskTTL = 5 * time.Minute

// TaskEntry is one pipeline's cached task list plus derived counts.
// Invariant: CompletedCount + IncompleteCount == TotalCount == len(Tasks)
// after every mutation.
type TaskEntry struct {
	PipelineID      string
	PipelineName    string
	LocationID      string
	Tasks           []remote.Task
	TotalCount      int
	CompletedCount  int
	IncompleteCount int
	FetchedAt       time.Time
	ExpiresAt       time.Time
}

// TaskPatch is a partial task update merged into a cached entry.
// Nil fields are left untouched.
type TaskPatch struct {
	Completed  *bool
	AssignedTo *string
	DueDate    *string
}

// slot gives each pipeline its own lock so webhook deliveries and user
// mutations against different pipelines never contend.
type slot struct {
	mu    sync.Mutex
	entry *TaskEntry
}

// TaskStore is the per-pipeline task cache.
type TaskStore struct {
	mu    sync.RWMutex
	slots map[string]*slot
	ttl   time.Duration
	now   func() time.Time
}

// NewTaskStore creates an empty task cache with the standard TTL.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		slots: make(map[string]*slot),
		ttl:   TaskTTL,
		now:   time.Now,
	}
}

func (s *TaskStore) slotFor(pipelineID string, create bool) *slot {
	s.mu.RLock()
	sl, ok := s.slots[pipelineID]
	s.mu.RUnlock()
	if ok || !create {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.slots[pipelineID]; ok {
		return sl
	}
	sl = &slot{}
	s.slots[pipelineID] = sl
	return sl
}

// GetTasks returns the cached tasks for a pipeline sorted by due date
// (tasks without one last), or ok=false when there is no live entry.
// A miss is not an error; the caller refetches and calls Store.
func (s *TaskStore) GetTasks(pipelineID string) ([]remote.Task, bool) {
	entry, ok := s.Snapshot(pipelineID)
	if !ok {
		return nil, false
	}
	SortTasksByDueDate(entry.Tasks)
	return entry.Tasks, true
}

// Snapshot returns a copy of a pipeline's live entry in fetch order.
func (s *TaskStore) Snapshot(pipelineID string) (*TaskEntry, bool) {
	sl := s.slotFor(pipelineID, false)
	if sl == nil {
		return nil, false
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.entry == nil || !s.now().Before(sl.entry.ExpiresAt) {
		return nil, false
	}

	cp := *sl.entry
	cp.Tasks = make([]remote.Task, len(sl.entry.Tasks))
	copy(cp.Tasks, sl.entry.Tasks)
	return &cp, true
}

// Store replaces a pipeline's entry wholesale and recomputes totals.
func (s *TaskStore) Store(pipelineID, pipelineName, locationID string, tasks []remote.Task) {
	now := s.now()
	entry := &TaskEntry{
		PipelineID:   pipelineID,
		PipelineName: pipelineName,
		LocationID:   locationID,
		Tasks:        append([]remote.Task(nil), tasks...),
		FetchedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	entry.recount()

	sl := s.slotFor(pipelineID, true)
	sl.mu.Lock()
	sl.entry = entry
	sl.mu.Unlock()
}

// ApplyTaskUpdate merges patch into the cached task with the given id and
// recomputes the affected entry's totals. When no live entry holds the
// task this is a no-op: the next full fetch picks up the remote truth.
// Returns the owning pipeline id when the patch was applied.
func (s *TaskStore) ApplyTaskUpdate(taskID string, patch TaskPatch) (string, bool) {
	s.mu.RLock()
	slots := make(map[string]*slot, len(s.slots))
	for id, sl := range s.slots {
		slots[id] = sl
	}
	s.mu.RUnlock()

	for pipelineID, sl := range slots {
		sl.mu.Lock()
		entry := sl.entry
		if entry == nil || !s.now().Before(entry.ExpiresAt) {
			sl.mu.Unlock()
			continue
		}
		for i := range entry.Tasks {
			if entry.Tasks[i].ID != taskID {
				continue
			}
			applyPatch(&entry.Tasks[i], patch)
			entry.recount()
			sl.mu.Unlock()
			return pipelineID, true
		}
		sl.mu.Unlock()
	}
	return "", false
}

// FindTask returns a copy of the cached task with the given id and its
// owning pipeline. A task belongs to exactly one live entry at a time.
func (s *TaskStore) FindTask(taskID string) (*remote.Task, string, bool) {
	s.mu.RLock()
	slots := make(map[string]*slot, len(s.slots))
	for id, sl := range s.slots {
		slots[id] = sl
	}
	s.mu.RUnlock()

	for pipelineID, sl := range slots {
		sl.mu.Lock()
		entry := sl.entry
		if entry == nil || !s.now().Before(entry.ExpiresAt) {
			sl.mu.Unlock()
			continue
		}
		for i := range entry.Tasks {
			if entry.Tasks[i].ID == taskID {
				cp := entry.Tasks[i]
				sl.mu.Unlock()
				return &cp, pipelineID, true
			}
		}
		sl.mu.Unlock()
	}
	return nil, "", false
}

// Invalidate drops a pipeline's entry. Moving a task between pipelines
// requires invalidating both the source and the destination.
func (s *TaskStore) Invalidate(pipelineID string) {
	sl := s.slotFor(pipelineID, false)
	if sl == nil {
		return
	}
	sl.mu.Lock()
	sl.entry = nil
	sl.mu.Unlock()
}

func applyPatch(task *remote.Task, patch TaskPatch) {
	if patch.Completed != nil {
		task.Completed = *patch.Completed
	}
	if patch.AssignedTo != nil {
		task.AssignedTo = *patch.AssignedTo
	}
	if patch.DueDate != nil {
		task.DueDate = *patch.DueDate
	}
}

func (e *TaskEntry) recount() {
	completed := 0
	for i := range e.Tasks {
		if e.Tasks[i].Completed {
			completed++
		}
	}
	e.TotalCount = len(e.Tasks)
	e.CompletedCount = completed
	e.IncompleteCount = e.TotalCount - completed
}

// SortTasksByDueDate orders tasks by due date ascending with undated
// tasks last. The CRM's ISO-8601 strings compare correctly as text.
func SortTasksByDueDate(tasks []remote.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i].DueDate, tasks[j].DueDate
		if a == "" {
			return false
		}
		if b == "" {
			return true
		}
		return a < b
	})
}
