// Package taskops orchestrates the user-facing task operations: reads
// through the cache, mutations out to the CRM first, then durable
// bookkeeping (assignments, audit events) and cache patches.
package taskops

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crmkit/taskbridge/internal/analytics"
	"github.com/crmkit/taskbridge/internal/cache"
	"github.com/crmkit/taskbridge/internal/db/models"
	"github.com/crmkit/taskbridge/internal/remote"
)

// Status filter values accepted by GetTasks.
const (
	StatusAll        = "all"
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"
)

// Service wires the cache, the CRM client and the durable store together.
type Service struct {
	db        *gorm.DB
	crm       *remote.Client
	tasks     *cache.TaskStore
	pipelines *cache.PipelineStore
	now       func() time.Time
}

// NewService creates the task operations service.
func NewService(db *gorm.DB, crm *remote.Client, tasks *cache.TaskStore, pipelines *cache.PipelineStore) *Service {
	return &Service{
		db:        db,
		crm:       crm,
		tasks:     tasks,
		pipelines: pipelines,
		now:       time.Now,
	}
}

// GetTasks returns a pipeline's tasks sorted by due date, fetching from
// the CRM when the cache entry is missing or expired. statusFilter is
// applied locally so one cached fetch serves every filter.
func (s *Service) GetTasks(ctx context.Context, pipelineID, statusFilter string) ([]remote.Task, error) {
	tasks, ok := s.tasks.GetTasks(pipelineID)
	if !ok {
		fetched, err := s.crm.ListPipelineTasks(ctx, pipelineID, StatusAll)
		if err != nil {
			return nil, err
		}
		name, locationID := s.pipelineMeta(ctx, pipelineID)
		s.tasks.Store(pipelineID, name, locationID, fetched)
		tasks, _ = s.tasks.GetTasks(pipelineID)
		log.Printf("📥 Cached %d tasks for pipeline %s", len(fetched), pipelineID)
	}
	return filterByStatus(tasks, statusFilter), nil
}

// UpdateTaskStatus marks a task complete or incomplete in the CRM, writes
// an audit event, and patches the cache best-effort.
func (s *Service) UpdateTaskStatus(ctx context.Context, taskID string, completed bool, actor string) (*remote.Task, error) {
	prior, _, _ := s.tasks.FindTask(taskID)

	updated, err := s.crm.UpdateTaskCompletion(ctx, taskID, completed)
	if err != nil {
		return nil, err
	}

	prevValue := ""
	opportunityID := updated.OpportunityID
	if prior != nil {
		prevValue = strconv.FormatBool(prior.Completed)
		if opportunityID == "" {
			opportunityID = prior.OpportunityID
		}
	}
	s.audit(ctx, taskID, opportunityID, models.AuditStatusChange, prevValue, strconv.FormatBool(completed), actor)

	s.tasks.ApplyTaskUpdate(taskID, cache.TaskPatch{Completed: &completed})
	return updated, nil
}

// AssignTask reassigns a task in the CRM and records the assignment
// durably: the prior active row is deactivated before the new one is
// inserted, so at most one active assignment exists per task.
func (s *Service) AssignTask(ctx context.Context, taskID, userID, assignedBy string) (*remote.Task, error) {
	prior, pipelineID, _ := s.tasks.FindTask(taskID)

	updated, err := s.crm.UpdateTaskAssignee(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}

	opportunityID := updated.OpportunityID
	prevAssignee := ""
	if prior != nil {
		prevAssignee = prior.AssignedTo
		if opportunityID == "" {
			opportunityID = prior.OpportunityID
		}
	}
	if pipelineID == "" {
		pipelineID = updated.PipelineID
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Assignment{}).
			Where("task_id = ? AND is_active = ?", taskID, true).
			Updates(map[string]interface{}{"is_active": false, "unassigned_at": now}).Error; err != nil {
			return err
		}
		return tx.Create(&models.Assignment{
			ID:               uuid.New().String(),
			TaskID:           taskID,
			PipelineID:       pipelineID,
			OpportunityID:    opportunityID,
			AssignedToUserID: userID,
			AssignedByUserID: assignedBy,
			IsActive:         true,
			AssignedAt:       now,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("taskops: record assignment for %s: %w", taskID, err)
	}

	s.audit(ctx, taskID, opportunityID, models.AuditAssignment, prevAssignee, userID, assignedBy)
	s.tasks.ApplyTaskUpdate(taskID, cache.TaskPatch{AssignedTo: &userID})
	return updated, nil
}

// UpdateTaskDueDate sets a task's due date in the CRM and patches the
// cache best-effort.
func (s *Service) UpdateTaskDueDate(ctx context.Context, taskID, dueDate, actor string) (*remote.Task, error) {
	prior, _, _ := s.tasks.FindTask(taskID)

	updated, err := s.crm.UpdateTaskDueDate(ctx, taskID, dueDate)
	if err != nil {
		return nil, err
	}

	prevValue := ""
	opportunityID := updated.OpportunityID
	if prior != nil {
		prevValue = prior.DueDate
		if opportunityID == "" {
			opportunityID = prior.OpportunityID
		}
	}
	s.audit(ctx, taskID, opportunityID, models.AuditDueDateChange, prevValue, dueDate, actor)

	s.tasks.ApplyTaskUpdate(taskID, cache.TaskPatch{DueDate: &dueDate})
	return updated, nil
}

// GetPipelines returns the pipeline definitions, served from the 1-hour
// cache when live.
func (s *Service) GetPipelines(ctx context.Context) ([]remote.Pipeline, error) {
	if pipelines, ok := s.pipelines.GetAll(); ok {
		return pipelines, nil
	}
	pipelines, err := s.crm.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}
	s.pipelines.StoreAll(pipelines)
	log.Printf("📥 Cached %d pipeline definitions", len(pipelines))
	return pipelines, nil
}

// GetAnalytics computes the summary for a pipeline, reading through the
// normal cache-miss path.
func (s *Service) GetAnalytics(ctx context.Context, pipelineID string) (*analytics.Summary, error) {
	tasks, err := s.GetTasks(ctx, pipelineID, StatusAll)
	if err != nil {
		return nil, err
	}
	summary := analytics.Summarize(pipelineID, tasks)
	return &summary, nil
}

// audit writes an append-only audit row. Audit failures are logged, not
// surfaced: the remote mutation already happened and must not be
// reported as failed.
func (s *Service) audit(ctx context.Context, taskID, opportunityID, action, prev, next, actor string) {
	row := models.AuditEvent{
		ID:            uuid.New().String(),
		TaskID:        taskID,
		OpportunityID: opportunityID,
		Action:        action,
		PreviousValue: prev,
		NewValue:      next,
		Actor:         actor,
		CreatedAt:     s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		log.Printf("⚠️ Failed to write audit event for task %s: %v", taskID, err)
	}
}

// pipelineMeta resolves a pipeline's name and location from the pipeline
// cache, warming it if needed. Best-effort: task caching works without
// the metadata.
func (s *Service) pipelineMeta(ctx context.Context, pipelineID string) (name, locationID string) {
	p, ok := s.pipelines.Get(pipelineID)
	if !ok {
		if _, err := s.GetPipelines(ctx); err != nil {
			return "", ""
		}
		if p, ok = s.pipelines.Get(pipelineID); !ok {
			return "", ""
		}
	}
	return p.Name, p.LocationID
}

func filterByStatus(tasks []remote.Task, statusFilter string) []remote.Task {
	switch statusFilter {
	case StatusCompleted, StatusIncomplete:
	default:
		return tasks
	}
	wantCompleted := statusFilter == StatusCompleted
	out := make([]remote.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Completed == wantCompleted {
			out = append(out, t)
		}
	}
	return out
}
