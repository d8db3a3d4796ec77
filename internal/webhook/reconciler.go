package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crmkit/taskbridge/internal/cache"
	"github.com/crmkit/taskbridge/internal/db/models"
	"github.com/crmkit/taskbridge/internal/util"
)

// Result is the outcome of processing one webhook delivery.
// InferredEventType is empty for contact-only payloads.
type Result struct {
	Accepted          bool      `json:"accepted"`
	OpportunityID     string    `json:"opportunityId,omitempty"`
	InferredEventType EventType `json:"inferredEventType,omitempty"`
}

// mappedFields is the canonical opportunity shape extracted from a
// payload. Nil means the payload did not carry the field.
type mappedFields struct {
	Name            *string
	Status          *string
	MonetaryValue   *float64
	ContactID       *string
	PipelineID      *string
	PipelineStageID *string
	AssignedTo      *string
}

// Reconciler applies webhook payloads to the durable opportunity store
// and keeps the task cache from serving stale data past the change.
type Reconciler struct {
	db    *gorm.DB
	tasks *cache.TaskStore
	now   func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(db *gorm.DB, tasks *cache.TaskStore) *Reconciler {
	return &Reconciler{db: db, tasks: tasks, now: time.Now}
}

// Process unwraps, classifies and applies one raw webhook payload.
// Contact-only payloads are acknowledged as successful no-ops. Any error
// while unwrapping, classifying or persisting is a processing failure;
// an opportunity record is never left half-updated. The reconciler does
// not retry — the CRM redelivers on a non-2xx response.
func (r *Reconciler) Process(ctx context.Context, raw []byte) (*Result, error) {
	var envelope map[string]interface{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("webhook: malformed payload: %w", err)
	}

	fields := Unwrap(envelope)
	opportunityID := OpportunityID(fields)
	if opportunityID == "" {
		log.Printf("📭 Webhook without opportunity id (contact event): %s", util.TruncateBytes(raw))
		return &Result{Accepted: true}, nil
	}

	var prior models.Opportunity
	err := r.db.WithContext(ctx).First(&prior, "opportunity_id = ?", opportunityID).Error
	priorExists := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("webhook: lookup opportunity %s: %w", opportunityID, err)
	}

	event := Classify(priorExists, fields)
	mapped := mapFields(fields)

	switch event {
	case EventCreated:
		err = r.applyCreated(ctx, opportunityID, mapped)
	case EventStageChanged:
		err = r.applyStageChanged(ctx, &prior, mapped)
	case EventUpdated:
		err = r.applyUpdated(ctx, &prior, mapped)
	case EventDeleted:
		err = r.applyDeleted(ctx, priorExists, &prior, opportunityID)
	}
	if err != nil {
		return nil, err
	}

	r.invalidateTouched(priorExists, &prior, mapped)

	log.Printf("🔔 Webhook applied: opportunity=%s event=%s", opportunityID, event.Reported())
	return &Result{
		Accepted:          true,
		OpportunityID:     opportunityID,
		InferredEventType: event.Reported(),
	}, nil
}

// mapFields normalizes the payload's heterogeneous field names into the
// canonical opportunity shape.
func mapFields(fields map[string]interface{}) mappedFields {
	return mappedFields{
		Name:            stringField(fields, nameAliases),
		Status:          stringField(fields, []string{"status"}),
		MonetaryValue:   floatField(fields, monetaryAliases),
		ContactID:       stringField(fields, contactAliases),
		PipelineID:      stringField(fields, pipelineAliases),
		PipelineStageID: stringField(fields, stageAliases),
		AssignedTo:      stringField(fields, assignedAliases),
	}
}

func (r *Reconciler) applyCreated(ctx context.Context, opportunityID string, mapped mappedFields) error {
	now := r.now()
	row := models.Opportunity{
		ID:            uuid.New().String(),
		OpportunityID: opportunityID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if mapped.Name != nil {
		row.Name = *mapped.Name
	}
	if mapped.Status != nil {
		row.Status = *mapped.Status
	}
	if mapped.MonetaryValue != nil {
		row.MonetaryValue = *mapped.MonetaryValue
	}
	if mapped.ContactID != nil {
		row.ContactID = *mapped.ContactID
	}
	if mapped.PipelineID != nil {
		row.PipelineID = *mapped.PipelineID
	}
	if mapped.PipelineStageID != nil {
		row.PipelineStageID = *mapped.PipelineStageID
	}
	if mapped.AssignedTo != nil {
		row.AssignedTo = *mapped.AssignedTo
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("webhook: create opportunity %s: %w", opportunityID, err)
	}
	return nil
}

// applyStageChanged recomputes the stage/status fields only, leaving
// every other column untouched.
func (r *Reconciler) applyStageChanged(ctx context.Context, prior *models.Opportunity, mapped mappedFields) error {
	updates := map[string]interface{}{"updated_at": r.now()}
	if mapped.PipelineStageID != nil {
		updates["pipeline_stage_id"] = *mapped.PipelineStageID
	}
	if mapped.Status != nil {
		updates["status"] = *mapped.Status
	}
	if mapped.PipelineID != nil && *mapped.PipelineID != prior.PipelineID {
		// Stage changes can move the opportunity to another pipeline.
		updates["pipeline_id"] = *mapped.PipelineID
	}

	if err := r.db.WithContext(ctx).Model(prior).Updates(updates).Error; err != nil {
		return fmt.Errorf("webhook: stage update %s: %w", prior.OpportunityID, err)
	}
	return nil
}

// applyUpdated is the generic refresh of whatever fields are present.
func (r *Reconciler) applyUpdated(ctx context.Context, prior *models.Opportunity, mapped mappedFields) error {
	updates := map[string]interface{}{"updated_at": r.now()}
	if mapped.Name != nil {
		updates["name"] = *mapped.Name
	}
	if mapped.Status != nil {
		updates["status"] = *mapped.Status
	}
	if mapped.MonetaryValue != nil {
		updates["monetary_value"] = *mapped.MonetaryValue
	}
	if mapped.ContactID != nil {
		updates["contact_id"] = *mapped.ContactID
	}
	if mapped.PipelineID != nil {
		updates["pipeline_id"] = *mapped.PipelineID
	}
	if mapped.AssignedTo != nil {
		updates["assigned_to"] = *mapped.AssignedTo
	}

	if err := r.db.WithContext(ctx).Model(prior).Updates(updates).Error; err != nil {
		return fmt.Errorf("webhook: update %s: %w", prior.OpportunityID, err)
	}
	return nil
}

func (r *Reconciler) applyDeleted(ctx context.Context, priorExists bool, prior *models.Opportunity, opportunityID string) error {
	if !priorExists {
		return nil
	}
	if err := r.db.WithContext(ctx).Delete(prior).Error; err != nil {
		return fmt.Errorf("webhook: delete %s: %w", opportunityID, err)
	}
	return nil
}

// invalidateTouched drops the cache entries for every pipeline the
// change could have affected. A pipeline move touches both the source
// and the destination entry.
func (r *Reconciler) invalidateTouched(priorExists bool, prior *models.Opportunity, mapped mappedFields) {
	if priorExists && prior.PipelineID != "" {
		r.tasks.Invalidate(prior.PipelineID)
	}
	if mapped.PipelineID != nil && (!priorExists || *mapped.PipelineID != prior.PipelineID) {
		r.tasks.Invalidate(*mapped.PipelineID)
	}
}
