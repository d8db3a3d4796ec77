package models

import "time"

// Opportunity is the durable mirror of a CRM opportunity record.
// OpportunityID is the remote identity; rows are created either by the
// webhook reconciler or by the direct creation flow and updated by both.
type Opportunity struct {
	ID                string `gorm:"primaryKey"` // UUID
	OpportunityID     string `gorm:"uniqueIndex"`
	Name              string
	Status            string
	MonetaryValue     float64
	ContactID         string
	PipelineID        string `gorm:"index"`
	PipelineStageID   string
	PipelineStageName string
	AssignedTo        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
