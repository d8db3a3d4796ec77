package models

import "time"

// Audit actions.
const (
	AuditStatusChange  = "status_change"
	AuditAssignment    = "assignment"
	AuditDueDateChange = "due_date_change"
)

// AuditEvent is an append-only record of a task mutation. Never updated
// after insert.
type AuditEvent struct {
	ID            string `gorm:"primaryKey"` // UUID
	TaskID        string `gorm:"index"`
	OpportunityID string
	Action        string
	PreviousValue string
	NewValue      string
	Actor         string
	CreatedAt     time.Time `gorm:"index"`
}
