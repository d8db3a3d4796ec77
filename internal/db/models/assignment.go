package models

import "time"

// Assignment records who a task is (or was) assigned to. Rows are
// append-mostly: at most one IsActive row exists per task, enforced by
// the assignment flow deactivating the prior row before inserting.
type Assignment struct {
	ID               string `gorm:"primaryKey"` // UUID
	TaskID           string `gorm:"index"`
	PipelineID       string
	OpportunityID    string
	AssignedToUserID string
	AssignedByUserID string
	IsActive         bool `gorm:"index"`
	AssignedAt       time.Time
	UnassignedAt     *time.Time
}
