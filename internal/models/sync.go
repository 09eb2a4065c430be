package models

import "time"

// SyncType enumerates supported LMS sync passes.
type SyncType string

const (
	SyncTypeRoster      SyncType = "roster"
	SyncTypeCourses     SyncType = "courses"
	SyncTypeAssignments SyncType = "assignments"
	SyncTypeGrades      SyncType = "grades"
)

// SyncStatus captures one sync pass outcome.
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncError records one failed external record.
type SyncError struct {
	RecordID string `json:"record_id"`
	Message  string `json:"message"`
	Code     string `json:"code"`
}

// SyncOperation is the result of one batch pull/push against an external LMS.
// At completion RecordsProcessed = RecordsSucceeded + RecordsFailed; every
// processed record maps to exactly one outcome.
type SyncOperation struct {
	ID               string      `json:"id"`
	Type             SyncType    `json:"type"`
	Status           SyncStatus  `json:"status"`
	RecordsProcessed int         `json:"records_processed"`
	RecordsSucceeded int         `json:"records_succeeded"`
	RecordsFailed    int         `json:"records_failed"`
	Errors           []SyncError `json:"errors,omitempty"`
	StartedAt        time.Time   `json:"started_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

// RecordSuccess tallies one successfully processed record.
func (op *SyncOperation) RecordSuccess() {
	op.RecordsProcessed++
	op.RecordsSucceeded++
}

// RecordFailure tallies one failed record with its error entry.
func (op *SyncOperation) RecordFailure(recordID, message, code string) {
	op.RecordsProcessed++
	op.RecordsFailed++
	op.Errors = append(op.Errors, SyncError{RecordID: recordID, Message: message, Code: code})
}

// Complete finalises the operation: completed only when no record failed.
func (op *SyncOperation) Complete() {
	now := time.Now().UTC()
	op.CompletedAt = &now
	if len(op.Errors) == 0 {
		op.Status = SyncStatusCompleted
	} else {
		op.Status = SyncStatusFailed
	}
}

// Fail marks the whole operation failed with a single operation-level error.
func (op *SyncOperation) Fail(message, code string) {
	now := time.Now().UTC()
	op.CompletedAt = &now
	op.Status = SyncStatusFailed
	op.Errors = append(op.Errors, SyncError{Message: message, Code: code})
}
