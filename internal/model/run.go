package model

import "time"

// RunStatus tracks the lifecycle of a pipeline run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final. Terminal runs are immutable.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Run is one pipeline execution record.
type Run struct {
	ID               string     `json:"id"`
	Status           RunStatus  `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	RecordsProcessed int64      `json:"records_processed"`
	RecordsAdded     int64      `json:"records_added"`
	RecordsUpdated   int64      `json:"records_updated"`
	ChangesDetected  int64      `json:"changes_detected"`
	ErrorLog         string     `json:"error_log,omitempty"`
}
