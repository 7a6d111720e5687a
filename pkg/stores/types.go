package stores

import (
	"time"
)

// RunStatus represents the persisted status of an automation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the persisted record of one automation run.
type Run struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Status      RunStatus  `json:"status"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Error       *string    `json:"error,omitempty"`
	HostCount   int        `json:"host_count"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Credential is one persisted credential field extracted from a run.
type Credential struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Service   string    `json:"service"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}
