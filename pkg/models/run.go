package models

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ImportRun records one execution of the import or promotion pipeline
type ImportRun struct {
	ID         string     `json:"id" db:"id"`
	Operation  string     `json:"operation" db:"operation"`
	Source     string     `json:"source" db:"source"`
	Profile    string     `json:"profile" db:"profile"`
	Status     RunStatus  `json:"status" db:"status"`
	Processed  int        `json:"processed" db:"processed"`
	Succeeded  int        `json:"succeeded" db:"succeeded"`
	Failed     int        `json:"failed" db:"failed"`
	Error      *string    `json:"error,omitempty" db:"error"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}
