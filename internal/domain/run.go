package domain

import "time"

// Run outcomes recorded in the ledger.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// RunRecord is one attempt at handling a dataset event.
type RunRecord struct {
	RunID        string    `json:"run_id"`
	DatasetID    string    `json:"dataset_id"`
	DatasetName  string    `json:"dataset_name,omitempty"`
	Outcome      string    `json:"outcome"`
	Detail       string    `json:"detail,omitempty"` // skip reason or error text
	FilesCreated int       `json:"files_created"`
	BytesWritten int64     `json:"bytes_written"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
}
