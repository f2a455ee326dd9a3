package models

import "time"

// ReconciliationJob asks the refresh worker to re-check one record against the DAM.
type ReconciliationJob struct {
	ID         string    `json:"id"`
	RecordID   string    `json:"record_id"`
	Attempts   int       `json:"attempts"`
	LeaseToken string    `json:"lease_token,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
