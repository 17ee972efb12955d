package entity

import "time"

type ProgressStatus string

// Pending is the absence of a record, not a status: rows are first
// written at MarkInFlight.
const (
	ProgressInFlight ProgressStatus = "in_flight"
	ProgressDone     ProgressStatus = "done"
	ProgressFailed   ProgressStatus = "failed"
)

// ProgressRecord is one row per (run, entity, stage). Mutated only through
// the progress store's own write path; it is the durable source of truth
// for what has already happened.
type ProgressRecord struct {
	RunID       string         `json:"run_id"`
	EntityKey   string         `json:"entity_key"`
	Stage       Stage          `json:"stage"`
	Status      ProgressStatus `json:"status"`
	Artifacts   []ArtifactRef  `json:"artifacts,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	LastUpdated time.Time      `json:"last_updated"`
}
