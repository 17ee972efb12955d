package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunDone       RunStatus = "done"
	RunError      RunStatus = "error"
)

// Unit is one unit of work inside a run (e.g. one source×target pair).
type Unit struct {
	EntityKey string        `json:"entity_key"`
	Inputs    []ArtifactRef `json:"inputs"`
}

// Run is a request to push a set of units through one pipeline stage.
type Run struct {
	ID         uuid.UUID       `json:"id"`
	TemplateID string          `json:"template_id"`
	Stage      Stage           `json:"stage"`
	Status     RunStatus       `json:"status"`
	Params     json.RawMessage `json:"params"`
	Units      []Unit          `json:"units"`
	Summary    json.RawMessage `json:"summary,omitempty"`
	Error      *string         `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Priority   int             `json:"priority"`
}

// UnitFailure names one failed unit and why, for the run summary.
type UnitFailure struct {
	EntityKey string `json:"entity_key"`
	Reason    string `json:"reason"`
}

// RunSummary is the user-visible outcome of one orchestration pass.
type RunSummary struct {
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	TimedOut  int           `json:"timed_out"`
	Skipped   int           `json:"skipped"`
	Failures  []UnitFailure `json:"failures,omitempty"`
}
