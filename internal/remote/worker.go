// Package remote talks to the external workers that do the actual
// computation: the face-swap API, the enhancement API, and the GPU
// render service. Each worker speaks an incompatible payload shape, so
// the request building and response parsing is behind WorkerAPI and the
// submit/poll machinery is written once.
package remote

import (
	"context"
	"fmt"
	"net/http"

	"content-pipeline-service/internal/entity"
)

// WorkerAPI is the per-worker capability set: how to build the submit
// and status requests and how to read the responses back.
type WorkerAPI interface {
	Kind() entity.WorkerKind

	BuildSubmit(ctx context.Context, d entity.JobDescriptor) (*http.Request, error)
	// ParseSubmit extracts the external job id from a 2xx submit response.
	ParseSubmit(resp *http.Response) (string, error)

	BuildStatus(ctx context.Context, h entity.ExternalJobHandle) (*http.Request, error)
	ParseStatus(resp *http.Response) (StatusReport, error)
}

type StatusState string

const (
	StateInFlight  StatusState = "in_flight"
	StateSucceeded StatusState = "succeeded"
	StateFailed    StatusState = "failed"
)

// StatusReport is one poll's view of the external job.
type StatusReport struct {
	State     StatusState
	Artifacts []entity.ArtifactRef
	Reason    string
}

// SubmitError classifies submission failures. Transient failures
// (network, 5xx) may be retried with the same descriptor; rejected ones
// (4xx) must not be, потому что входные данные невалидны.
type SubmitError struct {
	Kind       entity.WorkerKind
	Transient  bool
	StatusCode int
	Err        error
}

func (e *SubmitError) Error() string {
	mode := "rejected"
	if e.Transient {
		mode = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("submit to %s %s (status %d): %v", e.Kind, mode, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("submit to %s %s: %v", e.Kind, mode, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }
