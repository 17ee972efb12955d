package entity

import "time"

type WorkerKind string

const (
	KindFaceSwap  WorkerKind = "faceswap"
	KindEnhance   WorkerKind = "enhance"
	KindGPURender WorkerKind = "gpurender"
)

type Stage string

const (
	StageSwap    Stage = "swap"
	StageEnhance Stage = "enhance"
	StageRender  Stage = "render"
)

// JobDescriptor is one submission attempt against an external worker.
// Never mutated after creation; a retry builds a new descriptor that
// shares the same IdempotencyKey.
type JobDescriptor struct {
	TemplateID     string
	Params         map[string]any
	InputArtifacts []ArtifactRef
	IdempotencyKey string
}

// ExternalJobHandle identifies a job inside the external worker.
type ExternalJobHandle struct {
	ExternalID  string
	Kind        WorkerKind
	SubmittedAt time.Time
}

type JobResultStatus string

const (
	ResultSucceeded JobResultStatus = "succeeded"
	ResultFailed    JobResultStatus = "failed"
	ResultTimedOut  JobResultStatus = "timed_out"
	ResultCancelled JobResultStatus = "cancelled"
)

// JobResult is terminal: written once, never revised.
type JobResult struct {
	Status    JobResultStatus
	Artifacts []ArtifactRef
	Reason    string
}
