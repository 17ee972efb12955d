// Package progress keeps the durable per-(run, entity, stage) record of
// what has already happened. It is the single source of truth the
// orchestrator consults to resume after an interruption; everything else
// can be reconstructed from it.
package progress

import (
	"context"
	"errors"

	"content-pipeline-service/internal/entity"
)

var ErrNotFound = errors.New("progress record not found")

// Store is the persistence port. Реализации: Postgres (сервис) и SQLite
// (однохостовый CLI-режим). Writes must be durable before the caller
// moves on to the next unit.
type Store interface {
	MarkInFlight(ctx context.Context, runID, entityKey string, stage entity.Stage) error
	MarkDone(ctx context.Context, runID, entityKey string, stage entity.Stage, artifacts []entity.ArtifactRef) error
	MarkFailed(ctx context.Context, runID, entityKey string, stage entity.Stage, reason string) error

	IsDone(ctx context.Context, runID, entityKey string, stage entity.Stage) (bool, error)
	Get(ctx context.Context, runID, entityKey string, stage entity.Stage) (entity.ProgressRecord, error)

	// Pending returns, preserving input order, every key that still needs
	// work: not Done, and not Failed unless retryFailed is set.
	Pending(ctx context.Context, runID string, stage entity.Stage, entityKeys []string, retryFailed bool) ([]string, error)
}
