// Package orchestrator runs one pipeline stage over a set of units:
// filter out what is already done, then for each remaining unit submit
// to the external worker, poll to a terminal state, relay the result
// into the object store, and checkpoint progress. Units are processed
// sequentially; a failure in one never aborts the others.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"content-pipeline-service/internal/entity"
	"content-pipeline-service/internal/progress"
	"content-pipeline-service/internal/remote"
	"content-pipeline-service/internal/template"
)

// Submitter and Poller are the ports onto internal/remote; the
// orchestrator never talks HTTP itself.
type Submitter interface {
	Submit(ctx context.Context, d entity.JobDescriptor) (entity.ExternalJobHandle, error)
}

type Poller interface {
	Await(ctx context.Context, h entity.ExternalJobHandle, budget remote.Budget) entity.JobResult
}

type ArtifactRelay interface {
	Fetch(ctx context.Context, ref entity.ArtifactRef) (string, error)
	Publish(ctx context.Context, localPath string, src entity.ArtifactRef, runID, entityKey string, stage entity.Stage) (entity.ArtifactRef, error)
}

type Orchestrator struct {
	templates *template.Registry
	store     progress.Store
	submitter Submitter
	poller    Poller
	relay     ArtifactRelay

	budget remote.Budget
	// retryFailed: перезапуск подхватывает failed-юниты автоматически.
	// Политика явная, а не выведенная из поведения скриптов.
	retryFailed bool
}

func New(templates *template.Registry, store progress.Store, submitter Submitter, poller Poller, relay ArtifactRelay, budget remote.Budget, retryFailed bool) *Orchestrator {
	return &Orchestrator{
		templates:   templates,
		store:       store,
		submitter:   submitter,
		poller:      poller,
		relay:       relay,
		budget:      budget,
		retryFailed: retryFailed,
	}
}

// Execute runs one pass over the run's units. Validation failures abort
// before any network call; everything after that is scoped per unit.
func (o *Orchestrator) Execute(ctx context.Context, run entity.Run, params map[string]any) (entity.RunSummary, error) {
	resolved, err := o.templates.Validate(run.TemplateID, params)
	if err != nil {
		return entity.RunSummary{}, fmt.Errorf("validate params: %w", err)
	}

	keys := make([]string, 0, len(run.Units))
	units := make(map[string]entity.Unit, len(run.Units))
	for _, u := range run.Units {
		keys = append(keys, u.EntityKey)
		units[u.EntityKey] = u
	}

	runID := run.ID.String()
	pending, err := o.store.Pending(ctx, runID, run.Stage, keys, o.retryFailed)
	if err != nil {
		return entity.RunSummary{}, fmt.Errorf("pending units: %w", err)
	}

	summary := entity.RunSummary{Skipped: len(keys) - len(pending)}

	for _, key := range pending {
		if ctx.Err() != nil {
			break
		}

		unit := units[key]
		res := o.processUnit(ctx, runID, run.TemplateID, run.Stage, unit, resolved)

		switch res.Status {
		case entity.ResultSucceeded:
			summary.Succeeded++
		case entity.ResultFailed:
			summary.Failed++
			summary.Failures = append(summary.Failures, entity.UnitFailure{EntityKey: key, Reason: res.Reason})
		case entity.ResultTimedOut:
			// неубедительный исход: юнит остаётся in_flight и будет
			// перепроверен следующим прогоном (idempotency key тот же)
			summary.TimedOut++
		case entity.ResultCancelled:
			log.Printf("[orchestrate] run_id=%s entity_key=%s cancelled", runID, key)
			return summary, ctx.Err()
		}
	}

	log.Printf("[orchestrate] run_id=%s stage=%s succeeded=%d failed=%d timed_out=%d skipped=%d",
		runID, run.Stage, summary.Succeeded, summary.Failed, summary.TimedOut, summary.Skipped)
	return summary, nil
}

// processUnit walks one unit through submit -> poll -> relay -> mark.
// The ordering is fixed; the progress store is the checkpoint after each
// terminal step.
func (o *Orchestrator) processUnit(ctx context.Context, runID, templateID string, stage entity.Stage, unit entity.Unit, params map[string]any) entity.JobResult {
	key := unit.EntityKey

	if err := o.store.MarkInFlight(ctx, runID, key, stage); err != nil {
		return entity.JobResult{Status: entity.ResultFailed, Reason: fmt.Sprintf("mark in-flight: %v", err)}
	}

	d := entity.JobDescriptor{
		TemplateID:     templateID,
		Params:         params,
		InputArtifacts: unit.Inputs,
		IdempotencyKey: IdempotencyKey(runID, stage, key),
	}

	handle, err := o.submitter.Submit(ctx, d)
	if err != nil {
		var se *remote.SubmitError
		if errors.As(err, &se) && se.Transient {
			// бюджет повторов исчерпан внутри submitter — оставляем in_flight,
			// следующий прогон повторит с тем же ключом
			log.Printf("[orchestrate] run_id=%s entity_key=%s submit transient failure: %v", runID, key, err)
			return entity.JobResult{Status: entity.ResultTimedOut, Reason: err.Error()}
		}
		reason := fmt.Sprintf("submission rejected: %v", err)
		o.markFailed(ctx, runID, key, stage, reason)
		return entity.JobResult{Status: entity.ResultFailed, Reason: reason}
	}

	res := o.poller.Await(ctx, handle, o.budget)
	switch res.Status {
	case entity.ResultFailed:
		o.markFailed(ctx, runID, key, stage, res.Reason)
		return res
	case entity.ResultTimedOut, entity.ResultCancelled:
		// внешняя задача может ещё работать; не помечаем failed
		return res
	}

	published, err := o.relayAll(ctx, runID, key, stage, res.Artifacts)
	if err != nil {
		reason := fmt.Sprintf("relay: %v", err)
		o.markFailed(ctx, runID, key, stage, reason)
		return entity.JobResult{Status: entity.ResultFailed, Reason: reason}
	}

	if err := o.store.MarkDone(ctx, runID, key, stage, published); err != nil {
		reason := fmt.Sprintf("mark done: %v", err)
		return entity.JobResult{Status: entity.ResultFailed, Reason: reason}
	}
	return entity.JobResult{Status: entity.ResultSucceeded, Artifacts: published}
}

func (o *Orchestrator) relayAll(ctx context.Context, runID, key string, stage entity.Stage, artifacts []entity.ArtifactRef) ([]entity.ArtifactRef, error) {
	published := make([]entity.ArtifactRef, 0, len(artifacts))
	for _, ref := range artifacts {
		local, err := o.relay.Fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		pub, err := o.relay.Publish(ctx, local, ref, runID, key, stage)
		_ = os.Remove(local)
		if err != nil {
			return nil, err
		}
		published = append(published, pub)
	}
	return published, nil
}

func (o *Orchestrator) markFailed(ctx context.Context, runID, key string, stage entity.Stage, reason string) {
	if err := o.store.MarkFailed(ctx, runID, key, stage, reason); err != nil {
		log.Printf("[orchestrate] run_id=%s entity_key=%s mark failed error: %v", runID, key, err)
	}
}

// IdempotencyKey is deterministic over (run, stage, entity), so a re-run
// that resubmits an inconclusive unit hands the worker the same key and
// duplicates collapse instead of double-billing.
func IdempotencyKey(runID string, stage entity.Stage, entityKey string) string {
	return fmt.Sprintf("%s:%s:%s", runID, stage, entityKey)
}
