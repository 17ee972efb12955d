package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"content-pipeline-service/internal/entity"
)

type RunRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Run, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status entity.RunStatus) error
	SetSummaryDone(ctx context.Context, id uuid.UUID, summary json.RawMessage) error
	SetError(ctx context.Context, id uuid.UUID, errText string) error
}

// StageRunner executes one claimed run end to end; implemented by
// orchestrator.Orchestrator, one per pipeline stage.
type StageRunner interface {
	Execute(ctx context.Context, run entity.Run, params map[string]any) (entity.RunSummary, error)
}

type Processor struct {
	repo    RunRepo
	runners map[entity.Stage]StageRunner
}

func NewProcessor(repo RunRepo, runners map[entity.Stage]StageRunner) *Processor {
	return &Processor{repo: repo, runners: runners}
}

func (p *Processor) Process(ctx context.Context, runID string) error {
	start := time.Now()

	id, err := uuid.Parse(runID)
	if err != nil {
		log.Printf("[worker] run_id=%s parse_error=%v", runID, err)
		return err
	}

	// статус -> processing
	if err := p.repo.UpdateStatus(ctx, id, entity.RunProcessing); err != nil {
		log.Printf("[worker] run_id=%s update_status=processing error=%v", id.String(), err)
		return err
	}

	run, err := p.repo.GetByID(ctx, id)
	if err != nil {
		log.Printf("[worker] run_id=%s get_run error=%v", id.String(), err)
		return err
	}

	log.Printf("[worker] run_id=%s template=%s stage=%s units=%d status=processing",
		id.String(), run.TemplateID, run.Stage, len(run.Units))

	summary, procErr := p.executeRun(ctx, run)
	if procErr != nil {
		msg := procErr.Error()
		_ = p.repo.SetError(ctx, id, msg)

		log.Printf("[worker] run_id=%s stage=%s status=error duration_ms=%d error=%s",
			id.String(), run.Stage, time.Since(start).Milliseconds(), msg,
		)
		return procErr
	}

	rawSummary, err := json.Marshal(summary)
	if err != nil {
		_ = p.repo.SetError(ctx, id, err.Error())
		return err
	}
	if err := p.repo.SetSummaryDone(ctx, id, rawSummary); err != nil {
		log.Printf("[worker] run_id=%s set_done error=%v", id.String(), err)
		return err
	}

	log.Printf("[worker] run_id=%s stage=%s status=done duration_ms=%d succeeded=%d failed=%d timed_out=%d",
		id.String(), run.Stage, time.Since(start).Milliseconds(),
		summary.Succeeded, summary.Failed, summary.TimedOut,
	)
	return nil
}

func (p *Processor) executeRun(ctx context.Context, run *entity.Run) (entity.RunSummary, error) {
	runner, ok := p.runners[run.Stage]
	if !ok {
		return entity.RunSummary{}, fmt.Errorf("no runner for stage %q", run.Stage)
	}

	params := map[string]any{}
	if len(run.Params) > 0 {
		if err := json.Unmarshal(run.Params, &params); err != nil {
			return entity.RunSummary{}, fmt.Errorf("decode params: %w", err)
		}
	}

	return runner.Execute(ctx, *run, params)
}
