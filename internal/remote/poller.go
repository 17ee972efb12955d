package remote

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"content-pipeline-service/internal/entity"
)

// Budget bounds a polling session: whichever of MaxPolls or MaxWait runs
// out first ends it with a TimedOut result.
type Budget struct {
	MaxPolls int
	MaxWait  time.Duration
}

// Poller waits for an external job to reach a terminal state. It only
// ever retries the status check, never the submission: TimedOut is
// inconclusive and the job may still finish on the worker's side.
//
// Fixed short intervals, not exponential backoff: the swap/enhance jobs
// this targets run for seconds, not minutes.
type Poller struct {
	api      WorkerAPI
	client   *http.Client
	interval time.Duration
}

func NewPoller(api WorkerAPI, client *http.Client, interval time.Duration) *Poller {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{api: api, client: client, interval: interval}
}

// Await polls until terminal success/failure or the budget is exhausted.
// Cancellation of ctx yields a Cancelled result, distinct from TimedOut,
// потому что внешняя задача может всё ещё выполняться.
func (p *Poller) Await(ctx context.Context, h entity.ExternalJobHandle, budget Budget) entity.JobResult {
	deadline := time.Time{}
	if budget.MaxWait > 0 {
		deadline = time.Now().Add(budget.MaxWait)
	}

	polls := 0
	for {
		report, err := p.pollOnce(ctx, h)
		polls++
		if err != nil {
			if ctx.Err() != nil {
				return entity.JobResult{Status: entity.ResultCancelled, Reason: ctx.Err().Error()}
			}
			// сетевой сбой статуса не терминален; считается как один poll
			log.Printf("[poll] kind=%s external_id=%s poll=%d error=%v", h.Kind, h.ExternalID, polls, err)
		} else {
			switch report.State {
			case StateSucceeded:
				return entity.JobResult{Status: entity.ResultSucceeded, Artifacts: report.Artifacts}
			case StateFailed:
				return entity.JobResult{Status: entity.ResultFailed, Reason: report.Reason}
			}
		}

		if budget.MaxPolls > 0 && polls >= budget.MaxPolls {
			return entity.JobResult{Status: entity.ResultTimedOut, Reason: "poll budget exhausted"}
		}
		if !deadline.IsZero() && !time.Now().Add(p.interval).Before(deadline) {
			return entity.JobResult{Status: entity.ResultTimedOut, Reason: "wall-clock budget exhausted"}
		}

		select {
		case <-ctx.Done():
			return entity.JobResult{Status: entity.ResultCancelled, Reason: ctx.Err().Error()}
		case <-time.After(p.interval):
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, h entity.ExternalJobHandle) (StatusReport, error) {
	req, err := p.api.BuildStatus(ctx, h)
	if err != nil {
		return StatusReport{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return StatusReport{}, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// не валим сессию: временная ошибка статуса, перепросим позже
		return StatusReport{State: StateInFlight}, nil
	}
	return p.api.ParseStatus(resp)
}
