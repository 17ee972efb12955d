package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"content-pipeline-service/internal/entity"
)

// Submitter turns a JobDescriptor into exactly one external job. Transient
// failures are retried in place with the same descriptor (same idempotency
// key, so a worker that honors the key will collapse duplicates); 4xx
// rejections are surfaced immediately and never retried.
type Submitter struct {
	api         WorkerAPI
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
}

func NewSubmitter(api WorkerAPI, client *http.Client, maxAttempts int, backoff time.Duration) *Submitter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Submitter{api: api, client: client, maxAttempts: maxAttempts, backoff: backoff}
}

func (s *Submitter) Kind() entity.WorkerKind { return s.api.Kind() }

func (s *Submitter) Submit(ctx context.Context, d entity.JobDescriptor) (entity.ExternalJobHandle, error) {
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return entity.ExternalJobHandle{}, ctx.Err()
			case <-time.After(s.backoff):
			}
			log.Printf("[submit] kind=%s idempotency_key=%s attempt=%d", s.api.Kind(), d.IdempotencyKey, attempt)
		}

		req, err := s.api.BuildSubmit(ctx, d)
		if err != nil {
			// сборка запроса не сетевой сбой, повторять нет смысла
			return entity.ExternalJobHandle{}, &SubmitError{Kind: s.api.Kind(), Err: err}
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = &SubmitError{Kind: s.api.Kind(), Transient: true, Err: err}
			continue
		}

		handle, err := s.readSubmit(resp)
		if err != nil {
			var se *SubmitError
			if errors.As(err, &se) && se.Transient {
				lastErr = err
				continue
			}
			return entity.ExternalJobHandle{}, err
		}
		return handle, nil
	}

	return entity.ExternalJobHandle{}, lastErr
}

func (s *Submitter) readSubmit(resp *http.Response) (entity.ExternalJobHandle, error) {
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		id, err := s.api.ParseSubmit(resp)
		if err != nil {
			return entity.ExternalJobHandle{}, &SubmitError{Kind: s.api.Kind(), StatusCode: resp.StatusCode, Err: err}
		}
		return entity.ExternalJobHandle{
			ExternalID:  id,
			Kind:        s.api.Kind(),
			SubmittedAt: time.Now().UTC(),
		}, nil

	case resp.StatusCode >= 500:
		return entity.ExternalJobHandle{}, &SubmitError{
			Kind:       s.api.Kind(),
			Transient:  true,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("worker returned %s", resp.Status),
		}

	default:
		// 4xx: параметры или входные артефакты невалидны
		return entity.ExternalJobHandle{}, &SubmitError{
			Kind:       s.api.Kind(),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("worker returned %s", resp.Status),
		}
	}
}
