package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"content-pipeline-service/internal/entity"
)

// Enhance drives the upscale/enhancement worker. Same flat-JSON shape as
// the face-swap API, but the template parameters go straight into the
// submit body.
type Enhance struct {
	BaseURL string
	APIKey  string
}

func (e *Enhance) Kind() entity.WorkerKind { return entity.KindEnhance }

func (e *Enhance) BuildSubmit(ctx context.Context, d entity.JobDescriptor) (*http.Request, error) {
	if len(d.InputArtifacts) < 1 {
		return nil, fmt.Errorf("enhance needs an input image")
	}

	payload := make(map[string]any, len(d.Params)+2)
	for k, v := range d.Params {
		payload[k] = v
	}
	payload["image"] = d.InputArtifacts[0].URL
	if d.IdempotencyKey != "" {
		payload["requestId"] = d.IdempotencyKey
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(e.BaseURL, "/")+"/enhance", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("x-api-key", e.APIKey)
	}
	return req, nil
}

func (e *Enhance) ParseSubmit(resp *http.Response) (string, error) {
	var out struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("enhance submit response: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("enhance submit response: empty jobId")
	}
	return out.JobID, nil
}

func (e *Enhance) BuildStatus(ctx context.Context, h entity.ExternalJobHandle) (*http.Request, error) {
	url := fmt.Sprintf("%s/status/%s", strings.TrimRight(e.BaseURL, "/"), h.ExternalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if e.APIKey != "" {
		req.Header.Set("x-api-key", e.APIKey)
	}
	return req, nil
}

func (e *Enhance) ParseStatus(resp *http.Response) (StatusReport, error) {
	var st struct {
		Status     string `json:"status"`
		ResultURL  string `json:"resultUrl,omitempty"`
		ResultSize int64  `json:"resultSize,omitempty"`
		Error      string `json:"error,omitempty"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&st); err != nil {
		return StatusReport{}, fmt.Errorf("enhance status response: %w", err)
	}

	switch st.Status {
	case "completed", "succeeded":
		if st.ResultURL == "" {
			return StatusReport{}, fmt.Errorf("enhance reported success without resultUrl")
		}
		return StatusReport{
			State:     StateSucceeded,
			Artifacts: []entity.ArtifactRef{{URL: st.ResultURL, Size: st.ResultSize}},
		}, nil
	case "failed", "error":
		reason := st.Error
		if reason == "" {
			reason = "worker reported failure"
		}
		return StatusReport{State: StateFailed, Reason: reason}, nil
	default:
		return StatusReport{State: StateInFlight}, nil
	}
}
