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

// FaceSwap drives the face-swap worker. The submit payload is flat JSON:
// the API does not accept nested objects.
//
// Inputs convention: InputArtifacts[0] is the target image, [1] the new face.
type FaceSwap struct {
	BaseURL string
	APIKey  string
}

func (f *FaceSwap) Kind() entity.WorkerKind { return entity.KindFaceSwap }

type faceSwapSubmit struct {
	Image     string `json:"image"`
	NewFace   string `json:"newFace"`
	RequestID string `json:"requestId,omitempty"`
}

func (f *FaceSwap) BuildSubmit(ctx context.Context, d entity.JobDescriptor) (*http.Request, error) {
	if len(d.InputArtifacts) < 2 {
		return nil, fmt.Errorf("faceswap needs target and face inputs, got %d", len(d.InputArtifacts))
	}

	body, err := json.Marshal(faceSwapSubmit{
		Image:     d.InputArtifacts[0].URL,
		NewFace:   d.InputArtifacts[1].URL,
		RequestID: d.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(f.BaseURL, "/")+"/faceswap", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.APIKey != "" {
		req.Header.Set("x-api-key", f.APIKey)
	}
	return req, nil
}

func (f *FaceSwap) ParseSubmit(resp *http.Response) (string, error) {
	var out struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("faceswap submit response: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("faceswap submit response: empty jobId")
	}
	return out.JobID, nil
}

func (f *FaceSwap) BuildStatus(ctx context.Context, h entity.ExternalJobHandle) (*http.Request, error) {
	url := fmt.Sprintf("%s/status/%s", strings.TrimRight(f.BaseURL, "/"), h.ExternalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if f.APIKey != "" {
		req.Header.Set("x-api-key", f.APIKey)
	}
	return req, nil
}

type faceSwapStatus struct {
	Status        string `json:"status"`
	DetectedFaces []any  `json:"detectedFaces,omitempty"`
	ResultURL     string `json:"resultUrl,omitempty"`
	ResultSize    int64  `json:"resultSize,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (f *FaceSwap) ParseStatus(resp *http.Response) (StatusReport, error) {
	var st faceSwapStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&st); err != nil {
		return StatusReport{}, fmt.Errorf("faceswap status response: %w", err)
	}

	switch st.Status {
	case "completed", "succeeded":
		if st.ResultURL == "" {
			return StatusReport{}, fmt.Errorf("faceswap reported success without resultUrl")
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
		if len(st.DetectedFaces) == 0 {
			reason += " (no faces detected)"
		}
		return StatusReport{State: StateFailed, Reason: reason}, nil
	default:
		// queued / processing / anything unknown counts as still running
		return StatusReport{State: StateInFlight}, nil
	}
}
