package remote_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"content-pipeline-service/internal/entity"
	"content-pipeline-service/internal/remote"
)

func testWorkflow() map[string]any {
	raw := `{
	  "3": {"class_type": "KSampler", "inputs": {"steps": 20, "cfg": 8.0, "denoise": 1.0, "seed": 0}},
	  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": "placeholder"}},
	  "10": {"class_type": "LoraLoader", "inputs": {"lora_name": "none.safetensors", "strength_model": 1.0}},
	  "12": {"class_type": "LoadImage", "inputs": {"image": ""}}
	}`
	var wf map[string]any
	if err := json.Unmarshal([]byte(raw), &wf); err != nil {
		panic(err)
	}
	return wf
}

func renderWorker() *remote.GPURender {
	return &remote.GPURender{
		BaseURL:  "http://comfy.local:8188",
		Workflow: testWorkflow(),
		Nodes:    remote.NodeBindings{Sampler: "3", Prompt: "6", LoRA: "10", Image: "12"},
	}
}

func TestGPURender_BuildSubmitOverwritesNodeInputs(t *testing.T) {
	g := renderWorker()

	d := entity.JobDescriptor{
		TemplateID: "qwen_single",
		Params: map[string]any{
			"prompt":        "a portrait, studio lighting",
			"lora_name":     "subject_v2.safetensors",
			"lora_strength": 0.5,
			"steps":         int64(30),
			"cfg":           4.0,
			"denoise":       0.75,
			"seed":          int64(42),
		},
		InputArtifacts: []entity.ArtifactRef{{URL: "https://store.local/input.png"}},
		IdempotencyKey: "run1:render:unit1",
	}

	req, err := g.BuildSubmit(context.Background(), d)
	if err != nil {
		t.Fatalf("build submit: %v", err)
	}
	if !strings.HasSuffix(req.URL.String(), "/prompt") {
		t.Fatalf("unexpected submit URL %s", req.URL)
	}

	body, _ := io.ReadAll(req.Body)
	var payload struct {
		Prompt   map[string]map[string]any `json:"prompt"`
		ClientID string                    `json:"client_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal submit body: %v", err)
	}
	if payload.ClientID != "run1:render:unit1" {
		t.Fatalf("expected client_id from idempotency key, got %q", payload.ClientID)
	}

	sampler := payload.Prompt["3"]["inputs"].(map[string]any)
	if sampler["steps"] != float64(30) || sampler["cfg"] != 4.0 || sampler["denoise"] != 0.75 || sampler["seed"] != float64(42) {
		t.Fatalf("sampler inputs not overwritten: %#v", sampler)
	}
	promptNode := payload.Prompt["6"]["inputs"].(map[string]any)
	if promptNode["text"] != "a portrait, studio lighting" {
		t.Fatalf("prompt text not overwritten: %#v", promptNode)
	}
	lora := payload.Prompt["10"]["inputs"].(map[string]any)
	if lora["lora_name"] != "subject_v2.safetensors" || lora["strength_model"] != 0.5 {
		t.Fatalf("lora inputs not overwritten: %#v", lora)
	}
	image := payload.Prompt["12"]["inputs"].(map[string]any)
	if image["image"] != "https://store.local/input.png" {
		t.Fatalf("image input not overwritten: %#v", image)
	}
}

func TestGPURender_BuildSubmitDoesNotMutateSharedWorkflow(t *testing.T) {
	g := renderWorker()

	d := entity.JobDescriptor{
		Params:         map[string]any{"prompt": "mutated"},
		InputArtifacts: []entity.ArtifactRef{{URL: "x"}},
	}
	if _, err := g.BuildSubmit(context.Background(), d); err != nil {
		t.Fatalf("build submit: %v", err)
	}

	original := g.Workflow["6"].(map[string]any)["inputs"].(map[string]any)
	if original["text"] != "placeholder" {
		t.Fatalf("shared workflow document was mutated: %#v", original)
	}
}

func TestGPURender_ParseStatusEmptyHistoryIsInFlight(t *testing.T) {
	g := renderWorker()

	resp := &http.Response{Body: io.NopCloser(strings.NewReader(`{}`)), StatusCode: 200}
	report, err := g.ParseStatus(resp)
	if err != nil {
		t.Fatalf("parse status: %v", err)
	}
	if report.State != remote.StateInFlight {
		t.Fatalf("expected in_flight, got %s", report.State)
	}
}

func TestGPURender_ParseStatusCompletedCollectsViewURLs(t *testing.T) {
	g := renderWorker()

	body := `{
	  "prompt-1": {
	    "status": {"completed": true, "status_str": "success"},
	    "outputs": {
	      "9": {"images": [{"filename": "img_00001_.png", "subfolder": "gen", "type": "output"}]}
	    }
	  }
	}`
	resp := &http.Response{Body: io.NopCloser(strings.NewReader(body)), StatusCode: 200}
	report, err := g.ParseStatus(resp)
	if err != nil {
		t.Fatalf("parse status: %v", err)
	}
	if report.State != remote.StateSucceeded {
		t.Fatalf("expected succeeded, got %s", report.State)
	}
	if len(report.Artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(report.Artifacts))
	}
	url := report.Artifacts[0].URL
	if !strings.Contains(url, "/view?") || !strings.Contains(url, "filename=img_00001_.png") {
		t.Fatalf("unexpected artifact url %s", url)
	}
}

func TestGPURender_ParseStatusErrorIsFailed(t *testing.T) {
	g := renderWorker()

	body := `{"prompt-1": {"status": {"completed": false, "status_str": "error"}}}`
	resp := &http.Response{Body: io.NopCloser(strings.NewReader(body)), StatusCode: 200}
	report, err := g.ParseStatus(resp)
	if err != nil {
		t.Fatalf("parse status: %v", err)
	}
	if report.State != remote.StateFailed {
		t.Fatalf("expected failed, got %s", report.State)
	}
}
