package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"

	"content-pipeline-service/internal/entity"
)

// GPURender drives the ComfyUI-style render worker. Submission is a full
// workflow-graph document with named node inputs overwritten in place;
// status comes from a history endpoint keyed by the returned prompt id.
type GPURender struct {
	BaseURL  string
	Workflow map[string]any
	Nodes    NodeBindings
}

// NodeBindings names the graph nodes whose inputs get overwritten per job.
type NodeBindings struct {
	Sampler string `json:"sampler"`
	Prompt  string `json:"prompt"`
	LoRA    string `json:"lora"`
	Image   string `json:"image"`
}

type workflowFile struct {
	Nodes    NodeBindings   `json:"nodes"`
	Workflow map[string]any `json:"workflow"`
}

// LoadWorkflow reads the workflow document plus node bindings from disk.
func LoadWorkflow(path string) (map[string]any, NodeBindings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NodeBindings{}, err
	}
	var f workflowFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, NodeBindings{}, fmt.Errorf("parse workflow %s: %w", path, err)
	}
	if len(f.Workflow) == 0 {
		return nil, NodeBindings{}, fmt.Errorf("workflow %s: empty graph", path)
	}
	return f.Workflow, f.Nodes, nil
}

func (g *GPURender) Kind() entity.WorkerKind { return entity.KindGPURender }

func (g *GPURender) BuildSubmit(ctx context.Context, d entity.JobDescriptor) (*http.Request, error) {
	graph, err := cloneGraph(g.Workflow)
	if err != nil {
		return nil, err
	}

	if prompt, ok := d.Params["prompt"].(string); ok && g.Nodes.Prompt != "" {
		if err := setNodeInput(graph, g.Nodes.Prompt, "text", prompt); err != nil {
			return nil, err
		}
	}

	if g.Nodes.LoRA != "" {
		if name, ok := d.Params["lora_name"].(string); ok {
			if err := setNodeInput(graph, g.Nodes.LoRA, "lora_name", name); err != nil {
				return nil, err
			}
		}
		if strength, ok := d.Params["lora_strength"]; ok {
			if err := setNodeInput(graph, g.Nodes.LoRA, "strength_model", strength); err != nil {
				return nil, err
			}
		}
	}

	if g.Nodes.Sampler != "" {
		for param, input := range map[string]string{
			"steps":   "steps",
			"cfg":     "cfg",
			"denoise": "denoise",
		} {
			if v, ok := d.Params[param]; ok {
				if err := setNodeInput(graph, g.Nodes.Sampler, input, v); err != nil {
					return nil, err
				}
			}
		}
		if seed, ok := numericParam(d.Params["seed"]); ok {
			if seed < 0 {
				seed = rand.Int63()
			}
			if err := setNodeInput(graph, g.Nodes.Sampler, "seed", seed); err != nil {
				return nil, err
			}
		}
	}

	if g.Nodes.Image != "" && len(d.InputArtifacts) > 0 {
		if err := setNodeInput(graph, g.Nodes.Image, "image", d.InputArtifacts[0].URL); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(map[string]any{
		"prompt":    graph,
		"client_id": d.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.BaseURL, "/")+"/prompt", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (g *GPURender) ParseSubmit(resp *http.Response) (string, error) {
	var out struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("render submit response: %w", err)
	}
	if out.PromptID == "" {
		return "", fmt.Errorf("render submit response: empty prompt_id")
	}
	return out.PromptID, nil
}

func (g *GPURender) BuildStatus(ctx context.Context, h entity.ExternalJobHandle) (*http.Request, error) {
	u := fmt.Sprintf("%s/history/%s", strings.TrimRight(g.BaseURL, "/"), h.ExternalID)
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

type historyEntry struct {
	Status struct {
		Completed bool   `json:"completed"`
		StatusStr string `json:"status_str"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []struct {
			Filename  string `json:"filename"`
			Subfolder string `json:"subfolder"`
			Type      string `json:"type"`
		} `json:"images"`
	} `json:"outputs"`
}

func (g *GPURender) ParseStatus(resp *http.Response) (StatusReport, error) {
	var history map[string]historyEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&history); err != nil {
		return StatusReport{}, fmt.Errorf("render history response: %w", err)
	}

	// пустая история = задача ещё в очереди
	if len(history) == 0 {
		return StatusReport{State: StateInFlight}, nil
	}

	var entry historyEntry
	for _, e := range history {
		entry = e
		break
	}

	if entry.Status.StatusStr == "error" {
		return StatusReport{State: StateFailed, Reason: "render worker reported error"}, nil
	}
	if !entry.Status.Completed {
		return StatusReport{State: StateInFlight}, nil
	}

	var artifacts []entity.ArtifactRef
	nodeIDs := make([]string, 0, len(entry.Outputs))
	for id := range entry.Outputs {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)
	for _, id := range nodeIDs {
		for _, img := range entry.Outputs[id].Images {
			q := url.Values{}
			q.Set("filename", img.Filename)
			q.Set("subfolder", img.Subfolder)
			q.Set("type", img.Type)
			artifacts = append(artifacts, entity.ArtifactRef{
				URL: fmt.Sprintf("%s/view?%s", strings.TrimRight(g.BaseURL, "/"), q.Encode()),
			})
		}
	}
	if len(artifacts) == 0 {
		return StatusReport{State: StateFailed, Reason: "render completed without outputs"}, nil
	}
	return StatusReport{State: StateSucceeded, Artifacts: artifacts}, nil
}

// cloneGraph deep-copies the workflow so per-job overrides never leak
// into the shared template document.
func cloneGraph(graph map[string]any) (map[string]any, error) {
	data, err := json.Marshal(graph)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func setNodeInput(graph map[string]any, nodeID, input string, value any) error {
	node, ok := graph[nodeID].(map[string]any)
	if !ok {
		return fmt.Errorf("workflow has no node %q", nodeID)
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		return fmt.Errorf("workflow node %q has no inputs", nodeID)
	}
	inputs[input] = value
	return nil
}

func numericParam(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
