package template_test

import (
	"errors"
	"strings"
	"testing"

	"content-pipeline-service/internal/template"
)

const qwenTemplates = `{
  "templates": [
    {
      "id": "qwen_single",
      "supports_batch": false,
      "requires_input_image": true,
      "requires_mask": false,
      "parameters": [
        {"name": "steps", "kind": "int", "min": 1, "max": 50, "default": 20},
        {"name": "cfg", "kind": "float", "min": 1, "max": 20, "default": 4.0},
        {"name": "denoise", "kind": "float", "min": 0, "max": 1, "default": 0.75},
        {"name": "lora_strength", "kind": "float", "min": 0, "max": 2, "default": 0.5},
        {"name": "seed", "kind": "int", "default": -1}
      ]
    }
  ]
}`

func mustParse(t *testing.T, data string) *template.Registry {
	t.Helper()
	r, err := template.Parse([]byte(data))
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}
	return r
}

func TestValidate_EmptyCandidateResolvesFullDefaultSet(t *testing.T) {
	r := mustParse(t, qwenTemplates)

	resolved, err := r.Validate("qwen_single", map[string]any{})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	want := map[string]any{
		"steps":         int64(20),
		"cfg":           4.0,
		"denoise":       0.75,
		"lora_strength": 0.5,
		"seed":          int64(-1),
	}
	if len(resolved) != len(want) {
		t.Fatalf("expected %d params, got %d: %#v", len(want), len(resolved), resolved)
	}
	for k, v := range want {
		if resolved[k] != v {
			t.Fatalf("param %s: expected %v (%T), got %v (%T)", k, v, v, resolved[k], resolved[k])
		}
	}
}

func TestValidate_OutOfRangeCitesMax(t *testing.T) {
	r := mustParse(t, qwenTemplates)

	_, err := r.Validate("qwen_single", map[string]any{"steps": float64(75)})
	if err == nil {
		t.Fatal("expected out-of-range error")
	}

	var ipe *template.InvalidParamError
	if !errors.As(err, &ipe) {
		t.Fatalf("expected InvalidParamError, got %T: %v", err, err)
	}
	if ipe.Name != "steps" {
		t.Fatalf("expected param steps, got %s", ipe.Name)
	}
	if !strings.Contains(ipe.Reason, "50") {
		t.Fatalf("expected reason to cite max 50, got %q", ipe.Reason)
	}
}

func TestValidate_UnknownParameter(t *testing.T) {
	r := mustParse(t, qwenTemplates)

	_, err := r.Validate("qwen_single", map[string]any{"stepz": float64(10)})
	var ipe *template.InvalidParamError
	if !errors.As(err, &ipe) {
		t.Fatalf("expected InvalidParamError, got %v", err)
	}
	if ipe.Name != "stepz" || !strings.Contains(ipe.Reason, "unknown") {
		t.Fatalf("unexpected error: %v", ipe)
	}
}

func TestValidate_FloatForIntIsTypeMismatch(t *testing.T) {
	r := mustParse(t, qwenTemplates)

	_, err := r.Validate("qwen_single", map[string]any{"steps": 12.5})
	var ipe *template.InvalidParamError
	if !errors.As(err, &ipe) {
		t.Fatalf("expected InvalidParamError, got %v", err)
	}
	if !strings.Contains(ipe.Reason, "type mismatch") {
		t.Fatalf("expected type mismatch, got %q", ipe.Reason)
	}
}

func TestValidate_IntegralFloatAcceptedForInt(t *testing.T) {
	r := mustParse(t, qwenTemplates)

	// JSON decoding delivers every number as float64; 30 is still an int.
	resolved, err := r.Validate("qwen_single", map[string]any{"steps": float64(30)})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if resolved["steps"] != int64(30) {
		t.Fatalf("expected steps=30, got %v", resolved["steps"])
	}
}

func TestValidate_UnknownTemplate(t *testing.T) {
	r := mustParse(t, qwenTemplates)

	_, err := r.Validate("nope", nil)
	if !errors.Is(err, template.ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
}

func TestDefaults_ReturnsDeclaredDefaults(t *testing.T) {
	r := mustParse(t, qwenTemplates)

	d, err := r.Defaults("qwen_single")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if d["steps"] != int64(20) || d["cfg"] != 4.0 {
		t.Fatalf("unexpected defaults: %#v", d)
	}
}

func TestParse_RejectsDefaultOutsideRange(t *testing.T) {
	_, err := template.Parse([]byte(`{
      "templates": [{
        "id": "bad",
        "parameters": [{"name": "steps", "kind": "int", "min": 1, "max": 10, "default": 99}]
      }]
    }`))
	if err == nil {
		t.Fatal("expected load error for default above max")
	}
}

func TestParse_RejectsDuplicateTemplateID(t *testing.T) {
	_, err := template.Parse([]byte(`{
      "templates": [
        {"id": "t1", "parameters": []},
        {"id": "t1", "parameters": []}
      ]
    }`))
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
}
