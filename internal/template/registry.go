package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
)

var ErrUnknownTemplate = errors.New("unknown template")

type ParamKind string

const (
	KindInt    ParamKind = "int"
	KindFloat  ParamKind = "float"
	KindString ParamKind = "string"
)

// ParameterSpec declares one configurable parameter of a job template.
// Immutable once loaded.
type ParameterSpec struct {
	Name    string    `json:"name"`
	Kind    ParamKind `json:"kind"`
	Min     *float64  `json:"min,omitempty"`
	Max     *float64  `json:"max,omitempty"`
	Default any       `json:"default"`
}

type JobTemplate struct {
	ID                 string          `json:"id"`
	Parameters         []ParameterSpec `json:"parameters"`
	SupportsBatch      bool            `json:"supports_batch"`
	RequiresInputImage bool            `json:"requires_input_image"`
	RequiresMask       bool            `json:"requires_mask"`
}

// InvalidParamError: причина всегда одна из unknown/type/range.
type InvalidParamError struct {
	Name   string
	Reason string
}

func (e *InvalidParamError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Name, e.Reason)
}

// Registry holds the declarative template set, loaded once at startup
// and read-only thereafter.
type Registry struct {
	templates map[string]JobTemplate
}

type templateFile struct {
	Templates []JobTemplate `json:"templates"`
}

func Parse(data []byte) (*Registry, error) {
	var f templateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	r := &Registry{templates: make(map[string]JobTemplate, len(f.Templates))}
	for _, t := range f.Templates {
		if t.ID == "" {
			return nil, errors.New("template with empty id")
		}
		if _, ok := r.templates[t.ID]; ok {
			return nil, fmt.Errorf("duplicate template id %q", t.ID)
		}
		for _, p := range t.Parameters {
			if err := checkSpec(p); err != nil {
				return nil, fmt.Errorf("template %q: %w", t.ID, err)
			}
		}
		r.templates[t.ID] = t
	}
	return r, nil
}

func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// checkSpec enforces min <= default <= max at load time so a bad template
// definition fails at startup, not at submission time.
func checkSpec(p ParameterSpec) error {
	switch p.Kind {
	case KindInt, KindFloat, KindString:
	default:
		return fmt.Errorf("parameter %q: unsupported kind %q", p.Name, p.Kind)
	}

	if p.Kind == KindString {
		if _, ok := p.Default.(string); !ok {
			return fmt.Errorf("parameter %q: default is not a string", p.Name)
		}
		return nil
	}

	def, ok := numeric(p.Default)
	if !ok {
		return fmt.Errorf("parameter %q: default is not numeric", p.Name)
	}
	if p.Kind == KindInt && !isIntegral(def) {
		return fmt.Errorf("parameter %q: default is not an integer", p.Name)
	}
	if p.Min != nil && def < *p.Min {
		return fmt.Errorf("parameter %q: default %v below min %v", p.Name, p.Default, *p.Min)
	}
	if p.Max != nil && def > *p.Max {
		return fmt.Errorf("parameter %q: default %v above max %v", p.Name, p.Default, *p.Max)
	}
	return nil
}

func (r *Registry) Get(id string) (JobTemplate, error) {
	t, ok := r.templates[id]
	if !ok {
		return JobTemplate{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}
	return t, nil
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Defaults returns the declared default set, used to pre-populate forms.
func (r *Registry) Defaults(id string) (map[string]any, error) {
	t, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}
	out := make(map[string]any, len(t.Parameters))
	for _, p := range t.Parameters {
		out[p.Name] = normalize(p.Kind, p.Default)
	}
	return out, nil
}

// Validate checks a candidate parameter set against the template's declared
// specs and fills absent parameters from defaults. Pure; no partial result
// is returned on error.
func (r *Registry) Validate(id string, candidate map[string]any) (map[string]any, error) {
	t, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}

	specs := make(map[string]ParameterSpec, len(t.Parameters))
	for _, p := range t.Parameters {
		specs[p.Name] = p
	}

	for name := range candidate {
		if _, ok := specs[name]; !ok {
			return nil, &InvalidParamError{Name: name, Reason: "unknown parameter"}
		}
	}

	resolved := make(map[string]any, len(t.Parameters))
	for _, p := range t.Parameters {
		raw, supplied := candidate[p.Name]
		if !supplied {
			resolved[p.Name] = normalize(p.Kind, p.Default)
			continue
		}

		switch p.Kind {
		case KindString:
			s, ok := raw.(string)
			if !ok {
				return nil, &InvalidParamError{Name: p.Name, Reason: "type mismatch: want string"}
			}
			resolved[p.Name] = s

		case KindInt:
			v, ok := numeric(raw)
			if !ok || !isIntegral(v) {
				return nil, &InvalidParamError{Name: p.Name, Reason: "type mismatch: want int"}
			}
			if err := checkRange(p, v); err != nil {
				return nil, err
			}
			resolved[p.Name] = int64(v)

		case KindFloat:
			v, ok := numeric(raw)
			if !ok {
				return nil, &InvalidParamError{Name: p.Name, Reason: "type mismatch: want float"}
			}
			if err := checkRange(p, v); err != nil {
				return nil, err
			}
			resolved[p.Name] = v
		}
	}
	return resolved, nil
}

func checkRange(p ParameterSpec, v float64) error {
	// границы включительно с обеих сторон
	if p.Min != nil && v < *p.Min {
		return &InvalidParamError{Name: p.Name, Reason: fmt.Sprintf("out of range: %v below min %v", trimFloat(v), trimFloat(*p.Min))}
	}
	if p.Max != nil && v > *p.Max {
		return &InvalidParamError{Name: p.Name, Reason: fmt.Sprintf("out of range: %v above max %v", trimFloat(v), trimFloat(*p.Max))}
	}
	return nil
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func isIntegral(v float64) bool {
	return v == math.Trunc(v)
}

// normalize keeps int defaults as int64 so resolved maps are uniform
// regardless of whether a value came from JSON or from the default.
func normalize(kind ParamKind, def any) any {
	if kind == KindInt {
		if v, ok := numeric(def); ok {
			return int64(v)
		}
	}
	if kind == KindFloat {
		if v, ok := numeric(def); ok {
			return v
		}
	}
	return def
}

func trimFloat(v float64) any {
	if isIntegral(v) {
		return int64(v)
	}
	return v
}
