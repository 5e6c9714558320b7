// Package plan provides test-plan document loading and validation.
// a plan is the payload of a submission; the reconciliation core treats it as
// opaque, so all structural checks happen here before anything is sent.
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// step kinds understood by the remote engine.
const (
	KindHTTP    = "http"
	KindGraphQL = "graphql"
)

// ErrEmptyPlan is returned for a plan with no steps.
var ErrEmptyPlan = errors.New("plan has no steps")

// ParseError indicates the caller-supplied plan payload is not well-formed.
// it is distinct from transport errors so callers can tell "fix your plan"
// apart from "the server rejected the request".
type ParseError struct {
	Path string // source file, empty when parsed from memory
	Err  error
}

// Error returns the formatted error message.
func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("parse plan %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("parse plan: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error { return e.Err }

// Document is one test plan.
type Document struct {
	Name  string            `yaml:"name" json:"name"`
	Vars  map[string]string `yaml:"vars,omitempty" json:"vars,omitempty"`
	Steps []Step            `yaml:"steps" json:"steps"`
}

// StepCount returns the number of steps in the plan.
func (d *Document) StepCount() int { return len(d.Steps) }

// Step is one unit of action, assertions and extraction within a plan.
type Step struct {
	ID          string            `yaml:"id" json:"id"`
	Kind        string            `yaml:"kind" json:"kind"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Method      string            `yaml:"method,omitempty" json:"method,omitempty"`
	URL         string            `yaml:"url,omitempty" json:"url,omitempty"`
	Query       string            `yaml:"query,omitempty" json:"query,omitempty"` // graphql query/mutation body
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body        any               `yaml:"body,omitempty" json:"body,omitempty"`
	Expect      *Expect           `yaml:"expect,omitempty" json:"expect,omitempty"`
	Extract     map[string]string `yaml:"extract,omitempty" json:"extract,omitempty"` // var name -> json path
}

// Expect holds step assertions.
type Expect struct {
	Status   int    `yaml:"status,omitempty" json:"status,omitempty"`
	Contains string `yaml:"contains,omitempty" json:"contains,omitempty"`
	JSONPath string `yaml:"json_path,omitempty" json:"json_path,omitempty"`
	Equals   any    `yaml:"equals,omitempty" json:"equals,omitempty"`
}

// Load reads and parses a plan file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the user's command line
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	doc, err := Parse(data)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Path = path
		}
		return nil, err
	}
	return doc, nil
}

// Parse decodes plan YAML strictly; unknown fields are rejected so typos in
// step definitions fail fast instead of being silently dropped server-side.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Err: ErrEmptyPlan}
		}
		return nil, &ParseError{Err: err}
	}

	if err := doc.Validate(); err != nil {
		return nil, &ParseError{Err: err}
	}
	return &doc, nil
}

// Validate checks structural rules: at least one step, unique non-empty step
// ids, known kinds, and per-kind required fields.
func (d *Document) Validate() error {
	if len(d.Steps) == 0 {
		return ErrEmptyPlan
	}

	seen := make(map[string]struct{}, len(d.Steps))
	for i, st := range d.Steps {
		if st.ID == "" {
			return fmt.Errorf("step %d: missing id", i)
		}
		if _, ok := seen[st.ID]; ok {
			return fmt.Errorf("step %d: duplicate id %q", i, st.ID)
		}
		seen[st.ID] = struct{}{}

		switch st.Kind {
		case KindHTTP:
			if st.Method == "" {
				return fmt.Errorf("step %q: http step requires method", st.ID)
			}
			if st.URL == "" {
				return fmt.Errorf("step %q: http step requires url", st.ID)
			}
		case KindGraphQL:
			if st.URL == "" {
				return fmt.Errorf("step %q: graphql step requires url", st.ID)
			}
			if strings.TrimSpace(st.Query) == "" {
				return fmt.Errorf("step %q: graphql step requires query", st.ID)
			}
		case "":
			return fmt.Errorf("step %q: missing kind", st.ID)
		default:
			return fmt.Errorf("step %q: unknown kind %q", st.ID, st.Kind)
		}
	}
	return nil
}
