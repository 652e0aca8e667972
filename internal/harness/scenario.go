package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/modcall/internal/dispatch"
)

// Scenario is a scripted conversation: agent turns fed to a dispatcher,
// with the outcomes each turn must produce and assertions over the run.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Declarations lists .cue/.yaml files or directories with extra module
	// declarations. Paths are relative to the scenario file.
	Declarations []string `yaml:"declarations,omitempty"`

	// Builtins registers the reference modules. Defaults to true.
	Builtins *bool `yaml:"builtin_modules,omitempty"`

	// ExtraFields is the dispatcher's extra-field policy.
	ExtraFields string `yaml:"extra_fields,omitempty"`

	// Concurrency caps handlers in flight per turn. Defaults to 1.
	Concurrency int `yaml:"concurrency,omitempty"`

	// MaxSpans caps spans per turn. Defaults to the dispatcher's default.
	MaxSpans int `yaml:"max_spans,omitempty"`

	// TurnToken prefixes the fixed turn tokens ("<token>-1", "<token>-2", ...).
	// Defaults to "test-turn".
	TurnToken string `yaml:"turn_token,omitempty"`

	// Mocks answer commands of modules without a built-in handler.
	Mocks []Mock `yaml:"mocks,omitempty"`

	// Turns are fed to the dispatcher in order.
	Turns []Turn `yaml:"turns"`

	// Assertions validate the whole run.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Mock is a canned handler answer for one command.
type Mock struct {
	Module  string `yaml:"module"`
	Command string `yaml:"command"`

	// Response is returned as-is; it still has to match the response schema.
	Response map[string]any `yaml:"response,omitempty"`

	// Error, when set, makes the handler fail with this message.
	Error string `yaml:"error,omitempty"`
}

// Turn is one agent message.
type Turn struct {
	// Text is the raw agent output, spans and prose alike.
	Text string `yaml:"text"`

	// Expect lists the outcome of every span, in order. When empty, the
	// turn's outcomes are not checked.
	Expect []Expect `yaml:"expect,omitempty"`
}

// Expect describes one span outcome. Empty fields are not checked.
type Expect struct {
	// State is completed or failed. Defaults to failed when Kind is set and
	// completed otherwise.
	State string `yaml:"state,omitempty"`

	Kind    string `yaml:"kind,omitempty"`
	Module  string `yaml:"module,omitempty"`
	Command string `yaml:"command,omitempty"`
	Field   string `yaml:"field,omitempty"`

	// ReasonContains is a substring the failure reason must contain.
	ReasonContains string `yaml:"reason_contains,omitempty"`

	// Response is a subset match against the handler response.
	Response map[string]any `yaml:"response,omitempty"`
}

// Assertion validates the trace, the user outbox, or the knowledge base.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is "Module.Command" (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Kind restricts trace_contains to outcomes of this kind; "ok" means
	// completed.
	Kind string `yaml:"kind,omitempty"`

	// Response is a subset match (trace_contains).
	Response map[string]any `yaml:"response,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Text is a substring of the outbox (outbox_contains) or the expected
	// entry text (knowledge_entry).
	Text string `yaml:"text,omitempty"`

	// Key is a knowledge-base key (knowledge_entry).
	Key string `yaml:"key,omitempty"`

	// Absent asserts the key is not stored (knowledge_entry).
	Absent bool `yaml:"absent,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains  = "trace_contains"
	AssertTraceOrder     = "trace_order"
	AssertTraceCount     = "trace_count"
	AssertOutboxContains = "outbox_contains"
	AssertKnowledgeEntry = "knowledge_entry"
)

// LoadScenario reads and parses a scenario YAML file. Declaration paths
// resolve against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving declaration paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	for i, p := range scenario.Declarations {
		if !filepath.IsAbs(p) && basePath != "" {
			scenario.Declarations[i] = filepath.Join(basePath, p)
		}
	}
	for _, p := range scenario.Declarations {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("invalid scenario: declarations not found: %s", p)
		}
	}

	return scenario, nil
}

// ParseScenario decodes a scenario document. Unknown fields are rejected
// so typos like "assertion:" fail loudly.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml and *.yml scenario in dir, sorted by
// file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// builtins reports whether the reference modules are registered.
func (s *Scenario) builtins() bool {
	return s.Builtins == nil || *s.Builtins
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Turns) == 0 {
		return fmt.Errorf("turns list is required and must be non-empty")
	}
	if !s.builtins() && len(s.Declarations) == 0 {
		return fmt.Errorf("declarations are required when builtin_modules is false")
	}
	if _, err := dispatch.ParseExtraFields(s.ExtraFields); err != nil {
		return err
	}
	if s.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative")
	}

	for i, m := range s.Mocks {
		if m.Module == "" || m.Command == "" {
			return fmt.Errorf("mocks[%d]: module and command are required", i)
		}
		if m.Response == nil && m.Error == "" {
			return fmt.Errorf("mocks[%d]: response or error is required", i)
		}
	}

	for i, turn := range s.Turns {
		if strings.TrimSpace(turn.Text) == "" {
			return fmt.Errorf("turns[%d]: text is required", i)
		}
		for j, e := range turn.Expect {
			switch e.State {
			case "", string(dispatch.StateCompleted), string(dispatch.StateFailed):
			default:
				return fmt.Errorf("turns[%d].expect[%d]: state must be completed or failed, got %q", i, j, e.State)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertOutboxContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for outbox_contains", index)
		}
	case AssertKnowledgeEntry:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for knowledge_entry", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
