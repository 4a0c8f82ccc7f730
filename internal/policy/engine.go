// Package policy maps SLO snapshots onto remediation actions.
package policy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-chaos/internal/slo"
)

// Policy is one declarative rule.
type Policy struct {
	Name      string         `yaml:"name" json:"name"`
	Condition map[string]any `yaml:"condition" json:"condition"`
	Actions   []string       `yaml:"actions" json:"actions"`
}

type policiesFile struct {
	Policies []Policy `yaml:"policies"`
}

// ParsePolicies decodes a `policies:` document.
func ParsePolicies(data []byte) ([]Policy, error) {
	var doc policiesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policies: %w", err)
	}
	for idx, p := range doc.Policies {
		if p.Name == "" {
			return nil, fmt.Errorf("policy %d: name is required", idx)
		}
	}
	return doc.Policies, nil
}

// LoadPolicies reads policies from path. A missing file yields no policies.
func LoadPolicies(path string) ([]Policy, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policies: %w", err)
	}
	return ParsePolicies(data)
}

type compiledPolicy struct {
	Policy
	kinds []ActionKind
}

// Engine evaluates policies in declared order.
type Engine struct {
	policies []compiledPolicy
	actions  Executor
	logger   *slog.Logger
}

// NewEngine compiles the policy list against an executor.
func NewEngine(policies []Policy, actions Executor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	compiled := make([]compiledPolicy, 0, len(policies))
	for _, p := range policies {
		cp := compiledPolicy{Policy: p, kinds: make([]ActionKind, 0, len(p.Actions))}
		for _, name := range p.Actions {
			kind := ParseAction(name)
			if kind == ActionUnknown {
				logger.Warn("unknown policy action ignored", slog.String("policy", p.Name), slog.String("action", name))
			}
			cp.kinds = append(cp.kinds, kind)
		}
		compiled = append(compiled, cp)
	}
	return &Engine{policies: compiled, actions: actions, logger: logger}
}

// Policies returns the loaded rules.
func (e *Engine) Policies() []Policy {
	out := make([]Policy, 0, len(e.policies))
	for _, p := range e.policies {
		out = append(out, p.Policy)
	}
	return out
}

// Evaluate fires the actions of every matching policy and returns the names
// of the policies that matched. A failing action stops the rest of its own
// policy only.
func (e *Engine) Evaluate(ctx context.Context, snapshot slo.Snapshot) []string {
	var applied []string
	for _, p := range e.policies {
		if !matches(p.Condition, snapshot) {
			continue
		}
		for _, kind := range p.kinds {
			if err := e.actions.Execute(ctx, kind); err != nil {
				e.logger.Error("policy action failed", slog.String("policy", p.Name), slog.String("action", kind.String()), slog.Any("error", err))
				break
			}
		}
		applied = append(applied, p.Name)
	}
	return applied
}

func matches(condition map[string]any, snapshot slo.Snapshot) bool {
	for key, want := range condition {
		got, ok := snapshot[key]
		if !ok || !equal(want, got) {
			return false
		}
	}
	return true
}

func equal(want, got any) bool {
	if wf, ok := toFloat(want); ok {
		gf, ok := toFloat(got)
		return ok && wf == gf
	}
	return want == got
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
