// Package policy decides, through OPA, how a timed-out execution is handled.
package policy

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/open-policy-agent/opa/rego"
)

type Decision string

const (
	// DecisionFail finalizes the execution as FAILED with a timeout error.
	DecisionFail Decision = "fail"
	// DecisionEscalate force-terminates the target before finalizing.
	DecisionEscalate Decision = "escalate"
)

// Engine is the OPA escalation policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine prepares the policy module for evaluation.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.escalation.decision"),
		rego.Module("escalation.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine reads a policy file, falling back to DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	content := DefaultPolicy
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
		}
		content = string(data)
	}
	return NewEngine(ctx, content)
}

// Decide evaluates the policy for a timed-out execution of kind against target.
// A nil engine, or a policy yielding no usable decision, uses Fallback.
func (e *Engine) Decide(ctx context.Context, kind, target string) (Decision, error) {
	if e == nil {
		return Fallback(kind), nil
	}

	input := map[string]interface{}{
		"kind":   kind,
		"target": target,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Fallback(kind), fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Fallback(kind), nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		switch Decision(s) {
		case DecisionFail, DecisionEscalate:
			return Decision(s), nil
		}
	}
	return Fallback(kind), nil
}

var terminationPrefixes = []string{"stop-", "kill-", "terminate-"}

// Fallback escalates stop, kill and terminate kinds and fails everything else.
func Fallback(kind string) Decision {
	k := strings.ToLower(kind)
	for _, p := range terminationPrefixes {
		if strings.HasPrefix(k, p) {
			return DecisionEscalate
		}
	}
	return DecisionFail
}

// DefaultPolicy escalates termination-class kinds.
const DefaultPolicy = `
package escalation

default decision = "fail"

decision = "escalate" {
	startswith(input.kind, "stop-")
}

decision = "escalate" {
	startswith(input.kind, "kill-")
}

decision = "escalate" {
	startswith(input.kind, "terminate-")
}
`
