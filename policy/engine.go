// Package policy gates oracle actions with a Rego policy.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by Evaluate.
const (
	Allow           = "allow"
	Block           = "block"
	RequireApproval = "require_approval"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content. The
// module must define data.action_policy.result, either as a decision string or
// as an object with decision and reason.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.action_policy.result"),
		rego.Module("action_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy module from path.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks an action against the policy.
// Input is a map with keys tool_name, args, viewport and run_id.
// Returns: decision (allow, require_approval, block), reason (optional), error
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Allow, "no matching rule", nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return val, "", nil
	case map[string]interface{}:
		decision, _ := val["decision"].(string)
		reason, _ := val["reason"].(string)
		if decision == "" {
			return Allow, "policy returned no decision", nil
		}
		return decision, reason, nil
	}
	return Allow, "unexpected return type", nil
}

// DefaultPolicy blocks clicks with negative coordinates or outside the viewport.
const DefaultPolicy = `
package action_policy

default result = {"decision": "allow", "reason": ""}

result = {"decision": "block", "reason": "negative coordinates"} {
	input.tool_name == "click"
	negative
}

result = {"decision": "block", "reason": "outside the viewport"} {
	input.tool_name == "click"
	not negative
	beyond
}

negative {
	input.args.x < 0
}

negative {
	input.args.y < 0
}

beyond {
	input.args.x >= input.viewport.width
}

beyond {
	input.args.y >= input.viewport.height
}
`
