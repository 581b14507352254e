package pdp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/agent-gate/agentgate/internal/domain/policy"
	"github.com/agent-gate/agentgate/internal/domain/urlpolicy"
)

// maxCostBudget caps CEL runtime cost per evaluation so a pathological rule
// cannot stall the request path.
const maxCostBudget = 100_000

// evalTimeout bounds a single rule evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// defaultCacheSize bounds the decision cache.
const defaultCacheSize = 1024

// compiledRule pairs a rule with its compiled CEL program.
type compiledRule struct {
	rule Rule
	prg  cel.Program
}

// Engine is the embedded PDP: the ordered rule set of the bundle, compiled
// once at construction and evaluated first-match per decision. Evaluation
// errors surface as Go errors; the engine never falls back to allow.
type Engine struct {
	bundle *Bundle
	rules  []compiledRule
	cache  *decisionCache
}

var _ policy.Decider = (*Engine)(nil)

// newEnv builds the CEL environment for rule conditions. All request facts
// arrive as maps so the rule file stays decoupled from Go types.
func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),
		cel.Variable("tool", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("taint", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("risk", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("env", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("url", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("limits", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// NewEngine compiles the bundle's rules. A rule that fails to compile is a
// construction error, not a runtime one.
func NewEngine(bundle *Bundle) (*Engine, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("create policy environment: %w", err)
	}

	rules := make([]compiledRule, 0, len(bundle.Rules))
	for _, r := range bundle.Rules {
		ast, issues := env.Compile(r.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %q: compile condition: %w", r.Name, issues.Err())
		}
		prg, err := env.Program(ast,
			cel.EvalOptions(cel.OptOptimize),
			cel.CostLimit(maxCostBudget),
			cel.InterruptCheckFrequency(interruptCheckFreq),
		)
		if err != nil {
			return nil, fmt.Errorf("rule %q: build program: %w", r.Name, err)
		}
		rules = append(rules, compiledRule{rule: r, prg: prg})
	}

	return &Engine{
		bundle: bundle,
		rules:  rules,
		cache:  newDecisionCache(defaultCacheSize),
	}, nil
}

// Bundle returns the loaded policy bundle.
func (e *Engine) Bundle() *Bundle { return e.bundle }

// Decide evaluates the rule chain against the input document. The first
// matching rule wins; with no match the request is allowed with reason
// policy_allows.
func (e *Engine) Decide(ctx context.Context, in policy.Input) (policy.Decision, error) {
	key, cacheable := cacheKey(in)
	if cacheable {
		if d, ok := e.cache.Get(key); ok {
			return d, nil
		}
	}

	activation := e.activation(in)
	ablation := in.Ablation.Map()

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	decision := policy.Decision{Allow: true, Reason: policy.ReasonPolicyAllows}
	for _, cr := range e.rules {
		if cr.rule.DisabledBy != "" {
			if off, _ := ablation[cr.rule.DisabledBy].(bool); off {
				continue
			}
		}

		out, _, err := cr.prg.ContextEval(evalCtx, activation)
		if err != nil {
			return policy.Decision{}, fmt.Errorf("rule %q: evaluate: %w", cr.rule.Name, err)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return policy.Decision{}, fmt.Errorf("rule %q: condition returned %T, want bool", cr.rule.Name, out.Value())
		}
		if !matched {
			continue
		}

		switch cr.rule.Effect {
		case EffectDeny:
			decision = policy.Decision{Allow: false, Reason: cr.rule.Reason}
		case EffectApproval:
			decision = policy.Decision{Allow: false, RequiresApproval: true, Reason: cr.rule.Reason}
		case EffectAllow:
			decision = policy.Decision{Allow: true, Reason: cr.rule.Reason}
		}
		break
	}

	if cacheable {
		e.cache.Put(key, decision)
	}
	return decision, nil
}

// activation renders the input document as the CEL variable set. URL facts
// are precomputed here so rule conditions stay structural.
func (e *Engine) activation(in policy.Input) map[string]any {
	args := in.Args
	if args == nil {
		args = map[string]any{}
	}
	rawURL, _ := args["url"].(string)
	facts := urlpolicy.Inspect(rawURL, in.Env.AllowedDomains, e.bundle.Data.URLPathAllowlist)

	return map[string]any{
		"tool": in.Tool,
		"args": args,
		"taint": map[string]any{
			"from_user":       in.Taint.FromUser,
			"from_retrieved":  in.Taint.FromRetrieved,
			"contains_canary": in.Taint.ContainsCanary,
		},
		"risk": map[string]any{
			"tool_risk":        in.Risk.ToolRisk,
			"high_risk_action": in.Risk.HighRiskAction,
			"risk_score":       in.Risk.RiskScore,
		},
		"env": map[string]any{
			"allowed_domains":         in.Env.AllowedDomains,
			"allowed_ticket_projects": in.Env.AllowedTicketProjects,
		},
		"url":    facts.Map(),
		"limits": map[string]any{"max_ticket_body_chars": e.bundle.Data.MaxTicketBodyChars},
	}
}
