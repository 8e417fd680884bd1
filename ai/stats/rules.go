package stats

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Rule is a CEL boolean expression over the aggregates. Message is reported when it holds.
//
// Available variables: local_success_rate, remote_success_rate, average_confidence,
// average_processing_seconds, cost_savings_usd, remote_spend_usd, remote_budget_usd (double)
// and local_attempts, remote_attempts, total_attempts (int).
type Rule struct {
	Name       string `json:"name" mapstructure:"name"`
	Expression string `json:"expression" mapstructure:"expression"`
	Message    string `json:"message" mapstructure:"message"`
}

// DefaultRules returns the built-in recommendations.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "increase_remote_usage",
			Expression: "local_attempts > 0 && local_success_rate < 0.7 && remote_success_rate > 0.9",
			Message:    "Consider increasing remote usage: local processing succeeds less than 70% of the time while remote exceeds 90%.",
		},
		{
			Name:       "hybrid_verification",
			Expression: "total_attempts > 0 && average_confidence < 0.8",
			Message:    "Consider hybrid verification: average confidence is below 0.8.",
		},
		{
			Name:       "slow_processing",
			Expression: "total_attempts > 0 && average_processing_seconds > 3.0",
			Message:    "Processing averages over 3 seconds; a local-first strategy may respond faster.",
		},
		{
			Name:       "remote_unreliable",
			Expression: "remote_attempts >= 5 && remote_success_rate < 0.5",
			Message:    "Remote processing fails more than half the time; check connectivity and credentials.",
		},
		{
			Name:       "remote_budget",
			Expression: "remote_budget_usd > 0.0 && remote_spend_usd > remote_budget_usd",
			Message:    "Remote spend is over budget; consider a local-first strategy.",
		},
	}
}

type compiledRule struct {
	rule Rule
	prg  cel.Program
}

// RuleSet is a compiled, immutable list of rules.
type RuleSet struct {
	rules []compiledRule
}

func ruleEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("local_success_rate", cel.DoubleType),
		cel.Variable("remote_success_rate", cel.DoubleType),
		cel.Variable("average_confidence", cel.DoubleType),
		cel.Variable("average_processing_seconds", cel.DoubleType),
		cel.Variable("cost_savings_usd", cel.DoubleType),
		cel.Variable("remote_spend_usd", cel.DoubleType),
		cel.Variable("remote_budget_usd", cel.DoubleType),
		cel.Variable("local_attempts", cel.IntType),
		cel.Variable("remote_attempts", cel.IntType),
		cel.Variable("total_attempts", cel.IntType),
	)
}

// CompileRules type-checks every rule and requires a boolean result.
func CompileRules(rules []Rule) (*RuleSet, error) {
	env, err := ruleEnv()
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	rs := &RuleSet{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %s: expression must be boolean, got %s", r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		rs.rules = append(rs.rules, compiledRule{rule: r, prg: prg})
	}
	return rs, nil
}

// Evaluate returns the messages of every rule that holds for a. Rules that fail to
// evaluate are skipped and reported in the joined error.
func (rs *RuleSet) Evaluate(a Aggregates, budgetUSD float64) ([]string, error) {
	vars := map[string]any{
		"local_success_rate":         a.Local.SuccessRate,
		"remote_success_rate":        a.Remote.SuccessRate,
		"average_confidence":         a.AverageConfidence,
		"average_processing_seconds": a.AverageProcessingTime.Seconds(),
		"cost_savings_usd":           a.CostSavingsUSD,
		"remote_spend_usd":           a.RemoteSpendUSD,
		"remote_budget_usd":          budgetUSD,
		"local_attempts":             a.Local.Attempts,
		"remote_attempts":            a.Remote.Attempts,
		"total_attempts":             a.TotalAttempts,
	}

	var (
		out  []string
		errs []error
	)
	for _, r := range rs.rules {
		val, _, err := r.prg.Eval(vars)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", r.rule.Name, err))
			continue
		}
		if hit, ok := val.Value().(bool); ok && hit {
			out = append(out, r.rule.Message)
		}
	}
	return out, errors.Join(errs...)
}
