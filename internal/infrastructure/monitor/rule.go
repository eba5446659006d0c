// Package monitor watches usage of the active series and raises near-limit alerts.
package monitor

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"orseries/internal/domain/series"
)

// Rule is a compiled CEL expression evaluated against series statistics.
//
// Available variables:
//
//	series_id, current_number, start_number, end_number, remaining_numbers  int
//	series_name                                                            string
//	usage_percentage                                                       double
//	unlimited, is_near_limit, has_reached_limit                            bool
//
// For unlimited series end_number is 0 and remaining_numbers is -1.
type Rule struct {
	source string
	prg    cel.Program
}

// CompileRule parses and type-checks expr. The expression must yield a bool.
func CompileRule(expr string) (*Rule, error) {
	env, err := cel.NewEnv(
		cel.Variable("series_id", cel.IntType),
		cel.Variable("series_name", cel.StringType),
		cel.Variable("current_number", cel.IntType),
		cel.Variable("start_number", cel.IntType),
		cel.Variable("end_number", cel.IntType),
		cel.Variable("remaining_numbers", cel.IntType),
		cel.Variable("usage_percentage", cel.DoubleType),
		cel.Variable("unlimited", cel.BoolType),
		cel.Variable("is_near_limit", cel.BoolType),
		cel.Variable("has_reached_limit", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile alert rule %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("alert rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build alert rule program: %w", err)
	}
	return &Rule{source: expr, prg: prg}, nil
}

// String returns the rule source.
func (r *Rule) String() string {
	return r.source
}

// Matches evaluates the rule for stats.
func (r *Rule) Matches(stats series.Statistics) (bool, error) {
	out, _, err := r.prg.Eval(activation(stats))
	if err != nil {
		return false, fmt.Errorf("evaluate alert rule: %w", err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("alert rule returned %T", out.Value())
	}
	return matched, nil
}

func activation(stats series.Statistics) map[string]any {
	vars := map[string]any{
		"series_id":         stats.SeriesID,
		"series_name":       stats.SeriesName,
		"current_number":    stats.CurrentNumber,
		"start_number":      stats.StartNumber,
		"end_number":        int64(0),
		"remaining_numbers": int64(-1),
		"usage_percentage":  stats.UsagePercentage,
		"unlimited":         stats.EndNumber == nil,
		"is_near_limit":     stats.IsNearLimit,
		"has_reached_limit": stats.HasReachedLimit,
	}
	if stats.EndNumber != nil {
		vars["end_number"] = *stats.EndNumber
	}
	if stats.RemainingNumbers != nil {
		vars["remaining_numbers"] = *stats.RemainingNumbers
	}
	return vars
}
