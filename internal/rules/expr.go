package rules

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Env holds shared state predicates are built against: the app timezone for
// hour-of-day rules and the CEL environment for expression rules.
type Env struct {
	Location *time.Location
	CEL      *cel.Env
}

// NewEnv creates a predicate environment. The CEL environment exposes one
// transaction per activation, with its derived window and velocity signals.
func NewEnv(timezone string) (*Env, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timezone %q: %v", ErrConfig, timezone, err)
		}
	}

	celEnv, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("mcc", cel.IntType),
		cel.Variable("risk_tier", cel.IntType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("tx_count_1h", cel.IntType),
		cel.Variable("tx_count_24h", cel.IntType),
		cel.Variable("geo_velocity_kmph", cel.DoubleType),
		cel.Variable("geo_velocity_known", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Env{Location: loc, CEL: celEnv}, nil
}

// exprPredicate evaluates a CEL expression per row. The expression is compiled
// when the rule loads, so syntax and type errors surface as configuration
// errors before any scoring run.
type exprPredicate struct {
	Expression string
	Program    cel.Program
	Location   *time.Location
}

func newExpr(name string, params Params, env *Env) (Predicate, error) {
	expression, err := params.str(name, "expression")
	if err != nil {
		return nil, err
	}
	if env == nil || env.CEL == nil {
		return nil, fmt.Errorf("%w: rule %s: expression rules need a CEL environment", ErrConfig, name)
	}

	ast, issues := env.CEL.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: rule %s: failed to compile expression: %v", ErrConfig, name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: rule %s: expression must return bool, got %s", ErrConfig, name, ast.OutputType())
	}

	program, err := env.CEL.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: failed to create program: %v", ErrConfig, name, err)
	}

	return &exprPredicate{
		Expression: expression,
		Program:    program,
		Location:   env.Location,
	}, nil
}

func (p *exprPredicate) Evaluate(batch *Batch) ([]bool, error) {
	counts1h := batch.WindowCounts(time.Hour)
	counts24h := batch.WindowCounts(24 * time.Hour)
	kmph, known := batch.PrevVelocity()
	hours := batch.LocalHours(p.Location)

	mask := make([]bool, len(batch.Rows))
	for i, r := range batch.Rows {
		activation := map[string]interface{}{
			"amount":             r.Amount,
			"mcc":                int64(r.MCC),
			"risk_tier":          int64(r.RiskTier),
			"channel":            string(r.Channel),
			"hour":               int64(hours[i]),
			"tx_count_1h":        int64(counts1h[i] - 1),
			"tx_count_24h":       int64(counts24h[i] - 1),
			"geo_velocity_kmph":  kmph[i],
			"geo_velocity_known": known[i],
		}

		out, _, err := p.Program.Eval(activation)
		if err != nil {
			return nil, fmt.Errorf("%w: tx %s: %v", ErrEvaluation, r.TxID, err)
		}
		mask[i] = out == types.True
	}

	return mask, nil
}
