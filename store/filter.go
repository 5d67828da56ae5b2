package store

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// Memory filters are small CEL expressions evaluated against row metadata,
// e.g. `recency_tier == "old" && intensity > 0.8`. They narrow audit
// listings and fallback searches without growing the Find struct for every
// new predicate.

// FilterError reports a problem with a caller-supplied filter expression,
// at compile or at evaluation time. Transports treat it as a client error.
type FilterError struct {
	Expr string
	Err  error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("invalid filter %q: %v", e.Expr, e.Err)
}

func (e *FilterError) Unwrap() error { return e.Err }

var (
	memoryFilterEnvOnce sync.Once
	memoryFilterEnv     *cel.Env
	memoryFilterEnvErr  error
)

func getMemoryFilterEnv() (*cel.Env, error) {
	memoryFilterEnvOnce.Do(func() {
		memoryFilterEnv, memoryFilterEnvErr = cel.NewEnv(
			cel.Variable("topics", cel.ListType(cel.StringType)),
			cel.Variable("entities", cel.ListType(cel.StringType)),
			cel.Variable("recency_tier", cel.StringType),
			cel.Variable("created_ts", cel.IntType),
			cel.Variable("intensity", cel.DoubleType),
			cel.Variable("has_tension", cel.BoolType),
		)
	})
	return memoryFilterEnv, memoryFilterEnvErr
}

// MemoryFilter is a compiled row predicate.
type MemoryFilter struct {
	expr    string
	program cel.Program
}

// CompileMemoryFilter compiles a CEL expression into a row predicate.
// Malformed expressions come back as *FilterError.
func CompileMemoryFilter(expr string) (*MemoryFilter, error) {
	env, err := getMemoryFilterEnv()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create filter env")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, &FilterError{Expr: expr, Err: issues.Err()}
	}
	if ast.OutputType() != cel.BoolType {
		return nil, &FilterError{Expr: expr, Err: errors.New("must evaluate to bool")}
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build filter program")
	}
	return &MemoryFilter{expr: expr, program: program}, nil
}

// Match evaluates the predicate against one memory item.
func (f *MemoryFilter) Match(item *MemoryItem) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{
		"topics":       item.Topics,
		"entities":     item.Entities,
		"recency_tier": string(item.RecencyTier),
		"created_ts":   item.CreatedTs,
		"intensity":    float64(item.Intensity),
		"has_tension":  item.HasTension,
	})
	if err != nil {
		return false, &FilterError{Expr: f.expr, Err: err}
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, &FilterError{Expr: f.expr, Err: errors.New("did not produce a bool")}
	}
	return matched, nil
}
