package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rendis/statecascade/pkg/schema"
)

// CELEngine implements the Engine interface using Google's Common Expression Language.
// It evaluates schedule guard conditions.
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// celVariables are the top-level variables of a guard expression:
//   - item:     map(string, dyn) built by ItemData
//   - schedule: map(string, dyn) with id, root_id, state_name, actor
var celVariables = []string{"item", "schedule"}

// NewCELEngine creates a new CEL expression engine with a sandboxed environment.
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	opts := make([]cel.EnvOption, 0, len(celVariables))
	for _, name := range celVariables {
		opts = append(opts, cel.Variable(name, mapType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates it
// against data.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, buildActivation(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out.Value(), nil
}

// EvaluateBool evaluates a guard. An empty expression is true; a non-boolean
// result is an error.
func (e *CELEngine) EvaluateBool(ctx context.Context, expression string, data map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExpression,
			"condition %q returned %T, want bool", expression, out).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}

// Check compiles expression without evaluating it.
func (e *CELEngine) Check(expression string) error {
	if expression == "" {
		return nil
	}
	_, err := e.getOrCompile(expression)
	return err
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// buildActivation fills missing variables with empty maps so that guards never
// hit a missing-attribute error on the top-level name.
func buildActivation(data map[string]any) map[string]any {
	activation := make(map[string]any, len(celVariables))
	for _, key := range celVariables {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}
	return activation
}

// ItemData converts an item into the map exposed to guards as `item`. Field
// values are keyed by field name.
func ItemData(item *schema.Item) map[string]any {
	fields := make(map[string]any, len(item.Fields))
	for _, f := range item.Fields {
		fields[f.Name] = f.Value
	}
	return map[string]any{
		"id":                item.ID,
		"name":              item.Name,
		"parent_id":         item.ParentID,
		"locked":            item.Locked,
		"locked_by":         item.LockedBy,
		"read_only":         item.ReadOnly,
		"workflow_id":       item.WorkflowID,
		"workflow_state_id": item.WorkflowStateID,
		"revision":          item.Revision,
		"fields":            fields,
	}
}
