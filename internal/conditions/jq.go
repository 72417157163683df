package conditions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/gridhaus/leadflow/pkg/schema"
)

// GoJQEngine implements the Engine interface using GoJQ, selectable per
// workflow with condition_language "jq". The environment map is the jq input
// object, so a predicate looks like `.lead.score >= 70`.
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type GoJQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewGoJQEngine creates a new GoJQ condition engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{
		cache: make(map[string]*gojq.Code),
	}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string {
	return "jq"
}

// Evaluate compiles (or retrieves from cache) a jq expression and evaluates it
// against the provided data. Integer values are normalized to float64 first,
// matching jq's native number handling. The first output is returned.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code := e.cached(expression)
	if code == nil {
		var err error
		code, err = e.compile(expression)
		if err != nil {
			return nil, err
		}
	}

	input, ok := normalizeForJQ(data).(map[string]any)
	if !ok {
		input = map[string]any{}
	}

	iter := code.RunWithContext(ctx, input)

	val, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if evalErr, isErr := val.(error); isErr {
		return nil, schema.NewErrorf(schema.ErrCodeEvaluator,
			"jq evaluation failed for %q: %s", expression, evalErr.Error()).
			WithCause(evalErr).
			WithDetails(map[string]any{"expression": expression})
	}
	return val, nil
}

func (e *GoJQEngine) cached(expression string) *gojq.Code {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache[expression]
}

func (e *GoJQEngine) compile(expression string) (*gojq.Code, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = code
	return code, nil
}

// normalizeForJQ converts Go native types to jq-compatible types.
// jq uses float64 for all numbers.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeForJQ(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeForJQ(v)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ Engine = (*GoJQEngine)(nil)
