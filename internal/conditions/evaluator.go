package conditions

import (
	"context"
	"log/slog"

	"github.com/gridhaus/leadflow/internal/store"
	"github.com/gridhaus/leadflow/pkg/schema"
)

// DefaultLanguage is used when a workflow does not name a condition language.
const DefaultLanguage = "expr"

// Evaluator is the boolean gate deciding whether an execution may be created.
// It resolves the workflow's predicate language to an engine and evaluates the
// predicate against the lead snapshot and trigger payload.
//
// Callers must treat any returned error as "condition not met" (fail closed).
type Evaluator struct {
	engines map[string]Engine
	logger  *slog.Logger
}

// NewEvaluator creates an Evaluator with all three engines registered.
func NewEvaluator(logger *slog.Logger) (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	engines := map[string]Engine{}
	for _, e := range []Engine{NewExprEngine(), celEngine, NewGoJQEngine()} {
		engines[e.Name()] = e
	}
	return &Evaluator{engines: engines, logger: logger}, nil
}

// Evaluate runs the workflow's condition predicate for the given lead snapshot.
// An empty predicate is vacuously true. A non-boolean result is an error; the
// caller fails closed on it.
func (ev *Evaluator) Evaluate(ctx context.Context, wf *store.Workflow, snap *schema.LeadSnapshot, trigger *schema.Trigger) (bool, error) {
	if wf.ConditionExpr == "" {
		return true, nil
	}

	lang := wf.ConditionLanguage
	if lang == "" {
		lang = DefaultLanguage
	}
	engine, ok := ev.engines[lang]
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeEvaluator,
			"unknown condition language %q", lang).
			WithDetails(map[string]any{"workflow_id": wf.ID})
	}

	data := map[string]any{
		"lead": snap.Map(),
	}
	if trigger != nil && trigger.Payload != nil {
		data["trigger"] = trigger.Payload
	} else {
		data["trigger"] = map[string]any{}
	}

	out, err := engine.Evaluate(ctx, wf.ConditionExpr, data)
	if err != nil {
		return false, err
	}

	met, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeEvaluator,
			"condition %q returned non-boolean %T", wf.ConditionExpr, out).
			WithDetails(map[string]any{"workflow_id": wf.ID})
	}

	ev.logger.DebugContext(ctx, "condition evaluated",
		slog.String("workflow_id", wf.ID),
		slog.String("language", lang),
		slog.Bool("met", met),
	)
	return met, nil
}
