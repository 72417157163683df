package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gridhaus/leadflow/internal/logging"
	"github.com/gridhaus/leadflow/internal/store"
	"github.com/gridhaus/leadflow/internal/streaming"
	"github.com/gridhaus/leadflow/pkg/schema"
)

// Execute outcome statuses.
const (
	StatusCreated = "created"
	StatusSkipped = "skipped"
)

// Skip reasons returned on ExecuteResult.Reason.
const (
	ReasonWorkflowInactive    = "workflow_inactive"
	ReasonConditionsNotMet    = "conditions_not_met"
	ReasonExecutionInProgress = "execution_in_progress"
)

// ExecuteRequest asks the engine to instantiate a workflow for a lead.
type ExecuteRequest struct {
	WorkflowID     string             `json:"workflow_id"`
	LeadID         string             `json:"lead_id"`
	TriggerKind    schema.TriggerKind `json:"trigger_kind,omitempty"`
	TriggerPayload map[string]any     `json:"trigger_payload,omitempty"`
	// Force bypasses the active flag, the entry condition, and the
	// one-non-terminal-execution guard. State transitions still apply.
	Force bool `json:"force,omitempty"`
}

// ExecuteResult reports what Execute did: either a new execution was created,
// or the request was skipped with a reason. A skip is a normal outcome, not an
// error.
type ExecuteResult struct {
	Status           string `json:"status"`
	Reason           string `json:"reason,omitempty"`
	ExecutionID      string `json:"execution_id,omitempty"`
	WorkflowID       string `json:"workflow_id"`
	WorkflowName     string `json:"workflow_name,omitempty"`
	LeadID           string `json:"lead_id"`
	ActionsScheduled int    `json:"actions_scheduled,omitempty"`
}

// Execute gates a trigger against the workflow's active flag, duplicate guard,
// and entry condition, then atomically materializes an execution with its
// action rows and hands it to the scheduling loop. Condition evaluation fails
// closed: an evaluator error skips the trigger instead of creating work.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	if req.WorkflowID == "" || req.LeadID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow_id and lead_id are required")
	}
	if req.TriggerKind == "" {
		req.TriggerKind = schema.TriggerManual
	}
	if !req.TriggerKind.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown trigger kind %q", req.TriggerKind)
	}
	ctx = logging.WithLeadID(ctx, req.LeadID)

	wf, err := e.store.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	snap, err := e.store.GetLeadSnapshot(ctx, req.LeadID)
	if err != nil {
		return nil, err
	}

	skipped := func(reason string) *ExecuteResult {
		e.logger.InfoContext(ctx, "trigger skipped",
			slog.String("workflow_id", wf.ID),
			slog.String("trigger_kind", string(req.TriggerKind)),
			slog.String("reason", reason))
		return &ExecuteResult{
			Status:       StatusSkipped,
			Reason:       reason,
			WorkflowID:   wf.ID,
			WorkflowName: wf.Name,
			LeadID:       req.LeadID,
		}
	}

	trigger := &schema.Trigger{Kind: req.TriggerKind, Payload: req.TriggerPayload}

	if !req.Force {
		if !wf.Active {
			return skipped(ReasonWorkflowInactive), nil
		}

		// Duplicate guard: at most one non-terminal execution per
		// (workflow, lead) pair. Re-triggering is a no-op.
		existing, err := e.store.FindActiveExecution(ctx, wf.ID, req.LeadID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			res := skipped(ReasonExecutionInProgress)
			res.ExecutionID = existing.ID
			return res, nil
		}

		ok, err := e.evaluator.Evaluate(ctx, wf, snap, trigger)
		if err != nil {
			// Fail closed: a broken condition must not fan out sends.
			e.logger.WarnContext(ctx, "condition evaluation failed, skipping trigger",
				slog.String("workflow_id", wf.ID), slog.String("error", err.Error()))
			return skipped(ReasonConditionsNotMet), nil
		}
		if !ok {
			return skipped(ReasonConditionsNotMet), nil
		}
	}

	exec, acts := materialize(wf, req.LeadID, snap, trigger)
	exec.Forced = req.Force
	if err := e.store.CreateExecutionWithActions(ctx, exec, acts); err != nil {
		// The store's partial unique index closes the window between the
		// duplicate-guard read and this insert: a concurrent trigger that
		// slipped past the read loses here and skips like any re-trigger.
		if isConflict(err) && !req.Force {
			res := skipped(ReasonExecutionInProgress)
			if winner, ferr := e.store.FindActiveExecution(ctx, wf.ID, req.LeadID); ferr == nil && winner != nil {
				res.ExecutionID = winner.ID
			}
			return res, nil
		}
		return nil, err
	}
	ctx = logging.WithExecutionID(ctx, exec.ID)

	e.appendCreationEvents(ctx, wf, exec, trigger, req.Force)
	e.publish(ctx, streaming.StreamEvent{
		ExecutionID: exec.ID,
		WorkflowID:  wf.ID,
		LeadID:      req.LeadID,
		EventType:   schema.EventExecutionCreated,
		Payload:     map[string]any{"trigger_kind": string(req.TriggerKind), "actions": len(acts)},
	})
	e.logger.InfoContext(ctx, "execution created",
		slog.String("workflow_id", wf.ID),
		slog.String("trigger_kind", string(req.TriggerKind)),
		slog.Int("actions", len(acts)))

	// Hand off to the scheduling loop without blocking the trigger path:
	// the caller gets its definite status now regardless of pool pressure.
	// The async run must outlive the triggering request; correlation values
	// are kept.
	runCtx := context.WithoutCancel(ctx)
	if err := e.pool.TrySubmit(runCtx, func(ctx context.Context) error {
		return e.runExecution(ctx, exec.ID)
	}); err != nil {
		// The sweep will pick the execution up once its actions come due.
		e.logger.WarnContext(ctx, "execution hand-off deferred to sweep",
			slog.String("error", err.Error()))
	}

	return &ExecuteResult{
		Status:           StatusCreated,
		ExecutionID:      exec.ID,
		WorkflowID:       wf.ID,
		WorkflowName:     wf.Name,
		LeadID:           req.LeadID,
		ActionsScheduled: len(acts),
	}, nil
}

// materialize builds the execution row and its action rows from the workflow
// definition, resolving relative delays against the current time. The rows
// are persisted in one transaction by the caller.
func materialize(wf *store.Workflow, leadID string, snap *schema.LeadSnapshot, trigger *schema.Trigger) (*store.Execution, []*store.Action) {
	now := time.Now().UTC()
	exec := &store.Execution{
		ID:             uuid.NewString(),
		WorkflowID:     wf.ID,
		LeadID:         leadID,
		TriggerKind:    trigger.Kind,
		TriggerPayload: trigger.Payload,
		Snapshot:       *snap,
		Status:         schema.ExecutionStatusPending,
		CreatedAt:      now,
	}

	acts := make([]*store.Action, 0, len(wf.Definition.Actions))
	for i, tpl := range wf.Definition.Actions {
		acts = append(acts, &store.Action{
			ID:           uuid.NewString(),
			ExecutionID:  exec.ID,
			Position:     i,
			Type:         tpl.Type,
			Config:       tpl,
			ScheduledFor: now.Add(time.Duration(tpl.DelayMinutes) * time.Minute),
			Status:       schema.ActionStatusPending,
		})
	}
	return exec, acts
}

func (e *Engine) appendCreationEvents(ctx context.Context, wf *store.Workflow, exec *store.Execution, trigger *schema.Trigger, forced bool) {
	events := []*store.Event{{
		ExecutionID: exec.ID,
		Type:        schema.EventExecutionCreated,
		Payload:     marshalPayload(map[string]any{"trigger_kind": string(trigger.Kind), "forced": forced}),
	}}
	if wf.ConditionExpr != "" && !forced {
		events = append(events, &store.Event{
			ExecutionID: exec.ID,
			Type:        schema.EventConditionEvaluated,
			Payload: marshalPayload(map[string]any{
				"language": wf.ConditionLanguage,
				"result":   true,
			}),
		})
	}
	for _, ev := range events {
		if err := e.store.AppendEvent(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "append event failed",
				slog.String("event_type", ev.Type), slog.String("error", err.Error()))
		}
	}
}
