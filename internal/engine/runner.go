package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gridhaus/leadflow/internal/logging"
	"github.com/gridhaus/leadflow/internal/store"
	"github.com/gridhaus/leadflow/internal/streaming"
	"github.com/gridhaus/leadflow/pkg/schema"
)

// Sweep outcome statuses.
const (
	SweepStatusIdle       = "no_pending_actions"
	SweepStatusProcessing = "processing"
)

// maxInlineWait is the longest an execution will wait for its next action
// while holding a pool slot. It absorbs scheduling skew; anything longer
// releases the slot and resumes by timer.
const maxInlineWait = time.Second

// SweepResult reports what one recovery sweep did.
type SweepResult struct {
	Status            string `json:"status"`
	DueActions        int    `json:"due_actions"`
	ExecutionsResumed int    `json:"executions_resumed"`
}

// runExecution drives one execution to a terminal state: it claims the
// pending row, walks the actions in position order waiting out each
// scheduled_for, and rolls the per-action outcomes up into the execution row.
// Action failures are isolated; only store faults fail the execution itself.
func (e *Engine) runExecution(ctx context.Context, executionID string) error {
	if !e.tryAcquire(executionID) {
		return nil
	}
	defer e.release(executionID)
	ctx = logging.WithExecutionID(ctx, executionID)

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return nil
	}

	if exec.Status == schema.ExecutionStatusPending {
		started := time.Now().UTC()
		err := e.transitionExecution(ctx, exec, schema.ExecutionStatusRunning,
			store.ExecutionUpdate{StartedAt: &started}, nil)
		if err != nil {
			if isConflict(err) {
				// Another claimant won the CAS race.
				return nil
			}
			return err
		}
		exec.Status = schema.ExecutionStatusRunning
	}

	acts, err := e.store.ListActions(ctx, executionID)
	if err != nil {
		return e.failExecution(ctx, exec, err)
	}

	for _, act := range acts {
		if act.Status.Terminal() {
			continue
		}
		due := dueAt(act)
		if time.Until(due) > maxInlineWait {
			// A far-off action must not park on a pool slot. Hand the
			// slot back and come back by timer when the action is due.
			e.scheduleResume(ctx, executionID, due)
			return nil
		}
		if err := e.waitUntil(ctx, due); err != nil {
			// Shutdown mid-run: the execution stays running and the
			// sweep resumes it later.
			e.logger.InfoContext(ctx, "execution interrupted, deferring to sweep",
				slog.String("action_id", act.ID))
			return err
		}
		e.runAction(ctx, exec, act)
	}

	// The rollup counts persisted outcomes, not this claimant's local tally:
	// actions lost to a CAS race were completed or failed by the rival.
	final, err := e.store.ListActions(ctx, executionID)
	if err != nil {
		return e.failExecution(ctx, exec, err)
	}
	completed, failed := 0, 0
	for _, act := range final {
		if !act.Status.Terminal() {
			// A rival claimant still owns this action; it finalizes.
			return nil
		}
		tallyAction(act.Status, &completed, &failed)
	}

	now := time.Now().UTC()
	update := store.ExecutionUpdate{
		ActionsCompleted: &completed,
		ActionsFailed:    &failed,
		CompletedAt:      &now,
	}
	// Action failures do not fail the execution; the rollup carries them.
	if err := e.transitionExecution(ctx, exec, schema.ExecutionStatusCompleted, update,
		map[string]any{"actions_completed": completed, "actions_failed": failed}); err != nil {
		if isConflict(err) {
			return nil
		}
		return err
	}
	e.logger.InfoContext(ctx, "execution completed",
		slog.Int("actions_completed", completed), slog.Int("actions_failed", failed))
	return nil
}

// runAction claims one action via CAS, dispatches it, and records the
// outcome. Returns the terminal status the action reached. A CAS conflict
// means another claimant owns the action; the row is left untouched and the
// rival's outcome lands in the rollup via the persisted-row recount.
func (e *Engine) runAction(ctx context.Context, exec *store.Execution, act *store.Action) schema.ActionStatus {
	ctx = logging.WithActionID(ctx, act.ID)
	started := time.Now().UTC()

	err := e.store.TransitionAction(ctx, act.ID, schema.ActionStatusPending, schema.ActionStatusRunning,
		store.ActionUpdate{StartedAt: &started})
	if err != nil {
		if isConflict(err) {
			e.logger.DebugContext(ctx, "action already claimed")
			return schema.ActionStatusSkipped
		}
		e.logger.ErrorContext(ctx, "claim action failed", slog.String("error", err.Error()))
		return schema.ActionStatusSkipped
	}
	e.emitAction(ctx, exec, act, schema.ActionStatusPending, schema.ActionStatusRunning, nil)

	outcome, dispatchErr := e.dispatcher.Dispatch(ctx, exec, act)
	now := time.Now().UTC()

	if dispatchErr != nil {
		msg := dispatchErr.Error()
		if err := e.store.TransitionAction(ctx, act.ID, schema.ActionStatusRunning, schema.ActionStatusFailed,
			store.ActionUpdate{ErrorMessage: &msg, CompletedAt: &now}); err != nil {
			e.logger.ErrorContext(ctx, "record action failure failed", slog.String("error", err.Error()))
		}
		e.emitAction(ctx, exec, act, schema.ActionStatusRunning, schema.ActionStatusFailed,
			map[string]any{"error": msg})
		e.logger.WarnContext(ctx, "action failed",
			slog.String("action_type", string(act.Type)), slog.String("error", msg))
		return schema.ActionStatusFailed
	}

	update := store.ActionUpdate{Result: marshalPayload(outcome.Result), CompletedAt: &now}
	if outcome.ExternalMessageID != "" {
		update.ExternalMessageID = &outcome.ExternalMessageID
	}
	if outcome.ExternalStatus != "" {
		update.ExternalStatus = &outcome.ExternalStatus
	}
	if err := e.store.TransitionAction(ctx, act.ID, schema.ActionStatusRunning, schema.ActionStatusCompleted, update); err != nil {
		e.logger.ErrorContext(ctx, "record action completion failed", slog.String("error", err.Error()))
	}
	e.emitAction(ctx, exec, act, schema.ActionStatusRunning, schema.ActionStatusCompleted, outcome.Result)
	return schema.ActionStatusCompleted
}

// ProcessPending is the recovery sweep: it finds pending actions whose
// scheduled_for has passed and resumes their executions through the same
// scheduling loop. Per-action CAS makes the sweep safe to race with in-memory
// runs; in-flight executions are left alone.
func (e *Engine) ProcessPending(ctx context.Context) (*SweepResult, error) {
	due, err := e.store.ListDueActions(ctx, time.Now().UTC(), e.config.SweepBatchSize)
	if err != nil {
		return nil, err
	}

	resumed := 0
	seen := make(map[string]struct{})
	for _, act := range due {
		if _, ok := seen[act.ExecutionID]; ok {
			continue
		}
		seen[act.ExecutionID] = struct{}{}
		if e.isInflight(act.ExecutionID) {
			continue
		}

		executionID := act.ExecutionID
		if err := e.store.AppendEvent(ctx, &store.Event{
			ExecutionID: executionID,
			Type:        schema.EventExecutionRecovered,
		}); err != nil {
			e.logger.WarnContext(ctx, "append recovery event failed",
				slog.String("execution_id", executionID), slog.String("error", err.Error()))
		}
		e.publish(ctx, streaming.StreamEvent{
			ExecutionID: executionID,
			EventType:   schema.EventExecutionRecovered,
		})

		// Never block the sweep goroutine on a full pool: whatever this
		// pass cannot place stays pending for the next tick.
		runCtx := context.WithoutCancel(ctx)
		if err := e.pool.TrySubmit(runCtx, func(ctx context.Context) error {
			return e.runExecution(ctx, executionID)
		}); err != nil {
			e.logger.WarnContext(ctx, "sweep hand-off deferred",
				slog.String("execution_id", executionID), slog.String("error", err.Error()))
			break
		}
		resumed++
	}

	if len(due) > 0 {
		e.logger.InfoContext(ctx, "sweep processed pending actions",
			slog.Int("due_actions", len(due)), slog.Int("executions_resumed", resumed))
	}
	status := SweepStatusProcessing
	if len(due) == 0 {
		status = SweepStatusIdle
	}
	return &SweepResult{Status: status, DueActions: len(due), ExecutionsResumed: resumed}, nil
}

// transitionExecution runs the FSM check, persists the CAS status change, and
// publishes the stream event.
func (e *Engine) transitionExecution(ctx context.Context, exec *store.Execution, to schema.ExecutionStatus, update store.ExecutionUpdate, details map[string]any) error {
	if err := e.store.TransitionExecution(ctx, exec.ID, exec.Status, to, update); err != nil {
		return err
	}
	if err := e.execFSM.Transition(ctx, exec.ID, exec.Status, to, details); err != nil {
		e.logger.WarnContext(ctx, "emit execution event failed", slog.String("error", err.Error()))
	}
	e.publish(ctx, streaming.StreamEvent{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		LeadID:      exec.LeadID,
		EventType:   executionEventType(to),
		Payload:     details,
	})
	return nil
}

func (e *Engine) failExecution(ctx context.Context, exec *store.Execution, cause error) error {
	msg := cause.Error()
	now := time.Now().UTC()
	update := store.ExecutionUpdate{ErrorMessage: &msg, CompletedAt: &now}
	if err := e.transitionExecution(ctx, exec, schema.ExecutionStatusFailed, update,
		map[string]any{"error": msg}); err != nil && !isConflict(err) {
		e.logger.ErrorContext(ctx, "record execution failure failed", slog.String("error", err.Error()))
	}
	return cause
}

func (e *Engine) emitAction(ctx context.Context, exec *store.Execution, act *store.Action, from, to schema.ActionStatus, details map[string]any) {
	if err := e.actionFSM.Transition(ctx, exec.ID, act.ID, from, to, details); err != nil {
		e.logger.WarnContext(ctx, "emit action event failed", slog.String("error", err.Error()))
	}
	e.publish(ctx, streaming.StreamEvent{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		LeadID:      exec.LeadID,
		ActionID:    act.ID,
		EventType:   actionEventType(to),
		Payload:     details,
	})
}

// waitUntil blocks until the deadline passes or the context is cancelled.
// Dispatch before scheduled_for is never allowed, no matter how the execution
// reached the loop.
func (e *Engine) waitUntil(ctx context.Context, deadline time.Time) error {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCtx.Done():
		return e.stopCtx.Err()
	}
}

// dueAt returns when an action may dispatch. A wait action extends its own
// suspension by its configured duration instead of sleeping in a handler.
func dueAt(act *store.Action) time.Time {
	due := act.ScheduledFor
	if act.Type == schema.ActionWait {
		due = due.Add(time.Duration(act.Config.DurationMinutes) * time.Minute)
	}
	return due
}

func tallyAction(status schema.ActionStatus, completed, failed *int) {
	switch status {
	case schema.ActionStatusCompleted:
		*completed++
	case schema.ActionStatusFailed:
		*failed++
	}
}

func isConflict(err error) bool {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.Code == schema.ErrCodeConflict
	}
	return false
}
