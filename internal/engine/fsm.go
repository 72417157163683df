package engine

import (
	"context"
	"encoding/json"

	"github.com/gridhaus/leadflow/internal/store"
	"github.com/gridhaus/leadflow/pkg/schema"
)

// EventAppender is satisfied by the Store; used by the FSMs to emit log
// entries on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// --- Execution FSM ---

// ExecutionFSM validates execution lifecycle transitions and emits the
// corresponding event-log entries. The caller is responsible for persisting
// the new status via the store's compare-and-set transition.
type ExecutionFSM struct {
	appender EventAppender
}

// NewExecutionFSM creates an ExecutionFSM that emits events via the given appender.
func NewExecutionFSM(appender EventAppender) *ExecutionFSM {
	return &ExecutionFSM{appender: appender}
}

// Transition validates an execution state transition and emits its event.
func (f *ExecutionFSM) Transition(ctx context.Context, executionID string, from, to schema.ExecutionStatus, details map[string]any) error {
	if !isValidExecutionTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	eventType := executionEventType(to)
	if eventType == "" {
		return nil
	}
	event := &store.Event{
		ExecutionID: executionID,
		Type:        eventType,
		Payload:     marshalPayload(details),
	}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit execution event: %s", err.Error()).WithCause(err)
	}
	return nil
}

func isValidExecutionTransition(from, to schema.ExecutionStatus) bool {
	allowed, ok := ValidExecutionTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func executionEventType(to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionStatusRunning:
		return schema.EventExecutionStarted
	case schema.ExecutionStatusCompleted:
		return schema.EventExecutionCompleted
	case schema.ExecutionStatusFailed:
		return schema.EventExecutionFailed
	default:
		return ""
	}
}

// --- Action FSM ---

// ActionFSM validates action lifecycle transitions and emits the
// corresponding event-log entries.
type ActionFSM struct {
	appender EventAppender
}

// NewActionFSM creates an ActionFSM that emits events via the given appender.
func NewActionFSM(appender EventAppender) *ActionFSM {
	return &ActionFSM{appender: appender}
}

// Transition validates an action state transition and emits its event.
func (f *ActionFSM) Transition(ctx context.Context, executionID, actionID string, from, to schema.ActionStatus, details map[string]any) error {
	if !isValidActionTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid action transition: %s -> %s", from, to).
			WithAction(actionID).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	eventType := actionEventType(to)
	if eventType == "" {
		return nil
	}
	event := &store.Event{
		ExecutionID: executionID,
		ActionID:    actionID,
		Type:        eventType,
		Payload:     marshalPayload(details),
	}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit action event: %s", err.Error()).
			WithAction(actionID).WithCause(err)
	}
	return nil
}

func isValidActionTransition(from, to schema.ActionStatus) bool {
	allowed, ok := ValidActionTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func actionEventType(to schema.ActionStatus) string {
	switch to {
	case schema.ActionStatusRunning:
		return schema.EventActionStarted
	case schema.ActionStatusCompleted:
		return schema.EventActionCompleted
	case schema.ActionStatusFailed:
		return schema.EventActionFailed
	case schema.ActionStatusSkipped:
		return schema.EventActionSkipped
	default:
		return ""
	}
}

func marshalPayload(details map[string]any) json.RawMessage {
	if len(details) == 0 {
		return nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil
	}
	return raw
}

// --- Transition tables ---

// ValidExecutionTransitions defines the allowed state transitions for executions.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusPending:   {schema.ExecutionStatusRunning, schema.ExecutionStatusFailed},
	schema.ExecutionStatusRunning:   {schema.ExecutionStatusCompleted, schema.ExecutionStatusFailed},
	schema.ExecutionStatusCompleted: {},
	schema.ExecutionStatusFailed:    {},
}

// ValidActionTransitions defines the allowed state transitions for actions.
// An action may be skipped straight from pending when its execution aborts
// before reaching it.
var ValidActionTransitions = map[schema.ActionStatus][]schema.ActionStatus{
	schema.ActionStatusPending:   {schema.ActionStatusRunning, schema.ActionStatusSkipped},
	schema.ActionStatusRunning:   {schema.ActionStatusCompleted, schema.ActionStatusFailed},
	schema.ActionStatusCompleted: {},
	schema.ActionStatusFailed:    {},
	schema.ActionStatusSkipped:   {},
}
