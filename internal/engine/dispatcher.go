package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gridhaus/leadflow/internal/channels"
	"github.com/gridhaus/leadflow/internal/render"
	"github.com/gridhaus/leadflow/internal/store"
	"github.com/gridhaus/leadflow/pkg/schema"
)

// DispatchOutcome is what a successfully handled action produced.
type DispatchOutcome struct {
	Result            map[string]any
	ExternalMessageID string
	ExternalStatus    string
}

// Dispatcher owns one handler per action type. Handlers read lead data from
// the execution snapshot only; the live lead row is touched solely by
// update_lead.
type Dispatcher struct {
	store   store.Store
	senders *channels.Registry
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given store and sender registry.
func NewDispatcher(s store.Store, senders *channels.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: s, senders: senders, logger: logger}
}

// Dispatch runs the handler for the action's type. A returned error is a
// per-action failure; the caller records it without aborting sibling actions.
func (d *Dispatcher) Dispatch(ctx context.Context, exec *store.Execution, act *store.Action) (*DispatchOutcome, error) {
	switch act.Type {
	case schema.ActionSendMessage:
		return d.sendMessage(ctx, exec, act)
	case schema.ActionUpdateLead:
		return d.updateLead(ctx, exec, act)
	case schema.ActionCreateTask:
		return d.createTask(ctx, exec, act)
	case schema.ActionWait:
		return &DispatchOutcome{Result: map[string]any{"waited_minutes": act.Config.DurationMinutes}}, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeActionFailed, "unknown action type %q", act.Type).
			WithAction(act.ID)
	}
}

// sendMessage renders the referenced template against the snapshot, resolves
// the channel recipient, sends, and records the delivery.
func (d *Dispatcher) sendMessage(ctx context.Context, exec *store.Execution, act *store.Action) (*DispatchOutcome, error) {
	cfg := act.Config
	if cfg.Channel == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "send_message action has no channel").WithAction(act.ID)
	}
	if cfg.TemplateID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "send_message action has no template_id").WithAction(act.ID)
	}

	recipient := exec.Snapshot.Recipient(cfg.Channel)
	if recipient == "" {
		return nil, schema.NewErrorf(schema.ErrCodeSendFailed,
			"lead has no recipient for channel %q", cfg.Channel).WithAction(act.ID)
	}

	tpl, err := d.store.GetMessageTemplate(ctx, cfg.TemplateID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeActionFailed,
			"load template %s: %s", cfg.TemplateID, err.Error()).WithAction(act.ID).WithCause(err)
	}

	subject := render.Render(tpl.Subject, &exec.Snapshot)
	body := render.Render(tpl.Body, &exec.Snapshot)

	sender, err := d.senders.Get(cfg.Channel)
	if err != nil {
		return nil, err
	}
	res, err := sender.Send(ctx, channels.Message{Recipient: recipient, Subject: subject, Body: body})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSendFailed,
			"send via %s: %s", cfg.Channel, err.Error()).WithAction(act.ID).WithCause(err)
	}

	delivery := &store.Delivery{
		ActionID:          act.ID,
		Channel:           cfg.Channel,
		Recipient:         recipient,
		Subject:           subject,
		Body:              body,
		Provider:          res.Provider,
		ProviderMessageID: res.ProviderMessageID,
		ProviderStatus:    res.ProviderStatus,
		SentAt:            time.Now().UTC(),
	}
	if err := d.store.CreateDelivery(ctx, delivery); err != nil {
		// The message is already out; losing the record is a fault worth
		// surfacing on the action.
		return nil, schema.NewErrorf(schema.ErrCodeStore, "record delivery: %s", err.Error()).
			WithAction(act.ID).WithCause(err)
	}
	if err := d.store.AppendEvent(ctx, &store.Event{
		ExecutionID: exec.ID,
		ActionID:    act.ID,
		Type:        schema.EventDeliveryRecorded,
		Payload:     marshalPayload(map[string]any{"channel": cfg.Channel, "recipient": recipient}),
	}); err != nil {
		d.logger.WarnContext(ctx, "append delivery event failed", slog.String("error", err.Error()))
	}

	return &DispatchOutcome{
		Result:            map[string]any{"channel": cfg.Channel, "recipient": recipient, "template_id": cfg.TemplateID},
		ExternalMessageID: res.ProviderMessageID,
		ExternalStatus:    res.ProviderStatus,
	}, nil
}

func (d *Dispatcher) updateLead(ctx context.Context, exec *store.Execution, act *store.Action) (*DispatchOutcome, error) {
	updates := act.Config.Updates
	if len(updates) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "update_lead action has no updates").WithAction(act.ID)
	}
	if err := d.store.UpdateLeadFields(ctx, exec.LeadID, updates); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeActionFailed, "update lead: %s", err.Error()).
			WithAction(act.ID).WithCause(err)
	}
	fields := make([]string, 0, len(updates))
	for k := range updates {
		fields = append(fields, k)
	}
	return &DispatchOutcome{Result: map[string]any{"updated_fields": fields}}, nil
}

func (d *Dispatcher) createTask(ctx context.Context, exec *store.Execution, act *store.Action) (*DispatchOutcome, error) {
	cfg := act.Config
	dueInDays := cfg.DueInDays
	if dueInDays <= 0 {
		dueInDays = 1
	}
	priority := cfg.Priority
	if priority == "" {
		priority = "medium"
	}
	task := &store.Task{
		ID:          uuid.NewString(),
		LeadID:      exec.LeadID,
		Title:       render.Render(cfg.Title, &exec.Snapshot),
		Description: render.Render(cfg.Description, &exec.Snapshot),
		Priority:    priority,
		Status:      "open",
		DueDate:     time.Now().UTC().AddDate(0, 0, dueInDays),
		CreatedAt:   time.Now().UTC(),
	}
	if task.Title == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "create_task action has no title").WithAction(act.ID)
	}
	if err := d.store.CreateTask(ctx, task); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeActionFailed, "create task: %s", err.Error()).
			WithAction(act.ID).WithCause(err)
	}
	return &DispatchOutcome{Result: map[string]any{"task_id": task.ID, "due_date": task.DueDate.Format(time.RFC3339)}}, nil
}
