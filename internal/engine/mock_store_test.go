package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gridhaus/leadflow/internal/store"
	"github.com/gridhaus/leadflow/pkg/schema"
)

// mockStore is a minimal in-memory Store for testing.
type mockStore struct {
	mu         sync.Mutex
	workflows  map[string]*store.Workflow
	templates  map[string]*store.MessageTemplate
	builders   map[string]*store.Builder
	properties map[string]*store.Property
	leads      map[string]*store.Lead
	snapshots  map[string]*schema.LeadSnapshot
	executions map[string]*store.Execution
	actions    map[string]*store.Action
	deliveries []*store.Delivery
	tasks      []*store.Task
	events     []*store.Event
}

func newMockStore() *mockStore {
	return &mockStore{
		workflows:  make(map[string]*store.Workflow),
		templates:  make(map[string]*store.MessageTemplate),
		builders:   make(map[string]*store.Builder),
		properties: make(map[string]*store.Property),
		leads:      make(map[string]*store.Lead),
		snapshots:  make(map[string]*schema.LeadSnapshot),
		executions: make(map[string]*store.Execution),
		actions:    make(map[string]*store.Action),
	}
}

var _ store.Store = (*mockStore)(nil)

func (m *mockStore) CreateWorkflow(_ context.Context, wf *store.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *wf
	m.workflows[wf.ID] = &cp
	return nil
}

func (m *mockStore) GetWorkflow(_ context.Context, id string) (*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s not found", id)
	}
	cp := *wf
	return &cp, nil
}

func (m *mockStore) UpdateWorkflow(_ context.Context, id string, update store.WorkflowUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s not found", id)
	}
	if update.Active != nil {
		wf.Active = *update.Active
	}
	if update.Schedule != nil {
		wf.Schedule = *update.Schedule
	}
	return nil
}

func (m *mockStore) ListWorkflows(_ context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.Workflow
	for _, wf := range m.workflows {
		if filter.Active != nil && wf.Active != *filter.Active {
			continue
		}
		if filter.Scheduled && wf.Schedule == "" {
			continue
		}
		cp := *wf
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *mockStore) CreateMessageTemplate(_ context.Context, tpl *store.MessageTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tpl
	m.templates[tpl.ID] = &cp
	return nil
}

func (m *mockStore) GetMessageTemplate(_ context.Context, id string) (*store.MessageTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tpl, ok := m.templates[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "message template %s not found", id)
	}
	cp := *tpl
	return &cp, nil
}

func (m *mockStore) CreateBuilder(_ context.Context, b *store.Builder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.builders[b.ID] = &cp
	return nil
}

func (m *mockStore) CreateProperty(_ context.Context, p *store.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.properties[p.ID] = &cp
	return nil
}

func (m *mockStore) CreateLead(_ context.Context, l *store.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.leads[l.ID] = &cp
	return nil
}

func (m *mockStore) GetLead(_ context.Context, id string) (*store.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "lead %s not found", id)
	}
	cp := *l
	return &cp, nil
}

func (m *mockStore) ListLeads(_ context.Context, limit, offset int) ([]*store.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.Lead
	for _, l := range m.leads {
		cp := *l
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockStore) GetLeadSnapshot(_ context.Context, id string) (*schema.LeadSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap, ok := m.snapshots[id]; ok {
		cp := *snap
		return &cp, nil
	}
	l, ok := m.leads[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "lead %s not found", id)
	}
	return &schema.LeadSnapshot{
		LeadID: l.ID,
		Name:   l.Name,
		Phone:  l.Phone,
		Email:  l.Email,
		Score:  l.Score,
	}, nil
}

func (m *mockStore) UpdateLeadFields(_ context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "lead %s not found", id)
	}
	for k, v := range fields {
		switch k {
		case "priority_tier":
			l.PriorityTier, _ = v.(string)
		case "next_action":
			l.NextAction, _ = v.(string)
		case "score":
			switch n := v.(type) {
			case int:
				l.Score = n
			case float64:
				l.Score = int(n)
			}
		}
	}
	return nil
}

func (m *mockStore) CreateExecutionWithActions(_ context.Context, exec *store.Execution, acts []*store.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Mirror the partial unique index: one active unforced execution per
	// (workflow, lead) pair.
	if !exec.Forced {
		for _, other := range m.executions {
			if other.WorkflowID == exec.WorkflowID && other.LeadID == exec.LeadID &&
				!other.Status.Terminal() && !other.Forced {
				return schema.NewErrorf(schema.ErrCodeConflict,
					"lead %s already has an active execution for workflow %s", exec.LeadID, exec.WorkflowID)
			}
		}
	}
	cp := *exec
	m.executions[exec.ID] = &cp
	for _, a := range acts {
		ac := *a
		m.actions[a.ID] = &ac
	}
	return nil
}

func (m *mockStore) GetExecution(_ context.Context, id string) (*store.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %s not found", id)
	}
	cp := *exec
	return &cp, nil
}

func (m *mockStore) FindActiveExecution(_ context.Context, workflowID, leadID string) (*store.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, exec := range m.executions {
		if exec.WorkflowID == workflowID && exec.LeadID == leadID && !exec.Status.Terminal() {
			cp := *exec
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ListRecentExecutions(_ context.Context, workflowID string, limit int) ([]*store.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.Execution
	for _, exec := range m.executions {
		if exec.WorkflowID == workflowID {
			cp := *exec
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockStore) TransitionExecution(_ context.Context, id string, from, to schema.ExecutionStatus, update store.ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution %s not found", id)
	}
	if exec.Status != from {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %s is not in status %s", id, from)
	}
	exec.Status = to
	if update.ErrorMessage != nil {
		exec.ErrorMessage = *update.ErrorMessage
	}
	if update.ActionsCompleted != nil {
		exec.ActionsCompleted = *update.ActionsCompleted
	}
	if update.ActionsFailed != nil {
		exec.ActionsFailed = *update.ActionsFailed
	}
	if update.StartedAt != nil {
		exec.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		exec.CompletedAt = update.CompletedAt
	}
	return nil
}

func (m *mockStore) GetAction(_ context.Context, id string) (*store.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	act, ok := m.actions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %s not found", id)
	}
	cp := *act
	return &cp, nil
}

func (m *mockStore) ListActions(_ context.Context, executionID string) ([]*store.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.Action
	for _, act := range m.actions {
		if act.ExecutionID == executionID {
			cp := *act
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Position < result[j].Position })
	return result, nil
}

func (m *mockStore) ListDueActions(_ context.Context, now time.Time, limit int) ([]*store.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.Action
	for _, act := range m.actions {
		if act.Status == schema.ActionStatusPending && !act.ScheduledFor.After(now) {
			cp := *act
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ScheduledFor.Before(result[j].ScheduledFor) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockStore) TransitionAction(_ context.Context, id string, from, to schema.ActionStatus, update store.ActionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	act, ok := m.actions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "action %s not found", id)
	}
	if act.Status != from {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %s is not in status %s", id, from)
	}
	act.Status = to
	if update.Result != nil {
		act.Result = update.Result
	}
	if update.ErrorMessage != nil {
		act.ErrorMessage = *update.ErrorMessage
	}
	if update.ExternalMessageID != nil {
		act.ExternalMessageID = *update.ExternalMessageID
	}
	if update.ExternalStatus != nil {
		act.ExternalStatus = *update.ExternalStatus
	}
	if update.StartedAt != nil {
		act.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		act.CompletedAt = update.CompletedAt
	}
	return nil
}

func (m *mockStore) CreateDelivery(_ context.Context, d *store.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	cp.ID = int64(len(m.deliveries) + 1)
	m.deliveries = append(m.deliveries, &cp)
	return nil
}

func (m *mockStore) ListDeliveries(_ context.Context, actionID string) ([]*store.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.Delivery
	for _, d := range m.deliveries {
		if d.ActionID == actionID {
			cp := *d
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockStore) CreateTask(_ context.Context, t *store.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks = append(m.tasks, &cp)
	return nil
}

func (m *mockStore) ListTasksForLead(_ context.Context, leadID string) ([]*store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.Task
	for _, t := range m.tasks {
		if t.LeadID == leadID {
			cp := *t
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockStore) AppendEvent(_ context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := int64(1)
	for _, e := range m.events {
		if e.ExecutionID == event.ExecutionID {
			seq++
		}
	}
	event.Sequence = seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return nil
}

func (m *mockStore) GetEvents(_ context.Context, executionID string, since int64) ([]*store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.Event
	for _, e := range m.events {
		if e.ExecutionID == executionID && e.Sequence > since {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockStore) Migrate(_ context.Context) error { return nil }

func (m *mockStore) Close() error { return nil }

// executionCount returns how many executions exist in the store.
func (m *mockStore) executionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executions)
}

// deliveryCount returns all recorded deliveries regardless of action.
func (m *mockStore) deliveryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deliveries)
}

// eventTypes returns the ordered event types recorded for an execution.
func (m *mockStore) eventTypes(executionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var types []string
	for _, e := range m.events {
		if e.ExecutionID == executionID {
			types = append(types, e.Type)
		}
	}
	return types
}
