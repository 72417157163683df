package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridhaus/leadflow/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func seedTestLead(t *testing.T, s *LibSQLStore, propertyID string) *Lead {
	t.Helper()
	l := &Lead{
		ID:         uuid.New().String(),
		Name:       "Priya Sharma",
		Phone:      "+919800011122",
		Email:      "priya@example.com",
		Score:      85,
		PropertyID: propertyID,
	}
	require.NoError(t, s.CreateLead(context.Background(), l))
	return l
}

func seedTestWorkflow(t *testing.T, s *LibSQLStore, active bool) *Workflow {
	t.Helper()
	wf := &Workflow{
		ID:     uuid.New().String(),
		Name:   "welcome-sequence",
		Active: active,
		Definition: schema.WorkflowDefinition{
			Actions: []schema.ActionTemplate{
				{Type: schema.ActionSendMessage, Channel: "whatsapp", TemplateID: "tpl-1"},
			},
		},
	}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

func seedTestExecution(t *testing.T, s *LibSQLStore, workflowID, leadID string, acts ...*Action) *Execution {
	t.Helper()
	exec := &Execution{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		LeadID:      leadID,
		TriggerKind: schema.TriggerManual,
		Snapshot:    schema.LeadSnapshot{LeadID: leadID, Name: "Priya Sharma"},
		Status:      schema.ExecutionStatusPending,
	}
	for _, a := range acts {
		a.ExecutionID = exec.ID
	}
	require.NoError(t, s.CreateExecutionWithActions(context.Background(), exec, acts))
	return exec
}

func pendingAction(position int, scheduledFor time.Time) *Action {
	return &Action{
		ID:           uuid.New().String(),
		Position:     position,
		Type:         schema.ActionSendMessage,
		Config:       schema.ActionTemplate{Type: schema.ActionSendMessage, Channel: "whatsapp", TemplateID: "tpl-1"},
		ScheduledFor: scheduledFor,
		Status:       schema.ActionStatusPending,
	}
}

// --- Workflow Tests ---

func TestCreateAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := &Workflow{
		ID:                uuid.New().String(),
		Name:              "hot-lead-follow-up",
		Description:       "messages high scorers",
		ConditionLanguage: "expr",
		ConditionExpr:     "lead.score >= 80",
		Active:            true,
		Schedule:          "0 9 * * *",
		Definition: schema.WorkflowDefinition{
			Actions: []schema.ActionTemplate{
				{Type: schema.ActionSendMessage, Channel: "whatsapp", TemplateID: "tpl-1"},
				{Type: schema.ActionWait, DurationMinutes: 30},
			},
		},
	}
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.ID)
	assert.Equal(t, "hot-lead-follow-up", got.Name)
	assert.Equal(t, "messages high scorers", got.Description)
	assert.Equal(t, "expr", got.ConditionLanguage)
	assert.Equal(t, "lead.score >= 80", got.ConditionExpr)
	assert.True(t, got.Active)
	assert.Equal(t, "0 9 * * *", got.Schedule)
	require.Len(t, got.Definition.Actions, 2)
	assert.Equal(t, schema.ActionSendMessage, got.Definition.Actions[0].Type)
	assert.Equal(t, 30, got.Definition.Actions[1].DurationMinutes)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetWorkflow(context.Background(), "nonexistent")
	require.Error(t, err)
	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, fe.Code)
}

func TestUpdateWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedTestWorkflow(t, s, true)

	newName := "renamed"
	inactive := false
	expr := `.score > 50`
	lang := "jq"
	require.NoError(t, s.UpdateWorkflow(ctx, wf.ID, WorkflowUpdate{
		Name:              &newName,
		Active:            &inactive,
		ConditionLanguage: &lang,
		ConditionExpr:     &expr,
	}))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.False(t, got.Active)
	assert.Equal(t, "jq", got.ConditionLanguage)
	assert.Equal(t, `.score > 50`, got.ConditionExpr)
}

func TestUpdateWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)
	name := "x"
	err := s.UpdateWorkflow(context.Background(), "nonexistent", WorkflowUpdate{Name: &name})
	require.Error(t, err)
	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, fe.Code)
}

func TestListWorkflowsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	active := seedTestWorkflow(t, s, true)
	seedTestWorkflow(t, s, false)
	scheduled := &Workflow{
		ID:       uuid.New().String(),
		Name:     "nightly-nurture",
		Active:   true,
		Schedule: "0 21 * * *",
		Definition: schema.WorkflowDefinition{
			Actions: []schema.ActionTemplate{{Type: schema.ActionWait, DurationMinutes: 1}},
		},
	}
	require.NoError(t, s.CreateWorkflow(ctx, scheduled))

	all, err := s.ListWorkflows(ctx, WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	isActive := true
	actives, err := s.ListWorkflows(ctx, WorkflowFilter{Active: &isActive})
	require.NoError(t, err)
	require.Len(t, actives, 2)
	ids := []string{actives[0].ID, actives[1].ID}
	assert.Contains(t, ids, active.ID)
	assert.Contains(t, ids, scheduled.ID)

	crons, err := s.ListWorkflows(ctx, WorkflowFilter{Scheduled: true})
	require.NoError(t, err)
	require.Len(t, crons, 1)
	assert.Equal(t, scheduled.ID, crons[0].ID)

	limited, err := s.ListWorkflows(ctx, WorkflowFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// --- Message Template Tests ---

func TestCreateAndGetMessageTemplate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tpl := &MessageTemplate{
		ID:      uuid.New().String(),
		Name:    "welcome",
		Channel: "whatsapp",
		Subject: "Welcome",
		Body:    "Hi {{lead_name}}",
	}
	require.NoError(t, s.CreateMessageTemplate(ctx, tpl))

	got, err := s.GetMessageTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "welcome", got.Name)
	assert.Equal(t, "whatsapp", got.Channel)
	assert.Equal(t, "Hi {{lead_name}}", got.Body)
}

func TestGetMessageTemplate_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetMessageTemplate(context.Background(), "nonexistent")
	require.Error(t, err)
	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, fe.Code)
}

// --- Lead Tests ---

func TestCreateAndGetLead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead := seedTestLead(t, s, "")

	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "Priya Sharma", got.Name)
	assert.Equal(t, "+919800011122", got.Phone)
	assert.Equal(t, "priya@example.com", got.Email)
	assert.Equal(t, 85, got.Score)
	assert.Empty(t, got.PriorityTier)
}

func TestListLeadsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		l := &Lead{
			ID:        uuid.New().String(),
			Name:      "Lead",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.CreateLead(ctx, l))
	}

	first, err := s.ListLeads(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := s.ListLeads(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.NotEqual(t, first[0].ID, second[0].ID)
	assert.True(t, first[1].CreatedAt.Before(second[0].CreatedAt) ||
		first[1].CreatedAt.Equal(second[0].CreatedAt))

	rest, err := s.ListLeads(ctx, 10, 4)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestGetLeadSnapshotJoinsPropertyAndBuilder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	builder := &Builder{ID: uuid.New().String(), Name: "Kohinoor Group"}
	require.NoError(t, s.CreateBuilder(ctx, builder))
	prop := &Property{
		ID:           uuid.New().String(),
		Title:        "Sunrise Heights",
		PropertyType: "apartment",
		PriceINR:     7500000,
		Locality:     "Baner",
		City:         "Pune",
		Bedrooms:     3,
		AreaSqft:     1250,
		BuilderID:    builder.ID,
	}
	require.NoError(t, s.CreateProperty(ctx, prop))
	lead := seedTestLead(t, s, prop.ID)

	snap, err := s.GetLeadSnapshot(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, lead.ID, snap.LeadID)
	assert.Equal(t, "Priya Sharma", snap.Name)
	assert.Equal(t, "+919800011122", snap.Phone)
	assert.Equal(t, 85, snap.Score)
	assert.Equal(t, "Sunrise Heights", snap.PropertyTitle)
	assert.Equal(t, float64(7500000), snap.PriceINR)
	assert.Equal(t, "Baner", snap.Locality)
	assert.Equal(t, "Pune", snap.City)
	assert.Equal(t, 3, snap.Bedrooms)
	assert.Equal(t, "Kohinoor Group", snap.BuilderName)
}

func TestGetLeadSnapshotWithoutProperty(t *testing.T) {
	s := newTestStore(t)
	lead := seedTestLead(t, s, "")

	snap, err := s.GetLeadSnapshot(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "Priya Sharma", snap.Name)
	assert.Empty(t, snap.PropertyTitle)
	assert.Empty(t, snap.BuilderName)
}

func TestUpdateLeadFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead := seedTestLead(t, s, "")

	require.NoError(t, s.UpdateLeadFields(ctx, lead.ID, map[string]any{
		"priority_tier": "hot",
		"next_action":   "schedule site visit",
		"score":         92,
	}))

	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "hot", got.PriorityTier)
	assert.Equal(t, "schedule site visit", got.NextAction)
	assert.Equal(t, 92, got.Score)
}

func TestUpdateLeadFieldsRejectsUnknownColumn(t *testing.T) {
	s := newTestStore(t)
	lead := seedTestLead(t, s, "")

	err := s.UpdateLeadFields(context.Background(), lead.ID, map[string]any{
		"status = 'x'; DROP TABLE leads; --": "oops",
	})
	require.Error(t, err)
	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)

	// Table still intact.
	_, err = s.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
}

// --- Execution Tests ---

func TestCreateExecutionWithActions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedTestWorkflow(t, s, true)
	lead := seedTestLead(t, s, "")

	now := time.Now().UTC()
	exec := seedTestExecution(t, s, wf.ID, lead.ID,
		pendingAction(0, now),
		pendingAction(1, now.Add(time.Hour)),
	)

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.WorkflowID)
	assert.Equal(t, lead.ID, got.LeadID)
	assert.Equal(t, schema.TriggerManual, got.TriggerKind)
	assert.Equal(t, schema.ExecutionStatusPending, got.Status)
	assert.Equal(t, "Priya Sharma", got.Snapshot.Name)
	assert.Nil(t, got.StartedAt)

	acts, err := s.ListActions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, 0, acts[0].Position)
	assert.Equal(t, 1, acts[1].Position)
	assert.Equal(t, schema.ActionStatusPending, acts[0].Status)
}

func TestCreateExecutionWithActionsIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedTestWorkflow(t, s, true)
	lead := seedTestLead(t, s, "")

	good := pendingAction(0, time.Now().UTC())
	dup := pendingAction(1, time.Now().UTC())
	dup.ID = good.ID // duplicate primary key fails the second insert

	exec := &Execution{
		ID:          uuid.New().String(),
		WorkflowID:  wf.ID,
		LeadID:      lead.ID,
		TriggerKind: schema.TriggerManual,
		Status:      schema.ExecutionStatusPending,
	}
	good.ExecutionID = exec.ID
	dup.ExecutionID = exec.ID
	err := s.CreateExecutionWithActions(ctx, exec, []*Action{good, dup})
	require.Error(t, err)

	// Neither the execution nor the first action survived the rollback.
	_, err = s.GetExecution(ctx, exec.ID)
	require.Error(t, err)
	acts, err := s.ListActions(ctx, exec.ID)
	require.NoError(t, err)
	assert.Empty(t, acts)
}

func TestFindActiveExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedTestWorkflow(t, s, true)
	lead := seedTestLead(t, s, "")

	none, err := s.FindActiveExecution(ctx, wf.ID, lead.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	exec := seedTestExecution(t, s, wf.ID, lead.ID, pendingAction(0, time.Now().UTC()))

	found, err := s.FindActiveExecution(ctx, wf.ID, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, exec.ID, found.ID)

	// A terminal execution is no longer active.
	require.NoError(t, s.TransitionExecution(ctx, exec.ID,
		schema.ExecutionStatusPending, schema.ExecutionStatusFailed, ExecutionUpdate{}))
	gone, err := s.FindActiveExecution(ctx, wf.ID, lead.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCreateExecutionRejectsSecondActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedTestWorkflow(t, s, true)
	lead := seedTestLead(t, s, "")

	first := seedTestExecution(t, s, wf.ID, lead.ID, pendingAction(0, time.Now().UTC()))

	// A second active execution for the same (workflow, lead) pair is
	// rejected at insert time, closing the check-then-insert window.
	dup := &Execution{
		ID:          uuid.New().String(),
		WorkflowID:  wf.ID,
		LeadID:      lead.ID,
		TriggerKind: schema.TriggerManual,
		Snapshot:    schema.LeadSnapshot{LeadID: lead.ID},
		Status:      schema.ExecutionStatusPending,
	}
	err := s.CreateExecutionWithActions(ctx, dup, nil)
	require.Error(t, err)
	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, fe.Code)
	_, err = s.GetExecution(ctx, dup.ID)
	require.Error(t, err)

	// A forced execution is exempt from the guard.
	forced := &Execution{
		ID:          uuid.New().String(),
		WorkflowID:  wf.ID,
		LeadID:      lead.ID,
		TriggerKind: schema.TriggerManual,
		Snapshot:    schema.LeadSnapshot{LeadID: lead.ID},
		Status:      schema.ExecutionStatusPending,
		Forced:      true,
	}
	require.NoError(t, s.CreateExecutionWithActions(ctx, forced, nil))
	got, err := s.GetExecution(ctx, forced.ID)
	require.NoError(t, err)
	assert.True(t, got.Forced)

	// Once the first execution is terminal the guard opens up again.
	require.NoError(t, s.TransitionExecution(ctx, first.ID,
		schema.ExecutionStatusPending, schema.ExecutionStatusCompleted, ExecutionUpdate{}))
	next := &Execution{
		ID:          uuid.New().String(),
		WorkflowID:  wf.ID,
		LeadID:      lead.ID,
		TriggerKind: schema.TriggerManual,
		Snapshot:    schema.LeadSnapshot{LeadID: lead.ID},
		Status:      schema.ExecutionStatusPending,
	}
	require.NoError(t, s.CreateExecutionWithActions(ctx, next, nil))
}

func TestTransitionExecutionCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedTestWorkflow(t, s, true)
	lead := seedTestLead(t, s, "")
	exec := seedTestExecution(t, s, wf.ID, lead.ID, pendingAction(0, time.Now().UTC()))

	started := time.Now().UTC()
	require.NoError(t, s.TransitionExecution(ctx, exec.ID,
		schema.ExecutionStatusPending, schema.ExecutionStatusRunning,
		ExecutionUpdate{StartedAt: &started}))

	// Second claim against the stale prior status loses.
	err := s.TransitionExecution(ctx, exec.ID,
		schema.ExecutionStatusPending, schema.ExecutionStatusRunning, ExecutionUpdate{})
	require.Error(t, err)
	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, fe.Code)

	done := 3
	failed := 1
	completed := time.Now().UTC()
	require.NoError(t, s.TransitionExecution(ctx, exec.ID,
		schema.ExecutionStatusRunning, schema.ExecutionStatusCompleted,
		ExecutionUpdate{ActionsCompleted: &done, ActionsFailed: &failed, CompletedAt: &completed}))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, 3, got.ActionsCompleted)
	assert.Equal(t, 1, got.ActionsFailed)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
}

func TestListRecentExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedTestWorkflow(t, s, true)

	var execIDs []string
	for i := 0; i < 3; i++ {
		// Each round belongs to its own lead so every execution can sit at
		// pending without tripping the active-execution guard.
		roundLead := seedTestLead(t, s, "")
		exec := &Execution{
			ID:          uuid.New().String(),
			WorkflowID:  wf.ID,
			LeadID:      roundLead.ID,
			TriggerKind: schema.TriggerManual,
			Status:      schema.ExecutionStatusPending,
			CreatedAt:   time.Now().UTC().Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.CreateExecutionWithActions(ctx, exec, nil))
		execIDs = append(execIDs, exec.ID)
	}

	execs, err := s.ListRecentExecutions(ctx, wf.ID, 2)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	// Newest first.
	assert.Equal(t, execIDs[2], execs[0].ID)
	assert.Equal(t, execIDs[1], execs[1].ID)
}

// --- Action Tests ---

func TestTransitionActionCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedTestWorkflow(t, s, true)
	lead := seedTestLead(t, s, "")
	act := pendingAction(0, time.Now().UTC())
	seedTestExecution(t, s, wf.ID, lead.ID, act)

	started := time.Now().UTC()
	require.NoError(t, s.TransitionAction(ctx, act.ID,
		schema.ActionStatusPending, schema.ActionStatusRunning, ActionUpdate{StartedAt: &started}))

	err := s.TransitionAction(ctx, act.ID,
		schema.ActionStatusPending, schema.ActionStatusRunning, ActionUpdate{})
	require.Error(t, err)
	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, fe.Code)

	extID := "wamid.123"
	extStatus := "sent"
	completed := time.Now().UTC()
	require.NoError(t, s.TransitionAction(ctx, act.ID,
		schema.ActionStatusRunning, schema.ActionStatusCompleted,
		ActionUpdate{
			Result:            json.RawMessage(`{"channel":"whatsapp"}`),
			ExternalMessageID: &extID,
			ExternalStatus:    &extStatus,
			CompletedAt:       &completed,
		}))

	got, err := s.GetAction(ctx, act.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ActionStatusCompleted, got.Status)
	assert.Equal(t, "wamid.123", got.ExternalMessageID)
	assert.Equal(t, "sent", got.ExternalStatus)
	assert.JSONEq(t, `{"channel":"whatsapp"}`, string(got.Result))
	require.NotNil(t, got.CompletedAt)
}

func TestListDueActions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedTestWorkflow(t, s, true)
	lead := seedTestLead(t, s, "")

	now := time.Now().UTC()
	past1 := pendingAction(0, now.Add(-2*time.Hour))
	past2 := pendingAction(1, now.Add(-time.Hour))
	future := pendingAction(2, now.Add(time.Hour))
	claimed := pendingAction(3, now.Add(-30*time.Minute))
	seedTestExecution(t, s, wf.ID, lead.ID, past1, past2, future, claimed)
	require.NoError(t, s.TransitionAction(ctx, claimed.ID,
		schema.ActionStatusPending, schema.ActionStatusRunning, ActionUpdate{}))

	due, err := s.ListDueActions(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	// Oldest first; claimed and future rows excluded.
	assert.Equal(t, past1.ID, due[0].ID)
	assert.Equal(t, past2.ID, due[1].ID)

	limited, err := s.ListDueActions(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, past1.ID, limited[0].ID)
}

// --- Delivery Tests ---

func TestCreateAndListDeliveries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedTestWorkflow(t, s, true)
	lead := seedTestLead(t, s, "")
	act := pendingAction(0, time.Now().UTC())
	seedTestExecution(t, s, wf.ID, lead.ID, act)

	d := &Delivery{
		ActionID:          act.ID,
		Channel:           "whatsapp",
		Recipient:         "+919800011122",
		Body:              "Hi Priya",
		Provider:          "meta",
		ProviderMessageID: "wamid.123",
		ProviderStatus:    "sent",
	}
	require.NoError(t, s.CreateDelivery(ctx, d))
	assert.NotZero(t, d.ID)

	got, err := s.ListDeliveries(ctx, act.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "whatsapp", got[0].Channel)
	assert.Equal(t, "+919800011122", got[0].Recipient)
	assert.Equal(t, "Hi Priya", got[0].Body)
	assert.Equal(t, "wamid.123", got[0].ProviderMessageID)
}

// --- Task Tests ---

func TestCreateAndListTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead := seedTestLead(t, s, "")

	task := &Task{
		ID:       uuid.New().String(),
		LeadID:   lead.ID,
		Title:    "Call Priya Sharma",
		Priority: "high",
		Status:   "open",
		DueDate:  time.Now().UTC().AddDate(0, 0, 2),
	}
	require.NoError(t, s.CreateTask(ctx, task))

	tasks, err := s.ListTasksForLead(ctx, lead.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Call Priya Sharma", tasks[0].Title)
	assert.Equal(t, "high", tasks[0].Priority)
	assert.Equal(t, "open", tasks[0].Status)
}

// --- Event Log Tests ---

func TestAppendEventSequencesPerExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedTestWorkflow(t, s, true)
	lead := seedTestLead(t, s, "")
	exec1 := seedTestExecution(t, s, wf.ID, lead.ID, pendingAction(0, time.Now().UTC()))
	exec2 := seedTestExecution(t, s, wf.ID, lead.ID, pendingAction(0, time.Now().UTC()))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendEvent(ctx, &Event{
			ExecutionID: exec1.ID,
			Type:        schema.EventExecutionStarted,
			Payload:     json.RawMessage(`{"n":1}`),
		}))
	}
	require.NoError(t, s.AppendEvent(ctx, &Event{
		ExecutionID: exec2.ID,
		Type:        schema.EventExecutionCreated,
	}))

	events, err := s.GetEvents(ctx, exec1.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}

	// Sequences are independent per execution.
	other, err := s.GetEvents(ctx, exec2.ID, 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, int64(1), other[0].Sequence)
}

func TestGetEventsSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedTestWorkflow(t, s, true)
	lead := seedTestLead(t, s, "")
	exec := seedTestExecution(t, s, wf.ID, lead.ID, pendingAction(0, time.Now().UTC()))

	for i := 0; i < 4; i++ {
		require.NoError(t, s.AppendEvent(ctx, &Event{
			ExecutionID: exec.ID,
			Type:        schema.EventActionCompleted,
		}))
	}

	tail, err := s.GetEvents(ctx, exec.ID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(3), tail[0].Sequence)
	assert.Equal(t, int64(4), tail[1].Sequence)
}
