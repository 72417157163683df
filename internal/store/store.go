package store

import (
	"context"
	"time"

	"github.com/gridhaus/leadflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)

	// Message templates
	CreateMessageTemplate(ctx context.Context, tpl *MessageTemplate) error
	GetMessageTemplate(ctx context.Context, id string) (*MessageTemplate, error)

	// Leads and related entities
	CreateBuilder(ctx context.Context, b *Builder) error
	CreateProperty(ctx context.Context, p *Property) error
	CreateLead(ctx context.Context, l *Lead) error
	GetLead(ctx context.Context, id string) (*Lead, error)
	ListLeads(ctx context.Context, limit, offset int) ([]*Lead, error)
	// GetLeadSnapshot joins the lead with its property and builder rows into
	// an immutable projection for execution creation.
	GetLeadSnapshot(ctx context.Context, id string) (*schema.LeadSnapshot, error)
	UpdateLeadFields(ctx context.Context, id string, fields map[string]any) error

	// Executions and actions. CreateExecutionWithActions writes the execution
	// row and all its action rows in a single transaction; a partially
	// materialized execution must never be observable.
	CreateExecutionWithActions(ctx context.Context, exec *Execution, acts []*Action) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	// FindActiveExecution returns the non-terminal execution for a
	// (workflow, lead) pair, or nil when none exists.
	FindActiveExecution(ctx context.Context, workflowID, leadID string) (*Execution, error)
	ListRecentExecutions(ctx context.Context, workflowID string, limit int) ([]*Execution, error)
	// TransitionExecution moves an execution from one status to another with a
	// compare-and-set guard; it fails with CONFLICT if the row is not in the
	// expected prior status.
	TransitionExecution(ctx context.Context, id string, from, to schema.ExecutionStatus, update ExecutionUpdate) error

	GetAction(ctx context.Context, id string) (*Action, error)
	ListActions(ctx context.Context, executionID string) ([]*Action, error)
	// ListDueActions returns pending actions whose scheduled_for has passed,
	// oldest first, bounded by limit. Used by the recovery sweep.
	ListDueActions(ctx context.Context, now time.Time, limit int) ([]*Action, error)
	// TransitionAction is the compare-and-set counterpart for actions; it
	// tolerates the sweep racing with the in-memory scheduling loop.
	TransitionAction(ctx context.Context, id string, from, to schema.ActionStatus, update ActionUpdate) error

	// Deliveries (append-only)
	CreateDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, actionID string) ([]*Delivery, error)

	// Tasks
	CreateTask(ctx context.Context, t *Task) error
	ListTasksForLead(ctx context.Context, leadID string) ([]*Task, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
