package store

import (
	"encoding/json"
	"time"

	"github.com/gridhaus/leadflow/pkg/schema"
)

// Workflow is the persisted representation of a reusable automation.
// The definition is immutable from the point of view of live executions:
// an execution materializes its actions at creation time and never re-reads it.
type Workflow struct {
	ID                string                    `json:"id"`
	Name              string                    `json:"name"`
	Description       string                    `json:"description,omitempty"`
	Definition        schema.WorkflowDefinition `json:"definition"`
	ConditionLanguage string                    `json:"condition_language,omitempty"` // expr | cel | jq
	ConditionExpr     string                    `json:"condition_expr,omitempty"`
	Active            bool                      `json:"active"`
	Schedule          string                    `json:"schedule,omitempty"` // cron expression for time-based triggers
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

// Execution is one instantiation of a workflow for one lead.
type Execution struct {
	ID               string                 `json:"id"`
	WorkflowID       string                 `json:"workflow_id"`
	LeadID           string                 `json:"lead_id"`
	TriggerKind      schema.TriggerKind     `json:"trigger_kind"`
	TriggerPayload   map[string]any         `json:"trigger_payload,omitempty"`
	Snapshot         schema.LeadSnapshot    `json:"snapshot"`
	Status           schema.ExecutionStatus `json:"status"`
	// Forced executions bypass the one-active-execution guard and may
	// coexist with an active unforced execution for the same lead.
	Forced           bool                   `json:"forced,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	ActionsCompleted int                    `json:"actions_completed"`
	ActionsFailed    int                    `json:"actions_failed"`
	CreatedAt        time.Time              `json:"created_at"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
}

// Action is one scheduled step inside an execution. Actions are created as a
// batch together with their execution and are never reordered afterwards.
type Action struct {
	ID                string                `json:"id"`
	ExecutionID       string                `json:"execution_id"`
	Position          int                   `json:"position"`
	Type              schema.ActionType     `json:"type"`
	Config            schema.ActionTemplate `json:"config"`
	ScheduledFor      time.Time             `json:"scheduled_for"`
	Status            schema.ActionStatus   `json:"status"`
	Result            json.RawMessage       `json:"result,omitempty"`
	ErrorMessage      string                `json:"error_message,omitempty"`
	ExternalMessageID string                `json:"external_message_id,omitempty"`
	ExternalStatus    string                `json:"external_status,omitempty"`
	StartedAt         *time.Time            `json:"started_at,omitempty"`
	CompletedAt       *time.Time            `json:"completed_at,omitempty"`
}

// Delivery is an append-only record of one outbound channel send. Write-once.
type Delivery struct {
	ID                int64     `json:"id"`
	ActionID          string    `json:"action_id"`
	Channel           string    `json:"channel"`
	Recipient         string    `json:"recipient"`
	Subject           string    `json:"subject,omitempty"`
	Body              string    `json:"body"`
	Provider          string    `json:"provider,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	ProviderStatus    string    `json:"provider_status,omitempty"`
	SentAt            time.Time `json:"sent_at"`
}

// MessageTemplate is a stored message body referenced by send actions.
type MessageTemplate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Channel   string    `json:"channel,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Lead is the mutable record that triggers and update_lead actions operate on.
type Lead struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone,omitempty"`
	Email        string    `json:"email,omitempty"`
	TelegramChat string    `json:"telegram_chat,omitempty"`
	DiscordChat  string    `json:"discord_chat,omitempty"`
	Score        int       `json:"score"`
	PriorityTier string    `json:"priority_tier,omitempty"`
	NextAction   string    `json:"next_action,omitempty"`
	PropertyID   string    `json:"property_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Property is a listing a lead is interested in; feeds the snapshot.
type Property struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	PropertyType string  `json:"property_type,omitempty"`
	PriceINR     float64 `json:"price_inr,omitempty"`
	Locality     string  `json:"locality,omitempty"`
	City         string  `json:"city,omitempty"`
	Bedrooms     int     `json:"bedrooms,omitempty"`
	AreaSqft     int     `json:"area_sqft,omitempty"`
	BuilderID    string  `json:"builder_id,omitempty"`
}

// Builder is the selling party a property belongs to.
type Builder struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CompanyName string `json:"company_name,omitempty"`
}

// Task is a follow-up item created by create_task actions.
type Task struct {
	ID          string    `json:"id"`
	LeadID      string    `json:"lead_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	Status      string    `json:"status"`
	DueDate     time.Time `json:"due_date"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event is an immutable entry in the per-execution event log.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	ActionID    string          `json:"action_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	Active    *bool `json:"active,omitempty"`
	Scheduled bool  `json:"scheduled,omitempty"` // only workflows with a cron schedule
	Limit     int   `json:"limit,omitempty"`
	Offset    int   `json:"offset,omitempty"`
}

// WorkflowUpdate specifies mutable fields of a workflow.
type WorkflowUpdate struct {
	Name              *string                    `json:"name,omitempty"`
	Description       *string                    `json:"description,omitempty"`
	Definition        *schema.WorkflowDefinition `json:"definition,omitempty"`
	ConditionLanguage *string                    `json:"condition_language,omitempty"`
	ConditionExpr     *string                    `json:"condition_expr,omitempty"`
	Active            *bool                      `json:"active,omitempty"`
	Schedule          *string                    `json:"schedule,omitempty"`
}

// ExecutionUpdate specifies mutable fields applied alongside a status transition.
type ExecutionUpdate struct {
	ErrorMessage     *string    `json:"error_message,omitempty"`
	ActionsCompleted *int       `json:"actions_completed,omitempty"`
	ActionsFailed    *int       `json:"actions_failed,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// ActionUpdate specifies mutable fields applied alongside a status transition.
type ActionUpdate struct {
	Result            json.RawMessage `json:"result,omitempty"`
	ErrorMessage      *string         `json:"error_message,omitempty"`
	ExternalMessageID *string         `json:"external_message_id,omitempty"`
	ExternalStatus    *string         `json:"external_status,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}
