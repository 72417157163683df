package schema

// TriggerKind enumerates the events that may instantiate a workflow for a lead.
type TriggerKind string

const (
	TriggerLeadCreated TriggerKind = "lead_created"
	TriggerScoreChange TriggerKind = "score_change"
	TriggerBehavior    TriggerKind = "behavior"
	TriggerTimeBased   TriggerKind = "time_based"
	TriggerManual      TriggerKind = "manual"
)

// Valid reports whether the trigger kind is a known value.
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerLeadCreated, TriggerScoreChange, TriggerBehavior, TriggerTimeBased, TriggerManual:
		return true
	}
	return false
}

// Trigger is a transient tagged event carried into execution creation.
// It is snapshotted onto the execution row but never persisted on its own.
type Trigger struct {
	Kind    TriggerKind    `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ActionType enumerates the kinds of actions a workflow may schedule.
// The set is closed: the dispatcher owns one handler per type.
type ActionType string

const (
	ActionSendMessage ActionType = "send_message"
	ActionUpdateLead  ActionType = "update_lead"
	ActionCreateTask  ActionType = "create_task"
	ActionWait        ActionType = "wait"
)

// Valid reports whether the action type is a known value.
func (t ActionType) Valid() bool {
	switch t {
	case ActionSendMessage, ActionUpdateLead, ActionCreateTask, ActionWait:
		return true
	}
	return false
}

// WorkflowDefinition is the JSON-serializable automation format stored on a
// workflow row. Edits apply only to executions created after the edit; an
// execution materializes its action rows from the definition at creation time
// and never re-reads it.
type WorkflowDefinition struct {
	Actions []ActionTemplate `json:"actions"`
}

// ActionTemplate describes one step of a workflow definition. DelayMinutes is
// relative to execution start; materialization resolves it to an absolute
// scheduled_for timestamp.
type ActionTemplate struct {
	Type         ActionType `json:"type"`
	DelayMinutes int        `json:"delay_minutes,omitempty"`

	// send_message
	Channel    string `json:"channel,omitempty"`
	TemplateID string `json:"template_id,omitempty"`

	// update_lead
	Updates map[string]any `json:"updates,omitempty"`

	// create_task
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	DueInDays   int    `json:"due_in_days,omitempty"`

	// wait
	DurationMinutes int `json:"duration_minutes,omitempty"`
}

// LeadSnapshot is a read-only projection of a lead and its related entities,
// captured when an execution is created. Template rendering and recipient
// resolution read from the snapshot, never from live rows, so a mid-run lead
// edit cannot change an in-flight execution.
type LeadSnapshot struct {
	LeadID       string `json:"lead_id"`
	Name         string `json:"name"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	TelegramChat string `json:"telegram_chat,omitempty"`
	DiscordChat  string `json:"discord_chat,omitempty"`
	Score        int    `json:"score"`
	PriorityTier string `json:"priority_tier,omitempty"`
	NextAction   string `json:"next_action,omitempty"`

	PropertyTitle string  `json:"property_title,omitempty"`
	PropertyType  string  `json:"property_type,omitempty"`
	PriceINR      float64 `json:"price_inr,omitempty"`
	Locality      string  `json:"locality,omitempty"`
	City          string  `json:"city,omitempty"`
	Bedrooms      int     `json:"bedrooms,omitempty"`
	AreaSqft      int     `json:"area_sqft,omitempty"`

	BuilderName string `json:"builder_name,omitempty"`
}

// Recipient returns the snapshot's contact address for the given channel, or
// "" when the lead has none. A missing address is a per-action failure at
// dispatch time, not an execution-level error.
func (s *LeadSnapshot) Recipient(channel string) string {
	switch channel {
	case "whatsapp", "sms":
		return s.Phone
	case "email":
		return s.Email
	case "telegram":
		return s.TelegramChat
	case "discord":
		return s.DiscordChat
	default:
		return ""
	}
}

// Map exposes the snapshot as an expression environment for condition
// evaluation. Keys match the template variable vocabulary where the two
// overlap.
func (s *LeadSnapshot) Map() map[string]any {
	return map[string]any{
		"lead_id":        s.LeadID,
		"name":           s.Name,
		"phone":          s.Phone,
		"email":          s.Email,
		"score":          s.Score,
		"priority_tier":  s.PriorityTier,
		"next_action":    s.NextAction,
		"property_title": s.PropertyTitle,
		"property_type":  s.PropertyType,
		"price_inr":      s.PriceINR,
		"locality":       s.Locality,
		"city":           s.City,
		"bedrooms":       s.Bedrooms,
		"area_sqft":      s.AreaSqft,
		"builder_name":   s.BuilderName,
	}
}
