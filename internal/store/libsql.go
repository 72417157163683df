package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/gridhaus/leadflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	def, err := json.Marshal(wf.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, definition, condition_language, condition_expr, is_active, schedule, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, nullStr(wf.Description), string(def),
		nullStr(wf.ConditionLanguage), nullStr(wf.ConditionExpr),
		boolInt(wf.Active), nullStr(wf.Schedule),
		timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, definition, condition_language, condition_expr, is_active, schedule, created_at, updated_at
		 FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	return wf, err
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error {
	var sets []string
	var args []any

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *update.Description)
	}
	if update.Definition != nil {
		def, err := json.Marshal(update.Definition)
		if err != nil {
			return fmt.Errorf("marshal definition: %w", err)
		}
		sets = append(sets, "definition = ?")
		args = append(args, string(def))
	}
	if update.ConditionLanguage != nil {
		sets = append(sets, "condition_language = ?")
		args = append(args, *update.ConditionLanguage)
	}
	if update.ConditionExpr != nil {
		sets = append(sets, "condition_expr = ?")
		args = append(args, *update.ConditionExpr)
	}
	if update.Active != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, boolInt(*update.Active))
	}
	if update.Schedule != nil {
		sets = append(sets, "schedule = ?")
		args = append(args, *update.Schedule)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE workflows SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	var where []string
	var args []any

	if filter.Active != nil {
		where = append(where, "is_active = ?")
		args = append(args, boolInt(*filter.Active))
	}
	if filter.Scheduled {
		where = append(where, "schedule IS NOT NULL AND schedule != ''")
	}

	query := `SELECT id, name, description, definition, condition_language, condition_expr, is_active, schedule, created_at, updated_at FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	wf := &Workflow{}
	var desc, condLang, condExpr, schedule sql.NullString
	var defJSON string
	var active int
	err := row.Scan(&wf.ID, &wf.Name, &desc, &defJSON, &condLang, &condExpr, &active, &schedule, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}
	wf.Description = desc.String
	wf.ConditionLanguage = condLang.String
	wf.ConditionExpr = condExpr.String
	wf.Active = active != 0
	wf.Schedule = schedule.String
	if err := json.Unmarshal([]byte(defJSON), &wf.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return wf, nil
}

// --- Message templates ---

func (s *LibSQLStore) CreateMessageTemplate(ctx context.Context, tpl *MessageTemplate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_templates (id, name, channel, subject, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		tpl.ID, tpl.Name, nullStr(tpl.Channel), nullStr(tpl.Subject), tpl.Body, timeOrNow(tpl.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetMessageTemplate(ctx context.Context, id string) (*MessageTemplate, error) {
	t := &MessageTemplate{}
	var channel, subject sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, channel, subject, body, created_at FROM message_templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &channel, &subject, &t.Body, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("message_template", id)
	}
	if err != nil {
		return nil, err
	}
	t.Channel = channel.String
	t.Subject = subject.String
	return t, nil
}

// --- Leads and related entities ---

func (s *LibSQLStore) CreateBuilder(ctx context.Context, b *Builder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builders (id, name, company_name) VALUES (?, ?, ?)`,
		b.ID, b.Name, nullStr(b.CompanyName),
	)
	return err
}

func (s *LibSQLStore) CreateProperty(ctx context.Context, p *Property) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO properties (id, title, property_type, price_inr, locality, city, bedrooms, area_sqft, builder_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, nullStr(p.PropertyType), p.PriceINR,
		nullStr(p.Locality), nullStr(p.City), p.Bedrooms, p.AreaSqft, nullStr(p.BuilderID),
	)
	return err
}

func (s *LibSQLStore) CreateLead(ctx context.Context, l *Lead) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, name, phone, email, telegram_chat, discord_chat, score, priority_tier, next_action, property_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, nullStr(l.Phone), nullStr(l.Email),
		nullStr(l.TelegramChat), nullStr(l.DiscordChat),
		l.Score, nullStr(l.PriorityTier), nullStr(l.NextAction), nullStr(l.PropertyID),
		timeOrNow(l.CreatedAt), timeOrNow(l.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetLead(ctx context.Context, id string) (*Lead, error) {
	l := &Lead{}
	var phone, email, tg, dc, tier, next, propID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone, email, telegram_chat, discord_chat, score, priority_tier, next_action, property_id, created_at, updated_at
		 FROM leads WHERE id = ?`, id,
	).Scan(&l.ID, &l.Name, &phone, &email, &tg, &dc, &l.Score, &tier, &next, &propID, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("lead", id)
	}
	if err != nil {
		return nil, err
	}
	l.Phone = phone.String
	l.Email = email.String
	l.TelegramChat = tg.String
	l.DiscordChat = dc.String
	l.PriorityTier = tier.String
	l.NextAction = next.String
	l.PropertyID = propID.String
	return l, nil
}

func (s *LibSQLStore) ListLeads(ctx context.Context, limit, offset int) ([]*Lead, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, phone, email, telegram_chat, discord_chat, score, priority_tier, next_action, property_id, created_at, updated_at
		 FROM leads ORDER BY created_at, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []*Lead
	for rows.Next() {
		l := &Lead{}
		var phone, email, tg, dc, tier, next, propID sql.NullString
		if err := rows.Scan(&l.ID, &l.Name, &phone, &email, &tg, &dc, &l.Score, &tier, &next, &propID, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		l.Phone = phone.String
		l.Email = email.String
		l.TelegramChat = tg.String
		l.DiscordChat = dc.String
		l.PriorityTier = tier.String
		l.NextAction = next.String
		l.PropertyID = propID.String
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func (s *LibSQLStore) GetLeadSnapshot(ctx context.Context, id string) (*schema.LeadSnapshot, error) {
	snap := &schema.LeadSnapshot{}
	var phone, email, tg, dc, tier, next sql.NullString
	var propTitle, propType, locality, city, builderName, companyName sql.NullString
	var priceINR sql.NullFloat64
	var bedrooms, areaSqft sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT l.id, l.name, l.phone, l.email, l.telegram_chat, l.discord_chat, l.score, l.priority_tier, l.next_action,
		        p.title, p.property_type, p.price_inr, p.locality, p.city, p.bedrooms, p.area_sqft,
		        b.name, b.company_name
		 FROM leads l
		 LEFT JOIN properties p ON p.id = l.property_id
		 LEFT JOIN builders b ON b.id = p.builder_id
		 WHERE l.id = ?`, id,
	).Scan(&snap.LeadID, &snap.Name, &phone, &email, &tg, &dc, &snap.Score, &tier, &next,
		&propTitle, &propType, &priceINR, &locality, &city, &bedrooms, &areaSqft,
		&builderName, &companyName)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("lead", id)
	}
	if err != nil {
		return nil, err
	}
	snap.Phone = phone.String
	snap.Email = email.String
	snap.TelegramChat = tg.String
	snap.DiscordChat = dc.String
	snap.PriorityTier = tier.String
	snap.NextAction = next.String
	snap.PropertyTitle = propTitle.String
	snap.PropertyType = propType.String
	snap.PriceINR = priceINR.Float64
	snap.Locality = locality.String
	snap.City = city.String
	snap.Bedrooms = int(bedrooms.Int64)
	snap.AreaSqft = int(areaSqft.Int64)
	snap.BuilderName = builderName.String
	if snap.BuilderName == "" {
		snap.BuilderName = companyName.String
	}
	return snap, nil
}

// leadColumns is the closed set of lead fields an update_lead action may touch.
var leadColumns = map[string]bool{
	"name":          true,
	"phone":         true,
	"email":         true,
	"telegram_chat": true,
	"discord_chat":  true,
	"score":         true,
	"priority_tier": true,
	"next_action":   true,
}

func (s *LibSQLStore) UpdateLeadFields(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	var sets []string
	var args []any
	for col, val := range fields {
		if !leadColumns[col] {
			return schema.NewErrorf(schema.ErrCodeValidation, "lead field %q is not updatable", col)
		}
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE leads SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "lead", id)
}

// --- Executions ---

func (s *LibSQLStore) CreateExecutionWithActions(ctx context.Context, exec *Execution, acts []*Action) error {
	snapJSON, err := json.Marshal(exec.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	payload, err := marshalMapOrDefault(exec.TriggerPayload)
	if err != nil {
		return fmt.Errorf("marshal trigger_payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, lead_id, trigger_kind, trigger_payload, snapshot, status, forced, actions_completed, actions_failed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`,
		exec.ID, exec.WorkflowID, exec.LeadID, string(exec.TriggerKind),
		string(payload), string(snapJSON), string(exec.Status), exec.Forced, timeOrNow(exec.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict,
				"lead %s already has an active execution for workflow %s", exec.LeadID, exec.WorkflowID).
				WithCause(err)
		}
		return fmt.Errorf("insert execution: %w", err)
	}

	for _, a := range acts {
		cfg, err := json.Marshal(a.Config)
		if err != nil {
			return fmt.Errorf("marshal action config: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO actions (id, execution_id, position, action_type, config, scheduled_for, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.ExecutionID, a.Position, string(a.Type), string(cfg), a.ScheduledFor, string(a.Status),
		)
		if err != nil {
			return fmt.Errorf("insert action %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit execution: %w", err)
	}
	return nil
}

const executionColumns = `id, workflow_id, lead_id, trigger_kind, trigger_payload, snapshot, status, forced, error_message, actions_completed, actions_failed, created_at, started_at, completed_at`

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return e, err
}

func (s *LibSQLStore) FindActiveExecution(ctx context.Context, workflowID, leadID string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE workflow_id = ? AND lead_id = ? AND status IN ('pending', 'running')
		 ORDER BY created_at DESC LIMIT 1`, workflowID, leadID)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *LibSQLStore) ListRecentExecutions(ctx context.Context, workflowID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE workflow_id = ? ORDER BY created_at DESC LIMIT ?`, workflowID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

func (s *LibSQLStore) TransitionExecution(ctx context.Context, id string, from, to schema.ExecutionStatus, update ExecutionUpdate) error {
	sets := []string{"status = ?"}
	args := []any{string(to)}

	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *update.ErrorMessage)
	}
	if update.ActionsCompleted != nil {
		sets = append(sets, "actions_completed = ?")
		args = append(args, *update.ActionsCompleted)
	}
	if update.ActionsFailed != nil {
		sets = append(sets, "actions_failed = ?")
		args = append(args, *update.ActionsFailed)
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	args = append(args, id, string(from))

	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ? AND status = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkCASRows(res, "execution", id, string(from))
}

func scanExecution(row rowScanner) (*Execution, error) {
	e := &Execution{}
	var kind, status string
	var payload, snapJSON string
	var errMsg sql.NullString
	var payloadNS sql.NullString
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&e.ID, &e.WorkflowID, &e.LeadID, &kind, &payloadNS, &snapJSON,
		&status, &e.Forced, &errMsg, &e.ActionsCompleted, &e.ActionsFailed,
		&e.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	e.TriggerKind = schema.TriggerKind(kind)
	e.Status = schema.ExecutionStatus(status)
	e.ErrorMessage = errMsg.String
	payload = payloadNS.String
	if payload != "" {
		_ = json.Unmarshal([]byte(payload), &e.TriggerPayload)
	}
	if err := json.Unmarshal([]byte(snapJSON), &e.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if startedAt.Valid {
		e.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return e, nil
}

// --- Actions ---

const actionColumns = `id, execution_id, position, action_type, config, scheduled_for, status, result, error_message, external_message_id, external_status, started_at, completed_at`

func (s *LibSQLStore) GetAction(ctx context.Context, id string) (*Action, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("action", id)
	}
	return a, err
}

func (s *LibSQLStore) ListActions(ctx context.Context, executionID string) ([]*Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+actionColumns+` FROM actions
		 WHERE execution_id = ? ORDER BY scheduled_for ASC, position ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActions(rows)
}

func (s *LibSQLStore) ListDueActions(ctx context.Context, now time.Time, limit int) ([]*Action, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+actionColumns+` FROM actions
		 WHERE status = 'pending' AND scheduled_for <= ?
		 ORDER BY scheduled_for ASC, position ASC LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActions(rows)
}

func (s *LibSQLStore) TransitionAction(ctx context.Context, id string, from, to schema.ActionStatus, update ActionUpdate) error {
	sets := []string{"status = ?"}
	args := []any{string(to)}

	if update.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, string(update.Result))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *update.ErrorMessage)
	}
	if update.ExternalMessageID != nil {
		sets = append(sets, "external_message_id = ?")
		args = append(args, *update.ExternalMessageID)
	}
	if update.ExternalStatus != nil {
		sets = append(sets, "external_status = ?")
		args = append(args, *update.ExternalStatus)
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	args = append(args, id, string(from))

	query := fmt.Sprintf("UPDATE actions SET %s WHERE id = ? AND status = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkCASRows(res, "action", id, string(from))
}

func scanAction(row rowScanner) (*Action, error) {
	a := &Action{}
	var typ, status, cfgJSON string
	var result, errMsg, extID, extStatus sql.NullString
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&a.ID, &a.ExecutionID, &a.Position, &typ, &cfgJSON, &a.ScheduledFor,
		&status, &result, &errMsg, &extID, &extStatus, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	a.Type = schema.ActionType(typ)
	a.Status = schema.ActionStatus(status)
	a.Result = rawOrNil(result)
	a.ErrorMessage = errMsg.String
	a.ExternalMessageID = extID.String
	a.ExternalStatus = extStatus.String
	if err := json.Unmarshal([]byte(cfgJSON), &a.Config); err != nil {
		return nil, fmt.Errorf("unmarshal action config: %w", err)
	}
	if startedAt.Valid {
		a.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	return a, nil
}

func collectActions(rows *sql.Rows) ([]*Action, error) {
	var acts []*Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		acts = append(acts, a)
	}
	return acts, rows.Err()
}

// --- Deliveries ---

func (s *LibSQLStore) CreateDelivery(ctx context.Context, d *Delivery) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (action_id, channel, recipient, subject, body, provider, provider_message_id, provider_status, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ActionID, d.Channel, d.Recipient, nullStr(d.Subject), d.Body,
		nullStr(d.Provider), nullStr(d.ProviderMessageID), nullStr(d.ProviderStatus),
		timeOrNow(d.SentAt),
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		d.ID = id
	}
	return nil
}

func (s *LibSQLStore) ListDeliveries(ctx context.Context, actionID string) ([]*Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action_id, channel, recipient, subject, body, provider, provider_message_id, provider_status, sent_at
		 FROM deliveries WHERE action_id = ? ORDER BY id ASC`, actionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*Delivery
	for rows.Next() {
		d := &Delivery{}
		var subject, provider, msgID, status sql.NullString
		if err := rows.Scan(&d.ID, &d.ActionID, &d.Channel, &d.Recipient, &subject, &d.Body,
			&provider, &msgID, &status, &d.SentAt); err != nil {
			return nil, err
		}
		d.Subject = subject.String
		d.Provider = provider.String
		d.ProviderMessageID = msgID.String
		d.ProviderStatus = status.String
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// --- Tasks ---

func (s *LibSQLStore) CreateTask(ctx context.Context, t *Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, lead_id, title, description, priority, status, due_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.LeadID, t.Title, nullStr(t.Description), nullStr(t.Priority),
		t.Status, t.DueDate, timeOrNow(t.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListTasksForLead(ctx context.Context, leadID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, title, description, priority, status, due_date, created_at
		 FROM tasks WHERE lead_id = ? ORDER BY created_at DESC`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t := &Task{}
		var desc, priority sql.NullString
		if err := rows.Scan(&t.ID, &t.LeadID, &t.Title, &desc, &priority, &t.Status, &t.DueDate, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Description = desc.String
		t.Priority = priority.String
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Next per-execution sequence number.
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (execution_id, action_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ExecutionID, nullStr(event.ActionID), event.Type,
		nullRaw(event.Payload), timeOrNow(event.Timestamp), seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, action_id, event_type, payload, timestamp, sequence
		 FROM events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var actionID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &actionID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.ActionID = actionID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

// checkCASRows maps a zero-row compare-and-set update to CONFLICT: the row
// exists but was already moved out of the expected status by a racing writer.
func checkCASRows(res sql.Result, resource, id, expected string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"%s %q is not in status %q", resource, id, expected)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite unique-constraint
// failure. The driver surfaces constraint errors as plain strings, so the
// message text is the only discriminator available.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*LibSQLStore)(nil)
