package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gridhaus/leadflow/internal/store"
	"github.com/gridhaus/leadflow/internal/validation"
	"github.com/gridhaus/leadflow/pkg/schema"
)

// handleCreateWorkflow validates and stores a new workflow definition.
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Name              string                    `json:"name"`
		Description       string                    `json:"description"`
		Definition        schema.WorkflowDefinition `json:"definition"`
		ConditionLanguage string                    `json:"condition_language"`
		ConditionExpr     string                    `json:"condition_expr"`
		Active            *bool                     `json:"active"`
		Schedule          string                    `json:"schedule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if err := s.deps.Validator.ValidateDefinition(&body.Definition); err != nil {
		writeFlowError(w, err)
		return
	}
	if err := validation.ValidateWorkflow(body.Name, body.ConditionLanguage, body.Schedule); err != nil {
		writeFlowError(w, err)
		return
	}

	active := true
	if body.Active != nil {
		active = *body.Active
	}

	now := time.Now().UTC()
	wf := &store.Workflow{
		ID:                uuid.NewString(),
		Name:              body.Name,
		Description:       body.Description,
		Definition:        body.Definition,
		ConditionLanguage: body.ConditionLanguage,
		ConditionExpr:     body.ConditionExpr,
		Active:            active,
		Schedule:          body.Schedule,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.deps.Store.CreateWorkflow(ctx, wf); err != nil {
		writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	filter := store.WorkflowFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("active"); v != "" {
		active := v == "true"
		filter.Active = &active
	}

	wfs, err := s.deps.Store.ListWorkflows(r.Context(), filter)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if wfs == nil {
		wfs = []*store.Workflow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": wfs, "count": len(wfs)})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleActivateWorkflow toggles the active flag. Deactivation never touches
// in-flight executions; it only stops new ones from being created.
func (s *Server) handleActivateWorkflow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Active == nil {
		writeError(w, http.StatusBadRequest, "active is required")
		return
	}

	id := r.PathValue("id")
	if err := s.deps.Store.UpdateWorkflow(r.Context(), id, store.WorkflowUpdate{Active: body.Active}); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": *body.Active})
}

func (s *Server) handleWorkflowStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Engine.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	execs, err := s.deps.Store.ListRecentExecutions(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if execs == nil {
		execs = []*store.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs, "count": len(execs)})
}
