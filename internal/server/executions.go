package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gridhaus/leadflow/internal/engine"
	"github.com/gridhaus/leadflow/internal/store"
	"github.com/gridhaus/leadflow/pkg/schema"
)

// handleExecute triggers a workflow for a lead. The response is a definite
// synchronous outcome (created or skipped); action processing continues
// asynchronously.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkflowID     string         `json:"workflow_id"`
		LeadID         string         `json:"lead_id"`
		TriggerKind    string         `json:"trigger_kind"`
		TriggerPayload map[string]any `json:"trigger_payload"`
		ForceExecute   bool           `json:"force_execute"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	res, err := s.deps.Engine.Execute(r.Context(), engine.ExecuteRequest{
		WorkflowID:     body.WorkflowID,
		LeadID:         body.LeadID,
		TriggerKind:    schema.TriggerKind(body.TriggerKind),
		TriggerPayload: body.TriggerPayload,
		Force:          body.ForceExecute,
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Status == engine.StatusSkipped {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// handleProcessPending runs one recovery sweep on demand.
func (s *Server) handleProcessPending(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.ProcessPending(r.Context())
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGetExecution returns an execution together with its action rows.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	exec, err := s.deps.Store.GetExecution(ctx, id)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	acts, err := s.deps.Store.ListActions(ctx, id)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if acts == nil {
		acts = []*store.Action{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"execution": exec, "actions": acts})
}

// handleExecutionEvents returns the execution's event log, optionally from a
// sequence offset.
func (s *Server) handleExecutionEvents(w http.ResponseWriter, r *http.Request) {
	since := int64(queryInt(r, "since", 0))
	events, err := s.deps.Store.GetEvents(r.Context(), r.PathValue("id"), since)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}
