package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gridhaus/leadflow/internal/store"
)

// handleCreateTemplate stores a message template referenced by send actions.
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string `json:"name"`
		Channel string `json:"channel"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Name == "" || body.Body == "" {
		writeError(w, http.StatusBadRequest, "name and body are required")
		return
	}

	tpl := &store.MessageTemplate{
		ID:        uuid.NewString(),
		Name:      body.Name,
		Channel:   body.Channel,
		Subject:   body.Subject,
		Body:      body.Body,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.deps.Store.CreateMessageTemplate(r.Context(), tpl); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.deps.Store.GetMessageTemplate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleCreateBuilder(w http.ResponseWriter, r *http.Request) {
	var b store.Builder
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if b.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if err := s.deps.Store.CreateBuilder(r.Context(), &b); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleCreateProperty(w http.ResponseWriter, r *http.Request) {
	var p store.Property
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if p.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := s.deps.Store.CreateProperty(r.Context(), &p); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var l store.Lead
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if l.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	if err := s.deps.Store.CreateLead(r.Context(), &l); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	leads, err := s.deps.Store.ListLeads(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if leads == nil {
		leads = []*store.Lead{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": leads, "count": len(leads)})
}

func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := s.deps.Store.GetLead(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) handleLeadTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.deps.Store.ListTasksForLead(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*store.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}
