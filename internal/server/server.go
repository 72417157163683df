package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gridhaus/leadflow/internal/engine"
	"github.com/gridhaus/leadflow/internal/store"
	"github.com/gridhaus/leadflow/internal/streaming"
	"github.com/gridhaus/leadflow/internal/validation"
)

// EngineAPI is the slice of the engine the HTTP layer drives.
// Satisfied by *engine.Engine and test fakes.
type EngineAPI interface {
	Execute(ctx context.Context, req engine.ExecuteRequest) (*engine.ExecuteResult, error)
	ProcessPending(ctx context.Context) (*engine.SweepResult, error)
	Stats(ctx context.Context, workflowID string) (*engine.WorkflowStats, error)
}

// Deps holds the dependencies for the API server.
type Deps struct {
	Store     store.Store
	Engine    EngineAPI
	Hub       streaming.EventHub
	Validator *validation.JSONSchemaValidator
	Logger    *slog.Logger
}

// Server serves the workflow automation HTTP API.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler with all API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Workflows.
	mux.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/activate", s.handleActivateWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/stats", s.handleWorkflowStats)
	mux.HandleFunc("GET /api/workflows/{id}/executions", s.handleListExecutions)

	// Execution engine.
	mux.HandleFunc("POST /api/workflows/execute", s.handleExecute)
	mux.HandleFunc("POST /api/workflows/process-pending", s.handleProcessPending)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /api/executions/{id}/events", s.handleExecutionEvents)

	// CRM resources.
	mux.HandleFunc("POST /api/templates", s.handleCreateTemplate)
	mux.HandleFunc("GET /api/templates/{id}", s.handleGetTemplate)
	mux.HandleFunc("POST /api/builders", s.handleCreateBuilder)
	mux.HandleFunc("POST /api/properties", s.handleCreateProperty)
	mux.HandleFunc("POST /api/leads", s.handleCreateLead)
	mux.HandleFunc("GET /api/leads", s.handleListLeads)
	mux.HandleFunc("GET /api/leads/{id}", s.handleGetLead)
	mux.HandleFunc("GET /api/leads/{id}/tasks", s.handleLeadTasks)

	// Live event stream.
	mux.HandleFunc("GET /api/events/stream", s.handleSSE)

	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// ListenAndServe runs the API server until the context is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("api server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
