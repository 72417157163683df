package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gridhaus/leadflow/internal/engine"
	"github.com/gridhaus/leadflow/internal/store"
	"github.com/gridhaus/leadflow/pkg/schema"
)

// DefaultTickInterval is how often the scheduler polls for due schedules and
// runs the recovery sweep.
const DefaultTickInterval = 60 * time.Second

// leadBatchSize bounds how many leads one ListLeads page carries when a
// schedule fires.
const leadBatchSize = 200

// TriggerRunner is the slice of the engine the scheduler drives.
type TriggerRunner interface {
	Execute(ctx context.Context, req engine.ExecuteRequest) (*engine.ExecuteResult, error)
	ProcessPending(ctx context.Context) (*engine.SweepResult, error)
}

// scheduleEntry tracks one workflow's parsed cron schedule and next fire time.
type scheduleEntry struct {
	spec     string
	schedule cron.Schedule
	next     time.Time
}

// Scheduler fires time-based workflow triggers from cron schedules and runs
// the periodic ProcessPending recovery sweep. Each fire fans the workflow out
// over all leads; the engine's active, duplicate, and condition gates decide
// which leads actually get an execution.
type Scheduler struct {
	store    store.Store
	runner   TriggerRunner
	parser   cron.Parser
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// entries is touched only from the loop goroutine.
	entries map[string]*scheduleEntry
}

// NewScheduler creates a Scheduler. A non-positive interval falls back to
// DefaultTickInterval.
func NewScheduler(s store.Store, runner TriggerRunner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval: interval,
		logger:   logger,
		entries:  make(map[string]*scheduleEntry),
	}
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately so restarts recover stalled work fast.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs the recovery sweep and fires any due workflow schedules.
func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.runner.ProcessPending(ctx); err != nil {
		s.logger.Error("recovery sweep failed", slog.String("error", err.Error()))
	}

	active := true
	wfs, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{Active: &active, Scheduled: true})
	if err != nil {
		s.logger.Error("list scheduled workflows failed", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(wfs))
	for _, wf := range wfs {
		seen[wf.ID] = struct{}{}
		entry, ok := s.entries[wf.ID]
		if !ok || entry.spec != wf.Schedule {
			sched, err := s.parser.Parse(wf.Schedule)
			if err != nil {
				s.logger.Error("invalid workflow schedule",
					slog.String("workflow_id", wf.ID),
					slog.String("schedule", wf.Schedule),
					slog.String("error", err.Error()))
				continue
			}
			// New or changed schedules wait for their next slot.
			s.entries[wf.ID] = &scheduleEntry{spec: wf.Schedule, schedule: sched, next: sched.Next(now)}
			continue
		}

		if entry.next.After(now) {
			continue
		}
		s.fire(ctx, wf, now)
		entry.next = entry.schedule.Next(now)
	}

	// Drop entries for workflows that were deactivated or unscheduled.
	for id := range s.entries {
		if _, ok := seen[id]; !ok {
			delete(s.entries, id)
		}
	}
}

// fire fans one due schedule out over all leads.
func (s *Scheduler) fire(ctx context.Context, wf *store.Workflow, now time.Time) {
	payload := map[string]any{
		"schedule": wf.Schedule,
		"fired_at": now.Format(time.RFC3339),
	}

	created, skipped := 0, 0
	for offset := 0; ; offset += leadBatchSize {
		leads, err := s.store.ListLeads(ctx, leadBatchSize, offset)
		if err != nil {
			s.logger.Error("list leads failed",
				slog.String("workflow_id", wf.ID), slog.String("error", err.Error()))
			return
		}
		if len(leads) == 0 {
			break
		}
		for _, lead := range leads {
			res, err := s.runner.Execute(ctx, engine.ExecuteRequest{
				WorkflowID:     wf.ID,
				LeadID:         lead.ID,
				TriggerKind:    schema.TriggerTimeBased,
				TriggerPayload: payload,
			})
			if err != nil {
				s.logger.Error("time-based trigger failed",
					slog.String("workflow_id", wf.ID),
					slog.String("lead_id", lead.ID),
					slog.String("error", err.Error()))
				continue
			}
			if res.Status == engine.StatusCreated {
				created++
			} else {
				skipped++
			}
		}
		if len(leads) < leadBatchSize {
			break
		}
	}

	s.logger.Info("schedule fired",
		slog.String("workflow_id", wf.ID),
		slog.String("schedule", wf.Schedule),
		slog.Int("created", created),
		slog.Int("skipped", skipped))
}

// NextRun computes the next fire time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return sched.Next(from), nil
}
