package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gridhaus/leadflow/internal/channels"
	"github.com/gridhaus/leadflow/internal/store"
	"github.com/gridhaus/leadflow/internal/streaming"
	"github.com/gridhaus/leadflow/pkg/schema"
)

// ConditionEvaluator decides whether a workflow's entry condition holds for a
// lead snapshot and trigger. Satisfied by *conditions.Evaluator and test fakes.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, wf *store.Workflow, snap *schema.LeadSnapshot, trigger *schema.Trigger) (bool, error)
}

// DefaultPoolSize is the default worker pool concurrency.
const DefaultPoolSize = 10

// DefaultSweepBatchSize bounds how many due actions one recovery sweep picks up.
const DefaultSweepBatchSize = 100

// statsWindow is how many recent executions workflow stats aggregate over.
const statsWindow = 100

// Config holds engine tuning knobs.
type Config struct {
	PoolSize       int // max concurrent execution goroutines
	SweepBatchSize int // max due actions per recovery sweep
}

// Engine coordinates workflow executions: it gates triggers, materializes
// executions, schedules their actions, and dispatches outbound effects.
type Engine struct {
	store      store.Store
	evaluator  ConditionEvaluator
	dispatcher *Dispatcher
	execFSM    *ExecutionFSM
	actionFSM  *ActionFSM
	pool       *WorkerPool
	hub        streaming.EventHub
	logger     *slog.Logger
	config     Config

	// stopCtx interrupts scheduling waits on shutdown; interrupted
	// executions are later resumed by the sweep.
	stopCtx  context.Context
	stopFunc context.CancelFunc

	// mu guards inflight, the set of execution IDs this process is running.
	mu       sync.Mutex
	inflight map[string]struct{}

	// timerMu guards timers, the armed per-execution resume timers. An
	// execution waiting on a far-off action holds a timer here instead of
	// a pool slot.
	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

// New creates an Engine with the given dependencies.
func New(s store.Store, eval ConditionEvaluator, senders *channels.Registry, hub streaming.EventHub, logger *slog.Logger, cfg Config) *Engine {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = DefaultSweepBatchSize
	}
	if hub == nil {
		hub = streaming.NewMemoryHub()
	}
	if logger == nil {
		logger = slog.Default()
	}

	stopCtx, stopFunc := context.WithCancel(context.Background())
	return &Engine{
		store:      s,
		evaluator:  eval,
		dispatcher: NewDispatcher(s, senders, logger),
		execFSM:    NewExecutionFSM(s),
		actionFSM:  NewActionFSM(s),
		pool:       NewWorkerPool(cfg.PoolSize),
		hub:        hub,
		logger:     logger,
		config:     cfg,
		stopCtx:    stopCtx,
		stopFunc:   stopFunc,
		inflight:   make(map[string]struct{}),
		timers:     make(map[string]*time.Timer),
	}
}

// Wait blocks until all in-flight executions finish.
func (e *Engine) Wait() {
	e.pool.Wait()
}

// Shutdown interrupts scheduling waits, disarms resume timers, stops
// accepting new executions, and waits for in-flight ones to unwind.
// Interrupted executions are recovered by the next ProcessPending sweep.
func (e *Engine) Shutdown() {
	e.stopFunc()
	e.timerMu.Lock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.timerMu.Unlock()
	e.pool.Shutdown()
}

// PoolMetrics returns a snapshot of the execution pool's metrics.
func (e *Engine) PoolMetrics() PoolMetrics {
	return e.pool.Metrics()
}

// tryAcquire marks an execution as in-flight in this process. Returns false
// if it is already being run here.
func (e *Engine) tryAcquire(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inflight[executionID]; ok {
		return false
	}
	e.inflight[executionID] = struct{}{}
	return true
}

func (e *Engine) release(executionID string) {
	e.mu.Lock()
	delete(e.inflight, executionID)
	e.mu.Unlock()
}

func (e *Engine) isInflight(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[executionID]
	return ok
}

// scheduleResume arms a timer that re-submits the execution to the pool once
// its next action comes due. No pool slot is held while the timer runs, so a
// parked nurture flow never starves other executions. Re-arming for the same
// execution replaces the previous timer.
func (e *Engine) scheduleResume(ctx context.Context, executionID string, due time.Time) {
	runCtx := context.WithoutCancel(ctx)

	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if e.stopCtx.Err() != nil {
		return
	}
	if prev, ok := e.timers[executionID]; ok {
		prev.Stop()
	}
	e.timers[executionID] = time.AfterFunc(time.Until(due), func() {
		e.clearTimer(executionID)
		if e.stopCtx.Err() != nil {
			return
		}
		// Blocking here is fine: the timer callback runs on its own
		// goroutine, not a pool slot or the scheduler tick.
		if err := e.pool.Submit(runCtx, func(ctx context.Context) error {
			return e.runExecution(ctx, executionID)
		}); err != nil {
			e.logger.WarnContext(runCtx, "resume hand-off failed, deferring to sweep",
				slog.String("execution_id", executionID), slog.String("error", err.Error()))
		}
	})
}

func (e *Engine) clearTimer(executionID string) {
	e.timerMu.Lock()
	delete(e.timers, executionID)
	e.timerMu.Unlock()
}

// publish pushes a stream event to subscribers. Publish failures are logged,
// never propagated: streaming is observability, not state.
func (e *Engine) publish(ctx context.Context, ev streaming.StreamEvent) {
	if err := e.hub.Publish(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "publish stream event failed",
			slog.String("event_type", ev.EventType), slog.String("error", err.Error()))
	}
}
