package engine

import (
	"context"

	"github.com/gridhaus/leadflow/pkg/schema"
)

// WorkflowStats aggregates outcomes over a workflow's recent executions.
type WorkflowStats struct {
	WorkflowID       string  `json:"workflow_id"`
	WorkflowName     string  `json:"workflow_name"`
	Window           int     `json:"window"`
	TotalExecutions  int     `json:"total_executions"`
	Pending          int     `json:"pending"`
	Running          int     `json:"running"`
	Completed        int     `json:"completed"`
	Failed           int     `json:"failed"`
	ActionsCompleted int     `json:"actions_completed"`
	ActionsFailed    int     `json:"actions_failed"`
	SuccessRate      float64 `json:"success_rate"`
}

// Stats computes aggregate stats over the workflow's most recent executions.
func (e *Engine) Stats(ctx context.Context, workflowID string) (*WorkflowStats, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	execs, err := e.store.ListRecentExecutions(ctx, workflowID, statsWindow)
	if err != nil {
		return nil, err
	}

	stats := &WorkflowStats{
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		Window:       statsWindow,
	}
	for _, ex := range execs {
		stats.TotalExecutions++
		switch ex.Status {
		case schema.ExecutionStatusPending:
			stats.Pending++
		case schema.ExecutionStatusRunning:
			stats.Running++
		case schema.ExecutionStatusCompleted:
			stats.Completed++
		case schema.ExecutionStatusFailed:
			stats.Failed++
		}
		stats.ActionsCompleted += ex.ActionsCompleted
		stats.ActionsFailed += ex.ActionsFailed
	}
	if stats.TotalExecutions > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.TotalExecutions) * 100
	}
	return stats, nil
}
