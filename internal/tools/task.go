package tools

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rahul/taskmesh/internal/plan"
)

// MinInterval is the shortest allowed recurrence, to prevent spamming.
const MinInterval = 60

type TaskStore interface {
	// AddTask stores a task and returns its id. Adding the same description
	// with the same due time twice must return the existing id.
	AddTask(ctx context.Context, userID string, description string, intervalSeconds int, due time.Time) (int64, error)
}

// TaskExecutor handles task.create.
type TaskExecutor struct {
	Store TaskStore
}

func NewTaskExecutor(store TaskStore) *TaskExecutor {
	return &TaskExecutor{Store: store}
}

func (t *TaskExecutor) Execute(ctx context.Context, action *plan.Action, p *plan.Plan) (any, error) {
	if err := requireParams(action, "title"); err != nil {
		return nil, err
	}

	interval := 0
	if s := action.Param("interval_seconds"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, Invalidf(action, "interval_seconds must be an integer, got %q", s)
		}
		if n != 0 && n < MinInterval {
			return nil, Invalidf(action, "minimum interval is %d seconds", MinInterval)
		}
		interval = n
	}

	var due time.Time
	if s := action.Param("due"); s != "" {
		d, err := parseTime(s)
		if err != nil {
			return nil, Invalidf(action, "bad due time: %v", err)
		}
		due = d
	}

	id, err := t.Store.AddTask(ctx, p.UserID, action.Param("title"), interval, due)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule task: %w", err)
	}

	summary := fmt.Sprintf("Scheduled task '%s'", action.Param("title"))
	if interval > 0 {
		summary = fmt.Sprintf("Scheduled task '%s' every %d seconds", action.Param("title"), interval)
	}
	return map[string]any{"task_id": id, "summary": summary}, nil
}
