// Package reminder fires stored tasks when they come due by submitting a
// notification plan for each one.
package reminder

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rahul/taskmesh/internal/engine"
	"github.com/rahul/taskmesh/internal/plan"
	"github.com/rahul/taskmesh/internal/store"
)

type TaskStore interface {
	GetPendingTasks(ctx context.Context, now time.Time) ([]store.Task, error)
	MarkTaskRun(ctx context.Context, id int64, now time.Time) error
}

type Submitter interface {
	Submit(ctx context.Context, req engine.PlanRequest) (*plan.Plan, error)
}

type Scheduler struct {
	Store    TaskStore
	Engine   Submitter
	Interval time.Duration
	Now      func() time.Time
}

func NewScheduler(store TaskStore, e Submitter, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		Store:    store,
		Engine:   e,
		Interval: interval,
		Now:      time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.Println("[ REMINDER ] Task scheduler started...")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll fires every task due now and returns how many were fired.
func (s *Scheduler) Poll(ctx context.Context) int {
	now := s.Now()
	tasks, err := s.Store.GetPendingTasks(ctx, now)
	if err != nil {
		log.Printf("[ REMINDER ] Error polling tasks: %v", err)
		return 0
	}

	fired := 0
	for _, t := range tasks {
		log.Printf("[ REMINDER ] Firing task %d for %s: %s", t.ID, t.UserID, t.Description)

		// Mark first so a slow or failing plan never fires the task twice.
		if err := s.Store.MarkTaskRun(ctx, t.ID, now); err != nil {
			log.Printf("[ REMINDER ] Error updating last run for task %d: %v", t.ID, err)
			continue
		}

		p, err := s.Engine.Submit(ctx, engine.PlanRequest{
			Title:  fmt.Sprintf("reminder: %s", t.Description),
			UserID: t.UserID,
			Actions: []*plan.Action{{
				ID:          "remind",
				Type:        plan.ActionSystemNotify,
				Description: "Deliver a scheduled reminder",
				Parameters:  map[string]any{"message": "⏰ Reminder: " + t.Description, "task_id": t.ID},
				MaxRetries:  plan.DefaultMaxRetries,
			}},
		})
		if err != nil {
			log.Printf("[ REMINDER ] Error firing task %d: %v", t.ID, err)
			continue
		}
		if p.Status != plan.StatusCompleted {
			log.Printf("[ REMINDER ] Reminder plan %s for task %d ended %s: %s", p.ID, t.ID, p.Status, p.Diagnostic)
		}
		fired++
	}
	return fired
}
