package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rahul/taskmesh/internal/confirm"
	"github.com/rahul/taskmesh/internal/observability"
	"github.com/rahul/taskmesh/internal/plan"
	"github.com/rahul/taskmesh/internal/tools"
)

// outcome is the result of one execution attempt.
type outcome struct {
	id      string
	result  any
	err     error
	elapsed time.Duration
}

// RunPlan drives the plan until it is terminal or suspended on
// confirmations, and returns the resulting snapshot.
//
// Each pass computes the ready set, parks gated actions, runs at most
// Concurrency executable actions as one batch and joins it before the ready
// set is computed again. Only one loop runs per plan; a second caller gets
// ErrPlanRunning.
func (e *Engine) RunPlan(ctx context.Context, planID string) (*plan.Plan, error) {
	s, ok := e.store.get(planID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	s.mu.Lock()
	if s.running {
		snapshot := s.plan.Clone()
		s.mu.Unlock()
		return snapshot, ErrPlanRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.running = true
	s.cancel = cancel

	var (
		requests []confirm.Request
		runErr   error
	)
	for {
		p := s.plan
		if p.Status.IsTerminal() {
			break
		}
		if err := runCtx.Err(); err != nil && !p.CancelRequested() {
			runErr = err
			break
		}

		var batch []*plan.Action
		for _, a := range p.ReadySet() {
			if gated(a) {
				req, err := e.gate.Suspend(p, s.table, a)
				if err != nil {
					log.Printf("[ ENGINE ] Plan %s: cannot suspend %s: %v", p.ID, a.ID, err)
					continue
				}
				requests = append(requests, req)
				continue
			}
			if len(batch) < e.cfg.Concurrency {
				batch = append(batch, a)
			}
		}

		if len(batch) == 0 {
			e.settle(p)
			break
		}

		jobs := make([]*plan.Action, 0, len(batch))
		for _, a := range batch {
			if err := p.Transition(a, plan.ActionInProgress); err != nil {
				log.Printf("[ ENGINE ] Plan %s: cannot start %s: %v", p.ID, a.ID, err)
				continue
			}
			e.logger.LogAction(observability.EventTypeActionStarted, p.ID, a.ID, map[string]any{"attempt": a.RetryCount + 1})
			jobs = append(jobs, a.Clone())
		}
		p.Refresh()
		view := p.Clone()
		s.mu.Unlock()

		e.deliver(ctx, requests)
		requests = nil
		outcomes := e.runBatch(runCtx, view, jobs)

		s.mu.Lock()
		e.apply(s.plan, outcomes, runCtx.Err() != nil)
		s.plan.Refresh()
		e.logger.LogPlan(observability.EventTypeBatch, p.ID, p.UserID, map[string]any{
			"size":     len(jobs),
			"progress": s.plan.Progress,
			"status":   s.plan.Status,
		})
		e.save(ctx, s.plan)
	}

	s.running = false
	s.cancel = nil
	snapshot := s.plan.Clone()
	waiting := s.table.Len()
	s.mu.Unlock()

	e.deliver(ctx, requests)
	e.save(ctx, snapshot)
	switch {
	case snapshot.Status.IsTerminal():
		e.finish(snapshot)
	case waiting > 0:
		e.logger.LogPlan(observability.EventTypePlanSuspended, snapshot.ID, snapshot.UserID, map[string]any{
			"waiting":  waiting,
			"progress": snapshot.Progress,
		})
	}
	return snapshot, runErr
}

// gated reports whether a ready action must be confirmed before it runs.
// Retries of an approved action are never gated again.
func gated(a *plan.Action) bool {
	return a.RequiresConfirmation && !a.Confirmed && a.RetryCount == 0
}

// settle is called when a pass finds nothing to execute. Pending work that
// can never become ready fails the plan; otherwise the status is recomputed.
func (e *Engine) settle(p *plan.Plan) {
	if p.Stalled() {
		var stuck []string
		for _, a := range p.Actions {
			if a.Status == plan.ActionPending {
				stuck = append(stuck, a.ID)
			}
		}
		p.Fail(fmt.Sprintf("%v: %d pending action(s) can never run: %s",
			plan.ErrDeadlock, len(stuck), strings.Join(stuck, ", ")))
		log.Printf("[ ENGINE ] Plan %s failed: %s", p.ID, p.Diagnostic)
		return
	}
	p.Refresh()
}

// runBatch executes jobs concurrently, never more than Concurrency at once,
// and waits for all of them.
func (e *Engine) runBatch(ctx context.Context, view *plan.Plan, jobs []*plan.Action) []outcome {
	out := make([]outcome, len(jobs))
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, a := range jobs {
		g.Go(func() error {
			out[i] = e.execute(ctx, view, a)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// execute runs one attempt of a under its own timeout. The executor runs in
// its own goroutine so an executor that ignores its context cannot hold up
// the batch past the deadline.
func (e *Engine) execute(ctx context.Context, view *plan.Plan, a *plan.Action) outcome {
	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	start := time.Now()
	if d := e.cfg.backoff(a.RetryCount); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return outcome{id: a.ID, err: ctx.Err(), elapsed: time.Since(start)}
		case <-timer.C:
		}
	}

	actx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		v, err := e.executor.Execute(actx, a, view)
		done <- result{v: v, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-actx.Done():
		r = result{err: actx.Err()}
	}

	if r.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		r.err = fmt.Errorf("%w: %s after %s", ErrTimeout, a.ID, a.Timeout)
	}
	return outcome{id: a.ID, result: r.v, err: r.err, elapsed: time.Since(start)}
}

// apply records batch outcomes on the live plan. The caller holds the lock.
// When interrupted is set the run context ended: failures of a cancelled plan
// become CANCELLED, any other failure returns the action to PENDING without
// spending a retry so a later RunPlan picks it up.
func (e *Engine) apply(p *plan.Plan, outcomes []outcome, interrupted bool) {
	for _, o := range outcomes {
		a, ok := p.Action(o.id)
		if !ok || a.Status != plan.ActionInProgress {
			continue
		}
		data := map[string]any{"elapsed_ms": o.elapsed.Milliseconds()}

		switch {
		case o.err == nil:
			a.Result = o.result
			a.Error = ""
			_ = p.Transition(a, plan.ActionCompleted)
			e.logger.LogAction(observability.EventTypeActionCompleted, p.ID, a.ID, data)

		case p.CancelRequested():
			_ = p.Transition(a, plan.ActionCancelled)
			a.Error = "plan cancelled: " + o.err.Error()
			e.logger.LogAction(observability.EventTypeActionCancelled, p.ID, a.ID, data)

		case interrupted:
			_ = p.Transition(a, plan.ActionPending)
			a.Error = o.err.Error()

		case tools.IsValidation(o.err):
			_ = p.Transition(a, plan.ActionFailed)
			a.Error = o.err.Error()
			data["error"] = a.Error
			e.logger.LogAction(observability.EventTypeActionFailed, p.ID, a.ID, data)

		default:
			if a.RetryCount < a.MaxRetries {
				a.RetryCount++
			}
			a.Error = o.err.Error()
			data["error"] = a.Error
			data["retry_count"] = a.RetryCount
			if a.RetryCount < a.MaxRetries {
				_ = p.Transition(a, plan.ActionPending)
				e.logger.LogAction(observability.EventTypeActionRetry, p.ID, a.ID, data)
				continue
			}
			_ = p.Transition(a, plan.ActionFailed)
			e.logger.LogAction(observability.EventTypeActionFailed, p.ID, a.ID, data)
		}
	}
}
