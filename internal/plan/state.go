package plan

import (
	"fmt"
	"time"
)

func isAllowedTransition(from, to ActionStatus) bool {
	switch from {
	case ActionPending:
		return to == ActionInProgress || to == ActionWaitingConfirmation || to == ActionCancelled
	case ActionWaitingConfirmation:
		return to == ActionPending || to == ActionCancelled
	case ActionInProgress:
		return to == ActionCompleted || to == ActionFailed || to == ActionPending || to == ActionCancelled
	default:
		return false
	}
}

// Transition moves a to status to, enforcing the lifecycle table and the
// rule that an action only starts once all its dependencies are COMPLETED.
func (p *Plan) Transition(a *Action, to ActionStatus) error {
	if !isAllowedTransition(a.Status, to) {
		return fmt.Errorf("%w: action %q %s -> %s", ErrTransition, a.ID, a.Status, to)
	}
	if to == ActionInProgress && !p.DependenciesMet(a) {
		return fmt.Errorf("%w: action %q started before its dependencies completed", ErrTransition, a.ID)
	}

	now := time.Now()
	switch to {
	case ActionInProgress:
		a.StartedAt = now
	case ActionCompleted, ActionFailed, ActionCancelled:
		a.CompletedAt = now
	}
	a.Status = to
	p.UpdatedAt = now
	return nil
}

// Cancel marks the plan as cancelled and moves every PENDING or
// WAITING_CONFIRMATION action to CANCELLED. In-flight actions are left to the
// scheduler, which cancels them when their execution returns. The ids of the
// actions cancelled here are returned.
func (p *Plan) Cancel(reason string) []string {
	if p.Status.IsTerminal() {
		return nil
	}
	p.cancelRequested = true
	if reason != "" {
		p.Diagnostic = reason
	}

	var ids []string
	for _, a := range p.Actions {
		if a.Status == ActionPending || a.Status == ActionWaitingConfirmation {
			_ = p.Transition(a, ActionCancelled)
			if a.Error == "" {
				a.Error = reason
			}
			ids = append(ids, a.ID)
		}
	}
	p.Refresh()
	return ids
}

// Fail marks the plan FAILED with a diagnostic. Used when the scheduler
// finds pending work that can never become ready.
func (p *Plan) Fail(diagnostic string) {
	p.Status = StatusFailed
	p.Diagnostic = diagnostic
	p.UpdatedAt = time.Now()
}

// Refresh recomputes Progress and the derived Status. Terminal statuses are
// sticky.
func (p *Plan) Refresh() {
	total := len(p.Actions)
	completed := p.Count(ActionCompleted)
	if total > 0 {
		p.Progress = 100 * float64(completed) / float64(total)
	}
	p.UpdatedAt = time.Now()

	if p.Status.IsTerminal() {
		return
	}

	inFlight := p.Count(ActionInProgress)
	failed := p.Count(ActionFailed)
	terminal := completed + failed + p.Count(ActionCancelled)

	switch {
	case completed == total:
		p.Status = StatusCompleted
	case p.cancelRequested:
		if inFlight == 0 {
			p.Status = StatusCancelled
		} else {
			p.Status = StatusInProgress
		}
	case terminal == total:
		switch {
		case failed > 0:
			p.Status = StatusFailed
			if p.Diagnostic == "" {
				p.Diagnostic = fmt.Sprintf("%d of %d actions failed", failed, total)
			}
		case completed == 0:
			p.Status = StatusCancelled
		default:
			p.Status = StatusFailed
			if p.Diagnostic == "" {
				p.Diagnostic = fmt.Sprintf("partially completed: %d of %d actions cancelled", total-completed, total)
			}
		}
	case p.Count(ActionPending) < total:
		p.Status = StatusInProgress
	default:
		p.Status = StatusPending
	}
}

// Stalled reports whether pending work remains that can never become ready:
// nothing is ready, waiting for confirmation, or in flight.
func (p *Plan) Stalled() bool {
	if p.Count(ActionPending) == 0 {
		return false
	}
	if p.Count(ActionWaitingConfirmation) > 0 || p.Count(ActionInProgress) > 0 {
		return false
	}
	return len(p.ReadySet()) == 0
}
