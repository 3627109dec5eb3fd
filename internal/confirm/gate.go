// Package confirm suspends high-impact actions until the user approves or
// denies them.
//
// Pending confirmations live in a Table owned by each plan, never in a
// process-wide map. A Handle encodes the plan and action ids so an inbound
// response can be routed back to the right plan.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"html"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/rahul/taskmesh/internal/plan"
)

var (
	ErrDenied              = errors.New("confirmation denied")
	ErrExpired             = errors.New("confirmation expired")
	ErrUnknownConfirmation = errors.New("no pending confirmation")
	ErrInvalidHandle       = errors.New("invalid confirmation handle")
)

// DefaultTTL is how long a confirmation stays open when none is configured.
const DefaultTTL = 10 * time.Minute

// Handle identifies one pending confirmation.
type Handle string

// NewHandle builds the handle for (planID, actionID).
func NewHandle(planID, actionID string) Handle {
	return Handle(planID + "/" + actionID)
}

// ParseHandle splits a handle back into plan and action ids.
func ParseHandle(h Handle) (planID, actionID string, err error) {
	planID, actionID, ok := strings.Cut(string(h), "/")
	if !ok || planID == "" || actionID == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidHandle, h)
	}
	return planID, actionID, nil
}

// Request is what gets sent to the user.
type Request struct {
	Handle      Handle
	PlanID      string
	ActionID    string
	UserID      string
	Description string
	ExpiresAt   time.Time
}

// Channel delivers confirmation requests to the user. Responses come back
// through the engine's ResolveConfirmation.
type Channel interface {
	RequestConfirmation(ctx context.Context, req Request) error
}

// Table holds the open confirmations of one plan, keyed by action id.
type Table struct {
	entries map[string]Request
}

func NewTable() *Table {
	return &Table{entries: make(map[string]Request)}
}

func (t *Table) Len() int { return len(t.entries) }

// Get returns the open confirmation for actionID.
func (t *Table) Get(actionID string) (Request, bool) {
	r, ok := t.entries[actionID]
	return r, ok
}

// Pending returns the open confirmations ordered by expiry.
func (t *Table) Pending() []Request {
	out := make([]Request, 0, len(t.entries))
	for _, r := range t.entries {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ActionID < out[j].ActionID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}

// Gate applies confirmation transitions. It is stateless apart from
// configuration; callers must hold the plan's lock around every method.
type Gate struct {
	TTL time.Duration
	Now func() time.Time

	sanitizer *bluemonday.Policy
}

func NewGate(ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gate{
		TTL:       ttl,
		Now:       time.Now,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Suspend moves a ready action to WAITING_CONFIRMATION and records it in
// table. The returned request must be delivered by the caller once the plan
// lock is released.
func (g *Gate) Suspend(p *plan.Plan, table *Table, a *plan.Action) (Request, error) {
	if err := p.Transition(a, plan.ActionWaitingConfirmation); err != nil {
		return Request{}, err
	}
	req := Request{
		Handle:      NewHandle(p.ID, a.ID),
		PlanID:      p.ID,
		ActionID:    a.ID,
		UserID:      p.UserID,
		Description: g.Describe(a) + matchNote(p, a),
		ExpiresAt:   g.Now().Add(g.TTL),
	}
	table.entries[a.ID] = req
	return req, nil
}

// matchNote reports how many items the action's source lookup found, so
// the user knows what an approval touches.
func matchNote(p *plan.Plan, a *plan.Action) string {
	src, ok := p.Action(a.Param("source"))
	if !ok || src.Result == nil {
		return ""
	}
	v := reflect.ValueOf(src.Result)
	if v.Kind() != reflect.Slice {
		return ""
	}
	if n := v.Len(); n != 1 {
		return fmt.Sprintf(" (%d matches)", n)
	}
	return " (1 match)"
}

// Resolve applies the user's answer. Approval returns the action to PENDING
// marked as confirmed. Denial cancels it together with every dependent that
// has not started; the ids of all cancelled actions are returned.
func (g *Gate) Resolve(p *plan.Plan, table *Table, actionID string, approved bool) ([]string, error) {
	if _, ok := table.entries[actionID]; !ok {
		return nil, fmt.Errorf("%w: plan %s action %s", ErrUnknownConfirmation, p.ID, actionID)
	}
	a, ok := p.Action(actionID)
	if !ok || a.Status != plan.ActionWaitingConfirmation {
		delete(table.entries, actionID)
		return nil, fmt.Errorf("%w: plan %s action %s", ErrUnknownConfirmation, p.ID, actionID)
	}
	delete(table.entries, actionID)

	if approved {
		if err := p.Transition(a, plan.ActionPending); err != nil {
			return nil, err
		}
		a.Confirmed = true
		p.Refresh()
		return nil, nil
	}
	return g.deny(p, table, a, ErrDenied), nil
}

// Expire treats every confirmation past its deadline as denied and returns
// the ids of all actions cancelled as a result.
func (g *Gate) Expire(p *plan.Plan, table *Table, now time.Time) []string {
	var cancelled []string
	for _, req := range table.Pending() {
		if now.Before(req.ExpiresAt) {
			break
		}
		delete(table.entries, req.ActionID)
		a, ok := p.Action(req.ActionID)
		if !ok || a.Status != plan.ActionWaitingConfirmation {
			continue
		}
		cancelled = append(cancelled, g.deny(p, table, a, ErrExpired)...)
	}
	return cancelled
}

// Drop forgets every open confirmation, used when a plan is cancelled.
func (g *Gate) Drop(table *Table) {
	clear(table.entries)
}

func (g *Gate) deny(p *plan.Plan, table *Table, a *plan.Action, reason error) []string {
	cancelled := []string{a.ID}
	_ = p.Transition(a, plan.ActionCancelled)
	a.Error = reason.Error()

	for _, d := range p.Dependents(a.ID) {
		if d.Status != plan.ActionPending && d.Status != plan.ActionWaitingConfirmation {
			continue
		}
		delete(table.entries, d.ID)
		_ = p.Transition(d, plan.ActionCancelled)
		d.Error = fmt.Sprintf("dependency %s cancelled: %v", a.ID, reason)
		cancelled = append(cancelled, d.ID)
	}
	p.Refresh()
	return cancelled
}

// Describe renders a one-line, sanitized description of a.
func (g *Gate) Describe(a *plan.Action) string {
	desc := a.Description
	if desc == "" {
		desc = string(a.Type)
		var details []string
		for _, k := range []string{"title", "recipient", "subject", "url"} {
			if v := a.Param(k); v != "" {
				details = append(details, fmt.Sprintf("%s=%s", k, v))
			}
		}
		if len(details) > 0 {
			desc += " (" + strings.Join(details, ", ") + ")"
		}
	}
	// Sanitize escapes entities; messaging platforms want plain text.
	return strings.TrimSpace(html.UnescapeString(g.sanitizer.Sanitize(desc)))
}
