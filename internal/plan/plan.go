package plan

import (
	"fmt"
	"maps"
	"time"
)

// ActionType is the closed set of operations an Action can perform.
type ActionType string

const (
	ActionCalendarCreate ActionType = "calendar.create"
	ActionCalendarQuery  ActionType = "calendar.query"
	ActionCalendarDelete ActionType = "calendar.delete"
	ActionTaskCreate     ActionType = "task.create"
	ActionMessageSend    ActionType = "message.send"
	ActionEmailSend      ActionType = "email.send"
	ActionWebFetch       ActionType = "web.fetch"
	ActionSystemNotify   ActionType = "system.notify"
)

// ActionTypes lists every known action type in a stable order.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionCalendarCreate,
		ActionCalendarQuery,
		ActionCalendarDelete,
		ActionTaskCreate,
		ActionMessageSend,
		ActionEmailSend,
		ActionWebFetch,
		ActionSystemNotify,
	}
}

// Valid reports whether t is one of the known action types.
func (t ActionType) Valid() bool {
	for _, known := range ActionTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// ActionStatus is the lifecycle state of a single Action.
type ActionStatus string

const (
	ActionPending             ActionStatus = "pending"
	ActionWaitingConfirmation ActionStatus = "waiting_confirmation"
	ActionInProgress          ActionStatus = "in_progress"
	ActionCompleted           ActionStatus = "completed"
	ActionFailed              ActionStatus = "failed"
	ActionCancelled           ActionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s ActionStatus) IsTerminal() bool {
	switch s {
	case ActionCompleted, ActionFailed, ActionCancelled:
		return true
	default:
		return false
	}
}

// PlanStatus is the derived status of a Plan.
type PlanStatus string

const (
	StatusPending    PlanStatus = "pending"
	StatusInProgress PlanStatus = "in_progress"
	StatusCompleted  PlanStatus = "completed"
	StatusFailed     PlanStatus = "failed"
	StatusCancelled  PlanStatus = "cancelled"
)

// IsTerminal reports whether the plan has finished.
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Defaults applied to actions that do not set their own limits.
const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Second
)

// NoRetry as MaxRetries asks for a single attempt; zero means DefaultMaxRetries.
const NoRetry = -1

// Action is an atomic unit of work inside a Plan.
type Action struct {
	ID                   string         `json:"id"`
	Type                 ActionType     `json:"type"`
	Description          string         `json:"description,omitempty"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	Dependencies         []string       `json:"dependencies,omitempty"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Confirmed            bool           `json:"confirmed,omitempty"`
	RetryCount           int            `json:"retry_count"`
	MaxRetries           int            `json:"max_retries"`
	Timeout              time.Duration  `json:"timeout"`
	Status               ActionStatus   `json:"status"`
	Result               any            `json:"result,omitempty"`
	Error                string         `json:"error,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	StartedAt            time.Time      `json:"started_at,omitempty"`
	CompletedAt          time.Time      `json:"completed_at,omitempty"`
}

// Clone returns a copy of the action that shares no mutable state.
func (a *Action) Clone() *Action {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Parameters = maps.Clone(a.Parameters)
	cp.Dependencies = append([]string(nil), a.Dependencies...)
	return &cp
}

// Param returns a string parameter, or "" when absent.
func (a *Action) Param(key string) string {
	v, ok := a.Parameters[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Plan is a DAG of Actions decomposed from one user intent.
type Plan struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Intent     string         `json:"intent,omitempty"`
	UserID     string         `json:"user_id"`
	Priority   int            `json:"priority"`
	Context    map[string]any `json:"context,omitempty"`
	Actions    []*Action      `json:"actions"`
	Status     PlanStatus     `json:"status"`
	Progress   float64        `json:"progress"`
	Diagnostic string         `json:"diagnostic,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`

	// cancelRequested is set by Cancel and survives until the plan is terminal.
	cancelRequested bool
	index           map[string]int
}

// Clone deep-copies the plan. Executors and callers only ever see clones; a
// clone is safe for concurrent reads.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Context = maps.Clone(p.Context)
	cp.Actions = make([]*Action, len(p.Actions))
	for i, a := range p.Actions {
		cp.Actions[i] = a.Clone()
	}
	cp.reindex()
	return &cp
}

// Action returns the action with the given id.
func (p *Plan) Action(id string) (*Action, bool) {
	if p.index == nil {
		p.reindex()
	}
	i, ok := p.index[id]
	if !ok {
		return nil, false
	}
	return p.Actions[i], true
}

func (p *Plan) reindex() {
	p.index = make(map[string]int, len(p.Actions))
	for i, a := range p.Actions {
		p.index[a.ID] = i
	}
}

// CancelRequested reports whether Cancel has been called on the plan.
func (p *Plan) CancelRequested() bool {
	return p.cancelRequested
}

// Count returns how many actions are in the given status.
func (p *Plan) Count(s ActionStatus) int {
	n := 0
	for _, a := range p.Actions {
		if a.Status == s {
			n++
		}
	}
	return n
}
