package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/rahul/taskmesh/internal/plan"
)

// Executor performs the real-world side effect of one action type.
//
// Executors receive copies of the action and plan; state changes are applied
// by the scheduler from the returned result or error. Retries invoke the same
// executor with the same parameters, so implementations must tolerate
// at-least-once delivery.
type Executor interface {
	Execute(ctx context.Context, action *plan.Action, p *plan.Plan) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, action *plan.Action, p *plan.Plan) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, action *plan.Action, p *plan.Plan) (any, error) {
	return f(ctx, action, p)
}

// Registry manages the executor for each action type. It is populated once
// at startup and read concurrently afterwards.
type Registry struct {
	Executors map[plan.ActionType]Executor
}

func NewRegistry() *Registry {
	return &Registry{
		Executors: make(map[plan.ActionType]Executor),
	}
}

// Register binds e to t. Unknown action types are rejected.
func (r *Registry) Register(t plan.ActionType, e Executor) error {
	if !t.Valid() {
		return fmt.Errorf("cannot register executor for unknown action type %q", t)
	}
	if e == nil {
		return fmt.Errorf("nil executor for action type %q", t)
	}
	r.Executors[t] = e
	return nil
}

// MustRegister is Register for startup wiring.
func (r *Registry) MustRegister(t plan.ActionType, e Executor) {
	if err := r.Register(t, e); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(t plan.ActionType) Executor {
	return r.Executors[t]
}

// Types returns the registered action types in sorted order.
func (r *Registry) Types() []plan.ActionType {
	out := make([]plan.ActionType, 0, len(r.Executors))
	for t := range r.Executors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Execute dispatches to the executor registered for the action's type. A
// missing executor is a ValidationError: retrying cannot fix it.
func (r *Registry) Execute(ctx context.Context, action *plan.Action, p *plan.Plan) (any, error) {
	e := r.Get(action.Type)
	if e == nil {
		return nil, Invalidf(action, "no executor registered for %s", action.Type)
	}
	return e.Execute(ctx, action, p)
}
