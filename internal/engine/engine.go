// Package engine runs plans: it owns the set of active plans, drives each one
// through the scheduler loop and exposes the caller-facing API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rahul/taskmesh/internal/confirm"
	"github.com/rahul/taskmesh/internal/decompose"
	"github.com/rahul/taskmesh/internal/observability"
	"github.com/rahul/taskmesh/internal/plan"
	"github.com/rahul/taskmesh/internal/tools"
)

var (
	ErrPlanNotFound = errors.New("plan not found")
	ErrPlanRunning  = errors.New("plan is already running")
	// ErrTimeout is returned for an action that exceeded its timeout. It
	// matches context.DeadlineExceeded.
	ErrTimeout = fmt.Errorf("action timed out: %w", context.DeadlineExceeded)
)

// DefaultConcurrency bounds how many actions of one plan run at once.
const DefaultConcurrency = 3

// Config tunes the scheduler.
type Config struct {
	Concurrency     int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	SweepInterval   time.Duration
	// AutoRun makes CreatePlan drive the new plan until it is terminal or
	// suspended before returning.
	AutoRun bool
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	return c
}

// backoff returns the delay before attempt number retry+1.
func (c Config) backoff(retry int) time.Duration {
	if c.RetryBackoff <= 0 || retry <= 0 {
		return 0
	}
	d := c.RetryBackoff
	for i := 1; i < retry; i++ {
		d *= 2
		if c.MaxRetryBackoff > 0 && d >= c.MaxRetryBackoff {
			return c.MaxRetryBackoff
		}
	}
	if c.MaxRetryBackoff > 0 && d > c.MaxRetryBackoff {
		return c.MaxRetryBackoff
	}
	return d
}

// Snapshotter persists plans. The engine saves after creation and after every
// pass of the loop, and reads back plans that are no longer active.
type Snapshotter interface {
	SavePlan(ctx context.Context, p *plan.Plan) error
	LoadPlan(ctx context.Context, id string) (*plan.Plan, error)
}

// PlanRequest describes a plan to create. When Actions is set the actions are
// used as given; otherwise Intent and Entities are decomposed.
type PlanRequest struct {
	Intent   string
	Entities map[string]any
	Context  map[string]any
	UserID   string
	Priority int
	Title    string
	Actions  []*plan.Action
}

type Engine struct {
	store      *PlanStore
	decomposer *decompose.Decomposer
	executor   tools.Executor
	gate       *confirm.Gate
	cfg        Config

	channel   confirm.Channel
	snapshots Snapshotter
	logger    *observability.Logger
	newID     func() string

	startedAt time.Time
	inFlight  atomic.Int64
}

type Option func(*Engine)

// WithChannel sets where confirmation requests are delivered.
func WithChannel(c confirm.Channel) Option {
	return func(e *Engine) { e.channel = c }
}

func WithSnapshotter(s Snapshotter) Option {
	return func(e *Engine) { e.snapshots = s }
}

func WithLogger(l *observability.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIDGenerator replaces the uuid plan id generator.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// New creates an engine over store. executor is normally a *tools.Registry.
func New(store *PlanStore, d *decompose.Decomposer, executor tools.Executor, gate *confirm.Gate, cfg Config, opts ...Option) *Engine {
	if store == nil {
		store = NewPlanStore()
	}
	if d == nil {
		d = decompose.NewDecomposer(nil, plan.DefaultMaxRetries, plan.DefaultTimeout)
	}
	if gate == nil {
		gate = confirm.NewGate(confirm.DefaultTTL)
	}
	e := &Engine{
		store:      store,
		decomposer: d,
		executor:   executor,
		gate:       gate,
		cfg:        cfg.withDefaults(),
		newID:      uuid.NewString,
		startedAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreatePlan builds a plan, validates it and registers it as active.
// Construction errors (cycles, invalid graphs, denied actions) are returned
// before anything runs. With AutoRun the plan is driven until it is terminal
// or suspended.
func (e *Engine) CreatePlan(ctx context.Context, req PlanRequest) (*plan.Plan, error) {
	actions := req.Actions
	if actions == nil {
		var err error
		actions, err = e.decomposer.Decompose(req.Intent, req.Entities, req.Context, req.UserID)
		if err != nil {
			return nil, err
		}
	}
	title := req.Title
	if title == "" {
		title = decompose.Title(req.Intent, req.Entities)
	}

	p, err := plan.New(e.newID(), title, req.UserID, req.Priority, req.Context, actions)
	if err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	p.Intent = req.Intent

	e.store.put(&session{plan: p, table: confirm.NewTable()})
	e.logger.LogPlan(observability.EventTypePlanCreated, p.ID, p.UserID, map[string]any{
		"title":   p.Title,
		"intent":  p.Intent,
		"actions": len(p.Actions),
	})
	e.save(ctx, p)

	if e.cfg.AutoRun {
		return e.RunPlan(ctx, p.ID)
	}
	return p.Clone(), nil
}

// Submit creates a plan and drives it until it is terminal or suspended,
// whether or not AutoRun is set.
func (e *Engine) Submit(ctx context.Context, req PlanRequest) (*plan.Plan, error) {
	p, err := e.CreatePlan(ctx, req)
	if err != nil || e.cfg.AutoRun {
		return p, err
	}
	return e.RunPlan(ctx, p.ID)
}

// CancelPlan cancels a non-terminal plan. Pending and waiting actions are
// cancelled at once; in-flight actions have their context cancelled and are
// marked cancelled when they return. It reports whether the plan was active.
func (e *Engine) CancelPlan(planID string) bool {
	s, ok := e.store.get(planID)
	if !ok {
		return false
	}

	s.mu.Lock()
	if s.plan.Status.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	ids := s.plan.Cancel("plan cancelled")
	e.gate.Drop(s.table)
	if s.cancel != nil {
		s.cancel()
	}
	for _, id := range ids {
		e.logger.LogAction(observability.EventTypeActionCancelled, planID, id, nil)
	}
	snapshot := s.plan.Clone()
	running := s.running
	s.mu.Unlock()

	log.Printf("[ ENGINE ] Plan %s cancelled (%d actions cancelled, running=%v)", planID, len(ids), running)
	e.save(context.Background(), snapshot)
	if !running && snapshot.Status.IsTerminal() {
		e.finish(snapshot)
	}
	return true
}

// GetPlan returns a snapshot of the plan. Finished plans are read back from
// the snapshotter.
func (e *Engine) GetPlan(ctx context.Context, planID string) (*plan.Plan, bool) {
	if s, ok := e.store.get(planID); ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.plan.Clone(), true
	}
	if e.snapshots == nil {
		return nil, false
	}
	p, err := e.snapshots.LoadPlan(ctx, planID)
	if err != nil || p == nil {
		return nil, false
	}
	return p, true
}

// ListPlans returns snapshots of all active plans, oldest first.
func (e *Engine) ListPlans() []*plan.Plan {
	sessions := e.store.list()
	out := make([]*plan.Plan, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, s.plan.Clone())
		s.mu.Unlock()
	}
	return out
}

// PendingConfirmations returns the open confirmations of every active plan.
func (e *Engine) PendingConfirmations() []confirm.Request {
	var out []confirm.Request
	for _, s := range e.store.list() {
		s.mu.Lock()
		out = append(out, s.table.Pending()...)
		s.mu.Unlock()
	}
	return out
}

// ResolveConfirmation applies the user's answer for handle and resumes the
// plan. If a loop is already running for the plan it picks up the change on
// its next pass and the current snapshot is returned.
func (e *Engine) ResolveConfirmation(ctx context.Context, handle confirm.Handle, approved bool) (*plan.Plan, error) {
	planID, actionID, err := confirm.ParseHandle(handle)
	if err != nil {
		return nil, err
	}
	s, ok := e.store.get(planID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	s.mu.Lock()
	cancelled, err := e.gate.Resolve(s.plan, s.table, actionID, approved)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	e.logger.Log(observability.Event{
		Type:     observability.EventTypeConfirmationResolved,
		PlanID:   planID,
		ActionID: actionID,
		UserID:   s.plan.UserID,
		Data:     map[string]any{"approved": approved, "cancelled": cancelled},
	})
	snapshot := s.plan.Clone()
	running := s.running
	s.mu.Unlock()

	e.save(ctx, snapshot)
	if running {
		return snapshot, nil
	}
	p, err := e.RunPlan(ctx, planID)
	if errors.Is(err, ErrPlanRunning) {
		return snapshot, nil
	}
	return p, err
}

// ExpireConfirmations treats every confirmation overdue at now as denied and
// resumes the affected plans. It returns the number of actions cancelled.
func (e *Engine) ExpireConfirmations(ctx context.Context, now time.Time) int {
	total := 0
	for _, s := range e.store.list() {
		s.mu.Lock()
		cancelled := e.gate.Expire(s.plan, s.table, now)
		if len(cancelled) == 0 {
			s.mu.Unlock()
			continue
		}
		planID := s.plan.ID
		for _, id := range cancelled {
			e.logger.LogAction(observability.EventTypeActionCancelled, planID, id, map[string]any{"reason": confirm.ErrExpired.Error()})
		}
		running := s.running
		s.mu.Unlock()

		total += len(cancelled)
		log.Printf("[ ENGINE ] Plan %s: %d confirmation(s) expired", planID, len(cancelled))
		if !running {
			if _, err := e.RunPlan(ctx, planID); err != nil && !errors.Is(err, ErrPlanRunning) {
				log.Printf("[ ENGINE ] Failed to resume plan %s after expiry: %v", planID, err)
			}
		}
	}
	return total
}

// Start runs the confirmation expiry sweeper until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	log.Printf("[ ENGINE ] Confirmation sweeper started (every %s)", e.cfg.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			log.Println("[ ENGINE ] Confirmation sweeper stopped")
			return
		case <-ticker.C:
			e.ExpireConfirmations(ctx, e.gate.Now())
		}
	}
}

// Stats reports the engine's current load.
func (e *Engine) Stats() observability.Stats {
	st := observability.Stats{
		InFlightActions: int(e.inFlight.Load()),
		StartedAt:       e.startedAt,
	}
	for _, s := range e.store.list() {
		s.mu.Lock()
		st.ActivePlans++
		if s.running {
			st.RunningPlans++
		}
		st.WaitingConfirmations += s.table.Len()
		s.mu.Unlock()
	}
	return st
}

func (e *Engine) save(ctx context.Context, p *plan.Plan) {
	if e.snapshots == nil {
		return
	}
	if err := e.snapshots.SavePlan(ctx, p); err != nil {
		log.Printf("[ ENGINE ] Failed to snapshot plan %s: %v", p.ID, err)
	}
}

// finish drops a terminal plan from the active set.
func (e *Engine) finish(p *plan.Plan) {
	e.store.remove(p.ID)
	e.logger.LogPlan(observability.EventTypePlanFinished, p.ID, p.UserID, map[string]any{
		"status":     p.Status,
		"progress":   p.Progress,
		"diagnostic": p.Diagnostic,
	})
}

func (e *Engine) deliver(ctx context.Context, reqs []confirm.Request) {
	for _, req := range reqs {
		e.logger.Log(observability.Event{
			Type:     observability.EventTypeConfirmationRequest,
			PlanID:   req.PlanID,
			ActionID: req.ActionID,
			UserID:   req.UserID,
			Data:     map[string]any{"handle": req.Handle, "description": req.Description, "expires_at": req.ExpiresAt},
		})
		if e.channel == nil {
			continue
		}
		if err := e.channel.RequestConfirmation(ctx, req); err != nil {
			log.Printf("[ ENGINE ] Failed to deliver confirmation %s: %v", req.Handle, err)
		}
	}
}
