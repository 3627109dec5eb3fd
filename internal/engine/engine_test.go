package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/taskmesh/internal/confirm"
	"github.com/rahul/taskmesh/internal/decompose"
	"github.com/rahul/taskmesh/internal/governance"
	"github.com/rahul/taskmesh/internal/observability"
	"github.com/rahul/taskmesh/internal/plan"
	"github.com/rahul/taskmesh/internal/tools"
)

// tracker records attempts and the peak number of concurrent executions.
type tracker struct {
	mu       sync.Mutex
	running  int
	peak     int
	attempts map[string]int
	order    []string
}

func newTracker() *tracker {
	return &tracker{attempts: make(map[string]int)}
}

func (tr *tracker) enter(id string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.running++
	if tr.running > tr.peak {
		tr.peak = tr.running
	}
	tr.attempts[id]++
	tr.order = append(tr.order, id)
}

func (tr *tracker) leave() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.running--
}

func (tr *tracker) attemptsOf(id string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.attempts[id]
}

type fakeChannel struct {
	mu       sync.Mutex
	requests []confirm.Request
}

func (f *fakeChannel) RequestConfirmation(_ context.Context, req confirm.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeChannel) all() []confirm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]confirm.Request(nil), f.requests...)
}

type memSnapshots struct {
	mu      sync.Mutex
	plans   map[string]*plan.Plan
	history []*plan.Plan
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{plans: make(map[string]*plan.Plan)}
}

func (m *memSnapshots) SavePlan(_ context.Context, p *plan.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.ID] = p.Clone()
	m.history = append(m.history, p.Clone())
	return nil
}

func (m *memSnapshots) LoadPlan(_ context.Context, id string) (*plan.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return p.Clone(), nil
}

func act(id string, deps ...string) *plan.Action {
	return &plan.Action{ID: id, Type: plan.ActionSystemNotify, Dependencies: deps, MaxRetries: 3}
}

func newEngine(exec tools.Executor, cfg Config, opts ...Option) *Engine {
	var n atomic.Int64
	base := []Option{
		WithLogger(observability.NewWriterLogger(io.Discard)),
		WithIDGenerator(func() string { return fmt.Sprintf("plan-%d", n.Add(1)) }),
	}
	return New(NewPlanStore(), nil, exec, confirm.NewGate(time.Minute), cfg, append(base, opts...)...)
}

func statusOf(t *testing.T, p *plan.Plan, id string) plan.ActionStatus {
	t.Helper()
	a, ok := p.Action(id)
	require.True(t, ok, id)
	return a.Status
}

func TestScenarioBatchesFollowDependencies(t *testing.T) {
	tr := newTracker()
	var violations atomic.Int32
	exec := tools.ExecutorFunc(func(ctx context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		tr.enter(a.ID)
		defer tr.leave()
		for _, dep := range a.Dependencies {
			if d, _ := p.Action(dep); d.Status != plan.ActionCompleted {
				violations.Add(1)
			}
		}
		time.Sleep(50 * time.Millisecond)
		return "ok", nil
	})
	e := newEngine(exec, Config{Concurrency: 2})

	p, err := e.CreatePlan(context.Background(), PlanRequest{
		Title:   "diamond",
		UserID:  "u1",
		Actions: []*plan.Action{act("A"), act("B", "A"), act("C", "A")},
	})
	require.NoError(t, err)
	assert.Equal(t, plan.StatusPending, p.Status)

	final, err := e.RunPlan(context.Background(), p.ID)
	require.NoError(t, err)

	assert.Equal(t, plan.StatusCompleted, final.Status)
	assert.Equal(t, 100.0, final.Progress)
	assert.Equal(t, "A", tr.order[0])
	assert.ElementsMatch(t, []string{"B", "C"}, tr.order[1:])
	assert.Equal(t, 2, tr.peak, "B and C should run in one batch")
	assert.Zero(t, violations.Load())
}

func TestScenarioDeniedConfirmationCancelsPlan(t *testing.T) {
	var calls atomic.Int32
	exec := tools.ExecutorFunc(func(ctx context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		calls.Add(1)
		return nil, nil
	})
	ch := &fakeChannel{}
	snaps := newMemSnapshots()
	e := newEngine(exec, Config{AutoRun: true}, WithChannel(ch), WithSnapshotter(snaps))

	x := act("X")
	x.Type = plan.ActionMessageSend
	x.RequiresConfirmation = true
	p, err := e.CreatePlan(context.Background(), PlanRequest{UserID: "u1", Actions: []*plan.Action{x}})
	require.NoError(t, err)
	assert.Equal(t, plan.ActionWaitingConfirmation, statusOf(t, p, "X"))

	reqs := ch.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, confirm.NewHandle(p.ID, "X"), reqs[0].Handle)
	assert.Equal(t, "u1", reqs[0].UserID)
	assert.Equal(t, 1, e.Stats().WaitingConfirmations)

	final, err := e.ResolveConfirmation(context.Background(), reqs[0].Handle, false)
	require.NoError(t, err)
	assert.Equal(t, plan.ActionCancelled, statusOf(t, final, "X"))
	assert.Equal(t, plan.StatusCancelled, final.Status)
	assert.Zero(t, calls.Load())

	// Terminal plans leave the active set but stay readable.
	assert.Empty(t, e.ListPlans())
	stored, ok := e.GetPlan(context.Background(), p.ID)
	require.True(t, ok)
	assert.Equal(t, plan.StatusCancelled, stored.Status)
}

func TestDeniedConfirmationWithCompletedSiblingIsPartial(t *testing.T) {
	exec := tools.ExecutorFunc(func(ctx context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		return "done", nil
	})
	ch := &fakeChannel{}
	e := newEngine(exec, Config{AutoRun: true}, WithChannel(ch))

	x := act("X")
	x.RequiresConfirmation = true
	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: []*plan.Action{x, act("Y")}})
	require.NoError(t, err)
	assert.Equal(t, plan.ActionWaitingConfirmation, statusOf(t, p, "X"))
	assert.Equal(t, plan.ActionCompleted, statusOf(t, p, "Y"))

	final, err := e.ResolveConfirmation(context.Background(), confirm.NewHandle(p.ID, "X"), false)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusFailed, final.Status)
	assert.Contains(t, final.Diagnostic, "partially completed")
	assert.Equal(t, plan.ActionCompleted, statusOf(t, final, "Y"))
	assert.Equal(t, 50.0, final.Progress)
}

func TestApprovedConfirmationRunsAction(t *testing.T) {
	tr := newTracker()
	exec := tools.ExecutorFunc(func(ctx context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		tr.enter(a.ID)
		defer tr.leave()
		return "sent", nil
	})
	e := newEngine(exec, Config{})

	send := act("send", "query")
	send.RequiresConfirmation = true
	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: []*plan.Action{act("query"), send, act("notify", "send")}})
	require.NoError(t, err)

	suspended, err := e.RunPlan(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusInProgress, suspended.Status)
	assert.Equal(t, plan.ActionCompleted, statusOf(t, suspended, "query"))
	assert.Equal(t, plan.ActionWaitingConfirmation, statusOf(t, suspended, "send"))
	assert.Equal(t, plan.ActionPending, statusOf(t, suspended, "notify"))
	require.Len(t, e.PendingConfirmations(), 1)

	final, err := e.ResolveConfirmation(context.Background(), confirm.NewHandle(p.ID, "send"), true)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusCompleted, final.Status)
	assert.Equal(t, []string{"query", "send", "notify"}, tr.order)

	_, err = e.ResolveConfirmation(context.Background(), confirm.NewHandle(p.ID, "send"), true)
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestScenarioRetryThenSucceed(t *testing.T) {
	tr := newTracker()
	exec := tools.ExecutorFunc(func(ctx context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		tr.enter(a.ID)
		defer tr.leave()
		if tr.attemptsOf(a.ID) <= 2 {
			return nil, errors.New("upstream unavailable")
		}
		return "ok", nil
	})
	e := newEngine(exec, Config{})

	y := act("Y")
	y.MaxRetries = 3
	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: []*plan.Action{y}})
	require.NoError(t, err)
	final, err := e.RunPlan(context.Background(), p.ID)
	require.NoError(t, err)

	got, _ := final.Action("Y")
	assert.Equal(t, plan.ActionCompleted, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "ok", got.Result)
	assert.Empty(t, got.Error)
	assert.Equal(t, 3, tr.attemptsOf("Y"))
}

func TestUnsetMaxRetriesGetsDefault(t *testing.T) {
	tr := newTracker()
	exec := tools.ExecutorFunc(func(ctx context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		tr.enter(a.ID)
		defer tr.leave()
		if tr.attemptsOf(a.ID) == 1 {
			return nil, errors.New("upstream unavailable")
		}
		return "ok", nil
	})
	e := newEngine(exec, Config{})

	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: []*plan.Action{
		{ID: "y", Type: plan.ActionSystemNotify},
		{ID: "once", Type: plan.ActionSystemNotify, MaxRetries: plan.NoRetry},
	}})
	require.NoError(t, err)
	final, err := e.RunPlan(context.Background(), p.ID)
	require.NoError(t, err)

	y, _ := final.Action("y")
	assert.Equal(t, plan.DefaultMaxRetries, y.MaxRetries)
	assert.Equal(t, plan.ActionCompleted, y.Status)
	assert.Equal(t, 2, tr.attemptsOf("y"))

	once, _ := final.Action("once")
	assert.Equal(t, plan.ActionFailed, once.Status)
	assert.Equal(t, 1, tr.attemptsOf("once"))
	assert.Equal(t, plan.StatusFailed, final.Status)
}

func TestScenarioCycleRejectedBeforeExecution(t *testing.T) {
	var calls atomic.Int32
	exec := tools.ExecutorFunc(func(ctx context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		calls.Add(1)
		return nil, nil
	})
	e := newEngine(exec, Config{AutoRun: true})

	_, err := e.CreatePlan(context.Background(), PlanRequest{Actions: []*plan.Action{act("A", "B"), act("B", "A")}})
	require.Error(t, err)
	assert.ErrorIs(t, err, plan.ErrCycle)
	assert.Zero(t, calls.Load())
	assert.Empty(t, e.ListPlans())
}

func TestScenarioPartialCompletionPreserved(t *testing.T) {
	exec := tools.ExecutorFunc(func(ctx context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		if a.ID == "A" {
			return nil, errors.New("permanent failure")
		}
		return "ok", nil
	})
	e := newEngine(exec, Config{})

	a := act("A")
	a.MaxRetries = 1
	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: []*plan.Action{a, act("B")}})
	require.NoError(t, err)
	final, err := e.RunPlan(context.Background(), p.ID)
	require.NoError(t, err)

	assert.Equal(t, plan.StatusFailed, final.Status)
	assert.Equal(t, plan.ActionFailed, statusOf(t, final, "A"))
	assert.Equal(t, plan.ActionCompleted, statusOf(t, final, "B"))
	assert.Equal(t, 50.0, final.Progress)
}

func TestRetryExhaustionLeavesDependentsPending(t *testing.T) {
	tr := newTracker()
	exec := tools.ExecutorFunc(func(ctx context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		tr.enter(a.ID)
		defer tr.leave()
		if a.ID == "flaky" {
			return nil, errors.New("boom")
		}
		return "ok", nil
	})
	e := newEngine(exec, Config{})

	flaky := act("flaky")
	flaky.MaxRetries = 3
	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: []*plan.Action{flaky, act("after", "flaky")}})
	require.NoError(t, err)
	final, err := e.RunPlan(context.Background(), p.ID)
	require.NoError(t, err)

	got, _ := final.Action("flaky")
	assert.Equal(t, plan.ActionFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Equal(t, "boom", got.Error)
	assert.Equal(t, 3, tr.attemptsOf("flaky"), "no attempt beyond MaxRetries")
	assert.Zero(t, tr.attemptsOf("after"))
	assert.Equal(t, plan.ActionPending, statusOf(t, final, "after"))
	assert.Equal(t, plan.StatusFailed, final.Status)
	assert.Contains(t, final.Diagnostic, plan.ErrDeadlock.Error())
}

func TestValidationErrorIsNotRetried(t *testing.T) {
	tr := newTracker()
	exec := tools.ExecutorFunc(func(ctx context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		tr.enter(a.ID)
		defer tr.leave()
		return nil, tools.Invalidf(a, "missing recipient")
	})
	e := newEngine(exec, Config{})

	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: []*plan.Action{act("send")}})
	require.NoError(t, err)
	final, err := e.RunPlan(context.Background(), p.ID)
	require.NoError(t, err)

	got, _ := final.Action("send")
	assert.Equal(t, plan.ActionFailed, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Contains(t, got.Error, "missing recipient")
	assert.Equal(t, 1, tr.attemptsOf("send"))
}

func TestTimeoutIsRetried(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	tr := newTracker()
	exec := tools.ExecutorFunc(func(ctx context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		tr.enter(a.ID)
		defer tr.leave()
		<-release // ignores ctx on purpose
		return "late", nil
	})
	e := newEngine(exec, Config{})

	slow := act("slow")
	slow.MaxRetries = 2
	slow.Timeout = 20 * time.Millisecond
	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: []*plan.Action{slow}})
	require.NoError(t, err)

	start := time.Now()
	final, err := e.RunPlan(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	got, _ := final.Action("slow")
	assert.Equal(t, plan.ActionFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Contains(t, got.Error, "timed out")
	assert.Equal(t, 2, tr.attemptsOf("slow"))
}

func TestConcurrencyCapNeverExceeded(t *testing.T) {
	tr := newTracker()
	exec := tools.ExecutorFunc(func(ctx context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		tr.enter(a.ID)
		defer tr.leave()
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	})
	e := newEngine(exec, Config{Concurrency: 3})

	var actions []*plan.Action
	for i := range 10 {
		actions = append(actions, act(fmt.Sprintf("a%d", i)))
	}
	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: actions})
	require.NoError(t, err)
	final, err := e.RunPlan(context.Background(), p.ID)
	require.NoError(t, err)

	assert.Equal(t, plan.StatusCompleted, final.Status)
	assert.LessOrEqual(t, tr.peak, 3)
	assert.Len(t, tr.order, 10)
}

func TestRandomDAGRespectsDependencies(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	var actions []*plan.Action
	for i := range 30 {
		a := act(fmt.Sprintf("n%02d", i))
		for j := range i {
			if r.IntN(6) == 0 {
				a.Dependencies = append(a.Dependencies, fmt.Sprintf("n%02d", j))
			}
		}
		actions = append(actions, a)
	}
	latency := make(map[string]time.Duration, len(actions))
	for _, a := range actions {
		latency[a.ID] = time.Duration(r.IntN(5)) * time.Millisecond
	}

	var violations atomic.Int32
	exec := tools.ExecutorFunc(func(ctx context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		for _, dep := range a.Dependencies {
			if d, ok := p.Action(dep); !ok || d.Status != plan.ActionCompleted {
				violations.Add(1)
			}
		}
		time.Sleep(latency[a.ID])
		return a.ID, nil
	})
	snaps := newMemSnapshots()
	e := newEngine(exec, Config{Concurrency: 4}, WithSnapshotter(snaps))

	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: actions})
	require.NoError(t, err)
	final, err := e.RunPlan(context.Background(), p.ID)
	require.NoError(t, err)

	assert.Equal(t, plan.StatusCompleted, final.Status)
	assert.Zero(t, violations.Load())
	for _, a := range final.Actions {
		for _, dep := range a.Dependencies {
			d, _ := final.Action(dep)
			assert.False(t, d.CompletedAt.After(a.StartedAt), "%s started before %s completed", a.ID, dep)
		}
	}

	snaps.mu.Lock()
	defer snaps.mu.Unlock()
	require.NotEmpty(t, snaps.history)
	for _, s := range snaps.history {
		want := 100 * float64(s.Count(plan.ActionCompleted)) / float64(len(s.Actions))
		assert.InDelta(t, want, s.Progress, 1e-9)
	}
}

func TestCancelMidExecution(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	exec := tools.ExecutorFunc(func(ctx context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		if a.ID == "quick" {
			return "ok", nil
		}
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := newEngine(exec, Config{Concurrency: 2})

	slow := act("slow")
	slow.Timeout = time.Minute
	waiting := act("confirm")
	waiting.RequiresConfirmation = true
	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: []*plan.Action{
		slow, act("quick"), act("after", "slow"), waiting,
	}})
	require.NoError(t, err)

	type result struct {
		p   *plan.Plan
		err error
	}
	done := make(chan result, 1)
	go func() {
		final, err := e.RunPlan(context.Background(), p.ID)
		done <- result{final, err}
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("slow action never started")
	}
	assert.True(t, e.CancelPlan(p.ID))

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPlan did not return after cancellation")
	}
	require.NoError(t, res.err)
	assert.Equal(t, plan.StatusCancelled, res.p.Status)
	for _, a := range res.p.Actions {
		assert.True(t, a.Status.IsTerminal(), "%s is %s", a.ID, a.Status)
	}
	assert.Equal(t, plan.ActionCancelled, statusOf(t, res.p, "slow"))
	assert.Equal(t, plan.ActionCancelled, statusOf(t, res.p, "confirm"))
	assert.Equal(t, plan.ActionCancelled, statusOf(t, res.p, "after"))
	assert.False(t, e.CancelPlan(p.ID))
	assert.Empty(t, e.PendingConfirmations())
}

func TestCancelIdlePlan(t *testing.T) {
	e := newEngine(tools.NewRegistry(), Config{})
	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: []*plan.Action{act("a"), act("b", "a")}})
	require.NoError(t, err)

	assert.True(t, e.CancelPlan(p.ID))
	assert.False(t, e.CancelPlan("missing"))
	_, ok := e.GetPlan(context.Background(), p.ID)
	assert.False(t, ok, "cancelled plan without snapshots is gone")
	_, err = e.RunPlan(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestExpireConfirmations(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	gate := confirm.NewGate(time.Minute)
	gate.Now = func() time.Time { return now }
	snaps := newMemSnapshots()
	e := New(NewPlanStore(), nil, tools.NewRegistry(), gate, Config{AutoRun: true},
		WithLogger(observability.NewWriterLogger(io.Discard)), WithSnapshotter(snaps))

	x := act("X")
	x.RequiresConfirmation = true
	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: []*plan.Action{x, act("Y", "X")}})
	require.NoError(t, err)
	assert.Equal(t, plan.ActionWaitingConfirmation, statusOf(t, p, "X"))

	assert.Zero(t, e.ExpireConfirmations(context.Background(), now.Add(30*time.Second)))
	assert.Equal(t, 2, e.ExpireConfirmations(context.Background(), now.Add(time.Minute)))

	final, ok := e.GetPlan(context.Background(), p.ID)
	require.True(t, ok)
	assert.Equal(t, plan.StatusCancelled, final.Status)
	got, _ := final.Action("X")
	assert.Equal(t, confirm.ErrExpired.Error(), got.Error)
	assert.Zero(t, e.Stats().ActivePlans)
}

func TestCreatePlanFromIntent(t *testing.T) {
	reg := tools.NewRegistry()
	reg.MustRegister(plan.ActionCalendarQuery, tools.ExecutorFunc(func(ctx context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		return []string{"standup"}, nil
	}))
	e := newEngine(reg, Config{AutoRun: true})

	p, err := e.CreatePlan(context.Background(), PlanRequest{
		Intent:   string(decompose.IntentCalendarQuery),
		Entities: map[string]any{"date": "2026-10-16"},
		UserID:   "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, plan.StatusCompleted, p.Status)
	assert.Equal(t, "calendar.query", p.Intent)
	require.Len(t, p.Actions, 1)
	assert.Equal(t, []string{"standup"}, p.Actions[0].Result)
}

func TestMissingExecutorFailsWithoutRetry(t *testing.T) {
	e := newEngine(tools.NewRegistry(), Config{})
	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: []*plan.Action{act("a")}})
	require.NoError(t, err)
	final, err := e.RunPlan(context.Background(), p.ID)
	require.NoError(t, err)

	got, _ := final.Action("a")
	assert.Equal(t, plan.ActionFailed, got.Status)
	assert.Zero(t, got.RetryCount)
}

func TestDeniedByPolicy(t *testing.T) {
	policy := governance.NewDefaultPolicyEngine()
	policy.DenyType(plan.ActionEmailSend)
	d := decompose.NewDecomposer(policy, 3, time.Second)
	e := New(NewPlanStore(), d, tools.NewRegistry(), nil, Config{},
		WithLogger(observability.NewWriterLogger(io.Discard)))

	_, err := e.CreatePlan(context.Background(), PlanRequest{
		Intent:   "email.send",
		Entities: map[string]any{"recipient": "boss@example.com", "subject": "Report"},
	})
	assert.ErrorIs(t, err, governance.ErrDenied)
	assert.Empty(t, e.ListPlans())
}

func TestResolveConfirmationErrors(t *testing.T) {
	e := newEngine(tools.NewRegistry(), Config{})

	_, err := e.ResolveConfirmation(context.Background(), "garbage", true)
	assert.ErrorIs(t, err, confirm.ErrInvalidHandle)

	_, err = e.ResolveConfirmation(context.Background(), confirm.NewHandle("nope", "x"), true)
	assert.ErrorIs(t, err, ErrPlanNotFound)

	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: []*plan.Action{act("a")}})
	require.NoError(t, err)
	_, err = e.ResolveConfirmation(context.Background(), confirm.NewHandle(p.ID, "a"), true)
	assert.ErrorIs(t, err, confirm.ErrUnknownConfirmation)
}

func TestRunPlanStopsWhenCallerContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := tools.ExecutorFunc(func(c context.Context, a *plan.Action, p *plan.Plan) (any, error) {
		cancel()
		<-c.Done()
		return nil, c.Err()
	})
	e := newEngine(exec, Config{})

	p, err := e.CreatePlan(context.Background(), PlanRequest{Actions: []*plan.Action{act("a")}})
	require.NoError(t, err)
	snapshot, err := e.RunPlan(ctx, p.ID)
	assert.ErrorIs(t, err, context.Canceled)

	got, _ := snapshot.Action("a")
	assert.Equal(t, plan.ActionPending, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Len(t, e.ListPlans(), 1)
}

func TestBackoff(t *testing.T) {
	cfg := Config{RetryBackoff: 100 * time.Millisecond, MaxRetryBackoff: 300 * time.Millisecond}
	assert.Zero(t, cfg.backoff(0))
	assert.Equal(t, 100*time.Millisecond, cfg.backoff(1))
	assert.Equal(t, 200*time.Millisecond, cfg.backoff(2))
	assert.Equal(t, 300*time.Millisecond, cfg.backoff(3))
	assert.Equal(t, 300*time.Millisecond, cfg.backoff(10))
	assert.Zero(t, Config{}.backoff(3))
}
