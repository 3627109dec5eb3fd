package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func act(id string, deps ...string) *Action {
	return &Action{ID: id, Type: ActionSystemNotify, Dependencies: deps, MaxRetries: DefaultMaxRetries}
}

func TestNewAppliesDefaults(t *testing.T) {
	p, err := New("p1", "title", "u1", 1, nil, []*Action{
		act("a"),
		{ID: "b", Type: ActionTaskCreate, MaxRetries: NoRetry},
		{ID: "c", Type: ActionTaskCreate},
		{ID: "d", Type: ActionTaskCreate, MaxRetries: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, 0.0, p.Progress)
	for _, a := range p.Actions {
		assert.Equal(t, ActionPending, a.Status)
		assert.Equal(t, DefaultTimeout, a.Timeout)
		assert.False(t, a.CreatedAt.IsZero())
	}
	retries := map[string]int{}
	for _, a := range p.Actions {
		retries[a.ID] = a.MaxRetries
	}
	assert.Equal(t, map[string]int{"a": DefaultMaxRetries, "b": 0, "c": DefaultMaxRetries, "d": 1}, retries)
}

func TestNewRejectsCycle(t *testing.T) {
	_, err := New("p1", "cyclic", "u1", 0, nil, []*Action{act("a", "b"), act("b", "a")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycle))

	var gerr *GraphError
	require.True(t, errors.As(err, &gerr))
	assert.Contains(t, gerr.Msg, "a")
	assert.Contains(t, gerr.Msg, "b")
}

func TestNewRejectsLongCycle(t *testing.T) {
	_, err := New("p1", "cyclic", "u1", 0, nil, []*Action{
		act("root"),
		act("a", "root", "c"),
		act("b", "a"),
		act("c", "b"),
	})
	require.ErrorIs(t, err, ErrCycle)
	assert.Contains(t, err.Error(), "->")
}

func TestNewRejectsInvalidGraphs(t *testing.T) {
	tests := []struct {
		name    string
		actions []*Action
		wantErr error
	}{
		{"empty", nil, ErrInvalidGraph},
		{"empty id", []*Action{act("")}, ErrInvalidGraph},
		{"duplicate id", []*Action{act("a"), act("a")}, ErrInvalidGraph},
		{"unknown dependency", []*Action{act("a", "ghost")}, ErrInvalidGraph},
		{"self dependency", []*Action{act("a", "a")}, ErrCycle},
		{"unknown type", []*Action{{ID: "a", Type: "fax.send"}}, ErrInvalidGraph},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("p", "t", "u", 0, nil, tt.actions)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestReadySetFollowsDependencies(t *testing.T) {
	p, err := New("p1", "diamond", "u1", 0, nil, []*Action{
		act("a"), act("b", "a"), act("c", "a"), act("d", "b", "c"),
	})
	require.NoError(t, err)

	ids := func(as []*Action) []string {
		var out []string
		for _, a := range as {
			out = append(out, a.ID)
		}
		return out
	}

	assert.Equal(t, []string{"a"}, ids(p.ReadySet()))

	a, _ := p.Action("a")
	require.NoError(t, p.Transition(a, ActionInProgress))
	assert.Empty(t, p.ReadySet())
	require.NoError(t, p.Transition(a, ActionCompleted))
	assert.Equal(t, []string{"b", "c"}, ids(p.ReadySet()))

	assert.Equal(t, []string{"b", "c", "d"}, ids(p.Dependents("a")))
	assert.Equal(t, []string{"d"}, ids(p.Dependents("b")))
}

func TestTransitionRejectsStartBeforeDependencies(t *testing.T) {
	p, err := New("p1", "chain", "u1", 0, nil, []*Action{act("a"), act("b", "a")})
	require.NoError(t, err)

	b, _ := p.Action("b")
	err = p.Transition(b, ActionInProgress)
	assert.ErrorIs(t, err, ErrTransition)
	assert.Equal(t, ActionPending, b.Status)
}

func TestTransitionTable(t *testing.T) {
	p, err := New("p1", "single", "u1", 0, nil, []*Action{act("a")})
	require.NoError(t, err)
	a, _ := p.Action("a")

	require.NoError(t, p.Transition(a, ActionWaitingConfirmation))
	assert.ErrorIs(t, p.Transition(a, ActionInProgress), ErrTransition)
	require.NoError(t, p.Transition(a, ActionPending))
	require.NoError(t, p.Transition(a, ActionInProgress))
	assert.False(t, a.StartedAt.IsZero())
	require.NoError(t, p.Transition(a, ActionFailed))
	assert.ErrorIs(t, p.Transition(a, ActionPending), ErrTransition)
}

func TestRefreshProgressAndStatus(t *testing.T) {
	p, err := New("p1", "pair", "u1", 0, nil, []*Action{act("a"), act("b"), act("c"), act("d")})
	require.NoError(t, err)

	a, _ := p.Action("a")
	require.NoError(t, p.Transition(a, ActionInProgress))
	require.NoError(t, p.Transition(a, ActionCompleted))
	p.Refresh()
	assert.Equal(t, 25.0, p.Progress)
	assert.Equal(t, StatusInProgress, p.Status)

	for _, id := range []string{"b", "c", "d"} {
		x, _ := p.Action(id)
		require.NoError(t, p.Transition(x, ActionInProgress))
		require.NoError(t, p.Transition(x, ActionCompleted))
	}
	p.Refresh()
	assert.Equal(t, 100.0, p.Progress)
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestRefreshPartialCancellationIsFailure(t *testing.T) {
	p, err := New("p1", "pair", "u1", 0, nil, []*Action{act("a"), act("b")})
	require.NoError(t, err)

	a, _ := p.Action("a")
	b, _ := p.Action("b")
	require.NoError(t, p.Transition(a, ActionInProgress))
	require.NoError(t, p.Transition(a, ActionCompleted))
	require.NoError(t, p.Transition(b, ActionCancelled))
	p.Refresh()

	assert.Equal(t, StatusFailed, p.Status)
	assert.Contains(t, p.Diagnostic, "partially completed")
}

func TestCancelLeavesInFlightToScheduler(t *testing.T) {
	p, err := New("p1", "trio", "u1", 0, nil, []*Action{act("a"), act("b"), act("c", "a")})
	require.NoError(t, err)

	a, _ := p.Action("a")
	require.NoError(t, p.Transition(a, ActionInProgress))

	ids := p.Cancel("cancelled by user")
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
	assert.True(t, p.CancelRequested())
	assert.Equal(t, StatusInProgress, p.Status)

	require.NoError(t, p.Transition(a, ActionCancelled))
	p.Refresh()
	assert.Equal(t, StatusCancelled, p.Status)
	assert.Nil(t, p.Cancel("again"))
}

func TestStalled(t *testing.T) {
	p, err := New("p1", "chain", "u1", 0, nil, []*Action{act("a"), act("b", "a")})
	require.NoError(t, err)
	assert.False(t, p.Stalled())

	a, _ := p.Action("a")
	require.NoError(t, p.Transition(a, ActionInProgress))
	assert.False(t, p.Stalled())
	require.NoError(t, p.Transition(a, ActionFailed))
	assert.True(t, p.Stalled())
}

func TestCloneIsIndependent(t *testing.T) {
	p, err := New("p1", "single", "u1", 0, map[string]any{"tz": "UTC"}, []*Action{
		{ID: "a", Type: ActionTaskCreate, Parameters: map[string]any{"title": "x"}},
	})
	require.NoError(t, err)

	cp := p.Clone()
	cp.Actions[0].Parameters["title"] = "changed"
	cp.Actions[0].Status = ActionCompleted
	cp.Context["tz"] = "CET"

	a, _ := p.Action("a")
	assert.Equal(t, "x", a.Param("title"))
	assert.Equal(t, ActionPending, a.Status)
	assert.Equal(t, "UTC", p.Context["tz"])

	ca, ok := cp.Action("a")
	require.True(t, ok)
	assert.Equal(t, ActionCompleted, ca.Status)
}
