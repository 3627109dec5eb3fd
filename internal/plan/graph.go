package plan

import (
	"time"
)

// New validates the dependency graph of actions and assembles a Plan.
//
// Construction is the only place cycles are detected; a Plan that exists is
// guaranteed acyclic. Actions are reset to PENDING with default limits filled
// in: a zero MaxRetries becomes DefaultMaxRetries and a negative one (NoRetry)
// becomes zero.
func New(id, title, userID string, priority int, context map[string]any, actions []*Action) (*Plan, error) {
	if len(actions) == 0 {
		return nil, invalidf("plan has no actions")
	}

	now := time.Now()
	p := &Plan{
		ID:        id,
		Title:     title,
		UserID:    userID,
		Priority:  priority,
		Context:   context,
		Actions:   actions,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	p.index = make(map[string]int, len(actions))
	for i, a := range actions {
		if a == nil {
			return nil, invalidf("action %d is nil", i)
		}
		if a.ID == "" {
			return nil, invalidf("action %d has an empty id", i)
		}
		if !a.Type.Valid() {
			return nil, invalidf("action %q has unknown type %q", a.ID, a.Type)
		}
		if _, dup := p.index[a.ID]; dup {
			return nil, invalidf("duplicate action id %q", a.ID)
		}
		p.index[a.ID] = i
	}

	for _, a := range actions {
		seen := make(map[string]bool, len(a.Dependencies))
		for _, dep := range a.Dependencies {
			if dep == a.ID {
				return nil, cycleError([]string{a.ID, a.ID})
			}
			if _, ok := p.index[dep]; !ok {
				return nil, invalidf("action %q depends on unknown action %q", a.ID, dep)
			}
			if seen[dep] {
				return nil, invalidf("action %q lists dependency %q twice", a.ID, dep)
			}
			seen[dep] = true
		}
	}

	if err := p.validateAcyclic(); err != nil {
		return nil, err
	}

	for _, a := range actions {
		a.Status = ActionPending
		a.RetryCount = 0
		a.Confirmed = false
		a.Result = nil
		a.Error = ""
		switch {
		case a.MaxRetries == 0:
			a.MaxRetries = DefaultMaxRetries
		case a.MaxRetries < 0:
			a.MaxRetries = 0
		}
		if a.Timeout <= 0 {
			a.Timeout = DefaultTimeout
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
	}
	p.Refresh()
	return p, nil
}

// validateAcyclic runs Kahn's algorithm over the dependency relation and, if
// some actions are never released, extracts one cycle for the error message.
func (p *Plan) validateAcyclic() error {
	indeg := make([]int, len(p.Actions))
	dependents := p.dependentIndices()
	for i, a := range p.Actions {
		indeg[i] = len(a.Dependencies)
	}

	queue := make([]int, 0, len(p.Actions))
	for i, d := range indeg {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, m := range dependents[n] {
			indeg[m]--
			if indeg[m] == 0 {
				queue = append(queue, m)
			}
		}
	}
	if visited == len(p.Actions) {
		return nil
	}
	return cycleError(p.findCycle())
}

// dependentIndices maps each action index to the indices that depend on it,
// in insertion order.
func (p *Plan) dependentIndices() [][]int {
	out := make([][]int, len(p.Actions))
	for i, a := range p.Actions {
		for _, dep := range a.Dependencies {
			j := p.index[dep]
			out[j] = append(out[j], i)
		}
	}
	return out
}

// findCycle performs a DFS in insertion order and returns one cycle as a
// list of action ids, first id repeated at the end.
func (p *Plan) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(p.Actions))
	parent := make([]int, len(p.Actions))
	for i := range parent {
		parent[i] = -1
	}
	dependents := p.dependentIndices()

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range dependents[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range p.Actions {
		if color[i] == white && dfs(i) {
			break
		}
	}

	out := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, p.Actions[cycle[i]].ID)
	}
	return out
}

// DependenciesMet reports whether every dependency of a is COMPLETED.
func (p *Plan) DependenciesMet(a *Action) bool {
	for _, dep := range a.Dependencies {
		d, ok := p.Action(dep)
		if !ok || d.Status != ActionCompleted {
			return false
		}
	}
	return true
}

// ReadySet returns the PENDING actions whose dependencies are all COMPLETED,
// in insertion order.
func (p *Plan) ReadySet() []*Action {
	var ready []*Action
	for _, a := range p.Actions {
		if a.Status == ActionPending && p.DependenciesMet(a) {
			ready = append(ready, a)
		}
	}
	return ready
}

// Dependents returns every action that depends on id directly or
// transitively, in breadth-first order.
func (p *Plan) Dependents(id string) []*Action {
	if _, ok := p.Action(id); !ok {
		return nil
	}
	dependents := p.dependentIndices()
	visited := make([]bool, len(p.Actions))
	visited[p.index[id]] = true

	var out []*Action
	queue := append([]int(nil), dependents[p.index[id]]...)
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		if visited[u] {
			continue
		}
		visited[u] = true
		out = append(out, p.Actions[u])
		queue = append(queue, dependents[u]...)
	}
	return out
}
