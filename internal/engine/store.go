package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/rahul/taskmesh/internal/confirm"
	"github.com/rahul/taskmesh/internal/plan"
)

// session is the live state of one active plan. mu serializes the scheduler
// loop and every confirmation mutation for that plan.
type session struct {
	mu      sync.Mutex
	plan    *plan.Plan
	table   *confirm.Table
	running bool
	cancel  context.CancelFunc
}

// PlanStore is the set of active plans. It is owned by the caller and passed
// to New; several engines must not share one.
type PlanStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func NewPlanStore() *PlanStore {
	return &PlanStore{sessions: make(map[string]*session)}
}

func (s *PlanStore) put(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.plan.ID] = sess
}

func (s *PlanStore) get(id string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *PlanStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of active plans.
func (s *PlanStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// list returns the active sessions ordered by plan creation time.
func (s *PlanStore) list() []*session {
	s.mu.RLock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].plan, out[j].plan
		if pi.CreatedAt.Equal(pj.CreatedAt) {
			return pi.ID < pj.ID
		}
		return pi.CreatedAt.Before(pj.CreatedAt)
	})
	return out
}
