package scheduler

import (
	"sort"
	"sync"
)

// inflight is the set of subscriptions with a running cycle.
type inflight struct {
	mu sync.Mutex
	m  map[string]struct{}
}

// tryAdd inserts id unless it is already present.
func (s *inflight) tryAdd(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = map[string]struct{}{}
	}
	if _, ok := s.m[id]; ok {
		return false
	}
	s.m[id] = struct{}{}
	return true
}

func (s *inflight) remove(id string) {
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

func (s *inflight) ids() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.m))
	for id := range s.m {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}
