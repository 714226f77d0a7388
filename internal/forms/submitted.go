package forms

import "sync"

// SubmittedSet holds method:action:signature keys of every form attempted in
// the crawl. It is shared by all pages.
type SubmittedSet struct {
	mu    sync.Mutex
	keys  map[string]struct{}
	order []string
}

// NewSubmittedSet creates an empty set.
func NewSubmittedSet() *SubmittedSet {
	return &SubmittedSet{keys: make(map[string]struct{})}
}

// TryAdd inserts key and reports whether it was absent. Two concurrent
// callers with the same key never both get true.
func (s *SubmittedSet) TryAdd(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
	return true
}

// Has reports whether key was attempted.
func (s *SubmittedSet) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

// Len returns the number of keys.
func (s *SubmittedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Items returns keys in insertion order.
func (s *SubmittedSet) Items() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Restore adds previously persisted keys.
func (s *SubmittedSet) Restore(keys []string) {
	for _, k := range keys {
		s.TryAdd(k)
	}
}
