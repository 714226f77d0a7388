package scheduler

import (
	"github.com/bits-and-blooms/bloom/v3"
)

// URLSet is an insertion-ordered set of URLs with a Bloom filter in front
// of the exact map. It is not safe for concurrent use; the Scheduler
// guards it.
type URLSet struct {
	filter *bloom.BloomFilter
	exact  map[string]struct{}
	order  []string
}

// NewURLSet sizes the filter for roughly estimatedItems entries.
func NewURLSet(estimatedItems int) *URLSet {
	if estimatedItems < 1000 {
		estimatedItems = 1000
	}
	return &URLSet{
		filter: bloom.NewWithEstimates(uint(estimatedItems), 0.001),
		exact:  make(map[string]struct{}),
	}
}

// Add inserts url and reports whether it was new.
func (s *URLSet) Add(url string) bool {
	if s.Has(url) {
		return false
	}
	s.filter.AddString(url)
	s.exact[url] = struct{}{}
	s.order = append(s.order, url)
	return true
}

// Has reports membership. Bloom misses skip the map lookup.
func (s *URLSet) Has(url string) bool {
	if !s.filter.TestString(url) {
		return false
	}
	_, ok := s.exact[url]
	return ok
}

// Len returns the number of URLs in the set.
func (s *URLSet) Len() int {
	return len(s.order)
}

// Items returns the URLs in insertion order.
func (s *URLSet) Items() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
