// Package scheduler admits, dedups and retires crawl tasks under a fixed
// concurrency bound.
package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/PentesterFlow/ReconCrawler/internal/logger"
)

// Task is one URL to visit. Tasks are immutable once created.
type Task struct {
	URL     string `json:"url"`
	Depth   int    `json:"depth"`
	Referer string `json:"referer,omitempty"`
}

// ErrInterrupted is returned (possibly wrapped) by a ProcessFunc that was
// stopped before its task finished. The task goes back to the pending list
// instead of the VisitedSet, so a snapshot carries it forward.
var ErrInterrupted = errors.New("task interrupted")

// Admit is evaluated when a task is dequeued. inFlight counts admitted
// tasks that have not finished yet.
type Admit func(t Task, inFlight int) bool

// ProcessFunc runs one admitted task.
type ProcessFunc func(ctx context.Context, t Task) error

// Stats counts task outcomes.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Rejected  int64 `json:"rejected"`
	Admitted  int64 `json:"admitted"`
	Dropped   int64 `json:"dropped"`
	Drained   int64 `json:"drained"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// Observer receives scheduler events.
type Observer interface {
	TaskSubmitted()
	TaskRejected()
	TaskAdmitted()
	TaskDropped()
	TasksDrained(n int)
	TaskFinished(err error)
	InFlight(n int)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithObserver sets an event observer, typically the metrics collector.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.obs = o }
}

// WithEstimatedSize sizes the visited-set Bloom filter.
func WithEstimatedSize(n int) Option {
	return func(s *Scheduler) { s.visited = NewURLSet(n) }
}

// Scheduler owns the pending list, the EnqueuedSet and the VisitedSet.
// A URL moves unseen -> enqueued -> visited and is never in both sets.
type Scheduler struct {
	log *logger.Logger
	obs Observer

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []Task
	drained  []Task
	running  map[string]Task
	enqueued map[string]struct{}
	visited  *URLSet
	inFlight int
	stopped  bool
	stats    Stats
}

// New creates a scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		enqueued: make(map[string]struct{}),
		running:  make(map[string]Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.visited == nil {
		s.visited = NewURLSet(0)
	}
	s.log = logger.OrNop(s.log)
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Submit schedules t unless its URL is already enqueued or visited, or
// the scheduler is stopped. It reports whether the task was accepted.
func (s *Scheduler) Submit(t Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, ok := s.enqueued[t.URL]; ok || s.visited.Has(t.URL) {
		s.stats.Rejected++
		if s.obs != nil {
			s.obs.TaskRejected()
		}
		return false
	}

	s.enqueued[t.URL] = struct{}{}
	s.pending = append(s.pending, t)
	s.stats.Submitted++
	if s.obs != nil {
		s.obs.TaskSubmitted()
	}
	s.cond.Signal()
	return true
}

// Run drives up to threads tasks at a time until the pending list is empty
// and nothing is in flight, or until Stop is called or ctx is done.
// Failed tasks are counted and never retried.
func (s *Scheduler) Run(ctx context.Context, threads int, admit Admit, process ProcessFunc) Stats {
	if threads < 1 {
		threads = 1
	}
	stopOnCancel := context.AfterFunc(ctx, s.Stop)
	defer stopOnCancel()

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID, admit, process)
		}(i)
	}
	wg.Wait()

	return s.Stats()
}

func (s *Scheduler) worker(ctx context.Context, workerID int, admit Admit, process ProcessFunc) {
	log := s.log.WithWorker(workerID)
	for {
		t, ok := s.next(admit)
		if !ok {
			return
		}
		err := process(ctx, t)
		if err != nil {
			log.WithURL(t.URL).WithError(err).Debug("Task failed")
		}
		s.finish(t, err)
	}
}

func (s *Scheduler) next(admit Admit) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.stopped {
			s.drainLocked()
			s.cond.Broadcast()
			return Task{}, false
		}
		if len(s.pending) > 0 {
			t := s.pending[0]
			s.pending[0] = Task{}
			s.pending = s.pending[1:]

			if admit != nil && !admit(t, s.inFlight) {
				s.stats.Dropped++
				if s.obs != nil {
					s.obs.TaskDropped()
				}
				continue
			}

			s.inFlight++
			s.running[t.URL] = t
			s.stats.Admitted++
			if s.obs != nil {
				s.obs.TaskAdmitted()
				s.obs.InFlight(s.inFlight)
			}
			return t, true
		}
		if s.inFlight == 0 {
			// Queue idle: wake every other worker so they exit too.
			s.cond.Broadcast()
			return Task{}, false
		}
		s.cond.Wait()
	}
}

func (s *Scheduler) finish(t Task, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, t.URL)
	s.inFlight--
	if errors.Is(err, ErrInterrupted) {
		// Still enqueued, never visited.
		s.drained = append(s.drained, t)
		s.stats.Drained++
		if s.obs != nil {
			s.obs.TasksDrained(1)
			s.obs.InFlight(s.inFlight)
		}
		s.cond.Broadcast()
		return
	}

	s.completeLocked(t.URL)
	if err != nil {
		s.stats.Failed++
	} else {
		s.stats.Succeeded++
	}
	if s.obs != nil {
		s.obs.TaskFinished(err)
		s.obs.InFlight(s.inFlight)
	}
	s.cond.Broadcast()
}

// Complete moves url from the EnqueuedSet to the VisitedSet. It is
// idempotent and is also applied when a task finishes.
func (s *Scheduler) Complete(url string) {
	s.mu.Lock()
	s.completeLocked(url)
	s.mu.Unlock()
}

func (s *Scheduler) completeLocked(url string) {
	delete(s.enqueued, url)
	s.visited.Add(url)
}

func (s *Scheduler) drainLocked() {
	if len(s.pending) == 0 {
		return
	}
	n := len(s.pending)
	s.drained = append(s.drained, s.pending...)
	s.pending = nil
	s.stats.Drained += int64(n)
	if s.obs != nil {
		s.obs.TasksDrained(n)
	}
	s.log.Infof("Drained %d pending tasks", n)
}

// Stop stops admitting tasks. In-flight tasks finish; pending tasks are
// drained without execution but still reported by Pending.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.drainLocked()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Stopped reports whether Stop was called.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Restore replays a snapshot: visited URLs join the VisitedSet and pending
// tasks not already visited or enqueued are scheduled. It returns the
// number of tasks scheduled.
func (s *Scheduler) Restore(visited []string, pending []Task) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range visited {
		if _, ok := s.enqueued[u]; ok {
			delete(s.enqueued, u)
			s.pending = removeURL(s.pending, u)
		}
		s.visited.Add(u)
	}

	restored := 0
	for _, t := range pending {
		if s.visited.Has(t.URL) {
			continue
		}
		if _, ok := s.enqueued[t.URL]; ok {
			continue
		}
		s.enqueued[t.URL] = struct{}{}
		s.pending = append(s.pending, t)
		restored++
	}
	if restored > 0 {
		s.cond.Broadcast()
	}
	return restored
}

func removeURL(tasks []Task, url string) []Task {
	out := tasks[:0]
	for _, t := range tasks {
		if t.URL != url {
			out = append(out, t)
		}
	}
	return out
}

// IsVisited reports whether url is in the VisitedSet.
func (s *Scheduler) IsVisited(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visited.Has(url)
}

// IsEnqueued reports whether url is in the EnqueuedSet.
func (s *Scheduler) IsEnqueued(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.enqueued[url]
	return ok
}

// Visited returns the VisitedSet in insertion order.
func (s *Scheduler) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visited.Items()
}

// Pending returns tasks not yet started, including drained ones.
func (s *Scheduler) Pending() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.pending)+len(s.drained))
	out = append(out, s.pending...)
	return append(out, s.drained...)
}

// Checkpoint returns the VisitedSet and every task that still has to run:
// in-flight tasks not yet visited, then pending and drained ones. Both are
// read under one lock so they never overlap.
func (s *Scheduler) Checkpoint() ([]string, []Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.running)+len(s.pending)+len(s.drained))
	for _, t := range s.running {
		if !s.visited.Has(t.URL) {
			out = append(out, t)
		}
	}
	out = append(out, s.pending...)
	out = append(out, s.drained...)
	return s.visited.Items(), out
}

// InFlight returns the number of running tasks.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Stats returns a copy of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
