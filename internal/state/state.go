// Package state snapshots a crawl to durable storage and restores it on the
// next run against the same target.
package state

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PentesterFlow/ReconCrawler/internal/errors"
	"github.com/PentesterFlow/ReconCrawler/internal/logger"
	"github.com/PentesterFlow/ReconCrawler/internal/scope"
)

// Backend names a Store implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendBolt   Backend = "bolt"
	BackendMemory Backend = "memory"
)

// OpenStore opens the store for backend under dir.
func OpenStore(backend Backend, dir string) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(dir, false), nil
	case BackendBolt:
		return NewBoltStore(filepath.Join(dir, "state.db"))
	case BackendMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown state backend %q", backend)
}

// Manager owns the snapshot of one crawl target.
type Manager struct {
	store Store
	log   *logger.Logger

	saveMu sync.Mutex

	mu        sync.Mutex
	key       string
	target    string
	crawlID   string
	startedAt time.Time
	saves     int
	failures  int
}

// NewManager creates a manager over store.
func NewManager(store Store, log *logger.Logger) *Manager {
	return &Manager{
		store: store,
		log:   logger.OrNop(log).WithComponent("state"),
	}
}

// Init binds the manager to target. The snapshot key is derived from the
// target's host. A fresh crawl id is generated; Restore replaces it with
// the saved one.
func (m *Manager) Init(target string) error {
	key, err := scope.StateKey(target)
	if err != nil {
		return errors.NewSetupError("state init", "invalid target", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	m.mu.Lock()
	m.key = key
	m.target = target
	m.crawlID = id.String()
	m.startedAt = time.Now()
	m.mu.Unlock()
	return nil
}

// Key returns the snapshot key.
func (m *Manager) Key() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key
}

// CrawlID returns the id of the current crawl.
func (m *Manager) CrawlID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.crawlID
}

// StartedAt returns when the crawl first started, across resumes.
func (m *Manager) StartedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startedAt
}

// Load returns the saved snapshot when one exists for exactly this target
// and is not marked complete. Read failures are logged and reported as no
// snapshot.
func (m *Manager) Load() (*CrawlState, bool) {
	m.mu.Lock()
	key, target := m.key, m.target
	m.mu.Unlock()

	st, err := m.store.Load(key)
	if err != nil {
		m.log.WithError(errors.NewPersistenceError(key, "load", err)).Warn("Ignoring unreadable snapshot")
		return nil, false
	}
	if st == nil {
		return nil, false
	}
	if st.TargetURL != target {
		m.log.Infof("Snapshot %s belongs to %s, starting fresh", key, st.TargetURL)
		return nil, false
	}
	if st.Completed {
		m.log.Infof("Snapshot %s is complete, starting fresh", key)
		return nil, false
	}
	return st, true
}

// Restore replays st into src and returns the number of pending tasks
// rescheduled. Visited URLs go in first so pending tasks already visited
// are dropped.
func (m *Manager) Restore(st *CrawlState, src Sources) int {
	m.mu.Lock()
	if st.CrawlID != "" {
		m.crawlID = st.CrawlID
	}
	if !st.StartedAt.IsZero() {
		m.startedAt = st.StartedAt
	}
	m.mu.Unlock()

	n := src.Scheduler.Restore(st.Visited, st.Pending)
	src.Results.Merge(st.Results)
	if src.Forms != nil {
		src.Forms.Restore(st.SubmittedForms)
	}

	m.log.Infof("Restored %d visited URLs, %d pending tasks, %d pages", len(st.Visited), n, len(st.Results.Pages))
	return n
}

// Capture builds a snapshot from src without writing it.
func (m *Manager) Capture(src Sources) *CrawlState {
	m.mu.Lock()
	st := &CrawlState{
		Version:   FormatVersion,
		CrawlID:   m.crawlID,
		TargetURL: m.target,
		StartedAt: m.startedAt,
	}
	m.mu.Unlock()

	st.Visited, st.Pending = src.Scheduler.Checkpoint()
	st.Results = src.Results.Snapshot()
	if src.Forms != nil {
		st.SubmittedForms = src.Forms.Items()
	}
	st.Timestamp = time.Now()
	return st
}

// Save writes a snapshot of src. Concurrent saves are serialized.
func (m *Manager) Save(src Sources) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	st := m.Capture(src)
	key := m.Key()
	if err := m.store.Save(key, st); err != nil {
		m.mu.Lock()
		m.failures++
		m.mu.Unlock()
		return errors.NewPersistenceError(key, "save", err)
	}

	m.mu.Lock()
	m.saves++
	m.mu.Unlock()
	m.log.Debugf("Saved snapshot %s: %d visited, %d pending", key, len(st.Visited), len(st.Pending))
	return nil
}

// MarkComplete deletes the snapshot. When deletion fails the snapshot is
// rewritten with Completed set so the next run ignores it.
func (m *Manager) MarkComplete(src Sources) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	key := m.Key()
	err := m.store.Delete(key)
	if err == nil {
		m.log.Debugf("Deleted snapshot %s", key)
		return nil
	}

	st := m.Capture(src)
	st.Completed = true
	if serr := m.store.Save(key, st); serr != nil {
		return errors.NewPersistenceError(key, "complete", serr)
	}
	return errors.NewPersistenceError(key, "delete", err)
}

// Counts returns successful and failed save counts.
func (m *Manager) Counts() (saves, failures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves, m.failures
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// Inspect loads the snapshot for target without binding a manager.
func Inspect(store Store, target string) (*CrawlState, error) {
	key, err := scope.StateKey(target)
	if err != nil {
		return nil, err
	}
	return store.Load(key)
}

// Clear deletes the snapshot for target.
func Clear(store Store, target string) error {
	key, err := scope.StateKey(target)
	if err != nil {
		return err
	}
	return store.Delete(key)
}
