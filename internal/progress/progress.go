// Package progress is the process-wide, time-boxed status store that lets
// a caller poll a long-running reconciliation. Entries are best-effort:
// a restart loses them and an absent entry means "idle / unknown".
package progress

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Phase is the lifecycle state of one reconciliation scope.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseWorking Phase = "working"
	PhaseDone    Phase = "done"
	PhaseError   Phase = "error"
)

// Counts are the running totals of one reconciliation. Synced is always
// created+updated+deleted.
type Counts struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Synced  int `json:"synced"`
}

// Snapshot is the stored state for one scope key.
type Snapshot struct {
	Counts
	Phase     Phase     `json:"phase"`
	Code      string    `json:"code,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"ts"`
}

// Update is a partial change shallow-merged into the current snapshot.
// A nil Counts leaves the counters untouched; a non-nil one replaces them
// all. Empty Phase/Code/Error leave the stored values in place.
type Update struct {
	Counts *Counts
	Phase  Phase
	Code   string
	Error  string
}

func (u Update) apply(s *Snapshot) {
	if u.Counts != nil {
		s.Counts = *u.Counts
		s.Synced = s.Created + s.Updated + s.Deleted
	}
	if u.Phase != "" {
		s.Phase = u.Phase
	}
	if u.Code != "" {
		s.Code = u.Code
	}
	if u.Error != "" {
		s.Error = u.Error
	}
	s.UpdatedAt = time.Now()
}

// Key builds the scope key. The email component is case-insensitive.
func Key(internshipID, email string) string {
	return internshipID + ":" + strings.ToLower(email)
}

// Store is the injectable key-value progress store.
type Store interface {
	// Set shallow-merges the update into the current snapshot (or an
	// empty one), stamps the time and returns the merged result.
	Set(ctx context.Context, key string, u Update) (Snapshot, error)
	// Get returns the snapshot and whether one exists.
	Get(ctx context.Context, key string) (Snapshot, bool, error)
	Clear(ctx context.Context, key string) error
	// ExpireAfter schedules removal of the entry after d, replacing any
	// earlier schedule for the same key.
	ExpireAfter(ctx context.Context, key string, d time.Duration) error
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Snapshot
	timers  map[string]*time.Timer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Snapshot),
		timers:  make(map[string]*time.Timer),
	}
}

func (m *MemoryStore) Set(_ context.Context, key string, u Update) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.entries[key]
	u.apply(&snap)
	m.entries[key] = snap
	return snap, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.entries[key]
	return snap, ok, nil
}

func (m *MemoryStore) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(key)
	return nil
}

func (m *MemoryStore) ExpireAfter(_ context.Context, key string, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[key]; ok {
		t.Stop()
	}
	m.timers[key] = time.AfterFunc(d, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.remove(key)
	})
	return nil
}

// Close stops pending eviction timers.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
	return nil
}

// Sweep removes terminal entries older than maxAge. It backs the
// scheduled-eviction policy when the process also runs a periodic
// janitor.
func (m *MemoryStore) Sweep(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for key, snap := range m.entries {
		if (snap.Phase == PhaseDone || snap.Phase == PhaseError) && snap.UpdatedAt.Before(cutoff) {
			m.remove(key)
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) remove(key string) {
	delete(m.entries, key)
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
}

var _ Store = (*MemoryStore)(nil)
