// Package lockset implements the per-entity lock table used by the
// propagation manager.
//
// Deadlock avoidance contract:
//   - Every multi-entity operation acquires one lock per involved entity id,
//     always in ascending sorted order of the id set (never call-site order).
//   - Locks are released in descending order (reverse of acquisition).
//   - Acquisition is bounded by a timeout; on timeout every lock already
//     acquired for the set is released before the failure is returned, so a
//     failed operation never leaks partial locks.
//
// Two operations racing over {A, B} therefore always request the lock on the
// lexicographically smaller id first, which is the sole deadlock-avoidance
// mechanism in the engine.
package lockset

import (
	"sort"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/veriton/trustgraph/internal/trust"
)

// DefaultTimeout bounds a single lock acquisition. Timeout is a recoverable
// failure: the operation aborts and reports trust.ErrCodeLockTimeout, it
// never panics and never retries.
const DefaultTimeout = 5 * time.Second

// Table is a lock table keyed by entity id.
//
// Each slot is a one-element channel semaphore; a buffered channel supports
// the bounded (timed) acquisition that sync.Mutex cannot express. The table
// map itself is guarded by a deadlock-detecting mutex so lock-ordering bugs
// in new call sites surface during tests rather than in production.
//
// Thread-safety: all methods are safe for concurrent use.
type Table struct {
	mu      deadlock.Mutex
	slots   map[string]chan struct{}
	timeout time.Duration
}

// NewTable creates a lock table with the given acquisition timeout.
// A non-positive timeout falls back to DefaultTimeout.
func NewTable(timeout time.Duration) *Table {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Table{
		slots:   make(map[string]chan struct{}),
		timeout: timeout,
	}
}

// Timeout returns the configured acquisition timeout.
func (t *Table) Timeout() time.Duration {
	return t.timeout
}

// slot returns the semaphore for id, creating it on first use. Creation is
// guarded by the table mutex to avoid races on lock creation.
func (t *Table) slot(id string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[id]
	if !ok {
		s = make(chan struct{}, 1)
		t.slots[id] = s
	}
	return s
}

// Acquire takes the lock for a single entity id, waiting at most the table
// timeout. Returns a LOCK_TIMEOUT error on expiry.
func (t *Table) Acquire(id string) error {
	s := t.slot(id)
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case s <- struct{}{}:
		return nil
	case <-timer.C:
		return trust.NewLockTimeoutError(id)
	}
}

// Release frees the lock for a single entity id. Releasing an id that was
// never acquired is a programming error and panics (empty channel receive
// would block; the non-blocking drain makes the bug loud instead).
func (t *Table) Release(id string) {
	s := t.slot(id)
	select {
	case <-s:
	default:
		panic("lockset: release of unheld lock for " + id)
	}
}

// AcquireAll takes the locks for every id in the set, in ascending sorted
// order, deduplicating first. On success it returns a release function that
// frees the locks in descending order. On any acquisition failure it releases
// everything already acquired (in reverse) and returns the failure.
func (t *Table) AcquireAll(ids ...string) (func(), error) {
	ordered := sortedUnique(ids)
	acquired := make([]string, 0, len(ordered))
	for _, id := range ordered {
		if err := t.Acquire(id); err != nil {
			// Back out in reverse order of acquisition.
			for i := len(acquired) - 1; i >= 0; i-- {
				t.Release(acquired[i])
			}
			return nil, err
		}
		acquired = append(acquired, id)
	}
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			t.Release(acquired[i])
		}
	}
	return release, nil
}

// Len returns the number of entity ids with an allocated slot.
// Used for testing and introspection.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// sortedUnique returns the deduplicated ids in ascending order, dropping
// empty ids.
func sortedUnique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
