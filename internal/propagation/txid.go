package propagation

import (
	"sync"

	"github.com/google/uuid"
)

// TxIDGenerator generates unique transaction ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type TxIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 transaction ids, so the
// transaction table sorts by creation time for free.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined transaction ids for deterministic
// tests.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
// Generate panics once all ids are consumed; exhaustion in a test is a bug
// in the test, and failing fast beats silently reusing ids.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("propagation: FixedGenerator exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
