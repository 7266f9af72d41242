package history

import (
	"sync"

	"github.com/google/uuid"
)

// GUIDGenerator produces the opaque unique identifier assigned to each
// entry on creation. GUIDs are never reassigned.
type GUIDGenerator interface {
	NewGUID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 guids.
//
// UUIDv7 embeds a timestamp in the most significant bits, making guids
// sortable by creation time, which helps when eyeballing rows in the raw
// database.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewGUID creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) NewGUID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGUIDGenerator returns predetermined guids for testing.
//
// Tests provide a known sequence and verify exact row contents and
// notification payloads.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGUIDGenerator struct {
	mu    sync.Mutex
	guids []string
	idx   int
}

// NewFixedGUIDGenerator creates a generator that returns guids in order.
// It panics when all guids have been consumed: exhaustion means the test
// fixture is out of date.
func NewFixedGUIDGenerator(guids ...string) *FixedGUIDGenerator {
	return &FixedGUIDGenerator{guids: guids}
}

// NewGUID returns the next predetermined guid.
func (g *FixedGUIDGenerator) NewGUID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.guids) {
		panic("FixedGUIDGenerator: all guids exhausted")
	}
	guid := g.guids[g.idx]
	g.idx++
	return guid
}
