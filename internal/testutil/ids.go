package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates predictable knot IDs: "<prefix>-1", "<prefix>-2", ...
//
// It satisfies engine.IDGenerator, so a scenario run with the same prefix
// produces the same knot IDs and therefore the same transition IDs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewSequentialIDs creates a generator. An empty prefix becomes "knot".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "knot"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next ID. The first call returns "<prefix>-1".
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Count returns how many IDs have been generated.
func (g *SequentialIDs) Count() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Reset restarts numbering at 1.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
