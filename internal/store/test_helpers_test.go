package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/knot/internal/ir"
)

// createTestJournal creates a new file-backed journal for testing.
func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

// createTestTransition creates a transition with its content-addressed ID.
func createTestTransition(knotID string, seq int64, origin ir.Origin, change, from, state ir.Tag) ir.Transition {
	t := ir.Transition{
		KnotID:    knotID,
		Seq:       seq,
		Origin:    origin,
		ChangeTag: change,
		FromTag:   from,
		StateTag:  state,
		State:     `{}`,
	}
	t.ID = ir.MustTransitionID(t)
	return t
}
