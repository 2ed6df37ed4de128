package store

import (
	"context"
	"fmt"

	"github.com/roach88/knot/internal/ir"
)

// Knot describes one engine instance in the journal.
type Knot struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	EngineVersion string `json:"engine_version"`
}

// WriteKnot registers a knot instance, or renames an existing one.
func (j *Journal) WriteKnot(ctx context.Context, k Knot) error {
	version := k.EngineVersion
	if version == "" {
		version = ir.EngineVersion
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO knots (id, name, engine_version)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, k.ID, k.Name, version)
	if err != nil {
		return fmt.Errorf("write knot: %w", err)
	}
	return nil
}

// Record appends a transition. It implements engine.Recorder.
//
// The knot row is created on first use when WriteKnot was not called.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - a transition with the
// same content-addressed ID is silently ignored. A different transition
// reusing an existing (knot_id, seq) pair is an error.
func (j *Journal) Record(ctx context.Context, t ir.Transition) error {
	if t.ID == "" {
		id, err := ir.TransitionID(t)
		if err != nil {
			return fmt.Errorf("record transition: %w", err)
		}
		t.ID = id
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record transition: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO knots (id, engine_version)
		VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, t.KnotID, ir.EngineVersion)
	if err != nil {
		return fmt.Errorf("record transition: knot: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transitions
		(id, knot_id, seq, origin, change_tag, from_tag, state_tag, action_tag, change, state, action)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		t.ID,
		t.KnotID,
		t.Seq,
		string(t.Origin),
		string(t.ChangeTag),
		string(t.FromTag),
		string(t.StateTag),
		string(t.ActionTag),
		t.Change,
		t.State,
		t.Action,
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record transition: commit: %w", err)
	}
	return nil
}
