package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/knot/internal/ir"
)

// KnotSummary is a knot together with its journal extent.
type KnotSummary struct {
	Knot
	Transitions int   `json:"transitions"`
	LastSeq     int64 `json:"last_seq"`
}

const transitionColumns = `id, knot_id, seq, origin, change_tag, from_tag, state_tag, action_tag, change, state, action`

// ReadTransitions returns every transition of a knot ordered by seq.
//
// Returns an empty slice (not nil) if the knot has no transitions.
func (j *Journal) ReadTransitions(ctx context.Context, knotID string) ([]ir.Transition, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+transitionColumns+`
		FROM transitions
		WHERE knot_id = ?
		ORDER BY seq ASC
	`, knotID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	transitions := []ir.Transition{}
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}

	return transitions, nil
}

// ReadTransition retrieves a single transition by ID.
// Returns sql.ErrNoRows if not found.
func (j *Journal) ReadTransition(ctx context.Context, id string) (ir.Transition, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT `+transitionColumns+`
		FROM transitions
		WHERE id = ?
	`, id)
	return scanTransition(row)
}

// ReadKnot retrieves a knot by ID.
// Returns sql.ErrNoRows if not found.
func (j *Journal) ReadKnot(ctx context.Context, id string) (Knot, error) {
	var k Knot
	err := j.db.QueryRowContext(ctx, `
		SELECT id, name, engine_version FROM knots WHERE id = ?
	`, id).Scan(&k.ID, &k.Name, &k.EngineVersion)
	if err != nil {
		return Knot{}, err
	}
	return k, nil
}

// ListKnots returns every knot in the journal ordered by ID.
// UUIDv7 IDs sort by creation time, so the newest knot comes last.
func (j *Journal) ListKnots(ctx context.Context) ([]KnotSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT k.id, k.name, k.engine_version, COUNT(t.id), COALESCE(MAX(t.seq), -1)
		FROM knots k
		LEFT JOIN transitions t ON t.knot_id = k.id
		GROUP BY k.id
		ORDER BY k.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query knots: %w", err)
	}
	defer rows.Close()

	knots := []KnotSummary{}
	for rows.Next() {
		var s KnotSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.EngineVersion, &s.Transitions, &s.LastSeq); err != nil {
			return nil, fmt.Errorf("scan knot: %w", err)
		}
		knots = append(knots, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knots: %w", err)
	}

	return knots, nil
}

// LastSeq returns the highest recorded seq of a knot, or -1 if it has none.
func (j *Journal) LastSeq(ctx context.Context, knotID string) (int64, error) {
	var seq sql.NullInt64
	err := j.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM transitions WHERE knot_id = ?
	`, knotID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// LatestKnot returns the knot with the greatest ID.
// Returns sql.ErrNoRows if the journal is empty.
func (j *Journal) LatestKnot(ctx context.Context) (Knot, error) {
	var k Knot
	err := j.db.QueryRowContext(ctx, `
		SELECT id, name, engine_version FROM knots
		ORDER BY id COLLATE BINARY DESC
		LIMIT 1
	`).Scan(&k.ID, &k.Name, &k.EngineVersion)
	if err != nil {
		return Knot{}, err
	}
	return k, nil
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransition(row rowScanner) (ir.Transition, error) {
	var (
		t                                               ir.Transition
		origin, changeTag, fromTag, stateTag, actionTag string
	)
	err := row.Scan(
		&t.ID,
		&t.KnotID,
		&t.Seq,
		&origin,
		&changeTag,
		&fromTag,
		&stateTag,
		&actionTag,
		&t.Change,
		&t.State,
		&t.Action,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Transition{}, err
		}
		return ir.Transition{}, fmt.Errorf("scan transition: %w", err)
	}

	t.Origin = ir.Origin(origin)
	t.ChangeTag = ir.Tag(changeTag)
	t.FromTag = ir.Tag(fromTag)
	t.StateTag = ir.Tag(stateTag)
	t.ActionTag = ir.Tag(actionTag)
	return t, nil
}
