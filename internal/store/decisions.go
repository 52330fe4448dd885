package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrConflict is returned when a write collides with a stored record for
// the same key that says something different.
var ErrConflict = errors.New("a different record is already stored")

// Decision is the persisted memoization outcome of one operation
// generation.
type Decision struct {
	OperationID string `json:"op_id"`
	Generation  uint64 `json:"generation"`
	Kind        string `json:"kind"`
	Trace       string `json:"trace,omitempty"` // empty for untraced operations
	Epoch       uint64 `json:"epoch,omitempty"`
	LocalIndex  uint32 `json:"local_index"`
	Point       string `json:"point"` // memo.Point.String() form, "-" when absent
	Policy      string `json:"policy"`
	State       string `json:"state"` // memo.State.String() form
	TemplateID  string `json:"template_id,omitempty"`
	Error       string `json:"error,omitempty"` // rejection or analysis error, empty on success
	Seq         int64  `json:"seq"`
}

// PhysicalOnlyRecord is a persisted physical-only registration.
type PhysicalOnlyRecord struct {
	Trace       string
	OperationID string
	Generation  uint64
	Epoch       uint64
	TemplateID  string
	Seq         int64
}

// WriteDecision inserts a decision record.
// An operation generation is decided once: writing the same decision again
// is a no-op (the seq of the repeat is not kept), while a decision that
// differs from the stored one fails with ErrConflict.
func (s *Store) WriteDecision(ctx context.Context, d Decision) error {
	if d.Point == "" {
		d.Point = "-"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions
		(op_id, generation, kind, trace, epoch, local_index, point, policy, state, template_id, error, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		d.OperationID,
		int64(d.Generation),
		d.Kind,
		d.Trace,
		int64(d.Epoch),
		int64(d.LocalIndex),
		d.Point,
		d.Policy,
		d.State,
		d.TemplateID,
		d.Error,
		d.Seq,
	)
	if err != nil {
		return fmt.Errorf("write decision %s/%d: %w", d.OperationID, d.Generation, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("write decision %s/%d: rows affected: %w", d.OperationID, d.Generation, err)
	} else if n > 0 {
		return nil
	}

	stored, err := scanDecision(s.db.QueryRowContext(ctx, `
		SELECT op_id, generation, kind, trace, epoch, local_index, point, policy, state, template_id, error, seq
		FROM decisions WHERE op_id = ? AND generation = ?
	`, d.OperationID, int64(d.Generation)))
	if err != nil {
		return fmt.Errorf("write decision %s/%d: read stored: %w", d.OperationID, d.Generation, err)
	}
	d.Seq = stored.Seq
	if stored != d {
		return fmt.Errorf("write decision %s/%d: stored state=%s template=%q at seq %d: %w",
			d.OperationID, d.Generation, stored.State, stored.TemplateID, stored.Seq, ErrConflict)
	}
	return nil
}

// ReadDecisions returns the decisions of a trace, or every decision when
// trace is empty. Results are ordered by seq, then operation id.
func (s *Store) ReadDecisions(ctx context.Context, trace string) ([]Decision, error) {
	query := `
		SELECT op_id, generation, kind, trace, epoch, local_index, point, policy, state, template_id, error, seq
		FROM decisions`
	var args []any
	if trace != "" {
		query += ` WHERE trace = ?`
		args = append(args, trace)
	}
	query += ` ORDER BY seq ASC, op_id COLLATE BINARY ASC, generation ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	decisions := []Decision{}
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return decisions, nil
}

func scanDecision(row scanner) (Decision, error) {
	var d Decision
	var gen, epoch, idx int64
	if err := row.Scan(
		&d.OperationID, &gen, &d.Kind, &d.Trace, &epoch, &idx,
		&d.Point, &d.Policy, &d.State, &d.TemplateID, &d.Error, &d.Seq,
	); err != nil {
		return d, err
	}
	d.Generation = uint64(gen)
	d.Epoch = uint64(epoch)
	d.LocalIndex = uint32(idx)
	return d, nil
}

// WritePhysicalOnly inserts a physical-only registration.
// Repeating a registration for the same epoch is a no-op; one naming a
// different template fails with ErrConflict.
//
// The template referenced by TemplateID must exist (foreign key constraint).
func (s *Store) WritePhysicalOnly(ctx context.Context, p PhysicalOnlyRecord) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO physical_only (trace, op_id, generation, epoch, template_id, seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, p.Trace, p.OperationID, int64(p.Generation), int64(p.Epoch), p.TemplateID, p.Seq)
	if err != nil {
		return fmt.Errorf("write physical-only %s/%d: %w", p.OperationID, p.Generation, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("write physical-only %s/%d: rows affected: %w", p.OperationID, p.Generation, err)
	} else if n > 0 {
		return nil
	}

	var tpl string
	err = s.db.QueryRowContext(ctx, `
		SELECT template_id FROM physical_only
		WHERE trace = ? AND op_id = ? AND generation = ? AND epoch = ?
	`, p.Trace, p.OperationID, int64(p.Generation), int64(p.Epoch)).Scan(&tpl)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("write physical-only %s/%d: read stored: %w", p.OperationID, p.Generation, err)
	}
	if tpl != p.TemplateID {
		return fmt.Errorf("write physical-only %s/%d: stored template %q: %w", p.OperationID, p.Generation, tpl, ErrConflict)
	}
	return nil
}

// ReadPhysicalOnly returns the physical-only registrations of a trace, or
// of every trace when trace is empty.
func (s *Store) ReadPhysicalOnly(ctx context.Context, trace string) ([]PhysicalOnlyRecord, error) {
	query := `
		SELECT trace, op_id, generation, epoch, template_id, seq
		FROM physical_only`
	var args []any
	if trace != "" {
		query += ` WHERE trace = ?`
		args = append(args, trace)
	}
	query += ` ORDER BY seq ASC, op_id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query physical-only: %w", err)
	}
	defer rows.Close()

	records := []PhysicalOnlyRecord{}
	for rows.Next() {
		var p PhysicalOnlyRecord
		var gen, epoch int64
		if err := rows.Scan(&p.Trace, &p.OperationID, &gen, &epoch, &p.TemplateID, &p.Seq); err != nil {
			return nil, fmt.Errorf("scan physical-only: %w", err)
		}
		p.Generation = uint64(gen)
		p.Epoch = uint64(epoch)
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate physical-only: %w", err)
	}
	return records, nil
}

// MaxSeq returns the highest seq recorded in the decision log, or 0 for an
// empty store. A pipeline resuming on an existing database starts its clock
// here.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			(SELECT COALESCE(MAX(seq), 0) FROM decisions),
			(SELECT COALESCE(MAX(seq), 0) FROM physical_only)
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}

// LastGeneration returns the highest generation logged for an operation id,
// or 0 when the id has no decisions.
func (s *Store) LastGeneration(ctx context.Context, opID string) (uint64, error) {
	var gen int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(generation), 0) FROM decisions WHERE op_id = ?
	`, opID).Scan(&gen)
	if err != nil {
		return 0, fmt.Errorf("last generation of %s: %w", opID, err)
	}
	return uint64(gen), nil
}
