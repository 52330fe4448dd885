package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/memotrace/internal/memo"
	"github.com/roach88/memotrace/internal/tracing"
)

// TemplateRecord is a persisted template row.
type TemplateRecord struct {
	ID          string
	Trace       string
	Mode        tracing.Mode
	Fingerprint tracing.Fingerprint
	Seq         int64
}

// durableTemplate is the memo.Template view of a TemplateRecord. Its mode is
// a snapshot taken when the row was read; modes only change at epoch
// boundaries, which the pipeline serialises with analysis.
type durableTemplate struct {
	rec TemplateRecord
}

func (t *durableTemplate) ID() string                        { return t.rec.ID }
func (t *durableTemplate) IsReplaying() bool                 { return t.rec.Mode == tracing.ModeReplaying }
func (t *durableTemplate) Fingerprint() tracing.Fingerprint { return t.rec.Fingerprint }

// DurableTemplates is a tracing.Backend persisting one trace's templates.
//
// The memo ports carry no context, so the context given to Templates is used
// for every query.
type DurableTemplates struct {
	s     *Store
	ctx   context.Context
	trace string
	ids   tracing.IDGenerator
}

var _ tracing.Backend = (*DurableTemplates)(nil)

// Templates returns the durable template store for a trace. A nil generator
// defaults to tracing.UUIDv7Generator.
func (s *Store) Templates(ctx context.Context, trace string, ids tracing.IDGenerator) *DurableTemplates {
	if ids == nil {
		ids = tracing.UUIDv7Generator{}
	}
	return &DurableTemplates{s: s, ctx: ctx, trace: trace, ids: ids}
}

// CurrentTemplate implements memo.TemplateStore.
func (d *DurableTemplates) CurrentTemplate() (memo.Template, error) {
	rec, ok, err := d.s.currentTemplate(d.ctx, d.s.db, d.trace)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &durableTemplate{rec: rec}, nil
}

// StartNewTemplate implements memo.TemplateStore. Lookup and insert share a
// transaction, so a concurrent caller receives the same template.
func (d *DurableTemplates) StartNewTemplate() (memo.Template, error) {
	tx, err := d.s.db.BeginTx(d.ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("start template: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	rec, ok, err := d.s.currentTemplate(d.ctx, tx, d.trace)
	if err != nil {
		return nil, fmt.Errorf("start template: %w", err)
	}
	if ok {
		return &durableTemplate{rec: rec}, nil
	}

	var seq int64
	if err := tx.QueryRowContext(d.ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM templates`).Scan(&seq); err != nil {
		return nil, fmt.Errorf("start template: next seq: %w", err)
	}

	rec = TemplateRecord{
		ID:    d.ids.Generate(),
		Trace: d.trace,
		Mode:  tracing.ModeRecording,
		Seq:   seq,
	}
	_, err = tx.ExecContext(d.ctx, `
		INSERT INTO templates (id, trace, mode, fingerprint, ops, seq)
		VALUES (?, ?, ?, '', 0, ?)
	`, rec.ID, rec.Trace, rec.Mode.String(), rec.Seq)
	if err != nil {
		return nil, fmt.Errorf("start template: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("start template: commit: %w", err)
	}
	return &durableTemplate{rec: rec}, nil
}

// Finalize implements tracing.Backend.
func (d *DurableTemplates) Finalize(fp tracing.Fingerprint) error {
	res, err := d.s.db.ExecContext(d.ctx, `
		UPDATE templates SET mode = 'ready', fingerprint = ?, ops = ?
		WHERE trace = ? AND mode = 'recording'
	`, fp.Hash, fp.Ops, d.trace)
	if err != nil {
		return fmt.Errorf("finalize template: %w", err)
	}
	return requireRow(res, tracing.ErrNoRecordingTemplate)
}

// Activate implements tracing.Backend.
//
// A trace only activates outside an epoch, so a current template found here
// was left behind by a process that stopped mid-epoch. It is reclaimed first:
// a half-recorded template is invalidated and a replaying one goes back to
// ready.
func (d *DurableTemplates) Activate() (tracing.TemplateInfo, error) {
	tx, err := d.s.db.BeginTx(d.ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("activate template: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stale, ok, err := d.s.currentTemplate(d.ctx, tx, d.trace)
	if err != nil {
		return nil, fmt.Errorf("activate template: %w", err)
	}
	if ok {
		if err := reclaim(d.ctx, tx, stale); err != nil {
			return nil, fmt.Errorf("activate template: %w", err)
		}
	}

	row := tx.QueryRowContext(d.ctx, `
		SELECT id, trace, mode, fingerprint, ops, seq FROM templates
		WHERE trace = ? AND mode = 'ready'
		ORDER BY seq DESC, id COLLATE BINARY DESC
		LIMIT 1
	`, d.trace)
	rec, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		if ok {
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("activate template: commit: %w", err)
			}
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("activate template: %w", err)
	}

	if _, err := tx.ExecContext(d.ctx, `UPDATE templates SET mode = 'replaying' WHERE id = ?`, rec.ID); err != nil {
		return nil, fmt.Errorf("activate template: update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("activate template: commit: %w", err)
	}
	rec.Mode = tracing.ModeReplaying
	return &durableTemplate{rec: rec}, nil
}

// reclaim releases a current template left by an epoch that never ended.
func reclaim(ctx context.Context, tx *sql.Tx, rec TemplateRecord) error {
	mode := tracing.ModeInvalid
	if rec.Mode == tracing.ModeReplaying {
		mode = tracing.ModeReady
	}
	if _, err := tx.ExecContext(ctx, `UPDATE templates SET mode = ? WHERE id = ?`, mode.String(), rec.ID); err != nil {
		return fmt.Errorf("reclaim %s: %w", rec.ID, err)
	}
	slog.Warn("reclaimed template from unfinished epoch",
		"trace", rec.Trace,
		"template", rec.ID,
		"was", rec.Mode.String(),
		"now", mode.String(),
	)
	return nil
}

// Retire implements tracing.Backend.
func (d *DurableTemplates) Retire() error {
	res, err := d.s.db.ExecContext(d.ctx, `
		UPDATE templates SET mode = 'ready' WHERE trace = ? AND mode = 'replaying'
	`, d.trace)
	if err != nil {
		return fmt.Errorf("retire template: %w", err)
	}
	return requireRow(res, tracing.ErrNoReplayingTemplate)
}

// Invalidate implements tracing.Backend.
func (d *DurableTemplates) Invalidate() error {
	_, err := d.s.db.ExecContext(d.ctx, `
		UPDATE templates SET mode = 'invalid' WHERE trace = ? AND mode != 'invalid'
	`, d.trace)
	if err != nil {
		return fmt.Errorf("invalidate templates: %w", err)
	}
	return nil
}

// ReadTemplates returns the templates of a trace (all traces when trace is
// empty), ordered by seq.
func (s *Store) ReadTemplates(ctx context.Context, trace string) ([]TemplateRecord, error) {
	query := `SELECT id, trace, mode, fingerprint, ops, seq FROM templates`
	var args []any
	if trace != "" {
		query += ` WHERE trace = ?`
		args = append(args, trace)
	}
	query += ` ORDER BY seq ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	records := []TemplateRecord{}
	for rows.Next() {
		rec, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return records, nil
}

// querier is the subset of *sql.DB and *sql.Tx used by shared helpers.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// currentTemplate reads the recording or replaying template of a trace.
func (s *Store) currentTemplate(ctx context.Context, q querier, trace string) (TemplateRecord, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, trace, mode, fingerprint, ops, seq FROM templates
		WHERE trace = ? AND mode IN ('recording', 'replaying')
	`, trace)
	rec, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TemplateRecord{}, false, nil
	}
	if err != nil {
		return TemplateRecord{}, false, fmt.Errorf("current template: %w", err)
	}
	return rec, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner) (TemplateRecord, error) {
	var rec TemplateRecord
	var mode string
	if err := row.Scan(&rec.ID, &rec.Trace, &mode, &rec.Fingerprint.Hash, &rec.Fingerprint.Ops, &rec.Seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan template: %w", err)
	}
	m, err := tracing.ParseMode(mode)
	if err != nil {
		return rec, fmt.Errorf("scan template %s: %w", rec.ID, err)
	}
	rec.Mode = m
	return rec, nil
}

// requireRow returns notFound when res affected no rows.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
