// Package sqlite is the single-file record store used for local and
// small deployments. It keeps the same layout as the postgres store with
// record values as JSON text and timestamps as Unix nanoseconds.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/JonMunkholm/importer/internal/core"
)

//go:embed schema.sql
var schema string

// Store implements core.Store over a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection keeps transactions
	// from failing with "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Begin(ctx context.Context) (core.StoreTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &storeTx{tx: tx}, nil
}

// ===========================================================================
// Run ledger
// ===========================================================================

const runColumns = `id, entity_type, source_filename, started_at, total_rows, imported_count,
	updated_count, failed_count, duplicates_skipped_count, status, reversible, triggered_by, error`

const insertRun = `INSERT INTO import_runs (` + runColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func runArgs(r core.ImportRunRecord) []any {
	return []any{
		r.ID, r.EntityType, r.SourceFilename, r.StartedAt.UnixNano(), r.TotalRows, r.ImportedCount,
		r.UpdatedCount, r.FailedCount, r.DuplicatesSkippedCount, string(r.Status), r.Reversible,
		r.TriggeredBy, r.Error,
	}
}

func (s *Store) AppendRun(ctx context.Context, run core.ImportRunRecord) error {
	if _, err := s.db.ExecContext(ctx, insertRun, runArgs(run)...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (core.ImportRunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM import_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ImportRunRecord{}, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	if err != nil {
		return core.ImportRunRecord{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, filter core.RunFilter) ([]core.ImportRunRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if !filter.From.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, filter.From.UnixNano())
	}
	if !filter.To.IsZero() {
		where = append(where, "started_at <= ?")
		args = append(args, filter.To.UnixNano())
	}

	query := `SELECT ` + runColumns + ` FROM import_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, seq DESC"
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []core.ImportRunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (core.ImportRunRecord, error) {
	var (
		r         core.ImportRunRecord
		startedAt int64
		status    string
	)
	err := row.Scan(&r.ID, &r.EntityType, &r.SourceFilename, &startedAt, &r.TotalRows, &r.ImportedCount,
		&r.UpdatedCount, &r.FailedCount, &r.DuplicatesSkippedCount, &status, &r.Reversible,
		&r.TriggeredBy, &r.Error)
	r.StartedAt = time.Unix(0, startedAt).UTC()
	r.Status = core.RunStatus(status)
	return r, err
}

func (s *Store) RollbackRun(ctx context.Context, id string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rollback: %w", err)
	}
	defer tx.Rollback()

	var (
		status     string
		reversible bool
	)
	err = tx.QueryRowContext(ctx, `SELECT status, reversible FROM import_runs WHERE id = ?`, id).
		Scan(&status, &reversible)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("read run: %w", err)
	}
	if core.RunStatus(status) == core.RunRolledBack {
		return 0, &core.RollbackError{Kind: core.RollbackAlreadyRolledBack, RunID: id}
	}
	if !reversible {
		return 0, &core.RollbackError{Kind: core.RollbackNotReversible, RunID: id}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM import_records WHERE run_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE import_runs SET status = ?, reversible = 0 WHERE id = ?`,
		string(core.RunRolledBack), id); err != nil {
		return 0, fmt.Errorf("mark rolled back: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rollback: %w", err)
	}
	return deleted, nil
}

func (s *Store) CountRecords(ctx context.Context, entityType string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_records WHERE entity_type = ?`, entityType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// ===========================================================================
// Mapping templates
// ===========================================================================

const templateColumns = `id, entity_type, name, mapping, source_columns, created_at, updated_at`

func (s *Store) SaveTemplate(ctx context.Context, t core.MappingTemplate) error {
	mapping, err := json.Marshal(t.Mapping)
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}
	cols := t.SourceColumns
	if cols == nil {
		cols = []string{}
	}
	columns, err := json.Marshal(cols)
	if err != nil {
		return fmt.Errorf("encode source columns: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mapping_templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			mapping = excluded.mapping,
			source_columns = excluded.source_columns,
			updated_at = excluded.updated_at`,
		t.ID, t.EntityType, t.Name, string(mapping), string(columns),
		t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano())
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", core.ErrTemplateExists, t.Name)
	}
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (core.MappingTemplate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM mapping_templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.MappingTemplate{}, fmt.Errorf("%w: %s", core.ErrTemplateNotFound, id)
	}
	if err != nil {
		return core.MappingTemplate{}, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context, entityType string) ([]core.MappingTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM mapping_templates WHERE entity_type = ? ORDER BY name`, entityType)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	templates := []core.MappingTemplate{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mapping_templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", core.ErrTemplateNotFound, id)
	}
	return nil
}

func scanTemplate(row scanner) (core.MappingTemplate, error) {
	var (
		t                    core.MappingTemplate
		mapping, columns     string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&t.ID, &t.EntityType, &t.Name, &mapping, &columns, &createdAt, &updatedAt); err != nil {
		return t, err
	}
	if err := json.Unmarshal([]byte(mapping), &t.Mapping); err != nil {
		return t, fmt.Errorf("decode mapping: %w", err)
	}
	if err := json.Unmarshal([]byte(columns), &t.SourceColumns); err != nil {
		return t, fmt.Errorf("decode source columns: %w", err)
	}
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	t.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return t, nil
}

// ===========================================================================
// Transactions
// ===========================================================================

type storeTx struct {
	tx *sql.Tx
}

func (t *storeTx) InsertRecord(ctx context.Context, rec core.Record) error {
	data, err := json.Marshal(rec.Values)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return t.savepoint(ctx, func() error {
		if err := t.checkReferences(ctx, rec.References); err != nil {
			return err
		}
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO import_records (id, run_id, entity_type, data) VALUES (?, ?, ?, ?)`,
			rec.ID, rec.RunID, rec.EntityType, string(data))
		return err
	})
}

func (t *storeTx) UpdateRecord(ctx context.Context, rec core.Record) error {
	data, err := json.Marshal(rec.Values)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return t.savepoint(ctx, func() error {
		if err := t.checkReferences(ctx, rec.References); err != nil {
			return err
		}
		res, err := t.tx.ExecContext(ctx, `UPDATE import_records SET data = ? WHERE id = ?`, string(data), rec.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update record %s: not found", rec.ID)
		}
		return nil
	})
}

func (t *storeTx) AppendRun(ctx context.Context, run core.ImportRunRecord) error {
	if _, err := t.tx.ExecContext(ctx, insertRun, runArgs(run)...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (t *storeTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *storeTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// savepoint runs fn so that a failure undoes only fn's writes.
func (t *storeTx) savepoint(ctx context.Context, fn func() error) error {
	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT import_row`); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT import_row`); rbErr != nil {
			return fmt.Errorf("%w (savepoint rollback: %v)", err, rbErr)
		}
		_, _ = t.tx.ExecContext(ctx, `RELEASE SAVEPOINT import_row`)
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT import_row`); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func (t *storeTx) checkReferences(ctx context.Context, refs []core.RecordReference) error {
	for _, ref := range refs {
		var exists bool
		err := t.tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM import_records
				WHERE entity_type = ? AND LOWER(TRIM(json_extract(data, ?))) = ?
			)`, ref.Target.EntityType, jsonPath(ref.Target.FieldKey), core.NormalizeValue(ref.Value)).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check reference %s: %w", ref.FieldKey, err)
		}
		if !exists {
			return fmt.Errorf("%w: %s=%q in %s", core.ErrReferenceNotFound, ref.FieldKey, ref.Value, ref.Target.EntityType)
		}
	}
	return nil
}

// jsonPath quotes a field key as a JSON path member.
func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
