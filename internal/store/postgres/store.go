// Package postgres is the PostgreSQL record store.
//
// Records of every entity type share one table with their values in a
// JSONB column, so adding an entity type needs no migration. Each row of
// an import is written under its own savepoint: a row the database
// rejects is rolled back alone and the run transaction carries on.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/importer/internal/core"
)

//go:embed schema.sql
var schema string

// uniqueViolation is the SQLSTATE for a unique index conflict.
const uniqueViolation = "23505"

// Config holds pool settings.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store implements core.Store over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, verifies the connection and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The caller owns the pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Begin(ctx context.Context) (core.StoreTx, error) {
	tx, err := s.pool.Begin(ctx)
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
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

func runArgs(r core.ImportRunRecord) []any {
	return []any{
		r.ID, r.EntityType, r.SourceFilename, r.StartedAt, r.TotalRows, r.ImportedCount,
		r.UpdatedCount, r.FailedCount, r.DuplicatesSkippedCount, string(r.Status), r.Reversible,
		r.TriggeredBy, r.Error,
	}
}

func (s *Store) AppendRun(ctx context.Context, run core.ImportRunRecord) error {
	if _, err := s.pool.Exec(ctx, insertRun, runArgs(run)...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (core.ImportRunRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM import_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ImportRunRecord{}, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	if err != nil {
		return core.ImportRunRecord{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, filter core.RunFilter) ([]core.ImportRunRecord, error) {
	query, args := listRunsQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
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

// listRunsQuery builds the filtered, newest-first run query.
func listRunsQuery(filter core.RunFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.EntityType != "" {
		where = append(where, "entity_type = "+arg(filter.EntityType))
	}
	if !filter.From.IsZero() {
		where = append(where, "started_at >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "started_at <= "+arg(filter.To))
	}

	var b strings.Builder
	b.WriteString("SELECT " + runColumns + " FROM import_runs")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY started_at DESC, seq DESC")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT " + arg(filter.Limit))
	}
	if filter.Offset > 0 {
		b.WriteString(" OFFSET " + arg(filter.Offset))
	}
	return b.String(), args
}

func scanRun(row pgx.Row) (core.ImportRunRecord, error) {
	var (
		r      core.ImportRunRecord
		status string
	)
	err := row.Scan(&r.ID, &r.EntityType, &r.SourceFilename, &r.StartedAt, &r.TotalRows, &r.ImportedCount,
		&r.UpdatedCount, &r.FailedCount, &r.DuplicatesSkippedCount, &status, &r.Reversible,
		&r.TriggeredBy, &r.Error)
	r.Status = core.RunStatus(status)
	r.StartedAt = r.StartedAt.UTC()
	return r, err
}

func (s *Store) RollbackRun(ctx context.Context, id string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin rollback: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		status     string
		reversible bool
	)
	err = tx.QueryRow(ctx, `SELECT status, reversible FROM import_runs WHERE id = $1 FOR UPDATE`, id).
		Scan(&status, &reversible)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("lock run: %w", err)
	}
	if core.RunStatus(status) == core.RunRolledBack {
		return 0, &core.RollbackError{Kind: core.RollbackAlreadyRolledBack, RunID: id}
	}
	if !reversible {
		return 0, &core.RollbackError{Kind: core.RollbackNotReversible, RunID: id}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM import_records WHERE run_id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE import_runs SET status = $2, reversible = FALSE WHERE id = $1`,
		id, string(core.RunRolledBack)); err != nil {
		return 0, fmt.Errorf("mark rolled back: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit rollback: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CountRecords(ctx context.Context, entityType string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM import_records WHERE entity_type = $1`, entityType).Scan(&n)
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
	columns, err := json.Marshal(nonNil(t.SourceColumns))
	if err != nil {
		return fmt.Errorf("encode source columns: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO mapping_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			mapping = EXCLUDED.mapping,
			source_columns = EXCLUDED.source_columns,
			updated_at = EXCLUDED.updated_at`,
		t.ID, t.EntityType, t.Name, mapping, columns, t.CreatedAt, t.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", core.ErrTemplateExists, t.Name)
	}
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (core.MappingTemplate, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM mapping_templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.MappingTemplate{}, fmt.Errorf("%w: %s", core.ErrTemplateNotFound, id)
	}
	if err != nil {
		return core.MappingTemplate{}, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context, entityType string) ([]core.MappingTemplate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+templateColumns+` FROM mapping_templates WHERE entity_type = $1 ORDER BY name`, entityType)
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
	tag, err := s.pool.Exec(ctx, `DELETE FROM mapping_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", core.ErrTemplateNotFound, id)
	}
	return nil
}

func scanTemplate(row pgx.Row) (core.MappingTemplate, error) {
	var (
		t                core.MappingTemplate
		mapping, columns []byte
	)
	if err := row.Scan(&t.ID, &t.EntityType, &t.Name, &mapping, &columns, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	if err := json.Unmarshal(mapping, &t.Mapping); err != nil {
		return t, fmt.Errorf("decode mapping: %w", err)
	}
	if err := json.Unmarshal(columns, &t.SourceColumns); err != nil {
		return t, fmt.Errorf("decode source columns: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

// ===========================================================================
// Transactions
// ===========================================================================

type storeTx struct {
	tx pgx.Tx
}

func (t *storeTx) InsertRecord(ctx context.Context, rec core.Record) error {
	data, err := json.Marshal(rec.Values)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return t.savepoint(ctx, func(sp pgx.Tx) error {
		if err := checkReferences(ctx, sp, rec.References); err != nil {
			return err
		}
		_, err := sp.Exec(ctx,
			`INSERT INTO import_records (id, run_id, entity_type, data) VALUES ($1, $2, $3, $4)`,
			rec.ID, rec.RunID, rec.EntityType, data)
		return err
	})
}

func (t *storeTx) UpdateRecord(ctx context.Context, rec core.Record) error {
	data, err := json.Marshal(rec.Values)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return t.savepoint(ctx, func(sp pgx.Tx) error {
		if err := checkReferences(ctx, sp, rec.References); err != nil {
			return err
		}
		tag, err := sp.Exec(ctx,
			`UPDATE import_records SET data = $2, updated_at = NOW() WHERE id = $1`, rec.ID, data)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update record %s: not found", rec.ID)
		}
		return nil
	})
}

func (t *storeTx) AppendRun(ctx context.Context, run core.ImportRunRecord) error {
	if _, err := t.tx.Exec(ctx, insertRun, runArgs(run)...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (t *storeTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *storeTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// savepoint runs fn in a nested transaction so a failure undoes only fn.
func (t *storeTx) savepoint(ctx context.Context, fn func(pgx.Tx) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

// checkReferences verifies each reference against records visible to tx,
// including rows written earlier in the same run.
func checkReferences(ctx context.Context, tx pgx.Tx, refs []core.RecordReference) error {
	for _, ref := range refs {
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM import_records
				WHERE entity_type = $1 AND LOWER(BTRIM(data->>$2)) = $3
			)`, ref.Target.EntityType, ref.Target.FieldKey, core.NormalizeValue(ref.Value)).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check reference %s: %w", ref.FieldKey, err)
		}
		if !exists {
			return fmt.Errorf("%w: %s=%q in %s", core.ErrReferenceNotFound, ref.FieldKey, ref.Value, ref.Target.EntityType)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
