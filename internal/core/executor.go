package core

// executor.go commits a validated table to the store as one import run.
//
// The flow for one run:
//  1. Re-validate the table under the mapping (the report is never trusted
//     from the caller) and refuse blocked input unless overridden
//  2. Take an execution slot and the entity lock
//  3. Ping the store; an unreachable store yields a failed run record
//  4. Apply rows in order inside one transaction, resolving duplicates by
//     policy; a row the store rejects is counted as failed and skipped
//  5. Append the run record in the same transaction and commit
//
// Once step 4 starts the run is detached from the caller's cancellation,
// so a run always ends in a ledger entry.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/importer/internal/logging"
)

// ExecuteRequest carries everything one run needs.
type ExecuteRequest struct {
	EntityType         string
	SourceFilename     string
	Table              *SourceTable
	Mapping            FieldMapping
	Policy             DuplicatePolicy
	AllowDespiteErrors bool
	TriggeredBy        string
}

// Executor applies import runs to a Store.
type Executor struct {
	store   Store
	locks   EntityLocker
	limiter *ImportLimiter
	now     func() time.Time
}

// NewExecutor creates an executor. limiter may be nil for no global ceiling.
func NewExecutor(store Store, locks EntityLocker, limiter *ImportLimiter) *Executor {
	if locks == nil {
		locks = NewLocalLocker()
	}
	return &Executor{
		store:   store,
		locks:   locks,
		limiter: limiter,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs one import. It returns an ExecutionError when the run
// cannot start; for an unreachable store the failed run record is
// returned alongside the error. Per-row failures never produce an error.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (ImportRunRecord, error) {
	if req.Table == nil {
		return ImportRunRecord{}, &ExecutionError{Kind: ExecNoSourceBound, Detail: "no table bound to the import"}
	}
	if req.Policy == "" {
		req.Policy = PolicySkip
	}
	if !req.Policy.Valid() {
		return ImportRunRecord{}, fmt.Errorf("%w: %q", ErrInvalidPolicy, req.Policy)
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "operator"
	}

	fields, err := FieldsFor(req.EntityType)
	if err != nil {
		return ImportRunRecord{}, err
	}
	if err := req.Mapping.Check(fields, req.Table); err != nil {
		return ImportRunRecord{}, err
	}

	report := Validate(req.Table, req.Mapping, fields)
	if report.Blocking() && !req.AllowDespiteErrors {
		return ImportRunRecord{}, &ExecutionError{
			Kind: ExecValidationBlocked,
			Detail: fmt.Sprintf("%d issues, %d unmapped required fields",
				len(report.Issues), len(report.MissingRequired)),
		}
	}

	if e.limiter != nil {
		if err := e.limiter.Acquire(ctx); err != nil {
			return ImportRunRecord{}, err
		}
		defer e.limiter.Release()
	}

	unlock, err := e.locks.Lock(ctx, req.EntityType)
	if err != nil {
		return ImportRunRecord{}, fmt.Errorf("lock %s: %w", req.EntityType, err)
	}
	defer unlock()

	// No cancellation past this point.
	ctx = context.WithoutCancel(ctx)

	run := ImportRunRecord{
		ID:             uuid.NewString(),
		EntityType:     req.EntityType,
		SourceFilename: req.SourceFilename,
		StartedAt:      e.now(),
		TotalRows:      len(req.Table.Rows),
		TriggeredBy:    req.TriggeredBy,
	}
	logger := logging.WithFields(ctx, "run_id", run.ID, "entity_type", run.EntityType)

	if err := e.store.Ping(ctx); err != nil {
		return e.failRun(ctx, logger, run, err)
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return e.failRun(ctx, logger, run, err)
	}

	e.applyRows(ctx, logger, tx, &run, req, fields, report)

	run.Status = RunSuccess
	run.Reversible = run.ImportedCount > 0
	if err := tx.AppendRun(ctx, run); err != nil {
		_ = tx.Rollback(ctx)
		return e.failRun(ctx, logger, resetCounts(run), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return e.failRun(ctx, logger, resetCounts(run), err)
	}

	logger.Info("import run completed",
		"total", run.TotalRows,
		"imported", run.ImportedCount,
		"updated", run.UpdatedCount,
		"failed", run.FailedCount,
		"duplicates_skipped", run.DuplicatesSkippedCount,
	)
	return run, nil
}

// applyRows commits each row in order, updating the run counters.
func (e *Executor) applyRows(ctx context.Context, logger *slog.Logger, tx StoreTx, run *ImportRunRecord,
	req ExecuteRequest, fields []FieldDefinition, report ValidationReport) {

	// committed maps a source row number to the record that row produced
	// or, under the update policy, now owns.
	committed := make(map[int]string, len(req.Table.Rows))

	for _, row := range req.Table.Rows {
		rec := buildRecord(row, req.Mapping, fields)
		rec.RunID = run.ID
		rec.EntityType = req.EntityType

		dups := report.DuplicatesFor(row.RowNumber)
		if len(dups) > 0 {
			switch req.Policy {
			case PolicySkip:
				run.DuplicatesSkippedCount++
				continue

			case PolicyUpdate:
				target, conflict := updateTarget(dups, committed)
				if conflict {
					run.FailedCount++
					logger.Debug("row matches more than one record", "row", row.RowNumber)
					continue
				}
				if target != "" {
					rec.ID = target
					if err := tx.UpdateRecord(ctx, rec); err != nil {
						run.FailedCount++
						logger.Debug("row update failed", "row", row.RowNumber, "error", err)
						continue
					}
					committed[row.RowNumber] = target
					run.UpdatedCount++
					continue
				}
				// None of the earlier occurrences made it in; this row takes their place.
				rec.ID = uuid.NewString()
				if err := tx.InsertRecord(ctx, rec); err != nil {
					run.FailedCount++
					logger.Debug("row insert failed", "row", row.RowNumber, "error", err)
					continue
				}
				for _, d := range dups {
					committed[d.DuplicateOfRowNumber] = rec.ID
				}
				committed[row.RowNumber] = rec.ID
				run.ImportedCount++
				continue
			}
		}

		rec.ID = uuid.NewString()
		if err := tx.InsertRecord(ctx, rec); err != nil {
			run.FailedCount++
			logger.Debug("row insert failed", "row", row.RowNumber, "error", err)
			continue
		}
		committed[row.RowNumber] = rec.ID
		run.ImportedCount++
	}
}

// updateTarget resolves the record a duplicate row overwrites. It reports
// a conflict when the row's unique values belong to different records.
func updateTarget(dups []DuplicateCandidate, committed map[int]string) (string, bool) {
	var target string
	for _, d := range dups {
		id, ok := committed[d.DuplicateOfRowNumber]
		if !ok {
			continue
		}
		if target != "" && id != target {
			return "", true
		}
		target = id
	}
	return target, false
}

// failRun records a run that could not reach the store.
// Appending the failed record is best effort.
func (e *Executor) failRun(ctx context.Context, logger *slog.Logger, run ImportRunRecord, cause error) (ImportRunRecord, error) {
	run.Status = RunFailed
	run.Reversible = false
	run.Error = cause.Error()

	if err := e.store.AppendRun(ctx, run); err != nil {
		logger.Warn("could not record failed run", "error", err)
	}
	logger.Error("import run failed", "error", cause)

	return run, &ExecutionError{Kind: ExecStoreUnavailable, Err: cause}
}

// resetCounts clears commit counters after the whole transaction was lost.
func resetCounts(run ImportRunRecord) ImportRunRecord {
	run.FailedCount = run.TotalRows - run.DuplicatesSkippedCount
	run.ImportedCount = 0
	run.UpdatedCount = 0
	return run
}

// buildRecord collects the mapped, trimmed values of a row.
func buildRecord(row SourceRow, mapping FieldMapping, fields []FieldDefinition) Record {
	rec := Record{Values: make(map[string]string, len(fields))}
	for _, f := range fields {
		col, ok := mapping.Column(f.Key)
		if !ok {
			continue
		}
		v := CleanCell(row.Cells[col])
		rec.Values[f.Key] = v
		if f.References != nil && v != "" {
			rec.References = append(rec.References, RecordReference{
				FieldKey: f.Key,
				Target:   *f.References,
				Value:    v,
			})
		}
	}
	return rec
}
