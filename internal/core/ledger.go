package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/importer/internal/logging"
)

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 50

// Ledger is the audit trail of import runs. It is append-only apart from
// the rolled_back transition, which it performs under the entity lock.
type Ledger struct {
	store Store
	locks EntityLocker
}

// NewLedger creates a ledger over store.
func NewLedger(store Store, locks EntityLocker) *Ledger {
	if locks == nil {
		locks = NewLocalLocker()
	}
	return &Ledger{store: store, locks: locks}
}

// Append records a finished run.
func (l *Ledger) Append(ctx context.Context, run ImportRunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("append run: missing id")
	}
	if err := l.store.AppendRun(ctx, run); err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	return nil
}

// List returns up to limit runs, most recent first.
func (l *Ledger) List(ctx context.Context, limit int) ([]ImportRunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return l.Query(ctx, RunFilter{Limit: limit})
}

// Query returns runs matching filter, most recent first.
func (l *Ledger) Query(ctx context.Context, filter RunFilter) ([]ImportRunRecord, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("query runs: end %s is before start %s",
			filter.To.Format("2006-01-02"), filter.From.Format("2006-01-02"))
	}
	runs, err := l.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return runs, nil
}

// Get returns a single run.
func (l *Ledger) Get(ctx context.Context, id string) (ImportRunRecord, error) {
	return l.store.GetRun(ctx, id)
}

// Rollback deletes the records created by a run and marks it rolled back.
// Either every record goes and the status flips, or nothing changes.
func (l *Ledger) Rollback(ctx context.Context, runID string) (RollbackResult, error) {
	run, err := l.store.GetRun(ctx, runID)
	if err != nil {
		return RollbackResult{}, err
	}
	result := RollbackResult{RunID: run.ID, EntityType: run.EntityType}

	// Cheap refusals before waiting on the lock; the store re-checks atomically.
	if run.Status == RunRolledBack {
		return result, &RollbackError{Kind: RollbackAlreadyRolledBack, RunID: runID}
	}
	if !run.Reversible {
		return result, &RollbackError{Kind: RollbackNotReversible, RunID: runID}
	}

	unlock, err := l.locks.Lock(ctx, run.EntityType)
	if err != nil {
		return result, fmt.Errorf("lock %s: %w", run.EntityType, err)
	}
	defer unlock()

	deleted, err := l.store.RollbackRun(context.WithoutCancel(ctx), runID)
	if err != nil {
		return result, err
	}
	result.RecordsDeleted = deleted

	logging.WithFields(ctx, "run_id", runID, "entity_type", run.EntityType).
		Info("import run rolled back", "records_deleted", deleted)

	return result, nil
}
