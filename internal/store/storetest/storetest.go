// Package storetest is the behavioural test suite every core.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/importer/internal/core"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) core.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CommitAndCount", func(t *testing.T) { testCommitAndCount(t, newStore(t)) })
	t.Run("FailedRowKeepsTxUsable", func(t *testing.T) { testFailedRowKeepsTxUsable(t, newStore(t)) })
	t.Run("ReferenceToPendingRecord", func(t *testing.T) { testReferenceToPendingRecord(t, newStore(t)) })
	t.Run("UpdateRecord", func(t *testing.T) { testUpdateRecord(t, newStore(t)) })
	t.Run("TxRollbackDiscards", func(t *testing.T) { testTxRollbackDiscards(t, newStore(t)) })
	t.Run("ListRuns", func(t *testing.T) { testListRuns(t, newStore(t)) })
	t.Run("RollbackRun", func(t *testing.T) { testRollbackRun(t, newStore(t)) })
	t.Run("Templates", func(t *testing.T) { testTemplates(t, newStore(t)) })
}

// ===========================================================================
// Helpers
// ===========================================================================

var base = time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)

func record(runID, entityType string, values map[string]string, refs ...core.RecordReference) core.Record {
	return core.Record{
		ID:         uuid.NewString(),
		RunID:      runID,
		EntityType: entityType,
		Values:     values,
		References: refs,
	}
}

func successRun(entityType string, imported int, at time.Time) core.ImportRunRecord {
	return core.ImportRunRecord{
		ID:             uuid.NewString(),
		EntityType:     entityType,
		SourceFilename: entityType + ".csv",
		StartedAt:      at,
		TotalRows:      imported,
		ImportedCount:  imported,
		Status:         core.RunSuccess,
		Reversible:     imported > 0,
		TriggeredBy:    "operator",
	}
}

// commitRun inserts n student records under a fresh run and commits.
func commitRun(t *testing.T, ctx context.Context, s core.Store, entityType string, n int, at time.Time) core.ImportRunRecord {
	t.Helper()

	run := successRun(entityType, n, at)
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	for i := 0; i < n; i++ {
		rec := record(run.ID, entityType, map[string]string{"student_id": fmt.Sprintf("%s-%d", run.ID[:8], i)})
		if err := tx.InsertRecord(ctx, rec); err != nil {
			t.Fatalf("InsertRecord() error = %v", err)
		}
	}
	if err := tx.AppendRun(ctx, run); err != nil {
		t.Fatalf("AppendRun() error = %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	return run
}

func count(t *testing.T, ctx context.Context, s core.Store, entityType string) int64 {
	t.Helper()
	n, err := s.CountRecords(ctx, entityType)
	if err != nil {
		t.Fatalf("CountRecords(%s) error = %v", entityType, err)
	}
	return n
}

// ===========================================================================
// Cases
// ===========================================================================

func testCommitAndCount(t *testing.T, s core.Store) {
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	run := commitRun(t, ctx, s, "students", 3, base)

	if got := count(t, ctx, s, "students"); got != 3 {
		t.Errorf("CountRecords = %d, want 3", got)
	}
	if got := count(t, ctx, s, "teachers"); got != 0 {
		t.Errorf("CountRecords(teachers) = %d, want 0", got)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.ImportedCount != 3 || got.Status != core.RunSuccess || !got.Reversible {
		t.Errorf("GetRun() = %+v", got)
	}
	if !got.StartedAt.Equal(base) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, base)
	}

	if _, err := s.GetRun(ctx, uuid.NewString()); !errors.Is(err, core.ErrRunNotFound) {
		t.Errorf("GetRun(unknown) error = %v, want ErrRunNotFound", err)
	}
}

func testFailedRowKeepsTxUsable(t *testing.T, s core.Store) {
	ctx := context.Background()
	runID := uuid.NewString()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	orphan := record(runID, "grades", map[string]string{"student_id": "S-404"}, core.RecordReference{
		FieldKey: "student_id",
		Target:   core.Reference{EntityType: "students", FieldKey: "student_id"},
		Value:    "S-404",
	})
	if err := tx.InsertRecord(ctx, orphan); !errors.Is(err, core.ErrReferenceNotFound) {
		t.Fatalf("InsertRecord(orphan) error = %v, want ErrReferenceNotFound", err)
	}

	ok := record(runID, "grades", map[string]string{"score": "90"})
	if err := tx.InsertRecord(ctx, ok); err != nil {
		t.Fatalf("InsertRecord after failure error = %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if got := count(t, ctx, s, "grades"); got != 1 {
		t.Errorf("CountRecords(grades) = %d, want 1", got)
	}
}

func testReferenceToPendingRecord(t *testing.T, s core.Store) {
	ctx := context.Background()
	runID := uuid.NewString()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.InsertRecord(ctx, record(runID, "students", map[string]string{"student_id": "S-001"})); err != nil {
		t.Fatalf("InsertRecord(student) error = %v", err)
	}

	// Matching ignores case and surrounding space.
	grade := record(runID, "grades", map[string]string{"student_id": " s-001 "}, core.RecordReference{
		FieldKey: "student_id",
		Target:   core.Reference{EntityType: "students", FieldKey: "student_id"},
		Value:    " s-001 ",
	})
	if err := tx.InsertRecord(ctx, grade); err != nil {
		t.Errorf("InsertRecord(grade) error = %v, want reference to resolve", err)
	}
}

func testUpdateRecord(t *testing.T, s core.Store) {
	ctx := context.Background()
	runID := uuid.NewString()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	rec := record(runID, "students", map[string]string{"student_id": "S-1", "first_name": "Ann"})
	if err := tx.InsertRecord(ctx, rec); err != nil {
		t.Fatalf("InsertRecord() error = %v", err)
	}
	rec.Values = map[string]string{"student_id": "S-1", "first_name": "Anne"}
	if err := tx.UpdateRecord(ctx, rec); err != nil {
		t.Fatalf("UpdateRecord() error = %v", err)
	}

	missing := record(runID, "students", map[string]string{"student_id": "S-2"})
	if err := tx.UpdateRecord(ctx, missing); err == nil {
		t.Error("UpdateRecord(missing) error = nil, want error")
	}

	if err := tx.AppendRun(ctx, core.ImportRunRecord{
		ID: runID, EntityType: "students", StartedAt: base, TotalRows: 2,
		ImportedCount: 1, UpdatedCount: 1, Status: core.RunSuccess, Reversible: true,
	}); err != nil {
		t.Fatalf("AppendRun() error = %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if got := count(t, ctx, s, "students"); got != 1 {
		t.Errorf("CountRecords = %d, want 1", got)
	}
	deleted, err := s.RollbackRun(ctx, runID)
	if err != nil {
		t.Fatalf("RollbackRun() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("RollbackRun() deleted = %d, want 1", deleted)
	}
}

func testTxRollbackDiscards(t *testing.T, s core.Store) {
	ctx := context.Background()
	run := successRun("students", 1, base)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := tx.InsertRecord(ctx, record(run.ID, "students", map[string]string{"student_id": "S-9"})); err != nil {
		t.Fatalf("InsertRecord() error = %v", err)
	}
	if err := tx.AppendRun(ctx, run); err != nil {
		t.Fatalf("AppendRun() error = %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	if got := count(t, ctx, s, "students"); got != 0 {
		t.Errorf("CountRecords = %d, want 0", got)
	}
	if _, err := s.GetRun(ctx, run.ID); !errors.Is(err, core.ErrRunNotFound) {
		t.Errorf("GetRun() error = %v, want ErrRunNotFound", err)
	}
}

func testListRuns(t *testing.T, s core.Store) {
	ctx := context.Background()

	first := commitRun(t, ctx, s, "students", 1, base)
	second := commitRun(t, ctx, s, "teachers", 1, base.Add(time.Hour))
	third := commitRun(t, ctx, s, "students", 1, base.Add(2*time.Hour))

	failed := core.ImportRunRecord{
		ID: uuid.NewString(), EntityType: "fees", StartedAt: base.Add(3 * time.Hour),
		Status: core.RunFailed, Error: "store unavailable",
	}
	if err := s.AppendRun(ctx, failed); err != nil {
		t.Fatalf("AppendRun() error = %v", err)
	}

	tests := []struct {
		name   string
		filter core.RunFilter
		want   []string
	}{
		{"all newest first", core.RunFilter{}, []string{failed.ID, third.ID, second.ID, first.ID}},
		{"by entity", core.RunFilter{EntityType: "students"}, []string{third.ID, first.ID}},
		{"limit", core.RunFilter{Limit: 2}, []string{failed.ID, third.ID}},
		{"offset", core.RunFilter{Limit: 2, Offset: 2}, []string{second.ID, first.ID}},
		{"date range", core.RunFilter{From: base.Add(30 * time.Minute), To: base.Add(2 * time.Hour)},
			[]string{third.ID, second.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := s.ListRuns(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRuns() error = %v", err)
			}
			if len(runs) != len(tt.want) {
				t.Fatalf("ListRuns() returned %d runs, want %d", len(runs), len(tt.want))
			}
			for i, id := range tt.want {
				if runs[i].ID != id {
					t.Errorf("runs[%d] = %s, want %s", i, runs[i].ID, id)
				}
			}
		})
	}
}

func testRollbackRun(t *testing.T, s core.Store) {
	ctx := context.Background()

	keep := commitRun(t, ctx, s, "students", 2, base)
	undo := commitRun(t, ctx, s, "students", 3, base.Add(time.Minute))

	deleted, err := s.RollbackRun(ctx, undo.ID)
	if err != nil {
		t.Fatalf("RollbackRun() error = %v", err)
	}
	if deleted != 3 {
		t.Errorf("RollbackRun() deleted = %d, want 3", deleted)
	}
	if got := count(t, ctx, s, "students"); got != 2 {
		t.Errorf("CountRecords after rollback = %d, want 2", got)
	}

	run, err := s.GetRun(ctx, undo.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != core.RunRolledBack || run.Reversible {
		t.Errorf("run after rollback = %s reversible=%v, want rolled_back reversible=false", run.Status, run.Reversible)
	}

	if _, err := s.RollbackRun(ctx, undo.ID); !errors.Is(err, core.ErrAlreadyRolledBack) {
		t.Errorf("second RollbackRun() error = %v, want ErrAlreadyRolledBack", err)
	}

	failed := core.ImportRunRecord{ID: uuid.NewString(), EntityType: "students", StartedAt: base, Status: core.RunFailed}
	if err := s.AppendRun(ctx, failed); err != nil {
		t.Fatalf("AppendRun() error = %v", err)
	}
	if _, err := s.RollbackRun(ctx, failed.ID); !errors.Is(err, core.ErrNotReversible) {
		t.Errorf("RollbackRun(failed) error = %v, want ErrNotReversible", err)
	}

	if _, err := s.RollbackRun(ctx, uuid.NewString()); !errors.Is(err, core.ErrRunNotFound) {
		t.Errorf("RollbackRun(unknown) error = %v, want ErrRunNotFound", err)
	}

	if _, err := s.GetRun(ctx, keep.ID); err != nil {
		t.Errorf("GetRun(keep) error = %v", err)
	}
}

func testTemplates(t *testing.T, s core.Store) {
	ctx := context.Background()

	tmpl := core.MappingTemplate{
		ID:            uuid.NewString(),
		EntityType:    "students",
		Name:          "SIS export",
		Mapping:       map[string]string{"student_id": "ID", "email": "Mail"},
		SourceColumns: []string{"ID", "Mail", "Name"},
		CreatedAt:     base,
		UpdatedAt:     base,
	}
	if err := s.SaveTemplate(ctx, tmpl); err != nil {
		t.Fatalf("SaveTemplate() error = %v", err)
	}

	clash := tmpl
	clash.ID = uuid.NewString()
	clash.Name = "sis EXPORT"
	if err := s.SaveTemplate(ctx, clash); !errors.Is(err, core.ErrTemplateExists) {
		t.Errorf("SaveTemplate(same name) error = %v, want ErrTemplateExists", err)
	}

	other := clash
	other.EntityType = "teachers"
	if err := s.SaveTemplate(ctx, other); err != nil {
		t.Errorf("SaveTemplate(other entity) error = %v", err)
	}

	tmpl.Mapping = map[string]string{"student_id": "Student Number"}
	tmpl.UpdatedAt = base.Add(time.Hour)
	if err := s.SaveTemplate(ctx, tmpl); err != nil {
		t.Fatalf("SaveTemplate(update) error = %v", err)
	}

	got, err := s.GetTemplate(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if got.Mapping["student_id"] != "Student Number" || len(got.Mapping) != 1 {
		t.Errorf("GetTemplate().Mapping = %v", got.Mapping)
	}
	if len(got.SourceColumns) != 3 {
		t.Errorf("GetTemplate().SourceColumns = %v", got.SourceColumns)
	}

	list, err := s.ListTemplates(ctx, "students")
	if err != nil {
		t.Fatalf("ListTemplates() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != tmpl.ID {
		t.Errorf("ListTemplates() = %+v, want only %s", list, tmpl.ID)
	}

	if err := s.DeleteTemplate(ctx, tmpl.ID); err != nil {
		t.Fatalf("DeleteTemplate() error = %v", err)
	}
	if _, err := s.GetTemplate(ctx, tmpl.ID); !errors.Is(err, core.ErrTemplateNotFound) {
		t.Errorf("GetTemplate(deleted) error = %v, want ErrTemplateNotFound", err)
	}
	if err := s.DeleteTemplate(ctx, tmpl.ID); !errors.Is(err, core.ErrTemplateNotFound) {
		t.Errorf("DeleteTemplate(deleted) error = %v, want ErrTemplateNotFound", err)
	}
}
