package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

var sessionEpoch = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func startContacts(t *testing.T, svc *Service, csv string) SessionView {
	t.Helper()
	view, err := svc.StartSession(context.Background(), testContacts, "contacts.csv", "text/csv", []byte(csv))
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	return view
}

// =============================================================================
// End-to-end
// =============================================================================

func TestService_ImportEndToEnd(t *testing.T) {
	svc, store := newTestService(t, Options{})
	ctx := context.Background()

	view := startContacts(t, svc, csvLines(
		"first_name,last_name,email",
		"Ann,Lee,ann@x.com",
		"Ann,Lee,ann@x.com",
	))
	if view.State != StateIdle || view.RowCount != 2 {
		t.Fatalf("view = %s/%d rows, want idle/2", view.State, view.RowCount)
	}
	if view.Mapping.Len() != 3 {
		t.Errorf("automatic mapping = %v, want all three fields", view.Mapping.Map())
	}

	report, err := svc.ValidateSession(view.ID)
	if err != nil {
		t.Fatalf("ValidateSession() error = %v", err)
	}
	if len(report.Duplicates) != 1 {
		t.Fatalf("Duplicates = %+v, want 1", report.Duplicates)
	}
	if d := report.Duplicates[0]; d.RowNumber != 3 || d.DuplicateOfRowNumber != 2 {
		t.Errorf("duplicate = row %d of row %d, want row 3 of row 2", d.RowNumber, d.DuplicateOfRowNumber)
	}

	run, err := svc.ExecuteSession(ctx, view.ID, PolicySkip, false)
	if err != nil {
		t.Fatalf("ExecuteSession() error = %v", err)
	}
	if run.ImportedCount != 1 || run.DuplicatesSkippedCount != 1 || run.FailedCount != 0 {
		t.Errorf("imported %d skipped %d failed %d, want 1/1/0",
			run.ImportedCount, run.DuplicatesSkippedCount, run.FailedCount)
	}

	runs, _ := svc.ListRuns(ctx, 10)
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Errorf("ListRuns() = %+v, want the one run", runs)
	}
	if n, _ := svc.CountRecords(ctx, testContacts); n != 1 {
		t.Errorf("CountRecords = %d, want 1", n)
	}

	if _, err := svc.RollbackRun(ctx, run.ID); err != nil {
		t.Fatalf("RollbackRun() error = %v", err)
	}
	if len(store.Records(testContacts)) != 0 {
		t.Error("records remain after rollback")
	}
}

// =============================================================================
// State machine
// =============================================================================

func TestSession_States(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	view := startContacts(t, svc, csvLines("first_name,email", "Ann,a@x.com"))

	if _, err := svc.ValidateSession(view.ID); err != nil {
		t.Fatalf("ValidateSession() error = %v", err)
	}
	got, _ := svc.GetSession(view.ID)
	if got.State != StateReadyToCommit || got.Report == nil {
		t.Fatalf("after validate = %s (report %v), want ready_to_commit with report", got.State, got.Report != nil)
	}

	// A mapping change invalidates the report.
	got, err := svc.SetMapping(view.ID, got.Mapping.Without("email"))
	if err != nil {
		t.Fatalf("SetMapping() error = %v", err)
	}
	if got.State != StateIdle || got.Report != nil {
		t.Errorf("after SetMapping = %s (report %v), want idle without report", got.State, got.Report != nil)
	}

	// Execute validates an idle session itself.
	if _, err := svc.ExecuteSession(context.Background(), view.ID, PolicySkip, false); err != nil {
		t.Fatalf("ExecuteSession() error = %v", err)
	}
	got, _ = svc.GetSession(view.ID)
	if got.State != StateCompleted || got.Run == nil {
		t.Fatalf("after execute = %s, want completed with run", got.State)
	}

	closed := []struct {
		name string
		op   func() error
	}{
		{"validate", func() error { _, err := svc.ValidateSession(view.ID); return err }},
		{"automap", func() error { _, err := svc.AutoMapSession(view.ID); return err }},
		{"set mapping", func() error { _, err := svc.SetMapping(view.ID, NewFieldMapping(nil)); return err }},
		{"execute", func() error {
			_, err := svc.ExecuteSession(context.Background(), view.ID, PolicySkip, false)
			return err
		}},
	}
	for _, tt := range closed {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, ErrSessionClosed) {
				t.Errorf("error = %v, want ErrSessionClosed", err)
			}
		})
	}
}

func TestSession_BlockedStaysReady(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	view := startContacts(t, svc, csvLines("first_name,email", ",a@x.com"))

	_, err := svc.ExecuteSession(context.Background(), view.ID, PolicySkip, false)
	if !errors.Is(err, ErrValidationBlocked) {
		t.Fatalf("ExecuteSession() error = %v, want ErrValidationBlocked", err)
	}
	got, _ := svc.GetSession(view.ID)
	if got.State != StateReadyToCommit {
		t.Errorf("State = %s, want ready_to_commit", got.State)
	}

	run, err := svc.ExecuteSession(context.Background(), view.ID, PolicySkip, true)
	if err != nil {
		t.Fatalf("ExecuteSession() with override error = %v", err)
	}
	if run.ImportedCount != 1 {
		t.Errorf("ImportedCount = %d, want 1", run.ImportedCount)
	}
}

func TestSession_StoreFailureMarksFailed(t *testing.T) {
	svc, store := newTestService(t, Options{})
	view := startContacts(t, svc, csvLines("first_name", "Ann"))
	store.SetUnavailable(true)

	run, err := svc.ExecuteSession(context.Background(), view.ID, PolicySkip, false)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("ExecuteSession() error = %v, want ErrStoreUnavailable", err)
	}
	got, _ := svc.GetSession(view.ID)
	if got.State != StateFailed || got.Run == nil || got.Run.ID != run.ID {
		t.Errorf("session = %s run %v, want failed with the run", got.State, got.Run)
	}
}

func TestSession_SetMappingRejectsUnknown(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	view := startContacts(t, svc, csvLines("first_name", "Ann"))

	_, err := svc.SetMapping(view.ID, NewFieldMapping(map[string]string{"first_name": "given"}))
	if !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("SetMapping() error = %v, want ErrUnknownColumn", err)
	}
	got, _ := svc.GetSession(view.ID)
	if col, _ := got.Mapping.Column("first_name"); col != "first_name" {
		t.Errorf("mapping changed to %q after a rejected update", col)
	}
}

func TestSession_PreviewAndNotFound(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	lines := []string{"first_name"}
	for i := 0; i < PreviewRowCount+5; i++ {
		lines = append(lines, "Ann")
	}
	view := startContacts(t, svc, csvLines(lines...))
	if len(view.Preview) != PreviewRowCount || view.RowCount != PreviewRowCount+5 {
		t.Errorf("preview %d of %d rows, want %d of %d", len(view.Preview), view.RowCount, PreviewRowCount, PreviewRowCount+5)
	}

	if _, err := svc.GetSession("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetSession() error = %v, want ErrSessionNotFound", err)
	}
	if _, err := svc.StartSession(context.Background(), "widgets", "w.csv", "text/csv", []byte("a\n1\n")); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("StartSession() error = %v, want ErrUnknownEntity", err)
	}
	if _, err := svc.StartSession(context.Background(), testContacts, "e.csv", "text/csv", nil); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("StartSession() error = %v, want ErrEmptyFile", err)
	}
}

// =============================================================================
// Lifetime
// =============================================================================

func TestSession_DiscardAndSweep(t *testing.T) {
	clock := &fixedClock{at: sessionEpoch}
	svc, _ := newTestService(t, Options{SessionTTL: time.Hour})
	svc.now = clock.now

	old := startContacts(t, svc, csvLines("first_name", "Ann"))
	clock.advance(50 * time.Minute)
	fresh := startContacts(t, svc, csvLines("first_name", "Bob"))
	gone := startContacts(t, svc, csvLines("first_name", "Cy"))

	if err := svc.DiscardSession(gone.ID); err != nil {
		t.Fatalf("DiscardSession() error = %v", err)
	}
	if err := svc.DiscardSession(gone.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second DiscardSession() error = %v, want ErrSessionNotFound", err)
	}

	clock.advance(20 * time.Minute)
	if n := svc.SweepSessions(); n != 1 {
		t.Errorf("SweepSessions() = %d, want 1", n)
	}
	if _, err := svc.GetSession(old.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expired session still present: %v", err)
	}
	if _, err := svc.GetSession(fresh.ID); err != nil {
		t.Errorf("fresh session swept: %v", err)
	}
	if svc.SessionCount() != 1 {
		t.Errorf("SessionCount() = %d, want 1", svc.SessionCount())
	}
}

func TestSession_CommittingIsBusy(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	view := startContacts(t, svc, csvLines("first_name", "Ann"))

	sess, _ := svc.sessions.get(view.ID)
	sess.mu.Lock()
	sess.state = StateCommitting
	sess.mu.Unlock()

	if err := svc.DiscardSession(view.ID); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("DiscardSession() error = %v, want ErrSessionBusy", err)
	}
	if _, err := svc.ValidateSession(view.ID); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("ValidateSession() error = %v, want ErrSessionBusy", err)
	}
	if sess.expired(sessionEpoch.AddDate(1, 0, 0), time.Minute) {
		t.Error("committing session reported expired")
	}
}
