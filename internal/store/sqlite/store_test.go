package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/store/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "importer.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Store { return openTemp(t) })
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "importer.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	run := core.ImportRunRecord{ID: "run-1", EntityType: "students", Status: core.RunFailed}
	if err := s.AppendRun(ctx, run); err != nil {
		t.Fatalf("AppendRun() error = %v", err)
	}
	s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() after reopen error = %v", err)
	}
	if got.Status != core.RunFailed {
		t.Errorf("Status = %s, want %s", got.Status, core.RunFailed)
	}
}

func TestJSONPath(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"student_id", `$."student_id"`},
		{`odd"key`, `$."odd\"key"`},
	}
	for _, tt := range tests {
		if got := jsonPath(tt.key); got != tt.want {
			t.Errorf("jsonPath(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
