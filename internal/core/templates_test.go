package core

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestTemplates_CRUD(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	mapping := NewFieldMapping(map[string]string{"first_name": "Given", "email": "Mail"})

	created, err := svc.CreateTemplate(ctx, testContacts, "  CRM  ", mapping, []string{"Given", "Mail"})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	if created.Name != "CRM" || created.ID == "" {
		t.Errorf("created = %+v, want trimmed name and id", created)
	}

	if _, err := svc.CreateTemplate(ctx, testContacts, "crm", mapping, nil); !errors.Is(err, ErrTemplateExists) {
		t.Errorf("duplicate name error = %v, want ErrTemplateExists", err)
	}
	if _, err := svc.CreateTemplate(ctx, testMembers, "crm", NewFieldMapping(map[string]string{"name": "N"}), nil); err != nil {
		t.Errorf("same name on another entity error = %v, want nil", err)
	}

	updated, err := svc.UpdateTemplate(ctx, created.ID, "CRM v2", mapping.With("last_name", "Family"), []string{"Given", "Family", "Mail"})
	if err != nil {
		t.Fatalf("UpdateTemplate() error = %v", err)
	}
	if updated.Name != "CRM v2" || len(updated.Mapping) != 3 || updated.UpdatedAt.Before(created.CreatedAt) {
		t.Errorf("updated = %+v", updated)
	}

	list, _ := svc.ListTemplates(ctx, testContacts)
	if len(list) != 1 || list[0].Name != "CRM v2" {
		t.Errorf("ListTemplates() = %+v, want the one updated template", list)
	}

	if err := svc.DeleteTemplate(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTemplate() error = %v", err)
	}
	if _, err := svc.GetTemplate(ctx, created.ID); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("GetTemplate() after delete error = %v, want ErrTemplateNotFound", err)
	}
}

func TestTemplates_Rejects(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	ok := NewFieldMapping(map[string]string{"first_name": "Given"})

	tests := []struct {
		name       string
		entityType string
		tmplName   string
		mapping    FieldMapping
		wantErr    error
	}{
		{"unknown entity", "widgets", "x", ok, ErrUnknownEntity},
		{"unknown field", testContacts, "x", NewFieldMapping(map[string]string{"nickname": "N"}), ErrUnknownField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateTemplate(ctx, tt.entityType, tt.tmplName, tt.mapping, nil); !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateTemplate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := svc.CreateTemplate(ctx, testContacts, " ", ok, nil); err == nil {
		t.Error("blank name accepted")
	}
	if _, err := svc.CreateTemplate(ctx, testContacts, "empty", NewFieldMapping(nil), nil); err == nil {
		t.Error("empty mapping accepted")
	}
	if _, err := svc.GetTemplate(ctx, "not-a-uuid"); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("GetTemplate(bad id) error = %v, want ErrTemplateNotFound", err)
	}
}

func TestTemplates_Match(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	m := NewFieldMapping(map[string]string{"first_name": "Given"})

	svc.CreateTemplate(ctx, testContacts, "exact", m, []string{"Given", "Family", "Mail"})
	svc.CreateTemplate(ctx, testContacts, "most", m, []string{"Given", "Family", "Mail", "Phone"})
	svc.CreateTemplate(ctx, testContacts, "half", m, []string{"Given", "Other"})

	matches, err := svc.MatchTemplates(ctx, testContacts, []string{" given", "FAMILY", "Mail"})
	if err != nil {
		t.Fatalf("MatchTemplates() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %+v, want exact and most", matches)
	}
	if matches[0].Template.Name != "exact" || matches[0].MatchScore != 1 {
		t.Errorf("best = %s (%.2f), want exact (1.00)", matches[0].Template.Name, matches[0].MatchScore)
	}
	if matches[1].Template.Name != "most" || math.Abs(matches[1].MatchScore-0.75) > 1e-9 {
		t.Errorf("second = %s (%.2f), want most (0.75)", matches[1].Template.Name, matches[1].MatchScore)
	}
}

func TestTemplates_Apply(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	view := startContacts(t, svc, csvLines("Given,Mail", "Ann,ann@x.com"))

	tmpl, _ := svc.CreateTemplate(ctx, testContacts, "crm",
		NewFieldMapping(map[string]string{"first_name": "Given", "email": "Mail", "last_name": "Family"}), nil)

	got, err := svc.ApplyTemplate(ctx, view.ID, tmpl.ID)
	if err != nil {
		t.Fatalf("ApplyTemplate() error = %v", err)
	}
	want := map[string]string{"first_name": "Given", "email": "Mail"}
	if !got.Mapping.Equal(NewFieldMapping(want)) {
		t.Errorf("mapping = %v, want %v (absent column dropped)", got.Mapping.Map(), want)
	}

	other, _ := svc.CreateTemplate(ctx, testMembers, "members", NewFieldMapping(map[string]string{"name": "Given"}), nil)
	if _, err := svc.ApplyTemplate(ctx, view.ID, other.ID); !errors.Is(err, ErrEntityMismatch) {
		t.Errorf("ApplyTemplate() across entities error = %v, want ErrEntityMismatch", err)
	}
}
