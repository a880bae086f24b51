package core

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestAutoMap(t *testing.T) {
	fields := mustFields(t, testMembers)

	tests := []struct {
		name    string
		columns []string
		want    map[string]string
	}{
		{
			name:    "exact keys any case",
			columns: []string{"MEMBER_ID", "Name", "email"},
			want:    map[string]string{"member_id": "MEMBER_ID", "name": "Name", "email": "email"},
		},
		{
			name:    "column contains key",
			columns: []string{"Primary Email Address", "Member Name"},
			want:    map[string]string{"name": "Member Name", "email": "Primary Email Address"},
		},
		{
			name:    "label contains column",
			columns: []string{"Joined", "Full"},
			want:    map[string]string{"name": "Full", "joined": "Joined"},
		},
		{
			name:    "exact match beats earlier partial",
			columns: []string{"email_backup", "email"},
			want:    map[string]string{"email": "email"},
		},
		{
			name:    "nothing matches",
			columns: []string{"zzz", ""},
			want:    map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AutoMap(tt.columns, fields).Map()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AutoMap() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAutoMap_Deterministic(t *testing.T) {
	fields := mustFields(t, testMembers)
	columns := []string{"member id", "name", "e-mail", "email", "dues paid"}

	first := AutoMap(columns, fields)
	for i := 0; i < 20; i++ {
		if got := AutoMap(columns, fields); !got.Equal(first) {
			t.Fatalf("AutoMap() run %d = %v, want %v", i, got.Map(), first.Map())
		}
	}
}

func TestFieldMapping_Immutable(t *testing.T) {
	base := NewFieldMapping(map[string]string{"first_name": "First", "email": ""})
	if base.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (empty column dropped)", base.Len())
	}

	with := base.With("email", "Mail")
	without := with.Without("first_name")

	if _, ok := base.Column("email"); ok {
		t.Error("With modified the receiver")
	}
	if col, _ := with.Column("first_name"); col != "First" {
		t.Error("Without modified the receiver")
	}
	if got := without.Keys(); !reflect.DeepEqual(got, []string{"email"}) {
		t.Errorf("Keys() = %v, want [email]", got)
	}

	pairs := with.Map()
	pairs["email"] = "changed"
	if col, _ := with.Column("email"); col != "Mail" {
		t.Error("Map() exposed internal state")
	}

	if !with.With("email", "").Equal(base) {
		t.Error("With(key, \"\") did not unmap the field")
	}
}

func TestFieldMapping_Check(t *testing.T) {
	fields := mustFields(t, testContacts)
	table := mustParse(t, csvLines("First,Email", "Ann,ann@x.com"))

	tests := []struct {
		name    string
		pairs   map[string]string
		table   *SourceTable
		wantErr error
	}{
		{"valid", map[string]string{"first_name": "First", "email": "Email"}, table, nil},
		{"unknown field", map[string]string{"nickname": "First"}, table, ErrUnknownField},
		{"unknown column", map[string]string{"first_name": "Given"}, table, ErrUnknownColumn},
		{"no table skips columns", map[string]string{"first_name": "Given"}, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewFieldMapping(tt.pairs).Check(fields, tt.table)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Check() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFieldMapping_JSON(t *testing.T) {
	var m FieldMapping
	if err := json.Unmarshal([]byte(`{"first_name":"First","email":""}`), &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got := m.Map(); !reflect.DeepEqual(got, map[string]string{"first_name": "First"}) {
		t.Errorf("decoded = %v, want only first_name", got)
	}

	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `{"first_name":"First"}` {
		t.Errorf("Marshal() = %s", out)
	}
}
