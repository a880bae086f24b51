package entities

import (
	"testing"

	"github.com/JonMunkholm/importer/internal/core"
)

func TestRegisteredEntities(t *testing.T) {
	want := []string{"students", "teachers", "subjects", "classes", "grades", "attendance", "fees"}
	for _, key := range want {
		t.Run(key, func(t *testing.T) {
			def, ok := core.Get(key)
			if !ok {
				t.Fatalf("Get(%q) not registered", key)
			}
			if len(def.Fields) == 0 {
				t.Errorf("%s has no fields", key)
			}
			required := 0
			for _, f := range def.Fields {
				if f.Required {
					required++
				}
			}
			if required == 0 {
				t.Errorf("%s has no required field", key)
			}
		})
	}
}

func TestReferencesResolve(t *testing.T) {
	for _, def := range core.All() {
		for _, f := range def.Fields {
			if f.References == nil {
				continue
			}
			target, ok := core.Get(f.References.EntityType)
			if !ok {
				t.Errorf("%s.%s references unknown entity %q", def.Key, f.Key, f.References.EntityType)
				continue
			}
			found := false
			for _, tf := range target.Fields {
				if tf.Key == f.References.FieldKey {
					found = true
					if !tf.Unique {
						t.Errorf("%s.%s references non-unique field %s.%s",
							def.Key, f.Key, target.Key, tf.Key)
					}
				}
			}
			if !found {
				t.Errorf("%s.%s references unknown field %s.%s",
					def.Key, f.Key, f.References.EntityType, f.References.FieldKey)
			}
		}
	}
}

func TestSampleFilesMapCompletely(t *testing.T) {
	for _, def := range core.All() {
		t.Run(def.Key, func(t *testing.T) {
			data, mimeType, err := core.SampleFile(def.Key, core.SampleCSV)
			if err != nil {
				t.Fatalf("SampleFile() error = %v", err)
			}
			table, err := core.NewParser(core.ParserConfig{}).Parse(t.Context(), data, mimeType)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			m := core.AutoMap(table.Columns, def.Fields)
			if m.Len() != len(def.Fields) {
				t.Errorf("AutoMap mapped %d of %d fields: %v", m.Len(), len(def.Fields), m.Keys())
			}
			report := core.Validate(table, m, def.Fields)
			if len(report.Issues) != 0 {
				t.Errorf("sample row has issues: %+v", report.Issues)
			}
		})
	}
}
