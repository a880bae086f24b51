package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FieldMapping maps field keys to source column names.
// It is a value: every change returns a new mapping and never touches
// the receiver, so a mapping handed to validation cannot shift underneath it.
type FieldMapping struct {
	m map[string]string
}

// NewFieldMapping builds a mapping from pairs, dropping empty columns.
func NewFieldMapping(pairs map[string]string) FieldMapping {
	m := make(map[string]string, len(pairs))
	for k, v := range pairs {
		if v != "" {
			m[k] = v
		}
	}
	return FieldMapping{m: m}
}

// Column returns the column mapped to fieldKey.
func (fm FieldMapping) Column(fieldKey string) (string, bool) {
	c, ok := fm.m[fieldKey]
	return c, ok
}

// With returns a copy with fieldKey mapped to column.
func (fm FieldMapping) With(fieldKey, column string) FieldMapping {
	out := fm.Map()
	if column == "" {
		delete(out, fieldKey)
	} else {
		out[fieldKey] = column
	}
	return FieldMapping{m: out}
}

// Without returns a copy with fieldKey unmapped.
func (fm FieldMapping) Without(fieldKey string) FieldMapping {
	return fm.With(fieldKey, "")
}

// Map returns a copy of the underlying pairs.
func (fm FieldMapping) Map() map[string]string {
	out := make(map[string]string, len(fm.m))
	for k, v := range fm.m {
		out[k] = v
	}
	return out
}

// Len returns the number of mapped fields.
func (fm FieldMapping) Len() int { return len(fm.m) }

// Equal reports whether both mappings hold the same pairs.
func (fm FieldMapping) Equal(other FieldMapping) bool {
	if len(fm.m) != len(other.m) {
		return false
	}
	for k, v := range fm.m {
		if other.m[k] != v {
			return false
		}
	}
	return true
}

// Keys returns the mapped field keys in sorted order.
func (fm FieldMapping) Keys() []string {
	keys := make([]string, 0, len(fm.m))
	for k := range fm.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Check verifies that every mapped field exists in fields and every
// mapped column exists in the table.
func (fm FieldMapping) Check(fields []FieldDefinition, table *SourceTable) error {
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.Key] = true
	}
	for _, k := range fm.Keys() {
		if !known[k] {
			return fmt.Errorf("%w: %s", ErrUnknownField, k)
		}
		if table != nil && !table.HasColumn(fm.m[k]) {
			return fmt.Errorf("%w: %q (field %s)", ErrUnknownColumn, fm.m[k], k)
		}
	}
	return nil
}

func (fm FieldMapping) MarshalJSON() ([]byte, error) {
	return json.Marshal(fm.Map())
}

func (fm *FieldMapping) UnmarshalJSON(data []byte) error {
	var pairs map[string]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	*fm = NewFieldMapping(pairs)
	return nil
}

// AutoMap proposes a mapping for fields from source column names.
//
// For each field in order: an exact case-insensitive match of the field
// key wins; otherwise the first column that contains the key, or that the
// field label contains, is taken; otherwise the field stays unmapped.
// The result depends only on its inputs.
func AutoMap(columns []string, fields []FieldDefinition) FieldMapping {
	m := make(map[string]string, len(fields))

	for _, f := range fields {
		key := strings.ToLower(strings.TrimSpace(f.Key))
		label := strings.ToLower(strings.TrimSpace(f.Label))
		if key == "" {
			continue
		}

		if col, ok := exactColumn(columns, key); ok {
			m[f.Key] = col
			continue
		}

		for _, col := range columns {
			c := strings.ToLower(strings.TrimSpace(col))
			if c == "" {
				continue
			}
			if strings.Contains(c, key) || (label != "" && strings.Contains(label, c)) {
				m[f.Key] = col
				break
			}
		}
	}

	return FieldMapping{m: m}
}

func exactColumn(columns []string, key string) (string, bool) {
	for _, col := range columns {
		if strings.EqualFold(strings.TrimSpace(col), key) {
			return col, true
		}
	}
	return "", false
}
