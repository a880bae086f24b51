package core

import (
	"context"
	"time"
)

// FieldFormat is the value format enforced on a field during validation.
type FieldFormat int

const (
	FormatNone FieldFormat = iota
	FormatEmail
	FormatDate
	FormatNumber
)

// String returns the lowercase name used in JSON and configuration.
func (f FieldFormat) String() string {
	switch f {
	case FormatEmail:
		return "email"
	case FormatDate:
		return "date"
	case FormatNumber:
		return "number"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f FieldFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// Reference points a field at the unique field of another entity type.
// The store rejects a row whose value has no committed match.
type Reference struct {
	EntityType string `json:"entity_type"`
	FieldKey   string `json:"field_key"`
}

// FieldDefinition describes one target field of an entity type.
type FieldDefinition struct {
	Key        string      `json:"key"`
	Label      string      `json:"label"`
	Required   bool        `json:"required"`
	Unique     bool        `json:"unique"`
	Format     FieldFormat `json:"format"`
	References *Reference  `json:"references,omitempty"`
}

// EntityDefinition groups the ordered field list of one entity type.
type EntityDefinition struct {
	Key    string            `json:"key"`
	Label  string            `json:"label"`
	Group  string            `json:"group"`
	Fields []FieldDefinition `json:"fields"`
}

// SourceRow is one data row of an uploaded file.
// RowNumber is 1-based and counts the header as row 1.
type SourceRow struct {
	RowNumber int               `json:"row_number"`
	Cells     map[string]string `json:"cells"`
}

// SourceTable is the parsed form of one uploaded file.
// Every row carries a cell for every column.
type SourceTable struct {
	Columns  []string    `json:"columns"`
	Rows     []SourceRow `json:"rows"`
	Encoding string      `json:"encoding"`
}

// HasColumn reports whether the table has a column with the exact name.
func (t *SourceTable) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// ValidationIssue is a non-fatal problem found on one row.
type ValidationIssue struct {
	RowNumber  int    `json:"row_number"`
	FieldKey   string `json:"field_key"`
	FieldLabel string `json:"field_label"`
	Message    string `json:"message"`
}

// DuplicateCandidate marks a row whose unique value was already seen
// earlier in the same batch.
type DuplicateCandidate struct {
	RowNumber            int    `json:"row_number"`
	FieldKey             string `json:"field_key"`
	FieldLabel           string `json:"field_label"`
	Value                string `json:"value"`
	DuplicateOfRowNumber int    `json:"duplicate_of_row_number"`
}

// ValidationReport holds the full result of one validation pass.
type ValidationReport struct {
	Issues          []ValidationIssue    `json:"issues"`
	Duplicates      []DuplicateCandidate `json:"duplicates"`
	MissingRequired []string             `json:"missing_required"`
}

// Blocking reports whether the report stops execution without an override.
func (r ValidationReport) Blocking() bool {
	return len(r.Issues) > 0 || len(r.MissingRequired) > 0
}

// DuplicatesFor returns every duplicate recorded for a row, in field order.
func (r ValidationReport) DuplicatesFor(rowNumber int) []DuplicateCandidate {
	var out []DuplicateCandidate
	for _, d := range r.Duplicates {
		if d.RowNumber == rowNumber {
			out = append(out, d)
		}
	}
	return out
}

// DuplicatePolicy decides what happens to a batch-local duplicate at commit time.
type DuplicatePolicy string

const (
	PolicySkip         DuplicatePolicy = "skip"
	PolicyUpdate       DuplicatePolicy = "update"
	PolicyImportAnyway DuplicatePolicy = "import_anyway"
)

// Valid reports whether p is a known policy.
func (p DuplicatePolicy) Valid() bool {
	switch p {
	case PolicySkip, PolicyUpdate, PolicyImportAnyway:
		return true
	}
	return false
}

// RunStatus is the ledger status of an import run.
type RunStatus string

const (
	RunSuccess    RunStatus = "success"
	RunFailed     RunStatus = "failed"
	RunRolledBack RunStatus = "rolled_back"
)

// ImportRunRecord is the durable audit entry for one import run.
type ImportRunRecord struct {
	ID                     string    `json:"id"`
	EntityType             string    `json:"entity_type"`
	SourceFilename         string    `json:"source_filename"`
	StartedAt              time.Time `json:"started_at"`
	TotalRows              int       `json:"total_rows"`
	ImportedCount          int       `json:"imported_count"`
	UpdatedCount           int       `json:"updated_count"`
	FailedCount            int       `json:"failed_count"`
	DuplicatesSkippedCount int       `json:"duplicates_skipped_count"`
	Status                 RunStatus `json:"status"`
	Reversible             bool      `json:"reversible"`
	TriggeredBy            string    `json:"triggered_by"`
	Error                  string    `json:"error,omitempty"`
}

// RunFilter narrows a ledger query. Zero values mean no constraint.
type RunFilter struct {
	EntityType string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Record is one committed entity row.
type Record struct {
	ID         string            `json:"id"`
	RunID      string            `json:"run_id"`
	EntityType string            `json:"entity_type"`
	Values     map[string]string `json:"values"`
	References []RecordReference `json:"-"`
}

// RecordReference is a value that must resolve to a committed record
// of another entity type.
type RecordReference struct {
	FieldKey string
	Target   Reference
	Value    string
}

// RollbackResult describes a completed rollback.
type RollbackResult struct {
	RunID          string `json:"run_id"`
	EntityType     string `json:"entity_type"`
	RecordsDeleted int64  `json:"records_deleted"`
}

// MappingTemplate is a saved field mapping for an entity type.
type MappingTemplate struct {
	ID            string            `json:"id"`
	EntityType    string            `json:"entity_type"`
	Name          string            `json:"name"`
	Mapping       map[string]string `json:"mapping"`
	SourceColumns []string          `json:"source_columns"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// TemplateMatch is a template with its header overlap score.
type TemplateMatch struct {
	Template   MappingTemplate `json:"template"`
	MatchScore float64         `json:"match_score"`
}

// TemplateMatchThreshold is the minimum score for a template to be suggested.
const TemplateMatchThreshold = 0.7

// Store persists committed records, the run ledger and mapping templates.
type Store interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (StoreTx, error)

	AppendRun(ctx context.Context, run ImportRunRecord) error
	GetRun(ctx context.Context, id string) (ImportRunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]ImportRunRecord, error)

	// RollbackRun deletes every record created by the run and marks it
	// rolled back in one transaction. It returns ErrAlreadyRolledBack or
	// ErrNotReversible without changing anything.
	RollbackRun(ctx context.Context, id string) (int64, error)
	CountRecords(ctx context.Context, entityType string) (int64, error)

	SaveTemplate(ctx context.Context, t MappingTemplate) error
	GetTemplate(ctx context.Context, id string) (MappingTemplate, error)
	ListTemplates(ctx context.Context, entityType string) ([]MappingTemplate, error)
	DeleteTemplate(ctx context.Context, id string) error
}

// StoreTx is a commit-phase transaction. A failed InsertRecord or
// UpdateRecord leaves the transaction usable for the following rows.
type StoreTx interface {
	InsertRecord(ctx context.Context, rec Record) error
	UpdateRecord(ctx context.Context, rec Record) error
	AppendRun(ctx context.Context, run ImportRunRecord) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// EntityLocker serialises commits and rollbacks per entity type.
type EntityLocker interface {
	Lock(ctx context.Context, entityType string) (unlock func(), err error)
}
