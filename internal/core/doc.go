// Package core provides the business logic for bulk data imports.
//
// The package holds all domain logic independent of any transport. The web
// handlers, the schedule runner and the tests drive it through [Service].
//
// # Architecture
//
// The package is organized around a few key concepts:
//
//   - Entity Registry: target entity types and their ordered fields,
//     registered at init time via [Register].
//   - Parser: turns CSV, TSV or XLSX bytes into a [SourceTable].
//   - Mapping: a [FieldMapping] from field keys to source columns, proposed
//     by [AutoMap] or loaded from a saved [MappingTemplate].
//   - Validation: [Validate] checks required values, formats and
//     batch-local uniqueness without touching the store.
//   - Execution: [Executor] commits a table as one import run and records
//     it in the run ledger.
//   - Ledger: [Ledger] lists runs and rolls reversible runs back.
//   - Schedules: [ScheduleRegistry] holds deferred and recurring imports;
//     the schedule runner fires them with a file from a [SourceBinder].
//
// # Entity Registry
//
// Entity types are registered at init time:
//
//	core.Register(core.EntityDefinition{
//	    Key:   "students",
//	    Label: "Students",
//	    Group: "School",
//	    Fields: []core.FieldDefinition{
//	        {Key: "student_id", Label: "Student ID", Required: true, Unique: true},
//	        {Key: "email", Label: "Email", Unique: true, Format: core.FormatEmail},
//	    },
//	})
//
// # Import Flow
//
// An operator import moves through one [Session]:
//
//  1. [Service.StartSession] parses the upload and proposes a mapping
//  2. The mapping is adjusted with [Service.SetMapping] or [Service.ApplyTemplate]
//  3. [Service.ValidateSession] produces a [ValidationReport]
//  4. [Service.ExecuteSession] commits under a [DuplicatePolicy]
//
// Commits take a slot from the [ImportLimiter] and the per-entity lock, so
// two runs never write the same entity type at once.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError].
// Each category has a code for support reference:
//
//   - IMP001-IMP006: import run errors (blocked, busy, store down, rollback)
//   - FILE001-FILE003: file errors (empty, size, encoding)
//   - MAP001-MAP004: mapping errors
//   - SES001-SES010: session, template and schedule errors
//   - DB001-DB005: store errors (duplicates, constraints, connections)
package core
