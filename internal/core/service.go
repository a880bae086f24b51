package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/importer/internal/logging"
)

// DefaultSessionTTL is how long an untouched session survives.
const DefaultSessionTTL = time.Hour

// Options configures a Service. Zero values select the defaults.
type Options struct {
	Parser        ParserConfig
	MaxConcurrent int
	MaxWaitTime   time.Duration
	SessionTTL    time.Duration
	Binder        SourceBinder
}

// Service is the import engine: parsing, sessions, execution, the run
// ledger and scheduled imports, over one Store.
type Service struct {
	store     Store
	parser    *Parser
	limiter   *ImportLimiter
	executor  *Executor
	ledger    *Ledger
	schedules *ScheduleRegistry
	sessions  *sessionStore
	binder    SourceBinder

	sessionTTL time.Duration
	now        func() time.Time
}

// NewService wires the engine components over store. locks may be nil
// for in-process locking.
func NewService(store Store, locks EntityLocker, opts Options) *Service {
	if locks == nil {
		locks = NewLocalLocker()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrentImports
	}
	if opts.MaxWaitTime <= 0 {
		opts.MaxWaitTime = DefaultMaxWaitTime
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}

	limiter := NewImportLimiter(opts.MaxConcurrent, opts.MaxWaitTime)
	return &Service{
		store:      store,
		parser:     NewParser(opts.Parser),
		limiter:    limiter,
		executor:   NewExecutor(store, locks, limiter),
		ledger:     NewLedger(store, locks),
		schedules:  NewScheduleRegistry(),
		sessions:   newSessionStore(),
		binder:     opts.Binder,
		sessionTTL: opts.SessionTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ===========================================================================
// Schema
// ===========================================================================

// Entities returns every registered entity type.
func (s *Service) Entities() []EntityDefinition {
	return All()
}

// Fields returns the field definitions of an entity type.
func (s *Service) Fields(entityType string) ([]FieldDefinition, error) {
	return FieldsFor(entityType)
}

// ===========================================================================
// Sessions
// ===========================================================================

// StartSession parses an uploaded file and opens a session for it with
// an automatic mapping proposal.
func (s *Service) StartSession(ctx context.Context, entityType, filename, mimeType string, data []byte) (SessionView, error) {
	fields, err := FieldsFor(entityType)
	if err != nil {
		return SessionView{}, err
	}

	table, err := s.parser.Parse(ctx, data, mimeType)
	if err != nil {
		return SessionView{}, err
	}

	sess := newSession(entityType, filename, table, fields, s.now())
	s.sessions.put(sess)

	logging.WithFields(ctx, "session_id", sess.ID(), "entity_type", entityType).
		Info("import session started",
			"filename", filename,
			"rows", len(table.Rows),
			"columns", len(table.Columns),
			"encoding", table.Encoding,
		)
	return sess.View(), nil
}

// GetSession returns a snapshot of a session.
func (s *Service) GetSession(id string) (SessionView, error) {
	sess, err := s.sessions.get(id)
	if err != nil {
		return SessionView{}, err
	}
	return sess.View(), nil
}

// SetMapping replaces a session's mapping.
func (s *Service) SetMapping(id string, mapping FieldMapping) (SessionView, error) {
	sess, err := s.sessions.get(id)
	if err != nil {
		return SessionView{}, err
	}
	if err := sess.SetMapping(mapping, s.now()); err != nil {
		return SessionView{}, err
	}
	return sess.View(), nil
}

// AutoMapSession re-proposes a session's mapping from its columns.
func (s *Service) AutoMapSession(id string) (SessionView, error) {
	sess, err := s.sessions.get(id)
	if err != nil {
		return SessionView{}, err
	}
	if _, err := sess.AutoMap(s.now()); err != nil {
		return SessionView{}, err
	}
	return sess.View(), nil
}

// ValidateSession validates a session under its current mapping.
func (s *Service) ValidateSession(id string) (ValidationReport, error) {
	sess, err := s.sessions.get(id)
	if err != nil {
		return ValidationReport{}, err
	}
	return sess.Validate(s.now())
}

// ExecuteSession commits a session as one import run.
func (s *Service) ExecuteSession(ctx context.Context, id string, policy DuplicatePolicy, allowDespiteErrors bool) (ImportRunRecord, error) {
	sess, err := s.sessions.get(id)
	if err != nil {
		return ImportRunRecord{}, err
	}
	return sess.Execute(ctx, s.executor, policy, allowDespiteErrors, s.now())
}

// DiscardSession drops a session that is not committing.
func (s *Service) DiscardSession(id string) error {
	return s.sessions.remove(id)
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	return s.sessions.count()
}

// SweepSessions removes sessions untouched for longer than the TTL.
func (s *Service) SweepSessions() int {
	return s.sessions.sweep(s.now(), s.sessionTTL)
}

// ===========================================================================
// Run ledger
// ===========================================================================

// ListRuns returns up to limit runs, most recent first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]ImportRunRecord, error) {
	return s.ledger.List(ctx, limit)
}

// QueryRuns returns runs matching filter, most recent first.
func (s *Service) QueryRuns(ctx context.Context, filter RunFilter) ([]ImportRunRecord, error) {
	return s.ledger.Query(ctx, filter)
}

// GetRun returns one run.
func (s *Service) GetRun(ctx context.Context, id string) (ImportRunRecord, error) {
	return s.ledger.Get(ctx, id)
}

// RollbackRun reverses a reversible run.
func (s *Service) RollbackRun(ctx context.Context, id string) (RollbackResult, error) {
	return s.ledger.Rollback(ctx, id)
}

// CountRecords returns how many live records an entity type holds.
func (s *Service) CountRecords(ctx context.Context, entityType string) (int64, error) {
	if _, err := FieldsFor(entityType); err != nil {
		return 0, err
	}
	return s.store.CountRecords(ctx, entityType)
}

// ===========================================================================
// Schedules
// ===========================================================================

// ScheduleImport registers a deferred or recurring import.
func (s *Service) ScheduleImport(ctx context.Context, entityType string, runAt time.Time, recurrence string, opts ScheduleOptions) (ScheduledImportRequest, error) {
	if opts.TemplateID != "" {
		t, err := s.GetTemplate(ctx, opts.TemplateID)
		if err != nil {
			return ScheduledImportRequest{}, err
		}
		if t.EntityType != entityType {
			return ScheduledImportRequest{}, fmt.Errorf("%w: template %s is for %s, not %s", ErrEntityMismatch, t.ID, t.EntityType, entityType)
		}
	}

	req, err := s.schedules.Schedule(entityType, runAt, recurrence, opts, s.now())
	if err != nil {
		return ScheduledImportRequest{}, err
	}
	logging.WithFields(ctx, "schedule_id", req.ID, "entity_type", entityType).
		Info("import scheduled", "next_run_at", req.NextRunAt, "recurrence", req.Recurrence)
	return req, nil
}

// CancelSchedule stops a scheduled import permanently.
func (s *Service) CancelSchedule(id string) (ScheduledImportRequest, error) {
	return s.schedules.Cancel(id)
}

// PauseSchedule suspends a scheduled import.
func (s *Service) PauseSchedule(id string) (ScheduledImportRequest, error) {
	return s.schedules.Pause(id)
}

// ResumeSchedule reactivates a paused import.
func (s *Service) ResumeSchedule(id string) (ScheduledImportRequest, error) {
	return s.schedules.Resume(id, s.now())
}

// GetSchedule returns one scheduled import.
func (s *Service) GetSchedule(id string) (ScheduledImportRequest, error) {
	return s.schedules.Get(id)
}

// ListSchedules returns all scheduled imports.
func (s *Service) ListSchedules() []ScheduledImportRequest {
	return s.schedules.List()
}

// ===========================================================================
// Status
// ===========================================================================

// LimiterStatus reports import slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until no import is committing or ctx ends.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return &ExecutionError{Kind: ExecStoreUnavailable, Err: err}
	}
	return nil
}

// isNoSource reports whether err means a scheduled run had nothing to import.
func isNoSource(err error) bool {
	return errors.Is(err, ErrNoSourceBound)
}
