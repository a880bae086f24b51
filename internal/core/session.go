package core

// session.go holds the per-upload state between parsing and commit.
//
// A session moves through:
//
//	Idle -> Validating -> ReadyToCommit -> Committing -> Completed | Failed
//
// Changing the mapping sends a validated session back to Idle. Stages of
// one session never overlap: a session that is validating or committing
// rejects other stage calls with ErrSessionBusy, and a finished session
// rejects everything with ErrSessionClosed.

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle position of an import session.
type SessionState string

const (
	StateIdle          SessionState = "idle"
	StateValidating    SessionState = "validating"
	StateReadyToCommit SessionState = "ready_to_commit"
	StateCommitting    SessionState = "committing"
	StateCompleted     SessionState = "completed"
	StateFailed        SessionState = "failed"
)

// PreviewRowCount is how many rows a session snapshot carries.
const PreviewRowCount = 10

// Session is one operator import in progress.
type Session struct {
	mu sync.Mutex

	id         string
	entityType string
	filename   string
	table      *SourceTable
	fields     []FieldDefinition

	mapping   FieldMapping
	state     SessionState
	report    *ValidationReport
	run       *ImportRunRecord
	createdAt time.Time
	updatedAt time.Time
}

// SessionView is a read-only snapshot of a session.
type SessionView struct {
	ID         string            `json:"id"`
	EntityType string            `json:"entity_type"`
	Filename   string            `json:"filename"`
	State      SessionState      `json:"state"`
	Columns    []string          `json:"columns"`
	RowCount   int               `json:"row_count"`
	Encoding   string            `json:"encoding"`
	Preview    []SourceRow       `json:"preview"`
	Fields     []FieldDefinition `json:"fields"`
	Mapping    FieldMapping      `json:"mapping"`
	Report     *ValidationReport `json:"report,omitempty"`
	Run        *ImportRunRecord  `json:"run,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func newSession(entityType, filename string, table *SourceTable, fields []FieldDefinition, at time.Time) *Session {
	return &Session{
		id:         uuid.NewString(),
		entityType: entityType,
		filename:   filename,
		table:      table,
		fields:     fields,
		mapping:    AutoMap(table.Columns, fields),
		state:      StateIdle,
		createdAt:  at,
		updatedAt:  at,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// View returns a snapshot of the session.
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	preview := s.table.Rows
	if len(preview) > PreviewRowCount {
		preview = preview[:PreviewRowCount]
	}

	v := SessionView{
		ID:         s.id,
		EntityType: s.entityType,
		Filename:   s.filename,
		State:      s.state,
		Columns:    s.table.Columns,
		RowCount:   len(s.table.Rows),
		Encoding:   s.table.Encoding,
		Preview:    preview,
		Fields:     s.fields,
		Mapping:    s.mapping,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
	if s.report != nil {
		r := *s.report
		v.Report = &r
	}
	if s.run != nil {
		r := *s.run
		v.Run = &r
	}
	return v
}

// SetMapping replaces the mapping wholesale.
func (s *Session) SetMapping(m FieldMapping, at time.Time) error {
	if err := m.Check(s.fields, s.table); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.editableLocked(); err != nil {
		return err
	}
	s.mapping = m
	s.report = nil
	s.state = StateIdle
	s.updatedAt = at
	return nil
}

// AutoMap replaces the mapping with a fresh automatic proposal.
func (s *Session) AutoMap(at time.Time) (FieldMapping, error) {
	m := AutoMap(s.table.Columns, s.fields)
	if err := s.SetMapping(m, at); err != nil {
		return FieldMapping{}, err
	}
	return m, nil
}

// Validate runs validation under the current mapping.
func (s *Session) Validate(at time.Time) (ValidationReport, error) {
	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		s.mu.Unlock()
		return ValidationReport{}, err
	}
	s.state = StateValidating
	mapping := s.mapping
	s.mu.Unlock()

	report := Validate(s.table, mapping, s.fields)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = &report
	s.state = StateReadyToCommit
	s.updatedAt = at
	return report, nil
}

// Execute validates if needed and commits the session through ex.
func (s *Session) Execute(ctx context.Context, ex *Executor, policy DuplicatePolicy, allowDespiteErrors bool, at time.Time) (ImportRunRecord, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateIdle {
		if _, err := s.Validate(at); err != nil {
			return ImportRunRecord{}, err
		}
	}

	s.mu.Lock()
	if s.state != StateReadyToCommit {
		err := s.editableLocked()
		if err == nil {
			err = ErrSessionBusy
		}
		s.mu.Unlock()
		return ImportRunRecord{}, err
	}
	if s.report != nil && s.report.Blocking() && !allowDespiteErrors {
		s.mu.Unlock()
		return ImportRunRecord{}, &ExecutionError{Kind: ExecValidationBlocked, Detail: "review validation issues or override"}
	}
	s.state = StateCommitting
	req := ExecuteRequest{
		EntityType:         s.entityType,
		SourceFilename:     s.filename,
		Table:              s.table,
		Mapping:            s.mapping,
		Policy:             policy,
		AllowDespiteErrors: allowDespiteErrors,
		TriggeredBy:        ActorFromContext(ctx).Label(),
	}
	s.mu.Unlock()

	run, err := ex.Execute(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedAt = at

	switch {
	case err == nil:
		s.state = StateCompleted
		s.run = &run
	case run.ID != "":
		s.state = StateFailed
		s.run = &run
	default:
		// The run never started: busy limiter, cancelled wait, bad policy.
		s.state = StateReadyToCommit
	}
	return run, err
}

// expired reports whether the session is idle past ttl.
func (s *Session) expired(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCommitting || s.state == StateValidating {
		return false
	}
	return now.Sub(s.updatedAt) > ttl
}

func (s *Session) editableLocked() error {
	switch s.state {
	case StateValidating, StateCommitting:
		return ErrSessionBusy
	case StateCompleted, StateFailed:
		return ErrSessionClosed
	}
	return nil
}

// sessionStore keeps live sessions by ID.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*Session)}
}

func (st *sessionStore) put(s *Session) {
	st.mu.Lock()
	st.sessions[s.id] = s
	st.mu.Unlock()
}

func (st *sessionStore) get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (st *sessionStore) remove(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	busy := s.state == StateCommitting
	s.mu.Unlock()
	if busy {
		return ErrSessionBusy
	}
	delete(st.sessions, id)
	return nil
}

// sweep drops expired sessions and returns how many were removed.
func (st *sessionStore) sweep(now time.Time, ttl time.Duration) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for id, s := range st.sessions {
		if s.expired(now, ttl) {
			delete(st.sessions, id)
			n++
		}
	}
	return n
}

func (st *sessionStore) count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
