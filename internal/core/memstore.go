package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// errStoreClosed is returned by a MemoryStore marked unavailable.
var errStoreClosed = errors.New("memory store: connection refused")

// MemoryStore is a process-local Store. It backs STORE_DRIVER=memory and
// the engine tests. Transactions buffer their writes and apply them on
// Commit under a single lock.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]Record
	runs      map[string]ImportRunRecord
	runOrder  []string
	templates map[string]MappingTemplate

	unavailable bool
	deleteHook  func(Record) error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]Record),
		runs:      make(map[string]ImportRunRecord),
		templates: make(map[string]MappingTemplate),
	}
}

// SetUnavailable makes every call fail as if the store were unreachable.
func (s *MemoryStore) SetUnavailable(v bool) {
	s.mu.Lock()
	s.unavailable = v
	s.mu.Unlock()
}

// SetDeleteHook installs a function consulted before each record delete
// during rollback. A non-nil error aborts the rollback.
func (s *MemoryStore) SetDeleteHook(fn func(Record) error) {
	s.mu.Lock()
	s.deleteHook = fn
	s.mu.Unlock()
}

// Records returns the committed records of an entity type, sorted by ID.
func (s *MemoryStore) Records(entityType string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if r.EntityType == entityType {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return errStoreClosed
	}
	return ctx.Err()
}

func (s *MemoryStore) Begin(ctx context.Context) (StoreTx, error) {
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	return &memTx{
		store:   s,
		pending: make(map[string]Record),
	}, nil
}

func (s *MemoryStore) AppendRun(ctx context.Context, run ImportRunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return errStoreClosed
	}
	s.appendRunLocked(run)
	return nil
}

func (s *MemoryStore) appendRunLocked(run ImportRunRecord) {
	if _, exists := s.runs[run.ID]; !exists {
		s.runOrder = append(s.runOrder, run.ID)
	}
	s.runs[run.ID] = run
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (ImportRunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return ImportRunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]ImportRunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return nil, errStoreClosed
	}

	// Walk newest-appended first so equal timestamps keep append order reversed.
	out := make([]ImportRunRecord, 0, len(s.runOrder))
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		run := s.runs[s.runOrder[i]]
		if matchesFilter(run, filter) {
			out = append(out, run)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	return pageRuns(out, filter.Offset, filter.Limit), nil
}

func (s *MemoryStore) RollbackRun(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return 0, errStoreClosed
	}

	run, ok := s.runs[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if run.Status == RunRolledBack {
		return 0, &RollbackError{Kind: RollbackAlreadyRolledBack, RunID: id}
	}
	if !run.Reversible {
		return 0, &RollbackError{Kind: RollbackNotReversible, RunID: id}
	}

	var doomed []string
	for recID, rec := range s.records {
		if rec.RunID != id {
			continue
		}
		if s.deleteHook != nil {
			if err := s.deleteHook(rec); err != nil {
				return 0, fmt.Errorf("delete record %s: %w", recID, err)
			}
		}
		doomed = append(doomed, recID)
	}

	for _, recID := range doomed {
		delete(s.records, recID)
	}
	run.Status = RunRolledBack
	run.Reversible = false
	s.runs[id] = run

	return int64(len(doomed)), nil
}

func (s *MemoryStore) CountRecords(ctx context.Context, entityType string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.records {
		if r.EntityType == entityType {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SaveTemplate(ctx context.Context, t MappingTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.templates {
		if id != t.ID && existing.EntityType == t.EntityType && strings.EqualFold(existing.Name, t.Name) {
			return fmt.Errorf("%w: %s", ErrTemplateExists, t.Name)
		}
	}
	s.templates[t.ID] = copyTemplate(t)
	return nil
}

func (s *MemoryStore) GetTemplate(ctx context.Context, id string) (MappingTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return MappingTemplate{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return copyTemplate(t), nil
}

func (s *MemoryStore) ListTemplates(ctx context.Context, entityType string) ([]MappingTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []MappingTemplate{}
	for _, t := range s.templates {
		if t.EntityType == entityType {
			out = append(out, copyTemplate(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) DeleteTemplate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[id]; !ok {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	delete(s.templates, id)
	return nil
}

// referenceExistsLocked reports whether a committed or pending record of
// the target entity carries value in the target field.
func (s *MemoryStore) referenceExistsLocked(ref RecordReference, pending map[string]Record) bool {
	want := NormalizeValue(ref.Value)
	match := func(r Record) bool {
		return r.EntityType == ref.Target.EntityType && NormalizeValue(r.Values[ref.Target.FieldKey]) == want
	}
	for _, r := range pending {
		if match(r) {
			return true
		}
	}
	for _, r := range s.records {
		if match(r) {
			return true
		}
	}
	return false
}

type memTx struct {
	store   *MemoryStore
	pending map[string]Record
	order   []string
	runs    []ImportRunRecord
	done    bool
}

func (tx *memTx) InsertRecord(ctx context.Context, rec Record) error {
	if tx.done {
		return errors.New("memory store: transaction closed")
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	if _, exists := tx.store.records[rec.ID]; exists {
		return fmt.Errorf("duplicate key: record %s", rec.ID)
	}
	if _, exists := tx.pending[rec.ID]; exists {
		return fmt.Errorf("duplicate key: record %s", rec.ID)
	}
	for _, ref := range rec.References {
		if !tx.store.referenceExistsLocked(ref, tx.pending) {
			return fmt.Errorf("%w: %s=%q in %s", ErrReferenceNotFound, ref.FieldKey, ref.Value, ref.Target.EntityType)
		}
	}

	tx.pending[rec.ID] = copyRecord(rec)
	tx.order = append(tx.order, rec.ID)
	return nil
}

func (tx *memTx) UpdateRecord(ctx context.Context, rec Record) error {
	if tx.done {
		return errors.New("memory store: transaction closed")
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	existing, ok := tx.pending[rec.ID]
	if !ok {
		if existing, ok = tx.store.records[rec.ID]; !ok {
			return fmt.Errorf("update record %s: not found", rec.ID)
		}
		tx.order = append(tx.order, rec.ID)
	}
	for _, ref := range rec.References {
		if !tx.store.referenceExistsLocked(ref, tx.pending) {
			return fmt.Errorf("%w: %s=%q in %s", ErrReferenceNotFound, ref.FieldKey, ref.Value, ref.Target.EntityType)
		}
	}

	existing.Values = copyValues(rec.Values)
	tx.pending[rec.ID] = existing
	return nil
}

func (tx *memTx) AppendRun(ctx context.Context, run ImportRunRecord) error {
	if tx.done {
		return errors.New("memory store: transaction closed")
	}
	tx.runs = append(tx.runs, run)
	return nil
}

func (tx *memTx) Commit(ctx context.Context) error {
	if tx.done {
		return errors.New("memory store: transaction closed")
	}
	tx.done = true

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.store.unavailable {
		return errStoreClosed
	}

	for _, id := range tx.order {
		tx.store.records[id] = tx.pending[id]
	}
	for _, run := range tx.runs {
		tx.store.appendRunLocked(run)
	}
	return nil
}

func (tx *memTx) Rollback(ctx context.Context) error {
	tx.done = true
	return nil
}

func matchesFilter(run ImportRunRecord, f RunFilter) bool {
	if f.EntityType != "" && run.EntityType != f.EntityType {
		return false
	}
	if !f.From.IsZero() && run.StartedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && run.StartedAt.After(f.To) {
		return false
	}
	return true
}

func pageRuns(runs []ImportRunRecord, offset, limit int) []ImportRunRecord {
	if offset > 0 {
		if offset >= len(runs) {
			return []ImportRunRecord{}
		}
		runs = runs[offset:]
	}
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs
}

func copyValues(v map[string]string) map[string]string {
	out := make(map[string]string, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

func copyRecord(r Record) Record {
	r.Values = copyValues(r.Values)
	r.References = nil
	return r
}

func copyTemplate(t MappingTemplate) MappingTemplate {
	t.Mapping = copyValues(t.Mapping)
	t.SourceColumns = append([]string(nil), t.SourceColumns...)
	return t
}
