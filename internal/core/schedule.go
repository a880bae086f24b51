package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// ScheduleStatus is the lifecycle state of a scheduled import.
type ScheduleStatus string

const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleActive    ScheduleStatus = "active"
	SchedulePaused    ScheduleStatus = "paused"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// ScheduleOptions controls how a scheduled run commits.
type ScheduleOptions struct {
	Policy             DuplicatePolicy `json:"policy"`
	AllowDespiteErrors bool            `json:"allow_despite_errors"`
	TemplateID         string          `json:"template_id,omitempty"`
}

// ScheduledImportRequest is a deferred or recurring import.
//
// A request is pending until it first fires and active afterwards. A
// one-shot request that has fired keeps status active with no next run.
type ScheduledImportRequest struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	RunAt      *time.Time      `json:"run_at,omitempty"`
	Recurrence string          `json:"recurrence,omitempty"`
	Status     ScheduleStatus  `json:"status"`
	NextRunAt  *time.Time      `json:"next_run_at,omitempty"`
	Options    ScheduleOptions `json:"options"`
	CreatedAt  time.Time       `json:"created_at"`
	LastRunAt  *time.Time      `json:"last_run_at,omitempty"`
	LastRunID  string          `json:"last_run_id,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	RunCount   int             `json:"run_count"`
}

// ScheduleRegistry holds scheduled imports in memory.
type ScheduleRegistry struct {
	mu        sync.Mutex
	requests  map[string]*ScheduledImportRequest
	schedules map[string]cron.Schedule
}

// NewScheduleRegistry creates an empty registry.
func NewScheduleRegistry() *ScheduleRegistry {
	return &ScheduleRegistry{
		requests:  make(map[string]*ScheduledImportRequest),
		schedules: make(map[string]cron.Schedule),
	}
}

// Schedule registers an import for entityType. At least one of runAt and
// recurrence is required. With both, the first run is at runAt and later
// runs follow recurrence. Recurrence is a five-field cron expression or a
// descriptor such as @daily.
func (r *ScheduleRegistry) Schedule(entityType string, runAt time.Time, recurrence string, opts ScheduleOptions, now time.Time) (ScheduledImportRequest, error) {
	if _, ok := Get(entityType); !ok {
		return ScheduledImportRequest{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
	}
	recurrence = strings.TrimSpace(recurrence)
	if runAt.IsZero() && recurrence == "" {
		return ScheduledImportRequest{}, fmt.Errorf("%w: a run time or a recurrence is required", ErrInvalidSchedule)
	}
	if opts.Policy == "" {
		opts.Policy = PolicySkip
	}
	if !opts.Policy.Valid() {
		return ScheduledImportRequest{}, fmt.Errorf("%w: %q", ErrInvalidPolicy, opts.Policy)
	}

	req := &ScheduledImportRequest{
		ID:         uuid.NewString(),
		EntityType: entityType,
		Recurrence: recurrence,
		Status:     SchedulePending,
		Options:    opts,
		CreatedAt:  now,
	}

	var sched cron.Schedule
	if recurrence != "" {
		var err error
		sched, err = cron.ParseStandard(recurrence)
		if err != nil {
			return ScheduledImportRequest{}, fmt.Errorf("%w: recurrence %q: %v", ErrInvalidSchedule, recurrence, err)
		}
	}

	if !runAt.IsZero() {
		at := runAt.UTC()
		req.RunAt = &at
		req.NextRunAt = &at
	} else {
		next := sched.Next(now)
		req.NextRunAt = &next
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ID] = req
	if sched != nil {
		r.schedules[req.ID] = sched
	}
	return *req, nil
}

// Cancel stops a request permanently.
func (r *ScheduleRegistry) Cancel(id string) (ScheduledImportRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return ScheduledImportRequest{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	req.Status = ScheduleCancelled
	req.NextRunAt = nil
	return *req, nil
}

// Pause suspends a pending or active request.
func (r *ScheduleRegistry) Pause(id string) (ScheduledImportRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return ScheduledImportRequest{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	switch req.Status {
	case SchedulePending, ScheduleActive:
		req.Status = SchedulePaused
	case SchedulePaused:
	default:
		return *req, fmt.Errorf("%w: %s is %s", ErrScheduleState, id, req.Status)
	}
	return *req, nil
}

// Resume reactivates a paused request. A recurring request whose next
// run passed while paused is moved to its next future slot.
func (r *ScheduleRegistry) Resume(id string, now time.Time) (ScheduledImportRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return ScheduledImportRequest{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	if req.Status != SchedulePaused {
		return *req, fmt.Errorf("%w: %s is %s", ErrScheduleState, id, req.Status)
	}

	if req.RunCount > 0 {
		req.Status = ScheduleActive
	} else {
		req.Status = SchedulePending
	}
	if sched, ok := r.schedules[id]; ok && req.NextRunAt != nil && req.NextRunAt.Before(now) {
		next := sched.Next(now)
		req.NextRunAt = &next
	}
	return *req, nil
}

// DueNow returns the requests whose next run is at or before now,
// earliest first.
func (r *ScheduleRegistry) DueNow(now time.Time) []ScheduledImportRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []ScheduledImportRequest
	for _, req := range r.requests {
		if req.Status != SchedulePending && req.Status != ScheduleActive {
			continue
		}
		if req.NextRunAt == nil || req.NextRunAt.After(now) {
			continue
		}
		due = append(due, *req)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(*due[j].NextRunAt)
	})
	return due
}

// MarkFired records that a request was dispatched at firedAt and
// advances its next run.
func (r *ScheduleRegistry) MarkFired(id string, firedAt time.Time) (ScheduledImportRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return ScheduledImportRequest{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}

	at := firedAt
	req.LastRunAt = &at
	req.RunCount++
	req.Status = ScheduleActive

	if sched, ok := r.schedules[id]; ok {
		next := sched.Next(firedAt)
		req.NextRunAt = &next
	} else {
		req.NextRunAt = nil
	}
	return *req, nil
}

// RecordOutcome stores the result of the latest dispatched run.
func (r *ScheduleRegistry) RecordOutcome(id, runID string, runErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return
	}
	req.LastRunID = runID
	req.LastError = ""
	if runErr != nil {
		req.LastError = runErr.Error()
	}
}

// Get returns one request.
func (r *ScheduleRegistry) Get(id string) (ScheduledImportRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return ScheduledImportRequest{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return *req, nil
}

// List returns all requests, oldest first.
func (r *ScheduleRegistry) List() []ScheduledImportRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ScheduledImportRequest, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
