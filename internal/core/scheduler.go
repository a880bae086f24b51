package core

// scheduler.go drives the background jobs of the engine:
//  1. The schedule runner polls for due scheduled imports and runs each
//     through the normal pipeline with a file from the SourceBinder
//  2. The session janitor drops sessions nobody touched within the TTL
//
// Both loops are context-aware for graceful shutdown. A failing job is
// logged and never stops its loop.

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/importer/internal/logging"
)

// StartScheduleRunner polls for due scheduled imports every interval
// until ctx is cancelled. It checks once immediately on start.
func (s *Service) StartScheduleRunner(ctx context.Context, interval time.Duration) {
	slog.Info("schedule runner started", "interval", interval)

	s.RunDueSchedules(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("schedule runner stopped")
			return
		case <-ticker.C:
			s.RunDueSchedules(ctx)
		}
	}
}

// RunDueSchedules runs every request due now, earliest first, and
// returns how many were dispatched.
func (s *Service) RunDueSchedules(ctx context.Context) int {
	due := s.schedules.DueNow(s.now())
	for _, req := range due {
		if ctx.Err() != nil {
			return 0
		}
		if _, err := s.schedules.MarkFired(req.ID, s.now()); err != nil {
			slog.Warn("scheduled import vanished before firing", "schedule_id", req.ID, "error", err)
			continue
		}
		run, err := s.runScheduled(ctx, req)
		s.schedules.RecordOutcome(req.ID, run.ID, err)
	}
	return len(due)
}

// runScheduled executes one fired request. A request with no file to
// import still leaves a failed run in the ledger.
func (s *Service) runScheduled(ctx context.Context, req ScheduledImportRequest) (ImportRunRecord, error) {
	logger := logging.WithFields(ctx, "schedule_id", req.ID, "entity_type", req.EntityType)
	start := time.Now()
	triggeredBy := "schedule:" + req.ID

	if s.binder == nil {
		err := &ExecutionError{Kind: ExecNoSourceBound, Detail: "no source binder configured"}
		return s.recordUnbound(ctx, logger, req, triggeredBy, "", err)
	}

	src, err := s.binder.Bind(ctx, req)
	if err != nil {
		if isNoSource(err) || errors.Is(err, ErrTooLarge) {
			return s.recordUnbound(ctx, logger, req, triggeredBy, src.Filename, err)
		}
		logger.Error("scheduled import could not bind a source", "error", err)
		return ImportRunRecord{}, err
	}

	table, err := s.parser.Parse(ctx, src.Data, src.MIMEType)
	if err != nil {
		return s.recordUnbound(ctx, logger, req, triggeredBy, src.Filename, err)
	}

	fields, err := FieldsFor(req.EntityType)
	if err != nil {
		return ImportRunRecord{}, err
	}
	mapping := AutoMap(table.Columns, fields)
	if req.Options.TemplateID != "" {
		t, err := s.store.GetTemplate(ctx, req.Options.TemplateID)
		if err != nil {
			logger.Warn("schedule template unavailable, using automatic mapping", "error", err)
		} else {
			mapping = templateMapping(t, table)
		}
	}

	run, err := s.executor.Execute(ctx, ExecuteRequest{
		EntityType:         req.EntityType,
		SourceFilename:     src.Filename,
		Table:              table,
		Mapping:            mapping,
		Policy:             req.Options.Policy,
		AllowDespiteErrors: req.Options.AllowDespiteErrors,
		TriggeredBy:        triggeredBy,
	})
	if err != nil {
		if run.ID == "" {
			// Refused before start: record it so the schedule leaves a trace.
			return s.recordUnbound(ctx, logger, req, triggeredBy, src.Filename, err)
		}
		logger.Error("scheduled import failed", "run_id", run.ID, "error", err)
		return run, err
	}

	logger.Info("scheduled import completed",
		"run_id", run.ID,
		"imported", run.ImportedCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return run, nil
}

// recordUnbound appends a failed run for a scheduled import that never
// reached the store.
func (s *Service) recordUnbound(ctx context.Context, logger *slog.Logger, req ScheduledImportRequest,
	triggeredBy, filename string, cause error) (ImportRunRecord, error) {

	run := ImportRunRecord{
		ID:             uuid.NewString(),
		EntityType:     req.EntityType,
		SourceFilename: filename,
		StartedAt:      s.now(),
		Status:         RunFailed,
		TriggeredBy:    triggeredBy,
		Error:          cause.Error(),
	}
	if err := s.ledger.Append(ctx, run); err != nil {
		logger.Warn("could not record failed scheduled run", "error", err)
	}
	logger.Warn("scheduled import did not run", "run_id", run.ID, "error", cause)
	return run, cause
}

// StartSessionJanitor removes expired sessions every interval until ctx
// is cancelled.
func (s *Service) StartSessionJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepSessions(); n > 0 {
				slog.Debug("expired import sessions removed", "count", n, "remaining", s.SessionCount())
			}
		}
	}
}
