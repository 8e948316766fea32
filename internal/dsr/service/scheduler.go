package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dsrengine/pkg/domain"
	dErrors "dsrengine/pkg/domain-errors"
)

// Scheduler drives requests forward without outside input: it recovers
// in-flight requests at start-up and, on every tick, sweeps deadlines,
// advances open requests and destroys expired exports.
type Scheduler struct {
	manager *Service
	tick    time.Duration
	logger  *slog.Logger
}

type SchedulerOption func(*Scheduler)

func WithTick(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tick = d }
}

func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

func NewScheduler(manager *Service, opts ...SchedulerOption) (*Scheduler, error) {
	if manager == nil {
		return nil, errors.New("manager is required")
	}
	s := &Scheduler{manager: manager, tick: 30 * time.Second, logger: manager.logger}
	for _, opt := range opts {
		opt(s)
	}
	if s.tick <= 0 {
		return nil, errors.New("scheduler tick must be positive")
	}
	return s, nil
}

// Recover re-derives every open request from the store: deadlines are
// re-registered and each request is advanced once.
func (s *Scheduler) Recover(ctx context.Context) error {
	m := s.manager
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list open requests")
	}
	var errs []error
	for _, r := range open {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.timeline.Register(ctx, r.ID, r.CreatedAt, r.Deadline); err != nil {
			errs = append(errs, err)
		}
		if _, err := m.Advance(ctx, r.ID); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.InfoContext(ctx, "recovered open requests", "count", len(open), "errors", len(errs))
	return errors.Join(errs...)
}

// Tick runs one scheduler pass. Errors are collected, never stop the pass.
func (s *Scheduler) Tick(ctx context.Context) error {
	m := s.manager
	var errs []error

	sweep, err := m.timeline.Sweep(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return errors.Join(append(errs, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list open requests"))...)
	}
	if m.metrics != nil {
		m.metrics.Open.Set(float64(len(open)))
	}
	seen := make(map[domain.RequestID]bool, len(open))
	for _, r := range open {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen[r.ID] = true
		if _, err := m.Advance(ctx, r.ID); err != nil {
			errs = append(errs, err)
		}
	}
	// Overdue timelines of closed requests were left open by an interrupted close.
	for _, id := range sweep.Overdue {
		if seen[id] {
			continue
		}
		if err := m.timeline.Close(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	swept, err := m.exporter.SweepExpired(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	if swept > 0 || sweep.Warned > 0 {
		s.logger.InfoContext(ctx, "scheduler pass",
			"open", len(open),
			"warned", sweep.Warned,
			"overdue", len(sweep.Overdue),
			"exports_expired", swept,
		)
	}
	return errors.Join(errs...)
}

// Run recovers, then ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Recover(ctx); err != nil {
		s.logger.ErrorContext(ctx, "recovery incomplete", "error", err)
	}
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.ErrorContext(ctx, "scheduler pass failed", "error", err)
			}
		}
	}
}
