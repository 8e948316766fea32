package service

import (
	"context"
	"time"

	"dsrengine/internal/dsr/models"
	"dsrengine/internal/workqueue"
	dErrors "dsrengine/pkg/domain-errors"
	"dsrengine/pkg/platform/retry"
	"dsrengine/pkg/requestcontext"
)

// Routes registers the manager's task handlers.
func (s *Service) Routes(r *workqueue.Router) {
	r.Register(workqueue.KindAdvance, s.timed(workqueue.KindAdvance, s.handleAdvance))
	r.Register(workqueue.KindDiscover, s.timed(workqueue.KindDiscover, s.handleDiscover))
	r.Register(workqueue.KindProcess, s.timed(workqueue.KindProcess, s.handleProcess))
}

func (s *Service) timed(kind workqueue.Kind, fn workqueue.HandlerFunc) workqueue.HandlerFunc {
	return func(ctx context.Context, t workqueue.Task) error {
		start := time.Now()
		err := fn(ctx, t)
		if s.metrics != nil {
			s.metrics.TaskLatency.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
		}
		return err
	}
}

func (s *Service) handleAdvance(ctx context.Context, t workqueue.Task) error {
	_, err := s.Advance(ctx, t.RequestID)
	if dErrors.Is(err, dErrors.CodeNotFound) {
		return nil
	}
	return err
}

// handleDiscover builds the manifest and stores it on the request. Tasks for
// requests that moved on, or already hold a manifest, are dropped.
func (s *Service) handleDiscover(ctx context.Context, t workqueue.Task) error {
	r, err := s.load(ctx, t.RequestID)
	if dErrors.Is(err, dErrors.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if r.Status != models.StatusDiscovering || r.Manifest != nil {
		return nil
	}

	manifest, err := s.discoverer.Discover(ctx, r.ID, r.SubjectID)
	if err != nil {
		// A stale dispatch is redispatched by the scheduler.
		return err
	}

	stored := false
	err = retry.Do(ctx, s.conflicts, func(ctx context.Context) error {
		cur, err := s.load(ctx, t.RequestID)
		if err != nil {
			return retry.Permanent(err)
		}
		if cur.Status != models.StatusDiscovering || cur.Manifest != nil {
			return nil
		}
		cur.Manifest = manifest
		cur.UpdatedAt = requestcontext.Now(ctx)
		if err := s.store.Update(ctx, cur); err != nil {
			return err
		}
		stored = true
		return nil
	})
	if err != nil {
		return s.writeError(err, "failed to store manifest")
	}
	if !stored {
		return nil
	}
	s.logger.InfoContext(ctx, "manifest stored",
		"request_id", r.ID.String(),
		"entries", len(manifest.Entries),
		"status", string(manifest.Status),
	)
	_, err = s.Advance(ctx, r.ID)
	return err
}

// handleProcess fulfils a PROCESSING request that does not wait on the
// subject: ERASURE runs the deletion, flag types record their flags.
func (s *Service) handleProcess(ctx context.Context, t workqueue.Task) error {
	r, err := s.load(ctx, t.RequestID)
	if dErrors.Is(err, dErrors.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if r.Status != models.StatusProcessing || r.Manifest == nil {
		return nil
	}

	switch {
	case r.Type == models.TypeErasure:
		_, err := s.runDeletion(ctx, r)
		if dErrors.Is(err, dErrors.CodeConflict) {
			return nil
		}
		return err
	case r.Type.Flags():
		if err := s.recordFlags(ctx, r); err != nil {
			return err
		}
		_, err := s.Advance(ctx, r.ID)
		return err
	}
	return nil
}
