// Package service builds data manifests by querying every registered storage
// module for a subject's items.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"dsrengine/internal/collaborator"
	"dsrengine/internal/discovery/metrics"
	"dsrengine/internal/discovery/models"
	"dsrengine/pkg/domain"
	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/platform/circuit"
	"dsrengine/pkg/platform/retry"
	"dsrengine/pkg/requestcontext"
)

var tracer = otel.Tracer("dsrengine/discovery")

// Sources lists the storage modules to query. The collaborator registry
// implements it.
type Sources interface {
	Sources() []collaborator.Discoverable
}

type Service struct {
	sources     Sources
	classifier  collaborator.PIIClassifier
	auditor     audit.Recorder
	logger      *slog.Logger
	metrics     *metrics.Metrics
	policy      retry.Policy
	concurrency int
	threshold   float64

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithConcurrency bounds how many modules are queried at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithPriorityConfidence sets the classifier confidence at which an item is
// flagged for priority inclusion.
func WithPriorityConfidence(c float64) Option {
	return func(s *Service) { s.threshold = c }
}

func New(sources Sources, classifier collaborator.PIIClassifier, auditor audit.Recorder, opts ...Option) (*Service, error) {
	if sources == nil {
		return nil, errors.New("storage sources are required")
	}
	if classifier == nil {
		return nil, errors.New("PII classifier is required")
	}
	if auditor == nil {
		return nil, errors.New("audit recorder is required")
	}
	s := &Service{
		sources:     sources,
		classifier:  classifier,
		auditor:     auditor,
		logger:      slog.Default(),
		policy:      retry.Policy{Attempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second},
		concurrency: 8,
		threshold:   0.9,
		breakers:    make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type moduleResult struct {
	entries []models.Entry
	err     error
}

// Discover queries every module in parallel and merges the results. A module
// that still fails after retries marks the manifest INCOMPLETE instead of
// failing the call; only context cancellation is returned as an error.
func (s *Service) Discover(ctx context.Context, requestID domain.RequestID, subject domain.SubjectID) (*models.Manifest, error) {
	ctx, span := tracer.Start(ctx, "discovery.Discover")
	defer span.End()
	start := time.Now()

	sources := s.sources.Sources()
	results := make([]moduleResult, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, src := range sources {
		g.Go(func() error {
			entries, err := s.queryModule(gctx, src, subject)
			results[i] = moduleResult{entries: entries, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	manifest := &models.Manifest{
		SubjectID: subject,
		Status:    models.ManifestComplete,
		CreatedAt: requestcontext.Now(ctx),
	}
	seen := make(map[string]struct{})
	for i, res := range results {
		if res.err != nil {
			manifest.Status = models.ManifestIncomplete
			manifest.FailedModules = append(manifest.FailedModules, sources[i].Name())
			if s.metrics != nil {
				s.metrics.ModuleFailures.WithLabelValues(sources[i].Name()).Inc()
			}
			s.logger.WarnContext(ctx, "storage module query failed",
				"module", sources[i].Name(),
				"request_id", requestID.String(),
				"error", res.err,
			)
			continue
		}
		for _, e := range res.entries {
			key := e.Item().Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			manifest.Entries = append(manifest.Entries, e)
		}
	}
	models.SortEntries(manifest.Entries)

	span.SetAttributes(
		attribute.Int("dsr.manifest.items", len(manifest.Entries)),
		attribute.String("dsr.manifest.status", string(manifest.Status)),
	)
	if s.metrics != nil {
		s.metrics.Duration.Observe(time.Since(start).Seconds())
		s.metrics.ItemsDiscovered.Add(float64(len(manifest.Entries)))
		s.metrics.Manifests.WithLabelValues(string(manifest.Status)).Inc()
	}

	action := audit.EventDiscoveryCompleted
	if !manifest.IsComplete() {
		action = audit.EventDiscoveryIncomplete
	}
	s.auditor.RecordAsync(ctx, audit.Entry{
		Action:    action,
		RequestID: requestID.String(),
		Payload: map[string]any{
			"items":          len(manifest.Entries),
			"priority_items": manifest.PriorityCount(),
			"failed_modules": manifest.FailedModules,
		},
	})
	return manifest, nil
}

// queryModule runs one module's query behind its circuit breaker, then
// classifies each item's content.
func (s *Service) queryModule(ctx context.Context, src collaborator.Discoverable, subject domain.SubjectID) ([]models.Entry, error) {
	breaker := s.breaker(src.Name())
	if !breaker.Allow(time.Now()) {
		return nil, errors.New("circuit open")
	}

	var items []collaborator.Item
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		var err error
		items, err = src.FindBySubject(ctx, subject)
		return err
	})
	if err != nil {
		if _, change := breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "storage module circuit opened", "module", src.Name())
		}
		return nil, err
	}
	if _, change := breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "storage module circuit closed", "module", src.Name())
	}

	entries := make([]models.Entry, 0, len(items))
	for _, item := range items {
		entry := models.Entry{Module: src.Name(), ItemID: item.ItemID, Kind: item.Kind}
		entry.Priority, entry.PIIKinds = s.classify(ctx, src, item.ItemID)
		entries = append(entries, entry)
	}
	return entries, nil
}

// classify flags an item when any span meets the confidence threshold.
// Classification only orders the manifest, so failures are logged and ignored.
func (s *Service) classify(ctx context.Context, src collaborator.Discoverable, itemID string) (bool, []string) {
	content, err := src.Read(ctx, itemID)
	if err != nil {
		s.logger.DebugContext(ctx, "item content unavailable for classification", "module", src.Name(), "error", err)
		return false, nil
	}
	spans, err := s.classifier.Classify(ctx, content)
	if err != nil {
		s.logger.DebugContext(ctx, "classification failed", "module", src.Name(), "error", err)
		return false, nil
	}
	var kinds []string
	seen := make(map[string]bool)
	for _, sp := range spans {
		if sp.Confidence >= s.threshold && !seen[sp.Kind] {
			seen[sp.Kind] = true
			kinds = append(kinds, sp.Kind)
		}
	}
	return len(kinds) > 0, kinds
}

func (s *Service) breaker(module string) *circuit.Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[module]
	if !ok {
		b = circuit.New(module, circuit.WithFailureThreshold(3), circuit.WithCooldown(30*time.Second))
		s.breakers[module] = b
	}
	return b
}
