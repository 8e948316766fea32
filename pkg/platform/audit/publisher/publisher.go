// Package publisher appends events to the hash-chained audit log.
//
// A single writer goroutine owns the chain head. Callers hand it entries through
// a queue; whatever has accumulated while the previous append was in flight is
// written as one batch (group commit). Record blocks until its batch is durable,
// which deletion and certificate issuance rely on. RecordAsync only waits for
// queue space.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dErrors "dsrengine/pkg/domain-errors"
	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/platform/sentinel"
	"dsrengine/pkg/requestcontext"
)

const (
	defaultBatchSize = 64
	defaultBuffer    = 1024
	maxHeadConflicts = 5
	persistTimeout   = 10 * time.Second
)

var ErrClosed = errors.New("audit publisher closed")

type result struct {
	event audit.Event
	err   error
}

type pending struct {
	event  audit.Event
	result chan result // nil for async entries
}

// Publisher implements audit.Recorder.
type Publisher struct {
	store     audit.Store
	redactor  *audit.Redactor
	logger    *slog.Logger
	metrics   *Metrics
	batchSize int
	buffer    int

	mu     sync.RWMutex
	closed bool
	queue  chan *pending
	done   chan struct{}

	// Owned by the writer goroutine.
	head      audit.Head
	headKnown bool
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithRedactor replaces the default redaction rules.
func WithRedactor(r *audit.Redactor) Option {
	return func(p *Publisher) {
		if r != nil {
			p.redactor = r
		}
	}
}

// WithBatchSize caps how many events go into one append.
func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithAsyncBuffer sets the queue capacity shared by both record paths.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.buffer = n
		}
	}
}

// NewPublisher starts the writer goroutine. Close must be called to drain it.
func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:     store,
		redactor:  audit.NewRedactor(nil),
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
		buffer:    defaultBuffer,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan *pending, p.buffer)
	go p.run()
	return p
}

// Record appends an entry and returns once it is durable.
func (p *Publisher) Record(ctx context.Context, entry audit.Entry) (audit.Event, error) {
	event, err := p.prepare(ctx, entry)
	if err != nil {
		return audit.Event{}, err
	}
	item := &pending{event: event, result: make(chan result, 1)}
	if err := p.enqueue(ctx, item); err != nil {
		return audit.Event{}, err
	}
	select {
	case r := <-item.result:
		if r.err != nil {
			return audit.Event{}, dErrors.Wrap(r.err, dErrors.CodeInternal, "audit persistence failed")
		}
		return r.event, nil
	case <-ctx.Done():
		return audit.Event{}, ctx.Err()
	}
}

// RecordAsync queues an entry without waiting for persistence.
// It still blocks while the queue is full so entries are not dropped.
func (p *Publisher) RecordAsync(ctx context.Context, entry audit.Entry) {
	event, err := p.prepare(ctx, entry)
	if err != nil {
		p.logger.ErrorContext(ctx, "audit entry rejected", "action", entry.Action, "error", err)
		return
	}
	if err := p.enqueue(ctx, &pending{event: event}); err != nil {
		p.logger.ErrorContext(ctx, "CRITICAL: audit entry not queued",
			"action", entry.Action,
			"request_id", entry.RequestID,
			"error", err,
		)
	}
}

func (p *Publisher) prepare(ctx context.Context, entry audit.Entry) (audit.Event, error) {
	if entry.Action == "" {
		return audit.Event{}, dErrors.New(dErrors.CodeBadRequest, "audit entry requires an action")
	}
	payload, err := audit.CanonicalPayload(p.redactor.Redact(entry.Payload))
	if err != nil {
		return audit.Event{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "audit payload is not serializable")
	}
	actor := entry.Actor
	if actor == "" {
		actor = requestcontext.Actor(ctx)
	}
	category := entry.Category
	if category == "" {
		category = entry.Action.Category()
	}
	severity := entry.Severity
	if severity == "" {
		severity = audit.SeverityInfo
	}
	return audit.Event{
		Timestamp: audit.NormalizeTime(requestcontext.Now(ctx)),
		Actor:     actor,
		Action:    string(entry.Action),
		Category:  category,
		Severity:  severity,
		RequestID: entry.RequestID,
		Payload:   payload,
	}, nil
}

func (p *Publisher) enqueue(ctx context.Context, item *pending) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	// A done context only gives up the wait for a full queue.
	select {
	case p.queue <- item:
		return nil
	default:
	}
	select {
	case p.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting entries and waits for queued ones to be written.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
	return nil
}

func (p *Publisher) run() {
	defer close(p.done)
	for first := range p.queue {
		batch := []*pending{first}
	drain:
		for len(batch) < p.batchSize {
			select {
			case next, ok := <-p.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		p.flush(batch)
	}
}

func (p *Publisher) flush(batch []*pending) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	start := time.Now()
	var err error
	for range maxHeadConflicts {
		if !p.headKnown {
			if p.head, err = p.store.Head(ctx); err != nil {
				break
			}
			p.headKnown = true
		}
		var events []audit.Event
		events, err = link(p.head, batch)
		if err != nil {
			break
		}
		err = p.store.AppendBatch(ctx, p.head, events)
		if err == nil {
			last := events[len(events)-1]
			p.head = audit.Head{Seq: last.Seq, Hash: last.Hash}
			p.metrics.observeBatch(len(batch), time.Since(start).Seconds())
			for i, item := range batch {
				p.metrics.incRecorded(string(events[i].Category))
				if item.result != nil {
					item.result <- result{event: events[i]}
				}
			}
			return
		}
		p.headKnown = false
		if !errors.Is(err, sentinel.ErrConflict) {
			break
		}
		p.metrics.incHeadConflicts()
	}

	p.metrics.incPersistFailures()
	p.logger.Error("CRITICAL: audit chain append failed", "batch", len(batch), "error", err)
	for _, item := range batch {
		if item.result != nil {
			item.result <- result{err: err}
		} else {
			p.logger.Error("CRITICAL: async audit event lost",
				"action", item.event.Action,
				"request_id", item.event.RequestID,
			)
		}
	}
}

// link assigns sequence numbers and hashes after head.
func link(head audit.Head, batch []*pending) ([]audit.Event, error) {
	events := make([]audit.Event, len(batch))
	prev := head
	for i, item := range batch {
		e := item.event
		e.Seq = prev.Seq + 1
		e.PrevHash = prev.Hash
		h, err := audit.ComputeHash(e)
		if err != nil {
			return nil, err
		}
		e.Hash = h
		events[i] = e
		prev = audit.Head{Seq: e.Seq, Hash: e.Hash}
	}
	return events, nil
}

// Head returns the current tail of the stored chain.
func (p *Publisher) Head(ctx context.Context) (audit.Head, error) {
	return p.store.Head(ctx)
}

// VerifyChain recomputes hashes for [from, to] from storage and checks the links,
// including the link to event from-1.
func (p *Publisher) VerifyChain(ctx context.Context, from, to uint64) (audit.Verification, error) {
	if from == 0 || to < from {
		return audit.Verification{}, dErrors.Newf(dErrors.CodeBadRequest, "invalid audit range [%d, %d]", from, to)
	}
	anchor := audit.GenesisHash
	if from > 1 {
		prev, err := p.store.Range(ctx, from-1, from-1)
		if err != nil {
			return audit.Verification{}, fmt.Errorf("read audit anchor: %w", err)
		}
		if len(prev) != 1 {
			p.metrics.incVerification(false)
			return audit.Verification{BrokenAt: from - 1, Reason: "missing anchor event"}, nil
		}
		anchor = prev[0].Hash
	}
	events, err := p.store.Range(ctx, from, to)
	if err != nil {
		return audit.Verification{}, fmt.Errorf("read audit range: %w", err)
	}
	v := audit.VerifyEvents(events, from, anchor)
	if v.Valid && uint64(len(events)) != to-from+1 {
		v = audit.Verification{BrokenAt: from + uint64(len(events)), Reason: "missing events"}
	}
	p.metrics.incVerification(v.Valid)
	if !v.Valid {
		p.logger.WarnContext(ctx, "audit chain verification failed",
			"from", from, "to", to, "broken_at", v.BrokenAt, "reason", v.Reason)
	}
	return v, nil
}
