// Package service keeps one local cache in sync with one remote collection.
//
// A Service is parameterised by a Domain descriptor (collection name, key
// extractor, codec) so barcodes, networks and devices share one implementation.
// Remote snapshots always replace the cache; saves are merge-writes keyed by the
// record key, so saving the same record twice leaves one document.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"scanmap/internal/docstore"
	"scanmap/internal/identity"
	"scanmap/internal/platform/telemetry"
	"scanmap/internal/sync/cache"
)

const (
	opSubscribe = "subscribe"
	opSave      = "save"
	opDeleteOne = "delete_one"
	opDeleteAll = "delete_all"
)

// Domain describes how one record type maps onto a remote collection.
type Domain[K ~string, R any] struct {
	// Collection is the collection name under savedData/{installationId}.
	Collection string
	// Key returns the record identity; an empty key means the record cannot be saved.
	Key func(R) K
	// Encode turns a record into document fields.
	Encode func(R) (docstore.Fields, error)
	// Decode builds a record from a stored document. The document ID is the key.
	Decode func(docstore.Document) (R, error)
}

type options struct {
	logger   *slog.Logger
	reporter telemetry.Reporter
	metrics  *Metrics
	tracer   oteltrace.Tracer
}

// Option configures a Service.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithReporter sets the telemetry reporter that receives every recorded error.
func WithReporter(r telemetry.Reporter) Option {
	return func(o *options) {
		if r != nil {
			o.reporter = r
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t oteltrace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// Service synchronises one Domain between the remote store and a local cache.
type Service[K ~string, R any] struct {
	domain   Domain[K, R]
	docs     docstore.Store
	identity identity.Provider
	cache    *cache.Store[K, R]
	options

	// lifecycle serialises Subscribe and Unsubscribe.
	lifecycle sync.Mutex
	active    *listener
}

type listener struct {
	cancel context.CancelFunc
	sub    docstore.Subscription
	done   chan struct{}
}

// New builds a Service writing into c.
func New[K ~string, R any](domain Domain[K, R], docs docstore.Store, ident identity.Provider, c *cache.Store[K, R], opts ...Option) *Service[K, R] {
	o := options{
		logger:   slog.Default(),
		reporter: telemetry.Noop{},
		tracer:   otel.Tracer("scanmap/internal/sync/service"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.logger = o.logger.With("component", "sync", "domain", domain.Collection)
	return &Service[K, R]{
		domain:   domain,
		docs:     docs,
		identity: ident,
		cache:    c,
		options:  o,
	}
}

// Cache exposes the local store this service writes into.
func (s *Service[K, R]) Cache() *cache.Store[K, R] {
	return s.cache
}

func (s *Service[K, R]) collection(ctx context.Context) (docstore.CollectionRef, error) {
	id, err := s.identity.InstallationID(ctx)
	if err != nil {
		return docstore.CollectionRef{}, fmt.Errorf("resolve installation id: %w", err)
	}
	return docstore.Collection(id, s.domain.Collection), nil
}

func (s *Service[K, R]) startSpan(ctx context.Context, op string) (context.Context, oteltrace.Span) {
	return s.tracer.Start(ctx, "sync."+op, oteltrace.WithAttributes(
		attribute.String("collection", s.domain.Collection),
	))
}

// Subscribe starts listening to the remote collection, cancelling any previous
// listener first. Loading is set until the first snapshot or a failure.
//
// Only an identity failure is returned. Listener failures are recorded in the
// cache error and not retried.
func (s *Service[K, R]) Subscribe(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, opSubscribe)
	defer span.End()

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.subscribeLocked(ctx, span)
}

// Resubscribe subscribes again only when no listener is live and the cache
// holds an error, which is the state a failed or ended subscription leaves.
// It reports whether a new subscription was started.
func (s *Service[K, R]) Resubscribe(ctx context.Context) (bool, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.listeningLocked() || s.cache.Snapshot().Error == "" {
		return false, nil
	}

	ctx, span := s.startSpan(ctx, opSubscribe)
	defer span.End()
	s.logger.InfoContext(ctx, "resubscribing after failure")
	return true, s.subscribeLocked(ctx, span)
}

// Listening reports whether a listener is delivering snapshots.
func (s *Service[K, R]) Listening() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.listeningLocked()
}

func (s *Service[K, R]) listeningLocked() bool {
	if s.active == nil {
		return false
	}
	select {
	case <-s.active.done:
		return false
	default:
		return true
	}
}

func (s *Service[K, R]) subscribeLocked(ctx context.Context, span oteltrace.Span) error {
	s.stopLocked()
	s.cache.SetLoading(true)

	col, err := s.collection(ctx)
	if err != nil {
		s.fail(ctx, span, opSubscribe, err)
		return err
	}

	sub, err := s.docs.Listen(ctx, col)
	if err != nil {
		s.fail(ctx, span, opSubscribe, err)
		return nil
	}

	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &listener{cancel: cancel, sub: sub, done: make(chan struct{})}
	s.active = l
	go s.consume(lctx, l, col)

	s.logger.InfoContext(ctx, "subscribed", "path", col.Path())
	return nil
}

// Unsubscribe cancels the listener and clears the cache. No snapshot is applied
// after Unsubscribe returns.
func (s *Service[K, R]) Unsubscribe() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked()
	s.cache.Reset()
}

func (s *Service[K, R]) stopLocked() {
	if s.active == nil {
		return
	}
	s.active.cancel()
	s.active.sub.Close()
	<-s.active.done
	s.active = nil
}

func (s *Service[K, R]) consume(ctx context.Context, l *listener, col docstore.CollectionRef) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.sub.Events():
			if !ok || ctx.Err() != nil {
				return
			}
			if ev.Err != nil {
				s.fail(ctx, nil, opSubscribe, ev.Err)
				return
			}
			if ev.Snapshot != nil {
				s.apply(ctx, ev.Snapshot)
			}
		}
	}
}

func (s *Service[K, R]) apply(ctx context.Context, snap *docstore.Snapshot) {
	records := make(map[K]R, len(snap.Documents))
	for _, doc := range snap.Documents {
		if doc.ID == "" {
			s.metrics.IncrementSkipped(s.domain.Collection, "missing_key")
			continue
		}
		r, err := s.domain.Decode(doc)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable document", "id", doc.ID, "error", err)
			s.metrics.IncrementSkipped(s.domain.Collection, "decode")
			continue
		}
		records[K(doc.ID)] = r
	}
	s.cache.ReplaceAll(records)
	s.metrics.IncrementSnapshots(s.domain.Collection)
	s.logger.DebugContext(ctx, "snapshot applied", "records", len(records))
}

// Save merge-writes records in one atomic batch. Records without a key are
// skipped and logged. A failed write is recorded in the cache error and returned.
func (s *Service[K, R]) Save(ctx context.Context, records []R) error {
	ctx, span := s.startSpan(ctx, opSave)
	defer span.End()

	col, err := s.collection(ctx)
	if err != nil {
		s.fail(ctx, span, opSave, err)
		return err
	}

	batch := docstore.NewBatch()
	for _, r := range records {
		key := s.domain.Key(r)
		if key == "" {
			s.logger.WarnContext(ctx, "skipping record without key")
			s.metrics.IncrementSkipped(s.domain.Collection, "missing_key")
			continue
		}
		fields, err := s.domain.Encode(r)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unencodable record", "key", string(key), "error", err)
			s.metrics.IncrementSkipped(s.domain.Collection, "encode")
			continue
		}
		batch.Merge(col.Doc(string(key)), fields)
	}
	span.SetAttributes(attribute.Int("records", batch.Len()))
	if batch.Len() == 0 {
		return nil
	}

	start := time.Now()
	err = s.docs.Commit(ctx, batch)
	s.metrics.ObserveCommit(s.domain.Collection, opSave, time.Since(start))
	if err != nil {
		s.fail(ctx, span, opSave, err)
		return fmt.Errorf("save %s: %w", s.domain.Collection, err)
	}
	s.metrics.AddSaved(s.domain.Collection, batch.Len())
	s.logger.InfoContext(ctx, "records saved", "count", batch.Len())
	return nil
}

// DeleteOne removes the document stored under key. Failures are recorded in
// the cache error only.
func (s *Service[K, R]) DeleteOne(ctx context.Context, key K) {
	ctx, span := s.startSpan(ctx, opDeleteOne)
	defer span.End()

	col, err := s.collection(ctx)
	if err != nil {
		s.fail(ctx, span, opDeleteOne, err)
		return
	}
	start := time.Now()
	err = s.docs.Commit(ctx, docstore.NewBatch().Delete(col.Doc(string(key))))
	s.metrics.ObserveCommit(s.domain.Collection, opDeleteOne, time.Since(start))
	if err != nil {
		s.fail(ctx, span, opDeleteOne, err)
		return
	}
	s.metrics.AddDeletes(s.domain.Collection, "one", 1)
	s.logger.InfoContext(ctx, "record deleted", "key", string(key))
}

// DeleteAll removes every document of the collection in one batch. Failures
// are recorded in the cache error only.
func (s *Service[K, R]) DeleteAll(ctx context.Context) {
	ctx, span := s.startSpan(ctx, opDeleteAll)
	defer span.End()

	col, err := s.collection(ctx)
	if err != nil {
		s.fail(ctx, span, opDeleteAll, err)
		return
	}
	docs, err := s.docs.List(ctx, col)
	if err != nil {
		s.fail(ctx, span, opDeleteAll, err)
		return
	}
	if len(docs) == 0 {
		return
	}
	batch := docstore.NewBatch()
	for _, d := range docs {
		batch.Delete(col.Doc(d.ID))
	}
	start := time.Now()
	err = s.docs.Commit(ctx, batch)
	s.metrics.ObserveCommit(s.domain.Collection, opDeleteAll, time.Since(start))
	if err != nil {
		s.fail(ctx, span, opDeleteAll, err)
		return
	}
	s.metrics.AddDeletes(s.domain.Collection, "all", batch.Len())
	s.logger.InfoContext(ctx, "all records deleted", "count", batch.Len())
}

// fail records err in the cache, the log, metrics and telemetry. A failed
// subscription also clears loading.
func (s *Service[K, R]) fail(ctx context.Context, span oteltrace.Span, op string, err error) {
	msg := fmt.Sprintf("%s %s failed: %v", op, s.domain.Collection, err)
	if op == opSubscribe {
		s.cache.Fail(msg)
	} else {
		s.cache.SetError(msg)
	}
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
	}
	s.metrics.IncrementFailure(s.domain.Collection, op)
	s.logger.ErrorContext(ctx, "sync operation failed", "operation", op, "error", err)
	s.reporter.CaptureException(ctx, err, map[string]string{
		"domain":    s.domain.Collection,
		"operation": op,
	})
}
