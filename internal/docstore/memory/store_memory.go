package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scanmap/internal/docstore"
	"scanmap/pkg/platform/sentinel"
)

// Store keeps documents in process memory for tests and local mode.
// It honours the same contract as the remote stores: atomic batches,
// field-level merges, store-assigned timestamps and snapshot listeners.
type Store struct {
	mu          sync.Mutex
	collections map[docstore.CollectionRef]map[string]docstore.Document
	listeners   map[docstore.CollectionRef]map[*subscription]struct{}
	now         func() time.Time
	closed      bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the timestamp source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New constructs an empty in-memory document store.
func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[docstore.CollectionRef]map[string]docstore.Document),
		listeners:   make(map[docstore.CollectionRef]map[*subscription]struct{}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Listen(ctx context.Context, col docstore.CollectionRef) (docstore.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory docstore closed: %w", sentinel.ErrUnavailable)
	}

	sub := &subscription{store: s, col: col, feed: docstore.NewFeed()}
	if s.listeners[col] == nil {
		s.listeners[col] = make(map[*subscription]struct{})
	}
	s.listeners[col][sub] = struct{}{}
	sub.feed.Push(docstore.Event{Snapshot: s.snapshotLocked(col)})
	return sub, nil
}

func (s *Store) Commit(ctx context.Context, batch *docstore.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory docstore closed: %w", sentinel.ErrUnavailable)
	}

	for _, op := range batch.Ops() {
		if op.Kind != docstore.OpMerge && op.Kind != docstore.OpDelete {
			return fmt.Errorf("unsupported batch op %s: %w", op.Kind, sentinel.ErrInvalidState)
		}
	}

	ts := s.now()
	for _, op := range batch.Ops() {
		docs := s.collections[op.Doc.Collection]
		switch op.Kind {
		case docstore.OpMerge:
			if docs == nil {
				docs = make(map[string]docstore.Document)
				s.collections[op.Doc.Collection] = docs
			}
			doc, ok := docs[op.Doc.ID]
			if !ok {
				doc = docstore.Document{ID: op.Doc.ID, Fields: make(docstore.Fields, len(op.Fields))}
			}
			for k, v := range op.Fields {
				doc.Fields[k] = cloneValue(v)
			}
			doc.UpdatedAt = ts
			docs[op.Doc.ID] = doc
		case docstore.OpDelete:
			delete(docs, op.Doc.ID)
		}
	}

	for _, col := range batch.Collections() {
		if len(s.listeners[col]) == 0 {
			continue
		}
		snap := s.snapshotLocked(col)
		for sub := range s.listeners[col] {
			sub.feed.Push(docstore.Event{Snapshot: snap})
		}
	}
	return nil
}

func (s *Store) List(ctx context.Context, col docstore.CollectionRef) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(col).Documents, nil
}

// Close ends every open subscription and rejects further calls.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for col, subs := range s.listeners {
		for sub := range subs {
			sub.feed.Close()
		}
		delete(s.listeners, col)
	}
	return nil
}

func (s *Store) snapshotLocked(col docstore.CollectionRef) *docstore.Snapshot {
	docs := s.collections[col]
	out := make([]docstore.Document, 0, len(docs))
	for _, d := range docs {
		fields := make(docstore.Fields, len(d.Fields))
		for k, v := range d.Fields {
			fields[k] = cloneValue(v)
		}
		out = append(out, docstore.Document{ID: d.ID, Fields: fields, UpdatedAt: d.UpdatedAt})
	}
	docstore.SortDocuments(out)
	return &docstore.Snapshot{Collection: col, Documents: out}
}

func (s *Store) remove(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners[sub.col], sub)
}

type subscription struct {
	store *Store
	col   docstore.CollectionRef
	feed  *docstore.Feed
	once  sync.Once
}

func (s *subscription) Events() <-chan docstore.Event {
	return s.feed.Events()
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.store.remove(s)
		s.feed.Close()
	})
}

// cloneValue copies the JSON container types so callers cannot mutate stored state.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
