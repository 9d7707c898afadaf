// Package pgdoc stores documents in one PostgreSQL table.
//
// Fields are a jsonb object merged with || on every write and updated_at is
// the transaction timestamp. Each commit issues pg_notify for the touched
// collections inside the same transaction, so listeners only hear about
// committed data.
package pgdoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"scanmap/internal/docstore"
	"scanmap/pkg/platform/sentinel"
	"scanmap/pkg/platform/tx"
)

const notifyChannel = "scanmap_documents"

// Schema creates the documents table.
const Schema = `
CREATE TABLE IF NOT EXISTS scanmap_documents (
	installation_id TEXT NOT NULL,
	collection      TEXT NOT NULL,
	doc_id          TEXT NOT NULL,
	fields          JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (installation_id, collection, doc_id)
)`

// Store is a PostgreSQL-backed docstore.Store.
type Store struct {
	db           *sql.DB
	dsn          string
	logger       *slog.Logger
	minReconnect time.Duration
	maxReconnect time.Duration
	pingInterval time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for listener connection events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReconnect bounds the listener reconnect backoff.
func WithReconnect(minInterval, maxInterval time.Duration) Option {
	return func(s *Store) {
		s.minReconnect = minInterval
		s.maxReconnect = maxInterval
	}
}

// New constructs a Postgres document store. db serves queries; dsn opens the
// dedicated LISTEN connections.
func New(db *sql.DB, dsn string, opts ...Option) *Store {
	s := &Store{
		db:           db,
		dsn:          dsn,
		logger:       slog.Default(),
		minReconnect: 10 * time.Second,
		maxReconnect: time.Minute,
		pingInterval: 90 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	return nil
}

func (s *Store) Commit(ctx context.Context, batch *docstore.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	err := tx.Run(ctx, s.db, func(ctx context.Context, t *sql.Tx) error {
		var pending deleteGroup
		flush := func() error {
			if len(pending.ids) == 0 {
				return nil
			}
			_, err := t.ExecContext(ctx, `
				DELETE FROM scanmap_documents
				WHERE installation_id = $1 AND collection = $2 AND doc_id = ANY($3::text[])
			`, pending.col.InstallationID, pending.col.Name, pq.Array(pending.ids))
			pending = deleteGroup{}
			if err != nil {
				return fmt.Errorf("delete documents: %w", err)
			}
			return nil
		}

		for _, op := range batch.Ops() {
			switch op.Kind {
			case docstore.OpMerge:
				if err := flush(); err != nil {
					return err
				}
				if err := mergeDocument(ctx, t, op); err != nil {
					return err
				}
			case docstore.OpDelete:
				if len(pending.ids) > 0 && pending.col != op.Doc.Collection {
					if err := flush(); err != nil {
						return err
					}
				}
				pending.col = op.Doc.Collection
				pending.ids = append(pending.ids, op.Doc.ID)
			default:
				return fmt.Errorf("unsupported batch op %s: %w", op.Kind, sentinel.ErrInvalidState)
			}
		}
		if err := flush(); err != nil {
			return err
		}

		for _, col := range batch.Collections() {
			if _, err := t.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, col.Path()); err != nil {
				return fmt.Errorf("notify %s: %w", col.Path(), err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit batch: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

type deleteGroup struct {
	col docstore.CollectionRef
	ids []string
}

func mergeDocument(ctx context.Context, t *sql.Tx, op docstore.Op) error {
	fields := op.Fields
	if fields == nil {
		fields = docstore.Fields{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s: %w", op.Doc.Path(), err)
	}
	_, err = t.ExecContext(ctx, `
		INSERT INTO scanmap_documents (installation_id, collection, doc_id, fields, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, now())
		ON CONFLICT (installation_id, collection, doc_id) DO UPDATE SET
			fields = scanmap_documents.fields || EXCLUDED.fields,
			updated_at = now()
	`, op.Doc.Collection.InstallationID, op.Doc.Collection.Name, op.Doc.ID, string(raw))
	if err != nil {
		return fmt.Errorf("merge %s: %w", op.Doc.Path(), err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, col docstore.CollectionRef) ([]docstore.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, fields, updated_at
		FROM scanmap_documents
		WHERE installation_id = $1 AND collection = $2
		ORDER BY doc_id
	`, col.InstallationID, col.Name)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w: %w", col.Path(), sentinel.ErrUnavailable, err)
	}
	defer rows.Close()

	docs := []docstore.Document{}
	for rows.Next() {
		var (
			doc docstore.Document
			raw []byte
		)
		if err := rows.Scan(&doc.ID, &raw, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", col.Path(), err)
		}
		if err := json.Unmarshal(raw, &doc.Fields); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", col.Path(), doc.ID, err)
		}
		doc.UpdatedAt = doc.UpdatedAt.UTC()
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w: %w", col.Path(), sentinel.ErrUnavailable, err)
	}
	return docs, nil
}

// Listen opens a dedicated LISTEN connection, then reads the initial snapshot.
func (s *Store) Listen(ctx context.Context, col docstore.CollectionRef) (docstore.Subscription, error) {
	listener := pq.NewListener(s.dsn, s.minReconnect, s.maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			s.logger.Warn("document listener connection event",
				"collection", col.Path(),
				"event", int(ev),
				"error", err,
			)
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w: %w", col.Path(), sentinel.ErrUnavailable, err)
	}

	docs, err := s.List(ctx, col)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		feed:     docstore.NewFeed(),
		cancel:   cancel,
		done:     make(chan struct{}),
		listener: listener,
	}
	sub.feed.Push(docstore.Event{Snapshot: &docstore.Snapshot{Collection: col, Documents: docs}})

	go sub.run(subCtx, s, col)
	return sub, nil
}

// Close is a no-op; the *sql.DB lifecycle is managed externally.
func (s *Store) Close() error {
	return nil
}

type subscription struct {
	feed     *docstore.Feed
	cancel   context.CancelFunc
	done     chan struct{}
	listener *pq.Listener
	once     sync.Once
}

func (sub *subscription) run(ctx context.Context, s *Store, col docstore.CollectionRef) {
	defer close(sub.done)
	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	path := col.Path()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			go func() { _ = sub.listener.Ping() }()
		case n, ok := <-sub.listener.Notify:
			if ctx.Err() != nil {
				return
			}
			if !ok {
				sub.feed.Push(docstore.Event{Err: fmt.Errorf("change feed for %s closed: %w", path, sentinel.ErrUnavailable)})
				sub.feed.Close()
				return
			}
			// nil means the connection was re-established and notifications may have been lost
			if n != nil && n.Extra != path {
				continue
			}
			docs, err := s.List(ctx, col)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				sub.feed.Push(docstore.Event{Err: err})
				sub.feed.Close()
				return
			}
			sub.feed.Push(docstore.Event{Snapshot: &docstore.Snapshot{Collection: col, Documents: docs}})
		}
	}
}

func (sub *subscription) Events() <-chan docstore.Event {
	return sub.feed.Events()
}

func (sub *subscription) Close() {
	sub.once.Do(func() {
		sub.cancel()
		_ = sub.listener.Close()
		<-sub.done
		sub.feed.Close()
	})
}
