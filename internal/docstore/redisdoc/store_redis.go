// Package redisdoc stores documents in Redis.
//
// Each document is a hash whose fields hold JSON-encoded values plus the
// reserved updatedAt field (microseconds from the Redis TIME clock). A set per
// collection indexes document ids. Batches run as one Lua script so they are
// atomic, and every touched collection gets a PUBLISH that listeners turn into
// a fresh snapshot.
package redisdoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"scanmap/internal/docstore"
	"scanmap/pkg/platform/sentinel"
)

var commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "scanmap_redisdoc_commit_duration_seconds",
	Help:    "Latency of Redis document batch commits",
	Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
})

const (
	docKeyPrefix     = "doc:"
	indexKeyPrefix   = "idx:"
	channelKeyPrefix = "chg:"
)

// commitScript applies a batch. KEYS holds a (document, index) pair per op,
// ARGV[1] the JSON op list and ARGV[2] the JSON list of channels to notify.
var commitScript = redis.NewScript(`
local ops = cjson.decode(ARGV[1])
local channels = cjson.decode(ARGV[2])
local now = redis.call('TIME')
local ts = now[1] .. string.format('%06d', tonumber(now[2]))
for i, op in ipairs(ops) do
  local docKey = KEYS[2 * i - 1]
  local idxKey = KEYS[2 * i]
  if op.kind == 'merge' then
    local args = {}
    for f, v in pairs(op.fields) do
      args[#args + 1] = f
      args[#args + 1] = v
    end
    args[#args + 1] = 'updatedAt'
    args[#args + 1] = ts
    redis.call('HSET', docKey, unpack(args))
    redis.call('SADD', idxKey, op.id)
  else
    redis.call('DEL', docKey)
    redis.call('SREM', idxKey, op.id)
  end
end
for _, ch in ipairs(channels) do
  redis.call('PUBLISH', ch, ts)
end
return ts
`)

// Store is a Redis-backed docstore.Store.
type Store struct {
	client *redis.Client
}

// Option configures a Store.
type Option func(*Store)

// New constructs a Redis document store. The client lifecycle is managed by the caller.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func docKey(ref docstore.DocumentRef) string          { return docKeyPrefix + ref.Path() }
func indexKey(col docstore.CollectionRef) string      { return indexKeyPrefix + col.Path() }
func changeChannel(col docstore.CollectionRef) string { return channelKeyPrefix + col.Path() }

type scriptOp struct {
	Kind   string            `json:"kind"`
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

func (s *Store) Commit(ctx context.Context, batch *docstore.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		commitDuration.Observe(time.Since(start).Seconds())
	}()

	keys := make([]string, 0, 2*batch.Len())
	ops := make([]scriptOp, 0, batch.Len())
	for _, op := range batch.Ops() {
		so := scriptOp{ID: op.Doc.ID, Fields: map[string]string{}}
		switch op.Kind {
		case docstore.OpMerge:
			so.Kind = "merge"
			for k, v := range op.Fields {
				raw, err := json.Marshal(v)
				if err != nil {
					return fmt.Errorf("encode field %s of %s: %w", k, op.Doc.Path(), err)
				}
				so.Fields[k] = string(raw)
			}
		case docstore.OpDelete:
			so.Kind = "delete"
		default:
			return fmt.Errorf("unsupported batch op %s: %w", op.Kind, sentinel.ErrInvalidState)
		}
		keys = append(keys, docKey(op.Doc), indexKey(op.Doc.Collection))
		ops = append(ops, so)
	}

	channels := make([]string, 0, 1)
	for _, col := range batch.Collections() {
		channels = append(channels, changeChannel(col))
	}

	opsJSON, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	channelsJSON, err := json.Marshal(channels)
	if err != nil {
		return fmt.Errorf("encode batch channels: %w", err)
	}

	if err := commitScript.Run(ctx, s.client, keys, string(opsJSON), string(channelsJSON)).Err(); err != nil {
		return fmt.Errorf("commit batch: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, col docstore.CollectionRef) ([]docstore.Document, error) {
	ids, err := s.client.SMembers(ctx, indexKey(col)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w: %w", col.Path(), sentinel.ErrUnavailable, err)
	}
	if len(ids) == 0 {
		return []docstore.Document{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, docKey(col.Doc(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read %s: %w: %w", col.Path(), sentinel.ErrUnavailable, err)
	}

	docs := make([]docstore.Document, 0, len(ids))
	for i, id := range ids {
		raw := cmds[i].Val()
		if len(raw) == 0 {
			// index entry outlived its document
			continue
		}
		doc, err := decodeHash(id, raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	docstore.SortDocuments(docs)
	return docs, nil
}

func decodeHash(id string, raw map[string]string) (docstore.Document, error) {
	doc := docstore.Document{ID: id, Fields: make(docstore.Fields, len(raw))}
	for k, v := range raw {
		if k == docstore.UpdatedAtField {
			micros, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return docstore.Document{}, fmt.Errorf("parse updatedAt of %s: %w", id, err)
			}
			doc.UpdatedAt = time.UnixMicro(micros).UTC()
			continue
		}
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			return docstore.Document{}, fmt.Errorf("decode field %s of %s: %w", k, id, err)
		}
		doc.Fields[k] = val
	}
	return doc, nil
}

// Listen subscribes to the collection's change channel before reading the
// initial snapshot so no commit between the two is missed.
func (s *Store) Listen(ctx context.Context, col docstore.CollectionRef) (docstore.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, changeChannel(col))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w: %w", col.Path(), sentinel.ErrUnavailable, err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		feed:   docstore.NewFeed(),
		cancel: cancel,
		done:   make(chan struct{}),
		pubsub: pubsub,
	}

	docs, err := s.List(ctx, col)
	if err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}
	sub.feed.Push(docstore.Event{Snapshot: &docstore.Snapshot{Collection: col, Documents: docs}})

	go sub.run(subCtx, s, col, pubsub.Channel())
	return sub, nil
}

// Close is a no-op; the client lifecycle is managed externally.
func (s *Store) Close() error {
	return nil
}

type subscription struct {
	feed   *docstore.Feed
	cancel context.CancelFunc
	done   chan struct{}
	pubsub *redis.PubSub
	once   sync.Once
}

func (sub *subscription) run(ctx context.Context, s *Store, col docstore.CollectionRef, changes <-chan *redis.Message) {
	defer close(sub.done)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if ctx.Err() != nil {
				return
			}
			if !ok {
				sub.feed.Push(docstore.Event{Err: fmt.Errorf("change feed for %s closed: %w", col.Path(), sentinel.ErrUnavailable)})
				sub.feed.Close()
				return
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
		_ = sub.pubsub.Close()
		<-sub.done
		sub.feed.Close()
	})
}
