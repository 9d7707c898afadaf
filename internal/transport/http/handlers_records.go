package httptransport

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"

	"github.com/go-chi/chi/v5"

	"scanmap/internal/sync/cache"
	"scanmap/pkg/platform/httputil"
	"scanmap/pkg/platform/sentinel"
)

// SyncService is the part of a domain's sync service the HTTP layer uses.
type SyncService[R any] interface {
	Cache() *cache.Store[string, R]
	Subscribe(ctx context.Context) error
	Resubscribe(ctx context.Context) (bool, error)
	DeleteOne(ctx context.Context, key string)
	DeleteAll(ctx context.Context)
}

// Collection serves the list and delete routes of one domain.
type Collection interface {
	view() ListResponse
	subscribe(ctx context.Context) error
	resubscribe(ctx context.Context) (bool, error)
	deleteOne(ctx context.Context, key string)
	deleteAll(ctx context.Context)
}

// ListResponse is the body of GET /api/{collection}.
type ListResponse struct {
	Records any    `json:"records"`
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
	Version uint64 `json:"version"`
}

type syncCollection[R any] struct {
	svc SyncService[R]
}

// NewCollection adapts a sync service to the collection routes.
func NewCollection[R any](svc SyncService[R]) Collection {
	return syncCollection[R]{svc: svc}
}

// view reads one consistent state and lists records in key order.
func (c syncCollection[R]) view() ListResponse {
	st := c.svc.Cache().Snapshot()
	records := make([]R, 0, len(st.Records))
	for _, k := range slices.Sorted(maps.Keys(st.Records)) {
		records = append(records, st.Records[k])
	}
	return ListResponse{Records: records, Loading: st.Loading, Error: st.Error, Version: st.Version}
}

func (c syncCollection[R]) subscribe(ctx context.Context) error { return c.svc.Subscribe(ctx) }
func (c syncCollection[R]) resubscribe(ctx context.Context) (bool, error) {
	return c.svc.Resubscribe(ctx)
}
func (c syncCollection[R]) deleteOne(ctx context.Context, key string) { c.svc.DeleteOne(ctx, key) }
func (c syncCollection[R]) deleteAll(ctx context.Context)             { c.svc.DeleteAll(ctx) }

func (h *Handler) collection(w http.ResponseWriter, r *http.Request) (Collection, bool) {
	name := chi.URLParam(r, "collection")
	c, ok := h.deps.Collections[name]
	if !ok {
		httputil.WriteError(w, fmt.Errorf("collection %q: %w", name, sentinel.ErrNotFound))
		return nil, false
	}
	return c, true
}

// handleList handles GET /api/{collection}. A collection whose subscription
// failed or ended is subscribed again before it is read.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	if started, err := c.resubscribe(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "resubscribe failed", "collection", chi.URLParam(r, "collection"), "error", err)
	} else if started {
		h.logger.InfoContext(r.Context(), "collection resubscribed", "collection", chi.URLParam(r, "collection"))
	}
	httputil.WriteJSON(w, http.StatusOK, c.view())
}

// handleDeleteOne handles DELETE /api/{collection}/{key}. Delete failures are
// only visible through the collection's error state.
func (h *Handler) handleDeleteOne(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	// chi routes on RawPath when it is set, so keys such as URLs arrive encoded.
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(key)
		if err != nil {
			httputil.WriteError(w, httputil.BadRequest("invalid key: %v", err))
			return
		}
		key = unescaped
	}
	if key == "" {
		httputil.WriteError(w, httputil.BadRequest("key is required"))
		return
	}
	c.deleteOne(r.Context(), key)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteAll handles DELETE /api/{collection}.
func (h *Handler) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	c.deleteAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleSubscribe handles POST /api/{collection}/subscribe, restarting the
// collection's listener.
func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	if err := c.subscribe(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, c.view())
}
