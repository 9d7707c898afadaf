package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"scanmap/internal/permission"
	"scanmap/pkg/platform/httputil"
)

type Permissions interface {
	Get(name permission.Name) (*permission.Tracker, error)
}

type permissionResponse struct {
	Name permission.Name `json:"name"`
	permission.State
}

func (h *Handler) tracker(w http.ResponseWriter, r *http.Request) (*permission.Tracker, bool) {
	t, err := h.deps.Permissions.Get(permission.Name(chi.URLParam(r, "name")))
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	return t, true
}

// handlePermissionState handles GET /api/permissions/{name}. It re-checks the
// grant with the device before answering.
func (h *Handler) handlePermissionState(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	t.Check(r.Context())
	httputil.WriteJSON(w, http.StatusOK, permissionResponse{Name: t.Name(), State: t.State()})
}

// handlePermissionRequest handles POST /api/permissions/{name}/request.
func (h *Handler) handlePermissionRequest(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	t.Request(r.Context())
	httputil.WriteJSON(w, http.StatusOK, permissionResponse{Name: t.Name(), State: t.State()})
}
