package handler

import (
	"net/http"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

// ExecutionHandler lists recent execution records.
type ExecutionHandler struct {
	Store domain.ExecutionStore // nil when persistence is disabled
}

// ListRecent handles GET /api/executions/recent?limit=N.
func (h *ExecutionHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "execution persistence is not enabled")
		return
	}
	records, err := h.Store.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": records,
		"count":      len(records),
	})
}
