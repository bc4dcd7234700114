package handler

import (
	"net/http"

	"github.com/oddlotlabs/crossarb/internal/breaker"
	"github.com/oddlotlabs/crossarb/internal/domain"
)

// BreakerHandler exposes the operator reset surface. Halted never recovers
// on its own; this endpoint is the only way back to normal operation.
type BreakerHandler struct {
	Gate  *breaker.Breaker
	Audit domain.AuditStore // nil when persistence is disabled
}

// Reset handles POST /api/breaker/reset.
func (h *BreakerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	before := h.Gate.CurrentState()
	h.Gate.Reset()

	if h.Audit != nil {
		_ = h.Audit.Log(r.Context(), "breaker_reset", map[string]any{
			"previous_status":    before.Status.String(),
			"consecutive_errors": before.ConsecutiveErrors,
			"daily_loss_cents":   int64(before.DailyLossCents),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": h.Gate.CurrentState().Status.String(),
	})
}
