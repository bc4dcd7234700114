package handler

import (
	"net/http"
	"time"

	"github.com/oddlotlabs/crossarb/internal/breaker"
	"github.com/oddlotlabs/crossarb/internal/position"
)

// StatusHandler reports the trading state an operator checks first: breaker
// status, daily P&L, and aggregate exposure.
type StatusHandler struct {
	Mode    string
	Gate    *breaker.Breaker
	Tracker *position.Tracker
}

// GetStatus handles GET /api/status.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	state := h.Gate.CurrentState()

	resp := map[string]any{
		"mode": h.Mode,
		"breaker": map[string]any{
			"status":             state.Status.String(),
			"consecutive_errors": state.ConsecutiveErrors,
			"daily_loss_cents":   int64(state.DailyLossCents),
		},
		"daily_pnl_cents": int64(h.Tracker.DailyPnL()),
		"open_contracts":  h.Tracker.TotalAbsContracts(),
	}
	if !state.TrippedAt.IsZero() {
		resp["breaker"].(map[string]any)["tripped_at"] = state.TrippedAt.Format(time.RFC3339)
	}
	if !state.CooldownUntil.IsZero() {
		resp["breaker"].(map[string]any)["cooldown_until"] = state.CooldownUntil.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
