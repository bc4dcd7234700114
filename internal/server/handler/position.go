package handler

import (
	"net/http"
	"sort"

	"github.com/oddlotlabs/crossarb/internal/position"
)

// PositionHandler lists open positions.
type PositionHandler struct {
	Tracker *position.Tracker
}

// ListPositions handles GET /api/positions.
func (h *PositionHandler) ListPositions(w http.ResponseWriter, _ *http.Request) {
	positions := h.Tracker.Snapshot()
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Key.String() < positions[j].Key.String()
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": positions,
		"count":     len(positions),
	})
}
