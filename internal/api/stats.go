package api

import (
	"net/http"

	"github.com/mtlprog/quota/internal/export"
)

// GetLedgerStats handles GET /api/v1/users/{user}/fund-shares/stats?from=&to=.
func (h *Handler) GetLedgerStats(w http.ResponseWriter, r *http.Request) {
	dr, ok := h.rangeParams(w, r)
	if !ok {
		return
	}
	rows, err := h.ledger.List(r.Context(), r.PathValue("user"), dr)
	if err != nil {
		h.fail(w, err, "")
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no ledger rows in range")
		return
	}
	writeJSON(w, http.StatusOK, export.ComputeStats(rows))
}
