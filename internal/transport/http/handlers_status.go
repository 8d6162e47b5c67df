package httptransport

import (
	"net/http"

	"proofgate/pkg/platform/httputil"
)

// handleStatus reports the tri-state session status wallets poll while the
// user completes the proof.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.verification.Status(r.Context(), r.URL.Query().Get("sessionId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}
