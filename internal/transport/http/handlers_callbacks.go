package httptransport

import (
	"errors"
	"net/http"

	"proofgate/internal/session/models"
	dErrors "proofgate/pkg/domain-errors"
	"proofgate/pkg/platform/httputil"
)

// CallbackResponse acknowledges a processed wallet callback. Data carries the
// recorded outcome; Error is set when the outcome is a failure.
type CallbackResponse struct {
	Success bool            `json:"success"`
	Data    *models.Outcome `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// handleCallback receives the wallet's JWZ token. The body is either the raw
// token or a JSON envelope {"token": "..."}; the session id travels in the
// query string because wallets echo the callback URL verbatim.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")

	body, err := readBody(w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	outcome, err := h.verification.HandleCallback(r.Context(), sessionID, body)
	if err != nil {
		// A recorded failure outcome still answers with the outcome payload so
		// the wallet can render the per-policy responses.
		var domainErr *dErrors.Error
		if outcome != nil && errors.As(err, &domainErr) {
			httputil.WriteJSON(w, httputil.DomainCodeToHTTPStatus(domainErr.Code), CallbackResponse{
				Success: false,
				Data:    outcome,
				Error:   domainErr.Message,
			})
			return
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, CallbackResponse{
		Success: outcome.Success,
		Data:    outcome,
	})
}
