package httptransport

import (
	"encoding/json"
	"net/http"

	"proofgate/internal/session/models"
	dErrors "proofgate/pkg/domain-errors"
	"proofgate/pkg/platform/httputil"
)

// ClaimRequest asks the gateway to submit the token claim for a verified
// session.
type ClaimRequest struct {
	SessionID        string `json:"sessionId"`
	RecipientAddress string `json:"recipientAddress"`
}

// ClaimResponse reports the mined claim transaction.
type ClaimResponse struct {
	Success bool         `json:"success"`
	TxHash  string       `json:"txHash"`
	Claim   models.Claim `json:"claim"`
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req ClaimRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	claim, err := h.claims.Claim(r.Context(), req.SessionID, req.RecipientAddress)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ClaimResponse{
		Success: true,
		TxHash:  claim.TxHash,
		Claim:   *claim,
	})
}
