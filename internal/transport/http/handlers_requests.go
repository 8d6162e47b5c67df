package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/iden3/iden3comm/v2/protocol"

	"proofgate/internal/request"
	dErrors "proofgate/pkg/domain-errors"
	"proofgate/pkg/platform/httputil"
)

// CreateRequestResponse carries a freshly minted session and the
// authorization request the wallet renders as a QR code or deep link.
// PollIntervalSeconds tells clients how often to poll /status; zero means the
// server has no advertised cadence.
type CreateRequestResponse struct {
	SessionID           string                               `json:"sessionId"`
	ExpiresAt           time.Time                            `json:"expiresAt"`
	PollIntervalSeconds int                                  `json:"pollIntervalSeconds,omitempty"`
	Request             protocol.AuthorizationRequestMessage `json:"request"`
}

func (h *Handler) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var params request.Params
	body, err := readBody(w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed request body"))
			return
		}
	}
	// A sessionId query parameter pins the session id without a body.
	if id := r.URL.Query().Get("sessionId"); id != "" && params.SessionID == "" {
		params.SessionID = id
	}

	session, err := h.verification.CreateSession(r.Context(), params)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, CreateRequestResponse{
		SessionID:           session.ID,
		ExpiresAt:           session.ExpiresAt,
		PollIntervalSeconds: int(h.pollInterval / time.Second),
		Request:             session.Request,
	})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dErrors.New(dErrors.CodeBadRequest, "request body too large")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read request body")
	}
	return body, nil
}
