package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"proofgate/internal/session/models"
	"proofgate/internal/verification"
	dErrors "proofgate/pkg/domain-errors"
	"proofgate/pkg/platform/httputil"
)

const defaultSessionListLimit = 100

// SessionSummary is the operator-facing view of one session. The stored
// authorization request is omitted to keep listings small.
type SessionSummary struct {
	SessionID    string     `json:"sessionId"`
	Status       string     `json:"status"`
	BoundAddress string     `json:"boundAddress,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	ClaimedAt    *time.Time `json:"claimedAt,omitempty"`
	TxHash       string     `json:"txHash,omitempty"`
}

// ListSessionsResponse wraps the operator session listing.
type ListSessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	sessions, err := h.sessions.List(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to list sessions"))
		return
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, summarize(session))
	}
	httputil.WriteJSON(w, http.StatusOK, ListSessionsResponse{Sessions: summaries})
}

func summarize(session *models.Session) SessionSummary {
	summary := SessionSummary{
		SessionID:    session.ID,
		Status:       verification.StatusUnattempted,
		BoundAddress: session.BoundAddress,
		CreatedAt:    session.CreatedAt,
		ExpiresAt:    session.ExpiresAt,
	}
	if session.Terminal() {
		if session.Outcome.Success {
			summary.Status = verification.StatusSuccess
		} else {
			summary.Status = verification.StatusFailure
		}
	}
	if session.Claim != nil {
		claimedAt := session.Claim.ClaimedAt
		summary.ClaimedAt = &claimedAt
		summary.TxHash = session.Claim.TxHash
	}
	return summary
}
