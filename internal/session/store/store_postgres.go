package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"proofgate/internal/sentinel"
	"proofgate/internal/session/models"
)

// PostgresStore persists sessions in PostgreSQL. Compare-and-set semantics are
// expressed as guarded UPDATEs so concurrent writers never need row locks held
// across the external verifier or kernel calls.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed session store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, session *models.Session) error {
	payload, err := json.Marshal(session.Request)
	if err != nil {
		return fmt.Errorf("marshal request payload: %w", err)
	}

	// An expired row may still hold the id; reusing it keeps expiry logical
	// without a background reaper.
	query := `
		INSERT INTO sessions (session_id, request_payload, bound_address, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE
		SET request_payload = EXCLUDED.request_payload,
		    bound_address   = EXCLUDED.bound_address,
		    created_at      = EXCLUDED.created_at,
		    expires_at      = EXCLUDED.expires_at,
		    verification_outcome = NULL,
		    execution_result = NULL,
		    claim            = NULL
		WHERE sessions.expires_at <= now()
		RETURNING session_id
	`
	var storedID string
	err = s.db.QueryRowContext(ctx, query,
		session.ID,
		payload,
		session.BoundAddress,
		session.CreatedAt,
		session.ExpiresAt,
	).Scan(&storedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	query := `
		SELECT session_id, request_payload, bound_address, created_at, expires_at,
		       verification_outcome, execution_result, claim
		FROM sessions
		WHERE session_id = $1 AND expires_at > now()
	`
	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) BindAddress(ctx context.Context, sessionID, address string) error {
	query := `
		UPDATE sessions
		SET bound_address = $2
		WHERE session_id = $1 AND expires_at > now()
		  AND (bound_address = '' OR bound_address = $2)
	`
	res, err := s.db.ExecContext(ctx, query, sessionID, address)
	if err != nil {
		return fmt.Errorf("bind address: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bind address rows: %w", err)
	}
	if affected == 0 {
		return s.classifyBindFailure(ctx, sessionID)
	}
	return nil
}

// SetOutcome is the CAS write guarding the idempotency invariant: only a row
// with no terminal outcome is updated.
func (s *PostgresStore) SetOutcome(ctx context.Context, sessionID string, outcome models.Outcome, execution *models.ExecutionResult) error {
	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	var executionJSON []byte
	if outcome.Success && execution != nil {
		executionJSON, err = json.Marshal(execution)
		if err != nil {
			return fmt.Errorf("marshal execution result: %w", err)
		}
	}

	query := `
		UPDATE sessions
		SET verification_outcome = $2, execution_result = $3
		WHERE session_id = $1 AND expires_at > now() AND verification_outcome IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, sessionID, outcomeJSON, executionJSON)
	if err != nil {
		return fmt.Errorf("set outcome: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set outcome rows: %w", err)
	}
	if affected == 0 {
		if exists, err := s.exists(ctx, sessionID); err != nil {
			return err
		} else if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) SetClaim(ctx context.Context, sessionID string, claim models.Claim) error {
	claimJSON, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("marshal claim: %w", err)
	}

	query := `
		UPDATE sessions
		SET claim = $2
		WHERE session_id = $1 AND expires_at > now()
		  AND (verification_outcome->>'success')::boolean IS TRUE
		  AND claim IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, sessionID, claimJSON)
	if err != nil {
		return fmt.Errorf("set claim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set claim rows: %w", err)
	}
	if affected == 0 {
		return s.classifyClaimFailure(ctx, sessionID)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT session_id, request_payload, bound_address, created_at, expires_at,
		       verification_outcome, execution_result, claim
		FROM sessions
		WHERE expires_at > now()
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (s *PostgresStore) exists(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE session_id = $1 AND expires_at > now()`, sessionID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) classifyBindFailure(ctx context.Context, sessionID string) error {
	exists, err := s.exists(ctx, sessionID)
	if err != nil {
		return err
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

func (s *PostgresStore) classifyClaimFailure(ctx context.Context, sessionID string) error {
	query := `
		SELECT (verification_outcome->>'success')::boolean IS TRUE, claim IS NOT NULL
		FROM sessions
		WHERE session_id = $1 AND expires_at > now()
	`
	var verified, claimed bool
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&verified, &claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("classify claim failure: %w", err)
	}
	if !verified {
		return sentinel.ErrPreconditionFailed
	}
	if claimed {
		return sentinel.ErrAlreadyClaimed
	}
	return sentinel.ErrConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session       models.Session
		payload       []byte
		outcomeJSON   sql.Null[[]byte]
		executionJSON sql.Null[[]byte]
		claimJSON     sql.Null[[]byte]
	)
	err := row.Scan(
		&session.ID,
		&payload,
		&session.BoundAddress,
		&session.CreatedAt,
		&session.ExpiresAt,
		&outcomeJSON,
		&executionJSON,
		&claimJSON,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &session.Request); err != nil {
		return nil, fmt.Errorf("unmarshal request payload: %w", err)
	}
	if outcomeJSON.Valid {
		session.Outcome = &models.Outcome{}
		if err := json.Unmarshal(outcomeJSON.V, session.Outcome); err != nil {
			return nil, fmt.Errorf("unmarshal outcome: %w", err)
		}
	}
	if executionJSON.Valid {
		session.Execution = &models.ExecutionResult{}
		if err := json.Unmarshal(executionJSON.V, session.Execution); err != nil {
			return nil, fmt.Errorf("unmarshal execution result: %w", err)
		}
	}
	if claimJSON.Valid {
		session.Claim = &models.Claim{}
		if err := json.Unmarshal(claimJSON.V, session.Claim); err != nil {
			return nil, fmt.Errorf("unmarshal claim: %w", err)
		}
	}
	return &session, nil
}
