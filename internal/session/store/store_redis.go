package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"proofgate/internal/sentinel"
	"proofgate/internal/session/models"
)

const redisKeyPrefix = "proofgate:session:"

// casRetries bounds optimistic retries when a concurrent writer touches the
// same session between WATCH and EXEC.
const casRetries = 3

// RedisStore persists sessions as JSON documents with native TTL expiry.
// Compare-and-set writes use WATCH/MULTI transactions.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedis constructs a Redis-backed session store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func sessionKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (s *RedisStore) Create(ctx context.Context, session *models.Session) error {
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("create session: %w", sentinel.ErrInvalidInput)
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, sessionKey(session.ID), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return sentinel.ErrDuplicate
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	payload, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return decodeDoc(payload, s.now())
}

func (s *RedisStore) BindAddress(ctx context.Context, sessionID, address string) error {
	return s.update(ctx, sessionID, func(session *models.Session) error {
		if session.BoundAddress == address {
			return nil
		}
		if session.BoundAddress != "" {
			return sentinel.ErrConflict
		}
		session.BoundAddress = address
		return nil
	})
}

func (s *RedisStore) SetOutcome(ctx context.Context, sessionID string, outcome models.Outcome, execution *models.ExecutionResult) error {
	return s.update(ctx, sessionID, func(session *models.Session) error {
		if session.Terminal() {
			return sentinel.ErrConflict
		}
		copyOutcome := outcome
		session.Outcome = &copyOutcome
		if outcome.Success && execution != nil {
			copyExecution := *execution
			session.Execution = &copyExecution
		} else {
			session.Execution = nil
		}
		return nil
	})
}

func (s *RedisStore) SetClaim(ctx context.Context, sessionID string, claim models.Claim) error {
	return s.update(ctx, sessionID, func(session *models.Session) error {
		if !session.Verified() {
			return sentinel.ErrPreconditionFailed
		}
		if session.Claimed() {
			return sentinel.ErrAlreadyClaimed
		}
		copyClaim := claim
		session.Claim = &copyClaim
		return nil
	})
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	var sessions []*models.Session
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", int64(limit)).Iterator()
	for iter.Next(ctx) {
		payload, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		session, err := decodeDoc(payload, s.now())
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// update runs mutate under WATCH so a concurrent write aborts the transaction
// instead of being silently overwritten.
func (s *RedisStore) update(ctx context.Context, sessionID string, mutate func(*models.Session) error) error {
	key := sessionKey(sessionID)
	txn := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read session: %w", err)
		}
		session, err := decodeDoc(payload, s.now())
		if err != nil {
			return err
		}
		if err := mutate(session); err != nil {
			return err
		}
		updated, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, redis.KeepTTL)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < casRetries; i++ {
		err = s.client.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	// Retries ran out without observing what the concurrent writer stored.
	// That is contention, not a lost compare-and-set, so the caller gets a
	// retryable error instead of ErrConflict.
	return fmt.Errorf("session update contended: %w", sentinel.ErrUnavailable)
}

func decodeDoc(payload []byte, now time.Time) (*models.Session, error) {
	var session models.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	// Redis TTL usually removes the key first; the guard covers clock skew.
	if session.Expired(now) {
		return nil, sentinel.ErrNotFound
	}
	return &session, nil
}
