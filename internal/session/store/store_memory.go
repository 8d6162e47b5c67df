package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"proofgate/internal/sentinel"
	"proofgate/internal/session/models"
)

// InMemoryStore keeps sessions in a map guarded by a mutex. It backs tests and
// single-instance development deployments; production uses Postgres or Redis.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	now      func() time.Time
}

// NewMemory constructs an empty in-memory session store.
func NewMemory() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*models.Session),
		now:      time.Now,
	}
}

// WithClock overrides the store's time source for expiry tests.
func (s *InMemoryStore) WithClock(now func() time.Time) *InMemoryStore {
	s.now = now
	return s
}

func (s *InMemoryStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[session.ID]; ok && !existing.Expired(s.now()) {
		return sentinel.ErrDuplicate
	}
	copySession := *session
	s.sessions[session.ID] = &copySession
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.Expired(s.now()) {
		return nil, sentinel.ErrNotFound
	}
	copySession := *session
	return &copySession, nil
}

func (s *InMemoryStore) BindAddress(_ context.Context, sessionID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.Expired(s.now()) {
		return sentinel.ErrNotFound
	}
	if session.BoundAddress == address {
		return nil
	}
	if session.BoundAddress != "" {
		return sentinel.ErrConflict
	}
	session.BoundAddress = address
	return nil
}

// SetOutcome records the terminal verification outcome. The first terminal
// write wins; retransmitted callbacks observe ErrConflict.
func (s *InMemoryStore) SetOutcome(_ context.Context, sessionID string, outcome models.Outcome, execution *models.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.Expired(s.now()) {
		return sentinel.ErrNotFound
	}
	if session.Terminal() {
		return sentinel.ErrConflict
	}
	copyOutcome := outcome
	session.Outcome = &copyOutcome
	// Execution payload only survives alongside a success outcome.
	if outcome.Success && execution != nil {
		copyExecution := *execution
		session.Execution = &copyExecution
	} else {
		session.Execution = nil
	}
	return nil
}

func (s *InMemoryStore) List(_ context.Context, limit int) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	sessions := make([]*models.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if session.Expired(now) {
			continue
		}
		copySession := *session
		sessions = append(sessions, &copySession)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (s *InMemoryStore) SetClaim(_ context.Context, sessionID string, claim models.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.Expired(s.now()) {
		return sentinel.ErrNotFound
	}
	if !session.Verified() {
		return sentinel.ErrPreconditionFailed
	}
	if session.Claimed() {
		return sentinel.ErrAlreadyClaimed
	}
	copyClaim := claim
	session.Claim = &copyClaim
	return nil
}
