package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/PabloGalante/insurance-agent/internal/domain"
)

// SessionStore keeps sessions in process memory. States are deep-copied on
// the way in and out so callers never share mutable state with the store.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.ConversationState
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[domain.SessionID]*domain.ConversationState),
		now:      time.Now,
	}
}

func (s *SessionStore) Load(_ context.Context, id domain.SessionID, userID domain.UserID) (*domain.ConversationState, error) {
	s.mu.RLock()
	stored, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return domain.NewConversationState(id, userID, s.now()), nil
	}
	return stored.Clone()
}

func (s *SessionStore) Save(_ context.Context, state *domain.ConversationState) error {
	cp, err := state.Clone()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.SessionID] = cp
	return nil
}

// ListSessionsByUser returns the user's sessions, most recently updated first.
func (s *SessionStore) ListSessionsByUser(_ context.Context, userID domain.UserID, limit int) ([]domain.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.SessionSummary
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			result = append(result, sess.Summary())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
