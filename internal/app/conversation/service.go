package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/PabloGalante/insurance-agent/internal/app/agentflow"
	"github.com/PabloGalante/insurance-agent/internal/app/tools"
	"github.com/PabloGalante/insurance-agent/internal/domain"
	"github.com/PabloGalante/insurance-agent/internal/observability"
)

// ErrListingUnsupported is returned when the configured store cannot list sessions.
var ErrListingUnsupported = errors.New("session store does not support listing")

type Service struct {
	store        domain.SessionStore
	orchestrator *agentflow.Orchestrator
	storeTimeout time.Duration
	now          func() time.Time

	locks *sessionLocks
}

func NewService(store domain.SessionStore, orchestrator *agentflow.Orchestrator, storeTimeout time.Duration) *Service {
	return &Service{
		store:        store,
		orchestrator: orchestrator,
		storeTimeout: storeTimeout,
		now:          time.Now,
		locks:        newSessionLocks(),
	}
}

type TurnInput struct {
	SessionID domain.SessionID
	UserID    domain.UserID
	AuthToken string
	Message   string
}

type TurnResult struct {
	SessionID         domain.SessionID `json:"session_id"`
	Message           string           `json:"message"`
	Step              domain.Step      `json:"step"`
	NeedsConfirmation bool             `json:"needs_confirmation"`
	Persisted         bool             `json:"persisted"`
}

// ProcessTurn runs one user message through the orchestrator and persists the
// result. Turns of the same session are serialized.
//
// A *domain.PersistenceError is returned together with a non-nil result: the
// reply was produced but the state may not have been saved.
func (s *Service) ProcessTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, domain.ErrEmptyMessage
	}
	if in.UserID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "is required"}
	}
	if in.SessionID == "" {
		in.SessionID = domain.NewSessionID()
	}

	ctx = observability.WithSessionID(ctx, string(in.SessionID))
	ctx, span := observability.StartSpan(ctx, "conversation.ProcessTurn",
		attribute.String("session_id", string(in.SessionID)))
	var spanErr error
	defer func() { observability.EndSpan(span, spanErr) }()

	log := observability.LoggerFromContext(ctx).With("user_id", in.UserID)
	log.Info("processing turn")

	release, err := s.locks.acquire(ctx, in.SessionID)
	if err != nil {
		spanErr = err
		return nil, fmt.Errorf("waiting for session lock: %w", err)
	}
	defer release()

	state, loadErr := s.load(ctx, in.SessionID, in.UserID)
	if loadErr != nil {
		log.Error("failed to load session", "error", loadErr)
		state = domain.NewConversationState(in.SessionID, in.UserID, s.now())
		state.Error = loadErr.Error()
	} else {
		if state.UserID != in.UserID {
			log.Warn("session owned by another user")
			spanErr = domain.ErrSessionOwnership
			return nil, domain.ErrSessionOwnership
		}
		state.BeginTurn()
	}

	outcome := s.orchestrator.Run(ctx, state, message, tools.ToolContext{
		UserID:    string(in.UserID),
		SessionID: string(in.SessionID),
		RequestID: observability.RequestIDFromContext(ctx),
		AuthToken: in.AuthToken,
	})

	result := &TurnResult{
		SessionID:         state.SessionID,
		Message:           outcome.Reply,
		Step:              state.CurrentStep,
		NeedsConfirmation: state.NeedsConfirmation,
	}

	if loadErr != nil {
		// never overwrite a session we could not read
		spanErr = loadErr
		return result, loadErr
	}

	state.UpdatedAt = s.now()
	state.Version++
	if err := s.save(ctx, state); err != nil {
		log.Error("failed to save session", "error", err)
		spanErr = err
		return result, err
	}
	result.Persisted = true

	log.Info("turn completed", "step", state.CurrentStep, "route", outcome.Route, "failed", outcome.Failed)
	return result, nil
}

// GetSession returns the stored state of a session owned by userID.
func (s *Service) GetSession(ctx context.Context, id domain.SessionID, userID domain.UserID) (*domain.ConversationState, error) {
	log := observability.LoggerFromContext(ctx).With("session_id", id)

	state, err := s.load(ctx, id, userID)
	if err != nil {
		log.Error("failed to get session", "error", err)
		return nil, err
	}
	if state.Version == 0 {
		return nil, domain.ErrSessionNotFound
	}
	if state.UserID != userID {
		return nil, domain.ErrSessionOwnership
	}
	return state, nil
}

// ListSessions returns summaries of the user's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, userID domain.UserID, limit int) ([]domain.SessionSummary, error) {
	lister, ok := s.store.(domain.SessionLister)
	if !ok {
		return nil, ErrListingUnsupported
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	out, err := lister.ListSessionsByUser(ctx, userID, limit)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("failed to list sessions", "user_id", userID, "error", err)
		return nil, &domain.PersistenceError{Op: "list", Err: err}
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, id domain.SessionID, userID domain.UserID) (*domain.ConversationState, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	state, err := s.store.Load(ctx, id, userID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load", Err: err}
	}
	return state, nil
}

func (s *Service) save(ctx context.Context, state *domain.ConversationState) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.store.Save(ctx, state); err != nil {
		return &domain.PersistenceError{Op: "save", Err: err}
	}
	return nil
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// ─────────────────────────────────────────────
// Per-session locks
// ─────────────────────────────────────────────

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// sessionLocks hands out one weight-1 semaphore per session, dropped once
// nobody holds or waits on it.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[domain.SessionID]*lockEntry
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{entries: make(map[domain.SessionID]*lockEntry)}
}

func (l *sessionLocks) acquire(ctx context.Context, id domain.SessionID) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.drop(id, e)
		return nil, err
	}
	return func() {
		e.sem.Release(1)
		l.drop(id, e)
	}, nil
}

func (l *sessionLocks) drop(id domain.SessionID, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}
