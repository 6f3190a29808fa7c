package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/insurance-agent/internal/adapters/llm"
	"github.com/PabloGalante/insurance-agent/internal/adapters/retrieval"
	"github.com/PabloGalante/insurance-agent/internal/adapters/storage/memory"
	"github.com/PabloGalante/insurance-agent/internal/app/agentflow"
	"github.com/PabloGalante/insurance-agent/internal/app/conversation"
	"github.com/PabloGalante/insurance-agent/internal/app/tools"
	"github.com/PabloGalante/insurance-agent/internal/domain"
)

type fakeClaimsAPI struct {
	mu      sync.Mutex
	submits []domain.ClaimSubmission
}

func (a *fakeClaimsAPI) GetClaimStatus(_ context.Context, claimID, _ string) (domain.ClaimRecord, error) {
	return domain.ClaimRecord(`{"claim_id":"` + claimID + `","status":"open"}`), nil
}

func (a *fakeClaimsAPI) SubmitClaim(_ context.Context, sub domain.ClaimSubmission, _ string) (domain.ClaimRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submits = append(a.submits, sub)
	return domain.ClaimRecord(`{"claim_id":"777001","status":"submitted"}`), nil
}

// flakyStore fails Load or Save on demand.
type flakyStore struct {
	domain.SessionStore
	loadErr error
	saveErr error
	saves   int
}

func (s *flakyStore) Load(ctx context.Context, id domain.SessionID, userID domain.UserID) (*domain.ConversationState, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.SessionStore.Load(ctx, id, userID)
}

func (s *flakyStore) Save(ctx context.Context, state *domain.ConversationState) error {
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.SessionStore.Save(ctx, state)
}

func newService(t *testing.T, store domain.SessionStore) (*conversation.Service, *fakeClaimsAPI) {
	t.Helper()
	gen := llm.NewMockLLM()
	api := &fakeClaimsAPI{}
	timeouts := agentflow.DefaultTimeouts()

	router, err := agentflow.NewRouter("hybrid", gen, timeouts.Classifier)
	require.NoError(t, err)
	registry := tools.NewRegistry(tools.NewClaimStatusTool(api), tools.NewSubmitClaimTool(api))
	orch, err := agentflow.NewOrchestrator(router, gen, timeouts,
		agentflow.NewKnowledgeAgent(retrieval.NewStaticRetriever(retrieval.DefaultPassages()), 3, timeouts.Retrieval),
		agentflow.NewClaimsAgent(registry, timeouts.Claims),
		agentflow.NewFallbackAgent(gen, timeouts.Generation),
	)
	require.NoError(t, err)
	return conversation.NewService(store, orch, time.Second), api
}

func TestProcessTurnCreatesAndPersistsSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, memory.NewSessionStore())

	res, err := svc.ProcessTurn(ctx, conversation.TurnInput{UserID: "u-1", Message: "  hello there  "})
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)
	assert.True(t, res.Persisted)
	assert.Equal(t, domain.StepGeneralResponse, res.Step)
	assert.NotEmpty(t, res.Message)

	state, err := svc.GetSession(ctx, res.SessionID, "u-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, state.Version)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "hello there", state.Messages[0].Text)
	assert.Equal(t, res.Message, state.Messages[1].Text)
}

func TestProcessTurnClaimStatus(t *testing.T) {
	svc, _ := newService(t, memory.NewSessionStore())

	res, err := svc.ProcessTurn(context.Background(), conversation.TurnInput{
		SessionID: "s-status", UserID: "u-1", AuthToken: "tok",
		Message: "Check claim status for claim 12345",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StepAPICompleted, res.Step)
	assert.Contains(t, res.Message, "12345")
	assert.False(t, res.NeedsConfirmation)
}

func TestSubmitSurvivesAcrossTurns(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	svc, api := newService(t, store)
	in := conversation.TurnInput{SessionID: "s-submit", UserID: "u-1", AuthToken: "tok"}

	in.Message = "submit a new claim for policy 654321, bumper damage, sedan"
	res, err := svc.ProcessTurn(ctx, in)
	require.NoError(t, err)
	assert.True(t, res.NeedsConfirmation)
	assert.Equal(t, domain.StepAwaitingConfirmation, res.Step)
	assert.Empty(t, api.submits)

	state, err := svc.GetSession(ctx, "s-submit", "u-1")
	require.NoError(t, err)
	require.NotNil(t, state.PendingAction)

	// a fresh service over the same store picks up the pending action
	restarted, restartedAPI := newService(t, store)
	in.Message = "yes"
	res, err = restarted.ProcessTurn(ctx, in)
	require.NoError(t, err)
	assert.False(t, res.NeedsConfirmation)
	assert.Equal(t, domain.StepCompleted, res.Step)
	assert.Empty(t, api.submits)
	require.Len(t, restartedAPI.submits, 1)
	assert.Equal(t, "654321", restartedAPI.submits[0].PolicyID)
}

func TestProcessTurnValidatesInput(t *testing.T) {
	svc, _ := newService(t, memory.NewSessionStore())

	_, err := svc.ProcessTurn(context.Background(), conversation.TurnInput{UserID: "u-1", Message: "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)

	_, err = svc.ProcessTurn(context.Background(), conversation.TurnInput{Message: "hi"})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestProcessTurnRejectsForeignSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, memory.NewSessionStore())

	_, err := svc.ProcessTurn(ctx, conversation.TurnInput{SessionID: "s-owned", UserID: "u-1", Message: "hi"})
	require.NoError(t, err)

	_, err = svc.ProcessTurn(ctx, conversation.TurnInput{SessionID: "s-owned", UserID: "u-2", Message: "hi"})
	assert.ErrorIs(t, err, domain.ErrSessionOwnership)

	_, err = svc.GetSession(ctx, "s-owned", "u-2")
	assert.ErrorIs(t, err, domain.ErrSessionOwnership)
}

func TestSaveFailureStillReplies(t *testing.T) {
	store := &flakyStore{SessionStore: memory.NewSessionStore(), saveErr: errors.New("disk full")}
	svc, _ := newService(t, store)

	res, err := svc.ProcessTurn(context.Background(), conversation.TurnInput{UserID: "u-1", Message: "hello"})
	require.Error(t, err)
	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "save", perr.Op)

	require.NotNil(t, res)
	assert.NotEmpty(t, res.Message)
	assert.False(t, res.Persisted)
}

func TestLoadFailureRepliesWithoutSaving(t *testing.T) {
	store := &flakyStore{SessionStore: memory.NewSessionStore(), loadErr: errors.New("connection reset")}
	svc, _ := newService(t, store)

	res, err := svc.ProcessTurn(context.Background(), conversation.TurnInput{SessionID: "s-1", UserID: "u-1", Message: "hello"})
	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "load", perr.Op)

	require.NotNil(t, res)
	assert.Contains(t, res.Message, "can't access your conversation")
	assert.False(t, res.Persisted)
	assert.Zero(t, store.saves)
}

func TestConcurrentTurnsOnOneSessionAreSerialized(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, memory.NewSessionStore())

	const turns = 8
	var wg sync.WaitGroup
	for i := range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ProcessTurn(ctx, conversation.TurnInput{
				SessionID: "s-shared", UserID: "u-1", Message: fmt.Sprintf("hello %d", i),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	state, err := svc.GetSession(ctx, "s-shared", "u-1")
	require.NoError(t, err)
	assert.EqualValues(t, turns, state.Version)
	assert.Len(t, state.Messages, 2*turns)
	require.NoError(t, state.CheckInvariants())
}

func TestGetAndListSessions(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, memory.NewSessionStore())

	_, err := svc.GetSession(ctx, "missing", "u-1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	for _, id := range []domain.SessionID{"s-a", "s-b"} {
		_, err := svc.ProcessTurn(ctx, conversation.TurnInput{SessionID: id, UserID: "u-1", Message: "hi"})
		require.NoError(t, err)
	}
	_, err = svc.ProcessTurn(ctx, conversation.TurnInput{SessionID: "s-other", UserID: "u-2", Message: "hi"})
	require.NoError(t, err)

	list, err := svc.ListSessions(ctx, "u-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.ElementsMatch(t, []domain.SessionID{"s-a", "s-b"}, []domain.SessionID{list[0].ID, list[1].ID})
	assert.False(t, list[0].UpdatedAt.Before(list[1].UpdatedAt))
	assert.Equal(t, 2, list[0].MessageCount)

	list, err = svc.ListSessions(ctx, "u-1", 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestListSessionsUnsupported(t *testing.T) {
	type plainStore struct{ domain.SessionStore }
	svc, _ := newService(t, plainStore{memory.NewSessionStore()})

	_, err := svc.ListSessions(context.Background(), "u-1", 10)
	assert.ErrorIs(t, err, conversation.ErrListingUnsupported)
}
