package agentflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/insurance-agent/internal/app/tools"
	"github.com/PabloGalante/insurance-agent/internal/domain"
)

var errUnavailable = errors.New("backend unavailable")

// scriptedGen answers per template; a missing template fails.
type scriptedGen struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	calls   []string
}

func newScriptedGen() *scriptedGen {
	return &scriptedGen{
		answers: map[string]string{
			TemplateFallback:        "Hi! I can help with policies and claims.",
			TemplateFormatResult:    "Your claim is open and being reviewed.",
			TemplateKnowledgeAnswer: "Your plan covers collision damage.",
		},
		errs: map[string]error{
			TemplateRoute: errUnavailable,
		},
	}
}

func (g *scriptedGen) Generate(_ context.Context, templateID string, _ map[string]string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, templateID)
	if err := g.errs[templateID]; err != nil {
		return "", err
	}
	if a, ok := g.answers[templateID]; ok {
		return a, nil
	}
	return "", errUnavailable
}

type fakeRetriever struct {
	passages []domain.Passage
	err      error
	queries  []string
}

func (r *fakeRetriever) Search(_ context.Context, query string, topK int) ([]domain.Passage, error) {
	r.queries = append(r.queries, query)
	if r.err != nil {
		return nil, r.err
	}
	if len(r.passages) > topK {
		return r.passages[:topK], nil
	}
	return r.passages, nil
}

// fakeClaimsAPI records calls. block makes every call wait for ctx.
type fakeClaimsAPI struct {
	mu          sync.Mutex
	statusCalls []string
	submits     []domain.ClaimSubmission
	statusErr   error
	submitErr   error
	block       bool
}

func (a *fakeClaimsAPI) GetClaimStatus(ctx context.Context, claimID, _ string) (domain.ClaimRecord, error) {
	a.mu.Lock()
	a.statusCalls = append(a.statusCalls, claimID)
	a.mu.Unlock()
	if a.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.statusErr != nil {
		return nil, a.statusErr
	}
	return domain.ClaimRecord(`{"claim_id":"` + claimID + `","status":"open"}`), nil
}

func (a *fakeClaimsAPI) SubmitClaim(ctx context.Context, sub domain.ClaimSubmission, _ string) (domain.ClaimRecord, error) {
	a.mu.Lock()
	a.submits = append(a.submits, sub)
	a.mu.Unlock()
	if a.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.submitErr != nil {
		return nil, a.submitErr
	}
	return domain.ClaimRecord(`{"claim_id":"777001","status":"submitted"}`), nil
}

type panicAgent struct{}

func (panicAgent) Name() domain.Route { return domain.RouteKnowledge }
func (panicAgent) Run(context.Context, AgentInput) (AgentOutput, error) {
	panic("index out of range")
}

type harness struct {
	orch      *Orchestrator
	gen       *scriptedGen
	retriever *fakeRetriever
	api       *fakeClaimsAPI
}

func newHarness(t *testing.T, timeouts Timeouts, extra ...Agent) *harness {
	t.Helper()
	h := &harness{
		gen: newScriptedGen(),
		retriever: &fakeRetriever{passages: []domain.Passage{
			{Title: "Auto Insurance", Text: "Collision and comprehensive coverage.", Score: 0.9},
		}},
		api: &fakeClaimsAPI{},
	}
	registry := tools.NewRegistry(tools.NewClaimStatusTool(h.api), tools.NewSubmitClaimTool(h.api))
	router, err := NewRouter("hybrid", h.gen, timeouts.Classifier)
	require.NoError(t, err)

	agents := []Agent{
		NewKnowledgeAgent(h.retriever, 3, timeouts.Retrieval),
		NewClaimsAgent(registry, timeouts.Claims),
		NewFallbackAgent(h.gen, timeouts.Generation),
	}
	agents = append(agents, extra...)
	h.orch, err = NewOrchestrator(router, h.gen, timeouts, agents...)
	require.NoError(t, err)
	return h
}

func newState() *domain.ConversationState {
	return domain.NewConversationState("s-1", "u-1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
}

func toolCtx() tools.ToolContext {
	return tools.ToolContext{UserID: "u-1", SessionID: "s-1", AuthToken: "tok"}
}

// turn runs one message and checks the structural invariants afterwards.
func (h *harness) turn(t *testing.T, state *domain.ConversationState, msg string) Outcome {
	t.Helper()
	state.BeginTurn()
	out := h.orch.Run(context.Background(), state, msg, toolCtx())
	require.NoError(t, state.CheckInvariants())
	require.Equal(t, state.PendingAction != nil, state.NeedsConfirmation)
	return out
}
