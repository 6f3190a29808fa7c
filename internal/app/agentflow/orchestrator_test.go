package agentflow

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/insurance-agent/internal/domain"
)

func assistantCount(state *domain.ConversationState) int {
	n := 0
	for _, m := range state.Messages {
		if m.Role == domain.RoleAssistant {
			n++
		}
	}
	return n
}

func TestStatusCheckRunsImmediately(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	state := newState()

	out := h.turn(t, state, "check claim status for claim 123456")

	assert.False(t, out.Failed)
	assert.Equal(t, domain.RouteClaims, out.Route)
	assert.Equal(t, []string{"123456"}, h.api.statusCalls)
	assert.Equal(t, domain.StepAPICompleted, state.CurrentStep)
	assert.False(t, state.NeedsConfirmation)
	require.NotNil(t, state.Context.LastToolResult)
	assert.Equal(t, domain.ToolOutcomeOK, state.Context.LastToolResult.Outcome)
	assert.JSONEq(t, `{"claim_id":"123456","status":"open"}`, string(state.Context.LastToolResult.Data))

	// the provisional message was replaced in place by the formatted one
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "Your claim is open and being reviewed.", state.Messages[1].Text)
	assert.Equal(t, state.Messages[1].Text, out.Reply)
}

func TestStatusCheckNotFound(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	h.api.statusErr = domain.ErrClaimNotFound
	state := newState()

	out := h.turn(t, state, "what is the status of claim 99999")

	assert.False(t, out.Failed)
	assert.Contains(t, out.Reply, "couldn't find a claim with ID 99999")
	assert.Equal(t, domain.StepAPICompleted, state.CurrentStep)
	assert.Equal(t, domain.ToolOutcomeNotFound, state.Context.LastToolResult.Outcome)
	assert.Empty(t, state.Error)
}

func TestShortClaimIDNeverCallsAPI(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	state := newState()

	out := h.turn(t, state, "check claim status for claim 12")

	assert.Empty(t, h.api.statusCalls)
	assert.False(t, out.Failed)
	assert.Contains(t, out.Reply, "between 5 and 10 digits")
	assert.Equal(t, domain.StepAwaitingInfo, state.CurrentStep)
	assert.Empty(t, state.Error)
}

func TestStatusTimeoutRecordsError(t *testing.T) {
	timeouts := DefaultTimeouts()
	timeouts.Claims = 20 * time.Millisecond
	h := newHarness(t, timeouts)
	h.api.block = true
	state := newState()

	out := h.turn(t, state, "check claim status for claim 123456")

	assert.True(t, out.Failed)
	assert.Equal(t, apologyReply, out.Reply)
	assert.NotEmpty(t, state.Error)
	assert.Contains(t, state.Error, "deadline exceeded")
	assert.Equal(t, domain.StepStart, state.CurrentStep)
	assert.Nil(t, state.Context.LastToolResult)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, apologyReply, state.Messages[1].Text)
}

func TestSubmitRequiresConfirmation(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	state := newState()

	out := h.turn(t, state, "submit a new claim for policy 654321, bumper damage, sedan")

	assert.Empty(t, h.api.submits, "submit must not run on the first turn")
	assert.Equal(t, domain.StepAwaitingConfirmation, state.CurrentStep)
	assert.True(t, state.NeedsConfirmation)
	require.NotNil(t, state.PendingAction)
	assert.Equal(t, domain.RouteClaims, state.PendingAction.Executor)
	assert.Equal(t, map[string]string{
		"policy_id":          "654321",
		"damage_description": "bumper damage",
		"vehicle":            "sedan",
	}, state.PendingAction.Params)
	assert.Contains(t, out.Reply, "'yes' to proceed")

	out = h.turn(t, state, "yes")

	require.Len(t, h.api.submits, 1)
	assert.Equal(t, domain.ClaimSubmission{PolicyID: "654321", DamageDescription: "bumper damage", Vehicle: "sedan"}, h.api.submits[0])
	assert.Equal(t, domain.StepCompleted, state.CurrentStep)
	assert.False(t, state.NeedsConfirmation)
	assert.Nil(t, state.PendingAction)
	assert.False(t, out.Failed)
	assert.Equal(t, domain.ToolOutcomeOK, state.Context.LastToolResult.Outcome)
}

func TestCancelClearsPending(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	state := newState()

	h.turn(t, state, "submit a new claim for policy 654321, bumper damage, sedan")
	out := h.turn(t, state, "No")

	assert.Equal(t, cancelReply, out.Reply)
	assert.Equal(t, domain.StepCancelled, state.CurrentStep)
	assert.Nil(t, state.PendingAction)
	assert.Empty(t, h.api.submits)
}

func TestAmbiguousConfirmationKeepsPending(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	state := newState()
	h.turn(t, state, "submit a new claim for policy 654321, bumper damage, sedan")

	before := *state.PendingAction
	msgs := len(state.Messages)

	for _, reply := range []string{"maybe", "yes and no"} {
		out := h.turn(t, state, reply)

		assert.Equal(t, unclearReply, out.Reply)
		require.NotNil(t, state.PendingAction)
		if diff := cmp.Diff(before, *state.PendingAction); diff != "" {
			t.Fatalf("pending action changed (-want +got):\n%s", diff)
		}
		assert.Equal(t, domain.StepAwaitingConfirmation, state.CurrentStep)
		// the user message plus exactly one clarification
		assert.Len(t, state.Messages, msgs+2)
		msgs = len(state.Messages)
	}
	assert.Empty(t, h.api.submits)
}

func TestConfirmedSubmitFailureKeepsPending(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	state := newState()
	h.turn(t, state, "submit a new claim for policy 654321, bumper damage, sedan")

	h.api.submitErr = &domain.APIError{StatusCode: 500, Body: "boom"}
	out := h.turn(t, state, "yes")

	assert.True(t, out.Failed)
	assert.Equal(t, domain.StepAwaitingConfirmation, state.CurrentStep)
	require.NotNil(t, state.PendingAction)
	assert.Contains(t, state.Error, "claims api status 500")

	// a later "yes" retries the same action
	h.api.submitErr = nil
	out = h.turn(t, state, "yes")
	assert.False(t, out.Failed)
	assert.Len(t, h.api.submits, 2)
	assert.Equal(t, domain.StepCompleted, state.CurrentStep)
	assert.Contains(t, state.Context.LastError, "claims api status 500: boom")
}

func TestMultiTurnSubmission(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	state := newState()

	out := h.turn(t, state, "I want to file a claim")
	assert.Equal(t, domain.StepAwaitingInfo, state.CurrentStep)
	assert.Contains(t, out.Reply, "policy ID")
	require.NotNil(t, state.Context.ClaimDraft)

	out = h.turn(t, state, "policy 654321")
	assert.Equal(t, domain.StepAwaitingInfo, state.CurrentStep)
	assert.NotContains(t, out.Reply, "policy ID")
	assert.Equal(t, "654321", state.Context.ClaimDraft.PolicyID)

	h.turn(t, state, "bumper damage, sedan")
	assert.Equal(t, domain.StepAwaitingConfirmation, state.CurrentStep)
	assert.Nil(t, state.Context.ClaimDraft)
	assert.Equal(t, "bumper damage", state.PendingAction.Params["damage_description"])
	assert.Equal(t, "sedan", state.PendingAction.Params["vehicle"])
	assert.Empty(t, h.api.submits)
}

func TestQuestionDuringDraftGoesToKnowledge(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	state := newState()

	h.turn(t, state, "I want to file a claim")
	h.turn(t, state, "policy 654321, bumper damage")
	require.NotNil(t, state.Context.ClaimDraft)
	before := *state.Context.ClaimDraft

	out := h.turn(t, state, "what is the deductible on my plan?")

	assert.Equal(t, domain.RouteKnowledge, out.Route)
	assert.Equal(t, domain.StepKnowledgeRetrieved, state.CurrentStep)
	assert.NotEmpty(t, h.retriever.queries)
	require.NotNil(t, state.Context.ClaimDraft)
	assert.Equal(t, before, *state.Context.ClaimDraft)
	assert.Empty(t, state.Context.ClaimDraft.Vehicle)
	assert.Nil(t, state.PendingAction)
	assert.Empty(t, h.api.submits)
}

func TestUnknownIntentFallsBack(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	state := newState()

	out := h.turn(t, state, "hello there")

	assert.Equal(t, domain.RouteFallback, out.Route)
	assert.Equal(t, domain.StepGeneralResponse, state.CurrentStep)
	assert.Equal(t, 1, assistantCount(state))
	assert.Equal(t, "Hi! I can help with policies and claims.", out.Reply)
}

func TestFallbackUsesCannedReplyWhenGenerationFails(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	h.gen.errs[TemplateFallback] = errUnavailable
	state := newState()

	out := h.turn(t, state, "hello there")

	assert.False(t, out.Failed)
	assert.Equal(t, fallbackReply, out.Reply)
	assert.Equal(t, 1, assistantCount(state))
}

func TestBareConfirmationWithoutPendingIsFallback(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	state := newState()

	out := h.turn(t, state, "yes")

	assert.Equal(t, domain.RouteFallback, out.Route)
	assert.Equal(t, domain.RouteConfirmation, state.Context.LastRoute.Route)
	assert.Equal(t, domain.StepGeneralResponse, state.CurrentStep)
}

func TestKnowledgeTurn(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	h.retriever.passages = []domain.Passage{
		{Title: "Auto Insurance", Text: strings.Repeat("a", 250), Score: 0.9},
		{Title: "Home Insurance", Text: "Dwelling coverage.", Score: 0.5},
	}
	state := newState()

	out := h.turn(t, state, "What does my policy cover?")

	assert.Equal(t, domain.StepKnowledgeRetrieved, state.CurrentStep)
	assert.Equal(t, "Your plan covers collision damage.", out.Reply)
	require.Len(t, state.Context.RetrievedDocuments, 2)
	assert.Equal(t, strings.Repeat("a", 200)+"...", state.Context.RetrievedDocuments[0].Preview)
	assert.Equal(t, "Dwelling coverage.", state.Context.RetrievedDocuments[1].Preview)
	assert.Equal(t, 1, assistantCount(state))
}

func TestKnowledgeKeepsRawAnswerWhenReformatFails(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	h.gen.errs[TemplateKnowledgeAnswer] = errUnavailable
	state := newState()

	out := h.turn(t, state, "tell me about coverage")

	assert.False(t, out.Failed)
	assert.Contains(t, out.Reply, "Auto Insurance")
	assert.Equal(t, out.Reply, state.Messages[len(state.Messages)-1].Text)
}

func TestKnowledgeWithoutDocuments(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	h.retriever.passages = nil
	state := newState()

	out := h.turn(t, state, "explain my deductible")

	assert.Equal(t, noDocsReply, out.Reply)
	assert.Equal(t, domain.StepKnowledgeRetrieved, state.CurrentStep)
}

func TestRetrievalFailureIsUpstreamError(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	h.retriever.err = errUnavailable
	state := newState()

	out := h.turn(t, state, "explain my deductible")

	assert.True(t, out.Failed)
	assert.Contains(t, state.Error, "retrieval")
	assert.Equal(t, domain.StepStart, state.CurrentStep)
}

func TestPanicIsContained(t *testing.T) {
	h := newHarness(t, DefaultTimeouts(), panicAgent{})
	state := newState()

	out := h.turn(t, state, "what is covered by my policy")

	assert.True(t, out.Failed)
	assert.Equal(t, apologyReply, out.Reply)
	assert.Contains(t, state.Error, "index out of range")
	assert.Nil(t, state.Context.LastRoute)
}

func TestPriorErrorShortCircuits(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	state := newState()
	state.Error = "session store load: connection refused"

	out := h.orch.Run(t.Context(), state, "check claim status for claim 123456", toolCtx())

	assert.True(t, out.Failed)
	assert.Equal(t, unavailableMsg, out.Reply)
	assert.Empty(t, h.api.statusCalls)
	assert.Empty(t, h.gen.calls)
	assert.Equal(t, domain.StepStart, state.CurrentStep)
}

func TestErrorIsArchivedOnNextTurn(t *testing.T) {
	timeouts := DefaultTimeouts()
	timeouts.Claims = 10 * time.Millisecond
	h := newHarness(t, timeouts)
	h.api.block = true
	state := newState()

	h.turn(t, state, "check claim status for claim 123456")
	require.NotEmpty(t, state.Error)
	failure := state.Error

	h.api.block = false
	out := h.turn(t, state, "check claim status for claim 123456")

	assert.False(t, out.Failed)
	assert.Empty(t, state.Error)
	assert.Equal(t, failure, state.Context.LastError)
	assert.Equal(t, domain.StepAPICompleted, state.CurrentStep)
}

func TestInvariantHoldsAcrossConversation(t *testing.T) {
	h := newHarness(t, DefaultTimeouts())
	state := newState()

	script := []string{
		"hello",
		"what does my policy cover",
		"submit a new claim for policy 654321, bumper damage, sedan",
		"hmm",
		"what about my deductible?",
		"yes",
		"check claim 777001",
		"file a claim",
		"no",
		"yes",
	}
	for _, msg := range script {
		h.turn(t, state, msg)
		assert.True(t, state.CurrentStep.Valid())
	}
	assert.Len(t, h.api.submits, 1)
	assert.Len(t, state.Messages, 2*len(script))
}
