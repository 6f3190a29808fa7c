package agentflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"

	"github.com/PabloGalante/insurance-agent/internal/app/tools"
	"github.com/PabloGalante/insurance-agent/internal/domain"
	"github.com/PabloGalante/insurance-agent/internal/observability"
)

const (
	apologyReply   = "I'm sorry, something went wrong while handling your request. Please try again in a moment."
	unavailableMsg = "I'm sorry, I can't access your conversation right now. Please try again in a moment."
)

// Outcome summarises a turn for the caller.
type Outcome struct {
	Reply  string
	Route  domain.Route
	Failed bool
}

// Orchestrator drives one turn of a conversation: the confirmation gate when
// an action is pending, otherwise the router and exactly one agent.
type Orchestrator struct {
	router   Router
	gate     *Gate
	agents   map[domain.Route]Agent
	gen      domain.TextGenerator
	timeouts Timeouts
	now      func() time.Time
}

// NewOrchestrator wires the router and agents. A fallback agent is required.
func NewOrchestrator(router Router, gen domain.TextGenerator, timeouts Timeouts, agents ...Agent) (*Orchestrator, error) {
	o := &Orchestrator{
		router:   router,
		gate:     NewGate(),
		agents:   make(map[domain.Route]Agent, len(agents)),
		gen:      gen,
		timeouts: timeouts,
		now:      time.Now,
	}
	for _, ag := range agents {
		o.agents[ag.Name()] = ag
	}
	if _, ok := o.agents[domain.RouteFallback]; !ok {
		return nil, fmt.Errorf("no %s agent configured", domain.RouteFallback)
	}
	return o, nil
}

// Run appends the user message to state and processes the turn. It never
// returns an error: failures are recorded in state.Error with an apology.
// On failure the state is restored to how it was before the turn started,
// plus the user message and the apology.
//
// A state that arrives with Error already set is answered with the
// unavailable message without routing. Callers run BeginTurn first, which
// moves a previous turn's Error into Context.LastError, so in practice this
// only fires for a state whose load failed (conversation.Service does this).
func (o *Orchestrator) Run(ctx context.Context, state *domain.ConversationState, message string, tctx tools.ToolContext) Outcome {
	log := observability.LoggerFromContext(ctx).With(
		"session_id", state.SessionID,
		"user_id", state.UserID,
	)

	state.AppendMessage(domain.RoleUser, message, o.now())

	if state.Error != "" {
		log.Warn("turn short-circuited by prior error", "error", state.Error)
		state.AppendMessage(domain.RoleAssistant, unavailableMsg, o.now())
		return Outcome{Reply: unavailableMsg, Failed: true}
	}

	snapshot, err := state.Clone()
	if err != nil {
		return o.fail(ctx, state, nil, err)
	}

	log.Info("orchestrator started", "step", state.CurrentStep, "needs_confirmation", state.NeedsConfirmation)
	start := time.Now()

	var (
		out  Outcome
		herr error
		pc   panics.Catcher
	)
	pc.Try(func() {
		out, herr = o.handle(ctx, state, message, tctx)
	})
	if r := pc.Recovered(); r != nil {
		log.Error("agent panicked", "error", r.AsError())
		herr = fmt.Errorf("panic: %v", r.Value)
	}
	if herr == nil {
		herr = state.CheckInvariants()
	}
	if herr != nil {
		return o.fail(ctx, state, snapshot, herr)
	}

	log.Info("orchestrator end", "route", out.Route, "step", state.CurrentStep,
		"elapsed_ms", time.Since(start).Milliseconds())
	return out
}

func (o *Orchestrator) handle(ctx context.Context, state *domain.ConversationState, message string, tctx tools.ToolContext) (Outcome, error) {
	in := AgentInput{UserMessage: message, State: state, ToolCtx: tctx}

	if state.NeedsConfirmation {
		return o.confirm(ctx, state, in)
	}

	decision := o.route(ctx, message, state)
	state.Context.LastRoute = &decision

	route := decision.Route
	if route == domain.RouteConfirmation {
		// nothing is pending, so a bare yes/no is just conversation
		route = domain.RouteFallback
	}
	agent, ok := o.agents[route]
	if !ok {
		agent = o.agents[domain.RouteFallback]
		route = domain.RouteFallback
	}
	if route != domain.RouteClaims && route != domain.RouteKnowledge {
		// a policy question mid-draft leaves the draft for the next claims turn
		state.Context.ClaimDraft = nil
	}

	out, err := o.execute(ctx, agent.Name(), func(ctx context.Context) (AgentOutput, error) {
		return agent.Run(ctx, in)
	})
	if err != nil {
		return Outcome{Route: route}, err
	}
	reply, err := o.apply(ctx, state, out)
	return Outcome{Reply: reply, Route: route}, err
}

func (o *Orchestrator) route(ctx context.Context, message string, state *domain.ConversationState) domain.RouteDecision {
	ctx, span := observability.StartSpan(ctx, "agentflow.Route")
	decision, err := o.router.Classify(ctx, message, RouteContextFrom(state))
	if err == nil {
		span.SetAttributes(attribute.String("route", string(decision.Route)))
	}
	observability.EndSpan(span, err)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("routing ambiguity, using fallback", "error", err)
		return domain.RouteDecision{
			Route:     domain.RouteFallback,
			Source:    domain.RouteSourceRules,
			Reasoning: "classifier unavailable",
			At:        o.now(),
		}
	}
	observability.LoggerFromContext(ctx).Info("route selected",
		"route", decision.Route, "source", decision.Source)
	return decision
}

// confirm resolves the reply to a pending action.
func (o *Orchestrator) confirm(ctx context.Context, state *domain.ConversationState, in AgentInput) (Outcome, error) {
	log := observability.LoggerFromContext(ctx)
	action := state.PendingAction
	resolution := o.gate.Resolve(in.UserMessage, action)
	log.Info("confirmation resolved", "resolution", resolution, "operation", action.Operation)

	switch resolution {
	case ResolutionCancel:
		state.ClearPending()
		if err := state.Advance(domain.StepCancelled); err != nil {
			return Outcome{}, err
		}
		state.AppendMessage(domain.RoleAssistant, cancelReply, o.now())
		return Outcome{Reply: cancelReply, Route: domain.RouteConfirmation}, nil

	case ResolutionExecute:
		agent, ok := o.agents[action.Executor]
		if !ok {
			return Outcome{}, fmt.Errorf("no agent for pending action executor %q", action.Executor)
		}
		pe, ok := agent.(PendingExecutor)
		if !ok {
			return Outcome{}, fmt.Errorf("agent %s cannot execute pending actions", agent.Name())
		}
		if err := state.Advance(domain.StepAPIProcessing); err != nil {
			return Outcome{}, err
		}
		out, err := o.execute(ctx, agent.Name(), func(ctx context.Context) (AgentOutput, error) {
			return pe.ExecutePending(ctx, in, action)
		})
		if err != nil {
			return Outcome{Route: domain.RouteConfirmation}, err
		}
		state.ClearPending()
		reply, err := o.apply(ctx, state, out)
		return Outcome{Reply: reply, Route: domain.RouteConfirmation}, err

	default:
		if err := state.Advance(domain.StepAwaitingConfirmation); err != nil {
			return Outcome{}, err
		}
		state.AppendMessage(domain.RoleAssistant, unclearReply, o.now())
		return Outcome{Reply: unclearReply, Route: domain.RouteConfirmation}, nil
	}
}

func (o *Orchestrator) execute(ctx context.Context, name domain.Route, run func(context.Context) (AgentOutput, error)) (AgentOutput, error) {
	ctx, span := observability.StartSpan(ctx, "agentflow.Execute", attribute.String("agent", string(name)))
	log := observability.LoggerFromContext(ctx).With("agent", name)
	start := time.Now()
	log.Info("agent run start")

	out, err := run(ctx)
	observability.EndSpan(span, err)
	if err != nil {
		log.Error("agent failed", "error", err)
		return AgentOutput{}, fmt.Errorf("agent %s failed: %w", name, err)
	}
	log.Info("agent run end", "step", out.Step, "elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// apply folds an agent's output into the state and emits its reply.
func (o *Orchestrator) apply(ctx context.Context, state *domain.ConversationState, out AgentOutput) (string, error) {
	if err := state.Advance(out.Step); err != nil {
		return "", err
	}
	if out.Documents != nil {
		state.Context.RetrievedDocuments = out.Documents
	}
	if out.ToolResult != nil {
		state.Context.LastToolResult = out.ToolResult
	}
	switch {
	case out.ClearDraft:
		state.Context.ClaimDraft = nil
	case out.Draft != nil:
		state.Context.ClaimDraft = out.Draft
	}
	if out.Pending != nil {
		state.SetPending(out.Pending)
	}
	return o.emit(ctx, state, out)
}

// emit appends the reply. A reformat request first appends the raw reply as
// a provisional message, then swaps in the generated text if generation works.
func (o *Orchestrator) emit(ctx context.Context, state *domain.ConversationState, out AgentOutput) (string, error) {
	id := state.AppendMessage(domain.RoleAssistant, out.Reply, o.now())
	if out.Reformat == nil || o.gen == nil {
		return out.Reply, nil
	}

	gctx, cancel := withTimeout(ctx, o.timeouts.Generation)
	defer cancel()
	text, err := o.gen.Generate(gctx, out.Reformat.Template, out.Reformat.Vars)
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		observability.LoggerFromContext(ctx).Warn("reformat failed, keeping raw reply",
			"template", out.Reformat.Template, "error", err)
		return out.Reply, nil
	}
	if err := state.ReplaceMessageText(id, text); err != nil {
		return "", err
	}
	return text, nil
}

// fail restores the pre-turn snapshot, keeping the user message, and records
// the error with a generic apology.
func (o *Orchestrator) fail(ctx context.Context, state *domain.ConversationState, snapshot *domain.ConversationState, err error) Outcome {
	log := observability.LoggerFromContext(ctx).With("session_id", state.SessionID)

	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) {
		log.Error("upstream failure", "service", upstream.Service, "error", err)
	} else {
		log.Error("turn failed", "error", err)
	}

	if snapshot != nil {
		*state = *snapshot
	}
	state.Error = err.Error()
	state.AppendMessage(domain.RoleAssistant, apologyReply, o.now())
	return Outcome{Reply: apologyReply, Failed: true}
}
