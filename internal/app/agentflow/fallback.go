package agentflow

import (
	"context"
	"strings"
	"time"

	"github.com/PabloGalante/insurance-agent/internal/domain"
	"github.com/PabloGalante/insurance-agent/internal/observability"
)

const (
	TemplateFallback = "fallback"

	fallbackReply = "I'm here to help with your insurance needs. You can ask about your policies, check claim status, or submit new claims."
	historyWindow = 6
)

// FallbackAgent handles small talk and anything the router could not place.
// A generator failure degrades to a canned answer, never to a failed turn.
type FallbackAgent struct {
	gen     domain.TextGenerator
	timeout time.Duration
}

func NewFallbackAgent(gen domain.TextGenerator, timeout time.Duration) *FallbackAgent {
	return &FallbackAgent{gen: gen, timeout: timeout}
}

func (a *FallbackAgent) Name() domain.Route {
	return domain.RouteFallback
}

func (a *FallbackAgent) Run(ctx context.Context, in AgentInput) (AgentOutput, error) {
	log := observability.LoggerFromContext(ctx).With("agent", a.Name())

	gctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	reply, err := a.gen.Generate(gctx, TemplateFallback, map[string]string{
		"message": in.UserMessage,
		"history": recentHistory(in.State, historyWindow),
	})
	reply = strings.TrimSpace(reply)
	if err != nil || reply == "" {
		log.Warn("fallback generation failed, using canned reply", "error", err)
		reply = fallbackReply
	}

	return AgentOutput{
		Reply: reply,
		Step:  domain.StepGeneralResponse,
	}, nil
}

// recentHistory renders the last n messages, oldest first.
func recentHistory(state *domain.ConversationState, n int) string {
	if state == nil {
		return ""
	}
	msgs := state.Messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
