package agentflow

import (
	"context"
	"time"

	"github.com/PabloGalante/insurance-agent/internal/app/tools"
	"github.com/PabloGalante/insurance-agent/internal/domain"
)

// AgentInput is what an executor sees of the turn. State is read-only for
// executors; the orchestrator applies the returned AgentOutput.
type AgentInput struct {
	UserMessage string
	State       *domain.ConversationState
	ToolCtx     tools.ToolContext
}

// AgentOutput describes the effects of one executor run.
type AgentOutput struct {
	Reply string
	Step  domain.Step

	// Reformat, when set, asks the orchestrator to append Reply as a
	// provisional message and replace it with the generated rendering.
	Reformat *Reformat

	Pending    *domain.PendingAction
	Documents  []domain.DocumentRef
	ToolResult *domain.ToolResult

	// Draft replaces the session's claim draft; ClearDraft drops it.
	Draft      *domain.ClaimDraft
	ClearDraft bool
}

// Reformat names the template that turns a raw executor result into the
// user-facing answer.
type Reformat struct {
	Template string
	Vars     map[string]string
}

// Agent is one executor: knowledge, claims or fallback.
type Agent interface {
	Name() domain.Route
	Run(ctx context.Context, in AgentInput) (AgentOutput, error)
}

// PendingExecutor is implemented by agents that can park a mutating action
// and run it once the user confirms.
type PendingExecutor interface {
	ExecutePending(ctx context.Context, in AgentInput, action *domain.PendingAction) (AgentOutput, error)
}

// Timeouts bounds each kind of external call made during a turn.
type Timeouts struct {
	Classifier time.Duration
	Generation time.Duration
	Retrieval  time.Duration
	Claims     time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Classifier: 10 * time.Second,
		Generation: 30 * time.Second,
		Retrieval:  10 * time.Second,
		Claims:     10 * time.Second,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
