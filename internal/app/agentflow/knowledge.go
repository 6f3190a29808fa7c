package agentflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PabloGalante/insurance-agent/internal/domain"
	"github.com/PabloGalante/insurance-agent/internal/observability"
)

const (
	TemplateKnowledgeAnswer = "knowledge_answer"

	previewLimit = 200
	defaultTopK  = 3
	noDocsReply  = "I couldn't find information about that in our policy documents. Could you rephrase, or ask about a specific policy or coverage?"
)

// KnowledgeAgent answers policy and coverage questions from the retrieval backend.
// It never has side effects.
type KnowledgeAgent struct {
	retriever domain.Retriever
	topK      int
	timeout   time.Duration
}

func NewKnowledgeAgent(retriever domain.Retriever, topK int, timeout time.Duration) *KnowledgeAgent {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &KnowledgeAgent{retriever: retriever, topK: topK, timeout: timeout}
}

func (a *KnowledgeAgent) Name() domain.Route {
	return domain.RouteKnowledge
}

func (a *KnowledgeAgent) Run(ctx context.Context, in AgentInput) (AgentOutput, error) {
	log := observability.LoggerFromContext(ctx).With("agent", a.Name())

	sctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	passages, err := a.retriever.Search(sctx, in.UserMessage, a.topK)
	if err != nil {
		return AgentOutput{}, &domain.UpstreamError{Service: "retrieval", Err: err}
	}
	if len(passages) > a.topK {
		passages = passages[:a.topK]
	}
	log.Info("knowledge retrieved", "passages", len(passages))

	docs := make([]domain.DocumentRef, 0, len(passages))
	for _, p := range passages {
		docs = append(docs, domain.DocumentRef{
			Title:   p.Title,
			Preview: preview(p.Text, previewLimit),
			Score:   p.Score,
			Source:  p.Source,
		})
	}

	if len(passages) == 0 {
		return AgentOutput{
			Reply:     noDocsReply,
			Step:      domain.StepKnowledgeRetrieved,
			Documents: docs,
		}, nil
	}

	raw := renderPassages(passages)
	return AgentOutput{
		Reply: raw,
		Step:  domain.StepKnowledgeRetrieved,
		Reformat: &Reformat{
			Template: TemplateKnowledgeAnswer,
			Vars: map[string]string{
				"question": in.UserMessage,
				"passages": raw,
			},
		},
		Documents: docs,
	}, nil
}

func renderPassages(passages []domain.Passage) string {
	var b strings.Builder
	b.WriteString("Here is what I found in our policy documents:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "\n%d. %s\n%s\n", i+1, p.Title, strings.TrimSpace(p.Text))
	}
	return strings.TrimRight(b.String(), "\n")
}

// preview cuts s to at most limit runes and marks the cut.
func preview(s string, limit int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= limit {
		return string(r)
	}
	return string(r[:limit]) + "..."
}
