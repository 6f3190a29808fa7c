package agentflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/xeipuuv/gojsonschema"

	"github.com/PabloGalante/insurance-agent/internal/domain"
	"github.com/PabloGalante/insurance-agent/internal/observability"
)

// RouteContext is the part of the session a router may look at.
type RouteContext struct {
	PreviousStep domain.Step
	LastRoute    domain.Route
	DraftOpen    bool
}

// RouteContextFrom extracts the routing view of a state.
func RouteContextFrom(state *domain.ConversationState) RouteContext {
	rc := RouteContext{
		PreviousStep: state.CurrentStep,
		DraftOpen:    state.Context.ClaimDraft != nil,
	}
	if state.Context.LastRoute != nil {
		rc.LastRoute = state.Context.LastRoute.Route
	}
	return rc
}

// Router classifies a user message into one of the route labels.
type Router interface {
	Classify(ctx context.Context, message string, rc RouteContext) (domain.RouteDecision, error)
}

var (
	claimsPhrases = []string{
		"check claim", "claim status", "status of claim", "status of my claim",
		"submit claim", "submit a claim", "new claim", "file claim", "file a claim",
		"calculate premium", "premium change",
	}

	knowledgeWords = []string{
		"policy", "coverage", "plan", "benefits", "deductible", "premium",
	}
	knowledgePhrases = []string{
		"what is", "tell me about", "explain", "how does", "what does", "information about",
	}

	// claimFieldPattern spots claim data in a reply to an info request: a
	// number or a labeled field.
	claimFieldPattern = regexp.MustCompile(`(?i)\d|\b(?:policy|damage|description|vehicle|car)\s*[:=#]`)
)

// maxConfirmationTokens bounds how long a reply can be and still count as a
// bare yes/no.
const maxConfirmationTokens = 4

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func containsWord(tokens []string, words []string) bool {
	for _, t := range tokens {
		for _, w := range words {
			if t == w {
				return true
			}
		}
	}
	return false
}

// isConfirmationReply reports a short reply made only of yes/no words.
func isConfirmationReply(tokens []string) bool {
	if len(tokens) == 0 || len(tokens) > maxConfirmationTokens {
		return false
	}
	for _, t := range tokens {
		if !affirmativeWords[t] && !negativeWords[t] {
			return false
		}
	}
	return true
}

// ─────────────────────────────────────────────
// Keyword router
// ─────────────────────────────────────────────

// KeywordRouter is the deterministic rule-based strategy.
type KeywordRouter struct {
	now func() time.Time
}

func NewKeywordRouter() *KeywordRouter {
	return &KeywordRouter{now: time.Now}
}

func (r *KeywordRouter) Classify(_ context.Context, message string, rc RouteContext) (domain.RouteDecision, error) {
	route, source, reason := r.match(message, rc)
	return domain.RouteDecision{Route: route, Source: source, Reasoning: reason, At: r.now()}, nil
}

func addsClaimField(message string, tokens []string) bool {
	return claimFieldPattern.MatchString(message) || containsWord(tokens, damageKeywords)
}

// match returns the first rule that fires, or fallback with an empty reason.
func (r *KeywordRouter) match(message string, rc RouteContext) (domain.Route, domain.RouteSource, string) {
	lower := strings.ToLower(message)
	tokens := tokenize(message)

	if isConfirmationReply(tokens) {
		return domain.RouteConfirmation, domain.RouteSourceRules, "confirmation reply"
	}
	if containsAny(lower, claimsPhrases) {
		return domain.RouteClaims, domain.RouteSourceRules, "claims keyword"
	}
	knowledge := containsWord(tokens, knowledgeWords) || containsAny(lower, knowledgePhrases)
	if rc.PreviousStep == domain.StepAwaitingInfo && rc.LastRoute == domain.RouteClaims {
		// a bare answer like "sedan" extends an open draft; a question does not
		if addsClaimField(message, tokens) || (rc.DraftOpen && !knowledge) {
			return domain.RouteClaims, domain.RouteSourceContext, "continues claims info request"
		}
	}
	if knowledge {
		return domain.RouteKnowledge, domain.RouteSourceRules, "knowledge keyword"
	}
	return domain.RouteFallback, domain.RouteSourceRules, ""
}

// ─────────────────────────────────────────────
// Delegate router
// ─────────────────────────────────────────────

const TemplateRoute = "route"

const routeSchema = `{
  "type": "object",
  "required": ["route"],
  "properties": {
    "route": {"type": "string", "minLength": 1},
    "reasoning": {"type": "string"}
  }
}`

var codeFence = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// DelegateRouter asks the text generator for a label.
type DelegateRouter struct {
	gen     domain.TextGenerator
	timeout time.Duration
	schema  *gojsonschema.Schema
	now     func() time.Time
}

func NewDelegateRouter(gen domain.TextGenerator, timeout time.Duration) (*DelegateRouter, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(routeSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling route schema: %w", err)
	}
	return &DelegateRouter{gen: gen, timeout: timeout, schema: schema, now: time.Now}, nil
}

type delegateAnswer struct {
	Route     string `json:"route"`
	Reasoning string `json:"reasoning"`
}

func (r *DelegateRouter) Classify(ctx context.Context, message string, rc RouteContext) (domain.RouteDecision, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.gen.Generate(ctx, TemplateRoute, map[string]string{
		"message":       message,
		"previous_step": string(rc.PreviousStep),
		"last_route":    string(rc.LastRoute),
	})
	if err != nil {
		return domain.RouteDecision{}, &domain.UpstreamError{Service: "classifier", Err: err}
	}

	answer, err := r.parse(raw)
	if err != nil {
		return domain.RouteDecision{}, err
	}
	return domain.RouteDecision{
		Route:     domain.ParseRoute(strings.ToLower(strings.TrimSpace(answer.Route))),
		Source:    domain.RouteSourceDelegate,
		Reasoning: answer.Reasoning,
		At:        r.now(),
	}, nil
}

func (r *DelegateRouter) parse(raw string) (delegateAnswer, error) {
	raw = strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}

	result, err := r.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return delegateAnswer{}, fmt.Errorf("classifier output is not JSON: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return delegateAnswer{}, fmt.Errorf("classifier output rejected: %s", strings.Join(msgs, "; "))
	}

	var answer delegateAnswer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return delegateAnswer{}, fmt.Errorf("decoding classifier output: %w", err)
	}
	return answer, nil
}

// ─────────────────────────────────────────────
// Hybrid router
// ─────────────────────────────────────────────

// HybridRouter applies the keyword rules and only consults the delegate when
// nothing but the default matched. A failing delegate yields fallback.
type HybridRouter struct {
	rules    *KeywordRouter
	delegate Router
}

func NewHybridRouter(rules *KeywordRouter, delegate Router) *HybridRouter {
	return &HybridRouter{rules: rules, delegate: delegate}
}

func (r *HybridRouter) Classify(ctx context.Context, message string, rc RouteContext) (domain.RouteDecision, error) {
	route, source, reason := r.rules.match(message, rc)
	if route != domain.RouteFallback || r.delegate == nil {
		return domain.RouteDecision{Route: route, Source: source, Reasoning: reason, At: r.rules.now()}, nil
	}

	decision, err := r.delegate.Classify(ctx, message, rc)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("routing ambiguity, using fallback", "error", err)
		return domain.RouteDecision{
			Route:     domain.RouteFallback,
			Source:    domain.RouteSourceRules,
			Reasoning: "classifier unavailable",
			At:        r.rules.now(),
		}, nil
	}
	return decision, nil
}

// ErrNoRouter is returned by NewRouter for an unknown mode.
var ErrNoRouter = errors.New("unknown router mode")

// NewRouter builds the strategy named by mode: keyword, delegate or hybrid.
func NewRouter(mode string, gen domain.TextGenerator, classifierTimeout time.Duration) (Router, error) {
	switch mode {
	case "keyword":
		return NewKeywordRouter(), nil
	case "delegate":
		return NewDelegateRouter(gen, classifierTimeout)
	case "hybrid", "":
		delegate, err := NewDelegateRouter(gen, classifierTimeout)
		if err != nil {
			return nil, err
		}
		return NewHybridRouter(NewKeywordRouter(), delegate), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrNoRouter, mode)
	}
}
