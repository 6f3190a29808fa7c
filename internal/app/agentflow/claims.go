package agentflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PabloGalante/insurance-agent/internal/app/tools"
	"github.com/PabloGalante/insurance-agent/internal/domain"
	"github.com/PabloGalante/insurance-agent/internal/observability"
)

const TemplateFormatResult = "format_result"

type claimsOperation string

const (
	opStatus  claimsOperation = "status"
	opSubmit  claimsOperation = "submit"
	opPremium claimsOperation = "premium"
	opUnknown claimsOperation = "unknown"
)

const (
	askClaimIDReply = "Please provide your claim ID (5 to 10 digits) so I can check its status."
	askWhichReply   = "I can check the status of an existing claim or help you submit a new one. Which would you like to do?"
	premiumReply    = "Premium calculations aren't available in chat yet. I can explain how premiums work for your plan, check a claim's status, or help you submit a new claim."
	confirmSuffix   = "Reply 'yes' to proceed or 'no' to cancel."
)

var (
	submitPhrases = []string{
		"submit claim", "submit a claim", "submit a new claim", "new claim",
		"file claim", "file a claim", "create a claim", "open a claim",
	}
	statusPhrases = []string{"status", "check claim", "track"}

	claimIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)claim\s+id\s*(?:is\s+)?[:#]?\s*(\w+)`),
		regexp.MustCompile(`(?i)claim\s+#?(\d+)`),
		regexp.MustCompile(`(?i)\bid\s*(?:is\s+)?[:#]?\s*(\w+)`),
		regexp.MustCompile(`\b(\d{5,})\b`),
	}

	policyPattern  = regexp.MustCompile(`(?i)policy\s*(?:id|number|no\.?|#)?\s*(?:is\s+)?[:#]?\s*(\d+)`)
	damageLabel    = regexp.MustCompile(`(?i)\b(?:damage|description)\s*[:=]\s*([^,;\n]+)`)
	vehicleLabel   = regexp.MustCompile(`(?i)\b(?:vehicle|car)\s*[:=]\s*([^,;\n]+)`)
	segmentSplit   = regexp.MustCompile(`[,;\n]+`)
	bareNumber     = regexp.MustCompile(`^#?(\d+)$`)
	fillerPrefix   = regexp.MustCompile(`(?i)^(?:\s*(?:i\s+want\s+to|i'd\s+like\s+to|i\s+need\s+to|please|submit|file|create|open|make|a|an|new|claim|for|my|on|with)\b)+`)
	damageKeywords = []string{
		"damage", "damaged", "dent", "dented", "scratch", "scratched", "broken",
		"crack", "cracked", "collision", "accident", "hail", "flood", "fire",
		"theft", "stolen", "smashed", "crash", "crashed",
	}
)

// ClaimsAgent talks to the claims API through the tool registry. Read-only
// tools run immediately; mutating tools are parked as a pending action.
type ClaimsAgent struct {
	registry *tools.Registry
	timeout  time.Duration
	now      func() time.Time
}

func NewClaimsAgent(registry *tools.Registry, timeout time.Duration) *ClaimsAgent {
	return &ClaimsAgent{registry: registry, timeout: timeout, now: time.Now}
}

func (a *ClaimsAgent) Name() domain.Route {
	return domain.RouteClaims
}

func (a *ClaimsAgent) Run(ctx context.Context, in AgentInput) (AgentOutput, error) {
	draftOpen := in.State != nil && in.State.Context.ClaimDraft != nil
	op := detectOperation(in.UserMessage, draftOpen)
	observability.LoggerFromContext(ctx).Info("claims operation", "operation", op)

	switch op {
	case opSubmit:
		return a.prepareSubmit(ctx, in)
	case opStatus:
		id, ok := extractClaimID(in.UserMessage)
		if !ok {
			return AgentOutput{Reply: askClaimIDReply, Step: domain.StepAwaitingInfo}, nil
		}
		return a.dispatch(ctx, in, tools.ToolClaimStatus, map[string]string{tools.ParamClaimID: id}, "")
	case opPremium:
		return AgentOutput{Reply: premiumReply, Step: domain.StepGeneralResponse}, nil
	default:
		return AgentOutput{Reply: askWhichReply, Step: domain.StepAwaitingInfo}, nil
	}
}

// ExecutePending runs a confirmed action with its stored parameters.
func (a *ClaimsAgent) ExecutePending(ctx context.Context, in AgentInput, action *domain.PendingAction) (AgentOutput, error) {
	tool, err := a.registry.Get(action.Operation)
	if err != nil {
		return AgentOutput{}, err
	}
	rec, err := a.call(ctx, in, tool, action.Params)
	if err != nil {
		return AgentOutput{}, &domain.UpstreamError{Service: "claims_api", Err: err}
	}
	out := a.resultOutput(tool.Name(), rec, "Your request has been processed", action.Summary)
	out.Step = domain.StepCompleted
	return out, nil
}

// dispatch validates and then either calls the tool or parks it for confirmation.
func (a *ClaimsAgent) dispatch(ctx context.Context, in AgentInput, toolName string, input map[string]string, summary string) (AgentOutput, error) {
	tool, err := a.registry.Get(toolName)
	if err != nil {
		return AgentOutput{}, err
	}

	if err := tool.Validate(input); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return AgentOutput{Reply: refusal(verr), Step: domain.StepAwaitingInfo}, nil
		}
		return AgentOutput{}, err
	}

	if tool.Mutating() {
		return AgentOutput{
			Reply: summary + "\n" + confirmSuffix,
			Step:  domain.StepAwaitingConfirmation,
			Pending: &domain.PendingAction{
				Executor:  domain.RouteClaims,
				Operation: tool.Name(),
				Params:    input,
				Summary:   summary,
				CreatedAt: a.now(),
			},
			ClearDraft: true,
		}, nil
	}

	rec, err := a.call(ctx, in, tool, input)
	switch {
	case errors.Is(err, domain.ErrClaimNotFound):
		return AgentOutput{
			Reply: fmt.Sprintf("I couldn't find a claim with ID %s. Please check the number and try again.", input[tools.ParamClaimID]),
			Step:  domain.StepAPICompleted,
			ToolResult: &domain.ToolResult{
				Tool:    tool.Name(),
				Outcome: domain.ToolOutcomeNotFound,
				At:      a.now(),
			},
		}, nil
	case err != nil:
		return AgentOutput{}, &domain.UpstreamError{Service: "claims_api", Err: err}
	}

	out := a.resultOutput(tool.Name(), rec, "Here are the details of claim "+input[tools.ParamClaimID], in.UserMessage)
	out.Step = domain.StepAPICompleted
	return out, nil
}

func (a *ClaimsAgent) call(ctx context.Context, in AgentInput, tool tools.Tool, input map[string]string) (domain.ClaimRecord, error) {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	log := observability.LoggerFromContext(ctx).With("tool", tool.Name())
	start := time.Now()
	rec, err := tool.Call(ctx, in.ToolCtx, input)
	if err != nil {
		log.Error("tool call failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	log.Info("tool call succeeded", "elapsed_ms", time.Since(start).Milliseconds())
	return rec, nil
}

func (a *ClaimsAgent) resultOutput(toolName string, rec domain.ClaimRecord, heading, request string) AgentOutput {
	raw := string(rec)
	return AgentOutput{
		Reply: heading + ":\n" + raw,
		Reformat: &Reformat{
			Template: TemplateFormatResult,
			Vars: map[string]string{
				"operation": toolName,
				"request":   request,
				"result":    raw,
			},
		},
		ToolResult: &domain.ToolResult{
			Tool:    toolName,
			Outcome: domain.ToolOutcomeOK,
			Data:    append([]byte(nil), rec...),
			At:      a.now(),
		},
	}
}

// prepareSubmit merges the message into the claim draft and parks the
// submission once every field is present.
func (a *ClaimsAgent) prepareSubmit(ctx context.Context, in AgentInput) (AgentOutput, error) {
	var draft domain.ClaimDraft
	if in.State != nil && in.State.Context.ClaimDraft != nil {
		draft = *in.State.Context.ClaimDraft
	}
	draft = mergeDraft(draft, parseSubmission(in.UserMessage))

	if missing := missingFields(draft); len(missing) > 0 {
		return AgentOutput{
			Reply: "To submit your claim I still need: " + strings.Join(missing, ", ") + ".",
			Step:  domain.StepAwaitingInfo,
			Draft: &draft,
		}, nil
	}

	summary := fmt.Sprintf("I'm about to submit a new claim for policy %s: %s, vehicle: %s.",
		draft.PolicyID, draft.DamageDescription, draft.Vehicle)
	out, err := a.dispatch(ctx, in, tools.ToolSubmitClaim, map[string]string{
		tools.ParamPolicyID:          draft.PolicyID,
		tools.ParamDamageDescription: draft.DamageDescription,
		tools.ParamVehicle:           draft.Vehicle,
	}, summary)
	if err != nil {
		return out, err
	}
	if out.Pending == nil {
		// rejected: keep what was valid and ask again for the rest
		draft.PolicyID = ""
		out.Draft = &draft
	}
	return out, nil
}

func refusal(verr *domain.ValidationError) string {
	field := strings.ReplaceAll(verr.Field, "_", " ")
	field = strings.Replace(field, " id", " ID", 1)
	return fmt.Sprintf("I can't use that %s: %s. Please check it and try again.", field, verr.Reason)
}

func detectOperation(message string, draftOpen bool) claimsOperation {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, submitPhrases):
		return opSubmit
	case containsAny(lower, statusPhrases):
		return opStatus
	case strings.Contains(lower, "premium"):
		return opPremium
	case draftOpen:
		return opSubmit
	}
	if _, ok := extractClaimID(message); ok {
		return opStatus
	}
	return opUnknown
}

// extractClaimID tries the id patterns in order of specificity.
func extractClaimID(message string) (string, bool) {
	var first string
	for _, p := range claimIDPatterns {
		m := p.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		if isDigits(m[1]) {
			return m[1], true
		}
		if first == "" {
			first = m[1]
		}
	}
	// a non-numeric id is still returned so validation can refuse it
	return first, first != ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseSubmission pulls claim fields out of free text: labeled fields first,
// then comma-separated segments.
func parseSubmission(message string) domain.ClaimDraft {
	var d domain.ClaimDraft
	if m := policyPattern.FindStringSubmatch(message); m != nil {
		d.PolicyID = m[1]
	}
	if m := damageLabel.FindStringSubmatch(message); m != nil {
		d.DamageDescription = strings.TrimSpace(m[1])
	}
	if m := vehicleLabel.FindStringSubmatch(message); m != nil {
		d.Vehicle = strings.TrimSpace(m[1])
	}

	for _, seg := range segmentSplit.Split(message, -1) {
		if damageLabel.MatchString(seg) || vehicleLabel.MatchString(seg) {
			continue
		}
		seg = fillerPrefix.ReplaceAllString(seg, "")
		seg = strings.TrimSpace(policyPattern.ReplaceAllString(seg, ""))
		seg = strings.TrimRight(seg, ".!")
		if seg == "" || strings.HasSuffix(seg, "?") {
			continue
		}
		if m := bareNumber.FindStringSubmatch(seg); m != nil {
			if d.PolicyID == "" {
				d.PolicyID = m[1]
			}
			continue
		}
		lower := strings.ToLower(seg)
		switch {
		case d.DamageDescription == "" && containsWord(tokenize(lower), damageKeywords):
			d.DamageDescription = seg
		case d.Vehicle == "" && !containsWord(tokenize(lower), damageKeywords):
			d.Vehicle = seg
		case d.DamageDescription == "":
			d.DamageDescription = seg
		}
	}
	return d
}

// mergeDraft lets fields given in this turn override the draft.
func mergeDraft(draft, update domain.ClaimDraft) domain.ClaimDraft {
	if update.PolicyID != "" {
		draft.PolicyID = update.PolicyID
	}
	if update.DamageDescription != "" {
		draft.DamageDescription = update.DamageDescription
	}
	if update.Vehicle != "" {
		draft.Vehicle = update.Vehicle
	}
	return draft
}

func missingFields(d domain.ClaimDraft) []string {
	var missing []string
	if strings.TrimSpace(d.PolicyID) == "" {
		missing = append(missing, "your policy ID")
	}
	if strings.TrimSpace(d.DamageDescription) == "" {
		missing = append(missing, "a description of the damage")
	}
	if strings.TrimSpace(d.Vehicle) == "" {
		missing = append(missing, "the vehicle involved")
	}
	return missing
}
