package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/PabloGalante/insurance-agent/internal/domain"
)

const (
	ToolClaimStatus = "get_claim_status"
	ToolSubmitClaim = "submit_claim"

	ParamClaimID           = "claim_id"
	ParamPolicyID          = "policy_id"
	ParamDamageDescription = "damage_description"
	ParamVehicle           = "vehicle"
)

const (
	minIdentifierLen = 5
	maxIdentifierLen = 10
)

// ValidateIdentifier checks claim and policy ids: numeric, 5 to 10 digits.
func ValidateIdentifier(field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return &domain.ValidationError{Field: field, Reason: "is required"}
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return &domain.ValidationError{Field: field, Reason: fmt.Sprintf("%q must be numeric", value)}
		}
	}
	if len(value) < minIdentifierLen || len(value) > maxIdentifierLen {
		return &domain.ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("%q must be between %d and %d digits", value, minIdentifierLen, maxIdentifierLen),
		}
	}
	return nil
}

func validateText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &domain.ValidationError{Field: field, Reason: "is required"}
	}
	return nil
}

// ClaimStatusTool looks up a claim. Read-only.
type ClaimStatusTool struct {
	api domain.ClaimsAPI
}

func NewClaimStatusTool(api domain.ClaimsAPI) *ClaimStatusTool {
	return &ClaimStatusTool{api: api}
}

func (t *ClaimStatusTool) Name() string   { return ToolClaimStatus }
func (t *ClaimStatusTool) Mutating() bool { return false }

func (t *ClaimStatusTool) Validate(input map[string]string) error {
	return ValidateIdentifier(ParamClaimID, input[ParamClaimID])
}

func (t *ClaimStatusTool) Call(ctx context.Context, tctx ToolContext, input map[string]string) (domain.ClaimRecord, error) {
	if err := t.Validate(input); err != nil {
		return nil, err
	}
	return t.api.GetClaimStatus(ctx, strings.TrimSpace(input[ParamClaimID]), tctx.AuthToken)
}

// SubmitClaimTool files a new claim. Mutating.
type SubmitClaimTool struct {
	api domain.ClaimsAPI
}

func NewSubmitClaimTool(api domain.ClaimsAPI) *SubmitClaimTool {
	return &SubmitClaimTool{api: api}
}

func (t *SubmitClaimTool) Name() string   { return ToolSubmitClaim }
func (t *SubmitClaimTool) Mutating() bool { return true }

func (t *SubmitClaimTool) Validate(input map[string]string) error {
	if err := ValidateIdentifier(ParamPolicyID, input[ParamPolicyID]); err != nil {
		return err
	}
	if err := validateText(ParamDamageDescription, input[ParamDamageDescription]); err != nil {
		return err
	}
	return validateText(ParamVehicle, input[ParamVehicle])
}

func (t *SubmitClaimTool) Call(ctx context.Context, tctx ToolContext, input map[string]string) (domain.ClaimRecord, error) {
	if err := t.Validate(input); err != nil {
		return nil, err
	}
	sub := domain.ClaimSubmission{
		PolicyID:          strings.TrimSpace(input[ParamPolicyID]),
		DamageDescription: strings.TrimSpace(input[ParamDamageDescription]),
		Vehicle:           strings.TrimSpace(input[ParamVehicle]),
	}
	return t.api.SubmitClaim(ctx, sub, tctx.AuthToken)
}
