package domain

import (
	"context"
	"encoding/json"
)

// TextGenerator is the natural-language backend. templateID selects one of the
// prompt templates known to the adapter.
type TextGenerator interface {
	Generate(ctx context.Context, templateID string, vars map[string]string) (string, error)
}

// SessionStore persists one ConversationState per session.
// Load never reports "not found": an unknown session yields a fresh initial state.
type SessionStore interface {
	Load(ctx context.Context, id SessionID, userID UserID) (*ConversationState, error)
	Save(ctx context.Context, state *ConversationState) error
}

// SessionSummary is the listing view of a stored session.
type SessionSummary struct {
	ID                SessionID `json:"id"`
	UserID            UserID    `json:"user_id"`
	CurrentStep       Step      `json:"current_step"`
	NeedsConfirmation bool      `json:"needs_confirmation"`
	MessageCount      int       `json:"message_count"`
	UpdatedAt         Timestamp `json:"updated_at"`
}

// SessionLister is implemented by stores that can enumerate a user's sessions.
type SessionLister interface {
	ListSessionsByUser(ctx context.Context, userID UserID, limit int) ([]SessionSummary, error)
}

// Passage is one ranked result of a knowledge search.
type Passage struct {
	Title  string
	Text   string
	Score  float64
	Source string
}

// Retriever is the knowledge-document similarity search backend.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]Passage, error)
}

// ClaimRecord is the raw body returned by the claims API.
type ClaimRecord json.RawMessage

// ClaimSubmission carries the fields of a new claim.
type ClaimSubmission struct {
	PolicyID          string
	DamageDescription string
	Vehicle           string
}

// ClaimsAPI is the external claims REST API.
type ClaimsAPI interface {
	GetClaimStatus(ctx context.Context, claimID, authToken string) (ClaimRecord, error)
	SubmitClaim(ctx context.Context, sub ClaimSubmission, authToken string) (ClaimRecord, error)
}
