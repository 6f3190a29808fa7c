package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one turn of the timeline (user or assistant).
type Message struct {
	ID        MessageID `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// RouteDecision is the router's output for a turn.
type RouteDecision struct {
	Route     Route       `json:"route"`
	Source    RouteSource `json:"source"`
	Reasoning string      `json:"reasoning,omitempty"`
	At        time.Time   `json:"at"`
}

// DocumentRef is a trimmed view of a retrieved passage kept in the session context.
type DocumentRef struct {
	Title   string  `json:"title"`
	Preview string  `json:"preview"`
	Score   float64 `json:"score"`
	Source  string  `json:"source,omitempty"`
}

type ToolOutcome string

const (
	ToolOutcomeOK       ToolOutcome = "ok"
	ToolOutcomeNotFound ToolOutcome = "not_found"
)

// ToolResult is the last claims API result, passed through as returned.
type ToolResult struct {
	Tool    string          `json:"tool"`
	Outcome ToolOutcome     `json:"outcome"`
	Data    json.RawMessage `json:"data,omitempty"`
	At      time.Time       `json:"at"`
}

// ClaimDraft accumulates claim submission fields across awaiting_info turns.
type ClaimDraft struct {
	PolicyID          string `json:"policy_id,omitempty"`
	DamageDescription string `json:"damage_description,omitempty"`
	Vehicle           string `json:"vehicle,omitempty"`
}

// SessionContext is the side information accumulated by a session.
// Known facets are typed; anything else goes into Extra.
type SessionContext struct {
	LastRoute          *RouteDecision    `json:"last_route,omitempty"`
	RetrievedDocuments []DocumentRef     `json:"retrieved_documents,omitempty"`
	LastToolResult     *ToolResult       `json:"last_tool_result,omitempty"`
	ClaimDraft         *ClaimDraft       `json:"claim_draft,omitempty"`
	LastError          string            `json:"last_error,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
}

// PendingAction describes a mutating action waiting for the user's confirmation.
type PendingAction struct {
	Executor  Route             `json:"executor"`
	Operation string            `json:"operation"`
	Params    map[string]string `json:"params"`
	Summary   string            `json:"summary"`
	CreatedAt time.Time         `json:"created_at"`
}

// ConversationState is the durable unit of session data.
type ConversationState struct {
	SessionID         SessionID      `json:"session_id"`
	UserID            UserID         `json:"user_id"`
	Messages          []Message      `json:"messages"`
	Context           SessionContext `json:"context"`
	PendingAction     *PendingAction `json:"pending_action,omitempty"`
	NeedsConfirmation bool           `json:"needs_confirmation"`
	CurrentStep       Step           `json:"current_step"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	Version           int64          `json:"version"`
}

// NewConversationState returns the initial state of a session.
func NewConversationState(sessionID SessionID, userID UserID, now time.Time) *ConversationState {
	return &ConversationState{
		SessionID:   sessionID,
		UserID:      userID,
		Messages:    []Message{},
		CurrentStep: StepStart,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// AppendMessage adds a message at the end of the timeline and returns its id.
func (s *ConversationState) AppendMessage(role Role, text string, at time.Time) MessageID {
	id := MessageID(uuid.NewString())
	s.Messages = append(s.Messages, Message{
		ID:        id,
		Role:      role,
		Text:      text,
		CreatedAt: at,
	})
	return id
}

// LatestUserMessage walks the timeline backwards for the newest user message.
func (s *ConversationState) LatestUserMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// ReplaceMessageText swaps the text of a provisional assistant message in place.
func (s *ConversationState) ReplaceMessageText(id MessageID, text string) error {
	for i := range s.Messages {
		if s.Messages[i].ID != id {
			continue
		}
		if s.Messages[i].Role != RoleAssistant {
			return fmt.Errorf("message %s is not an assistant message", id)
		}
		s.Messages[i].Text = text
		return nil
	}
	return fmt.Errorf("message %s not found", id)
}

// BeginTurn archives the previous turn's failure so it does not block the
// new one.
func (s *ConversationState) BeginTurn() {
	if s.Error != "" {
		s.Context.LastError = s.Error
		s.Error = ""
	}
}

// SetPending records an action awaiting confirmation.
func (s *ConversationState) SetPending(action *PendingAction) {
	s.PendingAction = action
	s.NeedsConfirmation = action != nil
}

func (s *ConversationState) ClearPending() {
	s.PendingAction = nil
	s.NeedsConfirmation = false
}

// Advance moves CurrentStep along the transition table.
func (s *ConversationState) Advance(to Step) error {
	if !CanAdvance(s.CurrentStep, to) {
		return &TransitionError{From: s.CurrentStep, To: to}
	}
	s.CurrentStep = to
	return nil
}

// CheckInvariants validates the structural invariants of the state.
func (s *ConversationState) CheckInvariants() error {
	var errs []error
	if s.SessionID == "" {
		errs = append(errs, errors.New("empty session id"))
	}
	if s.NeedsConfirmation != (s.PendingAction != nil) {
		errs = append(errs, fmt.Errorf("needs_confirmation=%t disagrees with pending action", s.NeedsConfirmation))
	}
	if !s.CurrentStep.Valid() {
		errs = append(errs, fmt.Errorf("unknown step %q", s.CurrentStep))
	}
	if s.NeedsConfirmation && s.CurrentStep != StepAwaitingConfirmation {
		errs = append(errs, fmt.Errorf("pending action while step is %s", s.CurrentStep))
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy through the persisted JSON form.
func (s *ConversationState) Clone() (*ConversationState, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	var out ConversationState
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &out, nil
}

// Summary returns the listing view of the state.
func (s *ConversationState) Summary() SessionSummary {
	return SessionSummary{
		ID:                s.SessionID,
		UserID:            s.UserID,
		CurrentStep:       s.CurrentStep,
		NeedsConfirmation: s.NeedsConfirmation,
		MessageCount:      len(s.Messages),
		UpdatedAt:         s.UpdatedAt,
	}
}
