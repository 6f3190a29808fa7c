package domain

import "fmt"

// Step is the progress marker of a conversation.
type Step string

const (
	StepStart                Step = "start"
	StepAwaitingInfo         Step = "awaiting_info"
	StepAwaitingConfirmation Step = "awaiting_confirmation"
	StepAPIProcessing        Step = "api_processing"
	StepAPICompleted         Step = "api_completed"
	StepKnowledgeRetrieved   Step = "knowledge_retrieved"
	StepGeneralResponse      Step = "general_response"
	StepCompleted            Step = "completed"
	StepCancelled            Step = "cancelled"
)

// firstPass holds the steps an executor may reach when the router dispatches a turn.
var firstPass = []Step{
	StepAwaitingInfo,
	StepAwaitingConfirmation,
	StepAPICompleted,
	StepKnowledgeRetrieved,
	StepGeneralResponse,
}

var transitions = map[Step][]Step{
	StepStart:              firstPass,
	StepAwaitingInfo:       firstPass,
	StepAPICompleted:       firstPass,
	StepKnowledgeRetrieved: firstPass,
	StepGeneralResponse:    firstPass,
	StepCompleted:          firstPass,
	StepCancelled:          firstPass,

	// Only the confirmation gate leaves awaiting_confirmation.
	StepAwaitingConfirmation: {StepAwaitingConfirmation, StepAPIProcessing, StepCancelled},
	StepAPIProcessing:        {StepCompleted, StepAwaitingConfirmation},
}

// Valid reports whether s is one of the enumerated steps.
func (s Step) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether the logical action of the conversation has ended.
func (s Step) Terminal() bool {
	return s == StepCompleted || s == StepCancelled
}

// CanAdvance reports whether the state machine allows from -> to.
func CanAdvance(from, to Step) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError is returned when a step change is not in the transition table.
type TransitionError struct {
	From Step
	To   Step
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal step transition %s -> %s", e.From, e.To)
}
