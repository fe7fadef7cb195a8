package screener

import (
	"context"

	"github.com/google/uuid"
)

// StartRequest opens a screener conversation for an assessment.
type StartRequest struct {
	AssessmentID string
	UserID       string
	// ScreenerType optionally overrides the instrument configured on the
	// assessment.
	ScreenerType string
}

// ConversationView is the client-facing projection of a conversation.
type ConversationView struct {
	ID                 uuid.UUID    `json:"id"`
	AssessmentID       string       `json:"assessmentId"`
	ScreenerType       ScreenerType `json:"screenerType"`
	Status             Status       `json:"status"`
	QuestionsCompleted int          `json:"questionsCompleted"`
	TotalQuestions     int          `json:"totalQuestions"`
	IsComplete         bool         `json:"isComplete"`
}

// StartResult is the outcome of opening a conversation.
type StartResult struct {
	Conversation ConversationView
	Greeting     *Message
}

// MessageRequest is one user turn.
type MessageRequest struct {
	ConversationID uuid.UUID
	UserID         string
	Content        string
}

// MessageResult is the processed outcome of a turn. Exactly one of the two
// shapes comes back: a model reply, or a safety pivot with no model output.
type MessageResult struct {
	Message            *Message
	Conversation       ConversationView
	RiskLevel          RiskLevel
	NeedsClarification bool

	ShowSafetyPivot bool
	PivotType       PivotType
	CrisisResources []CrisisResource
}

// StreamEvent is one unit of a streamed turn: zero or more Chunk events
// followed by exactly one terminal event carrying Result or Err.
type StreamEvent struct {
	Chunk  string
	Result *MessageResult
	Err    error
}

// SafetyRequest is the user's answer to a pending safety pivot.
type SafetyRequest struct {
	ConversationID uuid.UUID
	UserID         string
	Response       string
}

// SafetyResult reports how a safety response was applied.
type SafetyResult struct {
	Action             string
	Message            string
	Resources          []CrisisResource
	ConversationStatus Status
}

// Service is the conversation engine boundary the HTTP layer talks to.
type Service interface {
	StartConversation(ctx context.Context, req StartRequest) (*StartResult, error)
	ProcessMessage(ctx context.Context, req MessageRequest) (*MessageResult, error)
	ProcessMessageStream(ctx context.Context, req MessageRequest) (<-chan StreamEvent, error)
	RecordSafetyResponse(ctx context.Context, req SafetyRequest) (*SafetyResult, error)
	GetTranscript(ctx context.Context, conversationID uuid.UUID) ([]Message, error)
}
