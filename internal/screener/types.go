package screener

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScreenerType identifies which validated instrument a conversation walks
// through. The question banks live in questions.go.
type ScreenerType string

const (
	ScreenerBroadband17 ScreenerType = "broadband_17"
	ScreenerPHQ9A       ScreenerType = "phq9a"
	ScreenerAnxiety5    ScreenerType = "anxiety_5"
)

// ParseScreenerType validates a wire value against the known instruments.
func ParseScreenerType(s string) (ScreenerType, error) {
	switch ScreenerType(s) {
	case ScreenerBroadband17, ScreenerPHQ9A, ScreenerAnxiety5:
		return ScreenerType(s), nil
	}
	return "", fmt.Errorf("screener: unknown screener type %q", s)
}

// Status is the conversation lifecycle state.
type Status string

const (
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
	StatusAbandoned    Status = "abandoned"
	StatusCrisisPaused Status = "crisis_paused"
)

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Completed and abandoned are terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusActive:
		return next == StatusCompleted || next == StatusAbandoned || next == StatusCrisisPaused
	case StatusCrisisPaused:
		return next == StatusActive || next == StatusAbandoned
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// RiskLevel classifies the crisis severity of a single user message.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskSeverity = map[RiskLevel]int{
	RiskNone:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Severity returns the ordinal rank of the level, none lowest.
func (r RiskLevel) Severity() int {
	return riskSeverity[r]
}

// AtLeast reports whether r is as severe as other or more so.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Severity() >= other.Severity()
}

// Sender identifies who produced a transcript message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
	SenderSystem Sender = "system"
)

// SafetyResponse is the user's answer to a safety pivot.
type SafetyResponse string

const (
	SafetySafe     SafetyResponse = "safe"
	SafetyNeedHelp SafetyResponse = "need_help"
	SafetyExit     SafetyResponse = "exit"
)

// ParseSafetyResponse validates the wire value for a safety pivot answer.
func ParseSafetyResponse(s string) (SafetyResponse, error) {
	switch SafetyResponse(s) {
	case SafetySafe, SafetyNeedHelp, SafetyExit:
		return SafetyResponse(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSafetyResponse, s)
}

// DetectionMethod records how a crisis classification was produced.
type DetectionMethod string

const (
	DetectionKeyword DetectionMethod = "keyword"
	DetectionLLM     DetectionMethod = "llm"
	DetectionManual  DetectionMethod = "manual"
)

// PivotType selects how prominently crisis resources are presented.
type PivotType string

const (
	PivotFullScreen PivotType = "full_screen"
	PivotOverlay    PivotType = "overlay"
	PivotInline     PivotType = "inline"
)

// Conversation is one screener session tied to an assessment.
type Conversation struct {
	ID                 uuid.UUID
	AssessmentID       string
	UserID             string
	ScreenerType       ScreenerType
	Status             Status
	CurrentQuestion    int // index of the next unanswered question
	QuestionsCompleted int
	Metadata           map[string]string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DiscardedAt        *time.Time
}

// IsComplete reports whether every question of the instrument is answered.
func (c *Conversation) IsComplete() bool {
	return c.QuestionsCompleted >= TotalQuestions(c.ScreenerType)
}

// Message is a single transcript entry. Content, sender and sequence are
// immutable after creation; the extraction payload and nothing else may be
// filled in once, after the turn's extraction finishes.
type Message struct {
	ID                  uuid.UUID
	ConversationID      uuid.UUID
	Sender              Sender
	Content             string
	RiskLevel           RiskLevel
	Sequence            int
	ExtractedQuestionID string
	ExtractedValue      *int
	StreamComplete      bool
	CreatedAt           time.Time
}

// ScreenerResponse is the structured answer to one question. One row per
// (conversation, question); re-extraction updates in place.
type ScreenerResponse struct {
	ID                    uuid.UUID
	ConversationID        uuid.UUID
	MessageID             uuid.UUID
	QuestionID            string
	RawText               string
	Value                 *int // 0-4 Likert, nil pending extraction
	Confidence            float64
	Verified              bool
	ClarificationAttempts int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NeedsClarification reports whether the answer is too uncertain to score.
func (r *ScreenerResponse) NeedsClarification() bool {
	return r.Confidence < lowConfidenceThreshold && !r.Verified
}

// CrisisEvent is the durable record of a crisis classification. Created
// synchronously in the same request that detected it.
type CrisisEvent struct {
	ID              uuid.UUID
	ConversationID  uuid.UUID
	MessageID       uuid.UUID
	UserID          string
	RiskLevel       RiskLevel
	TriggerContent  string
	MatchedKeywords []string
	Method          DetectionMethod
	PivotShown      bool
	UserResponse    *SafetyResponse
	NeedsReview     bool
	ReviewedBy      string
	ResolvedAt      *time.Time
	ResolvedBy      string
	ResolutionNotes string
	CreatedAt       time.Time
}

// Resolved reports whether a clinician or the user closed out the event.
func (e *CrisisEvent) Resolved() bool {
	return e.ResolvedAt != nil
}

// AssessmentInfo is the slice of an assessment the engine needs to start a
// conversation.
type AssessmentInfo struct {
	AssessmentID string
	UserID       string
	ScreenerType ScreenerType
}

// AssessmentProvider resolves assessments and receives completed scores.
type AssessmentProvider interface {
	Resolve(ctx context.Context, assessmentID string) (AssessmentInfo, error)
	RecordResult(ctx context.Context, assessmentID string, score int, severity string) error
}
