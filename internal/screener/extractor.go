package screener

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careloop-health/screener-engine/pkg/logging"
)

const (
	// Below this confidence an extracted answer is held for clarification
	// instead of advancing the screener.
	lowConfidenceThreshold = 0.6

	// At or above this confidence an answer is accepted without hedging
	// language in the follow-up.
	highConfidenceThreshold = 0.8
)

// ExtractionOutcome is what one extraction pass decided about a turn.
type ExtractionOutcome struct {
	Response *ScreenerResponse // nil when the turn answered nothing
	Advanced bool              // true when the screener moved to the next question
}

// ResponseExtractor runs structured extraction over a user turn and persists
// the resulting screener response. Extraction failures degrade to an
// unanswered turn so the conversation keeps flowing.
type ResponseExtractor struct {
	llm    StructuredExtractor
	store  Store
	logger *logging.Logger
}

func NewResponseExtractor(llm StructuredExtractor, store Store, logger *logging.Logger) *ResponseExtractor {
	if llm == nil {
		panic("screener: structured extractor cannot be nil")
	}
	if store == nil {
		panic("screener: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ResponseExtractor{llm: llm, store: store, logger: logger}
}

// Extract maps the user's turn onto the conversation's pending question.
// The screener advances only for an in-range value extracted for the right
// question at sufficient confidence.
func (e *ResponseExtractor) Extract(ctx context.Context, conv *Conversation, userMsg *Message, history []ChatMessage) (*ExtractionOutcome, error) {
	question, ok := QuestionAt(conv.ScreenerType, conv.CurrentQuestion)
	if !ok {
		// All questions answered; nothing to extract against.
		return &ExtractionOutcome{}, nil
	}

	ext, err := e.llm.ExtractResponse(ctx, question, userMsg.Content, history)
	if err != nil {
		e.logger.Error("extraction call failed, treating turn as unanswered",
			"conversation_id", conv.ID,
			"question_id", question.ID,
			"error", err,
		)
		return &ExtractionOutcome{}, nil
	}

	if ext.QuestionID != question.ID {
		e.logger.Warn("extraction targeted wrong question, rejecting",
			"conversation_id", conv.ID,
			"expected", question.ID,
			"got", ext.QuestionID,
		)
		return &ExtractionOutcome{}, nil
	}

	if ext.Value == nil {
		// The reply was conversational, not an answer. No row, no advance.
		return &ExtractionOutcome{}, nil
	}
	if *ext.Value < 0 || *ext.Value > LikertMax {
		e.logger.Warn("extraction value out of range, rejecting",
			"conversation_id", conv.ID,
			"question_id", question.ID,
			"value", *ext.Value,
		)
		return &ExtractionOutcome{}, nil
	}

	resp := &ScreenerResponse{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		MessageID:      userMsg.ID,
		QuestionID:     question.ID,
		RawText:        userMsg.Content,
		Value:          ext.Value,
		Confidence:     ext.Confidence,
		Verified:       ext.Confidence >= highConfidenceThreshold,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := e.store.UpsertScreenerResponse(ctx, resp); err != nil {
		return nil, fmt.Errorf("screener: persist extracted response: %w", err)
	}

	if resp.NeedsClarification() {
		// The value is stored but the question stays pending; the next
		// assistant turn asks the user to confirm.
		return &ExtractionOutcome{Response: resp}, nil
	}

	if err := e.store.AttachExtraction(ctx, userMsg.ID, question.ID, *ext.Value); err != nil {
		return nil, fmt.Errorf("screener: attach extraction payload: %w", err)
	}
	userMsg.ExtractedQuestionID = question.ID
	userMsg.ExtractedValue = ext.Value

	nextCompleted := conv.QuestionsCompleted + 1
	nextQuestion := conv.CurrentQuestion + 1
	if err := e.store.AdvanceProgress(ctx, conv.ID, nextCompleted, nextQuestion); err != nil {
		return nil, fmt.Errorf("screener: advance progress: %w", err)
	}
	conv.QuestionsCompleted = nextCompleted
	conv.CurrentQuestion = nextQuestion

	return &ExtractionOutcome{Response: resp, Advanced: true}, nil
}
