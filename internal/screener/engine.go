package screener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/careloop-health/screener-engine/internal/observability/metrics"
	"github.com/careloop-health/screener-engine/pkg/logging"
)

var engineTracer = otel.Tracer("screener.internal.engine")

const defaultLLMTimeout = 45 * time.Second

const fallbackGreeting = "Hi, I'm here to walk you through a short check-in about how you've been feeling. " +
	"You can answer in your own words, there are no wrong answers. Ready for the first question?"

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Store       Store
	History     *HistoryStore // optional transcript cache
	LLM         LLMClient
	Extractor   StructuredExtractor
	Detector    *CrisisDetector
	Assessments AssessmentProvider
	Metrics     *metrics.ScreenerMetrics
	Logger      *logging.Logger
	Provider    string // metrics label for the LLM backend
	LLMTimeout  time.Duration
}

// Engine orchestrates screener conversations: crisis screening, prompt
// assembly, response extraction and progress tracking. It implements
// Service.
type Engine struct {
	store       Store
	history     *HistoryStore
	llm         LLMClient
	extractor   *ResponseExtractor
	detector    *CrisisDetector
	pivot       *SafetyPivotController
	assessments AssessmentProvider
	metrics     *metrics.ScreenerMetrics
	logger      *logging.Logger
	provider    string
	llmTimeout  time.Duration
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Store == nil {
		panic("screener: store cannot be nil")
	}
	if cfg.LLM == nil {
		panic("screener: llm client cannot be nil")
	}
	if cfg.Extractor == nil {
		panic("screener: structured extractor cannot be nil")
	}
	if cfg.Assessments == nil {
		panic("screener: assessment provider cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	detector := cfg.Detector
	if detector == nil {
		detector = NewCrisisDetector(logger)
	}
	timeout := cfg.LLMTimeout
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "unknown"
	}

	return &Engine{
		store:       cfg.Store,
		history:     cfg.History,
		llm:         cfg.LLM,
		extractor:   NewResponseExtractor(cfg.Extractor, cfg.Store, logger),
		detector:    detector,
		pivot:       NewSafetyPivotController(cfg.Store, logger),
		assessments: cfg.Assessments,
		metrics:     cfg.Metrics,
		logger:      logger,
		provider:    provider,
		llmTimeout:  timeout,
	}
}

// StartConversation resolves the assessment, creates the conversation and
// generates the opening message. A failed greeting call degrades to a
// canned opener rather than failing the whole request.
func (e *Engine) StartConversation(ctx context.Context, req StartRequest) (*StartResult, error) {
	ctx, span := engineTracer.Start(ctx, "screener.start")
	defer span.End()

	info, err := e.assessments.Resolve(ctx, req.AssessmentID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("screener: resolve assessment: %w", err)
	}

	screenerType := info.ScreenerType
	if req.ScreenerType != "" {
		screenerType, err = ParseScreenerType(req.ScreenerType)
		if err != nil {
			return nil, err
		}
	}
	if TotalQuestions(screenerType) == 0 {
		return nil, fmt.Errorf("screener: assessment %s has no screener configured", req.AssessmentID)
	}

	userID := req.UserID
	if userID == "" {
		userID = info.UserID
	}

	now := time.Now().UTC()
	conv := &Conversation{
		ID:           uuid.New(),
		AssessmentID: req.AssessmentID,
		UserID:       userID,
		ScreenerType: screenerType,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateConversation(ctx, conv); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("screener: create conversation: %w", err)
	}
	span.SetAttributes(
		attribute.String("screener.conversation_id", conv.ID.String()),
		attribute.String("screener.type", string(screenerType)),
	)

	greeting := e.generateGreeting(ctx, conv)

	greetingMsg := &Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Sender:         SenderAI,
		Content:        greeting,
		RiskLevel:      RiskNone,
		StreamComplete: true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.AppendMessage(ctx, greetingMsg); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("screener: persist greeting: %w", err)
	}

	e.saveHistory(ctx, conv.ID, []ChatMessage{{Role: ChatRoleAssistant, Content: greeting}})

	return &StartResult{
		Conversation: e.view(conv),
		Greeting:     greetingMsg,
	}, nil
}

func (e *Engine) generateGreeting(ctx context.Context, conv *Conversation) string {
	callCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	req := LLMRequest{
		System:      []string{GreetingInstruction(conv)},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: "Hi, I'm ready to start."}},
		MaxTokens:   400,
		Temperature: 0.7,
	}
	start := time.Now()
	resp, err := e.llm.Complete(callCtx, req)
	e.metrics.ObserveLLMLatency(e.provider, time.Since(start).Seconds())
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		e.logger.Warn("greeting generation failed, using canned opener",
			"conversation_id", conv.ID, "error", err)
		if q, ok := QuestionAt(conv.ScreenerType, 0); ok {
			return fallbackGreeting + "\n\n" + q.Text
		}
		return fallbackGreeting
	}
	return resp.Text
}

// turnContext carries the shared state between the pre-LLM and post-LLM
// halves of a turn, so the blocking and streaming paths stay identical.
type turnContext struct {
	conv    *Conversation
	userMsg *Message
	history []ChatMessage
	req     LLMRequest

	// pivot short-circuits the turn; no model call happens.
	pivot *MessageResult
}

// beginTurn runs everything that must happen before any model output:
// validation, crisis screening, user-message persistence, and either the
// safety pivot or the assembled prompt.
func (e *Engine) beginTurn(ctx context.Context, req MessageRequest) (*turnContext, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	conv, err := e.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status != StatusActive {
		return nil, fmt.Errorf("%w: status is %s", ErrConversationNotActive, conv.Status)
	}

	history := e.loadHistory(ctx, conv)

	// Crisis screening runs before any model call and before the reply is
	// planned, so crisis content never reaches the LLM prompt path.
	risk := e.detector.DetectSafe(ctx, content)
	if risk.Level != RiskNone {
		e.metrics.ObserveCrisis(string(risk.Level), string(risk.Method))
	}

	userMsg := &Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Sender:         SenderUser,
		Content:        content,
		RiskLevel:      risk.Level,
		StreamComplete: true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("screener: persist user message: %w", err)
	}

	tc := &turnContext{conv: conv, userMsg: userMsg, history: history}

	if risk.Flagged() {
		event := &CrisisEvent{
			ID:              uuid.New(),
			ConversationID:  conv.ID,
			MessageID:       userMsg.ID,
			UserID:          conv.UserID,
			RiskLevel:       risk.Level,
			TriggerContent:  content,
			MatchedKeywords: risk.MatchedKeywords,
			Method:          risk.Method,
			CreatedAt:       time.Now().UTC(),
		}
		if err := e.store.CreateCrisisEvent(ctx, event); err != nil {
			return nil, fmt.Errorf("screener: record crisis event: %w", err)
		}

		if risk.RequiresPivot() {
			pivotRes, err := e.pivot.InitiatePivot(ctx, conv, event)
			if err != nil {
				return nil, err
			}

			pivotMsg := &Message{
				ID:             uuid.New(),
				ConversationID: conv.ID,
				Sender:         SenderSystem,
				Content:        pivotRes.Message,
				RiskLevel:      risk.Level,
				StreamComplete: true,
				CreatedAt:      time.Now().UTC(),
			}
			if err := e.store.AppendMessage(ctx, pivotMsg); err != nil {
				return nil, fmt.Errorf("screener: persist pivot message: %w", err)
			}

			tc.pivot = &MessageResult{
				Message:         pivotMsg,
				Conversation:    e.view(conv),
				RiskLevel:       risk.Level,
				ShowSafetyPivot: true,
				PivotType:       pivotRes.PivotType,
				CrisisResources: pivotRes.Resources,
			}
			e.metrics.ObserveMessage("crisis_pivot")
			return tc, nil
		}
	}

	clarify := e.pendingClarification(ctx, conv)
	tc.req = BuildPrompt(TurnInstruction(conv, clarify), history, content)
	return tc, nil
}

// finishTurn runs after the full model reply exists: extraction, assistant
// persistence, completion handling and cache refresh.
func (e *Engine) finishTurn(ctx context.Context, tc *turnContext, replyText string) (*MessageResult, error) {
	conv := tc.conv

	outcome, err := e.extractor.Extract(ctx, conv, tc.userMsg, tc.history)
	if err != nil {
		return nil, err
	}
	switch {
	case outcome.Advanced:
		e.metrics.ObserveExtraction("accepted")
	case outcome.Response != nil:
		e.metrics.ObserveExtraction("needs_clarification")
	default:
		e.metrics.ObserveExtraction("unanswered")
	}

	assistantMsg := &Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Sender:         SenderAI,
		Content:        replyText,
		RiskLevel:      tc.userMsg.RiskLevel,
		StreamComplete: true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.AppendMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("screener: persist assistant message: %w", err)
	}

	if conv.IsComplete() && conv.Status == StatusActive {
		e.completeConversation(ctx, conv)
	}

	history := append(tc.history,
		ChatMessage{Role: ChatRoleUser, Content: tc.userMsg.Content},
		ChatMessage{Role: ChatRoleAssistant, Content: replyText},
	)
	e.saveHistory(ctx, conv.ID, history)

	e.metrics.ObserveMessage("processed")
	return &MessageResult{
		Message:            assistantMsg,
		Conversation:       e.view(conv),
		RiskLevel:          tc.userMsg.RiskLevel,
		NeedsClarification: outcome.Response != nil && !outcome.Advanced,
	}, nil
}

// completeConversation transitions to completed and reports the score back
// to the assessment. Losing the transition race to a concurrent turn is
// fine; the side effects run exactly once on the winner.
func (e *Engine) completeConversation(ctx context.Context, conv *Conversation) {
	err := e.store.UpdateConversationStatus(ctx, conv.ID, StatusActive, StatusCompleted)
	if errors.Is(err, ErrStatusConflict) {
		return
	}
	if err != nil {
		e.logger.Error("failed to mark conversation completed",
			"conversation_id", conv.ID, "error", err)
		return
	}
	conv.Status = StatusCompleted

	responses, err := e.store.ListScreenerResponses(ctx, conv.ID)
	if err != nil {
		e.logger.Error("failed to load responses for scoring",
			"conversation_id", conv.ID, "error", err)
		return
	}
	score := 0
	for _, r := range responses {
		if r.Value != nil {
			score += *r.Value
		}
	}
	severity := SeverityBand(conv.ScreenerType, score)

	if err := e.assessments.RecordResult(ctx, conv.AssessmentID, score, severity); err != nil {
		e.logger.Error("failed to record assessment result",
			"conversation_id", conv.ID,
			"assessment_id", conv.AssessmentID,
			"error", err,
		)
		return
	}
	e.logger.Info("screener completed",
		"conversation_id", conv.ID,
		"assessment_id", conv.AssessmentID,
		"score", score,
		"severity", severity,
	)
	e.metrics.ObserveMessage("completed")
}

// ProcessMessage handles one user turn end to end with a blocking
// completion.
func (e *Engine) ProcessMessage(ctx context.Context, req MessageRequest) (*MessageResult, error) {
	ctx, span := engineTracer.Start(ctx, "screener.message")
	defer span.End()
	span.SetAttributes(attribute.String("screener.conversation_id", req.ConversationID.String()))

	tc, err := e.beginTurn(ctx, req)
	if err != nil {
		span.RecordError(err)
		e.metrics.ObserveMessage("rejected")
		return nil, err
	}
	if tc.pivot != nil {
		return tc.pivot, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.llm.Complete(callCtx, tc.req)
	e.metrics.ObserveLLMLatency(e.provider, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		e.metrics.ObserveMessage("llm_error")
		return nil, fmt.Errorf("screener: generate reply: %w", err)
	}

	return e.finishTurn(ctx, tc, resp.Text)
}

// ProcessMessageStream handles one user turn with a streamed reply. Chunks
// are forwarded as they arrive; nothing from the reply is persisted unless
// the stream runs to completion.
func (e *Engine) ProcessMessageStream(ctx context.Context, req MessageRequest) (<-chan StreamEvent, error) {
	ctx, span := engineTracer.Start(ctx, "screener.message_stream")
	span.SetAttributes(attribute.String("screener.conversation_id", req.ConversationID.String()))

	tc, err := e.beginTurn(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.End()
		e.metrics.ObserveMessage("rejected")
		return nil, err
	}

	events := make(chan StreamEvent, 8)

	if tc.pivot != nil {
		go func() {
			defer span.End()
			defer close(events)
			events <- StreamEvent{Result: tc.pivot}
		}()
		return events, nil
	}

	go func() {
		defer span.End()
		defer close(events)

		callCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
		defer cancel()

		start := time.Now()
		chunks, err := e.llm.CompleteStream(callCtx, tc.req)
		if err != nil {
			span.RecordError(err)
			e.metrics.ObserveMessage("llm_error")
			emitEvent(ctx, events, StreamEvent{Err: fmt.Errorf("screener: open reply stream: %w", err)})
			return
		}

		var reply strings.Builder
		for chunk := range chunks {
			if chunk.Error != nil {
				span.RecordError(chunk.Error)
				e.metrics.ObserveMessage("llm_error")
				emitEvent(ctx, events, StreamEvent{Err: fmt.Errorf("screener: reply stream failed: %w", chunk.Error)})
				return
			}
			if chunk.Text != "" {
				reply.WriteString(chunk.Text)
				if !emitEvent(ctx, events, StreamEvent{Chunk: chunk.Text}) {
					// Nobody is reading anymore. The user's message is
					// already durable; the partial reply is discarded.
					e.metrics.ObserveMessage("disconnected")
					return
				}
			}
			if chunk.Done {
				break
			}
		}
		e.metrics.ObserveLLMLatency(e.provider, time.Since(start).Seconds())

		if strings.TrimSpace(reply.String()) == "" {
			e.metrics.ObserveMessage("llm_error")
			emitEvent(ctx, events, StreamEvent{Err: errors.New("screener: reply stream produced no text")})
			return
		}
		if ctx.Err() != nil {
			// Client went away mid-stream. The user's message is already
			// durable; the partial reply is discarded.
			e.metrics.ObserveMessage("disconnected")
			emitEvent(ctx, events, StreamEvent{Err: ctx.Err()})
			return
		}

		result, err := e.finishTurn(ctx, tc, reply.String())
		if err != nil {
			span.RecordError(err)
			emitEvent(ctx, events, StreamEvent{Err: err})
			return
		}
		emitEvent(ctx, events, StreamEvent{Result: result})
	}()

	return events, nil
}

// emitEvent forwards a stream event unless the request context is gone,
// so a consumer that stops reading cannot strand the producer goroutine.
func emitEvent(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// RecordSafetyResponse applies the user's answer to a pending safety pivot.
func (e *Engine) RecordSafetyResponse(ctx context.Context, req SafetyRequest) (*SafetyResult, error) {
	ctx, span := engineTracer.Start(ctx, "screener.safety_response")
	defer span.End()
	span.SetAttributes(
		attribute.String("screener.conversation_id", req.ConversationID.String()),
		attribute.String("screener.safety_response", req.Response),
	)

	// Validate before touching any state.
	response, err := ParseSafetyResponse(req.Response)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	conv, err := e.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status != StatusCrisisPaused {
		return nil, ErrNoPendingPivot
	}

	event, err := e.store.LatestOpenCrisisEvent(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	outcome, err := e.pivot.ApplyResponse(ctx, conv, event, response)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ack := &Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Sender:         SenderSystem,
		Content:        outcome.Message,
		RiskLevel:      RiskNone,
		StreamComplete: true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.AppendMessage(ctx, ack); err != nil {
		e.logger.Error("failed to persist safety acknowledgement",
			"conversation_id", conv.ID, "error", err)
	}

	return &SafetyResult{
		Action:             outcome.Action,
		Message:            outcome.Message,
		Resources:          outcome.Resources,
		ConversationStatus: outcome.ConversationStatus,
	}, nil
}

// GetTranscript returns the ordered transcript for a conversation.
func (e *Engine) GetTranscript(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	if _, err := e.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return e.store.ListMessages(ctx, conversationID)
}

// pendingClarification returns the stored low-confidence response for the
// current question, if the last extraction left one.
func (e *Engine) pendingClarification(ctx context.Context, conv *Conversation) *ScreenerResponse {
	question, ok := QuestionAt(conv.ScreenerType, conv.CurrentQuestion)
	if !ok {
		return nil
	}
	responses, err := e.store.ListScreenerResponses(ctx, conv.ID)
	if err != nil {
		e.logger.Error("failed to check pending responses",
			"conversation_id", conv.ID, "error", err)
		return nil
	}
	for i := range responses {
		if responses[i].QuestionID == question.ID && responses[i].NeedsClarification() {
			return &responses[i]
		}
	}
	return nil
}

// loadHistory returns the prompt-ready transcript, preferring the Redis
// cache and rebuilding from Postgres on a miss.
func (e *Engine) loadHistory(ctx context.Context, conv *Conversation) []ChatMessage {
	if e.history != nil {
		cached, ok, err := e.history.Load(ctx, conv.ID.String())
		if err != nil {
			e.logger.Warn("history cache read failed, rebuilding",
				"conversation_id", conv.ID, "error", err)
		} else if ok {
			return cached
		}
	}

	messages, err := e.store.ListMessages(ctx, conv.ID)
	if err != nil {
		e.logger.Error("failed to rebuild history from transcript",
			"conversation_id", conv.ID, "error", err)
		return nil
	}
	history := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Sender {
		case SenderUser:
			history = append(history, ChatMessage{Role: ChatRoleUser, Content: m.Content})
		case SenderAI:
			history = append(history, ChatMessage{Role: ChatRoleAssistant, Content: m.Content})
		}
	}
	return history
}

func (e *Engine) saveHistory(ctx context.Context, conversationID uuid.UUID, history []ChatMessage) {
	if e.history == nil {
		return
	}
	if err := e.history.Save(ctx, conversationID.String(), history); err != nil {
		e.logger.Warn("history cache write failed",
			"conversation_id", conversationID, "error", err)
	}
}

func (e *Engine) view(conv *Conversation) ConversationView {
	return ConversationView{
		ID:                 conv.ID,
		AssessmentID:       conv.AssessmentID,
		ScreenerType:       conv.ScreenerType,
		Status:             conv.Status,
		QuestionsCompleted: conv.QuestionsCompleted,
		TotalQuestions:     TotalQuestions(conv.ScreenerType),
		IsComplete:         conv.IsComplete(),
	}
}
