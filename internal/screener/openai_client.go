package screener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/careloop-health/screener-engine/pkg/logging"
)

var openaiTracer = otel.Tracer("screener.internal.llm.openai")

const extractFunctionName = "record_screener_response"

// chatClient is the subset of the OpenAI client the screener needs; tests
// substitute a stub.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// OpenAIClient adapts the OpenAI chat API to the LLMClient and
// StructuredExtractor interfaces.
type OpenAIClient struct {
	client chatClient
	model  string
	logger *logging.Logger
}

// NewOpenAIClient builds a client around an API key. Model defaults to
// gpt-4o when empty.
func NewOpenAIClient(apiKey, model string, logger *logging.Logger) *OpenAIClient {
	if apiKey == "" {
		panic("screener: openai api key cannot be empty")
	}
	return newOpenAIClient(openai.NewClient(apiKey), model, logger)
}

func newOpenAIClient(client chatClient, model string, logger *logging.Logger) *OpenAIClient {
	if client == nil {
		panic("screener: chat client cannot be nil")
	}
	if model == "" {
		model = "gpt-4o"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &OpenAIClient{client: client, model: model, logger: logger}
}

// Complete runs a blocking chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	ctx, span := openaiTracer.Start(ctx, "llm.openai.complete")
	defer span.End()

	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		span.RecordError(err)
		return LLMResponse{}, fmt.Errorf("screener: openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := errors.New("screener: openai returned no choices")
		span.RecordError(err)
		return LLMResponse{}, err
	}
	if span.IsRecording() {
		span.SetAttributes(attribute.Int("screener.openai.choices", len(resp.Choices)))
	}

	return LLMResponse{
		Text: strings.TrimSpace(resp.Choices[0].Message.Content),
		Usage: TokenUsage{
			InputTokens:  int32(resp.Usage.PromptTokens),
			OutputTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:  int32(resp.Usage.TotalTokens),
		},
		StopReason: string(resp.Choices[0].FinishReason),
	}, nil
}

// CompleteStream opens a streaming completion and forwards deltas on the
// returned channel. The channel is closed after the Done chunk.
func (c *OpenAIClient) CompleteStream(ctx context.Context, req LLMRequest) (<-chan StreamChunk, error) {
	ctx, span := openaiTracer.Start(ctx, "llm.openai.stream")

	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		span.RecordError(err)
		span.End()
		return nil, fmt.Errorf("screener: openai stream open failed: %w", err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer span.End()
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- StreamChunk{Done: true}
				return
			}
			if err != nil {
				span.RecordError(err)
				out <- StreamChunk{Error: fmt.Errorf("screener: openai stream recv failed: %w", err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case out <- StreamChunk{Text: delta}:
			case <-ctx.Done():
				out <- StreamChunk{Error: ctx.Err()}
				return
			}
		}
	}()
	return out, nil
}

func (c *OpenAIClient) buildRequest(req LLMRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.System)+len(req.Messages))
	for _, sys := range req.System {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: sys})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	out := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = int(req.MaxTokens)
	}
	return out
}

// extractArgs mirrors the JSON schema of the extraction function call.
type extractArgs struct {
	QuestionID string   `json:"question_id"`
	Value      *int     `json:"value"`
	Confidence *float64 `json:"confidence"`
}

var extractSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"question_id": {"type": "string", "description": "Stable id of the question being answered"},
		"value": {"type": ["integer", "null"], "minimum": 0, "maximum": 4, "description": "Likert value 0-4, null if the reply does not answer the question"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"required": ["question_id", "confidence"]
}`)

// ExtractResponse maps a conversational reply onto a Likert value using a
// forced function call. A reply the model cannot score comes back with a
// nil Value rather than an error.
func (c *OpenAIClient) ExtractResponse(ctx context.Context, q Question, userText string, history []ChatMessage) (Extraction, error) {
	ctx, span := openaiTracer.Start(ctx, "llm.openai.extract")
	defer span.End()
	span.SetAttributes(attribute.String("screener.question_id", q.ID))

	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: extractionInstruction(q),
	}}
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userText})

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionDefinition{
				Name:        extractFunctionName,
				Description: "Record the structured answer to the current screener question.",
				Parameters:  extractSchema,
			},
		}},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: extractFunctionName},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		return Extraction{}, fmt.Errorf("screener: openai extraction failed: %w", err)
	}
	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		c.logger.Warn("extraction returned no tool call", "question_id", q.ID)
		return Extraction{QuestionID: q.ID}, nil
	}

	var args extractArgs
	raw := resp.Choices[0].Message.ToolCalls[0].Function.Arguments
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		// Malformed arguments are treated as an unanswered turn.
		c.logger.Warn("extraction arguments unparseable", "question_id", q.ID, "error", err)
		return Extraction{QuestionID: q.ID}, nil
	}

	ext := Extraction{QuestionID: args.QuestionID}
	if ext.QuestionID == "" {
		ext.QuestionID = q.ID
	}
	if args.Confidence != nil {
		ext.Confidence = clamp01(*args.Confidence)
	}
	if args.Value != nil && *args.Value >= 0 && *args.Value <= LikertMax {
		v := *args.Value
		ext.Value = &v
	}
	return ext, nil
}

func extractionInstruction(q Question) string {
	return fmt.Sprintf(`You convert a conversational reply into a structured screening answer.

The question being answered:
  id: %s
  text: %s

Map the user's most recent message onto a 0-4 scale:
0 = never, 1 = rarely, 2 = sometimes, 3 = often, 4 = always.
If the message does not answer the question, set value to null.
Report confidence between 0 and 1. Always call %s.`, q.ID, q.Text, extractFunctionName)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
