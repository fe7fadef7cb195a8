package screener

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is an internal message representation that can include system prompts.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// StreamChunk is one unit of a streamed completion. The producer closes the
// channel after sending a chunk with Done=true (or a non-nil Error).
type StreamChunk struct {
	Text  string
	Done  bool
	Usage TokenUsage
	Error error
}

type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
	CompleteStream(ctx context.Context, req LLMRequest) (<-chan StreamChunk, error)
}

// Extraction is the structured result of mapping a free-text reply onto a
// screener question. Value is nil when no answer could be read.
type Extraction struct {
	QuestionID string
	Value      *int
	Confidence float64
}

// StructuredExtractor turns a conversational answer into a Likert value via
// model function calling.
type StructuredExtractor interface {
	ExtractResponse(ctx context.Context, q Question, userText string, history []ChatMessage) (Extraction, error)
}
