package screener

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careloop-health/screener-engine/pkg/logging"
)

// stubChatClient plays back a canned chat completion response.
type stubChatClient struct {
	resp    openai.ChatCompletionResponse
	err     error
	lastReq openai.ChatCompletionRequest
}

func (s *stubChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.lastReq = req
	return s.resp, s.err
}

func (s *stubChatClient) CreateChatCompletionStream(_ context.Context, _ openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	return nil, errors.New("not supported in stub")
}

func toolCallResponse(args string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				ToolCalls: []openai.ToolCall{{
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: extractFunctionName, Arguments: args},
				}},
			},
		}},
	}
}

func TestOpenAIComplete(t *testing.T) {
	stub := &stubChatClient{
		resp: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Content: "  Hello there.  "},
				FinishReason: openai.FinishReasonStop,
			}},
			Usage: openai.Usage{PromptTokens: 20, CompletionTokens: 5, TotalTokens: 25},
		},
	}
	c := newOpenAIClient(stub, "gpt-4o", logging.New("error"))

	resp, err := c.Complete(context.Background(), LLMRequest{
		System:   []string{"be brief"},
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", resp.Text)
	assert.Equal(t, int32(20), resp.Usage.InputTokens)
	assert.Equal(t, int32(5), resp.Usage.OutputTokens)
	assert.Equal(t, "stop", resp.StopReason)

	// System strings precede the conversation in the wire request.
	require.Len(t, stub.lastReq.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, stub.lastReq.Messages[0].Role)
}

func TestOpenAIComplete_NoChoices(t *testing.T) {
	c := newOpenAIClient(&stubChatClient{}, "", logging.New("error"))
	_, err := c.Complete(context.Background(), LLMRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestOpenAIComplete_APIError(t *testing.T) {
	c := newOpenAIClient(&stubChatClient{err: errors.New("boom")}, "", logging.New("error"))
	_, err := c.Complete(context.Background(), LLMRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completion failed")
}

func TestExtractResponse(t *testing.T) {
	q, _ := QuestionAt(ScreenerPHQ9A, 0)

	cases := []struct {
		name       string
		args       string
		wantValue  *int
		wantConf   float64
		wantQID    string
	}{
		{
			name:      "clear answer",
			args:      `{"question_id": "phq9a_1", "value": 3, "confidence": 0.9}`,
			wantValue: intPtr(3),
			wantConf:  0.9,
			wantQID:   "phq9a_1",
		},
		{
			name:      "no answer",
			args:      `{"question_id": "phq9a_1", "value": null, "confidence": 0.85}`,
			wantValue: nil,
			wantConf:  0.85,
			wantQID:   "phq9a_1",
		},
		{
			name:      "out of range dropped",
			args:      `{"question_id": "phq9a_1", "value": 9, "confidence": 0.9}`,
			wantValue: nil,
			wantConf:  0.9,
			wantQID:   "phq9a_1",
		},
		{
			name:      "confidence clamped",
			args:      `{"question_id": "phq9a_1", "value": 2, "confidence": 1.7}`,
			wantValue: intPtr(2),
			wantConf:  1.0,
			wantQID:   "phq9a_1",
		},
		{
			name:      "missing question id defaults to pending",
			args:      `{"value": 1, "confidence": 0.8}`,
			wantValue: intPtr(1),
			wantConf:  0.8,
			wantQID:   "phq9a_1",
		},
		{
			name:      "malformed arguments degrade to unanswered",
			args:      `{"value": "often"`,
			wantValue: nil,
			wantConf:  0,
			wantQID:   "phq9a_1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubChatClient{resp: toolCallResponse(tc.args)}
			c := newOpenAIClient(stub, "gpt-4o", logging.New("error"))

			ext, err := c.ExtractResponse(context.Background(), q, "some reply", nil)
			require.NoError(t, err)
			assert.Equal(t, tc.wantQID, ext.QuestionID)
			assert.InDelta(t, tc.wantConf, ext.Confidence, 0.001)
			if tc.wantValue == nil {
				assert.Nil(t, ext.Value)
			} else {
				require.NotNil(t, ext.Value)
				assert.Equal(t, *tc.wantValue, *ext.Value)
			}

			// Extraction always forces the recording tool.
			require.Len(t, stub.lastReq.Tools, 1)
			assert.Equal(t, extractFunctionName, stub.lastReq.Tools[0].Function.Name)
		})
	}
}

func TestExtractResponse_NoToolCall(t *testing.T) {
	q, _ := QuestionAt(ScreenerPHQ9A, 0)
	stub := &stubChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: "I cannot do that"},
		}},
	}}
	c := newOpenAIClient(stub, "gpt-4o", logging.New("error"))

	ext, err := c.ExtractResponse(context.Background(), q, "some reply", nil)
	require.NoError(t, err)
	assert.Equal(t, q.ID, ext.QuestionID)
	assert.Nil(t, ext.Value)
}

func TestExtractResponse_APIError(t *testing.T) {
	q, _ := QuestionAt(ScreenerPHQ9A, 0)
	c := newOpenAIClient(&stubChatClient{err: errors.New("boom")}, "gpt-4o", logging.New("error"))

	_, err := c.ExtractResponse(context.Background(), q, "some reply", nil)
	assert.Error(t, err)
}
