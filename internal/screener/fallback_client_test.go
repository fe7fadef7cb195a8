package screener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallbackClient_PrimarySucceeds(t *testing.T) {
	primary := &stubLLM{reply: "from primary"}
	fallback := &stubLLM{reply: "from fallback"}
	c := NewFallbackClient(primary, fallback, discardLogger())

	resp, err := c.Complete(context.Background(), LLMRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from primary", resp.Text)
	assert.Zero(t, fallback.completeCalls())
}

func TestFallbackClient_FallsBackOnError(t *testing.T) {
	primary := &stubLLM{err: errors.New("throttled")}
	fallback := &stubLLM{reply: "from fallback"}
	c := NewFallbackClient(primary, fallback, discardLogger())

	resp, err := c.Complete(context.Background(), LLMRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Text)
	assert.Equal(t, 1, primary.completeCalls())
	assert.Equal(t, 1, fallback.completeCalls())
}

func TestFallbackClient_BothFail(t *testing.T) {
	primary := &stubLLM{err: errors.New("throttled")}
	fallback := &stubLLM{err: errors.New("also down")}
	c := NewFallbackClient(primary, fallback, discardLogger())

	_, err := c.Complete(context.Background(), LLMRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "also down")
}

func TestFallbackClient_NoFallbackConfigured(t *testing.T) {
	primary := &stubLLM{err: errors.New("throttled")}
	c := NewFallbackClient(primary, nil, discardLogger())

	_, err := c.Complete(context.Background(), LLMRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestFallbackClient_StreamOpenFailure(t *testing.T) {
	primary := &stubLLM{openErr: errors.New("cannot connect")}
	fallback := &stubLLM{chunks: []string{"hi ", "there"}}
	c := NewFallbackClient(primary, fallback, discardLogger())

	chunks, err := c.CompleteStream(context.Background(), LLMRequest{})
	require.NoError(t, err)

	var text string
	for chunk := range chunks {
		require.NoError(t, chunk.Error)
		text += chunk.Text
	}
	assert.Equal(t, "hi there", text)
}

func TestFallbackClient_StreamMidFlightErrorNotRetried(t *testing.T) {
	primary := &stubLLM{chunks: []string{"par"}, chunkErr: errors.New("reset")}
	fallback := &stubLLM{chunks: []string{"unused"}}
	c := NewFallbackClient(primary, fallback, discardLogger())

	chunks, err := c.CompleteStream(context.Background(), LLMRequest{})
	require.NoError(t, err)

	var sawErr bool
	for chunk := range chunks {
		if chunk.Error != nil {
			sawErr = true
		}
	}
	assert.True(t, sawErr)
	assert.Zero(t, fallback.streamCalls)
}
