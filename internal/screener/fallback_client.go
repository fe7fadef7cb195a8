package screener

import (
	"context"
	"log/slog"
)

// FallbackClient wraps a primary LLM client with a fallback provider.
// If the primary fails, it automatically retries with the fallback.
type FallbackClient struct {
	primary  LLMClient
	fallback LLMClient
	logger   *slog.Logger
}

// NewFallbackClient creates a fallback-enabled LLM client. If fallback is
// nil, only the primary provider is used.
func NewFallbackClient(primary, fallback LLMClient, logger *slog.Logger) *FallbackClient {
	if primary == nil {
		panic("screener: primary LLM client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackClient{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// Complete sends a completion request to the primary LLM. If it fails and a
// fallback is configured, retries with the fallback.
func (c *FallbackClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}

	c.logger.Warn("primary LLM failed, attempting fallback",
		"error", err.Error(),
		"fallback_available", c.fallback != nil,
	)

	if c.fallback == nil {
		return LLMResponse{}, err
	}

	fallbackResp, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("fallback LLM also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return LLMResponse{}, fallbackErr
	}

	c.logger.Info("fallback LLM succeeded after primary failure")
	return fallbackResp, nil
}

// CompleteStream opens a stream on the primary provider and falls back only
// when the stream cannot be opened at all. A stream that errors mid-flight
// is surfaced to the caller; replaying half a response from a different
// provider would duplicate text the client already rendered.
func (c *FallbackClient) CompleteStream(ctx context.Context, req LLMRequest) (<-chan StreamChunk, error) {
	chunks, err := c.primary.CompleteStream(ctx, req)
	if err == nil {
		return chunks, nil
	}

	c.logger.Warn("primary LLM stream open failed, attempting fallback",
		"error", err.Error(),
		"fallback_available", c.fallback != nil,
	)

	if c.fallback == nil {
		return nil, err
	}

	fallbackChunks, fallbackErr := c.fallback.CompleteStream(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("fallback LLM stream also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return nil, fallbackErr
	}

	c.logger.Info("fallback LLM stream opened after primary failure")
	return fallbackChunks, nil
}
