package screener

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultHistoryTTL = 24 * time.Hour

// HistoryStore caches the prompt-ready transcript in Redis so each turn does
// not have to rebuild it from Postgres. A cache miss is not an error; the
// engine falls back to the transcript table.
type HistoryStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewHistoryStore(redisClient *redis.Client, ttl time.Duration) *HistoryStore {
	if redisClient == nil {
		panic("screener: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultHistoryTTL
	}
	return &HistoryStore{
		redis:  redisClient,
		ttl:    ttl,
		tracer: otel.Tracer("screener.internal.history"),
	}
}

func (s *HistoryStore) Save(ctx context.Context, conversationID string, history []ChatMessage) error {
	ctx, span := s.tracer.Start(ctx, "screener.save_history")
	defer span.End()

	data, err := json.Marshal(history)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("screener: failed to marshal history: %w", err)
	}
	if err := s.redis.Set(ctx, historyKey(conversationID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("screener: failed to persist history: %w", err)
	}
	return nil
}

// Load returns the cached transcript, or (nil, false, nil) on a cache miss.
func (s *HistoryStore) Load(ctx context.Context, conversationID string) ([]ChatMessage, bool, error) {
	ctx, span := s.tracer.Start(ctx, "screener.load_history")
	defer span.End()

	data, err := s.redis.Get(ctx, historyKey(conversationID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		span.RecordError(err)
		return nil, false, fmt.Errorf("screener: failed to load history: %w", err)
	}

	var history []ChatMessage
	if err := json.Unmarshal(data, &history); err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("screener: failed to decode history: %w", err)
	}
	return history, true, nil
}

// Invalidate drops the cached transcript, forcing the next turn to rebuild
// from the source of truth.
func (s *HistoryStore) Invalidate(ctx context.Context, conversationID string) error {
	ctx, span := s.tracer.Start(ctx, "screener.invalidate_history")
	defer span.End()

	if err := s.redis.Del(ctx, historyKey(conversationID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("screener: failed to invalidate history: %w", err)
	}
	return nil
}

func historyKey(id string) string {
	return fmt.Sprintf("screener:history:%s", id)
}
