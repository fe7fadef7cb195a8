package screener

import (
	"context"

	"github.com/google/uuid"
)

// Store is the durable persistence boundary for conversations, transcripts,
// structured responses and crisis events. Postgres is the source of truth;
// the Redis history cache is an optimization on top of it.
type Store interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)

	// UpdateConversationStatus is a compare-and-set on the lifecycle state.
	// It fails with ErrStatusConflict when the conversation is no longer in
	// the expected state, so concurrent transitions cannot double-apply.
	UpdateConversationStatus(ctx context.Context, id uuid.UUID, from, to Status) error

	// AdvanceProgress records one more answered question. Progress never
	// moves backwards or past the instrument length.
	AdvanceProgress(ctx context.Context, id uuid.UUID, questionsCompleted, currentQuestion int) error

	// DiscardConversation soft-deletes; discarded conversations disappear
	// from reads but rows stay for audit.
	DiscardConversation(ctx context.Context, id uuid.UUID) error

	// AppendMessage persists a transcript entry and assigns the next
	// sequence number for the conversation. Sequence assignment is
	// serialized, so concurrent appends never share a number.
	AppendMessage(ctx context.Context, msg *Message) error

	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error)

	// AttachExtraction fills a message's extraction payload. It applies at
	// most once per message; content and ordering stay immutable.
	AttachExtraction(ctx context.Context, messageID uuid.UUID, questionID string, value int) error

	// UpsertScreenerResponse inserts or, for a repeated question, updates
	// the single row per (conversation, question). Updates bump the
	// clarification attempt counter.
	UpsertScreenerResponse(ctx context.Context, resp *ScreenerResponse) error

	ListScreenerResponses(ctx context.Context, conversationID uuid.UUID) ([]ScreenerResponse, error)

	CreateCrisisEvent(ctx context.Context, event *CrisisEvent) error

	// LatestOpenCrisisEvent returns the newest unresolved event for the
	// conversation, or ErrNoPendingPivot when none exists.
	LatestOpenCrisisEvent(ctx context.Context, conversationID uuid.UUID) (*CrisisEvent, error)

	MarkPivotShown(ctx context.Context, eventID uuid.UUID) error
	RecordPivotResponse(ctx context.Context, eventID uuid.UUID, response SafetyResponse, needsReview bool) error
	ResolveCrisisEvent(ctx context.Context, eventID uuid.UUID, resolvedBy, notes string) error
}
