package screener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool the store uses; pgxmock satisfies
// it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the Postgres-backed Store implementation.
type PGStore struct {
	pool PgxPool
}

func NewPGStore(pool PgxPool) *PGStore {
	if pool == nil {
		panic("screener: pgx pool cannot be nil")
	}
	return &PGStore{pool: pool}
}

func (s *PGStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	metadata := conv.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("screener: marshal conversation metadata: %w", err)
	}

	query := `
		INSERT INTO conversations (id, assessment_id, user_id, screener_type, status, current_question, questions_completed, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.pool.Exec(ctx, query,
		conv.ID, conv.AssessmentID, conv.UserID, string(conv.ScreenerType), string(conv.Status),
		conv.CurrentQuestion, conv.QuestionsCompleted, metaJSON, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("screener: create conversation: %w", err)
	}
	return nil
}

func (s *PGStore) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	query := `
		SELECT id, assessment_id, user_id, screener_type, status, current_question, questions_completed, metadata, created_at, updated_at, discarded_at
		FROM conversations
		WHERE id = $1 AND discarded_at IS NULL
	`
	var (
		conv     Conversation
		metaJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&conv.ID, &conv.AssessmentID, &conv.UserID, &conv.ScreenerType, &conv.Status,
		&conv.CurrentQuestion, &conv.QuestionsCompleted, &metaJSON, &conv.CreatedAt, &conv.UpdatedAt, &conv.DiscardedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("screener: get conversation: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &conv.Metadata); err != nil {
			return nil, fmt.Errorf("screener: decode conversation metadata: %w", err)
		}
	}
	return &conv, nil
}

func (s *PGStore) UpdateConversationStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s is not a legal transition", ErrStatusConflict, from, to)
	}
	query := `
		UPDATE conversations
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2 AND discarded_at IS NULL
	`
	tag, err := s.pool.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("screener: update conversation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: conversation %s left state %s", ErrStatusConflict, id, from)
	}
	return nil
}

func (s *PGStore) AdvanceProgress(ctx context.Context, id uuid.UUID, questionsCompleted, currentQuestion int) error {
	// GREATEST keeps progress monotonic under concurrent turns.
	query := `
		UPDATE conversations
		SET questions_completed = GREATEST(questions_completed, $2),
		    current_question = GREATEST(current_question, $3),
		    updated_at = now()
		WHERE id = $1 AND discarded_at IS NULL
	`
	tag, err := s.pool.Exec(ctx, query, id, questionsCompleted, currentQuestion)
	if err != nil {
		return fmt.Errorf("screener: advance progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *PGStore) DiscardConversation(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE conversations SET discarded_at = now(), updated_at = now() WHERE id = $1 AND discarded_at IS NULL`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("screener: discard conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

const appendMessageRetries = 5

// AppendMessage assigns max(sequence)+1 inside the insert itself. Two
// concurrent appends can compute the same number; the unique index on
// (conversation_id, sequence_number) rejects the loser and we retry.
func (s *PGStore) AppendMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender, content, risk_level, sequence_number, extracted_question_id, extracted_value, stream_complete, created_at)
		SELECT $1, $2, $3, $4, $5, COALESCE(MAX(sequence_number), 0) + 1, NULLIF($6, ''), $7, $8, $9
		FROM messages WHERE conversation_id = $2
		RETURNING sequence_number
	`
	var lastErr error
	for attempt := 0; attempt < appendMessageRetries; attempt++ {
		err := s.pool.QueryRow(ctx, query,
			msg.ID, msg.ConversationID, string(msg.Sender), msg.Content, string(msg.RiskLevel),
			msg.ExtractedQuestionID, msg.ExtractedValue, msg.StreamComplete, msg.CreatedAt,
		).Scan(&msg.Sequence)
		if err == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			lastErr = err
			continue
		}
		return fmt.Errorf("screener: append message: %w", err)
	}
	return fmt.Errorf("screener: append message: sequence contention not resolved after %d attempts: %w", appendMessageRetries, lastErr)
}

func (s *PGStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	query := `
		SELECT id, conversation_id, sender, content, risk_level, sequence_number, COALESCE(extracted_question_id, ''), extracted_value, stream_complete, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sequence_number ASC
	`
	rows, err := s.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("screener: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.Sender, &m.Content, &m.RiskLevel,
			&m.Sequence, &m.ExtractedQuestionID, &m.ExtractedValue, &m.StreamComplete, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("screener: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("screener: list messages: %w", err)
	}
	return out, nil
}

func (s *PGStore) AttachExtraction(ctx context.Context, messageID uuid.UUID, questionID string, value int) error {
	// The payload applies at most once; an already-filled message is left
	// untouched.
	query := `
		UPDATE messages
		SET extracted_question_id = $2, extracted_value = $3
		WHERE id = $1 AND extracted_question_id IS NULL
	`
	if _, err := s.pool.Exec(ctx, query, messageID, questionID, value); err != nil {
		return fmt.Errorf("screener: attach extraction: %w", err)
	}
	return nil
}

func (s *PGStore) UpsertScreenerResponse(ctx context.Context, resp *ScreenerResponse) error {
	query := `
		INSERT INTO screener_responses (id, conversation_id, message_id, question_id, raw_text, value, confidence, verified, clarification_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10)
		ON CONFLICT (conversation_id, question_id) DO UPDATE SET
			message_id = EXCLUDED.message_id,
			raw_text = EXCLUDED.raw_text,
			value = EXCLUDED.value,
			confidence = EXCLUDED.confidence,
			verified = EXCLUDED.verified,
			clarification_attempts = screener_responses.clarification_attempts + 1,
			updated_at = now()
		RETURNING id, clarification_attempts
	`
	err := s.pool.QueryRow(ctx, query,
		resp.ID, resp.ConversationID, resp.MessageID, resp.QuestionID, resp.RawText,
		resp.Value, resp.Confidence, resp.Verified, resp.CreatedAt, resp.UpdatedAt,
	).Scan(&resp.ID, &resp.ClarificationAttempts)
	if err != nil {
		return fmt.Errorf("screener: upsert screener response: %w", err)
	}
	return nil
}

func (s *PGStore) ListScreenerResponses(ctx context.Context, conversationID uuid.UUID) ([]ScreenerResponse, error) {
	query := `
		SELECT id, conversation_id, message_id, question_id, raw_text, value, confidence, verified, clarification_attempts, created_at, updated_at
		FROM screener_responses
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("screener: list screener responses: %w", err)
	}
	defer rows.Close()

	var out []ScreenerResponse
	for rows.Next() {
		var r ScreenerResponse
		if err := rows.Scan(
			&r.ID, &r.ConversationID, &r.MessageID, &r.QuestionID, &r.RawText,
			&r.Value, &r.Confidence, &r.Verified, &r.ClarificationAttempts, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("screener: scan screener response: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("screener: list screener responses: %w", err)
	}
	return out, nil
}

func (s *PGStore) CreateCrisisEvent(ctx context.Context, event *CrisisEvent) error {
	query := `
		INSERT INTO crisis_events (id, conversation_id, message_id, user_id, risk_level, trigger_content, matched_keywords, detection_method, pivot_shown, needs_review, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.pool.Exec(ctx, query,
		event.ID, event.ConversationID, event.MessageID, event.UserID, string(event.RiskLevel),
		event.TriggerContent, event.MatchedKeywords, string(event.Method), event.PivotShown, event.NeedsReview, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("screener: create crisis event: %w", err)
	}
	return nil
}

func (s *PGStore) LatestOpenCrisisEvent(ctx context.Context, conversationID uuid.UUID) (*CrisisEvent, error) {
	query := `
		SELECT id, conversation_id, message_id, user_id, risk_level, trigger_content, matched_keywords, detection_method, pivot_shown, user_response, needs_review, COALESCE(reviewed_by, ''), resolved_at, COALESCE(resolved_by, ''), COALESCE(resolution_notes, ''), created_at
		FROM crisis_events
		WHERE conversation_id = $1 AND resolved_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`
	var (
		event        CrisisEvent
		userResponse *string
	)
	err := s.pool.QueryRow(ctx, query, conversationID).Scan(
		&event.ID, &event.ConversationID, &event.MessageID, &event.UserID, &event.RiskLevel,
		&event.TriggerContent, &event.MatchedKeywords, &event.Method, &event.PivotShown,
		&userResponse, &event.NeedsReview, &event.ReviewedBy, &event.ResolvedAt, &event.ResolvedBy, &event.ResolutionNotes, &event.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoPendingPivot
	}
	if err != nil {
		return nil, fmt.Errorf("screener: load open crisis event: %w", err)
	}
	if userResponse != nil {
		resp := SafetyResponse(*userResponse)
		event.UserResponse = &resp
	}
	return &event, nil
}

func (s *PGStore) MarkPivotShown(ctx context.Context, eventID uuid.UUID) error {
	query := `UPDATE crisis_events SET pivot_shown = true WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, eventID); err != nil {
		return fmt.Errorf("screener: mark pivot shown: %w", err)
	}
	return nil
}

func (s *PGStore) RecordPivotResponse(ctx context.Context, eventID uuid.UUID, response SafetyResponse, needsReview bool) error {
	query := `UPDATE crisis_events SET user_response = $2, needs_review = $3 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, eventID, string(response), needsReview); err != nil {
		return fmt.Errorf("screener: record pivot response: %w", err)
	}
	return nil
}

func (s *PGStore) ResolveCrisisEvent(ctx context.Context, eventID uuid.UUID, resolvedBy, notes string) error {
	query := `
		UPDATE crisis_events
		SET resolved_at = now(), resolved_by = $2, resolution_notes = $3
		WHERE id = $1 AND resolved_at IS NULL
	`
	if _, err := s.pool.Exec(ctx, query, eventID, resolvedBy, notes); err != nil {
		return fmt.Errorf("screener: resolve crisis event: %w", err)
	}
	return nil
}
