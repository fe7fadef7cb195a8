package screener

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store for engine and pivot tests. Sequence
// assignment is serialized under the mutex the same way Postgres serializes
// it with the unique index.
type memStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*Conversation
	messages      map[uuid.UUID][]Message
	responses     map[uuid.UUID][]ScreenerResponse
	crisisEvents  map[uuid.UUID][]*CrisisEvent

	appendErr error
	statusErr error
}

func newMemStore() *memStore {
	return &memStore{
		conversations: make(map[uuid.UUID]*Conversation),
		messages:      make(map[uuid.UUID][]Message),
		responses:     make(map[uuid.UUID][]ScreenerResponse),
		crisisEvents:  make(map[uuid.UUID][]*CrisisEvent),
	}
}

func (s *memStore) seed(conv *Conversation) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *conv
	s.conversations[conv.ID] = &cp
	return conv
}

func (s *memStore) CreateConversation(_ context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *conv
	s.conversations[conv.ID] = &cp
	return nil
}

func (s *memStore) GetConversation(_ context.Context, id uuid.UUID) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || conv.DiscardedAt != nil {
		return nil, ErrConversationNotFound
	}
	cp := *conv
	return &cp, nil
}

func (s *memStore) UpdateConversationStatus(_ context.Context, id uuid.UUID, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return s.statusErr
	}
	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	if !from.CanTransition(to) || conv.Status != from {
		return ErrStatusConflict
	}
	conv.Status = to
	return nil
}

func (s *memStore) AdvanceProgress(_ context.Context, id uuid.UUID, questionsCompleted, currentQuestion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	if questionsCompleted > conv.QuestionsCompleted {
		conv.QuestionsCompleted = questionsCompleted
	}
	if currentQuestion > conv.CurrentQuestion {
		conv.CurrentQuestion = currentQuestion
	}
	return nil
}

func (s *memStore) DiscardConversation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || conv.DiscardedAt != nil {
		return ErrConversationNotFound
	}
	now := time.Now()
	conv.DiscardedAt = &now
	return nil
}

func (s *memStore) AppendMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	msg.Sequence = len(s.messages[msg.ConversationID]) + 1
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

func (s *memStore) ListMessages(_ context.Context, conversationID uuid.UUID) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	return out, nil
}

func (s *memStore) AttachExtraction(_ context.Context, messageID uuid.UUID, questionID string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for convID := range s.messages {
		for i := range s.messages[convID] {
			m := &s.messages[convID][i]
			if m.ID == messageID && m.ExtractedQuestionID == "" {
				m.ExtractedQuestionID = questionID
				v := value
				m.ExtractedValue = &v
			}
		}
	}
	return nil
}

func (s *memStore) UpsertScreenerResponse(_ context.Context, resp *ScreenerResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.responses[resp.ConversationID]
	for i := range list {
		if list[i].QuestionID == resp.QuestionID {
			resp.ID = list[i].ID
			resp.ClarificationAttempts = list[i].ClarificationAttempts + 1
			list[i] = *resp
			return nil
		}
	}
	s.responses[resp.ConversationID] = append(list, *resp)
	return nil
}

func (s *memStore) ListScreenerResponses(_ context.Context, conversationID uuid.UUID) ([]ScreenerResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScreenerResponse, len(s.responses[conversationID]))
	copy(out, s.responses[conversationID])
	return out, nil
}

func (s *memStore) CreateCrisisEvent(_ context.Context, event *CrisisEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.crisisEvents[event.ConversationID] = append(s.crisisEvents[event.ConversationID], &cp)
	return nil
}

func (s *memStore) LatestOpenCrisisEvent(_ context.Context, conversationID uuid.UUID) (*CrisisEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.crisisEvents[conversationID]
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].ResolvedAt == nil {
			cp := *events[i]
			return &cp, nil
		}
	}
	return nil, ErrNoPendingPivot
}

func (s *memStore) findEvent(eventID uuid.UUID) *CrisisEvent {
	for _, events := range s.crisisEvents {
		for _, e := range events {
			if e.ID == eventID {
				return e
			}
		}
	}
	return nil
}

func (s *memStore) MarkPivotShown(_ context.Context, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.findEvent(eventID); e != nil {
		e.PivotShown = true
	}
	return nil
}

func (s *memStore) RecordPivotResponse(_ context.Context, eventID uuid.UUID, response SafetyResponse, needsReview bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.findEvent(eventID); e != nil {
		r := response
		e.UserResponse = &r
		e.NeedsReview = needsReview
	}
	return nil
}

func (s *memStore) ResolveCrisisEvent(_ context.Context, eventID uuid.UUID, resolvedBy, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.findEvent(eventID); e != nil && e.ResolvedAt == nil {
		now := time.Now()
		e.ResolvedAt = &now
		e.ResolvedBy = resolvedBy
		e.ResolutionNotes = notes
	}
	return nil
}

func (s *memStore) messageCount(conversationID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[conversationID])
}

func (s *memStore) lastMessage(conversationID uuid.UUID) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if len(msgs) == 0 {
		return nil
	}
	cp := msgs[len(msgs)-1]
	return &cp
}

func (s *memStore) openEvents(conversationID uuid.UUID) []*CrisisEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*CrisisEvent
	for _, e := range s.crisisEvents[conversationID] {
		cp := *e
		out = append(out, &cp)
	}
	return out
}
