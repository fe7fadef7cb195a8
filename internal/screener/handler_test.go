package screener

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careloop-health/screener-engine/pkg/logging"
)

// stubService implements Service with overridable function fields.
type stubService struct {
	start    func(ctx context.Context, req StartRequest) (*StartResult, error)
	process  func(ctx context.Context, req MessageRequest) (*MessageResult, error)
	stream   func(ctx context.Context, req MessageRequest) (<-chan StreamEvent, error)
	safety   func(ctx context.Context, req SafetyRequest) (*SafetyResult, error)
	messages func(ctx context.Context, conversationID uuid.UUID) ([]Message, error)
}

func (s *stubService) StartConversation(ctx context.Context, req StartRequest) (*StartResult, error) {
	return s.start(ctx, req)
}

func (s *stubService) ProcessMessage(ctx context.Context, req MessageRequest) (*MessageResult, error) {
	return s.process(ctx, req)
}

func (s *stubService) ProcessMessageStream(ctx context.Context, req MessageRequest) (<-chan StreamEvent, error) {
	return s.stream(ctx, req)
}

func (s *stubService) RecordSafetyResponse(ctx context.Context, req SafetyRequest) (*SafetyResult, error) {
	return s.safety(ctx, req)
}

func (s *stubService) GetTranscript(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	return s.messages(ctx, conversationID)
}

func newTestRouter(svc Service) http.Handler {
	h := NewHandler(svc, logging.New("error"))
	sh := NewStreamHandler(h, nil)
	r := chi.NewRouter()
	r.Post("/conversations", h.Start)
	r.Route("/conversations/{id}", func(r chi.Router) {
		r.Post("/messages", h.Message)
		r.Get("/messages", h.Transcript)
		r.Post("/safety_response", h.SafetyResponse)
		r.Get("/stream", sh.Stream)
	})
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Start(t *testing.T) {
	convID := uuid.New()
	svc := &stubService{
		start: func(_ context.Context, req StartRequest) (*StartResult, error) {
			assert.Equal(t, "asmt-1", req.AssessmentID)
			return &StartResult{
				Conversation: ConversationView{
					ID:             convID,
					AssessmentID:   req.AssessmentID,
					ScreenerType:   ScreenerPHQ9A,
					Status:         StatusActive,
					TotalQuestions: 9,
				},
				Greeting: &Message{ID: uuid.New(), Sender: SenderAI, Content: "Welcome!", Sequence: 1},
			}, nil
		},
	}
	rec := doJSON(t, newTestRouter(svc), http.MethodPost, "/conversations", `{"assessmentId":"asmt-1"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var body struct {
		Conversation ConversationView `json:"conversation"`
		Greeting     struct {
			Content string `json:"content"`
			Sender  string `json:"sender"`
		} `json:"greeting"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, convID, body.Conversation.ID)
	assert.Equal(t, 9, body.Conversation.TotalQuestions)
	assert.Equal(t, "Welcome!", body.Greeting.Content)
	assert.Equal(t, "ai", body.Greeting.Sender)
}

func TestHandler_Start_MissingAssessment(t *testing.T) {
	rec := doJSON(t, newTestRouter(&stubService{}), http.MethodPost, "/conversations", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Start_BadBody(t *testing.T) {
	rec := doJSON(t, newTestRouter(&stubService{}), http.MethodPost, "/conversations", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Message(t *testing.T) {
	convID := uuid.New()
	svc := &stubService{
		process: func(_ context.Context, req MessageRequest) (*MessageResult, error) {
			assert.Equal(t, convID, req.ConversationID)
			assert.Equal(t, "most days", req.Content)
			return &MessageResult{
				Message:      &Message{ID: uuid.New(), Sender: SenderAI, Content: "Thanks for sharing.", Sequence: 4},
				Conversation: ConversationView{ID: convID, QuestionsCompleted: 2, TotalQuestions: 9},
				RiskLevel:    RiskNone,
			}, nil
		},
	}
	rec := doJSON(t, newTestRouter(svc), http.MethodPost, "/conversations/"+convID.String()+"/messages", `{"content":"most days"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Thanks for sharing.", body.Message.Content)
	assert.Equal(t, RiskNone, body.RiskLevel)
	assert.False(t, body.ShowSafetyPivot)
	assert.Equal(t, 2, body.Conversation.QuestionsCompleted)
}

func TestHandler_Message_PivotShape(t *testing.T) {
	convID := uuid.New()
	svc := &stubService{
		process: func(_ context.Context, _ MessageRequest) (*MessageResult, error) {
			return &MessageResult{
				Message:         &Message{ID: uuid.New(), Sender: SenderSystem, Content: "are you safe right now?"},
				Conversation:    ConversationView{ID: convID, Status: StatusCrisisPaused},
				RiskLevel:       RiskCritical,
				ShowSafetyPivot: true,
				PivotType:       PivotFullScreen,
				CrisisResources: ResourcesFor(RiskCritical),
			}, nil
		},
	}
	rec := doJSON(t, newTestRouter(svc), http.MethodPost, "/conversations/"+convID.String()+"/messages", `{"content":"..."}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.ShowSafetyPivot)
	assert.Equal(t, PivotFullScreen, body.PivotType)
	require.Len(t, body.CrisisResources, 5)
	assert.Equal(t, "Call or text 988", body.CrisisResources[0].Contact)
}

func TestHandler_Message_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{ErrConversationNotFound, http.StatusNotFound},
		{ErrEmptyMessage, http.StatusUnprocessableEntity},
		{ErrConversationNotActive, http.StatusConflict},
		{errors.New("db exploded"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		svc := &stubService{
			process: func(_ context.Context, _ MessageRequest) (*MessageResult, error) {
				return nil, tc.err
			},
		}
		rec := doJSON(t, newTestRouter(svc), http.MethodPost, "/conversations/"+uuid.NewString()+"/messages", `{"content":"hi"}`)
		assert.Equal(t, tc.code, rec.Code, "error: %v", tc.err)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body["error"])
	}
}

func TestHandler_Message_InvalidID(t *testing.T) {
	rec := doJSON(t, newTestRouter(&stubService{}), http.MethodPost, "/conversations/not-a-uuid/messages", `{"content":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_SafetyResponse(t *testing.T) {
	convID := uuid.New()
	svc := &stubService{
		safety: func(_ context.Context, req SafetyRequest) (*SafetyResult, error) {
			assert.Equal(t, "safe", req.Response)
			return &SafetyResult{
				Action:             "resumed",
				Message:            "Glad you're safe.",
				ConversationStatus: StatusActive,
			}, nil
		},
	}
	rec := doJSON(t, newTestRouter(svc), http.MethodPost, "/conversations/"+convID.String()+"/safety_response", `{"response":"safe"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body safetyResponseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "resumed", body.Action)
	assert.Equal(t, StatusActive, body.ConversationStatus)
}

func TestHandler_SafetyResponse_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{ErrUnknownSafetyResponse, http.StatusUnprocessableEntity},
		{ErrNoPendingPivot, http.StatusConflict},
		{ErrConversationNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		svc := &stubService{
			safety: func(_ context.Context, _ SafetyRequest) (*SafetyResult, error) {
				return nil, tc.err
			},
		}
		rec := doJSON(t, newTestRouter(svc), http.MethodPost, "/conversations/"+uuid.NewString()+"/safety_response", `{"response":"x"}`)
		assert.Equal(t, tc.code, rec.Code, "error: %v", tc.err)
	}
}

func TestHandler_Transcript(t *testing.T) {
	convID := uuid.New()
	svc := &stubService{
		messages: func(_ context.Context, id uuid.UUID) ([]Message, error) {
			assert.Equal(t, convID, id)
			return []Message{
				{ID: uuid.New(), Sender: SenderAI, Content: "hello", Sequence: 1},
				{ID: uuid.New(), Sender: SenderUser, Content: "hi", Sequence: 2},
			}, nil
		},
	}
	rec := doJSON(t, newTestRouter(svc), http.MethodGet, "/conversations/"+convID.String()+"/messages", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Messages []messageJSON `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)
	assert.Equal(t, 1, body.Messages[0].Sequence)
	assert.Equal(t, SenderUser, body.Messages[1].Sender)
}
