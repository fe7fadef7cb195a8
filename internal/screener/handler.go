package screener

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careloop-health/screener-engine/internal/http/middleware"
	"github.com/careloop-health/screener-engine/pkg/logging"
)

// Handler wires HTTP requests to the screener service.
type Handler struct {
	service Service
	logger  *logging.Logger
}

// NewHandler creates a screener handler.
func NewHandler(service Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("screener: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type startConversationRequest struct {
	AssessmentID string `json:"assessmentId"`
	ScreenerType string `json:"screenerType,omitempty"`
}

type messageJSON struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	RiskLevel RiskLevel `json:"riskLevel"`
	Sequence  int       `json:"sequence"`
}

func toMessageJSON(m *Message) messageJSON {
	return messageJSON{
		ID:        m.ID,
		Content:   m.Content,
		Sender:    m.Sender,
		RiskLevel: m.RiskLevel,
		Sequence:  m.Sequence,
	}
}

type startConversationResponse struct {
	Conversation ConversationView `json:"conversation"`
	Greeting     messageJSON      `json:"greeting"`
}

type postMessageRequest struct {
	Content string `json:"content"`
}

type messageResponse struct {
	Message            messageJSON      `json:"message"`
	Conversation       ConversationView `json:"conversation"`
	RiskLevel          RiskLevel        `json:"riskLevel"`
	NeedsClarification bool             `json:"needsClarification,omitempty"`
	ShowSafetyPivot    bool             `json:"showSafetyPivot,omitempty"`
	PivotType          PivotType        `json:"pivotType,omitempty"`
	CrisisResources    []CrisisResource `json:"crisisResources,omitempty"`
}

func toMessageResponse(res *MessageResult) messageResponse {
	return messageResponse{
		Message:            toMessageJSON(res.Message),
		Conversation:       res.Conversation,
		RiskLevel:          res.RiskLevel,
		NeedsClarification: res.NeedsClarification,
		ShowSafetyPivot:    res.ShowSafetyPivot,
		PivotType:          res.PivotType,
		CrisisResources:    res.CrisisResources,
	}
}

type safetyResponseRequest struct {
	Response string `json:"response"`
}

type safetyResponseResponse struct {
	Success            bool             `json:"success"`
	Action             string           `json:"action"`
	Message            string           `json:"message"`
	ConversationStatus Status           `json:"conversationStatus"`
	CrisisResources    []CrisisResource `json:"crisisResources,omitempty"`
}

// Start handles POST /conversations.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AssessmentID == "" {
		h.writeError(w, http.StatusBadRequest, "assessmentId is required")
		return
	}

	result, err := h.service.StartConversation(r.Context(), StartRequest{
		AssessmentID: req.AssessmentID,
		UserID:       middleware.UserIDFromContext(r.Context()),
		ScreenerType: req.ScreenerType,
	})
	if err != nil {
		h.logger.Error("failed to start conversation", "assessment_id", req.AssessmentID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to start conversation")
		return
	}

	h.writeJSON(w, http.StatusCreated, startConversationResponse{
		Conversation: result.Conversation,
		Greeting:     toMessageJSON(result.Greeting),
	})
}

// Message handles POST /conversations/{id}/messages.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.ProcessMessage(r.Context(), MessageRequest{
		ConversationID: conversationID,
		UserID:         middleware.UserIDFromContext(r.Context()),
		Content:        req.Content,
	})
	if err != nil {
		h.respondServiceError(w, err, "failed to process message")
		return
	}

	h.writeJSON(w, http.StatusOK, toMessageResponse(result))
}

// SafetyResponse handles POST /conversations/{id}/safety_response.
func (h *Handler) SafetyResponse(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	var req safetyResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.RecordSafetyResponse(r.Context(), SafetyRequest{
		ConversationID: conversationID,
		UserID:         middleware.UserIDFromContext(r.Context()),
		Response:       req.Response,
	})
	if err != nil {
		h.respondServiceError(w, err, "failed to record safety response")
		return
	}

	h.writeJSON(w, http.StatusOK, safetyResponseResponse{
		Success:            true,
		Action:             result.Action,
		Message:            result.Message,
		ConversationStatus: result.ConversationStatus,
		CrisisResources:    result.Resources,
	})
}

// Transcript handles GET /conversations/{id}/messages.
func (h *Handler) Transcript(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	messages, err := h.service.GetTranscript(r.Context(), conversationID)
	if err != nil {
		h.respondServiceError(w, err, "failed to load transcript")
		return
	}

	out := make([]messageJSON, 0, len(messages))
	for i := range messages {
		out = append(out, toMessageJSON(&messages[i]))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (h *Handler) conversationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid conversation id")
		return uuid.Nil, false
	}
	return id, true
}

// respondServiceError maps engine sentinels onto HTTP statuses.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, ErrConversationNotFound):
		h.writeError(w, http.StatusNotFound, "Conversation not found")
	case errors.Is(err, ErrEmptyMessage):
		h.writeError(w, http.StatusUnprocessableEntity, "Message content is required")
	case errors.Is(err, ErrConversationNotActive):
		h.writeError(w, http.StatusConflict, "Conversation is not accepting messages")
	case errors.Is(err, ErrNoPendingPivot):
		h.writeError(w, http.StatusConflict, "No safety check is awaiting a response")
	case errors.Is(err, ErrUnknownSafetyResponse):
		h.writeError(w, http.StatusUnprocessableEntity, "Unknown safety response")
	default:
		h.logger.Error(logMsg, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to process message")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
