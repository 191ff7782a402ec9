package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/fieldagent/internal/dialogue"
	"github.com/ashureev/fieldagent/internal/domain"
	"github.com/ashureev/fieldagent/internal/identity"
	"github.com/ashureev/fieldagent/internal/speech"
	"github.com/ashureev/fieldagent/web"
)

const keyTopicCount = 5

type startResponse struct {
	SessionID      string `json:"session_id"`
	AgentName      string `json:"agent_name"`
	InitialMessage string `json:"initial_message"`
	Message        string `json:"message"`
}

type conversationResponse struct {
	ID           int64                  `json:"id"`
	SessionID    string                 `json:"session_id"`
	Participant  domain.CollectedFields `json:"participant"`
	MessageCount int                    `json:"message_count"`
	CreatedAt    time.Time              `json:"created_at"`
	CompletedAt  *time.Time             `json:"completed_at"`
}

type summaryResponse struct {
	ConversationID  int64                  `json:"conversation_id"`
	SessionID       string                 `json:"session_id"`
	ParticipantName *string                `json:"participant_name"`
	AgentName       string                 `json:"agent_name"`
	DurationMinutes float64                `json:"duration_minutes"`
	TotalMessages   int                    `json:"total_messages"`
	UserMessages    int                    `json:"user_messages"`
	AgentMessages   int                    `json:"agent_messages"`
	StartTime       time.Time              `json:"start_time"`
	EndTime         *time.Time             `json:"end_time"`
	Summary         string                 `json:"summary"`
	KeyTopics       []dialogue.TopicCount  `json:"key_topics"`
	ParticipantInfo domain.CollectedFields `json:"participant_info"`
}

type speechRequest struct {
	Text string `json:"text"`
}

// StartConversation opens a conversation with the agent behind a public
// link and stores its welcome message.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	agent, err := h.repo.GetAgentByLink(r.Context(), chi.URLParam(r, "link"))
	if err != nil {
		storeError(w, err, "Agent not found")
		return
	}
	if !agent.Active {
		Error(w, http.StatusNotFound, "Agent is not active")
		return
	}

	now := h.now()
	welcome := agent.WelcomeMessage()
	conv := &domain.Conversation{
		SessionID: uuid.NewString(),
		AgentID:   agent.ID,
		CreatedAt: now,
		Transcript: []domain.Message{{
			Sender:    domain.SenderAgent,
			Text:      welcome,
			Timestamp: now,
			Type:      domain.MessageTypeWelcome,
		}},
	}
	if err := h.repo.CreateConversation(r.Context(), conv); err != nil {
		storeError(w, err, "Agent not found")
		return
	}

	slog.Info("Conversation started", "agent_id", agent.ID, "conversation_id", conv.ID, "session_id", conv.SessionID)
	JSON(w, http.StatusOK, startResponse{
		SessionID:      conv.SessionID,
		AgentName:      agent.Name,
		InitialMessage: welcome,
		Message:        "Conversation started successfully",
	})
}

// ListConversations returns the conversations of one of the caller's agents.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}
	convs, err := h.repo.ListConversationsByAgent(r.Context(), agent.ID)
	if err != nil {
		storeError(w, err, "Agent not found")
		return
	}

	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationResponse{
			ID:           c.ID,
			SessionID:    c.SessionID,
			Participant:  c.Fields,
			MessageCount: len(c.Transcript),
			CreatedAt:    c.CreatedAt,
			CompletedAt:  c.CompletedAt,
		})
	}
	JSON(w, http.StatusOK, out)
}

// ConversationSummary returns statistics for a conversation owned by the caller.
func (h *Handler) ConversationSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "id")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	conv, err := h.repo.GetConversation(r.Context(), id)
	if err != nil {
		storeError(w, err, "Conversation not found")
		return
	}
	agent, err := h.repo.GetAgent(r.Context(), conv.AgentID)
	if err != nil {
		storeError(w, err, "Conversation not found")
		return
	}
	if agent.OwnerID != identity.OwnerIDFromContext(r.Context()) {
		Error(w, http.StatusForbidden, "Not enough permissions")
		return
	}

	JSON(w, http.StatusOK, summaryResponse{
		ConversationID:  conv.ID,
		SessionID:       conv.SessionID,
		ParticipantName: conv.Fields.Name,
		AgentName:       agent.Name,
		DurationMinutes: math.Round(conv.Duration().Minutes()*10) / 10,
		TotalMessages:   len(conv.Transcript),
		UserMessages:    domain.CountBySender(conv.Transcript, domain.SenderParticipant),
		AgentMessages:   domain.CountBySender(conv.Transcript, domain.SenderAgent),
		StartTime:       conv.CreatedAt,
		EndTime:         conv.CompletedAt,
		Summary:         conv.Summary,
		KeyTopics:       dialogue.KeyTopics(conv.Transcript, keyTopicCount),
		ParticipantInfo: conv.Fields,
	})
}

// Speech synthesizes text for a session and returns the stored audio path.
func (h *Handler) Speech(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req speechRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}
	if _, err := h.repo.GetConversationBySession(r.Context(), sessionID); err != nil {
		storeError(w, err, "Conversation not found")
		return
	}
	if h.tts == nil {
		Error(w, http.StatusServiceUnavailable, "speech synthesis unavailable")
		return
	}

	path, err := h.tts.Synthesize(r.Context(), req.Text, sessionID)
	if errors.Is(err, speech.ErrUnavailable) {
		Error(w, http.StatusServiceUnavailable, "speech synthesis unavailable")
		return
	}
	if err != nil {
		slog.Error("Speech synthesis failed", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "speech synthesis failed")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"audio_path": path, "audio_url": web.AudioURL(path)})
}
