// Package chat serves the participant-facing websocket for live conversations.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/fieldagent/internal/dialogue"
	"github.com/ashureev/fieldagent/internal/domain"
	"github.com/ashureev/fieldagent/internal/identity"
	"github.com/ashureev/fieldagent/internal/session"
	"github.com/ashureev/fieldagent/internal/store"
)

const writeTimeout = 10 * time.Second

// ConversationSource loads the records a session is built from.
type ConversationSource interface {
	GetConversationBySession(ctx context.Context, sessionID string) (*domain.Conversation, error)
	GetAgent(ctx context.Context, id int64) (*domain.Agent, error)
}

// Handler upgrades participant connections and drives them through the
// dialogue controller.
type Handler struct {
	repo           ConversationSource
	sm             *session.Manager
	ctrl           *dialogue.Controller
	originPatterns []string
	isDev          bool

	conns sync.WaitGroup
}

// NewHandler creates a websocket handler. allowedOrigins are full origins
// ("https://app.example"); in development any origin is accepted.
func NewHandler(repo ConversationSource, sm *session.Manager, ctrl *dialogue.Controller, allowedOrigins []string, isDev bool) *Handler {
	return &Handler{
		repo:           repo,
		sm:             sm,
		ctrl:           ctrl,
		originPatterns: originHosts(allowedOrigins),
		isDev:          isDev,
	}
}

func originHosts(origins []string) []string {
	var hosts []string
	for _, o := range origins {
		if o == "*" {
			hosts = append(hosts, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}

type inboundFrame struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

type outboundFrame struct {
	Message   string        `json:"message"`
	Sender    domain.Sender `json:"sender"`
	Type      string        `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
}

type connectionInfoFrame struct {
	Type            string  `json:"type"`
	AgentName       string  `json:"agent_name"`
	AgentPurpose    string  `json:"agent_purpose"`
	ParticipantName *string `json:"participant_name"`
	ConversationID  int64   `json:"conversation_id"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.conns.Add(1)
	defer h.conns.Done()

	sessionID := chi.URLParam(r, "sessionID")
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.originPatterns,
		InsecureSkipVerify: h.isDev,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s, err := h.open(ctx, sessionID)
	if err != nil {
		msg := "failed to load conversation"
		if errors.Is(err, store.ErrNotFound) {
			msg = "Conversation not found"
		}
		slog.Warn("Rejecting websocket session", "session_id", sessionID, "error", err)
		if err := writeJSON(ctx, ws, map[string]string{"error": msg}); err != nil {
			slog.Debug("Failed to send error frame", "error", err)
		}
		return
	}

	// Unregister runs before Terminate so the session cannot be looked up
	// while its final state is written.
	defer h.ctrl.Terminate(r.Context(), s)
	h.sm.Register(s, cancel)
	defer h.sm.Unregister(s)

	if err := h.greet(ctx, ws, s); err != nil {
		slog.Debug("Failed to send greeting", "session_id", sessionID, "error", err)
		return
	}

	h.readLoop(ctx, ws, s)
	slog.Info("Chat session ended", "session_id", sessionID, "step", s.Step().String())
}

// Wait blocks until every connection has finished terminating or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) open(ctx context.Context, sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return nil, store.ErrNotFound
	}
	conv, err := h.repo.GetConversationBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	agent, err := h.repo.GetAgent(ctx, conv.AgentID)
	if err != nil {
		return nil, err
	}
	return session.New(sessionID, conv, agent), nil
}

// greet sends connection_info followed by the stored welcome message, if any.
func (h *Handler) greet(ctx context.Context, ws *websocket.Conn, s *session.Session) error {
	info := connectionInfoFrame{
		Type:           "connection_info",
		AgentName:      s.Agent.Name,
		AgentPurpose:   s.Agent.Purpose,
		ConversationID: s.ConversationID,
	}
	if name, ok := s.Fields().Get(domain.StepName); ok {
		info.ParticipantName = &name
	}
	if err := writeJSON(ctx, ws, info); err != nil {
		return err
	}

	transcript := s.Transcript()
	if len(transcript) == 0 || transcript[0].Type != domain.MessageTypeWelcome {
		return nil
	}
	welcome := transcript[0]
	return writeJSON(ctx, ws, outboundFrame{
		Message:   welcome.Text,
		Sender:    domain.SenderAgent,
		Type:      domain.MessageTypeWelcome,
		Timestamp: welcome.Timestamp,
	})
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, s *session.Session) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed", "session_id", s.ID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", s.ID)
			}
			return
		}

		var frame inboundFrame
		if err := sonic.Unmarshal(data, &frame); err != nil {
			slog.Debug("Ignoring malformed frame", "session_id", s.ID, "error", err)
			continue
		}
		if frame.Type == "ping" {
			if err := writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				return
			}
			continue
		}
		if strings.TrimSpace(frame.Message) == "" {
			continue
		}

		reply := h.ctrl.Handle(ctx, s, frame.Message, frame.Type)
		if err := writeJSON(ctx, ws, outboundFrame{
			Message:   reply.Text,
			Sender:    reply.Sender,
			Type:      reply.Type,
			Timestamp: reply.Timestamp,
		}); err != nil {
			slog.Debug("Failed to send reply", "session_id", s.ID, "error", err)
			return
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
