// Package dialogue drives a participant conversation: field collection,
// reply generation with fallbacks, persistence, and end-of-session summary.
package dialogue

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ashureev/fieldagent/internal/domain"
	"github.com/ashureev/fieldagent/internal/extract"
	"github.com/ashureev/fieldagent/internal/session"
)

// historyTurns is how many prior transcript messages accompany a model request.
const historyTurns = 5

const defaultPersistTimeout = 5 * time.Second

// Persistence stores conversation progress. Every method overwrites the
// stored value, so repeating a call with the same arguments is harmless.
type Persistence interface {
	SaveTranscript(ctx context.Context, conversationID int64, transcript []domain.Message) error
	SaveCollectedFields(ctx context.Context, conversationID int64, fields domain.CollectedFields) error
	SaveCompletion(ctx context.Context, conversationID int64, completedAt time.Time, summary string) error
}

// Controller processes participant messages for live sessions. One
// Controller is shared by all sessions; per-session state lives on the
// session itself.
type Controller struct {
	gen            Generator
	store          Persistence
	log            ConversationLogger
	persistTimeout time.Duration
	pick           func(n int) int
	now            func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithGenerator sets the reply generator. Without one every reply is a fallback.
func WithGenerator(gen Generator) Option {
	return func(c *Controller) {
		c.gen = gen
	}
}

// WithConversationLogger mirrors every message to log.
func WithConversationLogger(log ConversationLogger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithPersistTimeout bounds each persistence call.
func WithPersistTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.persistTimeout = d
		}
	}
}

// NewController creates a controller that persists through store.
func NewController(store Persistence, opts ...Option) *Controller {
	c := &Controller{
		store:          store,
		log:            noopConversationLogger{},
		persistTimeout: defaultPersistTimeout,
		pick:           rand.IntN,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle processes one participant message and returns the agent reply that
// was appended to the transcript. It never fails: model and persistence
// errors are logged and replaced by fallbacks.
func (c *Controller) Handle(ctx context.Context, s *session.Session, text, msgType string) domain.Message {
	text = strings.TrimSpace(text)
	if msgType == "" {
		msgType = domain.MessageTypeText
	}

	received := c.now()
	s.Touch(received)

	before := s.Step()
	if before.Collecting() {
		if value, ok := extract.Field(text, before); ok {
			s.Record(before, value)
			slog.Info("Field collected", "session_id", s.ID, "field", before.String(), "next", s.Step().String())
		} else {
			slog.Debug("No value extracted", "session_id", s.ID, "field", before.String())
		}
	}

	step := s.Step()
	fields := s.Fields()

	var system, fallback string
	if step.Collecting() {
		fallback = CannedQuestion(s.Agent, step, fields)
		system = collectingPrompt(s.Agent, step, fields, fallback)
	} else {
		system = completePrompt(s.Agent, fields)
	}

	reply := c.reply(ctx, s, system, text)
	if reply == "" {
		if fallback == "" {
			lines := FallbackLines(s.Agent)
			fallback = lines[c.pick(len(lines))]
		}
		reply = fallback
	}

	participant := domain.Message{Sender: domain.SenderParticipant, Text: text, Timestamp: received, Type: msgType}
	s.Append(participant)
	agent := domain.Message{Sender: domain.SenderAgent, Text: reply, Timestamp: c.now(), Type: domain.MessageTypeText}
	s.Append(agent)

	c.logMessage(s, participant, "inbound", before)
	c.logMessage(s, agent, "outbound", step)

	c.saveTranscript(ctx, s)
	if before.Collecting() && step == domain.StepComplete {
		c.saveFields(ctx, s)
	}

	return agent
}

// reply asks the generator for a completion and returns "" when none is usable.
func (c *Controller) reply(ctx context.Context, s *session.Session, system, text string) string {
	if c.gen == nil {
		return ""
	}
	out, err := c.gen.Reply(ctx, system, s.Recent(historyTurns), text)
	if err != nil {
		slog.Warn("Model reply failed, using fallback", "session_id", s.ID, "step", s.Step().String(), "error", err)
		return ""
	}
	return out
}

// Terminate runs end-of-session persistence exactly once per session. It is
// safe to call with an already cancelled context.
func (c *Controller) Terminate(ctx context.Context, s *session.Session) {
	s.Terminate(func() {
		c.terminate(context.WithoutCancel(ctx), s)
	})
}

func (c *Controller) terminate(ctx context.Context, s *session.Session) {
	if s.Step() == domain.StepComplete && !s.FieldsSaved() {
		slog.Info("Retrying collected fields save", "session_id", s.ID)
		c.saveFields(ctx, s)
	}

	transcript := s.Transcript()
	if len(transcript) <= 1 {
		slog.Info("Session ended without exchange", "session_id", s.ID)
		return
	}

	c.saveTranscript(ctx, s)

	summary := Summarize(s.Agent, s.Fields(), transcript)
	pctx, cancel := context.WithTimeout(ctx, c.persistTimeout)
	defer cancel()
	if err := c.store.SaveCompletion(pctx, s.ConversationID, c.now(), summary); err != nil {
		slog.Warn("Failed to save conversation completion", "session_id", s.ID, "conversation_id", s.ConversationID, "error", err)
		return
	}
	slog.Info("Conversation completed", "session_id", s.ID, "conversation_id", s.ConversationID, "messages", len(transcript))
}

func (c *Controller) saveTranscript(ctx context.Context, s *session.Session) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.persistTimeout)
	defer cancel()
	if err := c.store.SaveTranscript(pctx, s.ConversationID, s.Transcript()); err != nil {
		slog.Warn("Failed to save transcript", "session_id", s.ID, "conversation_id", s.ConversationID, "error", err)
	}
}

func (c *Controller) saveFields(ctx context.Context, s *session.Session) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.persistTimeout)
	defer cancel()
	if err := c.store.SaveCollectedFields(pctx, s.ConversationID, s.Fields()); err != nil {
		slog.Warn("Failed to save collected fields", "session_id", s.ID, "conversation_id", s.ConversationID, "error", err)
		return
	}
	s.MarkFieldsSaved()
	slog.Info("Collected fields saved", "session_id", s.ID, "conversation_id", s.ConversationID)
}

func (c *Controller) logMessage(s *session.Session, m domain.Message, direction string, step domain.Step) {
	c.log.Log(ConversationLogEvent{
		Timestamp:      m.Timestamp.UTC().Format(time.RFC3339Nano),
		SessionID:      s.ID,
		ConversationID: s.ConversationID,
		Direction:      direction,
		Sender:         string(m.Sender),
		Step:           step.String(),
		Content:        m.Text,
	})
}
