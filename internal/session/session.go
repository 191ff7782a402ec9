package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/fieldagent/internal/domain"
)

// Session is the live collection state of one participant connection.
// Everything except the activity clock is owned by the goroutine serving
// the connection and must not be touched by other goroutines.
type Session struct {
	ID             string
	ConversationID int64
	Agent          *domain.Agent

	step        domain.Step
	fields      domain.CollectedFields
	transcript  []domain.Message
	fieldsSaved bool

	lastActive atomic.Int64
	terminate  sync.Once
}

// New builds a session for conv. Fields and transcript already persisted on
// the conversation are restored so a reconnect resumes where it left off.
func New(id string, conv *domain.Conversation, agent *domain.Agent) *Session {
	s := &Session{
		ID:             id,
		ConversationID: conv.ID,
		Agent:          agent,
		step:           domain.StepName,
		fields:         conv.Fields,
		transcript:     append([]domain.Message(nil), conv.Transcript...),
	}
	for s.step.Collecting() {
		if _, ok := s.fields.Get(s.step); !ok {
			break
		}
		s.step = s.step.Next()
	}
	s.fieldsSaved = s.step == domain.StepComplete
	s.Touch(time.Now())
	return s
}

// Step returns the field currently being collected.
func (s *Session) Step() domain.Step {
	return s.step
}

// Fields returns a copy of the collected fields.
func (s *Session) Fields() domain.CollectedFields {
	return s.fields
}

// Record stores value for the current step and advances to the next one.
// It returns false and changes nothing if step is not the current step.
func (s *Session) Record(step domain.Step, value string) bool {
	if step != s.step || !step.Collecting() {
		return false
	}
	s.fields.Set(step, value)
	s.step = step.Next()
	return true
}

// Append adds messages to the end of the transcript.
func (s *Session) Append(msgs ...domain.Message) {
	s.transcript = append(s.transcript, msgs...)
}

// Transcript returns a copy of the full transcript.
func (s *Session) Transcript() []domain.Message {
	return append([]domain.Message(nil), s.transcript...)
}

// Recent returns up to the last n transcript messages.
func (s *Session) Recent(n int) []domain.Message {
	if n >= len(s.transcript) {
		return s.Transcript()
	}
	return append([]domain.Message(nil), s.transcript[len(s.transcript)-n:]...)
}

// FieldsSaved reports whether the collected fields were persisted.
func (s *Session) FieldsSaved() bool {
	return s.fieldsSaved
}

// MarkFieldsSaved records that the collected fields were persisted.
func (s *Session) MarkFieldsSaved() {
	s.fieldsSaved = true
}

// Touch records participant activity at now. Safe for concurrent use.
func (s *Session) Touch(now time.Time) {
	s.lastActive.Store(now.UnixNano())
}

// LastActive returns the time of the last recorded activity. Safe for
// concurrent use.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Terminate runs fn the first time it is called for this session.
func (s *Session) Terminate(fn func()) {
	s.terminate.Do(fn)
}
