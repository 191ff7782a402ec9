package domain

import (
	"strconv"
	"time"
)

// Conversation is the persisted record of one participant session.
type Conversation struct {
	ID          int64           `json:"id"`
	SessionID   string          `json:"session_id"`
	AgentID     int64           `json:"agent_id"`
	Fields      CollectedFields `json:"participant"`
	Transcript  []Message       `json:"full_conversation"`
	Summary     string          `json:"summary,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ParticipantAge returns the collected age as an integer, or 0 when it was
// not collected or is not numeric.
func (c *Conversation) ParticipantAge() int {
	v, ok := c.Fields.Get(StepAge)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// Duration returns the time between creation and completion, or zero when the
// conversation has not completed.
func (c *Conversation) Duration() time.Duration {
	if c.CompletedAt == nil {
		return 0
	}
	return c.CompletedAt.Sub(c.CreatedAt)
}
