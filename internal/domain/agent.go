// Package domain contains core domain types for the fieldagent service.
package domain

import (
	"time"
)

// Agent is a data-collection persona that participants talk to.
type Agent struct {
	ID           int64     `json:"id"`
	OwnerID      string    `json:"-"`
	Name         string    `json:"name"`
	Purpose      string    `json:"purpose"`
	Segment      string    `json:"segment,omitempty"`
	Knowledge    string    `json:"knowledge,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Link         string    `json:"agent_link"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// WelcomeMessage is the greeting stored as the first transcript entry of a
// directly started conversation.
func (a *Agent) WelcomeMessage() string {
	return "Hello! I'm " + a.Name + ", and I'm here to learn about your experiences with " +
		a.Purpose + ". To get started, could you please tell me your name?"
}
