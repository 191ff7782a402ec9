package domain

import "time"

// Sender identifies who authored a transcript message.
type Sender string

const (
	SenderParticipant Sender = "participant"
	SenderAgent       Sender = "agent"
)

// Message types stored alongside transcript entries.
const (
	MessageTypeWelcome = "welcome"
	MessageTypeText    = "text"
)

// Message is one entry in a conversation transcript.
type Message struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

// CountBySender returns how many messages in transcript were sent by sender.
func CountBySender(transcript []Message, sender Sender) int {
	n := 0
	for _, m := range transcript {
		if m.Sender == sender {
			n++
		}
	}
	return n
}
