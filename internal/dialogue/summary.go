package dialogue

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/ashureev/fieldagent/internal/domain"
)

// EngagementLevel buckets a participant message count.
func EngagementLevel(participantMessages int) string {
	switch {
	case participantMessages > 5:
		return "High"
	case participantMessages > 2:
		return "Moderate"
	default:
		return "Low"
	}
}

// Summarize builds the plain-text summary stored when a session ends.
func Summarize(agent *domain.Agent, fields domain.CollectedFields, transcript []domain.Message) string {
	if len(transcript) == 0 {
		return "No conversation data available."
	}
	responses := domain.CountBySender(transcript, domain.SenderParticipant)
	if responses == 0 {
		return "No participant responses recorded."
	}

	var b strings.Builder
	b.WriteString("Conversation Summary:\n")
	fmt.Fprintf(&b, "- Agent: %s (%s)\n", agent.Name, agent.Purpose)
	fmt.Fprintf(&b, "- Participant: %s\n", fields.Or(domain.StepName, "Anonymous"))
	fmt.Fprintf(&b, "- Age: %s\n", fields.Or(domain.StepAge, "N/A"))
	fmt.Fprintf(&b, "- Location: %s\n", fields.Or(domain.StepLocation, "N/A"))
	if topic, ok := fields.Get(domain.StepTopic); ok && topic != "" {
		fmt.Fprintf(&b, "- Discussion topic: %s\n", topic)
	}
	fmt.Fprintf(&b, "- Total exchanges: %d\n", len(transcript))
	fmt.Fprintf(&b, "- Participant responses: %d\n", responses)
	fmt.Fprintf(&b, "- Topics covered: %s related discussions\n", agent.Purpose)
	fmt.Fprintf(&b, "- Engagement level: %s\n", EngagementLevel(responses))
	b.WriteString("- Data collection: Automated through conversation flow\n")
	return b.String()
}

// stopWords are excluded from key topics.
var stopWords = map[string]bool{
	"with": true, "that": true, "this": true, "have": true, "from": true,
	"they": true, "what": true, "about": true, "been": true, "were": true,
	"would": true, "there": true, "their": true, "just": true, "like": true,
}

// TopicCount is a word and how often participants used it.
type TopicCount struct {
	Topic     string `json:"topic"`
	Frequency int    `json:"frequency"`
}

// KeyTopics returns the n most frequent words longer than three characters
// in participant messages. Ties are broken alphabetically.
func KeyTopics(transcript []domain.Message, n int) []TopicCount {
	freq := make(map[string]int)
	for _, m := range transcript {
		if m.Sender != domain.SenderParticipant {
			continue
		}
		for _, word := range strings.Fields(strings.ToLower(m.Text)) {
			if len(word) > 3 && !stopWords[word] {
				freq[word]++
			}
		}
	}

	topics := make([]TopicCount, 0, len(freq))
	for word, count := range freq {
		topics = append(topics, TopicCount{Topic: word, Frequency: count})
	}
	slices.SortFunc(topics, func(a, b TopicCount) int {
		if c := cmp.Compare(b.Frequency, a.Frequency); c != 0 {
			return c
		}
		return cmp.Compare(a.Topic, b.Topic)
	})
	if len(topics) > n {
		topics = topics[:n]
	}
	return topics
}
