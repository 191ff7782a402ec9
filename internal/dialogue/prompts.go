package dialogue

import (
	"fmt"
	"strings"

	"github.com/ashureev/fieldagent/internal/domain"
)

// CannedQuestion is the fixed question asked while collecting step. The age
// question greets the participant by name once it is known.
func CannedQuestion(agent *domain.Agent, step domain.Step, fields domain.CollectedFields) string {
	switch step {
	case domain.StepName:
		return fmt.Sprintf("Hello! I'm %s. To get started, could you please tell me your name?", agent.Name)
	case domain.StepAge:
		return fmt.Sprintf("Nice to meet you, %s! Could you please tell me your age?", fields.Or(domain.StepName, "there"))
	case domain.StepGender:
		return "Thank you! Could you please tell me your gender? You can say male, female, non-binary, other, or prefer not to say."
	case domain.StepLocation:
		return "Great! Where are you located? Please tell me your city and country."
	case domain.StepTopic:
		return fmt.Sprintf("Perfect! Finally, what specific topic about %s would you like to discuss today?", agent.Purpose)
	default:
		return "Could you please provide that information?"
	}
}

func collectingPrompt(agent *domain.Agent, step domain.Step, fields domain.CollectedFields, question string) string {
	var status []string
	for _, s := range domain.CollectionOrder {
		if v, ok := fields.Get(s); ok {
			status = append(status, fmt.Sprintf("✓ %s: %s", s, v))
		}
	}
	if len(status) == 0 {
		status = append(status, "nothing collected yet")
	}

	return fmt.Sprintf(`You are %s, a data collection agent for %s.

CURRENT TASK: You are collecting participant information.

COLLECTION STATUS:
%s
Currently collecting: %s

INSTRUCTIONS:
- If the user just answered the previous question, acknowledge it positively and ask the next question
- Be natural and conversational, not robotic
- If they didn't provide clear %s information, politely ask again
- Use the exact question: "%s"

Your knowledge: %s`,
		agent.Name, agent.Purpose, strings.Join(status, "\n"), step, step, question, agent.Knowledge)
}

func completePrompt(agent *domain.Agent, fields domain.CollectedFields) string {
	return fmt.Sprintf(`%s

PARTICIPANT DATA COLLECTED:
- Name: %s
- Age: %s
- Gender: %s
- Location: %s
- Topic: %s

Now proceed with normal conversation about %s. Use their name naturally and discuss the topic they mentioned: %s.`,
		agent.SystemPrompt,
		fields.Or(domain.StepName, "Unknown"),
		fields.Or(domain.StepAge, "Unknown"),
		fields.Or(domain.StepGender, "Unknown"),
		fields.Or(domain.StepLocation, "Unknown"),
		fields.Or(domain.StepTopic, "Unknown"),
		agent.Purpose,
		fields.Or(domain.StepTopic, agent.Purpose))
}

// FallbackLines are the generic prompts used after collection when no model
// reply is available.
func FallbackLines(agent *domain.Agent) []string {
	return []string{
		fmt.Sprintf("That's really interesting! Could you tell me more about how that relates to %s?", agent.Purpose),
		fmt.Sprintf("Thank you for sharing. What other experiences do you have with %s?", agent.Purpose),
		fmt.Sprintf("I appreciate your response. What specific aspects of %s interest you most?", agent.Purpose),
	}
}
