package domain

// Step is the field currently being elicited from a participant, or the
// terminal StepComplete marker.
type Step int

const (
	StepName Step = iota
	StepAge
	StepGender
	StepLocation
	StepTopic
	StepComplete
)

// CollectionOrder is the fixed order in which fields are elicited.
var CollectionOrder = []Step{StepName, StepAge, StepGender, StepLocation, StepTopic}

// String returns the field name, or "complete" for the terminal step.
func (s Step) String() string {
	switch s {
	case StepName:
		return "name"
	case StepAge:
		return "age"
	case StepGender:
		return "gender"
	case StepLocation:
		return "location"
	case StepTopic:
		return "topic"
	case StepComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Collecting reports whether s is one of the five fields rather than the
// terminal marker.
func (s Step) Collecting() bool {
	return s >= StepName && s < StepComplete
}

// Next returns the step that follows s. Complete is absorbing.
func (s Step) Next() Step {
	if !s.Collecting() {
		return StepComplete
	}
	return s + 1
}
