package domain

// CollectedFields holds the participant attributes gathered so far. A nil
// pointer means the field has not been collected.
type CollectedFields struct {
	Name     *string `json:"name,omitempty"`
	Age      *string `json:"age,omitempty"`
	Gender   *string `json:"gender,omitempty"`
	Location *string `json:"location,omitempty"`
	Topic    *string `json:"topic,omitempty"`
}

func (f *CollectedFields) slot(step Step) **string {
	switch step {
	case StepName:
		return &f.Name
	case StepAge:
		return &f.Age
	case StepGender:
		return &f.Gender
	case StepLocation:
		return &f.Location
	case StepTopic:
		return &f.Topic
	default:
		return nil
	}
}

// Get returns the value stored for step and whether it has been collected.
func (f CollectedFields) Get(step Step) (string, bool) {
	p := f.slot(step)
	if p == nil || *p == nil {
		return "", false
	}
	return **p, true
}

// Set records value for step. It is a no-op for StepComplete.
func (f *CollectedFields) Set(step Step, value string) {
	if p := f.slot(step); p != nil {
		v := value
		*p = &v
	}
}

// Or returns the stored value for step, or fallback when it was never collected.
func (f CollectedFields) Or(step Step, fallback string) string {
	if v, ok := f.Get(step); ok {
		return v
	}
	return fallback
}

// Complete reports whether every field in CollectionOrder has a value.
func (f CollectedFields) Complete() bool {
	for _, step := range CollectionOrder {
		if _, ok := f.Get(step); !ok {
			return false
		}
	}
	return true
}
