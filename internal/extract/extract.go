// Package extract pulls structured participant fields out of free-text replies.
//
// The heuristics are deliberately simple: each field has a small set of
// patterns or keyword tables and the first hit wins. Results depend only on
// the input text and field.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ashureev/fieldagent/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	maxNameLen     = 50
	maxLocationLen = 100
	maxBareTokens  = 3
)

var (
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`my name is ([a-z\s]+)`),
		regexp.MustCompile(`i'm ([a-z\s]+)`),
		regexp.MustCompile(`i am ([a-z\s]+)`),
		regexp.MustCompile(`call me ([a-z\s]+)`),
		regexp.MustCompile(`^([a-z\s]+)$`),
	}

	agePattern = regexp.MustCompile(`\b(\d{1,3})\b`)

	// Words are matched as whole tokens, so "twenty-five" does not hit "twenty".
	ageWords = map[string]int{
		"eighteen": 18,
		"nineteen": 19,
		"twenty":   20,
		"thirty":   30,
		"forty":    40,
		"fifty":    50,
		"sixty":    60,
		"seventy":  70,
	}
	ageTokenPattern = regexp.MustCompile(`[a-z]+(?:-[a-z]+)*`)

	genderClasses = []struct {
		value   string
		pattern *regexp.Regexp
	}{
		{"male", wordPattern("male", "man", "boy", "he", "him")},
		{"female", wordPattern("female", "woman", "girl", "she", "her")},
		{"non-binary", wordPattern("non-binary", "non binary", "nonbinary", "enby")},
		{"other", wordPattern("other", "different", "prefer not")},
		{"prefer_not_to_say", wordPattern("prefer not to say", "rather not say")},
	}

	locationFillers = regexp.MustCompile(`\b(?:i live in|i am from|from|in|at|the|a|an)\b`)
)

// title upper-cases the first letter of each word. Casers carry state, so one
// is built per call.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

// wordPattern matches any of words as a whole word or phrase. A hyphen counts
// as part of a word so "non-binary" never matches "binary" alone.
func wordPattern(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?:^|[^a-z-])(?:` + strings.Join(quoted, "|") + `)(?:$|[^a-z-])`)
}

// Field extracts the value for step from text. The boolean is false when
// nothing usable was found; a true result may carry an empty string (topic).
func Field(text string, step domain.Step) (string, bool) {
	switch step {
	case domain.StepName:
		return Name(text)
	case domain.StepAge:
		return Age(text)
	case domain.StepGender:
		return Gender(text)
	case domain.StepLocation:
		return Location(text)
	case domain.StepTopic:
		return Topic(text)
	default:
		return "", false
	}
}

// Name extracts a participant name.
func Name(text string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range namePatterns {
		m := p.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		name := title(strings.TrimSpace(m[1]))
		if n := len([]rune(name)); n > 1 && n < maxNameLen {
			return name, true
		}
	}

	// Short all-alphabetic replies are taken as the name itself.
	words := strings.Fields(text)
	if len(words) == 0 || len(words) > maxBareTokens {
		return "", false
	}
	for _, w := range words {
		if !isAlpha(w) {
			return "", false
		}
	}
	return strings.TrimSpace(text), true
}

// Age extracts an age in [1,120], from digits or a small numeral table.
func Age(text string) (string, bool) {
	if m := agePattern.FindStringSubmatch(text); m != nil {
		age, err := strconv.Atoi(m[1])
		if err == nil && age >= 1 && age <= 120 {
			return strconv.Itoa(age), true
		}
	}

	for _, tok := range ageTokenPattern.FindAllString(strings.ToLower(text), -1) {
		if age, ok := ageWords[tok]; ok {
			return strconv.Itoa(age), true
		}
	}
	return "", false
}

// Gender classifies a reply into one of the fixed gender values.
func Gender(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, class := range genderClasses {
		if class.pattern.MatchString(lower) {
			return class.value, true
		}
	}
	return "", false
}

// Location strips filler words and title-cases what remains.
func Location(text string) (string, bool) {
	clean := locationFillers.ReplaceAllString(strings.ToLower(text), "")
	words := strings.Fields(clean)
	if len(words) == 0 {
		return "", false
	}
	for i, w := range words {
		words[i] = title(w)
	}
	location := strings.Join(words, " ")
	if len(location) >= maxLocationLen {
		return "", false
	}
	return location, true
}

// Topic accepts any reply as the discussion topic.
func Topic(text string) (string, bool) {
	return strings.TrimSpace(text), true
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}
