package dialogue

import "strings"

type OutcomeKind int

const (
	OutcomeAnswered OutcomeKind = iota
	OutcomePersonal
	OutcomeUnknown
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePersonal:
		return "personal"
	case OutcomeUnknown:
		return "unknown"
	default:
		return "answered"
	}
}

// Outcome is the classified first-pass reply. Text is only meaningful for
// OutcomeAnswered.
type Outcome struct {
	Kind OutcomeKind
	Text string
}

// Classify recognises the bare PERSONAL and UNKNOWN sentinels. Anything else,
// including a sentinel embedded in a longer reply, is an answer.
func Classify(reply string) Outcome {
	switch normaliseSentinel(reply) {
	case sentinelPersonal:
		return Outcome{Kind: OutcomePersonal}
	case sentinelUnknown:
		return Outcome{Kind: OutcomeUnknown}
	}
	return Outcome{Kind: OutcomeAnswered, Text: reply}
}

func normaliseSentinel(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`.")
	return strings.TrimSpace(s)
}
