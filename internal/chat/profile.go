package chat

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownLevel = errors.New("unknown competency level")

// Level is a self-reported knowledge rating from 1 (lowest) to 4 (highest).
type Level int

const (
	LevelNothing Level = iota + 1
	LevelNotMuch
	LevelFairAmount
	LevelGreatDeal
)

var levelNames = map[Level]string{
	LevelNothing:    "Nothing at all",
	LevelNotMuch:    "Not very much",
	LevelFairAmount: "A fair amount",
	LevelGreatDeal:  "A great deal",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// ParseLevel accepts the display name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	for lvl, name := range levelNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return lvl, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

const (
	SubjectPolitics   = "UK Politics"
	SubjectParliament = "UK Parliament"
	SubjectGovernment = "UK Government"
)

// Subjects lists the competency subjects in display order.
var Subjects = []string{SubjectPolitics, SubjectParliament, SubjectGovernment}

// Profile is fixed for the lifetime of a session.
type Profile struct {
	Politics   Level `json:"politics"`
	Parliament Level `json:"parliament"`
	Government Level `json:"government"`
}

func (p Profile) Validate() error {
	for _, s := range Subjects {
		if lvl := p.level(s); !lvl.Valid() {
			return fmt.Errorf("%w for %s: %d", ErrUnknownLevel, s, int(lvl))
		}
	}
	return nil
}

func (p Profile) level(subject string) Level {
	switch subject {
	case SubjectPolitics:
		return p.Politics
	case SubjectParliament:
		return p.Parliament
	case SubjectGovernment:
		return p.Government
	}
	return 0
}

// Scores maps each subject to its numeric rating.
func (p Profile) Scores() map[string]int {
	out := make(map[string]int, len(Subjects))
	for _, s := range Subjects {
		out[s] = int(p.level(s))
	}
	return out
}

// Plaintext is the prompt rendering of the profile.
func (p Profile) Plaintext() string {
	var b strings.Builder
	for _, s := range Subjects {
		lvl := p.level(s)
		fmt.Fprintf(&b, "%s: %s (%d/4)\n", s, lvl, int(lvl))
	}
	b.WriteString("Competency Scale: [1 (lowest) - 4 (highest)]")
	return b.String()
}
