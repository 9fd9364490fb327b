package models

import (
	"fmt"
	"time"
)

// LocationUnavailable fills every location field when a session could not be
// geocoded.
const LocationUnavailable = "Location unavailable"

// SessionDateLayout is the layout of SessionRecord.SessionDate.
const SessionDateLayout = "2006-01-02"

type Official struct {
	Name             string `json:"name" yaml:"name"`
	Constituency     string `json:"constituency" yaml:"constituency"`
	ConstituencyCode string `json:"constituency_code" yaml:"constituency_code"`
}

type Ward struct {
	Name string `json:"name" yaml:"name"`
	Code string `json:"code" yaml:"code"`
}

type Location struct {
	Ward             string `json:"ward"`
	WardCode         string `json:"ward_code"`
	Constituency     string `json:"constituency"`
	ConstituencyCode string `json:"constituency_code"`
}

func UnavailableLocation() Location {
	return Location{
		Ward:             LocationUnavailable,
		WardCode:         LocationUnavailable,
		Constituency:     LocationUnavailable,
		ConstituencyCode: LocationUnavailable,
	}
}

func (l Location) Available() bool {
	return l.Constituency != "" && l.Constituency != LocationUnavailable
}

// SessionRecord is the anonymised, scored summary of one ended session. It is
// written once and never updated.
type SessionRecord struct {
	ID                    string         `json:"id"`
	Official              string         `json:"official"`
	StartedAt             time.Time      `json:"started_at"`
	SessionDate           string         `json:"session_date"`
	DurationSeconds       float64        `json:"duration_seconds"`
	Location              Location       `json:"location"`
	UserMessages          []string       `json:"user_messages"`
	UserMessageCount      int            `json:"user_message_count"`
	UserMessageLengths    []int          `json:"user_message_lengths"`
	UserReadability       []float64      `json:"user_readability"`
	UserSentiment         [][]float64    `json:"user_sentiment"`
	UserStance            [][]float64    `json:"user_stance"`
	UserIdeology          [][]float64    `json:"user_ideology"`
	AssistantMessageCount int            `json:"assistant_message_count"`
	AssistantReadability  []float64      `json:"assistant_readability"`
	WebSearchReplies      []string       `json:"web_search_replies"`
	WebSearchCount        int            `json:"web_search_count"`
	SensitiveCount        int            `json:"sensitive_count"`
	Competencies          map[string]int `json:"competencies"`
	RecordedAt            time.Time      `json:"recorded_at"`
}

// Date parses SessionDate.
func (r *SessionRecord) Date() (time.Time, error) {
	d, err := time.Parse(SessionDateLayout, r.SessionDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("session date %q: %w", r.SessionDate, err)
	}
	return d, nil
}

// InsideConstituency reports whether the visitor was located in the given
// constituency.
func (r *SessionRecord) InsideConstituency(constituency string) bool {
	return r.Location.Available() && r.Location.Constituency == constituency
}

// MessageReport is a visitor's complaint about one assistant reply.
type MessageReport struct {
	ID               string    `json:"id"`
	Official         string    `json:"official"`
	SessionID        string    `json:"session_id"`
	TurnIndex        int       `json:"turn_index"`
	ReportedAt       time.Time `json:"reported_at"`
	Response         string    `json:"response"`
	Tags             []string  `json:"tags"`
	Comment          string    `json:"comment"`
	PreviousMessages []string  `json:"previous_messages"`
}

const (
	TagInaccurateInformation = "Inaccurate information"
	TagInaccurateSources     = "Inaccurate sources"
	TagPoliticalBias         = "Political bias"
	TagNotUnderstandable     = "Explanation not understandable"
	TagOther                 = "Other"
)

var ReportTags = []string{
	TagInaccurateInformation,
	TagInaccurateSources,
	TagPoliticalBias,
	TagNotUnderstandable,
	TagOther,
}

func ValidReportTag(tag string) bool {
	for _, t := range ReportTags {
		if t == tag {
			return true
		}
	}
	return false
}

// KnowledgeDocument is a source text loaded into an official's knowledge base.
type KnowledgeDocument struct {
	ID        string `json:"id" yaml:"id"`
	Official  string `json:"official" yaml:"official"`
	Title     string `json:"title" yaml:"title"`
	SourceURL string `json:"source_url" yaml:"source_url"`
	Content   string `json:"content" yaml:"content"`
	IsHTML    bool   `json:"is_html" yaml:"is_html"`
	// Fields holds structured data (voting records, interests, ...) that
	// is flattened to "key: value" lines before chunking.
	Fields map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// KnowledgeChunk is one embedded slice of a KnowledgeDocument.
type KnowledgeChunk struct {
	ID         string
	DocID      string
	Namespace  string
	ChunkIndex int
	Text       string
	SourceURL  string
	Embedding  []float32
}

// EvaluationResult is the outcome of one key-fact test case.
type EvaluationResult struct {
	ID        string    `json:"id"`
	Suite     string    `json:"suite"`
	Official  string    `json:"official"`
	Question  string    `json:"question"`
	KeyFacts  []string  `json:"key_facts"`
	Answer    string    `json:"answer"`
	Verdict   string    `json:"verdict"`
	Attempts  int       `json:"attempts"`
	Passed    bool      `json:"passed"`
	CreatedAt time.Time `json:"created_at"`
}
