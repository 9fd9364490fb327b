// Package session owns live visitor sessions: their chat history, the turn
// in flight, and the hand-off to analysis when a session ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/analysis"
	"github.com/civic-sage/backend/internal/chat"
	"github.com/civic-sage/backend/internal/dialogue"
	"github.com/civic-sage/backend/internal/geo"
	"github.com/civic-sage/backend/internal/metrics"
	"github.com/civic-sage/backend/internal/storage/models"
	"github.com/civic-sage/backend/pkg/logger"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionEnded     = errors.New("session has ended")
	ErrNotAssistantTurn = errors.New("only assistant replies can be reported")
	ErrInvalidTag       = errors.New("invalid report tag")
	ErrEmptyQuestion    = errors.New("question is empty")
)

type Asker interface {
	Ask(ctx context.Context, req dialogue.TurnRequest) (*dialogue.TurnResult, error)
}

type Analyser interface {
	Analyse(ctx context.Context, snap analysis.Snapshot) (*models.SessionRecord, error)
}

type ReportWriter interface {
	PutReport(ctx context.Context, rep *models.MessageReport) error
}

type Config struct {
	WindowSize     int
	ReportLookback int
	TurnTimeout    time.Duration
	IdleTimeout    time.Duration
}

type Deps struct {
	Orchestrator Asker
	Analyser     Analyser
	Anonymiser   analysis.Anonymiser
	Reports      ReportWriter
	Geography    geo.Store
	Now          func() time.Time
}

type session struct {
	id          string
	official    models.Official
	profile     chat.Profile
	startedAt   time.Time
	coordinates *geo.Coordinates
	log         *zap.Logger

	// turnMu serialises turns and guards history.
	turnMu  sync.Mutex
	history *chat.History

	mu         sync.Mutex
	lastActive time.Time
	cancelTurn context.CancelFunc
	ended      bool
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

type Manager struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	sessions map[string]*session
}

func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}
	if cfg.ReportLookback <= 0 {
		cfg.ReportLookback = 6
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 90 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]*session),
	}
}

type StartRequest struct {
	Official    string
	Profile     chat.Profile
	Coordinates *geo.Coordinates
}

type Info struct {
	ID        string          `json:"id"`
	Official  models.Official `json:"official"`
	StartedAt time.Time       `json:"started_at"`
}

func (m *Manager) Start(ctx context.Context, req StartRequest) (*Info, error) {
	if err := req.Profile.Validate(); err != nil {
		return nil, err
	}
	official, err := m.deps.Geography.Official(ctx, req.Official)
	if err != nil {
		return nil, err
	}

	now := m.deps.Now()
	id := uuid.NewString()
	s := &session{
		id:          id,
		log:         logger.ForSession(id, official.Name),
		official:    official,
		profile:     req.Profile,
		startedAt:   now,
		coordinates: req.Coordinates,
		history:     chat.NewHistory(m.cfg.WindowSize).WithClock(m.deps.Now),
		lastActive:  now,
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	metrics.SessionsActive.Inc()

	s.log.Info("Session started")

	return &Info{ID: s.id, Official: official, StartedAt: now}, nil
}

func (m *Manager) get(id string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Reply is an answered turn. Text has its source markers replaced by
// numbered references listed in Sources.
type Reply struct {
	Text    string            `json:"text"`
	Index   int               `json:"index"`
	Route   string            `json:"route"`
	Sources []dialogue.Source `json:"sources"`
}

// Ask answers one question. Turns of one session run one at a time; a
// failed turn leaves the session usable.
func (m *Manager) Ask(ctx context.Context, id, question string) (*Reply, error) {
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	turnCtx, cancel := context.WithTimeout(ctx, m.cfg.TurnTimeout)
	defer cancel()

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil, ErrSessionEnded
	}
	s.cancelTurn = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancelTurn = nil
		s.mu.Unlock()
		s.touch(m.deps.Now())
	}()

	res, err := m.deps.Orchestrator.Ask(turnCtx, dialogue.TurnRequest{
		Question: question,
		Official: s.official,
		Profile:  s.profile,
		History:  s.history,
	})
	if err != nil {
		s.log.Warn("Turn failed", zap.Error(err))
		return nil, err
	}

	text, sources := dialogue.ExtractSources(res.Text)
	return &Reply{
		Text:    text,
		Index:   res.Index,
		Route:   res.Route.String(),
		Sources: sources,
	}, nil
}

// History returns the session's full transcript.
func (m *Manager) History(id string) ([]chat.Turn, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	return s.history.Transcript(), nil
}

type ReportRequest struct {
	TurnIndex int
	Tags      []string
	Comment   string
}

// Report records a visitor's complaint about an assistant reply together
// with the anonymised turns leading up to it.
func (m *Manager) Report(ctx context.Context, id string, req ReportRequest) (*models.MessageReport, error) {
	for _, tag := range req.Tags {
		if !models.ValidReportTag(tag) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTag, tag)
		}
	}
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}

	s.turnMu.Lock()
	turn, err := s.history.Turn(req.TurnIndex)
	var previous []chat.Turn
	if err == nil {
		previous, err = s.history.ContextAround(req.TurnIndex, m.cfg.ReportLookback)
	}
	s.turnMu.Unlock()
	if err != nil {
		return nil, err
	}
	if turn.Role != chat.RoleAssistant {
		return nil, fmt.Errorf("%w: turn %d is %s", ErrNotAssistantTurn, req.TurnIndex, turn.Role)
	}

	subject := s.official.Name
	lines := make([]string, len(previous))
	for i, t := range previous {
		lines[i] = t.Role.Label() + ": " + m.anonymise(ctx, t.Content, subject)
	}

	rep := &models.MessageReport{
		ID:               uuid.NewString(),
		Official:         subject,
		SessionID:        s.id,
		TurnIndex:        req.TurnIndex,
		ReportedAt:       m.deps.Now(),
		Response:         m.anonymise(ctx, turn.Content, subject),
		Tags:             req.Tags,
		Comment:          m.anonymise(ctx, req.Comment, subject),
		PreviousMessages: lines,
	}
	if err := m.deps.Reports.PutReport(ctx, rep); err != nil {
		return nil, fmt.Errorf("failed to store report: %w", err)
	}

	metrics.ReportsFiled.Inc()
	s.touch(m.deps.Now())
	return rep, nil
}

func (m *Manager) anonymise(ctx context.Context, text, subject string) string {
	if m.deps.Anonymiser == nil {
		return text
	}
	clean, err := m.deps.Anonymiser.Anonymise(ctx, text, subject)
	if err != nil {
		logger.Warn("Anonymisation failed, redacting whole message", zap.Error(err))
		return analysis.RedactedPlaceholder
	}
	return clean
}

// End closes the session and analyses its transcript. A turn still in
// flight is cancelled first; its question stays in the transcript. Analysis
// runs even if ctx is cancelled. Ending an already-ended session returns
// ErrSessionNotFound.
func (m *Manager) End(ctx context.Context, id string) (*models.SessionRecord, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	metrics.SessionsActive.Dec()

	s.mu.Lock()
	s.ended = true
	if s.cancelTurn != nil {
		s.cancelTurn()
	}
	s.mu.Unlock()

	s.turnMu.Lock()
	snap := analysis.Snapshot{
		ID:          s.id,
		Official:    s.official,
		Profile:     s.profile,
		StartedAt:   s.startedAt,
		EndedAt:     m.deps.Now(),
		Coordinates: s.coordinates,
		Transcript:  s.history.Transcript(),
	}
	s.turnMu.Unlock()

	s.log.Info("Session ended",
		zap.Int("turns", len(snap.Transcript)),
		zap.Duration("duration", snap.EndedAt.Sub(snap.StartedAt)),
	)

	rec, err := m.deps.Analyser.Analyse(context.WithoutCancel(ctx), snap)
	if errors.Is(err, analysis.ErrNoHumanTurns) {
		return nil, nil
	}
	if err != nil {
		s.log.Error("Session analysis failed", zap.Error(err))
		return nil, err
	}
	return rec, nil
}

// ReapIdle ends every session idle for longer than the idle timeout and
// returns how many were ended.
func (m *Manager) ReapIdle(ctx context.Context) int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.deps.Now().Add(-m.cfg.IdleTimeout)

	var idle []string
	m.mu.Lock()
	for id, s := range m.sessions {
		s.mu.Lock()
		if s.cancelTurn == nil && s.lastActive.Before(cutoff) {
			idle = append(idle, id)
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	ended := 0
	for _, id := range idle {
		if _, err := m.End(ctx, id); errors.Is(err, ErrSessionNotFound) {
			continue
		}
		ended++
	}
	if ended > 0 {
		logger.Info("Idle sessions reaped", zap.Int("count", ended))
	}
	return ended
}

// RunReaper calls ReapIdle every interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle(ctx)
		}
	}
}

// Shutdown ends every open session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_, _ = m.End(ctx, id)
	}
}

// Active reports the number of open sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
