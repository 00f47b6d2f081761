// Package session runs investigations for long-lived client connections
// and streams their progress back in order.
//
// Each session owns one outbound queue drained by a single writer
// goroutine, so events reach the transport in the order they were
// produced. A session runs at most one investigation at a time.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rawblock/wallet-investigator/internal/insights"
	"github.com/rawblock/wallet-investigator/internal/investigation"
	"github.com/rawblock/wallet-investigator/pkg/models"
)

var (
	ErrInvestigationActive = errors.New("an investigation is already running in this session")
	ErrSessionNotFound     = errors.New("session not found")
	ErrTooManySessions     = errors.New("session limit reached")
)

type EventType string

const (
	EventConnected EventType = "connected"
	EventMessage   EventType = "message"
	EventProgress  EventType = "progress"
	EventInsight   EventType = "insight"
	EventError     EventType = "error"
)

// Event is one frame delivered to a client
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ResultMessage is the payload of the message event sent on completion
type ResultMessage struct {
	InvestigationID string                      `json:"investigationId"`
	Text            string                      `json:"text"`
	Record          *models.InvestigationRecord `json:"record"`
}

// ErrorMessage is the payload of an error event
type ErrorMessage struct {
	InvestigationID string `json:"investigationId,omitempty"`
	Step            string `json:"step,omitempty"`
	Message         string `json:"message"`
}

// Transport delivers events to one client
type Transport interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}

// Investigator starts streaming investigations
type Investigator interface {
	Stream(ctx context.Context, req investigation.Request) *investigation.Run
}

// Narrator turns a finished record into prose
type Narrator interface {
	Explain(ctx context.Context, rec *models.InvestigationRecord) string
}

const (
	defaultMaxSessions = 100
	defaultIdleTimeout = 30 * time.Minute
	outboundBuffer     = 64
	maxInsights        = 500 // per session, oldest dropped first
)

// Options configures a Coordinator
type Options struct {
	Engine      Investigator
	Narrator    Narrator
	MaxSessions int
	IdleTimeout time.Duration
	Logger      zerolog.Logger
}

// Coordinator owns every open session
type Coordinator struct {
	engine      Investigator
	narrator    Narrator
	maxSessions int
	idleTimeout time.Duration
	log         zerolog.Logger
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewCoordinator creates a coordinator from opts
func NewCoordinator(opts Options) *Coordinator {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	return &Coordinator{
		engine:      opts.Engine,
		narrator:    opts.Narrator,
		maxSessions: opts.MaxSessions,
		idleTimeout: opts.IdleTimeout,
		log:         opts.Logger.With().Str("component", "session").Logger(),
		now:         time.Now,
		sessions:    make(map[string]*Session),
	}
}

// Session is one client connection
type Session struct {
	ID        string
	CreatedAt time.Time

	transport Transport
	out       chan Event
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu             sync.Mutex
	lastActive     time.Time
	running        string // investigation ID, empty when idle
	runCancel      context.CancelFunc
	investigations int
	insights       []models.Insight
}

// Info is the read-only view of a session returned by Snapshot
type Info struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActive     time.Time `json:"lastActive"`
	Running        string    `json:"running,omitempty"`
	Investigations int              `json:"investigations"`
	Insights       []models.Insight `json:"insights"`
}

// Open registers a new session on t, starts its writer and sends the
// connected event.
func (c *Coordinator) Open(t Transport) (*Session, error) {
	now := c.now()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		transport:  t,
		out:        make(chan Event, outboundBuffer),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		lastActive: now,
	}

	c.mu.Lock()
	if len(c.sessions) >= c.maxSessions {
		c.mu.Unlock()
		cancel()
		return nil, ErrTooManySessions
	}
	c.sessions[s.ID] = s
	total := len(c.sessions)
	c.mu.Unlock()

	go c.writer(s)
	c.send(s, EventConnected, map[string]any{"sessionId": s.ID})
	c.log.Info().Str("session", s.ID).Int("open", total).Msg("Session opened")
	return s, nil
}

// writer is the only goroutine that touches the transport's Send
func (c *Coordinator) writer(s *Session) {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.out:
			if err := s.transport.Send(s.ctx, ev); err != nil {
				if s.ctx.Err() == nil {
					c.log.Warn().Err(err).Str("session", s.ID).Msg("Transport send failed, closing session")
					go c.End(s.ID)
				}
				return
			}
		}
	}
}

func (c *Coordinator) send(s *Session, typ EventType, data any) bool {
	ev := Event{Type: typ, SessionID: s.ID, Data: data, Timestamp: c.now()}
	select {
	case s.out <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Investigate starts req in the session. Only one investigation may run
// per session; a second call is rejected with ErrInvestigationActive.
func (c *Coordinator) Investigate(sessionID string, req investigation.Request) error {
	s, err := c.get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.running != "" {
		s.mu.Unlock()
		return ErrInvestigationActive
	}
	runCtx, runCancel := context.WithCancel(s.ctx)
	run := c.engine.Stream(runCtx, req)
	s.running = run.ID
	s.runCancel = runCancel
	s.investigations++
	s.lastActive = c.now()
	s.mu.Unlock()

	go c.forward(runCtx, s, run, runCancel)
	return nil
}

// forward relays one run's progress and result to the session
func (c *Coordinator) forward(ctx context.Context, s *Session, run *investigation.Run, cancel context.CancelFunc) {
	defer cancel()
	defer func() {
		s.mu.Lock()
		s.running = ""
		s.runCancel = nil
		s.lastActive = c.now()
		s.mu.Unlock()
	}()

	for p := range run.Progress() {
		c.send(s, EventProgress, p)
	}

	rec, err := run.Wait()
	if err != nil {
		msg := ErrorMessage{InvestigationID: run.ID, Message: err.Error()}
		var stepErr *investigation.StepError
		if errors.As(err, &stepErr) {
			msg.Step = string(stepErr.Step)
			msg.Message = stepErr.Err.Error()
		}
		c.send(s, EventError, msg)
		return
	}

	text := insights.Template(rec)
	if c.narrator != nil {
		text = c.narrator.Explain(ctx, rec)
	}
	found := insights.Insights(rec)
	s.addInsights(found)

	if !c.send(s, EventMessage, ResultMessage{InvestigationID: rec.ID, Text: text, Record: rec}) {
		return
	}
	for _, in := range found {
		if !c.send(s, EventInsight, in) {
			return
		}
	}
}

// addInsights appends to the session's running insight list
func (s *Session) addInsights(in []models.Insight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights = append(s.insights, in...)
	if n := len(s.insights) - maxInsights; n > 0 {
		s.insights = append([]models.Insight(nil), s.insights[n:]...)
	}
}

// Insights returns every insight produced in the session so far, oldest first
func (s *Session) Insights() []models.Insight {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Insight{}, s.insights...)
}

// Reject sends an error event to the session without running anything,
// used for client frames the transport could not act on.
func (c *Coordinator) Reject(sessionID string, err error) error {
	s, getErr := c.get(sessionID)
	if getErr != nil {
		return getErr
	}
	c.send(s, EventError, ErrorMessage{Message: err.Error()})
	return nil
}

// Touch marks the session active now
func (c *Coordinator) Touch(sessionID string) {
	if s, err := c.get(sessionID); err == nil {
		s.mu.Lock()
		s.lastActive = c.now()
		s.mu.Unlock()
	}
}

// End cancels any running investigation, stops delivery and closes the
// transport.
func (c *Coordinator) End(sessionID string) error {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	c.close(s)
	c.log.Info().Str("session", sessionID).Msg("Session ended")
	return nil
}

func (c *Coordinator) close(s *Session) {
	s.closeOnce.Do(func() {
		s.cancel()
		if err := s.transport.Close(); err != nil {
			c.log.Debug().Err(err).Str("session", s.ID).Msg("Transport close")
		}
		<-s.done
	})
}

// Sweep ends idle sessions with no running investigation. It returns the
// number ended.
func (c *Coordinator) Sweep() int {
	cutoff := c.now().Add(-c.idleTimeout)

	c.mu.Lock()
	var idle []*Session
	for id, s := range c.sessions {
		s.mu.Lock()
		stale := s.running == "" && s.lastActive.Before(cutoff)
		s.mu.Unlock()
		if stale {
			idle = append(idle, s)
			delete(c.sessions, id)
		}
	}
	c.mu.Unlock()

	for _, s := range idle {
		c.close(s)
		c.log.Info().Str("session", s.ID).Msg("Idle session closed")
	}
	return len(idle)
}

// RunSweeper calls Sweep periodically until ctx is done
func (c *Coordinator) RunSweeper(ctx context.Context) {
	interval := max(c.idleTimeout/2, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Snapshot lists the open sessions, oldest first
func (c *Coordinator) Snapshot() []Info {
	c.mu.Lock()
	out := make([]Info, 0, len(c.sessions))
	for _, s := range c.sessions {
		s.mu.Lock()
		out = append(out, Info{
			ID:             s.ID,
			CreatedAt:      s.CreatedAt,
			LastActive:     s.lastActive,
			Running:        s.running,
			Investigations: s.investigations,
			Insights:       append([]models.Insight{}, s.insights...),
		})
		s.mu.Unlock()
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of open sessions
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Shutdown ends every session
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	all := make([]*Session, 0, len(c.sessions))
	for id, s := range c.sessions {
		all = append(all, s)
		delete(c.sessions, id)
	}
	c.mu.Unlock()

	for _, s := range all {
		c.close(s)
	}
}

func (c *Coordinator) get(id string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}
