package interview

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionActive is returned when a start request arrives while another
// interview still owns the audio path.
var ErrSessionActive = errors.New("an interview session is already active")

// defaultQuestions keeps a session startable when the remote service
// cannot supply a plan.
var defaultQuestions = []string{
	"Tell me about yourself and your background.",
	"Describe a challenging project you worked on recently.",
	"How do you approach debugging a problem you have never seen before?",
	"Tell me about a time you disagreed with a teammate.",
	"What is a technical decision you regret, and what did you learn?",
	"Where do you want to grow in the next two years?",
}

// Manager owns session lifecycle. The daemon drives a single microphone,
// so at most one session runs at a time.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	active *Coordinator
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{opts: opts, logger: logger.With("component", "interview")}
}

// Start plans a new interview and launches its coordinator. The question
// plan comes from the remote service; if that fails the session still
// starts with the stock question set.
func (m *Manager) Start(ctx context.Context, role string, count int) (*Coordinator, error) {
	m.mu.Lock()
	if m.active != nil && !m.active.Ended() {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	m.mu.Unlock()

	if count <= 0 {
		count = m.opts.Config.QuestionCount
	}
	questions, err := m.opts.Backend.StartInterview(ctx, role, count)
	if err != nil {
		m.logger.Warn("question plan unavailable, using stock questions", "error", err)
		questions = append([]string(nil), defaultQuestions...)
		if count < len(questions) {
			questions = questions[:count]
		}
	}

	c := NewCoordinator(uuid.NewString(), role, questions, m.opts)

	m.mu.Lock()
	if m.active != nil && !m.active.Ended() {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	m.active = c
	m.mu.Unlock()

	c.Start(ctx)
	m.logger.Info("session started", "session", c.sessionID(), "role", role, "questions", len(questions))
	return c, nil
}

// Active returns the running coordinator, or nil.
func (m *Manager) Active() *Coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.Ended() {
		return nil
	}
	return m.active
}

// Lookup returns the coordinator for a session ID if it is the active one.
func (m *Manager) Lookup(sessionID string) *Coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.sessionID() != sessionID {
		return nil
	}
	return m.active
}

// Close ends any running session and waits for it to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active != nil && !active.Ended() {
		active.End()
		<-active.Done()
	}
}
