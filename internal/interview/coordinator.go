package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/studentpilot/interviewd/internal/backend"
	"github.com/studentpilot/interviewd/internal/config"
	"github.com/studentpilot/interviewd/internal/protocol"
	"github.com/studentpilot/interviewd/internal/stt"
	"github.com/studentpilot/interviewd/internal/tts"
)

// Speaker delivers one question out loud, falling back to text display.
type Speaker interface {
	Begin() *tts.Playback
	Speak(ctx context.Context, pb *tts.Playback, sessionID string, index int, text string) error
}

// Listener captures one spoken answer, blocking until the utterance is
// stopped or the context ends.
type Listener interface {
	Listen(ctx context.Context) (string, error)
	Stop()
	Active() bool
}

// Meter flips the audio analysis loop between playback posture (watching
// for barge-in) and capture posture (watching for trailing silence).
type Meter interface {
	SetListening(active bool)
	SetSpeaking(active bool)
}

// Events publishes session-visible state to connected clients.
type Events interface {
	Phase(ev protocol.PhaseEvent)
	Feedback(ev protocol.FeedbackEvent)
	Notice(n protocol.Notice)
}

// Recorder persists a finished interview.
type Recorder interface {
	SaveInterview(ctx context.Context, s *Session) error
}

// MediaReleaser tears down a session's capture tracks.
type MediaReleaser interface {
	Release(sessionID string)
}

// ErrNotInFeedback rejects advance/retry requests made while the session
// is in any phase other than feedback.
var ErrNotInFeedback = errors.New("interview: not in feedback phase")

type decision int

const (
	decisionAdvance decision = iota
	decisionRetry
)

// Options carries the coordinator's collaborators.
type Options struct {
	Config   config.InterviewConfig
	Backend  backend.Client
	Speaker  Speaker
	Listener Listener
	Meter    Meter
	Events   Events
	Recorder Recorder
	Media    MediaReleaser
	Logger   *slog.Logger
}

// Coordinator runs one interview session as a sequential loop:
// speak the question, capture the answer, critique it, wait for the
// candidate to advance. Exactly one of those stages is in flight at a
// time; concurrency enters only through the control methods, which nudge
// the loop rather than mutate state themselves.
type Coordinator struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	session  Session
	playback *tts.Playback
	adaptive map[int]bool

	decision chan decision
	cancel   context.CancelFunc
	done     chan struct{}
	endOnce  sync.Once
}

func NewCoordinator(id, role string, questions []string, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		opts:   opts,
		logger: logger.With("component", "interview", "session", id),
		session: Session{
			ID:        id,
			Role:      role,
			Questions: questions,
			Phase:     PhaseIdle,
			StartedAt: time.Now(),
		},
		adaptive: make(map[int]bool),
		decision: make(chan decision, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the session loop.
func (c *Coordinator) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	go c.run(ctx)
}

// Done is closed once the session has fully wound down.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Ended reports whether the session has finished.
func (c *Coordinator) Ended() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ID returns the session identifier.
func (c *Coordinator) ID() string { return c.sessionID() }

// Snapshot returns a copy of the current session state.
func (c *Coordinator) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.snapshot()
}

// Advance moves to the next question. It is only legal while feedback is
// being shown; at any other time the request is rejected with a hint.
func (c *Coordinator) Advance() error {
	return c.decide(decisionAdvance, "advance")
}

// Retry re-asks the current question without advancing, discarding the
// exchange just recorded. Like Advance it is only legal during feedback.
func (c *Coordinator) Retry() error {
	return c.decide(decisionRetry, "retry")
}

func (c *Coordinator) decide(d decision, verb string) error {
	c.mu.Lock()
	phase := c.session.Phase
	id := c.session.ID
	c.mu.Unlock()
	if phase != PhaseFeedback {
		c.opts.Events.Notice(protocol.Notice{
			SessionID: id,
			Code:      protocol.NoticeAdvanceDenied,
			Message:   fmt.Sprintf("cannot %s while %s; wait for feedback", verb, phase),
		})
		return fmt.Errorf("cannot %s during phase %s: %w", verb, phase, ErrNotInFeedback)
	}
	select {
	case c.decision <- d:
	default:
	}
	return nil
}

// BargeIn cancels question playback so the candidate can start answering
// over the interviewer. Outside the question phase it is a no-op.
func (c *Coordinator) BargeIn() {
	c.mu.Lock()
	pb := c.playback
	phase := c.session.Phase
	c.mu.Unlock()
	if phase == PhaseQuestion && pb != nil {
		c.logger.Debug("barge-in, cancelling playback")
		pb.Cancel()
	}
}

// StopListening ends the capture turn early. Used both by the silence
// auto-stop and by an explicit stop from the client.
func (c *Coordinator) StopListening() {
	c.opts.Listener.Stop()
}

// End terminates the session from any phase. Calling it more than once,
// or after the session finished on its own, has no further effect.
func (c *Coordinator) End() {
	c.endOnce.Do(func() {
		c.mu.Lock()
		pb := c.playback
		c.mu.Unlock()
		if pb != nil {
			pb.Cancel()
		}
		c.opts.Listener.Stop()
		if c.cancel != nil {
			c.cancel()
		}
	})
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.finish()
	for {
		c.mu.Lock()
		if c.session.Index >= len(c.session.Questions) {
			c.mu.Unlock()
			return
		}
		idx := c.session.Index
		question := c.session.Questions[idx]
		c.mu.Unlock()

		retry, ok := c.askQuestion(ctx, idx, question)
		if !ok {
			return
		}

		c.mu.Lock()
		if retry {
			// Drop the discarded exchange so the redo replaces it.
			if n := len(c.session.Transcript); n > 0 {
				c.session.Transcript = c.session.Transcript[:n-1]
			}
		} else {
			c.session.Index++
		}
		c.mu.Unlock()
	}
}

// askQuestion runs one full question cycle. It returns retry=true when
// the candidate asked to redo the slot, and ok=false when the session
// context ended mid-cycle.
func (c *Coordinator) askQuestion(ctx context.Context, idx int, question string) (retry, ok bool) {
	id := c.sessionID()

	c.setPhase(PhaseQuestion, idx, question)
	c.opts.Meter.SetSpeaking(true)
	pb := c.opts.Speaker.Begin()
	c.mu.Lock()
	c.playback = pb
	c.mu.Unlock()

	err := c.opts.Speaker.Speak(ctx, pb, id, idx, question)

	c.mu.Lock()
	c.playback = nil
	c.mu.Unlock()
	c.opts.Meter.SetSpeaking(false)

	if ctx.Err() != nil {
		return false, false
	}
	if err != nil && !errors.Is(err, tts.ErrInterrupted) {
		c.logger.Warn("question delivery failed", "index", idx, "error", err)
	}

	c.setPhase(PhaseListening, idx, "")
	c.opts.Meter.SetListening(true)
	started := time.Now()
	answer, lerr := c.opts.Listener.Listen(ctx)
	heard := time.Since(started)
	c.opts.Meter.SetListening(false)
	if ctx.Err() != nil {
		return false, false
	}

	c.setPhase(PhaseProcessing, idx, "")
	qa := QA{Question: question, FollowUp: c.isAdaptive(idx)}
	switch {
	case errors.Is(lerr, stt.ErrNoSpeech):
		c.opts.Events.Notice(protocol.Notice{
			SessionID: id,
			Code:      protocol.NoticeNoAnswer,
			Message:   "no answer detected; retry the question or move on",
		})
	case lerr != nil:
		c.logger.Warn("transcription failed", "index", idx, "error", lerr)
		c.opts.Events.Notice(protocol.Notice{
			SessionID: id,
			Code:      protocol.NoticeSTTError,
			Message:   "could not transcribe your answer",
		})
	default:
		qa.Answer = answer
		qa.Feedback = c.fetchFeedback(ctx, question, answer)
		qa.Delivery = deliveryNotes(answer, heard)
		if c.opts.Config.FollowUpEnabled {
			go c.fetchFollowUp(idx, question, answer)
		}
	}

	c.mu.Lock()
	c.session.Transcript = append(c.session.Transcript, qa)
	c.mu.Unlock()

	c.opts.Events.Feedback(protocol.FeedbackEvent{
		SessionID: id,
		Index:     idx,
		Question:  qa.Question,
		Answer:    qa.Answer,
		Feedback:  qa.Feedback,
		Delivery:  qa.Delivery,
	})

	// Drain any stale decision before feedback opens; sends are only
	// accepted while the phase is feedback.
	select {
	case <-c.decision:
	default:
	}
	c.setPhase(PhaseFeedback, idx, "")

	select {
	case d := <-c.decision:
		return d == decisionRetry, true
	case <-ctx.Done():
		return false, false
	}
}

func (c *Coordinator) fetchFeedback(ctx context.Context, question, answer string) string {
	feedback, err := c.opts.Backend.Feedback(ctx, backend.FeedbackRequest{
		Role:     c.sessionRole(),
		Question: question,
		Answer:   answer,
	})
	if err != nil {
		c.logger.Warn("feedback request failed", "error", err)
		return "Feedback is unavailable for this answer right now."
	}
	if strings.TrimSpace(feedback) == "" {
		return "Feedback is unavailable for this answer right now."
	}
	return feedback
}

// fetchFollowUp asks for an adaptive question for the next slot. It is
// best-effort: failures and late arrivals are discarded, the pre-set
// question stays in place.
func (c *Coordinator) fetchFollowUp(idx int, question, answer string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	next, err := c.opts.Backend.FollowUp(ctx, backend.FollowUpRequest{
		Role:             c.sessionRole(),
		Question:         question,
		Answer:           answer,
		TranscriptWindow: c.transcriptWindow(),
	})
	if err != nil {
		c.logger.Debug("follow-up request failed", "error", err)
		return
	}
	next = strings.TrimSpace(next)
	if next == "" {
		return
	}

	target := idx + 1
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Phase == PhaseEnded {
		return
	}
	if target >= len(c.session.Questions) || c.session.Index >= target {
		// The slot was already asked (or never exists); too late to swap it.
		return
	}
	c.session.Questions[target] = next
	c.adaptive[target] = true
	c.logger.Debug("follow-up question installed", "slot", target)
}

func (c *Coordinator) transcriptWindow() []backend.Exchange {
	window := c.opts.Config.FollowUpWindow
	c.mu.Lock()
	defer c.mu.Unlock()
	transcript := c.session.Transcript
	if window > 0 && len(transcript) > window {
		transcript = transcript[len(transcript)-window:]
	}
	out := make([]backend.Exchange, 0, len(transcript))
	for _, qa := range transcript {
		out = append(out, backend.Exchange{Question: qa.Question, Answer: qa.Answer})
	}
	return out
}

func (c *Coordinator) finish() {
	c.mu.Lock()
	c.session.Phase = PhaseEnded
	c.session.EndedAt = time.Now()
	idx := c.session.Index
	snap := c.session.snapshot()
	c.mu.Unlock()

	c.opts.Meter.SetListening(false)
	c.opts.Meter.SetSpeaking(false)
	if c.opts.Media != nil {
		c.opts.Media.Release(snap.ID)
	}
	if c.opts.Recorder != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.opts.Recorder.SaveInterview(saveCtx, &snap); err != nil {
			c.logger.Error("persist interview failed", "error", err)
		}
	}
	c.opts.Events.Phase(protocol.PhaseEvent{
		SessionID: snap.ID,
		Phase:     PhaseEnded.String(),
		Index:     idx,
		Timestamp: time.Now(),
	})
	c.logger.Info("session ended", "questions_answered", len(snap.Transcript))
	close(c.done)
}

func (c *Coordinator) setPhase(phase Phase, idx int, question string) {
	c.mu.Lock()
	c.session.Phase = phase
	id := c.session.ID
	c.mu.Unlock()
	c.opts.Events.Phase(protocol.PhaseEvent{
		SessionID: id,
		Phase:     phase.String(),
		Index:     idx,
		Question:  question,
		Timestamp: time.Now(),
	})
}

func (c *Coordinator) sessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ID
}

func (c *Coordinator) sessionRole() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Role
}

func (c *Coordinator) isAdaptive(idx int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adaptive[idx]
}

var fillerWords = map[string]struct{}{
	"um": {}, "uh": {}, "like": {}, "basically": {}, "actually": {},
}

// deliveryNotes produces a rough read on pacing and verbal tics from the
// transcript alone. It is a stand-in for real prosody analysis.
func deliveryNotes(answer string, heard time.Duration) string {
	words := strings.Fields(answer)
	if len(words) == 0 {
		return ""
	}
	fillers := 0
	for _, w := range words {
		if _, ok := fillerWords[strings.ToLower(strings.Trim(w, ".,!?"))]; ok {
			fillers++
		}
	}

	var notes []string
	if minutes := heard.Minutes(); minutes > 0.05 {
		wpm := float64(len(words)) / minutes
		switch {
		case wpm > 180:
			notes = append(notes, "you spoke quickly; slowing down would help clarity")
		case wpm < 90:
			notes = append(notes, "your pacing was slow; a bit more energy would help")
		default:
			notes = append(notes, "good pacing")
		}
	}
	if fillers >= 3 {
		notes = append(notes, fmt.Sprintf("heard %d filler words", fillers))
	}
	return strings.Join(notes, "; ")
}
