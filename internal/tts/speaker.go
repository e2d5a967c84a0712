package tts

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
)

// ErrInterrupted reports that playback was cancelled mid-question,
// typically because the candidate started talking over the interviewer.
var ErrInterrupted = errors.New("tts: playback interrupted")

// Tier is one rung of the synthesis fallback chain.
type Tier struct {
	Name  string
	Synth Synthesizer
}

// Playback is a handle for one question's delivery. Cancel is idempotent
// and safe to call before the first chunk has been produced.
type Playback struct {
	mu        sync.Mutex
	cancelled bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func newPlayback() *Playback {
	return &Playback{done: make(chan struct{})}
}

// Cancel stops the playback if it is still running. Calling it again,
// or after playback finished on its own, has no effect.
func (p *Playback) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled {
		return
	}
	p.cancelled = true
	if p.cancel != nil {
		p.cancel()
	}
}

// Done is closed when the playback has fully wound down.
func (p *Playback) Done() <-chan struct{} { return p.done }

func (p *Playback) bind(cancel context.CancelFunc) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled {
		return false
	}
	p.cancel = cancel
	return true
}

func (p *Playback) interrupted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

func (p *Playback) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

// Speaker delivers question text out loud, walking a chain of synthesis
// tiers until one produces audio. When every tier fails the text is shown
// instead and delivery still counts as successful: a broken speech stack
// must never strand the interview.
type Speaker struct {
	tiers  []Tier
	sink   Sink
	voices []string
	logger *slog.Logger

	mu      sync.Mutex
	current *Playback
}

func NewSpeaker(tiers []Tier, sink Sink, voices []string, logger *slog.Logger) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{
		tiers:  tiers,
		sink:   sink,
		voices: voices,
		logger: logger.With("component", "speaker"),
	}
}

// Begin registers a new playback handle, cancelling and draining any
// playback still in flight. Callers hold the handle so barge-in can stop
// delivery from another goroutine.
func (s *Speaker) Begin() *Playback {
	pb := newPlayback()
	s.mu.Lock()
	prev := s.current
	s.current = pb
	s.mu.Unlock()

	if prev != nil {
		prev.Cancel()
		<-prev.Done()
	}
	return pb
}

// Speak delivers one question through pb. It blocks until the audio has
// been fully played, the text fallback has been shown, or pb is cancelled.
// Cancellation surfaces as ErrInterrupted; tier failures do not surface at
// all once the text fallback has been displayed.
func (s *Speaker) Speak(ctx context.Context, pb *Playback, sessionID string, index int, text string) error {
	defer pb.finish()
	defer func() {
		s.mu.Lock()
		if s.current == pb {
			s.current = nil
		}
		s.mu.Unlock()
	}()

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !pb.bind(cancel) {
		return ErrInterrupted
	}

	req := SynthRequest{SessionID: sessionID, Text: text, Voice: s.pickVoice()}
	for _, tier := range s.tiers {
		err := s.playTier(pctx, tier, req)
		if err == nil {
			return nil
		}
		if pb.interrupted() {
			return ErrInterrupted
		}
		if pctx.Err() != nil {
			return pctx.Err()
		}
		s.logger.Warn("synthesis tier failed, falling back",
			"tier", tier.Name,
			"session", sessionID,
			"error", err)
	}

	s.logger.Warn("all synthesis tiers failed, showing text", "session", sessionID)
	s.sink.ShowText(sessionID, index, text)
	return nil
}

func (s *Speaker) playTier(ctx context.Context, tier Tier, req SynthRequest) error {
	chunks, errs := tier.Synth.Synthesize(ctx, req)
	var (
		played   bool
		firstErr error
	)
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if err := s.sink.Play(ctx, chunk); err != nil {
				return err
			}
			played = true
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if firstErr != nil {
		return firstErr
	}
	if !played {
		return errors.New("synthesizer produced no audio")
	}
	return nil
}

func (s *Speaker) pickVoice() string {
	if len(s.voices) == 0 {
		return ""
	}
	return s.voices[rand.IntN(len(s.voices))]
}
