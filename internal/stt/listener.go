package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/studentpilot/interviewd/internal/config"
)

// ErrAlreadyListening reports an attempt to open a second transcription
// session while one is active.
var ErrAlreadyListening = errors.New("transcription session already active")

// Listener turns the recognizer into a single awaitable operation: listen
// for one utterance, return the final transcript. Audio arrives through
// Push; the turn ends when Stop is called (by the user, by the audio
// analysis auto-stop, or by session teardown).
//
// After Stop the buffer is frozen: stray frames and in-flight partial
// results are dropped rather than mutating a finished turn.
type Listener struct {
	rec       Recognizer
	cfg       config.STTConfig
	log       *slog.Logger
	onPartial func(text string)

	mu          sync.Mutex
	active      bool
	frozen      bool
	inflight    bool
	buf         []byte
	stop        chan struct{}
	lastPartial time.Time
}

func NewListener(rec Recognizer, cfg config.STTConfig, log *slog.Logger, onPartial func(text string)) *Listener {
	return &Listener{
		rec:       rec,
		cfg:       cfg,
		log:       log.With(slog.String("component", "stt-listener")),
		onPartial: onPartial,
	}
}

// Listen starts a listening turn and blocks until Stop or ctx cancellation,
// then returns the final transcript of the buffered audio. An empty
// utterance yields ErrNoSpeech.
func (l *Listener) Listen(ctx context.Context) (string, error) {
	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return "", ErrAlreadyListening
	}
	l.active = true
	l.frozen = false
	l.buf = l.buf[:0]
	l.lastPartial = time.Time{}
	l.stop = make(chan struct{})
	stop := l.stop
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.active = false
		l.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		l.mu.Lock()
		l.frozen = true
		l.mu.Unlock()
		return "", ctx.Err()
	case <-stop:
	}

	l.mu.Lock()
	pcm := append([]byte(nil), l.buf...)
	l.mu.Unlock()

	if len(pcm) == 0 {
		return "", ErrNoSpeech
	}

	tctx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()
	result, err := l.rec.Transcribe(tctx, pcm, l.cfg.SampleRate, l.cfg.Channels, true)
	if err != nil {
		return "", fmt.Errorf("final transcription: %w", err)
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

// Stop freezes the current turn. Idempotent and safe when nothing is
// listening.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active || l.frozen {
		return
	}
	l.frozen = true
	close(l.stop)
}

// Active reports whether a listening turn is in progress.
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active && !l.frozen
}

// Push appends a captured audio frame to the current turn. Frames outside
// an active turn are dropped. On the configured cadence a partial
// transcription of the buffer so far is scheduled for live display.
func (l *Listener) Push(pcm []byte) {
	l.mu.Lock()
	if !l.active || l.frozen {
		l.mu.Unlock()
		return
	}
	l.buf = append(l.buf, pcm...)

	var snapshot []byte
	if l.cfg.PublishInterim && !l.inflight {
		interval := time.Duration(l.cfg.PartialEveryMS) * time.Millisecond
		if interval > 0 && time.Since(l.lastPartial) >= interval {
			l.inflight = true
			l.lastPartial = time.Now()
			snapshot = append([]byte(nil), l.buf...)
		}
	}
	l.mu.Unlock()

	if snapshot != nil {
		go l.transcribePartial(snapshot)
	}
}

func (l *Listener) transcribePartial(pcm []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	result, err := l.rec.Transcribe(ctx, pcm, l.cfg.SampleRate, l.cfg.Channels, false)

	l.mu.Lock()
	l.inflight = false
	frozen := l.frozen
	l.mu.Unlock()

	if err != nil {
		l.log.Warn("partial transcription failed", slog.String("error", err.Error()))
		return
	}
	// Result arrived after the turn was frozen; stray recognizer output
	// must not resurrect a closed turn.
	if frozen {
		return
	}
	if text := strings.TrimSpace(result.Text); text != "" && l.onPartial != nil {
		l.onPartial(text)
	}
}
