package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/studentpilot/interviewd/internal/config"
)

// ErrNoSpeech reports that a listening turn ended without any recognizable
// words. Callers treat it differently from recognizer failures: the user is
// told no answer was detected and may retry the question.
var ErrNoSpeech = errors.New("no speech detected")

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error)
}

// NewRecognizer builds the recognizer selected by configuration.
func NewRecognizer(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockRecognizer(), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "http":
		return NewHTTPRecognizer(cfg), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
