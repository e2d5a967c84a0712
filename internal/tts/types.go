package tts

import "context"

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// Sink consumes playback output: synthesized audio chunks in the normal
// case, plain question text when every audio tier has failed.
type Sink interface {
	Play(ctx context.Context, chunk SynthChunk) error
	ShowText(sessionID string, index int, text string)
}
