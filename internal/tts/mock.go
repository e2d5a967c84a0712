package tts

import (
	"context"
	"time"
)

// MockSynthesizer emits a short burst of silent PCM. It keeps the rest of
// the pipeline exercisable without a speech engine installed.
type MockSynthesizer struct {
	SampleRate int
	Channels   int
}

func NewMockSynthesizer(sampleRate, channels int) *MockSynthesizer {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	if channels <= 0 {
		channels = 1
	}
	return &MockSynthesizer{SampleRate: sampleRate, Channels: channels}
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(25 * time.Millisecond):
		}

		chunk := SynthChunk{
			SessionID:  req.SessionID,
			Sequence:   0,
			SampleRate: m.SampleRate,
			Channels:   m.Channels,
			PCM:        make([]byte, m.SampleRate/10*2*m.Channels),
			Final:      true,
		}
		select {
		case chunks <- chunk:
		case <-ctx.Done():
			errs <- ctx.Err()
		}
	}()

	return chunks, errs
}
