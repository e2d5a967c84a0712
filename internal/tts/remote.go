package tts

import (
	"context"
	"fmt"
)

// SpeechFunc fetches synthesized PCM for a piece of text from a remote
// service. Implemented by the backend client.
type SpeechFunc func(ctx context.Context, text, voice string) ([]byte, error)

// remoteSynth turns a one-shot remote synthesis call into the streaming
// Synthesizer contract, slicing the returned PCM into playback-sized chunks.
type remoteSynth struct {
	speech     SpeechFunc
	sampleRate int
	channels   int
}

func NewRemoteSynth(speech SpeechFunc, sampleRate, channels int) Synthesizer {
	return &remoteSynth{speech: speech, sampleRate: sampleRate, channels: channels}
}

func (r *remoteSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		pcm, err := r.speech(ctx, req.Text, req.Voice)
		if err != nil {
			errs <- fmt.Errorf("remote synthesis: %w", err)
			return
		}
		if len(pcm) == 0 {
			errs <- fmt.Errorf("remote synthesis: empty audio")
			return
		}

		// 200ms of 16-bit PCM per chunk.
		stride := r.sampleRate / 5 * 2 * r.channels
		if stride <= 0 {
			stride = len(pcm)
		}
		sequence := 0
		for off := 0; off < len(pcm); off += stride {
			end := off + stride
			if end > len(pcm) {
				end = len(pcm)
			}
			chunk := SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   sequence,
				SampleRate: r.sampleRate,
				Channels:   r.channels,
				PCM:        pcm[off:end],
				Final:      end == len(pcm),
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			sequence++
		}
	}()

	return chunks, errs
}
