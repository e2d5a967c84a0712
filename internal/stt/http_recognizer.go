package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/studentpilot/interviewd/internal/config"
)

// httpRecognizer submits utterances to a whisper-server style REST endpoint
// (POST /inference with a multipart WAV upload).
type httpRecognizer struct {
	endpoint string
	cfg      config.STTConfig
	client   *http.Client
}

type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func NewHTTPRecognizer(cfg config.STTConfig) Recognizer {
	return &httpRecognizer{
		endpoint: strings.TrimRight(cfg.Endpoint, "/") + "/inference",
		cfg:      cfg,
		client:   &http.Client{Timeout: 45 * time.Second},
	}
}

func (r *httpRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("create multipart file: %w", err)
	}
	if err := encodeWav(part, pcm, sampleRate, channels); err != nil {
		return TranscriptResult{}, err
	}
	if r.cfg.Language != "" {
		if err := writer.WriteField("language", r.cfg.Language); err != nil {
			return TranscriptResult{}, fmt.Errorf("write language field: %w", err)
		}
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return TranscriptResult{}, fmt.Errorf("write format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return TranscriptResult{}, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, &body)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("read inference response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return TranscriptResult{}, fmt.Errorf("inference returned status %s: %s", resp.Status, bytes.TrimSpace(payload))
	}

	var decoded inferenceResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode inference response: %w", err)
	}
	if decoded.Error != "" {
		return TranscriptResult{}, fmt.Errorf("inference error: %s", decoded.Error)
	}
	return TranscriptResult{Text: strings.TrimSpace(decoded.Text)}, nil
}

// encodeWav writes a minimal PCM16 WAV stream without seeking, since the
// multipart part is not an io.WriteSeeker.
func encodeWav(w io.Writer, pcm []byte, sampleRate, channels int) error {
	dataLen := len(pcm)
	byteRate := sampleRate * channels * 2

	var header bytes.Buffer
	header.WriteString("RIFF")
	writeLE32(&header, uint32(36+dataLen))
	header.WriteString("WAVE")
	header.WriteString("fmt ")
	writeLE32(&header, 16)
	writeLE16(&header, 1) // PCM
	writeLE16(&header, uint16(channels))
	writeLE32(&header, uint32(sampleRate))
	writeLE32(&header, uint32(byteRate))
	writeLE16(&header, uint16(channels*2))
	writeLE16(&header, 16)
	header.WriteString("data")
	writeLE32(&header, uint32(dataLen))

	if _, err := w.Write(header.Bytes()); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}

func writeLE16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
}

func writeLE32(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 24))
}
