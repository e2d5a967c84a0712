package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/studentpilot/interviewd/internal/config"
)

type httpClient struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxRetries  int
	client      *http.Client
}

// NewHTTPClient builds a Client against the hosted interview service.
// Rate-limit responses are retried with exponential backoff up to
// cfg.MaxRetries attempts; all other failures are returned immediately.
func NewHTTPClient(cfg config.BackendConfig) Client {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpClient{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		client:      &http.Client{Timeout: timeout},
	}
}

type startRequest struct {
	Role        string  `json:"role"`
	Count       int     `json:"count"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`
}

type startResponse struct {
	Questions []string `json:"questions"`
}

type followUpRequest struct {
	Role       string     `json:"role"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`
	Transcript []Exchange `json:"transcript,omitempty"`
	Model      string     `json:"model"`
}

type followUpResponse struct {
	Question string `json:"question"`
}

type feedbackRequest struct {
	Role        string  `json:"role"`
	Question    string  `json:"question"`
	Answer      string  `json:"answer"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`
}

type feedbackResponse struct {
	Feedback string `json:"feedback"`
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type speechResponse struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate"`
}

func (c *httpClient) StartInterview(ctx context.Context, role string, count int) ([]string, error) {
	var out startResponse
	err := c.post(ctx, "/v1/interview/start", startRequest{
		Role:        role,
		Count:       count,
		Model:       c.model,
		Temperature: c.temperature,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Questions) == 0 {
		return nil, fmt.Errorf("interview service returned no questions")
	}
	return out.Questions, nil
}

func (c *httpClient) FollowUp(ctx context.Context, req FollowUpRequest) (string, error) {
	var out followUpResponse
	err := c.post(ctx, "/v1/interview/followup", followUpRequest{
		Role:       req.Role,
		Question:   req.Question,
		Answer:     req.Answer,
		Transcript: req.TranscriptWindow,
		Model:      c.model,
	}, &out)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Question) == "" {
		return "", fmt.Errorf("interview service returned empty follow-up")
	}
	return out.Question, nil
}

func (c *httpClient) Feedback(ctx context.Context, req FeedbackRequest) (string, error) {
	var out feedbackResponse
	err := c.post(ctx, "/v1/interview/feedback", feedbackRequest{
		Role:        req.Role,
		Question:    req.Question,
		Answer:      req.Answer,
		Model:       c.model,
		Temperature: c.temperature,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Feedback, nil
}

func (c *httpClient) Speech(ctx context.Context, text, voice string) ([]byte, error) {
	var out speechResponse
	if err := c.post(ctx, "/v1/speech", speechRequest{Text: text, Voice: voice}, &out); err != nil {
		return nil, err
	}
	pcm, err := base64.StdEncoding.DecodeString(out.PCMBase64)
	if err != nil {
		return nil, fmt.Errorf("decode speech payload: %w", err)
	}
	return pcm, nil
}

// post sends one JSON request and decodes the JSON response, retrying
// only on 429s.
func (c *httpClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if d := retryAfter(resp); d > 0 {
				return nil, &backoff.RetryAfterError{Duration: d}
			}
			return nil, ErrRateLimited
		case resp.StatusCode >= 300:
			return nil, backoff.Permanent(fmt.Errorf("interview service %s returned %s", path, resp.Status))
		}
		return data, nil
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(c.maxRetries+1)))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
