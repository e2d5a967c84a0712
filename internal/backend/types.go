package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/studentpilot/interviewd/internal/config"
)

// ErrRateLimited marks a transient rate-limit rejection from the service.
// Callers retry these with backoff; every other failure is permanent.
var ErrRateLimited = errors.New("backend: rate limited")

// FollowUpRequest asks for an adaptive next question given the answer the
// candidate just gave. TranscriptWindow carries the last few exchanges for
// context.
type FollowUpRequest struct {
	Role             string
	Question         string
	Answer           string
	TranscriptWindow []Exchange
}

// FeedbackRequest asks for a critique of one answered question.
type FeedbackRequest struct {
	Role     string
	Question string
	Answer   string
}

// Exchange is one question/answer pair from the running transcript.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Client is the contract the interview coordinator holds against the
// remote interview service. Every call can fail; the coordinator treats
// FollowUp as best-effort and the rest as degradable.
type Client interface {
	// StartInterview returns the planned question list for a role.
	StartInterview(ctx context.Context, role string, count int) ([]string, error)
	// FollowUp generates an adaptive question from a prior answer.
	FollowUp(ctx context.Context, req FollowUpRequest) (string, error)
	// Feedback critiques one answer.
	Feedback(ctx context.Context, req FeedbackRequest) (string, error)
	// Speech synthesizes PCM audio for question delivery.
	Speech(ctx context.Context, text, voice string) ([]byte, error)
}

// New builds a client from configuration.
func New(cfg config.BackendConfig) (Client, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockClient(), nil
	case "http":
		return NewHTTPClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown backend mode %q", cfg.Mode)
	}
}
