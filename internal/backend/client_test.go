package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/studentpilot/interviewd/internal/config"
)

func testClient(t *testing.T, handler http.Handler, maxRetries int) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(config.BackendConfig{
		Mode:       "http",
		Endpoint:   srv.URL,
		Model:      "test-model",
		MaxRetries: maxRetries,
		TimeoutMS:  5000,
	})
}

func TestStartInterviewRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"questions": []string{"Q1", "Q2"}})
	}), 3)

	questions, err := client.StartInterview(context.Background(), "backend engineer", 2)
	if err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	if len(questions) != 2 || questions[0] != "Q1" {
		t.Fatalf("unexpected questions %v", questions)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestRateLimitExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}), 2)

	if _, err := client.StartInterview(context.Background(), "role", 2); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}), 5)

	if _, err := client.StartInterview(context.Background(), "role", 2); err == nil {
		t.Fatal("expected error from server failure")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("500 must not be retried, got %d attempts", got)
	}
}

func TestFeedbackSendsModelAndRole(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["model"] != "test-model" || req["role"] != "sre" {
			t.Errorf("unexpected request payload %v", req)
		}
		json.NewEncoder(w).Encode(map[string]string{"feedback": "be more concrete"})
	}), 0)

	feedback, err := client.Feedback(context.Background(), FeedbackRequest{
		Role:     "sre",
		Question: "Q",
		Answer:   "A",
	})
	if err != nil {
		t.Fatalf("Feedback: %v", err)
	}
	if feedback != "be more concrete" {
		t.Fatalf("unexpected feedback %q", feedback)
	}
}

func TestMockFollowUpRequiresAnswer(t *testing.T) {
	mock := NewMockClient()
	if _, err := mock.FollowUp(context.Background(), FollowUpRequest{Answer: "  "}); err == nil {
		t.Fatal("expected error for blank answer")
	}
	q, err := mock.FollowUp(context.Background(), FollowUpRequest{Answer: "I led a migration to event sourcing"})
	if err != nil {
		t.Fatalf("FollowUp: %v", err)
	}
	if q == "" {
		t.Fatal("expected a follow-up question")
	}
}
