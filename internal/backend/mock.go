package backend

import (
	"context"
	"fmt"
	"strings"
)

// MockClient answers every call locally. It keeps the daemon usable for
// development and demos with no service configured.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

var stockQuestions = []string{
	"Tell me about yourself and your background.",
	"Describe a challenging project you worked on recently.",
	"How do you approach debugging a problem you have never seen before?",
	"Tell me about a time you disagreed with a teammate.",
	"What is a technical decision you regret, and what did you learn?",
	"Where do you want to grow in the next two years?",
}

func (m *MockClient) StartInterview(ctx context.Context, role string, count int) ([]string, error) {
	if count <= 0 || count > len(stockQuestions) {
		count = len(stockQuestions)
	}
	questions := make([]string, count)
	copy(questions, stockQuestions[:count])
	return questions, nil
}

func (m *MockClient) FollowUp(ctx context.Context, req FollowUpRequest) (string, error) {
	topic := strings.TrimSpace(req.Answer)
	if topic == "" {
		return "", fmt.Errorf("no answer to follow up on")
	}
	if len(topic) > 40 {
		topic = topic[:40]
	}
	return fmt.Sprintf("You mentioned %q. Can you go deeper on that?", topic), nil
}

func (m *MockClient) Feedback(ctx context.Context, req FeedbackRequest) (string, error) {
	words := len(strings.Fields(req.Answer))
	switch {
	case words < 20:
		return "Your answer was quite brief. Try expanding with a concrete example and the outcome.", nil
	case words > 200:
		return "Solid detail, but the answer ran long. Lead with the outcome, then support it.", nil
	default:
		return "Good structure and pacing. Consider quantifying the impact of your work.", nil
	}
}

func (m *MockClient) Speech(ctx context.Context, text, voice string) ([]byte, error) {
	return nil, fmt.Errorf("mock backend has no speech synthesis")
}
