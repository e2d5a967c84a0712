package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/studentpilot/interviewd/internal/config"
	"github.com/studentpilot/interviewd/internal/interview"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.HistoryConfig{RetentionMode: "ephemeral"}
	store, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.SaveInterview(context.Background(), &interview.Session{ID: "s"}); err != nil {
		t.Fatalf("ephemeral save must be a no-op: %v", err)
	}
	rec, err := store.GetInterview(context.Background(), "s")
	if err != nil || rec != nil {
		t.Fatalf("ephemeral store must return nothing, got %v, %v", rec, err)
	}
}

func TestSaveAndGetInterview(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "interviews.db"), RetentionMode: "session"}
	store, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sess := &interview.Session{
		ID:        "session-123",
		Role:      "backend engineer",
		Questions: []string{"Q1", "Q2"},
		Transcript: []interview.QA{
			{Question: "Q1", Answer: "A1", Feedback: "good", Delivery: "good pacing"},
			{Question: "Q2", Answer: "", Feedback: ""},
		},
		Phase:     interview.PhaseEnded,
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
	}
	if err := store.SaveInterview(context.Background(), sess); err != nil {
		t.Fatalf("save interview: %v", err)
	}

	rec, err := store.GetInterview(context.Background(), "session-123")
	if err != nil {
		t.Fatalf("get interview: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.Role != "backend engineer" || rec.QuestionCount != 2 {
		t.Fatalf("unexpected summary %+v", rec.Summary)
	}
	if len(rec.Exchanges) != 2 || rec.Exchanges[0].Answer != "A1" {
		t.Fatalf("unexpected exchanges %+v", rec.Exchanges)
	}
	if rec.Exchanges[1].Answer != "" {
		t.Fatal("empty answer should round-trip as empty")
	}

	// Saving again must replace, not duplicate.
	if err := store.SaveInterview(context.Background(), sess); err != nil {
		t.Fatalf("re-save interview: %v", err)
	}
	rec, err = store.GetInterview(context.Background(), "session-123")
	if err != nil {
		t.Fatalf("get interview: %v", err)
	}
	if len(rec.Exchanges) != 2 {
		t.Fatalf("expected 2 exchanges after re-save, got %d", len(rec.Exchanges))
	}
}

func TestListInterviewsNewestFirst(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "interviews.db"), RetentionMode: "persistent"}
	store, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second"} {
		sess := &interview.Session{
			ID:        id,
			Questions: []string{"Q"},
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			EndedAt:   base.Add(time.Duration(i)*time.Hour + time.Minute),
		}
		if err := store.SaveInterview(context.Background(), sess); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	list, err := store.ListInterviews(context.Background(), 10)
	if err != nil {
		t.Fatalf("list interviews: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 interviews, got %d", len(list))
	}
	if list[0].SessionID != "second" {
		t.Fatalf("expected newest first, got %q", list[0].SessionID)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{
		Path:          filepath.Join(tmp, "interviews.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
		MaxSessions:   1,
	}
	store, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	old := &interview.Session{
		ID:        "old-session",
		Questions: []string{"Q"},
		Transcript: []interview.QA{
			{Question: "Q", Answer: "A"},
		},
		StartedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC),
	}
	if err := store.SaveInterview(context.Background(), old); err != nil {
		t.Fatalf("save old: %v", err)
	}
	fresh := &interview.Session{
		ID:        "new-session",
		Questions: []string{"Q"},
		StartedAt: time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2025, 1, 3, 0, 5, 0, 0, time.UTC),
	}
	if err := store.SaveInterview(context.Background(), fresh); err != nil {
		t.Fatalf("save new: %v", err)
	}

	store.clock = func() time.Time { return time.Date(2025, 1, 3, 1, 0, 0, 0, time.UTC) }
	if err := store.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	rec, err := store.GetInterview(context.Background(), "old-session")
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if rec != nil {
		t.Fatal("expected old session pruned")
	}
	rec, err = store.GetInterview(context.Background(), "new-session")
	if err != nil || rec == nil {
		t.Fatalf("new session should survive prune: %v", err)
	}
}
