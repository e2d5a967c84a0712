package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/studentpilot/interviewd/internal/config"
	"github.com/studentpilot/interviewd/internal/interview"
	_ "modernc.org/sqlite"
)

// Summary is one interview row without its answers.
type Summary struct {
	SessionID     string
	Role          string
	QuestionCount int
	Answered      int
	StartedAt     time.Time
	EndedAt       time.Time
}

// Record is a fully hydrated interview.
type Record struct {
	Summary
	Exchanges []interview.QA
}

// Store persists finished interviews in SQLite. In ephemeral retention
// mode it holds no database and every call is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the interview history store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS interviews (
    session_id TEXT PRIMARY KEY,
    role TEXT,
    question_count INTEGER NOT NULL,
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS answers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    slot INTEGER NOT NULL,
    question TEXT NOT NULL,
    answer TEXT,
    feedback TEXT,
    delivery TEXT,
    follow_up INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY(session_id) REFERENCES interviews(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_answers_session_slot ON answers(session_id, slot);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveInterview writes a finished session and its exchanges in one
// transaction. Saving the same session twice replaces its exchanges.
func (s *Store) SaveInterview(ctx context.Context, sess *interview.Session) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	endedAt := sess.EndedAt
	if endedAt.IsZero() {
		endedAt = s.clock()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO interviews(session_id, role, question_count, started_at, ended_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET ended_at=excluded.ended_at`,
		sess.ID, sess.Role, len(sess.Questions), sess.StartedAt.UTC(), endedAt.UTC()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM answers WHERE session_id = ?`, sess.ID); err != nil {
		return err
	}
	for slot, qa := range sess.Transcript {
		followUp := 0
		if qa.FollowUp {
			followUp = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO answers(session_id, slot, question, answer, feedback, delivery, follow_up)
			 VALUES(?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, slot, qa.Question, qa.Answer, qa.Feedback, qa.Delivery, followUp); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListInterviews returns recent interviews, newest first.
func (s *Store) ListInterviews(ctx context.Context, limit int) ([]Summary, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.session_id, i.role, i.question_count,
		        (SELECT COUNT(*) FROM answers a WHERE a.session_id = i.session_id),
		        i.started_at, i.ended_at
		 FROM interviews i ORDER BY i.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var started, ended string
		if err := rows.Scan(&sum.SessionID, &sum.Role, &sum.QuestionCount, &sum.Answered, &started, &ended); err != nil {
			return nil, err
		}
		sum.StartedAt = parseTime(started)
		sum.EndedAt = parseTime(ended)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// GetInterview hydrates one interview with its exchanges in slot order.
func (s *Store) GetInterview(ctx context.Context, sessionID string) (*Record, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, role, question_count, started_at, ended_at
		 FROM interviews WHERE session_id = ?`, sessionID)

	var rec Record
	var started, ended string
	if err := row.Scan(&rec.SessionID, &rec.Role, &rec.QuestionCount, &started, &ended); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	rec.StartedAt = parseTime(started)
	rec.EndedAt = parseTime(ended)

	rows, err := s.db.QueryContext(ctx,
		`SELECT question, answer, feedback, delivery, follow_up
		 FROM answers WHERE session_id = ? ORDER BY slot ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var qa interview.QA
		var followUp int
		if err := rows.Scan(&qa.Question, &qa.Answer, &qa.Feedback, &qa.Delivery, &followUp); err != nil {
			return nil, err
		}
		qa.FollowUp = followUp != 0
		rec.Exchanges = append(rec.Exchanges, qa)
	}
	rec.Answered = len(rec.Exchanges)
	return &rec, rows.Err()
}

// Prune applies configured retention.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err := tx.ExecContext(ctx, `DELETE FROM interviews WHERE ended_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM interviews WHERE session_id IN (
			SELECT session_id FROM interviews ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func parseTime(raw string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}
