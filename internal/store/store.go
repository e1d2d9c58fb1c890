package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LMDG1/v2-scoringThesis/internal/model"

	_ "modernc.org/sqlite"
)

// ScoreStore persists teacher scores.
type ScoreStore interface {
	SaveScore(ctx context.Context, sessionID, questionID string, studentID int, score model.TeacherScore) error
	MarkSubmitted(ctx context.Context, sessionID, questionID string) error
	ListScores(ctx context.Context, sessionID, questionID string) ([]model.ScoreRecord, error)
}

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'teacher',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS teacher_scores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		student_id INTEGER NOT NULL,
		part1 INTEGER,
		part2 INTEGER,
		total INTEGER,
		submitted BOOLEAN NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		submitted_at DATETIME,
		UNIQUE (session_id, question_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS app_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		hash TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		questions INTEGER NOT NULL DEFAULT 0,
		students INTEGER NOT NULL DEFAULT 0,
		imported_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_actions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		attributes TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_user_actions_session ON user_actions(session_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveScore inserts or replaces the teacher score of one student.
func (s *Store) SaveScore(ctx context.Context, sessionID, questionID string, studentID int, score model.TeacherScore) error {
	p1, p2, total := pointsArg(score.Part1), pointsArg(score.Part2), pointsArg(score.Total)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO teacher_scores (session_id, question_id, student_id, part1, part2, total, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, question_id, student_id) DO UPDATE SET part1 = ?, part2 = ?, total = ?, updated_at = ?`,
		sessionID, questionID, studentID, p1, p2, total, time.Now(),
		p1, p2, total, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save score for student %d: %w", studentID, err)
	}
	return nil
}

// MarkSubmitted flags every saved score of a question as submitted.
func (s *Store) MarkSubmitted(ctx context.Context, sessionID, questionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE teacher_scores SET submitted = 1, submitted_at = ?
		 WHERE session_id = ? AND question_id = ?`,
		time.Now(), sessionID, questionID,
	)
	return err
}

// ListScores returns the saved scores of one question in a session, by student id.
func (s *Store) ListScores(ctx context.Context, sessionID, questionID string) ([]model.ScoreRecord, error) {
	return s.queryScores(ctx,
		`SELECT session_id, question_id, student_id, part1, part2, total, submitted, updated_at, submitted_at
		 FROM teacher_scores WHERE session_id = ? AND question_id = ? ORDER BY student_id`,
		sessionID, questionID,
	)
}

func (s *Store) queryScores(ctx context.Context, query string, args ...any) ([]model.ScoreRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []model.ScoreRecord
	for rows.Next() {
		var (
			r          model.ScoreRecord
			p1, p2, tt sql.NullInt64
		)
		if err := rows.Scan(&r.SessionID, &r.QuestionID, &r.StudentID, &p1, &p2, &tt, &r.Submitted, &r.UpdatedAt, &r.SubmittedAt); err != nil {
			return nil, err
		}
		r.Score = model.TeacherScore{Part1: pointsFrom(p1), Part2: pointsFrom(p2), Total: pointsFrom(tt)}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func pointsArg(p model.Points) any {
	if n, ok := p.Value(); ok {
		return n
	}
	return nil
}

func pointsFrom(n sql.NullInt64) model.Points {
	if !n.Valid {
		return model.Unscored
	}
	return model.Scored(int(n.Int64))
}
