package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LMDG1/v2-scoringThesis/internal/model"
)

// MemoryScores is a ScoreStore that keeps scores in process memory.
type MemoryScores struct {
	mu     sync.Mutex
	scores map[scoreKey]model.ScoreRecord
}

type scoreKey struct {
	session  string
	question string
	student  int
}

func NewMemoryScores() *MemoryScores {
	return &MemoryScores{scores: make(map[scoreKey]model.ScoreRecord)}
}

func (m *MemoryScores) SaveScore(_ context.Context, sessionID, questionID string, studentID int, score model.TeacherScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := scoreKey{sessionID, questionID, studentID}
	r := m.scores[k]
	r.SessionID, r.QuestionID, r.StudentID = sessionID, questionID, studentID
	r.Score = score
	r.UpdatedAt = time.Now()
	m.scores[k] = r
	return nil
}

func (m *MemoryScores) MarkSubmitted(_ context.Context, sessionID, questionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for k, r := range m.scores {
		if k.session == sessionID && k.question == questionID {
			r.Submitted = true
			r.SubmittedAt = &now
			m.scores[k] = r
		}
	}
	return nil
}

// ListScores returns the scores of one question, by student id.
func (m *MemoryScores) ListScores(_ context.Context, sessionID, questionID string) ([]model.ScoreRecord, error) {
	return m.filter(func(k scoreKey) bool { return k.session == sessionID && k.question == questionID }), nil
}

// ExportScores returns scores ordered like Store.ExportScores.
func (m *MemoryScores) ExportScores(_ context.Context, sessionID string) ([]model.ScoreRecord, error) {
	return m.filter(func(k scoreKey) bool { return sessionID == "" || k.session == sessionID }), nil
}

func (m *MemoryScores) filter(keep func(scoreKey) bool) []model.ScoreRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var recs []model.ScoreRecord
	for k, r := range m.scores {
		if keep(k) {
			recs = append(recs, r)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.SessionID != b.SessionID {
			return a.SessionID < b.SessionID
		}
		if a.QuestionID != b.QuestionID {
			return a.QuestionID < b.QuestionID
		}
		return a.StudentID < b.StudentID
	})
	return recs
}
