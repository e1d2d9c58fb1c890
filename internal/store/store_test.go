package store

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/LMDG1/v2-scoringThesis/internal/eventlog"
	"github.com/LMDG1/v2-scoringThesis/internal/model"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveScoreUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Partially scored: total stays NULL.
	err := s.SaveScore(ctx, "sess", "1", 7, model.TeacherScore{Part1: model.Scored(1)})
	if err != nil {
		t.Fatalf("SaveScore: %v", err)
	}
	recs, err := s.ListScores(ctx, "sess", "1")
	if err != nil {
		t.Fatalf("ListScores: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if !recs[0].Score.Part1.Equal(model.Scored(1)) {
		t.Errorf("part1 = %v", recs[0].Score.Part1)
	}
	if recs[0].Score.Part2.IsScored() || recs[0].Score.Total.IsScored() {
		t.Errorf("expected part2 and total unscored, got %+v", recs[0].Score)
	}

	// Zero is a real score and overwrites.
	full := model.TeacherScore{Part1: model.Scored(0), Part2: model.Scored(1), Total: model.Scored(1)}
	if err := s.SaveScore(ctx, "sess", "1", 7, full); err != nil {
		t.Fatalf("SaveScore update: %v", err)
	}
	recs, err = s.ListScores(ctx, "sess", "1")
	if err != nil {
		t.Fatalf("ListScores: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected upsert to keep 1 record, got %d", len(recs))
	}
	got := recs[0].Score
	if !got.Part1.Equal(model.Scored(0)) || !got.Part2.Equal(model.Scored(1)) || !got.Total.Equal(model.Scored(1)) {
		t.Errorf("unexpected score %+v", got)
	}
	if recs[0].Submitted {
		t.Error("expected not submitted")
	}
}

func TestMarkSubmitted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []int{3, 1, 2} {
		if err := s.SaveScore(ctx, "sess", "q1", id, model.TeacherScore{Total: model.Scored(id % 3)}); err != nil {
			t.Fatalf("SaveScore: %v", err)
		}
	}
	if err := s.SaveScore(ctx, "sess", "q2", 1, model.TeacherScore{}); err != nil {
		t.Fatalf("SaveScore: %v", err)
	}
	if err := s.MarkSubmitted(ctx, "sess", "q1"); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}

	recs, err := s.ListScores(ctx, "sess", "q1")
	if err != nil {
		t.Fatalf("ListScores: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, r := range recs {
		if r.StudentID != i+1 {
			t.Errorf("records not ordered by student: %d at %d", r.StudentID, i)
		}
		if !r.Submitted || r.SubmittedAt == nil {
			t.Errorf("student %d: expected submitted", r.StudentID)
		}
	}

	other, err := s.ListScores(ctx, "sess", "q2")
	if err != nil {
		t.Fatalf("ListScores: %v", err)
	}
	if len(other) != 1 || other[0].Submitted {
		t.Error("other question must stay unsubmitted")
	}
}

func TestExportScoresXLSX(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveScore(ctx, "a", "1", 2, model.TeacherScore{Part1: model.Scored(1), Part2: model.Scored(1), Total: model.Scored(2)}); err != nil {
		t.Fatalf("SaveScore: %v", err)
	}
	if err := s.SaveScore(ctx, "b", "1", 5, model.TeacherScore{}); err != nil {
		t.Fatalf("SaveScore: %v", err)
	}

	all, err := s.ExportScores(ctx, "")
	if err != nil {
		t.Fatalf("ExportScores: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	onlyA, err := s.ExportScores(ctx, "a")
	if err != nil {
		t.Fatalf("ExportScores: %v", err)
	}
	if len(onlyA) != 1 {
		t.Fatalf("expected 1 record for session a, got %d", len(onlyA))
	}

	var buf bytes.Buffer
	if err := WriteScoresXLSX(&buf, all); err != nil {
		t.Fatalf("WriteScoresXLSX: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(ScoresSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][2] != "Student ID" {
		t.Errorf("unexpected header %v", rows[0])
	}
	if rows[1][2] != "2" || rows[1][5] != "2" {
		t.Errorf("unexpected first row %v", rows[1])
	}
	if len(rows[2]) > 5 && rows[2][5] != "" {
		t.Errorf("unscored total must be empty, got %q", rows[2][5])
	}
}

func TestUsersAndAuthSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.EnsureUser("teacher", "Teacher", "secret", model.UserRoleTeacher)
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if !created {
		t.Fatal("expected user to be created")
	}
	created, err = s.EnsureUser("teacher", "Teacher", "other", model.UserRoleTeacher)
	if err != nil {
		t.Fatalf("EnsureUser again: %v", err)
	}
	if created {
		t.Error("expected existing user to be kept")
	}

	u, err := s.GetUserByUsername("teacher")
	if err != nil || u == nil {
		t.Fatalf("GetUserByUsername: %v, %v", u, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secret")); err != nil {
		t.Error("stored hash does not match the first password")
	}
	if missing, err := s.GetUserByUsername("nobody"); err != nil || missing != nil {
		t.Errorf("expected nil user, got %v, %v", missing, err)
	}
	count, err := s.UserCount()
	if err != nil || count != 1 {
		t.Errorf("UserCount = %d, %v", count, err)
	}

	token, err := s.CreateAuthSession(ctx, u.ID)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	sess, err := s.GetAuthSession(ctx, token)
	if err != nil || sess == nil {
		t.Fatalf("GetAuthSession: %v, %v", sess, err)
	}
	if sess.UserID != u.ID {
		t.Errorf("user id = %d, want %d", sess.UserID, u.ID)
	}
	byID, err := s.GetUserByID(sess.UserID)
	if err != nil || byID == nil || byID.Username != "teacher" {
		t.Errorf("GetUserByID: %v, %v", byID, err)
	}

	if err := s.DeleteAuthSession(ctx, token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	if sess, _ := s.GetAuthSession(ctx, token); sess != nil {
		t.Error("expected session to be gone")
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.EnsureUser("teacher", "", "pw", model.UserRoleTeacher); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if _, err := s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES ('old', 1, ?, ?)`,
		past.Add(-AuthSessionTTL), past,
	); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.CreateAuthSession(ctx, 1); err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	n, err := s.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired session removed, got %d", n)
	}
}

func TestImports(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash := FileHash([]byte("student_id\n1\n"))
	if len(hash) != 64 {
		t.Fatalf("unexpected hash %q", hash)
	}
	f, err := s.LookupImport(ctx, hash)
	if err != nil || f != nil {
		t.Fatalf("expected no import, got %v, %v", f, err)
	}
	if err := s.RecordImport(ctx, ImportedFile{Hash: hash, Filename: "scores.csv", Questions: 2, Students: 30}); err != nil {
		t.Fatalf("RecordImport: %v", err)
	}
	f, err = s.LookupImport(ctx, hash)
	if err != nil || f == nil {
		t.Fatalf("LookupImport: %v, %v", f, err)
	}
	if f.Filename != "scores.csv" || f.Questions != 2 || f.Students != 30 {
		t.Errorf("unexpected import %+v", f)
	}
	last, err := s.LastImport(ctx)
	if err != nil || last == nil || last.Hash != hash || last.Filename != "scores.csv" {
		t.Errorf("LastImport = %+v, %v", last, err)
	}
	if v, err := s.GetMetadata("missing"); err != nil || v != "" {
		t.Errorf("expected empty metadata, got %q, %v", v, err)
	}
}

func TestActions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	actions := []eventlog.Action{
		{ID: "1", SessionID: "a", Kind: eventlog.KindWhyClick, Label: "Why?", Attributes: map[string]any{"student_id": 4}, At: at},
		{ID: "2", SessionID: "b", Kind: eventlog.KindClick, Label: "next", At: at.Add(time.Second)},
		{ID: "3", SessionID: "a", Kind: eventlog.KindScoreChange, Label: "part1", At: at.Add(2 * time.Second)},
	}
	for _, a := range actions {
		if err := s.Write(ctx, a); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	all, err := s.ListActions(ctx, "")
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(all))
	}
	onlyA, err := s.ListActions(ctx, "a")
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(onlyA) != 2 || onlyA[0].ID != "1" || onlyA[1].ID != "3" {
		t.Fatalf("unexpected actions for a: %+v", onlyA)
	}
	if got := onlyA[0].StudentID(); got != 4 {
		t.Errorf("student id after round trip = %d, want 4", got)
	}
	if !onlyA[0].At.Equal(at) {
		t.Errorf("timestamp = %v, want %v", onlyA[0].At, at)
	}
}

func TestMemoryScores(t *testing.T) {
	m := NewMemoryScores()
	ctx := context.Background()
	var _ ScoreStore = m
	var _ ScoreStore = (*Store)(nil)

	m.SaveScore(ctx, "s", "1", 2, model.TeacherScore{Total: model.Scored(2)})
	m.SaveScore(ctx, "s", "1", 1, model.TeacherScore{})
	m.SaveScore(ctx, "s", "1", 2, model.TeacherScore{Total: model.Scored(1)})
	m.MarkSubmitted(ctx, "s", "1")

	recs, _ := m.ListScores(ctx, "s", "1")
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].StudentID != 1 || recs[1].StudentID != 2 {
		t.Errorf("unexpected order %d, %d", recs[0].StudentID, recs[1].StudentID)
	}
	if !recs[1].Score.Total.Equal(model.Scored(1)) {
		t.Errorf("expected last write to win, got %v", recs[1].Score.Total)
	}
	for _, r := range recs {
		if !r.Submitted {
			t.Errorf("student %d not submitted", r.StudentID)
		}
	}
}

func TestMemoryScoresExport(t *testing.T) {
	m := NewMemoryScores()
	ctx := context.Background()
	m.SaveScore(ctx, "b", "1", 1, model.TeacherScore{})
	m.SaveScore(ctx, "a", "2", 1, model.TeacherScore{})
	m.SaveScore(ctx, "a", "1", 9, model.TeacherScore{})

	all, _ := m.ExportScores(ctx, "")
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].SessionID != "a" || all[0].QuestionID != "1" || all[2].SessionID != "b" {
		t.Errorf("unexpected order %+v", all)
	}
	onlyA, _ := m.ExportScores(ctx, "a")
	if len(onlyA) != 2 {
		t.Errorf("expected 2 records for a, got %d", len(onlyA))
	}
}
