// Package session holds the scoring state of one teacher working through
// an uploaded question set. Every exported method is atomic with respect to
// the others on the same Session.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/LMDG1/v2-scoringThesis/internal/model"
)

// Direction moves the active question.
type Direction int

const (
	Previous Direction = -1
	Next     Direction = 1
)

func (d Direction) String() string {
	if d == Previous {
		return "previous"
	}
	return "next"
}

// State is the disclosure state of one student card.
type State int

const (
	Collapsed State = iota
	ExpandedOnly
	ExpandedWithSimilar
)

func (s State) String() string {
	switch s {
	case ExpandedOnly:
		return "expanded"
	case ExpandedWithSimilar:
		return "expanded_with_similar"
	default:
		return "collapsed"
	}
}

// RangeNavigationError is returned when advancing past either end.
type RangeNavigationError struct {
	Direction Direction
	Index     int
	Count     int
}

func (e *RangeNavigationError) Error() string {
	return fmt.Sprintf("cannot move %s from question %d of %d", e.Direction, e.Index+1, e.Count)
}

// AtEnd reports whether the error was caused by moving past the last question.
func (e *RangeNavigationError) AtEnd() bool { return e.Direction == Next }

// Session is the scoring state for one active question.
type Session struct {
	id string

	mu            sync.Mutex
	questions     []model.Question
	index         int
	scores        []model.TeacherScore
	stats         model.ScoringStats
	expanded      map[int]bool
	activeSimilar int
	similarOpen   bool
	notice        *model.Notice
	lastSeen      time.Time
}

// New creates a session over questions, positioned on the first one.
func New(id string, questions []model.Question) *Session {
	s := &Session{id: id, lastSeen: time.Now()}
	s.Load(questions)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Load replaces the question set and starts over on the first question.
func (s *Session) Load(questions []model.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions = questions
	s.index = 0
	s.reset()
}

// reset discards scores and disclosure state for the active question.
func (s *Session) reset() {
	n := 0
	if q := s.current(); q != nil {
		n = len(q.StudentResponses)
	}
	s.scores = make([]model.TeacherScore, n)
	s.expanded = make(map[int]bool)
	s.similarOpen = false
	s.activeSimilar = 0
	s.recompute()
}

func (s *Session) current() *model.Question {
	if s.index < 0 || s.index >= len(s.questions) {
		return nil
	}
	return &s.questions[s.index]
}

func (s *Session) recompute() {
	s.stats = model.ComputeStats(s.scores)
}

// SetScore writes one field of a student's teacher score. Once both parts are
// scored, writing either part also sets the total to their sum; writing the
// total directly overrides it. It reports false for an unknown student.
func (s *Session) SetScore(studentID int, part model.Part, value model.Points) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.current()
	if q == nil {
		return false
	}
	i := q.StudentIndex(studentID)
	if i < 0 {
		return false
	}

	sc := s.scores[i]
	sc.Set(part, value)
	if part == model.Part1 || part == model.Part2 {
		p1, ok1 := sc.Part1.Value()
		p2, ok2 := sc.Part2.Value()
		if ok1 && ok2 {
			sc.Total = model.Scored(p1 + p2)
		}
	}
	s.scores[i] = sc
	s.recompute()
	return true
}

// ToggleExpanded flips a student's explanation open or closed. Either way the
// student's similar responses panel is closed.
func (s *Session) ToggleExpanded(studentID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expanded[studentID] = !s.expanded[studentID]
	if s.similarOpen && s.activeSimilar == studentID {
		s.similarOpen = false
		s.activeSimilar = 0
	}
}

// ToggleSimilarResponses opens the similar responses panel for a student,
// closing any other student's panel, or closes it if it was already open.
func (s *Session) ToggleSimilarResponses(studentID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.similarOpen && s.activeSimilar == studentID {
		s.similarOpen = false
		s.activeSimilar = 0
		return
	}
	s.similarOpen = true
	s.activeSimilar = studentID
}

// Disclosure returns the disclosure state of a student card.
func (s *Session) Disclosure(studentID int) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disclosure(studentID)
}

func (s *Session) disclosure(studentID int) State {
	switch {
	case !s.expanded[studentID]:
		return Collapsed
	case s.similarOpen && s.activeSimilar == studentID:
		return ExpandedWithSimilar
	default:
		return ExpandedOnly
	}
}

// ActiveSimilar returns the student whose similar responses panel is open.
func (s *Session) ActiveSimilar() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSimilar, s.similarOpen
}

// AcceptAIScores replaces every teacher score with the AI score.
func (s *Session) AcceptAIScores() {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.current()
	if q == nil {
		return
	}
	for i, st := range q.StudentResponses {
		s.scores[i] = model.TeacherScoreFromAI(st.AIScore)
	}
	s.recompute()
}

// Advance moves to the neighbouring question and resets all scoring state.
// At either end it returns a *RangeNavigationError and changes nothing.
func (s *Session) Advance(dir Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.index + int(dir)
	if next < 0 || next >= len(s.questions) {
		return &RangeNavigationError{Direction: dir, Index: s.index, Count: len(s.questions)}
	}
	s.index = next
	s.reset()
	return nil
}

// Stats returns the progress of the active question.
func (s *Session) Stats() model.ScoringStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Score returns a student's teacher score.
func (s *Session) Score(studentID int) (model.TeacherScore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.current()
	if q == nil {
		return model.TeacherScore{}, false
	}
	i := q.StudentIndex(studentID)
	if i < 0 {
		return model.TeacherScore{}, false
	}
	return s.scores[i], true
}

// SetNotice queues a message for the next render, replacing any pending one.
func (s *Session) SetNotice(n model.Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notice = &n
}

// TakeNotice returns and clears the pending message.
func (s *Session) TakeNotice() *model.Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.notice
	s.notice = nil
	return n
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Snapshot is a consistent copy of the session for rendering.
type Snapshot struct {
	ID         string
	Question   *model.Question
	Index      int
	Count      int
	Scores     []model.TeacherScore
	Disclosure map[int]State
	Stats      model.ScoringStats
}

// Snapshot copies the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:         s.id,
		Index:      s.index,
		Count:      len(s.questions),
		Scores:     append([]model.TeacherScore(nil), s.scores...),
		Disclosure: make(map[int]State),
		Stats:      s.stats,
	}
	if q := s.current(); q != nil {
		qc := *q
		snap.Question = &qc
		for _, st := range q.StudentResponses {
			snap.Disclosure[st.ID] = s.disclosure(st.ID)
		}
	}
	return snap
}

// Score returns the teacher score of a student in the snapshot.
func (s Snapshot) Score(studentID int) model.TeacherScore {
	if s.Question == nil {
		return model.TeacherScore{}
	}
	if i := s.Question.StudentIndex(studentID); i >= 0 && i < len(s.Scores) {
		return s.Scores[i]
	}
	return model.TeacherScore{}
}

// HasPrevious reports whether there is a question before the active one.
func (s Snapshot) HasPrevious() bool { return s.Index > 0 }

// HasNext reports whether there is a question after the active one.
func (s Snapshot) HasNext() bool { return s.Index+1 < s.Count }
