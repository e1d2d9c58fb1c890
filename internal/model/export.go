package model

import "time"

// ScoreRecord is a saved teacher score as read back from the store.
type ScoreRecord struct {
	SessionID   string       `json:"session_id"`
	QuestionID  string       `json:"question_id"`
	StudentID   int          `json:"student_id"`
	Score       TeacherScore `json:"-"`
	Submitted   bool         `json:"submitted"`
	UpdatedAt   time.Time    `json:"updated_at"`
	SubmittedAt *time.Time   `json:"submitted_at,omitempty"`
}

// Notice is a dismissible message shown once on the next page render.
type Notice struct {
	// Kind is "info" or "error".
	Kind string
	// MessageID is a translation key.
	MessageID string
	Data      map[string]any
}
