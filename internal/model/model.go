package model

import (
	"context"
	"math"
	"strconv"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleTeacher scores student responses.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin can additionally export results.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// Importance is the weight of a word in the AI's scoring decision.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// ParseImportance maps a raw token to an Importance. Unknown tokens are low.
func ParseImportance(s string) Importance {
	switch Importance(s) {
	case ImportanceMedium:
		return ImportanceMedium
	case ImportanceHigh:
		return ImportanceHigh
	default:
		return ImportanceLow
	}
}

// Part names one of the two sub-answers, or the total.
type Part string

const (
	Part1     Part = "part1"
	Part2     Part = "part2"
	PartTotal Part = "total"
)

// ParsePart validates a part name from user input.
func ParsePart(s string) (Part, bool) {
	switch Part(s) {
	case Part1, Part2, PartTotal:
		return Part(s), true
	}
	return "", false
}

// AnswerPart is a sentence stem plus the scored continuation.
type AnswerPart struct {
	Prefix     string `json:"prefix"`
	Completion string `json:"completion"`
}

// FullText joins prefix and completion the way the response is displayed.
func (a AnswerPart) FullText() string {
	if a.Prefix == "" {
		return a.Completion
	}
	if a.Completion == "" {
		return a.Prefix
	}
	return a.Prefix + " " + a.Completion
}

// ModelAnswer is the reference answer for a question.
type ModelAnswer struct {
	Part1 AnswerPart `json:"part1"`
	Part2 AnswerPart `json:"part2"`
}

// FeatureImportanceItem is a lexical cue and its weight.
type FeatureImportanceItem struct {
	Word       string     `json:"word"`
	Importance Importance `json:"importance"`
}

// SimilarResponse is a previously scored single-part exemplar.
type SimilarResponse struct {
	Response string  `json:"response"`
	Score    float64 `json:"score"`
}

// SimilarPair is a previously scored two-part exemplar.
type SimilarPair struct {
	Part1 string  `json:"part1"`
	Part2 string  `json:"part2"`
	Score AIScore `json:"score"`
}

// AIScore is the machine-suggested score. Total always equals Part1+Part2.
type AIScore struct {
	Part1 int `json:"part1"`
	Part2 int `json:"part2"`
	Total int `json:"total"`
}

// Get returns the value for the named part.
func (s AIScore) Get(p Part) int {
	switch p {
	case Part1:
		return s.Part1
	case Part2:
		return s.Part2
	default:
		return s.Total
	}
}

// ResponseParts holds the two parts of a student's answer.
type ResponseParts struct {
	Part1 AnswerPart `json:"part1"`
	Part2 AnswerPart `json:"part2"`
}

// Get returns the named part; PartTotal yields the zero value.
func (r ResponseParts) Get(p Part) AnswerPart {
	switch p {
	case Part1:
		return r.Part1
	case Part2:
		return r.Part2
	}
	return AnswerPart{}
}

// FeatureImportance holds the highlighted words per part, in source order.
type FeatureImportance struct {
	Part1 []FeatureImportanceItem `json:"part1"`
	Part2 []FeatureImportanceItem `json:"part2"`
}

// Get returns the items for the named part.
func (f FeatureImportance) Get(p Part) []FeatureImportanceItem {
	switch p {
	case Part1:
		return f.Part1
	case Part2:
		return f.Part2
	}
	return nil
}

// SimilarResponses holds the exemplars per part.
type SimilarResponses struct {
	Part1 []SimilarResponse `json:"part1"`
	Part2 []SimilarResponse `json:"part2"`
}

// Get returns the exemplars for the named part.
func (s SimilarResponses) Get(p Part) []SimilarResponse {
	switch p {
	case Part1:
		return s.Part1
	case Part2:
		return s.Part2
	}
	return nil
}

// SimilarCount is how many similar responses were judged right or wrong.
type SimilarCount struct {
	Right int `json:"right"`
	Wrong int `json:"wrong"`
}

// SimilarCounts holds the right/wrong tallies per part.
type SimilarCounts struct {
	Part1 SimilarCount `json:"part1"`
	Part2 SimilarCount `json:"part2"`
}

// Get returns the tally for the named part.
func (s SimilarCounts) Get(p Part) SimilarCount {
	switch p {
	case Part1:
		return s.Part1
	case Part2:
		return s.Part2
	}
	return SimilarCount{}
}

// StudentResponse is one student's answer to a question, with AI output.
// Identity is ID, never the position in the question's list.
type StudentResponse struct {
	ID                int               `json:"id"`
	Name              string            `json:"name"`
	Response          ResponseParts     `json:"response"`
	AIScore           AIScore           `json:"ai_score"`
	Confidence        int               `json:"confidence"`
	FeatureImportance FeatureImportance `json:"feature_importance"`
	SimilarResponses  SimilarResponses  `json:"similar_responses"`
	SimilarCounts     SimilarCounts     `json:"similar_counts"`
}

// SimilarPairs zips the per-part exemplars by index into two-part exemplars.
// Missing entries on either side are left empty.
func (s StudentResponse) SimilarPairs() []SimilarPair {
	n := max(len(s.SimilarResponses.Part1), len(s.SimilarResponses.Part2))
	pairs := make([]SimilarPair, 0, n)
	for i := 0; i < n; i++ {
		var p SimilarPair
		if i < len(s.SimilarResponses.Part1) {
			r := s.SimilarResponses.Part1[i]
			p.Part1 = r.Response
			p.Score.Part1 = int(r.Score)
		}
		if i < len(s.SimilarResponses.Part2) {
			r := s.SimilarResponses.Part2[i]
			p.Part2 = r.Response
			p.Score.Part2 = int(r.Score)
		}
		p.Score.Total = p.Score.Part1 + p.Score.Part2
		pairs = append(pairs, p)
	}
	return pairs
}

// ConfidenceLevel buckets an AI confidence percentage for display.
func ConfidenceLevel(confidence int) Importance {
	switch {
	case confidence >= 90:
		return ImportanceHigh
	case confidence >= 75:
		return ImportanceMedium
	default:
		return ImportanceLow
	}
}

// Question is one exam prompt with its model answer and student responses.
type Question struct {
	QuestionID       string            `json:"question_id"`
	AssignmentName   string            `json:"assignment_name"`
	ContextQuestion  string            `json:"context_question,omitempty"`
	Question         string            `json:"question"`
	ModelAnswer      ModelAnswer       `json:"model_answer"`
	StudentResponses []StudentResponse `json:"student_responses"`
}

// StudentIndex returns the slot of the student with the given id, or -1.
func (q Question) StudentIndex(id int) int {
	for i, s := range q.StudentResponses {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Points is either unscored or a scored number of points.
// The zero value is unscored; Scored(0) is a valid score.
type Points struct {
	value  int
	scored bool
}

// Unscored is the explicit "not yet scored" value.
var Unscored = Points{}

// Scored returns a scored value of n points.
func Scored(n int) Points {
	return Points{value: n, scored: true}
}

// ParsePoints parses a form value. The empty string is Unscored.
func ParsePoints(s string) (Points, error) {
	if s == "" {
		return Unscored, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Unscored, err
	}
	return Scored(n), nil
}

// ValidFor reports whether p may be stored in the given field. Each part is
// worth at most one point; the total is unrestricted.
func (p Points) ValidFor(part Part) bool {
	if !p.scored || part == PartTotal {
		return true
	}
	return p.value == 0 || p.value == 1
}

// IsScored reports whether a value has been entered.
func (p Points) IsScored() bool { return p.scored }

// Value returns the points and whether they are set.
func (p Points) Value() (int, bool) { return p.value, p.scored }

// Equal reports whether two values are the same, treating all unscored values alike.
func (p Points) Equal(o Points) bool {
	if !p.scored || !o.scored {
		return p.scored == o.scored
	}
	return p.value == o.value
}

// String renders the value for forms; Unscored renders as "".
func (p Points) String() string {
	if !p.scored {
		return ""
	}
	return strconv.Itoa(p.value)
}

// TeacherScore is the human-entered score for one student.
type TeacherScore struct {
	Part1 Points
	Part2 Points
	Total Points
}

// Get returns the named field.
func (t TeacherScore) Get(p Part) Points {
	switch p {
	case Part1:
		return t.Part1
	case Part2:
		return t.Part2
	default:
		return t.Total
	}
}

// Set writes the named field without any derivation.
func (t *TeacherScore) Set(p Part, v Points) {
	switch p {
	case Part1:
		t.Part1 = v
	case Part2:
		t.Part2 = v
	case PartTotal:
		t.Total = v
	}
}

// TeacherScoreFromAI copies an AI score verbatim.
func TeacherScoreFromAI(ai AIScore) TeacherScore {
	return TeacherScore{
		Part1: Scored(ai.Part1),
		Part2: Scored(ai.Part2),
		Total: Scored(ai.Total),
	}
}

// ScoringStats is derived from the teacher scores of the active question.
type ScoringStats struct {
	TotalStudents   int `json:"total_students"`
	ScoredStudents  int `json:"scored_students"`
	PendingStudents int `json:"pending_students"`
}

// ComputeStats counts the scores with a total set.
func ComputeStats(scores []TeacherScore) ScoringStats {
	st := ScoringStats{TotalStudents: len(scores)}
	for _, s := range scores {
		if s.Total.IsScored() {
			st.ScoredStudents++
		}
	}
	st.PendingStudents = st.TotalStudents - st.ScoredStudents
	return st
}

// ProgressPercent returns the rounded share of scored students.
func (s ScoringStats) ProgressPercent() int {
	if s.TotalStudents == 0 {
		return 0
	}
	return int(math.Round(float64(s.ScoredStudents) / float64(s.TotalStudents) * 100))
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	BasePath      string // URL prefix for sub-path deployments (e.g. "/nl")
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
	MaxUploadMB   int
	CORSOrigins   []string
}

// CookiePath scopes cookies to the deployment prefix.
func (c ServerConfig) CookiePath() string {
	if c.BasePath != "" {
		return c.BasePath + "/"
	}
	return "/"
}
