// Package views renders the HTML pages of the scoring interface. The
// components live in .templ files; run `templ generate` after editing them.
package views

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/a-h/templ"

	appI18n "github.com/LMDG1/v2-scoringThesis/internal/i18n"
	"github.com/LMDG1/v2-scoringThesis/internal/model"
	"github.com/LMDG1/v2-scoringThesis/internal/session"
)

// ScoringData is everything the scoring page shows.
type ScoringData struct {
	Snapshot   session.Snapshot
	Notice     *model.Notice
	LastImport *ImportInfo
}

// ImportInfo describes the most recently loaded file.
type ImportInfo struct {
	Filename  string
	Questions int
	Students  int
	At        time.Time
}

func (i ImportInfo) templateData() map[string]any {
	return map[string]any{
		"Filename":  i.Filename,
		"Questions": i.Questions,
		"Students":  i.Students,
		"At":        i.At.Local().Format("2006-01-02 15:04"),
	}
}

var confidenceKeys = map[model.Importance]string{
	model.ImportanceHigh:   "ConfidenceHigh",
	model.ImportanceMedium: "ConfidenceMedium",
	model.ImportanceLow:    "ConfidenceLow",
}

var answerParts = []model.Part{model.Part1, model.Part2}

var legendItems = []struct {
	level model.Importance
	key   string
}{
	{model.ImportanceHigh, "LegendStrong"},
	{model.ImportanceMedium, "LegendRelevant"},
	{model.ImportanceLow, "LegendWeak"},
}

// pageURL prefixes p with the deployment base path.
func pageURL(ctx context.Context, p string) templ.SafeURL {
	return templ.SafeURL(model.BasePathFromContext(ctx) + p)
}

func studentPath(id int, action string) string {
	return fmt.Sprintf("/students/%d/%s", id, action)
}

func studentAnchor(id int) string {
	return fmt.Sprintf("student-%d", id)
}

func displayName(u *model.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

func noticeClass(n *model.Notice) string {
	if n.Kind == "error" {
		return "notice-error"
	}
	return "notice-info"
}

func assignmentLabel(ctx context.Context, q *model.Question) string {
	name := q.AssignmentName
	if name == "" {
		name = appI18n.T(ctx, "Unknown")
	}
	return appI18n.Td(ctx, "Assignment", map[string]any{"Name": name})
}

func percentValue(p int) string {
	return strconv.Itoa(min(max(p, 0), 100))
}

func questionPercent(s session.Snapshot) int {
	return (s.Index + 1) * 100 / max(s.Count, 1)
}

func questionProgress(ctx context.Context, s session.Snapshot) string {
	return appI18n.Td(ctx, "QuestionProgress", map[string]any{"Index": s.Index + 1, "Count": s.Count})
}

func studentsScored(ctx context.Context, st model.ScoringStats) string {
	return appI18n.Td(ctx, "StudentsScored", map[string]any{
		"Scored":  st.ScoredStudents,
		"Total":   st.TotalStudents,
		"Percent": st.ProgressPercent(),
	})
}

func confidenceClass(confidence int) string {
	return "conf-" + string(model.ConfidenceLevel(confidence))
}

func confidenceLabel(ctx context.Context, confidence int) string {
	return fmt.Sprintf("%s (%s)",
		appI18n.Td(ctx, "Confidence", map[string]any{"Percent": confidence}),
		appI18n.T(ctx, confidenceKeys[model.ConfidenceLevel(confidence)]))
}

func whyLabel(ctx context.Context, state session.State) string {
	if state != session.Collapsed {
		return appI18n.T(ctx, "Hide")
	}
	return appI18n.T(ctx, "Why")
}

func similarLabel(ctx context.Context, state session.State) string {
	if state == session.ExpandedWithSimilar {
		return appI18n.T(ctx, "HideSimilar")
	}
	return appI18n.T(ctx, "ShowSimilar")
}

func partKey(p model.Part) string {
	if p == model.Part2 {
		return "Part2"
	}
	return "Part1"
}

func partNumber(p model.Part) int {
	if p == model.Part2 {
		return 2
	}
	return 1
}

func modelAnswerText(q model.Question, p model.Part) string {
	if p == model.Part2 {
		return q.ModelAnswer.Part2.FullText()
	}
	return q.ModelAnswer.Part1.FullText()
}

func aiClass(points int) string {
	if points == 1 {
		return "ai-right"
	}
	return "ai-wrong"
}

func highlightClass(level model.Importance) string {
	return "hl-" + string(level)
}

// pointValues lists the buttons offered for a field worth maxPoints.
func pointValues(maxPoints int) []int {
	vs := make([]int, 0, maxPoints+1)
	for v := 0; v <= maxPoints; v++ {
		vs = append(vs, v)
	}
	return vs
}

func scoreClass(current model.Points, v int) string {
	if current.Equal(model.Scored(v)) {
		return "on"
	}
	return ""
}

func similarSummary(ctx context.Context, st model.StudentResponse, p model.Part) string {
	c := st.SimilarCounts.Get(p)
	return appI18n.Td(ctx, "SimilarSummary", map[string]any{
		"Count": max(c.Right+c.Wrong, len(st.SimilarResponses.Get(p))),
		"Part":  partNumber(p),
	})
}

// judgement maps an exemplar's score to a display class and label key.
func judgement(score float64) (string, string) {
	switch {
	case score >= 1:
		return "dot-right", "ScoreRight"
	case score <= 0:
		return "dot-wrong", "ScoreWrong"
	default:
		return "dot-maybe", "ScoreMaybe"
	}
}

func judgementClass(score float64) string {
	class, _ := judgement(score)
	return class
}

func judgementKey(score float64) string {
	_, key := judgement(score)
	return key
}
