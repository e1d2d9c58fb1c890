package views

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	appI18n "github.com/LMDG1/v2-scoringThesis/internal/i18n"
	"github.com/LMDG1/v2-scoringThesis/internal/model"
	"github.com/LMDG1/v2-scoringThesis/internal/session"
)

func testStudent() model.StudentResponse {
	return model.StudentResponse{
		ID:   7,
		Name: `Student <S007>`,
		Response: model.ResponseParts{
			Part1: model.AnswerPart{Prefix: "Because", Completion: "demand <rises>"},
			Part2: model.AnswerPart{Completion: "prices fall"},
		},
		AIScore:    model.AIScore{Part1: 1, Part2: 0, Total: 1},
		Confidence: 80,
		FeatureImportance: model.FeatureImportance{
			Part1: []model.FeatureImportanceItem{{Word: "demand", Importance: model.ImportanceHigh}},
		},
		SimilarResponses: model.SimilarResponses{
			Part1: []model.SimilarResponse{{Response: "demand <b>grows</b>", Score: 1}},
		},
		SimilarCounts: model.SimilarCounts{Part1: model.SimilarCount{Right: 3, Wrong: 1}},
	}
}

func render(t *testing.T, st model.StudentResponse, score model.TeacherScore, state session.State) string {
	t.Helper()
	if err := appI18n.Init("nl"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	ctx := model.ContextWithCSRFToken(context.Background(), "tok")
	ctx = model.ContextWithBasePath(ctx, "/nk")
	var buf bytes.Buffer
	if err := StudentCard(st, score, state).Render(ctx, &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	return buf.String()
}

func TestStudentCardCollapsed(t *testing.T) {
	html := render(t, testStudent(), model.TeacherScore{}, session.Collapsed)

	for _, want := range []string{
		`id="student-7"`,
		`Student &lt;S007&gt;`,
		`Because demand &lt;rises&gt;`,
		`action="/nk/students/7/explain"`,
		`name="csrf_token" value="tok"`,
		`Waarom?`,
		`class="conf-medium"`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("collapsed card missing %q", want)
		}
	}
	for _, unwanted := range []string{"<mark", "<rises>", "Toon vergelijkbare antwoorden"} {
		if strings.Contains(html, unwanted) {
			t.Errorf("collapsed card must not contain %q", unwanted)
		}
	}
}

func TestStudentCardExpanded(t *testing.T) {
	html := render(t, testStudent(), model.TeacherScore{Part1: model.Scored(1)}, session.ExpandedOnly)

	for _, want := range []string{
		`Because <mark class="hl-high">demand</mark> &lt;rises&gt;`,
		`Verberg`,
		`Toon vergelijkbare antwoorden`,
		`3 wel goed`,
		`1 niet goed`,
		`4 soortgelijke antwoorden voor deel 1:`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("expanded card missing %q", want)
		}
	}
	if strings.Contains(html, "grows") {
		t.Error("similar responses must stay hidden until requested")
	}
	if !strings.Contains(html, `class="on" name="value" value="1"`) {
		t.Error("current part score should be marked")
	}
}

func TestStudentCardWithSimilar(t *testing.T) {
	html := render(t, testStudent(), model.TeacherScore{}, session.ExpandedWithSimilar)
	for _, want := range []string{
		`Verberg vergelijkbare antwoorden`,
		`demand &lt;b&gt;grows&lt;/b&gt;`,
		`Wel goed`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("card missing %q", want)
		}
	}
}

func TestJudgement(t *testing.T) {
	tests := []struct {
		score float64
		class string
		label string
	}{
		{1, "dot-right", "ScoreRight"},
		{2, "dot-right", "ScoreRight"},
		{0, "dot-wrong", "ScoreWrong"},
		{0.5, "dot-maybe", "ScoreMaybe"},
	}
	for _, tt := range tests {
		class, label := judgement(tt.score)
		if class != tt.class || label != tt.label {
			t.Errorf("judgement(%v) = %s, %s", tt.score, class, label)
		}
	}
}

func TestNoticeBanner(t *testing.T) {
	if err := appI18n.Init("nl"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	var buf bytes.Buffer
	if err := NoticeBanner(nil).Render(context.Background(), &buf); err != nil || buf.Len() != 0 {
		t.Errorf("nil notice rendered %q (%v)", buf.String(), err)
	}

	buf.Reset()
	n := &model.Notice{Kind: "error", MessageID: "NoticeUploadFailed", Data: map[string]any{"Reason": `<script>`}}
	if err := NoticeBanner(n).Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "notice-error") || strings.Contains(buf.String(), "<script>") {
		t.Errorf("unexpected banner %q", buf.String())
	}
}

func TestUploadFormLastImport(t *testing.T) {
	if err := appI18n.Init("nl"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	ctx := model.ContextWithBasePath(context.Background(), "/nk")

	var buf bytes.Buffer
	if err := UploadForm(nil).Render(ctx, &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), `action="/nk/upload"`) || strings.Contains(buf.String(), "last-import") {
		t.Errorf("unexpected form without import %q", buf.String())
	}

	buf.Reset()
	last := &ImportInfo{Filename: "ronde<1>.csv", Questions: 2, Students: 3, At: time.Now()}
	if err := UploadForm(last).Render(ctx, &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "Laatst ingelezen: ronde&lt;1&gt;.csv (2 vragen, 3 antwoorden,") {
		t.Errorf("last import missing from %q", buf.String())
	}
}
