package csvimport

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/LMDG1/v2-scoringThesis/internal/model"
)

const minimalHeader = "question_id;question_text;student_id;antwoord_deel1_prefix;antwoord_deel1_completion;ai_score_deel1;ai_score_deel2;ai_score_total;ai_confidence"

func csvDoc(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func mustParse(t *testing.T, doc string) *Result {
	t.Helper()
	res, err := ParseString(doc)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	return res
}

func TestParseMinimal(t *testing.T) {
	res := mustParse(t, csvDoc(
		minimalHeader,
		"Q1;Why?;S001;Because...;it is so;1;0;1;87",
	))

	if len(res.Questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(res.Questions))
	}
	q := res.Questions[0]
	if q.QuestionID != "Q1" {
		t.Errorf("expected question id Q1, got %q", q.QuestionID)
	}
	if q.AssignmentName != "Question Q1" {
		t.Errorf("unexpected assignment name %q", q.AssignmentName)
	}
	if len(q.StudentResponses) != 1 {
		t.Fatalf("expected 1 student, got %d", len(q.StudentResponses))
	}
	s := q.StudentResponses[0]
	want := model.AIScore{Part1: 1, Part2: 0, Total: 1}
	if s.AIScore != want {
		t.Errorf("expected AI score %+v, got %+v", want, s.AIScore)
	}
	if s.ID != 1 {
		t.Errorf("expected id 1, got %d", s.ID)
	}
	if s.Name != "Student S001" {
		t.Errorf("unexpected name %q", s.Name)
	}
	if s.Confidence != 87 {
		t.Errorf("expected confidence 87, got %d", s.Confidence)
	}
	if s.Response.Part1.Prefix != "Because..." || s.Response.Part1.Completion != "it is so" {
		t.Errorf("unexpected part1 %+v", s.Response.Part1)
	}
}

func TestParseMalformedNumbers(t *testing.T) {
	res := mustParse(t, csvDoc(
		minimalHeader,
		"Q1;Why?;7;a;b;x;1;zz;very sure",
	))
	s := res.Questions[0].StudentResponses[0]
	if s.Confidence != 0 {
		t.Errorf("expected confidence 0, got %d", s.Confidence)
	}
	if s.AIScore.Part1 != 0 || s.AIScore.Part2 != 1 {
		t.Errorf("unexpected AI score %+v", s.AIScore)
	}
	if s.AIScore.Total != 1 {
		t.Errorf("total must equal part1+part2, got %d", s.AIScore.Total)
	}
}

func TestParseTotalIsDerived(t *testing.T) {
	tests := []struct {
		name string
		row  string
		want model.AIScore
	}{
		{"consistent", "Q;x;1;a;b;1;1;2;50", model.AIScore{Part1: 1, Part2: 1, Total: 2}},
		{"wrong total", "Q;x;1;a;b;1;1;0;50", model.AIScore{Part1: 1, Part2: 1, Total: 2}},
		{"missing total", "Q;x;1;a;b;0;1;;50", model.AIScore{Part1: 0, Part2: 1, Total: 1}},
		{"out of range part", "Q;x;1;a;b;3;1;4;50", model.AIScore{Part1: 0, Part2: 1, Total: 1}},
		{"decimal part", "Q;x;1;a;b;1.0;0;1;50", model.AIScore{Part1: 1, Part2: 0, Total: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustParse(t, csvDoc(minimalHeader, tt.row))
			got := res.Questions[0].StudentResponses[0].AIScore
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseConfidenceClamped(t *testing.T) {
	res := mustParse(t, csvDoc(
		minimalHeader,
		"Q;x;1;a;b;1;0;1;140",
		"Q;x;2;a;b;1;0;1;-3",
	))
	rs := res.Questions[0].StudentResponses
	if rs[0].Confidence != 100 || rs[1].Confidence != 0 {
		t.Errorf("expected 100 and 0, got %d and %d", rs[0].Confidence, rs[1].Confidence)
	}
}

func TestParseGroupingAndOrder(t *testing.T) {
	res := mustParse(t, csvDoc(
		"question_id;question_text;modelantwoord_deel1_prefix;modelantwoord_deel1_completion;student_id",
		"B;Second?;mb;cb;3",
		"A;First?;ma;ca;1",
		"B;ignored;zz;zz;2",
		"",
		"A;ignored;zz;zz;4",
	))

	if len(res.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(res.Questions))
	}
	if res.Questions[0].QuestionID != "B" || res.Questions[1].QuestionID != "A" {
		t.Errorf("questions not in first-seen order: %q, %q", res.Questions[0].QuestionID, res.Questions[1].QuestionID)
	}
	b := res.Questions[0]
	if b.Question != "Second?" || b.ModelAnswer.Part1.Prefix != "mb" {
		t.Errorf("first row should set question fields, got %+v", b)
	}
	if got := []int{b.StudentResponses[0].ID, b.StudentResponses[1].ID}; got[0] != 3 || got[1] != 2 {
		t.Errorf("responses not in row order: %v", got)
	}
	if res.StudentCount() != 4 {
		t.Errorf("expected 4 students, got %d", res.StudentCount())
	}
}

func TestParseWithoutQuestionColumn(t *testing.T) {
	res := mustParse(t, csvDoc(
		"student_id;question_text",
		"1;What?",
		"2;What?",
	))
	if len(res.Questions) != 1 {
		t.Fatalf("expected a single question, got %d", len(res.Questions))
	}
	if res.Questions[0].QuestionID != "1" {
		t.Errorf("expected default question id 1, got %q", res.Questions[0].QuestionID)
	}
}

func TestParseRejectsRows(t *testing.T) {
	res := mustParse(t, csvDoc(
		"question_id;student_id",
		"Q;1",
		"Q;",
		"Q;abc",
		";5",
		"Q;1",
		"Q;2",
	))

	if got := len(res.Questions[0].StudentResponses); got != 2 {
		t.Fatalf("expected 2 accepted students, got %d", got)
	}
	if len(res.Rejected) != 4 {
		t.Fatalf("expected 4 rejected rows, got %d: %v", len(res.Rejected), res.Rejected)
	}
	lines := []int{3, 4, 5, 6}
	for i, fe := range res.Rejected {
		if fe.Line != lines[i] {
			t.Errorf("rejection %d: expected line %d, got %d (%v)", i, lines[i], fe.Line, fe)
		}
	}
	if res.Rejected[0].Column != "student_id" {
		t.Errorf("expected student_id column, got %q", res.Rejected[0].Column)
	}
	if res.Rejected[2].Column != "question_id" {
		t.Errorf("expected question_id column, got %q", res.Rejected[2].Column)
	}
}

func TestParseFatalErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"blank lines only", "\n\n"},
		{"no student column", csvDoc("question_id;name", "Q;x")},
		{"header only", csvDoc("question_id;student_id")},
		{"every row rejected", csvDoc("question_id;student_id", "Q;", "Q;none")},
		{"unknown version", csvDoc("student_id;format_version", "1;9")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.doc)
			if err == nil {
				t.Fatal("expected error")
			}
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Errorf("expected *FormatError, got %T", err)
			}
			if !IsFormatError(err) {
				t.Error("IsFormatError should be true")
			}
		})
	}
}

func TestParseQuotedDelimiters(t *testing.T) {
	res := mustParse(t, csvDoc(
		"student_id;antwoord_deel1_completion",
		`1;"they trade; and grow"`,
	))
	got := res.Questions[0].StudentResponses[0].Response.Part1.Completion
	if got != "they trade; and grow" {
		t.Errorf("unexpected completion %q", got)
	}
}

func TestParseBOMHeader(t *testing.T) {
	res := mustParse(t, "\ufeffstudent_id;ai_confidence\n3;50\n")
	if res.Questions[0].StudentResponses[0].Confidence != 50 {
		t.Error("BOM prefixed header was not recognised")
	}
}

func TestParseVersion1Annotations(t *testing.T) {
	res := mustParse(t, csvDoc(
		"student_id;deel1_light_highlight;deel1_dark_highlight;pt1_sim_response_1;pt1_sim_response_score_1;pt1_sim_response_2;pt1_sim_response_score_2;pt1_sim_response_3;pt1_sim_response_score_3;pt1_similar_right;pt1_similar_wrong",
		"1;farmers, money;trade,,economy;they trade;1;;1;more money;oops;4;2",
	))
	s := res.Questions[0].StudentResponses[0]

	wantFI := []model.FeatureImportanceItem{
		{Word: "farmers", Importance: model.ImportanceLow},
		{Word: "money", Importance: model.ImportanceLow},
		{Word: "trade", Importance: model.ImportanceHigh},
		{Word: "economy", Importance: model.ImportanceHigh},
	}
	if len(s.FeatureImportance.Part1) != len(wantFI) {
		t.Fatalf("expected %d items, got %+v", len(wantFI), s.FeatureImportance.Part1)
	}
	for i, it := range wantFI {
		if s.FeatureImportance.Part1[i] != it {
			t.Errorf("item %d: got %+v, want %+v", i, s.FeatureImportance.Part1[i], it)
		}
	}

	sim := s.SimilarResponses.Part1
	if len(sim) != 2 {
		t.Fatalf("empty response cells must be skipped, got %+v", sim)
	}
	if sim[0].Response != "they trade" || sim[0].Score != 1 {
		t.Errorf("unexpected first exemplar %+v", sim[0])
	}
	if sim[1].Response != "more money" || sim[1].Score != 0 {
		t.Errorf("unexpected second exemplar %+v", sim[1])
	}
	if s.SimilarCounts.Part1 != (model.SimilarCount{Right: 4, Wrong: 2}) {
		t.Errorf("unexpected counts %+v", s.SimilarCounts.Part1)
	}
	if len(s.SimilarResponses.Part2) != 0 {
		t.Errorf("expected no part2 exemplars, got %+v", s.SimilarResponses.Part2)
	}
}

func TestParseVersion2Annotations(t *testing.T) {
	res := mustParse(t, csvDoc(
		"student_id;format_version;deel1_feature_importance;pt1_similar_responses",
		`1;2;trade:high, money:medium,farmers:bogus,economy;"response:they trade|score:1;response:|score:1;score:0|response:more money"`,
	))
	s := res.Questions[0].StudentResponses[0]

	wantFI := []model.FeatureImportanceItem{
		{Word: "trade", Importance: model.ImportanceHigh},
		{Word: "money", Importance: model.ImportanceMedium},
		{Word: "farmers", Importance: model.ImportanceLow},
		{Word: "economy", Importance: model.ImportanceLow},
	}
	if len(s.FeatureImportance.Part1) != len(wantFI) {
		t.Fatalf("expected %d items, got %+v", len(wantFI), s.FeatureImportance.Part1)
	}
	for i, it := range wantFI {
		if s.FeatureImportance.Part1[i] != it {
			t.Errorf("item %d: got %+v, want %+v", i, s.FeatureImportance.Part1[i], it)
		}
	}

	want := []model.SimilarResponse{{Response: "they trade", Score: 1}, {Response: "more money", Score: 0}}
	if len(s.SimilarResponses.Part1) != len(want) {
		t.Fatalf("expected %d exemplars, got %+v", len(want), s.SimilarResponses.Part1)
	}
	for i := range want {
		if s.SimilarResponses.Part1[i] != want[i] {
			t.Errorf("exemplar %d: got %+v, want %+v", i, s.SimilarResponses.Part1[i], want[i])
		}
	}
}

func TestParseVersionMismatchRejectsRow(t *testing.T) {
	res := mustParse(t, csvDoc(
		"student_id;format_version",
		"1;1",
		"2;2",
		"3;",
	))
	if got := len(res.Questions[0].StudentResponses); got != 2 {
		t.Errorf("expected 2 accepted rows, got %d", got)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Column != "format_version" {
		t.Errorf("expected one format_version rejection, got %v", res.Rejected)
	}
}

func TestParseDuplicateStudent(t *testing.T) {
	res := mustParse(t, csvDoc(
		"question_id;student_id",
		"A;S1",
		"A;s-1",
		"B;1",
	))
	if len(res.Questions[0].StudentResponses) != 1 {
		t.Errorf("duplicate id should be rejected within a question")
	}
	if len(res.Questions[1].StudentResponses) != 1 {
		t.Errorf("same id in another question is allowed")
	}
	if len(res.Rejected) != 1 {
		t.Errorf("expected 1 rejection, got %d", len(res.Rejected))
	}
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"question_id", "student_id", "ai_score_deel1", "ai_score_deel2", "ai_score_total"},
		{"Q1", "S12", 1, 1, 2},
		{"Q1", "S13", 0, 0, 0},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	res, err := ParseXLSX(&buf)
	if err != nil {
		t.Fatalf("ParseXLSX: %v", err)
	}
	rs := res.Questions[0].StudentResponses
	if len(rs) != 2 {
		t.Fatalf("expected 2 students, got %d", len(rs))
	}
	if rs[0].ID != 12 || rs[0].AIScore.Total != 2 {
		t.Errorf("unexpected first student %+v", rs[0])
	}
}

func TestParseStudentID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"S001", 1, false},
		{"leerling-42", 42, false},
		{"7", 7, false},
		{"none", 0, true},
		{"99999999999999999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseStudentID(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}
