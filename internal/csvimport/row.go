package csvimport

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/LMDG1/v2-scoringThesis/internal/model"
)

const (
	colQuestionID      = "question_id"
	colContextQuestion = "context_question"
	colQuestionText    = "question_text"
	colStudentID       = "student_id"
	colFormatVersion   = "format_version"
	colAIScoreTotal    = "ai_score_total"
	colAIConfidence    = "ai_confidence"

	// Per-part templates; %d is the part number.
	colModelPrefix       = "modelantwoord_deel%d_prefix"
	colModelCompletion   = "modelantwoord_deel%d_completion"
	colAnswerPrefix      = "antwoord_deel%d_prefix"
	colAnswerCompletion  = "antwoord_deel%d_completion"
	colAIScore           = "ai_score_deel%d"
	colLightHighlight    = "deel%d_light_highlight"
	colDarkHighlight     = "deel%d_dark_highlight"
	colFeatureImportance = "deel%d_feature_importance"
	colSimilarRight      = "pt%d_similar_right"
	colSimilarWrong      = "pt%d_similar_wrong"
	colSimilarResponses  = "pt%d_similar_responses"

	// %d part number, then exemplar number 1..3.
	colSimResponse      = "pt%d_sim_response_%d"
	colSimResponseScore = "pt%d_sim_response_score_%d"

	similarSlots = 3
)

// fieldColumns maps studentRow fields back to source columns for error messages.
var fieldColumns = map[string]string{
	"QuestionID":   colQuestionID,
	"RawStudentID": colStudentID,
	"Version":      colFormatVersion,
}

func partCol(tmpl string, part int) string {
	return fmt.Sprintf(tmpl, part)
}

type header map[string]int

func newHeader(names []string) header {
	h := make(header, len(names))
	for i, n := range names {
		if i == 0 {
			n = strings.TrimPrefix(n, "\ufeff")
		}
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, dup := h[n]; !dup {
			h[n] = i
		}
	}
	return h
}

func (h header) has(col string) bool {
	_, ok := h[col]
	return ok
}

func (h header) get(fields []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

type record struct {
	h      header
	fields []string
	line   int
}

// get returns the trimmed cell, or "" when the column or cell is absent.
func (r record) get(col string) string {
	return r.h.get(r.fields, col)
}

// studentRow is the validated result of decoding one data row.
type studentRow struct {
	QuestionID   string `validate:"required"`
	RawStudentID string `validate:"required"`
	Version      string `validate:"required,oneof=1 2"`
	Student      model.StudentResponse
}

func decodeRow(rec record, version string) (*studentRow, error) {
	sr := &studentRow{
		QuestionID:   "1",
		RawStudentID: rec.get(colStudentID),
		Version:      version,
	}
	if rec.h.has(colQuestionID) {
		sr.QuestionID = rec.get(colQuestionID)
	}
	if rec.h.has(colFormatVersion) {
		if v := rec.get(colFormatVersion); v != "" {
			sr.Version = v
		}
	}
	if err := validate.Struct(sr); err != nil {
		return nil, fromValidation(rec.line, err)
	}
	if sr.Version != version {
		return nil, &FormatError{
			Line:   rec.line,
			Column: colFormatVersion,
			Reason: fmt.Sprintf("version %q differs from file version %q", sr.Version, version),
		}
	}

	id, err := parseStudentID(sr.RawStudentID)
	if err != nil {
		return nil, &FormatError{Line: rec.line, Column: colStudentID, Reason: "invalid student id", Err: err}
	}

	s := model.StudentResponse{
		ID:   id,
		Name: "Student " + sr.RawStudentID,
		Response: model.ResponseParts{
			Part1: answerPart(rec, 1),
			Part2: answerPart(rec, 2),
		},
		AIScore:    aiScore(rec),
		Confidence: confidence(rec),
		SimilarCounts: model.SimilarCounts{
			Part1: similarCount(rec, 1),
			Part2: similarCount(rec, 2),
		},
	}

	switch version {
	case Version2:
		s.FeatureImportance = model.FeatureImportance{
			Part1: parseImportancePairs(rec.get(partCol(colFeatureImportance, 1))),
			Part2: parseImportancePairs(rec.get(partCol(colFeatureImportance, 2))),
		}
		s.SimilarResponses = model.SimilarResponses{
			Part1: parseSimilarComposite(rec.get(partCol(colSimilarResponses, 1))),
			Part2: parseSimilarComposite(rec.get(partCol(colSimilarResponses, 2))),
		}
	default:
		s.FeatureImportance = model.FeatureImportance{
			Part1: parseHighlights(rec.get(partCol(colLightHighlight, 1)), rec.get(partCol(colDarkHighlight, 1))),
			Part2: parseHighlights(rec.get(partCol(colLightHighlight, 2)), rec.get(partCol(colDarkHighlight, 2))),
		}
		s.SimilarResponses = model.SimilarResponses{
			Part1: similarColumns(rec, 1),
			Part2: similarColumns(rec, 2),
		}
	}

	sr.Student = s
	return sr, nil
}

// parseStudentID keeps only the digits of a raw identifier such as "S-0042".
func parseStudentID(raw string) (int, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if digits == "" {
		return 0, fmt.Errorf("%q contains no digits", raw)
	}
	return strconv.Atoi(digits)
}

func answerPart(rec record, part int) model.AnswerPart {
	return model.AnswerPart{
		Prefix:     rec.get(partCol(colAnswerPrefix, part)),
		Completion: rec.get(partCol(colAnswerCompletion, part)),
	}
}

func aiScore(rec record) model.AIScore {
	s := model.AIScore{
		Part1: scorePoint(rec, partCol(colAIScore, 1)),
		Part2: scorePoint(rec, partCol(colAIScore, 2)),
	}
	s.Total = intOrZero(rec, colAIScoreTotal)
	if sum := s.Part1 + s.Part2; s.Total != sum {
		logCoercion(rec.line, colAIScoreTotal, rec.get(colAIScoreTotal), sum)
		s.Total = sum
	}
	return s
}

// scorePoint reads a single-part AI score, which is 0 or 1.
func scorePoint(rec record, col string) int {
	n := intOrZero(rec, col)
	if n != 0 && n != 1 {
		logCoercion(rec.line, col, rec.get(col), 0)
		return 0
	}
	return n
}

func confidence(rec record) int {
	n := intOrZero(rec, colAIConfidence)
	switch {
	case n < 0:
		logCoercion(rec.line, colAIConfidence, rec.get(colAIConfidence), 0)
		return 0
	case n > 100:
		logCoercion(rec.line, colAIConfidence, rec.get(colAIConfidence), 100)
		return 100
	}
	return n
}

func similarCount(rec record, part int) model.SimilarCount {
	return model.SimilarCount{
		Right: intOrZero(rec, partCol(colSimilarRight, part)),
		Wrong: intOrZero(rec, partCol(colSimilarWrong, part)),
	}
}

// intOrZero parses an integer cell. Decimal values are truncated and
// anything unparseable becomes 0.
func intOrZero(rec record, col string) int {
	raw := rec.get(col)
	if raw == "" {
		return 0
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64); err == nil {
		return int(f)
	}
	logCoercion(rec.line, col, raw, 0)
	return 0
}

func floatOrZero(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
	if err != nil {
		return 0
	}
	return f
}

// parseHighlights reads the light (low) and dark (high) word lists.
func parseHighlights(light, dark string) []model.FeatureImportanceItem {
	var items []model.FeatureImportanceItem
	for _, w := range splitList(light) {
		items = append(items, model.FeatureImportanceItem{Word: w, Importance: model.ImportanceLow})
	}
	for _, w := range splitList(dark) {
		items = append(items, model.FeatureImportanceItem{Word: w, Importance: model.ImportanceHigh})
	}
	return items
}

// parseImportancePairs reads "word:importance" pairs. A missing or unknown
// importance is low.
func parseImportancePairs(s string) []model.FeatureImportanceItem {
	var items []model.FeatureImportanceItem
	for _, tok := range splitList(s) {
		word, imp := tok, ""
		if i := strings.LastIndex(tok, ":"); i >= 0 {
			word = strings.TrimSpace(tok[:i])
			imp = strings.ToLower(strings.TrimSpace(tok[i+1:]))
		}
		if word == "" {
			continue
		}
		items = append(items, model.FeatureImportanceItem{Word: word, Importance: model.ParseImportance(imp)})
	}
	return items
}

func similarColumns(rec record, part int) []model.SimilarResponse {
	var out []model.SimilarResponse
	for k := 1; k <= similarSlots; k++ {
		resp := rec.get(fmt.Sprintf(colSimResponse, part, k))
		if resp == "" {
			continue
		}
		out = append(out, model.SimilarResponse{
			Response: resp,
			Score:    floatOrZero(rec.get(fmt.Sprintf(colSimResponseScore, part, k))),
		})
	}
	return out
}

// parseSimilarComposite reads entries like "response:text|score:1;response:...".
func parseSimilarComposite(s string) []model.SimilarResponse {
	var out []model.SimilarResponse
	for _, entry := range strings.Split(s, ";") {
		var sr model.SimilarResponse
		for _, tok := range strings.Split(entry, "|") {
			key, val, ok := strings.Cut(tok, ":")
			if !ok {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(key)) {
			case "response":
				sr.Response = strings.TrimSpace(val)
			case "score":
				sr.Score = floatOrZero(val)
			}
		}
		if sr.Response == "" {
			continue
		}
		out = append(out, sr)
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimFunc(part, unicode.IsSpace)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
