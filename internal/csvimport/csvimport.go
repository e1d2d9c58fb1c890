// Package csvimport turns exported scoring sheets into questions.
//
// The canonical input is a semicolon-delimited CSV file with one row per
// student response. Model answer and question fields are repeated on every
// row of the same question_id. An optional format_version column selects how
// feature importance and similar responses are encoded:
//
//	1 (default)  deelN_light_highlight / deelN_dark_highlight word lists,
//	             ptN_sim_response_K / ptN_sim_response_score_K column pairs
//	2            deelN_feature_importance "word:importance" pairs,
//	             ptN_similar_responses "response:...|score:..." entries
//
// The version is fixed by the first data row and applies to the whole file.
package csvimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xuri/excelize/v2"

	"github.com/LMDG1/v2-scoringThesis/internal/model"
)

// Supported format versions.
const (
	Version1 = "1"
	Version2 = "2"
)

// Delimiter separates CSV fields.
const Delimiter = ';'

// Result is the outcome of a parse. Rejected rows did not stop the parse.
type Result struct {
	Questions []model.Question
	Rejected  []*FormatError
}

// StudentCount returns the number of accepted student rows.
func (r *Result) StudentCount() int {
	n := 0
	for _, q := range r.Questions {
		n += len(q.StudentResponses)
	}
	return n
}

var validate = validator.New()

// ParseString parses CSV text.
func ParseString(s string) (*Result, error) {
	return Parse(strings.NewReader(s))
}

// Parse reads a whole CSV document and groups its rows into questions.
func Parse(r io.Reader) (*Result, error) {
	cr := csv.NewReader(r)
	cr.Comma = Delimiter
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var records [][]string
	var lines []int
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &FormatError{Reason: "malformed CSV", Err: err}
		}
		line, _ := cr.FieldPos(0)
		if isBlank(rec) {
			continue
		}
		records = append(records, rec)
		lines = append(lines, line)
	}
	return parseRecords(records, lines)
}

// ParseXLSX reads the first sheet of a workbook laid out like the CSV format.
func ParseXLSX(r io.Reader) (*Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &FormatError{Reason: "unreadable workbook", Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &FormatError{Reason: "workbook has no sheets"}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &FormatError{Reason: "read sheet " + sheets[0], Err: err}
	}

	var records [][]string
	var lines []int
	for i, rec := range rows {
		if isBlank(rec) {
			continue
		}
		records = append(records, rec)
		lines = append(lines, i+1)
	}
	return parseRecords(records, lines)
}

func parseRecords(records [][]string, lines []int) (*Result, error) {
	if len(records) == 0 {
		return nil, &FormatError{Reason: "no header row"}
	}
	h := newHeader(records[0])
	if !h.has(colStudentID) {
		return nil, &FormatError{Line: lines[0], Column: colStudentID, Reason: "missing required column"}
	}
	if len(records) == 1 {
		return nil, &FormatError{Reason: "no data rows"}
	}

	version := Version1
	if h.has(colFormatVersion) {
		if v := h.get(records[1], colFormatVersion); v != "" {
			version = v
		}
	}
	if version != Version1 && version != Version2 {
		return nil, &FormatError{
			Line:   lines[1],
			Column: colFormatVersion,
			Reason: fmt.Sprintf("unsupported format version %q", version),
		}
	}

	res := &Result{}
	byID := make(map[string]int)
	seen := make(map[string]map[int]bool)

	for i := 1; i < len(records); i++ {
		rec := record{h: h, fields: records[i], line: lines[i]}
		sr, err := decodeRow(rec, version)
		if err != nil {
			var fe *FormatError
			if !errors.As(err, &fe) {
				fe = &FormatError{Line: rec.line, Reason: "invalid row", Err: err}
			}
			res.Rejected = append(res.Rejected, fe)
			continue
		}

		idx, ok := byID[sr.QuestionID]
		if !ok {
			idx = len(res.Questions)
			byID[sr.QuestionID] = idx
			seen[sr.QuestionID] = make(map[int]bool)
			res.Questions = append(res.Questions, newQuestion(rec, sr.QuestionID))
		}
		if seen[sr.QuestionID][sr.Student.ID] {
			res.Rejected = append(res.Rejected, &FormatError{
				Line:   rec.line,
				Column: colStudentID,
				Reason: fmt.Sprintf("duplicate student id %d in question %q", sr.Student.ID, sr.QuestionID),
			})
			continue
		}
		seen[sr.QuestionID][sr.Student.ID] = true
		res.Questions[idx].StudentResponses = append(res.Questions[idx].StudentResponses, sr.Student)
	}

	if len(res.Questions) == 0 {
		fe := &FormatError{Reason: "no valid rows"}
		if len(res.Rejected) > 0 {
			fe.Err = res.Rejected[0]
		}
		return nil, fe
	}
	return res, nil
}

func newQuestion(rec record, questionID string) model.Question {
	return model.Question{
		QuestionID:      questionID,
		AssignmentName:  "Question " + questionID,
		ContextQuestion: rec.get(colContextQuestion),
		Question:        rec.get(colQuestionText),
		ModelAnswer: model.ModelAnswer{
			Part1: model.AnswerPart{
				Prefix:     rec.get(partCol(colModelPrefix, 1)),
				Completion: rec.get(partCol(colModelCompletion, 1)),
			},
			Part2: model.AnswerPart{
				Prefix:     rec.get(partCol(colModelPrefix, 2)),
				Completion: rec.get(partCol(colModelCompletion, 2)),
			},
		},
	}
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// logCoercion notes a value that was replaced by a default.
func logCoercion(line int, column, raw string, used any) {
	slog.Debug("coerced CSV value", "line", line, "column", column, "raw", raw, "used", used)
}
