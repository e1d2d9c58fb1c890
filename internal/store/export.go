package store

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/LMDG1/v2-scoringThesis/internal/model"
	"github.com/xuri/excelize/v2"
)

// ScoresSheet is the sheet name of the score export.
const ScoresSheet = "Scores"

// ExportScores returns saved scores ordered by question and student.
// An empty sessionID exports every session.
func (s *Store) ExportScores(ctx context.Context, sessionID string) ([]model.ScoreRecord, error) {
	query := `SELECT session_id, question_id, student_id, part1, part2, total, submitted, updated_at, submitted_at
		 FROM teacher_scores`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY session_id, question_id, student_id`
	recs, err := s.queryScores(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("export scores: %w", err)
	}
	return recs, nil
}

// WriteScoresXLSX writes score records as a workbook with one Scores sheet.
// Unscored cells are left empty.
func WriteScoresXLSX(w io.Writer, recs []model.ScoreRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(ScoresSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	header := []any{"Session", "Question", "Student ID", "Part 1", "Part 2", "Total", "Submitted", "Updated", "Submitted at"}
	if err := f.SetSheetRow(ScoresSheet, "A1", &header); err != nil {
		return err
	}
	for i, r := range recs {
		row := []any{
			r.SessionID,
			r.QuestionID,
			r.StudentID,
			pointsCell(r.Score.Part1),
			pointsCell(r.Score.Part2),
			pointsCell(r.Score.Total),
			r.Submitted,
			r.UpdatedAt.UTC().Format(time.RFC3339),
			"",
		}
		if r.SubmittedAt != nil {
			row[8] = r.SubmittedAt.UTC().Format(time.RFC3339)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(ScoresSheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(ScoresSheet, "A", "A", 38); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write XLSX: %w", err)
	}
	return nil
}

func pointsCell(p model.Points) any {
	if n, ok := p.Value(); ok {
		return n
	}
	return nil
}
