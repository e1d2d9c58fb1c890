package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/LMDG1/v2-scoringThesis/internal/model"
)

var validate = validator.New()

type apiError struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type statsResponse struct {
	SessionID       string             `json:"session_id"`
	QuestionID      string             `json:"question_id,omitempty"`
	QuestionIndex   int                `json:"question_index"`
	QuestionCount   int                `json:"question_count"`
	Stats           model.ScoringStats `json:"stats"`
	ProgressPercent int                `json:"progress_percent"`
}

type savedScore struct {
	StudentID int       `json:"student_id"`
	Part1     string    `json:"part1"`
	Part2     string    `json:"part2"`
	Total     string    `json:"total"`
	Submitted bool      `json:"submitted"`
	UpdatedAt time.Time `json:"updated_at"`
}

type savedScoresResponse struct {
	SessionID  string       `json:"session_id"`
	QuestionID string       `json:"question_id,omitempty"`
	Scores     []savedScore `json:"scores"`
}

// eventRequest is an interaction reported by browser-side code.
type eventRequest struct {
	Kind      string `json:"kind" validate:"required,oneof=click why_click score_change navigate"`
	Label     string `json:"label" validate:"max=200"`
	StudentID *int   `json:"student_id" validate:"omitempty,min=0"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := sessionFrom(r).Snapshot()
	resp := statsResponse{
		SessionID:       snap.ID,
		QuestionIndex:   snap.Index,
		QuestionCount:   snap.Count,
		Stats:           snap.Stats,
		ProgressPercent: snap.Stats.ProgressPercent(),
	}
	if snap.Question != nil {
		resp.QuestionID = snap.Question.QuestionID
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSavedScores lists what has been saved for the active question.
// Unscored fields are empty strings.
func (h *Handler) handleSavedScores(w http.ResponseWriter, r *http.Request) {
	snap := sessionFrom(r).Snapshot()
	resp := savedScoresResponse{SessionID: snap.ID, Scores: []savedScore{}}
	if snap.Question != nil {
		resp.QuestionID = snap.Question.QuestionID
		recs, err := h.scores.ListScores(r.Context(), snap.ID, resp.QuestionID)
		if err != nil {
			slog.Error("failed to list scores", "session_id", snap.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, apiError{Error: "could not load scores"})
			return
		}
		for _, rec := range recs {
			resp.Scores = append(resp.Scores, savedScore{
				StudentID: rec.StudentID,
				Part1:     rec.Score.Part1.String(),
				Part2:     rec.Score.Part2.String(),
				Total:     rec.Score.Total.String(),
				Submitted: rec.Submitted,
				UpdatedAt: rec.UpdatedAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		resp := apiError{Error: "validation failed", Fields: map[string]string{}}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				resp.Fields[fe.Field()] = fmt.Sprintf("failed %q", fe.Tag())
			}
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	attrs := map[string]any{"source": "client"}
	if req.StudentID != nil {
		attrs["student_id"] = *req.StudentID
	}
	h.logAction(r, req.Kind, req.Label, attrs)
	w.WriteHeader(http.StatusAccepted)
}
