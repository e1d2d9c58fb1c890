package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/LMDG1/v2-scoringThesis/internal/eventlog"
	"github.com/LMDG1/v2-scoringThesis/internal/model"
	"github.com/LMDG1/v2-scoringThesis/internal/session"
)

func studentAnchor(id int) string {
	return fmt.Sprintf("student-%d", id)
}

func studentIDParam(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "studentID"))
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	id, err := studentIDParam(r)
	if err != nil {
		http.Error(w, "invalid student ID", http.StatusBadRequest)
		return
	}
	part, ok := model.ParsePart(r.FormValue("part"))
	if !ok {
		sess.SetNotice(model.Notice{Kind: "error", MessageID: "NoticeInvalidScore"})
		h.redirectHome(w, r, studentAnchor(id))
		return
	}
	value, err := model.ParsePoints(r.FormValue("value"))
	if err != nil || !value.ValidFor(part) {
		sess.SetNotice(model.Notice{Kind: "error", MessageID: "NoticeInvalidScore"})
		h.redirectHome(w, r, studentAnchor(id))
		return
	}
	if !sess.SetScore(id, part, value) {
		sess.SetNotice(model.Notice{Kind: "error", MessageID: "NoticeUnknownStudent"})
		h.redirectHome(w, r, "")
		return
	}

	h.logAction(r, eventlog.KindScoreChange, fmt.Sprintf("student %d %s = %s", id, part, value), map[string]any{
		"student_id": id,
		"part":       string(part),
		"value":      value.String(),
	})
	h.redirectHome(w, r, studentAnchor(id))
}

func (h *Handler) handleExplain(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	id, err := studentIDParam(r)
	if err != nil {
		http.Error(w, "invalid student ID", http.StatusBadRequest)
		return
	}
	sess.ToggleExpanded(id)
	if sess.Disclosure(id) == session.Collapsed {
		h.logAction(r, eventlog.KindClick, fmt.Sprintf("hide explanation student %d", id), map[string]any{"student_id": id})
	} else {
		h.logAction(r, eventlog.KindWhyClick, fmt.Sprintf("why student %d", id), map[string]any{"student_id": id})
	}
	h.redirectHome(w, r, studentAnchor(id))
}

func (h *Handler) handleSimilar(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	id, err := studentIDParam(r)
	if err != nil {
		http.Error(w, "invalid student ID", http.StatusBadRequest)
		return
	}
	sess.ToggleSimilarResponses(id)
	h.logAction(r, eventlog.KindClick, fmt.Sprintf("similar responses student %d %s", id, sess.Disclosure(id)), map[string]any{"student_id": id})
	h.redirectHome(w, r, studentAnchor(id))
}

func (h *Handler) handleAcceptAI(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	sess.AcceptAIScores()
	sess.SetNotice(model.Notice{Kind: "info", MessageID: "NoticeAIAccepted"})
	h.logAction(r, eventlog.KindClick, "accept AI scores", nil)
	h.redirectHome(w, r, "")
}

func (h *Handler) handleAdvance(dir session.Direction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		err := sess.Advance(dir)

		var rangeErr *session.RangeNavigationError
		switch {
		case errors.As(err, &rangeErr) && rangeErr.AtEnd():
			sess.SetNotice(model.Notice{Kind: "info", MessageID: "NoticeEndReached"})
		case errors.As(err, &rangeErr):
			sess.SetNotice(model.Notice{Kind: "info", MessageID: "NoticeStartReached"})
		case err != nil:
			slog.Error("advance failed", "direction", dir, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		default:
			snap := sess.Snapshot()
			sess.SetNotice(model.Notice{
				Kind:      "info",
				MessageID: "NoticeNavigated",
				Data:      map[string]any{"Number": snap.Index + 1},
			})
			h.logAction(r, eventlog.KindNavigate, dir.String(), map[string]any{"question_index": snap.Index})
		}
		h.redirectHome(w, r, "")
	}
}

// persistScores writes every teacher score of the active question.
func (h *Handler) persistScores(r *http.Request, submit bool) error {
	sess := sessionFrom(r)
	snap := sess.Snapshot()
	if snap.Question == nil {
		return nil
	}
	ctx := r.Context()
	for _, st := range snap.Question.StudentResponses {
		if err := h.scores.SaveScore(ctx, snap.ID, snap.Question.QuestionID, st.ID, snap.Score(st.ID)); err != nil {
			return err
		}
	}
	if submit {
		if err := h.scores.MarkSubmitted(ctx, snap.ID, snap.Question.QuestionID); err != nil {
			return err
		}
	}
	slog.Info("persisted scores",
		"session_id", snap.ID,
		"question_id", snap.Question.QuestionID,
		"students", len(snap.Question.StudentResponses),
		"scored", snap.Stats.ScoredStudents,
		"submitted", submit,
	)
	return nil
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if err := h.persistScores(r, false); err != nil {
		slog.Error("failed to save scores", "session_id", sess.ID(), "error", err)
		sess.SetNotice(model.Notice{Kind: "error", MessageID: "NoticeSaveFailed"})
	} else {
		sess.SetNotice(model.Notice{Kind: "info", MessageID: "NoticeSaved"})
	}
	h.logAction(r, eventlog.KindClick, "save scores", nil)
	h.redirectHome(w, r, "")
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if err := h.persistScores(r, true); err != nil {
		slog.Error("failed to submit scores", "session_id", sess.ID(), "error", err)
		sess.SetNotice(model.Notice{Kind: "error", MessageID: "NoticeSubmitFailed"})
	} else {
		sess.SetNotice(model.Notice{Kind: "info", MessageID: "NoticeSubmitted"})
	}
	h.logAction(r, eventlog.KindSubmit, "submit scores", nil)
	h.redirectHome(w, r, "")
}
