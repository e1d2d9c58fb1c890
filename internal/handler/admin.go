package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/LMDG1/v2-scoringThesis/internal/csvimport"
	"github.com/LMDG1/v2-scoringThesis/internal/eventlog"
	"github.com/LMDG1/v2-scoringThesis/internal/model"
	"github.com/LMDG1/v2-scoringThesis/internal/store"
)

// handleUpload parses an uploaded file and loads it into the session. A file
// that cannot be parsed leaves the previously loaded questions untouched.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	file, header, err := r.FormFile("file")
	if err != nil {
		slog.Warn("upload without file", "error", err)
		sess.SetNotice(model.Notice{Kind: "error", MessageID: "NoticeReadFailed"})
		h.redirectHome(w, r, "")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		slog.Error("failed to read upload", "filename", header.Filename, "error", err)
		sess.SetNotice(model.Notice{Kind: "error", MessageID: "NoticeReadFailed"})
		h.redirectHome(w, r, "")
		return
	}

	var res *csvimport.Result
	if strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") {
		res, err = csvimport.ParseXLSX(bytes.NewReader(data))
	} else {
		res, err = csvimport.Parse(bytes.NewReader(data))
	}
	if err != nil {
		var fe *csvimport.FormatError
		if errors.As(err, &fe) {
			slog.Info("rejected upload", "filename", header.Filename, "error", fe)
			sess.SetNotice(model.Notice{Kind: "error", MessageID: "NoticeUploadFailed", Data: map[string]any{"Reason": fe.Error()}})
		} else {
			slog.Error("failed to parse upload", "filename", header.Filename, "error", err)
			sess.SetNotice(model.Notice{Kind: "error", MessageID: "NoticeReadFailed"})
		}
		h.redirectHome(w, r, "")
		return
	}

	hash := store.FileHash(data)
	previous, err := h.store.LookupImport(r.Context(), hash)
	if err != nil {
		slog.Error("failed to check import status", "error", err)
	}

	sess.Load(res.Questions)

	students := res.StudentCount()
	if err := h.store.RecordImport(r.Context(), store.ImportedFile{
		Hash:      hash,
		Filename:  header.Filename,
		Questions: len(res.Questions),
		Students:  students,
	}); err != nil {
		slog.Error("failed to record import", "error", err)
	}

	switch {
	case len(res.Rejected) > 0:
		sess.SetNotice(model.Notice{Kind: "error", MessageID: "NoticeRowsSkipped", Data: map[string]any{
			"Count":  len(res.Rejected),
			"Loaded": students,
			"Reason": res.Rejected[0].Error(),
		}})
	case previous != nil:
		sess.SetNotice(model.Notice{Kind: "info", MessageID: "NoticeDuplicate", Data: map[string]any{
			"Date": previous.ImportedAt.Format("2006-01-02 15:04"),
		}})
	default:
		sess.SetNotice(model.Notice{Kind: "info", MessageID: "NoticeUploaded", Data: map[string]any{"Count": students}})
	}

	slog.Info("loaded scoring data",
		"filename", header.Filename,
		"session_id", sess.ID(),
		"questions", len(res.Questions),
		"students", students,
		"rejected", len(res.Rejected),
	)
	h.logAction(r, eventlog.KindUpload, header.Filename, map[string]any{
		"questions": len(res.Questions),
		"students":  students,
		"rejected":  len(res.Rejected),
	})
	h.redirectHome(w, r, "")
}

// handleExportScores downloads saved scores as XLSX, for the current session
// or for all sessions.
func (h *Handler) handleExportScores(all bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := ""
		if !all {
			sessionID = sessionFrom(r).ID()
		}
		recs, err := h.scores.ExportScores(r.Context(), sessionID)
		if err != nil {
			slog.Error("failed to export scores", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		var buf bytes.Buffer
		if err := store.WriteScoresXLSX(&buf, recs); err != nil {
			slog.Error("failed to write workbook", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", attachment("scores", "xlsx"))
		_, _ = w.Write(buf.Bytes())
	}
}

// handleExportEvents downloads the action log as CSV.
func (h *Handler) handleExportEvents(all bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := ""
		if !all {
			sessionID = sessionFrom(r).ID()
		}
		actions, err := h.store.ListActions(r.Context(), sessionID)
		if err != nil {
			slog.Error("failed to list actions", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", attachment("analytics", "csv"))
		if err := eventlog.WriteCSV(w, actions); err != nil {
			slog.Error("failed to write analytics CSV", "error", err)
		}
	}
}

func attachment(name, ext string) string {
	return fmt.Sprintf(`attachment; filename="%s-%s.%s"`, name, time.Now().Format("2006-01-02"), ext)
}
