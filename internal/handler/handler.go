package handler

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/LMDG1/v2-scoringThesis/internal/eventlog"
	"github.com/LMDG1/v2-scoringThesis/internal/handler/views"
	"github.com/LMDG1/v2-scoringThesis/internal/model"
	"github.com/LMDG1/v2-scoringThesis/internal/session"
	"github.com/LMDG1/v2-scoringThesis/internal/store"
)

const scoringCookieName = "scoring_session"

// ScoreBackend persists and exports teacher scores.
type ScoreBackend interface {
	store.ScoreStore
	ExportScores(ctx context.Context, sessionID string) ([]model.ScoreRecord, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	scores   ScoreBackend
	sessions *session.Registry
	events   *eventlog.Logger
	config   model.ServerConfig
}

// New creates a new Handler. Users, auth sessions, imports and the action log
// live in s; teacher scores go to scores.
func New(s *store.Store, scores ScoreBackend, sessions *session.Registry, events *eventlog.Logger, cfg model.ServerConfig) *Handler {
	return &Handler{store: s, scores: scores, sessions: sessions, events: events, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.limitBody)
	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Get("/login", h.handleLoginPage)
		r.Post("/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth, h.scoringSession)
			r.Post("/logout", h.handleLogout)
			r.Get("/", h.handleIndex)
			r.Post("/upload", h.handleUpload)
			r.Post("/students/{studentID}/score", h.handleScore)
			r.Post("/students/{studentID}/explain", h.handleExplain)
			r.Post("/students/{studentID}/similar", h.handleSimilar)
			r.Post("/accept-ai", h.handleAcceptAI)
			r.Post("/next", h.handleAdvance(session.Next))
			r.Post("/previous", h.handleAdvance(session.Previous))
			r.Post("/save", h.handleSave)
			r.Post("/submit", h.handleSubmit)
			r.Get("/export/scores.xlsx", h.handleExportScores(false))
			r.Get("/export/events.csv", h.handleExportEvents(false))

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/export/scores.xlsx", h.handleExportScores(true))
				r.Get("/export/events.csv", h.handleExportEvents(true))
			})
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowOriginFunc: func(_ *http.Request, origin string) bool {
				return slices.Contains(h.config.CORSOrigins, origin)
			},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", csrfHeaderName},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(h.csrfMiddleware, h.requireAuth, h.scoringSession)
		r.Get("/stats", h.handleStats)
		r.Get("/scores", h.handleSavedScores)
		r.Post("/events", h.handleEvent)
	})
}

// BasePathMiddleware makes the deployment prefix available to views.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// limitBody caps request bodies at the configured upload size.
func (h *Handler) limitBody(next http.Handler) http.Handler {
	limit := int64(max(h.config.MaxUploadMB, 1)) << 20
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	return h.config.CookiePath()
}

type sessionCtxKey struct{}

// scoringSession attaches the browser's scoring session, starting one if the
// cookie is missing or its session has expired.
func (h *Handler) scoringSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(scoringCookieName); err == nil {
			id = c.Value
		}
		sess, created := h.sessions.GetOrCreate(id)
		if created {
			h.setCookie(w, scoringCookieName, sess.ID(), true, 0)
		}
		ctx := context.WithValue(r.Context(), sessionCtxKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) *session.Session {
	s, _ := r.Context().Value(sessionCtxKey{}).(*session.Session)
	return s
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	data := views.ScoringData{
		Snapshot: sess.Snapshot(),
		Notice:   sess.TakeNotice(),
	}
	last, err := h.store.LastImport(r.Context())
	switch {
	case err != nil:
		slog.Warn("failed to load last import", "error", err)
	case last != nil:
		data.LastImport = &views.ImportInfo{
			Filename:  last.Filename,
			Questions: last.Questions,
			Students:  last.Students,
			At:        last.ImportedAt,
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ScoringPage(data).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// redirectHome sends the browser back to the scoring page, optionally
// scrolled to a student card.
func (h *Handler) redirectHome(w http.ResponseWriter, r *http.Request, anchor string) {
	target := h.path("/")
	if anchor != "" {
		target += "#" + anchor
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// logAction records an interaction without waiting for the sink.
func (h *Handler) logAction(r *http.Request, kind, label string, attrs map[string]any) {
	if h.events == nil {
		return
	}
	sessionID := ""
	if s := sessionFrom(r); s != nil {
		sessionID = s.ID()
	}
	if u := model.UserFromContext(r.Context()); u != nil {
		if attrs == nil {
			attrs = map[string]any{}
		}
		attrs["user"] = u.Username
	}
	h.events.Enqueue(eventlog.Action{
		SessionID:  sessionID,
		Kind:       kind,
		Label:      label,
		Attributes: attrs,
		At:         time.Now(),
	})
}
