package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LMDG1/v2-scoringThesis/internal/eventlog"
	appI18n "github.com/LMDG1/v2-scoringThesis/internal/i18n"
	"github.com/LMDG1/v2-scoringThesis/internal/model"
	"github.com/LMDG1/v2-scoringThesis/internal/session"
	"github.com/LMDG1/v2-scoringThesis/internal/store"
)

const testCSV = "question_id;question_text;student_id;antwoord_deel1_prefix;antwoord_deel1_completion;antwoord_deel2_prefix;antwoord_deel2_completion;ai_score_deel1;ai_score_deel2;ai_confidence;deel1_dark_highlight\n" +
	"Q1;Why does trade grow?;S001;Because;<b>money</b> flows;So;prices fall;1;0;92;money\n" +
	"Q1;Why does trade grow?;S002;Because;nothing;So;nothing;0;0;40;\n" +
	"Q2;Who gains?;S001;Tropico;gains;Because;they earn;1;1;80;\n"

type testEnv struct {
	srv    *httptest.Server
	client *http.Client
	db     *store.Store
	scores *store.MemoryScores
	events *eventlog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if err := appI18n.Init("nl"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.EnsureUser("teacher", "Docent", "secret", model.UserRoleTeacher); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	scores := store.NewMemoryScores()
	events := eventlog.NewLogger(db, 64)
	t.Cleanup(events.Close)

	h := New(db, scores, session.NewRegistry(time.Hour), events, model.ServerConfig{MaxUploadMB: 5})
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("/", false))
	r.Use(h.BasePathMiddleware)
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, _ := cookiejar.New(nil)
	return &testEnv{srv: srv, client: &http.Client{Jar: jar}, db: db, scores: scores, events: events}
}

func (e *testEnv) cookie(name string) string {
	u, _ := url.Parse(e.srv.URL)
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := e.client.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func (e *testEnv) post(t *testing.T, path string, vals url.Values) (*http.Response, string) {
	t.Helper()
	if vals == nil {
		vals = url.Values{}
	}
	vals.Set("csrf_token", e.cookie(csrfCookieName))
	resp, err := e.client.PostForm(e.srv.URL+path, vals)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	e.get(t, "/login")
	resp, _ := e.post(t, "/login", url.Values{"username": {"teacher"}, "password": {"secret"}})
	if resp.StatusCode != http.StatusOK || resp.Request.URL.Path != "/" {
		t.Fatalf("login ended at %s with %d", resp.Request.URL.Path, resp.StatusCode)
	}
}

func (e *testEnv) upload(t *testing.T, filename, content string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("csrf_token", e.cookie(csrfCookieName))
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = io.WriteString(fw, content)
	mw.Close()

	resp, err := e.client.Post(e.srv.URL+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func (e *testEnv) savedScores(t *testing.T) savedScoresResponse {
	t.Helper()
	_, body := e.get(t, "/api/scores")
	var resp savedScoresResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode scores: %v (%s)", err, body)
	}
	return resp
}

func TestRequiresLogin(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.get(t, "/")
	if resp.Request.URL.Path != "/login" {
		t.Errorf("expected redirect to /login, ended at %s", resp.Request.URL.Path)
	}

	resp, body := e.get(t, "/api/stats")
	if resp.StatusCode != http.StatusUnauthorized || !strings.Contains(body, "unauthorized") {
		t.Errorf("expected JSON 401, got %d %q", resp.StatusCode, body)
	}
}

func TestLoginFailure(t *testing.T) {
	e := newTestEnv(t)
	e.get(t, "/login")
	resp, body := e.post(t, "/login", url.Values{"username": {"teacher"}, "password": {"wrong"}})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "Onjuiste gebruikersnaam of wachtwoord.") {
		t.Error("expected login error message")
	}
}

func TestCSRFRejected(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	resp, err := e.client.PostForm(e.srv.URL+"/next", url.Values{"csrf_token": {"forged"}})
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}

func TestUploadAndScore(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	_, body := e.get(t, "/")
	if !strings.Contains(body, "Er zijn nog geen vragen geladen.") {
		t.Fatal("expected empty state before upload")
	}

	body = e.upload(t, "scores.csv", testCSV)
	if !strings.Contains(body, "Bestand succesvol ingelezen: 3 leerlingantwoorden geladen.") {
		t.Errorf("expected upload notice, got %s", body)
	}
	if !strings.Contains(body, "Why does trade grow?") {
		t.Error("expected first question")
	}
	if strings.Contains(body, "<b>money</b>") {
		t.Error("student text must be escaped")
	}
	if !strings.Contains(body, "&lt;b&gt;money&lt;/b&gt; flows") {
		t.Error("expected escaped student text")
	}

	// The notice is shown once.
	_, body = e.get(t, "/")
	if strings.Contains(body, "Bestand succesvol ingelezen") {
		t.Error("notice must not repeat")
	}

	e.post(t, "/students/1/score", url.Values{"part": {"part1"}, "value": {"1"}})
	e.post(t, "/students/1/score", url.Values{"part": {"part2"}, "value": {"0"}})
	_, body = e.get(t, "/api/stats")
	var stats statsResponse
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		t.Fatalf("decode stats: %v (%s)", err, body)
	}
	if stats.Stats.TotalStudents != 2 || stats.Stats.ScoredStudents != 1 || stats.ProgressPercent != 50 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.QuestionID != "Q1" || stats.QuestionCount != 2 {
		t.Errorf("unexpected question info %+v", stats)
	}

	_, body = e.post(t, "/save", nil)
	if !strings.Contains(body, "Scores opgeslagen.") {
		t.Error("expected saved notice")
	}
	saved := e.savedScores(t)
	if saved.QuestionID != "Q1" || len(saved.Scores) != 2 {
		t.Fatalf("expected 2 saved scores for Q1, got %+v", saved)
	}
	if got := saved.Scores[0]; got.Part1 != "1" || got.Part2 != "0" || got.Total != "1" {
		t.Errorf("expected derived total 1, got %+v", got)
	}
	if got := saved.Scores[1]; got.Part1 != "" || got.Total != "" {
		t.Errorf("second student must stay unscored, got %+v", got)
	}
	recs, _ := e.scores.ListScores(context.Background(), stats.SessionID, "Q1")
	if len(recs) != 2 || !recs[0].Score.Total.Equal(model.Scored(1)) {
		t.Errorf("unexpected stored records %+v", recs)
	}

	e.post(t, "/submit", nil)
	for _, sc := range e.savedScores(t).Scores {
		if !sc.Submitted {
			t.Errorf("student %d not submitted", sc.StudentID)
		}
	}

	_, body = e.get(t, "/")
	if !strings.Contains(body, "Laatst ingelezen: scores.csv") {
		t.Error("expected last import on the upload panel")
	}
}

func TestInvalidScoreAndUnknownStudent(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	e.upload(t, "scores.csv", testCSV)

	tests := []struct {
		name  string
		part  string
		value string
	}{
		{"unknown part", "part9", "1"},
		{"not a number", "part1", "x"},
		{"part above one", "part1", "7"},
		{"negative part", "part2", "-3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, body := e.post(t, "/students/1/score", url.Values{"part": {tt.part}, "value": {tt.value}})
			if !strings.Contains(body, "Ongeldige score.") {
				t.Errorf("%s=%s: expected invalid score notice", tt.part, tt.value)
			}
		})
	}

	_, body := e.get(t, "/api/stats")
	var stats statsResponse
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		t.Fatalf("decode stats: %v (%s)", err, body)
	}
	if stats.Stats.ScoredStudents != 0 {
		t.Errorf("rejected values must not score a student: %+v", stats.Stats)
	}

	// The total is free-form.
	_, body = e.post(t, "/students/1/score", url.Values{"part": {"total"}, "value": {"5"}})
	if strings.Contains(body, "Ongeldige score.") {
		t.Error("total of 5 should be accepted")
	}

	_, body = e.post(t, "/students/99/score", url.Values{"part": {"part1"}, "value": {"1"}})
	if !strings.Contains(body, "Onbekende leerling.") {
		t.Error("expected unknown student notice")
	}
}

func TestRejectedUploadKeepsQuestions(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	e.upload(t, "scores.csv", testCSV)

	body := e.upload(t, "broken.csv", "foo;bar\n1;2\n")
	if !strings.Contains(body, "Fout bij verwerken") {
		t.Errorf("expected format error notice, got %s", body)
	}
	if !strings.Contains(body, "Why does trade grow?") {
		t.Error("previous questions must stay loaded")
	}
}

func TestDuplicateUpload(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	e.upload(t, "scores.csv", testCSV)
	body := e.upload(t, "again.csv", testCSV)
	if !strings.Contains(body, "eerder ingelezen") {
		t.Error("expected duplicate notice")
	}
}

func TestDisclosureAndNavigation(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	e.upload(t, "scores.csv", testCSV)

	_, body := e.post(t, "/students/1/explain", nil)
	if !strings.Contains(body, `<mark class="hl-high">money</mark>`) {
		t.Error("expected highlighted word after expanding")
	}
	if !strings.Contains(body, "Toon vergelijkbare antwoorden") {
		t.Error("expected similar responses toggle")
	}
	_, body = e.post(t, "/students/1/similar", nil)
	if !strings.Contains(body, "Verberg vergelijkbare antwoorden") {
		t.Error("expected similar panel open")
	}

	_, body = e.post(t, "/previous", nil)
	if !strings.Contains(body, "Dit is de eerste vraag.") {
		t.Error("expected start notice")
	}
	_, body = e.post(t, "/next", nil)
	if !strings.Contains(body, "Je gaat naar vraag 2.") || !strings.Contains(body, "Who gains?") {
		t.Error("expected second question")
	}
	if strings.Contains(body, "<mark") {
		t.Error("disclosure state must reset on navigation")
	}
	_, body = e.post(t, "/next", nil)
	if !strings.Contains(body, "Einde bereikt: dit was de laatste vraag.") {
		t.Error("expected end notice")
	}
}

func TestAcceptAIAndExports(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	e.upload(t, "scores.csv", testCSV)

	_, body := e.post(t, "/accept-ai", nil)
	if !strings.Contains(body, "AI-scores overgenomen") {
		t.Error("expected accept notice")
	}
	if !strings.Contains(body, "2 van 2 leerlingen beoordeeld (100%)") {
		t.Error("expected all students scored")
	}
	e.post(t, "/save", nil)

	resp, body := e.get(t, "/export/scores.xlsx")
	if resp.StatusCode != http.StatusOK || len(body) == 0 {
		t.Fatalf("export scores: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("unexpected content type %q", ct)
	}

	// The teacher role may not export every session.
	resp, _ = e.get(t, "/admin/export/scores.xlsx")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for admin export, got %d", resp.StatusCode)
	}

	var events string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, events = e.get(t, "/export/events.csv")
		if strings.Contains(events, "upload") && strings.Contains(events, "click") {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.HasPrefix(events, "Timestamp,Student ID,Event Type,Details\n") {
		t.Errorf("unexpected analytics header: %q", events)
	}
	if !strings.Contains(events, "upload,scores.csv") {
		t.Errorf("expected upload event in %q", events)
	}
}

func TestEventAPI(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	send := func(body string) *http.Response {
		req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/api/events", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(csrfHeaderName, e.cookie(csrfCookieName))
		resp, err := e.client.Do(req)
		if err != nil {
			t.Fatalf("POST /api/events: %v", err)
		}
		resp.Body.Close()
		return resp
	}

	if resp := send(`{"kind":"why_click","label":"Why? student 3","student_id":3}`); resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202, got %d", resp.StatusCode)
	}
	if resp := send(`{"kind":"explode"}`); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", resp.StatusCode)
	}
	if resp := send(`{"kind":`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	resp, _ := e.post(t, "/logout", nil)
	if resp.Request.URL.Path != "/login" {
		t.Errorf("expected login page after logout, got %s", resp.Request.URL.Path)
	}
	resp, _ = e.get(t, "/")
	if resp.Request.URL.Path != "/login" {
		t.Error("expected to be logged out")
	}
}
