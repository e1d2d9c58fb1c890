package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LMDG1/v2-scoringThesis/internal/csvimport"
	"github.com/LMDG1/v2-scoringThesis/internal/eventlog"
	"github.com/LMDG1/v2-scoringThesis/internal/handler"
	appI18n "github.com/LMDG1/v2-scoringThesis/internal/i18n"
	"github.com/LMDG1/v2-scoringThesis/internal/model"
	"github.com/LMDG1/v2-scoringThesis/internal/session"
	"github.com/LMDG1/v2-scoringThesis/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scoring",
		Short: "AI-assisted scoring of open exam answers",
	}

	serve := serveCmd()
	root.AddCommand(serve, checkCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `scoring --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP scoring server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "scoring.db", "SQLite database path")
	f.StringP("lang", "l", "nl", "Default UI language (nl, en)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /scoring)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("teacher-password", "", "Initial teacher password (or set SCORING_TEACHER_PASSWORD)")
	f.StringSlice("cors-origins", nil, "Origins allowed to call /api (repeatable)")
	f.Int("max-upload-mb", 10, "Maximum upload size in megabytes")
	f.Bool("volatile-scores", false, "Keep teacher scores in memory instead of the database")
	f.Duration("session-ttl", 8*time.Hour, "Idle time after which a scoring session is dropped")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check FILE...",
		Short: "Validate scoring files without starting the server",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCheck,
	}
	f := cmd.Flags()
	f.String("log-level", "warn", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export saved teacher scores as XLSX",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "scoring.db", "SQLite database path")
	f.String("session", "", "Only export this scoring session (default: all)")
	f.StringP("output", "o", "scores.xlsx", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SCORING")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("scoring")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/scoring")
	v.AddConfigPath("/etc/scoring")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedTeacher(db, v.GetString("teacher-password")); err != nil {
		return fmt.Errorf("seed teacher: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.ServerConfig{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		MaxUploadMB:   v.GetInt("max-upload-mb"),
		CORSOrigins:   v.GetStringSlice("cors-origins"),
	}

	var scores handler.ScoreBackend = db
	if v.GetBool("volatile-scores") {
		scores = store.NewMemoryScores()
		slog.Warn("teacher scores are kept in memory and lost on restart")
	}

	events := eventlog.NewLogger(eventlog.Multi{db, eventlog.SlogSink{Level: slog.LevelDebug}}, 256)
	defer events.Close()

	sessions := session.NewRegistry(v.GetDuration("session-ttl"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sweep(ctx, db, sessions)

	h := handler.New(db, scores, sessions, events, cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(cfg.CookiePath(), cfg.SecureCookies))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"lang", lang,
			"base_path", basePath,
			"volatile_scores", v.GetBool("volatile-scores"),
			"max_upload_mb", cfg.MaxUploadMB,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// sweep drops idle scoring sessions and expired logins until ctx is done.
func sweep(ctx context.Context, db *store.Store, sessions *session.Registry) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(); n > 0 {
				slog.Info("dropped idle scoring sessions", "count", n)
			}
			n, err := db.CleanupExpiredSessions(ctx)
			if err != nil {
				slog.Error("failed to clean up auth sessions", "error", err)
			} else if n > 0 {
				slog.Debug("removed expired auth sessions", "count", n)
			}
		}
	}
}

func seedTeacher(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if password == "" {
		return fmt.Errorf("teacher password is required: set --teacher-password flag or SCORING_TEACHER_PASSWORD env var")
	}

	created, err := db.EnsureUser("teacher", "Docent", password, model.UserRoleAdmin)
	if err != nil {
		return fmt.Errorf("create teacher user: %w", err)
	}
	if created {
		slog.Info("seeded default teacher user", "username", "teacher")
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	out := cmd.OutOrStdout()

	var failed int
	for _, path := range args {
		res, err := parseFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "%s: %d questions, %d students, %d rejected rows\n",
			path, len(res.Questions), res.StudentCount(), len(res.Rejected))
		for _, fe := range res.Rejected {
			fmt.Fprintf(out, "  %v\n", fe)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be loaded", failed, len(args))
	}
	return nil
}

func parseFile(path string) (*csvimport.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return csvimport.ParseXLSX(f)
	}
	return csvimport.Parse(f)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	recs, err := db.ExportScores(cmd.Context(), v.GetString("session"))
	if err != nil {
		return fmt.Errorf("export scores: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := store.WriteScoresXLSX(w, recs); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	slog.Info("exported scores", "rows", len(recs), "output", outPath)
	return nil
}
