package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/bandscore/internal/evalclient"
	"github.com/pavelanni/bandscore/internal/handler"
	appI18n "github.com/pavelanni/bandscore/internal/i18n"
	"github.com/pavelanni/bandscore/internal/llm"
	"github.com/pavelanni/bandscore/internal/llm/prompts"
	"github.com/pavelanni/bandscore/internal/model"
	"github.com/pavelanni/bandscore/internal/scoring"
	"github.com/pavelanni/bandscore/internal/store"
	"github.com/pavelanni/bandscore/internal/writing"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bandscore",
		Short: "IELTS answer scoring and writing evaluation service",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), scoreCmd(), evaluateCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `bandscore --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
	f.String("db", "bandscore.db", "SQLite path or postgres DSN")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addEvaluatorFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("evaluator", "remote", "Writing evaluator (remote, llm, none)")
	f.String("eval-url", "", "Base URL of the remote writing evaluation service")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.Duration("eval-delay", 0, "Pause between consecutive essay evaluations")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP scoring API",
		RunE:  runServe,
	}
	addStoreFlags(cmd)
	addEvaluatorFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSliceP("tests", "t", nil, "Paths to test JSON files to import at startup (repeatable)")
	f.StringP("lang", "l", "en", "Default message language (en, vi)")
	f.StringSlice("cors-origins", []string{"http://localhost:3000"}, "Allowed CORS origins")
	f.String("jwt-secret", "", "HS256 secret for learner bearer tokens (empty disables checks)")
	f.String("admin-password", "", "Initial admin password (or set BANDSCORE_ADMIN_PASSWORD)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import test definitions from JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addStoreFlags(cmd)
	return cmd
}

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a file of answers against a test file",
		RunE:  runScore,
	}
	f := cmd.Flags()
	f.String("test", "", "Test definition JSON file (required)")
	f.String("answers", "", "Answers JSON file: [{questionId, answer}] (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("test")
	_ = cmd.MarkFlagRequired("answers")
	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run the writing evaluation for a stored attempt",
		RunE:  runEvaluate,
	}
	addStoreFlags(cmd)
	addEvaluatorFlags(cmd)
	f := cmd.Flags()
	f.String("attempt", "", "Attempt identifier (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")

	_ = cmd.MarkFlagRequired("attempt")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export test results as JSON",
		RunE:  runExport,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.String("test-id", "", "Test identifier (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")

	_ = cmd.MarkFlagRequired("test-id")
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

	v.SetEnvPrefix("BANDSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("bandscore")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/bandscore")
	v.AddConfigPath("/etc/bandscore")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	db, err := store.Open(ctx, store.Driver(strings.ToLower(v.GetString("db-driver"))), v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// newEvaluator builds the configured writing evaluator. The sample generator
// is only available with the remote evaluator; both are nil for "none".
func newEvaluator(ctx context.Context, v *viper.Viper) (writing.Evaluator, handler.SampleGenerator, error) {
	switch kind := strings.ToLower(v.GetString("evaluator")); kind {
	case "none", "":
		slog.Warn("writing evaluation disabled")
		return nil, nil, nil

	case "remote":
		client, err := evalclient.New(v.GetString("eval-url"))
		if err != nil {
			return nil, nil, fmt.Errorf("create evaluation client: %w", err)
		}
		if err := client.Ping(ctx); err != nil {
			return nil, nil, fmt.Errorf("evaluation endpoint health check: %w", err)
		}
		slog.Info("evaluation endpoint OK", "url", v.GetString("eval-url"))
		return client, client, nil

	case "llm":
		promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
		if !prompts.IsValidVariant(promptVariant) {
			slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
			promptVariant = string(prompts.PromptStandard)
		}
		client, err := llm.New(
			v.GetString("llm-url"),
			v.GetString("llm-key"),
			v.GetString("llm-model"),
			promptVariant,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create LLM client: %w", err)
		}
		if err := client.Ping(ctx); err != nil {
			return nil, nil, fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
		return client, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown evaluator %q", kind)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if err := loadTests(db, v.GetStringSlice("tests")); err != nil {
		return fmt.Errorf("load tests: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	evaluator, samples, err := newEvaluator(ctx, v)
	if err != nil {
		return err
	}

	cfg := model.ServiceConfig{
		EvalDelay:     v.GetDuration("eval-delay"),
		CORSOrigins:   v.GetStringSlice("cors-origins"),
		JWTSecret:     v.GetString("jwt-secret"),
		PromptVariant: v.GetString("prompt-variant"),
	}
	if cfg.JWTSecret == "" {
		slog.Warn("no jwt-secret configured, attempts are not owner-checked")
	}

	h, err := handler.New(db, evaluator, samples, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept", "Accept-Language"},
		MaxAge:         300,
	}))
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db_driver", v.GetString("db-driver"),
		"evaluator", v.GetString("evaluator"),
		"lang", lang,
		"eval_delay", cfg.EvalDelay,
		"cors_origins", cfg.CORSOrigins,
	)
	return http.ListenAndServe(addr, r)
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(cmd.Context(), v)
	if err != nil {
		return err
	}
	defer db.Close()

	return loadTests(db, args)
}

func runScore(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	var test model.Test
	if err := readJSON(v.GetString("test"), &test); err != nil {
		return err
	}
	var answers []model.UserAnswerSubmission
	if err := readJSON(v.GetString("answers"), &answers); err != nil {
		return err
	}

	results := scoring.ScoreAllAnswers(answers, &test)
	stats := scoring.GenerateStatistics(results)
	slog.Info("scored answers",
		"test_id", test.ID,
		"correct", stats.CorrectAnswers,
		"total", stats.TotalQuestions,
		"percentage", stats.Percentage,
	)

	return writeOutput(v.GetString("output"), struct {
		Results    []model.ScoredAnswer `json:"results"`
		Statistics model.Statistics     `json:"statistics"`
		Sections   []model.SectionScore `json:"sections"`
	}{results, stats, scoring.SectionScores(&test, results)})
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	evaluator, _, err := newEvaluator(ctx, v)
	if err != nil {
		return err
	}
	if evaluator == nil {
		return errors.New("an evaluator is required: set --evaluator to remote or llm")
	}

	attemptID := v.GetString("attempt")
	attempt, err := db.GetAttempt(attemptID)
	if err != nil {
		return fmt.Errorf("get attempt %s: %w", attemptID, err)
	}
	test, err := db.GetTest(attempt.TestID)
	if err != nil {
		return fmt.Errorf("get test %s: %w", attempt.TestID, err)
	}
	responses, err := db.GetResponses(attemptID)
	if err != nil {
		return fmt.Errorf("get responses: %w", err)
	}

	orch := writing.New(evaluator,
		writing.WithDelay(v.GetDuration("eval-delay")),
		writing.WithProgressListener(func(e writing.ProgressEvent) {
			slog.Info("evaluation progress",
				"type", e.Type,
				"current", e.Current,
				"total", e.Total,
				"task", e.Description,
				"score", e.Score,
			)
		}),
	)
	res, err := orch.Run(ctx, test, responses)
	if err != nil {
		return fmt.Errorf("evaluate attempt %s: %w", attemptID, err)
	}
	res.AttemptID = attemptID

	if err := db.SaveWritingResult(attemptID, res); err != nil {
		return fmt.Errorf("save writing result: %w", err)
	}
	return writeOutput(v.GetString("output"), res)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(cmd.Context(), v)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportTest(v.GetString("test-id"))
	if err != nil {
		return fmt.Errorf("export test: %w", err)
	}
	return writeOutput(v.GetString("output"), export)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func writeOutput(outPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

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

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

// loadTests imports test files whose content has not been imported before.
// A file that changed since its last import is skipped so existing attempts
// keep the questions they were answered against.
func loadTests(db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}

		if storedHash == hash {
			slog.Info("test file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("test file changed since last import, skipping to avoid breaking existing attempts",
				"path", path)
			continue
		}

		var test model.Test
		if err := json.Unmarshal(data, &test); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := db.PutTest(&test); err != nil {
			return fmt.Errorf("store test from %s: %w", path, err)
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported test", "path", path, "test_id", test.ID, "questions", test.QuestionCount())
	}

	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// seedAdmin stores the admin password hash on first start. Without a
// password the admin endpoints stay disabled.
func seedAdmin(db *store.Store, password string) error {
	existing, err := db.AdminPasswordHash()
	if err != nil {
		return err
	}
	if existing != "" {
		return nil
	}
	if password == "" {
		slog.Warn("no admin password set, admin endpoints disabled: set --admin-password or BANDSCORE_ADMIN_PASSWORD")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if err := db.SetAdminPasswordHash(string(hash)); err != nil {
		return fmt.Errorf("store admin password: %w", err)
	}

	slog.Info("seeded admin password", "username", "admin")
	return nil
}
