package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite

	"github.com/pavelanni/bandscore/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Driver names a supported database backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

type Store struct {
	db     *sql.DB
	driver Driver
}

// Open connects to the database and creates missing tables.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		if dsn == "" {
			dsn = "bandscore.db"
		}
		if dsn != ":memory:" && !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/bandscore?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection keeps :memory: databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tests (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type_name TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			test_id TEXT NOT NULL REFERENCES tests(id),
			status TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			ended_at BIGINT,
			num_correct INTEGER NOT NULL DEFAULT 0,
			feedback TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS responses (
			attempt_id TEXT NOT NULL REFERENCES attempts(id),
			question_id TEXT NOT NULL,
			user_answer TEXT NOT NULL,
			answer_json TEXT NOT NULL,
			marks_awarded DOUBLE PRECISION NOT NULL DEFAULT 0,
			position INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (attempt_id, question_id)
		)`,
		`CREATE TABLE IF NOT EXISTS writing_results (
			attempt_id TEXT PRIMARY KEY REFERENCES attempts(id),
			overall_band DOUBLE PRECISION NOT NULL,
			body TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *Store) exec(query string, args ...any) (sql.Result, error) {
	return s.db.Exec(s.rebind(query), args...)
}

func (s *Store) queryRow(query string, args ...any) *sql.Row {
	return s.db.QueryRow(s.rebind(query), args...)
}

func (s *Store) query(query string, args ...any) (*sql.Rows, error) {
	return s.db.Query(s.rebind(query), args...)
}

// PutTest inserts or replaces a test definition. A test without an ID gets one.
func (s *Store) PutTest(t *model.Test) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal test: %w", err)
	}
	_, err = s.exec(
		`INSERT INTO tests (id, name, type_name, body, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, type_name = excluded.type_name, body = excluded.body`,
		t.ID, t.Name, t.TypeName, string(body), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert test %s: %w", t.ID, err)
	}
	slog.Info("stored test", "test_id", t.ID, "name", t.Name, "questions", t.QuestionCount())
	return nil
}

// GetTest returns the full test structure.
func (s *Store) GetTest(id string) (*model.Test, error) {
	var body string
	err := s.queryRow(`SELECT body FROM tests WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t model.Test
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, fmt.Errorf("decode test %s: %w", id, err)
	}
	return &t, nil
}

// TestSummary is a test listing row.
type TestSummary struct {
	ID       string `json:"testId"`
	Name     string `json:"testName"`
	TypeName string `json:"testTypeName"`
}

// ListTests returns all tests ordered by name.
func (s *Store) ListTests() ([]TestSummary, error) {
	rows, err := s.query(`SELECT id, name, type_name FROM tests ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tests []TestSummary
	for rows.Next() {
		var t TestSummary
		if err := rows.Scan(&t.ID, &t.Name, &t.TypeName); err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// CreateAttempt starts a new attempt of a test for a user.
func (s *Store) CreateAttempt(userID, testID string) (*model.Attempt, error) {
	a := &model.Attempt{
		ID:        uuid.NewString(),
		UserID:    userID,
		TestID:    testID,
		Status:    model.AttemptInProgress,
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	_, err := s.exec(
		`INSERT INTO attempts (id, user_id, test_id, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.TestID, string(a.Status), a.StartedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	return a, nil
}

const attemptColumns = `id, user_id, test_id, status, started_at, ended_at, num_correct, feedback`

func scanAttempt(row interface{ Scan(...any) error }) (*model.Attempt, error) {
	var (
		a       model.Attempt
		status  string
		started int64
		ended   sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.TestID, &status, &started, &ended, &a.NumCorrect, &a.Feedback); err != nil {
		return nil, err
	}
	a.Status = model.AttemptStatus(status)
	a.StartedAt = time.UnixMilli(started).UTC()
	if ended.Valid {
		t := time.UnixMilli(ended.Int64).UTC()
		a.EndedAt = &t
	}
	return &a, nil
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(id string) (*model.Attempt, error) {
	a, err := scanAttempt(s.queryRow(`SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListAttempts returns the attempts of a test, oldest first.
func (s *Store) ListAttempts(testID string) ([]model.Attempt, error) {
	rows, err := s.query(`SELECT `+attemptColumns+` FROM attempts WHERE test_id = ? ORDER BY started_at, id`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// SaveResponses upserts the learner's answers for an attempt. Marks already
// awarded to a changed answer are reset. A question keeps the position of
// its first submission, so results follow the order answers were given.
func (s *Store) SaveResponses(attemptID string, answers []model.UserAnswerSubmission) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var last int
	if err := tx.QueryRow(
		s.rebind(`SELECT COALESCE(MAX(position), 0) FROM responses WHERE attempt_id = ?`), attemptID,
	).Scan(&last); err != nil {
		return fmt.Errorf("read response position: %w", err)
	}

	stmt := s.rebind(
		`INSERT INTO responses (attempt_id, question_id, user_answer, answer_json, marks_awarded, position) VALUES (?, ?, ?, ?, 0, ?)
		 ON CONFLICT(attempt_id, question_id) DO UPDATE SET
		   user_answer = excluded.user_answer, answer_json = excluded.answer_json, marks_awarded = 0`)
	for i, a := range answers {
		raw, err := json.Marshal(a.Answer)
		if err != nil {
			return fmt.Errorf("marshal answer for %s: %w", a.QuestionID, err)
		}
		if _, err := tx.Exec(stmt, attemptID, a.QuestionID, a.Answer.Flatten(), string(raw), last+i+1); err != nil {
			return fmt.Errorf("save response %s: %w", a.QuestionID, err)
		}
	}
	return tx.Commit()
}

// GetResponses returns the stored responses of an attempt in submission order.
func (s *Store) GetResponses(attemptID string) ([]model.UserResponse, error) {
	rows, err := s.query(
		`SELECT attempt_id, question_id, user_answer, marks_awarded FROM responses WHERE attempt_id = ? ORDER BY position, question_id`,
		attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.UserResponse
	for rows.Next() {
		var r model.UserResponse
		if err := rows.Scan(&r.AttemptID, &r.QuestionID, &r.UserAnswer, &r.MarksAwarded); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetSubmissions returns the stored answers of an attempt in their original
// single or list form, ready for scoring.
func (s *Store) GetSubmissions(attemptID string) ([]model.UserAnswerSubmission, error) {
	rows, err := s.query(
		`SELECT question_id, answer_json FROM responses WHERE attempt_id = ? ORDER BY position, question_id`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.UserAnswerSubmission
	for rows.Next() {
		var (
			sub model.UserAnswerSubmission
			raw string
		)
		if err := rows.Scan(&sub.QuestionID, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &sub.Answer); err != nil {
			return nil, fmt.Errorf("decode answer %s: %w", sub.QuestionID, err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// SaveScoredResults stores the marks of each scored answer and completes the
// attempt with its correct-answer count.
func (s *Store) SaveScoredResults(attemptID string, results []model.ScoredAnswer) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	correct := 0
	stmt := s.rebind(`UPDATE responses SET marks_awarded = ? WHERE attempt_id = ? AND question_id = ?`)
	for _, r := range results {
		if r.Result.IsCorrect {
			correct++
		}
		if _, err := tx.Exec(stmt, r.Result.MarksAwarded, attemptID, r.QuestionID); err != nil {
			return fmt.Errorf("update marks for %s: %w", r.QuestionID, err)
		}
	}

	res, err := tx.Exec(
		s.rebind(`UPDATE attempts SET status = ?, ended_at = ?, num_correct = ? WHERE id = ?`),
		string(model.AttemptCompleted), time.Now().UnixMilli(), correct, attemptID,
	)
	if err != nil {
		return fmt.Errorf("complete attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// SaveWritingResult stores the writing evaluation of an attempt, replacing an
// earlier one, and completes the attempt.
func (s *Store) SaveWritingResult(attemptID string, res *model.WritingResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal writing result: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(s.rebind(
		`INSERT INTO writing_results (attempt_id, overall_band, body, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(attempt_id) DO UPDATE SET overall_band = excluded.overall_band, body = excluded.body, created_at = excluded.created_at`),
		attemptID, res.OverallBandScore, string(body), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert writing result: %w", err)
	}

	feedback := strconv.FormatFloat(res.OverallBandScore, 'f', 1, 64)
	_, err = tx.Exec(
		s.rebind(`UPDATE attempts SET status = ?, ended_at = ?, feedback = ? WHERE id = ?`),
		string(model.AttemptCompleted), time.Now().UnixMilli(), feedback, attemptID,
	)
	if err != nil {
		return fmt.Errorf("complete attempt: %w", err)
	}
	return tx.Commit()
}

// GetWritingResult returns the stored writing evaluation of an attempt.
func (s *Store) GetWritingResult(attemptID string) (*model.WritingResult, error) {
	var body string
	err := s.queryRow(`SELECT body FROM writing_results WHERE attempt_id = ?`, attemptID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var res model.WritingResult
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, fmt.Errorf("decode writing result: %w", err)
	}
	return &res, nil
}
