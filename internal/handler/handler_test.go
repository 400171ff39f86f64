package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/bandscore/internal/i18n"
	"github.com/pavelanni/bandscore/internal/model"
	"github.com/pavelanni/bandscore/internal/store"
)

const adminPassword = "s3cret"

const readingTest = `{
	"testId": "reading-1",
	"testName": "Reading 1",
	"testTypeName": "Reading",
	"testParts": [{"sections": [{"questions": [
		{"questionId": "q1", "content": {"type": "multiple choice", "question": "Pick"}, "answer": {"correctAnswer": "B"}},
		{"questionId": "q2", "content": "The capital of France", "answer": {"correctAnswer": "Paris"}}
	]}]}]
}`

const writingTestJSON = `{
	"testId": "writing-1",
	"testName": "Writing 1",
	"testTypeName": "Writing",
	"testParts": [{"sections": [
		{"questions": [{"questionId": "w1", "content": "The bar chart shows energy use. Summarise the information."}]},
		{"questions": [{"questionId": "w2", "content": "Some say cities are too crowded. To what extent do you agree or disagree?"}]}
	]}]
}`

type fakeEvaluator struct {
	score string
}

func (f fakeEvaluator) Evaluate(_ context.Context, _ model.EvaluationRequest) (model.EvaluationResult, error) {
	return model.EvaluationResult{Score: f.score, EvaluationText: "Solid argument."}, nil
}

type failingSamples struct{}

func (failingSamples) GenerateSampleEssay(context.Context, string, string) (string, error) {
	return "", errors.New("/generate_essay returned 500")
}

type testEnv struct {
	store  *store.Store
	router http.Handler
}

func newEnv(t *testing.T, cfg model.ServiceConfig, samples SampleGenerator) *testEnv {
	t.Helper()
	require.NoError(t, appI18n.Init("en"))

	s, err := store.Open(context.Background(), store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, s.SetAdminPasswordHash(string(hash)))

	h, err := New(s, fakeEvaluator{score: "6.5"}, samples, cfg)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	h.Routes(r)
	return &testEnv{store: s, router: r}
}

type request struct {
	method string
	path   string
	body   string
	token  string
	admin  bool
	accept string
}

func (e *testEnv) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(req.method, req.path, strings.NewReader(req.body))
	if req.body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		r.Header.Set("Authorization", "Bearer "+req.token)
	}
	if req.admin {
		r.SetBasicAuth("admin", adminPassword)
	}
	if req.accept != "" {
		r.Header.Set("Accept", req.accept)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func (e *testEnv) importTest(t *testing.T, body string) {
	t.Helper()
	w := e.do(t, request{method: http.MethodPost, path: "/api/admin/tests", body: body, admin: true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (e *testEnv) startAttempt(t *testing.T, testID, token string) model.Attempt {
	t.Helper()
	w := e.do(t, request{
		method: http.MethodPost,
		path:   "/api/attempts",
		body:   `{"testId":"` + testID + `","userId":"learner-1"}`,
		token:  token,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var a model.Attempt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	return a
}

func signToken(t *testing.T, secret, sub, role string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Sub: sub, Role: role}).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestHealth(t *testing.T) {
	env := newEnv(t, model.ServiceConfig{}, nil)
	w := env.do(t, request{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAdminImportAuth(t *testing.T) {
	env := newEnv(t, model.ServiceConfig{}, nil)

	w := env.do(t, request{method: http.MethodPost, path: "/api/admin/tests", body: readingTest})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	r := httptest.NewRequest(http.MethodPost, "/api/admin/tests", strings.NewReader(readingTest))
	r.SetBasicAuth("admin", "wrong")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, request{method: http.MethodPost, path: "/api/admin/tests", body: `{"testName":"Empty"}`, admin: true})
	require.Equal(t, http.StatusBadRequest, w.Code)

	env.importTest(t, readingTest)

	w = env.do(t, request{method: http.MethodGet, path: "/api/tests"})
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `[{"testId":"reading-1","testName":"Reading 1","testTypeName":"Reading"}]`, w.Body.String())
}

func TestGetTestHidesAnswers(t *testing.T) {
	env := newEnv(t, model.ServiceConfig{}, nil)
	env.importTest(t, readingTest)

	w := env.do(t, request{method: http.MethodGet, path: "/api/tests/reading-1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "correctAnswer")

	stored, err := env.store.GetTest("reading-1")
	require.NoError(t, err)
	q, _ := stored.FindQuestion("q1")
	require.NotNil(t, q.Answer, "stored test must keep its answer key")

	w = env.do(t, request{method: http.MethodGet, path: "/api/tests/missing"})
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "Test not found.")
}

func TestObjectiveScoringFlow(t *testing.T) {
	env := newEnv(t, model.ServiceConfig{}, nil)
	env.importTest(t, readingTest)
	a := env.startAttempt(t, "reading-1", "")
	require.Equal(t, "learner-1", a.UserID)

	w := env.do(t, request{
		method: http.MethodPut,
		path:   "/api/attempts/" + a.ID + "/responses",
		body:   `{"answers":[{"questionId":"q1","answer":" b "},{"questionId":"q2","answer":"paris!"},{"questionId":"ghost","answer":"x"}]}`,
	})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = env.do(t, request{method: http.MethodPost, path: "/api/attempts/" + a.ID + "/score"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp scoreResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	require.Equal(t, []string{"q1", "q2", "ghost"},
		[]string{resp.Results[0].QuestionID, resp.Results[1].QuestionID, resp.Results[2].QuestionID})
	require.Equal(t, 3, resp.Statistics.TotalQuestions)
	require.Equal(t, 2, resp.Statistics.CorrectAnswers)
	require.Equal(t, 67, resp.Statistics.Percentage)

	attempt, err := env.store.GetAttempt(a.ID)
	require.NoError(t, err)
	require.Equal(t, model.AttemptCompleted, attempt.Status)
	require.Equal(t, 2, attempt.NumCorrect)

	w = env.do(t, request{method: http.MethodGet, path: "/api/attempts/" + a.ID + "/statistics"})
	require.Equal(t, http.StatusOK, w.Code)

	// Completed attempts no longer accept answers.
	w = env.do(t, request{
		method: http.MethodPut,
		path:   "/api/attempts/" + a.ID + "/responses",
		body:   `{"answers":[]}`,
	})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestBearerTokenOwnership(t *testing.T) {
	const secret = "test-secret"
	env := newEnv(t, model.ServiceConfig{JWTSecret: secret}, nil)
	env.importTest(t, readingTest)

	w := env.do(t, request{method: http.MethodGet, path: "/api/tests"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	forged := signToken(t, "other-secret", "alice", "student")
	w = env.do(t, request{method: http.MethodGet, path: "/api/tests", token: forged})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	alice := signToken(t, secret, "alice", "student")
	a := env.startAttempt(t, "reading-1", alice)
	require.Equal(t, "alice", a.UserID, "subject overrides the body user")

	bob := signToken(t, secret, "bob", "student")
	w = env.do(t, request{method: http.MethodGet, path: "/api/attempts/" + a.ID + "/statistics", token: bob})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "Unauthorized access to test result")

	w = env.do(t, request{method: http.MethodPost, path: "/api/attempts/" + a.ID + "/score", token: bob})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, request{method: http.MethodPost, path: "/api/attempts/" + a.ID + "/score", token: alice})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, request{method: http.MethodGet, path: "/api/attempts/" + a.ID + "/statistics", token: alice})
	require.Equal(t, http.StatusOK, w.Code)

	staff := signToken(t, secret, "t1", "admin")
	w = env.do(t, request{method: http.MethodGet, path: "/api/attempts/" + a.ID + "/statistics", token: staff})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestStatisticsHiddenWhileInProgress(t *testing.T) {
	env := newEnv(t, model.ServiceConfig{}, nil)
	env.importTest(t, readingTest)
	a := env.startAttempt(t, "reading-1", "")

	w := env.do(t, request{
		method: http.MethodPut,
		path:   "/api/attempts/" + a.ID + "/responses",
		body:   `{"answers":[{"questionId":"q2","answer":"london"}]}`,
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, request{method: http.MethodGet, path: "/api/attempts/" + a.ID + "/statistics"})
	require.Equal(t, http.StatusConflict, w.Code)
	require.NotContains(t, strings.ToLower(w.Body.String()), "paris")
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "Results are available once the attempt is scored.", resp.Error)
	require.Equal(t, "/api/attempts/"+a.ID+"/score", resp.Hint)

	w = env.do(t, request{method: http.MethodPost, path: "/api/attempts/" + a.ID + "/score"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, request{method: http.MethodGet, path: "/api/attempts/" + a.ID + "/statistics"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"correctAnswer":"Paris"`)

	w = env.do(t, request{
		method: http.MethodPut,
		path:   "/api/attempts/" + a.ID + "/responses",
		body:   `{"answers":[{"questionId":"q2","answer":"Paris"}]}`,
	})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestWritingEvaluationMalformedScore(t *testing.T) {
	env := newEnv(t, model.ServiceConfig{}, nil)
	env.importTest(t, writingTestJSON)
	a := env.startAttempt(t, "writing-1", "")
	submitEssays(t, env, a.ID)

	h, err := New(env.store, fakeEvaluator{score: "NaN"}, nil, model.ServiceConfig{})
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	h.Routes(r)
	env.router = r

	w := env.do(t, request{method: http.MethodPost, path: "/api/attempts/" + a.ID + "/writing-evaluation"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res model.WritingResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, "5.0", res.Tasks[1].Evaluation.Score)
	require.Equal(t, 5.0, res.OverallBandScore)
}

func submitEssays(t *testing.T, env *testEnv, attemptID string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"answers": []map[string]string{
		{"questionId": "w1", "answer": strings.Repeat("energy ", 160)},
		{"questionId": "w2", "answer": strings.Repeat("crowded ", 270)},
	}})
	require.NoError(t, err)
	w := env.do(t, request{method: http.MethodPut, path: "/api/attempts/" + attemptID + "/responses", body: string(body)})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
}

func TestWritingEvaluationJSON(t *testing.T) {
	env := newEnv(t, model.ServiceConfig{}, nil)
	env.importTest(t, writingTestJSON)
	a := env.startAttempt(t, "writing-1", "")
	submitEssays(t, env, a.ID)

	w := env.do(t, request{method: http.MethodPost, path: "/api/attempts/" + a.ID + "/writing-evaluation"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res model.WritingResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, a.ID, res.AttemptID)
	require.Len(t, res.Tasks, 2)
	require.Nil(t, res.Tasks[0].Evaluation)
	require.Equal(t, "6.5", res.Tasks[1].Evaluation.Score)
	require.Equal(t, 6.5, res.OverallBandScore)
	require.Equal(t, 430, res.TotalWords)
	require.Contains(t, w.Body.String(), `"summary":"1 task evaluated."`)

	stored, err := env.store.GetWritingResult(a.ID)
	require.NoError(t, err)
	require.Equal(t, 6.5, stored.OverallBandScore)
}

func TestWritingEvaluationStream(t *testing.T) {
	env := newEnv(t, model.ServiceConfig{}, nil)
	env.importTest(t, writingTestJSON)
	a := env.startAttempt(t, "writing-1", "")
	submitEssays(t, env, a.ID)

	w := env.do(t, request{
		method: http.MethodPost,
		path:   "/api/attempts/" + a.ID + "/writing-evaluation",
		accept: "text/event-stream",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	require.Equal(t, 4, strings.Count(body, "event: progress\n"), body)
	require.Contains(t, body, `"currentTask":"Task 2 - 270 words"`)
	require.Contains(t, body, "event: result\n")
	require.True(t, strings.HasSuffix(body, "\n\n"))
}

func TestWritingEvaluationRejectsObjectiveTest(t *testing.T) {
	env := newEnv(t, model.ServiceConfig{}, nil)
	env.importTest(t, readingTest)
	a := env.startAttempt(t, "reading-1", "")

	w := env.do(t, request{method: http.MethodPost, path: "/api/attempts/" + a.ID + "/writing-evaluation"})
	require.Equal(t, http.StatusConflict, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "/api/attempts/"+a.ID+"/score", resp.Hint)
}

func TestTipsAndBand(t *testing.T) {
	env := newEnv(t, model.ServiceConfig{}, nil)

	w := env.do(t, request{method: http.MethodGet, path: "/api/writing/tips?words=120&task=2"})
	require.Equal(t, http.StatusOK, w.Code)
	var tips []tipResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tips))
	require.Len(t, tips, 2)
	require.Equal(t, "Your essay is too short. You need at least 250 words (currently 120).", tips[0].Message)

	w = env.do(t, request{method: http.MethodGet, path: "/api/writing/tips?words=abc"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, request{method: http.MethodGet, path: "/api/writing/band?score=7.5"})
	require.Equal(t, http.StatusOK, w.Code)
	var band bandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &band))
	require.Equal(t, "BandGood", string(band.Tier))
	require.Equal(t, "Good - operational command with occasional inaccuracies", band.Description)
}

func TestSampleEssay(t *testing.T) {
	env := newEnv(t, model.ServiceConfig{}, nil)
	w := env.do(t, request{method: http.MethodPost, path: "/api/writing/sample", body: `{"question":"Q?","score":"7.0"}`})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	env = newEnv(t, model.ServiceConfig{}, failingSamples{})
	w = env.do(t, request{method: http.MethodPost, path: "/api/writing/sample", body: `{"question":"Q?","score":"7.0"}`})
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"essay":"Error: Unable to generate sample essay. /generate_essay returned 500"}`, w.Body.String())

	w = env.do(t, request{method: http.MethodPost, path: "/api/writing/sample", body: `{}`})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExport(t *testing.T) {
	env := newEnv(t, model.ServiceConfig{}, nil)
	env.importTest(t, readingTest)
	env.startAttempt(t, "reading-1", "")

	w := env.do(t, request{method: http.MethodGet, path: "/api/admin/tests/reading-1/export", admin: true})
	require.Equal(t, http.StatusOK, w.Code)

	var export model.TestExport
	require.NoError(t, json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&export))
	require.Equal(t, "Reading 1", export.TestName)
	require.Len(t, export.Results, 1)
}
