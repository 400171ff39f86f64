package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/bandscore/internal/i18n"
	"github.com/pavelanni/bandscore/internal/model"
	"github.com/pavelanni/bandscore/internal/scoring"
	"github.com/pavelanni/bandscore/internal/store"
)

func (h *Handler) handleListTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.store.ListTests()
	if err != nil {
		writeStoreError(w, r, err, "ErrTestNotFound")
		return
	}
	if tests == nil {
		tests = []store.TestSummary{}
	}
	writeJSON(w, http.StatusOK, tests)
}

func (h *Handler) handleGetTest(w http.ResponseWriter, r *http.Request) {
	test, err := h.store.GetTest(chi.URLParam(r, "testID"))
	if err != nil {
		writeStoreError(w, r, err, "ErrTestNotFound")
		return
	}
	writeJSON(w, http.StatusOK, withoutAnswers(test))
}

// withoutAnswers copies a test with every answer key removed.
func withoutAnswers(t *model.Test) *model.Test {
	out := *t
	out.Parts = make([]model.TestPart, len(t.Parts))
	for pi, p := range t.Parts {
		p.Sections = append([]model.Section(nil), p.Sections...)
		for si := range p.Sections {
			qs := append([]model.Question(nil), p.Sections[si].Questions...)
			for qi := range qs {
				qs[qi].Answer = nil
			}
			p.Sections[si].Questions = qs
		}
		out.Parts[pi] = p
	}
	return &out
}

type createAttemptRequest struct {
	TestID string `json:"testId"`
	UserID string `json:"userId"`
}

func (h *Handler) handleCreateAttempt(w http.ResponseWriter, r *http.Request) {
	var req createAttemptRequest
	if err := decodeJSON(w, r, &req); err != nil || req.TestID == "" {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	if id := model.IdentityFromContext(r.Context()); id != nil {
		req.UserID = id.Subject
	}
	if req.UserID == "" {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}

	if _, err := h.store.GetTest(req.TestID); err != nil {
		writeStoreError(w, r, err, "ErrTestNotFound")
		return
	}
	a, err := h.store.CreateAttempt(req.UserID, req.TestID)
	if err != nil {
		writeStoreError(w, r, err, "ErrAttemptNotFound")
		return
	}
	slog.Info("attempt started", "attempt_id", a.ID, "test_id", a.TestID, "user_id", a.UserID)
	writeJSON(w, http.StatusCreated, a)
}

// loadAttempt fetches the attempt named in the URL and checks ownership.
// It writes the error response itself and returns nil on failure.
func (h *Handler) loadAttempt(w http.ResponseWriter, r *http.Request) *model.Attempt {
	a, err := h.store.GetAttempt(chi.URLParam(r, "attemptID"))
	if err != nil {
		writeStoreError(w, r, err, "ErrAttemptNotFound")
		return nil
	}
	if !canAccess(r, a) {
		slog.Warn("attempt access denied", "attempt_id", a.ID)
		writeError(w, r, http.StatusForbidden, "ErrUnauthorizedResult")
		return nil
	}
	return a
}

type saveResponsesRequest struct {
	Answers []model.UserAnswerSubmission `json:"answers"`
}

func (h *Handler) handleSaveResponses(w http.ResponseWriter, r *http.Request) {
	a := h.loadAttempt(w, r)
	if a == nil {
		return
	}
	if a.Status != model.AttemptInProgress {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "attempt already " + string(a.Status)})
		return
	}

	var req saveResponsesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	if err := h.store.SaveResponses(a.ID, req.Answers); err != nil {
		writeStoreError(w, r, err, "ErrAttemptNotFound")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type scoreResponse struct {
	AttemptID  string               `json:"userTestId"`
	Results    []model.ScoredAnswer `json:"results"`
	Statistics model.Statistics     `json:"statistics"`
	Sections   []model.SectionScore `json:"sections"`
}

// scoreAttempt scores the stored answers of an attempt against its test.
func (h *Handler) scoreAttempt(w http.ResponseWriter, r *http.Request, a *model.Attempt) (*scoreResponse, bool) {
	test, err := h.store.GetTest(a.TestID)
	if err != nil {
		writeStoreError(w, r, err, "ErrTestNotFound")
		return nil, false
	}
	subs, err := h.store.GetSubmissions(a.ID)
	if err != nil {
		writeStoreError(w, r, err, "ErrAttemptNotFound")
		return nil, false
	}
	results := scoring.ScoreAllAnswers(subs, test)
	if results == nil {
		results = []model.ScoredAnswer{}
	}
	return &scoreResponse{
		AttemptID:  a.ID,
		Results:    results,
		Statistics: scoring.GenerateStatistics(results),
		Sections:   scoring.SectionScores(test, results),
	}, true
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	a := h.loadAttempt(w, r)
	if a == nil {
		return
	}
	resp, ok := h.scoreAttempt(w, r, a)
	if !ok {
		return
	}
	if err := h.store.SaveScoredResults(a.ID, resp.Results); err != nil {
		writeStoreError(w, r, err, "ErrAttemptNotFound")
		return
	}
	slog.Info("attempt scored",
		"attempt_id", a.ID,
		"correct", resp.Statistics.CorrectAnswers,
		"total", resp.Statistics.TotalQuestions,
		"percentage", resp.Statistics.Percentage,
	)
	writeJSON(w, http.StatusOK, resp)
}

// handleStatistics recomputes the results of a scored attempt. Results carry
// the answer keys, so an attempt still in progress gets none.
func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	a := h.loadAttempt(w, r)
	if a == nil {
		return
	}
	if a.Status == model.AttemptInProgress {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: appI18n.T(r.Context(), "ErrAttemptInProgress"),
			Hint:  "/api/attempts/" + a.ID + "/score",
		})
		return
	}
	resp, ok := h.scoreAttempt(w, r, a)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
