package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/pavelanni/bandscore/internal/evalclient"
	appI18n "github.com/pavelanni/bandscore/internal/i18n"
	"github.com/pavelanni/bandscore/internal/model"
	"github.com/pavelanni/bandscore/internal/writing"
)

func isWritingTest(t *model.Test) bool {
	return strings.EqualFold(strings.TrimSpace(t.TypeName), "writing")
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func (h *Handler) handleWritingEvaluation(w http.ResponseWriter, r *http.Request) {
	a := h.loadAttempt(w, r)
	if a == nil {
		return
	}
	test, err := h.store.GetTest(a.TestID)
	if err != nil {
		writeStoreError(w, r, err, "ErrTestNotFound")
		return
	}
	if !isWritingTest(test) {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: appI18n.T(r.Context(), "ErrNotWritingTest"),
			Hint:  "/api/attempts/" + a.ID + "/score",
		})
		return
	}
	if h.evaluator == nil {
		writeError(w, r, http.StatusServiceUnavailable, "ErrEvaluatorUnavailable")
		return
	}
	responses, err := h.store.GetResponses(a.ID)
	if err != nil {
		writeStoreError(w, r, err, "ErrAttemptNotFound")
		return
	}

	orch := writing.New(h.evaluator, writing.WithDelay(h.config.EvalDelay))

	var stream *eventStream
	if wantsEventStream(r) {
		stream = newEventStream(w)
		if stream == nil {
			writeError(w, r, http.StatusInternalServerError, "ErrInternal")
			return
		}
		orch.OnProgress(func(e writing.ProgressEvent) {
			stream.send("progress", e)
		})
	}

	res, err := orch.Run(r.Context(), test, responses)
	if err != nil {
		slog.Warn("writing evaluation aborted", "attempt_id", a.ID, "error", err)
		if stream != nil {
			stream.send("error", errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	res.AttemptID = a.ID

	if err := h.store.SaveWritingResult(a.ID, res); err != nil {
		slog.Error("failed to save writing result", "attempt_id", a.ID, "error", err)
		if stream != nil {
			stream.send("error", errorResponse{Error: appI18n.T(r.Context(), "ErrInternal")})
			return
		}
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	slog.Info("writing evaluation stored",
		"attempt_id", a.ID,
		"band", res.OverallBandScore,
		"evaluated", res.EvaluatedTasks,
		"words", res.TotalWords,
	)

	out := writingResponse{
		WritingResult: res,
		Summary:       appI18n.Tp(r.Context(), "TasksEvaluated", res.EvaluatedTasks),
	}
	if stream != nil {
		stream.send("result", out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type writingResponse struct {
	*model.WritingResult
	Summary string `json:"summary"`
}

// eventStream writes server-sent events.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) *eventStream {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &eventStream{w: w, flusher: flusher}
}

func (s *eventStream) send(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode event", "event", event, "error", err)
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	s.flusher.Flush()
}

type tipResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (h *Handler) handleTips(w http.ResponseWriter, r *http.Request) {
	words, err := strconv.Atoi(r.URL.Query().Get("words"))
	if err != nil || words < 0 {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	isTask2 := r.URL.Query().Get("task") != "1"

	var out []tipResponse
	for _, tip := range writing.Tips(words, isTask2) {
		out = append(out, tipResponse{ID: tip.ID, Message: appI18n.Td(r.Context(), tip.ID, tip.Data)})
	}
	writeJSON(w, http.StatusOK, out)
}

type bandResponse struct {
	Score       string           `json:"score"`
	Tier        writing.BandTier `json:"tier"`
	Description string           `json:"description"`
}

func (h *Handler) handleBand(w http.ResponseWriter, r *http.Request) {
	score := r.URL.Query().Get("score")
	tier := writing.TierFor(score)
	writeJSON(w, http.StatusOK, bandResponse{
		Score:       score,
		Tier:        tier,
		Description: appI18n.T(r.Context(), string(tier)),
	})
}

type sampleRequest struct {
	Question string `json:"question"`
	Score    string `json:"score"`
}

func (h *Handler) handleSample(w http.ResponseWriter, r *http.Request) {
	var req sampleRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Question) == "" {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	if h.samples == nil {
		writeError(w, r, http.StatusServiceUnavailable, "ErrEvaluatorUnavailable")
		return
	}
	if req.Score == "" {
		req.Score = "7.0"
	}

	essay, err := h.samples.GenerateSampleEssay(r.Context(), req.Question, req.Score)
	if err != nil {
		slog.Warn("sample essay generation failed", "error", err)
		essay = evalclient.SampleFallback(err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"essay": essay})
}
