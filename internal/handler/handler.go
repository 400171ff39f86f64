package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/bandscore/internal/i18n"
	"github.com/pavelanni/bandscore/internal/model"
	"github.com/pavelanni/bandscore/internal/store"
	"github.com/pavelanni/bandscore/internal/writing"
)

// SampleGenerator writes model essays for a question at a target band.
type SampleGenerator interface {
	GenerateSampleEssay(ctx context.Context, question, targetBand string) (string, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	evaluator writing.Evaluator
	samples   SampleGenerator
	config    model.ServiceConfig
}

// New creates a new Handler. The evaluator and sample generator may be nil,
// in which case the endpoints that need them answer 503.
func New(s *store.Store, ev writing.Evaluator, samples SampleGenerator, cfg model.ServiceConfig) (*Handler, error) {
	if s == nil {
		return nil, errors.New("store is required")
	}
	return &Handler{store: s, evaluator: ev, samples: samples, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Group(func(admin chi.Router) {
			admin.Use(h.requireAdmin)
			admin.Post("/admin/tests", h.handleImportTest)
			admin.Get("/admin/tests/{testID}/export", h.handleExportTest)
		})

		api.Group(func(learner chi.Router) {
			learner.Use(h.identify)
			learner.Get("/tests", h.handleListTests)
			learner.Get("/tests/{testID}", h.handleGetTest)
			learner.Post("/attempts", h.handleCreateAttempt)
			learner.Put("/attempts/{attemptID}/responses", h.handleSaveResponses)
			learner.Post("/attempts/{attemptID}/score", h.handleScore)
			learner.Get("/attempts/{attemptID}/statistics", h.handleStatistics)
			learner.Post("/attempts/{attemptID}/writing-evaluation", h.handleWritingEvaluation)
			learner.Get("/writing/tips", h.handleTips)
			learner.Get("/writing/band", h.handleBand)
			learner.Post("/writing/sample", h.handleSample)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError answers with a localized error message.
func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, errorResponse{Error: appI18n.T(r.Context(), msgID)})
}

// writeStoreError maps store errors to HTTP responses.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFoundID string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, notFoundID)
		return
	}
	slog.Error("store error", "path", r.URL.Path, "error", err)
	writeError(w, r, http.StatusInternalServerError, "ErrInternal")
}

const maxBodyBytes = 4 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}
