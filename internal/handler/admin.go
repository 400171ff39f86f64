package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/bandscore/internal/model"
)

func (h *Handler) handleImportTest(w http.ResponseWriter, r *http.Request) {
	var test model.Test
	if err := decodeJSON(w, r, &test); err != nil {
		slog.Warn("invalid test payload", "error", err)
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	if test.Name == "" || test.QuestionCount() == 0 {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	if err := h.store.PutTest(&test); err != nil {
		writeStoreError(w, r, err, "ErrTestNotFound")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"testId": test.ID})
}

func (h *Handler) handleExportTest(w http.ResponseWriter, r *http.Request) {
	export, err := h.store.ExportTest(chi.URLParam(r, "testID"))
	if err != nil {
		writeStoreError(w, r, err, "ErrTestNotFound")
		return
	}
	writeJSON(w, http.StatusOK, export)
}
