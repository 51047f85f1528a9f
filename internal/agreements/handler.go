package agreements

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Handler exposes read-only agreement endpoints.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers agreement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/rules", h.rules)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	activeOnly := r.URL.Query().Get("active") == "true"
	items, err := h.repo.List(r.Context(), activeOnly, limit, offset)
	if err != nil {
		h.logger.Error("list agreements", slog.Any("error", err))
		http.Error(w, "failed to load agreements", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agreements": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid agreement id", http.StatusBadRequest)
		return
	}
	agreement, err := h.repo.GetAgreement(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "agreement not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get agreement", slog.Any("error", err))
		http.Error(w, "failed to load agreement", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, agreement)
}

func (h *Handler) rules(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid agreement id", http.StatusBadRequest)
		return
	}
	rules, err := h.repo.GetProductRules(r.Context(), id)
	if err != nil {
		h.logger.Error("get product rules", slog.Any("error", err))
		http.Error(w, "failed to load product rules", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
