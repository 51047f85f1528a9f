package counting

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler manages counting-session endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers counting routes. Force release lives under /admin so
// the upstream gateway can gate the group with its administrator permission.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sessions", h.acquire)
	r.Get("/sessions/active", h.active)
	r.Put("/sessions/{id}/counts", h.recordCount)
	r.Delete("/sessions/{id}", h.abandon)
	r.Route("/admin", func(r chi.Router) {
		r.Post("/sessions/{id}/force-release", h.forceRelease)
	})
}

type acquireRequest struct {
	AgreementID int64 `json:"agreement_id" validate:"required,gt=0"`
}

type countRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Qty       float64 `json:"qty" validate:"gte=0"`
}

func (h *Handler) acquire(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req acquireRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.AcquireOrResume(r.Context(), req.AgreementID, actorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionPayload(result))
}

func (h *Handler) active(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	result, err := h.service.ActiveForUser(r.Context(), actorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if result == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"session": nil})
		return
	}
	h.writeJSON(w, http.StatusOK, sessionPayload(*result))
}

func (h *Handler) recordCount(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	sessionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	var req countRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.RecordCount(r.Context(), sessionID, actorID, req.ProductID, req.Qty); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) abandon(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	sessionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	if err := h.service.Abandon(r.Context(), sessionID, actorID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) forceRelease(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	sessionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	if err := h.service.ForceRelease(r.Context(), sessionID, actorID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var locked *LockedError
	switch {
	case errors.As(err, &locked):
		h.writeJSON(w, http.StatusConflict, map[string]any{
			"error":     locked.Error(),
			"kind":      "locked",
			"holder_id": locked.HolderID,
		})
	case errors.Is(err, ErrUserBusy):
		h.writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "kind": "user_busy"})
	case errors.Is(err, ErrNotOwner):
		h.writeJSON(w, http.StatusForbidden, map[string]any{"error": err.Error(), "kind": "not_owner"})
	case errors.Is(err, ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error(), "kind": "not_found"})
	case errors.Is(err, ErrValidation):
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "kind": "validation"})
	default:
		h.logger.Error("counting handler", slog.Any("error", err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error", "kind": "internal"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sessionPayload(result SessionWithLines) map[string]any {
	lines := make([]map[string]any, 0, len(result.Lines))
	for _, l := range result.Lines {
		lines = append(lines, map[string]any{"product_id": l.ProductID, "qty": l.Qty})
	}
	return map[string]any{
		"session": map[string]any{
			"id":           result.Session.ID,
			"agreement_id": result.Session.AgreementID,
			"user_id":      result.Session.UserID,
			"created_at":   result.Session.CreatedAt,
		},
		"lines": lines,
	}
}

// actorFromRequest reads the acting user injected by the upstream auth layer.
func actorFromRequest(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actorID, err := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	if err != nil || actorID <= 0 {
		http.Error(w, "missing actor identity", http.StatusUnauthorized)
		return 0, false
	}
	return actorID, true
}
