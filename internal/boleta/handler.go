package boleta

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler manages restock-document endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/finalize", h.finalize)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.save)
	r.Get("/{id}/history", h.history)
	r.Post("/{id}/transition", h.transition)
	r.Patch("/{id}/lines/{lineID}", h.editLine)
	r.Post("/{id}/lines/{lineID}/reset", h.resetLine)
}

type finalizeRequest struct {
	SessionID int64 `json:"session_id" validate:"required,gt=0"`
}

type transitionRequest struct {
	Status        string `json:"status" validate:"required"`
	Notes         string `json:"notes"`
	ERPMovementID string `json:"erp_movement_id"`
	ERPInvoiceNo  string `json:"erp_invoice_no"`
}

type editLineRequest struct {
	ReplenishQty float64 `json:"replenish_qty" validate:"gte=0"`
}

type saveLineRequest struct {
	LineID         int64    `json:"line_id" validate:"required,gt=0"`
	ReplenishQty   *float64 `json:"replenish_qty"`
	MaxStock       *float64 `json:"max_stock"`
	Price          *float64 `json:"price"`
	ManuallyEdited *bool    `json:"manually_edited"`
}

type saveRequest struct {
	Notes        string            `json:"notes"`
	DeliveryDate *time.Time        `json:"delivery_date"`
	Lines        []saveLineRequest `json:"lines" validate:"dive"`
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req finalizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, lines, err := h.service.FinalizeSession(r.Context(), req.SessionID, actorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	payload := documentPayload(doc, lines)
	if len(lines) == 0 {
		payload["warning"] = "document has no lines; nothing counted matched the agreement"
	}
	h.writeJSON(w, http.StatusCreated, payload)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	agreementID, _ := strconv.ParseInt(r.URL.Query().Get("agreement_id"), 10, 64)
	filters := ListFilters{
		AgreementID: agreementID,
		Status:      Status(r.URL.Query().Get("status")),
	}
	if filters.Status != "" && !filters.Status.IsValid() {
		http.Error(w, "unknown status filter", http.StatusBadRequest)
		return
	}
	docs, total, err := h.service.List(r.Context(), filters, limit, offset)
	if err != nil {
		h.logger.Error("list boletas", slog.Any("error", err))
		http.Error(w, "failed to load documents", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "total": total})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	doc, lines, err := h.service.GetRecomputed(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, documentPayload(doc, lines))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.service.Transition(r.Context(), TransitionInput{
		DocumentID:    id,
		Target:        Status(req.Status),
		ActorID:       actorID,
		Notes:         req.Notes,
		ERPMovementID: req.ERPMovementID,
		ERPInvoiceNo:  req.ERPInvoiceNo,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, documentPayload(doc, nil))
}

func (h *Handler) editLine(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFromRequest(w, r); !ok {
		return
	}
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid line id", http.StatusBadRequest)
		return
	}
	var req editLineRequest
	if !h.decode(w, r, &req) {
		return
	}
	line, err := h.service.EditLine(r.Context(), id, lineID, req.ReplenishQty)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, line)
}

func (h *Handler) resetLine(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFromRequest(w, r); !ok {
		return
	}
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid line id", http.StatusBadRequest)
		return
	}
	line, err := h.service.ResetLine(r.Context(), id, lineID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, line)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	var req saveRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := SaveInput{
		DocumentID:   id,
		ActorID:      actorID,
		Notes:        req.Notes,
		DeliveryDate: req.DeliveryDate,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, LineEdit{
			LineID:         l.LineID,
			ReplenishQty:   l.ReplenishQty,
			MaxStock:       l.MaxStock,
			Price:          l.Price,
			ManuallyEdited: l.ManuallyEdited,
		})
	}
	if err := h.service.SaveDocument(r.Context(), input); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
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
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		payload := map[string]any{"error": verr.Error(), "kind": "validation"}
		if verr.Field != "" {
			payload["field"] = verr.Field
		}
		h.writeJSON(w, http.StatusUnprocessableEntity, payload)
	case errors.Is(err, ErrValidation):
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "kind": "validation"})
	case errors.Is(err, ErrNotOwner):
		h.writeJSON(w, http.StatusForbidden, map[string]any{"error": err.Error(), "kind": "not_owner"})
	case errors.Is(err, ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error(), "kind": "not_found"})
	default:
		h.logger.Error("boleta handler", slog.Any("error", err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error", "kind": "internal"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func documentPayload(doc Document, lines []Line) map[string]any {
	payload := map[string]any{"document": doc}
	if lines != nil {
		payload["lines"] = lines
	}
	return payload
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
