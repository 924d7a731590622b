package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/funds-movement/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReconciliationHandler serves the operator view of movements that need a
// human decision.
type ReconciliationHandler struct {
	svc *service.ReconciliationService
}

func NewReconciliationHandler(svc *service.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{svc: svc}
}

type resolveRequest struct {
	Decision string `json:"decision" validate:"required,oneof=mark_completed mark_failed acknowledge"`
	Reason   string `json:"reason" validate:"required,max=500"`
}

// Queue handles GET /v1/admin/reconciliation (admin only).
func (h *ReconciliationHandler) Queue(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := pageParams(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-pagination", err.Error())
		return
	}
	result, err := h.svc.Queue(r.Context(), page, pageSize)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// Inspect handles GET /v1/admin/reconciliation/{id} (admin only).
func (h *ReconciliationHandler) Inspect(w http.ResponseWriter, r *http.Request) {
	movementID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-movement-id", "Invalid movement ID")
		return
	}
	detail, err := h.svc.Inspect(r.Context(), movementID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, detail)
}

// Resolve handles POST /v1/admin/reconciliation/{id}/resolve (admin only).
func (h *ReconciliationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	movementID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-movement-id", "Invalid movement ID")
		return
	}

	var req resolveRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)

	m, err := h.svc.Resolve(r.Context(), actorID, movementID, req.Decision, req.Reason)
	if err != nil {
		zap.L().Warn("resolve movement failed", zap.Error(err), zap.String("movement_id", movementID.String()))
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, m)
}
