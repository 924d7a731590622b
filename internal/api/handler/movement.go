package handler

import (
	"net/http"

	"github.com/ayo6706/funds-movement/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementHandler exposes deposits, withdrawals, transfers and the caller's
// movement history.
type MovementHandler struct {
	svc *service.MovementService
}

func NewMovementHandler(svc *service.MovementService) *MovementHandler {
	return &MovementHandler{svc: svc}
}

type depositRequest struct {
	AccountID string           `json:"account_id" validate:"required,uuid"`
	Amount    *decimal.Decimal `json:"amount" validate:"required"`
	Note      string           `json:"note" validate:"max=500"`
}

type withdrawRequest struct {
	AccountID string           `json:"account_id" validate:"required,uuid"`
	Amount    *decimal.Decimal `json:"amount" validate:"required"`
	Note      string           `json:"note" validate:"max=500"`
}

// Same-account transfers pass validation and are rejected by the engine, so
// the error matches what every other caller of Transfer sees.
type transferRequest struct {
	FromAccountID string           `json:"from_account_id" validate:"required,uuid"`
	ToAccountID   string           `json:"to_account_id" validate:"required,uuid"`
	Amount        *decimal.Decimal `json:"amount" validate:"required"`
	Note          string           `json:"note" validate:"max=500"`
}

// Deposit handles POST /v1/transactions/deposit.
func (h *MovementHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, err := requestCaller(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req depositRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	m, err := h.svc.Deposit(r.Context(), caller, service.DepositRequest{
		AccountID: uuid.MustParse(req.AccountID),
		Amount:    *req.Amount,
		Note:      req.Note,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, m)
}

// Withdraw handles POST /v1/transactions/withdraw.
func (h *MovementHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := requestCaller(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req withdrawRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	m, err := h.svc.Withdraw(r.Context(), caller, service.WithdrawRequest{
		AccountID: uuid.MustParse(req.AccountID),
		Amount:    *req.Amount,
		Note:      req.Note,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, m)
}

// Transfer handles POST /v1/transactions/transfer.
func (h *MovementHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, err := requestCaller(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req transferRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	m, err := h.svc.Transfer(r.Context(), caller, service.TransferRequest{
		FromAccountID: uuid.MustParse(req.FromAccountID),
		ToAccountID:   uuid.MustParse(req.ToAccountID),
		Amount:        *req.Amount,
		Note:          req.Note,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, m)
}

// List handles GET /v1/transactions.
func (h *MovementHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	page, pageSize, err := pageParams(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-pagination", err.Error())
		return
	}

	result, err := h.svc.ListMovements(r.Context(), userID, page, pageSize)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// Get handles GET /v1/transactions/{id}.
func (h *MovementHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	movementID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-movement-id", "Invalid movement ID")
		return
	}

	m, err := h.svc.GetMovement(r.Context(), userID, movementID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, m)
}
