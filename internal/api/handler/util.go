package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/funds-movement/internal/api/middleware"
	"github.com/ayo6706/funds-movement/internal/api/problem"
	"github.com/ayo6706/funds-movement/internal/gateway"
	"github.com/ayo6706/funds-movement/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	problem.Write(w, r, status, problemTypeURL(problemType), http.StatusText(status), message)
}

func respondErrorWithData(w http.ResponseWriter, r *http.Request, status int, problemType, message string, data any) {
	problem.WriteWithData(w, r, status, problemTypeURL(problemType), http.StatusText(status), message, data)
}

func problemTypeURL(problemType string) string {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		return problem.Type(problemType)
	}
	return problemType
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()) == "admin", nil
}

func requestCaller(r *http.Request) (service.Caller, error) {
	userID, _, err := requestActor(r)
	if err != nil {
		return service.Caller{}, err
	}
	return service.Caller{
		UserID:     userID,
		Credential: gateway.Credential(middleware.CredentialFromContext(r.Context())),
	}, nil
}

func pageParams(r *http.Request) (int, int, error) {
	page, pageSize := 1, 0
	if v := strings.TrimSpace(r.URL.Query().Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return 0, 0, errors.New("page must be a positive integer")
		}
		page = parsed
	}
	if v := strings.TrimSpace(r.URL.Query().Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return 0, 0, errors.New("page_size must be a positive integer")
		}
		pageSize = parsed
	}
	return page, pageSize, nil
}

// respondServiceError maps engine errors onto problem responses.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var execErr *service.ExecutionError
	var settleErr *service.SettlementError

	switch {
	case errors.As(err, &execErr):
		zap.L().Warn("movement execution failed", zap.Error(err))
		respondErrorWithData(w, r, http.StatusBadGateway, "movement/execution-failed", execErr.Summary(), execErr.Movement)
	case errors.As(err, &settleErr):
		zap.L().Error("movement outcome not persisted", zap.Error(err))
		respondErrorWithData(w, r, http.StatusServiceUnavailable, "movement/ledger-unavailable", "movement outcome could not be recorded", settleErr.Movement)
	case errors.Is(err, service.ErrInvalidAmount):
		RespondError(w, r, http.StatusBadRequest, "movement/invalid-amount", err.Error())
	case errors.Is(err, service.ErrInvalidNote):
		RespondError(w, r, http.StatusBadRequest, "movement/invalid-note", err.Error())
	case errors.Is(err, service.ErrSameAccountTransfer):
		RespondError(w, r, http.StatusBadRequest, "movement/same-account", err.Error())
	case errors.Is(err, service.ErrAccountAccessDenied):
		RespondError(w, r, http.StatusForbidden, "movement/account-access-denied", "account not found or not owned by caller")
	case errors.Is(err, service.ErrInsufficientFunds):
		RespondError(w, r, http.StatusUnprocessableEntity, "movement/insufficient-funds", "insufficient funds")
	case errors.Is(err, service.ErrDestinationUnavailable):
		RespondError(w, r, http.StatusUnprocessableEntity, "movement/destination-unavailable", "destination account unavailable")
	case errors.Is(err, service.ErrBalanceUnavailable):
		RespondError(w, r, http.StatusUnprocessableEntity, "movement/balance-unavailable", "account balance unavailable")
	case errors.Is(err, service.ErrMovementNotFound):
		RespondError(w, r, http.StatusNotFound, "movement/not-found", "movement not found")
	case errors.Is(err, service.ErrInvalidResolution), errors.Is(err, service.ErrInvalidTransition):
		RespondError(w, r, http.StatusConflict, "reconciliation/invalid-transition", "movement is not awaiting this decision")
	case errors.Is(err, service.ErrLedgerUnavailable):
		zap.L().Error("ledger unavailable", zap.Error(err))
		RespondError(w, r, http.StatusServiceUnavailable, "movement/ledger-unavailable", "movement ledger unavailable")
	default:
		zap.L().Error("unhandled movement error", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
	}
}
