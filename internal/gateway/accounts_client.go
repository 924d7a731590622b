package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/funds-movement/internal/observability"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxReplyBytes = 1 << 20

// ClientConfig configures the Accounts service HTTP client.
type ClientConfig struct {
	BaseURL            string
	Timeout            time.Duration
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

// AccountsClient talks to the Accounts service over HTTP. Calls are bounded by
// a per-call timeout and guarded by a circuit breaker; neither retries.
type AccountsClient struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

type reply struct {
	status int
	body   []byte
}

func NewAccountsClient(cfg ClientConfig, httpClient *http.Client, logger *zap.Logger) *AccountsClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.L()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 10 * time.Second
	}

	c := &AccountsClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    httpClient,
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "accounts-service",
		MaxRequests: 3,
		Interval:    2 * time.Minute,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= cfg.BreakerFailures ||
				(counts.Requests >= 10 && failureRatio >= 0.5)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("accounts circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			observability.IncrementBreakerStateChange(to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return c
}

// ValidateOwnership confirms only on 200. When the reply carries an owner id it
// must match userID.
func (c *AccountsClient) ValidateOwnership(ctx context.Context, cred Credential, accountID, userID uuid.UUID) Result {
	start := time.Now()
	rep, err := c.do(ctx, cred, http.MethodGet, "/api/accounts/"+accountID.String(), nil)
	result := ownershipResult(rep, err, userID)
	c.observe(OpValidateOwnership, accountID, result, start)
	return result
}

// ReadBalance returns the current balance reported by the Accounts service.
func (c *AccountsClient) ReadBalance(ctx context.Context, cred Credential, accountID uuid.UUID) (decimal.Decimal, Result) {
	start := time.Now()
	rep, err := c.do(ctx, cred, http.MethodGet, "/api/accounts/"+accountID.String()+"/balance", nil)
	balance, result := balanceResult(rep, err)
	c.observe(OpReadBalance, accountID, result, start)
	return balance, result
}

// WriteBalance sets the absolute balance of an account. A timeout or transport
// fault is indeterminate and never reported as success.
func (c *AccountsClient) WriteBalance(ctx context.Context, cred Credential, accountID uuid.UUID, newBalance decimal.Decimal) Result {
	start := time.Now()
	payload := map[string]json.Number{"balance": json.Number(newBalance.StringFixed(2))}
	rep, err := c.do(ctx, cred, http.MethodPut, "/api/accounts/"+accountID.String()+"/balance", payload)
	result := writeResult(rep, err)
	c.observe(OpWriteBalance, accountID, result, start)
	return result
}

func (c *AccountsClient) do(ctx context.Context, cred Credential, method, path string, payload any) (reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return reply{}, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return reply{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(strings.TrimPrefix(string(cred), "Bearer ")); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
		if err != nil {
			return nil, fmt.Errorf("read reply: %w", err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		return reply{status: resp.StatusCode, body: data}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return reply{}, fmt.Errorf("%w: circuit breaker: %v", ErrUnavailable, err)
		}
		return reply{}, err
	}
	return out.(reply), nil
}

func (c *AccountsClient) observe(op string, accountID uuid.UUID, result Result, start time.Time) {
	elapsed := time.Since(start)
	observability.ObserveGatewayCall(op, result.Outcome.String(), elapsed)
	if result.OK() {
		return
	}

	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("account_id", accountID.String()),
		zap.String("outcome", result.Outcome.String()),
		zap.Duration("duration", elapsed),
		zap.Error(result.Cause),
	}
	if result.Outcome == OutcomeIndeterminate {
		c.logger.Warn("accounts service call indeterminate", fields...)
		return
	}
	c.logger.Info("accounts service call rejected", fields...)
}

func ownershipResult(rep reply, err error, userID uuid.UUID) Result {
	if err != nil {
		return Indeterminate(err)
	}
	switch rep.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return Rejected(ErrAccountNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return Rejected(ErrNotOwner)
	default:
		return Rejected(fmt.Errorf("%w: status %d", ErrUnexpectedReply, rep.status))
	}

	var account struct {
		UserID    string `json:"user_id"`
		UserIDAlt string `json:"userId"`
	}
	if len(bytes.TrimSpace(rep.body)) == 0 {
		return Confirmed()
	}
	if err := json.Unmarshal(rep.body, &account); err != nil {
		return Confirmed()
	}
	owner := account.UserID
	if owner == "" {
		owner = account.UserIDAlt
	}
	if owner == "" {
		return Confirmed()
	}
	ownerID, err := uuid.Parse(owner)
	if err != nil || ownerID != userID {
		return Rejected(ErrNotOwner)
	}
	return Confirmed()
}

func balanceResult(rep reply, err error) (decimal.Decimal, Result) {
	if err != nil {
		return decimal.Zero, Indeterminate(err)
	}
	switch rep.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return decimal.Zero, Rejected(ErrAccountNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return decimal.Zero, Rejected(ErrNotOwner)
	default:
		return decimal.Zero, Rejected(fmt.Errorf("%w: status %d", ErrUnexpectedReply, rep.status))
	}

	var payload struct {
		Balance *json.Number `json:"balance"`
	}
	dec := json.NewDecoder(bytes.NewReader(rep.body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return decimal.Zero, Indeterminate(fmt.Errorf("%w: decode balance: %v", ErrUnexpectedReply, err))
	}
	if payload.Balance == nil {
		return decimal.Zero, Indeterminate(fmt.Errorf("%w: balance missing", ErrUnexpectedReply))
	}
	balance, err := decimal.NewFromString(payload.Balance.String())
	if err != nil {
		return decimal.Zero, Indeterminate(fmt.Errorf("%w: parse balance: %v", ErrUnexpectedReply, err))
	}
	return balance, Confirmed()
}

func writeResult(rep reply, err error) Result {
	if err != nil {
		return Indeterminate(err)
	}
	switch rep.status {
	case http.StatusOK, http.StatusNoContent:
		return Confirmed()
	case http.StatusNotFound:
		return Rejected(ErrAccountNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return Rejected(ErrNotOwner)
	default:
		return Rejected(fmt.Errorf("%w: status %d", ErrUnexpectedReply, rep.status))
	}
}
