package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-secret-0123456789-abcdef"

func signToken(t *testing.T, claims jwt.MapClaims, method jwt.SigningMethod) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func validClaims(userID string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"user_id": userID,
		"role":    "user",
		"iss":     "accounts",
		"aud":     "funds",
		"exp":     now.Add(time.Hour).Unix(),
		"iat":     now.Unix(),
	}
}

func TestAuthMiddleware(t *testing.T) {
	SetJWTSecret(testSecret)
	SetJWTValidation("accounts", "funds")
	userID := uuid.NewString()

	var gotUser, gotCredential string
	h := AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotCredential = CredentialFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	expired := validClaims(userID)
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	wrongAudience := validClaims(userID)
	wrongAudience["aud"] = "other"
	mismatchedSubject := validClaims(userID)
	mismatchedSubject["sub"] = uuid.NewString()
	good := signToken(t, validClaims(userID), jwt.SigningMethodHS256)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "no bearer prefix", header: good, want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, expired, jwt.SigningMethodHS256), want: http.StatusUnauthorized},
		{name: "wrong audience", header: "Bearer " + signToken(t, wrongAudience, jwt.SigningMethodHS256), want: http.StatusUnauthorized},
		{name: "subject mismatch", header: "Bearer " + signToken(t, mismatchedSubject, jwt.SigningMethodHS256), want: http.StatusUnauthorized},
		{name: "wrong algorithm", header: "Bearer " + signToken(t, validClaims(userID), jwt.SigningMethodHS512), want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + good, want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser, gotCredential = "", ""
			req := httptest.NewRequest(http.MethodGet, "/v1/transactions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, userID, gotUser)
				assert.Equal(t, good, gotCredential)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/reconciliation", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestIdempotencyMiddleware_PassesThroughWithoutKeyOrStore(t *testing.T) {
	calls := 0
	h := IdempotencyMiddleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/transactions/deposit", nil)
	req.Header.Set("Idempotency-Key", "k-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, calls)
}

func TestScopedKey(t *testing.T) {
	assert.Equal(t, "u-1:k", scopedKey("u-1", "k"))
	assert.Equal(t, "k", scopedKey("", "k"))
	assert.NotEqual(t, hashRequest(http.MethodPost, "/a", []byte("{}")), hashRequest(http.MethodPost, "/b", []byte("{}")))
}
