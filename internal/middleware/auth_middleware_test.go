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

	"chatcore/internal/auth"
	"chatcore/internal/config"
)

func testAuthCfg() config.AuthConfig {
	return config.AuthConfig{JWTSecretKey: "test-secret", Issuer: ""}
}

func issueToken(t *testing.T, subject string) string {
	t.Helper()
	claims := auth.Claims{
		Email:       "alice@example.com",
		DisplayName: "Alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	userID := uuid.NewString()
	var gotUserID string
	var gotClaims *auth.Claims

	handler := AuthMiddleware(testAuthCfg())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = GetUserIDFromContext(r.Context())
		gotClaims, _ = GetClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, userID))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, gotUserID)
	require.NotNil(t, gotClaims)
	assert.Equal(t, "alice@example.com", gotClaims.Email)
}

func TestAuthMiddlewareRejects(t *testing.T) {
	handler := AuthMiddleware(testAuthCfg())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("不应到达业务 handler")
	}))

	cases := map[string]string{
		"missing header": "",
		"no bearer":      "Token abc",
		"malformed":      "Bearer",
		"garbage token":  "Bearer not.a.jwt",
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
}
