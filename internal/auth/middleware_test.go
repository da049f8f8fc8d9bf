package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func newRouter(middleware gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware)
	router.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	return router
}

func TestJWTMiddleware(t *testing.T) {
	valid := jwt.RegisteredClaims{
		Subject:   "user-42",
		Audience:  jwt.ClaimStrings{"face-verify"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongAudience := valid
	wrongAudience.Audience = jwt.ClaimStrings{"other"}
	noSubject := valid
	noSubject.Subject = ""

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{name: "valid token", header: "Bearer " + signToken(t, testSecret, valid), wantStatus: http.StatusOK, wantBody: "user-42"},
		{name: "missing header", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signToken(t, "other", valid), wantStatus: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, testSecret, expired), wantStatus: http.StatusUnauthorized},
		{name: "wrong audience", header: "Bearer " + signToken(t, testSecret, wrongAudience), wantStatus: http.StatusUnauthorized},
		{name: "missing subject", header: "Bearer " + signToken(t, testSecret, noSubject), wantStatus: http.StatusUnauthorized},
	}

	router := newRouter(JWTMiddleware(testSecret, "face-verify"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				require.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestOptional(t *testing.T) {
	require.Nil(t, Optional("  ", "aud"))
	require.NotNil(t, Optional(testSecret, ""))
}
