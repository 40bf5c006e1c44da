package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims, method jwt.SigningMethod) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := NewTokenVerifier("secret", "judgebox")
	valid := signToken(t, "secret", jwt.RegisteredClaims{
		Subject:   "viewer",
		Issuer:    "judgebox",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, jwt.SigningMethodHS256)
	expired := signToken(t, "secret", jwt.RegisteredClaims{
		Subject:   "viewer",
		Issuer:    "judgebox",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}, jwt.SigningMethodHS256)
	wrongIssuer := signToken(t, "secret", jwt.RegisteredClaims{Subject: "viewer", Issuer: "other"}, jwt.SigningMethodHS256)
	wrongKey := signToken(t, "other", jwt.RegisteredClaims{Subject: "viewer", Issuer: "judgebox"}, jwt.SigningMethodHS256)

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "valid header", header: "Bearer " + valid, want: http.StatusOK},
		{name: "valid query", query: valid, want: http.StatusOK},
		{name: "missing", want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "wrong issuer", header: "Bearer " + wrongIssuer, want: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + wrongKey, want: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic " + valid, want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/x", AuthMiddleware(verifier), func(c *gin.Context) {
				if c.GetString("subject") != "viewer" {
					t.Errorf("subject not set")
				}
				c.Status(http.StatusOK)
			})
			url := "/x"
			if tc.query != "" {
				url += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", AuthMiddleware(nil), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
