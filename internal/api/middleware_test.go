package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/opsdeck/opsdeck-backend/internal/utils"
)

func TestIPLimiter_FixedWindow(t *testing.T) {
	l := newIPLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		ok, _ := l.allow("10.0.0.1")
		if !ok {
			t.Fatalf("request %d should have been allowed", i+1)
		}
	}
	ok, retryAfter := l.allow("10.0.0.1")
	if ok {
		t.Fatal("4th request in the window should have been rejected")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("unexpected retry-after: %v", retryAfter)
	}
	// a different client is unaffected
	if ok, _ := l.allow("10.0.0.2"); !ok {
		t.Fatal("other client should not share the window")
	}
}

func TestVersionMiddleware_DefaultAndEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/projects", nil)
	VersionMiddleware("2026-08-01")(c)
	if got := w.Header().Get("X-OpsDeck-Version"); got != "2026-08-01" {
		t.Fatalf("expected default version header, got %q", got)
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/projects", nil)
	c.Request.Header.Set("OpsDeck-Version", "2026-01-15")
	VersionMiddleware("2026-08-01")(c)
	if got := w.Header().Get("X-OpsDeck-Version"); got != "2026-01-15" {
		t.Fatalf("expected pinned version to be echoed, got %q", got)
	}
}

func TestAuthMiddleware_RejectsMissingAndMalformed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	os.Setenv("OPSDECK_JWT_SECRET", "test-secret-for-auth-middleware")
	defer os.Unsetenv("OPSDECK_JWT_SECRET")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/me", nil)
	AuthMiddleware()(c)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: expected 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/me", nil)
	c.Request.Header.Set("Authorization", "Token abcdef")
	AuthMiddleware()(c)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad scheme: expected 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/me", nil)
	c.Request.Header.Set("Authorization", "Bearer not-a-jwt")
	AuthMiddleware()(c)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %d", w.Code)
	}
}

func TestAuthMiddleware_RejectsTokenWithoutUserID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	os.Setenv("OPSDECK_JWT_SECRET", "test-secret-for-auth-middleware")
	defer os.Unsetenv("OPSDECK_JWT_SECRET")

	// signed but not a session token, e.g. an SSO state token
	stateToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"typ": "sso_state",
		"exp": time.Now().Add(10 * time.Minute).Unix(),
	})
	signed, err := stateToken.SignedString([]byte(os.Getenv("OPSDECK_JWT_SECRET")))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/me", nil)
	c.Request.Header.Set("Authorization", "Bearer "+signed)
	AuthMiddleware()(c)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("token without user_id: expected 401, got %d", w.Code)
	}
}

func TestAuthMiddleware_AcceptsValidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	os.Setenv("OPSDECK_JWT_SECRET", "test-secret-for-auth-middleware")
	defer os.Unsetenv("OPSDECK_JWT_SECRET")

	userID := uuid.New()
	token, err := utils.GenerateJWT(userID)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/me", nil)
	c.Request.Header.Set("Authorization", "Bearer "+token)
	AuthMiddleware()(c)
	if c.IsAborted() {
		t.Fatalf("valid token should not abort: %s", w.Body.String())
	}
	got, ok := c.Get("userID")
	if !ok || got != userID.String() {
		t.Fatalf("expected userID %s in context, got %v", userID, got)
	}
}
