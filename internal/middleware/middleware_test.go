package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"zhiku-rag/pkg/hash"
	"zhiku-rag/pkg/token"

	"github.com/gin-gonic/gin"
)

func newAuthRouter(t *testing.T, manager *token.JWTManager, enabled bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/probe", AuthMiddleware(manager, enabled), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("tenant_id"))
	})
	return r
}

func TestAuthMiddlewareDisabledPassesThrough(t *testing.T) {
	r := newAuthRouter(t, token.NewJWTManager("secret", 1), false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	r := newAuthRouter(t, token.NewJWTManager("secret", 1), true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestAuthMiddlewareRejectsMalformedHeader(t *testing.T) {
	r := newAuthRouter(t, token.NewJWTManager("secret", 1), true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Basic abc123")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestAuthMiddlewareRejectsInvalidToken(t *testing.T) {
	r := newAuthRouter(t, token.NewJWTManager("secret", 1), true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestAuthMiddlewareSetsTenantFromClaims(t *testing.T) {
	manager := token.NewJWTManager("secret", 1)
	r := newAuthRouter(t, manager, true)

	tokenString, err := manager.GenerateToken("ingest-gateway", "tenant-a")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "tenant-a" {
		t.Errorf("expected tenant_id tenant-a in context, got %q", got)
	}
}

func newAdminRouter(t *testing.T, adminKeyHash string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin/probe", AdminAuthMiddleware(adminKeyHash), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestAdminAuthMiddleware(t *testing.T) {
	keyHash, err := hash.HashPassword("super-secret-key")
	if err != nil {
		t.Fatalf("hash admin key: %v", err)
	}

	tests := []struct {
		name     string
		keyHash  string
		header   string
		wantCode int
	}{
		{name: "valid key", keyHash: keyHash, header: "super-secret-key", wantCode: http.StatusOK},
		{name: "wrong key", keyHash: keyHash, header: "wrong-key", wantCode: http.StatusForbidden},
		{name: "missing key", keyHash: keyHash, header: "", wantCode: http.StatusUnauthorized},
		{name: "admin api not configured", keyHash: "", header: "super-secret-key", wantCode: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newAdminRouter(t, tt.keyHash)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/admin/probe", nil)
			if tt.header != "" {
				req.Header.Set("X-Admin-Key", tt.header)
			}
			r.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}
		})
	}
}
