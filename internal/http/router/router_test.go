package router

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	apphttp "verification_backend/internal/http"
	"verification_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

type testConfig struct{}

func (testConfig) GetHTTPAddr() string        { return ":0" }
func (testConfig) GetCORSAllowAll() bool      { return false }
func (testConfig) GetCORSOrigins() []string   { return []string{"http://localhost:4200"} }
func (testConfig) GetCORSAllowCreds() bool    { return true }
func (testConfig) GetJWTAccessSecret() string { return "test-secret" }

type testHealth struct{ err error }

func (h testHealth) Ping(context.Context) error { return h.err }

type testModule struct{ registered bool }

func (m *testModule) Name() string { return "test" }

func (m *testModule) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.registered = true
	ctx.Protected.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	ctx.Public.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
}

func newTestEngine(health apphttp.HealthChecker, modules ...apphttp.Module) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return New(&apphttp.App{
		Config:  testConfig{},
		Logger:  logger.NewWithWriter("test", io.Discard),
		Health:  health,
		Modules: modules,
	})
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		health apphttp.HealthChecker
		want   int
	}{
		{name: "healthy", health: testHealth{}, want: http.StatusOK},
		{name: "database down", health: testHealth{err: errors.New("down")}, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(tt.health)
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestModuleGroups(t *testing.T) {
	module := &testModule{}
	engine := newTestEngine(testHealth{}, module)
	if !module.registered {
		t.Fatal("expected module routes to be registered")
	}

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("protected route without token: expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/ping", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("public route: expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
}
