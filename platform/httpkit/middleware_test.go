package httpkit

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"verification_backend/platform/apperr"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type testJWTConfig struct{}

func (testJWTConfig) GetJWTAccessSecret() string { return "test-secret" }

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newAuthEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/reviews", AuthRequired(testJWTConfig{}), RequireAnyRole(RoleReviewer, RoleAdmin), func(c *gin.Context) {
		id := MustGetIdentity(c)
		c.JSON(http.StatusOK, gin.H{"user": id.UserID().String()})
	})
	return engine
}

func TestAuthRequired(t *testing.T) {
	engine := newAuthEngine()
	userID := uuid.New()

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"refresh token", "Bearer " + signToken(t, jwt.MapClaims{
			"sub": userID.String(), "type": "refresh", "roles": []string{RoleReviewer}, "exp": time.Now().Add(time.Hour).Unix(),
		}), http.StatusUnauthorized},
		{"no expiry", "Bearer " + signToken(t, jwt.MapClaims{
			"sub": userID.String(), "type": "access", "roles": []string{RoleReviewer},
		}), http.StatusUnauthorized},
		{"wrong role", "Bearer " + signToken(t, jwt.MapClaims{
			"sub": userID.String(), "type": "access", "roles": []string{RoleOperator}, "exp": time.Now().Add(time.Hour).Unix(),
		}), http.StatusForbidden},
		{"reviewer", "Bearer " + signToken(t, jwt.MapClaims{
			"sub": userID.String(), "type": "access", "roles": []string{RoleReviewer}, "exp": time.Now().Add(time.Hour).Unix(),
		}), http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/reviews", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestHandleError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
		wantCode   string
	}{
		{"typed", apperr.Gone("link expired").WithCode("link_expired"), http.StatusGone, "link expired", "link_expired"},
		{"wrapped typed", errors.Join(errors.New("ctx"), apperr.Conflict("cannot perform this action now")), http.StatusConflict, "cannot perform this action now", ""},
		{"untyped", errors.New("pg: connection refused"), http.StatusInternalServerError, msgInternalError, ""},
		{"internal typed", apperr.Wrap(apperr.KindInternal, "db", errors.New("secret")), http.StatusInternalServerError, msgInternalError, ""},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		if !HandleError(c, tc.err) {
			t.Fatalf("%s: HandleError returned false", tc.name)
		}
		if rec.Code != tc.wantStatus {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, tc.wantStatus)
		}
		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode body: %v", tc.name, err)
		}
		if body.Error != tc.wantMsg || body.Code != tc.wantCode {
			t.Errorf("%s: body = %+v", tc.name, body)
		}
	}

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	if HandleError(c, nil) {
		t.Fatal("nil error reported as handled")
	}
}
