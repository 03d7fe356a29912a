package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telcoguard/fraud-decision/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(manager *auth.JWTManager, roles ...string) *gin.Engine {
	r := gin.New()
	group := r.Group("/admin", auth.Middleware(manager))
	if len(roles) > 0 {
		group.Use(auth.RequireRole(roles...))
	}
	group.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": auth.SubjectFromContext(c)})
	})
	return r
}

func TestTokenRoundTrip(t *testing.T) {
	manager := auth.NewJWTManager("secret", time.Hour)

	token, err := manager.GenerateToken("ops-1", auth.RoleRiskOps)
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops-1", claims.Subject)
	assert.Equal(t, auth.RoleRiskOps, claims.Role)
}

func TestExpiredTokenRejected(t *testing.T) {
	manager := auth.NewJWTManager("secret", -time.Minute)

	token, err := manager.GenerateToken("ops-1", auth.RoleRiskOps)
	require.NoError(t, err)

	_, err = manager.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrExpiredToken)
}

func TestWrongSecretRejected(t *testing.T) {
	token, err := auth.NewJWTManager("secret-a", time.Hour).GenerateToken("ops-1", auth.RoleAdmin)
	require.NoError(t, err)

	_, err = auth.NewJWTManager("secret-b", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestMiddleware_MissingHeader(t *testing.T) {
	router := newRouter(auth.NewJWTManager("secret", time.Hour))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_ValidToken(t *testing.T) {
	manager := auth.NewJWTManager("secret", time.Hour)
	router := newRouter(manager)

	token, err := manager.GenerateToken("ops-1", auth.RoleRiskOps)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ops-1")
}

func TestRequireRole_Forbidden(t *testing.T) {
	manager := auth.NewJWTManager("secret", time.Hour)
	router := newRouter(manager, auth.RoleAdmin)

	token, err := manager.GenerateToken("ops-1", auth.RoleRiskOps)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRole_AnyAllowedRolePasses(t *testing.T) {
	manager := auth.NewJWTManager("secret", time.Hour)
	router := newRouter(manager, auth.RoleAdmin, auth.RoleRiskOps)

	token, err := manager.GenerateToken("ops-1", auth.RoleRiskOps)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
