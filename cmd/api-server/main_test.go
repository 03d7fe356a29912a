package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telcoguard/fraud-decision/internal/policy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticChecker struct {
	err error
}

func (s staticChecker) HealthCheck(context.Context) error { return s.err }

type staticPolicies struct {
	snap *policy.Snapshot
}

func (s staticPolicies) Active() *policy.Snapshot { return s.snap }

func serveHealth(t *testing.T, velocity, db staticChecker, policies staticPolicies) (int, map[string]interface{}) {
	t.Helper()
	router := gin.New()
	router.GET("/health", healthHandler(velocity, db, policies))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func activePolicies() staticPolicies {
	return staticPolicies{snap: &policy.Snapshot{Version: "1.2.0"}}
}

func TestHealth_AllComponentsUp(t *testing.T) {
	code, body := serveHealth(t, staticChecker{}, staticChecker{}, activePolicies())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.2.0", body["policy_version"])

	components := body["components"].(map[string]interface{})
	assert.Equal(t, "up", components["velocity_store"])
	assert.Equal(t, "up", components["database"])
	assert.Equal(t, "up", components["policy"])
}

func TestHealth_VelocityStoreDownIsDegraded(t *testing.T) {
	code, body := serveHealth(t,
		staticChecker{err: errors.New("connection refused")},
		staticChecker{},
		activePolicies(),
	)

	assert.Equal(t, http.StatusOK, code, "decisions still serve on zeroed features")
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "1.2.0", body["policy_version"])

	components := body["components"].(map[string]interface{})
	assert.Equal(t, "down", components["velocity_store"])
}

func TestHealth_DatabaseDownIsDegraded(t *testing.T) {
	code, body := serveHealth(t,
		staticChecker{},
		staticChecker{err: errors.New("connection refused")},
		activePolicies(),
	)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])

	components := body["components"].(map[string]interface{})
	assert.Equal(t, "down", components["database"])
}

func TestHealth_NoActivePolicyIsDown(t *testing.T) {
	code, body := serveHealth(t, staticChecker{}, staticChecker{}, staticPolicies{})

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "down", body["status"])
	assert.NotContains(t, body, "policy_version")

	components := body["components"].(map[string]interface{})
	assert.Equal(t, "down", components["policy"])
}
