package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutSubscriptionRejectsBadPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHandler(nil, nil, nil, nil, nil)
	r.PUT("/api/subscriptions", handler.PutSubscription)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPut, "/api/subscriptions", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), ErrKindBadRequest)
}

func TestSubscriptionLifecycle(t *testing.T) {
	router, _ := setupTestRouter(t)

	sub := gin.H{"endpoint": "https://example.com/push", "p256dh": "key", "auth": "auth"}
	w := doJSON(router, http.MethodPut, "/api/subscriptions", sub, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	// Upsert on the same endpoint is not an error.
	w = doJSON(router, http.MethodPut, "/api/subscriptions", sub, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(router, http.MethodGet, "/api/subscriptions?endpoint=https%3A%2F%2Fexample.com%2Fpush", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodDelete, "/api/subscriptions", gin.H{"endpoint": "https://example.com/push"}, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(router, http.MethodGet, "/api/subscriptions?endpoint=https%3A%2F%2Fexample.com%2Fpush", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
