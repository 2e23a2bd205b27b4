package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picking-sync-backend/config"
)

func newTestClient(baseURL string) *Client {
	return NewClient(&config.RemoteConfig{
		BaseURL: baseURL,
		APIKey:  "secret",
		Timeout: 2 * time.Second,
	}, "device-1")
}

func TestErrorClassification(t *testing.T) {
	ctx := context.Background()

	t.Run("semantic rejections become API errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"already_claimed","holder":"bob","message":"order already claimed by bob"}`))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).AcquireClaim(ctx, "o1", "alice")
		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusConflict, apiErr.Status)
		assert.Equal(t, "already_claimed", apiErr.Kind)
		assert.Equal(t, "bob", apiErr.Holder)
		assert.False(t, IsRetryable(err))
		assert.False(t, IsAuthError(err))
	})

	t.Run("unreachable host becomes a transport error", func(t *testing.T) {
		// A closed server leaves nothing listening on the port.
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		err := newTestClient(server.URL).Ping(ctx)
		require.Error(t, err)
		assert.True(t, IsRetryable(err))
		_, ok := AsAPIError(err)
		assert.False(t, ok)
	})

	t.Run("authorization failures are terminal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Connect(ctx)
		assert.True(t, IsAuthError(err))
		assert.False(t, IsRetryable(err))
	})

	t.Run("non-JSON error bodies fall back to the status text", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream exploded"))
		}))
		defer server.Close()

		err := newTestClient(server.URL).Ping(ctx)
		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Kind)
	})
}

func TestRequestHeaders(t *testing.T) {
	ctx := context.Background()

	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	require.NoError(t, newTestClient(server.URL).Ping(ctx))
	assert.Equal(t, "secret", got.Get(HeaderAPIKey))
	assert.Equal(t, "device-1", got.Get(HeaderDeviceID))
}

func TestGetOrderFreshBypassesCaches(t *testing.T) {
	ctx := context.Background()

	var cacheControl string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cacheControl = r.Header.Get("Cache-Control")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"o1","status":"picking","lines":[]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.GetOrder(ctx, "o1", false)
	require.NoError(t, err)
	assert.Empty(t, cacheControl)

	_, err = client.GetOrder(ctx, "o1", true)
	require.NoError(t, err)
	assert.Equal(t, "no-cache", cacheControl)
}
