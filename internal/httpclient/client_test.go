package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/fleet/pkg/jules"
)

func TestClient_Do_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1alpha/sessions/1", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "test-key")
	resp, err := c.Get(context.Background(), "/v1alpha/sessions/1", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "\"id\":\"1\"")
}

func TestClient_Do_QueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "page=2", r.URL.RawQuery)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(server.URL, "k")
	resp, err := c.Get(context.Background(), "/x", url.Values{"page": []string{"2"}})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestClient_NoAPIKeySkipsAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-Goog-Api-Key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	_, err := c.Get(context.Background(), "/x", nil)
	require.NoError(t, err)
}

func TestClient_RetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(server.URL, "k", WithRetryConfig(5*time.Second, 5*time.Millisecond, 20*time.Millisecond))
	resp, err := c.Get(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 3, attempts)
}

func TestClient_DoesNotRetryOn400(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewClient(server.URL, "k", WithRetryConfig(5*time.Second, 5*time.Millisecond, 20*time.Millisecond))
	_, err := c.Get(context.Background(), "/x", nil)
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestClient_401IsAuthenticationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient(server.URL, "k")
	_, err := c.Get(context.Background(), "/x", nil)
	require.Error(t, err)
	assert.True(t, jules.IsAuthError(err))
}

func TestClient_SanitizesURLInErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, "k")
	_, err := c.Get(context.Background(), "/x", url.Values{"token": []string{"secret"}})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}
