package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkengine/internal/config"
)

// setupTestServer creates a test server and an agent client pointing at it.
func setupTestServer(t *testing.T, handler http.HandlerFunc) (*Client, string) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := &config.AgentConfig{Scheme: "http", Port: port, Path: "/agent", Timeout: 5 * time.Second}
	retryCfg := &config.RetryConfig{MaxRetries: 2, BaseDelay: 10 * time.Millisecond}
	return NewClient(cfg, retryCfg, zerolog.Nop()), u.Hostname()
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(&config.AgentConfig{Port: 6556, Path: "check"}, nil, zerolog.Nop())

	assert.Equal(t, "http", client.scheme)
	assert.Equal(t, 30*time.Second, client.timeout)
	assert.Equal(t, 3, client.retry.MaxRetries)
	assert.Equal(t, "http://10.0.0.1:6556/check", client.URL("10.0.0.1"))
	assert.Equal(t, "http://[fe80::1]:6556/check", client.URL("fe80::1"))
}

func TestClient_Fetch(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client, ip := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/agent", r.URL.Path)
			w.Write([]byte("<<<uptime>>>\n12345.6 9999.1\n"))
		})

		data, err := client.Fetch(context.Background(), ip)
		require.NoError(t, err)
		assert.Equal(t, "<<<uptime>>>\n12345.6 9999.1\n", string(data))
	})

	t.Run("retries_server_errors", func(t *testing.T) {
		var calls atomic.Int32
		client, ip := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte("<<<check_mk>>>\nVersion: 2.3\n"))
		})

		_, err := client.Fetch(context.Background(), ip)
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("does_not_retry_client_errors", func(t *testing.T) {
		var calls atomic.Int32
		client, ip := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusForbidden)
		})

		_, err := client.Fetch(context.Background(), ip)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 403")
		assert.Equal(t, int32(1), calls.Load())
	})
}
