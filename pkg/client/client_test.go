package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "cli-token"

func newSuiteStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Liveness{Status: "ok", Version: "1.2.3", BootID: "boot-1", UptimeS: 42})
	})

	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+testToken {
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "unauthorized"}})
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("GET /modules", authed(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"modules": []map[string]any{
			{"module_id": "notes", "state": "healthy", "assigned_port": 5001},
		}})
	}))
	mux.HandleFunc("POST /sync/now", authed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(SyncResult{Triggered: false, Error: "cloud bridge not configured"})
	}))
	mux.HandleFunc("POST /shutdown", authed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"stopping": true})
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthUnauthenticated(t *testing.T) {
	srv := newSuiteStub(t)
	c := New(srv.URL, "")

	live, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", live.Status)
	assert.Equal(t, "boot-1", live.BootID)
}

func TestModulesWithToken(t *testing.T) {
	srv := newSuiteStub(t)
	c := New(srv.URL, testToken)

	modules, err := c.Modules(context.Background())
	require.NoError(t, err)
	require.Len(t, modules, 1)
	assert.Equal(t, "notes", modules[0].ModuleID)
	assert.Equal(t, 5001, modules[0].AssignedPort)
}

func TestWrongTokenIsUnauthorized(t *testing.T) {
	srv := newSuiteStub(t)
	c := New(srv.URL, "not-the-token")

	_, err := c.Modules(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSyncNowFailureIsDataNotError(t *testing.T) {
	srv := newSuiteStub(t)
	c := New(srv.URL, testToken)

	result, err := c.SyncNow(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Triggered)
	assert.Contains(t, result.Error, "not configured")
}

func TestShutdown(t *testing.T) {
	srv := newSuiteStub(t)
	c := New(srv.URL, testToken)
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestConnectionRefusedIsNotRunning(t *testing.T) {
	c := New("http://127.0.0.1:1", testToken)
	_, err := c.Health(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}
