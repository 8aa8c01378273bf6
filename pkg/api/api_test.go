package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthd/hearth/pkg/bridge"
	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/contextgraph"
	"github.com/hearthd/hearth/pkg/events"
	"github.com/hearthd/hearth/pkg/facts"
	"github.com/hearthd/hearth/pkg/health"
	"github.com/hearthd/hearth/pkg/registry"
)

const testToken = "test-suite-token"

type fixture struct {
	server   *Server
	base     string
	facts    *facts.Store
	stopped  *atomic.Bool
	registry *registry.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg, err := config.Load(filepath.Join(dir, "suite_config.json"))
	require.NoError(t, err)

	store, err := facts.Open(filepath.Join(dir, "facts"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus()
	reg := registry.New(cfg, bus, filepath.Join(dir, "state"), testToken)
	monitor := health.New(cfg, reg, bus)
	builder := contextgraph.NewBuilder(store, nil, nil, reg, bus, nil)
	cloudBridge := bridge.New(cfg, bus, nil) // cloud disabled by default

	var stopped atomic.Bool
	server := NewServer(Deps{
		Config:    cfg,
		Registry:  reg,
		Monitor:   monitor,
		Builder:   builder,
		Bridge:    cloudBridge,
		Bus:       bus,
		AuthToken: testToken,
		Version:   "1.2.3",
		Shutdown:  func() { stopped.Store(true) },
	})

	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	return &fixture{server: server, base: srv.URL, facts: store, stopped: &stopped, registry: reg}
}

func (f *fixture) request(t *testing.T, method, path string, auth bool) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.base+path, nil)
	require.NoError(t, err)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestLivenessIsUnauthenticated(t *testing.T) {
	f := newFixture(t)
	resp, body := f.request(t, http.MethodGet, "/health", false)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.NotEmpty(t, body["boot_id"], "boot fingerprint present")
}

func TestMissingTokenIs401(t *testing.T) {
	f := newFixture(t)
	resp, body := f.request(t, http.MethodGet, "/modules", false)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok, "401 carries a structured body")
	assert.Equal(t, "unauthorized", errBody["code"])
}

func TestWrongTokenIs401(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodGet, f.base+"/modules", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-the-token")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthFullAlwaysAnswers200(t *testing.T) {
	f := newFixture(t)
	resp, body := f.request(t, http.MethodGet, "/health/full", true)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "flat-like", body["vector_store"])
	assert.Contains(t, body, "modules")
	assert.Contains(t, body, "sys")

	cloud, ok := body["cloud"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, cloud["enabled"])

	suite, ok := body["suite"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.2.3", suite["version"])
}

func TestUnknownModuleIs404(t *testing.T) {
	f := newFixture(t)
	resp, body := f.request(t, http.MethodGet, "/health/no-such-module", true)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "unknown_module", errBody["code"])
}

func TestContextPreviewRequiresUser(t *testing.T) {
	f := newFixture(t)
	resp, body := f.request(t, http.MethodGet, "/context/preview", true)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "missing_parameter", errBody["code"])
}

func TestContextPreviewReturnsBundle(t *testing.T) {
	f := newFixture(t)
	_, err := f.facts.Remember("alice", "prefers_concise", "true", 0.9, "prefs")
	require.NoError(t, err)

	resp, body := f.request(t, http.MethodGet, "/context/preview?user=alice", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", body["user"])

	factList, ok := body["facts"].([]any)
	require.True(t, ok)
	require.Len(t, factList, 1)
}

func TestSyncNowWithoutPeer(t *testing.T) {
	f := newFixture(t)
	resp, body := f.request(t, http.MethodPost, "/sync/now", true)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, false, body["triggered"])
	assert.Contains(t, body["error"], "not configured")
}

func TestShutdownTriggersCallback(t *testing.T) {
	f := newFixture(t)
	resp, body := f.request(t, http.MethodPost, "/shutdown", true)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, body["stopping"])

	require.Eventually(t, f.stopped.Load, time.Second, 10*time.Millisecond)
}

func TestRecentEventsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.server.bus.Publish("tick.test", "test", nil)

	resp, body := f.request(t, http.MethodGet, "/events/recent?type=tick.test", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	list, ok := body["events"].([]any)
	require.True(t, ok)
	assert.Len(t, list, 1)
}
