package diag

import (
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/events"
	"github.com/hearthd/hearth/pkg/types"
)

func newAnalyzer(t *testing.T, settings map[string]any) (*Analyzer, *events.Bus) {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "suite_config.json"))
	require.NoError(t, err)
	for path, value := range settings {
		require.NoError(t, cfg.Set(path, value, false))
	}
	bus := events.NewBus()
	a := New(cfg, bus, t.TempDir())
	a.skipSysScan = true
	return a, bus
}

// pongServer answers the handshake correctly for tag; wrongServer answers
// with something else.
func pongServer(t *testing.T, tag string) int {
	return handshakeServer(t, func(enc *json.Encoder) {
		enc.Encode(map[string]string{"pong": tag})
	})
}

func wrongServer(t *testing.T) int {
	return handshakeServer(t, func(enc *json.Encoder) {
		enc.Encode(map[string]string{"hello": "smtp"})
	})
}

func handshakeServer(t *testing.T, respond func(*json.Encoder)) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				var ping map[string]string
				if json.NewDecoder(conn).Decode(&ping) != nil {
					return
				}
				respond(json.NewEncoder(conn))
			}(conn)
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func TestProbeReachable(t *testing.T) {
	port := pongServer(t, "clo")
	result := ProbeService("127.0.0.1", port, "clo")
	assert.Equal(t, types.DiagReachable, result.Status)
	assert.Equal(t, "127.0.0.1", result.Host)
}

func TestProbeUncertainOnWrongService(t *testing.T) {
	port := wrongServer(t)
	result := ProbeService("127.0.0.1", port, "clo")
	assert.Equal(t, types.DiagUncertain, result.Status,
		"a live port with the wrong handshake is uncertain, not reachable")
}

func TestProbeUncertainOnMismatchedTag(t *testing.T) {
	port := pongServer(t, "other")
	result := ProbeService("127.0.0.1", port, "clo")
	assert.Equal(t, types.DiagUncertain, result.Status)
}

func TestProbeNotReachable(t *testing.T) {
	result := ProbeService("127.0.0.1", 1, "clo") // closed port
	assert.Equal(t, types.DiagNotReachable, result.Status)
	assert.Empty(t, result.Host)
}

func TestProbeBudgetCapsDialsAcrossCandidates(t *testing.T) {
	dials := 0
	orig := dialTimeout
	dialTimeout = func(network, addr string, timeout time.Duration) (net.Conn, error) {
		dials++
		return nil, fmt.Errorf("connection refused")
	}
	t.Cleanup(func() { dialTimeout = orig })

	// A non-loopback host expands to four candidates; the budget still
	// allows three connect attempts in total.
	result := ProbeService("workstation.local", 5999, "clo")
	assert.Equal(t, types.DiagNotReachable, result.Status)
	assert.Equal(t, 3, dials)
}

func TestDependencyStatuses(t *testing.T) {
	dep := Dependency{Name: "tool", Command: "tool", MinVersion: "2.0.0"}

	status := checkDependency(dep,
		func(string) (string, error) { return "", fmt.Errorf("not found") },
		nil)
	assert.Equal(t, DepStatus("not_installed"), status)

	status = checkDependency(dep,
		func(string) (string, error) { return "/usr/bin/tool", nil },
		func(string, ...string) (string, error) { return "tool version 1.4.2", nil })
	assert.Equal(t, DepStatus("outdated:1.4.2 < 2.0.0"), status)

	status = checkDependency(dep,
		func(string) (string, error) { return "/usr/bin/tool", nil },
		func(string, ...string) (string, error) { return "tool version 2.1.0", nil })
	assert.True(t, status.IsOK())

	status = checkDependency(dep,
		func(string) (string, error) { return "/usr/bin/tool", nil },
		func(string, ...string) (string, error) { return "", fmt.Errorf("segfault") })
	assert.Equal(t, DepStatus("import_error:segfault"), status)
}

func TestContextAwareDependencyReporting(t *testing.T) {
	// flat-like never reports chroma, whatever its install state.
	a, _ := newAnalyzer(t, map[string]any{"vector_store": "flat-like"})
	a.lookupPath = func(string) (string, error) { return "", fmt.Errorf("nothing installed") }

	report := a.Run()
	assert.NotContains(t, report.MissingDeps, "chroma")
	assert.Contains(t, report.MissingDeps, "ollama", "local-llm provider needs ollama")

	// chroma-like does report it, with an actionable recommendation.
	a2, _ := newAnalyzer(t, map[string]any{"vector_store": "chroma-like"})
	a2.lookupPath = func(string) (string, error) { return "", fmt.Errorf("nothing installed") }
	a2.probeFn = func(string, int, string) ProbeResult {
		return ProbeResult{Status: types.DiagReachable, Host: "127.0.0.1"}
	}

	report = a2.Run()
	assert.Contains(t, report.MissingDeps, "chroma")
	found := false
	for _, rec := range report.Recommendations {
		if strings.Contains(rec, "chroma") {
			found = true
		}
	}
	assert.True(t, found, "recommendation names the missing dependency")
}

func TestWrongServiceRecommendation(t *testing.T) {
	port := wrongServer(t)
	a, _ := newAnalyzer(t, map[string]any{
		"cloud.enabled":  true,
		"cloud.peer_url": fmt.Sprintf("http://127.0.0.1:%d", port),
	})
	a.lookupPath = func(cmd string) (string, error) { return "/usr/bin/" + cmd, nil }
	a.runVersion = func(string, ...string) (string, error) { return "1.0.0", nil }

	report := a.Run()
	assert.Equal(t, types.DiagUncertain, report.Probes["cloud_peer"])

	found := false
	for _, rec := range report.Recommendations {
		if strings.Contains(rec, "wrong_service") {
			found = true
		}
	}
	assert.True(t, found, "uncertain probes mention wrong_service")
}

func TestProbeTransitionPublishesEvent(t *testing.T) {
	a, bus := newAnalyzer(t, map[string]any{
		"cloud.enabled":  true,
		"cloud.peer_url": "http://127.0.0.1:9999",
	})
	a.lookupPath = func(cmd string) (string, error) { return "/usr/bin/" + cmd, nil }
	a.runVersion = func(string, ...string) (string, error) { return "1.0.0", nil }

	var transitions []types.Event
	bus.Subscribe(types.EventDiagTransition, func(ev types.Event) { transitions = append(transitions, ev) })

	status := types.DiagReachable
	a.probeFn = func(string, int, string) ProbeResult { return ProbeResult{Status: status, Host: "127.0.0.1"} }

	a.Run()
	assert.Empty(t, transitions, "first observation is not a transition")

	status = types.DiagNotReachable
	a.Run()
	require.Len(t, transitions, 1)
	assert.Equal(t, "reachable", transitions[0].Payload["from"])
	assert.Equal(t, "not_reachable", transitions[0].Payload["to"])

	a.Run()
	assert.Len(t, transitions, 1, "steady state stays quiet")
}

func TestSharedTokenWarning(t *testing.T) {
	a, _ := newAnalyzer(t, map[string]any{
		"auth_token":       "same-token",
		"cloud.auth_token": "same-token",
	})
	a.lookupPath = func(cmd string) (string, error) { return "/usr/bin/" + cmd, nil }
	a.runVersion = func(string, ...string) (string, error) { return "1.0.0", nil }

	report := a.Run()
	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "distinct trust boundaries") {
			found = true
		}
	}
	assert.True(t, found)
}
