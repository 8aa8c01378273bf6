package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/events"
	"github.com/hearthd/hearth/pkg/security"
	"github.com/hearthd/hearth/pkg/types"
)

func newTestBox(t *testing.T, passphrase string) *security.Box {
	t.Helper()
	box, err := security.NewBoxFromPassphrase(passphrase)
	require.NoError(t, err)
	return box
}

func newTestBridge(url string, box *security.Box) *Bridge {
	b := &Bridge{
		peerURL:      url,
		authToken:    "cloud-token",
		box:          box,
		client:       &http.Client{Timeout: 2 * time.Second},
		bus:          events.NewBus(),
		retrySpacing: time.Millisecond,
	}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "test-peer",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 100 // keep closed in unit tests
		},
	})
	return b
}

func TestSealOpenRoundTrip(t *testing.T) {
	box := newTestBox(t, "shared")
	bundle := &types.ContextBundle{
		User:  "u",
		Facts: []types.Fact{{User: "u", Key: "k", Value: "v", Confidence: 0.8}},
	}

	envelope, err := sealBundle(box, "u", bundle)
	require.NoError(t, err)
	assert.Empty(t, envelope.Bundle, "encrypted envelopes carry no cleartext")
	assert.NotEmpty(t, envelope.Ciphertext)

	opened, err := openBundle(box, &envelope)
	require.NoError(t, err)
	assert.Equal(t, bundle.Facts, opened.Facts)
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	bundle := &types.ContextBundle{User: "u", Query: "secret question"}
	envelope, err := sealBundle(newTestBox(t, "ours"), "u", bundle)
	require.NoError(t, err)

	opened, err := openBundle(newTestBox(t, "theirs"), &envelope)
	assert.ErrorIs(t, err, security.ErrDecryptFailed)
	assert.Nil(t, opened, "no partial plaintext on key mismatch")
	assert.NotContains(t, err.Error(), "secret question")
}

func TestSealCompressesLargePayloads(t *testing.T) {
	box := newTestBox(t, "shared")
	bundle := &types.ContextBundle{User: "u"}
	filler := strings.Repeat("context ", 1<<18) // ~2 MB of compressible text
	bundle.Facts = append(bundle.Facts, types.Fact{Key: "big", Value: filler})

	envelope, err := sealBundle(box, "u", bundle)
	require.NoError(t, err)
	assert.True(t, envelope.Compressed)
	assert.Less(t, len(envelope.Ciphertext), len(filler), "compression preceded encryption")

	opened, err := openBundle(box, &envelope)
	require.NoError(t, err)
	assert.Equal(t, filler, opened.Facts[0].Value)
}

func TestPlaintextModeWithoutBox(t *testing.T) {
	bundle := &types.ContextBundle{User: "u"}
	envelope, err := sealBundle(nil, "u", bundle)
	require.NoError(t, err)
	assert.NotNil(t, envelope.Bundle)
	assert.Empty(t, envelope.Ciphertext)

	opened, err := openBundle(nil, &envelope)
	require.NoError(t, err)
	assert.Equal(t, "u", opened.User)
}

func TestPushPullRoundTrip(t *testing.T) {
	box := newTestBox(t, "shared")
	var stored types.SyncEnvelope

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer cloud-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/context/push":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&stored))
			json.NewEncoder(w).Encode(map[string]any{"accepted": true, "ts": time.Now()})
		case "/context/pull":
			require.Equal(t, "u", r.URL.Query().Get("user"))
			json.NewEncoder(w).Encode(stored)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := newTestBridge(srv.URL, box)
	ctx := context.Background()

	pushed := &types.ContextBundle{User: "u", Facts: []types.Fact{{Key: "k", Value: "v"}}}
	require.NoError(t, b.PushContext(ctx, "u", pushed))

	pulled, err := b.PullContext(ctx, "u")
	require.NoError(t, err)
	require.NotNil(t, pulled)
	assert.Equal(t, pushed.Facts, pulled.Facts)
}

func TestPullNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	b := newTestBridge(srv.URL, nil)
	bundle, err := b.PullContext(context.Background(), "u")
	require.NoError(t, err)
	assert.Nil(t, bundle)
}

func TestUnauthorizedIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	b := newTestBridge(srv.URL, nil)
	_, err := b.Health(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, int32(1), calls.Load(), "4xx is never retried")
}

func TestServerErrorsRetriedThreeTimes(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := newTestBridge(srv.URL, nil)
	_, err := b.Health(context.Background())
	assert.ErrorIs(t, err, ErrPeerUnreachable)
	assert.Equal(t, int32(4), calls.Load(), "initial attempt plus three retries")
}

func TestServerErrorRecoversMidCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	b := newTestBridge(srv.URL, nil)
	latency, err := b.Health(context.Background())
	require.NoError(t, err)
	assert.Greater(t, latency, time.Duration(0))
}

func TestRemoteExecuteStructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "unknown_task", "message": "no such task"},
		})
	}))
	defer srv.Close()

	b := newTestBridge(srv.URL, nil)
	_, err := b.RemoteExecute(context.Background(), "not_a_task", nil)
	require.ErrorIs(t, err, ErrRemoteTask)
	assert.Contains(t, err.Error(), "unknown_task")
}

func TestRemoteExecuteResultPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Task types.RemoteTask `json:"task"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, types.RemoteTaskRAGQuery, req.Task)
		json.NewEncoder(w).Encode(map[string]any{"answer": "42"})
	}))
	defer srv.Close()

	b := newTestBridge(srv.URL, nil)
	result, err := b.RemoteExecute(context.Background(), types.RemoteTaskRAGQuery, map[string]any{"q": "meaning"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"42"}`, string(result))
}

func newTestWorker(t *testing.T) *syncWorker {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "suite_config.json"))
	require.NoError(t, err)
	return newSyncWorker(newTestBridge("http://127.0.0.1:1", nil), cfg)
}

// assertDelayNear allows for the backoff's 10% randomization.
func assertDelayNear(t *testing.T, want, got time.Duration) {
	t.Helper()
	lo := time.Duration(float64(want) * 0.89)
	hi := time.Duration(float64(want) * 1.11)
	assert.GreaterOrEqual(t, got, lo, "delay below schedule")
	assert.LessOrEqual(t, got, hi, "delay above schedule")
}

func TestReconnectBackoffSchedule(t *testing.T) {
	w := newTestWorker(t)

	// 10 s doubling to the 120 s ceiling while the peer stays unreachable.
	for _, want := range []time.Duration{
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		120 * time.Second,
		120 * time.Second,
	} {
		assertDelayNear(t, want, w.nextDelay(ErrPeerUnreachable))
	}

	// Success restores the configured interval and resets the schedule.
	assert.Equal(t, 900*time.Second, w.nextDelay(nil))
	assertDelayNear(t, 10*time.Second, w.nextDelay(ErrPeerUnreachable))
}

func TestRepeatedFailuresSlowCadence(t *testing.T) {
	w := newTestWorker(t)
	cause := errors.New("peer rejected the envelope")

	assert.Equal(t, w.interval, w.nextDelay(cause), "first failure keeps the cadence")
	assert.Equal(t, 2*w.interval, w.nextDelay(cause), "second failure doubles it")
	assert.Equal(t, 2*w.interval, w.nextDelay(cause), "and it never exceeds twice the interval")

	assert.Equal(t, w.interval, w.nextDelay(nil))
	assert.Equal(t, w.interval, w.nextDelay(cause), "the counter restarted on success")
}

func TestSyncNowRecordsOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case "/context/pull":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := newTestBridge(srv.URL, nil)
	b.worker = &syncWorker{bridge: b, user: "u", interval: time.Hour}

	var outcomes []string
	b.bus.Subscribe("sync.*", func(ev types.Event) { outcomes = append(outcomes, ev.Type) })

	require.NoError(t, b.SyncNow(context.Background()))

	last, _, err := b.LastSync()
	assert.NoError(t, err)
	assert.False(t, last.IsZero())
	assert.Equal(t, []string{types.EventSyncSuccess}, outcomes)
}

type fakeBundleSource struct {
	invalidated []string
}

func (f *fakeBundleSource) Build(ctx context.Context, user string) (*types.ContextBundle, error) {
	return &types.ContextBundle{User: user}, nil
}

func (f *fakeBundleSource) Invalidate(user string) {
	f.invalidated = append(f.invalidated, user)
}

func TestPulledBundleInvalidatesLocalCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case "/context/push":
			json.NewEncoder(w).Encode(map[string]any{"accepted": true, "ts": time.Now()})
		case "/context/pull":
			json.NewEncoder(w).Encode(types.SyncEnvelope{
				User:   "u",
				Bundle: &types.ContextBundle{User: "u"},
				TS:     time.Now(),
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := newTestBridge(srv.URL, nil)
	src := &fakeBundleSource{}
	b.worker = &syncWorker{bridge: b, user: "u", interval: time.Hour, source: src}

	require.NoError(t, b.SyncNow(context.Background()))
	assert.Equal(t, []string{"u"}, src.invalidated, "fresh peer data drops the cached bundle")
}

func TestEmptyPullLeavesCacheAlone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case "/context/push":
			json.NewEncoder(w).Encode(map[string]any{"accepted": true, "ts": time.Now()})
		case "/context/pull":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := newTestBridge(srv.URL, nil)
	src := &fakeBundleSource{}
	b.worker = &syncWorker{bridge: b, user: "u", interval: time.Hour, source: src}

	require.NoError(t, b.SyncNow(context.Background()))
	assert.Empty(t, src.invalidated)
}

func TestSyncNowFailurePublishesEvent(t *testing.T) {
	b := newTestBridge("http://127.0.0.1:1", nil) // closed port
	b.worker = &syncWorker{bridge: b, user: "u", interval: time.Hour}

	var outcomes []string
	b.bus.Subscribe("sync.*", func(ev types.Event) { outcomes = append(outcomes, ev.Type) })

	err := b.SyncNow(context.Background())
	assert.ErrorIs(t, err, ErrPeerUnreachable)
	assert.Equal(t, []string{types.EventSyncFailure}, outcomes)

	_, _, lastErr := b.LastSync()
	assert.Error(t, lastErr)
}
