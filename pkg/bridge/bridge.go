package bridge

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/events"
	"github.com/hearthd/hearth/pkg/log"
	"github.com/hearthd/hearth/pkg/security"
	"github.com/hearthd/hearth/pkg/types"
)

const (
	callTimeout = 10 * time.Second

	// transient 5xx retries per call
	maxTransientRetries = 3
	transientSpacing    = 2 * time.Second
)

// Bridge is the client half of the encrypted sync protocol with one remote
// peer. All calls carry the cloud bearer token; payload confidentiality
// rides on the shared symmetric key when encryption is on.
type Bridge struct {
	peerURL   string
	authToken string
	box       *security.Box // nil when encrypt=false
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
	bus       *events.Bus

	// spacing between 5xx retries, swapped out in tests
	retrySpacing time.Duration

	mu          sync.Mutex
	lastSync    time.Time
	lastLatency time.Duration
	lastErr     error

	worker *syncWorker
}

// New creates a bridge from the cloud.* configuration block. box may be nil
// when cloud.encrypt is false.
func New(cfg *config.Store, bus *events.Bus, box *security.Box) *Bridge {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.GetBool(config.KeyCloudVerifyTLS, true) {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	b := &Bridge{
		peerURL:   cfg.GetString(config.KeyCloudPeerURL, ""),
		authToken: cfg.GetString(config.KeyCloudAuthToken, ""),
		box:       box,
		client:    &http.Client{Timeout: callTimeout, Transport: transport},
		bus:       bus,

		retrySpacing: transientSpacing,
	}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "cloud-peer",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithComponent("bridge").Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("peer circuit state changed")
		},
	})
	if cfg.GetBool(config.KeyCloudEnabled, false) {
		b.worker = newSyncWorker(b, cfg)
	}
	return b
}

// Enabled reports whether the bridge has a peer to talk to.
func (b *Bridge) Enabled() bool {
	return b.peerURL != ""
}

// PushContext sends a bundle to the peer.
func (b *Bridge) PushContext(ctx context.Context, user string, bundle *types.ContextBundle) error {
	if !b.Enabled() {
		return ErrNotConfigured
	}
	envelope, err := sealBundle(b.box, user, bundle)
	if err != nil {
		return err
	}
	envelope.Direction = types.SyncPush

	var ack struct {
		Accepted bool `json:"accepted"`
	}
	if err := b.call(ctx, http.MethodPost, "/context/push", envelope, &ack); err != nil {
		return err
	}
	if !ack.Accepted {
		return fmt.Errorf("%w: peer did not accept push", ErrRemoteTask)
	}
	return nil
}

// PullContext fetches the peer's latest bundle for a user. A 204 from the
// peer means nothing new and returns (nil, nil). A payload that cannot be
// decrypted is dropped, logged, and alerted, never partially returned.
func (b *Bridge) PullContext(ctx context.Context, user string) (*types.ContextBundle, error) {
	if !b.Enabled() {
		return nil, ErrNotConfigured
	}

	var envelope types.SyncEnvelope
	path := "/context/pull?user=" + url.QueryEscape(user)
	err := b.call(ctx, http.MethodGet, path, nil, &envelope)
	if errors.Is(err, errNoContent) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	bundle, err := openBundle(b.box, &envelope)
	if err != nil {
		log.WithComponent("bridge").Error().Err(err).Msg("dropping undecryptable payload")
		b.bus.Publish(types.EventTroubleAlert, "bridge", map[string]any{
			"service": "cloud_peer",
			"cause":   "decrypt_failed",
		})
		return nil, err
	}
	return bundle, nil
}

// RemoteExecute runs a declared task on the peer and returns its raw JSON
// result.
func (b *Bridge) RemoteExecute(ctx context.Context, task types.RemoteTask, params map[string]any) (json.RawMessage, error) {
	if !b.Enabled() {
		return nil, ErrNotConfigured
	}

	var result json.RawMessage
	err := b.call(ctx, http.MethodPost, "/execute", map[string]any{
		"task":   task,
		"params": params,
	}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Health measures peer latency via its health endpoint.
func (b *Bridge) Health(ctx context.Context) (time.Duration, error) {
	if !b.Enabled() {
		return 0, ErrNotConfigured
	}

	started := time.Now()
	var status struct {
		Status string `json:"status"`
	}
	if err := b.call(ctx, http.MethodGet, "/health", nil, &status); err != nil {
		return 0, err
	}
	latency := time.Since(started)

	b.mu.Lock()
	b.lastLatency = latency
	b.mu.Unlock()
	return latency, nil
}

// LastSync reports the newest completed cycle: its time, the peer latency,
// and the error when it failed.
func (b *Bridge) LastSync() (time.Time, time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSync, b.lastLatency, b.lastErr
}

// errNoContent marks a 204 pull response internally.
var errNoContent = errors.New("no content")

// call performs one authenticated request with the transient-retry policy:
// 5xx retries up to 3 times with fixed spacing, 4xx is terminal, and
// connection failures count against the circuit breaker.
func (b *Bridge) call(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.retrySpacing):
			}
		}

		retryable, err := b.once(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return lastErr
}

// once performs a single request. The bool reports whether the failure is
// worth retrying within this call.
func (b *Bridge) once(ctx context.Context, method, path string, payload []byte, out any) (bool, error) {
	result, err := b.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, method, b.peerURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+b.authToken)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
		}
		return peerResponse{status: resp.StatusCode, body: data}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return false, fmt.Errorf("%w: circuit open", ErrPeerUnreachable)
		}
		return true, err
	}

	resp := result.(peerResponse)
	switch {
	case resp.status == http.StatusNoContent:
		return false, errNoContent
	case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
		return false, ErrUnauthenticated
	case resp.status >= 500:
		return true, fmt.Errorf("%w: peer returned HTTP %d", ErrPeerUnreachable, resp.status)
	case resp.status >= 400:
		return false, peerError(resp)
	}

	if out != nil && len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, out); err != nil {
			return false, fmt.Errorf("undecodable peer response: %w", err)
		}
	}
	return false, nil
}

type peerResponse struct {
	status int
	body   []byte
}

// peerError decodes the peer's structured error body when present.
func peerError(resp peerResponse) error {
	var decoded struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(resp.body, &decoded) == nil && decoded.Error.Code != "" {
		return fmt.Errorf("%w: %s: %s", ErrRemoteTask, decoded.Error.Code, decoded.Error.Message)
	}
	return fmt.Errorf("%w: peer returned HTTP %d", ErrRemoteTask, resp.status)
}
