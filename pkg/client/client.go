package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/security"
	"github.com/hearthd/hearth/pkg/types"
)

// Sentinel errors.
var (
	// ErrNotRunning means no suite answered on the configured address.
	ErrNotRunning = errors.New("client: suite not reachable")
	// ErrUnauthorized means the suite rejected the bearer token.
	ErrUnauthorized = errors.New("client: unauthorized")
)

// Client talks to a running suite over its loopback REST surface.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client for an explicit address and token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// FromBaseDir builds a client from the suite's own configuration under
// baseDir: the HTTP port comes from the suite config, the bearer token is
// unwrapped with the local wrapper key. Works only on the machine the suite
// runs on, which is the point.
func FromBaseDir(baseDir string) (*Client, error) {
	opts := []config.Option{config.WithSecretPaths(config.SecretPaths()...)}
	key, err := security.LoadKey(filepath.Join(baseDir, "data", "keys", security.WrapperKeyFile))
	if err == nil {
		box, err := security.NewBox(key)
		if err != nil {
			return nil, err
		}
		opts = append(opts, config.WithSecretBox(box))
	} else if !errors.Is(err, security.ErrKeyMissing) {
		return nil, err
	}

	cfg, err := config.Load(filepath.Join(baseDir, "config", "suite_config.json"), opts...)
	if err != nil {
		return nil, err
	}

	port := cfg.GetInt(config.KeyHTTPPort, 5000)
	token := cfg.GetString(config.KeyAuthToken, "")
	return New(fmt.Sprintf("http://127.0.0.1:%d", port), token), nil
}

// Liveness is the unauthenticated GET /health response.
type Liveness struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	BootID  string `json:"boot_id"`
	UptimeS int64  `json:"uptime_s"`
}

// SyncResult is the POST /sync/now response. Triggered false with Error set
// means the cycle ran and failed; the suite itself is fine.
type SyncResult struct {
	Triggered  bool   `json:"triggered"`
	LastSyncTS string `json:"last_sync_ts,omitempty"`
	LatencyMS  int64  `json:"latency_ms,omitempty"`
	LastError  string `json:"last_error,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Health fetches the liveness endpoint.
func (c *Client) Health(ctx context.Context) (*Liveness, error) {
	var out Liveness
	if err := c.do(ctx, http.MethodGet, "/health", &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// HealthFull fetches the aggregated status report.
func (c *Client) HealthFull(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/health/full", &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

// Modules fetches the registry snapshot.
func (c *Client) Modules(ctx context.Context) ([]types.ModuleRuntime, error) {
	var out struct {
		Modules []types.ModuleRuntime `json:"modules"`
	}
	if err := c.do(ctx, http.MethodGet, "/modules", &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Modules, nil
}

// SyncNow triggers one cloud sync cycle and reports the outcome. A failed
// cycle is data, not an error.
func (c *Client) SyncNow(ctx context.Context) (*SyncResult, error) {
	var out SyncResult
	err := c.do(ctx, http.MethodPost, "/sync/now", &out, http.StatusOK, http.StatusBadGateway)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Shutdown asks the suite to stop gracefully.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/shutdown", nil, http.StatusAccepted)
}

func (c *Client) do(ctx context.Context, method, path string, out any, accept ...int) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	accepted := false
	for _, code := range accept {
		if resp.StatusCode == code {
			accepted = true
			break
		}
	}
	if !accepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("client: %s %s answered %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
