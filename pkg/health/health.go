package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/events"
	"github.com/hearthd/hearth/pkg/log"
	"github.com/hearthd/hearth/pkg/metrics"
	"github.com/hearthd/hearth/pkg/types"
)

// Supervised is the registry surface the monitor needs.
type Supervised interface {
	Snapshot() []types.ModuleRuntime
	Manifest(id string) (types.ModuleManifest, bool)
	ApplyProbe(id string, state types.ModuleState, detail string)
}

// Monitor sweeps module health endpoints on an interval, counts consecutive
// failures per module, and reports verdicts back to the registry. Probe
// fan-out is bounded.
type Monitor struct {
	registry Supervised
	bus      *events.Bus
	client   *http.Client

	interval  time.Duration
	threshold int
	inflight  *semaphore.Weighted

	ollamaURL   string
	ollamaModel string

	mu       sync.Mutex
	failures map[string]int
	statuses map[string]types.HealthStatus
	ollamaOK bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor from the health.* configuration block.
func New(cfg *config.Store, registry Supervised, bus *events.Bus) *Monitor {
	maxInflight := cfg.GetInt(config.KeyHealthConcurrency, 8)
	if maxInflight < 1 {
		maxInflight = 1
	}
	return &Monitor{
		registry:    registry,
		bus:         bus,
		client:      &http.Client{Timeout: cfg.GetDuration(config.KeyHealthTimeout, 3*time.Second)},
		interval:    cfg.GetDuration(config.KeyHealthInterval, 30*time.Second),
		threshold:   cfg.GetInt(config.KeyHealthFailures, 3),
		inflight:    semaphore.NewWeighted(int64(maxInflight)),
		ollamaURL:   cfg.GetString(config.KeyOllamaURL, ""),
		ollamaModel: cfg.GetString(config.KeyOllamaModel, ""),
		failures:    make(map[string]int),
		statuses:    make(map[string]types.HealthStatus),
	}
}

// Start launches the periodic sweep.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
	log.WithComponent("health").Info().
		Dur("interval", m.interval).
		Int("failure_threshold", m.threshold).
		Msg("monitor started")
}

// Stop cancels the sweep loop and waits for in-flight probes to finish.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) sweep(ctx context.Context) {
	var wg sync.WaitGroup
	for _, rt := range m.registry.Snapshot() {
		if !probeable(rt) {
			continue
		}
		if err := m.inflight.Acquire(ctx, 1); err != nil {
			break // shutdown
		}
		wg.Add(1)
		go func(rt types.ModuleRuntime) {
			defer wg.Done()
			defer m.inflight.Release(1)
			m.Probe(ctx, rt.ModuleID)
		}(rt)
	}
	wg.Wait()

	if m.ollamaURL != "" {
		m.probeOllama(ctx)
	}
}

// probeable reports whether a module is in a state worth probing. Unhealthy
// modules stay in the sweep so recovery is noticed.
func probeable(rt types.ModuleRuntime) bool {
	if rt.AssignedPort == 0 {
		return false
	}
	switch rt.State {
	case types.ModuleStateHealthy, types.ModuleStateDegraded, types.ModuleStateUnhealthy:
		return true
	}
	return false
}

// Probe checks one module now and applies the verdict. Exactly threshold
// consecutive failures demote the module to unhealthy; one success resets
// the counter.
func (m *Monitor) Probe(ctx context.Context, id string) {
	manifest, ok := m.registry.Manifest(id)
	if !ok {
		return
	}
	rt := m.runtimeFor(id)
	if rt == nil {
		return
	}

	started := time.Now()
	status, err := m.fetch(ctx, *rt, manifest)
	metrics.HealthCheckDuration.WithLabelValues(id).Observe(time.Since(started).Seconds())

	if err != nil {
		m.recordFailure(id, *rt, err)
		return
	}
	m.recordSuccess(id, *rt, status)
}

func (m *Monitor) runtimeFor(id string) *types.ModuleRuntime {
	for _, rt := range m.registry.Snapshot() {
		if rt.ModuleID == id {
			return &rt
		}
	}
	return nil
}

func (m *Monitor) fetch(ctx context.Context, rt types.ModuleRuntime, manifest types.ModuleManifest) (types.HealthStatus, error) {
	var status types.HealthStatus
	url := fmt.Sprintf("http://127.0.0.1:%d%s", rt.AssignedPort, manifest.HealthRoute)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return status, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return status, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return status, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("undecodable payload: %w", err)
	}
	if status.ModuleID != rt.ModuleID {
		return status, fmt.Errorf("module_id mismatch: got %q", status.ModuleID)
	}
	return status, nil
}

func (m *Monitor) recordSuccess(id string, rt types.ModuleRuntime, status types.HealthStatus) {
	m.mu.Lock()
	m.failures[id] = 0
	m.statuses[id] = status
	m.mu.Unlock()

	state := types.ModuleStateHealthy
	if status.Status == "degraded" {
		state = types.ModuleStateDegraded
	}
	m.registry.ApplyProbe(id, state, status.Status)

	if rt.State == types.ModuleStateUnhealthy {
		log.WithModuleID(id).Info().Msg("module recovered")
		m.bus.Publish(types.EventModuleFixed, "health", map[string]any{
			"module_id": id,
			"status":    status.Status,
		})
	}
}

func (m *Monitor) recordFailure(id string, rt types.ModuleRuntime, cause error) {
	m.mu.Lock()
	m.failures[id]++
	count := m.failures[id]
	delete(m.statuses, id)
	m.mu.Unlock()

	log.WithModuleID(id).Debug().
		Err(cause).
		Int("consecutive", count).
		Msg("health probe failed")

	if count >= m.threshold && rt.State != types.ModuleStateUnhealthy {
		m.registry.ApplyProbe(id, types.ModuleStateUnhealthy, cause.Error())
	} else {
		// Keep LastProbeAt moving without a state change.
		m.registry.ApplyProbe(id, rt.State, cause.Error())
	}
}

// Snapshot returns the last decoded health payload per module.
func (m *Monitor) Snapshot() map[string]types.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]types.HealthStatus, len(m.statuses))
	for id, st := range m.statuses {
		out[id] = st
	}
	return out
}

// OllamaStatus reports the last external LLM probe result and the configured
// model, when any.
func (m *Monitor) OllamaStatus() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ollamaOK, m.ollamaModel
}

func (m *Monitor) probeOllama(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.ollamaURL+"/api/tags", nil)
	if err != nil {
		return
	}
	resp, err := m.client.Do(req)

	ok := err == nil && resp.StatusCode >= 200 && resp.StatusCode <= 299
	if resp != nil {
		resp.Body.Close()
	}

	m.mu.Lock()
	was := m.ollamaOK
	m.ollamaOK = ok
	m.mu.Unlock()

	if was && !ok {
		log.WithComponent("health").Warn().Str("url", m.ollamaURL).Msg("external LLM runtime unreachable")
		m.bus.Publish(types.EventTroubleAlert, "health", map[string]any{
			"service": "ollama",
			"url":     m.ollamaURL,
		})
	}
}
