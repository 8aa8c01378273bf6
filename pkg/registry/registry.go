package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/events"
	"github.com/hearthd/hearth/pkg/log"
	"github.com/hearthd/hearth/pkg/metrics"
	"github.com/hearthd/hearth/pkg/types"
)

const (
	// StateFile is the persisted runtime snapshot, relative to the state
	// directory.
	StateFile = "modules.json"

	// maxCrashRestarts bounds automatic restarts per module between
	// explicit starts.
	maxCrashRestarts = 3

	crashRestartDelay = 5 * time.Second
)

type entry struct {
	manifest types.ModuleManifest
	runtime  types.ModuleRuntime
	proc     *process
	restarts int
}

// Registry owns module discovery, port assignment, and the child-process
// lifecycle. All state transitions for one module are serialised by the
// registry lock; module.state_changed events fire after each transition.
type Registry struct {
	cfg      *config.Store
	bus      *events.Bus
	validate *validator.Validate
	ports    *PortAllocator
	client   *http.Client

	stateDir  string
	authToken string

	mu       sync.Mutex
	entries  map[string]*entry
	order    []string
	stopping bool
}

// New creates a registry. stateDir holds the persisted runtime snapshot.
func New(cfg *config.Store, bus *events.Bus, stateDir, authToken string) *Registry {
	return &Registry{
		cfg:       cfg,
		bus:       bus,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		ports:     NewPortAllocator(cfg.GetInt(config.KeyPortRangeMin, 5000), cfg.GetInt(config.KeyPortRangeMax, 5999)),
		client:    &http.Client{Timeout: 3 * time.Second},
		stateDir:  stateDir,
		authToken: authToken,
	}
}

// DiscoverAll scans the modules directory, validates manifests, computes the
// dependency order, and seeds the runtime table. Persisted port assignments
// from a previous run take precedence over manifest preferences.
func (r *Registry) DiscoverAll() error {
	dir := r.cfg.GetString(config.KeyModulesDir, "modules")
	manifests, err := Discover(dir, r.validate)
	if err != nil {
		return err
	}

	order, err := startOrder(manifests)
	if err != nil {
		return err
	}

	persisted := r.loadPersisted()

	r.mu.Lock()
	r.entries = make(map[string]*entry, len(manifests))
	r.order = order
	for _, m := range manifests {
		rt := types.ModuleRuntime{
			ModuleID: m.ModuleID,
			State:    types.ModuleStateRegistered,
		}
		if prev, ok := persisted[m.ModuleID]; ok && prev.AssignedPort != 0 {
			rt.AssignedPort = prev.AssignedPort
		}
		r.entries[m.ModuleID] = &entry{manifest: m, runtime: rt}
	}
	r.mu.Unlock()

	log.WithComponent("registry").Info().
		Int("modules", len(manifests)).
		Str("dir", dir).
		Msg("discovery complete")
	return nil
}

// StartAll starts every auto_start module in dependency order. A module
// whose dependency did not become healthy is failed with dependency_unmet
// instead of being launched. Per-module failures are recorded, not returned;
// the registry keeps supervising the rest.
func (r *Registry) StartAll(ctx context.Context) {
	r.mu.Lock()
	order := append([]string(nil), r.order...)
	r.mu.Unlock()

	for _, id := range order {
		r.mu.Lock()
		e, ok := r.entries[id]
		if !ok || !e.manifest.AutoStart {
			r.mu.Unlock()
			continue
		}
		unmet := r.unmetDependencyLocked(e)
		r.mu.Unlock()

		if unmet != "" {
			r.setState(id, types.ModuleStateUnhealthy, "dependency_unmet: "+unmet)
			continue
		}
		if err := r.StartModule(ctx, id); err != nil {
			log.WithComponent("registry").Error().Err(err).Str("module_id", id).Msg("module failed to start")
		}
	}
	r.persist()
}

// unmetDependencyLocked returns the first dependency of e that is not
// healthy or degraded, or "" when all are satisfied. Caller holds r.mu.
func (r *Registry) unmetDependencyLocked(e *entry) string {
	for _, dep := range e.manifest.DependsOn {
		d, ok := r.entries[dep]
		if !ok {
			return dep
		}
		if d.runtime.State != types.ModuleStateHealthy && d.runtime.State != types.ModuleStateDegraded {
			return dep
		}
	}
	return ""
}

// StartModule allocates a port, launches the child, and waits for readiness
// within the startup budget.
func (r *Registry) StartModule(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModule, id)
	}
	if e.proc != nil {
		r.mu.Unlock()
		return nil // at most one child per module
	}
	requested := e.runtime.AssignedPort
	if requested == 0 {
		requested = e.manifest.Ports.API
	}
	manifest := e.manifest
	r.mu.Unlock()

	r.setState(id, types.ModuleStateStarting, "")

	port, err := r.ports.Allocate(id, requested)
	if err != nil {
		r.setState(id, types.ModuleStateUnhealthy, "port_exhausted")
		r.bus.Publish(types.EventModulePortConflict, "registry", map[string]any{
			"module_id": id,
			"requested": requested,
		})
		return err
	}

	proc, err := launch(manifest, port, r.authToken)
	if err != nil {
		r.ports.Release(port)
		r.setState(id, types.ModuleStateUnhealthy, "launch_failed: "+err.Error())
		return err
	}

	r.mu.Lock()
	e.proc = proc
	e.restarts = 0
	e.runtime.AssignedPort = port
	e.runtime.PID = proc.pid()
	e.runtime.StartedAt = time.Now().UTC()
	r.mu.Unlock()

	budget := r.cfg.GetDuration(config.KeyStartupBudget, 30*time.Second)
	status, err := waitReady(ctx, r.client, manifest, port, budget)
	if err != nil {
		proc.stop(r.grace())
		r.clearProcess(id)
		r.setState(id, types.ModuleStateUnhealthy, "start_timeout")
		return err
	}

	state := types.ModuleStateHealthy
	if status.Status == "degraded" {
		state = types.ModuleStateDegraded
	}
	r.setState(id, state, "")
	r.persist()

	go r.superviseExit(id, proc)
	return nil
}

// superviseExit watches for an unexpected child exit and restarts the
// module a bounded number of times.
func (r *Registry) superviseExit(id string, proc *process) {
	exitErr := <-proc.waitCh

	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.proc != proc || r.stopping || e.runtime.State == types.ModuleStateStopping {
		r.mu.Unlock()
		return
	}
	e.proc = nil
	e.runtime.PID = 0
	e.restarts++
	restarts := e.restarts
	e.runtime.Restarts++
	port := e.runtime.AssignedPort
	r.mu.Unlock()

	r.ports.Release(port)
	log.WithComponent("registry").Warn().
		Str("module_id", id).
		AnErr("exit", exitErr).
		Int("restarts", restarts).
		Msg("module exited unexpectedly")
	r.setState(id, types.ModuleStateUnhealthy, "crashed")

	if restarts > maxCrashRestarts {
		log.WithComponent("registry").Error().
			Str("module_id", id).
			Msg("restart budget exhausted, leaving module down")
		return
	}

	time.Sleep(crashRestartDelay)
	metrics.ModuleRestarts.WithLabelValues(id).Inc()
	r.bus.Publish(types.EventModuleRestarted, "registry", map[string]any{
		"module_id": id,
		"restarts":  restarts,
	})
	if err := r.restart(id, restarts); err != nil {
		log.WithComponent("registry").Error().Err(err).Str("module_id", id).Msg("restart failed")
	}
}

// restart is StartModule minus the restart-counter reset.
func (r *Registry) restart(id string, restarts int) error {
	err := r.StartModule(context.Background(), id)
	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		e.restarts = restarts
	}
	r.mu.Unlock()
	return err
}

// StopModule gracefully stops one module and releases its port.
func (r *Registry) StopModule(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModule, id)
	}
	proc := e.proc
	port := e.runtime.AssignedPort
	r.mu.Unlock()

	if proc == nil {
		r.setState(id, types.ModuleStateStopped, "")
		return nil
	}

	r.setState(id, types.ModuleStateStopping, "")
	proc.stop(r.grace())
	r.clearProcess(id)
	r.ports.Release(port)
	r.setState(id, types.ModuleStateStopped, "")
	r.persist()
	return nil
}

// StopAll stops every running module in reverse dependency order.
func (r *Registry) StopAll() {
	r.mu.Lock()
	r.stopping = true
	order := append([]string(nil), r.order...)
	r.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		if err := r.StopModule(order[i]); err != nil {
			log.WithComponent("registry").Error().Err(err).Str("module_id", order[i]).Msg("stop failed")
		}
	}
}

// ApplyProbe records a health-monitor verdict for a module. The monitor owns
// the failure counting; the registry owns the transition and its event.
func (r *Registry) ApplyProbe(id string, state types.ModuleState, detail string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.runtime.LastProbeAt = time.Now().UTC()
	e.runtime.LastHealth = detail
	current := e.runtime.State
	r.mu.Unlock()

	// Probes only move between the live states.
	switch current {
	case types.ModuleStateHealthy, types.ModuleStateDegraded, types.ModuleStateUnhealthy:
		if current != state {
			r.setState(id, state, detail)
		}
	}
}

// Runtime returns a copy of one module's runtime record.
func (r *Registry) Runtime(id string) (types.ModuleRuntime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return types.ModuleRuntime{}, false
	}
	return e.runtime, true
}

// Manifest returns a copy of one module's manifest.
func (r *Registry) Manifest(id string) (types.ModuleManifest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return types.ModuleManifest{}, false
	}
	return e.manifest, true
}

// Snapshot returns a copy of every runtime record, sorted by module id.
func (r *Registry) Snapshot() []types.ModuleRuntime {
	r.mu.Lock()
	out := make([]types.ModuleRuntime, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.runtime)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out
}

// CountByState reports how many modules sit in each state.
func (r *Registry) CountByState() map[types.ModuleState]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[types.ModuleState]int, len(types.AllModuleStates))
	for _, e := range r.entries {
		counts[e.runtime.State]++
	}
	return counts
}

func (r *Registry) setState(id string, state types.ModuleState, reason string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	from := e.runtime.State
	e.runtime.State = state
	e.runtime.StateReason = reason
	r.mu.Unlock()

	if from == state {
		return
	}
	payload := map[string]any{
		"module_id": id,
		"from":      string(from),
		"to":        string(state),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	r.bus.Publish(types.EventModuleStateChanged, "registry", payload)
}

func (r *Registry) clearProcess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.proc = nil
		e.runtime.PID = 0
	}
}

func (r *Registry) grace() time.Duration {
	return r.cfg.GetDuration(config.KeyGracePeriod, 5*time.Second)
}

func (r *Registry) statePath() string {
	return filepath.Join(r.stateDir, StateFile)
}

// persist writes the runtime snapshot so port assignments survive restarts.
func (r *Registry) persist() {
	snap := r.Snapshot()
	byID := make(map[string]types.ModuleRuntime, len(snap))
	for _, rt := range snap {
		byID[rt.ModuleID] = rt
	}

	data, err := json.MarshalIndent(byID, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(r.stateDir, 0o750); err != nil {
		log.WithComponent("registry").Warn().Err(err).Msg("cannot create state directory")
		return
	}
	tmp := r.statePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.WithComponent("registry").Warn().Err(err).Msg("cannot persist runtime snapshot")
		return
	}
	if err := os.Rename(tmp, r.statePath()); err != nil {
		log.WithComponent("registry").Warn().Err(err).Msg("cannot persist runtime snapshot")
	}
}

func (r *Registry) loadPersisted() map[string]types.ModuleRuntime {
	data, err := os.ReadFile(r.statePath())
	if err != nil {
		return nil
	}
	var byID map[string]types.ModuleRuntime
	if err := json.Unmarshal(data, &byID); err != nil {
		log.WithComponent("registry").Warn().Err(err).Msg("ignoring undecodable runtime snapshot")
		return nil
	}
	return byID
}
