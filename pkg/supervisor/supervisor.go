package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/hearthd/hearth/pkg/api"
	"github.com/hearthd/hearth/pkg/bridge"
	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/contextgraph"
	"github.com/hearthd/hearth/pkg/events"
	"github.com/hearthd/hearth/pkg/facts"
	"github.com/hearthd/hearth/pkg/health"
	"github.com/hearthd/hearth/pkg/log"
	"github.com/hearthd/hearth/pkg/metrics"
	"github.com/hearthd/hearth/pkg/registry"
	"github.com/hearthd/hearth/pkg/security"
	"github.com/hearthd/hearth/pkg/types"
	"github.com/hearthd/hearth/pkg/vector"
)

// escalateWindow is how quickly a second signal forces termination.
const escalateWindow = 2 * time.Second

// Supervisor owns every subsystem and the boot/shutdown order. Subsystems
// are explicit singletons passed by reference; nothing does ambient lookup.
type Supervisor struct {
	baseDir string
	version string

	cfg       *config.Store
	factStore *facts.Store
	index     vector.Index
	bus       *events.Bus
	registry  *registry.Registry
	monitor   *health.Monitor
	bridge    *bridge.Bridge
	builder   *contextgraph.Builder
	server    *api.Server
	collector *metrics.Collector

	authToken string
	stopWatch func()

	cancel   context.CancelFunc
	stopOnce sync.Once
	stopping chan struct{}
}

// New prepares a supervisor rooted at baseDir. Fatal conditions — an
// unreadable config, a corrupted fact store, a missing wrapper key with
// secrets present — fail here with an error; everything else degrades at
// Run time.
func New(baseDir, version string) (*Supervisor, error) {
	s := &Supervisor{
		baseDir:  baseDir,
		version:  version,
		stopping: make(chan struct{}),
	}

	keyDir := filepath.Join(baseDir, "data", "keys")
	wrapperKey, err := security.LoadOrCreateKey(filepath.Join(keyDir, security.WrapperKeyFile))
	if err != nil {
		return nil, fmt.Errorf("wrapper key unavailable: %w", err)
	}
	box, err := security.NewBox(wrapperKey)
	if err != nil {
		return nil, err
	}

	s.cfg, err = config.Load(
		filepath.Join(baseDir, "config", "suite_config.json"),
		config.WithSecretBox(box),
		config.WithSecretPaths(config.SecretPaths()...),
	)
	if err != nil {
		return nil, err
	}

	if err := log.Init(log.Config{
		Level: log.Level(s.cfg.GetString(config.KeyLogLevel, "info")),
		Dir:   filepath.Join(baseDir, s.cfg.GetString(config.KeyLogDir, "logs")),
	}); err != nil {
		return nil, err
	}

	// First boot mints the suite token; it persists wrapped in the suite
	// config and is injected into every module's environment.
	s.authToken = s.cfg.GetString(config.KeyAuthToken, "")
	if s.authToken == "" {
		s.authToken, err = security.GenerateToken()
		if err != nil {
			return nil, err
		}
		if err := s.cfg.Set(config.KeyAuthToken, s.authToken, true); err != nil {
			return nil, fmt.Errorf("cannot persist suite token: %w", err)
		}
		log.WithComponent("supervisor").Info().Msg("generated suite auth token")
	}
	return s, nil
}

// Run boots the remaining subsystems in order and blocks until shutdown.
// Per-subsystem boot failures are logged and degrade the suite; only the
// fact store aborts.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	logger := log.WithComponent("supervisor")

	var err error
	s.factStore, err = facts.Open(
		filepath.Join(s.baseDir, "data", "facts"),
		facts.WithCompactThreshold(int64(s.cfg.GetInt(config.KeyFactsCompactMB, 100))<<20),
	)
	if err != nil {
		return fmt.Errorf("fact store unusable: %w", err)
	}

	kind := types.VectorStoreKind(s.cfg.GetString(config.KeyVectorStore, "flat-like"))
	s.index, err = vector.New(kind, filepath.Join(s.baseDir, "data", "vectors"), s.cfg.GetString(config.KeyChromaURL, ""))
	if err != nil {
		logger.Error().Err(err).Msg("vector index unavailable, semantic recall disabled")
		s.index = nil
	}

	s.bus = events.NewBus(events.WithForwarder(s.forwarder()))
	s.bus.Subscribe(types.EventModuleStateChanged, func(ev types.Event) {
		logger.Info().
			Any("module_id", ev.Payload["module_id"]).
			Any("from", ev.Payload["from"]).
			Any("to", ev.Payload["to"]).
			Msg("module state changed")
	})

	if modulesDir := s.cfg.GetString(config.KeyModulesDir, "modules"); !filepath.IsAbs(modulesDir) {
		_ = s.cfg.Set(config.KeyModulesDir, filepath.Join(s.baseDir, modulesDir), false)
	}
	s.registry = registry.New(s.cfg, s.bus, filepath.Join(s.baseDir, "state"), s.authToken)
	if err := s.registry.DiscoverAll(); err != nil {
		logger.Error().Err(err).Msg("module discovery failed, continuing without modules")
	} else {
		s.registry.StartAll(ctx)
	}

	s.monitor = health.New(s.cfg, s.registry, s.bus)
	s.monitor.Start(ctx)

	s.bridge = bridge.New(s.cfg, s.bus, s.sharedBox())
	s.builder = contextgraph.NewBuilder(s.factStore, s.index, s.embedder(), s.registry, s.bus, s.bridge)
	s.bridge.StartAutoSync(ctx, bundleSource{s.builder})

	s.collector = metrics.NewCollector(s.registry, 15*time.Second)
	s.collector.Start(ctx)

	if stop, err := s.cfg.Watch(); err == nil {
		s.stopWatch = stop
	} else {
		logger.Debug().Err(err).Msg("config watch unavailable")
	}

	s.server = api.NewServer(api.Deps{
		Config:    s.cfg,
		Registry:  s.registry,
		Monitor:   s.monitor,
		Builder:   s.builder,
		Bridge:    s.bridge,
		Bus:       s.bus,
		AuthToken: s.authToken,
		Version:   s.version,
		Shutdown:  s.Shutdown,
	})

	serverErr := make(chan error, 1)
	go func() { serverErr <- s.server.Start() }()
	go s.watchSignals()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("http surface failed")
		}
		s.Shutdown()
		<-s.stopping
		return err
	case <-s.stopping:
		return nil
	}
}

// Shutdown runs the reverse boot order with grace. Safe to call more than
// once; later calls wait for the first.
func (s *Supervisor) Shutdown() {
	s.stopOnce.Do(s.shutdown)
}

func (s *Supervisor) shutdown() {
	logger := log.WithComponent("supervisor")
	logger.Info().Msg("shutting down")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.server.Stop(ctx); err != nil {
			logger.Warn().Err(err).Msg("http surface did not drain")
		}
		cancel()
	}
	if s.stopWatch != nil {
		s.stopWatch()
	}
	if s.bridge != nil {
		s.bridge.StopAutoSync()
	}
	if s.collector != nil {
		s.collector.Stop()
	}
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if s.registry != nil {
		s.registry.StopAll()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			logger.Warn().Err(err).Msg("vector index close failed")
		}
	}
	if s.factStore != nil {
		if err := s.factStore.Close(); err != nil {
			logger.Warn().Err(err).Msg("fact store close failed")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	logger.Info().Msg("shutdown complete")
	log.Close()
	close(s.stopping)
}

// Degraded reports whether any module ended up unhealthy, for the CLI's
// partial-degradation exit code.
func (s *Supervisor) Degraded() bool {
	if s.registry == nil {
		return false
	}
	return s.registry.CountByState()[types.ModuleStateUnhealthy] > 0
}

// watchSignals turns the first INT/TERM into a graceful stop and a second
// one within 2 s into forced termination.
func (s *Supervisor) watchSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	first := time.Now()
	go s.Shutdown()

	select {
	case <-sigCh:
		if time.Since(first) < escalateWindow {
			log.WithComponent("supervisor").Error().Msg("second signal, terminating immediately")
			os.Exit(4)
		}
	case <-s.stopping:
	}
}

func (s *Supervisor) forwarder() *events.Forwarder {
	url := s.cfg.GetString(config.KeyForwarderURL, "")
	if url == "" {
		return nil
	}
	var forwardTypes []string
	if raw, err := s.cfg.Get(config.KeyForwarderTypes); err == nil {
		if list, ok := raw.([]any); ok {
			for _, item := range list {
				if t, ok := item.(string); ok {
					forwardTypes = append(forwardTypes, t)
				}
			}
		}
	}
	f := events.NewForwarder(url, forwardTypes)
	f.Start()
	return f
}

// sharedBox loads the peer-shared symmetric key when encrypted sync is on.
func (s *Supervisor) sharedBox() *security.Box {
	if !s.cfg.GetBool(config.KeyCloudEnabled, false) || !s.cfg.GetBool(config.KeyCloudEncrypt, true) {
		return nil
	}
	key, err := security.LoadOrCreateKey(filepath.Join(s.baseDir, "data", "keys", security.SharedKeyFile))
	if err != nil {
		log.WithComponent("supervisor").Error().Err(err).Msg("shared key unavailable, cloud payloads stay local")
		return nil
	}
	box, err := security.NewBox(key)
	if err != nil {
		log.WithComponent("supervisor").Error().Err(err).Msg("shared key unusable")
		return nil
	}
	return box
}

func (s *Supervisor) embedder() contextgraph.Embedder {
	if s.cfg.GetString(config.KeyProvider, "local-llm") != "local-llm" {
		return nil
	}
	return contextgraph.NewOllamaEmbedder(
		s.cfg.GetString(config.KeyOllamaURL, "http://127.0.0.1:11434"),
		s.cfg.GetString(config.KeyOllamaModel, ""),
	)
}

// bundleSource adapts the context builder to the bridge's push interface.
type bundleSource struct {
	builder *contextgraph.Builder
}

func (b bundleSource) Build(ctx context.Context, user string) (*types.ContextBundle, error) {
	bundle, err := b.builder.Build(ctx, user, "", contextgraph.Options{IncludeSemantic: false})
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

// Invalidate drops the cached bundle after a sync cycle pulled fresh peer
// data, so the next build re-merges it.
func (b bundleSource) Invalidate(user string) {
	b.builder.Invalidate(user)
}
