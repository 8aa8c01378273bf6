package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hearthd/hearth/pkg/security"
)

// Sentinel errors.
var (
	ErrNotFound      = errors.New("config: path not found")
	ErrInvalid       = errors.New("config: type mismatch")
	ErrSecretsLocked = errors.New("config: secrets locked, wrapper key missing")
)

// secretPrefix marks wrapped values in persisted files.
const secretPrefix = "enc:"

// EnvPrefix is the prefix for environment overrides. HEARTH_CLOUD_PEER_URL
// overrides cloud.peer_url. Environment values are never persisted.
const EnvPrefix = "HEARTH_"

// Store is the layered configuration store. Precedence, lowest to highest:
// built-in defaults, suite file, per-module files, environment.
// Reads go through a lock-free snapshot; writes rebuild it atomically.
type Store struct {
	mu        sync.Mutex
	suitePath string
	moduleDir string

	defaults map[string]any
	suite    map[string]any
	modules  map[string]map[string]any

	secretPaths map[string]bool
	box         *security.Box

	snapshot atomic.Pointer[map[string]any]
}

// Option configures a Store.
type Option func(*Store)

// WithSecretBox supplies the wrapper-key box used to wrap and unwrap secret
// values. Without it, reading or writing a declared secret path fails with
// ErrSecretsLocked.
func WithSecretBox(box *security.Box) Option {
	return func(s *Store) { s.box = box }
}

// WithSecretPaths declares which dotted paths hold secrets.
func WithSecretPaths(paths ...string) Option {
	return func(s *Store) {
		for _, p := range paths {
			s.secretPaths[p] = true
		}
	}
}

// Load reads the suite config file (JSON or YAML by extension) and any
// per-module config files (config/{module_id}_config.json) next to it.
// A missing suite file is not an error; defaults still apply.
func Load(suitePath string, opts ...Option) (*Store, error) {
	s := &Store{
		suitePath:   suitePath,
		moduleDir:   filepath.Dir(suitePath),
		defaults:    Defaults(),
		suite:       map[string]any{},
		modules:     map[string]map[string]any{},
		secretPaths: map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads all file layers and rebuilds the snapshot.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	suite, err := readConfigFile(s.suitePath)
	if err != nil {
		return fmt.Errorf("failed to read suite config: %w", err)
	}
	s.suite = suite

	modules := map[string]map[string]any{}
	entries, err := os.ReadDir(s.moduleDir)
	if err == nil {
		for _, e := range entries {
			name := e.Name()
			if !strings.HasSuffix(name, "_config.json") || name == filepath.Base(s.suitePath) {
				continue
			}
			moduleID := strings.TrimSuffix(name, "_config.json")
			m, err := readConfigFile(filepath.Join(s.moduleDir, name))
			if err != nil {
				continue // a broken module file never takes the suite down
			}
			modules[moduleID] = m
		}
	}
	s.modules = modules

	s.rebuildSnapshot()
	return nil
}

// Get returns the effective value at a dotted path, or ErrNotFound.
// Declared secret values are unwrapped transparently.
func (s *Store) Get(path string) (any, error) {
	snap := s.snapshot.Load()
	if snap == nil {
		return nil, ErrNotFound
	}
	v, ok := lookup(*snap, path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if s.secretPaths[path] {
		str, ok := v.(string)
		if ok && strings.HasPrefix(str, secretPrefix) {
			if s.box == nil {
				return nil, ErrSecretsLocked
			}
			plain, err := s.box.OpenString(strings.TrimPrefix(str, secretPrefix))
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrSecretsLocked, path)
			}
			return plain, nil
		}
	}
	return v, nil
}

// GetString returns a string value, or def when absent.
func (s *Store) GetString(path, def string) string {
	v, err := s.Get(path)
	if err != nil {
		return def
	}
	if str, ok := v.(string); ok {
		return str
	}
	return def
}

// GetInt returns an int value, or def when absent or mistyped.
func (s *Store) GetInt(path string, def int) int {
	v, err := s.Get(path)
	if err != nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// GetBool returns a bool value, or def when absent or mistyped.
func (s *Store) GetBool(path string, def bool) bool {
	v, err := s.Get(path)
	if err != nil {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if p, err := strconv.ParseBool(b); err == nil {
			return p
		}
	}
	return def
}

// GetFloat returns a float64 value, or def when absent or mistyped.
func (s *Store) GetFloat(path string, def float64) float64 {
	v, err := s.Get(path)
	if err != nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return def
}

// GetDuration reads an integer number of seconds at path.
func (s *Store) GetDuration(path string, def time.Duration) time.Duration {
	secs := s.GetInt(path, -1)
	if secs < 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// Set updates a dotted path in the suite layer. With persistent=true the
// suite file is rewritten atomically; secret paths are wrapped before they
// touch disk and environment overrides are never written back.
func (s *Store) Set(path string, value any, persistent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	toStore := value
	if s.secretPaths[path] {
		if s.box == nil {
			return ErrSecretsLocked
		}
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: secret at %s must be a string", ErrInvalid, path)
		}
		sealed, err := s.box.SealString(str)
		if err != nil {
			return fmt.Errorf("failed to wrap secret: %w", err)
		}
		toStore = secretPrefix + sealed
	}

	assign(s.suite, path, toStore)
	s.rebuildSnapshot()

	if !persistent {
		return nil
	}
	return writeConfigFile(s.suitePath, s.suite)
}

// Module returns the merged view for one module (suite values overridden by
// the module's own file).
func (s *Store) Module(moduleID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]any{}
	deepMerge(out, s.suite)
	if m, ok := s.modules[moduleID]; ok {
		deepMerge(out, m)
	}
	return out
}

// rebuildSnapshot merges all layers. Caller holds mu.
func (s *Store) rebuildSnapshot() {
	merged := map[string]any{}
	deepMerge(merged, s.defaults)
	deepMerge(merged, s.suite)
	applyEnv(merged)
	s.snapshot.Store(&merged)
}

// envPaths maps HEARTH_-stripped env keys to their dotted paths. Schema
// paths take priority so leaves containing underscores (cloud.peer_url,
// auth_token) resolve correctly.
var envPaths = func() map[string]string {
	out := map[string]string{}
	for _, p := range KnownPaths() {
		out[strings.ToUpper(strings.ReplaceAll(p, ".", "_"))] = p
	}
	return out
}()

// applyEnv overlays HEARTH_* environment variables, highest precedence.
func applyEnv(merged map[string]any) {
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		path, ok := envPaths[key]
		if !ok {
			// Unknown key: treat every underscore as a separator.
			path = strings.ToLower(strings.ReplaceAll(key, "_", "."))
		}
		assign(merged, path, kv[eq+1:])
	}
}

func lookup(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	cur := any(m)
	for _, p := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func assign(m map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		if i == len(parts)-1 {
			m[p] = value
			return
		}
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
}

func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			dv, ok := dst[k].(map[string]any)
			if !ok {
				dv = map[string]any{}
				dst[k] = dv
			}
			deepMerge(dv, sv)
			continue
		}
		dst[k] = v
	}
}

func readConfigFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	default:
		if len(data) == 0 {
			return out, nil
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return out, nil
}

// writeConfigFile persists atomically: write temp, fsync, rename.
func writeConfigFile(path string, cfg map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
