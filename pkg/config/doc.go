/*
Package config implements Hearth's layered configuration store.

# Layers

Precedence, lowest to highest:

 1. Built-in defaults (Defaults in schema.go)
 2. Suite file: config/suite_config.json (or .yaml)
 3. Per-module files: config/{module_id}_config.json
 4. Environment: HEARTH_* variables (never persisted)

Reads resolve against a lock-free merged snapshot rebuilt atomically on every
write or reload. Paths are dotted names (cloud.peer_url). The full set of
recognised options lives in schema.go, one constant per path.

# Secrets

Paths declared with WithSecretPaths are wrapped with AES-256-GCM using the
process-local wrapper key (pkg/security) before touching disk, stored with an
"enc:" prefix, and unwrapped transparently on read. Without the wrapper key
both reads and writes of secret paths fail with ErrSecretsLocked. Plaintext
secrets are never written back to any file.

# Persistence

Set(path, value, persistent=true) rewrites the suite file atomically: temp
file, fsync, rename. Watch() keeps the snapshot fresh via fsnotify when the
file changes underneath the process.

# Usage

	store, err := config.Load("config/suite_config.json",
		config.WithSecretBox(box),
		config.WithSecretPaths(config.SecretPaths()...))

	port := store.GetInt(config.KeyHTTPPort, 5000)
	interval := store.GetDuration(config.KeyCloudSyncInterval, 15*time.Minute)
*/
package config
