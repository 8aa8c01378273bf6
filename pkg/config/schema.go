package config

// Recognised option paths. The comments state the effect of each value so
// the schema lives in exactly one place.
const (
	// KeyVectorStore selects the index backend: "flat-like" needs no
	// external service, "chroma-like" needs a running ANN service.
	KeyVectorStore = "vector_store"

	// KeyProvider selects where embeddings run: "local-llm" | "remote-llm".
	KeyProvider = "provider"

	// KeyChromaURL locates the chroma-like service; only consulted when
	// vector_store is "chroma-like".
	KeyChromaURL = "vector.chroma_url"

	// KeyAuthToken is the suite-wide bearer token (secret).
	KeyAuthToken = "auth_token"

	KeyHTTPPort          = "http.port"
	KeyBindLocalhostOnly = "http.bind_localhost_only"

	KeyModulesDir    = "modules.dir"
	KeyPortRangeMin  = "modules.port_range_min"
	KeyPortRangeMax  = "modules.port_range_max"
	KeyStartupBudget = "modules.startup_budget_s"
	KeyGracePeriod   = "modules.grace_period_s"

	KeyHealthInterval    = "health.interval_s"
	KeyHealthTimeout     = "health.timeout_s"
	KeyHealthFailures    = "health.failure_threshold"
	KeyHealthConcurrency = "health.max_inflight"
	KeyOllamaURL         = "health.ollama_url"
	KeyOllamaModel       = "health.ollama_model"

	KeyCloudEnabled      = "cloud.enabled"
	KeyCloudPeerURL      = "cloud.peer_url"
	KeyCloudAuthToken    = "cloud.auth_token" // secret; distinct trust boundary
	KeyCloudSyncInterval = "cloud.sync_interval_s"
	KeyCloudSyncUser     = "cloud.sync_user"
	KeyCloudVerifyTLS    = "cloud.verify_tls"
	KeyCloudEncrypt      = "cloud.encrypt"

	KeyForwarderURL   = "events.webhook_url"
	KeyForwarderTypes = "events.forward_types"

	KeyFactsCompactMB = "facts.compact_threshold_mb"

	KeyLogLevel = "log.level"
	KeyLogDir   = "log.dir"
)

// SecretPaths are the dotted paths wrapped at rest with the wrapper key.
func SecretPaths() []string {
	return []string{KeyAuthToken, KeyCloudAuthToken}
}

// KnownPaths lists every recognised option path. Environment override
// resolution depends on this list: underscores appear in both separators
// and leaf names (cloud.peer_url), so HEARTH_* keys are matched against
// these paths rather than split blindly.
func KnownPaths() []string {
	return []string{
		KeyVectorStore,
		KeyProvider,
		KeyChromaURL,
		KeyAuthToken,
		KeyHTTPPort,
		KeyBindLocalhostOnly,
		KeyModulesDir,
		KeyPortRangeMin,
		KeyPortRangeMax,
		KeyStartupBudget,
		KeyGracePeriod,
		KeyHealthInterval,
		KeyHealthTimeout,
		KeyHealthFailures,
		KeyHealthConcurrency,
		KeyOllamaURL,
		KeyOllamaModel,
		KeyCloudEnabled,
		KeyCloudPeerURL,
		KeyCloudAuthToken,
		KeyCloudSyncInterval,
		KeyCloudSyncUser,
		KeyCloudVerifyTLS,
		KeyCloudEncrypt,
		KeyForwarderURL,
		KeyForwarderTypes,
		KeyFactsCompactMB,
		KeyLogLevel,
		KeyLogDir,
	}
}

// Defaults returns the built-in configuration layer.
func Defaults() map[string]any {
	return map[string]any{
		"vector_store": string("flat-like"),
		"provider":     string("local-llm"),
		"vector": map[string]any{
			"chroma_url": "http://127.0.0.1:8000",
		},
		"http": map[string]any{
			"port":                5000,
			"bind_localhost_only": true,
		},
		"modules": map[string]any{
			"dir":              "modules",
			"port_range_min":   5000,
			"port_range_max":   5999,
			"startup_budget_s": 30,
			"grace_period_s":   5,
		},
		"health": map[string]any{
			"interval_s":        30,
			"timeout_s":         3,
			"failure_threshold": 3,
			"max_inflight":      8,
			"ollama_url":        "http://127.0.0.1:11434",
		},
		"cloud": map[string]any{
			"enabled":         false,
			"sync_interval_s": 900,
			"sync_user":       "default",
			"verify_tls":      true,
			"encrypt":         true,
		},
		"events": map[string]any{
			"forward_types": []any{"trouble.alert", "module.fixed", "sync.success"},
		},
		"facts": map[string]any{
			"compact_threshold_mb": 100,
		},
		"log": map[string]any{
			"level": "info",
			"dir":   "logs",
		},
	}
}
