package types

import (
	"time"
)

// Fact is a persisted, confidence-scored assertion about a user.
// (User, Key) is unique within the fact store.
type Fact struct {
	User       string    `json:"user"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	Category   string    `json:"category"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SemanticFact is a fact promoted for semantic retrieval. The text and its
// embedding always travel together; revisions get a new ID.
type SemanticFact struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
	Key        string    `json:"key"`
	Confidence float64   `json:"confidence"`
	Category   string    `json:"category"`
	CreatedAt  time.Time `json:"created_at"`
}

// SemanticHit is a single nearest-neighbour result from the vector index.
// Scores are normalised so that higher means more similar.
type SemanticHit struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Text     string            `json:"text,omitempty"`
	Key      string            `json:"key,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ModuleManifest describes a module as declared in its module_info.json.
type ModuleManifest struct {
	ModuleID          string            `json:"module_id" validate:"required,hostname_rfc1123"`
	Name              string            `json:"name" validate:"required"`
	Version           string            `json:"version" validate:"required,semver"`
	Ports             ManifestPorts     `json:"ports"`
	EntryPoint        string            `json:"entry_point" validate:"required"`
	AutoStart         bool              `json:"auto_start"`
	DependsOn         []string          `json:"depends_on"`
	DeclaredEndpoints []string          `json:"declared_endpoints,omitempty"`
	Description       string            `json:"description,omitempty"`
	HealthRoute       string            `json:"health_route,omitempty"`
	Env               map[string]string `json:"env,omitempty"`

	// Dir is the module directory the manifest was discovered in.
	// Not part of the on-disk manifest.
	Dir string `json:"-"`
}

// ManifestPorts holds the port block of a manifest. API may be zero when the
// module has no port preference.
type ManifestPorts struct {
	API int `json:"api"`
}

// ModuleState represents the lifecycle state of a supervised module.
type ModuleState string

const (
	ModuleStateRegistered ModuleState = "registered"
	ModuleStateStarting   ModuleState = "starting"
	ModuleStateHealthy    ModuleState = "healthy"
	ModuleStateDegraded   ModuleState = "degraded"
	ModuleStateUnhealthy  ModuleState = "unhealthy"
	ModuleStateStopping   ModuleState = "stopping"
	ModuleStateStopped    ModuleState = "stopped"
)

// AllModuleStates lists every lifecycle state, in lifecycle order.
var AllModuleStates = []ModuleState{
	ModuleStateRegistered,
	ModuleStateStarting,
	ModuleStateHealthy,
	ModuleStateDegraded,
	ModuleStateUnhealthy,
	ModuleStateStopping,
	ModuleStateStopped,
}

// ModuleRuntime is the registry's runtime record for one module.
// At most one live child process exists per ModuleID, and AssignedPort is
// unique across the runtime table.
type ModuleRuntime struct {
	ModuleID     string      `json:"module_id"`
	AssignedPort int         `json:"assigned_port"`
	PID          int         `json:"pid,omitempty"`
	State        ModuleState `json:"state"`
	StateReason  string      `json:"state_reason,omitempty"`
	LastHealth   string      `json:"last_health,omitempty"`
	LastProbeAt  time.Time   `json:"last_probe_at,omitempty"`
	StartedAt    time.Time   `json:"started_at,omitempty"`
	Restarts     int         `json:"restarts,omitempty"`
}

// Event is a single bus event. IDs are assigned monotonically by the bus
// within a process; types are dot-separated tokens.
type Event struct {
	ID        uint64         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Known event types. This list doubles as the suite's event taxonomy;
// payload shapes per type are fixed.
const (
	EventModuleStateChanged = "module.state_changed"
	EventModulePortConflict = "module.port_conflict"
	EventModuleRestarted    = "module.restarted"
	EventModuleFixed        = "module.fixed"
	EventTroubleAlert       = "trouble.alert"
	EventSyncSuccess        = "sync.success"
	EventSyncFailure        = "sync.failure"
	EventForwarderDropped   = "bus.forwarder_dropped"
	EventDiagTransition     = "diag.transition"
)

// HealthStatus is the decoded module /health response.
type HealthStatus struct {
	Status        string            `json:"status"`
	ModuleID      string            `json:"module_id"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds float64           `json:"uptime_seconds,omitempty"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// ContextBundle is the bounded per-query snapshot assembled by the context
// graph. Sections are optional and replaced wholesale, never merged in place.
type ContextBundle struct {
	User         string                 `json:"user"`
	Query        string                 `json:"query,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Facts        []Fact                 `json:"facts,omitempty"`
	SemanticHits []SemanticHit          `json:"semantic_hits,omitempty"`
	ModuleStatus map[string]ModuleState `json:"module_status,omitempty"`
	RecentEvents []Event                `json:"recent_events,omitempty"`
	Remote       *RemoteExcerpt         `json:"remote_excerpt,omitempty"`
	Metadata     BundleMetadata         `json:"metadata"`
}

// RemoteExcerpt is the peer-contributed slice of a context bundle.
type RemoteExcerpt struct {
	Facts     []Fact    `json:"facts,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
	PeerTS    time.Time `json:"peer_ts,omitempty"`
}

// BundleMetadata carries build diagnostics for a bundle.
type BundleMetadata struct {
	CacheHit         bool     `json:"cache_hit"`
	DegradedSections []string `json:"degraded_sections,omitempty"`
	TrimmedSections  []string `json:"trimmed_sections,omitempty"`
	BuildMillis      int64    `json:"build_ms"`
}

// SyncDirection distinguishes push from pull envelopes.
type SyncDirection string

const (
	SyncPush SyncDirection = "push"
	SyncPull SyncDirection = "pull"
)

// SyncEnvelope is the wire form of a context sync exchange. Exactly one of
// Bundle or Ciphertext is set; both peers must agree on the encryption choice.
type SyncEnvelope struct {
	User       string         `json:"user"`
	Direction  SyncDirection  `json:"direction,omitempty"`
	Bundle     *ContextBundle `json:"bundle,omitempty"`
	Ciphertext string         `json:"bundle_ciphertext,omitempty"`
	Compressed bool           `json:"compressed,omitempty"`
	TS         time.Time      `json:"ts"`
}

// RemoteTask names a task the peer has declared for offload.
type RemoteTask string

const (
	RemoteTaskRAGQuery   RemoteTask = "rag_query"
	RemoteTaskBackupPush RemoteTask = "backup_push"
)

// DiagStatus is a diagnostics probe verdict for one service.
type DiagStatus string

const (
	DiagReachable    DiagStatus = "reachable"
	DiagUncertain    DiagStatus = "uncertain"
	DiagNotReachable DiagStatus = "not_reachable"
)

// VectorStoreKind selects the vector index backend.
type VectorStoreKind string

const (
	// VectorStoreFlat is the embedded flat index; no external service needed.
	VectorStoreFlat VectorStoreKind = "flat-like"
	// VectorStoreChroma is a chroma-like external ANN service over HTTP.
	VectorStoreChroma VectorStoreKind = "chroma-like"
)

// Provider selects where embeddings and generation run.
type Provider string

const (
	ProviderLocalLLM  Provider = "local-llm"
	ProviderRemoteLLM Provider = "remote-llm"
)
