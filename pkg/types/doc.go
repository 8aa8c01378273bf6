/*
Package types defines the core data model shared across the Hearth suite.

All entities that cross package boundaries live here: facts, semantic facts
and hits, module manifests and runtime records, events, context bundles, and
sync envelopes. Keeping them in one dependency-free package avoids import
cycles between the registry, the event bus, the context graph, and the cloud
bridge.

# Entities

Fact:
  - A keyed, confidence-scored assertion about one user
  - (User, Key) unique; upsert preserves CreatedAt and advances UpdatedAt
  - Confidence is clamped to [0, 1] by the fact store

ModuleManifest / ModuleRuntime:
  - Manifest is the declared shape of a module (module_info.json)
  - Runtime is the registry's live record: assigned port, PID, state
  - Validation tags target go-playground/validator

Event:
  - Dot-separated type tokens (module.state_changed, trouble.alert, ...)
  - The Event* constants enumerate the suite's known taxonomy

ContextBundle:
  - The bounded snapshot returned by the context graph
  - Sections are optional and replaced wholesale

SyncEnvelope:
  - Wire form of cloud context sync; carries either a plain bundle or an
    encrypted, optionally compressed ciphertext

# State Machine

Module states follow a fixed transition graph:

	registered → starting → {healthy, unhealthy, degraded}
	healthy ↔ degraded                (probe results)
	healthy|degraded → unhealthy      (K consecutive probe failures)
	any → stopping → stopped

Transitions are serialised by the registry and published as
module.state_changed events.

# See Also

  - pkg/registry for lifecycle management
  - pkg/contextgraph for bundle assembly
  - pkg/bridge for sync envelope handling
*/
package types
