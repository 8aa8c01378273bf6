/*
Package registry supervises domain modules: it discovers manifests,
assigns ports, launches child processes, and owns the module state machine.

# Architecture

	modules/<name>/module_info.json
	        │ Discover (validate, dedupe)
	        ▼
	┌───────────────┐  topological   ┌──────────────┐
	│   manifests   │ ─────────────> │  StartAll    │
	└───────────────┘   depends_on   └──────┬───────┘
	                                        │ per module
	              ┌─────────────────────────┼──────────────────────┐
	              ▼                         ▼                      ▼
	       PortAllocator             launch(entry_point)     waitReady /health
	   bind-probe, lowest free    PORT + AUTH_TOKEN in env   500ms→5s backoff
	       >= requested                                      within 30s budget

# State Machine

	registered → starting → {healthy, degraded, unhealthy}
	                 healthy ↔ degraded        (probe results)
	     healthy|degraded → unhealthy          (K consecutive failures)
	             any live → stopping → stopped

Every transition publishes module.state_changed. Transitions for one module
never overlap; the registry lock serialises them.

# Core Behaviours

  - At most one child process per module id.
  - Port allocation never double-assigns: the runtime table and a real
    loopback bind both have to agree the port is free. Exhaustion marks the
    module unhealthy and publishes module.port_conflict.
  - Port assignments persist in state/modules.json and are preferred over
    manifest requests on the next boot.
  - A crashed module is restarted up to 3 times with a 5 s delay, announced
    with module.restarted; then it stays down until an explicit start.
  - Dependency cycles abort discovery; a failed dependency fails its
    dependants with dependency_unmet instead of launching them.

# Integration Points

  - pkg/health drives healthy/degraded/unhealthy through ApplyProbe
  - pkg/api serves Snapshot through GET /modules
  - pkg/metrics samples CountByState for the modules-by-state gauge
*/
package registry
