/*
Package supervisor boots, wires, and tears down every suite subsystem.

# Architecture

	┌─────────────────────────── supervisor ───────────────────────────┐
	│                                                                  │
	│  keys → config → logger → token                                  │
	│        ↓                                                         │
	│  facts → vector → bus → registry → health → bridge → builder     │
	│        ↓                                                         │
	│  collector → config watch → http surface                         │
	│                                                                  │
	└──────────────────────────────────────────────────────────────────┘

# Core Behaviours

  - Boot is ordered: storage before the bus, the bus before the registry,
    the registry before health, everything before the HTTP surface.
  - Only the fact store is fatal at Run time; a missing vector index or
    an unreachable cloud peer degrades the suite instead of killing it.
  - Shutdown runs the exact reverse order with a drain grace per
    subsystem, and is idempotent.
  - A first INT/TERM starts a graceful stop; a second one within two
    seconds terminates the process immediately.

# Usage

	s, err := supervisor.New(baseDir, version)
	if err != nil {
	    return err // config or key trouble, nothing was started
	}
	return s.Run(ctx) // blocks until shutdown

# Integration Points

  - pkg/security: wrapper key for config secrets, shared key for the
    cloud bridge, first-boot token mint.
  - pkg/registry, pkg/health, pkg/bridge, pkg/contextgraph: the owned
    singletons; the supervisor is the only place they meet.
  - pkg/api: the HTTP surface gets a Shutdown callback so POST /shutdown
    reaches the same path as a signal.
*/
package supervisor
