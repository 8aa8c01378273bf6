/*
Package events implements the in-process event bus and the optional HTTP
webhook forwarder.

# Architecture

	┌────────────┐   Publish    ┌─────────────┐   matched    ┌─────────────┐
	│ Publishers │ ───────────> │     Bus     │ ───────────> │ Subscribers │
	└────────────┘              │  ring (500) │  (sync, in   └─────────────┘
	                            └──────┬──────┘   sub order)
	                                   │ Offer (selected types)
	                            ┌──────▼──────┐    POST      ┌─────────────┐
	                            │  Forwarder  │ ───────────> │   Webhook   │
	                            │ queue (256) │  (3s, best   └─────────────┘
	                            └─────────────┘   effort)

# Core Behaviours

  - Delivery is synchronous to the publisher, in subscription order; a
    panicking handler is logged and skipped.
  - Patterns are exact type strings or a "prefix.*" glob.
  - Event ids are monotonic within the process; the ring buffer keeps the
    500 newest events for Recent queries.
  - The forwarder runs one worker with a bounded queue. A full queue evicts
    the oldest event, increments hearth_forwarder_dropped_total, and
    publishes bus.forwarder_dropped in-process. Drop announcements are never
    themselves forwarded.
  - In-process delivery always happens before forwarding, so local
    subscribers never wait on the network.

# Usage

	fwd := events.NewForwarder(url, []string{"trouble.alert"})
	bus := events.NewBus(events.WithForwarder(fwd))
	fwd.Start()

	bus.Subscribe("module.*", func(ev types.Event) { ... })
	bus.Publish(types.EventModuleStateChanged, "registry", payload)

# Integration Points

  - pkg/registry, pkg/health, pkg/bridge and pkg/diag publish here
  - pkg/contextgraph reads Recent for the bundle's recent_events section
  - pkg/api exposes recent events through the suite surface
*/
package events
