/*
Package health runs the periodic module health sweep.

Every interval (default 30 s) the monitor probes each live module's health
route with a 3 s timeout, at most 8 probes in flight. A 2xx response with
the expected module_id counts as success; a degraded status in the payload
marks the module degraded. Anything else is a failure, and exactly K
consecutive failures (default 3) demote the module to unhealthy. One
success resets the counter, and a module recovering from unhealthy is
announced with module.fixed.

Verdicts flow back through the registry's ApplyProbe so the registry stays
the single owner of state transitions. The monitor additionally probes one
optional external LLM runtime (Ollama-shaped, via health.ollama_url) and
raises trouble.alert when it goes away.
*/
package health
