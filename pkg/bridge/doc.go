/*
Package bridge is the client half of the encrypted sync protocol with a
single remote peer.

# Operations

	PushContext    POST {peer}/context/push
	PullContext    GET  {peer}/context/pull?user=…   (204 = nothing new)
	RemoteExecute  POST {peer}/execute               (rag_query, backup_push)
	Health         GET  {peer}/health                (measures latency)

All calls carry the cloud bearer token. When cloud.encrypt is on, bundle
payloads are sealed with the shared symmetric key (AES-256-GCM via
pkg/security), gzip-compressed first above 2 MB. A payload that will not
decrypt is dropped and alerted, never partially surfaced.

# Retry Policy

Three layers, from innermost out:

  - Per call: transient 5xx retried up to 3 times with 2 s spacing; 4xx is
    terminal (401/403 map to ErrUnauthenticated).
  - Per peer: a circuit breaker trips after 5 consecutive failures and
    fails calls fast while open.
  - Per cycle: the auto-sync loop reschedules failed cycles on an
    exponential backoff from 10 s doubling to a 120 s cap; repeated
    non-connection failures stretch the cadence to at most twice the
    configured interval. One successful cycle restores the 900 s default.

The loop is a single worker; SyncNow shares its cycle lock, so cycles never
overlap. Shutdown waits up to 5 s for an in-flight cycle.
*/
package bridge
