/*
Package api exposes the suite's REST surface on the loopback interface.

# Routes

	GET  /health               liveness + boot fingerprint (open)
	GET  /metrics              prometheus scrape (open)
	GET  /health/full          aggregated status, always 200
	GET  /health/{module_id}   one module's state and last health payload
	GET  /context/preview      ?user=…&query=… → context bundle
	POST /sync/now             trigger one cloud sync cycle
	GET  /modules              registry snapshot
	GET  /events/recent        ?type=… → newest bus events
	POST /shutdown             graceful supervisor stop

Everything below the first two routes requires the suite bearer token;
failures get a structured 401 and the token itself never appears in a log
line. /health/full is the single source of truth for operators: it answers
200 whenever the supervisor is alive and reports unhealthy subsystems in
the body instead of failing the call.
*/
package api
