/*
Package diag produces context-aware system-health reports.

# What Gets Checked

  - Dependencies: for each external program the current configuration
    actually needs, resolve installed?, version against a minimum, and a
    run smoke-test. Verdicts are one of ok, not_installed,
    outdated:{found} < {min}, import_error:{class}. A package irrelevant to
    the configuration — the chroma tooling under a flat-like vector
    store — never appears in the report.
  - Handshake-verified reachability: a TCP connect (candidate hosts in
    order, backoff 0.25/0.5/1.0 s with jitter, 3 attempts) followed by a
    {"ping": tag} / {"pong": tag} exchange within 1 s. A live port with the
    wrong answer is "uncertain", which rules out port-squatting services
    masquerading as the real one.
  - Resources: under 2 GB free at the vector path or under 2 GB of
    available memory warns; unreadable metrics are skipped silently. The
    host runtime version is compared against the recommended set.
  - Token hygiene: identical suite and cloud bearer tokens draw a warning.

Every probe state change logs one breadcrumb line and publishes
diag.transition, so flapping services can be correlated offline.

Recommendations are always concrete: an outdated dependency names the found
and required versions, a failed smoke-test suggests a reinstall, an
uncertain probe names wrong_service.
*/
package diag
