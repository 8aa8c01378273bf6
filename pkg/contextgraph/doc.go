/*
Package contextgraph assembles bounded per-query context bundles.

# Assembly

A bundle combines, in order: recalled facts (confidence >= 0.2), semantic
hits for the query (deduplicated against fact keys), module states, the 20
newest bus events, and optionally the remote peer's excerpt merged in with
merge semantics: the larger updated_at wins, ties prefer the higher
confidence, and remote facts older than 24 h are ignored.

Every section degrades independently. A failing fact store, embedder,
index, or peer leaves its section absent and named in
metadata.degraded_sections; the build itself never fails.

# Cache and Size Bound

Bundles are cached by md5(user | query | options) for up to an hour, with
one hard freshness rule: any fact written for the user after the cached
build invalidates it. The serialised bundle is capped at 32 KB; oversized
bundles shed sections in fixed priority, remote excerpt first, then recent
events, semantic hits, and facts last.

# Integration Points

  - pkg/api serves bundles through GET /context/preview
  - pkg/bridge pushes bundles to the peer and supplies the remote excerpt
  - the embedder is Ollama-shaped and configured via health.ollama_url
*/
package contextgraph
