/*
Package vector provides Hearth's vector index adapters for semantic recall.

# Backends

FlatIndex (vector_store = "flat-like"):
  - Embedded brute-force index over bbolt, no external service
  - Cosine similarity normalised to [0, 1], higher = more similar
  - Records with a different embedding dimension are skipped, not errors
  - Lazy: the database opens on first call, never at boot

ChromaIndex (vector_store = "chroma-like"):
  - Thin HTTP adapter for a chroma-like ANN service
  - POST /upsert, /query, /delete with JSON bodies
  - A dead service surfaces as ErrBackendUnavailable per call

Both honour the MaxTopK cap (50) and the Index interface; callers never see
backend-specific types.

# Usage

	idx, err := vector.New(types.VectorStoreFlat, "data/vectors", "")
	err = idx.Upsert(ctx, vector.Record{ID: id, Text: text, Embedding: emb})
	hits, err := idx.Query(ctx, queryEmb, 10, nil)

# Integration Points

  - pkg/contextgraph queries the index for the semantic_hits bundle section
  - pkg/diag recommends the external ANN package only when "chroma-like"
    is configured
*/
package vector
