/*
Package facts implements Hearth's persistent fact store on BoltDB.

A fact is a keyed, confidence-scored assertion about a user. The store keeps
one record per (user, key), serialises values as JSON, and relies on bbolt's
single-writer transactions for write serialisation and consistent snapshot
reads.

# Layout

	facts.db
	  └── facts bucket
	        key:   user ++ 0x00 ++ fact-key
	        value: JSON types.Fact

The NUL separator cannot appear in identifiers, which makes per-user cursor
prefix scans exact.

# Semantics

  - Remember upserts: CreatedAt is preserved across updates, UpdatedAt
    advances, confidence is clamped to [0, 1]
  - Recall orders by (UpdatedAt DESC, Confidence DESC, Key ASC); limit
    defaults to 10 and is hard-capped at 1000; an explicit limit of zero
    returns an empty list
  - Conflicting writes resolve last-writer-wins; no error surfaces
  - Corruption on open is fatal (ErrCorrupted) — the suite refuses to boot
    without its memory

# Compaction

After writes the store compares the file size against a threshold (default
100 MB) and copy-compacts via bolt.Compact into a temp file followed by an
atomic rename. Failures are logged and skipped.

# Integration Points

  - pkg/contextgraph reads facts and LatestUpdate for cache freshness
  - pkg/api exposes remember/recall through the suite surface
  - pkg/supervisor opens the store at boot and closes it last-but-one
*/
package facts
