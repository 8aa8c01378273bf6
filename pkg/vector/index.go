package vector

import (
	"context"
	"errors"

	"github.com/hearthd/hearth/pkg/types"
)

var (
	// ErrNotFound is returned by Delete for unknown ids on backends that
	// report it; the flat index treats deletes as idempotent.
	ErrNotFound = errors.New("vector: id not found")
	// ErrBackendUnavailable wraps transport failures of remote backends.
	ErrBackendUnavailable = errors.New("vector: backend unavailable")
)

// MaxTopK is the hard cap on query result sizes.
const MaxTopK = 50

// Record is one stored vector with its text and metadata. Text and embedding
// always travel together; revising text means a new id.
type Record struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Embedding []float32         `json:"embedding"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Index is the vector index adapter. Backends are lazy: the underlying store
// opens on first use, not at construction.
type Index interface {
	// Upsert stores or replaces a record by id.
	Upsert(ctx context.Context, rec Record) error

	// Query returns up to topK nearest records, highest score first.
	// Scores are normalised so that higher means more similar, in [0, 1].
	Query(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]types.SemanticHit, error)

	// Delete removes a record. Deleting an absent id is not an error on
	// the embedded backend.
	Delete(ctx context.Context, id string) error

	// Close releases the backing store. Safe to call before first use.
	Close() error
}

// New constructs the index for the configured backend. "flat-like" needs no
// external service; "chroma-like" talks to an ANN service at baseURL.
func New(kind types.VectorStoreKind, dataDir, baseURL string) (Index, error) {
	switch kind {
	case types.VectorStoreChroma:
		return NewChromaIndex(baseURL), nil
	case types.VectorStoreFlat, "":
		return NewFlatIndex(dataDir), nil
	default:
		return nil, errors.New("vector: unknown backend " + string(kind))
	}
}
