package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hearthd/hearth/pkg/types"
)

var bucketVectors = []byte("vectors")

// FlatIndex is the embedded brute-force index over bbolt. Good to a few tens
// of thousands of vectors, which covers a personal suite comfortably.
// The database opens lazily on first call.
type FlatIndex struct {
	dir string

	once    sync.Once
	openErr error

	mu sync.RWMutex // single-writer per upsert, multi-reader queries
	db *bolt.DB
}

// NewFlatIndex creates a lazy flat index rooted at dir.
func NewFlatIndex(dir string) *FlatIndex {
	return &FlatIndex{dir: dir}
}

func (f *FlatIndex) open() error {
	f.once.Do(func() {
		if err := os.MkdirAll(f.dir, 0o750); err != nil {
			f.openErr = fmt.Errorf("failed to create vector directory: %w", err)
			return
		}
		db, err := bolt.Open(filepath.Join(f.dir, "vectors.db"), 0o600, &bolt.Options{Timeout: 2 * time.Second})
		if err != nil {
			f.openErr = fmt.Errorf("failed to open vector store: %w", err)
			return
		}
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketVectors)
			return err
		})
		if err != nil {
			db.Close()
			f.openErr = err
			return
		}
		f.db = db
	})
	return f.openErr
}

// Upsert stores or replaces a record.
func (f *FlatIndex) Upsert(ctx context.Context, rec Record) error {
	if err := f.open(); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("vector: record id is required")
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("vector: record embedding is required")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVectors).Put([]byte(rec.ID), data)
	})
}

// Query scans all records and ranks by cosine similarity, normalised to
// [0, 1]. topK is capped at MaxTopK; topK <= 0 returns an empty list.
func (f *FlatIndex) Query(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]types.SemanticHit, error) {
	if err := f.open(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []types.SemanticHit{}, nil
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	var hits []types.SemanticHit

	f.mu.RLock()
	err := f.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // skip undecodable entries
			}
			if !matchesFilters(rec.Metadata, filters) {
				return nil
			}
			score, ok := cosineScore(embedding, rec.Embedding)
			if !ok {
				return nil // dimension mismatch
			}
			hits = append(hits, types.SemanticHit{
				ID:       rec.ID,
				Score:    score,
				Text:     rec.Text,
				Key:      rec.Metadata["key"],
				Metadata: rec.Metadata,
			})
			return nil
		})
	})
	f.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Delete removes a record. Absent ids are fine.
func (f *FlatIndex) Delete(ctx context.Context, id string) error {
	if err := f.open(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVectors).Delete([]byte(id))
	})
}

// Close closes the backing store if it was ever opened.
func (f *FlatIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.db == nil {
		return nil
	}
	err := f.db.Close()
	f.db = nil
	return err
}

func matchesFilters(metadata, filters map[string]string) bool {
	for k, want := range filters {
		if metadata[k] != want {
			return false
		}
	}
	return true
}

// cosineScore maps cosine similarity from [-1, 1] onto [0, 1] so callers can
// always treat higher as more similar.
func cosineScore(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return (cos + 1) / 2, true
}
