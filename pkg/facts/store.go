package facts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hearthd/hearth/pkg/log"
	"github.com/hearthd/hearth/pkg/types"
)

var (
	bucketFacts = []byte("facts")

	// ErrCorrupted aborts startup; the fact store is the suite's memory and
	// running without it would silently lose writes.
	ErrCorrupted = errors.New("facts: store corrupted")
)

const (
	// DefaultLimit is the recall limit when none is given.
	DefaultLimit = 10
	// MaxLimit is the hard cap on recall limits.
	MaxLimit = 1000

	// DefaultCompactThreshold triggers compaction when the database file
	// exceeds this size.
	DefaultCompactThreshold = 100 << 20 // 100 MB
)

// Store is the bbolt-backed fact store. Writes are serialised by bbolt's
// single-writer transaction model; readers get consistent snapshots.
type Store struct {
	mu               sync.RWMutex // guards db handle swap during compaction
	db               *bolt.DB
	path             string
	compactThreshold int64
}

// Option configures a Store.
type Option func(*Store)

// WithCompactThreshold overrides the on-disk size that triggers compaction.
func WithCompactThreshold(bytes int64) Option {
	return func(s *Store) { s.compactThreshold = bytes }
}

// Open opens (or creates) the fact store at dir/facts.db.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create facts directory: %w", err)
	}
	path := filepath.Join(dir, "facts.db")

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFacts)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	s := &Store{db: db, path: path, compactThreshold: DefaultCompactThreshold}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) view(fn func(tx *bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.View(fn)
}

func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Update(fn)
}

// Remember upserts a fact. CreatedAt is preserved on updates, UpdatedAt
// always advances. Confidence is clamped to [0, 1]. Concurrent writes to the
// same (user, key) resolve last-writer-wins; no error is raised.
func (s *Store) Remember(user, key, value string, confidence float64, category string) (*types.Fact, error) {
	if user == "" || key == "" {
		return nil, fmt.Errorf("facts: user and key are required")
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if category == "" {
		category = "general"
	}

	now := time.Now().UTC()
	fact := &types.Fact{
		User:       user,
		Key:        key,
		Value:      value,
		Confidence: confidence,
		Category:   category,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFacts)
		k := factKey(user, key)

		if existing := b.Get(k); existing != nil {
			var prev types.Fact
			if err := json.Unmarshal(existing, &prev); err == nil {
				fact.CreatedAt = prev.CreatedAt
			}
		}

		data, err := json.Marshal(fact)
		if err != nil {
			return err
		}
		return b.Put(k, data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store fact: %w", err)
	}

	s.maybeCompact()
	return fact, nil
}

// RecallOptions filter a Recall call.
type RecallOptions struct {
	// Key returns the single matching fact when set.
	Key string
	// Limit caps the result list; 0 with no Key means DefaultLimit is NOT
	// applied — an explicit zero returns an empty list.
	Limit *int
	// Category filters by category when non-empty.
	Category string
}

// Recall returns facts for a user, most recently updated first, ties broken
// by higher confidence then key. With Key set it returns at most one fact
// (nil when absent).
func (s *Store) Recall(user string, opts RecallOptions) ([]types.Fact, error) {
	if opts.Key != "" {
		var out []types.Fact
		err := s.view(func(tx *bolt.Tx) error {
			data := tx.Bucket(bucketFacts).Get(factKey(user, opts.Key))
			if data == nil {
				return nil
			}
			var f types.Fact
			if err := json.Unmarshal(data, &f); err != nil {
				return err
			}
			out = append(out, f)
			return nil
		})
		return out, err
	}

	limit := DefaultLimit
	if opts.Limit != nil {
		limit = *opts.Limit
	}
	if limit <= 0 {
		return []types.Fact{}, nil
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var all []types.Fact
	prefix := factKey(user, "")
	err := s.view(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFacts).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var f types.Fact
			if err := json.Unmarshal(v, &f); err != nil {
				continue
			}
			if opts.Category != "" && f.Category != opts.Category {
				continue
			}
			all = append(all, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		if all[i].Confidence != all[j].Confidence {
			return all[i].Confidence > all[j].Confidence
		}
		return all[i].Key < all[j].Key
	})

	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// LatestUpdate returns the newest UpdatedAt across a user's facts. The
// context-graph cache uses it to detect fresh writes. Zero time when the
// user has no facts.
func (s *Store) LatestUpdate(user string) (time.Time, error) {
	var latest time.Time
	prefix := factKey(user, "")
	err := s.view(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFacts).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var f types.Fact
			if err := json.Unmarshal(v, &f); err != nil {
				continue
			}
			if f.UpdatedAt.After(latest) {
				latest = f.UpdatedAt
			}
		}
		return nil
	})
	return latest, err
}

// Forget deletes one fact. Deleting an absent fact is not an error.
func (s *Store) Forget(user, key string) error {
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFacts).Delete(factKey(user, key))
	})
}

// Reset removes all facts for one user, or every fact when user is empty.
func (s *Store) Reset(user string) error {
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFacts)
		if user == "" {
			if err := tx.DeleteBucket(bucketFacts); err != nil {
				return err
			}
			_, err := tx.CreateBucket(bucketFacts)
			return err
		}

		prefix := factKey(user, "")
		c := b.Cursor()
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// maybeCompact copy-compacts the database when the file outgrows the
// threshold. Compaction failures are logged and skipped; the store keeps
// serving from the oversized file.
func (s *Store) maybeCompact() {
	info, err := os.Stat(s.path)
	if err != nil || info.Size() < s.compactThreshold {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logger := log.WithComponent("facts")
	logger.Info().Int64("size_bytes", info.Size()).Msg("compacting fact store")

	tmpPath := s.path + ".compact"
	dst, err := bolt.Open(tmpPath, 0o600, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("compaction skipped, cannot open temp db")
		return
	}

	if err := bolt.Compact(dst, s.db, 0); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		logger.Warn().Err(err).Msg("compaction failed")
		return
	}
	dst.Close()

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		logger.Warn().Err(err).Msg("compaction aborted, close failed")
		return
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		logger.Error().Err(err).Msg("compaction rename failed, reopening original")
	}

	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		logger.Error().Err(err).Msg("failed to reopen fact store after compaction")
		return
	}
	s.db = db
}

// factKey builds the bucket key: user and key joined by a NUL byte, which
// cannot appear in identifiers and keeps per-user prefix scans exact.
func factKey(user, key string) []byte {
	out := make([]byte, 0, len(user)+1+len(key))
	out = append(out, user...)
	out = append(out, 0)
	out = append(out, key...)
	return out
}
