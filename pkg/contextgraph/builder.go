package contextgraph

import (
	"context"
	"time"

	"github.com/hearthd/hearth/pkg/facts"
	"github.com/hearthd/hearth/pkg/log"
	"github.com/hearthd/hearth/pkg/metrics"
	"github.com/hearthd/hearth/pkg/types"
	"github.com/hearthd/hearth/pkg/vector"
)

const (
	// MinConfidence filters low-confidence facts out of bundles.
	MinConfidence = 0.2

	// DefaultTopKFacts and DefaultTopKSemantic size the two recall sections.
	DefaultTopKFacts    = 10
	DefaultTopKSemantic = 5

	// DefaultRecentEvents is how many bus events a bundle carries.
	DefaultRecentEvents = 20

	// MaxBundleBytes caps the serialised bundle size.
	MaxBundleBytes = 32 << 10

	// DefaultMaxAgeRemote drops remote facts older than this.
	DefaultMaxAgeRemote = 24 * time.Hour
)

// Options select which sections a bundle includes.
type Options struct {
	IncludeSemantic bool
	IncludeRemote   bool
	TopKFacts       int
	TopKSemantic    int
	MaxAgeRemote    time.Duration
}

func (o Options) withDefaults() Options {
	if o.TopKFacts <= 0 {
		o.TopKFacts = DefaultTopKFacts
	}
	if o.TopKSemantic <= 0 {
		o.TopKSemantic = DefaultTopKSemantic
	}
	if o.MaxAgeRemote <= 0 {
		o.MaxAgeRemote = DefaultMaxAgeRemote
	}
	return o
}

// FactSource is the fact-store surface the builder needs.
type FactSource interface {
	Recall(user string, opts facts.RecallOptions) ([]types.Fact, error)
	LatestUpdate(user string) (time.Time, error)
}

// Embedder turns query text into an embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// StatusSource reports module runtime states.
type StatusSource interface {
	Snapshot() []types.ModuleRuntime
}

// EventSource serves recent bus events.
type EventSource interface {
	Recent(eventType string, limit int) []types.Event
}

// RemoteSource fetches the peer's latest bundle for a user.
type RemoteSource interface {
	Enabled() bool
	PullContext(ctx context.Context, user string) (*types.ContextBundle, error)
}

// Builder assembles bounded per-query context bundles. Every section
// degrades independently: a failing subcomponent yields an absent section
// noted in metadata.degraded_sections, never a failed build.
type Builder struct {
	facts    FactSource
	index    vector.Index
	embedder Embedder
	statuses StatusSource
	events   EventSource
	remote   RemoteSource

	cache *cache
}

// NewBuilder wires a builder. Any source except facts may be nil; nil
// sources simply leave their section out.
func NewBuilder(factSource FactSource, index vector.Index, embedder Embedder, statuses StatusSource, eventSource EventSource, remote RemoteSource) *Builder {
	return &Builder{
		facts:    factSource,
		index:    index,
		embedder: embedder,
		statuses: statuses,
		events:   eventSource,
		remote:   remote,
		cache:    newCache(DefaultCacheTTL),
	}
}

// Build assembles a bundle for user and query. Cached bundles are reused
// while fresh: a fact written after the cached build always forces a
// rebuild for that user.
func (b *Builder) Build(ctx context.Context, user, query string, opts Options) (types.ContextBundle, error) {
	opts = opts.withDefaults()
	key := cacheKey(user, query, opts)

	if cached, ok := b.cache.get(key); ok {
		if latest, err := b.facts.LatestUpdate(user); err == nil && !latest.After(cached.createdAt) {
			metrics.ContextCacheHits.Inc()
			bundle := cached.bundle
			bundle.Metadata.CacheHit = true
			return bundle, nil
		}
		b.cache.invalidate(key)
	}
	metrics.ContextCacheMisses.Inc()

	started := time.Now()
	bundle := types.ContextBundle{
		User:      user,
		Query:     query,
		Timestamp: started.UTC(),
	}
	var degraded []string

	local, err := b.facts.Recall(user, facts.RecallOptions{Limit: &opts.TopKFacts})
	if err != nil {
		log.WithUser(user).Warn().Err(err).Msg("fact recall failed, degrading bundle")
		degraded = append(degraded, "facts")
	} else {
		for _, f := range local {
			if f.Confidence >= MinConfidence {
				bundle.Facts = append(bundle.Facts, f)
			}
		}
	}

	if opts.IncludeSemantic && query != "" && b.index != nil && b.embedder != nil {
		hits, err := b.semanticHits(ctx, query, opts.TopKSemantic, bundle.Facts)
		if err != nil {
			log.WithUser(user).Warn().Err(err).Msg("semantic recall failed, degrading bundle")
			degraded = append(degraded, "semantic_hits")
		} else {
			bundle.SemanticHits = hits
		}
	}

	if b.statuses != nil {
		bundle.ModuleStatus = make(map[string]types.ModuleState)
		for _, rt := range b.statuses.Snapshot() {
			bundle.ModuleStatus[rt.ModuleID] = rt.State
		}
	}

	if b.events != nil {
		bundle.RecentEvents = b.events.Recent("", DefaultRecentEvents)
	}

	if opts.IncludeRemote && b.remote != nil && b.remote.Enabled() {
		remote, err := b.remote.PullContext(ctx, user)
		switch {
		case err != nil:
			log.WithUser(user).Warn().Err(err).Msg("remote pull failed, degrading bundle")
			degraded = append(degraded, "remote_excerpt")
		case remote != nil:
			bundle.Remote = &types.RemoteExcerpt{
				Facts:     remote.Facts,
				FetchedAt: time.Now().UTC(),
				PeerTS:    remote.Timestamp,
			}
			bundle.Facts = mergeRemoteContext(bundle.Facts, remote.Facts, opts.MaxAgeRemote)
		}
	}

	bundle.Metadata.DegradedSections = degraded
	trim(&bundle)
	bundle.Metadata.BuildMillis = time.Since(started).Milliseconds()
	metrics.ContextBuildDuration.Observe(time.Since(started).Seconds())

	b.cache.put(key, bundle)
	return bundle, nil
}

// semanticHits embeds the query, asks the index, and drops hits whose key
// already appears in the fact section.
func (b *Builder) semanticHits(ctx context.Context, query string, topK int, have []types.Fact) ([]types.SemanticHit, error) {
	embedding, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := b.index.Query(ctx, embedding, topK, nil)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(have))
	for _, f := range have {
		known[f.Key] = true
	}
	deduped := hits[:0]
	for _, h := range hits {
		if h.Key != "" && known[h.Key] {
			continue
		}
		deduped = append(deduped, h)
	}
	return deduped, nil
}

// Invalidate drops every cached bundle for a user.
func (b *Builder) Invalidate(user string) {
	b.cache.invalidateUser(user)
}
