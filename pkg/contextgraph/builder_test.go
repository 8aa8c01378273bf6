package contextgraph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthd/hearth/pkg/events"
	"github.com/hearthd/hearth/pkg/facts"
	"github.com/hearthd/hearth/pkg/types"
	"github.com/hearthd/hearth/pkg/vector"
)

type fixedEmbedder struct {
	embedding []float32
	err       error
}

func (f fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.embedding, f.err
}

type fixedStatuses struct{ runtimes []types.ModuleRuntime }

func (f fixedStatuses) Snapshot() []types.ModuleRuntime { return f.runtimes }

type fakeRemote struct {
	enabled bool
	bundle  *types.ContextBundle
	err     error
	pulls   int
}

func (f *fakeRemote) Enabled() bool { return f.enabled }

func (f *fakeRemote) PullContext(context.Context, string) (*types.ContextBundle, error) {
	f.pulls++
	return f.bundle, f.err
}

func newStore(t *testing.T) *facts.Store {
	t.Helper()
	store, err := facts.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBuildFactsSection(t *testing.T) {
	store := newStore(t)
	_, err := store.Remember("u", "prefers_concise", "true", 0.9, "prefs")
	require.NoError(t, err)
	_, err = store.Remember("u", "rumor", "maybe", 0.1, "general")
	require.NoError(t, err)

	b := NewBuilder(store, nil, nil, nil, nil, nil)
	bundle, err := b.Build(context.Background(), "u", "", Options{})
	require.NoError(t, err)

	require.Len(t, bundle.Facts, 1, "low-confidence facts filtered")
	assert.Equal(t, "prefers_concise", bundle.Facts[0].Key)
	assert.False(t, bundle.Metadata.CacheHit)
	assert.Empty(t, bundle.Metadata.DegradedSections)
}

func TestFreshWriteInvalidatesCache(t *testing.T) {
	store := newStore(t)
	_, err := store.Remember("u", "a", "1", 0.9, "")
	require.NoError(t, err)

	b := NewBuilder(store, nil, nil, nil, nil, nil)
	ctx := context.Background()

	first, err := b.Build(ctx, "u", "hello", Options{})
	require.NoError(t, err)
	require.Len(t, first.Facts, 1)

	again, err := b.Build(ctx, "u", "hello", Options{})
	require.NoError(t, err)
	assert.True(t, again.Metadata.CacheHit, "unchanged facts serve from cache")

	time.Sleep(5 * time.Millisecond)
	_, err = store.Remember("u", "prefers_concise", "true", 0.9, "")
	require.NoError(t, err)

	rebuilt, err := b.Build(ctx, "u", "hello", Options{})
	require.NoError(t, err)
	assert.False(t, rebuilt.Metadata.CacheHit, "fresh write forces a rebuild")
	assert.Len(t, rebuilt.Facts, 2)
}

func TestSemanticDedupedAgainstFacts(t *testing.T) {
	store := newStore(t)
	_, err := store.Remember("u", "coffee", "espresso", 0.9, "")
	require.NoError(t, err)

	idx := vector.NewFlatIndex(t.TempDir())
	t.Cleanup(func() { idx.Close() })
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, vector.Record{
		ID: "1", Text: "likes espresso", Embedding: []float32{1, 0},
		Metadata: map[string]string{"key": "coffee"},
	}))
	require.NoError(t, idx.Upsert(ctx, vector.Record{
		ID: "2", Text: "dislikes mornings", Embedding: []float32{0.9, 0.1},
		Metadata: map[string]string{"key": "mornings"},
	}))

	b := NewBuilder(store, idx, fixedEmbedder{embedding: []float32{1, 0}}, nil, nil, nil)
	bundle, err := b.Build(ctx, "u", "coffee", Options{IncludeSemantic: true})
	require.NoError(t, err)

	require.Len(t, bundle.SemanticHits, 1, "hit sharing a fact key is dropped")
	assert.Equal(t, "mornings", bundle.SemanticHits[0].Key)
}

func TestFailingSectionsDegradeNotFail(t *testing.T) {
	store := newStore(t)
	remote := &fakeRemote{enabled: true, err: fmt.Errorf("peer down")}

	b := NewBuilder(store, vector.NewFlatIndex(t.TempDir()), fixedEmbedder{err: fmt.Errorf("no llm")}, nil, nil, remote)
	bundle, err := b.Build(context.Background(), "u", "query", Options{IncludeSemantic: true, IncludeRemote: true})
	require.NoError(t, err, "a degraded build is still a build")

	assert.Contains(t, bundle.Metadata.DegradedSections, "semantic_hits")
	assert.Contains(t, bundle.Metadata.DegradedSections, "remote_excerpt")
	assert.Nil(t, bundle.Remote)
}

func TestRemoteDisabledMeansNoPull(t *testing.T) {
	store := newStore(t)
	remote := &fakeRemote{enabled: false}

	b := NewBuilder(store, nil, nil, nil, nil, remote)
	_, err := b.Build(context.Background(), "u", "", Options{IncludeRemote: true})
	require.NoError(t, err)
	assert.Zero(t, remote.pulls)
}

func TestModuleStatusAndEventsSections(t *testing.T) {
	store := newStore(t)
	bus := events.NewBus()
	for i := 0; i < 25; i++ {
		bus.Publish("tick.test", "test", nil)
	}
	statuses := fixedStatuses{runtimes: []types.ModuleRuntime{
		{ModuleID: "notes", State: types.ModuleStateHealthy},
	}}

	b := NewBuilder(store, nil, nil, statuses, bus, nil)
	bundle, err := b.Build(context.Background(), "u", "", Options{})
	require.NoError(t, err)

	assert.Equal(t, types.ModuleStateHealthy, bundle.ModuleStatus["notes"])
	assert.Len(t, bundle.RecentEvents, DefaultRecentEvents)
}

func TestMergeStaleRemoteIgnored(t *testing.T) {
	now := time.Now().UTC()
	local := []types.Fact{{User: "u", Key: "k", Value: "A", Confidence: 0.5, UpdatedAt: now}}
	remote := []types.Fact{{User: "u", Key: "k", Value: "B", Confidence: 0.9, UpdatedAt: now.Add(-25 * time.Hour)}}

	merged := mergeRemoteContext(local, remote, 24*time.Hour)
	require.Len(t, merged, 1)
	assert.Equal(t, "A", merged[0].Value, "stale remote fact ignored")

	remote[0].UpdatedAt = now.Add(10 * time.Second)
	merged = mergeRemoteContext(local, remote, 24*time.Hour)
	require.Len(t, merged, 1)
	assert.Equal(t, "B", merged[0].Value, "newer remote fact wins")
}

func TestMergeEqualTimestampPrefersConfidence(t *testing.T) {
	now := time.Now().UTC()
	local := []types.Fact{{Key: "k", Value: "A", Confidence: 0.5, UpdatedAt: now}}
	remote := []types.Fact{{Key: "k", Value: "B", Confidence: 0.9, UpdatedAt: now}}

	merged := mergeRemoteContext(local, remote, 24*time.Hour)
	require.Len(t, merged, 1)
	assert.Equal(t, "B", merged[0].Value)
}

func TestTrimShedsSectionsInPriorityOrder(t *testing.T) {
	big := make([]byte, 600)
	for i := range big {
		big[i] = 'x'
	}
	filler := string(big)

	bundle := types.ContextBundle{User: "u"}
	bundle.Remote = &types.RemoteExcerpt{FetchedAt: time.Now()}
	for i := 0; i < 40; i++ {
		bundle.Remote.Facts = append(bundle.Remote.Facts, types.Fact{Key: fmt.Sprintf("r%d", i), Value: filler})
		bundle.RecentEvents = append(bundle.RecentEvents, types.Event{ID: uint64(i), Type: "tick.test", Payload: map[string]any{"v": filler}})
		bundle.Facts = append(bundle.Facts, types.Fact{Key: fmt.Sprintf("f%d", i), Value: "small"})
	}
	require.Greater(t, bundleSize(&bundle), MaxBundleBytes)

	trim(&bundle)

	assert.LessOrEqual(t, bundleSize(&bundle), MaxBundleBytes)
	assert.Nil(t, bundle.Remote, "remote excerpt shed first")
	assert.Contains(t, bundle.Metadata.TrimmedSections, "remote_excerpt")
	assert.NotEmpty(t, bundle.Facts, "facts shed last")
}

func TestCacheKeyDependsOnOptions(t *testing.T) {
	a := cacheKey("u", "q", Options{}.withDefaults())
	b := cacheKey("u", "q", Options{IncludeSemantic: true}.withDefaults())
	c := cacheKey("u", "other", Options{}.withDefaults())
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}
