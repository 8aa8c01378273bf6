package contextgraph

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/hearthd/hearth/pkg/types"
)

// mergeRemoteContext merges peer facts into local ones keyed by fact key.
// The record with the larger updated_at wins; equal timestamps prefer the
// higher confidence. Remote facts older than maxAge are ignored outright.
func mergeRemoteContext(local, remote []types.Fact, maxAge time.Duration) []types.Fact {
	cutoff := time.Now().Add(-maxAge)

	byKey := make(map[string]types.Fact, len(local))
	for _, f := range local {
		byKey[f.Key] = f
	}

	for _, rf := range remote {
		if rf.UpdatedAt.Before(cutoff) {
			continue
		}
		lf, exists := byKey[rf.Key]
		if !exists {
			byKey[rf.Key] = rf
			continue
		}
		switch {
		case rf.UpdatedAt.After(lf.UpdatedAt):
			byKey[rf.Key] = rf
		case rf.UpdatedAt.Equal(lf.UpdatedAt) && rf.Confidence > lf.Confidence:
			byKey[rf.Key] = rf
		}
	}

	merged := make([]types.Fact, 0, len(byKey))
	for _, f := range byKey {
		merged = append(merged, f)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].UpdatedAt.Equal(merged[j].UpdatedAt) {
			return merged[i].UpdatedAt.After(merged[j].UpdatedAt)
		}
		return merged[i].Key < merged[j].Key
	})
	return merged
}

// trim enforces the serialised size bound by shedding sections in fixed
// priority: remote excerpt first, facts last. Within a section the oldest
// half goes first.
func trim(bundle *types.ContextBundle) {
	if bundleSize(bundle) <= MaxBundleBytes {
		return
	}

	steps := []struct {
		name   string
		shrink func() bool // returns false once the section is empty
	}{
		{"remote_excerpt", func() bool {
			if bundle.Remote == nil {
				return false
			}
			bundle.Remote = nil
			return true
		}},
		{"recent_events", func() bool { return halve(&bundle.RecentEvents) }},
		{"semantic_hits", func() bool { return halve(&bundle.SemanticHits) }},
		{"facts", func() bool { return halve(&bundle.Facts) }},
	}

	trimmed := make(map[string]bool)
	for _, step := range steps {
		for bundleSize(bundle) > MaxBundleBytes && step.shrink() {
			trimmed[step.name] = true
		}
		if bundleSize(bundle) <= MaxBundleBytes {
			break
		}
	}

	for _, step := range steps {
		if trimmed[step.name] {
			bundle.Metadata.TrimmedSections = append(bundle.Metadata.TrimmedSections, step.name)
		}
	}
}

// halve drops the back half of a slice, keeping the front (the newest or
// highest-ranked entries in every section).
func halve[T any](s *[]T) bool {
	if len(*s) == 0 {
		return false
	}
	*s = (*s)[:len(*s)/2]
	return true
}

func bundleSize(bundle *types.ContextBundle) int {
	data, err := json.Marshal(bundle)
	if err != nil {
		return 0
	}
	return len(data)
}
