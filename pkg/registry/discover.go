package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/hearthd/hearth/pkg/log"
	"github.com/hearthd/hearth/pkg/types"
)

// ManifestFile is the per-module manifest name.
const ManifestFile = "module_info.json"

// Discover scans dir for subdirectories carrying a module_info.json and
// returns the valid manifests sorted by module id. Invalid manifests are
// logged and skipped; duplicates after the first are rejected.
func Discover(dir string, validate *validator.Validate) ([]types.ModuleManifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read modules directory %s: %w", dir, err)
	}

	logger := log.WithComponent("registry")
	seen := make(map[string]string) // module_id -> dir
	var manifests []types.ModuleManifest

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		moduleDir := filepath.Join(dir, entry.Name())
		path := filepath.Join(moduleDir, ManifestFile)

		manifest, err := loadManifest(path, validate)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			logger.Error().Err(err).Str("dir", entry.Name()).Msg("skipping invalid manifest")
			continue
		}

		if prev, dup := seen[manifest.ModuleID]; dup {
			logger.Error().
				Str("module_id", manifest.ModuleID).
				Str("kept", prev).
				Str("rejected", entry.Name()).
				Msg("duplicate module id, rejecting later manifest")
			continue
		}
		seen[manifest.ModuleID] = entry.Name()

		manifest.Dir = moduleDir
		manifests = append(manifests, manifest)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].ModuleID < manifests[j].ModuleID
	})
	return manifests, nil
}

func loadManifest(path string, validate *validator.Validate) (types.ModuleManifest, error) {
	var manifest types.ModuleManifest

	data, err := os.ReadFile(path)
	if err != nil {
		return manifest, err
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return manifest, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	if manifest.HealthRoute == "" {
		manifest.HealthRoute = "/health"
	}
	if err := validate.Struct(manifest); err != nil {
		return manifest, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	return manifest, nil
}

// startOrder orders module ids topologically by depends_on, dependencies
// first. Unknown dependency ids are tolerated here and fail later as
// dependency_unmet; cycles are a hard error.
func startOrder(manifests []types.ModuleManifest) ([]string, error) {
	known := make(map[string]types.ModuleManifest, len(manifests))
	indegree := make(map[string]int, len(manifests))
	dependants := make(map[string][]string)

	for _, m := range manifests {
		known[m.ModuleID] = m
		indegree[m.ModuleID] = 0
	}
	for _, m := range manifests {
		for _, dep := range m.DependsOn {
			if _, ok := known[dep]; !ok {
				continue
			}
			indegree[m.ModuleID]++
			dependants[dep] = append(dependants[dep], m.ModuleID)
		}
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		next := dependants[id]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(manifests) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: %v", ErrDependencyCycle, stuck)
	}
	return order, nil
}
