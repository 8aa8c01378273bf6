package diag

import (
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/hearthd/hearth/pkg/config"
)

// Dependency is one external program the suite may need, with the feature
// that makes it relevant. Irrelevant dependencies are never reported.
type Dependency struct {
	Name        string
	Command     string
	VersionArgs []string
	MinVersion  string // without the leading v; empty = any
	Feature     string // human-readable feature name for recommendations
	Required    func(cfg *config.Store) bool
}

// DepStatus is one of: "ok", "not_installed", "outdated:{found} < {min}",
/// "import_error:{class}".
type DepStatus string

// IsOK reports a passing dependency.
func (s DepStatus) IsOK() bool { return s == "ok" }

// defaultDependencies lists what the suite can make use of, each gated on
// the configuration that actually needs it.
func defaultDependencies() []Dependency {
	return []Dependency{
		{
			Name:        "ollama",
			Command:     "ollama",
			VersionArgs: []string{"--version"},
			Feature:     "local embeddings and generation",
			Required: func(cfg *config.Store) bool {
				return cfg.GetString(config.KeyProvider, "local-llm") == "local-llm"
			},
		},
		{
			Name:        "chroma",
			Command:     "chroma",
			VersionArgs: []string{"--version"},
			Feature:     "the chroma-like vector backend",
			Required: func(cfg *config.Store) bool {
				return cfg.GetString(config.KeyVectorStore, "flat-like") == "chroma-like"
			},
		},
		{
			Name:        "gzip",
			Command:     "gzip",
			VersionArgs: []string{"--version"},
			Feature:     "log archive inspection",
			Required:    func(cfg *config.Store) bool { return false }, // nice to have, never flagged
		},
	}
}

var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// checkDependency resolves installed?, version, runnable? for one
// dependency using lookupPath and runVersion, which tests substitute.
func checkDependency(dep Dependency, lookupPath func(string) (string, error), runVersion func(string, ...string) (string, error)) DepStatus {
	path, err := lookupPath(dep.Command)
	if err != nil {
		return "not_installed"
	}

	out, err := runVersion(path, dep.VersionArgs...)
	if err != nil {
		// Present but will not run: the moral equivalent of a broken
		// install.
		return DepStatus("import_error:" + errClass(err))
	}

	if dep.MinVersion == "" {
		return "ok"
	}
	found := versionPattern.FindString(out)
	if found == "" {
		return "ok" // cannot compare, do not guess
	}
	if semver.Compare("v"+found, "v"+dep.MinVersion) < 0 {
		return DepStatus(fmt.Sprintf("outdated:%s < %s", found, dep.MinVersion))
	}
	return "ok"
}

func errClass(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Sprintf("exit_%d", exitErr.ExitCode())
	}
	class := strings.Fields(err.Error())
	if len(class) == 0 {
		return "unknown"
	}
	return class[0]
}
