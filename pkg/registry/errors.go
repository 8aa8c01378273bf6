package registry

import "errors"

var (
	// ErrManifestInvalid marks a module_info.json that failed validation.
	ErrManifestInvalid = errors.New("module manifest invalid")

	// ErrPortExhausted means no free port exists in the configured range.
	ErrPortExhausted = errors.New("port range exhausted")

	// ErrStartTimeout means a module never reported ready within the
	// startup budget.
	ErrStartTimeout = errors.New("module start timeout")

	// ErrDependencyUnmet means a depends_on entry failed to become healthy.
	ErrDependencyUnmet = errors.New("module dependency unmet")

	// ErrDependencyCycle means depends_on forms a cycle; this is a startup
	// error, not a per-module one.
	ErrDependencyCycle = errors.New("module dependency cycle")

	// ErrUnknownModule means the module id is not in the registry.
	ErrUnknownModule = errors.New("unknown module")
)
