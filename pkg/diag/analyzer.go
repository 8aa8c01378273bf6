package diag

import (
	"fmt"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/events"
	"github.com/hearthd/hearth/pkg/log"
	"github.com/hearthd/hearth/pkg/types"
)

// Report is the analyzer's output. Recommendations are concrete: each one
// names the failing thing and the command or change that fixes it.
type Report struct {
	Errors          []string                    `json:"errors"`
	Warnings        []string                    `json:"warnings"`
	MissingDeps     []string                    `json:"missing_deps"`
	Recommendations []string                    `json:"recommendations"`
	Probes          map[string]types.DiagStatus `json:"probes"`
	SystemHints     []string                    `json:"system_hints"`
}

// Healthy reports a clean run.
func (r Report) Healthy() bool {
	return len(r.Errors) == 0 && len(r.Warnings) == 0 && len(r.MissingDeps) == 0
}

// Analyzer produces context-aware system health reports: only dependencies
// and services the current configuration needs are checked, and every probe
// state change leaves a one-line breadcrumb for offline correlation.
type Analyzer struct {
	cfg *config.Store
	bus *events.Bus

	deps        []Dependency
	lookupPath  func(string) (string, error)
	runVersion  func(string, ...string) (string, error)
	probeFn     func(host string, port int, tag string) ProbeResult
	vectorPath  string
	skipSysScan bool // tests run without touching the host

	mu         sync.Mutex
	lastStatus map[string]types.DiagStatus
}

// New creates an analyzer.
func New(cfg *config.Store, bus *events.Bus, vectorPath string) *Analyzer {
	return &Analyzer{
		cfg:        cfg,
		bus:        bus,
		deps:       defaultDependencies(),
		lookupPath: exec.LookPath,
		runVersion: func(path string, args ...string) (string, error) {
			out, err := exec.Command(path, args...).CombinedOutput()
			return string(out), err
		},
		probeFn:    ProbeService,
		vectorPath: vectorPath,
		lastStatus: make(map[string]types.DiagStatus),
	}
}

// Run produces one report.
func (a *Analyzer) Run() Report {
	report := Report{Probes: make(map[string]types.DiagStatus)}

	a.checkDeps(&report)
	a.probeServices(&report)
	a.checkTokens(&report)

	if !a.skipSysScan {
		warnings, hints := resourceHints(a.vectorPath)
		report.Warnings = append(report.Warnings, warnings...)
		report.SystemHints = append(report.SystemHints, hints...)
	}
	return report
}

// checkDeps resolves each dependency the configuration needs and turns
// failures into specific recommendations.
func (a *Analyzer) checkDeps(report *Report) {
	for _, dep := range a.deps {
		if dep.Required != nil && !dep.Required(a.cfg) {
			continue
		}
		status := checkDependency(dep, a.lookupPath, a.runVersion)
		if status.IsOK() {
			continue
		}

		s := string(status)
		switch {
		case s == "not_installed":
			report.MissingDeps = append(report.MissingDeps, dep.Name)
			report.Recommendations = append(report.Recommendations, fmt.Sprintf(
				"install %s: it provides %s, which the current configuration uses", dep.Name, dep.Feature))
		case strings.HasPrefix(s, "outdated:"):
			report.Warnings = append(report.Warnings, dep.Name+" is "+s)
			report.Recommendations = append(report.Recommendations, fmt.Sprintf(
				"upgrade %s (%s)", dep.Name, strings.TrimPrefix(s, "outdated:")))
		case strings.HasPrefix(s, "import_error:"):
			report.Errors = append(report.Errors, dep.Name+" failed its load smoke-test ("+s+")")
			report.Recommendations = append(report.Recommendations, fmt.Sprintf(
				"reinstall %s from scratch; the installed copy does not run (%s)",
				dep.Name, strings.TrimPrefix(s, "import_error:")))
		}
	}
}

// probeTarget is one configured service worth a handshake probe.
type probeTarget struct {
	name string
	host string
	port int
	tag  string
}

func (a *Analyzer) targets() []probeTarget {
	var out []probeTarget
	if a.cfg.GetString(config.KeyVectorStore, "flat-like") == "chroma-like" {
		if host, port, ok := hostPort(a.cfg.GetString(config.KeyChromaURL, "")); ok {
			out = append(out, probeTarget{name: "chroma", host: host, port: port, tag: "chroma"})
		}
	}
	if a.cfg.GetBool(config.KeyCloudEnabled, false) {
		if host, port, ok := hostPort(a.cfg.GetString(config.KeyCloudPeerURL, "")); ok {
			out = append(out, probeTarget{name: "cloud_peer", host: host, port: port, tag: "clo"})
		}
	}
	return out
}

func (a *Analyzer) probeServices(report *Report) {
	for _, target := range a.targets() {
		result := a.probeFn(target.host, target.port, target.tag)
		report.Probes[target.name] = result.Status
		a.recordTransition(target.name, result)

		switch result.Status {
		case types.DiagUncertain:
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"%s port %d answers but fails the handshake (wrong_service)", target.name, target.port))
			report.Recommendations = append(report.Recommendations, fmt.Sprintf(
				"port %d is held by a different service (wrong_service); free it or point %s elsewhere",
				target.port, target.name))
		case types.DiagNotReachable:
			report.Errors = append(report.Errors, target.name+" is not reachable")
			report.Recommendations = append(report.Recommendations, fmt.Sprintf(
				"start %s on %s:%d or fix its configured URL", target.name, target.host, target.port))
		}
	}
}

// recordTransition emits one breadcrumb line and a diag.transition event
// whenever a probe's verdict changes between runs.
func (a *Analyzer) recordTransition(service string, result ProbeResult) {
	a.mu.Lock()
	prev, seen := a.lastStatus[service]
	a.lastStatus[service] = result.Status
	a.mu.Unlock()

	if !seen || prev == result.Status {
		return
	}
	log.WithComponent("diag").Info().
		Str("service", service).
		Str("from", string(prev)).
		Str("to", string(result.Status)).
		Str("host", result.Host).
		Msg("probe transition")
	if a.bus != nil {
		a.bus.Publish(types.EventDiagTransition, "diag", map[string]any{
			"service": service,
			"from":    string(prev),
			"to":      string(result.Status),
		})
	}
}

// checkTokens warns when the suite and cloud trust boundaries share one
// bearer token. Permitted, but it collapses two trust domains into one.
func (a *Analyzer) checkTokens(report *Report) {
	suite := a.cfg.GetString(config.KeyAuthToken, "")
	cloud := a.cfg.GetString(config.KeyCloudAuthToken, "")
	if suite != "" && suite == cloud {
		report.Warnings = append(report.Warnings,
			"auth_token and cloud.auth_token are identical; distinct trust boundaries should use distinct tokens")
		report.Recommendations = append(report.Recommendations,
			"generate a separate cloud.auth_token so a leaked peer token cannot reach the local suite")
	}
}

func hostPort(raw string) (string, int, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", 0, false
	}
	portStr := u.Port()
	if portStr == "" {
		switch u.Scheme {
		case "https":
			portStr = "443"
		default:
			portStr = "80"
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false
	}
	return u.Hostname(), port, true
}
