package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/hearthd/hearth/pkg/log"
	"github.com/hearthd/hearth/pkg/types"
)

const (
	readinessInitial = 500 * time.Millisecond
	readinessCap     = 5 * time.Second
)

// process is one supervised child. waitCh closes with the exit error once
// the child terminates, however it terminates.
type process struct {
	cmd    *exec.Cmd
	waitCh chan error
}

// launch starts the module's entry point with the assigned port and the
// suite bearer token in its environment. Manifest env entries come last and
// may override neither PORT nor AUTH_TOKEN.
func launch(manifest types.ModuleManifest, port int, authToken string) (*process, error) {
	entry := manifest.EntryPoint
	if !filepath.IsAbs(entry) {
		entry = filepath.Join(manifest.Dir, entry)
	}

	cmd := exec.Command(entry)
	cmd.Dir = manifest.Dir

	env := os.Environ()
	for k, v := range manifest.Env {
		if k == "PORT" || k == "AUTH_TOKEN" {
			continue
		}
		env = append(env, k+"="+v)
	}
	env = append(env,
		fmt.Sprintf("PORT=%d", port),
		"AUTH_TOKEN="+authToken,
	)
	cmd.Env = env

	childLog := log.WithModuleID(manifest.ModuleID)
	cmd.Stdout = lineWriter{childLog, zerolog.DebugLevel}
	cmd.Stderr = lineWriter{childLog, zerolog.WarnLevel}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", manifest.ModuleID, err)
	}

	p := &process{cmd: cmd, waitCh: make(chan error, 1)}
	go func() {
		p.waitCh <- cmd.Wait()
		close(p.waitCh)
	}()
	return p, nil
}

// stop asks the child to exit with SIGTERM and escalates to SIGKILL after
// the grace period.
func (p *process) stop(grace time.Duration) {
	if p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.waitCh:
		return
	case <-time.After(grace):
		_ = p.cmd.Process.Kill()
		<-p.waitCh
	}
}

// pid returns the child pid, or zero when the process never started.
func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// waitReady polls the module's health route until it answers 2xx with the
// expected module id, backing off exponentially from 500 ms to 5 s within
// the startup budget. It returns the first health payload on success.
func waitReady(ctx context.Context, client *http.Client, manifest types.ModuleManifest, port int, budget time.Duration) (types.HealthStatus, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, manifest.HealthRoute)

	var status types.HealthStatus
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = readinessInitial
	b.MaxInterval = readinessCap
	b.MaxElapsedTime = budget

	err := backoff.Retry(func() error {
		st, err := probeHealth(ctx, client, url, manifest.ModuleID)
		if err != nil {
			return err
		}
		status = st
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return status, fmt.Errorf("%w: %s never ready within %s", ErrStartTimeout, manifest.ModuleID, budget)
	}
	return status, nil
}

// probeHealth performs one health request and enforces the module contract:
// 2xx with a matching module_id.
func probeHealth(ctx context.Context, client *http.Client, url, moduleID string) (types.HealthStatus, error) {
	var status types.HealthStatus

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return status, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return status, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return status, fmt.Errorf("health returned HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("undecodable health payload: %w", err)
	}
	if status.ModuleID != moduleID {
		return status, fmt.Errorf("module_id mismatch: got %q want %q", status.ModuleID, moduleID)
	}
	return status, nil
}

// lineWriter forwards child stdout/stderr lines into the suite log.
type lineWriter struct {
	logger *zerolog.Logger
	level  zerolog.Level
}

func (w lineWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.logger.WithLevel(w.level).Msg(line)
		}
	}
	return len(p), nil
}
