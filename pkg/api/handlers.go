package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/contextgraph"
	"github.com/hearthd/hearth/pkg/types"
)

// handleHealth is the unauthenticated liveness check with the boot
// fingerprint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"boot_id":  s.bootID,
		"uptime_s": int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleHealthFull is the aggregated status report. It always answers 200
// while the supervisor lives; downstream trouble shows up in the body, not
// the status code.
func (s *Server) handleHealthFull(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	modules := []map[string]any{}
	for _, rt := range s.registry.Snapshot() {
		entry := map[string]any{
			"module_id": rt.ModuleID,
			"state":     string(rt.State),
			"port":      rt.AssignedPort,
		}
		if !rt.LastProbeAt.IsZero() {
			entry["last_probe_age_s"] = int64(now.Sub(rt.LastProbeAt).Seconds())
		}
		modules = append(modules, entry)
	}

	ollamaOK, ollamaModel := s.monitor.OllamaStatus()
	ollama := map[string]any{"ok": ollamaOK}
	if ollamaModel != "" {
		ollama["model"] = ollamaModel
	}

	cloud := map[string]any{"enabled": s.bridge.Enabled()}
	if lastSync, latency, _ := s.bridge.LastSync(); !lastSync.IsZero() {
		cloud["last_sync_ts"] = lastSync.Format(time.RFC3339)
		cloud["latency_ms"] = latency.Milliseconds()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ts": now.Format(time.RFC3339),
		"suite": map[string]any{
			"version":  s.version,
			"uptime_s": int64(now.Sub(s.startedAt).Seconds()),
		},
		"modules":      modules,
		"ollama_like":  ollama,
		"cloud":        cloud,
		"vector_store": s.cfg.GetString(config.KeyVectorStore, "flat-like"),
		"sys":          s.sysSection(),
	})
}

func (s *Server) sysSection() map[string]any {
	sys := map[string]any{"host_runtime": runtime.Version()}
	if usage, err := disk.Usage("."); err == nil {
		sys["disk_free_gb"] = float64(usage.Free) / (1 << 30)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sys["ram_free_gb"] = float64(vm.Available) / (1 << 30)
	}
	return sys
}

func (s *Server) handleModuleHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "module_id")
	rt, ok := s.registry.Runtime(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_module", "no module with id "+id)
		return
	}

	body := map[string]any{
		"module_id": rt.ModuleID,
		"state":     string(rt.State),
		"port":      rt.AssignedPort,
		"restarts":  rt.Restarts,
	}
	if rt.StateReason != "" {
		body["state_reason"] = rt.StateReason
	}
	if status, ok := s.monitor.Snapshot()[id]; ok {
		body["health"] = status
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleContextPreview(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing_parameter", "the user parameter is required")
		return
	}
	query := r.URL.Query().Get("query")

	bundle, err := s.builder.Build(r.Context(), user, query, contextgraph.Options{
		IncludeSemantic: query != "",
		IncludeRemote:   r.URL.Query().Get("include_remote") == "true",
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "context_build_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	err := s.bridge.SyncNow(r.Context())
	lastSync, latency, lastErr := s.bridge.LastSync()

	body := map[string]any{"triggered": err == nil}
	if !lastSync.IsZero() {
		body["last_sync_ts"] = lastSync.Format(time.RFC3339)
		body["latency_ms"] = latency.Milliseconds()
	}
	if lastErr != nil {
		body["last_error"] = lastErr.Error()
	}

	if err != nil {
		body["error"] = err.Error()
		writeJSON(w, http.StatusBadGateway, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"modules": s.registry.Snapshot()})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	events := s.bus.Recent(r.URL.Query().Get("type"), limit)
	if events == nil {
		events = []types.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]any{"stopping": true})
	if s.shutdown != nil {
		go s.shutdown()
	}
}
