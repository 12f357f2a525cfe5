package transport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/hearthd/hearth/pkg/adminconfig"
	"github.com/hearthd/hearth/pkg/llms"
)

// ConfigPlane is the slice of the admin configuration plane the server
// exposes over HTTP.
type ConfigPlane interface {
	CachedFlags() []adminconfig.FeatureFlag
	Invalidate(names []string) int
	InvalidateCredentials()
	Refresh()
}

// RouterMetrics reports the rolling-window call aggregates.
type RouterMetrics interface {
	ReportMetrics() llms.MetricsReport
}

// handleConfig returns the effective config with secrets redacted.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config().Sanitized())
}

// handleConfigRefresh forces a config reload and resets the plane's
// TTL caches so the next reads refill from the store.
func (s *Server) handleConfigRefresh(w http.ResponseWriter, r *http.Request) {
	if s.reload != nil {
		cfg, err := s.reload(r.Context())
		if err != nil {
			slog.Error("Config reload failed", "error", err)
			writeJSONError(w, http.StatusInternalServerError, "config reload failed: "+err.Error(), "internal_error")
			return
		}
		s.setConfig(cfg)
		slog.Info("Config reloaded")
	}
	if s.plane != nil {
		s.plane.Refresh()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type invalidateRequest struct {
	Flags []string `json:"flags,omitempty"`
}

// handleInvalidateFlags drops the named feature flags from the plane's
// cache, or every flag when the body names none. The admin surface
// POSTs here after each out-of-band write.
func (s *Server) handleInvalidateFlags(w http.ResponseWriter, r *http.Request) {
	if s.plane == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "config plane not configured", "service_unavailable")
		return
	}

	var req invalidateRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body", "invalid_request_error")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "invalid_request_error")
			return
		}
	}

	dropped := s.plane.Invalidate(req.Flags)
	s.plane.InvalidateCredentials()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"dropped": dropped,
	})
}

// handleFeatureFlags dumps the flag cache contents for debugging.
func (s *Server) handleFeatureFlags(w http.ResponseWriter, _ *http.Request) {
	if s.plane == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "config plane not configured", "service_unavailable")
		return
	}
	flags := s.plane.CachedFlags()
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(flags),
		"flags": flags,
	})
}

// handleRouterMetrics reports the router's rolling-window aggregates.
func (s *Server) handleRouterMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.routerMetrics == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "router metrics not configured", "service_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.routerMetrics.ReportMetrics())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message, errType string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
		},
	})
}
