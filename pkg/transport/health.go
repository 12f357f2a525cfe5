package transport

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// checkTimeout bounds a single dependency probe.
const checkTimeout = 5 * time.Second

// Check is a named dependency probe. Critical checks gate readiness;
// non-critical ones only degrade the aggregate report. Probe must
// respect context cancellation.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// Health serves the four probe endpoints. Liveness always passes,
// startup flips once MarkStarted is called, readiness fails on any
// critical check, and the aggregate reports everything.
type Health struct {
	checks  []Check
	started atomic.Bool
}

// NewHealth builds a Health over the given checks. Checks run
// sequentially in the order provided.
func NewHealth(checks ...Check) *Health {
	c := make([]Check, len(checks))
	copy(c, checks)
	return &Health{checks: c}
}

// MarkStarted flips the startup probe to passing. Called once the
// server is wired and listening.
func (h *Health) MarkStarted() {
	h.started.Store(true)
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleLive reports liveness. A process that can serve HTTP is alive.
func (h *Health) HandleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthReport{Status: "ok"})
}

// HandleStartup reports whether initial wiring has completed.
func (h *Health) HandleStartup(w http.ResponseWriter, _ *http.Request) {
	if !h.started.Load() {
		writeJSON(w, http.StatusServiceUnavailable, healthReport{Status: "starting"})
		return
	}
	writeJSON(w, http.StatusOK, healthReport{Status: "ok"})
}

// HandleReady reports readiness: 503 when any critical dependency is
// down. Non-critical failures appear in the check map but do not fail
// the probe, so a dead search provider never takes the service out of
// rotation.
func (h *Health) HandleReady(w http.ResponseWriter, r *http.Request) {
	report, criticalDown, _ := h.run(r.Context())
	status := http.StatusOK
	if !h.started.Load() {
		report.Status = "starting"
		status = http.StatusServiceUnavailable
	} else if criticalDown {
		report.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// HandleAggregate reports the full picture: "ok", "degraded" when only
// non-critical checks fail, "fail" when a critical one does.
func (h *Health) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	report, criticalDown, anyDown := h.run(r.Context())
	status := http.StatusOK
	switch {
	case criticalDown:
		report.Status = "fail"
		status = http.StatusServiceUnavailable
	case anyDown:
		report.Status = "degraded"
	}
	writeJSON(w, status, report)
}

func (h *Health) run(ctx context.Context) (healthReport, bool, bool) {
	report := healthReport{
		Status: "ok",
		Checks: make(map[string]string, len(h.checks)),
	}
	criticalDown := false
	anyDown := false

	for _, c := range h.checks {
		probeCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Probe(probeCtx)
		cancel()

		if err != nil {
			report.Checks[c.Name] = "fail: " + err.Error()
			anyDown = true
			if c.Critical {
				criticalDown = true
			}
		} else {
			report.Checks[c.Name] = "ok"
		}
	}

	return report, criticalDown, anyDown
}
