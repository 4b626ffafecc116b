package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/noah-isme/toko-rates/internal/snapshot"
)

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady toggles readiness. It is cleared when the server starts shutting down.
func SetReady(v bool) {
	ready.Store(v)
}

// SnapshotState reports whether rate configuration has been loaded.
type SnapshotState interface {
	Loaded() (*snapshot.Snapshot, bool)
	Stale() bool
}

// Check probes one dependency.
type Check func(ctx context.Context) error

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Snapshot SnapshotState
	// Checks are reported but only the snapshot gates readiness, since quotes are served from
	// memory once it is loaded.
	Checks  map[string]Check
	Timeout time.Duration
}

type readyBody struct {
	Status   string            `json:"status"`
	Snapshot *snapshot.Summary `json:"snapshot,omitempty"`
	Stale    bool              `json:"stale,omitempty"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness: a snapshot must be loaded and the server must not be draining.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	body := readyBody{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK

	if !ready.Load() {
		body.Status = "shutting_down"
		status = http.StatusServiceUnavailable
	}
	if h.Snapshot == nil {
		body.Status = "unconfigured"
		status = http.StatusServiceUnavailable
	} else if snap, ok := h.Snapshot.Loaded(); !ok {
		body.Status = "snapshot_unavailable"
		status = http.StatusServiceUnavailable
	} else {
		summary := snap.Summary()
		body.Snapshot = &summary
		body.Stale = h.Snapshot.Stale()
	}

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		result := "ok"
		if err := h.Checks[name](ctx); err != nil {
			result = err.Error()
		}
		cancel()
		body.Checks[name] = result
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.Timeout
}
