package snapshot

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/toko-rates/internal/events"
	"github.com/noah-isme/toko-rates/internal/obs"
)

// ReloadHook runs after a new snapshot replaces prev. prev is nil on the first load.
type ReloadHook func(ctx context.Context, prev, next *Snapshot)

// Holder owns the snapshot shared by every request. Reads are lock free; a reload happens only
// after Invalidate (or on first use) and concurrent callers share a single reload.
type Holder struct {
	loader  Loader
	logger  zerolog.Logger
	current atomic.Pointer[Snapshot]
	stale   atomic.Bool
	version atomic.Uint64
	group   singleflight.Group
	hooks   []ReloadHook
}

// NewHolder constructs a Holder. Nothing is loaded until Current or Reload is called.
func NewHolder(loader Loader, logger zerolog.Logger, hooks ...ReloadHook) *Holder {
	return &Holder{loader: loader, logger: logger, hooks: hooks}
}

// Current returns the snapshot, reloading first when it is missing or stale. If a reload fails
// while an older snapshot exists the older one keeps being served.
func (h *Holder) Current(ctx context.Context) (*Snapshot, error) {
	snap := h.current.Load()
	if snap != nil && !h.stale.Load() {
		return snap, nil
	}
	next, err := h.Reload(ctx)
	if err == nil {
		return next, nil
	}
	if snap != nil {
		h.logger.Warn().Err(err).Uint64("version", snap.Version).Msg("snapshot reload failed, serving previous version")
		return snap, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Reload loads and indexes the entities now.
func (h *Holder) Reload(ctx context.Context) (*Snapshot, error) {
	v, err, _ := h.group.Do("reload", func() (any, error) {
		h.stale.Store(false)
		start := time.Now()
		entities, err := h.loader.Load(ctx)
		if err == nil {
			var snap *Snapshot
			snap, err = Build(h.version.Load()+1, entities)
			if err == nil {
				h.version.Store(snap.Version)
				prev := h.current.Swap(snap)
				obs.ObserveSnapshotReload("ok", obs.DurationMillis(time.Since(start)), snap.Version)
				h.logger.Info().Uint64("version", snap.Version).Int("services", len(snap.Services())).
					Dur("took", time.Since(start)).Msg("rate snapshot loaded")
				for _, hook := range h.hooks {
					hook(ctx, prev, snap)
				}
				return snap, nil
			}
		}
		h.stale.Store(true)
		obs.ObserveSnapshotReload("error", 0, 0)
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Invalidate marks the snapshot stale; the next Current call reloads it.
func (h *Holder) Invalidate(reason string) {
	h.stale.Store(true)
	h.logger.Info().Str("reason", reason).Msg("rate snapshot invalidated")
}

// Notify implements events.Notifier.
func (h *Holder) Notify(_ context.Context, change events.Change) error {
	reason := change.Topic
	if change.EntityID != "" {
		reason += " " + change.EntityID
	}
	h.Invalidate(reason)
	return nil
}

// Loaded returns the snapshot without triggering a reload.
func (h *Holder) Loaded() (*Snapshot, bool) {
	snap := h.current.Load()
	return snap, snap != nil
}

// Stale reports whether an invalidation is pending.
func (h *Holder) Stale() bool {
	return h.stale.Load()
}

// Run reloads on every tick of interval until ctx ends, so a pending invalidation is applied
// even when no request arrives. A non-positive interval returns immediately.
func (h *Holder) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.Reload(ctx); err != nil {
				h.logger.Error().Err(err).Msg("periodic snapshot reload failed")
			}
		}
	}
}

// String describes the loaded version for logs.
func (h *Holder) String() string {
	snap := h.current.Load()
	if snap == nil {
		return "snapshot(unloaded)"
	}
	return "snapshot(v" + strconv.FormatUint(snap.Version, 10) + ")"
}
