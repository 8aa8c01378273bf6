package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/log"
	"github.com/hearthd/hearth/pkg/metrics"
	"github.com/hearthd/hearth/pkg/types"
)

const stopDrain = 5 * time.Second

// BundleSource builds the bundle a sync cycle pushes.
type BundleSource interface {
	Build(ctx context.Context, user string) (*types.ContextBundle, error)
}

// CacheInvalidator marks a user's cached context stale. A BundleSource that
// also implements it gets notified when a cycle pulls fresh peer data, so
// the next build re-merges the remote excerpt instead of serving the cache.
type CacheInvalidator interface {
	Invalidate(user string)
}

// syncWorker is the single auto-sync loop. Reconnects back off from 10 s to
// 120 s; repeated non-connection failures extend the cadence up to twice
// the configured interval; any success restores it.
type syncWorker struct {
	bridge   *Bridge
	interval time.Duration
	user     string
	source   BundleSource

	reconnect *backoff.ExponentialBackOff
	failures  int

	cycleMu sync.Mutex // one cycle at a time, shared with SyncNow
	cancel  context.CancelFunc
	done    chan struct{}
}

func newSyncWorker(b *Bridge, cfg *config.Store) *syncWorker {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 120 * time.Second
	bo.MaxElapsedTime = 0 // the worker, not the backoff, decides when to stop
	bo.RandomizationFactor = 0.1
	bo.Reset() // apply the intervals set above; the constructor snapshots defaults

	return &syncWorker{
		bridge:    b,
		interval:  cfg.GetDuration(config.KeyCloudSyncInterval, 900*time.Second),
		user:      cfg.GetString(config.KeyCloudSyncUser, "default"),
		reconnect: bo,
	}
}

// StartAutoSync launches the sync loop. source supplies the bundle pushed
// each cycle. No-op when cloud sync is disabled.
func (b *Bridge) StartAutoSync(ctx context.Context, source BundleSource) {
	if b.worker == nil {
		return
	}
	b.worker.source = source
	b.worker.start(ctx)
}

// StopAutoSync cancels the loop and waits up to 5 s for an in-flight cycle.
func (b *Bridge) StopAutoSync() {
	if b.worker == nil || b.worker.cancel == nil {
		return
	}
	b.worker.cancel()
	select {
	case <-b.worker.done:
	case <-time.After(stopDrain):
		log.WithComponent("bridge").Warn().Msg("sync cycle still in flight at shutdown, abandoning")
	}
}

// SyncNow runs one cycle immediately, serialised against the worker.
func (b *Bridge) SyncNow(ctx context.Context) error {
	if b.worker == nil {
		return ErrNotConfigured
	}
	return b.worker.cycle(ctx)
}

func (w *syncWorker) start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		w.reconnect.Reset()
		delay := w.interval

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay = w.nextDelay(w.cycle(ctx))
		}
	}()
	log.WithComponent("bridge").Info().
		Dur("interval", w.interval).
		Str("user", w.user).
		Msg("auto-sync started")
}

// nextDelay picks the wait before the next cycle from the last outcome:
// unreachable peers follow the reconnect backoff, other repeated failures
// slow the cadence to at most twice the interval, success restores both.
func (w *syncWorker) nextDelay(err error) time.Duration {
	switch {
	case err == nil:
		w.reconnect.Reset()
		w.failures = 0
		return w.interval
	case errors.Is(err, ErrPeerUnreachable):
		return w.reconnect.NextBackOff()
	default:
		w.failures++
		if w.failures >= 2 {
			return 2 * w.interval
		}
		return w.interval
	}
}

// cycle pushes the current bundle and pulls the peer's. Either failing
// fails the cycle; outcomes are recorded, published, and counted.
func (w *syncWorker) cycle(ctx context.Context) error {
	w.cycleMu.Lock()
	defer w.cycleMu.Unlock()

	err := w.exchange(ctx)

	w.bridge.mu.Lock()
	w.bridge.lastSync = time.Now().UTC()
	w.bridge.lastErr = err
	w.bridge.mu.Unlock()

	if err != nil {
		metrics.SyncCycles.WithLabelValues("failure").Inc()
		log.WithComponent("bridge").Warn().Err(err).Msg("sync cycle failed")
		w.bridge.bus.Publish(types.EventSyncFailure, "bridge", map[string]any{
			"user":  w.user,
			"cause": err.Error(),
		})
		return err
	}

	metrics.SyncCycles.WithLabelValues("success").Inc()
	w.bridge.bus.Publish(types.EventSyncSuccess, "bridge", map[string]any{"user": w.user})
	return nil
}

func (w *syncWorker) exchange(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, stopDrain+callTimeout)
	defer cancel()

	if _, err := w.bridge.Health(ctx); err != nil {
		return err
	}

	if w.source != nil {
		bundle, err := w.source.Build(ctx, w.user)
		if err != nil {
			return err
		}
		if err := w.bridge.PushContext(ctx, w.user, bundle); err != nil {
			return err
		}
	}

	pulled, err := w.bridge.PullContext(ctx, w.user)
	if err != nil {
		return err
	}
	if pulled != nil {
		if inv, ok := w.source.(CacheInvalidator); ok {
			inv.Invalidate(w.user)
		}
	}
	return nil
}
