package service

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ucmc/clinic-client/internal/core/domain"
	"github.com/ucmc/clinic-client/internal/core/ports"
)

// activityMonitor owns the two time-driven behaviours of an authenticated
// session: throttled sampling of interaction signals, and the periodic
// inactivity-expiry check. It runs only between entering and leaving the
// authenticated state; start and stop are idempotent and symmetric.
type activityMonitor struct {
	source ports.ActivitySource // nil when no interaction signals exist
	policy domain.TimeoutPolicy
	clock  func() time.Time
	log    zerolog.Logger

	// record applies UPDATE_ACTIVITY and persists; expired/expire close
	// the session. All three are provided by the session manager and take
	// its lock internally, so the monitor must never be stopped while
	// holding that lock in a way that joins the goroutine.
	record  func()
	expired func() bool
	expire  func()

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

func newActivityMonitor(source ports.ActivitySource, policy domain.TimeoutPolicy, clock func() time.Time, log zerolog.Logger) *activityMonitor {
	return &activityMonitor{
		source: source,
		policy: policy,
		clock:  clock,
		log:    log,
	}
}

// start launches the monitor goroutine. Re-entering the authenticated state
// while already registered must not double-register.
func (a *activityMonitor) start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.running = true
	a.stop = make(chan struct{})

	var signals <-chan struct{}
	cancel := func() {}
	if a.source != nil {
		signals, cancel = a.source.Subscribe()
	}
	go a.run(a.stop, signals, cancel)
}

// halt tears the monitor down. Safe to call repeatedly and from any state;
// it signals the goroutine instead of joining it.
func (a *activityMonitor) halt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	close(a.stop)
}

func (a *activityMonitor) run(stop chan struct{}, signals <-chan struct{}, cancel func()) {
	defer cancel()

	ticker := time.NewTicker(a.policy.ExpiryCheckInterval)
	defer ticker.Stop()

	// Sampling throttle: one recorded activity per window, regardless of
	// signal frequency.
	var lastSample time.Time

	for {
		select {
		case <-stop:
			return
		case _, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			now := a.clock()
			if lastSample.IsZero() || now.Sub(lastSample) >= a.policy.ActivityThrottle {
				lastSample = now
				a.record()
			}
		case <-ticker.C:
			if a.expired() {
				a.log.Info().Msg("inactivity window elapsed, closing session")
				a.expire()
				a.halt()
				return
			}
		}
	}
}
