package transport

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-mobile/synccore/internal/events"
	"github.com/aegis-mobile/synccore/pkg/logger"
)

const defaultProbeInterval = 30 * time.Second

// Connectivity reports whether the backend is reachable.
type Connectivity interface {
	Online() bool
}

// NetworkChange is the payload published on the network topic whenever
// reachability flips.
type NetworkChange struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// Monitor tracks reachability. State changes come from two directions: a
// periodic probe against the backend, and explicit Set calls fed by the
// host platform's reachability callbacks. Every flip is published on the
// event bus; steady state is silent.
type Monitor struct {
	bus      *events.Bus
	log      *zap.Logger
	probe    func(ctx context.Context) bool
	interval time.Duration
	now      func() time.Time

	online atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// MonitorOption customises the Monitor.
type MonitorOption func(*Monitor)

// WithProbe replaces the reachability probe.
func WithProbe(probe func(ctx context.Context) bool) MonitorOption {
	return func(m *Monitor) {
		if probe != nil {
			m.probe = probe
		}
	}
}

// WithProbeInterval adjusts how often the probe runs.
func WithProbeInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMonitorNow overrides the clock, primarily for tests.
func WithMonitorNow(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMonitor constructs a Monitor that probes the given URL with a HEAD
// request. The monitor starts pessimistic: offline until proven otherwise.
func NewMonitor(bus *events.Bus, probeURL string, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		bus:      bus,
		log:      logger.WithModule("connectivity"),
		interval: defaultProbeInterval,
		now:      time.Now,
	}
	m.probe = headProbe(probeURL)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func headProbe(probeURL string) func(ctx context.Context) bool {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) bool {
		if probeURL == "" {
			return false
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode < 500
	}
}

// Online reports the last observed reachability.
func (m *Monitor) Online() bool { return m.online.Load() }

// Set records a reachability change reported by the platform. It publishes
// only on an actual flip.
func (m *Monitor) Set(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	m.log.Info("network state changed", zap.Bool("online", online))
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Topic:   events.TopicNetworkChanged,
			Payload: NetworkChange{Online: online, At: m.now().UTC()},
		})
	}
}

// Start launches the periodic probe loop. It runs an immediate probe, then
// one per interval, until Stop or context cancellation.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.started = true
	m.mu.Unlock()

	go func() {
		defer close(m.done)

		m.Set(m.probe(ctx))

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Set(m.probe(ctx))
			}
		}
	}()
}

// Stop halts the probe loop. Safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.started = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
