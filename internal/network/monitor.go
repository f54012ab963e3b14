package network

import (
	"context"
	"sync"
	"time"

	"projectsync/internal/utils"
)

// DefaultProbeInterval is how often Run probes the remote API
const DefaultProbeInterval = 15 * time.Second

// DefaultProbeTimeout bounds a single probe
const DefaultProbeTimeout = 3 * time.Second

// Prober checks whether the remote API is reachable
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a plain function to Prober
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Monitor tracks connectivity and notifies subscribers on transitions.
// It never fails; it only observes.
type Monitor struct {
	mu          sync.Mutex
	online      bool
	reason      string
	lastChange  time.Time
	nextID      int
	subscribers map[int]func(online bool)
	reconnect   []func()
	now         func() time.Time
}

// NewMonitor creates a monitor with the given initial status
func NewMonitor(initial bool) *Monitor {
	return &Monitor{
		online:      initial,
		subscribers: make(map[int]func(online bool)),
		now:         time.Now,
	}
}

// CurrentStatus reports the last observed connectivity
func (m *Monitor) CurrentStatus() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Reason describes why the monitor last saw the API as offline
func (m *Monitor) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// LastChange returns when the status last flipped (zero if never)
func (m *Monitor) LastChange() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChange
}

// Subscribe registers fn for status transitions. The returned func removes it.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		})
	}
}

// OnReconnect registers a hook invoked once per offline to online transition
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnect = append(m.reconnect, fn)
}

// SetStatus records an observation. Callbacks run only when the status
// actually changes, outside the lock.
func (m *Monitor) SetStatus(online bool) {
	m.setStatus(online, "")
}

func (m *Monitor) setStatus(online bool, reason string) {
	m.mu.Lock()
	if online {
		reason = ""
	}
	m.reason = reason
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.lastChange = m.now()

	subs := make([]func(bool), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	var hooks []func()
	if online {
		hooks = append(hooks, m.reconnect...)
	}
	m.mu.Unlock()

	if online {
		utils.Infof("Connectivity restored")
	} else {
		utils.Warnf("Connectivity lost: %s", reason)
	}

	for _, fn := range subs {
		safeCall(func() { fn(online) })
	}
	for _, fn := range hooks {
		safeCall(fn)
	}
}

// Check probes once and records the outcome
func (m *Monitor) Check(ctx context.Context, prober Prober, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := prober.Probe(probeCtx)
	if err != nil {
		if ctx.Err() != nil {
			// shutting down, not an observation
			return m.CurrentStatus()
		}
		reason := ClassifyError(err)
		utils.Debugf("Probe failed (%s): %v", reason, err)
		m.setStatus(false, reason)
		return false
	}
	m.setStatus(true, "")
	return true
}

// Run probes immediately and then every interval until ctx is done
func (m *Monitor) Run(ctx context.Context, prober Prober, interval, timeout time.Duration) {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}

	m.Check(ctx, prober, timeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx, prober, timeout)
		}
	}
}

func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("Panic in connectivity callback: %v", r)
		}
	}()
	fn()
}
