// Package connectivity tracks whether the device can reach the network.
package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 3 * time.Second
)

// Prober performs one reachability check. Any error means offline.
type Prober interface {
	Probe(ctx context.Context) error
}

type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Listener receives the new state on every online/offline transition. It runs
// on the probing goroutine and must not call Check or Set.
type Listener func(online bool)

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Monitor probes on a fixed interval and notifies listeners on transitions
// only, never on a probe that leaves the state unchanged.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration

	online atomic.Bool

	// serializes probe results so each transition is observed exactly once
	checkMu sync.Mutex

	mu        sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewMonitor(prober Prober, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Monitor{
		prober:    prober,
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		listeners: make(map[uint64]Listener),
	}
}

// Start probes once immediately and then on every interval until ctx is done
// or Close is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.Check(ctx)

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

// Check runs one probe, records the result and notifies listeners if the
// state changed. It returns the new state.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.prober.Probe(probeCtx)
	cancel()
	online := err == nil
	if err != nil {
		glog.V(2).Infof("[conn]probe failed: %v\n", err)
	}
	m.set(online)
	return online
}

// Set forces the state, notifying listeners on a transition. It is meant for
// platforms that push connectivity changes instead of being probed.
func (m *Monitor) Set(online bool) {
	m.set(online)
}

func (m *Monitor) set(online bool) {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()
	previous := m.online.Swap(online)
	if previous == online {
		return
	}
	glog.Infof("[conn]transition online=%t\n", online)
	m.notify(online)
}

func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// Subscribe registers l and returns a function that removes it. The returned
// function is safe to call more than once.
func (m *Monitor) Subscribe(l Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

func (m *Monitor) notify(online bool) {
	m.mu.Lock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		invoke(l, online)
	}
}

func invoke(l Listener, online bool) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("[conn]listener panic: %v\n", r)
		}
	}()
	l(online)
}

// Close stops probing and drops all listeners. IsOnline keeps returning the
// last observed state.
func (m *Monitor) Close() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.listeners = make(map[uint64]Listener)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
