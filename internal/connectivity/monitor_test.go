package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type switchProber struct {
	online atomic.Bool
	calls  atomic.Int32
}

func (p *switchProber) Probe(ctx context.Context) error {
	p.calls.Add(1)
	if p.online.Load() {
		return nil
	}
	return errors.New("unreachable")
}

func TestCheckNotifiesOnTransitionsOnly(t *testing.T) {
	prober := &switchProber{}
	m := NewMonitor(prober, Config{Interval: time.Hour})

	var mu sync.Mutex
	var seen []bool
	m.Subscribe(func(online bool) {
		mu.Lock()
		seen = append(seen, online)
		mu.Unlock()
	})

	assert.False(t, m.Check(testContext(t)))
	prober.online.Store(true)
	assert.True(t, m.Check(testContext(t)))
	assert.True(t, m.Check(testContext(t)))
	prober.online.Store(false)
	assert.False(t, m.Check(testContext(t)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, seen)
}

func TestListenerPanicIsIsolated(t *testing.T) {
	prober := &switchProber{}
	prober.online.Store(true)
	m := NewMonitor(prober, Config{Interval: time.Hour})

	var called atomic.Int32
	m.Subscribe(func(bool) { panic("boom") })
	m.Subscribe(func(bool) { called.Add(1) })
	m.Subscribe(func(bool) { panic(errors.New("boom again")) })

	assert.True(t, m.Check(testContext(t)))
	assert.Equal(t, int32(1), called.Load())
	assert.True(t, m.IsOnline())
}

func TestUnsubscribe(t *testing.T) {
	m := NewMonitor(&switchProber{}, Config{Interval: time.Hour})
	var called atomic.Int32
	unsubscribe := m.Subscribe(func(bool) { called.Add(1) })
	unsubscribe()
	unsubscribe()
	m.Set(true)
	assert.Zero(t, called.Load())
}

func TestProbeTimeoutCountsAsOffline(t *testing.T) {
	m := NewMonitor(ProberFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), Config{Interval: time.Hour, Timeout: 20 * time.Millisecond})
	m.Set(true)

	start := time.Now()
	assert.False(t, m.Check(testContext(t)))
	assert.Less(t, time.Since(start), time.Second)
}

func TestStartProbesImmediatelyAndCloseKeepsState(t *testing.T) {
	prober := &switchProber{}
	prober.online.Store(true)
	m := NewMonitor(prober, Config{Interval: 10 * time.Millisecond})

	var transitions atomic.Int32
	m.Subscribe(func(bool) { transitions.Add(1) })

	m.Start(testContext(t))
	assert.True(t, m.IsOnline())
	require.Eventually(t, func() bool { return prober.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	m.Close()
	calls := prober.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, prober.calls.Load())
	assert.True(t, m.IsOnline())
	assert.Equal(t, int32(1), transitions.Load())

	// listeners are cleared on close
	m.Set(false)
	assert.Equal(t, int32(1), transitions.Load())
	m.Close()
}

func TestHTTPProber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	assert.NoError(t, NewHTTPProber(server.URL).Probe(testContext(t)))

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	assert.Error(t, NewHTTPProber(failing.URL).Probe(testContext(t)))

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()
	assert.Error(t, NewHTTPProber(url).Probe(testContext(t)))
}
