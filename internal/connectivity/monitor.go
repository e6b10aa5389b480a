// Package connectivity abstracts the host environment's network
// reachability signal so the sync engine can be driven by any source: a
// platform event, a reachability probe, or a test fixture.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/waveline-app/core/internal/logging"
)

// Monitor exposes the current reachability state and change
// notifications. Subscribers are invoked on every flip, not on
// redundant sets.
type Monitor interface {
	// Online returns the last known reachability state.
	Online() bool

	// Subscribe registers a flip handler and returns an unsubscribe
	// function. Handlers run synchronously on the goroutine that
	// observed the flip.
	Subscribe(fn func(online bool)) func()
}

// ManualMonitor is a Monitor driven by explicit Set calls, for hosts
// that surface their own connectivity events and for tests.
type ManualMonitor struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]func(online bool)
}

// NewManualMonitor creates a ManualMonitor with the given initial state.
func NewManualMonitor(online bool) *ManualMonitor {
	return &ManualMonitor{
		online:    online,
		listeners: make(map[int]func(online bool)),
	}
}

// Online returns the current state.
func (m *ManualMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a flip handler.
func (m *ManualMonitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Set updates the state. Listeners fire only when the state actually
// changes.
func (m *ManualMonitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	logging.Info("Connectivity changed", map[string]interface{}{
		"online": online,
	})

	for _, fn := range listeners {
		fn(online)
	}
}

// ProbeMonitor derives reachability by polling a probe URL. Useful on
// hosts without a native connectivity event.
type ProbeMonitor struct {
	*ManualMonitor

	probeURL   string
	interval   time.Duration
	httpClient *http.Client

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewProbeMonitor creates a ProbeMonitor polling probeURL every
// interval. The monitor starts offline until the first successful probe.
func NewProbeMonitor(probeURL string, interval time.Duration) *ProbeMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ProbeMonitor{
		ManualMonitor: NewManualMonitor(false),
		probeURL:      probeURL,
		interval:      interval,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		stopCh:        make(chan struct{}),
	}
}

// Start begins probing until ctx is done or Stop is called.
func (p *ProbeMonitor) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		p.probe(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.probe(ctx)
			}
		}
	}()
}

// Stop halts probing and waits for the probe goroutine to exit.
func (p *ProbeMonitor) Stop() {
	p.stopped.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
}

func (p *ProbeMonitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.probeURL, nil)
	if err != nil {
		p.Set(false)
		return
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.Set(false)
		return
	}
	resp.Body.Close()

	p.Set(resp.StatusCode < 500)
}
