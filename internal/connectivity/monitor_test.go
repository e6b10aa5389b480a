package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestManualMonitorNotifiesOnFlipOnly(t *testing.T) {
	m := NewManualMonitor(false)

	var flips []bool
	unsubscribe := m.Subscribe(func(online bool) {
		flips = append(flips, online)
	})

	m.Set(false) // redundant, no notification
	m.Set(true)
	m.Set(true) // redundant
	m.Set(false)

	if len(flips) != 2 || flips[0] != true || flips[1] != false {
		t.Errorf("expected flips [true false], got %v", flips)
	}
	if m.Online() {
		t.Error("expected monitor to end offline")
	}

	unsubscribe()
	m.Set(true)
	if len(flips) != 2 {
		t.Error("unsubscribed handler still fired")
	}
}

func TestManualMonitorMultipleSubscribers(t *testing.T) {
	m := NewManualMonitor(false)

	first, second := 0, 0
	m.Subscribe(func(bool) { first++ })
	cancel := m.Subscribe(func(bool) { second++ })

	m.Set(true)
	cancel()
	m.Set(false)

	if first != 2 {
		t.Errorf("expected 2 notifications for first subscriber, got %d", first)
	}
	if second != 1 {
		t.Errorf("expected 1 notification for second subscriber, got %d", second)
	}
}

func TestProbeMonitorDetectsReachability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewProbeMonitor(server.URL, 50*time.Millisecond)
	if p.Online() {
		t.Error("probe monitor must start offline")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for !p.Online() {
		if time.Now().After(deadline) {
			t.Fatal("probe monitor never came online")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Losing the probe target flips the monitor back offline.
	server.Close()
	deadline = time.Now().Add(2 * time.Second)
	for p.Online() {
		if time.Now().After(deadline) {
			t.Fatal("probe monitor never went offline after target loss")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
