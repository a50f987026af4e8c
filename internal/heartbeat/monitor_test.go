package heartbeat

import (
	"testing"
	"time"

	"main/internal/obs"
)

func TestMonitorAlertsOncePerOutage(t *testing.T) {
	metrics := obs.NewMetrics()
	monitor := NewMonitor(45*time.Second, metrics)
	base := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	// Two healthy services reporting on the 15s cadence.
	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * 15 * time.Second)
		if ev := monitor.Observe("executor", at); ev != nil {
			t.Fatalf("unexpected event at tick %d: %+v", i, ev)
		}
		if ev := monitor.Observe("feed", at); ev != nil {
			t.Fatalf("unexpected event at tick %d: %+v", i, ev)
		}
	}
	last := base.Add(45 * time.Second)

	if events := monitor.Sweep(last.Add(10 * time.Second)); len(events) != 0 {
		t.Fatalf("no service is stale yet, got %+v", events)
	}

	// feed goes silent; executor keeps reporting.
	silentCheck := last.Add(50 * time.Second)
	monitor.Observe("executor", silentCheck)

	events := monitor.Sweep(silentCheck)
	if len(events) != 1 {
		t.Fatalf("expected exactly one alert, got %+v", events)
	}
	if events[0].Kind != EventAlert || events[0].Service != "feed" {
		t.Fatalf("wrong alert: %+v", events[0])
	}
	if events[0].Silent != 50*time.Second {
		t.Fatalf("silence mismatch! should be 50s but got %s", events[0].Silent)
	}

	// The outage continues: repeated sweeps must stay quiet.
	for i := 1; i <= 5; i++ {
		at := silentCheck.Add(time.Duration(i) * 5 * time.Second)
		monitor.Observe("executor", at)
		if events := monitor.Sweep(at); len(events) != 0 {
			t.Fatalf("repeated alert for the same outage: %+v", events)
		}
	}

	if got := metrics.Snapshot().AlertsRaised; got != 1 {
		t.Fatalf("alerts raised mismatch! should be 1 but got %d", got)
	}
}

func TestMonitorRecoveryClearsLatch(t *testing.T) {
	monitor := NewMonitor(45*time.Second, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	monitor.Observe("executor", base)
	if events := monitor.Sweep(base.Add(60 * time.Second)); len(events) != 1 {
		t.Fatalf("expected one alert, got %+v", events)
	}

	// Heartbeats resume.
	back := base.Add(90 * time.Second)
	ev := monitor.Observe("executor", back)
	if ev == nil || ev.Kind != EventRecovery {
		t.Fatalf("expected recovery event, got %+v", ev)
	}
	if ev.Silent != 90*time.Second {
		t.Fatalf("silence mismatch! should be 90s but got %s", ev.Silent)
	}

	// A fresh outage alerts again.
	if events := monitor.Sweep(back.Add(50 * time.Second)); len(events) != 1 {
		t.Fatalf("new outage must alert again, got %+v", events)
	}
}

func TestMonitorNeverSeenServiceStaysSilent(t *testing.T) {
	monitor := NewMonitor(45*time.Second, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// No baseline, no judgement.
	if events := monitor.Sweep(now); len(events) != 0 {
		t.Fatalf("unexpected events: %+v", events)
	}
	if entries := monitor.Entries(); len(entries) != 0 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestMonitorEntriesSorted(t *testing.T) {
	monitor := NewMonitor(0, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, svc := range []string{"relay", "executor", "feed"} {
		monitor.Observe(svc, now)
	}

	entries := monitor.Entries()
	if len(entries) != 3 {
		t.Fatalf("entry count mismatch! should be 3 but got %d", len(entries))
	}
	for i, want := range []string{"executor", "feed", "relay"} {
		if entries[i].Service != want {
			t.Fatalf("order mismatch at %d! should be %s but got %s", i, want, entries[i].Service)
		}
	}
}
