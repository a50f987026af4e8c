package heartbeat

import (
	"sort"
	"sync"
	"time"

	"main/internal/obs"
)

// AlertState tracks whether a service is inside an alerted outage episode.
type AlertState uint8

const (
	StateOK AlertState = iota
	StateAlerted
)

// Entry is the monitor's view of one watched service. Entries are created
// on the first observed heartbeat and never deleted; a service that has
// never reported has no baseline and cannot be judged stale.
type Entry struct {
	Service  string
	LastSeen time.Time
	State    AlertState
}

// EventKind classifies a monitor event.
type EventKind uint8

const (
	// EventAlert is the CRITICAL, human-actionable staleness alert,
	// raised at most once per outage episode.
	EventAlert EventKind = iota
	// EventRecovery is the notice that a previously alerted service
	// resumed sending heartbeats.
	EventRecovery
)

// Event is one alert or recovery notice.
type Event struct {
	Kind    EventKind
	Service string
	// Silent is how long the service had been quiet when the event fired.
	Silent time.Duration
}

// Monitor owns the liveness map. It never probes; it only observes
// heartbeats pushed in by the hosting loop and judges staleness on an
// independent sweep.
type Monitor struct {
	staleAfter time.Duration
	metrics    *obs.Metrics

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMonitor creates a monitor with the given staleness threshold.
func NewMonitor(staleAfter time.Duration, metrics *obs.Metrics) *Monitor {
	if staleAfter <= 0 {
		staleAfter = 45 * time.Second
	}
	return &Monitor{
		staleAfter: staleAfter,
		metrics:    metrics,
		entries:    make(map[string]*Entry),
	}
}

// Observe records a heartbeat. It returns a recovery event when the
// service was inside an alerted outage episode, nil otherwise.
func (m *Monitor) Observe(service string, now time.Time) *Event {
	if service == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[service]
	if !ok {
		m.entries[service] = &Entry{Service: service, LastSeen: now}
		return nil
	}

	silent := now.Sub(entry.LastSeen)
	entry.LastSeen = now
	if entry.State != StateAlerted {
		return nil
	}
	entry.State = StateOK
	return &Event{Kind: EventRecovery, Service: service, Silent: silent}
}

// Sweep raises one CRITICAL alert for every service whose silence exceeds
// the staleness threshold and that is not already alerted. The alert
// latch suppresses repeated alerts for the same ongoing outage.
func (m *Monitor) Sweep(now time.Time) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event
	for _, entry := range m.entries {
		silent := now.Sub(entry.LastSeen)
		if silent <= m.staleAfter || entry.State == StateAlerted {
			continue
		}
		entry.State = StateAlerted
		m.metrics.IncAlertRaised()
		events = append(events, Event{Kind: EventAlert, Service: entry.Service, Silent: silent})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Service < events[j].Service })
	return events
}

// Entries returns a sorted snapshot of the liveness map.
func (m *Monitor) Entries() []Entry {
	m.mu.Lock()
	out := make([]Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, *entry)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}
