package obs

import "sync/atomic"

// Metrics collects lightweight counters for the relay and the executor.
// All methods are safe on a nil receiver so call sites never need guards.
type Metrics struct {
	relayForwarded  uint64
	relayNoMatch    uint64
	relaySlowDrops  uint64
	ordersProcessed uint64
	ordersDuplicate uint64
	ordersAmbiguous uint64
	ordersRecovered uint64
	alertsRaised    uint64
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	RelayForwarded  uint64
	RelayNoMatch    uint64
	RelaySlowDrops  uint64
	OrdersProcessed uint64
	OrdersDuplicate uint64
	OrdersAmbiguous uint64
	OrdersRecovered uint64
	AlertsRaised    uint64
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncRelayForwarded counts one frame fanned out to at least one subscriber.
func (m *Metrics) IncRelayForwarded() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.relayForwarded, 1)
}

// IncRelayNoMatch counts a silently dropped frame with no matching subscriber.
func (m *Metrics) IncRelayNoMatch() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.relayNoMatch, 1)
}

// IncRelaySlowDrop counts a frame dropped for one slow subscriber.
func (m *Metrics) IncRelaySlowDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.relaySlowDrops, 1)
}

// IncOrderProcessed counts a trade order taken through the state machine.
func (m *Metrics) IncOrderProcessed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersProcessed, 1)
}

// IncOrderDuplicate counts a redelivered order discarded by idempotency.
func (m *Metrics) IncOrderDuplicate() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersDuplicate, 1)
}

// IncOrderAmbiguous counts a submission deferred to recovery.
func (m *Metrics) IncOrderAmbiguous() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersAmbiguous, 1)
}

// IncOrderRecovered counts a pending record resolved by the recovery pass.
func (m *Metrics) IncOrderRecovered() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersRecovered, 1)
}

// IncAlertRaised counts a CRITICAL liveness alert.
func (m *Metrics) IncAlertRaised() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.alertsRaised, 1)
}

// Snapshot captures the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		RelayForwarded:  atomic.LoadUint64(&m.relayForwarded),
		RelayNoMatch:    atomic.LoadUint64(&m.relayNoMatch),
		RelaySlowDrops:  atomic.LoadUint64(&m.relaySlowDrops),
		OrdersProcessed: atomic.LoadUint64(&m.ordersProcessed),
		OrdersDuplicate: atomic.LoadUint64(&m.ordersDuplicate),
		OrdersAmbiguous: atomic.LoadUint64(&m.ordersAmbiguous),
		OrdersRecovered: atomic.LoadUint64(&m.ordersRecovered),
		AlertsRaised:    atomic.LoadUint64(&m.alertsRaised),
	}
}
