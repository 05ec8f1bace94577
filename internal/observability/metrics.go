package observability

import "sync/atomic"

// Metrics counts server activity. The zero value is ready to use and all
// methods are safe for concurrent use. A nil *Metrics ignores every call.
type Metrics struct {
	connectionsAccepted atomic.Int64
	connectionsActive   atomic.Int64
	acceptErrors        atomic.Int64
	commandsHandled     atomic.Int64
	protocolViolations  atomic.Int64
	broadcasts          atomic.Int64
	deliveries          atomic.Int64
	deliveriesDropped   atomic.Int64
	journalDropped      atomic.Int64
}

// NewMetrics returns an empty Metrics.
func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Add(1)
	m.connectionsActive.Add(1)
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Add(-1)
}

func (m *Metrics) AcceptFailed() {
	if m != nil {
		m.acceptErrors.Add(1)
	}
}

func (m *Metrics) CommandHandled() {
	if m != nil {
		m.commandsHandled.Add(1)
	}
}

func (m *Metrics) ProtocolViolation() {
	if m != nil {
		m.protocolViolations.Add(1)
	}
}

// Broadcast records one fan-out that reached delivered handles and failed on dropped ones.
func (m *Metrics) Broadcast(delivered, dropped int) {
	if m == nil {
		return
	}
	m.broadcasts.Add(1)
	m.deliveries.Add(int64(delivered))
	m.deliveriesDropped.Add(int64(dropped))
}

func (m *Metrics) JournalDropped() {
	if m != nil {
		m.journalDropped.Add(1)
	}
}

// Snapshot returns a point-in-time copy suitable for JSON encoding.
func (m *Metrics) Snapshot() map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return map[string]int64{
		"connections_accepted": m.connectionsAccepted.Load(),
		"connections_active":   m.connectionsActive.Load(),
		"accept_errors":        m.acceptErrors.Load(),
		"commands_handled":     m.commandsHandled.Load(),
		"protocol_violations":  m.protocolViolations.Load(),
		"broadcasts":           m.broadcasts.Load(),
		"deliveries":           m.deliveries.Load(),
		"deliveries_dropped":   m.deliveriesDropped.Load(),
		"journal_dropped":      m.journalDropped.Load(),
	}
}
