// Package metrics collects process-wide, counter-only statistics for the
// vector-loop daemon. Counters are grouped the way the daemon's own
// terminal-state/RCODE/question-type taxonomy is grouped: tcp, udp, dns,
// app. No histograms; every field is a plain atomic counter safe for
// concurrent use across workers and the three auxiliary threads.
package metrics

import (
	"sync/atomic"

	"github.com/jroosing/vectordns/internal/connmodel"
	"github.com/jroosing/vectordns/internal/dnswire"
)

// TCP collects per-terminal-state TCP connection counts.
type TCP struct {
	ClosedForRead     atomic.Uint64
	ReadErr           atomic.Uint64
	ClosedForWrite    atomic.Uint64
	WriteErr          atomic.Uint64
	QuerySizeTooLarge atomic.Uint64
	AssignConnIDErr   atomic.Uint64
	Accepted          atomic.Uint64
	AcceptRejectedFam atomic.Uint64
}

// UDP collects UDP listener I/O counts.
type UDP struct {
	Received     atomic.Uint64
	Sent         atomic.Uint64
	WouldBlock   atomic.Uint64
	ReadErrors   atomic.Uint64
	WriteErrors  atomic.Uint64
}

// DNS collects per-RCODE and per-question-type counts.
type DNS struct {
	RCode      [17]atomic.Uint64 // indices 0..16 (16 = BADVERS)
	QuestionA  atomic.Uint64
	QuestionNS atomic.Uint64
	Other      atomic.Uint64
}

// App collects auxiliary-thread error and drop counts.
type App struct {
	QueryLogDropped    atomic.Uint64
	AppLogDropped      atomic.Uint64
	ResourceLoadErrors atomic.Uint64
	ResourceAckTimeout atomic.Uint64
	LogOpenRetries     atomic.Uint64
}

// Metrics is the process-wide atomic counter set.
type Metrics struct {
	TCP TCP
	UDP UDP
	DNS DNS
	App App
}

// New returns a zeroed counter set.
func New() *Metrics { return &Metrics{} }

// RecordTCPTerminal bumps the counter matching a connection's terminal state.
// Non-terminal states are ignored.
func (m *Metrics) RecordTCPTerminal(s connmodel.TCPState) {
	switch s {
	case connmodel.StateClosedForRead:
		m.TCP.ClosedForRead.Add(1)
	case connmodel.StateReadErr:
		m.TCP.ReadErr.Add(1)
	case connmodel.StateClosedForWrite:
		m.TCP.ClosedForWrite.Add(1)
	case connmodel.StateWriteErr:
		m.TCP.WriteErr.Add(1)
	case connmodel.StateQuerySizeTooLarge:
		m.TCP.QuerySizeTooLarge.Add(1)
	case connmodel.StateAssignConnIDErr:
		m.TCP.AssignConnIDErr.Add(1)
	}
}

// RecordRCode bumps the counter for a produced response code. A code
// outside the 0..16 slot range (in-flight or negative local-flow codes
// included) is ignored.
func (m *Metrics) RecordRCode(code int) {
	if code < 0 || code > 16 {
		return
	}
	m.DNS.RCode[code].Add(1)
}

// RecordQuestionType bumps the per-question-type counter.
func (m *Metrics) RecordQuestionType(t dnswire.RType) {
	switch t {
	case dnswire.TypeA:
		m.DNS.QuestionA.Add(1)
	case dnswire.TypeNS:
		m.DNS.QuestionNS.Add(1)
	default:
		m.DNS.Other.Add(1)
	}
}

// Snapshot is a point-in-time copy of every counter, safe to serialize.
type Snapshot struct {
	TCP struct {
		ClosedForRead, ReadErr, ClosedForWrite, WriteErr,
		QuerySizeTooLarge, AssignConnIDErr, Accepted, AcceptRejectedFam uint64
	}
	UDP struct {
		Received, Sent, WouldBlock, ReadErrors, WriteErrors uint64
	}
	DNS struct {
		RCode                [17]uint64
		QuestionA, QuestionNS, Other uint64
	}
	App struct {
		QueryLogDropped, AppLogDropped, ResourceLoadErrors,
		ResourceAckTimeout, LogOpenRetries uint64
	}
}

// Snapshot reads every counter into a plain-value struct.
func (m *Metrics) Snapshot() Snapshot {
	var s Snapshot
	s.TCP.ClosedForRead = m.TCP.ClosedForRead.Load()
	s.TCP.ReadErr = m.TCP.ReadErr.Load()
	s.TCP.ClosedForWrite = m.TCP.ClosedForWrite.Load()
	s.TCP.WriteErr = m.TCP.WriteErr.Load()
	s.TCP.QuerySizeTooLarge = m.TCP.QuerySizeTooLarge.Load()
	s.TCP.AssignConnIDErr = m.TCP.AssignConnIDErr.Load()
	s.TCP.Accepted = m.TCP.Accepted.Load()
	s.TCP.AcceptRejectedFam = m.TCP.AcceptRejectedFam.Load()

	s.UDP.Received = m.UDP.Received.Load()
	s.UDP.Sent = m.UDP.Sent.Load()
	s.UDP.WouldBlock = m.UDP.WouldBlock.Load()
	s.UDP.ReadErrors = m.UDP.ReadErrors.Load()
	s.UDP.WriteErrors = m.UDP.WriteErrors.Load()

	for i := range m.DNS.RCode {
		s.DNS.RCode[i] = m.DNS.RCode[i].Load()
	}
	s.DNS.QuestionA = m.DNS.QuestionA.Load()
	s.DNS.QuestionNS = m.DNS.QuestionNS.Load()
	s.DNS.Other = m.DNS.Other.Load()

	s.App.QueryLogDropped = m.App.QueryLogDropped.Load()
	s.App.AppLogDropped = m.App.AppLogDropped.Load()
	s.App.ResourceLoadErrors = m.App.ResourceLoadErrors.Load()
	s.App.ResourceAckTimeout = m.App.ResourceAckTimeout.Load()
	s.App.LogOpenRetries = m.App.LogOpenRetries.Load()

	return s
}
