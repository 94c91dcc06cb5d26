package connmodel

import (
	"net/netip"
	"time"

	"github.com/jroosing/vectordns/internal/query"
)

// VariantKind is the tag of a Connection's three mutually exclusive
// shapes (spec DATA MODEL: "a tagged record with variant {UDP-
// listener, TCP-listener, TCP-connection}").
type VariantKind int

const (
	VariantUDPListener VariantKind = iota
	VariantTCPListener
	VariantTCPConn
)

// Family is the socket address family a Connection was created for.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

// Connection is the single tagged record backing every listener and
// accepted TCP socket a worker owns. Only the fields relevant to Kind
// are meaningful; the others sit unused, matching spec.md's "tagged
// record with variant" description rather than three separate Go
// types, since all three participate in the same FIFOs and the same
// readiness waiters via one token.
type Connection struct {
	Kind   VariantKind
	Family Family
	FD     int

	links [numFIFOKinds]fifoLink

	WaitingForRead  bool
	WaitingForWrite bool

	// --- UDP listener fields ---
	UDPQueries    []*query.Query // parallel to the read/write mmsg vector, length V
	UDPWriteIndex int
	UDPWriteCount int

	// --- TCP connection fields ---
	ClientAddr netip.AddrPort
	LocalAddr  netip.AddrPort

	ReadBuf    []byte // length S*(2+PacketSize)
	ReadLen    int
	Queries    []*query.Query // fixed array, length S
	QueryCount int

	WriteQueryIndex int
	WriteByteIndex  int

	EDNSKeepalive bool
	State         TCPState

	StartTime       time.Time
	TimeoutDeadline time.Time
	EndTime         time.Time

	CID uint64

	lruNext, lruPrev *Connection
}

// NewUDPListener builds the Connection wrapping an already-created and
// bound non-blocking UDP socket, with a Query slot per vector entry.
func NewUDPListener(fd int, family Family, vectorLen int) *Connection {
	c := &Connection{Kind: VariantUDPListener, Family: family, FD: fd}
	c.UDPQueries = make([]*query.Query, vectorLen)
	for i := range c.UDPQueries {
		c.UDPQueries[i] = query.NewUDP()
	}
	return c
}

// NewTCPListener builds the Connection wrapping an already-created,
// bound, and listening TCP socket.
func NewTCPListener(fd int, family Family) *Connection {
	return &Connection{Kind: VariantTCPListener, Family: family, FD: fd}
}

// NewTCPConn builds a freshly accepted TCP connection's Connection,
// with a fixed array of simultaneousQueries Query slots and a read
// buffer sized for that many maximally-sized framed queries.
func NewTCPConn(fd int, family Family, client, local netip.AddrPort, simultaneousQueries, packetSize int) *Connection {
	c := &Connection{
		Kind:       VariantTCPConn,
		Family:     family,
		FD:         fd,
		ClientAddr: client,
		LocalAddr:  local,
		ReadBuf:    make([]byte, simultaneousQueries*(2+packetSize)),
		Queries:    make([]*query.Query, simultaneousQueries),
		State:      StateWaitForQueryData,
	}
	for i := range c.Queries {
		c.Queries[i] = query.NewTCP()
	}
	return c
}
