package dnswire

import (
	"encoding/binary"
	"fmt"
)

// Header is a DNS message header (RFC 1035 Section 4.1.1). Always 12
// bytes on the wire, big-endian.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Marshal serializes the header into a fresh 12-byte slice.
func (h Header) Marshal() []byte {
	b := make([]byte, HeaderSize)
	h.Put(b)
	return b
}

// Put serializes the header into b, which must be at least HeaderSize bytes.
func (h Header) Put(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], h.ID)
	binary.BigEndian.PutUint16(b[2:4], h.Flags)
	binary.BigEndian.PutUint16(b[4:6], h.QDCount)
	binary.BigEndian.PutUint16(b[6:8], h.ANCount)
	binary.BigEndian.PutUint16(b[8:10], h.NSCount)
	binary.BigEndian.PutUint16(b[10:12], h.ARCount)
}

// ParseHeader reads the fixed-size header from msg at *off, advancing
// *off by HeaderSize.
func ParseHeader(msg []byte, off *int) (Header, error) {
	if *off+HeaderSize > len(msg) {
		return Header{}, fmt.Errorf("%w: short header", ErrWire)
	}
	h := Header{
		ID:      binary.BigEndian.Uint16(msg[*off : *off+2]),
		Flags:   binary.BigEndian.Uint16(msg[*off+2 : *off+4]),
		QDCount: binary.BigEndian.Uint16(msg[*off+4 : *off+6]),
		ANCount: binary.BigEndian.Uint16(msg[*off+6 : *off+8]),
		NSCount: binary.BigEndian.Uint16(msg[*off+8 : *off+10]),
		ARCount: binary.BigEndian.Uint16(msg[*off+10 : *off+12]),
	}
	*off += HeaderSize
	return h, nil
}

// QR reports whether the QR (query/response) bit is set.
func (h Header) QR() bool { return h.Flags&FlagQR != 0 }

// RD reports whether recursion is desired.
func (h Header) RD() bool { return h.Flags&FlagRD != 0 }

// TC reports whether the truncation bit is set.
func (h Header) TC() bool { return h.Flags&FlagTC != 0 }

// RCode extracts the response code from the low 4 bits of Flags.
func (h Header) RCode() RCode { return RCode(h.Flags & FlagRCode) }
