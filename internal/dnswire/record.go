package dnswire

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Record is a DNS resource record (RFC 1035 Section 4.1.3). Data is
// type-specific:
//   - A/AAAA: netip.Addr
//   - CNAME/NS: string (a name)
//   - OPT: []byte (pre-marshaled EDNS option data; Class/TTL double as
//     the UDP payload size and the extended-rcode/version/DO fields)
type Record struct {
	Name  string
	Type  RType
	Class RClass
	TTL   uint32
	Data  any
}

// Marshal appends the record's wire form to dst, compressing Name
// against table (the OPT root name is never compressed: it is always
// the single zero byte per RFC 6891).
func (rr Record) Marshal(dst []byte, table *CompressionTable) ([]byte, error) {
	var err error
	if rr.Type == TypeOPT {
		dst = append(dst, 0)
	} else {
		dst, err = table.Append(dst, rr.Name)
		if err != nil {
			return nil, err
		}
	}

	rdata, err := rr.marshalRData()
	if err != nil {
		return nil, err
	}

	var fixed [10]byte
	binary.BigEndian.PutUint16(fixed[0:2], uint16(rr.Type))
	binary.BigEndian.PutUint16(fixed[2:4], uint16(rr.Class))
	binary.BigEndian.PutUint32(fixed[4:8], rr.TTL)
	binary.BigEndian.PutUint16(fixed[8:10], uint16(len(rdata)))
	dst = append(dst, fixed[:]...)
	dst = append(dst, rdata...)
	return dst, nil
}

func (rr Record) marshalRData() ([]byte, error) {
	switch rr.Type {
	case TypeA:
		a, ok := rr.Data.(netip.Addr)
		if !ok || !a.Is4() {
			return nil, fmt.Errorf("%w: A record data must be an IPv4 address", ErrWire)
		}
		b := a.As4()
		return b[:], nil
	case TypeAAAA:
		a, ok := rr.Data.(netip.Addr)
		if !ok || !a.Is6() {
			return nil, fmt.Errorf("%w: AAAA record data must be an IPv6 address", ErrWire)
		}
		b := a.As16()
		return b[:], nil
	case TypeCNAME, TypeNS:
		s, ok := rr.Data.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("%w: name-based record data must be a non-empty string", ErrWire)
		}
		return EncodeName(s)
	case TypeOPT:
		if rr.Data == nil {
			return nil, nil
		}
		b, ok := rr.Data.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: OPT record data must be raw bytes", ErrWire)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unsupported record type %d", ErrWire, rr.Type)
	}
}

// ParseRecord parses a resource record from msg at *off, advancing
// *off past it.
func ParseRecord(msg []byte, off *int) (Record, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return Record{}, err
	}
	if *off+10 > len(msg) {
		return Record{}, fmt.Errorf("%w: truncated record header", ErrWire)
	}
	rrType := RType(binary.BigEndian.Uint16(msg[*off : *off+2]))
	rrClass := RClass(binary.BigEndian.Uint16(msg[*off+2 : *off+4]))
	ttl := binary.BigEndian.Uint32(msg[*off+4 : *off+8])
	rdlen := int(binary.BigEndian.Uint16(msg[*off+8 : *off+10]))
	*off += 10
	if *off+rdlen > len(msg) {
		return Record{}, fmt.Errorf("%w: truncated record rdata", ErrWire)
	}
	rdata := msg[*off : *off+rdlen]
	*off += rdlen

	var data any
	switch rrType {
	case TypeA:
		if len(rdata) != 4 {
			return Record{}, fmt.Errorf("%w: A record rdata must be 4 bytes", ErrWire)
		}
		data, _ = netip.AddrFromSlice(rdata)
	case TypeAAAA:
		if len(rdata) != 16 {
			return Record{}, fmt.Errorf("%w: AAAA record rdata must be 16 bytes", ErrWire)
		}
		data, _ = netip.AddrFromSlice(rdata)
	case TypeCNAME, TypeNS:
		nameOff := *off - rdlen
		n, err := DecodeName(msg, &nameOff)
		if err != nil {
			return Record{}, err
		}
		data = n
	case TypeOPT:
		b := make([]byte, len(rdata))
		copy(b, rdata)
		data = b
	default:
		b := make([]byte, len(rdata))
		copy(b, rdata)
		data = b
	}

	return Record{Name: name, Type: rrType, Class: rrClass, TTL: ttl, Data: data}, nil
}
