package dnswire

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// EDNS Client Subnet address families (RFC 7871 §6, matching the IANA
// address family registry used by SNMP).
const (
	ClientSubnetFamilyIPv4 = 1
	ClientSubnetFamilyIPv6 = 2
)

// ClientSubnet is a parsed EDNS Client Subnet option (RFC 7871).
type ClientSubnet struct {
	Family    uint16
	SourcePfx uint8
	ScopePfx  uint8
	Address   netip.Addr
}

// ParseClientSubnet decodes option data laid out as:
//
//	FAMILY(2) | SOURCE PREFIX-LENGTH(1) | SCOPE PREFIX-LENGTH(1) | ADDRESS[...]
//
// ADDRESS is the minimum number of bytes needed to hold SOURCE
// PREFIX-LENGTH bits (RFC 7871 §6: "the number of significant bits of
// the Client Subnet IP"); the decoded address is those bytes followed
// by zero bytes up to the family's full length. Any violation of the
// family/prefix-length/trailing-zero-bits constraints yields FORMERR
// upstream; this function returns an error in that case.
func ParseClientSubnet(data []byte) (ClientSubnet, error) {
	if len(data) < 4 {
		return ClientSubnet{}, fmt.Errorf("%w: client subnet option too short", ErrWire)
	}
	family := binary.BigEndian.Uint16(data[0:2])
	source := data[2]
	scope := data[3]
	addrBytes := data[4:]

	var maxBits int
	switch family {
	case ClientSubnetFamilyIPv4:
		maxBits = 32
	case ClientSubnetFamilyIPv6:
		maxBits = 128
	default:
		return ClientSubnet{}, fmt.Errorf("%w: unsupported client subnet family %d", ErrWire, family)
	}

	if int(source) > maxBits {
		return ClientSubnet{}, fmt.Errorf("%w: client subnet source prefix %d exceeds address width", ErrWire, source)
	}
	if scope != 0 {
		return ClientSubnet{}, fmt.Errorf("%w: client subnet scope prefix must be zero in a query", ErrWire)
	}

	wantLen := (int(source) + 7) / 8
	if len(addrBytes) != wantLen {
		return ClientSubnet{}, fmt.Errorf("%w: client subnet address length %d does not match prefix %d", ErrWire, len(addrBytes), source)
	}
	if trailingBitsSet(addrBytes, int(source)) {
		return ClientSubnet{}, fmt.Errorf("%w: client subnet address has non-zero bits beyond prefix length", ErrWire)
	}

	full := make([]byte, maxBits/8)
	copy(full, addrBytes)
	var addr netip.Addr
	if family == ClientSubnetFamilyIPv4 {
		addr = netip.AddrFrom4([4]byte(full))
	} else {
		addr = netip.AddrFrom16([16]byte(full))
	}

	return ClientSubnet{Family: family, SourcePfx: source, ScopePfx: scope, Address: addr}, nil
}

// trailingBitsSet reports whether addrBytes has any bit set past the
// first prefixBits bits.
func trailingBitsSet(addrBytes []byte, prefixBits int) bool {
	fullBytes := prefixBits / 8
	remBits := prefixBits % 8
	if remBits != 0 {
		mask := byte(0xFF << (8 - remBits))
		if addrBytes[fullBytes]&^mask != 0 {
			return true
		}
		fullBytes++
	}
	for _, b := range addrBytes[fullBytes:] {
		if b != 0 {
			return true
		}
	}
	return false
}

// Marshal serializes a Client Subnet option's RDATA, truncating the
// address to the minimum number of bytes needed for SourcePfx bits.
func (cs ClientSubnet) Marshal() []byte {
	n := (int(cs.SourcePfx) + 7) / 8
	var full []byte
	if cs.Family == ClientSubnetFamilyIPv4 {
		b := cs.Address.As4()
		full = b[:]
	} else {
		b := cs.Address.As16()
		full = b[:]
	}
	out := make([]byte, 4+n)
	binary.BigEndian.PutUint16(out[0:2], cs.Family)
	out[2] = cs.SourcePfx
	out[3] = cs.ScopePfx
	copy(out[4:], full[:n])
	return out
}
