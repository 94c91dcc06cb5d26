package dnswire

import (
	"encoding/binary"
	"fmt"

	"github.com/jroosing/vectordns/internal/helpers"
)

// EDNS option codes. Only OptCodeClientSubnet is interpreted; all
// others are parsed but otherwise ignored (RFC 6891 §6.1.2: unknown
// options are to be ignored).
const (
	OptCodeClientSubnet = 8
)

// EDNSOption is a single option TLV from an OPT record's RDATA.
type EDNSOption struct {
	Code uint16
	Data []byte
}

// Marshal serializes an EDNS option to wire format.
func (o EDNSOption) Marshal() []byte {
	b := make([]byte, 4+len(o.Data))
	binary.BigEndian.PutUint16(b[0:2], o.Code)
	binary.BigEndian.PutUint16(b[2:4], uint16(len(o.Data)))
	copy(b[4:], o.Data)
	return b
}

// ParseEDNSOptions walks an OPT record's RDATA into a slice of
// {code,length,data} options, stopping early on a truncated trailing
// option rather than erroring: the options already parsed remain
// usable.
func ParseEDNSOptions(rdata []byte) []EDNSOption {
	opts := make([]EDNSOption, 0, 2)
	for i := 0; i+4 <= len(rdata); {
		code := binary.BigEndian.Uint16(rdata[i : i+2])
		ln := int(binary.BigEndian.Uint16(rdata[i+2 : i+4]))
		i += 4
		if i+ln > len(rdata) {
			break
		}
		data := make([]byte, ln)
		copy(data, rdata[i:i+ln])
		opts = append(opts, EDNSOption{Code: code, Data: data})
		i += ln
	}
	return opts
}

// MarshalEDNSOptions concatenates options into RDATA.
func MarshalEDNSOptions(opts []EDNSOption) []byte {
	if len(opts) == 0 {
		return nil
	}
	size := 0
	for _, o := range opts {
		size += 4 + len(o.Data)
	}
	out := make([]byte, 0, size)
	for _, o := range opts {
		out = append(out, o.Marshal()...)
	}
	return out
}

// OPT is a parsed EDNS(0) OPT pseudo-record (RFC 6891). The wire OPT
// RR repurposes the CLASS field as the advertised UDP payload size and
// the TTL field as extended-rcode/version/DO:
//
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|         EXTENDED-RCODE        |    VERSION     |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|DO|                  Z (reserved)               |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
type OPT struct {
	UDPPayloadSize uint16
	ExtendedRCode  uint8
	Version        uint8
	DNSSECOK       bool
	Options        []EDNSOption
}

func packOPTTTL(extRCode, version uint8, do bool) uint32 {
	ttl := uint32(extRCode)<<24 | uint32(version)<<16
	if do {
		ttl |= 1 << 15
	}
	return ttl
}

func unpackOPTTTL(ttl uint32) (extRCode, version uint8, do bool) {
	return uint8(ttl >> 24), uint8(ttl >> 16 & 0xFF), (ttl>>15)&1 == 1
}

// ToRecord serializes o as the additional-section OPT record.
func (o OPT) ToRecord() Record {
	return Record{
		Name:  ".",
		Type:  TypeOPT,
		Class: RClass(o.UDPPayloadSize),
		TTL:   packOPTTTL(o.ExtendedRCode, o.Version, o.DNSSECOK),
		Data:  MarshalEDNSOptions(o.Options),
	}
}

// ExtractOPT finds and decodes the OPT record among additionals, if
// any. Only one OPT record is valid per message; a second one is the
// caller's concern (FORMERR), not this function's.
func ExtractOPT(additionals []Record) *OPT {
	for _, rr := range additionals {
		if rr.Type != TypeOPT {
			continue
		}
		raw, _ := rr.Data.([]byte)
		extRCode, version, do := unpackOPTTTL(rr.TTL)
		return &OPT{
			UDPPayloadSize: uint16(rr.Class),
			ExtendedRCode:  extRCode,
			Version:        version,
			DNSSECOK:       do,
			Options:        ParseEDNSOptions(raw),
		}
	}
	return nil
}

// NegotiateUDPSize clamps a client-advertised EDNS buffer size into
// [PacketSize, UDPMaxMsg]. Called only when an OPT record is present;
// the caller uses PacketSize (512) verbatim when there is none.
func NegotiateUDPSize(advertised uint16) int {
	return helpers.ClampInt(int(advertised), PacketSize, UDPMaxMsg)
}

// CheckVersion reports whether an EDNS version is supported. vectordns
// implements EDNS(0) only (version 0); anything else must be answered
// with RCodeBadVers and a udp_resp_len forced back to 512.
func CheckVersion(version uint8) error {
	if version != 0 {
		return fmt.Errorf("%w: unsupported EDNS version %d", ErrWire, version)
	}
	return nil
}
