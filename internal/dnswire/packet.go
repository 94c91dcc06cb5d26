package dnswire

import "fmt"

// Packet is a complete DNS message (RFC 1035 Section 4): a header plus
// the four variable-length sections.
type Packet struct {
	Header      Header
	Questions   []Question
	Answers     []Record
	Authorities []Record
	Additionals []Record
}

// Marshal serializes p into dst (appending). dst must be empty or
// contain only this message's own prior bytes: compression pointers
// are absolute offsets into dst, so mixing messages in one buffer
// would produce invalid pointers.
func (p Packet) Marshal(dst []byte) ([]byte, error) {
	h := Header{
		ID:      p.Header.ID,
		Flags:   p.Header.Flags,
		QDCount: uint16(len(p.Questions)),
		ANCount: uint16(len(p.Answers)),
		NSCount: uint16(len(p.Authorities)),
		ARCount: uint16(len(p.Additionals)),
	}
	dst = append(dst, h.Marshal()...)
	table := NewCompressionTable()

	var err error
	for _, q := range p.Questions {
		dst, err = q.Marshal(dst, table)
		if err != nil {
			return nil, err
		}
	}
	for _, rr := range p.Answers {
		dst, err = rr.Marshal(dst, table)
		if err != nil {
			return nil, err
		}
	}
	for _, rr := range p.Authorities {
		dst, err = rr.Marshal(dst, table)
		if err != nil {
			return nil, err
		}
	}
	for _, rr := range p.Additionals {
		dst, err = rr.Marshal(dst, table)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// ParsePacket parses a complete message, capping each section's
// allocation at the section's MaxXxx bound regardless of what the
// header claims, so a spoofed header count cannot force a large
// allocation ahead of validating the bytes actually exist.
func ParsePacket(msg []byte) (Packet, error) {
	off := 0
	h, err := ParseHeader(msg, &off)
	if err != nil {
		return Packet{}, err
	}
	p := Packet{Header: h}

	p.Questions = make([]Question, 0, capCount(h.QDCount, 4))
	for i := 0; i < int(h.QDCount); i++ {
		q, err := ParseQuestion(msg, &off)
		if err != nil {
			return Packet{}, err
		}
		p.Questions = append(p.Questions, q)
	}
	p.Answers, off, err = parseRRSection(msg, off, h.ANCount, MaxAnswers)
	if err != nil {
		return Packet{}, err
	}
	p.Authorities, off, err = parseRRSection(msg, off, h.NSCount, MaxAuthorities)
	if err != nil {
		return Packet{}, err
	}
	p.Additionals, off, err = parseRRSection(msg, off, h.ARCount, MaxAdditionals)
	if err != nil {
		return Packet{}, err
	}
	_ = off
	return p, nil
}

func parseRRSection(msg []byte, off int, count uint16, max int) ([]Record, int, error) {
	if int(count) > max {
		return nil, off, fmt.Errorf("%w: section count %d exceeds maximum %d", ErrWire, count, max)
	}
	out := make([]Record, 0, capCount(count, max))
	for i := 0; i < int(count); i++ {
		rr, err := ParseRecord(msg, &off)
		if err != nil {
			return nil, off, err
		}
		out = append(out, rr)
	}
	return out, off, nil
}

func capCount(count uint16, limit int) int {
	if int(count) > limit {
		return limit
	}
	return int(count)
}
