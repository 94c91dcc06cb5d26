package dnswire

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Question is a DNS question section entry (RFC 1035 Section 4.1.2).
type Question struct {
	Name  string
	Type  RType
	Class RClass
}

// Marshal serializes the question, compressing Name against table.
func (q Question) Marshal(dst []byte, table *CompressionTable) ([]byte, error) {
	dst, err := table.Append(dst, q.Name)
	if err != nil {
		return nil, err
	}
	var tail [4]byte
	binary.BigEndian.PutUint16(tail[0:2], uint16(q.Type))
	binary.BigEndian.PutUint16(tail[2:4], uint16(q.Class))
	return append(dst, tail[:]...), nil
}

// ParseQuestion parses a question from msg at *off, advancing *off past
// it. The name is lowercased for case-insensitive comparison.
func ParseQuestion(msg []byte, off *int) (Question, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return Question{}, err
	}
	if *off+4 > len(msg) {
		return Question{}, fmt.Errorf("%w: truncated question", ErrWire)
	}
	q := Question{
		Name:  strings.ToLower(name),
		Type:  RType(binary.BigEndian.Uint16(msg[*off : *off+2])),
		Class: RClass(binary.BigEndian.Uint16(msg[*off+2 : *off+4])),
	}
	*off += 4
	return q, nil
}
