package connmodel

// FIFOKind names one of a worker's intrusive connection queues. A
// Connection carries one link per kind so it can, structurally, sit
// in several queues' link arrays at once, but the pipeline only ever
// enqueues a live connection into one of them at a time (the
// membership flag on each link makes re-enqueue into the same queue a
// no-op, which is what keeps that invariant cheap to maintain rather
// than enforced here).
type FIFOKind int

const (
	FIFORead FIFOKind = iota
	FIFOWrite
	FIFOAccept
	FIFORelease
	FIFOParse
	FIFOResolve
	FIFOPack
	FIFOLog
	numFIFOKinds
)

type fifoLink struct {
	next, prev *Connection
	queued     bool
}

// FIFO is a singly-ownership doubly-linked intrusive queue over
// Connection values, keyed to one FIFOKind's link slot.
type FIFO struct {
	kind       FIFOKind
	head, tail *Connection
	len        int
}

// NewFIFO returns an empty FIFO operating on the given link slot.
func NewFIFO(kind FIFOKind) *FIFO {
	return &FIFO{kind: kind}
}

// PushBack enqueues c unless it is already queued in this FIFO kind's
// slot, making repeated enqueue attempts idempotent.
func (f *FIFO) PushBack(c *Connection) bool {
	link := &c.links[f.kind]
	if link.queued {
		return false
	}
	link.queued = true
	link.next = nil
	link.prev = f.tail
	if f.tail != nil {
		f.tail.links[f.kind].next = c
	} else {
		f.head = c
	}
	f.tail = c
	f.len++
	return true
}

// PopFront dequeues and returns the oldest connection, or nil if empty.
func (f *FIFO) PopFront() *Connection {
	c := f.head
	if c == nil {
		return nil
	}
	f.Remove(c)
	return c
}

// Remove detaches c from this FIFO if present. Safe to call when c is
// not a member.
func (f *FIFO) Remove(c *Connection) bool {
	link := &c.links[f.kind]
	if !link.queued {
		return false
	}
	if link.prev != nil {
		link.prev.links[f.kind].next = link.next
	} else {
		f.head = link.next
	}
	if link.next != nil {
		link.next.links[f.kind].prev = link.prev
	} else {
		f.tail = link.prev
	}
	link.next, link.prev, link.queued = nil, nil, false
	f.len--
	return true
}

// Len reports the number of queued connections.
func (f *FIFO) Len() int { return f.len }
