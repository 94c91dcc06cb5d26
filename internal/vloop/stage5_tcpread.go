package vloop

import (
	"encoding/binary"
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/vectordns/internal/connmodel"
	"github.com/jroosing/vectordns/internal/dnswire"
)

// stageTCPRead is pipeline Stage 5: read available bytes off every
// TCP connection in the read queue and frame as many complete queries
// out of the accumulated buffer as fit in one simultaneous-query slot
// set.
func (w *Worker) stageTCPRead() {
	for {
		c := w.readQ.PopFront()
		if c == nil {
			break
		}
		if c.Kind != connmodel.VariantTCPConn {
			continue
		}
		w.readTCPConn(c)
	}
}

func (w *Worker) readTCPConn(c *connmodel.Connection) {
	w.lru.Touch(c)

	n, err := unix.Read(c.FD, c.ReadBuf[c.ReadLen:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			c.WaitingForRead = true
			if c.ReadLen == 0 {
				c.State = connmodel.StateWaitForQuery
				c.TimeoutDeadline = nowFunc().Add(w.Cfg.TCPKeepalive)
			} else {
				c.State = connmodel.StateWaitForQueryData
				c.TimeoutDeadline = nowFunc().Add(w.Cfg.TCPQueryRecvTimeout)
			}
			return
		}
		c.State = connmodel.StateReadErr
		w.releaseQ.PushBack(c)
		return
	}
	if n == 0 {
		c.State = connmodel.StateClosedForRead
		w.releaseQ.PushBack(c)
		return
	}

	if c.StartTime.IsZero() {
		c.StartTime = time.Now()
	}
	c.ReadLen += n

	framed := w.frameQueries(c)
	if framed < 0 {
		// frameQueries already queued the connection for release.
		return
	}
	if framed == 0 {
		c.State = connmodel.StateWaitForQueryData
		c.TimeoutDeadline = nowFunc().Add(w.Cfg.TCPQueryRecvTimeout)
		return
	}
	w.parseQ.PushBack(c)
}

// frameQueries decodes up to len(c.Queries) complete len(2)|message(len)
// frames from c.ReadBuf[:c.ReadLen], assigning each Query's ReqBuf a
// view into the read buffer. Any frame whose declared length exceeds
// PacketSize is immediately terminal: parsing stops, the connection is
// queued for release with QUERY_SIZE_TOOLARGE, and -1 is returned.
// Otherwise the unconsumed trailing bytes are shifted to the front of
// the buffer and the count of fully framed queries is returned.
func (w *Worker) frameQueries(c *connmodel.Connection) int {
	off := 0
	count := 0
	for count < len(c.Queries) {
		if c.ReadLen-off < 2 {
			break
		}
		frameLen := int(binary.BigEndian.Uint16(c.ReadBuf[off : off+2]))
		if frameLen > dnswire.PacketSize {
			c.State = connmodel.StateQuerySizeTooLarge
			w.releaseQ.PushBack(c)
			return -1
		}
		if c.ReadLen-off-2 < frameLen {
			break
		}

		q := c.Queries[count]
		q.Reset()
		q.ReqBuf = c.ReadBuf[off+2 : off+2+frameLen]
		q.ReqLen = frameLen
		q.RecvTime = time.Now()
		q.ClientAddrPort = c.ClientAddr.String()
		q.LocalAddrPort = c.LocalAddr.String()

		off += 2 + frameLen
		count++
	}

	c.QueryCount = count
	remaining := c.ReadLen - off
	if remaining > 0 && off > 0 {
		copy(c.ReadBuf[0:remaining], c.ReadBuf[off:c.ReadLen])
	}
	c.ReadLen = remaining
	return count
}
