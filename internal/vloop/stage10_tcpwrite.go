package vloop

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/vectordns/internal/connmodel"
)

// stageTCPWrite is pipeline Stage 10: flush every packed response
// still pending on a TCP connection's write queue, tracking both
// which query is being written and how many of its bytes already went
// out, so a short write resumes exactly where it left off next
// iteration. A partial write is parked on a side queue and only
// merged back into the live write queue once this drain finishes, so
// it's retried next vector-loop iteration rather than recursively
// within this same call.
func (w *Worker) stageTCPWrite() {
	var retry []*connmodel.Connection
	for {
		c := w.writeQ.PopFront()
		if c == nil {
			break
		}
		if c.Kind != connmodel.VariantTCPConn {
			continue
		}
		w.writeTCPConn(c, &retry)
	}
	for _, c := range retry {
		w.writeQ.PushBack(c)
	}
}

func (w *Worker) writeTCPConn(c *connmodel.Connection, retry *[]*connmodel.Connection) {
	for c.WriteQueryIndex < c.QueryCount {
		q := c.Queries[c.WriteQueryIndex]
		if !q.EndCode.HasResponse() {
			c.WriteQueryIndex++
			c.WriteByteIndex = 0
			continue
		}

		n, err := unix.Write(c.FD, q.RespBuf[c.WriteByteIndex:q.RespLen])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				// Don't requeue here: the socket is still full, so
				// retrying within this same drain would just spin.
				// dispatchTCPEvent re-enqueues once epoll reports the fd
				// writable again.
				c.WaitingForWrite = true
				return
			}
			c.State = connmodel.StateWriteErr
			w.releaseQ.PushBack(c)
			return
		}
		if n == 0 {
			c.State = connmodel.StateClosedForWrite
			w.releaseQ.PushBack(c)
			return
		}

		c.WriteByteIndex += n
		if c.WriteByteIndex < q.RespLen {
			*retry = append(*retry, c)
			return
		}

		q.SendTime = time.Now()
		c.WriteQueryIndex++
		c.WriteByteIndex = 0
	}

	c.WriteQueryIndex = 0
	w.logQ.PushBack(c)
}
