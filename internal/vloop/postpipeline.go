package vloop

import (
	"github.com/jroosing/vectordns/internal/connmodel"
	"github.com/jroosing/vectordns/internal/query"
)

// stageLog is the post-pipeline log stage: every connection on the log
// queue has its completed queries appended to the active query-log
// buffer and its per-query metrics recorded, then TCP connections are
// requeued for more reads (release is handled by Stage 10), while UDP
// listeners return to the read queue immediately (spec §4.E
// "Post-pipeline").
func (w *Worker) stageLog() {
	for {
		c := w.logQ.PopFront()
		if c == nil {
			break
		}
		switch c.Kind {
		case connmodel.VariantUDPListener:
			for i := 0; i < c.UDPWriteCount; i++ {
				w.recordAndLog(c.UDPQueries[i])
			}
			c.UDPWriteIndex = 0
			c.UDPWriteCount = 0
			w.readQ.PushBack(c)
		case connmodel.VariantTCPConn:
			for i := 0; i < c.QueryCount; i++ {
				w.recordAndLog(c.Queries[i])
			}
			c.QueryCount = 0
			w.requeueTCPConn(c)
		}
	}
}

func (w *Worker) recordAndLog(q *query.Query) {
	if q.EndCode.HasResponse() {
		w.Metric.RecordRCode(int(q.EndCode))
	}
	if q.QType != 0 {
		w.Metric.RecordQuestionType(q.QType)
	}
	w.appendQueryLog(q)
}

// requeueTCPConn carries forward any trailing bytes past the consumed
// frames and re-enters the read queue with the appropriate idle
// deadline. Only reached for connections whose writes all completed;
// a write fault or close routes straight to release from Stage 10.
func (w *Worker) requeueTCPConn(c *connmodel.Connection) {
	if c.ReadLen > 0 {
		c.State = connmodel.StateWaitForQueryData
		c.TimeoutDeadline = nowFunc().Add(w.Cfg.TCPQueryRecvTimeout)
	} else {
		c.State = connmodel.StateWaitForQuery
		c.TimeoutDeadline = nowFunc().Add(w.Cfg.TCPKeepalive)
	}
	w.readQ.PushBack(c)
}
