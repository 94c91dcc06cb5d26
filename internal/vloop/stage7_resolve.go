package vloop

import (
	"github.com/jroosing/vectordns/internal/connmodel"
	"github.com/jroosing/vectordns/internal/query"
	"github.com/jroosing/vectordns/internal/resolve"
)

// stageResolve is pipeline Stage 7: every query still EndCodeInFlight
// after parsing is handed to the resolver; everything else (already
// terminal from Stage 6) passes through untouched.
func (w *Worker) stageResolve() {
	for {
		c := w.resolveQ.PopFront()
		if c == nil {
			break
		}
		switch c.Kind {
		case connmodel.VariantUDPListener:
			for i := 0; i < c.UDPWriteCount; i++ {
				resolveOne(c.UDPQueries[i])
			}
		case connmodel.VariantTCPConn:
			for i := 0; i < c.QueryCount; i++ {
				resolveOne(c.Queries[i])
			}
		}
		w.packQ.PushBack(c)
	}
}

func resolveOne(q *query.Query) {
	if q.EndCode != query.EndCodeInFlight {
		return
	}
	resolve.Resolve(q)
}
