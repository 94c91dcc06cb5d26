package vloop

import (
	"encoding/json"
	"net/netip"
	"time"

	"github.com/jroosing/vectordns/internal/dnswire"
	"github.com/jroosing/vectordns/internal/query"
)

// maxLoggedAnswers bounds the answer list a query-log line carries,
// independent of the section's own packing ceiling (spec §4.H: "up to
// 10 entries").
const maxLoggedAnswers = 10

// logLineCeiling is the conservative per-line byte budget below which
// a line is dropped rather than partially written (spec §4.H).
const logLineCeiling = 2048

type logLine struct {
	CIP      string       `json:"c_ip"`
	CPort    int          `json:"c_port"`
	LIP      string       `json:"l_ip"`
	LPort    int          `json:"l_port"`
	RecvTime string       `json:"recv_time"`
	SendTime string       `json:"send_time,omitempty"`
	Request  *logRequest  `json:"request,omitempty"`
	Response *logResponse `json:"response,omitempty"`
}

type logRequest struct {
	RD     bool     `json:"rd"`
	TC     bool     `json:"tc"`
	Opcode int      `json:"opcode"`
	EDNS   *logEDNS `json:"edns,omitempty"`
	QName  string   `json:"q_name"`
	QClass string   `json:"q_class"`
	QType  string   `json:"q_type"`
}

type logEDNS struct {
	Version uint8  `json:"version"`
	UDPSize uint16 `json:"udp_size"`
	DO      bool   `json:"do"`
}

type logResponse struct {
	Answer []logAnswer `json:"answer"`
}

type logAnswer struct {
	Name string `json:"name"`
	Type string `json:"type"`
	TTL  uint32 `json:"ttl"`
	Data string `json:"data"`
}

// appendQueryLog serializes q as one query-log JSON line and appends
// it (with a trailing newline) to the worker's active buffer. If the
// buffer's remaining capacity is below logLineCeiling bytes, the line
// is dropped and App.QueryLogDropped is bumped
// instead (spec §4.H: "if remaining capacity is below a conservative
// per-line ceiling, the line is dropped").
func (w *Worker) appendQueryLog(q *query.Query) {
	line := buildLogLine(q)
	b, err := json.Marshal(line)
	if err != nil {
		return
	}
	b = append(b, '\n')

	active := w.activeQueryLogBuf()
	if cap(active)-len(active) < logLineCeiling {
		w.Metric.App.QueryLogDropped.Add(1)
		return
	}
	w.appendQueryLogBuf(b)
}

func buildLogLine(q *query.Query) logLine {
	l := logLine{RecvTime: formatLogTime(q.RecvTime)}

	if client, err := netip.ParseAddrPort(q.ClientAddrPort); err == nil {
		l.CIP = client.Addr().String()
		l.CPort = int(client.Port())
	}
	if local, err := netip.ParseAddrPort(q.LocalAddrPort); err == nil {
		l.LIP = local.Addr().String()
		l.LPort = int(local.Port())
	}

	if !q.SendTime.IsZero() {
		l.SendTime = formatLogTime(q.SendTime)
	}

	// SHORTHEADER/DATAGRAMTOOLARGE never got far enough to parse a
	// header: only the envelope fields above are logged.
	if q.EndCode == query.EndCodeShortHeader || q.EndCode == query.EndCodeDatagramTooLarge {
		return l
	}

	req := &logRequest{QName: q.QName, QClass: classString(q.QClass), QType: typeString(q.QType)}
	off := 0
	if h, err := dnswire.ParseHeader(q.ReqBuf[:min(q.ReqLen, len(q.ReqBuf))], &off); err == nil {
		req.RD = h.RD()
		req.TC = h.TC()
		req.Opcode = int(dnswire.OpcodeFromFlags(h.Flags))
	}
	if q.EDNS.Present {
		req.EDNS = &logEDNS{Version: q.EDNS.Version, UDPSize: q.EDNS.UDPRespLen, DO: q.EDNS.DO}
	}
	l.Request = req

	if q.EndCode == query.EndCode(dnswire.RCodeNoError) {
		resp := &logResponse{}
		for i, rr := range q.Answers {
			if i >= maxLoggedAnswers {
				break
			}
			resp.Answer = append(resp.Answer, logAnswer{
				Name: rr.Name,
				Type: typeString(rr.Type),
				TTL:  rr.TTL,
				Data: recordDataString(rr),
			})
		}
		l.Response = resp
	}

	return l
}

func formatLogTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

func classString(c dnswire.RClass) string {
	if c == dnswire.ClassIN {
		return "IN"
	}
	return "UNKNOWN"
}

func typeString(t dnswire.RType) string {
	switch t {
	case dnswire.TypeA:
		return "A"
	case dnswire.TypeNS:
		return "NS"
	case dnswire.TypeCNAME:
		return "CNAME"
	case dnswire.TypeSOA:
		return "SOA"
	case dnswire.TypeAAAA:
		return "AAAA"
	case dnswire.TypeOPT:
		return "OPT"
	default:
		return "UNKNOWN"
	}
}

func recordDataString(rr dnswire.Record) string {
	switch v := rr.Data.(type) {
	case netip.Addr:
		return v.String()
	case string:
		return v
	default:
		return ""
	}
}
