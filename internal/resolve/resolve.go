// Package resolve implements the vector-loop's Stage 7 resolver.
//
// The resolver is a pure function of the question: given a name, type and
// class, it returns the record sets to pack into the response, or an
// end-code if the question cannot be answered. This package supplies the
// reference stub: a canned A/NS/glue answer for any A/IN question. Swapping
// in a real zone/cache/upstream-backed resolver means replacing this
// package's Resolve function without touching the vector-loop.
package resolve

import (
	"net/netip"

	"github.com/jroosing/vectordns/internal/dnswire"
	"github.com/jroosing/vectordns/internal/query"
)

var (
	nsName     = "ns.example.com"
	loopbackV4 = netip.MustParseAddr("127.0.0.1")
	loopbackV6 = netip.MustParseAddr("::1")
)

const answerTTL = 60

// Resolve fills q's answer/authority/additional sections for a validated
// A/IN question and sets q.EndCode. It is only called for questions that
// have already passed Stage 6 parse validation (type A, class IN).
func Resolve(q *query.Query) {
	var ok bool

	q.Answers, ok = query.AppendSection(q.Answers, dnswire.Record{
		Name:  q.QName,
		Type:  dnswire.TypeA,
		Class: dnswire.ClassIN,
		TTL:   answerTTL,
		Data:  loopbackV4,
	}, dnswire.MaxAnswers)
	if !ok {
		q.EndCode = query.EndCode(dnswire.RCodeServFail)
		return
	}

	q.Authorities, ok = query.AppendSection(q.Authorities, dnswire.Record{
		Name:  q.QName,
		Type:  dnswire.TypeNS,
		Class: dnswire.ClassIN,
		TTL:   answerTTL,
		Data:  nsName,
	}, dnswire.MaxAuthorities)
	if !ok {
		q.EndCode = query.EndCode(dnswire.RCodeServFail)
		return
	}

	q.Additionals, ok = query.AppendSection(q.Additionals, dnswire.Record{
		Name:  nsName,
		Type:  dnswire.TypeA,
		Class: dnswire.ClassIN,
		TTL:   answerTTL,
		Data:  loopbackV4,
	}, dnswire.MaxAdditionals)
	if !ok {
		q.EndCode = query.EndCode(dnswire.RCodeServFail)
		return
	}
	q.Additionals, ok = query.AppendSection(q.Additionals, dnswire.Record{
		Name:  nsName,
		Type:  dnswire.TypeAAAA,
		Class: dnswire.ClassIN,
		TTL:   answerTTL,
		Data:  loopbackV6,
	}, dnswire.MaxAdditionals)
	if !ok {
		q.EndCode = query.EndCode(dnswire.RCodeServFail)
		return
	}

	q.EndCode = query.EndCode(dnswire.RCodeNoError)
}
