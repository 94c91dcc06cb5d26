package metrics_test

import (
	"testing"

	"github.com/jroosing/vectordns/internal/connmodel"
	"github.com/jroosing/vectordns/internal/dnswire"
	"github.com/jroosing/vectordns/internal/metrics"
	"github.com/stretchr/testify/assert"
)

func TestRecordTCPTerminal(t *testing.T) {
	m := metrics.New()
	m.RecordTCPTerminal(connmodel.StateReadErr)
	m.RecordTCPTerminal(connmodel.StateWaitForQuery) // non-terminal, ignored

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.TCP.ReadErr)
	assert.Equal(t, uint64(0), snap.TCP.ClosedForRead)
}

func TestRecordRCode(t *testing.T) {
	m := metrics.New()
	m.RecordRCode(0)
	m.RecordRCode(16)
	m.RecordRCode(-1) // ignored, out of range

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.DNS.RCode[0])
	assert.Equal(t, uint64(1), snap.DNS.RCode[16])
}

func TestRecordQuestionType(t *testing.T) {
	m := metrics.New()
	m.RecordQuestionType(dnswire.TypeA)
	m.RecordQuestionType(dnswire.TypeCNAME)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.DNS.QuestionA)
	assert.Equal(t, uint64(1), snap.DNS.Other)
}
