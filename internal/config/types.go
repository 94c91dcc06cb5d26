// Package config provides the command-line configuration surface for the
// vector-loop DNS daemon. Unlike a long-running service with a YAML/env
// layered loader, this daemon's entire configuration surface is a flat set
// of `--flag=value` pairs validated once at startup; an out-of-range or
// duplicate flag is a startup error printed to stderr with exit code 1.
package config

import "time"

// WorkersMode selects how worker count and CPU pinning are derived: a
// daemon either pins workers to a fixed CPU list or runs
// ProcessThreadCount workers with no affinity.
type WorkersMode int

const (
	WorkersAuto WorkersMode = iota
	WorkersFixed
)

// Config is the fully parsed and validated daemon configuration.
type Config struct {
	UDPEnable            bool
	UDPListenerPort      int
	UDPSocketRecvBuff    int
	UDPSocketSendBuff    int
	UDPConnVectorLen     int

	TCPEnable                   bool
	TCPListenerPendingConnsMax  int
	TCPListenerPort             int
	TCPConnsPerVLMax            int
	TCPListenerMaxAcceptNewConn int
	TCPConnSocketRecvBuff       int
	TCPConnSocketSendBuff       int
	TCPConnSimultaneousQueries  int
	TCPKeepalive                time.Duration
	TCPQueryRecvTimeout         time.Duration
	TCPQuerySendTimeout         time.Duration

	EpollNumEventsTCP int
	EpollNumEventsUDP int

	ProcessThreadCount int
	ProcessThreadMasks []int // 0-indexed CPU ids, converted from the 1-indexed CLI list

	LoopSlowdownOne   time.Duration
	LoopSlowdownTwo   time.Duration
	LoopSlowdownThree time.Duration

	AppLogName string
	AppLogPath string

	QueryLogBufferSize int
	QueryLogBaseName   string
	QueryLogPath       string
	QueryLogRotateSize int64
}

// WorkersSetting reports whether the worker CPU pin list is explicit or the
// daemon should size itself to ProcessThreadCount with no affinity.
func (c *Config) WorkersSetting() WorkersMode {
	if len(c.ProcessThreadMasks) > 0 {
		return WorkersFixed
	}
	return WorkersAuto
}
