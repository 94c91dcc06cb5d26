package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/jroosing/vectordns/internal/dnswire"
)

// bound describes the inclusive range a numeric flag must fall within.
type bound struct{ min, max int64 }

// bounds is the source "constants" table §6 refers to: every option that
// takes a numeric value is checked against it after parsing.
var bounds = map[string]bound{
	"udp_listener_port":                   {1, 65535},
	"udp_socket_recvbuff_size":            {0, 1 << 30},
	"udp_socket_sendbuff_size":            {0, 1 << 30},
	"udp_conn_vector_len":                 {1, 1024},
	"tcp_listener_pending_conns_max":      {1, 65535},
	"tcp_listener_port":                   {1, 65535},
	"tcp_conns_per_vl_max":                {1, 1 << 20},
	"tcp_listener_max_accept_new_conn":    {1, 1 << 16},
	"tcp_conn_socket_recvbuff_size":       {0, 1 << 30},
	"tcp_conn_socket_sendbuff_size":       {0, 1 << 30},
	"tcp_conn_simultaneous_queries_count": {1, 256},
	"tcp_keepalive":                       {1, 86400},
	"tcp_query_recv_timeout":              {1, 86400},
	"tcp_query_send_timeout":              {1, 86400},
	"epoll_num_events_tcp":                {1, 65536},
	"epoll_num_events_udp":                {1, 65536},
	"process_thread_count":                {1, 4096},
	"loop_slowdown_one":                   {0, 10000},
	"loop_slowdown_two":                   {0, 10000},
	"loop_slowdown_three":                 {0, 10000},
	"query_log_buffer_size":               {1024, 1 << 30},
	"query_log_rotate_size":               {1024, 1 << 40},
}

// Parse parses args (excluding the program name, as with os.Args[1:])
// against the vector-loop daemon's flag surface, validates every bound,
// and returns the resulting Config. A validation failure or unparseable
// flag is returned as an error; the caller is expected to print it to
// stderr and exit with status 1, per §6.
func Parse(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("vectordnsd", pflag.ContinueOnError)
	fs.SetOutput(new(strings.Builder)) // suppress pflag's own usage printer; caller reports errors

	udpEnable := fs.Bool("udp_enable", true, "enable the UDP listener")
	udpPort := fs.Int("udp_listener_port", 53, "UDP listener port")
	udpRecvBuf := fs.Int("udp_socket_recvbuff_size", 1<<20, "UDP socket SO_RCVBUF size")
	udpSendBuf := fs.Int("udp_socket_sendbuff_size", 1<<20, "UDP socket SO_SNDBUF size")
	udpVectorLen := fs.Int("udp_conn_vector_len", 32, "UDP recvmmsg/sendmmsg vector length")

	tcpEnable := fs.Bool("tcp_enable", true, "enable the TCP listener")
	tcpBacklog := fs.Int("tcp_listener_pending_conns_max", 128, "TCP listen() backlog")
	tcpPort := fs.Int("tcp_listener_port", 53, "TCP listener port")
	tcpConnsPerVL := fs.Int("tcp_conns_per_vl_max", 4096, "max live TCP connections per worker")
	tcpMaxAccept := fs.Int("tcp_listener_max_accept_new_conn", 64, "max accept() calls per readiness event")
	tcpRecvBuf := fs.Int("tcp_conn_socket_recvbuff_size", 1<<16, "TCP connection SO_RCVBUF size")
	tcpSendBuf := fs.Int("tcp_conn_socket_sendbuff_size", 1<<16, "TCP connection SO_SNDBUF size")
	tcpSimulQueries := fs.Int("tcp_conn_simultaneous_queries_count", 8, "queries read per connection in one frame")
	tcpKeepaliveSec := fs.Int("tcp_keepalive", 120, "idle TCP connection keepalive, seconds")
	tcpRecvTimeoutSec := fs.Int("tcp_query_recv_timeout", 5, "TCP partial-query receive timeout, seconds")
	tcpSendTimeoutSec := fs.Int("tcp_query_send_timeout", 5, "TCP response send timeout, seconds")

	epollTCP := fs.Int("epoll_num_events_tcp", 256, "max epoll events drained per TCP wait")
	epollUDP := fs.Int("epoll_num_events_udp", 256, "max epoll events drained per UDP wait")

	threadCount := fs.Int("process_thread_count", 1, "number of vector-loop worker threads")
	threadMasks := fs.String("process_thread_masks", "", "comma-separated 1-indexed CPU list to pin workers to")

	slowdownOne := fs.Int64("loop_slowdown_one", 0, "idle-backoff tier 1, microseconds")
	slowdownTwo := fs.Int64("loop_slowdown_two", 100, "idle-backoff tier 2, microseconds")
	slowdownThree := fs.Int64("loop_slowdown_three", 1000, "idle-backoff tier 3, microseconds")

	appLogName := fs.String("app_log_name", "vectordns.log", "application log file name")
	appLogPath := fs.String("app_log_path", ".", "application log directory")

	queryLogBufSize := fs.Int("query_log_buffer_size", 1<<20, "per-worker query-log double-buffer size, bytes")
	queryLogBaseName := fs.String("query_log_base_name", "query", "query log file base name")
	queryLogPath := fs.String("query_log_path", ".", "query log directory")
	queryLogRotateSize := fs.Int64("query_log_rotate_size", 1<<26, "query log rotation size, bytes")

	help := fs.BoolP("help", "h", false, "print usage and exit")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if *help {
		return nil, errHelpRequested
	}

	if err := checkBound("udp_listener_port", int64(*udpPort)); err != nil {
		return nil, err
	}
	if err := checkBound("udp_socket_recvbuff_size", int64(*udpRecvBuf)); err != nil {
		return nil, err
	}
	if err := checkBound("udp_socket_sendbuff_size", int64(*udpSendBuf)); err != nil {
		return nil, err
	}
	if err := checkBound("udp_conn_vector_len", int64(*udpVectorLen)); err != nil {
		return nil, err
	}
	if err := checkBound("tcp_listener_pending_conns_max", int64(*tcpBacklog)); err != nil {
		return nil, err
	}
	if err := checkBound("tcp_listener_port", int64(*tcpPort)); err != nil {
		return nil, err
	}
	if err := checkBound("tcp_conns_per_vl_max", int64(*tcpConnsPerVL)); err != nil {
		return nil, err
	}
	if err := checkBound("tcp_listener_max_accept_new_conn", int64(*tcpMaxAccept)); err != nil {
		return nil, err
	}
	if err := checkBound("tcp_conn_socket_recvbuff_size", int64(*tcpRecvBuf)); err != nil {
		return nil, err
	}
	if err := checkBound("tcp_conn_socket_sendbuff_size", int64(*tcpSendBuf)); err != nil {
		return nil, err
	}
	if err := checkBound("tcp_conn_simultaneous_queries_count", int64(*tcpSimulQueries)); err != nil {
		return nil, err
	}
	if err := checkBound("tcp_keepalive", int64(*tcpKeepaliveSec)); err != nil {
		return nil, err
	}
	if err := checkBound("tcp_query_recv_timeout", int64(*tcpRecvTimeoutSec)); err != nil {
		return nil, err
	}
	if err := checkBound("tcp_query_send_timeout", int64(*tcpSendTimeoutSec)); err != nil {
		return nil, err
	}
	if err := checkBound("epoll_num_events_tcp", int64(*epollTCP)); err != nil {
		return nil, err
	}
	if err := checkBound("epoll_num_events_udp", int64(*epollUDP)); err != nil {
		return nil, err
	}
	if err := checkBound("process_thread_count", int64(*threadCount)); err != nil {
		return nil, err
	}
	if err := checkBound("loop_slowdown_one", *slowdownOne); err != nil {
		return nil, err
	}
	if err := checkBound("loop_slowdown_two", *slowdownTwo); err != nil {
		return nil, err
	}
	if err := checkBound("loop_slowdown_three", *slowdownThree); err != nil {
		return nil, err
	}
	if err := checkBound("query_log_buffer_size", int64(*queryLogBufSize)); err != nil {
		return nil, err
	}
	if err := checkBound("query_log_rotate_size", *queryLogRotateSize); err != nil {
		return nil, err
	}

	masks, err := parseThreadMasks(*threadMasks)
	if err != nil {
		return nil, err
	}
	if len(masks) > 0 && len(masks) != *threadCount {
		return nil, fmt.Errorf("config: process_thread_masks lists %d CPUs, process_thread_count is %d", len(masks), *threadCount)
	}

	cfg := &Config{
		UDPEnable:         *udpEnable,
		UDPListenerPort:   *udpPort,
		UDPSocketRecvBuff: *udpRecvBuf,
		UDPSocketSendBuff: *udpSendBuf,
		UDPConnVectorLen:  *udpVectorLen,

		TCPEnable:                   *tcpEnable,
		TCPListenerPendingConnsMax:  *tcpBacklog,
		TCPListenerPort:             *tcpPort,
		TCPConnsPerVLMax:            *tcpConnsPerVL,
		TCPListenerMaxAcceptNewConn: *tcpMaxAccept,
		TCPConnSocketRecvBuff:       *tcpRecvBuf,
		TCPConnSocketSendBuff:       *tcpSendBuf,
		TCPConnSimultaneousQueries:  *tcpSimulQueries,
		TCPKeepalive:                time.Duration(*tcpKeepaliveSec) * time.Second,
		TCPQueryRecvTimeout:         time.Duration(*tcpRecvTimeoutSec) * time.Second,
		TCPQuerySendTimeout:         time.Duration(*tcpSendTimeoutSec) * time.Second,

		EpollNumEventsTCP: *epollTCP,
		EpollNumEventsUDP: *epollUDP,

		ProcessThreadCount: *threadCount,
		ProcessThreadMasks: masks,

		LoopSlowdownOne:   time.Duration(*slowdownOne) * time.Microsecond,
		LoopSlowdownTwo:   time.Duration(*slowdownTwo) * time.Microsecond,
		LoopSlowdownThree: time.Duration(*slowdownThree) * time.Microsecond,

		AppLogName: *appLogName,
		AppLogPath: *appLogPath,

		QueryLogBufferSize: *queryLogBufSize,
		QueryLogBaseName:   *queryLogBaseName,
		QueryLogPath:       *queryLogPath,
		QueryLogRotateSize: *queryLogRotateSize,
	}
	if !cfg.UDPEnable && !cfg.TCPEnable {
		return nil, fmt.Errorf("config: at least one of udp_enable, tcp_enable must be true")
	}
	return cfg, nil
}

var errHelpRequested = fmt.Errorf("help requested")

// ErrHelpRequested reports whether err is the sentinel Parse returns for
// --help, so the caller can print usage and exit 0 instead of exit 1.
func ErrHelpRequested(err error) bool {
	return err == errHelpRequested
}

func checkBound(name string, v int64) error {
	b, ok := bounds[name]
	if !ok {
		return nil
	}
	if v < b.min || v > b.max {
		return fmt.Errorf("config: %s=%d out of range [%d,%d]", name, v, b.min, b.max)
	}
	return nil
}

func parseThreadMasks(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("config: process_thread_masks entry %q must be a 1-indexed CPU number", p)
		}
		out = append(out, n-1) // internal representation is 0-indexed
	}
	return out, nil
}

// PacketSize re-exports the wire-codec packet size ceiling so callers that
// only import config for bounds checking don't also need dnswire.
const PacketSize = dnswire.PacketSize
