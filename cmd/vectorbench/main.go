// Command vectorbench is a concurrent UDP load generator for a
// running vectordnsd instance: it fires a fixed total of queries
// across a pool of goroutines and reports throughput and latency
// percentiles, the way a vector-loop daemon's one-goroutine-per-
// worker design needs to be driven from many concurrent clients to
// exercise its epoll readiness path under load.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jroosing/vectordns/internal/dnswire"
)

func main() {
	var (
		server      = flag.String("server", "127.0.0.1:53", "vectordnsd UDP listener HOST:PORT")
		name        = flag.String("name", "example.com", "query name")
		qtype       = flag.Int("qtype", int(dnswire.TypeA), "query type (numeric, A=1)")
		concurrency = flag.Int("concurrency", 200, "number of concurrent client goroutines")
		requests    = flag.Int("requests", 20000, "total number of requests across all goroutines")
		timeout     = flag.Duration("timeout", 2*time.Second, "per-request read/write deadline")
	)
	flag.Parse()

	addr, err := net.ResolveUDPAddr("udp", *server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vectorbench: %v\n", err)
		os.Exit(1)
	}

	req, err := buildQuery(*name, dnswire.RType(*qtype))
	if err != nil {
		fmt.Fprintf(os.Stderr, "vectorbench: %v\n", err)
		os.Exit(1)
	}

	conc := max(*concurrency, 1)
	total := max(*requests, 1)
	per := total / conc
	rem := total % conc

	lat := make([]float64, 0, total)
	var latMu sync.Mutex

	t0 := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < conc; i++ {
		n := per
		if i < rem {
			n++
		}
		if n <= 0 {
			continue
		}
		wg.Add(1)
		go func(num int) {
			defer wg.Done()
			runClient(addr, req, num, *timeout, &lat, &latMu)
		}(n)
	}
	wg.Wait()
	elapsed := time.Since(t0).Seconds()

	if len(lat) == 0 {
		fmt.Println("no successful requests")
		return
	}
	sort.Float64s(lat)
	qps := float64(len(lat)) / elapsed

	fmt.Printf("server=%s name=%q qtype=%d concurrency=%d requests=%d\n", *server, *name, *qtype, conc, len(lat))
	fmt.Printf("elapsed_s=%.3f qps=%.1f\n", elapsed, qps)
	fmt.Printf("latency_ms p50=%.3f p95=%.3f p99=%.3f min=%.3f max=%.3f\n",
		percentile(lat, 50), percentile(lat, 95), percentile(lat, 99), lat[0], lat[len(lat)-1])
}

func runClient(addr *net.UDPAddr, req []byte, n int, timeout time.Duration, lat *[]float64, latMu *sync.Mutex) {
	c, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return
	}
	defer c.Close()

	buf := make([]byte, dnswire.UDPMaxMsg)
	for j := 0; j < n; j++ {
		start := time.Now()
		_ = c.SetDeadline(time.Now().Add(timeout))
		if _, err := c.Write(req); err != nil {
			continue
		}
		nn, err := c.Read(buf)
		if err != nil {
			continue
		}
		_, _ = dnswire.ParsePacket(buf[:nn])
		ms := float64(time.Since(start).Microseconds()) / 1000.0
		latMu.Lock()
		*lat = append(*lat, ms)
		latMu.Unlock()
	}
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := int(float64(len(sorted))*float64(p)/100.0) - 1
	idx = max(idx, 0)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func buildQuery(name string, qtype dnswire.RType) ([]byte, error) {
	p := dnswire.Packet{
		Header:    dnswire.Header{ID: 0xBEEF, Flags: dnswire.FlagRD},
		Questions: []dnswire.Question{{Name: name, Type: qtype, Class: dnswire.ClassIN}},
	}
	return p.Marshal(nil)
}
