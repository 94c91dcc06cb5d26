// Command vectorstat is a tiny debugging client: it sends one A-record
// query to a running vectordnsd instance over UDP and prints the
// decoded response, for a quick manual smoke test against a live
// listener that doesn't require a full resolver stack to run.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sort"
	"time"

	"github.com/jroosing/vectordns/internal/dnswire"
	"github.com/jroosing/vectordns/internal/helpers"
)

func main() {
	var (
		server  = flag.String("server", "127.0.0.1:53", "vectordnsd UDP listener HOST:PORT")
		name    = flag.String("name", "example.com", "query name")
		qtype   = flag.Uint("qtype", uint(dnswire.TypeA), "query type (numeric, A=1)")
		timeout = flag.Duration("timeout", 2*time.Second, "read/write deadline")
		quiet   = flag.Bool("quiet", false, "suppress output; exit status alone indicates success")
	)
	flag.Parse()

	resp, err := queryUDP(*server, *name, dnswire.RType(helpers.ClampIntToUint16(int(*qtype))), *timeout)
	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "vectorstat: %v\n", err)
		}
		os.Exit(1)
	}
	if *quiet {
		return
	}

	p, err := dnswire.ParsePacket(resp)
	if err != nil {
		fmt.Printf("received %d bytes (unparseable: %v)\n", len(resp), err)
		return
	}

	fmt.Printf("id=%d rcode=%d answers=%d authorities=%d additionals=%d\n",
		p.Header.ID, p.Header.RCode(), len(p.Answers), len(p.Authorities), len(p.Additionals))

	rows := make([]string, 0, len(p.Answers))
	for _, rr := range p.Answers {
		rows = append(rows, formatRR(rr))
	}
	sort.Strings(rows)
	for _, s := range rows {
		fmt.Println(s)
	}
}

func queryUDP(server, name string, qtype dnswire.RType, timeout time.Duration) ([]byte, error) {
	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, err
	}
	c, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	req, err := buildQuery(name, qtype)
	if err != nil {
		return nil, err
	}
	_ = c.SetDeadline(time.Now().Add(timeout))
	if _, err := c.Write(req); err != nil {
		return nil, err
	}

	buf := make([]byte, dnswire.UDPMaxMsg)
	n, err := c.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func buildQuery(name string, qtype dnswire.RType) ([]byte, error) {
	p := dnswire.Packet{
		Header:    dnswire.Header{ID: uint16(time.Now().UnixNano()), Flags: dnswire.FlagRD},
		Questions: []dnswire.Question{{Name: name, Type: qtype, Class: dnswire.ClassIN}},
	}
	return p.Marshal(nil)
}

func formatRR(rr dnswire.Record) string {
	name := rr.Name
	if name == "" {
		name = "."
	}
	switch rr.Type {
	case dnswire.TypeA:
		if a, ok := rr.Data.(netip.Addr); ok {
			return fmt.Sprintf("%s %d IN A %s", name, rr.TTL, a)
		}
	case dnswire.TypeAAAA:
		if a, ok := rr.Data.(netip.Addr); ok {
			return fmt.Sprintf("%s %d IN AAAA %s", name, rr.TTL, a)
		}
	case dnswire.TypeCNAME, dnswire.TypeNS:
		if s, ok := rr.Data.(string); ok {
			return fmt.Sprintf("%s %d IN %s", name, rr.TTL, s)
		}
	}
	return fmt.Sprintf("%s %d IN TYPE%d (unparsed)", name, rr.TTL, rr.Type)
}
