// Package testutil implements common testing utilities.
package testutil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// WaitForDNSServer waits 5 seconds for a DNS server to start, and returns an
// error if it fails to do so.
// It does this by repeatedly querying the DNS server until it either replies
// or times out. Note we do not do any validation of the reply.
func WaitForDNSServer(addr string) error {
	conn, err := dns.DialTimeout("udp", addr, 1*time.Second)
	if err != nil {
		return fmt.Errorf("dns.Dial error: %v", err)
	}
	defer conn.Close()

	m := &dns.Msg{}
	m.SetQuestion("unused.", dns.TypeA)

	deadline := time.Now().Add(5 * time.Second)
	tick := time.Tick(100 * time.Millisecond)

	for (<-tick).Before(deadline) {
		conn.SetDeadline(time.Now().Add(1 * time.Second))
		conn.WriteMsg(m)
		_, err := conn.ReadMsg()
		if err == nil {
			return nil
		}
	}

	return fmt.Errorf("timed out")
}

// WaitForHTTPServer waits 5 seconds for an HTTP server to start, and returns
// an error if it fails to do so.
// It does this by repeatedly querying the server until it either replies or
// times out.
func WaitForHTTPServer(addr string) error {
	c := http.Client{
		Timeout: 100 * time.Millisecond,
	}

	deadline := time.Now().Add(5 * time.Second)
	tick := time.Tick(100 * time.Millisecond)

	for (<-tick).Before(deadline) {
		_, err := c.Get("http://" + addr + "/testpoke")
		if err == nil {
			return nil
		}
	}

	return fmt.Errorf("timed out")
}

// GetFreePort returns a free TCP port. This is hacky and not race-free, but
// it works well enough for testing purposes.
func GetFreePort() string {
	l, _ := net.Listen("tcp", "localhost:0")
	defer l.Close()
	return l.Addr().String()
}

// ServeTestDNSServer starts the fake DNS server.
func ServeTestDNSServer(addr string, handler func(dns.ResponseWriter, *dns.Msg)) {
	server := &dns.Server{
		Addr:    addr,
		Handler: dns.HandlerFunc(handler),
		Net:     "udp",
	}
	err := server.ListenAndServe()
	panic(err)
}

// StartTestDNSServer starts a fake DNS server on a free port, waits for it to
// be ready, and returns its address.
func StartTestDNSServer(tb testing.TB, handler func(dns.ResponseWriter, *dns.Msg)) string {
	tb.Helper()

	addr := GetFreePort()
	go ServeTestDNSServer(addr, handler)
	if err := WaitForDNSServer(addr); err != nil {
		tb.Fatalf("fake DNS server at %s did not start: %v", addr, err)
	}
	return addr
}

// MakeStaticHandler for the DNS server. The given answers must be a valid
// zone. Queries for "unused." (sent by WaitForDNSServer) are answered the
// same way.
func MakeStaticHandler(tb testing.TB, answers ...string) func(dns.ResponseWriter, *dns.Msg) {
	var rrs []dns.RR
	for _, a := range answers {
		rrs = append(rrs, NewRR(tb, a))
	}

	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := &dns.Msg{}
		m.SetReply(r)
		m.Answer = append(m.Answer, rrs...)
		w.WriteMsg(m)
	}
}

// MakeRcodeHandler for the DNS server, which replies to all queries with the
// given response code and no answers.
func MakeRcodeHandler(rcode int) func(dns.ResponseWriter, *dns.Msg) {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := &dns.Msg{}
		m.SetRcode(r, rcode)
		w.WriteMsg(m)
	}
}

// MakeRawHandler for the DNS server, which replies to every query with the
// given bytes, once the server is up. The first query (from
// WaitForDNSServer) gets a proper reply.
func MakeRawHandler(raw []byte) func(dns.ResponseWriter, *dns.Msg) {
	var once sync.Once
	return func(w dns.ResponseWriter, r *dns.Msg) {
		first := false
		once.Do(func() { first = true })
		if first {
			m := &dns.Msg{}
			m.SetReply(r)
			w.WriteMsg(m)
			return
		}
		w.Write(raw)
	}
}

// NewRR parses the given string as a resource record, failing the test if it
// is not valid.
func NewRR(tb testing.TB, s string) dns.RR {
	rr, err := dns.NewRR(s)
	if err != nil {
		tb.Fatalf("Error parsing RR for testing: %v", err)
	}
	return rr
}

// BlackHole listens on a UDP port and never replies. It returns the address,
// and the packet connection, which the caller should close.
func BlackHole(tb testing.TB) (string, net.PacketConn) {
	tb.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("cannot listen on UDP: %v", err)
	}
	return pc.LocalAddr().String(), pc
}

// FakeResolver is a host resolver for testing, which returns fixed addresses
// for the names it knows about.
type FakeResolver struct {
	Addrs map[string][]string
	Err   error

	mu      sync.Mutex
	lookups []string
}

// LookupIPAddr returns the configured addresses for host.
func (r *FakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	r.mu.Lock()
	r.lookups = append(r.lookups, host)
	r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}

	addrs, ok := r.Addrs[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}

	var ips []net.IPAddr
	for _, a := range addrs {
		ips = append(ips, net.IPAddr{IP: net.ParseIP(a)})
	}
	return ips, nil
}

// Lookups returns the hosts that were looked up so far.
func (r *FakeResolver) Lookups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lookups...)
}
