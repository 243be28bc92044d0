// Package dnsprobe checks DNS resolution by sending a single raw query over
// UDP to a nameserver, and timing the reply.
//
// Only the reply header is inspected. When it signals that answers exist,
// the actual addresses are obtained from the host resolver instead of being
// parsed out of the reply, so for MX and CNAME queries the record list is
// always empty.
package dnsprobe

import (
	"context"
	"net"
	"time"

	"blitiri.com.ar/go/netprobe/internal/dnswire"
	"blitiri.com.ar/go/netprobe/internal/metrics"
	"blitiri.com.ar/go/netprobe/internal/probe"
	"blitiri.com.ar/go/netprobe/internal/trace"
)

// Defaults for the optional inputs.
const (
	DefaultRecordType = "A"
	DefaultNameserver = "8.8.8.8"
	DefaultTimeout    = 3 * time.Second
)

// Replies larger than this are truncated; we only care about the header
// anyway.
const maxReplyLen = 512

// Input for a DNS check.
type Input struct {
	Domain     string `json:"domain" yaml:"domain"`
	RecordType string `json:"record_type,omitempty" yaml:"record_type"`
	Nameserver string `json:"nameserver,omitempty" yaml:"nameserver"`
}

func (in Input) withDefaults() Input {
	if in.RecordType == "" {
		in.RecordType = DefaultRecordType
	}
	if in.Nameserver == "" {
		in.Nameserver = DefaultNameserver
	}
	return in
}

// Result of a DNS check.
type Result struct {
	Success        bool     `json:"success"`
	Domain         string   `json:"domain"`
	RecordType     string   `json:"record_type"`
	Records        []string `json:"records"`
	ResponseTimeMS *float64 `json:"response_time_ms"`
	Timestamp      string   `json:"timestamp"`
	Error          *string  `json:"error"`
}

// Resolver is the host resolver used to find the addresses of a domain once
// the nameserver said it has answers for it.
// It is satisfied by *net.Resolver.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Prober runs DNS checks.
type Prober struct {
	// Resolver for the secondary lookup of the records.
	Resolver Resolver

	// Timeout for the UDP exchange, and separately for the secondary lookup.
	Timeout time.Duration
}

// New returns a Prober that uses the system resolver for the secondary
// lookup.
func New() *Prober {
	return &Prober{
		Resolver: net.DefaultResolver,
		Timeout:  DefaultTimeout,
	}
}

// Check performs the DNS check described by in. It never fails: errors are
// reported in the result.
func (p *Prober) Check(ctx context.Context, in Input) Result {
	start := time.Now()
	in = in.withDefaults()

	tr := trace.New("dnsprobe", in.Domain)
	defer tr.Finish()
	tr.Printf("type:%s nameserver:%s", in.RecordType, in.Nameserver)

	res := p.check(ctx, tr, in)
	res.Timestamp = probe.Now()
	metrics.Observe(probe.DNS, res.Success, start)
	return res
}

func (p *Prober) check(ctx context.Context, tr *trace.Trace, in Input) Result {
	res := Result{
		Domain:     in.Domain,
		RecordType: in.RecordType,
		Records:    []string{},
	}

	qtype, ok := dnswire.TypeFromString(in.RecordType)
	if !ok {
		err := tr.Errorf("Unsupported record type: %s", in.RecordType)
		res.Error = probe.Error(err)
		return res
	}

	reply, rtt, err := p.exchange(ctx, tr, in, qtype)
	if err != nil {
		res.Error = probe.Error(tr.Error(err))
		return res
	}

	// We got a reply, so the timing is valid even if the reply is not.
	res.ResponseTimeMS = probe.Millis(rtt)

	hdr, err := dnswire.ParseHeader(reply)
	if err != nil {
		res.Error = probe.Error(tr.Error(err))
		return res
	}
	tr.Header(hdr)

	if err := hdr.Check(); err != nil {
		res.Error = probe.Error(tr.Error(err))
		return res
	}

	if hdr.ANCount > 0 {
		res.Records = p.lookup(ctx, tr, in.Domain, qtype)
	}

	tr.Printf("ok: %d answers, %d records, %v", hdr.ANCount, len(res.Records), rtt)
	res.Success = true
	return res
}

// exchange sends the query to the nameserver and waits for a single reply.
// It returns the raw reply, and the time between sending the query and
// receiving the reply.
func (p *Prober) exchange(ctx context.Context, tr *trace.Trace, in Input, qtype uint16) ([]byte, time.Duration, error) {
	id, err := dnswire.RandomID()
	if err != nil {
		return nil, 0, err
	}

	q, err := dnswire.NewQuery(id, in.Domain, qtype)
	if err != nil {
		return nil, 0, err
	}
	tr.Query(q)

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "udp", nameserverAddr(in.Nameserver))
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, 0, err
	}

	start := time.Now()
	if _, err := conn.Write(q.Pack()); err != nil {
		return nil, 0, err
	}

	buf := make([]byte, maxReplyLen)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, 0, err
	}
	return buf[:n], time.Since(start), nil
}

// lookup finds the addresses of domain using the host resolver, keeping only
// the ones matching the record type. Errors are not fatal, they just result
// in an empty list.
func (p *Prober) lookup(ctx context.Context, tr *trace.Trace, domain string, qtype uint16) []string {
	records := []string{}
	if qtype != dnswire.TypeA && qtype != dnswire.TypeAAAA {
		return records
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	addrs, err := p.Resolver.LookupIPAddr(ctx, domain)
	if err != nil {
		tr.Printf("host lookup failed, no records: %v", err)
		return records
	}

	seen := map[string]bool{}
	for _, addr := range addrs {
		isV4 := addr.IP.To4() != nil
		if (qtype == dnswire.TypeA) != isV4 {
			continue
		}

		s := addr.IP.String()
		if seen[s] {
			continue
		}
		seen[s] = true
		records = append(records, s)
	}

	return records
}

// nameserverAddr returns the address to send queries to. Nameservers are
// given as a host, optionally with a port; the default port is 53.
func nameserverAddr(ns string) string {
	if _, _, err := net.SplitHostPort(ns); err == nil {
		return ns
	}
	return net.JoinHostPort(ns, "53")
}
