package dnsprobe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/miekg/dns"

	"blitiri.com.ar/go/netprobe/internal/testutil"
)

func newTestProber(addrs map[string][]string) (*Prober, *testutil.FakeResolver) {
	res := &testutil.FakeResolver{Addrs: addrs}
	return &Prober{Resolver: res, Timeout: 2 * time.Second}, res
}

func expectSuccess(t *testing.T, r Result, records ...string) {
	t.Helper()
	if !r.Success {
		t.Fatalf("expected success, got error: %v", *r.Error)
	}
	if r.Error != nil {
		t.Errorf("success with error set: %q", *r.Error)
	}
	if r.ResponseTimeMS == nil || *r.ResponseTimeMS < 0 {
		t.Errorf("invalid response time: %v", r.ResponseTimeMS)
	}
	if r.Timestamp == "" {
		t.Errorf("empty timestamp")
	}
	if records == nil {
		records = []string{}
	}
	if diff := cmp.Diff(records, r.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func expectFailure(t *testing.T, r Result, errContains string) {
	t.Helper()
	if r.Success {
		t.Fatalf("expected failure, got success: %+v", r)
	}
	if r.Error == nil || !strings.Contains(*r.Error, errContains) {
		t.Errorf("expected error containing %q, got %v", errContains, r.Error)
	}
	if r.Records == nil || len(r.Records) != 0 {
		t.Errorf("failure with records: %v", r.Records)
	}
}

func TestA(t *testing.T) {
	ns := testutil.StartTestDNSServer(t,
		testutil.MakeStaticHandler(t, "example.com. A 1.2.3.4"))

	p, res := newTestProber(map[string][]string{
		// Duplicates and a v6 address, which must be filtered out.
		"example.com": {"1.2.3.4", "1.2.3.4", "2001:db8::1", "5.6.7.8"},
	})

	r := p.Check(context.Background(), Input{
		Domain:     "example.com",
		RecordType: "A",
		Nameserver: ns,
	})
	expectSuccess(t, r, "1.2.3.4", "5.6.7.8")

	if r.Domain != "example.com" || r.RecordType != "A" {
		t.Errorf("input not echoed: %+v", r)
	}
	if diff := cmp.Diff([]string{"example.com"}, res.Lookups()); diff != "" {
		t.Errorf("lookups mismatch (-want +got):\n%s", diff)
	}
}

func TestAAAA(t *testing.T) {
	ns := testutil.StartTestDNSServer(t,
		testutil.MakeStaticHandler(t, "example.com. AAAA 2001:db8::1"))

	p, _ := newTestProber(map[string][]string{
		"example.com": {"1.2.3.4", "2001:db8::1", "2001:db8::2", "2001:db8::1"},
	})

	r := p.Check(context.Background(), Input{
		Domain:     "example.com",
		RecordType: "AAAA",
		Nameserver: ns,
	})
	expectSuccess(t, r, "2001:db8::1", "2001:db8::2")
}

func TestMXAndCNAMEHaveNoRecords(t *testing.T) {
	ns := testutil.StartTestDNSServer(t,
		testutil.MakeStaticHandler(t,
			"example.com. MX 10 mail.example.com.",
			"www.example.com. CNAME example.com."))

	p, res := newTestProber(map[string][]string{
		"example.com": {"1.2.3.4"},
	})

	for _, rt := range []string{"MX", "CNAME"} {
		r := p.Check(context.Background(), Input{
			Domain:     "example.com",
			RecordType: rt,
			Nameserver: ns,
		})
		expectSuccess(t, r)
	}

	if l := res.Lookups(); len(l) != 0 {
		t.Errorf("unexpected host lookups: %v", l)
	}
}

func TestNoAnswers(t *testing.T) {
	// Reply without answers: success, but no host lookup.
	ns := testutil.StartTestDNSServer(t, testutil.MakeStaticHandler(t))

	p, res := newTestProber(map[string][]string{
		"example.com": {"1.2.3.4"},
	})

	r := p.Check(context.Background(), Input{
		Domain:     "example.com",
		Nameserver: ns,
	})
	expectSuccess(t, r)

	if l := res.Lookups(); len(l) != 0 {
		t.Errorf("unexpected host lookups: %v", l)
	}
}

func TestHostLookupFails(t *testing.T) {
	ns := testutil.StartTestDNSServer(t,
		testutil.MakeStaticHandler(t, "example.com. A 1.2.3.4"))

	p, res := newTestProber(nil)
	res.Err = errors.New("resolver is broken")

	r := p.Check(context.Background(), Input{
		Domain:     "example.com",
		Nameserver: ns,
	})
	expectSuccess(t, r)
}

func TestRcode(t *testing.T) {
	ns := testutil.StartTestDNSServer(t,
		testutil.MakeRcodeHandler(dns.RcodeNameError))

	p, _ := newTestProber(nil)
	r := p.Check(context.Background(), Input{
		Domain:     "doesnotexist.example.com",
		Nameserver: ns,
	})
	expectFailure(t, r, "DNS response code: 3")

	// The reply arrived, so we have timing.
	if r.ResponseTimeMS == nil {
		t.Errorf("expected response time to be set")
	}
}

func TestShortReply(t *testing.T) {
	ns := testutil.StartTestDNSServer(t,
		testutil.MakeRawHandler([]byte{1, 2, 3}))

	p, _ := newTestProber(nil)
	r := p.Check(context.Background(), Input{
		Domain:     "example.com",
		Nameserver: ns,
	})
	expectFailure(t, r, "Response too short")
	if r.ResponseTimeMS == nil {
		t.Errorf("expected response time to be set")
	}
}

func TestTimeout(t *testing.T) {
	addr, pc := testutil.BlackHole(t)
	defer pc.Close()

	p, _ := newTestProber(nil)
	p.Timeout = 200 * time.Millisecond

	start := time.Now()
	r := p.Check(context.Background(), Input{
		Domain:     "example.com",
		Nameserver: addr,
	})
	expectFailure(t, r, "timeout")

	if r.ResponseTimeMS != nil {
		t.Errorf("expected no response time, got %v", *r.ResponseTimeMS)
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("timeout not honoured, took %v", d)
	}
}

func TestUnsupportedType(t *testing.T) {
	// No server: an unsupported type must not do any I/O.
	p, res := newTestProber(nil)
	r := p.Check(context.Background(), Input{
		Domain:     "example.com",
		RecordType: "TXT",
		Nameserver: "192.0.2.1",
	})
	expectFailure(t, r, "Unsupported record type: TXT")

	if r.ResponseTimeMS != nil {
		t.Errorf("expected no response time")
	}
	if r.RecordType != "TXT" {
		t.Errorf("record type not echoed: %q", r.RecordType)
	}
	if l := res.Lookups(); len(l) != 0 {
		t.Errorf("unexpected host lookups: %v", l)
	}
}

func TestBadDomain(t *testing.T) {
	p, _ := newTestProber(nil)
	r := p.Check(context.Background(), Input{
		Domain:     "a..b",
		Nameserver: "192.0.2.1",
	})
	expectFailure(t, r, "empty label")
}

func TestDefaults(t *testing.T) {
	in := Input{Domain: "example.com"}.withDefaults()
	expected := Input{
		Domain:     "example.com",
		RecordType: "A",
		Nameserver: "8.8.8.8",
	}
	if in != expected {
		t.Errorf("expected %+v, got %+v", expected, in)
	}
}

func TestNameserverAddr(t *testing.T) {
	cases := map[string]string{
		"8.8.8.8":              "8.8.8.8:53",
		"8.8.8.8:5353":         "8.8.8.8:5353",
		"dns.example":          "dns.example:53",
		"2001:4860:4860::8888": "[2001:4860:4860::8888]:53",
		"[::1]:5353":           "[::1]:5353",
	}
	for ns, expected := range cases {
		if got := nameserverAddr(ns); got != expected {
			t.Errorf("%q: expected %q, got %q", ns, expected, got)
		}
	}
}

func TestRepeatable(t *testing.T) {
	ns := testutil.StartTestDNSServer(t,
		testutil.MakeStaticHandler(t, "example.com. A 1.2.3.4"))
	p, _ := newTestProber(map[string][]string{
		"example.com": {"1.2.3.4"},
	})

	in := Input{Domain: "example.com", Nameserver: ns}
	first := p.Check(context.Background(), in)
	second := p.Check(context.Background(), in)

	ignore := cmpopts.IgnoreFields(Result{}, "ResponseTimeMS", "Timestamp")
	if diff := cmp.Diff(first, second, ignore); diff != "" {
		t.Errorf("results differ (-first +second):\n%s", diff)
	}
}
