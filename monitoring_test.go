package main

// Tests for the monitoring server.

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"blitiri.com.ar/go/netprobe/internal/metrics"
	"blitiri.com.ar/go/netprobe/internal/probe"
	"blitiri.com.ar/go/netprobe/internal/testutil"
)

func TestMonitoringServer(t *testing.T) {
	addr := testutil.GetFreePort()
	launchMonitoringServer(addr)
	if err := testutil.WaitForHTTPServer(addr); err != nil {
		t.Fatalf("monitoring server did not start: %v", err)
	}

	checkGet(t, "http://"+addr+"/")
	checkGet(t, "http://"+addr+"/debug/requests")
	checkGet(t, "http://"+addr+"/debug/events")
	checkGet(t, "http://"+addr+"/debug/pprof/goroutine")
	checkGet(t, "http://"+addr+"/debug/flags")
	checkGet(t, "http://"+addr+"/debug/vars")

	// Make sure there is at least one sample, so the metrics show up.
	metrics.Observe(probe.Port, true, testStart)
	body := checkGet(t, "http://"+addr+"/metrics")
	if !strings.Contains(body, "netprobe_checks_total") {
		t.Errorf("/metrics is missing our counters")
	}

	// Check that we emit 404 for non-existing paths.
	r, err := http.Get("http://" + addr + "/doesnotexist")
	if err != nil {
		t.Fatal(err)
	}
	r.Body.Close()
	if r.StatusCode != 404 {
		t.Errorf("expected 404, got %s", r.Status)
	}
}

func checkGet(t *testing.T, url string) string {
	r, err := http.Get(url)
	if err != nil {
		t.Error(err)
		return ""
	}
	defer r.Body.Close()

	if r.StatusCode != 200 {
		t.Errorf("%q - invalid status: %s", url, r.Status)
	}

	body, _ := io.ReadAll(r.Body)
	return string(body)
}
