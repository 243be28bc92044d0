package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserve(t *testing.T) {
	okBefore := testutil.ToFloat64(checksTotal.WithLabelValues("dns", "true"))
	failBefore := testutil.ToFloat64(checksTotal.WithLabelValues("port", "false"))
	failedVarBefore := stats.failed.Value()

	Observe("dns", true, time.Now())
	Observe("dns", true, time.Now())
	Observe("port", false, time.Now().Add(-time.Second))

	if d := testutil.ToFloat64(checksTotal.WithLabelValues("dns", "true")) - okBefore; d != 2 {
		t.Errorf("expected 2 new successful dns checks, got %v", d)
	}
	if d := testutil.ToFloat64(checksTotal.WithLabelValues("port", "false")) - failBefore; d != 1 {
		t.Errorf("expected 1 new failed port check, got %v", d)
	}
	if d := stats.failed.Value() - failedVarBefore; d != 1 {
		t.Errorf("expected checks-failed to grow by 1, got %d", d)
	}
}

func TestHandler(t *testing.T) {
	Observe("image", true, time.Now())

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %v", resp.Status)
	}

	body, _ := io.ReadAll(resp.Body)
	for _, s := range []string{
		`netprobe_checks_total{probe="image",success="true"}`,
		`netprobe_check_duration_seconds_count{probe="image"}`,
		`go_goroutines`,
	} {
		if !strings.Contains(string(body), s) {
			t.Errorf("metrics output does not contain %q", s)
		}
	}
}
