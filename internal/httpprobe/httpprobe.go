// Package httpprobe checks an HTTP endpoint by issuing a single request.
//
// Any HTTP response counts as success, including 4xx and 5xx: the check
// is about the endpoint being reachable and answering, not about what it
// answers. Only transport errors (connection, timeout, TLS) are failures.
package httpprobe

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"blitiri.com.ar/go/netprobe/internal/metrics"
	"blitiri.com.ar/go/netprobe/internal/probe"
	"blitiri.com.ar/go/netprobe/internal/trace"
)

// Defaults for the optional inputs.
const (
	DefaultMethod  = http.MethodGet
	DefaultTimeout = 10.0
)

// Input for an HTTP check.
type Input struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method,omitempty" yaml:"method"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers"`

	// Data is sent as a JSON body, for any method except GET.
	Data map[string]interface{} `json:"data,omitempty" yaml:"data"`

	// Timeout in seconds.
	Timeout float64 `json:"timeout,omitempty" yaml:"timeout"`

	// VerifySSL is a pointer so we can tell "false" apart from "not given"
	// (which defaults to true).
	VerifySSL *bool `json:"verify_ssl,omitempty" yaml:"verify_ssl"`
}

func (in Input) withDefaults() Input {
	in.Method = strings.ToUpper(in.Method)
	if in.Method == "" {
		in.Method = DefaultMethod
	}
	if in.Timeout <= 0 {
		in.Timeout = DefaultTimeout
	}
	if in.VerifySSL == nil {
		verify := true
		in.VerifySSL = &verify
	}
	return in
}

// Result of an HTTP check.
type Result struct {
	Success        bool     `json:"success"`
	URL            string   `json:"url"`
	StatusCode     *int     `json:"status_code"`
	ResponseTimeMS *float64 `json:"response_time_ms"`
	ContentLength  *int64   `json:"content_length"`
	Timestamp      string   `json:"timestamp"`
	Error          *string  `json:"error"`
}

// Check issues the request described by in, and reads the whole response. It
// never fails: errors are reported in the result.
func Check(ctx context.Context, in Input) Result {
	start := time.Now()
	in = in.withDefaults()

	tr := trace.New("httpprobe", in.URL)
	defer tr.Finish()
	tr.Printf("%s timeout:%vs verify:%v", in.Method, in.Timeout, *in.VerifySSL)

	res := Result{URL: in.URL}

	status, length, elapsed, err := do(ctx, in)
	if err != nil {
		res.Error = probe.Error(tr.Error(err))
	} else {
		tr.Printf("status:%d length:%d in %v", status, length, elapsed)
		res.Success = true
		res.StatusCode = &status
		res.ContentLength = &length
		res.ResponseTimeMS = probe.Millis(elapsed)
	}

	res.Timestamp = probe.Now()
	metrics.Observe(probe.HTTP, res.Success, start)
	return res
}

func do(ctx context.Context, in Input) (int, int64, time.Duration, error) {
	var body io.Reader
	if in.Method != http.MethodGet && in.Data != nil {
		buf, err := json.Marshal(in.Data)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("cannot encode data: %v", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, in.Method, in.URL, body)
	if err != nil {
		return 0, 0, 0, err
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := newClient(probe.Seconds(in.Timeout), *in.VerifySSL)
	defer client.CloseIdleConnections()

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, 0, err
	}
	defer resp.Body.Close()

	length, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("error reading body: %v", err)
	}

	return resp.StatusCode, length, time.Since(start), nil
}

// newClient returns a client for a single check. Each check gets its own, as
// the TLS verification setting is per check, and connections must not be
// reused across checks.
func newClient(timeout time.Duration, verify bool) *http.Client {
	transport := &http.Transport{
		// Take the semi-standard proxy settings from the environment.
		Proxy: http.ProxyFromEnvironment,

		DisableKeepAlives: true,
		DialContext: (&net.Dialer{
			Timeout: timeout,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if !verify {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
