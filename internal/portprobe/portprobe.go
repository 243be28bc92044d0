// Package portprobe checks if a TCP port is accepting connections.
package portprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"blitiri.com.ar/go/netprobe/internal/metrics"
	"blitiri.com.ar/go/netprobe/internal/probe"
	"blitiri.com.ar/go/netprobe/internal/trace"
)

// DefaultTimeout for the connection attempt, in seconds.
const DefaultTimeout = 3.0

// Input for a port check.
type Input struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`

	// Timeout in seconds.
	Timeout float64 `json:"timeout,omitempty" yaml:"timeout"`
}

func (in Input) withDefaults() Input {
	if in.Timeout <= 0 {
		in.Timeout = DefaultTimeout
	}
	return in
}

// Result of a port check.
type Result struct {
	Success        bool     `json:"success"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ResponseTimeMS *float64 `json:"response_time_ms"`
	Timestamp      string   `json:"timestamp"`
	Error          *string  `json:"error"`
}

// Check tries to open a TCP connection to the given host and port. The
// connection is closed right away. It never fails: errors are reported in
// the result.
func Check(ctx context.Context, in Input) Result {
	start := time.Now()
	in = in.withDefaults()

	tr := trace.New("portprobe", net.JoinHostPort(in.Host, strconv.Itoa(in.Port)))
	defer tr.Finish()

	res := check(ctx, tr, in)
	res.Timestamp = probe.Now()
	metrics.Observe(probe.Port, res.Success, start)
	return res
}

func check(ctx context.Context, tr *trace.Trace, in Input) Result {
	res := Result{
		Host: in.Host,
		Port: in.Port,
	}

	if in.Port < 1 || in.Port > 65535 {
		res.Error = probe.Error(tr.Errorf("Invalid port: %d", in.Port))
		return res
	}

	addr := net.JoinHostPort(in.Host, strconv.Itoa(in.Port))
	dialer := net.Dialer{Timeout: probe.Seconds(in.Timeout)}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	elapsed := time.Since(start)

	if err == nil {
		conn.Close()
		tr.Printf("connected in %v", elapsed)
		res.Success = true
		res.ResponseTimeMS = probe.Millis(elapsed)
		return res
	}

	tr.Error(err)
	if !isClosed(err) {
		res.Error = probe.Error(err)
		return res
	}

	res.ResponseTimeMS = probe.Millis(elapsed)
	res.Error = probe.Error(fmt.Errorf("Port %d is closed", in.Port))
	return res
}

// isClosed tells if the dial error comes from the connection attempt itself
// (refused, unreachable, timed out), as opposed to a failure before we could
// even try, like not being able to resolve the host name.
func isClosed(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return false
	}

	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
