// Package probe contains the pieces shared by all the probes: timestamps,
// timing conversion, and running probes on their own goroutine.
package probe

import (
	"fmt"
	"math"
	"time"
)

// Probe kinds, as used by callers to refer to them by name.
const (
	DNS   = "dns"
	Port  = "port"
	HTTP  = "http"
	Image = "image"
)

// Kinds lists all the known probe kinds.
var Kinds = []string{DNS, Port, HTTP, Image}

// TimestampFormat is the ISO-8601 layout used in results.
const TimestampFormat = "2006-01-02T15:04:05.000000"

// Now returns the current time, formatted for use in results.
// It is a variable so tests can override it.
var Now = func() string {
	return time.Now().Format(TimestampFormat)
}

// Millis converts the duration to milliseconds, rounded to 2 decimals.
func Millis(d time.Duration) *float64 {
	ms := math.Round(float64(d)/float64(time.Millisecond)*100) / 100
	return &ms
}

// Seconds converts a timeout given in (possibly fractional) seconds to a
// duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Error returns a pointer to the error message, or nil if err is nil.
func Error(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

// Errorf formats the message, and returns a pointer to it.
func Errorf(format string, a ...interface{}) *string {
	s := fmt.Sprintf(format, a...)
	return &s
}

// Go runs f on its own goroutine, and returns a channel over which its
// result will be delivered.
// The channel is buffered, so the goroutine never blocks on delivery even if
// nobody is waiting for the result anymore.
func Go[R any](f func() R) <-chan R {
	c := make(chan R, 1)
	go func() {
		c <- f()
	}()
	return c
}
