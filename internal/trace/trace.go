// Package trace extends golang.org/x/net/trace.
package trace

import (
	"fmt"
	"net/http"
	"strconv"

	"blitiri.com.ar/go/log"

	"blitiri.com.ar/go/netprobe/internal/dnswire"

	nettrace "golang.org/x/net/trace"
)

func init() {
	// golang.org/x/net/trace has its own authorization which by default only
	// allows localhost. This can be confusing and limiting in environments
	// which access the monitoring server remotely.
	nettrace.AuthRequest = func(req *http.Request) (any, sensitive bool) {
		return true, true
	}
}

// A Trace represents an active probe call.
type Trace struct {
	family string
	title  string
	t      nettrace.Trace
}

// New trace.
func New(family, title string) *Trace {
	t := &Trace{family, title, nettrace.New(family, title)}

	// The default for max events is 10, which is a bit short for the
	// registry probe, which does two round trips.
	t.t.SetMaxEvents(30)
	return t
}

// Printf adds this message to the trace's log.
func (t *Trace) Printf(format string, a ...interface{}) {
	t.printf(1, format, a...)
}

func (t *Trace) printf(n int, format string, a ...interface{}) {
	t.t.LazyPrintf(format, a...)

	log.Log(log.Debug, n+1, "%s %s: %s", t.family, t.title,
		quote(fmt.Sprintf(format, a...)))
}

// Errorf adds this message to the trace's log, with an error level.
func (t *Trace) Errorf(format string, a ...interface{}) error {
	// Note we can't just call t.Error here, as it breaks caller logging.
	err := fmt.Errorf(format, a...)
	t.t.SetError()
	t.t.LazyPrintf("error: %v", err)

	log.Log(log.Info, 1, "%s %s: error: %s", t.family, t.title,
		quote(err.Error()))
	return err
}

// Error marks the trace as having seen an error, and also logs it to the
// trace's log.
func (t *Trace) Error(err error) error {
	t.t.SetError()
	t.t.LazyPrintf("error: %v", err)

	log.Log(log.Info, 1, "%s %s: error: %s", t.family, t.title,
		quote(err.Error()))

	return err
}

// Finish the trace. It should not be changed after this is called.
func (t *Trace) Finish() {
	t.t.Finish()
}

////////////////////////////////////////////////////////////
// DNS specific extensions
//

// Query adds the given DNS query to the trace.
func (t *Trace) Query(q *dnswire.Query) {
	if !log.V(3) {
		return
	}

	t.printf(1, "Q: id:%d (%s %d IN)", q.ID, q.Domain, q.Type)
}

// Header adds the given DNS reply header to the trace.
func (t *Trace) Header(h dnswire.Header) {
	if !log.V(3) {
		return
	}

	t.printf(1, "H: id:%d flags:%#04x rcode:%d qd:%d an:%d ns:%d ar:%d",
		h.ID, h.Flags, h.Rcode(), h.QDCount, h.ANCount, h.NSCount, h.ARCount)
}

func quote(s string) string {
	qs := strconv.Quote(s)
	return qs[1 : len(qs)-1]
}
