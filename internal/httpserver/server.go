// Package httpserver implements an HTTP server which runs probes on demand,
// and returns their results as JSON.
//
// Each probe has its own endpoint, /check/<probe>. POST requests carry the
// probe's input as a JSON object in the body. For the dns, port and image
// probes, GET requests with the input in the query parameters are also
// accepted.
package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"blitiri.com.ar/go/log"
	"blitiri.com.ar/go/systemd"

	"blitiri.com.ar/go/netprobe/internal/checks"
	"blitiri.com.ar/go/netprobe/internal/probe"
	"blitiri.com.ar/go/netprobe/internal/trace"
)

// Limit the size of request bodies to 64k.
const maxBodySize = 64 * 1024

// Probes that can be called with GET. The http probe takes headers and a
// body, which don't fit well in a query string.
var getProbes = map[string]bool{
	probe.DNS:   true,
	probe.Port:  true,
	probe.Image: true,
}

// Query parameters which are numbers.
var numericParams = map[string]bool{
	"port":    true,
	"timeout": true,
}

// Server is an HTTP server that runs probes, see the package-level
// documentation for more details.
type Server struct {
	// Address to listen on, or "systemd" to use the sockets passed by
	// systemd.
	Addr string

	Runner *checks.Runner
}

// New returns a server listening on addr, using the default probes.
func New(addr string) *Server {
	return &Server{
		Addr:   addr,
		Runner: checks.NewRunner(),
	}
}

// Handler returns the HTTP handler for the server's endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/check/", s.Check)
	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() {
	if s.Addr == "systemd" {
		s.systemdServe()
	} else {
		s.classicServe()
	}
}

func (s *Server) classicServe() {
	srv := http.Server{
		Addr:    s.Addr,
		Handler: s.Handler(),
	}

	log.Infof("HTTP listening on %s", s.Addr)
	err := srv.ListenAndServe()
	log.Fatalf("HTTP exiting: %s", err)
}

func (s *Server) systemdServe() {
	fsMap, err := systemd.Files()
	if err != nil {
		log.Fatalf("Error getting systemd listeners: %v", err)
	}

	listeners := []net.Listener{}
	for _, fs := range fsMap {
		for _, f := range fs {
			if lis, err := net.FileListener(f); err == nil {
				listeners = append(listeners, lis)
				f.Close()
			}
		}
	}

	var wg sync.WaitGroup
	for _, lis := range listeners {
		wg.Add(1)
		go func(l net.Listener) {
			defer wg.Done()
			log.Infof("Activate on listening socket (HTTP): %v", l.Addr())
			err := http.Serve(l, s.Handler())
			log.Fatalf("Exiting HTTP listener: %v", err)
		}(lis)
	}

	wg.Wait()

	// We should only get here if there were no useful sockets.
	log.Fatalf("No systemd sockets, did you forget the .socket?")
}

// Check implements the HTTP handler for the /check/<probe> endpoints.
func (s *Server) Check(w http.ResponseWriter, req *http.Request) {
	tr := trace.New("httpserver", req.URL.Path)
	defer tr.Finish()
	tr.Printf("from:%v method:%v", req.RemoteAddr, req.Method)

	typ := strings.TrimPrefix(req.URL.Path, "/check/")
	if !isKnown(typ) {
		tr.Errorf("unknown probe %q", typ)
		http.NotFound(w, req)
		return
	}

	var decode func(v interface{}) error
	switch {
	case req.Method == http.MethodPost:
		decode = bodyDecoder(req.Body)
	case req.Method == http.MethodGet && getProbes[typ]:
		decode = queryDecoder(req.URL.Query())
	default:
		tr.Errorf("method %s not allowed", req.Method)
		if getProbes[typ] {
			w.Header().Set("Allow", "GET, POST")
		} else {
			w.Header().Set("Allow", "POST")
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c, err := checks.New("", typ, decode)
	if err != nil {
		tr.Error(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	o := <-s.Runner.Go(req.Context(), c)
	tr.Printf("%s %s success:%v", o.Type, c.Target(), o.Success)

	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(o.Result)
	if err != nil {
		tr.Errorf("error writing response: %v", err)
	}
}

func isKnown(typ string) bool {
	for _, k := range probe.Kinds {
		if k == typ {
			return true
		}
	}
	return false
}

var errEmptyBody = errors.New("empty request body")

func bodyDecoder(body io.Reader) func(v interface{}) error {
	return func(v interface{}) error {
		dec := json.NewDecoder(io.LimitReader(body, maxBodySize))
		err := dec.Decode(v)
		if err == io.EOF {
			return errEmptyBody
		}
		if err != nil {
			return fmt.Errorf("error decoding request: %w", err)
		}
		return nil
	}
}

// queryDecoder decodes the input from the query parameters, by turning them
// into a JSON object first. Only the first value of each parameter is used.
func queryDecoder(q url.Values) func(v interface{}) error {
	return func(v interface{}) error {
		m := map[string]interface{}{}
		for k := range q {
			s := q.Get(k)
			m[k] = s
			if numericParams[k] {
				if f, err := strconv.ParseFloat(s, 64); err == nil {
					m[k] = f
				}
			}
		}

		buf, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(buf, v); err != nil {
			return fmt.Errorf("error decoding query: %w", err)
		}
		return nil
	}
}
