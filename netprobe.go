// netprobe runs network diagnostic probes: DNS queries, TCP port checks,
// HTTP requests, and container image lookups.
//
// It can run a batch of checks from a YAML file and report their results, or
// serve an HTTP API to run probes on demand. When both are given, the checks
// are run first, and the server is only started if they all pass.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"

	"blitiri.com.ar/go/log"

	"blitiri.com.ar/go/netprobe/internal/checks"
	"blitiri.com.ar/go/netprobe/internal/httpserver"
)

var (
	checksFile = flag.String("checks", "",
		"YAML file with checks to run; they are run once, and then we exit")
	parallel = flag.Int("parallel", 8,
		"maximum number of checks to run in parallel")

	httpAddr = flag.String("http_addr", "",
		"address to listen on for the HTTP API (use \"systemd\" for "+
			"systemd socket activation)")

	monitoringListenAddr = flag.String("monitoring_listen_addr", "",
		"address to listen on for monitoring HTTP requests")
)

func main() {
	flag.Parse()
	log.Init()

	log.Infof("netprobe starting (%s, %s)", Version, SourceDate)

	if *monitoringListenAddr != "" {
		launchMonitoringServer(*monitoringListenAddr)
	}

	if *checksFile == "" && *httpAddr == "" {
		log.Fatalf("nothing to do: pass -checks and/or -http_addr")
	}

	if *checksFile != "" {
		ok, err := runChecks(context.Background(), os.Stdout,
			checks.NewRunner(), *checksFile, *parallel)
		if err != nil {
			log.Fatalf("Error running checks: %v", err)
		}
		if !ok {
			os.Exit(1)
		}
		if *httpAddr == "" {
			return
		}
	}

	srv := httpserver.New(*httpAddr)
	srv.ListenAndServe()
}

// runChecks loads the checks from the given file, runs them, and writes the
// outcomes to w as JSON, one per line. It returns true if all checks were
// successful.
func runChecks(ctx context.Context, w io.Writer, runner *checks.Runner, path string, parallel int) (bool, error) {
	cs, err := checks.Load(path)
	if err != nil {
		return false, err
	}
	log.Infof("Loaded %d checks from %q", len(cs), path)

	allOK := true
	enc := json.NewEncoder(w)
	for _, o := range runner.RunAll(ctx, cs, parallel) {
		if !o.Success {
			allOK = false
			log.Errorf("Check %q (%s) failed", o.Name, o.Type)
		}
		if err := enc.Encode(o); err != nil {
			return false, err
		}
	}

	return allOK, nil
}
