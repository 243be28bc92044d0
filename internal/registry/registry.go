// Package registry checks if an image exists in a container registry, by
// asking for its manifest using the Docker Registry HTTP API v2.
//
// For Docker Hub (and its known mirrors) an anonymous pull token is obtained
// first from Docker Hub's token service. Other registries are queried
// without authentication.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"blitiri.com.ar/go/log"

	"blitiri.com.ar/go/netprobe/internal/imageref"
	"blitiri.com.ar/go/netprobe/internal/metrics"
	"blitiri.com.ar/go/netprobe/internal/probe"
	"blitiri.com.ar/go/netprobe/internal/trace"
)

// DefaultTimeout for each HTTP request, in seconds.
const DefaultTimeout = 30.0

// DefaultAuthURL is Docker Hub's token service.
const DefaultAuthURL = "https://auth.docker.io/token"

// Service name to request tokens for.
const authService = "registry.docker.io"

// Manifest media types we accept: v2 manifests and manifest lists, and
// plain JSON for older registries.
const acceptManifests = "application/vnd.docker.distribution.manifest.v2+json, " +
	"application/vnd.docker.distribution.manifest.list.v2+json, " +
	"application/json"

// Limit on how much of the token response we read.
const maxTokenResponse = 1 << 20

// Input for an image check.
type Input struct {
	ImageName string `json:"image_name" yaml:"image_name"`

	// Registry overrides the one in the image name, if any.
	Registry string `json:"registry,omitempty" yaml:"registry"`

	// Timeout for each request, in seconds.
	Timeout float64 `json:"timeout,omitempty" yaml:"timeout"`
}

func (in Input) withDefaults() Input {
	if in.Timeout <= 0 {
		in.Timeout = DefaultTimeout
	}
	return in
}

// Result of an image check.
//
// StatusCode is set only when the registry gave a definite answer (found or
// not found), so callers can tell "does not exist" apart from "could not
// check".
type Result struct {
	Success        bool     `json:"success"`
	ImageName      string   `json:"image_name"`
	Registry       string   `json:"registry"`
	ResponseTimeMS *float64 `json:"response_time_ms"`
	Timestamp      string   `json:"timestamp"`
	Error          *string  `json:"error"`
	StatusCode     *int     `json:"status_code"`
	Message        string   `json:"message"`
}

// HTTPError is returned when the registry or the token service reply with an
// unexpected HTTP status.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	kind := ""
	switch {
	case e.StatusCode >= 400 && e.StatusCode < 500:
		kind = " Client Error"
	case e.StatusCode >= 500:
		kind = " Server Error"
	}
	return fmt.Sprintf("%d%s: %s for url: %s",
		e.StatusCode, kind, http.StatusText(e.StatusCode), e.URL)
}

// requestError wraps errors that happened while talking to the registry or
// the token service, as opposed to errors preparing the requests.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// Client checks images against registries.
type Client struct {
	// AuthURL is the token service for Docker Hub.
	AuthURL string

	// Scheme to use when talking to registries.
	Scheme string

	// Transport to use for the requests. If nil, a new one is created for
	// each check.
	Transport http.RoundTripper
}

// New returns a Client that talks to the real Docker Hub token service, and
// to registries over HTTPS.
func New() *Client {
	return &Client{
		AuthURL: DefaultAuthURL,
		Scheme:  "https",
	}
}

// Check if the image described by in exists. It never fails: errors are
// reported in the result.
func (c *Client) Check(ctx context.Context, in Input) Result {
	start := time.Now()
	in = in.withDefaults()

	ref := imageref.Parse(in.ImageName, in.Registry)

	tr := trace.New("registry", ref.String())
	defer tr.Finish()

	res := Result{
		ImageName: in.ImageName,
		Registry:  ref.Registry,
	}

	status, err := c.check(ctx, tr, ref, probe.Seconds(in.Timeout))
	res.ResponseTimeMS = probe.Millis(time.Since(start))

	switch {
	case err != nil:
		tr.Error(err)
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			res.Error = probe.Errorf("HTTP Request Error: %v", err)
		} else {
			res.Error = probe.Errorf("An unexpected error occurred: %v", err)
		}
		res.Message = err.Error()
	case status == http.StatusOK:
		res.Success = true
		res.StatusCode = &status
		res.Message = fmt.Sprintf("Image manifest found (Status: %d)", status)
	default:
		res.StatusCode = &status
		res.Message = fmt.Sprintf("Image manifest not found (Status: %d)", status)
		res.Error = probe.Errorf("%s", res.Message)
		tr.Printf("%s", res.Message)
	}

	res.Timestamp = probe.Now()
	metrics.Observe(probe.Image, res.Success, start)
	return res
}

// check does the token and manifest requests. It returns either 200 or 404
// as the status, or an error.
func (c *Client) check(ctx context.Context, tr *trace.Trace, ref imageref.Reference, timeout time.Duration) (int, error) {
	client := c.newClient(timeout)
	defer client.CloseIdleConnections()

	token := ""
	if imageref.IsDockerHub(ref.Registry) {
		var err error
		token, err = c.getToken(ctx, tr, client, ref.Repository)
		if err != nil {
			return 0, err
		}
		if token == "" {
			tr.Printf("no token in auth response, trying anonymously")
		}
	}

	return c.headManifest(ctx, tr, client, ref, token)
}

func (c *Client) getToken(ctx context.Context, tr *trace.Trace, client *http.Client, repository string) (string, error) {
	u, err := url.Parse(c.AuthURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("service", authService)
	q.Set("scope", "repository:"+repository+":pull")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}

	tr.Printf("GET %s", u)
	resp, err := client.Do(req)
	if err != nil {
		return "", &requestError{err}
	}
	defer resp.Body.Close()
	tr.Printf("%s %s", resp.Proto, resp.Status)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &requestError{&HTTPError{resp.StatusCode, u.String()}}
	}

	var body struct {
		Token string `json:"token"`
	}
	err = json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponse)).Decode(&body)
	if err != nil {
		return "", &requestError{fmt.Errorf("error decoding token response: %v", err)}
	}

	if log.V(3) {
		tr.Printf("got token of %d bytes", len(body.Token))
	}
	return body.Token, nil
}

func (c *Client) headManifest(ctx context.Context, tr *trace.Trace, client *http.Client, ref imageref.Reference, token string) (int, error) {
	murl := fmt.Sprintf("%s://%s/v2/%s/manifests/%s",
		c.Scheme, ref.Registry, ref.Repository, ref.Tag)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, murl, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", acceptManifests)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	// Redirects are reported as errors, not followed.
	hc := *client
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	tr.Printf("HEAD %s", murl)
	resp, err := hc.Do(req)
	if err != nil {
		return 0, &requestError{err}
	}
	defer resp.Body.Close()
	tr.Printf("%s %s", resp.Proto, resp.Status)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotFound:
		return resp.StatusCode, nil
	default:
		return 0, &requestError{&HTTPError{resp.StatusCode, murl}}
	}
}

func (c *Client) newClient(timeout time.Duration) *http.Client {
	transport := c.Transport
	if transport == nil {
		transport = &http.Transport{
			// Take the semi-standard proxy settings from the environment.
			Proxy: http.ProxyFromEnvironment,

			DisableKeepAlives: true,
			DialContext: (&net.Dialer{
				Timeout: timeout,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			TLSHandshakeTimeout: timeout,
		}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
