// Package checks runs probes by name, either one at a time or in batches
// loaded from a YAML file.
package checks

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"blitiri.com.ar/go/netprobe/internal/dnsprobe"
	"blitiri.com.ar/go/netprobe/internal/httpprobe"
	"blitiri.com.ar/go/netprobe/internal/portprobe"
	"blitiri.com.ar/go/netprobe/internal/probe"
	"blitiri.com.ar/go/netprobe/internal/registry"
)

var (
	// ErrUnknownType is returned for checks of a type we don't know.
	ErrUnknownType = errors.New("unknown check type")

	errMissingField = errors.New("missing required field")
)

// Check is a single probe call, with its input.
// Exactly one of the inputs is set, according to Type.
type Check struct {
	Name string
	Type string

	DNS   *dnsprobe.Input
	Port  *portprobe.Input
	HTTP  *httpprobe.Input
	Image *registry.Input
}

// New builds a check of the given type. The decode function is used to fill
// in the input for the probe, it is usually a json or yaml decoder.
func New(name, typ string, decode func(v interface{}) error) (Check, error) {
	c := Check{Name: name, Type: typ}

	var in interface{}
	switch typ {
	case probe.DNS:
		c.DNS = &dnsprobe.Input{}
		in = c.DNS
	case probe.Port:
		c.Port = &portprobe.Input{}
		in = c.Port
	case probe.HTTP:
		c.HTTP = &httpprobe.Input{}
		in = c.HTTP
	case probe.Image:
		c.Image = &registry.Input{}
		in = c.Image
	default:
		return c, fmt.Errorf("%q: %w", typ, ErrUnknownType)
	}

	if err := decode(in); err != nil {
		return c, err
	}

	if err := c.validate(); err != nil {
		return c, err
	}

	if c.Name == "" {
		c.Name = c.Target()
	}
	return c, nil
}

func (c Check) validate() error {
	switch {
	case c.DNS != nil && c.DNS.Domain == "":
		return fmt.Errorf("%w: domain", errMissingField)
	case c.Port != nil && c.Port.Host == "":
		return fmt.Errorf("%w: host", errMissingField)
	case c.Port != nil && c.Port.Port == 0:
		return fmt.Errorf("%w: port", errMissingField)
	case c.HTTP != nil && c.HTTP.URL == "":
		return fmt.Errorf("%w: url", errMissingField)
	case c.Image != nil && c.Image.ImageName == "":
		return fmt.Errorf("%w: image_name", errMissingField)
	}
	return nil
}

// Target returns a short description of what the check looks at.
func (c Check) Target() string {
	switch {
	case c.DNS != nil:
		return c.DNS.Domain
	case c.Port != nil:
		return fmt.Sprintf("%s:%d", c.Port.Host, c.Port.Port)
	case c.HTTP != nil:
		return c.HTTP.URL
	case c.Image != nil:
		return c.Image.ImageName
	}
	return ""
}

// UnmarshalYAML decodes a check from a YAML mapping, which has the name and
// type of the check, plus the fields of the probe's input.
func (c *Check) UnmarshalYAML(value *yaml.Node) error {
	var hdr struct {
		Name string `yaml:"name"`
		Type string `yaml:"type"`
	}
	if err := value.Decode(&hdr); err != nil {
		return err
	}

	nc, err := New(hdr.Name, hdr.Type, value.Decode)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*c = nc
	return nil
}

// File is the top level of a checks file.
type File struct {
	Checks []Check `yaml:"checks"`
}

// Load the checks from the given YAML file.
func Load(path string) ([]Check, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	f := File{}
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f.Checks, nil
}

// Outcome of running a check.
type Outcome struct {
	Name    string      `json:"name"`
	Type    string      `json:"type"`
	Success bool        `json:"success"`
	Result  interface{} `json:"result"`
}

// Runner runs checks.
type Runner struct {
	DNS      *dnsprobe.Prober
	Registry *registry.Client
}

// NewRunner returns a Runner using the default probes.
func NewRunner() *Runner {
	return &Runner{
		DNS:      dnsprobe.New(),
		Registry: registry.New(),
	}
}

// Run a single check. It blocks until the probe completes.
func (r *Runner) Run(ctx context.Context, c Check) Outcome {
	o := Outcome{Name: c.Name, Type: c.Type}

	switch {
	case c.DNS != nil:
		res := r.DNS.Check(ctx, *c.DNS)
		o.Success, o.Result = res.Success, res
	case c.Port != nil:
		res := portprobe.Check(ctx, *c.Port)
		o.Success, o.Result = res.Success, res
	case c.HTTP != nil:
		res := httpprobe.Check(ctx, *c.HTTP)
		o.Success, o.Result = res.Success, res
	case c.Image != nil:
		res := r.Registry.Check(ctx, *c.Image)
		o.Success, o.Result = res.Success, res
	}

	return o
}

// Go runs the check on its own goroutine, and returns a channel over which
// the outcome will be delivered.
func (r *Runner) Go(ctx context.Context, c Check) <-chan Outcome {
	return probe.Go(func() Outcome {
		return r.Run(ctx, c)
	})
}

// RunAll runs the given checks, at most parallel at a time, and returns their
// outcomes in the same order.
func (r *Runner) RunAll(ctx context.Context, checks []Check, parallel int) []Outcome {
	if parallel < 1 {
		parallel = 1
	}
	sem := make(chan struct{}, parallel)

	futures := make([]<-chan Outcome, 0, len(checks))
	for _, c := range checks {
		c := c
		futures = append(futures, probe.Go(func() Outcome {
			sem <- struct{}{}
			defer func() { <-sem }()
			return r.Run(ctx, c)
		}))
	}

	outcomes := make([]Outcome, 0, len(checks))
	for _, f := range futures {
		outcomes = append(outcomes, <-f)
	}
	return outcomes
}
