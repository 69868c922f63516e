// Package config loads the self-test plan run by ctsdiag.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"touchdiag.com/diag"
	"touchdiag.com/driver/cts"
	"touchdiag.com/grid"
	"touchdiag.com/threshold"
)

// defaultFrames is the number of frames captured by the rawdata and
// noise tests unless configured.
const defaultFrames = 3

type Config struct {
	Device Device `yaml:"device"`
	// InvalidNodes are excluded from validation and statistics. They
	// are in displayed coordinates.
	InvalidNodes []Node `yaml:"invalid_nodes,omitempty"`
	// Stream is the path of the capture stream shared by the tests
	// dumping to it.
	Stream string `yaml:"stream,omitempty"`
	Append bool   `yaml:"append,omitempty"`
	// FalsePositive overrides the open test recapture signature.
	FalsePositive *ZeroResidue `yaml:"false_positive,omitempty"`
	Tests         []Test       `yaml:"tests"`
}

type Device struct {
	Bus        string `yaml:"bus,omitempty"`
	Addr       uint16 `yaml:"addr,omitempty"`
	ResetPin   string `yaml:"reset_pin,omitempty"`
	IntPin     string `yaml:"int_pin,omitempty"`
	Rows       int    `yaml:"rows"`
	Cols       int    `yaml:"cols"`
	Transposed bool   `yaml:"transposed,omitempty"`
}

type Node struct {
	Row int `yaml:"row"`
	Col int `yaml:"col"`
}

// ZeroResidue configures diag.ZeroResidue. A zero modulus disables
// recapturing.
type ZeroResidue struct {
	Modulus    int   `yaml:"modulus"`
	Remainders []int `yaml:"remainders"`
}

type Test struct {
	Name   string `yaml:"name"`
	Frames int    `yaml:"frames,omitempty"`
	Min    *int   `yaml:"min,omitempty"`
	Max    *int   `yaml:"max,omitempty"`
	// PerNodeMin and PerNodeMax hold a limit per node in firmware
	// order and take precedence over Min and Max.
	PerNodeMin    []int `yaml:"per_node_min,omitempty"`
	PerNodeMax    []int `yaml:"per_node_max,omitempty"`
	StopOnFailure bool  `yaml:"stop_on_failure,omitempty"`
	Console       bool  `yaml:"console,omitempty"`
	Stream        bool  `yaml:"stream,omitempty"`
	// Extremes also dumps the noise maximum and minimum frames.
	Extremes bool `yaml:"extremes,omitempty"`
}

// Load reads and validates the plan at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(path, b)
}

// Parse decodes and validates a plan. Unknown fields are errors.
func Parse(path string, b []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	c := new(Config)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := c.Validate(path); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate(path string) error {
	d := c.Dims()
	if !d.Valid() {
		return fmt.Errorf("%s: device: invalid %dx%d grid", path, c.Device.Rows, c.Device.Cols)
	}
	// Invalid nodes are in displayed coordinates.
	rows, cols := d.Displayed()
	for i, n := range c.InvalidNodes {
		if n.Row < 0 || n.Row >= rows || n.Col < 0 || n.Col >= cols {
			return fmt.Errorf("%s: invalid_nodes[%d]: [%d][%d] outside the displayed %dx%d grid", path, i, n.Row, n.Col, rows, cols)
		}
	}
	if len(c.Tests) == 0 {
		return fmt.Errorf("%s: tests: no tests", path)
	}
	for i, t := range c.Tests {
		if _, err := diag.ParseKind(t.Name); err != nil {
			return fmt.Errorf("%s: tests[%d]: %w", path, i, err)
		}
		if t.Frames < 0 {
			return fmt.Errorf("%s: tests[%d]: negative frames", path, i)
		}
		if t.Stream && c.Stream == "" {
			return fmt.Errorf("%s: tests[%d]: stream dump without a stream path", path, i)
		}
		if th := t.thresholds(); th != nil {
			if err := th.Check(d.NumNodes()); err != nil {
				return fmt.Errorf("%s: tests[%d]: %w", path, i, err)
			}
		}
	}
	return nil
}

// Dims returns the firmware dimensions of the sensor.
func (c *Config) Dims() grid.Dims {
	d := grid.Dims{Rows: c.Device.Rows, Cols: c.Device.Cols}
	if c.Device.Transposed {
		d.Orientation = grid.Transposed
	}
	return d
}

// Addr returns the configured bus address, or the controller default.
func (c *Config) Addr() uint16 {
	if c.Device.Addr == 0 {
		return cts.DefaultAddr
	}
	return c.Device.Addr
}

func (c *Config) Invalid() grid.NodeSet {
	var s grid.NodeSet
	for _, n := range c.InvalidNodes {
		s.Add(n.Row, n.Col)
	}
	return s
}

// FalsePositiveFunc returns the open test recapture predicate.
func (c *Config) FalsePositiveFunc() diag.FalsePositive {
	if c.FalsePositive == nil {
		return diag.DefaultZeroResidue.Match
	}
	if c.FalsePositive.Modulus == 0 {
		return nil
	}
	return diag.ZeroResidue{
		Modulus:    c.FalsePositive.Modulus,
		Remainders: c.FalsePositive.Remainders,
	}.Match
}

// Param returns the kind and parameters of the i'th test.
func (c *Config) Param(i int) (diag.Kind, *diag.Param, error) {
	t := c.Tests[i]
	kind, err := diag.ParseKind(t.Name)
	if err != nil {
		return 0, nil, err
	}
	p := &diag.Param{
		Invalid: c.Invalid(),
		Frames:  t.Frames,
	}
	if p.Frames == 0 {
		p.Frames = defaultFrames
	}
	if th := t.thresholds(); th != nil {
		p.Flags |= diag.ValidateData
		p.Thresholds = th
	}
	if t.StopOnFailure {
		p.Flags |= diag.StopOnFailure
	}
	if t.Console {
		p.Flags |= diag.DumpToConsole
	}
	if t.Extremes {
		p.Flags |= diag.DumpNoiseExtremes
	}
	if t.Stream {
		p.Flags |= diag.DumpToStream
		p.StreamPath = c.Stream
		// Tests after the first append to the stream of the run.
		if c.Append || c.streamedBefore(i) {
			p.Flags |= diag.AppendStream
		}
	}
	return kind, p, nil
}

func (c *Config) streamedBefore(i int) bool {
	for _, t := range c.Tests[:i] {
		if t.Stream {
			return true
		}
	}
	return false
}

func (t Test) thresholds() threshold.Thresholds {
	if t.PerNodeMin != nil || t.PerNodeMax != nil {
		return threshold.PerNode{Min: t.PerNodeMin, Max: t.PerNodeMax}
	}
	if t.Min == nil && t.Max == nil {
		return nil
	}
	var u threshold.Uniform
	if t.Min != nil {
		u.Min = threshold.Limit(*t.Min)
	}
	if t.Max != nil {
		u.Max = threshold.Limit(*t.Max)
	}
	return u
}
