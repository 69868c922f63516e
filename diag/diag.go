// Package diag runs the manufacturing self-tests of a touch controller.
//
// Each test takes exclusive control of the device for its duration,
// puts the firmware into the required measurement mode, captures and
// validates frames, and returns the device to normal operation on every
// exit path.
package diag

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"touchdiag.com/capture"
	"touchdiag.com/driver/cts"
	"touchdiag.com/grid"
	"touchdiag.com/threshold"
)

var (
	ErrInvalidArgument = errors.New("diag: invalid argument")
	ErrIO              = errors.New("diag: i/o error")
	ErrPinLevel        = errors.New("diag: pin level mismatch")
)

// errno-style codes reported by Result.Code.
const (
	codeIO      = -5
	codeFault   = -14
	codeInvalid = -22
	codeTimeout = -110
)

// Kind identifies a self-test.
type Kind int

const (
	ResetPin Kind = iota
	IntPin
	Rawdata
	Noise
	Open
	Short
	CompensateCap
)

var kindNames = [...]string{
	ResetPin:      "Reset-Pin",
	IntPin:        "Int-Pin",
	Rawdata:       "Rawdata",
	Noise:         "Noise",
	Open:          "Open",
	Short:         "Short",
	CompensateCap: "Compensate-Cap",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Kinds lists every test in the order a full run executes them.
func Kinds() []Kind {
	return []Kind{ResetPin, IntPin, Rawdata, Noise, Open, Short, CompensateCap}
}

// ParseKind parses a test name, ignoring case.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown test %q", ErrInvalidArgument, s)
}

// Flags select optional test behaviour.
type Flags uint32

const (
	// ValidateData validates frames against the thresholds.
	ValidateData Flags = 1 << iota
	// StopOnFailure ends a test at the first failing frame.
	StopOnFailure
	DumpToBuffer
	DumpToConsole
	DumpToStream
	// AppendStream appends to an existing capture stream.
	AppendStream
	// DumpNoiseExtremes also dumps the per-node maximum and minimum
	// of the noise test.
	DumpNoiseExtremes
)

// Param configures a single test run.
type Param struct {
	Flags      Flags
	Thresholds threshold.Thresholds
	Invalid    grid.NodeSet
	// Buffer receives the captured frames with DumpToBuffer.
	Buffer []byte
	// StreamPath names the capture stream with DumpToStream.
	StreamPath string
	// Frames is the number of frames captured by the rawdata and
	// noise tests.
	Frames int
}

func (p *Param) has(f Flags) bool {
	return p.Flags&f != 0
}

func (p *Param) captureOptions() capture.Options {
	opts := capture.Options{Console: p.has(DumpToConsole)}
	if p.has(DumpToStream) {
		opts.StreamPath = p.StreamPath
		opts.Append = p.has(AppendStream)
	}
	if p.has(DumpToBuffer) {
		opts.Buffer = p.Buffer
	}
	return opts
}

// Result is the outcome of a test. A test failed hard if Err is set,
// failed validation if Failed is positive and passed otherwise.
type Result struct {
	// Failed counts failing nodes, or failing frames for the rawdata
	// test.
	Failed int
	Err    error
	// Written is the number of bytes stored in the caller buffer.
	Written int
	Elapsed time.Duration
}

func (r Result) Passed() bool {
	return r.Err == nil && r.Failed == 0
}

// Code returns a negative errno for hard errors, the failure count
// otherwise.
func (r Result) Code() int {
	switch {
	case r.Err == nil:
		return r.Failed
	case errors.Is(r.Err, ErrInvalidArgument), errors.Is(r.Err, cts.ErrMismatch):
		return codeInvalid
	case errors.Is(r.Err, cts.ErrTimeout):
		return codeTimeout
	case errors.Is(r.Err, ErrPinLevel):
		return codeFault
	default:
		return codeIO
	}
}

func (r Result) String() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("FAIL %d(%v)", r.Code(), r.Err)
	case r.Failed > 0:
		return fmt.Sprintf("has %d FAIL", r.Failed)
	default:
		return "PASS"
	}
}

// Tester runs self-tests against a device.
type Tester struct {
	dev   *cts.Device
	plat  cts.Platform
	dims  grid.Dims
	log   *zap.SugaredLogger
	att   cts.Attachment
	open  capture.Opener
	fp    FalsePositive
	sleep func(time.Duration)
	now   func() time.Time
}

type Option func(t *Tester)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(t *Tester) { t.log = log }
}

func WithAttachment(att cts.Attachment) Option {
	return func(t *Tester) { t.att = att }
}

// WithOpener sets the opener of capture streams. The default opens
// files.
func WithOpener(o capture.Opener) Option {
	return func(t *Tester) { t.open = o }
}

// WithFalsePositive sets the predicate deciding whether a failing
// open-circuit frame is recaptured. Nil disables recapturing.
func WithFalsePositive(fp FalsePositive) Option {
	return func(t *Tester) { t.fp = fp }
}

func WithSleep(sleep func(time.Duration)) Option {
	return func(t *Tester) { t.sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tester) { t.now = now }
}

// New returns a Tester for the device with the given firmware
// dimensions.
func New(dev *cts.Device, plat cts.Platform, dims grid.Dims, opts ...Option) *Tester {
	t := &Tester{
		dev:   dev,
		plat:  plat,
		dims:  dims,
		log:   zap.NewNop().Sugar(),
		att:   cts.NoAttachment{},
		open:  capture.FileOpener{},
		fp:    DefaultZeroResidue.Match,
		sleep: time.Sleep,
		now:   time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tester) ResetPin(p *Param) Result      { return t.Run(ResetPin, p) }
func (t *Tester) IntPin(p *Param) Result        { return t.Run(IntPin, p) }
func (t *Tester) Rawdata(p *Param) Result       { return t.Run(Rawdata, p) }
func (t *Tester) Noise(p *Param) Result         { return t.Run(Noise, p) }
func (t *Tester) Open(p *Param) Result          { return t.Run(Open, p) }
func (t *Tester) Short(p *Param) Result         { return t.Run(Short, p) }
func (t *Tester) CompensateCap(p *Param) Result { return t.Run(CompensateCap, p) }

// Run executes the test of the given kind.
func (t *Tester) Run(kind Kind, p *Param) Result {
	start := t.now()
	res := t.run(kind, p)
	if res.Err != nil {
		res.Failed = 0
	}
	res.Elapsed = t.now().Sub(start)
	ms := res.Elapsed.Milliseconds()
	switch {
	case res.Err != nil:
		t.log.Errorf("%v test FAIL %d(%v), ELAPSED TIME: %dms", kind, res.Code(), res.Err, ms)
	case res.Failed > 0:
		t.log.Infof("%v test has %d FAIL, ELAPSED TIME: %dms", kind, res.Failed, ms)
	default:
		t.log.Infof("%v test PASS, ELAPSED TIME: %dms", kind, ms)
	}
	return res
}

func (t *Tester) run(kind Kind, p *Param) Result {
	if p == nil {
		return Result{Err: fmt.Errorf("%w: missing parameters", ErrInvalidArgument)}
	}
	t.log.Infof("%v test, flags: %#08x, invalid nodes: %d, stream: '%s', buffer: %d",
		kind, uint32(p.Flags), p.Invalid.Len(), p.StreamPath, len(p.Buffer))
	if err := t.check(kind, p); err != nil {
		return Result{Err: err}
	}
	var body func(s *session) (int, error)
	sc := scopeFull
	switch kind {
	case ResetPin:
		body, sc = t.resetPin, scopePosture
	case IntPin:
		body, sc = t.intPin, scopeLock
	case Rawdata:
		body = t.rawdata
	case Noise:
		body = t.noise
	case Open:
		body = t.openCircuit
	case Short:
		body = t.shortCircuit
	case CompensateCap:
		body = t.compensateCap
	default:
		return Result{Err: fmt.Errorf("%w: unknown test %v", ErrInvalidArgument, kind)}
	}
	s, err := t.begin(p, sc)
	if err != nil {
		return Result{Err: err}
	}
	failed, err := func() (int, error) {
		defer s.end()
		return body(s)
	}()
	return Result{Failed: failed, Err: err, Written: s.sink.Written()}
}

// check validates p before the device is touched.
func (t *Tester) check(kind Kind, p *Param) error {
	if !t.dims.Valid() {
		return fmt.Errorf("%w: %dx%d grid", ErrInvalidArgument, t.dims.Rows, t.dims.Cols)
	}
	switch kind {
	case Rawdata:
		if p.Frames < 1 {
			return fmt.Errorf("%w: %d frames", ErrInvalidArgument, p.Frames)
		}
	case Noise:
		if p.Frames < 2 {
			return fmt.Errorf("%w: noise needs at least 2 frames, got %d", ErrInvalidArgument, p.Frames)
		}
	}
	if p.has(ValidateData) && p.Thresholds != nil {
		if err := p.Thresholds.Check(t.dims.NumNodes()); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}
	if p.has(DumpToBuffer) {
		if need := t.outputSize(kind, p); len(p.Buffer) < need {
			return fmt.Errorf("%w: buffer holds %d bytes, need %d", ErrInvalidArgument, len(p.Buffer), need)
		}
	}
	if p.has(DumpToStream) && p.StreamPath == "" {
		return fmt.Errorf("%w: missing capture stream path", ErrInvalidArgument)
	}
	return nil
}

// outputSize returns the number of bytes a test stores in the caller
// buffer.
func (t *Tester) outputSize(kind Kind, p *Param) int {
	frame := t.dims.NumNodes() * int(grid.Word)
	switch kind {
	case Rawdata:
		return p.Frames * frame
	case Noise:
		if p.has(DumpNoiseExtremes) {
			return 3 * frame
		}
		return frame
	case Open:
		return frame
	case Short:
		return shortFrames * frame
	case CompensateCap:
		return t.dims.NumNodes() * int(grid.Byte)
	default:
		return 0
	}
}
