package diag

import (
	"fmt"
	"time"

	"touchdiag.com/capture"
	"touchdiag.com/driver/cts"
	"touchdiag.com/grid"
	"touchdiag.com/threshold"
)

// scope selects the restoration a session performs when it ends.
type scope int

const (
	// scopeLock only releases the device.
	scopeLock scope = iota
	// scopePosture also reapplies the attachment state.
	scopePosture
	// scopeFull also resets the device and restores the diagnostic
	// data configuration.
	scopeFull
)

// session is the exclusive use of the device by one test.
type session struct {
	t     *Tester
	p     *Param
	scope scope
	sink  *capture.Sink
	saved cts.IntData
}

func (t *Tester) begin(p *Param, sc scope) (*session, error) {
	if err := t.plat.Stop(); err != nil {
		t.log.Errorf("Stop device failed: %v", err)
		return nil, fmt.Errorf("%w: stop device: %w", ErrIO, err)
	}
	s := &session{
		t:     t,
		p:     p,
		scope: sc,
		sink:  capture.New(t.log, t.open, p.captureOptions()),
	}
	s.sink.Begin()
	t.plat.Lock()
	s.saved = t.dev.IntData()
	return s, nil
}

// end returns the device to normal operation.
func (s *session) end() {
	t := s.t
	if s.scope >= scopeFull {
		if err := t.plat.Reset(); err != nil {
			t.log.Errorf("Reset device failed: %v", err)
		}
		if err := t.dev.RestoreInterruptData(s.saved); err != nil {
			t.log.Errorf("Restore int data config failed: %v", err)
		}
		t.dev.SetTesting(false)
	}
	if s.scope >= scopePosture {
		if err := t.dev.RestorePosture(t.att); err != nil {
			t.log.Errorf("Restore posture failed: %v", err)
		}
	}
	t.plat.Unlock()
	if err := t.plat.Start(); err != nil {
		t.log.Errorf("Start device failed: %v", err)
	}
	if err := s.sink.End(); err != nil {
		t.log.Errorf("Close test data file failed: %v", err)
	}
}

// capture reads a frame, making up to attempts reads.
func (s *session) capture(w grid.Width, attempts int) (*grid.Frame, error) {
	t := s.t
	buf := make([]byte, t.dims.NumNodes()*int(w))
	var err error
	for i := range attempts {
		if i > 0 {
			t.sleep(30 * time.Millisecond)
		}
		if err = t.dev.PollTestData(buf); err == nil {
			return grid.Decode(t.dims, w, buf)
		}
		t.log.Warnf("Read test data failed, attempt %d/%d: %v", i+1, attempts, err)
	}
	return nil, fmt.Errorf("%w: read test data: %w", ErrIO, err)
}

// record stores and dumps a frame.
func (s *session) record(label string, f *grid.Frame) error {
	if err := s.sink.Store(f); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	s.sink.Dump(label, f, s.p.Invalid)
	return nil
}

// validate returns the number of failing nodes of f, or 0 if
// validation is disabled.
func (s *session) validate(desc string, f *grid.Frame) int {
	if !s.p.has(ValidateData) {
		return 0
	}
	return threshold.Validate(s.t.log, desc, f, s.p.Invalid, s.p.Thresholds)
}

// enterRaw resets the device and configures raw captures of types.
func (s *session) enterRaw(types cts.IntDataType) error {
	t := s.t
	if err := t.plat.Reset(); err != nil {
		return fmt.Errorf("%w: reset device: %w", ErrIO, err)
	}
	if err := t.dev.EnterRawMode(); err != nil {
		return err
	}
	return t.dev.SetInterruptData(types)
}

// enterDetect resets the device and configures open or short circuit
// detection captures.
func (s *session) enterDetect(det cts.Detection) error {
	t := s.t
	if err := t.plat.Reset(); err != nil {
		return fmt.Errorf("%w: reset device: %w", ErrIO, err)
	}
	if err := t.dev.EnterDetectMode(det); err != nil {
		return err
	}
	return t.dev.SetInterruptData(cts.IntDataRawdata)
}
