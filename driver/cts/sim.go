package cts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// CaptureKind is the kind of frame a Simulator publishes.
type CaptureKind int

const (
	CaptureRaw CaptureKind = iota
	CaptureCNEG
	CaptureOpen
	CaptureShortCols
	CaptureShortRows
	CaptureShortGND
)

func (k CaptureKind) String() string {
	switch k {
	case CaptureRaw:
		return "raw"
	case CaptureCNEG:
		return "cneg"
	case CaptureOpen:
		return "open"
	case CaptureShortCols:
		return "short-cols"
	case CaptureShortRows:
		return "short-rows"
	case CaptureShortGND:
		return "short-gnd"
	default:
		return fmt.Sprintf("CaptureKind(%d)", int(k))
	}
}

// Capture identifies a frame requested from a Simulator. Seq counts
// the captures of the same kind, starting at 0.
type Capture struct {
	Kind CaptureKind
	Seq  int
}

var errSimFault = errors.New("cts: simulated fault")

// Simulator is an in-memory controller. It implements Transport,
// Platform and Attachment.
type Simulator struct {
	Rows, Cols int
	// Frame returns the firmware-layout samples of a capture. Samples
	// of CNEG captures are truncated to bytes. If Frame is nil or
	// returns nil, frames are uniform.
	Frame func(c Capture) []uint16
	// ModeLatency is the number of polls before a work mode change
	// lands.
	ModeLatency int
	// Fail, if set, is consulted on every register access.
	Fail func(addr uint32, write bool) error
	// FailPolls fails the next data ready polls.
	FailPolls int
	// StuckReset keeps the controller responsive while held in reset.
	StuckReset bool
	// StuckIntPin keeps the interrupt pin high.
	StuckIntPin bool
	// StopErr is returned by Stop.
	StopErr error

	// Attachment state.
	Charger, Earjack, Glove, FWLog bool
	AttachErr                      error
	Reapplied                      []string

	// Counters.
	Stops, Starts, Locks, Unlocks, Resets int
	Captures                              []Capture
	Accesses                              int

	devLock sync.Mutex

	mu        sync.Mutex
	regs      map[uint32]byte
	target    WorkMode
	pending   int
	resetLine gpio.Level
	ready     bool
	data      []byte
	seq       map[CaptureKind]int
}

func NewSimulator(rows, cols int) *Simulator {
	s := &Simulator{
		Rows:      rows,
		Cols:      cols,
		resetLine: gpio.High,
		seq:       make(map[CaptureKind]int),
	}
	s.reboot()
	return s
}

func defaultSample(k CaptureKind) uint16 {
	switch k {
	case CaptureCNEG:
		return 60
	case CaptureOpen:
		return 2000
	case CaptureShortCols, CaptureShortRows, CaptureShortGND:
		return 3000
	default:
		return 1500
	}
}

func (s *Simulator) reboot() {
	s.regs = map[uint32]byte{
		regChipID:       ChipID,
		regMonitorMode:  0x01,
		regCNEGEnable:   1,
		regWorkMode:     byte(ModeNormal),
		regCurrWorkMode: byte(ModeNormal),
	}
	s.target = ModeNormal
	s.pending = 0
	s.ready = false
}

// Reg returns the raw value of a register.
func (s *Simulator) Reg(addr uint32) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[addr]
}

func (s *Simulator) access(addr uint32, write bool) error {
	s.Accesses++
	if s.Fail != nil {
		if err := s.Fail(addr, write); err != nil {
			return err
		}
	}
	if s.resetLine == gpio.Low && !s.StuckReset {
		return fmt.Errorf("%w: held in reset", errSimFault)
	}
	return nil
}

func (s *Simulator) ReadReg(addr uint32) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.access(addr, false); err != nil {
		return 0, err
	}
	if addr == regDataReady && s.FailPolls > 0 {
		s.FailPolls--
		return 0, fmt.Errorf("%w: data ready poll", errSimFault)
	}
	return s.readReg(addr), nil
}

func (s *Simulator) readReg(addr uint32) byte {
	switch addr {
	case regSysBusy:
		if s.pending > 0 {
			s.pending--
			return sysBusy
		}
		return 0
	case regCurrWorkMode:
		if s.pending > 0 {
			return s.regs[regCurrWorkMode]
		}
		s.regs[regCurrWorkMode] = byte(s.target)
		return byte(s.target)
	case regDataReady:
		if !s.ready && s.publish() {
			s.ready = true
		}
		if s.ready {
			return 1
		}
		return 0
	}
	return s.regs[addr]
}

func (s *Simulator) WriteReg(addr uint32, v byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.access(addr, true); err != nil {
		return err
	}
	s.writeReg(addr, v)
	return nil
}

func (s *Simulator) writeReg(addr uint32, v byte) {
	switch addr {
	case regWorkMode:
		s.target = WorkMode(v)
		s.pending = s.ModeLatency
	case regDataReady:
		if v == 0 {
			s.ready = false
		}
	case regCommand:
		if v == cmdQuitGestureMonitor {
			s.regs[regPowerMode] = byte(PowerActive)
		}
		return
	}
	s.regs[addr] = v
}

func (s *Simulator) ReadBlock(addr uint32, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.access(addr, false); err != nil {
		return err
	}
	if addr == regTestData {
		if !s.ready {
			return fmt.Errorf("%w: no test data", errSimFault)
		}
		copy(b, s.data)
		return nil
	}
	for i := range b {
		b[i] = s.readReg(addr + uint32(i))
	}
	return nil
}

func (s *Simulator) WriteBlock(addr uint32, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.access(addr, true); err != nil {
		return err
	}
	for i, v := range b {
		s.writeReg(addr+uint32(i), v)
	}
	return nil
}

// publish prepares the next capture, if the firmware is configured to
// deliver one.
func (s *Simulator) publish() bool {
	if IntDataMethod(s.regs[regIntDataMethod]) != IntDataMethodPolling || s.pending > 0 {
		return false
	}
	types := IntDataType(binary.LittleEndian.Uint16([]byte{s.regs[regIntDataTypes], s.regs[regIntDataTypes+1]}))
	var kind CaptureKind
	switch {
	case types&IntDataCNEGdata != 0:
		kind = CaptureCNEG
	case types&IntDataRawdata == 0:
		return false
	case s.target != ModeOpenShortDetect:
		kind = CaptureRaw
	case Detection(s.regs[regOpenShortMode]) == DetectOpen:
		kind = CaptureOpen
	default:
		switch ShortType(s.regs[regShortTest]) {
		case ShortBetweenCols:
			kind = CaptureShortCols
		case ShortBetweenRows:
			kind = CaptureShortRows
		case ShortToGND:
			kind = CaptureShortGND
		default:
			return false
		}
	}
	c := Capture{Kind: kind, Seq: s.seq[kind]}
	s.seq[kind]++
	s.Captures = append(s.Captures, c)
	n := s.Rows * s.Cols
	var samples []uint16
	if s.Frame != nil {
		samples = s.Frame(c)
	}
	if samples == nil {
		samples = make([]uint16, n)
		for i := range samples {
			samples[i] = defaultSample(kind)
		}
	}
	if kind == CaptureCNEG {
		s.data = make([]byte, n)
		for i := range min(n, len(samples)) {
			s.data[i] = byte(samples[i])
		}
	} else {
		s.data = make([]byte, 2*n)
		for i := range min(n, len(samples)) {
			binary.LittleEndian.PutUint16(s.data[2*i:], samples[i])
		}
	}
	return true
}

func (s *Simulator) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StopErr != nil {
		return s.StopErr
	}
	s.Stops++
	return nil
}

func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Starts++
	return nil
}

func (s *Simulator) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Resets++
	s.resetLine = gpio.High
	s.reboot()
	return nil
}

func (s *Simulator) Lock() {
	s.devLock.Lock()
	s.mu.Lock()
	s.Locks++
	s.mu.Unlock()
}

func (s *Simulator) Unlock() {
	s.mu.Lock()
	s.Unlocks++
	s.mu.Unlock()
	s.devLock.Unlock()
}

func (s *Simulator) Reachable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.access(regChipID, false) != nil {
		return false
	}
	return s.regs[regChipID] == ChipID
}

func (s *Simulator) SetResetLine(l gpio.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetLine == gpio.Low && l == gpio.High {
		s.reboot()
	}
	s.resetLine = l
	return nil
}

// IntTestEnabled reports whether interrupt pin test mode is on.
func (s *Simulator) IntTestEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[regIntTest] != 0
}

func (s *Simulator) IntPin() gpio.Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StuckIntPin || s.regs[regIntTest] == 0 {
		return gpio.High
	}
	return s.regs[regIntPin] != 0
}

func (s *Simulator) ChargerAttached() bool { return s.Charger }
func (s *Simulator) EarjackAttached() bool { return s.Earjack }
func (s *Simulator) GloveEnabled() bool    { return s.Glove }
func (s *Simulator) FWLogRedirect() bool   { return s.FWLog }

func (s *Simulator) SetChargerAttached(bool) error { return s.reapply("charger") }
func (s *Simulator) SetEarjackAttached(bool) error { return s.reapply("earjack") }
func (s *Simulator) EnterGloveMode() error         { return s.reapply("glove") }
func (s *Simulator) EnableFWLogRedirect() error    { return s.reapply("fwlog") }

func (s *Simulator) reapply(what string) error {
	s.Reapplied = append(s.Reapplied, what)
	return s.AttachErr
}
