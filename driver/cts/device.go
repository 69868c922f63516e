// Package cts implements self-test support for chipone capacitive touch
// controllers: register access, work mode control and the board
// signals used by the diagnostics.
package cts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
)

var (
	// ErrTimeout is returned when the firmware doesn't confirm a
	// request in time.
	ErrTimeout = errors.New("cts: timeout")
	// ErrMismatch is returned when a register doesn't read back the
	// value written.
	ErrMismatch = errors.New("cts: read back mismatch")
)

// Device controls the firmware of a touch controller through its
// registers.
type Device struct {
	tr  Transport
	log *zap.SugaredLogger
	// Sleep waits between polls. It defaults to time.Sleep.
	Sleep func(time.Duration)

	intData IntData
	testing bool
}

func New(tr Transport, log *zap.SugaredLogger) *Device {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Device{
		tr:    tr,
		log:   log,
		Sleep: time.Sleep,
	}
}

// convergence describes how long to wait for a work mode change.
type convergence struct {
	settle   time.Duration
	attempts int
	interval time.Duration
	// strict aborts the wait on the first failed register read.
	strict bool
}

var (
	setConvergence     = convergence{attempts: 1000, interval: 10 * time.Millisecond, strict: true}
	defaultConvergence = convergence{attempts: 1000, interval: 10 * time.Millisecond}
	rawConvergence     = convergence{settle: 100 * time.Millisecond, attempts: 10, interval: 20 * time.Millisecond}
	detectConvergence  = convergence{settle: 150 * time.Millisecond, attempts: 30, interval: 20 * time.Millisecond}
)

func (d *Device) Transport() Transport {
	return d.tr
}

func (d *Device) ReadChipID() (byte, error) {
	return d.tr.ReadReg(regChipID)
}

func (d *Device) WorkMode() (WorkMode, error) {
	m, err := d.tr.ReadReg(regCurrWorkMode)
	return WorkMode(m), err
}

// SetWorkMode switches the firmware to mode and waits for it to
// confirm.
func (d *Device) SetWorkMode(mode WorkMode) error {
	return d.setWorkMode(mode, setConvergence)
}

func (d *Device) setWorkMode(mode WorkMode, c convergence) error {
	d.log.Infof("Set firmware work mode to %v", mode)
	if err := d.tr.WriteReg(regWorkMode, byte(mode)); err != nil {
		return fmt.Errorf("cts: set work mode: %w", err)
	}
	pwr, err := d.tr.ReadReg(regPowerMode)
	if err != nil {
		return fmt.Errorf("cts: read power mode: %w", err)
	}
	if PowerMode(pwr) == PowerGesture {
		if err := d.tr.WriteReg(regCommand, cmdQuitGestureMonitor); err != nil {
			return fmt.Errorf("cts: quit gesture monitor: %w", err)
		}
		d.Sleep(50 * time.Millisecond)
	}
	if c.settle > 0 {
		d.Sleep(c.settle)
	}
	return d.waitWorkMode(mode, c)
}

// WaitWorkMode polls the firmware until it is idle in mode.
func (d *Device) WaitWorkMode(mode WorkMode) error {
	return d.waitWorkMode(mode, defaultConvergence)
}

func (d *Device) waitWorkMode(mode WorkMode, c convergence) error {
	for range c.attempts {
		busy, err := d.tr.ReadReg(regSysBusy)
		if err != nil && c.strict {
			return fmt.Errorf("cts: read system busy: %w", err)
		}
		if err == nil && busy&sysBusy == 0 {
			cur, err := d.WorkMode()
			if err != nil && c.strict {
				return fmt.Errorf("cts: read work mode: %w", err)
			}
			if err == nil && (cur == mode || cur == ModeUntracked) {
				return nil
			}
		}
		d.Sleep(c.interval)
	}
	return fmt.Errorf("%w: waiting for work mode %v", ErrTimeout, mode)
}

// Posture is a mask of autonomous firmware features that interfere
// with measurements.
type Posture uint8

const (
	ESDProtection Posture = 1 << iota
	AutoCompensation
	MonitorMode
	BaselineNegotiation

	RawPosture    = ESDProtection | AutoCompensation | MonitorMode
	DetectPosture = RawPosture | BaselineNegotiation
)

// EnterTestPosture disables the features in p.
func (d *Device) EnterTestPosture(p Posture) error {
	if p&ESDProtection != 0 {
		if err := d.tr.WriteReg(regESDProtection, 1); err != nil {
			return fmt.Errorf("cts: disable esd protection: %w", err)
		}
	}
	if p&AutoCompensation != 0 {
		if err := d.tr.WriteReg(regAutoCompensate, 1); err != nil {
			return fmt.Errorf("cts: disable auto compensation: %w", err)
		}
	}
	if p&BaselineNegotiation != 0 {
		if err := d.tr.WriteReg(regCNEGEnable, 0); err != nil {
			return fmt.Errorf("cts: disable cneg: %w", err)
		}
	}
	if p&MonitorMode != 0 {
		v, err := d.tr.ReadReg(regMonitorMode)
		if err != nil {
			return fmt.Errorf("cts: read monitor mode: %w", err)
		}
		if err := d.tr.WriteReg(regMonitorMode, v&^0x01); err != nil {
			return fmt.Errorf("cts: disable monitor mode: %w", err)
		}
	}
	return nil
}

func (d *Device) SetPowerMode(p PowerMode) error {
	if err := d.tr.WriteReg(regPowerMode, byte(p)); err != nil {
		return fmt.Errorf("cts: set power mode: %w", err)
	}
	return nil
}

// EnterRawMode prepares the firmware for raw signal captures. The
// device must have been reset beforehand.
func (d *Device) EnterRawMode() error {
	if err := d.EnterTestPosture(RawPosture); err != nil {
		return err
	}
	if err := d.enterWorkMode(ModeNormal, rawConvergence); err != nil {
		return err
	}
	if err := d.SetPowerMode(PowerActive); err != nil {
		return err
	}
	d.testing = true
	return nil
}

// EnterDetectMode prepares the firmware for open or short circuit
// detection. The device must have been reset beforehand.
func (d *Device) EnterDetectMode(det Detection) error {
	if err := d.EnterTestPosture(DetectPosture); err != nil {
		return err
	}
	if det == DetectShort {
		if err := d.SetShortTestType(ShortUndefined); err != nil {
			return err
		}
	}
	if err := d.setOpenShortMode(det); err != nil {
		return err
	}
	if err := d.enterWorkMode(ModeOpenShortDetect, detectConvergence); err != nil {
		return err
	}
	if err := d.SetPowerMode(PowerActive); err != nil {
		return err
	}
	d.testing = true
	return nil
}

// enterWorkMode switches to mode unless the firmware is already there.
func (d *Device) enterWorkMode(mode WorkMode, c convergence) error {
	cur, err := d.WorkMode()
	if err != nil {
		return fmt.Errorf("cts: read work mode: %w", err)
	}
	if cur == mode {
		d.log.Infof("Firmware already in %v mode", mode)
		return nil
	}
	return d.setWorkMode(mode, c)
}

func (d *Device) setOpenShortMode(det Detection) error {
	if err := d.tr.WriteReg(regOpenShortMode, byte(det)); err != nil {
		return fmt.Errorf("cts: set %v detection: %w", det, err)
	}
	var got byte
	for i := range 3 {
		if i > 0 {
			d.Sleep(5 * time.Millisecond)
		}
		v, err := d.tr.ReadReg(regOpenShortMode)
		if err != nil {
			continue
		}
		if got = v; Detection(v) == det {
			return nil
		}
	}
	return fmt.Errorf("%w: %v detection reads back %d", ErrMismatch, det, got)
}

// SetShortTestType selects the short circuit probe pattern.
func (d *Device) SetShortTestType(t ShortType) error {
	var got ShortType
	for range 5 {
		var param [shortTestParamSize]byte
		param[0] = byte(t)
		if err := d.tr.WriteBlock(regShortTest, param[:]); err != nil {
			return fmt.Errorf("cts: set short test type: %w", err)
		}
		if err := d.tr.ReadBlock(regShortTest, param[:]); err != nil {
			continue
		}
		if got = ShortType(param[0]); got == t {
			return nil
		}
	}
	return fmt.Errorf("%w: short test type %d reads back %d", ErrMismatch, t, got)
}

// IntData returns the last diagnostic data configuration written.
func (d *Device) IntData() IntData {
	return d.intData
}

// SetInterruptData routes the diagnostic data types to polling. The
// delivery method is disabled while the types change.
func (d *Device) SetInterruptData(types IntDataType) error {
	return d.writeIntData(IntData{Method: IntDataMethodPolling, Types: types})
}

// RestoreInterruptData reinstates a configuration returned by IntData.
func (d *Device) RestoreInterruptData(saved IntData) error {
	return d.writeIntData(saved)
}

func (d *Device) writeIntData(cfg IntData) error {
	if err := d.tr.WriteReg(regIntDataMethod, byte(IntDataMethodNone)); err != nil {
		return fmt.Errorf("cts: set int data method: %w", err)
	}
	d.intData.Method = IntDataMethodNone
	var types [2]byte
	binary.LittleEndian.PutUint16(types[:], uint16(cfg.Types))
	if err := d.tr.WriteBlock(regIntDataTypes, types[:]); err != nil {
		return fmt.Errorf("cts: set int data types: %w", err)
	}
	d.intData.Types = cfg.Types
	if cfg.Method == IntDataMethodNone {
		return nil
	}
	if err := d.tr.WriteReg(regIntDataMethod, byte(cfg.Method)); err != nil {
		return fmt.Errorf("cts: set int data method: %w", err)
	}
	d.intData.Method = cfg.Method
	return nil
}

// PollTestData waits for the firmware to publish a capture and reads
// it into b.
func (d *Device) PollTestData(b []byte) error {
	for range 100 {
		ready, err := d.tr.ReadReg(regDataReady)
		if err != nil {
			return fmt.Errorf("cts: read data ready: %w", err)
		}
		if ready != 0 {
			if err := d.tr.ReadBlock(regTestData, b); err != nil {
				return fmt.Errorf("cts: read test data: %w", err)
			}
			if err := d.tr.WriteReg(regDataReady, 0); err != nil {
				return fmt.Errorf("cts: clear data ready: %w", err)
			}
			return nil
		}
		d.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("%w: waiting for test data", ErrTimeout)
}

// SetIntTest enables or disables interrupt pin test mode, where the
// firmware drives the pin on request.
func (d *Device) SetIntTest(enable bool) error {
	v := byte(0)
	if enable {
		v = 1
	}
	if err := d.tr.WriteReg(regIntTest, v); err != nil {
		return fmt.Errorf("cts: set int test: %w", err)
	}
	return nil
}

// ForceIntPin asks the firmware to drive the interrupt pin to l.
func (d *Device) ForceIntPin(l gpio.Level) error {
	v := byte(0)
	if l == gpio.High {
		v = 1
	}
	if err := d.tr.WriteReg(regIntPin, v); err != nil {
		return fmt.Errorf("cts: set int pin %v: %w", l, err)
	}
	return nil
}

// Testing reports whether the firmware is in a test mode.
func (d *Device) Testing() bool {
	return d.testing
}

func (d *Device) SetTesting(t bool) {
	d.testing = t
}
