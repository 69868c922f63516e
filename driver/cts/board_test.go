package cts

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

// levelRecorder records the levels driven on a pin.
type levelRecorder struct {
	gpiotest.Pin
	levels []gpio.Level
}

func (p *levelRecorder) Out(l gpio.Level) error {
	p.levels = append(p.levels, l)
	return p.Pin.Out(l)
}

func newTestBoard(t *testing.T, bus *i2ctest.Playback) (*Board, *levelRecorder, *gpiotest.Pin) {
	rst := &levelRecorder{Pin: gpiotest.Pin{N: "RST", Num: 17}}
	irq := &gpiotest.Pin{N: "INT", Num: 27, EdgesChan: make(chan gpio.Level, 1)}
	dev := New(NewI2C(bus, DefaultAddr), nil)
	b, err := NewBoard(dev, rst, irq)
	if err != nil {
		t.Fatal(err)
	}
	b.Sleep = func(time.Duration) {}
	return b, rst, irq
}

func TestBoardReset(t *testing.T) {
	b, rst, _ := newTestBoard(t, &i2ctest.Playback{})
	b.dev.SetTesting(true)
	rst.levels = nil
	if err := b.Reset(); err != nil {
		t.Fatal(err)
	}
	if len(rst.levels) != 2 || rst.levels[0] != gpio.Low || rst.levels[1] != gpio.High {
		t.Errorf("reset drove %v, want [Low High]", rst.levels)
	}
	if b.dev.Testing() {
		t.Error("device still testing after reset")
	}
	if err := b.SetResetLine(gpio.Low); err != nil {
		t.Fatal(err)
	}
	if rst.Read() != gpio.Low {
		t.Error("reset line not low")
	}
}

func TestBoardReachable(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: DefaultAddr, W: []byte{0x00, 0x0a}, R: []byte{ChipID}},
			{Addr: DefaultAddr, W: []byte{0x00, 0x0a}, R: []byte{0xff}},
		},
		DontPanic: true,
	}
	b, _, _ := newTestBoard(t, bus)
	if !b.Reachable() {
		t.Error("responsive controller unreachable")
	}
	if b.Reachable() {
		t.Error("controller with wrong chip id reachable")
	}
	// The bus has no more transactions.
	if b.Reachable() {
		t.Error("silent controller reachable")
	}
}

func TestBoardStopStart(t *testing.T) {
	b, _, irq := newTestBoard(t, &i2ctest.Playback{})
	if err := b.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := b.Stop(); !errors.Is(err, ErrStopped) {
		t.Errorf("second stop returned %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	if err := b.Stop(); err != nil {
		t.Errorf("stop after start: %v", err)
	}
	irq.Out(gpio.Low)
	if b.IntPin() != gpio.Low {
		t.Error("interrupt pin level not reported")
	}
}
