package diag

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"touchdiag.com/driver/cts"
)

// resetPin checks that the controller goes offline while its reset
// line is held low and returns once released. Both phases always run.
func (t *Tester) resetPin(s *session) (int, error) {
	var err error
	if e := t.plat.SetResetLine(gpio.Low); e != nil {
		t.log.Errorf("Set reset line low failed: %v", e)
	}
	t.sleep(50 * time.Millisecond)
	if t.plat.Reachable() {
		t.log.Error("Device is alive while reset is low")
		err = fmt.Errorf("%w: device responds while reset is low", ErrIO)
	}
	if e := t.plat.SetResetLine(gpio.High); e != nil {
		t.log.Errorf("Set reset line high failed: %v", e)
	}
	t.sleep(50 * time.Millisecond)
	if e := t.dev.WaitWorkMode(cts.ModeNormal); e != nil {
		t.log.Errorf("Wait firmware to normal work failed: %v", e)
	}
	if !t.plat.Reachable() {
		t.log.Error("Device is offline while reset is high")
		err = fmt.Errorf("%w: device offline while reset is high", ErrIO)
	}
	return 0, err
}

// intPin checks that the firmware can drive the interrupt line high and
// low.
func (t *Tester) intPin(s *session) (int, error) {
	if err := t.dev.SetIntTest(true); err != nil {
		return 0, err
	}
	defer func() {
		if err := t.dev.SetIntTest(false); err != nil {
			t.log.Errorf("Disable int test failed: %v", err)
		}
		t.sleep(10 * time.Millisecond)
	}()
	for _, l := range []gpio.Level{gpio.High, gpio.Low} {
		if err := t.dev.ForceIntPin(l); err != nil {
			return 0, err
		}
		t.sleep(10 * time.Millisecond)
		if got := t.plat.IntPin(); got != l {
			t.log.Errorf("INT pin state %v != %v", got, l)
			return 0, fmt.Errorf("%w: int pin is %v, want %v", ErrPinLevel, got, l)
		}
	}
	return 0, nil
}
