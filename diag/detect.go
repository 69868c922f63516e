package diag

import (
	"time"

	"touchdiag.com/driver/cts"
	"touchdiag.com/grid"
)

const (
	// openAttempts bounds the open-circuit captures when failures look
	// like false positives.
	openAttempts = 5
	// shortAttempts bounds the short-circuit runs ending in errors.
	shortAttempts = 3
	// shortRowLoops is the number of row-short captures per run.
	shortRowLoops = 3
	// shortFrames is the number of frames captured by a short run.
	shortFrames = 1 + shortRowLoops + 1
)

// openCircuit detects open sensor traces. A failing frame matching the
// false-positive predicate is recaptured from a fresh reset.
func (t *Tester) openCircuit(s *session) (int, error) {
	for attempt := 1; ; attempt++ {
		s.sink.Rewind()
		failed, f, err := t.openAttempt(s)
		if err != nil {
			return 0, err
		}
		if failed == 0 || attempt >= openAttempts || t.fp == nil || !t.fp(f) {
			return failed, nil
		}
		t.log.Warnf("Open test attempt %d/%d failed with %d zero nodes, retrying", attempt, openAttempts, f.Count(0))
	}
}

func (t *Tester) openAttempt(s *session) (int, *grid.Frame, error) {
	if err := s.enterDetect(cts.DetectOpen); err != nil {
		return 0, nil, err
	}
	f, err := s.capture(grid.Word, 1)
	if err != nil {
		return 0, nil, err
	}
	if err := s.record("Open-circuit", f); err != nil {
		return 0, nil, err
	}
	return s.validate("Open-circuit", f), f, nil
}

// shortCircuit detects shorts between columns, between rows and to
// ground. Runs ending in errors are repeated from a fresh reset.
func (t *Tester) shortCircuit(s *session) (int, error) {
	var err error
	for attempt := 1; attempt <= shortAttempts; attempt++ {
		if attempt > 1 {
			t.log.Warnf("Short test attempt %d/%d failed: %v, retrying", attempt-1, shortAttempts, err)
			s.sink.Rewind()
		}
		var failed int
		failed, err = t.shortAttempt(s)
		if err == nil {
			return failed, nil
		}
	}
	return 0, err
}

func (t *Tester) shortAttempt(s *session) (int, error) {
	if err := s.enterDetect(cts.DetectShort); err != nil {
		return 0, err
	}
	stop := s.p.has(StopOnFailure)
	total := 0
	probe := func(label string) (bool, error) {
		f, err := s.capture(grid.Word, 1)
		if err != nil {
			return false, err
		}
		if err := s.record(label, f); err != nil {
			return false, err
		}
		n := s.validate(label, f)
		total += n
		return n > 0 && stop, nil
	}

	if err := t.dev.SetShortTestType(cts.ShortBetweenCols); err != nil {
		return 0, err
	}
	if done, err := probe("Col-short"); done || err != nil {
		return total, err
	}

	var err error
	for range 10 {
		if err = t.dev.SetShortTestType(cts.ShortBetweenRows); err == nil {
			break
		}
		t.sleep(10 * time.Millisecond)
	}
	if err != nil {
		return 0, err
	}
	for range shortRowLoops {
		if done, err := probe("Row-short"); done || err != nil {
			return total, err
		}
	}

	if err := t.dev.SetShortTestType(cts.ShortToGND); err != nil {
		return 0, err
	}
	_, err = probe("GND-short")
	return total, err
}
