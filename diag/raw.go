package diag

import (
	"touchdiag.com/driver/cts"
	"touchdiag.com/grid"
)

// rawAttempts bounds the reads of a single raw frame.
const rawAttempts = 3

// rawdata captures frames of raw signal and returns the number of
// frames failing validation.
func (t *Tester) rawdata(s *session) (int, error) {
	if err := s.enterRaw(cts.IntDataRawdata); err != nil {
		return 0, err
	}
	failed := 0
	for i := range s.p.Frames {
		f, err := s.capture(grid.Word, rawAttempts)
		if err != nil {
			return 0, err
		}
		if err := s.record("Rawdata", f); err != nil {
			return 0, err
		}
		if n := s.validate("Rawdata", f); n > 0 {
			t.log.Infof("Rawdata frame %d has %d failed nodes", i, n)
			failed++
			if s.p.has(StopOnFailure) {
				break
			}
		}
	}
	return failed, nil
}

// noise captures frames of raw signal and validates the per-node
// spread between the largest and smallest sample.
func (t *Tester) noise(s *session) (int, error) {
	if err := s.enterRaw(cts.IntDataRawdata); err != nil {
		return 0, err
	}
	var hi, lo *grid.Frame
	for i := range s.p.Frames {
		f, err := s.capture(grid.Word, rawAttempts)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			hi, lo = f.Clone(), f.Clone()
			continue
		}
		for j, v := range f.Samples {
			if v > hi.Samples[j] {
				hi.Samples[j] = v
			} else if v < lo.Samples[j] {
				lo.Samples[j] = v
			}
		}
	}
	noise := grid.New(hi.Rows, hi.Cols, grid.Word)
	for j := range noise.Samples {
		noise.Samples[j] = hi.Samples[j] - lo.Samples[j]
	}
	if err := s.record("Noisy", noise); err != nil {
		return 0, err
	}
	if s.p.has(DumpNoiseExtremes) {
		if err := s.record("Rawdata MAX", hi); err != nil {
			return 0, err
		}
		if err := s.record("Rawdata MIN", lo); err != nil {
			return 0, err
		}
	}
	return s.validate("Noise", noise), nil
}

// compensateCap captures the per-node compensation capacitance.
func (t *Tester) compensateCap(s *session) (int, error) {
	if err := s.enterRaw(cts.IntDataCNEGdata); err != nil {
		return 0, err
	}
	f, err := s.capture(grid.Byte, 1)
	if err != nil {
		return 0, err
	}
	if err := s.record("Compensate Cap", f); err != nil {
		return 0, err
	}
	return s.validate("Compensate-Cap", f), nil
}
