// Package report records the outcome of a self-test run for export.
package report

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/jedib0t/go-pretty/v6/table"
	"touchdiag.com/diag"
	"touchdiag.com/grid"
)

// Report is the outcome of a run of self-tests against one device.
type Report struct {
	Device string  `cbor:"1,keyasint"`
	ChipID uint8   `cbor:"2,keyasint"`
	Rows   int     `cbor:"3,keyasint"`
	Cols   int     `cbor:"4,keyasint"`
	Time   int64   `cbor:"5,keyasint"`
	Tests  []Entry `cbor:"6,keyasint"`
}

// Entry is the outcome of a single test.
type Entry struct {
	Test string `cbor:"1,keyasint"`
	// Code is the failure count, or a negative errno.
	Code      int    `cbor:"2,keyasint"`
	ElapsedMS int64  `cbor:"3,keyasint"`
	Error     string `cbor:"4,keyasint,omitempty"`
}

func New(device string, chipID uint8, dims grid.Dims, at time.Time) *Report {
	return &Report{
		Device: device,
		ChipID: chipID,
		Rows:   dims.Rows,
		Cols:   dims.Cols,
		Time:   at.Unix(),
	}
}

// Add records the result of a test.
func (r *Report) Add(kind diag.Kind, res diag.Result) {
	e := Entry{
		Test:      kind.String(),
		Code:      res.Code(),
		ElapsedMS: res.Elapsed.Milliseconds(),
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	r.Tests = append(r.Tests, e)
}

// Passed reports whether every recorded test passed.
func (r *Report) Passed() bool {
	for _, e := range r.Tests {
		if e.Code != 0 {
			return false
		}
	}
	return true
}

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
	dm, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dm
}

// Encode returns the deterministic CBOR encoding of r.
func (r *Report) Encode() ([]byte, error) {
	b, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	return b, nil
}

func Decode(b []byte) (*Report, error) {
	r := new(Report)
	if err := decMode.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	return r, nil
}

// Table renders a summary of r for terminals.
func (r *Report) Table() string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%s %dx%d (chip %#02x)", r.Device, r.Rows, r.Cols, r.ChipID))
	t.AppendHeader(table.Row{"Test", "Result", "Code", "Elapsed"})
	for _, e := range r.Tests {
		t.AppendRow(table.Row{e.Test, e.status(), e.Code, fmt.Sprintf("%dms", e.ElapsedMS)})
	}
	t.SetStyle(table.StyleLight)
	return t.Render()
}

func (e Entry) status() string {
	switch {
	case e.Error != "":
		return "FAIL: " + e.Error
	case e.Code > 0:
		return fmt.Sprintf("%d FAIL", e.Code)
	default:
		return "PASS"
	}
}
