package capture

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"touchdiag.com/grid"
	"touchdiag.com/internal/golden"
)

var update = flag.Bool("update", false, "update golden files")

type memStream struct {
	bytes.Buffer
	closes int
}

func (m *memStream) Close() error {
	m.closes++
	return nil
}

type memOpener struct {
	opens  int
	stream memStream
}

func (o *memOpener) Open(path string, append bool) (io.WriteCloser, error) {
	o.opens++
	return &o.stream, nil
}

func rawFrame() *grid.Frame {
	f := grid.New(2, 3, grid.Word)
	copy(f.Samples, []uint16{
		1000, 1010, 990,
		1005, 1020, 995,
	})
	return f
}

func capFrame() *grid.Frame {
	f := grid.New(2, 3, grid.Byte)
	copy(f.Samples, []uint16{
		10, 20, 5,
		30, 15, 25,
	})
	return f
}

func TestTable(t *testing.T) {
	tests := []struct {
		golden string
		label  string
		frame  *grid.Frame
	}{
		{"rawdata.golden", "Rawdata", rawFrame()},
		{"compensate-cap.golden", "Compensate Cap", capFrame()},
	}
	for _, test := range tests {
		got := strings.Join(table(test.label, test.frame, grid.NodeSet{}), "\n") + "\n"
		path := filepath.Join("testdata", test.golden)
		if err := golden.Compare(path, *update, "", []byte(got)); err != nil {
			t.Error(err)
		}
	}
}

func TestStreamFraming(t *testing.T) {
	o := new(memOpener)
	s := New(zaptest.NewLogger(t).Sugar(), o, Options{StreamPath: "/data/selftest.txt"})
	s.Begin()
	s.Begin()
	for range 3 {
		s.Dump("Rawdata", rawFrame(), grid.NodeSet{})
	}
	if err := s.End(); err != nil {
		t.Fatal(err)
	}
	if err := s.End(); err != nil {
		t.Fatal(err)
	}
	if o.opens != 1 || o.stream.closes != 1 {
		t.Errorf("stream opened %d and closed %d times, want 1 and 1", o.opens, o.stream.closes)
	}
	out := o.stream.String()
	if !strings.HasPrefix(out, strings.Repeat(">", 54)+"\n") {
		t.Errorf("stream doesn't begin with the start banner:\n%s", out)
	}
	if !strings.HasSuffix(out, strings.Repeat("<", 54)+"\n") {
		t.Errorf("stream doesn't end with the stop banner:\n%s", out)
	}
	if n := strings.Count(out, " Rawdata test data MIN:"); n != 3 {
		t.Errorf("stream holds %d tables, want 3", n)
	}
	// Every table is bracketed by split lines.
	split := strings.Repeat("-", 112) + "\n"
	if n := strings.Count(out, split); n != 3*4 {
		t.Errorf("stream holds %d split lines, want %d", n, 3*4)
	}
}

func TestStreamWithoutFrames(t *testing.T) {
	o := new(memOpener)
	s := New(zap.NewNop().Sugar(), o, Options{StreamPath: "selftest.txt"})
	s.Begin()
	if err := s.End(); err != nil {
		t.Fatal(err)
	}
	want := strings.Repeat(">", 54) + "\n" + strings.Repeat("<", 54) + "\n"
	if got := o.stream.String(); got != want {
		t.Errorf("empty stream is\n%q\nwant\n%q", got, want)
	}
}

func TestConsole(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := New(zap.New(core).Sugar(), nil, Options{Console: true})
	s.Begin()
	s.Dump("Rawdata", rawFrame(), grid.NodeSet{})
	if err := s.End(); err != nil {
		t.Fatal(err)
	}
	// 4 split lines, title, header and one line per row.
	if n := logs.Len(); n != 8 {
		t.Errorf("logged %d lines, want 8", n)
	}
	if n := logs.FilterMessage(" Rawdata test data MIN: [0][2]=990, MAX: [1][1]=1020, AVG=1003").Len(); n != 1 {
		t.Errorf("summary line logged %d times", n)
	}
}

func TestInvalidNodesInSummary(t *testing.T) {
	lines := table("Rawdata", rawFrame(), grid.NewNodeSet(grid.Node{Row: 0, Col: 2}, grid.Node{Row: 1, Col: 1}))
	want := " Rawdata test data MIN: [1][2]=995, MAX: [0][1]=1010, AVG=1002"
	if lines[1] != want {
		t.Errorf("summary %q, want %q", lines[1], want)
	}
	// Excluded nodes are still shown.
	if !strings.Contains(lines[5], "990") {
		t.Errorf("row 0 %q lacks excluded sample", lines[5])
	}
}

func TestStore(t *testing.T) {
	buf := make([]byte, 2*12+6)
	s := New(zap.NewNop().Sugar(), nil, Options{Buffer: buf})
	for range 2 {
		if err := s.Store(rawFrame()); err != nil {
			t.Fatal(err)
		}
	}
	if s.Written() != 24 {
		t.Errorf("wrote %d bytes, want 24", s.Written())
	}
	if got, want := buf[12:24], rawFrame().Encode(); !bytes.Equal(got, want) {
		t.Errorf("second frame is %x, want %x", got, want)
	}
	if err := s.Store(rawFrame()); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("overflowing store returned %v", err)
	}
	if err := s.Store(capFrame()); err != nil {
		t.Errorf("byte frame didn't fit: %v", err)
	}
	s.Rewind()
	if s.Written() != 0 {
		t.Errorf("rewound sink reports %d bytes", s.Written())
	}
	// Without a buffer, frames are dropped.
	none := New(zap.NewNop().Sugar(), nil, Options{})
	if err := none.Store(rawFrame()); err != nil || none.Written() != 0 {
		t.Errorf("store without buffer: %v, %d bytes", err, none.Written())
	}
}

func TestFileOpener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "touch", "selftest.txt")
	write := func(append bool, data string) {
		t.Helper()
		w, err := FileOpener{}.Open(path, append)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, data); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}
	write(false, "first\n")
	write(true, "second\n")
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "first\nsecond\n" {
		t.Errorf("appended file is %q", got)
	}
	write(false, "third\n")
	got, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "third\n" {
		t.Errorf("truncated file is %q", got)
	}
}
