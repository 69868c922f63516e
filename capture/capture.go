// Package capture renders captured frames to the console, a capture
// stream and a caller supplied buffer.
package capture

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"touchdiag.com/grid"
)

var ErrShortBuffer = errors.New("capture: buffer too small")

var (
	startBanner = strings.Repeat(">", 54)
	endBanner   = strings.Repeat("<", 54)
	dataSplit   = strings.Repeat("-", 112)
	capSplit    = strings.Repeat("-", 77)
)

// Opener opens capture streams.
type Opener interface {
	Open(path string, append bool) (io.WriteCloser, error)
}

type Options struct {
	// Console renders tables to the log.
	Console bool
	// StreamPath names the capture stream. Empty disables it.
	StreamPath string
	// Append preserves earlier stream contents.
	Append bool
	// Buffer receives the raw frames. Nil disables it.
	Buffer []byte
}

// Sink is the destination of the frames of a single test run.
type Sink struct {
	log    *zap.SugaredLogger
	opener Opener
	opts   Options

	stream  io.WriteCloser
	begun   bool
	ended   bool
	werr    error
	written int
}

func New(log *zap.SugaredLogger, opener Opener, opts Options) *Sink {
	return &Sink{
		log:    log,
		opener: opener,
		opts:   opts,
	}
}

// Begin opens the capture stream and writes the start banner. Only the
// first call has an effect. Failure to open the stream is logged and
// disables it.
func (s *Sink) Begin() {
	if s.begun || s.opts.StreamPath == "" || s.opener == nil {
		return
	}
	s.begun = true
	s.log.Infof("Start dump test data to file '%s'", s.opts.StreamPath)
	w, err := s.opener.Open(s.opts.StreamPath, s.opts.Append)
	if err != nil {
		s.log.Errorf("Open test data file '%s' failed: %v", s.opts.StreamPath, err)
		return
	}
	s.stream = w
	s.writeStream(startBanner)
}

// End writes the stop banner and closes the capture stream. Only the
// first call has an effect.
func (s *Sink) End() error {
	if s.ended || s.stream == nil {
		return nil
	}
	s.ended = true
	s.log.Info("Stop dump test data to file")
	s.writeStream(endBanner)
	err := s.stream.Close()
	s.stream = nil
	if s.werr != nil {
		return fmt.Errorf("capture: %w", s.werr)
	}
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	return nil
}

// Dump renders f as a table labelled label. Nodes in invalid don't
// count towards the summary line.
func (s *Sink) Dump(label string, f *grid.Frame, invalid grid.NodeSet) {
	if !s.opts.Console && s.stream == nil {
		return
	}
	for _, l := range table(label, f, invalid) {
		if s.opts.Console {
			s.log.Info(l)
		}
		s.writeStream(l)
	}
}

// Store copies the encoded frame into the caller buffer and advances
// the write offset.
func (s *Sink) Store(f *grid.Frame) error {
	if s.opts.Buffer == nil {
		return nil
	}
	b := f.Encode()
	if s.written+len(b) > len(s.opts.Buffer) {
		return fmt.Errorf("%w: %d bytes at offset %d of %d", ErrShortBuffer, len(b), s.written, len(s.opts.Buffer))
	}
	s.written += copy(s.opts.Buffer[s.written:], b)
	return nil
}

// Rewind resets the buffer write offset.
func (s *Sink) Rewind() {
	s.written = 0
}

// Written returns the number of bytes stored in the caller buffer.
func (s *Sink) Written() int {
	return s.written
}

func (s *Sink) writeStream(line string) {
	if s.stream == nil || s.werr != nil {
		return
	}
	if _, err := io.WriteString(s.stream, line+"\n"); err != nil {
		s.log.Errorf("Write test data to file failed: %v", err)
		s.werr = err
	}
}

func table(label string, f *grid.Frame, invalid grid.NodeSet) []string {
	st := grid.Stats(f, invalid)
	split, title := dataSplit, " %s test data MIN: [%d][%d]=%d, MAX: [%d][%d]=%d, AVG=%d"
	header, colFmt, dataFmt := "   |  ", "%-5d ", "%-5d "
	if f.Width == grid.Byte {
		split, title = capSplit, " %s MIN: [%d][%d]=%d, MAX: [%d][%d]=%d, AVG=%d"
		header, colFmt, dataFmt = "      ", "%3d ", "%4d"
	}
	lines := []string{
		split,
		fmt.Sprintf(title, label, st.MinAt.Row, st.MinAt.Col, st.Min, st.MaxAt.Row, st.MaxAt.Col, st.Max, st.Avg),
		split,
	}
	var b strings.Builder
	b.WriteString(header)
	for c := range f.Cols {
		fmt.Fprintf(&b, colFmt, c)
	}
	lines = append(lines, b.String(), split)
	for r := range f.Rows {
		b.Reset()
		fmt.Fprintf(&b, "%2d | ", r)
		for c := range f.Cols {
			fmt.Fprintf(&b, dataFmt, f.At(r, c))
		}
		lines = append(lines, b.String())
	}
	return append(lines, split)
}
