// Package golden compares rendered test output against files in
// testdata.
package golden

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Compare checks got against the golden file at path, or replaces the
// file when update is set. Paths ending in .gz are gzip compressed.
// On mismatch, the output is written to dumpDir if it is not empty.
func Compare(path string, update bool, dumpDir string, got []byte) error {
	compressed := strings.HasSuffix(path, ".gz")
	if update {
		data := got
		if compressed {
			buf := new(bytes.Buffer)
			w, err := gzip.NewWriterLevel(buf, gzip.BestCompression)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			w.Write(got)
			if err := w.Close(); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			data = buf.Bytes()
		}
		return os.WriteFile(path, data, 0o640)
	}
	want, err := load(path, compressed)
	if err != nil {
		return err
	}
	if bytes.Equal(want, got) {
		return nil
	}
	if dumpDir != "" {
		fpath := filepath.Join(dumpDir, strings.TrimSuffix(filepath.Base(path), ".gz")+".got")
		if err := os.WriteFile(fpath, got, 0o640); err != nil {
			return err
		}
	}
	wl := strings.Split(string(want), "\n")
	gl := strings.Split(string(got), "\n")
	mismatches, first := 0, -1
	for i := range min(len(wl), len(gl)) {
		if wl[i] != gl[i] {
			if first == -1 {
				first = i
			}
			mismatches++
		}
	}
	if first == -1 {
		first = min(len(wl), len(gl))
	}
	return fmt.Errorf("%s: %d, %d lines with %d mismatches, first at line %d:\n got: %q\nwant: %q",
		path, len(gl), len(wl), mismatches, first+1, line(gl, first), line(wl, first))
}

func load(path string, compressed bool) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = f
	if compressed {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		r = zr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

func line(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}
	return ""
}
