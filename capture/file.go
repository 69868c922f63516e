package capture

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileOpener opens capture streams as files, creating missing parent
// directories.
type FileOpener struct{}

func (FileOpener) Open(path string, append bool) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE
	if append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if err := lock(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("capture: %s: %w", path, err)
	}
	return f, nil
}
