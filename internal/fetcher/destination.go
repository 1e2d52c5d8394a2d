package fetcher

import (
	"fmt"
	"io"
	"os"
)

const filePerm = 0o644

// Destination is the byte sink bound to the destination path for the whole
// fetch. It is opened once before the first attempt and closed once after
// the last one.
type Destination interface {
	io.Writer

	// Reset discards everything written so far so the next attempt starts
	// from an empty file.
	Reset() error

	Close() error
}

// OpenFunc opens the destination at path.
type OpenFunc func(path string) (Destination, error)

// OpenFile opens path for writing, creating it or truncating an existing file.
func OpenFile(path string) (Destination, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return nil, err
	}

	return &fileDestination{file: f}, nil
}

type fileDestination struct {
	file *os.File
}

func (d *fileDestination) Write(p []byte) (int, error) {
	return d.file.Write(p)
}

func (d *fileDestination) Reset() error {
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind %s: %w", d.file.Name(), err)
	}

	if err := d.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", d.file.Name(), err)
	}

	return nil
}

func (d *fileDestination) Close() error {
	return d.file.Close()
}
