package csvlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var ErrClosed = errors.New("csvlog: writer closed")

// Writer serializes CSV rows from concurrent callers.
type Writer struct {
	mutex  sync.Mutex
	csv    *csv.Writer
	closer io.Closer
	closed bool
}

// Create truncates or creates path and writes header as the first row.
func Create(path string, header []string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	w, err := newWriter(f, f, header)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write header to %s: %w", path, err)
	}

	return w, nil
}

// NewWriter wraps an arbitrary stream. Close does not close dst.
func NewWriter(dst io.Writer, header []string) (*Writer, error) {
	return newWriter(dst, nil, header)
}

func newWriter(dst io.Writer, closer io.Closer, header []string) (*Writer, error) {
	w := &Writer{
		csv:    csv.NewWriter(dst),
		closer: closer,
	}

	if len(header) > 0 {
		if err := w.Write(header); err != nil {
			return nil, err
		}
	}

	return w, nil
}

// Write appends one row and flushes it.
func (w *Writer) Write(record []string) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return ErrClosed
	}

	if err := w.csv.Write(record); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

func (w *Writer) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	w.csv.Flush()
	err := w.csv.Error()
	if w.closer != nil {
		err = errors.Join(err, w.closer.Close())
	}
	return err
}
