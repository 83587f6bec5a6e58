package sink

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/use-agent/sitegrab/models"
)

// File writes one record per page to an io.Writer, separated by Delimiter.
//
// Every record is flushed before Write returns, so an interrupted run leaves
// a valid prefix of complete records on disk. The delimiter is written ahead
// of each record after the first, which means the output never ends with a
// dangling separator.
type File struct {
	mu     sync.Mutex
	w      *bufio.Writer
	f      *os.File // nil when wrapping a plain writer
	encode Encoder
	count  int
	closed bool
}

// Create truncates or creates path and returns a File sink writing to it.
func Create(path string) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeSink, "failed to create output file", err)
	}
	s := NewWriter(f)
	s.f = f
	return s, nil
}

// NewWriter returns a File sink over w. Close does not close w.
func NewWriter(w io.Writer) *File {
	return &File{w: bufio.NewWriter(w), encode: EncodeJSON}
}

// WithEncoder replaces the record encoder.
func (s *File) WithEncoder(enc Encoder) *File {
	s.encode = enc
	return s
}

func (s *File) Write(_ context.Context, page *models.ScrapedPage) error {
	data, err := s.encode(page)
	if err != nil {
		return models.NewScrapeError(models.ErrCodeSink, "failed to encode record", err)
	}
	if bytes.Contains(data, []byte(Delimiter)) {
		return models.NewScrapeError(models.ErrCodeSink, "encoded record contains the delimiter", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.NewScrapeError(models.ErrCodeSink, "write after close", nil)
	}
	if s.count > 0 {
		if _, err := s.w.WriteString(Delimiter); err != nil {
			return models.NewScrapeError(models.ErrCodeSink, "failed to write delimiter", err)
		}
	}
	if _, err := s.w.Write(data); err != nil {
		return models.NewScrapeError(models.ErrCodeSink, "failed to write record", err)
	}
	if err := s.w.Flush(); err != nil {
		return models.NewScrapeError(models.ErrCodeSink, "failed to flush record", err)
	}
	s.count++
	return nil
}

// Count returns the number of records written.
func (s *File) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close flushes buffered data and, for file-backed sinks, syncs and closes
// the file. Close is idempotent.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.w.Flush(); err != nil {
		return models.NewScrapeError(models.ErrCodeSink, "failed to flush output", err)
	}
	if s.f == nil {
		return nil
	}
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return models.NewScrapeError(models.ErrCodeSink, "failed to sync output file", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}
