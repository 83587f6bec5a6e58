package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/use-agent/sitegrab/models"
)

// Records iterates over the pages stored in r by a File sink. Records are
// read one at a time, so arbitrarily large outputs are never held in memory.
// A decode error is yielded once and ends the sequence.
func Records(r io.Reader) iter.Seq2[*models.ScrapedPage, error] {
	return func(yield func(*models.ScrapedPage, error) bool) {
		br := bufio.NewReaderSize(r, 256*1024)
		for n := 1; ; n++ {
			line, err := br.ReadBytes(Delimiter[0])
			line = bytes.TrimSuffix(line, []byte(Delimiter))
			if len(line) > 0 {
				var page models.ScrapedPage
				if uerr := json.Unmarshal(line, &page); uerr != nil {
					yield(nil, fmt.Errorf("record %d: %w", n, uerr))
					return
				}
				if !yield(&page, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// ReadAll collects every record in r.
func ReadAll(r io.Reader) ([]*models.ScrapedPage, error) {
	var out []*models.ScrapedPage
	for page, err := range Records(r) {
		if err != nil {
			return out, err
		}
		out = append(out, page)
	}
	return out, nil
}

// Summary describes an output file without decoding every blob.
type Summary struct {
	Records          int
	TrailingNewline  bool
	WithBody         int
	WithScreenshots  int
	TotalRequests    int
	DistinctFinalURL int
}

// Inspect scans r and summarizes its records.
func Inspect(r io.Reader) (Summary, error) {
	var (
		s    Summary
		last byte
		urls = make(map[string]struct{})
	)
	tr := &tailReader{r: r, last: &last}
	for page, err := range Records(tr) {
		if err != nil {
			return s, err
		}
		s.Records++
		if len(page.Body) > 0 {
			s.WithBody++
		}
		if page.Screenshot != nil || page.FullScreenshot != nil {
			s.WithScreenshots++
		}
		s.TotalRequests += len(page.Requests)
		urls[page.URL] = struct{}{}
	}
	s.DistinctFinalURL = len(urls)
	s.TrailingNewline = last == Delimiter[0]
	return s, nil
}

// tailReader remembers the last byte read.
type tailReader struct {
	r    io.Reader
	last *byte
}

func (t *tailReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		*t.last = p[n-1]
	}
	return n, err
}
