// Package sink persists scraped pages as delimited JSON records.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/use-agent/sitegrab/models"
)

// Delimiter separates records in a file sink. It never follows the last
// record.
const Delimiter = "\n"

// Sink is an append-only destination for scraped pages.
type Sink interface {
	Write(ctx context.Context, page *models.ScrapedPage) error
	Close() error
}

// Encoder serializes a page into a single record.
type Encoder func(page *models.ScrapedPage) ([]byte, error)

// EncodeJSON is the default Encoder: compact JSON with byte blobs as base64.
func EncodeJSON(page *models.ScrapedPage) ([]byte, error) {
	return json.Marshal(page)
}

// Multi writes every page to a primary sink and then to any mirrors.
// Primary failures are returned. Mirror failures are logged and counted.
type Multi struct {
	Primary Sink
	Mirrors []Sink

	mirrorErrors int
}

// NewMulti returns a Multi writing to primary and mirrors in order.
func NewMulti(primary Sink, mirrors ...Sink) *Multi {
	return &Multi{Primary: primary, Mirrors: mirrors}
}

func (m *Multi) Write(ctx context.Context, page *models.ScrapedPage) error {
	if err := m.Primary.Write(ctx, page); err != nil {
		return err
	}
	for _, s := range m.Mirrors {
		if err := s.Write(ctx, page); err != nil {
			m.mirrorErrors++
			slog.Warn("mirror sink write failed", "url", page.RequestURL, "error", err)
		}
	}
	return nil
}

// MirrorErrors returns the number of failed mirror writes.
func (m *Multi) MirrorErrors() int { return m.mirrorErrors }

// Close closes the mirrors and then the primary, joining their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.Mirrors {
		errs = append(errs, s.Close())
	}
	errs = append(errs, m.Primary.Close())
	return errors.Join(errs...)
}
