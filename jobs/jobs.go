// Package jobs reads the list of URLs to scrape.
package jobs

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// Options controls how a job list is read.
type Options struct {
	// Dedupe drops repeated URLs, keeping the first occurrence.
	Dedupe bool
}

// Stats describes what Read discarded.
type Stats struct {
	Lines     int
	Comments  int
	Invalid   int
	Duplicate int
}

// Load reads jobs from the file at path.
func Load(path string, opts Options) ([]string, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("open job file: %w", err)
	}
	defer f.Close()
	return Read(f, opts)
}

// Read returns the valid URLs in r in input order, one per line.
// Blank lines and lines starting with '#' are skipped. Lines that are not
// valid http(s) URLs are logged and skipped.
func Read(r io.Reader, opts Options) ([]string, Stats, error) {
	var (
		out   []string
		stats Stats
		seen  map[string]struct{}
	)
	if opts.Dedupe {
		seen = make(map[string]struct{})
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		stats.Lines++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			stats.Comments++
			continue
		}
		if err := Validate(line); err != nil {
			stats.Invalid++
			slog.Warn("skipping invalid url", "line", stats.Lines, "url", line, "error", err)
			continue
		}
		if seen != nil {
			if _, dup := seen[line]; dup {
				stats.Duplicate++
				continue
			}
			seen[line] = struct{}{}
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, stats, fmt.Errorf("read job list: %w", err)
	}
	return out, stats, nil
}

var hostLabel = regexp.MustCompile(`^(?i:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)$`)

// Validate reports why raw is not a scrapeable URL, or nil.
func Validate(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing host")
	}
	if host == "localhost" || net.ParseIP(host) != nil {
		return nil
	}
	labels := strings.Split(strings.TrimSuffix(host, "."), ".")
	if len(labels) < 2 {
		return fmt.Errorf("host %q has no top-level domain", host)
	}
	for _, l := range labels {
		if !hostLabel.MatchString(l) {
			return fmt.Errorf("invalid host label %q", l)
		}
	}
	return nil
}
