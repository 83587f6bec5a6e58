package engine

import (
	"context"
	"iter"
	"net/url"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/use-agent/sitegrab/models"
)

// Engine kinds, also returned by Name.
const (
	KindConn    = "conn"
	KindBrowser = "browser"
)

// TLS fingerprints for the conn engine.
const (
	FingerprintChrome = "chrome"
	FingerprintGo     = "go"
)

// Engine is the capability both scraping engines implement.
type Engine interface {
	// Name returns the engine identifier ("conn" or "browser").
	Name() string

	// Run performs setup and returns a lazy sequence with exactly one result
	// per job. Setup failures are returned as fatal errors before any job
	// starts. The sequence may be ranged over once; resources are released
	// when iteration ends, including when the caller stops early.
	Run(ctx context.Context, jobs []string) (iter.Seq[models.Result], error)
}

// Options is the immutable per-run configuration shared by both engines.
type Options struct {
	// Width is the number of connections or pages.
	Width int

	// Timeout bounds each job.
	Timeout time.Duration

	Proxy     string
	Headers   map[string]string
	UserAgent string

	// RateLimit caps job starts per second. 0 disables the limit.
	RateLimit float64
	Burst     int

	// Conn engine.
	FollowRedirects bool
	MaxRedirects    int
	CookieFile      string
	Insecure        bool
	Fingerprint     string
	ConnectTimeout  time.Duration
	MaxBodyBytes    int64

	// Browser engine.
	Headless     bool
	UseGPU       bool
	NoSandbox    bool
	BrowserBin   string
	Stealth      bool
	ImplicitWait time.Duration
	NetworkIdle  bool
	IdleTime     time.Duration
	AllowExts    []string
	BlockExts    []string
	ClearCookies bool
	WithRequests bool
	Screenshots  bool

	// Mobile names a device to emulate, e.g. "iPhone X" or
	// "Pixel 2 landscape". Empty means desktop.
	Mobile string

	// Extensions are unpacked extension directories loaded into the
	// browser. Other extensions stay disabled.
	Extensions []string
}

// MaxWidth is the largest accepted Options.Width.
const MaxWidth = 10000

// New returns the engine of the given kind.
func New(kind string, opts Options) (Engine, error) {
	switch kind {
	case KindConn:
		return NewConnPool(opts)
	case KindBrowser:
		return NewPagePool(opts)
	}
	return nil, models.ConfigError("unknown engine %q", kind)
}

// proxySchemes lists the proxy URL schemes each engine can dial.
var proxySchemes = map[string][]string{
	KindConn:    {"http", "https", "socks5", "socks5h"},
	KindBrowser: {"http", "https", "socks4", "socks5", "socks5h"},
}

// ValidateProxy accepts "" or a proxy URL with a host and a scheme the
// engine of the given kind supports.
func ValidateProxy(kind, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return models.NewScrapeError(models.ErrCodeConfig, "invalid proxy url", err)
	}
	if !slices.Contains(proxySchemes[kind], u.Scheme) {
		return models.ConfigError("unsupported proxy scheme %q for the %s engine", u.Scheme, kind)
	}
	if u.Host == "" {
		return models.ConfigError("proxy url %q has no host", u.Redacted())
	}
	return nil
}

func checkWidth(w int) error {
	if w < 1 || w > MaxWidth {
		return models.ConfigError("width must be in [1, %d] (got %d)", MaxWidth, w)
	}
	return nil
}

// effectiveWidth clamps the configured width to the job count.
func effectiveWidth(w, jobs int) int {
	return max(1, min(w, jobs))
}

func newLimiter(opts Options) *rate.Limiter {
	if opts.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(opts.RateLimit), max(1, opts.Burst))
}

// cancelledResult reports a job that never started because ctx ended.
func cancelledResult(url string, cause error) models.Result {
	return models.Failed(url, models.NewScrapeError(models.ErrCodeCancelled, "run cancelled before job started", cause))
}
