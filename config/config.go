package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/use-agent/sitegrab/engine"
	"github.com/use-agent/sitegrab/models"
	"github.com/use-agent/sitegrab/strip"
)

// Engine kinds.
const (
	KindConn    = engine.KindConn
	KindBrowser = engine.KindBrowser
)

// MaxWidth is the largest accepted number of connections or pages.
const MaxWidth = engine.MaxWidth

// DefaultUserAgent is sent by both engines unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Config holds all application configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	HTTP    HTTPConfig    `yaml:"http"`
	Browser BrowserConfig `yaml:"browser"`
	Request RequestConfig `yaml:"request"`
	Output  OutputConfig  `yaml:"output"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Publish PublishConfig `yaml:"publish"`
	Webhook WebhookConfig `yaml:"webhook"`
	Log     LogConfig     `yaml:"log"`

	// envErrs holds environment values Load could not parse.
	envErrs []string
}

// EngineConfig selects the engine and its concurrency.
type EngineConfig struct {
	// Kind is "conn" or "browser".
	Kind string `yaml:"kind"` // default: "conn"

	// Connections is the handle pool width of the conn engine.
	Connections int `yaml:"connections"` // default: 10

	// Pages is the number of browser pages (and workers).
	Pages int `yaml:"pages"` // default: 10

	// Timeout bounds each job.
	Timeout Duration `yaml:"timeout"` // default: 30s

	// RateLimit caps job starts per second. 0 disables the limit.
	RateLimit float64 `yaml:"rate_limit"` // default: 0
	Burst     int     `yaml:"burst"`      // default: 1
}

// HTTPConfig controls the conn engine handles.
type HTTPConfig struct {
	FollowRedirects bool     `yaml:"follow_redirects"` // default: true
	MaxRedirects    int      `yaml:"max_redirects"`    // default: 3
	CookieFile      string   `yaml:"cookie_file"`
	Insecure        bool     `yaml:"insecure"`
	Fingerprint     string   `yaml:"fingerprint"`     // "chrome" or "go"; default: "chrome"
	ConnectTimeout  Duration `yaml:"connect_timeout"` // default: 30s
	MaxBodyBytes    int64    `yaml:"max_body_bytes"`  // default: 50 MiB
}

// BrowserConfig controls the browser engine.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool `yaml:"headless"` // default: true

	// UseGPU keeps GPU acceleration enabled in headless mode.
	UseGPU bool `yaml:"use_gpu"`

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool `yaml:"no_sandbox"`

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string `yaml:"browser_bin"`

	Stealth bool `yaml:"stealth"` // default: true

	// ImplicitWait is slept after the load and idle waits.
	ImplicitWait Duration `yaml:"implicit_wait"` // default: 0

	NetworkIdle bool     `yaml:"network_idle"` // default: true
	IdleTime    Duration `yaml:"idle_time"`    // default: 500ms

	// AllowExts wins over BlockExts when a path matches both.
	AllowExts []string `yaml:"allow_exts"`
	BlockExts []string `yaml:"block_exts"`

	ClearCookies bool `yaml:"clear_cookies"` // default: true
	WithRequests bool `yaml:"with_requests"` // default: true
	Screenshots  bool `yaml:"screenshots"`   // default: true

	// Mobile is the title of a device to emulate, e.g. "iPhone X".
	Mobile string `yaml:"mobile"`

	// Extensions are unpacked extension directories to load.
	Extensions []string `yaml:"extensions"`
}

// RequestConfig holds settings shared by both engines.
type RequestConfig struct {
	Proxy     string   `yaml:"proxy"`
	Headers   []string `yaml:"headers"` // "Name: value"
	UserAgent string   `yaml:"user_agent"`
}

// OutputConfig controls the result sink and stripping.
type OutputConfig struct {
	Path        string   `yaml:"path"`
	StripFields []string `yaml:"strip_fields"`
	KeepTypes   []string `yaml:"keep_types"`

	// Dedupe drops repeated job URLs.
	Dedupe bool `yaml:"dedupe"`

	// QuietErrors counts job errors without logging each one.
	QuietErrors bool `yaml:"quiet_errors"`
}

// LedgerConfig controls the SQLite run ledger. An empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// PublishConfig controls the NATS mirror sink. An empty URL disables it.
type PublishConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"` // default: "sitegrab.pages"
}

// WebhookConfig controls the run-completion notification.
type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Secret  string   `yaml:"secret"`
	Timeout Duration `yaml:"timeout"` // default: 10s
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
// Values that fail to parse keep the default and are reported by Validate.
func Load() *Config {
	env := &envReader{}
	cfg := &Config{
		Engine: EngineConfig{
			Kind:        envOr("SITEGRAB_ENGINE", KindConn),
			Connections: env.intOr("SITEGRAB_NUM_CONN", 10),
			Pages:       env.intOr("SITEGRAB_NUM_PAGES", 10),
			Timeout:     DurationFrom(env.durationOr("SITEGRAB_TIMEOUT", 30*time.Second)),
			RateLimit:   env.floatOr("SITEGRAB_RATE", 0),
			Burst:       env.intOr("SITEGRAB_BURST", 1),
		},
		HTTP: HTTPConfig{
			FollowRedirects: env.boolOr("SITEGRAB_FOLLOW_REDIRECTS", true),
			MaxRedirects:    env.intOr("SITEGRAB_MAX_REDIRECTS", 3),
			CookieFile:      os.Getenv("SITEGRAB_COOKIE_FILE"),
			Insecure:        env.boolOr("SITEGRAB_INSECURE", false),
			Fingerprint:     envOr("SITEGRAB_FINGERPRINT", engine.FingerprintChrome),
			ConnectTimeout:  DurationFrom(env.durationOr("SITEGRAB_CONNECT_TIMEOUT", 30*time.Second)),
			MaxBodyBytes:    env.int64Or("SITEGRAB_MAX_BODY_BYTES", 50<<20),
		},
		Browser: BrowserConfig{
			Headless:     env.boolOr("SITEGRAB_HEADLESS", true),
			UseGPU:       env.boolOr("SITEGRAB_USE_GPU", false),
			NoSandbox:    env.boolOr("SITEGRAB_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("SITEGRAB_BROWSER_BIN"),
			Stealth:      env.boolOr("SITEGRAB_STEALTH", true),
			ImplicitWait: DurationFrom(env.durationOr("SITEGRAB_IMPLICIT_WAIT", 0)),
			NetworkIdle:  env.boolOr("SITEGRAB_NETWORK_IDLE", true),
			IdleTime:     DurationFrom(env.durationOr("SITEGRAB_IDLE_TIME", 500*time.Millisecond)),
			AllowExts:    envSliceOr("SITEGRAB_ALLOW_EXTS", nil),
			BlockExts:    envSliceOr("SITEGRAB_BLOCK_EXTS", nil),
			ClearCookies: env.boolOr("SITEGRAB_CLEAR_COOKIES", true),
			WithRequests: env.boolOr("SITEGRAB_WITH_REQUESTS", true),
			Screenshots:  env.boolOr("SITEGRAB_SCREENSHOTS", true),
			Mobile:       os.Getenv("SITEGRAB_MOBILE"),
			Extensions:   envSliceOr("SITEGRAB_EXTENSIONS", nil),
		},
		Request: RequestConfig{
			Proxy:     os.Getenv("SITEGRAB_PROXY"),
			Headers:   envSliceOr("SITEGRAB_HEADERS", nil),
			UserAgent: envOr("SITEGRAB_USER_AGENT", DefaultUserAgent),
		},
		Output: OutputConfig{
			Path:        os.Getenv("SITEGRAB_OUTPUT"),
			StripFields: envSliceOr("SITEGRAB_STRIP", nil),
			KeepTypes:   envSliceOr("SITEGRAB_KEEP", nil),
			Dedupe:      env.boolOr("SITEGRAB_DEDUPE", false),
			QuietErrors: env.boolOr("SITEGRAB_QUIET_ERRORS", false),
		},
		Ledger: LedgerConfig{
			Path: os.Getenv("SITEGRAB_LEDGER"),
		},
		Publish: PublishConfig{
			NATSURL: os.Getenv("SITEGRAB_NATS_URL"),
			Subject: envOr("SITEGRAB_NATS_SUBJECT", "sitegrab.pages"),
		},
		Webhook: WebhookConfig{
			URL:     os.Getenv("SITEGRAB_WEBHOOK_URL"),
			Secret:  os.Getenv("SITEGRAB_WEBHOOK_SECRET"),
			Timeout: DurationFrom(env.durationOr("SITEGRAB_WEBHOOK_TIMEOUT", 10*time.Second)),
		},
		Log: LogConfig{
			Level:  envOr("SITEGRAB_LOG_LEVEL", "info"),
			Format: envOr("SITEGRAB_LOG_FORMAT", "json"),
		},
	}
	cfg.envErrs = env.errs
	return cfg
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current value. Unknown keys are an error.
func LoadFile(path string, cfg *Config) error {
	fh, err := os.Open(path)
	if err != nil {
		return models.NewScrapeError(models.ErrCodeConfig, "failed to open config file", err)
	}
	defer fh.Close()

	dec := yaml.NewDecoder(fh)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return models.NewScrapeError(models.ErrCodeConfig, "failed to decode config file", err)
	}
	return nil
}

// Width returns the concurrency width of the selected engine.
func (c *Config) Width() int {
	if c.Engine.Kind == KindBrowser {
		return c.Engine.Pages
	}
	return c.Engine.Connections
}

// Validate checks the whole configuration surface before any job starts.
// Every failure is a CONFIG_INVALID ScrapeError.
func (c *Config) Validate() error {
	if len(c.envErrs) > 0 {
		return models.ConfigError("invalid environment: %s", strings.Join(c.envErrs, "; "))
	}
	switch c.Engine.Kind {
	case KindConn, KindBrowser:
	default:
		return models.ConfigError("unknown engine %q (want %q or %q)", c.Engine.Kind, KindConn, KindBrowser)
	}
	if w := c.Width(); w < 1 || w > MaxWidth {
		return models.ConfigError("%s width must be in [1, %d] (got %d)", c.Engine.Kind, MaxWidth, w)
	}
	if c.Engine.Timeout.Duration <= 0 {
		return models.ConfigError("engine.timeout must be > 0 (got %s)", c.Engine.Timeout)
	}
	if c.Engine.RateLimit < 0 {
		return models.ConfigError("engine.rate_limit must be >= 0 (got %g)", c.Engine.RateLimit)
	}
	if c.Engine.RateLimit > 0 && c.Engine.Burst < 1 {
		return models.ConfigError("engine.burst must be >= 1 when a rate limit is set (got %d)", c.Engine.Burst)
	}

	if c.HTTP.MaxRedirects < 0 {
		return models.ConfigError("http.max_redirects must be >= 0 (got %d)", c.HTTP.MaxRedirects)
	}
	switch c.HTTP.Fingerprint {
	case engine.FingerprintChrome, engine.FingerprintGo:
	default:
		return models.ConfigError("unknown TLS fingerprint %q", c.HTTP.Fingerprint)
	}
	if c.HTTP.ConnectTimeout.Duration < 0 {
		return models.ConfigError("http.connect_timeout must be >= 0")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return models.ConfigError("http.max_body_bytes must be > 0 (got %d)", c.HTTP.MaxBodyBytes)
	}
	if c.HTTP.CookieFile != "" {
		if _, err := os.Stat(c.HTTP.CookieFile); err != nil {
			return models.NewScrapeError(models.ErrCodeConfig, "cookie file is not readable", err)
		}
	}

	if c.Browser.ImplicitWait.Duration < 0 {
		return models.ConfigError("browser.implicit_wait must be >= 0 (got %s)", c.Browser.ImplicitWait)
	}
	if c.Browser.Mobile != "" {
		if _, err := engine.LookupDevice(c.Browser.Mobile); err != nil {
			return err
		}
	}
	for _, ext := range c.Browser.Extensions {
		if info, err := os.Stat(ext); err != nil || !info.IsDir() {
			return models.ConfigError("browser extension %q is not an unpacked directory", ext)
		}
	}

	if err := engine.ValidateProxy(c.Engine.Kind, c.Request.Proxy); err != nil {
		return err
	}
	if _, err := ParseHeaders(c.Request.Headers); err != nil {
		return err
	}

	if strings.TrimSpace(c.Output.Path) == "" {
		return models.ConfigError("output path is required")
	}
	if _, err := strip.ParseSpec(c.Output.StripFields, c.Output.KeepTypes); err != nil {
		return err
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return models.ConfigError("unknown log format %q", c.Log.Format)
	}
	return nil
}

// ParseHeaders turns "Name: value" lines into a header map.
func ParseHeaders(lines []string) (map[string]string, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			return nil, models.ConfigError("malformed header %q (want \"Name: value\")", line)
		}
		out[name] = strings.TrimSpace(value)
	}
	return out, nil
}

// EngineOptions builds the immutable per-run engine settings. Call Validate
// first.
func (c *Config) EngineOptions() engine.Options {
	headers, _ := ParseHeaders(c.Request.Headers)
	return engine.Options{
		Width:     c.Width(),
		Timeout:   c.Engine.Timeout.Duration,
		Proxy:     c.Request.Proxy,
		Headers:   headers,
		UserAgent: c.Request.UserAgent,
		RateLimit: c.Engine.RateLimit,
		Burst:     c.Engine.Burst,

		FollowRedirects: c.HTTP.FollowRedirects,
		MaxRedirects:    c.HTTP.MaxRedirects,
		CookieFile:      c.HTTP.CookieFile,
		Insecure:        c.HTTP.Insecure,
		Fingerprint:     c.HTTP.Fingerprint,
		ConnectTimeout:  c.HTTP.ConnectTimeout.Duration,
		MaxBodyBytes:    c.HTTP.MaxBodyBytes,

		Headless:     c.Browser.Headless,
		UseGPU:       c.Browser.UseGPU,
		NoSandbox:    c.Browser.NoSandbox,
		BrowserBin:   c.Browser.BrowserBin,
		Stealth:      c.Browser.Stealth,
		ImplicitWait: c.Browser.ImplicitWait.Duration,
		NetworkIdle:  c.Browser.NetworkIdle,
		IdleTime:     c.Browser.IdleTime.Duration,
		AllowExts:    c.Browser.AllowExts,
		BlockExts:    c.Browser.BlockExts,
		ClearCookies: c.Browser.ClearCookies,
		WithRequests: c.Browser.WithRequests,
		Screenshots:  c.Browser.Screenshots,
		Mobile:       c.Browser.Mobile,
		Extensions:   c.Browser.Extensions,
	}
}

// StripSpec parses the output stripping policy. Call Validate first.
func (c *Config) StripSpec() strip.Spec {
	s, _ := strip.ParseSpec(c.Output.StripFields, c.Output.KeepTypes)
	return s
}

func (c *Config) String() string {
	return fmt.Sprintf("engine=%s width=%d timeout=%s output=%s", c.Engine.Kind, c.Width(), c.Engine.Timeout, c.Output.Path)
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envReader parses typed environment values and remembers the ones it
// could not parse.
type envReader struct {
	errs []string
}

func (r *envReader) fail(key, v string, err error) {
	r.errs = append(r.errs, fmt.Sprintf("%s=%q: %v", key, v, err))
}

func (r *envReader) intOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
		r.fail(key, v, err)
	}
	return fallback
}

func (r *envReader) int64Or(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return i
		}
		r.fail(key, v, err)
	}
	return fallback
}

func (r *envReader) boolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
		r.fail(key, v, err)
	}
	return fallback
}

func (r *envReader) floatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
		r.fail(key, v, err)
	}
	return fallback
}

func (r *envReader) durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := parseDuration(v)
		if err == nil {
			return d
		}
		r.fail(key, v, err)
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
