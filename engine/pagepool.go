package engine

import (
	"context"
	"iter"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/devices"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/sitegrab/models"
)

const defaultIdleTime = 500 * time.Millisecond

// PagePool is the page-pool engine. One browser process hosts M isolated
// browser contexts; each is driven by one worker pulling jobs from the
// shared queue. A job opens a fresh page in its worker's context and
// always closes it.
type PagePool struct {
	opts Options

	// device is set when opts.Mobile names an emulation preset.
	device *devices.Device
}

// NewPagePool validates opts and returns the engine. The browser is not
// launched until Run.
func NewPagePool(opts Options) (*PagePool, error) {
	if err := checkWidth(opts.Width); err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		return nil, models.ConfigError("timeout must be > 0 (got %s)", opts.Timeout)
	}
	if opts.ImplicitWait < 0 {
		return nil, models.ConfigError("implicit wait must be >= 0 (got %s)", opts.ImplicitWait)
	}
	if opts.IdleTime <= 0 {
		opts.IdleTime = defaultIdleTime
	}
	if opts.Proxy != "" {
		if _, err := launcherProxy(opts.Proxy); err != nil {
			return nil, err
		}
	}
	e := &PagePool{opts: opts}
	if opts.Mobile != "" {
		d, err := LookupDevice(opts.Mobile)
		if err != nil {
			return nil, err
		}
		e.device = &d
	}
	exts, err := extensionDirs(opts.Extensions)
	if err != nil {
		return nil, err
	}
	e.opts.Extensions = exts
	return e, nil
}

// extensionDirs resolves unpacked extension paths to absolute directories.
func extensionDirs(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeConfig, "invalid extension path", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeConfig, "extension is not readable", err)
		}
		if !info.IsDir() {
			return nil, models.ConfigError("extension %q is not an unpacked directory", p)
		}
		if strings.Contains(abs, ",") {
			return nil, models.ConfigError("extension path %q contains a comma", p)
		}
		out = append(out, abs)
	}
	return out, nil
}

// Name returns the engine identifier.
func (e *PagePool) Name() string { return KindBrowser }

// browserSession owns the browser process and the per-worker contexts.
type browserSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	contexts []*rod.Browser
}

// launch starts the browser and opens m incognito contexts. Any failure
// tears down what was started and is fatal for the run.
func (e *PagePool) launch(m int) (*browserSession, error) {
	l := launcher.New().
		Headless(e.opts.Headless).
		NoSandbox(e.opts.NoSandbox)

	if e.opts.BrowserBin != "" {
		l = l.Bin(e.opts.BrowserBin)
	}
	if e.opts.Proxy != "" {
		proxy, _ := launcherProxy(e.opts.Proxy)
		l = l.Proxy(proxy)
	}
	if !e.opts.UseGPU {
		l.Set(flags.Flag("disable-gpu"))
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))
	if len(e.opts.Extensions) > 0 {
		list := strings.Join(e.opts.Extensions, ",")
		l.Set(flags.Flag("load-extension"), list)
		l.Set(flags.Flag("disable-extensions-except"), list)
	} else {
		l.Set(flags.Flag("disable-extensions"))
	}
	if e.opts.Insecure {
		l.Set(flags.Flag("ignore-certificate-errors"))
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeSetup, "failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	sess := &browserSession{launcher: l, browser: rod.New().ControlURL(controlURL)}
	if err := sess.browser.Connect(); err != nil {
		l.Kill()
		return nil, models.NewScrapeError(models.ErrCodeSetup, "failed to connect to browser", err)
	}

	for i := range m {
		bctx, err := sess.browser.Incognito()
		if err != nil {
			sess.close()
			return nil, models.NewScrapeError(models.ErrCodeSetup, "failed to create browser context", err)
		}
		sess.contexts = append(sess.contexts, bctx)
		slog.Debug("browser context ready", "worker", i)
	}
	slog.Info("page pool allocated", "pages", m)
	return sess, nil
}

// close kills the browser process. Safe to call with partially built state.
func (s *browserSession) close() {
	for _, bctx := range s.contexts {
		_ = bctx.Close()
	}
	if err := s.browser.Close(); err != nil {
		slog.Debug("browser close failed", "error", err)
	}
	s.launcher.Kill()
	s.launcher.Cleanup()
	slog.Info("browser shutdown complete")
}

// Run launches the browser with min(width, len(jobs)) contexts and returns
// the result sequence. Launch failures are fatal.
func (e *PagePool) Run(ctx context.Context, jobs []string) (iter.Seq[models.Result], error) {
	if len(jobs) == 0 {
		return func(func(models.Result) bool) {}, nil
	}

	m := effectiveWidth(e.opts.Width, len(jobs))
	sess, err := e.launch(m)
	if err != nil {
		return nil, err
	}

	var used atomic.Bool
	return func(yield func(models.Result) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		defer sess.close()

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		q := newJobQueue(jobs, m)
		results, stats := runWorkers(runCtx, q, m, newLimiter(e.opts), func(ctx context.Context, w int, url string) (*models.ScrapedPage, error) {
			return e.scrapePage(ctx, sess.contexts[w], url)
		})

		stopped := false
		for res := range results {
			if stopped {
				continue
			}
			if !yield(res) {
				stopped = true
				cancel()
			}
		}
		slog.Debug("page pool drained", "jobs_run", stats.jobs.Load(), "workers_exited", stats.exited.Load())
	}, nil
}

// scrapePage renders one job in bctx.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Timeout guard      – hard deadline on the whole job
//  2. Open page          – a fresh tab in the worker's context
//  3. DEFER: cleanup     – clear cookies and close the tab
//  4. Stealth injection  – before navigation
//  5. Identity           – device emulation, user agent and extra headers
//  6. Hijack mount       – extension filter (before navigation!)
//  7. Context binding    – propagate the deadline to all Rod operations
//  8. Observers          – capture and idle listeners, before navigation
//  9. Navigate and wait  – load event, network idle, implicit wait
//  10. Collect           – HTML, final URL, screenshots, request records
func (e *PagePool) scrapePage(ctx context.Context, bctx *rod.Browser, rawURL string) (*models.ScrapedPage, error) {
	// ── 1. Timeout guard ──────────────────────────────────────────────
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	// ── 2. Open page ──────────────────────────────────────────────────
	page, err := bctx.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to open page", err)
	}

	// ── 3. CRITICAL DEFER: the tab is closed on every path ────────────
	// Uses the original page reference so cleanup works after ctx expired.
	defer func() {
		if e.opts.ClearCookies {
			if err := bctx.SetCookies(nil); err != nil {
				slog.Debug("cleanup: failed to clear cookies", "error", err)
			}
		}
		if err := page.Close(); err != nil {
			slog.Warn("cleanup: failed to close page", "url", rawURL, "error", err)
		}
	}()

	// ── 4. Stealth injection ──────────────────────────────────────────
	if e.opts.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}

	// ── 5. Device, user agent and extra headers ──────────────────────
	// An emulated device brings its own user agent.
	if e.device != nil {
		if err := page.Emulate(*e.device); err != nil {
			return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to emulate device", err)
		}
	} else if e.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: e.opts.UserAgent}); err != nil {
			slog.Debug("failed to set user agent", "error", err)
		}
	}
	if len(e.opts.Headers) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(e.opts.Headers)}.Call(page)
	}

	// ── 6. Mount extension filter ─────────────────────────────────────
	router := setupHijack(page, newExtFilter(e.opts.AllowExts, e.opts.BlockExts))
	if router != nil {
		defer func() { _ = router.Stop() }()
	}

	// ── 7. Bind job context to page ───────────────────────────────────
	p := page.Context(ctx)

	// ── 8. Observers BEFORE navigation ────────────────────────────────
	var capt *capture
	if e.opts.WithRequests {
		capt = newCapture()
		stop := capt.listen(p)
		defer stop()
	}
	// NOTE: WaitRequestIdle uses the Fetch domain which conflicts with
	// HijackRequests on Chromium 145+, so it is skipped when filtering.
	var waitIdle func()
	if e.opts.NetworkIdle && router == nil {
		waitIdle = p.WaitRequestIdle(e.opts.IdleTime, nil, nil, nil)
	}

	// ── 9. Navigate and wait ──────────────────────────────────────────
	if err := p.Navigate(rawURL); err != nil {
		return nil, categorizeError(err, "navigation to target URL failed")
	}
	if err := p.WaitLoad(); err != nil {
		return nil, categorizeError(err, "page did not finish loading")
	}
	if waitIdle != nil {
		waitIdle()
	}
	if e.opts.ImplicitWait > 0 {
		select {
		case <-time.After(e.opts.ImplicitWait):
		case <-ctx.Done():
			return nil, categorizeError(ctx.Err(), "implicit wait interrupted")
		}
	}

	// ── 10. Collect ───────────────────────────────────────────────────
	html, err := p.HTML()
	if err != nil {
		return nil, categorizeError(err, "failed to extract page HTML")
	}
	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = rawURL
	}

	out := &models.ScrapedPage{
		RequestURL: rawURL,
		URL:        finalURL,
		Date:       time.Now().UTC(),
		Body:       []byte(html),
		Requests:   []models.RequestRecord{},
		Cert:       map[string]string{},
	}

	if e.opts.Screenshots {
		if out.Screenshot, err = e.screenshot(p, false); err != nil {
			return nil, err
		}
		if out.FullScreenshot, err = e.screenshot(p, true); err != nil {
			return nil, err
		}
	}

	// Bodies live in the browser's network buffer, so they are read while
	// the capture listener is still attached.
	if capt != nil {
		out.Requests = capt.records(responseBody(p))
		out.Cert = documentCert(out.Requests, finalURL)
	}
	return out, nil
}

// screenshot captures a PNG. A failure degrades to no screenshot unless the
// job deadline expired.
func (e *PagePool) screenshot(p *rod.Page, full bool) ([]byte, error) {
	img, err := p.Screenshot(full, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err == nil {
		return img, nil
	}
	if ctxErr := p.GetContext().Err(); ctxErr != nil {
		return nil, categorizeError(ctxErr, "screenshot interrupted")
	}
	slog.Debug("screenshot failed, continuing without it", "full_page", full, "error", err)
	return nil, nil
}

// launcherProxy reduces a proxy URL to the scheme and host the browser
// accepts. Credentials are not supported by the browser flag and are
// dropped with a warning.
func launcherProxy(raw string) (string, error) {
	if err := ValidateProxy(KindBrowser, raw); err != nil {
		return "", err
	}
	u, _ := url.Parse(raw)
	if u.User != nil {
		slog.Warn("browser engine ignores proxy credentials", "proxy", u.Redacted())
	}
	// Chromium resolves host names through any SOCKS5 proxy.
	scheme := u.Scheme
	if scheme == "socks5h" {
		scheme = "socks5"
	}
	return scheme + "://" + u.Host, nil
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors (useful for optional metadata extraction).
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
