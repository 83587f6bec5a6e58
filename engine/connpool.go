package engine

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/use-agent/sitegrab/models"
)

const (
	defaultPollInterval = time.Second
	defaultMaxBodyBytes = 50 << 20
)

// ConnPool is the connection-pool engine. A fixed arena of pre-configured
// HTTP handles is driven by a single control loop: the loop binds pending
// jobs to free handles, waits a bounded time for completions, returns the
// handles and emits results in completion order.
//
// Transfers run on the Go runtime's network poller, one goroutine each; the
// loop is the only code that touches the arena or the pending queue.
type ConnPool struct {
	opts    Options
	cookies []fileCookie

	pollInterval time.Duration

	// observe is called after every bind with the number of bound slots.
	observe func(inUse int)
}

// NewConnPool validates opts and returns the engine. No network activity
// happens until Run.
func NewConnPool(opts Options) (*ConnPool, error) {
	if err := checkWidth(opts.Width); err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		return nil, models.ConfigError("timeout must be > 0 (got %s)", opts.Timeout)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Fingerprint == "" {
		opts.Fingerprint = FingerprintChrome
	}
	if opts.MaxRedirects < 0 {
		return nil, models.ConfigError("max redirects must be >= 0 (got %d)", opts.MaxRedirects)
	}
	if err := ValidateProxy(KindConn, opts.Proxy); err != nil {
		return nil, err
	}

	e := &ConnPool{opts: opts, pollInterval: defaultPollInterval}
	if opts.CookieFile != "" {
		cookies, err := loadCookieFile(opts.CookieFile)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeConfig, "failed to read cookie file", err)
		}
		e.cookies = cookies
	}
	if opts.RateLimit > 0 {
		e.pollInterval = min(e.pollInterval, time.Duration(float64(time.Second)/opts.RateLimit))
	}
	return e, nil
}

// Name returns the engine identifier.
func (e *ConnPool) Name() string { return KindConn }

// connHandle is one slot of the arena.
type connHandle struct {
	id        int
	client    *http.Client
	transport *http.Transport
}

func (e *ConnPool) newHandle(id int, shared *netShared) (*connHandle, error) {
	transport, err := newTransport(e.opts, shared)
	if err != nil {
		return nil, err
	}
	jar, err := newCookieJar(e.cookies)
	if err != nil {
		return nil, err
	}
	return &connHandle{
		id:        id,
		transport: transport,
		client: &http.Client{
			Transport:     transport,
			Jar:           jar,
			CheckRedirect: newRedirectPolicy(e.opts.FollowRedirects, e.opts.MaxRedirects),
		},
	}, nil
}

// Run allocates min(width, len(jobs)) handles and returns the result
// sequence. Handle setup failures are fatal.
func (e *ConnPool) Run(ctx context.Context, jobs []string) (iter.Seq[models.Result], error) {
	if len(jobs) == 0 {
		return func(func(models.Result) bool) {}, nil
	}

	shared, err := newNetShared(e.opts)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeSetup, "failed to configure network", err)
	}
	n := effectiveWidth(e.opts.Width, len(jobs))
	handles := make([]*connHandle, 0, n)
	for i := range n {
		h, err := e.newHandle(i, shared)
		if err != nil {
			closeHandles(handles)
			return nil, models.NewScrapeError(models.ErrCodeSetup, "failed to configure connection handle", err)
		}
		handles = append(handles, h)
	}
	slog.Info("handle pool allocated", "handles", n, "jobs", len(jobs), "fingerprint", e.opts.Fingerprint)

	slots := NewSlots(handles)
	var used atomic.Bool
	return func(yield func(models.Result) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		defer closeHandles(slots.All())
		e.loop(ctx, slots, jobs, yield)
		logDrained(slots)
	}, nil
}

type transfer struct {
	slot int
	res  models.Result
}

func (e *ConnPool) loop(ctx context.Context, slots *Slots[*connHandle], jobs []string, yield func(models.Result) bool) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	limiter := newLimiter(e.opts)
	done := make(chan transfer, slots.Len())
	pending := jobs
	inFlight := 0
	stopped := false

	emit := func(res models.Result) {
		if stopped {
			return
		}
		if !yield(res) {
			stopped = true
			pending = nil
			cancel()
		}
	}
	complete := func(t transfer) {
		inFlight--
		slots.Release(t.slot, t.res.OK())
		emit(t.res)
	}

	poll := time.NewTicker(e.pollInterval)
	defer poll.Stop()

	for len(pending) > 0 || inFlight > 0 {
		// 1. Bind pending jobs to free handles.
		for len(pending) > 0 && runCtx.Err() == nil {
			if limiter != nil && !limiter.Allow() {
				break
			}
			slot, h, ok := slots.Acquire()
			if !ok {
				break
			}
			url := pending[0]
			pending = pending[1:]
			inFlight++
			if e.observe != nil {
				e.observe(slots.InUse())
			}
			go func() {
				done <- transfer{slot: slot, res: h.fetch(runCtx, url, e.opts)}
			}()
		}

		// Jobs never bound before cancellation are still reported.
		if err := runCtx.Err(); err != nil && len(pending) > 0 {
			rest := pending
			pending = nil
			for _, url := range rest {
				emit(cancelledResult(url, err))
			}
		}
		if len(pending) == 0 && inFlight == 0 {
			break
		}

		// 2. Wait a bounded time for the multiplexer to make progress.
		select {
		case t := <-done:
			// 3. Drain every completed transfer.
			complete(t)
			for drained := false; !drained; {
				select {
				case t := <-done:
					complete(t)
				default:
					drained = true
				}
			}
		case <-poll.C:
		}
	}
}

// logDrained reports how the handle arena was used over a run.
func logDrained(slots *Slots[*connHandle]) {
	var transfers, failures, busiest int
	for i := range slots.Len() {
		uses, failed := slots.Uses(i)
		transfers += uses
		failures += failed
		busiest = max(busiest, uses)
	}
	slog.Debug("handle pool drained",
		"handles", slots.Len(),
		"peak_in_use", slots.Peak(),
		"transfers", transfers,
		"failed_transfers", failures,
		"busiest_handle_uses", busiest,
	)
}

func closeHandles(handles []*connHandle) {
	for _, h := range handles {
		h.transport.CloseIdleConnections()
	}
}

// fetch performs one transfer on h. It never returns a nil page without
// an error.
func (h *connHandle) fetch(ctx context.Context, rawURL string, opts Options) models.Result {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	// GotConn fires once per hop; the last hop's certificate wins.
	var cert map[string]string
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			cert = nil
			if chain := peerCertificates(info.Conn); len(chain) > 0 {
				cert = certInfo(chain[0])
			}
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodGet, rawURL, nil)
	if err != nil {
		return models.Failed(rawURL, models.NewScrapeError(models.ErrCodeTransfer, "invalid request", err))
	}
	setRequestHeaders(req.Header, opts)

	start := time.Now().UTC()
	resp, err := h.client.Do(req)
	if err != nil {
		slog.Debug("transfer failed", "handle", h.id, "url", rawURL, "error", err)
		return models.Failed(rawURL, classifyTransferError(err))
	}
	body, err := readBody(resp, opts.MaxBodyBytes)
	if err != nil {
		return models.Failed(rawURL, classifyTransferError(err))
	}
	now := time.Now().UTC()

	if cert == nil {
		cert = map[string]string{}
	}
	final := resp.Request.URL
	rec := models.RequestRecord{
		URL:          final.String(),
		Method:       resp.Request.Method,
		Host:         final.Host,
		Path:         final.Path,
		Params:       final.RawQuery,
		ResourceType: "document",
		Date:         start,
		Headers:      flattenHeaders(resp.Request.Header),
		Body:         []byte{},
		Cert:         cert,
		Response: &models.ResponseRecord{
			StatusCode: resp.StatusCode,
			Reason:     reasonPhrase(resp),
			Date:       now,
			Headers:    flattenHeaders(resp.Header),
			Body:       body,
		},
	}
	return models.Result{
		URL: rawURL,
		Page: &models.ScrapedPage{
			RequestURL: rawURL,
			URL:        final.String(),
			Date:       now,
			Body:       body,
			Requests:   []models.RequestRecord{rec},
			Cert:       cert,
		},
	}
}

func setRequestHeaders(h http.Header, opts Options) {
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	if opts.UserAgent != "" {
		h.Set("User-Agent", opts.UserAgent)
	}
	for k, v := range opts.Headers {
		h.Set(k, v)
	}
}

// flattenHeaders lower-cases names and joins repeated values with ", ".
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}

func reasonPhrase(resp *http.Response) string {
	if reason, ok := strings.CutPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); ok {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}
