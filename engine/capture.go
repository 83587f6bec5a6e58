package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/sitegrab/models"
	"github.com/use-agent/sitegrab/strip"
)

// exchange is one request hop observed on the page.
type exchange struct {
	id       proto.NetworkRequestID
	rec      models.RequestRecord
	status   int
	reason   string
	headers  map[string]string
	date     time.Time
	security *proto.NetworkSecurityDetails
	finished bool
	failure  string
}

// capture records the network exchanges of one page in the order their
// requests were issued. Event handlers run on the listener goroutine.
type capture struct {
	mu        sync.Mutex
	exchanges []*exchange
	latest    map[proto.NetworkRequestID]*exchange
	now       func() time.Time
}

func newCapture() *capture {
	return &capture{
		latest: make(map[proto.NetworkRequestID]*exchange),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// listen subscribes to the page's network events. It must be called before
// navigation. The returned stop func ends the subscription and waits for
// the listener to exit.
func (c *capture) listen(p *rod.Page) (stop func()) {
	ctx, cancel := context.WithCancel(p.GetContext())
	wait := p.Context(ctx).EachEvent(
		func(e *proto.NetworkRequestWillBeSent) { c.onRequest(e) },
		func(e *proto.NetworkResponseReceived) { c.onResponse(e) },
		func(e *proto.NetworkLoadingFinished) { c.onFinished(e.RequestID) },
		func(e *proto.NetworkLoadingFailed) { c.onFailed(e.RequestID, e.ErrorText) },
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
	}()
	return sync.OnceFunc(func() {
		cancel()
		<-done
	})
}

func (c *capture) onRequest(e *proto.NetworkRequestWillBeSent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A redirect reuses the request id: close the previous hop with the
	// redirect response before recording the next one.
	if prev, ok := c.latest[e.RequestID]; ok && e.RedirectResponse != nil {
		c.applyResponse(prev, e.RedirectResponse)
		prev.finished = true
	}

	ex := &exchange{id: e.RequestID}
	if e.Request != nil {
		ex.rec = requestRecord(e.Request.URL, e.Request.Method, e.Request.Headers, e.Request.PostData)
	}
	ex.rec.ResourceType = normalizeResourceType(string(e.Type))
	ex.rec.Date = c.now()
	c.exchanges = append(c.exchanges, ex)
	c.latest[e.RequestID] = ex
}

func (c *capture) onResponse(e *proto.NetworkResponseReceived) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ex, ok := c.latest[e.RequestID]
	if !ok || e.Response == nil {
		return
	}
	if e.Type != "" {
		ex.rec.ResourceType = normalizeResourceType(string(e.Type))
	}
	c.applyResponse(ex, e.Response)
}

func (c *capture) applyResponse(ex *exchange, r *proto.NetworkResponse) {
	ex.status = r.Status
	ex.reason = r.StatusText
	ex.headers = flattenCDPHeaders(r.Headers)
	ex.date = c.now()
	ex.security = r.SecurityDetails
}

func (c *capture) onFinished(id proto.NetworkRequestID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ex, ok := c.latest[id]; ok {
		ex.finished = true
	}
}

func (c *capture) onFailed(id proto.NetworkRequestID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ex, ok := c.latest[id]; ok {
		ex.failure = reason
	}
}

// bodyFetcher loads the response body of a request.
type bodyFetcher func(id proto.NetworkRequestID) ([]byte, error)

// records builds the ordered request records. Every 200 response gets a
// ResponseRecord whose body is loaded with fetch; a failed load keeps the
// status and headers and notes the failure on the record. Other statuses
// yield a record without a response.
func (c *capture) records(fetch bodyFetcher) []models.RequestRecord {
	c.mu.Lock()
	snapshot := make([]exchange, len(c.exchanges))
	for i, ex := range c.exchanges {
		snapshot[i] = *ex
	}
	c.mu.Unlock()

	out := make([]models.RequestRecord, 0, len(snapshot))
	for _, ex := range snapshot {
		rec := ex.rec
		if ex.security != nil {
			rec.Cert = securityCert(ex.security)
		}
		if ex.status == 200 {
			resp := &models.ResponseRecord{
				StatusCode: ex.status,
				Reason:     ex.reason,
				Date:       ex.date,
				Headers:    ex.headers,
			}
			body, err := fetch(ex.id)
			switch {
			case err != nil:
				rec.CaptureError = fmt.Sprintf("%s: response body: %v", models.ErrCodeCapture, err)
			case ex.failure != "":
				resp.Body = body
				rec.CaptureError = fmt.Sprintf("%s: loading failed: %s", models.ErrCodeCapture, ex.failure)
			default:
				resp.Body = body
			}
			rec.Response = resp
		}
		out = append(out, rec)
	}
	return out
}

// responseBody returns a bodyFetcher reading bodies from the page's
// network buffer.
func responseBody(p *rod.Page) bodyFetcher {
	return func(id proto.NetworkRequestID) ([]byte, error) {
		res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(p)
		if err != nil {
			return nil, err
		}
		if res.Base64Encoded {
			return base64.StdEncoding.DecodeString(res.Body)
		}
		return []byte(res.Body), nil
	}
}

func requestRecord(rawURL, method string, headers proto.NetworkHeaders, postData string) models.RequestRecord {
	rec := models.RequestRecord{
		URL:     rawURL,
		Method:  method,
		Headers: flattenCDPHeaders(headers),
		Body:    []byte(postData),
		Cert:    map[string]string{},
	}
	if u, err := url.Parse(rawURL); err == nil {
		rec.Host = u.Host
		rec.Path = u.Path
		rec.Params = u.RawQuery
	}
	return rec
}

// flattenCDPHeaders converts CDP headers to lower-cased string values.
func flattenCDPHeaders(h proto.NetworkHeaders) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = v.Str()
	}
	return out
}

// normalizeResourceType lower-cases a CDP resource type and folds types
// outside the known set into "other".
func normalizeResourceType(t string) string {
	t = strings.ToLower(t)
	if slices.Contains(strip.ResourceTypes, t) {
		return t
	}
	return "other"
}

// securityCert is the partial certificate view the browser exposes.
func securityCert(sd *proto.NetworkSecurityDetails) map[string]string {
	info := map[string]string{
		"Subject":     sd.SubjectName,
		"Issuer":      sd.Issuer,
		"Start date":  epochTime(float64(sd.ValidFrom)).Format(certTimeLayout),
		"Expire date": epochTime(float64(sd.ValidTo)).Format(certTimeLayout),
		"Protocol":    sd.Protocol,
		"Cipher":      sd.Cipher,
	}
	if len(sd.SanList) > 0 {
		names := make([]string, len(sd.SanList))
		for i, n := range sd.SanList {
			names[i] = "DNS:" + n
		}
		info["X509v3 Subject Alternative Name"] = strings.Join(names, ", ")
	}
	return info
}

func epochTime(secs float64) time.Time {
	return time.Unix(0, int64(secs*float64(time.Second))).UTC()
}

// documentCert returns the certificate of the document that produced
// finalURL, falling back to the first document with one.
func documentCert(records []models.RequestRecord, finalURL string) map[string]string {
	var fallback map[string]string
	for _, r := range records {
		if r.ResourceType != "document" || len(r.Cert) == 0 {
			continue
		}
		if r.URL == finalURL {
			return r.Cert
		}
		if fallback == nil {
			fallback = r.Cert
		}
	}
	if fallback == nil {
		return map[string]string{}
	}
	return fallback
}
