package engine

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

func request(id, url string, typ proto.NetworkResourceType) *proto.NetworkRequestWillBeSent {
	return &proto.NetworkRequestWillBeSent{
		RequestID: proto.NetworkRequestID(id),
		Request: &proto.NetworkRequest{
			URL:     url,
			Method:  "GET",
			Headers: proto.NetworkHeaders{"Accept": gson.New("text/html")},
		},
		Type: typ,
	}
}

func response(id string, status int, typ proto.NetworkResourceType) *proto.NetworkResponseReceived {
	return &proto.NetworkResponseReceived{
		RequestID: proto.NetworkRequestID(id),
		Type:      typ,
		Response: &proto.NetworkResponse{
			URL:        "ignored",
			Status:     status,
			StatusText: "Status",
			Headers:    proto.NetworkHeaders{"Content-Type": gson.New("text/html")},
		},
	}
}

func bodies(m map[string]string) bodyFetcher {
	return func(id proto.NetworkRequestID) ([]byte, error) {
		b, ok := m[string(id)]
		if !ok {
			return nil, errors.New("No resource with given identifier found")
		}
		return []byte(b), nil
	}
}

func fixedClock(c *capture) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return ts }
}

func TestCapture_OrderAndStatusRule(t *testing.T) {
	c := newCapture()
	fixedClock(c)

	c.onRequest(request("1", "https://example.com/?q=1", proto.NetworkResourceTypeDocument))
	c.onRequest(request("2", "https://example.com/app.js", proto.NetworkResourceTypeScript))
	c.onRequest(request("3", "https://example.com/missing.png", proto.NetworkResourceTypeImage))
	c.onResponse(response("1", 200, proto.NetworkResourceTypeDocument))
	c.onResponse(response("3", 404, proto.NetworkResourceTypeImage))
	c.onResponse(response("2", 200, proto.NetworkResourceTypeScript))
	c.onFinished("1")
	c.onFinished("2")

	recs := c.records(bodies(map[string]string{"1": "<html></html>", "2": "alert(1)"}))
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}

	doc := recs[0]
	if doc.URL != "https://example.com/?q=1" || doc.Host != "example.com" || doc.Path != "/" || doc.Params != "q=1" {
		t.Errorf("doc url parts = %q %q %q %q", doc.URL, doc.Host, doc.Path, doc.Params)
	}
	if doc.ResourceType != "document" {
		t.Errorf("resource type = %q, want document", doc.ResourceType)
	}
	if doc.Headers["accept"] != "text/html" {
		t.Errorf("request headers = %v", doc.Headers)
	}
	if doc.Response == nil || string(doc.Response.Body) != "<html></html>" {
		t.Fatalf("doc response = %+v", doc.Response)
	}
	if doc.Response.Headers["content-type"] != "text/html" {
		t.Errorf("response headers = %v", doc.Response.Headers)
	}

	if recs[1].ResourceType != "script" || recs[1].Response == nil || string(recs[1].Response.Body) != "alert(1)" {
		t.Errorf("script record = %+v", recs[1])
	}
	if recs[2].Response != nil {
		t.Errorf("404 record has a response: %+v", recs[2].Response)
	}
}

func TestCapture_RedirectChain(t *testing.T) {
	c := newCapture()
	c.onRequest(request("1", "http://example.com/", proto.NetworkResourceTypeDocument))

	next := request("1", "https://example.com/", proto.NetworkResourceTypeDocument)
	next.RedirectResponse = &proto.NetworkResponse{Status: 301, StatusText: "Moved Permanently"}
	c.onRequest(next)
	c.onResponse(response("1", 200, proto.NetworkResourceTypeDocument))

	recs := c.records(bodies(map[string]string{"1": "final"}))
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].URL != "http://example.com/" || recs[0].Response != nil {
		t.Errorf("first hop = %+v", recs[0])
	}
	if recs[1].URL != "https://example.com/" || recs[1].Response == nil || string(recs[1].Response.Body) != "final" {
		t.Errorf("second hop = %+v", recs[1])
	}
}

func TestCapture_BodyFailureKeepsResponse(t *testing.T) {
	c := newCapture()
	c.onRequest(request("7", "https://example.com/data.json", proto.NetworkResourceTypeFetch))
	c.onResponse(response("7", 200, proto.NetworkResourceTypeFetch))

	recs := c.records(bodies(nil))
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.Response == nil || r.Response.StatusCode != 200 {
		t.Fatalf("response = %+v", r.Response)
	}
	if r.Response.Body != nil {
		t.Errorf("body = %q, want nil", r.Response.Body)
	}
	if !strings.HasPrefix(r.CaptureError, "CAPTURE_FAILED") {
		t.Errorf("capture error = %q", r.CaptureError)
	}
}

func TestCapture_IgnoresUnknownIDs(t *testing.T) {
	c := newCapture()
	c.onResponse(response("x", 200, proto.NetworkResourceTypeDocument))
	c.onFinished("x")
	c.onFailed("x", "net::ERR_FAILED")
	if recs := c.records(bodies(nil)); len(recs) != 0 {
		t.Errorf("records = %d, want 0", len(recs))
	}
}

func TestNormalizeResourceType(t *testing.T) {
	tests := map[string]string{
		"Document":    "document",
		"XHR":         "xhr",
		"EventSource": "eventsource",
		"WebSocket":   "websocket",
		"Ping":        "other",
		"":            "other",
	}
	for in, want := range tests {
		if got := normalizeResourceType(in); got != want {
			t.Errorf("normalizeResourceType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSecurityCertAndDocumentCert(t *testing.T) {
	c := newCapture()
	c.onRequest(request("1", "https://example.com/", proto.NetworkResourceTypeDocument))
	resp := response("1", 200, proto.NetworkResourceTypeDocument)
	resp.Response.SecurityDetails = &proto.NetworkSecurityDetails{
		Protocol:    "TLS 1.3",
		SubjectName: "example.com",
		Issuer:      "Test CA",
		SanList:     []string{"example.com", "www.example.com"},
		ValidFrom:   proto.TimeSinceEpoch(0),
		ValidTo:     proto.TimeSinceEpoch(86400),
	}
	c.onResponse(resp)

	recs := c.records(bodies(map[string]string{"1": "ok"}))
	cert := documentCert(recs, "https://example.com/")
	if cert["Subject"] != "example.com" || cert["Issuer"] != "Test CA" {
		t.Errorf("cert = %v", cert)
	}
	if cert["Start date"] != "Jan  1 00:00:00 1970 GMT" {
		t.Errorf("start date = %q", cert["Start date"])
	}
	if cert["Expire date"] != "Jan  2 00:00:00 1970 GMT" {
		t.Errorf("expire date = %q", cert["Expire date"])
	}
	if cert["X509v3 Subject Alternative Name"] != "DNS:example.com, DNS:www.example.com" {
		t.Errorf("san = %q", cert["X509v3 Subject Alternative Name"])
	}

	if got := documentCert(nil, "https://example.com/"); got == nil || len(got) != 0 {
		t.Errorf("documentCert(nil) = %v, want empty map", got)
	}
}
