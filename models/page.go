package models

import "time"

// ScrapedPage is the unit of output produced per successfully processed job.
//
// Byte blobs serialize as base64 strings. Fields are never omitted from the
// JSON record so stripped and unstripped records share one shape.
type ScrapedPage struct {
	// RequestURL is the job URL exactly as it was read from the job source.
	RequestURL string `json:"request_url"`

	// URL is the final URL after redirects. Always set on success.
	URL string `json:"url"`

	// Date is when the scrape completed.
	Date time.Time `json:"date"`

	// Body is the raw final content of the page.
	Body []byte `json:"body"`

	// Requests holds every network exchange in chronological order.
	Requests []RequestRecord `json:"requests"`

	// Screenshot and FullScreenshot are PNGs. Browser engine only.
	Screenshot     []byte `json:"screenshot"`
	FullScreenshot []byte `json:"full_screenshot"`

	// Cert holds the leaf certificate fields of the final document.
	Cert map[string]string `json:"cert"`
}

// RequestRecord describes one request issued while scraping a page.
type RequestRecord struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Host         string            `json:"host"`
	Path         string            `json:"path"`
	Params       string            `json:"params"`
	ResourceType string            `json:"resource_type"`
	Date         time.Time         `json:"date"`
	Headers      map[string]string `json:"headers"`
	Body         []byte            `json:"body"`
	Cert         map[string]string `json:"cert"`

	// Response is nil unless the exchange completed with a response the
	// engine keeps. Every 200 response is kept.
	Response *ResponseRecord `json:"response"`

	// CaptureError is set when part of the exchange could not be read.
	CaptureError string `json:"capture_error,omitempty"`
}

// ResponseRecord is the response half of a RequestRecord.
type ResponseRecord struct {
	StatusCode int               `json:"status_code"`
	Reason     string            `json:"reason"`
	Date       time.Time         `json:"date"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
}
