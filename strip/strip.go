// Package strip removes bulky fields from scraped pages before they are
// persisted.
package strip

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/use-agent/sitegrab/models"
)

// Field names a blankable field of models.ScrapedPage.
type Field string

const (
	FieldRequestURL     Field = "request_url"
	FieldURL            Field = "url"
	FieldDate           Field = "date"
	FieldBody           Field = "body"
	FieldRequests       Field = "requests"
	FieldScreenshot     Field = "screenshot"
	FieldFullScreenshot Field = "full_screenshot"
	FieldCert           Field = "cert"
)

var fields = map[string]Field{
	"request_url":        FieldRequestURL,
	"requestURL":         FieldRequestURL,
	"url":                FieldURL,
	"finalURL":           FieldURL,
	"date":               FieldDate,
	"timestamp":          FieldDate,
	"body":               FieldBody,
	"requests":           FieldRequests,
	"screenshot":         FieldScreenshot,
	"full_screenshot":    FieldFullScreenshot,
	"fullScreenshot":     FieldFullScreenshot,
	"fullPageScreenshot": FieldFullScreenshot,
	"cert":               FieldCert,
	"certificateInfo":    FieldCert,
}

// ResourceTypes lists the request categories a keep-set may name.
var ResourceTypes = []string{
	"document", "stylesheet", "image", "media", "font", "script",
	"texttrack", "xhr", "fetch", "eventsource", "websocket", "manifest",
	"other",
}

// Spec is a parsed stripping policy. The zero value strips nothing.
type Spec struct {
	blank map[Field]struct{}
	keep  map[string]struct{}
}

// ParseSpec builds a Spec from field names and resource types.
// Unknown names are a CONFIG_INVALID error.
func ParseSpec(fieldNames, keepTypes []string) (Spec, error) {
	var s Spec
	for _, name := range fieldNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		f, ok := fields[name]
		if !ok {
			return Spec{}, models.ConfigError("unknown strip field %q (known: %s)", name, knownFields())
		}
		if s.blank == nil {
			s.blank = make(map[Field]struct{})
		}
		s.blank[f] = struct{}{}
	}
	for _, t := range keepTypes {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if !slices.Contains(ResourceTypes, t) {
			return Spec{}, models.ConfigError("unknown resource type %q (known: %s)", t, strings.Join(ResourceTypes, ", "))
		}
		if s.keep == nil {
			s.keep = make(map[string]struct{})
		}
		s.keep[t] = struct{}{}
	}
	return s, nil
}

// Empty reports whether applying s would leave every page unchanged.
func (s Spec) Empty() bool {
	return len(s.blank) == 0 && len(s.keep) == 0
}

// Blanks reports whether f is named by s.
func (s Spec) Blanks(f Field) bool {
	_, ok := s.blank[f]
	return ok
}

func (s Spec) String() string {
	var parts []string
	for f := range s.blank {
		parts = append(parts, string(f))
	}
	sort.Strings(parts)
	out := "blank=[" + strings.Join(parts, " ") + "]"
	parts = parts[:0]
	for t := range s.keep {
		parts = append(parts, t)
	}
	sort.Strings(parts)
	return out + " keep=[" + strings.Join(parts, " ") + "]"
}

// Apply returns a copy of page with s applied. page itself is not modified.
//
// Named fields are replaced by their zero value: strings become "",
// sequences and mappings become empty, optional blobs become nil. When a
// keep-set is present the request list is filtered to those resource types
// instead of being blanked, even if "requests" is also named.
func Apply(page *models.ScrapedPage, s Spec) *models.ScrapedPage {
	if page == nil {
		return nil
	}
	out := *page
	if s.Empty() {
		return &out
	}

	for f := range s.blank {
		switch f {
		case FieldRequestURL:
			out.RequestURL = ""
		case FieldURL:
			out.URL = ""
		case FieldDate:
			out.Date = time.Time{}
		case FieldBody:
			out.Body = []byte{}
		case FieldRequests:
			if len(s.keep) == 0 {
				out.Requests = []models.RequestRecord{}
			}
		case FieldScreenshot:
			out.Screenshot = nil
		case FieldFullScreenshot:
			out.FullScreenshot = nil
		case FieldCert:
			out.Cert = map[string]string{}
		}
	}

	if len(s.keep) > 0 {
		kept := make([]models.RequestRecord, 0, len(page.Requests))
		for _, r := range page.Requests {
			if _, ok := s.keep[strings.ToLower(r.ResourceType)]; ok {
				kept = append(kept, r)
			}
		}
		out.Requests = kept
	}
	return &out
}

func knownFields() string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// MustParse is ParseSpec for tests and constant policies.
func MustParse(fieldNames, keepTypes []string) Spec {
	s, err := ParseSpec(fieldNames, keepTypes)
	if err != nil {
		panic(fmt.Sprintf("strip: %v", err))
	}
	return s
}
