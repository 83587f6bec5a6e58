package strip

import (
	"reflect"
	"testing"
	"time"

	"github.com/use-agent/sitegrab/models"
)

func samplePage() *models.ScrapedPage {
	return &models.ScrapedPage{
		RequestURL: "http://example.com",
		URL:        "https://example.com/",
		Date:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Body:       []byte("<html></html>"),
		Requests: []models.RequestRecord{
			{URL: "https://example.com/", ResourceType: "document"},
			{URL: "https://example.com/a.css", ResourceType: "stylesheet"},
			{URL: "https://example.com/b.js", ResourceType: "Script"},
			{URL: "https://example.com/c.png", ResourceType: "image"},
		},
		Screenshot:     []byte{0x89, 'P', 'N', 'G'},
		FullScreenshot: []byte{0x89, 'P', 'N', 'G', 1},
		Cert:           map[string]string{"Subject": "CN=example.com"},
	}
}

func TestApply_EmptySpecIsIdentity(t *testing.T) {
	page := samplePage()
	got := Apply(page, Spec{})
	if !reflect.DeepEqual(got, page) {
		t.Errorf("empty spec changed the page: %+v", got)
	}
	if got == page {
		t.Error("Apply returned the input pointer, want a copy")
	}
}

func TestApply_BodyAndFullScreenshot(t *testing.T) {
	page := samplePage()
	got := Apply(page, MustParse([]string{"body", "fullScreenshot"}, nil))

	if len(got.Body) != 0 || got.Body == nil {
		t.Errorf("body = %v, want empty non-nil", got.Body)
	}
	if got.FullScreenshot != nil {
		t.Errorf("full screenshot = %v, want nil", got.FullScreenshot)
	}
	if got.URL != page.URL || got.RequestURL != page.RequestURL {
		t.Errorf("urls changed: %q %q", got.RequestURL, got.URL)
	}
	if len(got.Requests) != 4 {
		t.Errorf("requests = %d, want 4", len(got.Requests))
	}
	if len(page.Body) == 0 || page.FullScreenshot == nil {
		t.Error("input page was modified")
	}
}

func TestApply_KeepTypes(t *testing.T) {
	got := Apply(samplePage(), MustParse(nil, []string{"document", "script"}))
	if len(got.Requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(got.Requests))
	}
	if got.Requests[0].ResourceType != "document" || got.Requests[1].ResourceType != "Script" {
		t.Errorf("kept %q and %q", got.Requests[0].ResourceType, got.Requests[1].ResourceType)
	}
	if len(got.Body) == 0 {
		t.Error("body blanked without being named")
	}
}

func TestApply_KeepTypesWinOverBlankRequests(t *testing.T) {
	got := Apply(samplePage(), MustParse([]string{"requests"}, []string{"image"}))
	if len(got.Requests) != 1 || got.Requests[0].ResourceType != "image" {
		t.Errorf("requests = %+v, want only the image", got.Requests)
	}
}

func TestApply_BlankEverything(t *testing.T) {
	all := []string{"request_url", "url", "date", "body", "requests", "screenshot", "full_screenshot", "cert"}
	got := Apply(samplePage(), MustParse(all, nil))

	if got.RequestURL != "" || got.URL != "" {
		t.Errorf("urls not blanked: %q %q", got.RequestURL, got.URL)
	}
	if !got.Date.IsZero() {
		t.Errorf("date = %v, want zero", got.Date)
	}
	if got.Requests == nil || len(got.Requests) != 0 {
		t.Errorf("requests = %v, want empty non-nil", got.Requests)
	}
	if got.Screenshot != nil || got.FullScreenshot != nil {
		t.Error("screenshots not cleared")
	}
	if got.Cert == nil || len(got.Cert) != 0 {
		t.Errorf("cert = %v, want empty non-nil", got.Cert)
	}
}

func TestApply_Idempotent(t *testing.T) {
	specs := []Spec{
		MustParse([]string{"body"}, nil),
		MustParse([]string{"requests", "cert"}, nil),
		MustParse([]string{"screenshot"}, []string{"document", "xhr"}),
	}
	for _, s := range specs {
		once := Apply(samplePage(), s)
		twice := Apply(once, s)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("spec %s not idempotent:\n once=%+v\ntwice=%+v", s, once, twice)
		}
	}
}

func TestApply_Nil(t *testing.T) {
	if Apply(nil, MustParse([]string{"body"}, nil)) != nil {
		t.Error("Apply(nil) != nil")
	}
}

func TestParseSpec_Errors(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		keep   []string
	}{
		{"unknown field", []string{"headers"}, nil},
		{"unknown type", nil, []string{"video"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSpec(tt.fields, tt.keep)
			if err == nil {
				t.Fatal("expected error")
			}
			if models.CodeOf(err) != models.ErrCodeConfig {
				t.Errorf("code = %s, want %s", models.CodeOf(err), models.ErrCodeConfig)
			}
		})
	}
}

func TestParseSpec_AliasesAndBlanks(t *testing.T) {
	s, err := ParseSpec([]string{" fullPageScreenshot ", "certificateInfo", ""}, []string{"XHR"})
	if err != nil {
		t.Fatal(err)
	}
	if !s.Blanks(FieldFullScreenshot) || !s.Blanks(FieldCert) {
		t.Errorf("aliases not resolved: %s", s)
	}
	if s.Blanks(FieldBody) {
		t.Error("body reported as blanked")
	}
	if s.Empty() {
		t.Error("spec reported empty")
	}
}
