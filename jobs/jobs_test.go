package jobs

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestRead_SkipsCommentsAndInvalid(t *testing.T) {
	input := strings.Join([]string{
		"# seed list",
		"https://example.com",
		"",
		"   http://example.org/path?q=1  ",
		"not a url",
		"ftp://example.com/file",
		"http://localhost:8080/",
		"http://127.0.0.1/x",
		"https://example.com",
	}, "\n")

	got, stats, err := Read(strings.NewReader(input), Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"https://example.com",
		"http://example.org/path?q=1",
		"http://localhost:8080/",
		"http://127.0.0.1/x",
		"https://example.com",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Read = %v, want %v", got, want)
	}
	if stats.Comments != 1 || stats.Invalid != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRead_Dedupe(t *testing.T) {
	input := "https://a.example.com\nhttps://b.example.com\nhttps://a.example.com\n"
	got, stats, err := Read(strings.NewReader(input), Options{Dedupe: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "https://b.example.com" {
		t.Errorf("got %v", got)
	}
	if stats.Duplicate != 1 {
		t.Errorf("duplicates = %d, want 1", stats.Duplicate)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		url string
		ok  bool
	}{
		{"https://example.com", true},
		{"https://sub.example.co.uk:8443/a/b", true},
		{"http://[::1]/", true},
		{"https://example", false},
		{"https://-bad-.com", false},
		{"mailto:a@example.com", false},
		{"https://", false},
	}
	for _, tt := range tests {
		err := Validate(tt.url)
		if (err == nil) != tt.ok {
			t.Errorf("Validate(%q) = %v, want ok=%v", tt.url, err, tt.ok)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	if err := os.WriteFile(path, []byte("https://example.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, _, err := Load(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("got %v", got)
	}

	if _, _, err := Load(filepath.Join(t.TempDir(), "missing"), Options{}); err == nil {
		t.Error("expected error for missing file")
	}
}
