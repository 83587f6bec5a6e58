package engine

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// fileCookie is one entry of a Netscape cookie file.
type fileCookie struct {
	origin *url.URL
	cookie *http.Cookie
}

// loadCookieFile parses a Netscape/Mozilla cookie file as written by curl
// and browsers' "export cookies" tools.
func loadCookieFile(path string) ([]fileCookie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseCookieFile(f)
}

func parseCookieFile(r io.Reader) ([]fileCookie, error) {
	var out []fileCookie
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimRight(sc.Text(), "\r")
		httpOnly := false
		if rest, ok := strings.CutPrefix(line, "#HttpOnly_"); ok {
			line, httpOnly = rest, true
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			return nil, fmt.Errorf("cookie file line %d: want 7 tab-separated fields, got %d", n, len(fields))
		}
		domain, subdomains, path, secure := fields[0], fields[1], fields[2], fields[3]
		expires, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cookie file line %d: bad expiry %q", n, fields[4])
		}

		host := strings.TrimPrefix(domain, ".")
		c := &http.Cookie{
			Name:     fields[5],
			Value:    fields[6],
			Path:     path,
			Secure:   strings.EqualFold(secure, "TRUE"),
			HttpOnly: httpOnly,
		}
		if strings.EqualFold(subdomains, "TRUE") {
			c.Domain = host
		}
		if expires > 0 {
			c.Expires = time.Unix(expires, 0)
		}
		scheme := "http"
		if c.Secure {
			scheme = "https"
		}
		out = append(out, fileCookie{
			origin: &url.URL{Scheme: scheme, Host: host, Path: path},
			cookie: c,
		})
	}
	return out, sc.Err()
}

// newCookieJar returns a jar seeded with seed. Every handle gets its own jar.
func newCookieJar(seed []fileCookie) (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	for _, fc := range seed {
		jar.SetCookies(fc.origin, []*http.Cookie{fc.cookie})
	}
	return jar, nil
}
