package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/proxy"
)

// chromeH1Spec returns a Chrome-like TLS ClientHello with ALPN forced to
// http/1.1 only. A fresh spec is built per handshake because ApplyPreset
// keeps references to the extension values.
func chromeH1Spec() (utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
	if err != nil {
		return utls.ClientHelloSpec{}, err
	}
	// Replace h2 with http/1.1 only in the ALPN extension so the server
	// never negotiates HTTP/2 (which Go's http.Transport cannot handle
	// over a utls connection).
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	return spec, nil
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// netShared is the state every handle's transport shares: the TCP or SOCKS
// dialer, the HTTP proxy URL and the TLS session caches.
type netShared struct {
	dial         dialFunc
	proxyURL     *url.URL
	tlsSessions  tls.ClientSessionCache
	utlsSessions utls.ClientSessionCache
}

func newNetShared(opts Options) (*netShared, error) {
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	nd := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	s := &netShared{
		dial:         nd.DialContext,
		tlsSessions:  tls.NewLRUClientSessionCache(0),
		utlsSessions: utls.NewLRUClientSessionCache(0),
	}
	if opts.Proxy == "" {
		return s, nil
	}

	u, err := url.Parse(opts.Proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		s.proxyURL = u
		if opts.Fingerprint == FingerprintChrome {
			slog.Warn("chrome tls fingerprint is not applied through an http proxy", "proxy", u.Redacted())
		}
	case "socks5", "socks5h":
		d, err := proxy.FromURL(u, nd)
		if err != nil {
			return nil, fmt.Errorf("socks proxy: %w", err)
		}
		if cd, ok := d.(proxy.ContextDialer); ok {
			s.dial = cd.DialContext
		} else {
			s.dial = func(_ context.Context, network, addr string) (net.Conn, error) {
				return d.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	return s, nil
}

// newTransport builds one handle's transport. HTTP/2 stays off so every
// transfer owns its connection for the duration of the exchange.
func newTransport(opts Options, shared *netShared) (*http.Transport, error) {
	t := &http.Transport{
		DialContext:           shared.dial,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   2,
		ResponseHeaderTimeout: opts.Timeout,
		DisableCompression:    true,
		ForceAttemptHTTP2:     false,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.Insecure,
			ClientSessionCache: shared.tlsSessions,
		},
	}
	if shared.proxyURL != nil {
		t.Proxy = http.ProxyURL(shared.proxyURL)
	}

	// The fingerprinted dialer cannot sit behind an HTTP CONNECT proxy,
	// which the transport tunnels with its own TLS client.
	if opts.Fingerprint == FingerprintChrome && shared.proxyURL == nil {
		if _, err := chromeH1Spec(); err != nil {
			return nil, fmt.Errorf("chrome tls spec: %w", err)
		}
		t.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := shared.dial(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return handshakeChrome(ctx, conn, addr, opts.Insecure, shared.utlsSessions)
		}
	}
	return t, nil
}

// handshakeChrome performs a TLS handshake on conn with the Chrome
// ClientHello. conn is closed on failure.
func handshakeChrome(ctx context.Context, conn net.Conn, addr string, insecure bool, sessions utls.ClientSessionCache) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	tlsConn := utls.UClient(conn, &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: insecure,
		ClientSessionCache: sessions,
	}, utls.HelloCustom)
	spec, err := chromeH1Spec()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := tlsConn.ApplyPreset(&spec); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply tls spec: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// newRedirectPolicy returns a CheckRedirect func honoring follow and max.
func newRedirectPolicy(follow bool, maxRedirects int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if !follow {
			return http.ErrUseLastResponse
		}
		if len(via) > maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
}
