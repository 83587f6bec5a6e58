package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/use-agent/sitegrab/config"
)

func scrapeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file overlaid on the environment"},

		// engine
		&cli.StringFlag{Name: "engine", Aliases: []string{"e"}, Usage: "conn or browser"},
		&cli.IntFlag{Name: "connections", Aliases: []string{"n"}, Usage: "conn engine handle pool width"},
		&cli.IntFlag{Name: "pages", Aliases: []string{"p"}, Usage: "browser engine page count"},
		&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Usage: "per-job timeout"},
		&cli.Float64Flag{Name: "rate-limit", Usage: "max job starts per second (0 = unlimited)"},
		&cli.IntFlag{Name: "burst", Usage: "rate limit burst"},

		// shared request settings
		&cli.StringFlag{Name: "proxy", Usage: "proxy URL (http, https, socks5, socks5h; socks4 with the browser engine)"},
		&cli.StringSliceFlag{Name: "header", Aliases: []string{"H"}, Usage: `extra request header "Name: value"`},
		&cli.StringFlag{Name: "user-agent", Usage: "User-Agent override"},

		// conn engine
		&cli.BoolFlag{Name: "follow-redirects", Value: true, Usage: "follow redirects"},
		&cli.IntFlag{Name: "max-redirects", Usage: "redirect limit"},
		&cli.StringFlag{Name: "cookie-file", Usage: "Netscape cookie file"},
		&cli.BoolFlag{Name: "insecure", Aliases: []string{"k"}, Usage: "skip TLS verification"},
		&cli.StringFlag{Name: "fingerprint", Usage: "TLS fingerprint: chrome or go"},

		// browser engine
		&cli.BoolFlag{Name: "headless", Value: true, Usage: "run the browser headless"},
		&cli.BoolFlag{Name: "use-gpu", Usage: "keep GPU acceleration"},
		&cli.BoolFlag{Name: "no-sandbox", Usage: "disable the Chrome sandbox"},
		&cli.StringFlag{Name: "browser-bin", Usage: "Chromium binary"},
		&cli.BoolFlag{Name: "stealth", Value: true, Usage: "inject stealth script"},
		&cli.DurationFlag{Name: "implicit-wait", Usage: "extra wait after load"},
		&cli.BoolFlag{Name: "network-idle", Value: true, Usage: "wait for network idle after load"},
		&cli.StringSliceFlag{Name: "block-ext", Usage: "block sub-requests with this path extension"},
		&cli.StringSliceFlag{Name: "allow-ext", Usage: "always allow this path extension"},
		&cli.BoolFlag{Name: "clear-cookies", Value: true, Usage: "clear cookies after each page"},
		&cli.BoolFlag{Name: "with-requests", Value: true, Usage: "capture sub-requests"},
		&cli.BoolFlag{Name: "screenshots", Value: true, Usage: "capture screenshots"},
		&cli.StringFlag{Name: "mobile", Usage: `emulate a device, e.g. "iPhone X" or "Pixel 2 landscape"`},
		&cli.StringSliceFlag{Name: "extension", Usage: "load this unpacked browser extension directory"},

		// output
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "record file"},
		&cli.StringSliceFlag{Name: "strip", Usage: "field to blank before writing"},
		&cli.StringSliceFlag{Name: "keep-content", Usage: "resource type to keep in requests"},
		&cli.BoolFlag{Name: "dedupe", Usage: "drop repeated job URLs"},
		&cli.BoolFlag{Name: "quiet-errors", Aliases: []string{"q"}, Usage: "count job errors without logging each"},
		&cli.DurationFlag{Name: "progress-interval", Value: 10 * time.Second, Usage: "progress log interval (0 = off)"},

		// collaborators
		&cli.StringFlag{Name: "ledger", Usage: "SQLite run ledger path"},
		&cli.StringFlag{Name: "nats-url", Usage: "mirror records to this NATS server"},
		&cli.StringFlag{Name: "nats-subject", Usage: "NATS subject"},
		&cli.StringFlag{Name: "webhook-url", Usage: "notify this URL when the run ends"},
		&cli.StringFlag{Name: "webhook-secret", Usage: "HMAC secret for webhook signatures"},

		// logging
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		&cli.StringFlag{Name: "log-format", Usage: "json or text"},
	}
}

// applyFlags overrides cfg with every flag the user set explicitly.
func applyFlags(c *cli.Context, cfg *config.Config) {
	str := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	integer := func(name string, dst *int) {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if c.IsSet(name) {
			*dst = c.Bool(name)
		}
	}
	duration := func(name string, dst *config.Duration) {
		if c.IsSet(name) {
			*dst = config.DurationFrom(c.Duration(name))
		}
	}
	slice := func(name string, dst *[]string) {
		if c.IsSet(name) {
			*dst = c.StringSlice(name)
		}
	}

	str("engine", &cfg.Engine.Kind)
	integer("connections", &cfg.Engine.Connections)
	integer("pages", &cfg.Engine.Pages)
	duration("timeout", &cfg.Engine.Timeout)
	if c.IsSet("rate-limit") {
		cfg.Engine.RateLimit = c.Float64("rate-limit")
	}
	integer("burst", &cfg.Engine.Burst)

	str("proxy", &cfg.Request.Proxy)
	slice("header", &cfg.Request.Headers)
	str("user-agent", &cfg.Request.UserAgent)

	boolean("follow-redirects", &cfg.HTTP.FollowRedirects)
	integer("max-redirects", &cfg.HTTP.MaxRedirects)
	str("cookie-file", &cfg.HTTP.CookieFile)
	boolean("insecure", &cfg.HTTP.Insecure)
	str("fingerprint", &cfg.HTTP.Fingerprint)

	boolean("headless", &cfg.Browser.Headless)
	boolean("use-gpu", &cfg.Browser.UseGPU)
	boolean("no-sandbox", &cfg.Browser.NoSandbox)
	str("browser-bin", &cfg.Browser.BrowserBin)
	boolean("stealth", &cfg.Browser.Stealth)
	duration("implicit-wait", &cfg.Browser.ImplicitWait)
	boolean("network-idle", &cfg.Browser.NetworkIdle)
	slice("block-ext", &cfg.Browser.BlockExts)
	slice("allow-ext", &cfg.Browser.AllowExts)
	boolean("clear-cookies", &cfg.Browser.ClearCookies)
	boolean("with-requests", &cfg.Browser.WithRequests)
	boolean("screenshots", &cfg.Browser.Screenshots)
	str("mobile", &cfg.Browser.Mobile)
	slice("extension", &cfg.Browser.Extensions)

	str("output", &cfg.Output.Path)
	slice("strip", &cfg.Output.StripFields)
	slice("keep-content", &cfg.Output.KeepTypes)
	boolean("dedupe", &cfg.Output.Dedupe)
	boolean("quiet-errors", &cfg.Output.QuietErrors)

	str("ledger", &cfg.Ledger.Path)
	str("nats-url", &cfg.Publish.NATSURL)
	str("nats-subject", &cfg.Publish.Subject)
	str("webhook-url", &cfg.Webhook.URL)
	str("webhook-secret", &cfg.Webhook.Secret)

	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
}
