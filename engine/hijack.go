package engine

import (
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// extFilter decides whether a sub-request may proceed based on the file
// extension of its URL path. Allow entries win over block entries, and a
// path matching neither list is allowed.
type extFilter struct {
	allow []string
	block []string
}

func newExtFilter(allow, block []string) *extFilter {
	return &extFilter{allow: normalizeExts(allow), block: normalizeExts(block)}
}

// active reports whether the filter can ever block a request.
func (f *extFilter) active() bool { return len(f.block) > 0 }

func (f *extFilter) allowed(path string) bool {
	path = strings.ToLower(path)
	for _, ext := range f.allow {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	for _, ext := range f.block {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	return true
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// setupHijack installs a request interceptor on the page that fails
// requests whose path the filter rejects and continues everything else.
//
// Returns the running HijackRouter so the caller can defer router.Stop().
// Returns nil if there is nothing to block.
func setupHijack(page *rod.Page, f *extFilter) *rod.HijackRouter {
	if !f.active() {
		return nil
	}

	router := page.HijackRequests()

	// Pattern "*" + empty resourceType = intercept ALL requests, then
	// decide per-request whether to block or continue.
	err := router.Add("*", "", func(ctx *rod.Hijack) {
		if u := ctx.Request.URL(); u != nil && !f.allowed(u.Path) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		slog.Warn("failed to install request filter, continuing unfiltered", "error", err)
		return nil
	}

	// router.Run() blocks, so it must live in its own goroutine.
	// It will exit when router.Stop() is called.
	go router.Run()

	return router
}
