package models

// Result is what an engine emits for one job: either a page or an error.
type Result struct {
	URL  string
	Page *ScrapedPage
	Err  error
}

// OK reports whether the job produced a page.
func (r Result) OK() bool {
	return r.Err == nil && r.Page != nil
}

// Failed builds an error result for url.
func Failed(url string, err error) Result {
	return Result{URL: url, Err: err}
}
