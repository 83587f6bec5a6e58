package pipeline

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/use-agent/sitegrab/ledger"
	"github.com/use-agent/sitegrab/models"
	"github.com/use-agent/sitegrab/progress"
	"github.com/use-agent/sitegrab/sink"
	"github.com/use-agent/sitegrab/strip"
)

// fakeEngine yields canned results and records how far it got.
type fakeEngine struct {
	results  []models.Result
	setupErr error
	yielded  int
	stopped  bool
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Run(ctx context.Context, jobs []string) (iter.Seq[models.Result], error) {
	if f.setupErr != nil {
		return nil, f.setupErr
	}
	return func(yield func(models.Result) bool) {
		for _, r := range f.results {
			f.yielded++
			if !yield(r) {
				f.stopped = true
				return
			}
		}
	}, nil
}

func okResult(url string) models.Result {
	return models.Result{URL: url, Page: &models.ScrapedPage{
		RequestURL: url,
		URL:        url,
		Body:       []byte("<html>" + url + "</html>"),
		Requests:   []models.RequestRecord{},
		Cert:       map[string]string{},
	}}
}

type failingSink struct{ err error }

func (f *failingSink) Write(context.Context, *models.ScrapedPage) error { return f.err }
func (f *failingSink) Close() error                                    { return nil }

func TestRun_WritesSuccessesOnly(t *testing.T) {
	eng := &fakeEngine{results: []models.Result{
		okResult("https://a.example.com"),
		models.Failed("https://b.example.com", models.NewScrapeError(models.ErrCodeTimeout, "slow", nil)),
		okResult("https://c.example.com"),
	}}
	var buf bytes.Buffer
	out, err := Run(context.Background(), eng, []string{"a", "b", "c"}, Options{
		Sink:        sink.NewWriter(&buf),
		Strip:       strip.MustParse([]string{"body"}, nil),
		QuietErrors: true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Written != 2 || out.Status != ledger.StatusCompleted {
		t.Errorf("outcome = %+v", out)
	}
	if out.Summary.Succeeded != 2 || out.Summary.Failed != 1 || out.Summary.Completed != 3 {
		t.Errorf("summary = %+v", out.Summary)
	}

	pages, err := sink.ReadAll(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 {
		t.Fatalf("records = %d, want 2", len(pages))
	}
	for _, p := range pages {
		if len(p.Body) != 0 {
			t.Errorf("%s: body not stripped", p.RequestURL)
		}
	}
	if strings.HasSuffix(buf.String(), sink.Delimiter) {
		t.Error("output ends with a delimiter")
	}

	// The engine's page is not modified by stripping.
	if len(eng.results[0].Page.Body) == 0 {
		t.Error("stripping mutated the engine's page")
	}
}

func TestRun_SetupErrorIsFatal(t *testing.T) {
	setup := models.NewScrapeError(models.ErrCodeSetup, "failed to launch browser", nil)
	eng := &fakeEngine{setupErr: setup}
	l, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	out, err := Run(context.Background(), eng, []string{"a"}, Options{Sink: sink.NewWriter(&bytes.Buffer{}), Ledger: l})
	if !errors.Is(err, setup) {
		t.Fatalf("Run() error = %v, want setup error", err)
	}
	if out != nil {
		t.Errorf("outcome = %+v, want nil", out)
	}
}

func TestRun_SinkFailureAborts(t *testing.T) {
	eng := &fakeEngine{results: []models.Result{
		okResult("https://a.example.com"),
		okResult("https://b.example.com"),
		okResult("https://c.example.com"),
	}}
	out, err := Run(context.Background(), eng, []string{"a", "b", "c"}, Options{
		Sink: &failingSink{err: errors.New("disk full")},
	})
	if code := models.CodeOf(err); code != models.ErrCodeSink {
		t.Fatalf("code = %q, want %q", code, models.ErrCodeSink)
	}
	if !eng.stopped || eng.yielded != 1 {
		t.Errorf("engine yielded=%d stopped=%v, want 1/true", eng.yielded, eng.stopped)
	}
	if out.Status != ledger.StatusFailed {
		t.Errorf("status = %q, want %q", out.Status, ledger.StatusFailed)
	}
}

func TestRun_RecordsLedger(t *testing.T) {
	l, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	eng := &fakeEngine{results: []models.Result{
		okResult("https://a.example.com"),
		models.Failed("https://b.example.com", models.NewScrapeError(models.ErrCodeTransfer, "refused", nil)),
	}}
	rep := progress.New(2)
	out, err := Run(context.Background(), eng, []string{"a", "b"}, Options{
		Sink:        sink.NewWriter(&bytes.Buffer{}),
		Reporter:    rep,
		Ledger:      l,
		QuietErrors: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	run, err := l.Run(context.Background(), out.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Engine != "fake" || run.Status != ledger.StatusCompleted || run.Succeeded != 1 || run.Failed != 1 {
		t.Errorf("run = %+v", run)
	}
	jobs, err := l.Jobs(context.Background(), out.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 || jobs[1].ErrorCode != models.ErrCodeTransfer {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestRun_CancelledStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := &fakeEngine{results: []models.Result{
		models.Failed("https://a.example.com", models.NewScrapeError(models.ErrCodeCancelled, "run cancelled before job started", context.Canceled)),
	}}
	out, err := Run(ctx, eng, []string{"a"}, Options{Sink: sink.NewWriter(&bytes.Buffer{}), QuietErrors: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != ledger.StatusCancelled {
		t.Errorf("status = %q, want %q", out.Status, ledger.StatusCancelled)
	}
	if out.Summary.Failed != 1 {
		t.Errorf("summary = %+v", out.Summary)
	}
}
