package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/use-agent/sitegrab/models"
)

// queueItem is a job URL or a stop marker.
type queueItem struct {
	url  string
	stop bool
}

// jobQueue is seeded once with every job followed by one stop marker per
// worker. A channel receive hands each item to exactly one worker.
type jobQueue struct {
	items   chan queueItem
	markers int
}

func newJobQueue(jobs []string, workers int) *jobQueue {
	q := &jobQueue{items: make(chan queueItem, len(jobs)+workers), markers: workers}
	for _, u := range jobs {
		q.items <- queueItem{url: u}
	}
	for range workers {
		q.items <- queueItem{stop: true}
	}
	close(q.items)
	return q
}

// scrapeFunc processes one job on the given worker.
type scrapeFunc func(ctx context.Context, worker int, url string) (*models.ScrapedPage, error)

// workerStats counts worker lifecycle events for shutdown checks.
type workerStats struct {
	markers atomic.Int32
	exited  atomic.Int32
	jobs    atomic.Int64
}

// runWorkers starts one goroutine per worker. Each pulls items until it
// receives a stop marker. The returned channel carries one result per job
// and is closed after every worker has exited.
//
// The caller must drain the channel. To stop early, cancel ctx and keep
// draining: remaining jobs are reported as cancelled without being run.
func runWorkers(ctx context.Context, q *jobQueue, workers int, limiter *rate.Limiter, fn scrapeFunc) (<-chan models.Result, *workerStats) {
	out := make(chan models.Result)
	stats := &workerStats{}

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer stats.exited.Add(1)
			for item := range q.items {
				if item.stop {
					stats.markers.Add(1)
					return
				}
				stats.jobs.Add(1)
				out <- runJob(ctx, w, item.url, limiter, fn)
			}
		}()
	}

	go func() {
		wg.Wait()
		slog.Debug("workers joined", "workers", workers, "markers", stats.markers.Load())
		close(out)
	}()

	return out, stats
}

// runJob isolates a single job: cancellation, rate limiting and panics are
// all turned into an error result for that job alone.
func runJob(ctx context.Context, worker int, url string, limiter *rate.Limiter, fn scrapeFunc) (res models.Result) {
	if err := ctx.Err(); err != nil {
		return cancelledResult(url, err)
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return cancelledResult(url, err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker recovered from panic", "worker", worker, "url", url, "panic", r)
			res = models.Failed(url, models.NewScrapeError(models.ErrCodeInternal, "job panicked", fmt.Errorf("%v", r)))
		}
	}()

	page, err := fn(ctx, worker, url)
	if err != nil {
		return models.Failed(url, err)
	}
	if page == nil {
		return models.Failed(url, models.NewScrapeError(models.ErrCodeInternal, "engine returned no page", nil))
	}
	return models.Result{URL: url, Page: page}
}
