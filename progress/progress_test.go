package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/sitegrab/models"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestReporter_CountsAndElapsed(t *testing.T) {
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	r := New(5)
	r.now = c.now

	r.Start()
	ok := models.Result{URL: "a", Page: &models.ScrapedPage{}}
	r.Observe(ok)
	r.Observe(ok)
	r.Observe(ok)
	r.Observe(models.Failed("d", models.NewScrapeError(models.ErrCodeTimeout, "slow", nil)))
	r.Observe(models.Failed("e", errors.New("plain")))
	c.advance(1500 * time.Millisecond)

	s := r.Finish()
	if s.Total != 5 || s.Completed != 5 || s.Succeeded != 3 || s.Failed != 2 {
		t.Errorf("counts = %+v", s)
	}
	if s.ByCode[models.ErrCodeTimeout] != 1 || s.ByCode[models.ErrCodeInternal] != 1 {
		t.Errorf("by code = %v", s.ByCode)
	}
	if s.Elapsed != 1500*time.Millisecond {
		t.Errorf("elapsed = %s, want 1.5s", s.Elapsed)
	}

	// A second Finish keeps the original end time.
	c.advance(time.Hour)
	if again := r.Finish(); again.Elapsed != s.Elapsed {
		t.Errorf("elapsed after second Finish = %s, want %s", again.Elapsed, s.Elapsed)
	}
}

func TestReporter_SnapshotBeforeStart(t *testing.T) {
	r := New(1)
	s := r.Snapshot()
	if s.Elapsed != 0 || !s.Started.IsZero() {
		t.Errorf("snapshot = %+v, want zero timing", s)
	}
}

func TestReporter_ConcurrentObserve(t *testing.T) {
	r := New(200)
	r.Start()
	var wg sync.WaitGroup
	for i := range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%4 == 0 {
				r.Observe(models.Failed("x", models.NewScrapeError(models.ErrCodeTransfer, "boom", nil)))
				return
			}
			r.Observe(models.Result{URL: "x", Page: &models.ScrapedPage{}})
		}()
	}
	wg.Wait()
	s := r.Finish()
	if s.Completed != 200 || s.Succeeded != 150 || s.Failed != 50 {
		t.Errorf("counts = %+v", s)
	}
}

func TestReporter_LogStopsOnCancel(t *testing.T) {
	r := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Log(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log did not return after cancel")
	}
}
