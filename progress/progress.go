// Package progress counts job completions and times a run.
package progress

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/sitegrab/models"
)

// Summary is a snapshot of a run's counters.
type Summary struct {
	Total     int            `json:"total"`
	Completed int            `json:"completed"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	ByCode    map[string]int `json:"by_code"`
	Started   time.Time      `json:"started"`
	Finished  time.Time      `json:"finished"`
	Elapsed   time.Duration  `json:"elapsed"`
}

// Reporter observes every completion. It is safe for concurrent use.
type Reporter struct {
	total     int
	completed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	mu       sync.Mutex
	byCode   map[string]int
	started  time.Time
	finished time.Time

	now func() time.Time
}

// New returns a Reporter for a run of total jobs.
func New(total int) *Reporter {
	return &Reporter{
		total:  total,
		byCode: make(map[string]int),
		now:    time.Now,
	}
}

// Start records the wall-clock start. Calling it again has no effect.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started.IsZero() {
		r.started = r.now()
	}
}

// Observe counts one completion.
func (r *Reporter) Observe(res models.Result) {
	r.completed.Add(1)
	if res.OK() {
		r.succeeded.Add(1)
		return
	}
	r.failed.Add(1)
	r.mu.Lock()
	r.byCode[models.CodeOf(res.Err)]++
	r.mu.Unlock()
}

// Finish records the wall-clock end and logs the summary. Only the first
// call sets the end time.
func (r *Reporter) Finish() Summary {
	r.mu.Lock()
	if r.finished.IsZero() {
		r.finished = r.now()
	}
	r.mu.Unlock()

	s := r.Snapshot()
	slog.Info("run finished",
		"total", s.Total,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"elapsed", s.Elapsed.Round(time.Millisecond).String(),
	)
	return s
}

// Snapshot returns the current counters. Elapsed runs up to now while the
// run is still in progress.
func (r *Reporter) Snapshot() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		Total:     r.total,
		Completed: int(r.completed.Load()),
		Succeeded: int(r.succeeded.Load()),
		Failed:    int(r.failed.Load()),
		ByCode:    maps.Clone(r.byCode),
		Started:   r.started,
		Finished:  r.finished,
	}
	switch {
	case r.started.IsZero():
	case r.finished.IsZero():
		s.Elapsed = r.now().Sub(r.started)
	default:
		s.Elapsed = r.finished.Sub(r.started)
	}
	return s
}

// Log emits a progress line every interval until ctx is done.
func (r *Reporter) Log(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := r.Snapshot()
			slog.Info("progress",
				"completed", s.Completed,
				"total", s.Total,
				"failed", s.Failed,
				"per_interval", s.Completed-last,
				"elapsed", s.Elapsed.Round(time.Second).String(),
			)
			last = s.Completed
		}
	}
}
