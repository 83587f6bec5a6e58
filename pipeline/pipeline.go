// Package pipeline drains an engine's results through stripping into a
// sink while counting, tracing and recording every completion.
package pipeline

import (
	"context"
	"iter"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/use-agent/sitegrab/engine"
	"github.com/use-agent/sitegrab/ledger"
	"github.com/use-agent/sitegrab/models"
	"github.com/use-agent/sitegrab/progress"
	"github.com/use-agent/sitegrab/sink"
	"github.com/use-agent/sitegrab/strip"
)

const tracerName = "github.com/use-agent/sitegrab/pipeline"

// Options wires the collaborators of a run. Sink is required; Reporter
// defaults to a fresh one and Ledger is optional.
type Options struct {
	Sink     sink.Sink
	Strip    strip.Spec
	Reporter *progress.Reporter
	Ledger   *ledger.Ledger

	// QuietErrors suppresses the per-job failure log. Failures are still
	// counted and recorded.
	QuietErrors bool
}

// Outcome describes a finished run.
type Outcome struct {
	RunID   int64
	Status  string
	Written int
	Summary progress.Summary
}

// Run executes jobs on eng. Engine setup errors are returned before any job
// starts and nothing is recorded. A sink failure aborts the run with a
// SINK_FAILED error; the outcome is still returned.
func Run(ctx context.Context, eng engine.Engine, jobs []string, opts Options) (*Outcome, error) {
	if opts.Reporter == nil {
		opts.Reporter = progress.New(len(jobs))
	}

	seq, err := eng.Run(ctx, jobs)
	if err != nil {
		return nil, err
	}

	// Bookkeeping outlives cancellation so cancelled runs are still recorded.
	bg := context.WithoutCancel(ctx)

	out := &Outcome{}
	if opts.Ledger != nil {
		id, err := opts.Ledger.BeginRun(bg, eng.Name(), len(jobs))
		if err != nil {
			slog.Warn("ledger unavailable, continuing without it", "error", err)
			opts.Ledger = nil
		}
		out.RunID = id
	}

	opts.Reporter.Start()
	d := &drainer{opts: opts, engine: eng.Name(), runID: out.RunID}
	err = d.drain(ctx, seq)
	out.Written = d.written
	out.Summary = opts.Reporter.Finish()

	switch {
	case err != nil:
		out.Status = ledger.StatusFailed
	case ctx.Err() != nil:
		out.Status = ledger.StatusCancelled
	default:
		out.Status = ledger.StatusCompleted
	}

	if opts.Ledger != nil {
		if ferr := opts.Ledger.FinishRun(bg, out.RunID, out.Summary, out.Status); ferr != nil {
			slog.Warn("failed to finish ledger run", "run_id", out.RunID, "error", ferr)
		}
	}
	return out, err
}

type drainer struct {
	opts    Options
	engine  string
	runID   int64
	written int
}

// drain consumes seq until it ends or the sink fails. Stopping early makes
// the engine cancel and release its resources.
func (d *drainer) drain(ctx context.Context, seq iter.Seq[models.Result]) error {
	tracer := otel.Tracer(tracerName)
	bg := context.WithoutCancel(ctx)

	for res := range seq {
		spanCtx, span := tracer.Start(bg, "job.complete")
		span.SetAttributes(
			attribute.String("sitegrab.url", res.URL),
			attribute.String("sitegrab.engine", d.engine),
			attribute.Bool("sitegrab.ok", res.OK()),
		)

		d.opts.Reporter.Observe(res)
		if d.opts.Ledger != nil {
			if err := d.opts.Ledger.RecordJob(bg, d.runID, res); err != nil {
				slog.Debug("ledger record failed", "url", res.URL, "error", err)
			}
		}

		if !res.OK() {
			code := models.CodeOf(res.Err)
			span.SetAttributes(attribute.String("sitegrab.error_code", code))
			if res.Err != nil {
				span.RecordError(res.Err)
				span.SetStatus(codes.Error, res.Err.Error())
			}
			if !d.opts.QuietErrors {
				slog.Warn("job failed", "url", res.URL, "code", code, "error", res.Err)
			}
			span.End()
			continue
		}

		page := strip.Apply(res.Page, d.opts.Strip)
		if err := d.opts.Sink.Write(spanCtx, page); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			if models.CodeOf(err) != models.ErrCodeSink {
				err = models.NewScrapeError(models.ErrCodeSink, "failed to write result", err)
			}
			slog.Error("sink write failed, aborting run", "url", res.URL, "error", err)
			return err
		}
		d.written++
		span.End()
	}
	return nil
}
