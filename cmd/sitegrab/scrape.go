package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v2"

	"github.com/use-agent/sitegrab/config"
	"github.com/use-agent/sitegrab/engine"
	"github.com/use-agent/sitegrab/jobs"
	"github.com/use-agent/sitegrab/ledger"
	"github.com/use-agent/sitegrab/models"
	"github.com/use-agent/sitegrab/pipeline"
	"github.com/use-agent/sitegrab/progress"
	"github.com/use-agent/sitegrab/sink"
	"github.com/use-agent/sitegrab/webhook"
)

func scrapeAction(c *cli.Context) error {
	ctx := c.Context

	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()
	if path := c.String("config"); path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return err
		}
	}
	applyFlags(c, cfg)

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)

	// ── 3. Validate ─────────────────────────────────────────────────
	if c.NArg() != 1 {
		return models.ConfigError("scrape takes exactly one job file (got %d arguments)", c.NArg())
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	slog.Info("sitegrab starting", "config", cfg.String())

	// ── 4. Load jobs ────────────────────────────────────────────────
	urls, stats, err := loadJobs(c.Args().First(), jobs.Options{Dedupe: cfg.Output.Dedupe})
	if err != nil {
		return err
	}
	slog.Info("jobs loaded",
		"jobs", len(urls),
		"invalid", stats.Invalid,
		"duplicate", stats.Duplicate,
	)

	// ── 5. Build engine (setup happens at Run) ──────────────────────
	eng, err := engine.New(cfg.Engine.Kind, cfg.EngineOptions())
	if err != nil {
		return err
	}

	// ── 6. Open sinks ───────────────────────────────────────────────
	out, closeSinks, err := openSinks(cfg)
	if err != nil {
		return err
	}

	// ── 7. Open ledger ──────────────────────────────────────────────
	var lg *ledger.Ledger
	if cfg.Ledger.Path != "" {
		if lg, err = ledger.Open(cfg.Ledger.Path); err != nil {
			_ = closeSinks()
			return models.NewScrapeError(models.ErrCodeSetup, "failed to open ledger", err)
		}
		defer lg.Close()
		slog.Info("ledger opened", "path", lg.Path())
	}

	// ── 8. Run ──────────────────────────────────────────────────────
	rep := progress.New(len(urls))
	logCtx, stopLog := context.WithCancel(ctx)
	go rep.Log(logCtx, c.Duration("progress-interval"))

	outcome, runErr := pipeline.Run(ctx, eng, urls, pipeline.Options{
		Sink:        out,
		Strip:       cfg.StripSpec(),
		Reporter:    rep,
		Ledger:      lg,
		QuietErrors: cfg.Output.QuietErrors,
	})
	stopLog()

	// ── 9. Close sinks (flushes the record file) ────────────────────
	if err := closeSinks(); err != nil && runErr == nil {
		runErr = models.NewScrapeError(models.ErrCodeSink, "failed to close output", err)
	}

	// ── 10. Notify ──────────────────────────────────────────────────
	if cfg.Webhook.URL != "" && outcome != nil {
		notify(ctx, cfg.Webhook, eng.Name(), outcome, runErr)
	}

	if runErr != nil {
		return runErr
	}
	slog.Info("sitegrab stopped",
		"status", outcome.Status,
		"written", outcome.Written,
		"failed", outcome.Summary.Failed,
	)
	if outcome.Status == ledger.StatusCancelled {
		return cli.Exit("run cancelled", exitCancelled)
	}
	return nil
}

func loadJobs(path string, opts jobs.Options) ([]string, jobs.Stats, error) {
	if path == "-" {
		return jobs.Read(os.Stdin, opts)
	}
	return jobs.Load(path, opts)
}

// openSinks opens the record file and, when configured, the NATS mirror.
// The returned close func closes every sink and the NATS connection.
func openSinks(cfg *config.Config) (sink.Sink, func() error, error) {
	file, err := sink.Create(cfg.Output.Path)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Publish.NATSURL == "" {
		return file, file.Close, nil
	}

	nc, err := nats.Connect(cfg.Publish.NATSURL, nats.Name("sitegrab"))
	if err != nil {
		_ = file.Close()
		return nil, nil, models.NewScrapeError(models.ErrCodeSetup, "failed to connect to NATS", err)
	}
	slog.Info("publishing records", "nats", cfg.Publish.NATSURL, "subject", cfg.Publish.Subject)

	multi := sink.NewMulti(file, sink.NewNATS(nc, cfg.Publish.Subject))
	return multi, func() error {
		err := multi.Close()
		nc.Close()
		if n := multi.MirrorErrors(); n > 0 {
			slog.Warn("some records were not published", "failed", n)
		}
		return err
	}, nil
}

// runReport is the webhook payload.
type runReport struct {
	Engine    string           `json:"engine"`
	Status    string           `json:"status"`
	Written   int              `json:"written"`
	Summary   progress.Summary `json:"summary"`
	Finished  time.Time        `json:"finished"`
	Error     string           `json:"error,omitempty"`
	ErrorCode string           `json:"error_code,omitempty"`
}

func notify(ctx context.Context, cfg config.WebhookConfig, engineName string, outcome *pipeline.Outcome, runErr error) {
	typ := webhook.EventRunCompleted
	report := runReport{
		Engine:   engineName,
		Status:   outcome.Status,
		Written:  outcome.Written,
		Summary:  outcome.Summary,
		Finished: outcome.Summary.Finished,
	}
	if runErr != nil {
		typ = webhook.EventRunFailed
		report.Error = runErr.Error()
		report.ErrorCode = models.CodeOf(runErr)
	}

	// The run may have been cancelled; delivery still gets its own timeout.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	n := webhook.New(cfg.URL, cfg.Secret, cfg.Timeout.Duration)
	// Failures are logged by Notify and do not change the run's result.
	_ = n.Notify(nctx, webhook.NewEvent(typ, outcome.RunID, report))
}
