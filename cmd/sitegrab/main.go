package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/use-agent/sitegrab/config"
	"github.com/use-agent/sitegrab/models"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitConfig    = 2
	exitCancelled = 130
)

func main() {
	// SIGINT/SIGTERM cancel the run context; engines stop binding new jobs
	// and the sink is closed cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newApp().RunContext(ctx, os.Args)
	stop()
	os.Exit(exitCode(err))
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "sitegrab",
		Usage: "fetch a list of URLs and record their network artifacts",
		// Exit codes are chosen by main.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			{
				Name:      "scrape",
				Usage:     "scrape every URL in a job file into a record file",
				ArgsUsage: "<job-file | ->",
				Flags:     scrapeFlags(),
				Action:    scrapeAction,
			},
			{
				Name:      "inspect",
				Usage:     "summarize a record file written by scrape",
				ArgsUsage: "<record-file>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "list", Usage: "print request_url and url of every record"},
				},
				Action: inspectAction,
			},
		},
	}
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		if msg := ec.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		return ec.ExitCode()
	}
	fmt.Fprintln(os.Stderr, err)
	switch {
	case errors.Is(err, context.Canceled):
		return exitCancelled
	case models.CodeOf(err) == models.ErrCodeConfig:
		return exitConfig
	}
	return exitFailure
}

// initLogger configures slog based on the LogConfig. Logs go to stderr.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
