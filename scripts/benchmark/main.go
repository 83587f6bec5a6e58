package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/use-agent/sitegrab/config"
	"github.com/use-agent/sitegrab/engine"
	"github.com/use-agent/sitegrab/jobs"
	"github.com/use-agent/sitegrab/models"
)

// CLI flags
var (
	jobFile = flag.String("jobs", "", "job file (one URL per line); defaults to a built-in set")
	engines = flag.String("engines", "conn", "comma-separated engines to compare (conn,browser)")
	widths  = flag.String("widths", "1,4,16", "comma-separated widths to try")
	runs    = flag.Int("runs", 3, "Number of runs per engine and width for averaging")
	timeout = flag.Duration("timeout", 30*time.Second, "per-job timeout")
	output  = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Test URLs covering 5 site types.
var testURLs = []string{
	"https://example.com",
	"https://go.dev/blog/go1.21",
	"https://go.dev/doc/effective_go",
	"https://www.bbc.com/news",
	"https://github.com/go-rod/rod",
}

// --- Benchmark result types ---

type runResult struct {
	Run        int            `json:"run"`
	ElapsedMs  int64          `json:"elapsed_ms"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	BodyBytes  int64          `json:"body_bytes"`
	Requests   int            `json:"requests"`
	ErrorCodes map[string]int `json:"error_codes,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type caseResult struct {
	Engine       string      `json:"engine"`
	Width        int         `json:"width"`
	Runs         []runResult `json:"runs"`
	AvgElapsedMs float64     `json:"avg_elapsed_ms"`
	JobsPerSec   float64     `json:"jobs_per_sec"`
}

type benchmarkReport struct {
	Timestamp   string       `json:"timestamp"`
	Jobs        int          `json:"jobs"`
	RunsPerCase int          `json:"runs_per_case"`
	Results     []caseResult `json:"results"`
}

func main() {
	flag.Parse()

	urls := testURLs
	if *jobFile != "" {
		var err error
		if urls, _, err = jobs.Load(*jobFile, jobs.Options{}); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	ws, err := parseWidths(*widths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	fmt.Println("=== Sitegrab Benchmark Suite ===")
	fmt.Printf("Jobs:      %d\n", len(urls))
	fmt.Printf("Engines:   %s\n", *engines)
	fmt.Printf("Widths:    %v\n", ws)
	fmt.Printf("Runs:      %d\n", *runs)
	fmt.Printf("Output:    %s\n", *output)
	fmt.Println()

	report := benchmarkReport{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Jobs:        len(urls),
		RunsPerCase: *runs,
	}

	for _, kind := range strings.Split(*engines, ",") {
		kind = strings.TrimSpace(kind)
		for _, w := range ws {
			fmt.Printf("Benchmarking [%s] width=%d ...\n", kind, w)
			cr := caseResult{Engine: kind, Width: w}
			for i := 1; i <= *runs; i++ {
				fmt.Printf("  Run %d/%d ... ", i, *runs)
				rr := benchmarkCase(kind, w, urls, i)
				if rr.Error != "" {
					fmt.Printf("FAILED: %s\n", rr.Error)
				} else {
					fmt.Printf("OK  %dms  %d/%d succeeded\n", rr.ElapsedMs, rr.Succeeded, len(urls))
				}
				cr.Runs = append(cr.Runs, rr)
			}
			computeAverages(&cr, len(urls))
			report.Results = append(report.Results, cr)
			fmt.Println()
		}
	}

	// Print summary table.
	printTable(report.Results)

	// Write JSON report.
	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func parseWidths(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		w, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || w < 1 || w > engine.MaxWidth {
			return nil, fmt.Errorf("invalid width %q", part)
		}
		out = append(out, w)
	}
	return out, nil
}

// benchmarkCase runs every URL once on a fresh engine.
func benchmarkCase(kind string, width int, urls []string, run int) runResult {
	rr := runResult{Run: run, ErrorCodes: map[string]int{}}

	cfg := config.Load()
	cfg.Engine.Kind = kind
	cfg.Engine.Connections = width
	cfg.Engine.Pages = width
	cfg.Engine.Timeout = config.DurationFrom(*timeout)
	opts := cfg.EngineOptions()
	opts.Screenshots = false

	eng, err := engine.New(kind, opts)
	if err != nil {
		rr.Error = err.Error()
		return rr
	}

	start := time.Now()
	seq, err := eng.Run(context.Background(), urls)
	if err != nil {
		rr.Error = err.Error()
		return rr
	}
	for res := range seq {
		if !res.OK() {
			rr.Failed++
			rr.ErrorCodes[models.CodeOf(res.Err)]++
			continue
		}
		rr.Succeeded++
		rr.BodyBytes += int64(len(res.Page.Body))
		rr.Requests += len(res.Page.Requests)
	}
	rr.ElapsedMs = time.Since(start).Milliseconds()
	return rr
}

func computeAverages(cr *caseResult, jobs int) {
	var n int
	for _, r := range cr.Runs {
		if r.Error != "" {
			continue
		}
		n++
		cr.AvgElapsedMs += float64(r.ElapsedMs)
	}
	if n == 0 {
		return
	}
	cr.AvgElapsedMs /= float64(n)
	if cr.AvgElapsedMs > 0 {
		cr.JobsPerSec = float64(jobs) / (cr.AvgElapsedMs / 1000)
	}
}

func printTable(results []caseResult) {
	fmt.Println(strings.Repeat("─", 70))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Engine\tWidth\tAvg Elapsed\tJobs/s\tFailed (last run)\n")
	fmt.Fprintf(w, "──────\t─────\t───────────\t──────\t─────────────────\n")

	for _, r := range results {
		if r.AvgElapsedMs == 0 {
			fmt.Fprintf(w, "%s\t%d\tFAILED\t-\t-\n", r.Engine, r.Width)
			continue
		}
		failed := 0
		if len(r.Runs) > 0 {
			failed = r.Runs[len(r.Runs)-1].Failed
		}
		fmt.Fprintf(w, "%s\t%d\t%dms\t%.1f\t%d\n", r.Engine, r.Width, int64(r.AvgElapsedMs), r.JobsPerSec, failed)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 70))
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
