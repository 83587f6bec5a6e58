package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/use-agent/sitegrab/models"
	"github.com/use-agent/sitegrab/sink"
)

// inspectAction prints a summary of a record file. A trailing delimiter is
// reported and fails the command.
func inspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return models.ConfigError("inspect takes exactly one record file (got %d arguments)", c.NArg())
	}
	path := c.Args().First()
	w := c.App.Writer

	if c.Bool("list") {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("inspect: %w", err)
		}
		n := 0
		for page, err := range sink.Records(f) {
			if err != nil {
				f.Close()
				return fmt.Errorf("inspect: record %d: %w", n+1, err)
			}
			n++
			fmt.Fprintf(w, "%d\t%s\t%s\n", n, page.RequestURL, page.URL)
		}
		f.Close()
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	defer f.Close()

	s, err := sink.Inspect(f)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	fmt.Fprintf(w, "records:            %d\n", s.Records)
	fmt.Fprintf(w, "with body:          %d\n", s.WithBody)
	fmt.Fprintf(w, "with screenshots:   %d\n", s.WithScreenshots)
	fmt.Fprintf(w, "requests:           %d\n", s.TotalRequests)
	fmt.Fprintf(w, "distinct final url: %d\n", s.DistinctFinalURL)
	if s.TrailingNewline {
		return cli.Exit("record file ends with a delimiter", exitFailure)
	}
	return nil
}
