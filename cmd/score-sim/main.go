// Command score-sim submits randomized judge scores to a tabulator server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/okian/tabulator/internal/adapters/http/client"
	"github.com/okian/tabulator/internal/simulator"
	"github.com/okian/tabulator/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "score-sim",
		Usage: "submit randomized judge scores",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:9080", Usage: "server base URL"},
			&cli.StringFlag{Name: "competition", Required: true, Usage: "competition id"},
			&cli.StringFlag{Name: "segment", Usage: "segment id; defaults to the first segment"},
			&cli.IntFlag{Name: "submissions", Value: 0, Usage: "distinct scores to submit; 0 scores every key"},
			&cli.Float64Flag{Name: "retry-ratio", Value: 0.1, Usage: "share of submissions resent with the same idempotency key"},
			&cli.IntFlag{Name: "workers", Value: 8, Usage: "concurrent submitters"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "per-request timeout"},
			&cli.Uint64Flag{Name: "seed", Usage: "random seed; 0 uses the clock"},
			&cli.Float64Flag{Name: "step", Value: 0.25, Usage: "score granularity"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: func(c *cli.Context) error {
			if err := logger.Init(logger.WithLevel(c.String("log-level"))); err != nil {
				return err
			}
			api, err := client.New(c.String("url"), client.WithHTTPClient(&http.Client{Timeout: c.Duration("timeout")}))
			if err != nil {
				return err
			}
			stats, err := simulator.Run(c.Context, simulator.Config{
				CompetitionID: c.String("competition"),
				SegmentID:     c.String("segment"),
				Submissions:   c.Int("submissions"),
				RetryRatio:    c.Float64("retry-ratio"),
				Workers:       c.Int("workers"),
				Timeout:       c.Duration("timeout"),
				Seed:          c.Uint64("seed"),
				Step:          c.Float64("step"),
			}, api)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.App.Writer, "stored %d, duplicates %d, failed %d in %s\n",
				stats.Stored, stats.Duplicates, stats.Failed, stats.Duration.Round(time.Millisecond))
			return nil
		},
	}
}
