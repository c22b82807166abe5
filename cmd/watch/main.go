// Command watch mirrors a competition's scores from a tabulator server and
// prints leaf changes and locally computed rankings.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/okian/tabulator/internal/adapters/http/client"
	"github.com/okian/tabulator/internal/domain/ledger"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/domain/ranking"
	"github.com/okian/tabulator/internal/domain/reconcile"
	"github.com/okian/tabulator/internal/livesync"
	"github.com/okian/tabulator/pkg/logger"
)

// streamRetryDelay spaces reconnect attempts of the event stream.
const streamRetryDelay = 2 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil && !errors.Is(err, context.Canceled) {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "watch",
		Usage: "mirror a competition's scores and rankings",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:9080", Usage: "server base URL"},
			&cli.StringFlag{Name: "competition", Required: true, Usage: "competition id"},
			&cli.StringFlag{Name: "segment", Usage: "segment to rank; defaults to the first segment"},
			&cli.DurationFlag{Name: "interval", Value: livesync.DefaultInterval, Usage: "polling interval"},
			&cli.Float64Flag{Name: "bulk-ratio", Value: reconcile.DefaultBulkReplaceRatio, Usage: "changed share above which the ledger is replaced"},
			&cli.BoolFlag{Name: "stream", Value: true, Usage: "apply server-sent events between polls"},
			&cli.StringFlag{Name: "log-level", Value: "warn"},
		},
		Action: func(c *cli.Context) error {
			if err := logger.Init(logger.WithLevel(c.String("log-level")), logger.WithOutput(c.App.ErrWriter)); err != nil {
				return err
			}
			api, err := client.New(c.String("url"))
			if err != nil {
				return err
			}
			return watch(c.Context, c.App.Writer, api, options{
				competitionID: c.String("competition"),
				segmentID:     c.String("segment"),
				interval:      c.Duration("interval"),
				bulkRatio:     c.Float64("bulk-ratio"),
				stream:        c.Bool("stream"),
			})
		},
	}
}

type options struct {
	competitionID string
	segmentID     string
	interval      time.Duration
	bulkRatio     float64
	stream        bool
}

func watch(ctx context.Context, out io.Writer, api *client.Client, opts options) error {
	comp, err := api.Competition(ctx, opts.competitionID)
	if err != nil {
		return err
	}
	segmentID := opts.segmentID
	if segmentID == "" && len(comp.Segments) > 0 {
		segmentID = comp.Segments[0].ID
	}
	if _, ok := comp.Segment(segmentID); !ok {
		return fmt.Errorf("%w: segment %q", model.ErrUnknownReference, segmentID)
	}

	calc := ranking.NewCalculator()
	l := ledger.New(comp.ID)
	// render writes one report block followed by the rankings. Blocks from the
	// poller and the stream never interleave.
	var outMu sync.Mutex
	render := func(write func(w io.Writer)) {
		outMu.Lock()
		defer outMu.Unlock()
		write(out)
		res := calc.Compute(ctx, ranking.InputFor(comp, l.Snapshot().Scores()), segmentID, comp.Ranking)
		_, _ = fmt.Fprintf(out, "-- %s / %s at %s\n", comp.ID, segmentID, time.Now().Format(time.TimeOnly))
		for _, e := range res.Entries() {
			mark := ""
			if e.Advancing {
				mark = " *"
			}
			_, _ = fmt.Fprintf(out, "%-8s %3d  %-16s %7.2f%s\n", e.Group, e.Rank, e.ContestantID, e.Score, mark)
		}
	}

	poller := livesync.New(api, comp.ID,
		livesync.WithLedger(l),
		livesync.WithInterval(opts.interval),
		livesync.WithSynchronizer(reconcile.NewSynchronizer(reconcile.WithBulkReplaceRatio(opts.bulkRatio))),
		livesync.OnChange(func(res reconcile.ApplyResult) {
			render(func(w io.Writer) {
				for _, ch := range res.Changes {
					old := "-"
					if ch.OldScore != nil {
						old = fmt.Sprintf("%.2f", *ch.OldScore)
					}
					_, _ = fmt.Fprintf(w, "changed %s: %s -> %.2f\n", ch.Key, old, ch.NewScore)
				}
				for _, k := range res.Removed {
					_, _ = fmt.Fprintf(w, "removed %s\n", k)
				}
				if res.FullReplace {
					_, _ = fmt.Fprintln(w, "ledger replaced")
				}
			})
		}),
	)
	poller.Start(ctx)
	defer poller.Stop()

	if opts.stream {
		go streamEvents(ctx, api, poller, comp.ID, render)
	}
	<-ctx.Done()
	return ctx.Err()
}

// streamEvents applies pushed events between polls. A resync request or a
// dropped stream may have lost deletions, so the ledger is resynced from a
// full snapshot before reconnecting.
func streamEvents(ctx context.Context, api *client.Client, p *livesync.Poller, competitionID string, render func(func(io.Writer))) {
	log := logger.Get().Named("watch")
	for ctx.Err() == nil {
		err := api.StreamEvents(ctx, competitionID, func(e model.ScoreEvent) {
			if err := p.ApplyEvent(e); err != nil {
				log.Warn(ctx, "event not applied", logger.Error(err))
				return
			}
			render(func(w io.Writer) {
				if e.Deleted {
					_, _ = fmt.Fprintf(w, "deleted %s\n", e.ScoreKey)
				} else {
					_, _ = fmt.Fprintf(w, "pushed %s: %.2f\n", e.ScoreKey, e.Score)
				}
			})
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, client.ErrResync) {
			log.Warn(ctx, "event stream ended", logger.Error(err))
		}
		if err := p.Resync(ctx); err != nil && !errors.Is(err, livesync.ErrRefreshInFlight) {
			log.Warn(ctx, "resync after stream end failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(streamRetryDelay):
		}
	}
}
