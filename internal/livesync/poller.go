// Package livesync keeps a client-side ledger in step with the server by
// polling score snapshots and applying only the changed leaves.
package livesync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/tabulator/internal/domain/ledger"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/domain/reconcile"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// DefaultInterval is the polling period.
const DefaultInterval = 3 * time.Second

// FetchResult is one snapshot read. NotModified means the server still holds
// the snapshot identified by the ETag that was sent.
type FetchResult struct {
	NotModified bool
	ETag        string
	Scores      []model.Score
}

// Fetcher reads a competition's scores, honoring a previous ETag.
type Fetcher interface {
	FetchScores(ctx context.Context, competitionID, etag string) (FetchResult, error)
}

// Status is the bindable polling state.
type Status struct {
	IsPolling  bool
	LastUpdate time.Time
	Err        error
}

// Poller mirrors one competition's scores into a Ledger on a fixed interval.
type Poller struct {
	fetcher       Fetcher
	competitionID string
	ledger        *ledger.Ledger
	sync          *reconcile.Synchronizer
	interval      time.Duration
	clock         func() time.Time
	onChange      func(reconcile.ApplyResult)
	log           logger.Logger

	inFlight atomic.Bool
	resync   atomic.Bool

	mu         sync.Mutex
	running    bool
	visible    bool
	lastUpdate time.Time
	err        error
	etag       string
	cancel     context.CancelFunc
	done       chan struct{}
	wake       chan struct{}
}

// New creates a Poller for competitionID. It starts visible and stopped.
func New(fetcher Fetcher, competitionID string, opts ...Option) *Poller {
	p := &Poller{
		fetcher:       fetcher,
		competitionID: competitionID,
		interval:      DefaultInterval,
		clock:         time.Now,
		visible:       true,
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Get().Named("livesync")
	}
	if p.ledger == nil {
		p.ledger = ledger.New(competitionID, ledger.WithLogger(p.log))
	}
	if p.sync == nil {
		p.sync = reconcile.NewSynchronizer(reconcile.WithLogger(p.log))
	}
	return p
}

// Ledger returns the mirrored ledger.
func (p *Poller) Ledger() *ledger.Ledger {
	return p.ledger
}

// Start begins polling with an immediate fetch. It is a no-op when already polling.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	select {
	case <-p.wake:
	default:
	}
	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
	p.log.Info(ctx, "polling started",
		logger.String("competition_id", p.competitionID),
		logger.Duration("interval", p.interval))
}

// Stop ends polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
	p.log.Info(context.Background(), "polling stopped", logger.String("competition_id", p.competitionID))
}

// Refresh fetches once now. It returns ErrRefreshInFlight without fetching
// when another fetch is running.
func (p *Poller) Refresh(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		return ErrRefreshInFlight
	}
	defer p.inFlight.Store(false)
	return p.poll(ctx)
}

// Resync fetches the full snapshot without an ETag and replaces the ledger
// with it, so leaves deleted on the server disappear. Call it after events
// may have been missed. When another fetch is running it returns
// ErrRefreshInFlight and the next fetch resyncs instead.
func (p *Poller) Resync(ctx context.Context) error {
	p.resync.Store(true)
	return p.Refresh(ctx)
}

// SetVisible suspends polling while hidden. Becoming visible triggers an
// immediate fetch and restarts the interval. A stopped poller only records
// the flag.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	was := p.visible
	p.visible = visible
	running := p.running
	p.mu.Unlock()
	if visible && !was && running {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// Status returns the current polling state.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{IsPolling: p.running, LastUpdate: p.lastUpdate, Err: p.err}
}

// ApplyEvent mirrors a pushed event into the ledger. Events of other
// competitions are ignored.
func (p *Poller) ApplyEvent(e model.ScoreEvent) error { //nolint:gocritic // hugeParam: event by value
	if e.CompetitionID != p.competitionID {
		return nil
	}
	return p.sync.ApplyEvent(p.ledger, e)
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.tick(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		case <-p.wake:
			ticker.Reset(p.interval)
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	p.mu.Lock()
	visible := p.visible
	p.mu.Unlock()
	if !visible {
		return
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer p.inFlight.Store(false)
	_ = p.poll(ctx)
}

func (p *Poller) poll(ctx context.Context) error {
	full := p.resync.Swap(false)
	p.mu.Lock()
	etag := p.etag
	p.mu.Unlock()
	if full {
		etag = ""
	}

	res, err := p.fetcher.FetchScores(ctx, p.competitionID, etag)
	if err != nil {
		if full {
			p.resync.Store(true)
		}
		if ctx.Err() != nil {
			return err
		}
		p.setResult("", err)
		metrics.RecordSyncPoll("error")
		p.log.Warn(ctx, "poll failed", logger.String("competition_id", p.competitionID), logger.Error(err))
		return err
	}
	if res.NotModified {
		p.setResult(etag, nil)
		metrics.RecordSyncPoll("not_modified")
		return nil
	}

	next := ledger.NewSnapshot(p.competitionID, res.Scores, p.clock())
	if full {
		applied := p.sync.Replace(ctx, p.ledger, p.ledger.Snapshot(), next)
		p.setResult(res.ETag, nil)
		metrics.RecordSyncPoll("resync")
		if p.onChange != nil && (len(applied.Changes) > 0 || len(applied.Removed) > 0) {
			p.onChange(applied)
		}
		return nil
	}
	applied, err := p.sync.Apply(ctx, p.ledger, p.ledger.Snapshot(), next)
	if err != nil {
		p.setResult("", err)
		metrics.RecordSyncPoll("error")
		p.log.Error(ctx, "applying snapshot", logger.String("competition_id", p.competitionID), logger.Error(err))
		return err
	}
	p.setResult(res.ETag, nil)

	if len(applied.Changes) == 0 {
		metrics.RecordSyncPoll("unchanged")
		return nil
	}
	metrics.RecordSyncPoll("changed")
	if p.onChange != nil {
		p.onChange(applied)
	}
	return nil
}

// setResult records a finished poll. A failed poll keeps the previous ETag
// and LastUpdate.
func (p *Poller) setResult(etag string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
	if err != nil {
		return
	}
	p.etag = etag
	p.lastUpdate = p.clock()
}
