// Package ledger holds the normalized score mapping of one competition:
// segment → contestant → judge → criterion → score.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
)

// MutationKind names what changed in the ledger.
type MutationKind string

// Mutation kinds.
const (
	MutationSet     MutationKind = "set"
	MutationDelete  MutationKind = "delete"
	MutationReplace MutationKind = "replace"
)

// Mutation describes one change delivered to subscribers. For MutationReplace
// only Count (the new number of leaves) is set.
type Mutation struct {
	Kind     MutationKind
	Key      model.ScoreKey
	Value    float64
	Previous *float64
	Count    int
}

// Ledger is a concurrency-safe score store keyed by the flattened composite
// key, with segment and contestant indexes.
type Ledger struct {
	mu            sync.RWMutex
	competitionID string
	scores        map[string]model.Score
	bySegment     index
	byContestant  index

	// notifyMu serializes mutate-then-notify so subscribers observe
	// mutations in order. Subscribers must not mutate the ledger.
	notifyMu sync.Mutex
	subsMu   sync.RWMutex
	subs     map[uint64]func(Mutation)
	nextSub  uint64

	clock func() time.Time
	log   logger.Logger
}

// New creates an empty ledger for competitionID.
func New(competitionID string, opts ...Option) *Ledger {
	l := &Ledger{
		competitionID: competitionID,
		scores:        make(map[string]model.Score),
		bySegment:     make(index),
		byContestant:  make(index),
		subs:          make(map[uint64]func(Mutation)),
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Get().Named("ledger")
	}
	return l
}

// CompetitionID returns the competition currently held.
func (l *Ledger) CompetitionID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.competitionID
}

// Get returns the value for key.
func (l *Ledger) Get(key model.ScoreKey) (float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.scores[key.String()]
	return s.Value, ok
}

// Set stores value under key stamped with the ledger clock.
func (l *Ledger) Set(key model.ScoreKey, value float64) error {
	return l.Put(model.Score{ScoreKey: key, Value: value, UpdatedAt: l.clock()})
}

// Put stores s. Writing the value already held is not a mutation and
// notifies nobody.
func (l *Ledger) Put(s model.Score) error {
	if !s.ScoreKey.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKey, s.ScoreKey.String())
	}
	if err := model.CheckFinite(s.Value); err != nil {
		return err
	}
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	k := s.ScoreKey.String()
	l.mu.Lock()
	prev, had := l.scores[k]
	if had && prev.Value == s.Value {
		l.mu.Unlock()
		return nil
	}
	l.scores[k] = s
	l.bySegment.add(s.SegmentID, k)
	l.byContestant.add(s.ContestantID, k)
	l.mu.Unlock()

	m := Mutation{Kind: MutationSet, Key: s.ScoreKey, Value: s.Value}
	if had {
		v := prev.Value
		m.Previous = &v
	}
	l.notify(m)
	return nil
}

// Delete removes key and reports whether it was present.
func (l *Ledger) Delete(key model.ScoreKey) bool {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	k := key.String()
	l.mu.Lock()
	prev, had := l.scores[k]
	if had {
		delete(l.scores, k)
		l.bySegment.remove(key.SegmentID, k)
		l.byContestant.remove(key.ContestantID, k)
	}
	l.mu.Unlock()

	if had {
		v := prev.Value
		l.notify(Mutation{Kind: MutationDelete, Key: key, Previous: &v})
	}
	return had
}

// ReplaceAll swaps the ledger contents for snap's leaves.
func (l *Ledger) ReplaceAll(snap Snapshot) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	scores := make(map[string]model.Score, snap.Len())
	seg, con := make(index), make(index)
	for _, s := range snap.Scores() {
		k := s.ScoreKey.String()
		scores[k] = s
		seg.add(s.SegmentID, k)
		con.add(s.ContestantID, k)
	}

	l.mu.Lock()
	l.scores, l.bySegment, l.byContestant = scores, seg, con
	l.mu.Unlock()

	l.notify(Mutation{Kind: MutationReplace, Count: len(scores)})
}

// Reset empties the ledger and rebinds it to competitionID.
func (l *Ledger) Reset(competitionID string) {
	l.mu.Lock()
	l.competitionID = competitionID
	l.mu.Unlock()
	l.ReplaceAll(Snapshot{})
	l.log.Debug(context.Background(), "ledger reset", logger.String("competition_id", competitionID))
}

// Snapshot returns an immutable copy of the current contents.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m := make(map[string]model.Score, len(l.scores))
	for k, s := range l.scores {
		m[k] = s
	}
	return newSnapshotFromMap(l.competitionID, m, l.clock())
}

// Len returns the number of leaves.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.scores)
}

// SegmentScores returns the scores of one segment sorted by key.
func (l *Ledger) SegmentScores(segmentID string) []model.Score {
	return l.collect(l.bySegment, segmentID)
}

// ContestantScores returns the scores of one contestant sorted by key.
func (l *Ledger) ContestantScores(contestantID string) []model.Score {
	return l.collect(l.byContestant, contestantID)
}

func (l *Ledger) collect(idx index, id string) []model.Score {
	l.mu.RLock()
	keys := idx[id]
	out := make([]model.Score, 0, len(keys))
	for k := range keys {
		out = append(out, l.scores[k])
	}
	l.mu.RUnlock()
	sortScores(out)
	return out
}

// Subscribe registers fn for every subsequent mutation. Delivery is
// synchronous and in mutation order.
func (l *Ledger) Subscribe(fn func(Mutation)) (unsubscribe func()) {
	l.subsMu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	l.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.subsMu.Lock()
			delete(l.subs, id)
			l.subsMu.Unlock()
		})
	}
}

func (l *Ledger) notify(m Mutation) {
	l.subsMu.RLock()
	fns := make([]func(Mutation), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.subsMu.RUnlock()
	for _, fn := range fns {
		fn(m)
	}
}

// index maps a dimension id to the set of flattened keys under it.
type index map[string]map[string]struct{}

func (x index) add(id, key string) {
	set, ok := x[id]
	if !ok {
		set = make(map[string]struct{})
		x[id] = set
	}
	set[key] = struct{}{}
}

func (x index) remove(id, key string) {
	set, ok := x[id]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(x, id)
	}
}
