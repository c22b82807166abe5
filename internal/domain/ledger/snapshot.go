package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/tabulator/internal/domain/model"
)

// Row is the wire form of one score, as served by GET /competitions/{id}/scores.
type Row struct {
	SegmentID    string    `json:"segmentId"`
	CriterionID  string    `json:"criterionId"`
	ContestantID string    `json:"contestantId"`
	JudgeID      string    `json:"judgeId"`
	Score        float64   `json:"score"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Key returns the score key addressed by the row.
func (r Row) Key() model.ScoreKey {
	return model.ScoreKey{SegmentID: r.SegmentID, ContestantID: r.ContestantID, JudgeID: r.JudgeID, CriterionID: r.CriterionID}
}

// RowFromScore converts a score to its wire row. Timestamps are normalized
// to UTC with microsecond precision so every store encodes them alike.
func RowFromScore(s model.Score) Row {
	return Row{
		SegmentID:    s.SegmentID,
		CriterionID:  s.CriterionID,
		ContestantID: s.ContestantID,
		JudgeID:      s.JudgeID,
		Score:        s.Value,
		UpdatedAt:    normalizeTime(s.UpdatedAt),
	}
}

// ScoresFromRows validates rows and converts them to scores.
func ScoresFromRows(rows []Row) ([]model.Score, error) {
	out := make([]model.Score, 0, len(rows))
	for i, r := range rows {
		k := r.Key()
		if !k.Valid() {
			return nil, fmt.Errorf("row %d: %w: %q", i, ErrInvalidRow, k.String())
		}
		out = append(out, model.Score{ScoreKey: k, Value: r.Score, UpdatedAt: r.UpdatedAt})
	}
	return out, nil
}

// EncodeRows returns the canonical JSON array for scores, sorted by key.
func EncodeRows(scores []model.Score) ([]byte, error) {
	sorted := make([]model.Score, len(scores))
	copy(sorted, scores)
	sortScores(sorted)
	rows := make([]Row, len(sorted))
	for i, s := range sorted {
		rows[i] = RowFromScore(s)
	}
	return json.Marshal(rows)
}

// Fingerprint hashes the canonical encoding of scores.
func Fingerprint(encoded []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(encoded))
}

// Snapshot is an immutable point-in-time copy of a competition's scores.
// The zero value is an empty snapshot.
type Snapshot struct {
	d *snapshotData
}

type snapshotData struct {
	competitionID string
	takenAt       time.Time
	scores        map[string]model.Score

	once        sync.Once
	sorted      []model.Score
	encoded     []byte
	fingerprint string
	encodeErr   error
}

// NewSnapshot copies scores into a snapshot. A later score for the same key
// replaces an earlier one.
func NewSnapshot(competitionID string, scores []model.Score, takenAt time.Time) Snapshot {
	m := make(map[string]model.Score, len(scores))
	for _, s := range scores {
		m[s.ScoreKey.String()] = s
	}
	return Snapshot{d: &snapshotData{competitionID: competitionID, takenAt: takenAt, scores: m}}
}

func newSnapshotFromMap(competitionID string, m map[string]model.Score, takenAt time.Time) Snapshot {
	return Snapshot{d: &snapshotData{competitionID: competitionID, takenAt: takenAt, scores: m}}
}

// CompetitionID returns the competition the snapshot belongs to.
func (s Snapshot) CompetitionID() string {
	if s.d == nil {
		return ""
	}
	return s.d.competitionID
}

// TakenAt returns when the snapshot was produced.
func (s Snapshot) TakenAt() time.Time {
	if s.d == nil {
		return time.Time{}
	}
	return s.d.takenAt
}

// Len returns the number of leaves.
func (s Snapshot) Len() int {
	if s.d == nil {
		return 0
	}
	return len(s.d.scores)
}

// Get returns the value held for key.
func (s Snapshot) Get(key model.ScoreKey) (float64, bool) {
	sc, ok := s.Score(key)
	return sc.Value, ok
}

// Score returns the full score held for key.
func (s Snapshot) Score(key model.ScoreKey) (model.Score, bool) {
	if s.d == nil {
		return model.Score{}, false
	}
	sc, ok := s.d.scores[key.String()]
	return sc, ok
}

// Scores returns every leaf sorted by key. The slice is shared; do not modify it.
func (s Snapshot) Scores() []model.Score {
	if s.d == nil {
		return nil
	}
	s.d.encode()
	return s.d.sorted
}

// Encode returns the canonical JSON row list.
func (s Snapshot) Encode() ([]byte, error) {
	if s.d == nil {
		return []byte("[]"), nil
	}
	s.d.encode()
	return s.d.encoded, s.d.encodeErr
}

// Fingerprint identifies the snapshot's contents. Equal rows give equal
// fingerprints regardless of insertion order.
func (s Snapshot) Fingerprint() string {
	if s.d == nil {
		return Fingerprint([]byte("[]"))
	}
	s.d.encode()
	return s.d.fingerprint
}

func (d *snapshotData) encode() {
	d.once.Do(func() {
		d.sorted = make([]model.Score, 0, len(d.scores))
		for _, sc := range d.scores {
			d.sorted = append(d.sorted, sc)
		}
		sortScores(d.sorted)
		d.encoded, d.encodeErr = EncodeRows(d.sorted)
		if d.encodeErr == nil {
			d.fingerprint = Fingerprint(d.encoded)
		}
	})
}

func sortScores(scores []model.Score) {
	sort.Slice(scores, func(i, j int) bool { return scores[i].ScoreKey.Less(scores[j].ScoreKey) })
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}
