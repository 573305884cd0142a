package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var ErrNonFiniteScore = errors.New("score is not finite")

// ScoreRecord is one participant's scoring state. EmaScore persists across
// windows; StepScore and Weight are recomputed every round.
type ScoreRecord struct {
	StepScore float64 `json:"step_score"`
	EmaScore  float64 `json:"ema_score"`
	Weight    float64 `json:"weight"`
}

// Board holds a ScoreRecord per participant hotkey.
type Board struct {
	mu      sync.RWMutex
	alpha   float64
	records map[string]ScoreRecord
}

func NewBoard(alpha float64) *Board {
	return &Board{alpha: alpha, records: make(map[string]ScoreRecord)}
}

// Record folds score into hotkey's EMA and recomputes every weight. A NaN or
// infinite score leaves the board untouched.
func (b *Board) Record(hotkey string, score float64) (ScoreRecord, error) {
	if !IsFinite(score) {
		return ScoreRecord{}, fmt.Errorf("%w: %s scored %g", ErrNonFiniteScore, hotkey, score)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.records[hotkey]
	r.StepScore = score
	r.EmaScore = UpdateEMA(r.EmaScore, score, b.alpha)
	b.records[hotkey] = r
	b.recomputeLocked()
	return b.records[hotkey], nil
}

func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (b *Board) recomputeLocked() {
	hotkeys := b.hotkeysLocked()
	emas := make([]float64, len(hotkeys))
	for i, h := range hotkeys {
		emas[i] = b.records[h].EmaScore
	}
	for i, w := range ComputeWeights(emas) {
		r := b.records[hotkeys[i]]
		r.Weight = w
		b.records[hotkeys[i]] = r
	}
}

func (b *Board) hotkeysLocked() []string {
	hotkeys := make([]string, 0, len(b.records))
	for h := range b.records {
		hotkeys = append(hotkeys, h)
	}
	sort.Strings(hotkeys)
	return hotkeys
}

// Retain drops participants no longer registered and recomputes weights.
func (b *Board) Retain(keep func(hotkey string) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for h := range b.records {
		if !keep(h) {
			delete(b.records, h)
			dropped++
		}
	}
	if dropped > 0 {
		b.recomputeLocked()
	}
	return dropped
}

func (b *Board) Get(hotkey string) (ScoreRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.records[hotkey]
	return r, ok
}

func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Snapshot returns a copy of all records.
func (b *Board) Snapshot() map[string]ScoreRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]ScoreRecord, len(b.records))
	for h, r := range b.records {
		out[h] = r
	}
	return out
}

// Restore replaces all records, typically with ones loaded at startup.
func (b *Board) Restore(records map[string]ScoreRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = make(map[string]ScoreRecord, len(records))
	for h, r := range records {
		b.records[h] = r
	}
	b.recomputeLocked()
}

// Weights returns the current weight per hotkey.
func (b *Board) Weights() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]float64, len(b.records))
	for h, r := range b.records {
		out[h] = r.Weight
	}
	return out
}
