// Package scorer turns aggregated access statistics into per-object hotness
// scores using an exponentially weighted moving average.
package scorer

import (
	"math"
	"time"
)

const (
	// RecencyWindow is the span over which recency decays linearly to 0.
	RecencyWindow = 7 * 24 * time.Hour

	recencyWeight   = 0.4
	frequencyWeight = 0.6

	// DefaultAlpha weights the newest sample against history.
	DefaultAlpha = 0.3
)

// Score folds sample into the previous score. A nil previous is a cold
// start and yields the sample unchanged.
func Score(previous *float64, sample, alpha float64) float64 {
	if previous == nil {
		return sample
	}
	return alpha*sample + (1-alpha)*(*previous)
}

// Recency is 1 for an access just now, falling to 0 at RecencyWindow and beyond.
func Recency(sinceLast time.Duration) float64 {
	if sinceLast < 0 {
		sinceLast = 0
	}
	return math.Max(0, 1-sinceLast.Seconds()/RecencyWindow.Seconds())
}

// Frequency normalizes count against the busiest object of the batch.
func Frequency(count, max int) float64 {
	if max <= 0 {
		return 0
	}
	return float64(count) / float64(max)
}

// Sample combines recency and frequency into one observation in [0,1].
func Sample(recency, frequency float64) float64 {
	return recencyWeight*recency + frequencyWeight*frequency
}

// StatRow is one object's aggregated statistics for the cycle.
type StatRow struct {
	ID          string
	AccessCount int
	LastAccess  time.Time
}

// ScoredRow carries the inputs and outcome of scoring one StatRow.
type ScoredRow struct {
	StatRow
	Recency   float64
	Frequency float64
	Sample    float64
	Previous  *float64
	Score     float64
}

// ScoreBatch scores rows in input order. Frequency is normalized against the
// whole batch before any row is scored. Rows whose id has no entry in prev
// take the cold-start path.
func ScoreBatch(rows []StatRow, prev map[string]float64, now time.Time, alpha float64) []ScoredRow {
	maxCount := 0
	for _, r := range rows {
		if r.AccessCount > maxCount {
			maxCount = r.AccessCount
		}
	}

	out := make([]ScoredRow, 0, len(rows))
	for _, r := range rows {
		sr := ScoredRow{StatRow: r}
		sr.Recency = Recency(now.Sub(r.LastAccess))
		sr.Frequency = Frequency(r.AccessCount, maxCount)
		sr.Sample = Sample(sr.Recency, sr.Frequency)
		if p, ok := prev[r.ID]; ok {
			p := p
			sr.Previous = &p
		}
		sr.Score = clamp01(Score(sr.Previous, sr.Sample, alpha))
		out = append(out, sr)
	}
	return out
}

// clamp01 absorbs floating point drift at the edges of [0,1].
func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
