package chat

import (
	"math"
	"time"
)

// Stats describes the progress of the current (or last) generation.
// TokenCount counts fragments, not model tokens.
type Stats struct {
	StartTime       time.Time `json:"startTime"`
	TokenCount      int       `json:"tokenCount"`
	TokensPerSecond float64   `json:"tokensPerSecond"`
	ElapsedSeconds  float64   `json:"elapsedSeconds"`
}

// computeStats derives the rate and elapsed time from the start time and
// fragment count. Both are rounded to one decimal; the rate is 0 until
// time has passed.
func computeStats(start time.Time, count int, now time.Time) Stats {
	elapsed := now.Sub(start).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	rate := 0.0
	if elapsed > 0 {
		rate = round1(float64(count) / elapsed)
	}
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		rate = 0
	}
	return Stats{
		StartTime:       start,
		TokenCount:      count,
		TokensPerSecond: rate,
		ElapsedSeconds:  round1(elapsed),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
