// Package progress derives an objective's numeric progress and status from
// its key results. It is pure and total over any finite key result list.
package progress

import (
	"math"

	"okrflow/api/internal/store"
)

// Scores used when a key result has no measurable target (target == 0):
// the status alone decides its contribution.
var statusScores = map[string]int{
	store.StatusCompleted: 100,
	store.StatusOnTrack:   75,
	store.StatusAtRisk:    45,
	store.StatusOffTrack:  20,
}

// Ratio thresholds for status derivation when a key result carries no
// explicit status.
const (
	offTrackBelow = 0.4
	atRiskBelow   = 0.7
)

// Compute returns the rounded 0-100 progress (average of per-key-result
// contributions, 0 for an empty list) and the derived objective status.
// Off-track dominates at-risk; completed key results bypass both checks.
// Progress >= 100 is reported as "completed" by read-side callers, never here.
func Compute(keyResults []store.KeyResult) (int, string) {
	return computeProgress(keyResults), deriveStatus(keyResults)
}

func computeProgress(keyResults []store.KeyResult) int {
	if len(keyResults) == 0 {
		return 0
	}
	sum := 0
	for _, kr := range keyResults {
		sum += Contribution(kr)
	}
	return int(math.Round(float64(sum) / float64(len(keyResults))))
}

// Contribution is the 0-100 score a single key result adds to the average.
func Contribution(kr store.KeyResult) int {
	if kr.Target > 0 {
		ratio := kr.Current / kr.Target
		if ratio > 1 {
			ratio = 1
		}
		if ratio < 0 {
			ratio = 0
		}
		return int(math.Round(ratio * 100))
	}
	return statusScores[kr.Status]
}

func deriveStatus(keyResults []store.KeyResult) string {
	for _, kr := range keyResults {
		if resolvesOffTrack(kr) {
			return store.StatusOffTrack
		}
	}
	for _, kr := range keyResults {
		if resolvesAtRisk(kr) {
			return store.StatusAtRisk
		}
	}
	return store.StatusOnTrack
}

func resolvesOffTrack(kr store.KeyResult) bool {
	if kr.Status != "" {
		return kr.Status == store.StatusOffTrack
	}
	if kr.Target <= 0 {
		return false
	}
	return kr.Current/kr.Target < offTrackBelow
}

func resolvesAtRisk(kr store.KeyResult) bool {
	if kr.Status != "" {
		return kr.Status == store.StatusAtRisk
	}
	if kr.Target <= 0 {
		return false
	}
	ratio := kr.Current / kr.Target
	return ratio >= offTrackBelow && ratio < atRiskBelow
}
