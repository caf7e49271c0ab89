// Package report buckets objectives into quarterly and yearly aggregates
// with trend deltas, and renders CSV exports.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"okrflow/api/internal/store"
)

// Focus label used for quarters with no dominant category.
const defaultFocus = "Cross-team alignment"

// Trend label for the first quarter, which has nothing to compare against.
const baselineTrend = "Baseline quarter"

const yearlyWindow = 5

// Filter narrows the objective set before aggregation. Team is a
// case-insensitive substring match on department; Status accepts the three
// literal statuses plus "completed", which is evaluated as progress >= 100.
type Filter struct {
	Year   int
	Team   string
	Status string
}

type QuarterSummary struct {
	Quarter     string `json:"quarter"`
	AvgProgress int    `json:"avgProgress"`
	OKRs        int    `json:"okrs"`
	Focus       string `json:"focus"`
	Trend       string `json:"trend"`
}

type StatusSummary struct {
	OnTrack   int `json:"onTrack"`
	AtRisk    int `json:"atRisk"`
	OffTrack  int `json:"offTrack"`
	Completed int `json:"completed"`
}

type QuarterlyReport struct {
	Year     int              `json:"year"`
	Quarters []QuarterSummary `json:"quarters"`
	Summary  StatusSummary    `json:"summary"`
}

type YearSummary struct {
	Year        int `json:"year"`
	AvgProgress int `json:"avgProgress"`
	Completed   int `json:"completed"`
}

type YearlyReport struct {
	Years    []YearSummary `json:"years"`
	Insights StatusSummary `json:"insights"`
}

// DataStore is the read dependency: reports are synchronous, side-effect-free
// scans over the objective collection.
type DataStore interface {
	ListAllObjectives(ctx context.Context) ([]store.Objective, error)
}

type Service struct {
	store DataStore
	now   func() time.Time
}

func NewService(store DataStore) *Service {
	return &Service{store: store, now: time.Now}
}

// NewServiceWithClock pins the current-year default for tests.
func NewServiceWithClock(store DataStore, now func() time.Time) *Service {
	return &Service{store: store, now: now}
}

func (s *Service) year(f Filter) int {
	if f.Year > 0 {
		return f.Year
	}
	return s.now().Year()
}

// Quarterly buckets the filtered objectives of one year into four fixed
// quarters by due-date month.
func (s *Service) Quarterly(ctx context.Context, f Filter) (QuarterlyReport, error) {
	year := s.year(f)
	objectives, err := s.filtered(ctx, f)
	if err != nil {
		return QuarterlyReport{}, err
	}

	buckets := make([][]store.Objective, 4)
	var inYear []store.Objective
	for _, obj := range objectives {
		y, month, ok := parseDueDate(obj.DueDate)
		if !ok || y != year {
			continue
		}
		q := (int(month) - 1) / 3
		buckets[q] = append(buckets[q], obj)
		inYear = append(inYear, obj)
	}

	quarters := make([]QuarterSummary, 4)
	prevAvg := 0
	for i, bucket := range buckets {
		avg := averageProgress(bucket)
		quarters[i] = QuarterSummary{
			Quarter:     fmt.Sprintf("Q%d", i+1),
			AvgProgress: avg,
			OKRs:        len(bucket),
			Focus:       dominantCategory(bucket),
			Trend:       trendLabel(i, avg, prevAvg),
		}
		prevAvg = avg
	}

	return QuarterlyReport{
		Year:     year,
		Quarters: quarters,
		Summary:  statusSummary(inYear),
	}, nil
}

// Yearly reports the last five years ending at the requested year. Each
// entry is independent of month and quarter.
func (s *Service) Yearly(ctx context.Context, f Filter) (YearlyReport, error) {
	endYear := s.year(f)
	objectives, err := s.filtered(ctx, f)
	if err != nil {
		return YearlyReport{}, err
	}

	byYear := make(map[int][]store.Objective)
	var inWindow []store.Objective
	for _, obj := range objectives {
		y, _, ok := parseDueDate(obj.DueDate)
		if !ok || y <= endYear-yearlyWindow || y > endYear {
			continue
		}
		byYear[y] = append(byYear[y], obj)
		inWindow = append(inWindow, obj)
	}

	years := make([]YearSummary, 0, yearlyWindow)
	for y := endYear - yearlyWindow + 1; y <= endYear; y++ {
		bucket := byYear[y]
		completed := 0
		for _, obj := range bucket {
			if obj.Progress >= 100 {
				completed++
			}
		}
		years = append(years, YearSummary{
			Year:        y,
			AvgProgress: averageProgress(bucket),
			Completed:   completed,
		})
	}

	return YearlyReport{
		Years:    years,
		Insights: statusSummary(inWindow),
	}, nil
}

func (s *Service) filtered(ctx context.Context, f Filter) ([]store.Objective, error) {
	objectives, err := s.store.ListAllObjectives(ctx)
	if err != nil {
		return nil, fmt.Errorf("load objectives for report: %w", err)
	}

	var out []store.Objective
	for _, obj := range objectives {
		if f.Team != "" && !strings.Contains(strings.ToLower(obj.Department), strings.ToLower(f.Team)) {
			continue
		}
		if f.Status != "" && !matchesStatus(obj, f.Status) {
			continue
		}
		out = append(out, obj)
	}
	return out, nil
}

// matchesStatus keeps buckets non-overlapping: progress >= 100 counts as
// completed only, never as its stored literal status.
func matchesStatus(obj store.Objective, status string) bool {
	if status == store.StatusCompleted {
		return obj.Progress >= 100
	}
	return obj.Progress < 100 && obj.Status == status
}

func averageProgress(objectives []store.Objective) int {
	if len(objectives) == 0 {
		return 0
	}
	sum := 0
	for _, obj := range objectives {
		sum += obj.Progress
	}
	return sum / len(objectives)
}

func dominantCategory(objectives []store.Objective) string {
	counts := make(map[string]int)
	best := ""
	bestCount := 0
	for _, obj := range objectives {
		category := strings.TrimSpace(obj.Category)
		if category == "" {
			continue
		}
		counts[category]++
		if counts[category] > bestCount {
			best = category
			bestCount = counts[category]
		}
	}
	if best == "" {
		return defaultFocus
	}
	return best
}

func trendLabel(quarterIndex, avg, prevAvg int) string {
	if quarterIndex == 0 {
		return baselineTrend
	}
	delta := avg - prevAvg
	switch {
	case delta > 0:
		return fmt.Sprintf("+%d%% vs last quarter", delta)
	case delta < 0:
		return fmt.Sprintf("%d%% vs last quarter", delta)
	default:
		return "No change vs last quarter"
	}
}

func statusSummary(objectives []store.Objective) StatusSummary {
	var summary StatusSummary
	for _, obj := range objectives {
		switch {
		case obj.Progress >= 100:
			summary.Completed++
		case obj.Status == store.StatusAtRisk:
			summary.AtRisk++
		case obj.Status == store.StatusOffTrack:
			summary.OffTrack++
		default:
			summary.OnTrack++
		}
	}
	return summary
}

// parseDueDate extracts year and month from the stored due-date string.
// Dates are stored as authored; only a few common layouts are recognized,
// and anything else falls outside every bucket.
func parseDueDate(value string) (int, time.Month, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, 0, false
	}
	layouts := []string{"2006-01-02", time.RFC3339, "2006/01/02"}
	for _, layout := range layouts {
		if len(value) >= len("2006-01-02") && layout == "2006-01-02" {
			if t, err := time.Parse(layout, value[:10]); err == nil {
				return t.Year(), t.Month(), true
			}
		}
		if t, err := time.Parse(layout, value); err == nil {
			return t.Year(), t.Month(), true
		}
	}
	return 0, 0, false
}
