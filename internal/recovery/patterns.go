package recovery

import (
	"fmt"
	"sort"
	"time"
)

const maxCommonStrategies = 5

// PatternAnalyzer correlates a failure with similar history. It never mutates
// the records it reads.
type PatternAnalyzer struct {
	now      func() time.Time
	location *time.Location
}

// NewPatternAnalyzer creates an analyzer. Histograms bucket timestamps in loc,
// UTC when nil.
func NewPatternAnalyzer(now func() time.Time, loc *time.Location) *PatternAnalyzer {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &PatternAnalyzer{now: now, location: loc}
}

// Analyze summarizes the records in history that are similar to the failure
func (a *PatternAnalyzer) Analyze(info ErrorInfo, errCtx Context, history []ErrorRecord) PatternAnalysis {
	now := a.now()

	analysis := PatternAnalysis{
		ContextPattern: make(map[string]map[string]int),
		RecoveryPattern: RecoveryPattern{
			CommonStrategies: []string{},
		},
	}

	var (
		successes      int
		totalTimeMs    int64
		strategyCounts = make(map[string]int)
		strategyOrder  []string
	)

	for _, record := range history {
		if !IsSimilar(info, errCtx, record) {
			continue
		}

		analysis.Frequency.Total++
		if now.Sub(record.Timestamp) < time.Hour {
			analysis.Frequency.Recent++
		}

		ts := record.Timestamp.In(a.location)
		analysis.TimePattern.HourOfDay[ts.Hour()]++
		analysis.TimePattern.DayOfWeek[int(ts.Weekday())]++

		for key, value := range record.Context {
			values, ok := analysis.ContextPattern[key]
			if !ok {
				values = make(map[string]int)
				analysis.ContextPattern[key] = values
			}
			values[fmt.Sprint(value)]++
		}

		if record.RecoveryResult.Success {
			successes++
		}
		totalTimeMs += record.RecoveryResult.RecoveryTimeMs

		if name := record.Strategy.Name; name != "" {
			if _, seen := strategyCounts[name]; !seen {
				strategyOrder = append(strategyOrder, name)
			}
			strategyCounts[name]++
		}
	}

	analysis.Frequency.Rate = float64(analysis.Frequency.Recent) / 60
	analysis.TimePattern.PeakHour = argmax(analysis.TimePattern.HourOfDay[:])
	analysis.TimePattern.PeakDay = argmax(analysis.TimePattern.DayOfWeek[:])

	if total := analysis.Frequency.Total; total > 0 {
		analysis.RecoveryPattern.SuccessRate = float64(successes) / float64(total)
		analysis.RecoveryPattern.AverageRecoveryTime = float64(totalTimeMs) / float64(total)
	}
	analysis.RecoveryPattern.CommonStrategies = topStrategies(strategyOrder, strategyCounts, maxCommonStrategies)

	return analysis
}

// argmax returns the first index holding the largest value
func argmax(values []int) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// topStrategies ranks by count, breaking ties by first-seen order
func topStrategies(order []string, counts map[string]int, limit int) []string {
	ranked := append([]string(nil), order...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return counts[ranked[i]] > counts[ranked[j]]
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	if ranked == nil {
		ranked = []string{}
	}
	return ranked
}
