package domain

import (
	"sort"
	"time"
)

// ProviderReport carries one provider's samples into a merge, together with
// its configured priority and the moment its fetch completed.
type ProviderReport struct {
	Provider string
	// Priority ranks providers for conflict resolution; a lower number wins.
	Priority int
	SyncedAt time.Time
	Samples  []ProviderSample
}

// fieldAccessor lets the merge walk every metric field without reflection.
type fieldAccessor struct {
	name    string
	present func(*MetricValues) bool
	assign  func(dst, src *MetricValues)
}

var metricFields = []fieldAccessor{
	{FieldSteps, func(v *MetricValues) bool { return v.Steps != nil }, func(d, s *MetricValues) { d.Steps = s.Steps }},
	{FieldDistanceMeters, func(v *MetricValues) bool { return v.DistanceMeters != nil }, func(d, s *MetricValues) { d.DistanceMeters = s.DistanceMeters }},
	{FieldActiveCalories, func(v *MetricValues) bool { return v.ActiveCalories != nil }, func(d, s *MetricValues) { d.ActiveCalories = s.ActiveCalories }},
	{FieldRestingHR, func(v *MetricValues) bool { return v.RestingHR != nil }, func(d, s *MetricValues) { d.RestingHR = s.RestingHR }},
	{FieldAvgHR, func(v *MetricValues) bool { return v.AvgHR != nil }, func(d, s *MetricValues) { d.AvgHR = s.AvgHR }},
	{FieldMaxHR, func(v *MetricValues) bool { return v.MaxHR != nil }, func(d, s *MetricValues) { d.MaxHR = s.MaxHR }},
	{FieldHRV, func(v *MetricValues) bool { return v.HRV != nil }, func(d, s *MetricValues) { d.HRV = s.HRV }},
	{FieldSleepDurationMin, func(v *MetricValues) bool { return v.SleepDurationMin != nil }, func(d, s *MetricValues) { d.SleepDurationMin = s.SleepDurationMin }},
	{FieldSleepStages, func(v *MetricValues) bool { return v.SleepStages != nil }, func(d, s *MetricValues) { d.SleepStages = s.SleepStages }},
	{FieldRecoveryScore, func(v *MetricValues) bool { return v.RecoveryScore != nil }, func(d, s *MetricValues) { d.RecoveryScore = s.RecoveryScore }},
	{FieldStrain, func(v *MetricValues) bool { return v.Strain != nil }, func(d, s *MetricValues) { d.Strain = s.Strain }},
}

// Merge combines per-provider reports into one DailyMetrics record per day.
//
// For each (day, field) the value from the highest-priority provider wins
// and the winner is recorded in DataSources. When two providers share a
// priority, the most recently synced report wins; that tie-break is a policy
// choice, not a correctness guarantee. Merging the same reports twice yields
// identical records.
func Merge(userID string, reports []ProviderReport, now time.Time) []DailyMetrics {
	// Apply weakest report first so the strongest overwrites last: highest
	// priority number first, and within a priority the oldest sync first.
	ordered := make([]ProviderReport, len(reports))
	copy(ordered, reports)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].SyncedAt.Before(ordered[j].SyncedAt)
	})

	byDay := make(map[Day]*DailyMetrics)
	for _, report := range ordered {
		for _, sample := range report.Samples {
			rec, ok := byDay[sample.Day]
			if !ok {
				rec = &DailyMetrics{
					UserID:      userID,
					Day:         sample.Day,
					DataSources: make(map[string]string),
					UpdatedAt:   now,
				}
				byDay[sample.Day] = rec
			}
			values := sample.Values
			for _, field := range metricFields {
				if !field.present(&values) {
					continue
				}
				field.assign(&rec.Values, &values)
				rec.DataSources[field.name] = report.Provider
			}
		}
	}

	merged := make([]DailyMetrics, 0, len(byDay))
	for _, rec := range byDay {
		merged = append(merged, *rec)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Day < merged[j].Day })
	return merged
}
