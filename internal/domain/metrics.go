// Package domain defines the normalized health-metrics model shared by the
// provider adapters, the sync coordinator, and the persistence layer.
package domain

import (
	"fmt"
	"time"
)

// Day is a calendar day in UTC, formatted as 2006-01-02. Daily metrics are
// keyed by (user, Day).
type Day string

// DayOf truncates a timestamp to its UTC calendar day.
func DayOf(t time.Time) Day {
	return Day(t.UTC().Format("2006-01-02"))
}

// ParseDay parses a 2006-01-02 string into a Day.
func ParseDay(s string) (Day, error) {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	return Day(s), nil
}

// Time returns the UTC midnight instant of the day.
func (d Day) Time() time.Time {
	t, _ := time.Parse("2006-01-02", string(d))
	return t
}

// Next returns the following calendar day.
func (d Day) Next() Day {
	return DayOf(d.Time().AddDate(0, 0, 1))
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	From Day
	To   Day
}

// Days lists every day in the range in chronological order.
func (r DateRange) Days() []Day {
	var days []Day
	for d := r.From; d <= r.To; d = d.Next() {
		days = append(days, d)
	}
	return days
}

// Contains reports whether the day falls within the range.
func (r DateRange) Contains(d Day) bool {
	return d >= r.From && d <= r.To
}

// Validate checks range ordering and format.
func (r DateRange) Validate() error {
	if _, err := ParseDay(string(r.From)); err != nil {
		return err
	}
	if _, err := ParseDay(string(r.To)); err != nil {
		return err
	}
	if r.From > r.To {
		return fmt.Errorf("range start %s is after end %s", r.From, r.To)
	}
	return nil
}

// LastNDays builds a range covering the n days ending today.
func LastNDays(n int, now time.Time) DateRange {
	to := DayOf(now)
	from := DayOf(now.AddDate(0, 0, -(n - 1)))
	return DateRange{From: from, To: to}
}

// MetricKind labels a family of metrics a provider can supply.
type MetricKind string

const (
	KindActivity  MetricKind = "activity"
	KindHeartRate MetricKind = "heart_rate"
	KindSleep     MetricKind = "sleep"
	KindRecovery  MetricKind = "recovery"
)

// SleepStages breaks a night's sleep into stage durations in minutes.
type SleepStages struct {
	DeepMin  int `json:"deep_min"`
	RemMin   int `json:"rem_min"`
	LightMin int `json:"light_min"`
	AwakeMin int `json:"awake_min"`
}

// MetricValues holds the optional per-day metric fields a provider can
// report. A nil field means the provider had nothing to say about it.
type MetricValues struct {
	Steps            *int         `json:"steps,omitempty"`
	DistanceMeters   *float64     `json:"distance_m,omitempty"`
	ActiveCalories   *float64     `json:"active_calories,omitempty"`
	RestingHR        *int         `json:"resting_hr,omitempty"`
	AvgHR            *int         `json:"avg_hr,omitempty"`
	MaxHR            *int         `json:"max_hr,omitempty"`
	HRV              *float64     `json:"hrv,omitempty"`
	SleepDurationMin *int         `json:"sleep_duration_min,omitempty"`
	SleepStages      *SleepStages `json:"sleep_stages,omitempty"`
	RecoveryScore    *int         `json:"recovery_score,omitempty"`
	Strain           *float64     `json:"strain,omitempty"`
}

// ProviderSample is one provider's partial report for a single day, prior to
// merging.
type ProviderSample struct {
	Day    Day
	Values MetricValues
}

// DailyMetrics is the merged record persisted per (user, day). DataSources
// maps each present field name to the provider that contributed its value.
type DailyMetrics struct {
	UserID      string
	Day         Day
	Values      MetricValues
	DataSources map[string]string
	UpdatedAt   time.Time
}

// Metric field names used as DataSources keys.
const (
	FieldSteps            = "steps"
	FieldDistanceMeters   = "distance_m"
	FieldActiveCalories   = "active_calories"
	FieldRestingHR        = "resting_hr"
	FieldAvgHR            = "avg_hr"
	FieldMaxHR            = "max_hr"
	FieldHRV              = "hrv"
	FieldSleepDurationMin = "sleep_duration_min"
	FieldSleepStages      = "sleep_stages"
	FieldRecoveryScore    = "recovery_score"
	FieldStrain           = "strain"
)

// SyncResult is the outcome of one provider's fetch within a sync cycle. It
// is transient and only surfaced to callers and telemetry.
type SyncResult struct {
	Provider    string    `json:"provider"`
	Range       DateRange `json:"-"`
	Records     int       `json:"records"`
	Success     bool      `json:"success"`
	NeedsReauth bool      `json:"needs_reauth,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// IntPtr and FloatPtr are small helpers for building MetricValues literals.
func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }
