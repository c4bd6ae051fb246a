package fitbit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
)

const activityFixture = `{
	"summary": {
		"steps": 11427,
		"activityCalories": 612,
		"restingHeartRate": 58,
		"distances": [
			{"activity": "tracker", "distance": 8.1},
			{"activity": "total", "distance": 8.43}
		]
	}
}`

const sleepFixture = `{
	"summary": {
		"totalMinutesAsleep": 412,
		"stages": {"deep": 88, "light": 230, "rem": 94, "wake": 41}
	}
}`

func TestMapDay(t *testing.T) {
	var act activitySummary
	var slp sleepSummary
	require.NoError(t, json.Unmarshal([]byte(activityFixture), &act))
	require.NoError(t, json.Unmarshal([]byte(sleepFixture), &slp))

	sample, ok := mapDay("2026-08-19", act, slp)
	require.True(t, ok)
	require.Equal(t, domain.Day("2026-08-19"), sample.Day)
	require.Equal(t, 11427, *sample.Values.Steps)
	require.Equal(t, 612.0, *sample.Values.ActiveCalories)
	require.Equal(t, 58, *sample.Values.RestingHR)
	// Only the "total" distance counts, converted from km to meters.
	require.InDelta(t, 8430.0, *sample.Values.DistanceMeters, 0.001)
	require.Equal(t, 412, *sample.Values.SleepDurationMin)
	require.Equal(t, &domain.SleepStages{DeepMin: 88, LightMin: 230, RemMin: 94, AwakeMin: 41}, sample.Values.SleepStages)
}

func TestMapDaySkipsEmptyDays(t *testing.T) {
	_, ok := mapDay("2026-08-19", activitySummary{}, sleepSummary{})
	require.False(t, ok)
}

func TestMapDaySleepWithoutStages(t *testing.T) {
	var slp sleepSummary
	require.NoError(t, json.Unmarshal([]byte(`{"summary":{"totalMinutesAsleep":300}}`), &slp))

	sample, ok := mapDay("2026-08-19", activitySummary{}, slp)
	require.True(t, ok)
	require.Equal(t, 300, *sample.Values.SleepDurationMin)
	require.Nil(t, sample.Values.SleepStages)
	require.Nil(t, sample.Values.Steps)
}
