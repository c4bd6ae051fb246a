package strava

import (
	"math"
	"sort"

	"example.com/healthsync/internal/domain"
)

// kilojoulesToKcal converts Strava's cycling work figure to kilocalories
// when the detailed calories field is absent.
const kilojoulesToKcal = 0.239006

// dayAccumulator aggregates a day's activities before normalization.
type dayAccumulator struct {
	distance   float64
	calories   float64
	maxHR      float64
	hrWeighted float64
	hrSeconds  int
}

// mapActivities normalizes raw activities into per-day partial metrics:
// distance and calories are summed, average heart rate is weighted by
// moving time, max heart rate is the day's maximum.
func mapActivities(activities []activity, r domain.DateRange) []domain.ProviderSample {
	byDay := make(map[domain.Day]*dayAccumulator)

	for _, act := range activities {
		day := domain.DayOf(act.StartDate)
		if !r.Contains(day) {
			continue
		}
		acc, ok := byDay[day]
		if !ok {
			acc = &dayAccumulator{}
			byDay[day] = acc
		}

		acc.distance += act.Distance
		switch {
		case act.Calories > 0:
			acc.calories += act.Calories
		case act.Kilojoules > 0:
			acc.calories += act.Kilojoules * kilojoulesToKcal
		}
		if act.AverageHeartrate > 0 && act.MovingTime > 0 {
			acc.hrWeighted += act.AverageHeartrate * float64(act.MovingTime)
			acc.hrSeconds += act.MovingTime
		}
		if act.MaxHeartrate > acc.maxHR {
			acc.maxHR = act.MaxHeartrate
		}
	}

	samples := make([]domain.ProviderSample, 0, len(byDay))
	for day, acc := range byDay {
		values := domain.MetricValues{}
		if acc.distance > 0 {
			values.DistanceMeters = domain.FloatPtr(acc.distance)
		}
		if acc.calories > 0 {
			values.ActiveCalories = domain.FloatPtr(acc.calories)
		}
		if acc.hrSeconds > 0 {
			values.AvgHR = domain.IntPtr(int(math.Round(acc.hrWeighted / float64(acc.hrSeconds))))
		}
		if acc.maxHR > 0 {
			values.MaxHR = domain.IntPtr(int(math.Round(acc.maxHR)))
		}
		samples = append(samples, domain.ProviderSample{Day: day, Values: values})
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Day < samples[j].Day })
	return samples
}
