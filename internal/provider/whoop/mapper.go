package whoop

import (
	"math"
	"sort"

	"example.com/healthsync/internal/domain"
)

const kilojoulesToKcal = 0.239006

// mapRecords folds the three WHOOP collections into per-day samples.
// Recovery scores attach to the day the recovery was produced; sleep
// attaches to the day the sleep ended (the morning it describes).
func mapRecords(recoveries []recoveryRecord, cycles []cycleRecord, sleeps []sleepRecord, r domain.DateRange) []domain.ProviderSample {
	byDay := make(map[domain.Day]*domain.MetricValues)

	values := func(day domain.Day) *domain.MetricValues {
		if v, ok := byDay[day]; ok {
			return v
		}
		v := &domain.MetricValues{}
		byDay[day] = v
		return v
	}

	for _, rec := range recoveries {
		day := domain.DayOf(rec.CreatedAt)
		if !r.Contains(day) {
			continue
		}
		v := values(day)
		if rec.Score.RecoveryScore > 0 {
			v.RecoveryScore = domain.IntPtr(int(math.Round(rec.Score.RecoveryScore)))
		}
		if rec.Score.RestingHeartRate > 0 {
			v.RestingHR = domain.IntPtr(int(math.Round(rec.Score.RestingHeartRate)))
		}
		if rec.Score.HRVRmssdMilli > 0 {
			v.HRV = domain.FloatPtr(rec.Score.HRVRmssdMilli)
		}
	}

	for _, cyc := range cycles {
		day := domain.DayOf(cyc.Start)
		if !r.Contains(day) {
			continue
		}
		v := values(day)
		if cyc.Score.Strain > 0 {
			v.Strain = domain.FloatPtr(cyc.Score.Strain)
		}
		if cyc.Score.AverageHeartRate > 0 {
			v.AvgHR = domain.IntPtr(int(math.Round(cyc.Score.AverageHeartRate)))
		}
		if cyc.Score.MaxHeartRate > 0 {
			v.MaxHR = domain.IntPtr(int(math.Round(cyc.Score.MaxHeartRate)))
		}
		if cyc.Score.Kilojoule > 0 {
			v.ActiveCalories = domain.FloatPtr(cyc.Score.Kilojoule * kilojoulesToKcal)
		}
	}

	for _, slp := range sleeps {
		day := domain.DayOf(slp.End)
		if !r.Contains(day) {
			continue
		}
		v := values(day)
		stages := slp.Score.StageSummary
		asleepMilli := stages.TotalLightMilli + stages.TotalSlowWaveMilli + stages.TotalRemMilli
		if asleepMilli > 0 {
			v.SleepDurationMin = domain.IntPtr(int(asleepMilli / 60000))
			v.SleepStages = &domain.SleepStages{
				DeepMin:  int(stages.TotalSlowWaveMilli / 60000),
				RemMin:   int(stages.TotalRemMilli / 60000),
				LightMin: int(stages.TotalLightMilli / 60000),
				AwakeMin: int(stages.TotalAwakeMilli / 60000),
			}
		}
	}

	samples := make([]domain.ProviderSample, 0, len(byDay))
	for day, v := range byDay {
		samples = append(samples, domain.ProviderSample{Day: day, Values: *v})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Day < samples[j].Day })
	return samples
}
