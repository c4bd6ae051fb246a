package oura

import (
	"sort"

	"example.com/healthsync/internal/domain"
)

// mapCollections folds the Oura usercollection payloads into per-day
// samples. Oura already keys everything by calendar day, so mapping is a
// direct field translation; multiple sleep periods on one day are summed.
func mapCollections(activities []dailyActivity, sleeps []sleepPeriod, readiness []dailyReadiness, r domain.DateRange) []domain.ProviderSample {
	byDay := make(map[domain.Day]*domain.MetricValues)

	values := func(raw string) *domain.MetricValues {
		day, err := domain.ParseDay(raw)
		if err != nil || !r.Contains(day) {
			return nil
		}
		if v, ok := byDay[day]; ok {
			return v
		}
		v := &domain.MetricValues{}
		byDay[day] = v
		return v
	}

	for _, act := range activities {
		v := values(act.Day)
		if v == nil {
			continue
		}
		if act.Steps > 0 {
			v.Steps = domain.IntPtr(act.Steps)
		}
		if act.ActiveCalories > 0 {
			v.ActiveCalories = domain.FloatPtr(act.ActiveCalories)
		}
	}

	for _, slp := range sleeps {
		v := values(slp.Day)
		if v == nil || slp.TotalSleepDuration <= 0 {
			continue
		}
		total := slp.TotalSleepDuration / 60
		if v.SleepDurationMin != nil {
			total += *v.SleepDurationMin
		}
		v.SleepDurationMin = domain.IntPtr(total)

		stages := &domain.SleepStages{
			DeepMin:  slp.DeepSleepDuration / 60,
			RemMin:   slp.RemSleepDuration / 60,
			LightMin: slp.LightSleepDuration / 60,
			AwakeMin: slp.AwakeTime / 60,
		}
		if v.SleepStages != nil {
			stages.DeepMin += v.SleepStages.DeepMin
			stages.RemMin += v.SleepStages.RemMin
			stages.LightMin += v.SleepStages.LightMin
			stages.AwakeMin += v.SleepStages.AwakeMin
		}
		v.SleepStages = stages

		if slp.AverageHRV > 0 {
			v.HRV = domain.FloatPtr(slp.AverageHRV)
		}
		if slp.LowestHeartRate > 0 {
			v.RestingHR = domain.IntPtr(slp.LowestHeartRate)
		}
	}

	for _, rdy := range readiness {
		v := values(rdy.Day)
		if v == nil {
			continue
		}
		if rdy.Score > 0 {
			v.RecoveryScore = domain.IntPtr(rdy.Score)
		}
	}

	samples := make([]domain.ProviderSample, 0, len(byDay))
	for day, v := range byDay {
		samples = append(samples, domain.ProviderSample{Day: day, Values: *v})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Day < samples[j].Day })
	return samples
}
