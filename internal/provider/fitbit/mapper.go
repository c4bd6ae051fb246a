package fitbit

import "example.com/healthsync/internal/domain"

// mapDay folds one day's activity and sleep summaries into a sample.
// Days with no data at all are skipped so empty calendar days do not
// overwrite values from other providers.
func mapDay(day domain.Day, act activitySummary, slp sleepSummary) (domain.ProviderSample, bool) {
	v := domain.MetricValues{}
	present := false

	if act.Summary.Steps > 0 {
		v.Steps = domain.IntPtr(act.Summary.Steps)
		present = true
	}
	if act.Summary.ActivityCalories > 0 {
		v.ActiveCalories = domain.FloatPtr(float64(act.Summary.ActivityCalories))
		present = true
	}
	if act.Summary.RestingHeartRate > 0 {
		v.RestingHR = domain.IntPtr(act.Summary.RestingHeartRate)
		present = true
	}
	for _, d := range act.Summary.Distances {
		if d.Activity == "total" && d.Distance > 0 {
			v.DistanceMeters = domain.FloatPtr(d.Distance * 1000)
			present = true
		}
	}

	if slp.Summary.TotalMinutesAsleep > 0 {
		v.SleepDurationMin = domain.IntPtr(slp.Summary.TotalMinutesAsleep)
		st := slp.Summary.Stages
		if st.Deep+st.Light+st.Rem+st.Wake > 0 {
			v.SleepStages = &domain.SleepStages{
				DeepMin:  st.Deep,
				LightMin: st.Light,
				RemMin:   st.Rem,
				AwakeMin: st.Wake,
			}
		}
		present = true
	}

	if !present {
		return domain.ProviderSample{}, false
	}
	return domain.ProviderSample{Day: day, Values: v}, true
}
