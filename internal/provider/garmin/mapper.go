package garmin

import "example.com/healthsync/internal/domain"

// dailySummary is the raw wellness-api dailies record.
type dailySummary struct {
	CalendarDate     string  `json:"calendarDate"`
	Steps            int     `json:"steps"`
	DistanceMeters   float64 `json:"distanceInMeters"`
	ActiveKilocal    float64 `json:"activeKilocalories"`
	RestingHeartRate int     `json:"restingHeartRateInBeatsPerMinute"`
	AverageHeartRate int     `json:"averageHeartRateInBeatsPerMinute"`
	MaxHeartRate     int     `json:"maxHeartRateInBeatsPerMinute"`
}

// mapDailies normalizes the dailies payload, keeping only records inside the
// requested range. The dailies query filters by upload time, so records from
// adjacent days can appear in the response.
func mapDailies(dailies []dailySummary, r domain.DateRange) []domain.ProviderSample {
	var samples []domain.ProviderSample
	for _, d := range dailies {
		day, err := domain.ParseDay(d.CalendarDate)
		if err != nil || !r.Contains(day) {
			continue
		}

		v := domain.MetricValues{}
		present := false
		if d.Steps > 0 {
			v.Steps = domain.IntPtr(d.Steps)
			present = true
		}
		if d.DistanceMeters > 0 {
			v.DistanceMeters = domain.FloatPtr(d.DistanceMeters)
			present = true
		}
		if d.ActiveKilocal > 0 {
			v.ActiveCalories = domain.FloatPtr(d.ActiveKilocal)
			present = true
		}
		if d.RestingHeartRate > 0 {
			v.RestingHR = domain.IntPtr(d.RestingHeartRate)
			present = true
		}
		if d.AverageHeartRate > 0 {
			v.AvgHR = domain.IntPtr(d.AverageHeartRate)
			present = true
		}
		if d.MaxHeartRate > 0 {
			v.MaxHR = domain.IntPtr(d.MaxHeartRate)
			present = true
		}
		if present {
			samples = append(samples, domain.ProviderSample{Day: day, Values: v})
		}
	}
	return samples
}
