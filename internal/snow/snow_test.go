package snow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/forecast-blend-service/internal/models"
)

func hourlyTimes(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * time.Hour)
	}
	return out
}

func ptr(v float64) *float64 { return &v }

// TestRatio_ReferencePoints verifies the table is hit exactly at reference temperatures.
func TestRatio_ReferencePoints(t *testing.T) {
	tests := []struct {
		tempC float64
		want  float64
	}{
		{2, 0}, {0, 8}, {-3, 10}, {-6, 12}, {-9, 15},
		{-12, 18}, {-15, 20}, {-20, 25}, {-25, 30},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Ratio(tt.tempC), 1e-9, "Ratio(%v)", tt.tempC)
	}
}

// TestRatio_InterpolatesAndClamps covers values between and outside the table.
func TestRatio_InterpolatesAndClamps(t *testing.T) {
	r := Ratio(1)
	assert.Greater(t, r, 0.0)
	assert.Less(t, r, 8.0)
	assert.InDelta(t, 4, r, 1e-9)
	assert.InDelta(t, 11, Ratio(-4.5), 1e-9)

	assert.Equal(t, 30.0, Ratio(-30))
	assert.Equal(t, 0.0, Ratio(5))
}

// TestRatio_Monotonic checks the ratio never decreases as temperature drops.
func TestRatio_Monotonic(t *testing.T) {
	prev := Ratio(10)
	for temp := 10.0; temp >= -35; temp -= 0.25 {
		r := Ratio(temp)
		require.GreaterOrEqual(t, r, prev, "Ratio(%v)", temp)
		prev = r
	}
}

// TestEnhance_SplitsSnowAndRain covers the per-hour classification rules.
func TestEnhance_SplitsSnowAndRain(t *testing.T) {
	f := models.Forecast{
		TimesUTC: hourlyTimes(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), 5),
		HourlyData: models.HourlyData{
			models.Temperature2m: models.Series{models.Some(-9), models.Some(5), models.Null(), models.Some(2), models.Some(-3)},
			models.Precipitation: models.Series{models.Some(2), models.Some(3), models.Some(1), models.Some(4), models.Some(0)},
		},
	}
	e := Enhance(f)

	assert.InDelta(t, 3.0, e.EnhancedSnowfall[0], 1e-9)
	assert.Equal(t, models.Some(15), e.SnowRatio[0])

	assert.Equal(t, 0.0, e.EnhancedSnowfall[1])
	assert.Equal(t, 3.0, e.Rain[1])
	assert.False(t, e.SnowRatio[1].Valid)

	assert.InDelta(t, 1.0, e.EnhancedSnowfall[2], 1e-9, "missing temperature uses 10:1")

	assert.Equal(t, 4.0, e.Rain[3], "ratio is zero at the threshold")
	assert.Equal(t, 0.0, e.EnhancedSnowfall[3])

	assert.Equal(t, 0.0, e.EnhancedSnowfall[4])
	assert.Equal(t, 0.0, e.Rain[4])
}

// TestEnhance_FreezingLevelOverride checks elevation relative to freezing level wins over temperature.
func TestEnhance_FreezingLevelOverride(t *testing.T) {
	f := models.Forecast{
		ElevationMeters: ptr(2000),
		TimesUTC:        hourlyTimes(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), 2),
		HourlyData: models.HourlyData{
			models.Temperature2m:       models.SeriesOf(-1, 1),
			models.Precipitation:       models.SeriesOf(2, 2),
			models.FreezingLevelHeight: models.SeriesOf(2500, 1500),
		},
	}
	e := Enhance(f)
	assert.Equal(t, 2.0, e.Rain[0], "well below freezing level is rain")
	assert.Equal(t, 0.0, e.EnhancedSnowfall[0])
	assert.Greater(t, e.EnhancedSnowfall[1], 0.0, "well above freezing level is snow")
}

// TestWeightedRatio covers the precipitation weighting and the dry fallback.
func TestWeightedRatio(t *testing.T) {
	got := WeightedRatio(
		models.Series{models.Some(15), models.Some(10), models.Null()},
		models.SeriesOf(1, 3, 10),
		models.SeriesOf(-9, -3, 5),
	)
	require.True(t, got.Valid)
	assert.InDelta(t, (15*1+10*3)/4.0, got.Value, 1e-9)

	dry := WeightedRatio(models.Series{models.Null(), models.Null()}, models.SeriesOf(0, 0), models.SeriesOf(-3, -3))
	assert.Equal(t, models.Some(10), dry)

	warm := WeightedRatio(models.Series{models.Null(), models.Null()}, models.SeriesOf(0, 1), models.SeriesOf(5, 6))
	assert.False(t, warm.Valid)

	assert.False(t, WeightedRatio(nil, nil, nil).Valid)
}

// TestSummarize_RatioFollowsEnhancement checks the daily ratio uses the same hour
// classification as Enhance: freezing-level rain is excluded and a null temperature
// counts at 10:1.
func TestSummarize_RatioFollowsEnhancement(t *testing.T) {
	elev := 1000.0
	f := models.Forecast{
		ElevationMeters: &elev,
		TimesUTC:        hourlyTimes(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), 3),
		HourlyData: models.HourlyData{
			// Hour 0 is 0°C but 1000 m under the freezing level, so rain.
			models.Temperature2m:       models.Series{models.Some(0), models.Some(-9), models.Null()},
			models.Precipitation:       models.SeriesOf(5, 1, 2),
			models.FreezingLevelHeight: models.Series{models.Some(2000), models.Null(), models.Null()},
		},
	}
	e := Enhance(f)
	assert.Equal(t, 5.0, e.Rain[0])

	days := Summarize(f)
	require.Len(t, days, 1)
	require.True(t, days[0].SnowRatio.Valid)
	assert.InDelta(t, (15*1+10*2)/3.0, days[0].SnowRatio.Value, 1e-9)

	enhanced := WithEnhancement(f)
	require.Len(t, enhanced.Daily, 1)
	assert.Equal(t, days[0].SnowRatio, enhanced.Daily[0].SnowRatio)
	assert.InDelta(t, 5.0, enhanced.Daily[0].RainMm, 1e-9)
}

// TestSummarize_PartitionsByUTCDate checks daily totals sum to the hourly total.
func TestSummarize_PartitionsByUTCDate(t *testing.T) {
	start := time.Date(2026, 1, 10, 5, 0, 0, 0, time.UTC)
	n := 72
	snow := make(models.Series, n)
	temps := make(models.Series, n)
	precip := make(models.Series, n)
	var total float64
	for i := 0; i < n; i++ {
		v := float64(i%7) * 0.3
		snow[i] = models.Some(v)
		total += v
		temps[i] = models.Some(-5 + float64(i%4))
		precip[i] = models.Some(float64(i % 3))
	}
	snow[10] = models.Null()
	total -= float64(10%7) * 0.3

	f := models.Forecast{
		TimesUTC: hourlyTimes(start, n),
		HourlyData: models.HourlyData{
			models.Snowfall:      snow,
			models.Temperature2m: temps,
			models.Precipitation: precip,
		},
	}
	f = WithEnhancement(f)
	days := f.Daily

	require.Len(t, days, 4)
	assert.Equal(t, "2026-01-10", days[0].Date)
	assert.Equal(t, 19, days[0].Hours)
	assert.Equal(t, 24, days[1].Hours)
	assert.Equal(t, 5, days[3].Hours)

	var sum, enhanced, hours float64
	for _, d := range days {
		sum += d.SnowfallCm
		enhanced += d.EnhancedSnowfallCm
		hours += float64(d.Hours)
	}
	assert.InDelta(t, total, sum, 1e-9)
	assert.Equal(t, float64(n), hours)

	var hourlyEnhanced float64
	for _, v := range f.Enhanced.EnhancedSnowfall {
		hourlyEnhanced += v
	}
	assert.InDelta(t, hourlyEnhanced, enhanced, 1e-9)
}

// TestSummarize_DailyExtremes checks highs, lows, maxima and the freezing level mean.
func TestSummarize_DailyExtremes(t *testing.T) {
	f := models.Forecast{
		TimesUTC: hourlyTimes(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), 3),
		HourlyData: models.HourlyData{
			models.Temperature2m:       models.Series{models.Some(-4), models.Null(), models.Some(1)},
			models.WindSpeed10m:        models.SeriesOf(10, 30, 20),
			models.WindGusts10m:        models.Series{models.Null(), models.Null(), models.Null()},
			models.FreezingLevelHeight: models.Series{models.Some(1000), models.Some(2000), models.Null()},
		},
	}
	days := Summarize(f)
	require.Len(t, days, 1)
	d := days[0]
	assert.Equal(t, models.Some(1), d.HighC)
	assert.Equal(t, models.Some(-4), d.LowC)
	assert.Equal(t, models.Some(30), d.MaxWindKmh)
	assert.False(t, d.MaxGustKmh.Valid)
	assert.Equal(t, models.Some(1500), d.MeanFreezingLevelM)
	assert.Equal(t, 0.0, d.RainMm)

	assert.Nil(t, Summarize(models.Forecast{}))
}

// TestAccumulate treats nulls as zero.
func TestAccumulate(t *testing.T) {
	got := Accumulate(models.Series{models.Some(1), models.Null(), models.Some(2.5)})
	assert.Equal(t, []float64{1, 1, 3.5}, got)
	assert.Empty(t, Accumulate(nil))
}

// TestRangeTotal covers default, clamped and invalid ranges.
func TestRangeTotal(t *testing.T) {
	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	f := models.Forecast{
		TimesUTC: hourlyTimes(start, 4),
		HourlyData: models.HourlyData{
			models.Snowfall: models.Series{models.Some(1), models.Some(2), models.Null(), models.Some(4)},
		},
	}

	got, err := RangeTotal(f, models.Snowfall, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 7.0, got)

	got, err = RangeTotal(f, models.Snowfall, start.Add(time.Hour), start.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)

	got, err = RangeTotal(f, models.Snowfall, start.Add(-48*time.Hour), start.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 7.0, got)

	_, err = RangeTotal(f, models.Snowfall, start.Add(2*time.Hour), start)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = RangeTotal(f, models.Precipitation, time.Time{}, time.Time{})
	assert.Error(t, err)

	_, err = RangeTotal(models.Forecast{}, models.Snowfall, time.Time{}, time.Time{})
	assert.Error(t, err)
}
