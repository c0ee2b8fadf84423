package blend

import (
	"sort"

	"github.com/kjstillabower/forecast-blend-service/internal/models"
	"github.com/kjstillabower/forecast-blend-service/internal/snow"
)

// SpreadEnhancedSnowfall is the spread key for enhanced snowfall.
const SpreadEnhancedSnowfall = "enhanced_snowfall"

// Spread computes per-hour p10/p90 bands across aligned constituent forecasts for
// temperature, precipitation and enhanced snowfall. Hours with no values report 0.
func Spread(aligned map[string]models.Forecast) map[string]models.SpreadBand {
	ids := sortedIDs(aligned)
	if len(ids) == 0 {
		return nil
	}
	hours := aligned[ids[0]].Hours()

	out := make(map[string]models.SpreadBand, 3)
	for _, v := range []models.Variable{models.Temperature2m, models.Precipitation} {
		columns := make([][]float64, hours)
		for _, id := range ids {
			series := aligned[id].HourlyData[v]
			for i := 0; i < hours; i++ {
				if s := series.At(i); s.Valid {
					columns[i] = append(columns[i], s.Value)
				}
			}
		}
		out[string(v)] = band(columns)
	}

	columns := make([][]float64, hours)
	for _, id := range ids {
		enhanced := snow.Enhance(aligned[id]).EnhancedSnowfall
		for i := 0; i < hours && i < len(enhanced); i++ {
			columns[i] = append(columns[i], enhanced[i])
		}
	}
	out[SpreadEnhancedSnowfall] = band(columns)
	return out
}

func band(columns [][]float64) models.SpreadBand {
	b := models.SpreadBand{P10: make([]float64, len(columns)), P90: make([]float64, len(columns))}
	for i, values := range columns {
		n := len(values)
		if n == 0 {
			continue
		}
		sort.Float64s(values)
		b.P10[i] = values[max(0, int(float64(n)*0.1))]
		b.P90[i] = values[min(n-1, int(float64(n)*0.9))]
	}
	return b
}
