// Package snow derives temperature-adjusted snowfall from liquid-equivalent precipitation
// and aggregates hourly forecasts into UTC daily summaries.
package snow

// RainThresholdC is the temperature at and above which precipitation is treated as rain.
const RainThresholdC = 2.0

// ConservativeRatio is the fixed 10:1 ratio raw model snowfall assumes.
const ConservativeRatio = 10.0

type refPoint struct {
	tempC float64
	ratio float64
}

// referenceRatios is ordered warmest to coldest.
var referenceRatios = []refPoint{
	{2, 0},
	{0, 8},
	{-3, 10},
	{-6, 12},
	{-9, 15},
	{-12, 18},
	{-15, 20},
	{-20, 25},
	{-25, 30},
}

// Ratio returns the snow-to-liquid ratio for a temperature in °C, linearly interpolated
// between reference points. It is 0 at or above 2°C and clamped to 30 at or below -25°C.
func Ratio(tempC float64) float64 {
	warmest := referenceRatios[0]
	coldest := referenceRatios[len(referenceRatios)-1]
	if tempC >= warmest.tempC {
		return warmest.ratio
	}
	if tempC <= coldest.tempC {
		return coldest.ratio
	}
	for i := 0; i < len(referenceRatios)-1; i++ {
		hi, lo := referenceRatios[i], referenceRatios[i+1]
		if tempC < hi.tempC && tempC >= lo.tempC {
			frac := (hi.tempC - tempC) / (hi.tempC - lo.tempC)
			return hi.ratio + (lo.ratio-hi.ratio)*frac
		}
	}
	return ConservativeRatio
}
