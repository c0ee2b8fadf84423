package snow

import "github.com/kjstillabower/forecast-blend-service/internal/models"

// freezingLevelBufferM is the mixed-phase band around the freezing level.
const freezingLevelBufferM = 300.0

// Enhance derives enhanced snowfall, rain and per-hour snow ratio from a forecast's
// precipitation, temperature and (when elevation is known) freezing level.
//
// Precipitation with no temperature is converted at the conservative 10:1 ratio.
// An hour more than 300 m below the freezing level is rain regardless of temperature.
func Enhance(f models.Forecast) models.EnhancedSeries {
	n := f.Hours()
	out := models.EnhancedSeries{
		EnhancedSnowfall: make([]float64, n),
		Rain:             make([]float64, n),
		SnowRatio:        make(models.Series, n),
	}
	precip := f.Series(models.Precipitation)
	temps := f.Series(models.Temperature2m)
	freezing := f.Series(models.FreezingLevelHeight)

	for i := 0; i < n; i++ {
		p := precip.At(i)
		if !p.Valid || p.Value <= 0 {
			continue
		}
		t := temps.At(i)
		if !t.Valid {
			out.EnhancedSnowfall[i] = p.Value * ConservativeRatio / 10
			out.SnowRatio[i] = models.Some(ConservativeRatio)
			continue
		}

		isSnow := t.Value <= RainThresholdC
		if fl := freezing.At(i); fl.Valid && f.ElevationMeters != nil {
			elev := *f.ElevationMeters
			switch {
			case elev > fl.Value+freezingLevelBufferM:
				isSnow = true
			case elev < fl.Value-freezingLevelBufferM:
				isSnow = false
			}
		}
		ratio := Ratio(t.Value)
		if !isSnow || ratio <= 0 {
			out.Rain[i] = p.Value
			continue
		}
		out.EnhancedSnowfall[i] = p.Value * ratio / 10
		out.SnowRatio[i] = models.Some(ratio)
	}
	return out
}

// WithEnhancement returns a copy of f with its enhanced series and daily summaries attached.
func WithEnhancement(f models.Forecast) models.Forecast {
	out := f.Clone()
	e := Enhance(out)
	out.Enhanced = &e
	out.Daily = Summarize(out)
	return out
}

// EffectiveSnowfall returns the enhanced snowfall series when present and aligned,
// otherwise the conservative model snowfall with nulls as zero.
func EffectiveSnowfall(f models.Forecast) []float64 {
	if f.Enhanced != nil && len(f.Enhanced.EnhancedSnowfall) == f.Hours() {
		return f.Enhanced.EnhancedSnowfall
	}
	return zeroFilled(f.Series(models.Snowfall), f.Hours())
}

// EffectiveRain returns the rain series when enhancement is present, otherwise zeros.
func EffectiveRain(f models.Forecast) []float64 {
	if f.Enhanced != nil && len(f.Enhanced.Rain) == f.Hours() {
		return f.Enhanced.Rain
	}
	return make([]float64, f.Hours())
}

// WeightedRatio returns the precipitation-weighted snow ratio over the hours Enhance
// classified as snow: sum(ratio*precip)/sum(precip) where ratios[i] is set and precip > 0.
// With no such hours, the ratio at the mean temperature is reported when that mean
// is <= 2°C; otherwise the result is null.
func WeightedRatio(ratios, precip, temps models.Series) models.Sample {
	var num, den float64
	for i := range ratios {
		r, p := ratios[i], precip.At(i)
		if r.Valid && p.Valid && p.Value > 0 {
			num += r.Value * p.Value
			den += p.Value
		}
	}
	if den > 0 {
		return models.Some(num / den)
	}
	var tempSum float64
	var tempCount int
	for _, t := range temps {
		if t.Valid {
			tempSum += t.Value
			tempCount++
		}
	}
	if tempCount > 0 {
		if avg := tempSum / float64(tempCount); avg <= RainThresholdC {
			return models.Some(Ratio(avg))
		}
	}
	return models.Null()
}

func zeroFilled(s models.Series, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if v := s.At(i); v.Valid {
			out[i] = v.Value
		}
	}
	return out
}
