package performance

import (
	"math"
	"slices"
	"time"

	"github.com/renovus-tech/solarec/pkg/period"
	"github.com/renovus-tech/solarec/pkg/types"
)

const (
	curveBinWidth = 0.1
	curveBins     = 13
	// points at or below this in both dimensions are night noise
	curveMinValue = 0.01
)

// PowerCurve pairs ac_production with irradiation per dense record and
// reports the median production per irradiation bin. Dense values are
// converted back from per period totals to hourly rates and nulls count as 0.
// Points are sorted by irradiation. Every generator gets a curve, empty when
// it has no records.
func PowerCurve(dense []types.DenseRecord, generators []types.Generator, sampling period.Frequency, windowEnd time.Time) []types.GeneratorPowerCurve {
	byGen := make(map[string][]types.PowerCurvePoint, len(generators))
	rates := make(map[int64]float64)
	for _, d := range dense {
		key := d.Timestamp.UnixNano()
		rate, ok := rates[key]
		if !ok {
			rate = 3600 / period.Seconds(d.Timestamp, sampling, windowEnd)
			rates[key] = rate
		}
		byGen[d.GeneratorID] = append(byGen[d.GeneratorID], types.PowerCurvePoint{
			Timestamp:    d.Timestamp,
			ACProduction: d.ACProduction.Or(0) * rate,
			Irradiation:  d.Irradiation.Or(0) * rate,
		})
	}

	out := make([]types.GeneratorPowerCurve, 0, len(generators))
	for _, g := range generators {
		points := byGen[g.ID]
		slices.SortStableFunc(points, func(a, b types.PowerCurvePoint) int {
			switch {
			case a.Irradiation < b.Irradiation:
				return -1
			case a.Irradiation > b.Irradiation:
				return 1
			}
			return 0
		})

		curve := types.GeneratorPowerCurve{
			GeneratorID: g.ID,
			Code:        g.Code,
			Name:        g.Name,
			Points:      []types.PowerCurvePoint{},
			Medians:     binMedians(points),
		}
		for _, p := range points {
			if p.Irradiation > curveMinValue || p.ACProduction > curveMinValue {
				curve.Points = append(curve.Points, p)
			}
		}
		out = append(out, curve)
	}
	return out
}

// binMedians groups points into right-closed bins of curveBinWidth starting
// at 0. Irradiation of 0 or above the last bin is left out, as are empty bins.
func binMedians(points []types.PowerCurvePoint) []types.PowerCurveBin {
	bins := make([][]float64, curveBins)
	for _, p := range points {
		for i := 0; i < curveBins; i++ {
			lower, upper := float64(i)*curveBinWidth, float64(i+1)*curveBinWidth
			if p.Irradiation > lower && p.Irradiation <= upper {
				bins[i] = append(bins[i], p.ACProduction)
				break
			}
		}
	}

	out := []types.PowerCurveBin{}
	for i, values := range bins {
		if len(values) == 0 {
			continue
		}
		out = append(out, types.PowerCurveBin{
			Irradiation:  math.Round(float64(i)*curveBinWidth*100) / 100,
			ACProduction: median(values),
		})
	}
	return out
}

func median(values []float64) float64 {
	s := slices.Clone(values)
	slices.Sort(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
