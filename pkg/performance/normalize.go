package performance

import (
	"time"

	"github.com/renovus-tech/solarec/pkg/period"
	"github.com/renovus-tech/solarec/pkg/types"
)

// unitScale is the divisor applied after converting to an hourly rate.
// Metrics missing from the map are not normalized.
var unitScale = map[types.Metric]float64{
	types.MetricPower:                  1000,
	types.MetricACProduction:           1000,
	types.MetricACProductionPrediction: 1000,
	types.MetricIrradiation:            1,
}

// Scale returns the unit divisor for a metric and whether it is normalized
// at all.
func Scale(m types.Metric) (float64, bool) {
	s, ok := unitScale[m]
	return s, ok
}

// Normalize expresses a value accumulated over the sampling period starting
// at ts as an hourly rate divided by scale. The final period of a window is
// clamped by period.End. Null stays null.
func Normalize(v types.NullFloat, ts time.Time, sampling period.Frequency, windowEnd time.Time, scale float64) types.NullFloat {
	if !v.Valid {
		return v
	}
	seconds := period.Seconds(ts, sampling, windowEnd)
	return types.Float(v.Float64 / (3600 / seconds) / scale)
}

// Normalize converts every normalized metric of the series in place using
// the slot timestamps.
func (s *Series) Normalize(windowEnd time.Time) {
	if s.Len() == 0 {
		return
	}
	steps := s.Grid.Steps()
	// the period length only depends on the step
	factors := make([]float64, steps)
	for i, ts := range s.Grid.Times {
		factors[i] = 3600 / period.Seconds(ts, s.Grid.Interval, windowEnd)
	}
	for _, m := range s.Metrics {
		scale, ok := unitScale[m]
		if !ok {
			continue
		}
		col := s.values[m]
		for i := range col {
			if col[i].Valid {
				col[i].Float64 = col[i].Float64 / factors[i%steps] / scale
			}
		}
	}
}
