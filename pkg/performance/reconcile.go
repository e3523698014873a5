package performance

import (
	"math"

	"github.com/renovus-tech/solarec/pkg/types"
)

// Series is a dense, grid aligned set of metric columns for one entity kind.
type Series struct {
	Grid    Grid
	Metrics []types.Metric

	values map[types.Metric][]types.NullFloat
	// Readings is the number of raw readings that landed on the grid.
	Readings int
	// Dropped is the number of raw readings outside the grid or without a
	// finite value.
	Dropped int
}

// Len is the number of slots in the series.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return s.Grid.Len()
}

// Column returns the values of a metric indexed like the grid. It returns nil
// for metrics the series was not built with.
func (s *Series) Column(m types.Metric) []types.NullFloat {
	if s == nil {
		return nil
	}
	return s.values[m]
}

// Value returns the metric of (entity, step), null when absent.
func (s *Series) Value(m types.Metric, entity, step int) types.NullFloat {
	col := s.Column(m)
	if col == nil {
		return types.Null
	}
	return col[s.Grid.index(entity, step)]
}

// Reconcile left-joins readings onto grid. Cells without a reading stay null
// and duplicate readings in one cell are averaged. When both power and
// ac_production are present they back-fill each other. NaN and infinite
// values count as dropped and leave the cell null. Readings for other
// metrics are ignored. An empty grid or no matching readings yields an empty
// series.
func Reconcile(grid Grid, readings []types.Reading, metrics []types.Metric) *Series {
	s := &Series{Grid: grid, Metrics: metrics}
	n := grid.Len()
	if n == 0 || len(readings) == 0 {
		s.Grid = Grid{Start: grid.Start, End: grid.End, Interval: grid.Interval}
		s.Dropped = len(readings)
		return s
	}

	wanted := make(map[types.Metric]bool, len(metrics))
	sums := make(map[types.Metric][]float64, len(metrics))
	counts := make(map[types.Metric][]int, len(metrics))
	for _, m := range metrics {
		wanted[m] = true
		sums[m] = make([]float64, n)
		counts[m] = make([]int, n)
	}

	for _, r := range readings {
		if !wanted[r.Metric] {
			continue
		}
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			s.Dropped++
			continue
		}
		i, ok := grid.locate(r.EntityID, r.Timestamp)
		if !ok {
			s.Dropped++
			continue
		}
		sums[r.Metric][i] += r.Value
		counts[r.Metric][i]++
		s.Readings++
	}

	if s.Readings == 0 {
		s.Grid = Grid{Start: grid.Start, End: grid.End, Interval: grid.Interval}
		return s
	}

	s.values = make(map[types.Metric][]types.NullFloat, len(metrics))
	for _, m := range metrics {
		col := make([]types.NullFloat, n)
		for i, c := range counts[m] {
			if c > 0 {
				col[i] = types.Float(sums[m][i] / float64(c))
			}
		}
		s.values[m] = col
	}

	s.backfill()
	return s
}

func (s *Series) backfill() {
	power, ac := s.values[types.MetricPower], s.values[types.MetricACProduction]
	if power == nil || ac == nil {
		return
	}
	for i := range power {
		power[i], ac[i] = Backfill(power[i], ac[i])
	}
}

// Backfill applies the redundant sensor rule: when exactly one of power and
// ac_production is present it is copied into the other.
func Backfill(power, ac types.NullFloat) (types.NullFloat, types.NullFloat) {
	switch {
	case !power.Valid && ac.Valid:
		power = ac
	case power.Valid && !ac.Valid:
		ac = power
	}
	return power, ac
}
