package performance

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renovus-tech/solarec/pkg/period"
	"github.com/renovus-tech/solarec/pkg/types"
)

func TestReconcileRoundTrip(t *testing.T) {
	ids := []string{"g1", "g2"}
	grid := NewGrid(at(0, 0), at(2, 0), period.QuarterHourly, ids)

	var readings []types.Reading
	want := map[types.Metric][]types.NullFloat{}
	for _, m := range types.GeneratorMetrics {
		want[m] = make([]types.NullFloat, grid.Len())
	}
	for e, id := range ids {
		for s, ts := range grid.Times {
			for k, m := range types.GeneratorMetrics {
				v := float64(e*1000 + s*10 + k)
				readings = append(readings, reading(id, ts, m, v))
				want[m][grid.index(e, s)] = types.Float(v)
			}
		}
	}

	series := Reconcile(grid, readings, types.GeneratorMetrics)
	require.Equal(t, grid.Len(), series.Len())
	assert.Equal(t, len(readings), series.Readings)
	assert.Zero(t, series.Dropped)
	for _, m := range types.GeneratorMetrics {
		assert.Equal(t, want[m], series.Column(m), "metric %s", m)
	}
}

func TestReconcileGaps(t *testing.T) {
	grid := NewGrid(at(0, 0), at(1, 0), period.QuarterHourly, []string{"g1", "g2"})
	readings := []types.Reading{
		reading("g1", at(0, 0), types.MetricPower, 10),
		reading("g1", at(0, 15), types.MetricACProduction, 25),
		reading("g2", at(0, 30), types.MetricACProductionPrediction, 7),
	}
	s := Reconcile(grid, readings, types.GeneratorMetrics)
	require.Equal(t, 8, s.Len())

	assert.Equal(t, types.Float(10), s.Value(types.MetricPower, 0, 0))
	// back-filled in both directions
	assert.Equal(t, types.Float(10), s.Value(types.MetricACProduction, 0, 0))
	assert.Equal(t, types.Float(25), s.Value(types.MetricPower, 0, 1))
	// prediction is never filled
	assert.False(t, s.Value(types.MetricACProductionPrediction, 0, 0).Valid)
	assert.Equal(t, types.Float(7), s.Value(types.MetricACProductionPrediction, 1, 2))
	assert.False(t, s.Value(types.MetricPower, 1, 2).Valid)
	assert.False(t, s.Value(types.MetricPower, 1, 3).Valid)
}

func TestReconcileNonFinite(t *testing.T) {
	grid := NewGrid(at(0, 0), at(1, 0), period.QuarterHourly, []string{"g1"})
	readings := []types.Reading{
		reading("g1", at(0, 30), types.MetricPower, 4),
		reading("g1", at(0, 30), types.MetricPower, math.NaN()),
		reading("g1", at(0, 45), types.MetricPower, math.NaN()),
		reading("g1", at(0, 45), types.MetricACProduction, math.Inf(1)),
	}
	s := Reconcile(grid, readings, types.GeneratorMetrics)
	assert.Equal(t, 3, s.Dropped)
	assert.Equal(t, 1, s.Readings)
	// the NaN does not poison the average of its cell
	assert.Equal(t, types.Float(4), s.Value(types.MetricPower, 0, 2))
	assert.False(t, s.Value(types.MetricPower, 0, 3).Valid)
	assert.False(t, s.Value(types.MetricACProduction, 0, 3).Valid)
}

func TestReconcileDuplicatesAndJitter(t *testing.T) {
	grid := NewGrid(at(0, 0), at(1, 0), period.QuarterHourly, []string{"s1"})
	readings := []types.Reading{
		reading("s1", at(0, 15).Add(-400*time.Millisecond), types.MetricIrradiation, 40),
		reading("s1", at(0, 15).Add(3*time.Second), types.MetricIrradiation, 60),
		reading("s1", at(0, 30), types.MetricPower, 1),
		reading("s1", at(1, 0), types.MetricIrradiation, 1),
		reading("other", at(0, 0), types.MetricIrradiation, 1),
	}
	s := Reconcile(grid, readings, types.StationMetrics)
	assert.Equal(t, types.Float(50), s.Value(types.MetricIrradiation, 0, 1))
	assert.Equal(t, 2, s.Readings)
	assert.Equal(t, 2, s.Dropped)
	assert.Nil(t, s.Column(types.MetricPower))
}

func TestReconcileEmpty(t *testing.T) {
	grid := NewGrid(at(0, 0), at(1, 0), period.QuarterHourly, []string{"g1"})

	t.Run("no readings", func(t *testing.T) {
		s := Reconcile(grid, nil, types.GeneratorMetrics)
		assert.Zero(t, s.Len())
		assert.False(t, s.Value(types.MetricPower, 0, 0).Valid)
	})

	t.Run("empty grid", func(t *testing.T) {
		empty := NewGrid(at(1, 0), at(1, 0), period.QuarterHourly, []string{"g1"})
		s := Reconcile(empty, []types.Reading{reading("g1", at(1, 0), types.MetricPower, 1)}, types.GeneratorMetrics)
		assert.Zero(t, s.Len())
		assert.Equal(t, 1, s.Dropped)
	})

	t.Run("merge of empty series", func(t *testing.T) {
		s := Reconcile(grid, nil, types.GeneratorMetrics)
		sta := Reconcile(grid, []types.Reading{reading("g1", at(0, 0), types.MetricIrradiation, 1)}, types.StationMetrics)
		assert.Nil(t, Merge(s, sta))
		assert.Nil(t, Merge(sta, s))
		assert.Nil(t, Availability(s, sta, period.Hourly, at(1, 0)))
	})
}

func TestBackfill(t *testing.T) {
	values := []types.NullFloat{types.Null, types.Float(0), types.Float(3)}
	for _, power := range values {
		for _, ac := range values {
			p1, a1 := Backfill(power, ac)
			p2, a2 := Backfill(p1, a1)
			assert.Equal(t, p1, p2)
			assert.Equal(t, a1, a2)

			switch {
			case power.Valid && ac.Valid:
				assert.Equal(t, power, p1)
				assert.Equal(t, ac, a1)
			case power.Valid:
				assert.Equal(t, power, a1)
			case ac.Valid:
				assert.Equal(t, ac, p1)
			default:
				assert.False(t, p1.Valid)
				assert.False(t, a1.Valid)
			}
		}
	}
}

func TestBackfillSeriesIdempotent(t *testing.T) {
	snap := twoGenerators()
	grid := NewGrid(at(0, 0), at(2, 0), period.QuarterHourly, []string{"g1", "g2"})
	s := Reconcile(grid, snap.GeneratorReadings, types.GeneratorMetrics)

	power := append([]types.NullFloat(nil), s.Column(types.MetricPower)...)
	ac := append([]types.NullFloat(nil), s.Column(types.MetricACProduction)...)
	s.backfill()
	assert.Equal(t, power, s.Column(types.MetricPower))
	assert.Equal(t, ac, s.Column(types.MetricACProduction))
}

func TestNormalize(t *testing.T) {
	windowEnd := at(2, 0)

	t.Run("quarter hour", func(t *testing.T) {
		got := Normalize(types.Float(10), at(0, 0), period.QuarterHourly, windowEnd, 1000)
		assert.InDelta(t, 0.0025, got.Float64, eps)
	})

	t.Run("null stays null", func(t *testing.T) {
		got := Normalize(types.Null, at(0, 0), period.QuarterHourly, windowEnd, 1000)
		assert.False(t, got.Valid)
	})

	t.Run("zero stays zero", func(t *testing.T) {
		got := Normalize(types.Float(0), at(0, 0), period.QuarterHourly, windowEnd, 1000)
		assert.Equal(t, types.Float(0), got)
	})

	t.Run("scale consistent across resolutions", func(t *testing.T) {
		const v = 123.0
		hourly := Normalize(types.Float(v), at(0, 0), period.Hourly, windowEnd, 1000)

		var quarters float64
		for m := 0; m < 60; m += 15 {
			quarters += Normalize(types.Float(v), at(0, m), period.QuarterHourly, windowEnd, 1000).Float64
		}
		assert.InDelta(t, hourly.Float64, quarters, eps)

		quarter := Normalize(types.Float(4*v), at(0, 0), period.QuarterHourly, windowEnd, 1000)
		assert.InDelta(t, hourly.Float64, quarter.Float64, eps)
	})

	t.Run("window end clamps the last period", func(t *testing.T) {
		// a daily reading on a window ending mid-day still covers the day
		got := Normalize(types.Float(24), day, period.Daily, day.Add(6*time.Hour), 1)
		assert.InDelta(t, 24*24.0, got.Float64, eps)
	})
}

func TestSeriesNormalize(t *testing.T) {
	snap := twoGenerators()
	grid := NewGrid(at(0, 0), at(1, 0), period.QuarterHourly, []string{"s1"})
	s := Reconcile(grid, snap.StationReadings, types.StationMetrics)
	s.Normalize(at(1, 0))

	assert.InDelta(t, 12.5, s.Value(types.MetricIrradiation, 0, 0).Float64, eps)
	// temperatures are not rates
	assert.Equal(t, types.Float(2), s.Value(types.MetricAmbientTemp, 0, 1))
	assert.Equal(t, types.Float(30), s.Value(types.MetricModuleTemp, 0, 2))
	assert.False(t, s.Value(types.MetricIrradiation, 0, 3).Valid)

	_, ok := Scale(types.MetricAmbientTemp)
	assert.False(t, ok)
	scale, ok := Scale(types.MetricPower)
	assert.True(t, ok)
	assert.Equal(t, 1000.0, scale)
}
