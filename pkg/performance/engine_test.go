package performance

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renovus-tech/solarec/pkg/log"
	"github.com/renovus-tech/solarec/pkg/period"
	"github.com/renovus-tech/solarec/pkg/types"
)

const eps = 1e-9

func findPeriod(t *testing.T, periods []types.PeriodRecord, genID string, start time.Time) types.PeriodRecord {
	t.Helper()
	for _, p := range periods {
		if p.GeneratorID == genID && p.PeriodStart.Equal(start) {
			return p
		}
	}
	require.Failf(t, "period not found", "%s %s", genID, start)
	return types.PeriodRecord{}
}

func findLocation(t *testing.T, locs []types.LocationPeriodRecord, start time.Time) types.LocationPeriodRecord {
	t.Helper()
	for _, l := range locs {
		if l.PeriodStart.Equal(start) {
			return l
		}
	}
	require.Failf(t, "location period not found", "%s", start)
	return types.LocationPeriodRecord{}
}

func TestEngineRun(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(Options{Parallelism: 2})

	res, err := e.Run(ctx, hourlyRequest(), twoGenerators())
	require.NoError(t, err)
	require.False(t, res.NoData)

	t.Run("dense", func(t *testing.T) {
		// 2 generators x 8 quarter hours
		require.Len(t, res.Dense, 16)
		first := res.Dense[0]
		assert.Equal(t, "g1", first.GeneratorID)
		assert.Equal(t, at(0, 0), first.Timestamp)
		assert.Equal(t, at(0, 0), first.From)
		assert.InDelta(t, 0.0025, first.Power.Float64, eps)
		assert.InDelta(t, 0.00375, first.ACProduction.Float64, eps)
		assert.InDelta(t, 0.00275, first.ACProductionPrediction.Float64, eps)
		assert.InDelta(t, 12.5, first.Irradiation.Float64, eps)
		assert.Equal(t, types.Float(1), first.AvgAmbientTemp)
		assert.Equal(t, types.Float(10), first.AvgModuleTemp)
		assert.False(t, first.TimeBasedAvailability)
		assert.False(t, first.IsMissing)
		assert.Equal(t, 1, first.Count)

		// g1 has nothing at 00:30
		third := res.Dense[2]
		assert.Equal(t, at(0, 30), third.Timestamp)
		assert.False(t, third.Power.Valid)
		assert.True(t, third.IsMissing)
		assert.InDelta(t, 17.5, third.Irradiation.Float64, eps)

		// station is replicated for g2
		g2 := res.Dense[8]
		assert.Equal(t, "g2", g2.GeneratorID)
		assert.InDelta(t, 12.5, g2.Irradiation.Float64, eps)
	})

	t.Run("generator 1 hour 00", func(t *testing.T) {
		p := findPeriod(t, res.Periods, "g1", at(0, 0))
		assert.InDelta(t, 0.0075, p.Power, eps)
		assert.InDelta(t, 0.01, p.ACProduction, eps)
		assert.InDelta(t, 0.00825, p.ACProductionPrediction, eps)
		assert.InDelta(t, 45, p.Irradiation, eps)
		assert.InDelta(t, 2, p.AvgAmbientTemp.Float64, eps)
		assert.InDelta(t, 20, p.AvgModuleTemp.Float64, eps)
		assert.Equal(t, 1.0, p.TimeBasedAvailability)
		assert.Equal(t, 4, p.Count)
		assert.Equal(t, 2, p.IsMissing)
		assert.InDelta(t, 0.01, p.SpecificYield, eps)
		assert.InDelta(t, 0.022222222222222223, p.PerformanceRatio, eps)
		assert.InDelta(t, 50, p.DataAvailability, eps)
		assert.Equal(t, at(0, 0), p.From)
		assert.Equal(t, at(0, 59).Add(59*time.Second), p.To)
	})

	t.Run("generator 1 hour 01", func(t *testing.T) {
		p := findPeriod(t, res.Periods, "g1", at(1, 0))
		assert.Zero(t, p.Power)
		assert.Zero(t, p.ACProduction)
		assert.Zero(t, p.Irradiation)
		assert.False(t, p.AvgAmbientTemp.Valid)
		assert.False(t, p.AvgModuleTemp.Valid)
		assert.Equal(t, 4, p.IsMissing)
		assert.Equal(t, 1.0, p.TimeBasedAvailability)
		assert.Zero(t, p.PerformanceRatio)
		assert.Zero(t, p.DataAvailability)
	})

	t.Run("generator 2 hour 00", func(t *testing.T) {
		p := findPeriod(t, res.Periods, "g2", at(0, 0))
		assert.InDelta(t, 0.0175, p.Power, eps)
		assert.InDelta(t, 0.02, p.ACProduction, eps)
		assert.InDelta(t, 0.01925, p.ACProductionPrediction, eps)
		assert.InDelta(t, 0.01, p.SpecificYield, eps)
	})

	t.Run("order", func(t *testing.T) {
		require.Len(t, res.Periods, 4)
		assert.Equal(t, "g1", res.Periods[0].GeneratorID)
		assert.Equal(t, at(1, 0), res.Periods[1].PeriodStart)
		assert.Equal(t, "g2", res.Periods[2].GeneratorID)
	})

	t.Run("location hour 00", func(t *testing.T) {
		l := findLocation(t, res.Locations, at(0, 0))
		assert.InDelta(t, 0.025, l.Power, eps)
		assert.InDelta(t, 0.03, l.ACProduction, eps)
		assert.InDelta(t, 0.0275, l.ACProductionPrediction, eps)
		assert.InDelta(t, 45, l.Irradiation, eps)
		assert.InDelta(t, 0.022222222222222223, l.PerformanceRatio, eps)
		assert.InDelta(t, 0.02, l.SpecificYield, eps)
		assert.InDelta(t, 0.03, l.LocSpecificYield, eps)
		assert.InDelta(t, 0.06666666666666667, l.LocPerformanceRatio, eps)
		assert.InDelta(t, 0.03, l.CapacityFactor, eps)
		assert.Equal(t, 1.0, l.TimeBasedAvailability)
		assert.InDelta(t, 2, l.AvgAmbientTemp.Float64, eps)
		assert.True(t, l.CapacityKnown)
		assert.Equal(t, at(0, 59).Add(59*time.Second), l.To)
	})

	t.Run("location hour 01", func(t *testing.T) {
		l := findLocation(t, res.Locations, at(1, 0))
		assert.Zero(t, l.Power)
		assert.Zero(t, l.LocPerformanceRatio)
		assert.False(t, l.AvgAmbientTemp.Valid)
	})

	t.Run("availability", func(t *testing.T) {
		require.Len(t, res.Availability, 2)
		a := res.Availability[0]
		assert.Equal(t, at(0, 0), a.From)
		assert.InDelta(t, 50, a.Production, eps)
		assert.InDelta(t, 75, a.Irradiation, eps)
		assert.InDelta(t, 75, a.Temperature, eps)
		assert.Zero(t, res.Availability[1].Production)
	})
}

func TestEngineScenario(t *testing.T) {
	snap := Snapshot{
		Location: types.Location{ID: "loc1", CapacityKW: 1000},
		Generators: []types.Generator{
			{ID: "g1", RatedPowerKW: 1000},
			{ID: "g2", RatedPowerKW: 2000},
		},
		Station: types.Station{ID: "s1"},
		GeneratorReadings: []types.Reading{
			reading("g1", at(0, 0), types.MetricPower, 10),
			reading("g1", at(0, 15), types.MetricPower, 20),
			reading("g2", at(0, 15), types.MetricPower, 30),
			reading("g2", at(0, 30), types.MetricPower, 40),
		},
		StationReadings: []types.Reading{
			reading("s1", at(0, 0), types.MetricIrradiation, 50),
			reading("s1", at(0, 15), types.MetricIrradiation, 60),
			reading("s1", at(0, 30), types.MetricIrradiation, 70),
		},
	}
	req := hourlyRequest()
	req.End = at(1, 0)

	res, err := NewEngine(Options{}).Run(context.Background(), req, snap)
	require.NoError(t, err)

	g1 := findPeriod(t, res.Periods, "g1", at(0, 0))
	assert.InDelta(t, 10.0/4000+20.0/4000, g1.Power, eps)
	assert.Equal(t, 2, g1.IsMissing)
	assert.Equal(t, 1.0, g1.TimeBasedAvailability)
	// ac_production is back-filled from power
	assert.InDelta(t, g1.Power, g1.ACProduction, eps)

	g2 := findPeriod(t, res.Periods, "g2", at(0, 0))
	require.Len(t, res.Locations, 1)
	assert.InDelta(t, g1.Power+g2.Power, res.Locations[0].Power, eps)
}

func TestEngineOutage(t *testing.T) {
	snap := twoGenerators()
	snap.GeneratorReadings = []types.Reading{
		reading("g1", at(0, 0), types.MetricPower, 0),
		reading("g1", at(0, 15), types.MetricPower, 20),
		reading("g1", at(0, 30), types.MetricPower, 20),
		reading("g1", at(0, 45), types.MetricPower, 0),
	}
	req := hourlyRequest()
	req.End = at(1, 0)

	res, err := NewEngine(Options{}).Run(context.Background(), req, snap)
	require.NoError(t, err)

	require.Len(t, res.Dense, 8)
	// sun up and zero output
	assert.True(t, res.Dense[0].TimeBasedAvailability)
	// zero output without irradiation reading
	assert.False(t, res.Dense[3].TimeBasedAvailability)

	p := findPeriod(t, res.Periods, "g1", at(0, 0))
	assert.Equal(t, 0.75, p.TimeBasedAvailability)
	assert.Equal(t, 0, p.IsMissing)

	// g2 has no readings at all and is missing everywhere
	p2 := findPeriod(t, res.Periods, "g2", at(0, 0))
	assert.Equal(t, 4, p2.IsMissing)
	assert.Equal(t, 1.0, p2.TimeBasedAvailability)
}

func TestEngineAggregationNone(t *testing.T) {
	req := hourlyRequest()
	req.Aggregation = period.None

	res, err := NewEngine(Options{}).Run(context.Background(), req, twoGenerators())
	require.NoError(t, err)

	require.Len(t, res.Periods, 2)
	p := res.Periods[0]
	assert.Equal(t, at(0, 0), p.PeriodStart)
	assert.Equal(t, at(0, 0), p.From)
	assert.Equal(t, 8, p.Count)
	assert.Equal(t, 6, p.IsMissing)
	assert.InDelta(t, 0.0075, p.Power, eps)
	assert.Equal(t, time.Date(2021, time.January, 1, 23, 59, 59, 0, time.UTC), p.To)

	require.Len(t, res.Locations, 1)
	assert.InDelta(t, 0.025, res.Locations[0].Power, eps)
	require.Len(t, res.Availability, 1)
	assert.InDelta(t, 25, res.Availability[0].Production, eps)
}

func TestEngineDailyOverWeek(t *testing.T) {
	snap := twoGenerators()
	snap.GeneratorReadings = nil
	snap.StationReadings = nil
	for d := 0; d < 7; d++ {
		ts := day.AddDate(0, 0, d).Add(12 * time.Hour)
		snap.GeneratorReadings = append(snap.GeneratorReadings,
			reading("g1", ts, types.MetricPower, 100),
			reading("g2", ts, types.MetricPower, 200),
		)
		snap.StationReadings = append(snap.StationReadings, reading("s1", ts, types.MetricIrradiation, 400))
	}
	req := hourlyRequest()
	req.Sampling = period.Hourly
	req.Aggregation = period.Daily
	req.End = day.AddDate(0, 0, 7)

	res, err := NewEngine(Options{Parallelism: 4}).Run(context.Background(), req, snap)
	require.NoError(t, err)

	require.Len(t, res.Periods, 14)
	require.Len(t, res.Locations, 7)
	for _, l := range res.Locations {
		assert.InDelta(t, 0.3, l.Power, eps)
		assert.InDelta(t, 400, l.Irradiation, eps)
		assert.Equal(t, l.PeriodStart.Add(24*time.Hour-time.Second), l.To)
	}
}

func TestEngineNoData(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(Options{})

	t.Run("no generators", func(t *testing.T) {
		snap := twoGenerators()
		snap.Generators = nil
		res, err := e.Run(ctx, hourlyRequest(), snap)
		require.NoError(t, err)
		assert.True(t, res.NoData)
		assert.Empty(t, res.Periods)
		assert.Empty(t, res.Locations)
	})

	t.Run("no generator readings", func(t *testing.T) {
		snap := twoGenerators()
		snap.GeneratorReadings = nil
		res, err := e.Run(ctx, hourlyRequest(), snap)
		require.NoError(t, err)
		assert.True(t, res.NoData)
	})

	t.Run("no station readings", func(t *testing.T) {
		snap := twoGenerators()
		snap.StationReadings = nil
		res, err := e.Run(ctx, hourlyRequest(), snap)
		require.NoError(t, err)
		assert.True(t, res.NoData)
	})

	t.Run("empty window", func(t *testing.T) {
		req := hourlyRequest()
		req.End = req.Start
		res, err := e.Run(ctx, req, twoGenerators())
		require.NoError(t, err)
		assert.True(t, res.NoData)
	})

	t.Run("readings outside window", func(t *testing.T) {
		req := hourlyRequest()
		req.Start = at(5, 0)
		req.End = at(6, 0)
		res, err := e.Run(ctx, req, twoGenerators())
		require.NoError(t, err)
		assert.True(t, res.NoData)
	})
}

func TestEngineErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("aggregation finer than sampling", func(t *testing.T) {
		req := hourlyRequest()
		req.Sampling = period.Hourly
		req.Aggregation = period.QuarterHourly
		_, err := NewEngine(Options{}).Run(ctx, req, twoGenerators())
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.ErrorIs(t, err, period.ErrAggregationTooFine)
	})

	t.Run("missing sampling", func(t *testing.T) {
		req := hourlyRequest()
		req.Sampling = period.None
		_, err := NewEngine(Options{}).Run(ctx, req, twoGenerators())
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.ErrorIs(t, err, period.ErrUnsupportedFrequency)
	})

	t.Run("no station", func(t *testing.T) {
		snap := twoGenerators()
		snap.Station = types.Station{}
		_, err := NewEngine(Options{}).Run(ctx, hourlyRequest(), snap)
		assert.ErrorIs(t, err, ErrReferenceData)
		assert.ErrorIs(t, err, ErrNoStation)
	})

	t.Run("unknown capacity falls back", func(t *testing.T) {
		snap := twoGenerators()
		snap.Location.CapacityKW = 0
		res, err := NewEngine(Options{}).Run(ctx, hourlyRequest(), snap)
		require.NoError(t, err)
		l := findLocation(t, res.Locations, at(0, 0))
		assert.False(t, l.CapacityKnown)
		assert.InDelta(t, 0.03/(DefaultCapacityKW/1000.0), l.LocSpecificYield, eps)
	})

	t.Run("unknown capacity strict", func(t *testing.T) {
		snap := twoGenerators()
		snap.Location.CapacityKW = 0
		_, err := NewEngine(Options{StrictCapacity: true}).Run(ctx, hourlyRequest(), snap)
		assert.ErrorIs(t, err, ErrReferenceData)
		assert.ErrorIs(t, err, ErrCapacityUnknown)

		req := hourlyRequest()
		req.StrictCapacity = true
		_, err = NewEngine(Options{}).Run(ctx, req, snap)
		assert.ErrorIs(t, err, ErrCapacityUnknown)
	})
}

func TestDivisionSafety(t *testing.T) {
	snap := twoGenerators()
	snap.StationReadings = []types.Reading{
		reading("s1", at(0, 0), types.MetricIrradiation, 0),
		reading("s1", at(0, 0), types.MetricAmbientTemp, 5),
	}

	for _, agg := range []period.Frequency{period.QuarterHourly, period.Hourly, period.None} {
		t.Run(agg.String(), func(t *testing.T) {
			req := hourlyRequest()
			req.Aggregation = agg
			res, err := NewEngine(Options{}).Run(context.Background(), req, snap)
			require.NoError(t, err)
			require.NotEmpty(t, res.Periods)
			for _, p := range res.Periods {
				assert.False(t, math.IsNaN(p.PerformanceRatio))
				assert.Zero(t, p.PerformanceRatio)
			}
			for _, l := range res.Locations {
				assert.False(t, math.IsNaN(l.LocPerformanceRatio))
				assert.Zero(t, l.LocPerformanceRatio)
				assert.Zero(t, l.PerformanceRatio)
			}
		})
	}
}

func TestAggregationAdditivity(t *testing.T) {
	for _, agg := range []period.Frequency{period.QuarterHourly, period.Hourly, period.None} {
		t.Run(agg.String(), func(t *testing.T) {
			req := hourlyRequest()
			req.Aggregation = agg
			res, err := NewEngine(Options{Parallelism: 3}).Run(context.Background(), req, twoGenerators())
			require.NoError(t, err)

			sums := map[time.Time]float64{}
			for _, p := range res.Periods {
				sums[p.PeriodStart] += p.Power
			}
			require.Len(t, res.Locations, len(sums))
			for _, l := range res.Locations {
				assert.InDelta(t, sums[l.PeriodStart], l.Power, eps)
			}
		})
	}
}

func TestEngineDateOnlyWindow(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(Options{})
	lastSecond := time.Date(2021, time.January, 1, 23, 59, 59, 0, time.UTC)

	t.Run("aggregation none", func(t *testing.T) {
		req := hourlyRequest()
		req.End = day.AddDate(0, 0, 1)
		req.Aggregation = period.None

		res, err := e.Run(ctx, req, twoGenerators())
		require.NoError(t, err)
		require.Len(t, res.Periods, 2)
		assert.Equal(t, lastSecond, res.Periods[0].To)
		require.Len(t, res.Locations, 1)
		l := res.Locations[0]
		assert.Equal(t, lastSecond, l.To)
		// 24 hours, not 48
		assert.InDelta(t, 0.03/24, l.CapacityFactor, eps)
		require.Len(t, res.Availability, 1)
		assert.Equal(t, lastSecond, res.Availability[0].To)
	})

	t.Run("monthly aggregation", func(t *testing.T) {
		req := hourlyRequest()
		req.End = day.AddDate(0, 0, 15)
		req.Aggregation = period.Monthly

		res, err := e.Run(ctx, req, twoGenerators())
		require.NoError(t, err)
		fifteenth := time.Date(2021, time.January, 15, 23, 59, 59, 0, time.UTC)
		assert.Equal(t, fifteenth, findPeriod(t, res.Periods, "g1", day).To)
		assert.Equal(t, fifteenth, findLocation(t, res.Locations, day).To)
	})

	t.Run("monthly sampling", func(t *testing.T) {
		snap := twoGenerators()
		snap.GeneratorReadings = []types.Reading{reading("g1", day, types.MetricPower, 1000)}
		snap.StationReadings = []types.Reading{reading("s1", day, types.MetricIrradiation, 360)}
		req := hourlyRequest()
		req.End = day.AddDate(0, 0, 15)
		req.Sampling = period.Monthly
		req.Aggregation = period.Monthly

		res, err := e.Run(ctx, req, snap)
		require.NoError(t, err)
		require.Len(t, res.Dense, 2)
		// the truncated month covers 15 days
		assert.InDelta(t, 360*15*24, res.Dense[0].Irradiation.Float64, eps)
		assert.InDelta(t, 15*24, res.Dense[0].Power.Float64, eps)
	})
}

func TestEngineNonFiniteReadings(t *testing.T) {
	snap := twoGenerators()
	snap.GeneratorReadings = append(snap.GeneratorReadings,
		reading("g1", at(0, 45), types.MetricPower, math.NaN()),
		reading("g1", at(0, 45), types.MetricACProduction, math.NaN()),
	)
	snap.StationReadings = append(snap.StationReadings, reading("s1", at(0, 45), types.MetricIrradiation, math.NaN()))

	res, err := NewEngine(Options{}).Run(context.Background(), hourlyRequest(), snap)
	require.NoError(t, err)

	d := res.Dense[3]
	assert.Equal(t, at(0, 45), d.Timestamp)
	assert.False(t, d.Power.Valid)
	assert.True(t, d.IsMissing)
	assert.False(t, d.Irradiation.Valid)

	p := findPeriod(t, res.Periods, "g1", at(0, 0))
	assert.InDelta(t, 0.0075, p.Power, eps)
	assert.InDelta(t, 45, p.Irradiation, eps)
	assert.Equal(t, 2, p.IsMissing)
	assert.False(t, math.IsNaN(p.PerformanceRatio))

	_, err = json.Marshal(res)
	assert.NoError(t, err)
}

func TestEngineCapacityFallbackLogging(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.With(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))
	e := NewEngine(Options{})

	t.Run("no data", func(t *testing.T) {
		buf.Reset()
		snap := twoGenerators()
		snap.Location.CapacityKW = 0
		snap.GeneratorReadings = nil
		snap.StationReadings = nil
		res, err := e.Run(ctx, hourlyRequest(), snap)
		require.NoError(t, err)
		assert.True(t, res.NoData)
		assert.NotContains(t, buf.String(), "capacity unknown")
	})

	t.Run("with data", func(t *testing.T) {
		buf.Reset()
		snap := twoGenerators()
		snap.Location.CapacityKW = 0
		_, err := e.Run(ctx, hourlyRequest(), snap)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "capacity unknown")
	})
}
