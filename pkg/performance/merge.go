package performance

import (
	"time"

	"github.com/renovus-tech/solarec/pkg/types"
)

// Merge joins the generator series with the station series on timestamp,
// replicating the station once per generator. Both series share the window
// and interval so every (generator, step) pair yields exactly one record,
// ordered by generator then time. It returns nil when either side is empty;
// callers report that as no data for the window.
func Merge(generators, station *Series) []types.DenseRecord {
	if generators.Len() == 0 || station.Len() == 0 {
		return nil
	}

	records := make([]types.DenseRecord, 0, generators.Len())
	for g, genID := range generators.Grid.EntityIDs {
		for s, ts := range generators.Grid.Times {
			rec := types.DenseRecord{
				GeneratorID:            genID,
				Timestamp:              ts,
				Power:                  generators.Value(types.MetricPower, g, s),
				ACProduction:           generators.Value(types.MetricACProduction, g, s),
				ACProductionPrediction: generators.Value(types.MetricACProductionPrediction, g, s),
			}
			if st, ok := station.step(ts, s); ok {
				rec.AvgAmbientTemp = station.Value(types.MetricAmbientTemp, 0, st)
				rec.AvgModuleTemp = station.Value(types.MetricModuleTemp, 0, st)
				rec.Irradiation = station.Value(types.MetricIrradiation, 0, st)
			}
			Derive(&rec)
			records = append(records, rec)
		}
	}
	return records
}

// step finds the station step for a generator timestamp. The grids are
// normally identical so the generator step is tried first.
func (s *Series) step(ts time.Time, guess int) (int, bool) {
	times := s.Grid.Times
	if guess < len(times) && times[guess].Equal(ts) {
		return guess, true
	}
	for i, t := range times {
		if t.Equal(ts) {
			return i, true
		}
	}
	return 0, false
}

// Derive fills the per record fields computed from the joined metrics. The
// outage flag is power == 0 with irradiation > 0 and is false when either
// operand is null.
func Derive(rec *types.DenseRecord) {
	rec.From = rec.Timestamp
	rec.TimeBasedAvailability = rec.Power.Valid && rec.Irradiation.Valid &&
		rec.Power.Float64 == 0 && rec.Irradiation.Float64 > 0
	rec.Count = 1
	rec.IsMissing = !rec.Power.Valid
}
