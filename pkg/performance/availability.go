package performance

import (
	"time"

	"github.com/renovus-tech/solarec/pkg/period"
	"github.com/renovus-tech/solarec/pkg/types"
)

type availabilityBucket struct {
	start time.Time
	steps int

	production, irradiation, temperature int
}

// Availability reports per aggregation period the percentage of expected
// grid slots that carried data: production over all generators, irradiation
// and ambient temperature for the station. It returns nil when either series
// is empty.
func Availability(generators, station *Series, aggregation period.Frequency, windowEnd time.Time) []types.AvailabilityRecord {
	if generators.Len() == 0 || station.Len() == 0 {
		return nil
	}

	power := generators.Column(types.MetricPower)
	irradiation := station.Column(types.MetricIrradiation)
	ambient := station.Column(types.MetricAmbientTemp)

	var buckets []*availabilityBucket
	var current *availabilityBucket
	for s, ts := range generators.Grid.Times {
		start := ts
		if !aggregation.IsNone() {
			start = aggregation.Truncate(ts)
		} else if current != nil {
			start = current.start
		}
		if current == nil || !current.start.Equal(start) {
			current = &availabilityBucket{start: start}
			buckets = append(buckets, current)
		}
		current.steps++
		for g := range generators.Grid.EntityIDs {
			if power != nil && power[generators.Grid.index(g, s)].Valid {
				current.production++
			}
		}
		if st, ok := station.step(ts, s); ok {
			if irradiation != nil && irradiation[st].Valid {
				current.irradiation++
			}
			if ambient != nil && ambient[st].Valid {
				current.temperature++
			}
		}
	}

	gens := float64(len(generators.Grid.EntityIDs))
	out := make([]types.AvailabilityRecord, 0, len(buckets))
	for _, b := range buckets {
		steps := float64(b.steps)
		out = append(out, types.AvailabilityRecord{
			From:        b.start,
			To:          period.End(b.start, aggregation, windowEnd),
			Production:  percent(float64(b.production), gens*steps),
			Irradiation: percent(float64(b.irradiation), steps),
			Temperature: percent(float64(b.temperature), steps),
		})
	}
	return out
}

func percent(n, expected float64) float64 {
	if expected <= 0 {
		return 0
	}
	return min(n/expected*100, 100)
}
