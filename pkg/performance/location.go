package performance

import (
	"time"

	"github.com/renovus-tech/solarec/pkg/period"
	"github.com/renovus-tech/solarec/pkg/types"
)

// DefaultCapacityKW stands in for an undeclared location capacity.
const DefaultCapacityKW = 1

type locationBucket struct {
	start time.Time
	from  time.Time
	n     int

	power, ac, prediction, specificYield float64
	irradiation, tba, pr, availability   float64
	ambient, module                      accumulator
}

// AggregateByLocation folds period records of all generators into one record
// per period start. Production and specific yield are summed, irradiation and
// the ratios are averaged over generators and temperatures average the
// non-null generator means. A capacity that is not positive is replaced by
// DefaultCapacityKW and the records are marked with CapacityKnown false.
func AggregateByLocation(periods []types.PeriodRecord, capacityKW float64, aggregation period.Frequency, windowEnd time.Time) []types.LocationPeriodRecord {
	if len(periods) == 0 {
		return nil
	}
	known := capacityKW > 0
	if !known {
		capacityKW = DefaultCapacityKW
	}

	var buckets []*locationBucket
	index := make(map[int64]*locationBucket)
	for _, p := range periods {
		b, ok := index[p.PeriodStart.UnixNano()]
		if !ok {
			b = &locationBucket{start: p.PeriodStart, from: p.From}
			index[p.PeriodStart.UnixNano()] = b
			buckets = append(buckets, b)
		}
		b.n++
		b.power += p.Power
		b.ac += p.ACProduction
		b.prediction += p.ACProductionPrediction
		b.specificYield += p.SpecificYield
		b.irradiation += p.Irradiation
		b.tba += p.TimeBasedAvailability
		b.pr += p.PerformanceRatio
		b.availability += p.DataAvailability
		b.ambient.add(p.AvgAmbientTemp)
		b.module.add(p.AvgModuleTemp)
	}

	out := make([]types.LocationPeriodRecord, 0, len(buckets))
	for _, b := range buckets {
		n := float64(b.n)
		lr := types.LocationPeriodRecord{
			PeriodStart:            b.start,
			Power:                  b.power,
			ACProduction:           b.ac,
			ACProductionPrediction: b.prediction,
			AvgAmbientTemp:         b.ambient.mean(),
			AvgModuleTemp:          b.module.mean(),
			Irradiation:            b.irradiation / n,
			From:                   b.from,
			To:                     period.End(b.start, aggregation, windowEnd),
			TimeBasedAvailability:  b.tba / n,
			PerformanceRatio:       b.pr / n,
			SpecificYield:          b.specificYield,
			DataAvailability:       b.availability / n,
			CapacityKnown:          known,
		}
		lr.LocSpecificYield = lr.ACProduction / (capacityKW / 1000)
		lr.LocPerformanceRatio = ratio(lr.LocSpecificYield, lr.Irradiation)
		if hours := lr.To.Sub(lr.PeriodStart).Hours() + 1.0/3600; hours > 0 {
			lr.CapacityFactor = lr.LocSpecificYield / hours
		}
		out = append(out, lr)
	}
	return out
}
