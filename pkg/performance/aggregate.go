package performance

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/renovus-tech/solarec/pkg/period"
	"github.com/renovus-tech/solarec/pkg/types"
)

// accumulator folds records of one bucket.
type accumulator struct {
	sum float64
	n   int
}

func (a *accumulator) add(v types.NullFloat) {
	if !v.Valid {
		return
	}
	a.sum += v.Float64
	a.n++
}

func (a accumulator) mean() types.NullFloat {
	if a.n == 0 {
		return types.Null
	}
	return types.Float(a.sum / float64(a.n))
}

type periodBucket struct {
	start time.Time
	from  time.Time

	power, ac, prediction, irradiation accumulator
	ambient, module                    accumulator

	count, missing, outages int
}

func (b *periodBucket) add(rec types.DenseRecord) {
	b.power.add(rec.Power)
	b.ac.add(rec.ACProduction)
	b.prediction.add(rec.ACProductionPrediction)
	b.irradiation.add(rec.Irradiation)
	b.ambient.add(rec.AvgAmbientTemp)
	b.module.add(rec.AvgModuleTemp)
	b.count += rec.Count
	if rec.IsMissing {
		b.missing++
	}
	if rec.TimeBasedAvailability {
		b.outages++
	}
}

// ratio returns num/den*100, or 0 when den is 0.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den * 100
}

// AggregateByPeriod groups dense records by (generator, bucket). Sums skip
// nulls, temperatures are means that stay null without values and the bucket
// time based availability is the share of records not flagged as an outage.
// With aggregation none every generator collapses into one bucket starting at
// its first record. Generators are aggregated on up to parallelism goroutines;
// the output is ordered by generator then period start either way.
func AggregateByPeriod(ctx context.Context, records []types.DenseRecord, generators []types.Generator, aggregation period.Frequency, windowEnd time.Time, parallelism int) ([]types.PeriodRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	rated := make(map[string]float64, len(generators))
	for _, g := range generators {
		rated[g.ID] = g.RatedPowerKW
	}

	var order []string
	byGen := make(map[string][]types.DenseRecord)
	for _, rec := range records {
		if _, ok := byGen[rec.GeneratorID]; !ok {
			order = append(order, rec.GeneratorID)
		}
		byGen[rec.GeneratorID] = append(byGen[rec.GeneratorID], rec)
	}

	results := make([][]types.PeriodRecord, len(order))
	eg, ctx := errgroup.WithContext(ctx)
	if parallelism < 1 {
		parallelism = 1
	}
	eg.SetLimit(parallelism)
	for i, genID := range order {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = aggregateGenerator(genID, byGen[genID], rated[genID], aggregation, windowEnd)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []types.PeriodRecord
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func aggregateGenerator(genID string, records []types.DenseRecord, ratedKW float64, aggregation period.Frequency, windowEnd time.Time) []types.PeriodRecord {
	var buckets []*periodBucket
	index := make(map[int64]*periodBucket)
	for _, rec := range records {
		start := rec.From
		if !aggregation.IsNone() {
			start = aggregation.Truncate(rec.From)
		} else if len(buckets) > 0 {
			start = buckets[0].start
		}
		b, ok := index[start.UnixNano()]
		if !ok {
			b = &periodBucket{start: start, from: rec.From}
			index[start.UnixNano()] = b
			buckets = append(buckets, b)
		}
		b.add(rec)
	}

	out := make([]types.PeriodRecord, 0, len(buckets))
	for _, b := range buckets {
		pr := types.PeriodRecord{
			GeneratorID:            genID,
			PeriodStart:            b.start,
			Power:                  b.power.sum,
			ACProduction:           b.ac.sum,
			ACProductionPrediction: b.prediction.sum,
			AvgAmbientTemp:         b.ambient.mean(),
			AvgModuleTemp:          b.module.mean(),
			Irradiation:            b.irradiation.sum,
			From:                   b.from,
			To:                     period.End(b.start, aggregation, windowEnd),
			Count:                  b.count,
			IsMissing:              b.missing,
		}
		if b.count > 0 {
			pr.TimeBasedAvailability = float64(b.count-b.outages) / float64(b.count)
			pr.DataAvailability = min(float64(b.count-b.missing)/float64(b.count)*100, 100)
		}
		if ratedKW > 0 {
			pr.SpecificYield = pr.ACProduction / (ratedKW / 1000)
		}
		pr.PerformanceRatio = ratio(pr.SpecificYield, pr.Irradiation)
		out = append(out, pr)
	}
	return out
}
