// Package performance turns raw generator and weather station readings into
// dense, unit normalized records and aggregates them per generator period and
// per location period.
package performance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/renovus-tech/solarec/pkg/log"
	"github.com/renovus-tech/solarec/pkg/metrics"
	"github.com/renovus-tech/solarec/pkg/period"
	"github.com/renovus-tech/solarec/pkg/types"
)

var (
	// ErrConfiguration is returned for requests whose frequencies cannot be
	// used. It wraps the period error.
	ErrConfiguration = errors.New("invalid report configuration")
	// ErrReferenceData is returned when a location lacks data the report
	// cannot be computed without.
	ErrReferenceData = errors.New("missing reference data")

	ErrCapacityUnknown = errors.New("location capacity is not declared")
	ErrNoStation       = errors.New("location has no weather station")
)

// Options tune an Engine.
type Options struct {
	// Parallelism bounds the generators aggregated concurrently.
	Parallelism int
	// StrictCapacity fails location reports without a declared capacity.
	StrictCapacity bool
}

// Request describes one report.
type Request struct {
	ClientID   string
	LocationID string
	// GeneratorIDs restricts the report. Empty means every generator of the
	// location.
	GeneratorIDs []string

	Start time.Time
	// End is exclusive.
	End time.Time

	Sampling    period.Frequency
	Aggregation period.Frequency

	StrictCapacity bool
}

// Validate checks the frequencies before anything is fetched.
func (r Request) Validate() error {
	if err := period.Validate(r.Sampling, r.Aggregation); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

// LastInstant is the last second covered by the window. Period ends are
// clamped against it.
func (r Request) LastInstant() time.Time {
	return r.End.Add(-time.Second)
}

// Snapshot is the immutable input of one run.
type Snapshot struct {
	Location   types.Location
	Generators []types.Generator
	Station    types.Station

	GeneratorReadings []types.Reading
	StationReadings   []types.Reading
}

// Result is the output of one run. NoData is set when the window holds no
// generator or no station readings; the record slices are empty then.
type Result struct {
	NoData bool `json:"noData"`

	Location     types.Location               `json:"location"`
	Generators   []types.Generator            `json:"generators"`
	Dense        []types.DenseRecord          `json:"-"`
	Periods      []types.PeriodRecord         `json:"periods"`
	Locations    []types.LocationPeriodRecord `json:"locations"`
	Availability []types.AvailabilityRecord   `json:"availability"`
}

// Engine runs the reconciliation and aggregation pipeline. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	opts Options
}

// NewEngine returns an Engine with the given options.
func NewEngine(opts Options) *Engine {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Engine{opts: opts}
}

// Configured returns an Engine whose options come from flags.
func Configured() *Engine {
	parallelism := 4
	lflag.JSON(&parallelism, "performance-parallelism", parallelism, "Number of generators aggregated concurrently")
	strict := lflag.Bool("strict-capacity", false, "Fail location reports when the location has no declared capacity instead of assuming 1 kW")

	e := &Engine{}
	lflag.Do(func() {
		*e = *NewEngine(Options{
			Parallelism:    parallelism,
			StrictCapacity: *strict,
		})
	})
	return e
}

func stage(name string, start time.Time) {
	metrics.ObserveStage(name, time.Since(start))
}

// Run computes the report for req from snap.
func (e *Engine) Run(ctx context.Context, req Request, snap Snapshot) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	logger := log.Ctx(ctx).With(slog.String("locationID", req.LocationID))

	if len(snap.Generators) == 0 {
		logger.DebugContext(ctx, "no generators for location")
		return Result{NoData: true, Location: snap.Location}, nil
	}
	if snap.Station.ID == "" {
		return Result{}, fmt.Errorf("%w: %w", ErrReferenceData, ErrNoStation)
	}

	capacity := snap.Location.CapacityKW
	if capacity <= 0 && (e.opts.StrictCapacity || req.StrictCapacity) {
		return Result{}, fmt.Errorf("%w: %w", ErrReferenceData, ErrCapacityUnknown)
	}
	windowEnd := req.LastInstant()

	genIDs := make([]string, 0, len(snap.Generators))
	for _, g := range snap.Generators {
		genIDs = append(genIDs, g.ID)
	}

	start := time.Now()
	genSeries := Reconcile(
		NewGrid(req.Start, req.End, req.Sampling, genIDs),
		snap.GeneratorReadings,
		types.GeneratorMetrics,
	)
	genSeries.Normalize(windowEnd)
	staSeries := Reconcile(
		NewGrid(req.Start, req.End, req.Sampling, []string{snap.Station.ID}),
		snap.StationReadings,
		types.StationMetrics,
	)
	staSeries.Normalize(windowEnd)
	stage("reconcile", start)
	metrics.AddReadingsDropped(string(types.EntityGenerator), genSeries.Dropped)
	metrics.AddReadingsDropped(string(types.EntityStation), staSeries.Dropped)
	logger.DebugContext(ctx, "reconciled readings",
		slog.Int("generatorReadings", genSeries.Readings),
		slog.Int("stationReadings", staSeries.Readings),
		slog.Int("dropped", genSeries.Dropped+staSeries.Dropped),
	)

	start = time.Now()
	dense := Merge(genSeries, staSeries)
	stage("merge", start)
	if len(dense) == 0 {
		logger.DebugContext(ctx, "no data for window")
		return Result{NoData: true, Location: snap.Location, Generators: snap.Generators}, nil
	}
	if capacity <= 0 {
		logger.WarnContext(ctx, "location capacity unknown, using placeholder",
			slog.Float64("capacityKW", DefaultCapacityKW),
		)
		metrics.IncCapacityFallback()
	}

	start = time.Now()
	periods, err := AggregateByPeriod(ctx, dense, snap.Generators, req.Aggregation, windowEnd, e.opts.Parallelism)
	if err != nil {
		return Result{}, fmt.Errorf("failed to aggregate by period: %w", err)
	}
	locations := AggregateByLocation(periods, capacity, req.Aggregation, windowEnd)
	stage("aggregate", start)

	start = time.Now()
	availability := Availability(genSeries, staSeries, req.Aggregation, windowEnd)
	stage("availability", start)

	logger.DebugContext(ctx, "computed performance",
		slog.Int("dense", len(dense)),
		slog.Int("periods", len(periods)),
		slog.Int("locationPeriods", len(locations)),
	)

	return Result{
		Location:     snap.Location,
		Generators:   snap.Generators,
		Dense:        dense,
		Periods:      periods,
		Locations:    locations,
		Availability: availability,
	}, nil
}
