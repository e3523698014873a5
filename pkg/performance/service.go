package performance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/renovus-tech/solarec/pkg/log"
	"github.com/renovus-tech/solarec/pkg/metrics"
	"github.com/renovus-tech/solarec/pkg/storage"
	"github.com/renovus-tech/solarec/pkg/types"
)

// Source is the read side of the data store the pipeline needs. It is
// implemented by storage.Database.
type Source interface {
	GetLocation(ctx context.Context, clientID, locationID string) (types.Location, error)
	ListGenerators(ctx context.Context, clientID, locationID string) ([]types.Generator, error)
	GetStation(ctx context.Context, clientID, locationID string) (types.Station, error)
	GetGeneratorReadings(ctx context.Context, clientID string, generatorIDs []string, wanted []types.Metric, start, end time.Time) ([]types.Reading, error)
	GetStationReadings(ctx context.Context, clientID, stationID string, wanted []types.Metric, start, end time.Time) ([]types.Reading, error)
}

// Service fetches a snapshot from a Source and runs the Engine on it.
type Service struct {
	src    Source
	engine *Engine
}

// NewService returns a Service reading from src.
func NewService(src Source, engine *Engine) *Service {
	return &Service{src: src, engine: engine}
}

func referenceErr(err error) error {
	if errors.Is(err, storage.ErrLocationNotFound) || errors.Is(err, storage.ErrStationNotFound) {
		return fmt.Errorf("%w: %w", ErrReferenceData, err)
	}
	return err
}

// Fetch loads everything a run needs. Generators are filtered to
// req.GeneratorIDs when set and readings are only fetched when at least one
// generator remains.
func (s *Service) Fetch(ctx context.Context, req Request) (Snapshot, error) {
	var snap Snapshot

	loc, err := s.src.GetLocation(ctx, req.ClientID, req.LocationID)
	if err != nil {
		return snap, fmt.Errorf("failed to get location: %w", referenceErr(err))
	}
	snap.Location = loc

	gens, err := s.src.ListGenerators(ctx, req.ClientID, req.LocationID)
	if err != nil {
		return snap, fmt.Errorf("failed to list generators: %w", err)
	}
	if len(req.GeneratorIDs) > 0 {
		gens = slices.DeleteFunc(slices.Clone(gens), func(g types.Generator) bool {
			return !slices.Contains(req.GeneratorIDs, g.ID)
		})
	}
	snap.Generators = gens
	if len(gens) == 0 {
		return snap, nil
	}

	station, err := s.src.GetStation(ctx, req.ClientID, req.LocationID)
	if err != nil {
		return snap, fmt.Errorf("failed to get station: %w", referenceErr(err))
	}
	snap.Station = station

	genIDs := make([]string, 0, len(gens))
	for _, g := range gens {
		genIDs = append(genIDs, g.ID)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		readings, err := s.src.GetGeneratorReadings(egCtx, req.ClientID, genIDs, types.GeneratorMetrics, req.Start, req.End)
		if err != nil {
			return fmt.Errorf("failed to get generator readings: %w", err)
		}
		snap.GeneratorReadings = readings
		return nil
	})
	eg.Go(func() error {
		readings, err := s.src.GetStationReadings(egCtx, req.ClientID, station.ID, types.StationMetrics, req.Start, req.End)
		if err != nil {
			return fmt.Errorf("failed to get station readings: %w", err)
		}
		snap.StationReadings = readings
		return nil
	})
	if err := eg.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Run validates req, fetches its snapshot and computes the report.
func (s *Service) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res, err := s.run(ctx, req)
	switch {
	case err != nil:
		metrics.ObservePipeline(metrics.ResultError, time.Since(start))
	case res.NoData:
		metrics.ObservePipeline(metrics.ResultNoData, time.Since(start))
	default:
		metrics.ObservePipeline(metrics.ResultSuccess, time.Since(start))
	}
	return res, err
}

func (s *Service) run(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	snap, err := s.Fetch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	log.Ctx(ctx).DebugContext(ctx, "fetched snapshot",
		slog.String("locationID", req.LocationID),
		slog.Int("generators", len(snap.Generators)),
		slog.Int("generatorReadings", len(snap.GeneratorReadings)),
		slog.Int("stationReadings", len(snap.StationReadings)),
	)
	return s.engine.Run(ctx, req, snap)
}
