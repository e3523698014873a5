package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/renovus-tech/solarec/pkg/storage"
	"github.com/renovus-tech/solarec/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context, clientID string) (types.Settings, int, error) {
	args := m.Called(ctx, clientID)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, clientID string, settings types.Settings, version int) error {
	args := m.Called(ctx, clientID, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) GetLocation(ctx context.Context, clientID, locationID string) (types.Location, error) {
	args := m.Called(ctx, clientID, locationID)
	if len(args) > 0 {
		return args.Get(0).(types.Location), args.Error(1)
	}
	return types.Location{}, nil
}

func (m *MockDatabase) ListLocations(ctx context.Context, clientID string) ([]types.Location, error) {
	args := m.Called(ctx, clientID)
	if len(args) > 0 {
		locations, _ := args.Get(0).([]types.Location)
		return locations, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) UpsertLocation(ctx context.Context, clientID string, location types.Location) error {
	args := m.Called(ctx, clientID, location)
	return args.Error(0)
}

func (m *MockDatabase) ListGenerators(ctx context.Context, clientID, locationID string) ([]types.Generator, error) {
	args := m.Called(ctx, clientID, locationID)
	if len(args) > 0 {
		generators, _ := args.Get(0).([]types.Generator)
		return generators, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) UpsertGenerator(ctx context.Context, clientID string, generator types.Generator) error {
	args := m.Called(ctx, clientID, generator)
	return args.Error(0)
}

func (m *MockDatabase) GetStation(ctx context.Context, clientID, locationID string) (types.Station, error) {
	args := m.Called(ctx, clientID, locationID)
	if len(args) > 0 {
		return args.Get(0).(types.Station), args.Error(1)
	}
	return types.Station{}, nil
}

func (m *MockDatabase) UpsertStation(ctx context.Context, clientID string, station types.Station) error {
	args := m.Called(ctx, clientID, station)
	return args.Error(0)
}

func (m *MockDatabase) UpsertReadings(ctx context.Context, clientID string, kind types.EntityKind, readings []types.Reading, version int) error {
	args := m.Called(ctx, clientID, kind, readings, version)
	return args.Error(0)
}

func (m *MockDatabase) GetGeneratorReadings(ctx context.Context, clientID string, generatorIDs []string, metrics []types.Metric, start, end time.Time) ([]types.Reading, error) {
	args := m.Called(ctx, clientID, generatorIDs, metrics, start, end)
	if len(args) > 0 {
		readings, _ := args.Get(0).([]types.Reading)
		return readings, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetStationReadings(ctx context.Context, clientID, stationID string, metrics []types.Metric, start, end time.Time) ([]types.Reading, error) {
	args := m.Called(ctx, clientID, stationID, metrics, start, end)
	if len(args) > 0 {
		readings, _ := args.Get(0).([]types.Reading)
		return readings, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
