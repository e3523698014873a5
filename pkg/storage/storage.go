package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/renovus-tech/solarec/pkg/types"
)

var (
	ErrLocationNotFound = errors.New("location not found")
	ErrStationNotFound  = errors.New("station not found")
	ErrReadOnly         = errors.New("storage provider is read-only")
)

// Database defines the interface for reading reference data and readings and
// for persisting client settings.
type Database interface {
	// Settings
	GetSettings(ctx context.Context, clientID string) (types.Settings, int, error)
	SetSettings(ctx context.Context, clientID string, settings types.Settings, version int) error

	// Reference data
	GetLocation(ctx context.Context, clientID, locationID string) (types.Location, error)
	ListLocations(ctx context.Context, clientID string) ([]types.Location, error)
	UpsertLocation(ctx context.Context, clientID string, location types.Location) error
	ListGenerators(ctx context.Context, clientID, locationID string) ([]types.Generator, error)
	UpsertGenerator(ctx context.Context, clientID string, generator types.Generator) error
	// GetStation returns the weather station of a location.
	GetStation(ctx context.Context, clientID, locationID string) (types.Station, error)
	UpsertStation(ctx context.Context, clientID string, station types.Station) error

	// Readings
	// UpsertReadings adds or overwrites readings of one entity kind.
	UpsertReadings(ctx context.Context, clientID string, kind types.EntityKind, readings []types.Reading, version int) error
	// GetGeneratorReadings returns readings in [start, end) for the given
	// generators and metrics, in no particular order.
	GetGeneratorReadings(ctx context.Context, clientID string, generatorIDs []string, metrics []types.Metric, start, end time.Time) ([]types.Reading, error)
	GetStationReadings(ctx context.Context, clientID, stationID string, metrics []types.Metric, start, end time.Time) ([]types.Reading, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, postgres, file)")

	var p struct{ Database }

	fs := configuredFirestore()
	pg := configuredPostgres()
	file := configuredFile()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "postgres":
			if err := pg.Validate(); err != nil {
				panic(fmt.Sprintf("postgres validation failed: %v", err))
			}
			p.Database = pg
			if err := pg.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("postgres init failed: %v", err))
			}
		case "file":
			if err := file.Validate(); err != nil {
				panic(fmt.Sprintf("file validation failed: %v", err))
			}
			p.Database = file
			if err := file.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("file init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

func wantsMetric(metrics []types.Metric, m types.Metric) bool {
	return len(metrics) == 0 || slices.Contains(metrics, m)
}

func checkClient(clientID string) error {
	if clientID == "" {
		return errors.New("clientID cannot be empty")
	}
	return nil
}
