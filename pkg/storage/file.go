package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"gopkg.in/yaml.v3"

	"github.com/renovus-tech/solarec/pkg/types"
)

// Snapshot is the on-disk layout of the file provider. It holds everything
// needed to produce reports offline.
type Snapshot struct {
	Clients map[string]*ClientSnapshot `yaml:"clients"`
}

// ClientSnapshot is the data of a single client.
type ClientSnapshot struct {
	Settings        types.Settings    `yaml:"settings"`
	SettingsVersion int               `yaml:"settingsVersion"`
	Locations       []types.Location  `yaml:"locations"`
	Generators      []types.Generator `yaml:"generators"`
	Stations        []types.Station   `yaml:"stations"`
	GeneratorData   []types.Reading   `yaml:"generatorData"`
	StationData     []types.Reading   `yaml:"stationData"`
}

// FileProvider implements the Database interface on a YAML snapshot that is
// loaded into memory. Writes are persisted back to the file unless the
// provider is read-only.
type FileProvider struct {
	path     string
	readOnly bool

	mu   sync.RWMutex
	snap Snapshot
}

// configuredFile sets up the file provider.
// It registers flags for configuration.
func configuredFile() *FileProvider {
	path := lflag.String("snapshot-file", "", "Path to the YAML snapshot used by the file storage provider")
	readOnly := lflag.Bool("snapshot-read-only", false, "Reject writes to the snapshot file")

	f := &FileProvider{}
	lflag.Do(func() {
		f.path = *path
		f.readOnly = *readOnly
	})
	return f
}

// NewFileProvider returns a provider backed by the snapshot at path. The file
// is created on the first write if it does not exist.
func NewFileProvider(ctx context.Context, path string, readOnly bool) (*FileProvider, error) {
	f := &FileProvider{path: path, readOnly: readOnly}
	if err := f.Init(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks if the provider is properly configured.
func (f *FileProvider) Validate() error {
	if f.path == "" {
		return errors.New("snapshot-file is required")
	}
	return nil
}

// Init loads the snapshot into memory. A missing file is an empty snapshot.
func (f *FileProvider) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.snap = Snapshot{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read snapshot %s: %w", f.path, err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("failed to parse snapshot %s: %w", f.path, err)
	}
	f.snap = snap
	return nil
}

// Close is a no-op since every write is already persisted.
func (f *FileProvider) Close() error {
	return nil
}

// client returns the snapshot of a client or nil when it is unknown.
// Callers must hold the lock.
func (f *FileProvider) client(clientID string) (*ClientSnapshot, error) {
	if clientID == "" {
		return nil, fmt.Errorf("clientID cannot be empty")
	}
	return f.snap.Clients[clientID], nil
}

func (c *ClientSnapshot) clone() *ClientSnapshot {
	if c == nil {
		return &ClientSnapshot{}
	}
	return &ClientSnapshot{
		Settings:        c.Settings,
		SettingsVersion: c.SettingsVersion,
		Locations:       slices.Clone(c.Locations),
		Generators:      slices.Clone(c.Generators),
		Stations:        slices.Clone(c.Stations),
		GeneratorData:   slices.Clone(c.GeneratorData),
		StationData:     slices.Clone(c.StationData),
	}
}

// write applies fn to a copy of the client and persists the snapshot. The
// in-memory snapshot only changes once the file was written.
func (f *FileProvider) write(clientID string, fn func(c *ClientSnapshot) error) error {
	if f.readOnly {
		return ErrReadOnly
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.client(clientID)
	if err != nil {
		return err
	}
	c := current.clone()
	if err := fn(c); err != nil {
		return err
	}

	next := Snapshot{Clients: make(map[string]*ClientSnapshot, len(f.snap.Clients)+1)}
	for id, other := range f.snap.Clients {
		next.Clients[id] = other
	}
	next.Clients[clientID] = c

	b, err := yaml.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(f.path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", f.path, err)
	}
	f.snap = next
	return nil
}

// read calls fn with the client under a read lock. fn is not called when the
// client is unknown.
func (f *FileProvider) read(clientID string, fn func(c *ClientSnapshot)) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c, err := f.client(clientID)
	if err != nil {
		return err
	}
	if c != nil {
		fn(c)
	}
	return nil
}

func (f *FileProvider) GetSettings(ctx context.Context, clientID string) (types.Settings, int, error) {
	var s types.Settings
	var version int
	err := f.read(clientID, func(c *ClientSnapshot) {
		s, version = c.Settings, c.SettingsVersion
	})
	return s, version, err
}

func (f *FileProvider) SetSettings(ctx context.Context, clientID string, settings types.Settings, version int) error {
	return f.write(clientID, func(c *ClientSnapshot) error {
		c.Settings = settings
		c.SettingsVersion = version
		return nil
	})
}

func (f *FileProvider) GetLocation(ctx context.Context, clientID, locationID string) (types.Location, error) {
	var loc types.Location
	found := false
	err := f.read(clientID, func(c *ClientSnapshot) {
		for _, l := range c.Locations {
			if l.ID == locationID {
				loc, found = l, true
				return
			}
		}
	})
	if err != nil {
		return types.Location{}, err
	}
	if !found {
		return types.Location{}, fmt.Errorf("%w: %s", ErrLocationNotFound, locationID)
	}
	return loc, nil
}

func (f *FileProvider) ListLocations(ctx context.Context, clientID string) ([]types.Location, error) {
	var locations []types.Location
	err := f.read(clientID, func(c *ClientSnapshot) {
		locations = slices.Clone(c.Locations)
	})
	sort.Slice(locations, func(i, j int) bool { return locations[i].ID < locations[j].ID })
	return locations, err
}

func (f *FileProvider) UpsertLocation(ctx context.Context, clientID string, location types.Location) error {
	return f.write(clientID, func(c *ClientSnapshot) error {
		location.ClientID = clientID
		i := slices.IndexFunc(c.Locations, func(l types.Location) bool { return l.ID == location.ID })
		if i >= 0 {
			c.Locations[i] = location
		} else {
			c.Locations = append(c.Locations, location)
		}
		return nil
	})
}

func (f *FileProvider) ListGenerators(ctx context.Context, clientID, locationID string) ([]types.Generator, error) {
	var generators []types.Generator
	err := f.read(clientID, func(c *ClientSnapshot) {
		for _, g := range c.Generators {
			if g.LocationID == locationID {
				generators = append(generators, g)
			}
		}
	})
	sort.Slice(generators, func(i, j int) bool { return generators[i].ID < generators[j].ID })
	return generators, err
}

func (f *FileProvider) UpsertGenerator(ctx context.Context, clientID string, generator types.Generator) error {
	return f.write(clientID, func(c *ClientSnapshot) error {
		i := slices.IndexFunc(c.Generators, func(g types.Generator) bool { return g.ID == generator.ID })
		if i >= 0 {
			c.Generators[i] = generator
		} else {
			c.Generators = append(c.Generators, generator)
		}
		return nil
	})
}

func (f *FileProvider) GetStation(ctx context.Context, clientID, locationID string) (types.Station, error) {
	var stations []types.Station
	err := f.read(clientID, func(c *ClientSnapshot) {
		for _, s := range c.Stations {
			if s.LocationID == locationID {
				stations = append(stations, s)
			}
		}
	})
	if err != nil {
		return types.Station{}, err
	}
	if len(stations) == 0 {
		return types.Station{}, fmt.Errorf("%w: location %s", ErrStationNotFound, locationID)
	}
	// same as the other providers, the lowest ID wins
	sort.Slice(stations, func(i, j int) bool { return stations[i].ID < stations[j].ID })
	return stations[0], nil
}

func (f *FileProvider) UpsertStation(ctx context.Context, clientID string, station types.Station) error {
	return f.write(clientID, func(c *ClientSnapshot) error {
		i := slices.IndexFunc(c.Stations, func(s types.Station) bool { return s.ID == station.ID })
		if i >= 0 {
			c.Stations[i] = station
		} else {
			c.Stations = append(c.Stations, station)
		}
		return nil
	})
}

type readingKey struct {
	entityID string
	ts       int64
	metric   types.Metric
}

func keyOf(r types.Reading) readingKey {
	return readingKey{entityID: r.EntityID, ts: r.Timestamp.Unix(), metric: r.Metric}
}

// UpsertReadings overwrites readings with the same entity, second and metric.
// The version is not stored in snapshots.
func (f *FileProvider) UpsertReadings(ctx context.Context, clientID string, kind types.EntityKind, readings []types.Reading, version int) error {
	if len(readings) == 0 {
		return nil
	}
	return f.write(clientID, func(c *ClientSnapshot) error {
		var dst *[]types.Reading
		switch kind {
		case types.EntityGenerator:
			dst = &c.GeneratorData
		case types.EntityStation:
			dst = &c.StationData
		default:
			return fmt.Errorf("unknown entity kind: %s", kind)
		}
		existing := make(map[readingKey]int, len(*dst))
		for i, r := range *dst {
			existing[keyOf(r)] = i
		}
		for _, r := range readings {
			r.Timestamp = r.Timestamp.Round(time.Second).UTC()
			if i, ok := existing[keyOf(r)]; ok {
				(*dst)[i] = r
				continue
			}
			existing[keyOf(r)] = len(*dst)
			*dst = append(*dst, r)
		}
		return nil
	})
}

func filterReadings(src []types.Reading, entityIDs []string, metrics []types.Metric, start, end time.Time) []types.Reading {
	var out []types.Reading
	for _, r := range src {
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		if !slices.Contains(entityIDs, r.EntityID) || !wantsMetric(metrics, r.Metric) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (f *FileProvider) GetGeneratorReadings(ctx context.Context, clientID string, generatorIDs []string, metrics []types.Metric, start, end time.Time) ([]types.Reading, error) {
	var readings []types.Reading
	err := f.read(clientID, func(c *ClientSnapshot) {
		readings = filterReadings(c.GeneratorData, generatorIDs, metrics, start, end)
	})
	return readings, err
}

func (f *FileProvider) GetStationReadings(ctx context.Context, clientID, stationID string, metrics []types.Metric, start, end time.Time) ([]types.Reading, error) {
	var readings []types.Reading
	err := f.read(clientID, func(c *ClientSnapshot) {
		readings = filterReadings(c.StationData, []string{stationID}, metrics, start, end)
	})
	return readings, err
}
