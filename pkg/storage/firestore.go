package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/renovus-tech/solarec/pkg/log"
	"github.com/renovus-tech/solarec/pkg/types"
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Reference data is stored as JSON blobs under clients/{clientID}; readings
// live in a "readings" sub-collection of their generator or station keyed by
// the RFC3339 timestamp.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID may be empty if it can be inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(clientID, name string) (*firestore.CollectionRef, error) {
	if clientID == "" {
		return nil, fmt.Errorf("clientID cannot be empty")
	}
	return f.client.Collection("clients").Doc(clientID).Collection(name), nil
}

func entityCollection(kind types.EntityKind) (string, error) {
	switch kind {
	case types.EntityGenerator:
		return "generators", nil
	case types.EntityStation:
		return "stations", nil
	default:
		return "", fmt.Errorf("unknown entity kind: %s", kind)
	}
}

func (f *FirestoreProvider) readingsCollection(clientID string, kind types.EntityKind, entityID string) (*firestore.CollectionRef, error) {
	name, err := entityCollection(kind)
	if err != nil {
		return nil, err
	}
	coll, err := f.getCollection(clientID, name)
	if err != nil {
		return nil, err
	}
	if entityID == "" {
		return nil, fmt.Errorf("entityID cannot be empty")
	}
	return coll.Doc(entityID).Collection("readings"), nil
}

// decodeJSON reads the "json" field of a document into dst.
func decodeJSON(ctx context.Context, doc *firestore.DocumentSnapshot, dst any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("path", doc.Ref.Path), slog.Any("err", err))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("path", doc.Ref.Path))
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), dst); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc json", slog.String("path", doc.Ref.Path), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

// GetSettings retrieves the client configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context, clientID string) (types.Settings, int, error) {
	coll, err := f.getCollection(clientID, "config")
	if err != nil {
		return types.Settings{}, 0, err
	}
	doc, err := coll.Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	var s types.Settings
	if err := decodeJSON(ctx, doc, &s); err != nil {
		return types.Settings{}, 0, err
	}
	return s, version, nil
}

// SetSettings saves the client configuration to the "config/settings" document.
// It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, clientID string, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	coll, err := f.getCollection(clientID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// GetLocation retrieves a location from the "locations" collection.
func (f *FirestoreProvider) GetLocation(ctx context.Context, clientID, locationID string) (types.Location, error) {
	coll, err := f.getCollection(clientID, "locations")
	if err != nil {
		return types.Location{}, err
	}
	doc, err := coll.Doc(locationID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Location{}, fmt.Errorf("%w: %s", ErrLocationNotFound, locationID)
		}
		return types.Location{}, fmt.Errorf("failed to get location %s: %w", locationID, err)
	}
	var loc types.Location
	if err := decodeJSON(ctx, doc, &loc); err != nil {
		return types.Location{}, err
	}
	return loc, nil
}

// ListLocations retrieves all locations of a client.
func (f *FirestoreProvider) ListLocations(ctx context.Context, clientID string) ([]types.Location, error) {
	coll, err := f.getCollection(clientID, "locations")
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var locations []types.Location
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating locations: %w", err)
		}
		var loc types.Location
		if err := decodeJSON(ctx, doc, &loc); err != nil {
			// Skip malformed documents
			continue
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

// UpsertLocation adds or updates a location document.
func (f *FirestoreProvider) UpsertLocation(ctx context.Context, clientID string, location types.Location) error {
	jsonBytes, err := json.Marshal(location)
	if err != nil {
		return fmt.Errorf("failed to marshal location %s: %w", location.ID, err)
	}
	coll, err := f.getCollection(clientID, "locations")
	if err != nil {
		return err
	}
	_, err = coll.Doc(location.ID).Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert location %s: %w", location.ID, err)
	}
	return nil
}

// ListGenerators retrieves the generators of a location ordered by ID.
func (f *FirestoreProvider) ListGenerators(ctx context.Context, clientID, locationID string) ([]types.Generator, error) {
	coll, err := f.getCollection(clientID, "generators")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where("locationID", "==", locationID).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var generators []types.Generator
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating generators: %w", err)
		}
		var g types.Generator
		if err := decodeJSON(ctx, doc, &g); err != nil {
			return nil, err
		}
		generators = append(generators, g)
	}
	return generators, nil
}

// UpsertGenerator adds or updates a generator document. The location ID is
// stored as a top-level field so generators can be queried by location.
func (f *FirestoreProvider) UpsertGenerator(ctx context.Context, clientID string, generator types.Generator) error {
	jsonBytes, err := json.Marshal(generator)
	if err != nil {
		return fmt.Errorf("failed to marshal generator %s: %w", generator.ID, err)
	}
	coll, err := f.getCollection(clientID, "generators")
	if err != nil {
		return err
	}
	_, err = coll.Doc(generator.ID).Set(ctx, map[string]interface{}{
		"json":       string(jsonBytes),
		"locationID": generator.LocationID,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to upsert generator %s: %w", generator.ID, err)
	}
	return nil
}

// GetStation retrieves the weather station of a location.
func (f *FirestoreProvider) GetStation(ctx context.Context, clientID, locationID string) (types.Station, error) {
	coll, err := f.getCollection(clientID, "stations")
	if err != nil {
		return types.Station{}, err
	}
	iter := coll.
		Where("locationID", "==", locationID).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return types.Station{}, fmt.Errorf("%w: location %s", ErrStationNotFound, locationID)
	}
	if err != nil {
		return types.Station{}, fmt.Errorf("failed to get station for location %s: %w", locationID, err)
	}
	var st types.Station
	if err := decodeJSON(ctx, doc, &st); err != nil {
		return types.Station{}, err
	}
	return st, nil
}

// UpsertStation adds or updates a station document.
func (f *FirestoreProvider) UpsertStation(ctx context.Context, clientID string, station types.Station) error {
	jsonBytes, err := json.Marshal(station)
	if err != nil {
		return fmt.Errorf("failed to marshal station %s: %w", station.ID, err)
	}
	coll, err := f.getCollection(clientID, "stations")
	if err != nil {
		return err
	}
	_, err = coll.Doc(station.ID).Set(ctx, map[string]interface{}{
		"json":       string(jsonBytes),
		"locationID": station.LocationID,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to upsert station %s: %w", station.ID, err)
	}
	return nil
}

type readingDoc struct {
	ref    *firestore.DocumentRef
	ts     time.Time
	values map[string]interface{}
}

// UpsertReadings writes readings into one document per (entity, second).
// Metrics of the same second are merged into the document's "values" map.
func (f *FirestoreProvider) UpsertReadings(ctx context.Context, clientID string, kind types.EntityKind, readings []types.Reading, version int) error {
	if len(readings) == 0 {
		return nil
	}

	// a document may only be written once per BulkWriter
	var docs []*readingDoc
	byPath := map[string]*readingDoc{}
	for _, r := range readings {
		coll, err := f.readingsCollection(clientID, kind, r.EntityID)
		if err != nil {
			return err
		}
		ts := r.Timestamp.Round(time.Second).UTC()
		ref := coll.Doc(ts.Format(time.RFC3339))
		d, ok := byPath[ref.Path]
		if !ok {
			d = &readingDoc{ref: ref, ts: ts, values: map[string]interface{}{}}
			byPath[ref.Path] = d
			docs = append(docs, d)
		}
		d.values[string(r.Metric)] = r.Value
	}

	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, d := range docs {
		job, err := bw.Set(d.ref, map[string]interface{}{
			"timestamp": d.ts,
			"version":   version,
			"values":    d.values,
		}, firestore.MergeAll)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue reading %s: %w", d.ref.Path, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to upsert readings: %w", err)
		}
	}
	return nil
}

// getReadings retrieves the readings of one entity within [start, end).
// Uses document ID range queries for efficient filtering.
func (f *FirestoreProvider) getReadings(ctx context.Context, clientID string, kind types.EntityKind, entityID string, metrics []types.Metric, start, end time.Time) ([]types.Reading, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.readingsCollection(clientID, kind, entityID)
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var readings []types.Reading
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating readings: %w", err)
		}

		ts, err := time.Parse(time.RFC3339, doc.Ref.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid reading doc id %s: %w", doc.Ref.ID, err)
		}
		val, err := doc.DataAt("values")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "reading doc missing values", slog.String("path", doc.Ref.Path))
			continue
		}
		values, ok := val.(map[string]interface{})
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "reading doc values not a map", slog.String("path", doc.Ref.Path))
			continue
		}
		for name, raw := range values {
			m := types.Metric(name)
			if !wantsMetric(metrics, m) {
				continue
			}
			var v float64
			switch n := raw.(type) {
			case float64:
				v = n
			case int64:
				v = float64(n)
			default:
				// null readings are stored as missing
				continue
			}
			readings = append(readings, types.Reading{EntityID: entityID, Timestamp: ts, Metric: m, Value: v})
		}
	}
	return readings, nil
}

// GetGeneratorReadings queries every generator's readings concurrently.
func (f *FirestoreProvider) GetGeneratorReadings(ctx context.Context, clientID string, generatorIDs []string, metrics []types.Metric, start, end time.Time) ([]types.Reading, error) {
	results := make([][]types.Reading, len(generatorIDs))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for i, id := range generatorIDs {
		eg.Go(func() error {
			readings, err := f.getReadings(ctx, clientID, types.EntityGenerator, id, metrics, start, end)
			if err != nil {
				return fmt.Errorf("failed to get readings for generator %s: %w", id, err)
			}
			results[i] = readings
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	var all []types.Reading
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// GetStationReadings retrieves the readings of a station.
func (f *FirestoreProvider) GetStationReadings(ctx context.Context, clientID, stationID string, metrics []types.Metric, start, end time.Time) ([]types.Reading, error) {
	return f.getReadings(ctx, clientID, types.EntityStation, stationID, metrics, start, end)
}
