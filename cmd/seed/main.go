package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/renovus-tech/solarec/pkg/log"
	"github.com/renovus-tech/solarec/pkg/storage"
	"github.com/renovus-tech/solarec/pkg/types"
)

func main() {
	s := storage.Configured()
	clientID := lflag.String("seed-client", "demo", "Client to seed")
	locationID := lflag.String("seed-location", "plant-1", "Location to seed")
	generators := 3
	lflag.JSON(&generators, "seed-generators", generators, "Number of generators to create")
	days := 7
	lflag.JSON(&days, "seed-days", days, "Number of days of readings, ending today")
	outageRate := 0.01
	lflag.JSON(&outageRate, "seed-outage-rate", outageRate, "Probability a daytime generator reading is an outage")
	missingRate := 0.02
	lflag.JSON(&missingRate, "seed-missing-rate", missingRate, "Probability a reading is not written at all")
	lflag.Configure()
	log.Configure()

	ctx := context.Background()
	defer s.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	// Use a new random source
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	const (
		RatedPowerKW     = 1000.0
		PeakIrradiation  = 950.0 // W/m2 at solar noon
		PerformanceRatio = 0.82
	)

	loc := types.Location{
		ID:         *locationID,
		ClientID:   *clientID,
		Name:       "Demo Plant",
		CapacityKW: RatedPowerKW * float64(generators),
	}
	station := types.Station{ID: *locationID + "-ws", LocationID: loc.ID, Name: "Weather Station"}
	gens := make([]types.Generator, generators)
	for i := range gens {
		gens[i] = types.Generator{
			ID:           fmt.Sprintf("%s-inv%d", *locationID, i+1),
			LocationID:   loc.ID,
			Code:         fmt.Sprintf("INV%02d", i+1),
			Name:         fmt.Sprintf("Inverter %d", i+1),
			RatedPowerKW: RatedPowerKW,
		}
	}

	fail := func(msg string, err error) {
		log.Ctx(ctx).ErrorContext(ctx, msg, "error", err)
		os.Exit(1)
	}

	settings, _, err := types.MigrateSettings(types.Settings{}, 0)
	if err != nil {
		fail("failed to build settings", err)
	}
	if err := s.SetSettings(ctx, loc.ClientID, settings, types.CurrentSettingsVersion); err != nil {
		fail("failed to seed settings", err)
	}
	if err := s.UpsertLocation(ctx, loc.ClientID, loc); err != nil {
		fail("failed to seed location", err)
	}
	if err := s.UpsertStation(ctx, loc.ClientID, station); err != nil {
		fail("failed to seed station", err)
	}
	for _, g := range gens {
		if err := s.UpsertGenerator(ctx, loc.ClientID, g); err != nil {
			fail("failed to seed generator", err)
		}
	}

	now := time.Now().UTC()
	// Midnight to now
	end := now.Truncate(24 * time.Hour).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)

	// one batch per day
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		var genReadings, staReadings []types.Reading
		cloudiness := rng.Float64() * 0.4

		for t := day; t.Before(day.AddDate(0, 0, 1)) && t.Before(now); t = t.Add(15 * time.Minute) {
			hour := float64(t.Hour()) + float64(t.Minute())/60

			// Irradiation (bell curve)
			irradiation := 0.0
			if hour > 6 && hour < 19 {
				dist := math.Abs(hour - 12.5)
				irradiation = PeakIrradiation * math.Exp(-(dist*dist)/8.0) * (1 - cloudiness*rng.Float64())
			}
			ambient := 12 + 10*math.Exp(-math.Pow(hour-15, 2)/18) + rng.Float64()
			module := ambient + irradiation*0.03

			if rng.Float64() >= missingRate {
				staReadings = append(staReadings,
					types.Reading{EntityID: station.ID, Timestamp: t, Metric: types.MetricIrradiation, Value: irradiation},
					types.Reading{EntityID: station.ID, Timestamp: t, Metric: types.MetricAmbientTemp, Value: ambient},
					types.Reading{EntityID: station.ID, Timestamp: t, Metric: types.MetricModuleTemp, Value: module},
				)
			}

			for _, g := range gens {
				if rng.Float64() < missingRate {
					continue
				}
				expected := g.RatedPowerKW * irradiation / 1000 * PerformanceRatio
				power := expected * (0.95 + rng.Float64()*0.05)
				if irradiation > 0 && rng.Float64() < outageRate {
					power = 0
				}
				genReadings = append(genReadings,
					types.Reading{EntityID: g.ID, Timestamp: t, Metric: types.MetricPower, Value: power},
					types.Reading{EntityID: g.ID, Timestamp: t, Metric: types.MetricACProduction, Value: power * 0.98},
					types.Reading{EntityID: g.ID, Timestamp: t, Metric: types.MetricACProductionPrediction, Value: expected},
				)
			}
		}

		if err := s.UpsertReadings(ctx, loc.ClientID, types.EntityGenerator, genReadings, types.CurrentReadingVersion); err != nil {
			fail("failed to seed generator readings", err)
		}
		if err := s.UpsertReadings(ctx, loc.ClientID, types.EntityStation, staReadings, types.CurrentReadingVersion); err != nil {
			fail("failed to seed station readings", err)
		}

		fmt.Printf("Seeded %s: %d generator readings, %d station readings (cloudiness %.0f%%)\n",
			day.Format("2006-01-02"), len(genReadings), len(staReadings), cloudiness*100)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
}
