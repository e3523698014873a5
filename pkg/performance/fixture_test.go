package performance

import (
	"time"

	"github.com/renovus-tech/solarec/pkg/period"
	"github.com/renovus-tech/solarec/pkg/types"
)

var day = time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)

func at(hh, mm int) time.Time {
	return day.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
}

func reading(entity string, ts time.Time, m types.Metric, v float64) types.Reading {
	return types.Reading{EntityID: entity, Timestamp: ts, Metric: m, Value: v}
}

// twoGenerators is a location with generators rated 1000 and 2000 kW, a
// capacity of 1000 kW and 15 minute readings over the first half hour.
func twoGenerators() Snapshot {
	return Snapshot{
		Location: types.Location{ID: "loc1", ClientID: "cli1", CapacityKW: 1000},
		Generators: []types.Generator{
			{ID: "g1", LocationID: "loc1", Code: "G1", RatedPowerKW: 1000},
			{ID: "g2", LocationID: "loc1", Code: "G2", RatedPowerKW: 2000},
		},
		Station: types.Station{ID: "s1", LocationID: "loc1"},
		GeneratorReadings: []types.Reading{
			reading("g1", at(0, 0), types.MetricPower, 10),
			reading("g1", at(0, 15), types.MetricPower, 20),
			reading("g2", at(0, 15), types.MetricPower, 30),
			reading("g2", at(0, 30), types.MetricPower, 40),
			reading("g1", at(0, 0), types.MetricACProduction, 15),
			reading("g1", at(0, 15), types.MetricACProduction, 25),
			reading("g2", at(0, 15), types.MetricACProduction, 35),
			reading("g2", at(0, 30), types.MetricACProduction, 45),
			reading("g1", at(0, 0), types.MetricACProductionPrediction, 11),
			reading("g1", at(0, 15), types.MetricACProductionPrediction, 22),
			reading("g2", at(0, 15), types.MetricACProductionPrediction, 33),
			reading("g2", at(0, 30), types.MetricACProductionPrediction, 44),
		},
		StationReadings: []types.Reading{
			reading("s1", at(0, 0), types.MetricAmbientTemp, 1),
			reading("s1", at(0, 15), types.MetricAmbientTemp, 2),
			reading("s1", at(0, 30), types.MetricAmbientTemp, 3),
			reading("s1", at(0, 0), types.MetricModuleTemp, 10),
			reading("s1", at(0, 15), types.MetricModuleTemp, 20),
			reading("s1", at(0, 30), types.MetricModuleTemp, 30),
			reading("s1", at(0, 0), types.MetricIrradiation, 50),
			reading("s1", at(0, 15), types.MetricIrradiation, 60),
			reading("s1", at(0, 30), types.MetricIrradiation, 70),
		},
	}
}

func hourlyRequest() Request {
	return Request{
		ClientID:    "cli1",
		LocationID:  "loc1",
		Start:       at(0, 0),
		End:         at(2, 0),
		Sampling:    period.QuarterHourly,
		Aggregation: period.Hourly,
	}
}
