package types

import "time"

const (
	CurrentReadingVersion = 1
)

// EntityKind distinguishes the two independently sampled reading streams.
type EntityKind string

const (
	EntityGenerator EntityKind = "generator"
	EntityStation   EntityKind = "station"
)

// Metric identifies what a raw reading measures.
type Metric string

const (
	MetricPower                  Metric = "power"
	MetricACProduction           Metric = "ac_production"
	MetricACProductionPrediction Metric = "ac_production_prediction"
	MetricAmbientTemp            Metric = "ambient_temp"
	MetricModuleTemp             Metric = "module_temp"
	MetricIrradiation            Metric = "irradiation"
)

// GeneratorMetrics are the metrics fetched for generators.
var GeneratorMetrics = []Metric{MetricPower, MetricACProduction, MetricACProductionPrediction}

// StationMetrics are the metrics fetched for the weather station.
var StationMetrics = []Metric{MetricAmbientTemp, MetricModuleTemp, MetricIrradiation}

var metricCodes = map[Metric]int{
	MetricPower:                  501,
	MetricACProduction:           502,
	MetricAmbientTemp:            503,
	MetricModuleTemp:             504,
	MetricIrradiation:            505,
	MetricACProductionPrediction: 508,
}

// Code returns the numeric data type id used by the relational store, or 0 if
// the metric is unknown.
func (m Metric) Code() int {
	return metricCodes[m]
}

// MetricFromCode is the inverse of Metric.Code.
func MetricFromCode(code int) (Metric, bool) {
	for m, c := range metricCodes {
		if c == code {
			return m, true
		}
	}
	return "", false
}

// Reading is a single raw sensor value for a generator or a station.
type Reading struct {
	EntityID  string    `json:"entityID" yaml:"entity"`
	Timestamp time.Time `json:"timestamp" yaml:"ts"`
	Metric    Metric    `json:"metric" yaml:"metric"`
	Value     float64   `json:"value" yaml:"value"`
}

// Location is a solar plant made up of generators and one weather station.
type Location struct {
	ID       string `json:"id" yaml:"id"`
	ClientID string `json:"clientID" yaml:"client"`
	Name     string `json:"name" yaml:"name"`
	// Total installed capacity in kW. Zero means the capacity was never declared.
	CapacityKW float64 `json:"capacityKW" yaml:"capacityKW"`
}

// Generator is an inverter or plant section that reports production.
type Generator struct {
	ID           string  `json:"id" yaml:"id"`
	LocationID   string  `json:"locationID" yaml:"location"`
	Code         string  `json:"code" yaml:"code"`
	Name         string  `json:"name" yaml:"name"`
	RatedPowerKW float64 `json:"ratedPowerKW" yaml:"ratedPowerKW"`
}

// Station is the weather station of a location.
type Station struct {
	ID         string `json:"id" yaml:"id"`
	LocationID string `json:"locationID" yaml:"location"`
	Name       string `json:"name" yaml:"name"`
}
