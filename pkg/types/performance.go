package types

import "time"

// DenseRecord is one (generator, timestamp) row after reconciliation and merge.
// Field names are part of the reporting contract.
type DenseRecord struct {
	GeneratorID string    `json:"gen_id"`
	Timestamp   time.Time `json:"timestamp"`

	Power                  NullFloat `json:"power"`
	ACProduction           NullFloat `json:"ac_production"`
	ACProductionPrediction NullFloat `json:"ac_production_prediction"`
	AvgAmbientTemp         NullFloat `json:"avg_ambient_temp"`
	AvgModuleTemp          NullFloat `json:"avg_module_temp"`
	Irradiation            NullFloat `json:"irradiation"`

	From time.Time `json:"from"`
	// Outage flag: sun up and zero output. The period level field of the same
	// name reports the non-outage fraction.
	TimeBasedAvailability bool `json:"time_based_availability"`
	Count                 int  `json:"count"`
	IsMissing             bool `json:"is_missing"`
}

// PeriodRecord aggregates the dense records of one generator over one period.
type PeriodRecord struct {
	GeneratorID string    `json:"gen_id"`
	PeriodStart time.Time `json:"period_start"`

	Power                  float64   `json:"power"`
	ACProduction           float64   `json:"ac_production"`
	ACProductionPrediction float64   `json:"ac_production_prediction"`
	AvgAmbientTemp         NullFloat `json:"avg_ambient_temp"`
	AvgModuleTemp          NullFloat `json:"avg_module_temp"`
	Irradiation            float64   `json:"irradiation"`

	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	Count                 int     `json:"count"`
	IsMissing             int     `json:"is_missing"`
	TimeBasedAvailability float64 `json:"time_based_availability"`
	SpecificYield         float64 `json:"specific_yield"`
	PerformanceRatio      float64 `json:"performance_ratio"`
	// Percentage of slots in the period with a power value.
	DataAvailability float64 `json:"data_availability"`
}

// LocationPeriodRecord aggregates all generators of a location over one period.
type LocationPeriodRecord struct {
	PeriodStart time.Time `json:"period_start"`

	Power                  float64   `json:"power"`
	ACProduction           float64   `json:"ac_production"`
	ACProductionPrediction float64   `json:"ac_production_prediction"`
	AvgAmbientTemp         NullFloat `json:"avg_ambient_temp"`
	AvgModuleTemp          NullFloat `json:"avg_module_temp"`
	Irradiation            float64   `json:"irradiation"`

	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	TimeBasedAvailability float64 `json:"time_based_availability"`
	PerformanceRatio      float64 `json:"performance_ratio"`
	SpecificYield         float64 `json:"specific_yield"`

	LocSpecificYield    float64 `json:"loc_specific_yield"`
	LocPerformanceRatio float64 `json:"loc_performance_ratio"`
	CapacityFactor      float64 `json:"capacity_factor"`
	DataAvailability    float64 `json:"data_availability"`
	// False when the location never declared its capacity and the placeholder
	// capacity of 1 kW was used.
	CapacityKnown bool `json:"capacity_known"`
}

// AvailabilityRecord reports per period how much of the expected data arrived.
// Percentages are in [0, 100].
type AvailabilityRecord struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	Production  float64 `json:"production"`
	Irradiation float64 `json:"irradiation"`
	Temperature float64 `json:"temperature"`
}

// PowerCurvePoint is one slot of a generator's power curve. Values are the
// hourly rates of the normalized metrics.
type PowerCurvePoint struct {
	Timestamp    time.Time `json:"timestamp"`
	ACProduction float64   `json:"ac_production"`
	Irradiation  float64   `json:"irradiation"`
}

// PowerCurveBin is the median production of the points whose irradiation
// falls in (Irradiation, Irradiation+0.1].
type PowerCurveBin struct {
	Irradiation  float64 `json:"irradiation"`
	ACProduction float64 `json:"ac_production"`
}

// GeneratorPowerCurve relates production to irradiation for one generator.
type GeneratorPowerCurve struct {
	GeneratorID string `json:"gen_id"`
	Code        string `json:"code"`
	Name        string `json:"name"`

	Points  []PowerCurvePoint `json:"points"`
	Medians []PowerCurveBin   `json:"medians"`
}
