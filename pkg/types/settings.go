package types

import (
	"fmt"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

// Settings represents the per-client configuration stored in the database.
type Settings struct {
	// Data resolution of the client's loggers
	DataFrequencyNumber int    `json:"dataFrequencyNumber" yaml:"dataFrequencyNumber"`
	DataFrequencyUnit   string `json:"dataFrequencyUnit" yaml:"dataFrequencyUnit"`

	// Alert thresholds (in %). These are only read by the alerting service.
	AlertDataAvailabilityLowerThan      float64 `json:"alertDataAvailabilityLowerThan" yaml:"alertDataAvailabilityLowerThan"`
	AlertPerformanceRatioLowerThan      float64 `json:"alertPerformanceRatioLowerThan" yaml:"alertPerformanceRatioLowerThan"`
	AlertTimeBasedAvailabilityLowerThan float64 `json:"alertTimeBasedAvailabilityLowerThan" yaml:"alertTimeBasedAvailabilityLowerThan"`

	// Fail location reports instead of falling back to a 1 kW capacity when
	// the location has no declared capacity.
	StrictCapacity bool `json:"strictCapacity" yaml:"strictCapacity"`
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: 15 minute loggers
			if s.DataFrequencyNumber == 0 {
				s.DataFrequencyNumber = 15
				migrated = true
			}
			if s.DataFrequencyUnit == "" {
				s.DataFrequencyUnit = "m"
				migrated = true
			}
		case 2:
			// version 2: alert thresholds
			if s.AlertDataAvailabilityLowerThan == 0 {
				s.AlertDataAvailabilityLowerThan = 90
				migrated = true
			}
			if s.AlertPerformanceRatioLowerThan == 0 {
				s.AlertPerformanceRatioLowerThan = 94
				migrated = true
			}
			if s.AlertTimeBasedAvailabilityLowerThan == 0 {
				s.AlertTimeBasedAvailabilityLowerThan = 90
				migrated = true
			}
		case 3:
			// version 3: strict capacity, defaults to off so existing reports
			// keep working
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
