package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/renovus-tech/solarec/pkg/log"
	"github.com/renovus-tech/solarec/pkg/period"
	"github.com/renovus-tech/solarec/pkg/types"
)

// getSettingsWithMigration returns the client's settings brought up to
// CurrentSettingsVersion. Migrated settings are saved back best effort and
// used for the request even if saving fails.
func (s *Server) getSettingsWithMigration(ctx context.Context, clientID string) (types.Settings, error) {
	settings, version, err := s.storage.GetSettings(ctx, clientID)
	if err != nil {
		return types.Settings{}, err
	}
	if version >= types.CurrentSettingsVersion {
		return settings, nil
	}

	lg := log.Ctx(ctx).With(slog.Int("fromVersion", version), slog.Int("toVersion", types.CurrentSettingsVersion))
	migrated, changed, err := types.MigrateSettings(settings, version)
	if err != nil {
		lg.ErrorContext(ctx, "failed to migrate settings", slog.Any("error", err))
		return settings, nil
	}
	if !changed {
		return settings, nil
	}

	if err := s.storage.SetSettings(ctx, clientID, migrated, types.CurrentSettingsVersion); err != nil {
		lg.ErrorContext(ctx, "failed to save migrated settings", slog.Any("error", err))
		return migrated, nil
	}
	lg.InfoContext(ctx, "migrated settings")
	return migrated, nil
}

// SettingsRes is the response type for GetSettings
type SettingsRes struct {
	types.Settings
	DataFrequency string `json:"dataFrequency"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := s.getClientID(r)
	settings, err := s.getSettingsWithMigration(ctx, clientID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	resp := SettingsRes{Settings: settings}
	if f, err := period.FromNumberUnit(settings.DataFrequencyNumber, settings.DataFrequencyUnit); err == nil {
		resp.DataFrequency = f.String()
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, resp)
}

func validPercent(v float64) bool {
	return v >= 0 && v <= 100
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := s.getClientID(r)

	var newSettings types.Settings
	if err := json.NewDecoder(r.Body).Decode(&newSettings); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := period.FromNumberUnit(newSettings.DataFrequencyNumber, newSettings.DataFrequencyUnit); err != nil {
		writeJSONError(w, "invalid data frequency: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !validPercent(newSettings.AlertDataAvailabilityLowerThan) ||
		!validPercent(newSettings.AlertPerformanceRatioLowerThan) ||
		!validPercent(newSettings.AlertTimeBasedAvailabilityLowerThan) {
		writeJSONError(w, "alert thresholds must be between 0 and 100", http.StatusBadRequest)
		return
	}

	if err := s.storage.SetSettings(ctx, clientID, newSettings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "settings updated")
	w.WriteHeader(http.StatusOK)
}
