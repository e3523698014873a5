package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/renovus-tech/solarec/pkg/log"
	"github.com/renovus-tech/solarec/pkg/metrics"
	"github.com/renovus-tech/solarec/pkg/performance"
	"github.com/renovus-tech/solarec/pkg/period"
	"github.com/renovus-tech/solarec/pkg/report"
	"github.com/renovus-tech/solarec/pkg/types"
)

const dateLayout = "2006-01-02"

// parseTime accepts RFC3339 timestamps and plain dates. Dates are reported so
// that the caller can make an end date inclusive.
func parseTime(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", v)
	}
	return t, true, nil
}

func parseTimeRange(r *http.Request, maxWindow time.Duration) (time.Time, time.Time, error) {
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, errors.New("from and to are required")
	}

	start, _, err := parseTime(fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from time: %w", err)
	}
	end, dateOnly, err := parseTime(toStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to time: %w", err)
	}
	// a plain end date covers the whole day
	if dateOnly {
		end = end.AddDate(0, 0, 1)
	}

	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	if maxWindow > 0 && end.Sub(start) > maxWindow {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed %s", maxWindow)
	}
	return start, end, nil
}

// parseSampling uses frqNumber and frqUnit when given and falls back to the
// data frequency of the client.
func parseSampling(r *http.Request, settings types.Settings) (period.Frequency, error) {
	q := r.URL.Query()
	numStr, unit := q.Get("frqNumber"), q.Get("frqUnit")
	if numStr == "" && unit == "" {
		return period.FromNumberUnit(settings.DataFrequencyNumber, settings.DataFrequencyUnit)
	}
	n := 1
	if numStr != "" {
		var err error
		n, err = strconv.Atoi(numStr)
		if err != nil {
			return period.None, fmt.Errorf("invalid frqNumber %q", numStr)
		}
	}
	if unit == "" {
		unit = settings.DataFrequencyUnit
	}
	return period.FromNumberUnit(n, unit)
}

func parseGeneratorIDs(v string) []string {
	var ids []string
	for _, id := range strings.Split(v, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// parseReportRequest builds the pipeline request from the query string. An
// empty groupBy aggregates by defaultGroupBy.
func (s *Server) parseReportRequest(r *http.Request, settings types.Settings, defaultGroupBy string) (performance.Request, error) {
	q := r.URL.Query()
	req := performance.Request{
		ClientID:       s.getClientID(r),
		LocationID:     q.Get("location"),
		GeneratorIDs:   parseGeneratorIDs(q.Get("generators")),
		StrictCapacity: settings.StrictCapacity,
	}
	if req.LocationID == "" {
		return req, errors.New("location is required")
	}

	var err error
	req.Start, req.End, err = parseTimeRange(r, s.maxReportWindow)
	if err != nil {
		return req, err
	}

	groupBy := q.Get("groupBy")
	if groupBy == "" {
		groupBy = defaultGroupBy
	}
	req.Aggregation, err = period.FromGroupBy(groupBy)
	if err != nil {
		return req, err
	}
	req.Sampling, err = parseSampling(r, settings)
	if err != nil {
		return req, err
	}
	return req, nil
}

// runReport parses the request and runs the pipeline. It writes the error
// response itself and returns false when the handler should stop.
func (s *Server) runReport(w http.ResponseWriter, r *http.Request, defaultGroupBy string) (performance.Request, performance.Result, bool) {
	ctx := r.Context()
	clientID := s.getClientID(r)

	settings, err := s.getSettingsWithMigration(ctx, clientID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return performance.Request{}, performance.Result{}, false
	}

	req, err := s.parseReportRequest(r, settings, defaultGroupBy)
	if err != nil {
		writeJSONError(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return req, performance.Result{}, false
	}

	res, err := s.service.Run(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, performance.ErrConfiguration):
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, performance.ErrReferenceData):
			log.Ctx(ctx).WarnContext(ctx, "missing reference data", slog.String("locationID", req.LocationID), slog.Any("error", err))
			writeJSONError(w, err.Error(), http.StatusNotFound)
		default:
			log.Ctx(ctx).ErrorContext(ctx, "failed to compute performance", slog.String("locationID", req.LocationID), slog.Any("error", err))
			writeJSONError(w, "failed to compute performance", http.StatusInternalServerError)
		}
		return req, performance.Result{}, false
	}
	return req, res, true
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	req, res, ok := s.runReport(w, r, "day")
	if !ok {
		return
	}
	s.setCacheControl(w, req.End)
	writeJSON(w, res)
}

// OverviewRes summarizes a location over the whole window.
type OverviewRes struct {
	NoData       bool                        `json:"noData"`
	Location     types.Location              `json:"location"`
	Generators   []types.Generator           `json:"generators"`
	Summary      *types.LocationPeriodRecord `json:"summary"`
	PerGenerator []types.PeriodRecord        `json:"perGenerator"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	req, res, ok := s.runReport(w, r, "none")
	if !ok {
		return
	}
	resp := OverviewRes{
		NoData:       res.NoData,
		Location:     res.Location,
		Generators:   res.Generators,
		PerGenerator: res.Periods,
	}
	if len(res.Locations) > 0 {
		resp.Summary = &res.Locations[0]
	}
	s.setCacheControl(w, req.End)
	writeJSON(w, resp)
}

// AvailabilityRes is the response type for the data availability report.
type AvailabilityRes struct {
	NoData       bool                       `json:"noData"`
	Availability []types.AvailabilityRecord `json:"availability"`
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	req, res, ok := s.runReport(w, r, "day")
	if !ok {
		return
	}
	s.setCacheControl(w, req.End)
	writeJSON(w, AvailabilityRes{NoData: res.NoData, Availability: res.Availability})
}

// PowerCurveRes is the response type for the power curve report.
type PowerCurveRes struct {
	NoData     bool                        `json:"noData"`
	From       time.Time                   `json:"from"`
	To         time.Time                   `json:"to"`
	Generators []types.GeneratorPowerCurve `json:"generators"`
}

func (s *Server) handlePowerCurve(w http.ResponseWriter, r *http.Request) {
	req, res, ok := s.runReport(w, r, "none")
	if !ok {
		return
	}
	resp := PowerCurveRes{
		NoData:     res.NoData,
		From:       req.Start,
		To:         req.LastInstant(),
		Generators: performance.PowerCurve(res.Dense, res.Generators, req.Sampling, req.LastInstant()),
	}
	s.setCacheControl(w, req.End)
	writeJSON(w, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	req, res, ok := s.runReport(w, r, "day")
	if !ok {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(start))
		return
	}

	b, err := report.BuildXLSX(report.Header{
		ClientID:    req.ClientID,
		Location:    res.Location,
		From:        req.Start,
		To:          req.End,
		Sampling:    req.Sampling.String(),
		Aggregation: req.Aggregation.String(),
		Generated:   s.now().UTC(),
	}, res)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build export", slog.Any("error", err))
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(start))
		writeJSONError(w, "failed to build export", http.StatusInternalServerError)
		return
	}

	result := metrics.ResultSuccess
	if res.NoData {
		result = metrics.ResultNoData
	}
	metrics.ObserveExport("xlsx", result, time.Since(start))

	filename := fmt.Sprintf("performance-%s-%s-%s.xlsx", req.LocationID, req.Start.Format(dateLayout), req.End.Format(dateLayout))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	s.setCacheControl(w, req.End)
	if _, err := w.Write(b); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := s.getClientID(r)
	locations, err := s.storage.ListLocations(ctx, clientID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list locations", slog.Any("error", err))
		writeJSONError(w, "failed to list locations", http.StatusInternalServerError)
		return
	}
	if locations == nil {
		locations = []types.Location{}
	}
	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, locations)
}
