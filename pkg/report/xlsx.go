// Package report renders performance results as spreadsheets.
package report

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/renovus-tech/solarec/pkg/performance"
	"github.com/renovus-tech/solarec/pkg/types"
)

const (
	SheetSummary      = "summary"
	SheetLocation     = "location"
	SheetGenerators   = "generators"
	SheetAvailability = "availability"

	timeLayout = "2006-01-02 15:04:05"
)

// Header describes the report being exported.
type Header struct {
	ClientID    string
	Location    types.Location
	From        time.Time
	To          time.Time
	Sampling    string
	Aggregation string
	Generated   time.Time
}

var (
	locationColumns = []string{
		"Period", "From", "To", "Power (MWh)", "AC Production (MWh)", "AC Production Prediction (MWh)",
		"Avg Ambient Temp (°C)", "Avg Module Temp (°C)", "Irradiation (kWh/m2)",
		"TBA (%)", "PR (%)", "Specific Yield", "Loc Specific Yield", "Loc PR (%)",
		"Capacity Factor", "Data Availability (%)", "Capacity Known",
	}
	generatorColumns = []string{
		"Generator", "Code", "Name", "Period", "From", "To", "Power (MWh)", "AC Production (MWh)",
		"AC Production Prediction (MWh)", "Avg Ambient Temp (°C)", "Avg Module Temp (°C)",
		"Irradiation (kWh/m2)", "Count", "Missing", "TBA (%)", "Specific Yield", "PR (%)",
		"Data Availability (%)",
	}
	availabilityColumns = []string{
		"From", "To", "Production (%)", "Irradiation (%)", "Temperature (%)",
	}
)

func nullable(n types.NullFloat) interface{} {
	if !n.Valid {
		return nil
	}
	return n.Float64
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func writeHeader(f *excelize.File, sheet string, columns []string) error {
	values := make([]interface{}, len(columns))
	for i, c := range columns {
		values[i] = c
	}
	if err := writeRow(f, sheet, 1, values); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// WriteXLSX writes res as a workbook to w.
func WriteXLSX(w io.Writer, h Header, res performance.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return err
	}
	for _, name := range []string{SheetLocation, SheetGenerators, SheetAvailability} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	if err := writeSummary(f, h, res); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := writeLocation(f, res.Locations); err != nil {
		return fmt.Errorf("failed to write location sheet: %w", err)
	}
	if err := writeGenerators(f, res.Generators, res.Periods); err != nil {
		return fmt.Errorf("failed to write generators sheet: %w", err)
	}
	if err := writeAvailability(f, res.Availability); err != nil {
		return fmt.Errorf("failed to write availability sheet: %w", err)
	}

	_, err := f.WriteTo(w)
	return err
}

// BuildXLSX renders res into a workbook.
func BuildXLSX(h Header, res performance.Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, h, res); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, h Header, res performance.Result) error {
	rows := [][]interface{}{
		{"Performance Report"},
		{},
		{"Client", h.ClientID},
		{"Location", h.Location.Name},
		{"Location ID", h.Location.ID},
		{"Capacity (kW)", h.Location.CapacityKW},
		{"From", formatTime(h.From)},
		{"To", formatTime(h.To)},
		{"Sampling", h.Sampling},
		{"Aggregation", h.Aggregation},
		{"Generators", len(res.Generators)},
		{"Generated", formatTime(h.Generated)},
	}
	if res.NoData {
		rows = append(rows, []interface{}{"No data for the selected window"})
	}
	for i, r := range rows {
		if err := writeRow(f, SheetSummary, i+1, r); err != nil {
			return err
		}
	}
	return nil
}

func writeLocation(f *excelize.File, records []types.LocationPeriodRecord) error {
	if err := writeHeader(f, SheetLocation, locationColumns); err != nil {
		return err
	}
	for i, r := range records {
		err := writeRow(f, SheetLocation, i+2, []interface{}{
			formatTime(r.PeriodStart), formatTime(r.From), formatTime(r.To),
			r.Power, r.ACProduction, r.ACProductionPrediction,
			nullable(r.AvgAmbientTemp), nullable(r.AvgModuleTemp), r.Irradiation,
			r.TimeBasedAvailability, r.PerformanceRatio, r.SpecificYield,
			r.LocSpecificYield, r.LocPerformanceRatio, r.CapacityFactor,
			r.DataAvailability, r.CapacityKnown,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func writeGenerators(f *excelize.File, generators []types.Generator, records []types.PeriodRecord) error {
	if err := writeHeader(f, SheetGenerators, generatorColumns); err != nil {
		return err
	}
	byID := make(map[string]types.Generator, len(generators))
	for _, g := range generators {
		byID[g.ID] = g
	}
	for i, r := range records {
		g := byID[r.GeneratorID]
		err := writeRow(f, SheetGenerators, i+2, []interface{}{
			r.GeneratorID, g.Code, g.Name,
			formatTime(r.PeriodStart), formatTime(r.From), formatTime(r.To),
			r.Power, r.ACProduction, r.ACProductionPrediction,
			nullable(r.AvgAmbientTemp), nullable(r.AvgModuleTemp), r.Irradiation,
			r.Count, r.IsMissing, r.TimeBasedAvailability, r.SpecificYield,
			r.PerformanceRatio, r.DataAvailability,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func writeAvailability(f *excelize.File, records []types.AvailabilityRecord) error {
	if err := writeHeader(f, SheetAvailability, availabilityColumns); err != nil {
		return err
	}
	for i, r := range records {
		err := writeRow(f, SheetAvailability, i+2, []interface{}{
			formatTime(r.From), formatTime(r.To), r.Production, r.Irradiation, r.Temperature,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
