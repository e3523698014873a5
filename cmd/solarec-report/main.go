package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/renovus-tech/solarec/pkg/log"
	"github.com/renovus-tech/solarec/pkg/performance"
	"github.com/renovus-tech/solarec/pkg/period"
	"github.com/renovus-tech/solarec/pkg/report"
	"github.com/renovus-tech/solarec/pkg/storage"
	"github.com/renovus-tech/solarec/pkg/types"
)

func main() {
	snapshot := lflag.RequiredString("snapshot", "Path to the YAML snapshot to report on")
	clientID := lflag.RequiredString("client", "Client of the location")
	locationID := lflag.RequiredString("location", "Location to report on")
	generators := lflag.String("generators", "", "Comma-delimited generators to restrict the report to")
	from := lflag.RequiredString("from", "First day of the report (YYYY-MM-DD)")
	to := lflag.RequiredString("to", "Last day of the report, inclusive (YYYY-MM-DD)")
	groupBy := lflag.String("group-by", "day", "Aggregation (none, 15min, hour, day, week, month, year)")
	sampling := lflag.String("sampling", "", "Sampling frequency code (e.g. 15m). Defaults to the client's data frequency")
	out := lflag.String("out", "report.xlsx", "Output file")
	e := performance.Configured()
	lflag.Configure()
	log.Configure()

	ctx := context.Background()
	if err := run(ctx, e, reportArgs{
		snapshot:   *snapshot,
		clientID:   *clientID,
		locationID: *locationID,
		generators: *generators,
		from:       *from,
		to:         *to,
		groupBy:    *groupBy,
		sampling:   *sampling,
		out:        *out,
	}); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build report", slog.Any("error", err))
		os.Exit(1)
	}
}

type reportArgs struct {
	snapshot   string
	clientID   string
	locationID string
	generators string
	from       string
	to         string
	groupBy    string
	sampling   string
	out        string
}

func run(ctx context.Context, e *performance.Engine, args reportArgs) error {
	db, err := storage.NewFileProvider(ctx, args.snapshot, true)
	if err != nil {
		return err
	}
	defer db.Close()

	req := performance.Request{
		ClientID:   args.clientID,
		LocationID: args.locationID,
	}
	for _, id := range strings.Split(args.generators, ",") {
		if id = strings.TrimSpace(id); id != "" {
			req.GeneratorIDs = append(req.GeneratorIDs, id)
		}
	}

	if req.Start, err = time.Parse("2006-01-02", args.from); err != nil {
		return fmt.Errorf("invalid from: %w", err)
	}
	if req.End, err = time.Parse("2006-01-02", args.to); err != nil {
		return fmt.Errorf("invalid to: %w", err)
	}
	req.End = req.End.AddDate(0, 0, 1)

	if req.Aggregation, err = period.FromGroupBy(args.groupBy); err != nil {
		return err
	}

	settings, version, err := db.GetSettings(ctx, args.clientID)
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}
	if settings, _, err = types.MigrateSettings(settings, version); err != nil {
		return fmt.Errorf("failed to migrate settings: %w", err)
	}
	req.StrictCapacity = settings.StrictCapacity
	if args.sampling != "" {
		req.Sampling, err = period.Parse(args.sampling)
	} else {
		req.Sampling, err = period.FromNumberUnit(settings.DataFrequencyNumber, settings.DataFrequencyUnit)
	}
	if err != nil {
		return fmt.Errorf("invalid sampling: %w", err)
	}

	res, err := performance.NewService(db, e).Run(ctx, req)
	if err != nil {
		return err
	}
	if res.NoData {
		log.Ctx(ctx).WarnContext(ctx, "no data for the selected window", slog.String("locationID", req.LocationID))
	}

	f, err := os.Create(args.out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", args.out, err)
	}
	defer f.Close()

	err = report.WriteXLSX(f, report.Header{
		ClientID:    req.ClientID,
		Location:    res.Location,
		From:        req.Start,
		To:          req.End,
		Sampling:    req.Sampling.String(),
		Aggregation: req.Aggregation.String(),
		Generated:   time.Now().UTC(),
	}, res)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", args.out, err)
	}

	log.Ctx(ctx).InfoContext(ctx, "wrote report",
		slog.String("out", args.out),
		slog.Int("periods", len(res.Periods)),
		slog.Int("locationPeriods", len(res.Locations)),
	)
	return nil
}
