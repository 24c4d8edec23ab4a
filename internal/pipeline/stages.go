package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lox/taxiemissions/internal/chart"
	"github.com/lox/taxiemissions/internal/ingest"
	"github.com/lox/taxiemissions/internal/models"
	"github.com/lox/taxiemissions/internal/report"
	"github.com/lox/taxiemissions/internal/transform"
	"github.com/lox/taxiemissions/internal/warehouse"
)

func (r *Runner) download(ctx context.Context, s *session) error {
	d, err := ingest.NewDownloader(ingest.DownloadOptions{
		BaseURL:     r.cfg.Download.BaseURL,
		DataDir:     r.cfg.DataDir,
		Timeout:     time.Duration(r.cfg.Download.TimeoutSeconds) * time.Second,
		MaxRetries:  r.cfg.Download.MaxRetries,
		Concurrency: r.cfg.Download.Concurrency,
		Client:      r.client,
		Logger:      r.logger,
	})
	if err != nil {
		return &StageError{Stage: StageDownload, Kind: ErrConfiguration, Err: err}
	}

	var errs []error
	for _, fleet := range r.fleets {
		errs = append(errs, r.runStage(ctx, s, StageDownload, fleet, "", func(ctx context.Context, log *slog.Logger) (int64, int64, error) {
			results, err := d.DownloadYear(ctx, []models.Fleet{fleet}, r.cfg.Year)
			var fetched int64
			for _, res := range results {
				if !res.Skipped {
					fetched++
				}
			}
			fmt.Fprintf(r.out, "%s: %d of %d files fetched, %d already present\n",
				fleet.Label(), fetched, len(results), int64(len(results))-fetched)
			return int64(len(results)), fetched, err
		}))
	}
	return errors.Join(errs...)
}

func (r *Runner) ingest(ctx context.Context, s *session) error {
	loader := ingest.NewLoader(s.db, r.cfg.DataDir, r.logger)

	errs := []error{
		r.runStage(ctx, s, StageIngest, 0, warehouse.EmissionsTable.Name(), func(ctx context.Context, log *slog.Logger) (int64, int64, error) {
			factors, err := loader.LoadEmissionFactors(ctx, r.cfg.EmissionFactorsPath())
			return 0, int64(len(factors)), err
		}),
	}

	for _, fleet := range r.fleets {
		if r.skip(s, StageIngest, fleet) {
			continue
		}
		table := fleet.RawTable(r.cfg.Year)
		errs = append(errs, r.runStage(ctx, s, StageIngest, fleet, table, func(ctx context.Context, log *slog.Logger) (int64, int64, error) {
			res, err := loader.LoadFleet(ctx, fleet, r.cfg.Year)
			if err != nil {
				return 0, 0, err
			}
			r.recordSourceFiles(s, fleet, res.Files, log)
			if err := printLoad(r.out, res); err != nil {
				log.Warn("print load summary", "error", err)
			}
			return int64(len(res.Files)), res.Rows, nil
		}))
	}
	return errors.Join(errs...)
}

// recordSourceFiles stores each file's fingerprint and notes files whose
// content changed since they were last ingested.
func (r *Runner) recordSourceFiles(s *session, fleet models.Fleet, files []models.SourceFile, log *slog.Logger) {
	if s.run == nil {
		return
	}
	for _, f := range files {
		prev, err := r.ledger.LastChecksum(f.Path)
		if err != nil {
			log.Warn("read previous checksum", "path", f.Path, "error", err)
		} else if prev != "" && prev != f.Checksum {
			log.Info("source file changed since last ingest", "path", f.Path,
				"previous", prev, "checksum", f.Checksum)
		}
		if err := r.ledger.RecordSourceFile(s.run.ID, fleet.String(), f); err != nil {
			log.Warn("record source file", "path", f.Path, "error", err)
		}
	}
}

func (r *Runner) clean(ctx context.Context, s *session) error {
	t := transform.New(s.db, r.logger)
	rules := transform.CleanRules{
		Year:               r.cfg.Year,
		MaxDistanceMiles:   r.cfg.Cleaning.MaxDistanceMiles,
		MaxDurationSeconds: r.cfg.Cleaning.MaxDurationSeconds,
	}

	var errs []error
	for _, fleet := range r.fleets {
		if r.skip(s, StageClean, fleet) {
			continue
		}
		errs = append(errs, r.runStage(ctx, s, StageClean, fleet, fleet.CleanTable(), func(ctx context.Context, log *slog.Logger) (int64, int64, error) {
			res, err := t.Clean(ctx, fleet, rules)
			if res == nil {
				return 0, 0, err
			}
			fmt.Fprintf(r.out, "%s: raw %s -> clean %s (%s removed)\n", res.CleanTable,
				report.FormatCount(res.RawRows), report.FormatCount(res.CleanRows),
				report.FormatCount(res.RawRows-res.CleanRows))
			return res.RawRows, res.CleanRows, err
		}))
	}
	return errors.Join(errs...)
}

func (r *Runner) derive(ctx context.Context, s *session) error {
	t := transform.New(s.db, r.logger)

	var errs []error
	for _, fleet := range r.fleets {
		if r.skip(s, StageDerive, fleet) {
			continue
		}
		errs = append(errs, r.runStage(ctx, s, StageDerive, fleet, fleet.TransformedTable(), func(ctx context.Context, log *slog.Logger) (int64, int64, error) {
			res, err := t.Derive(ctx, fleet)
			if res == nil {
				return 0, 0, err
			}
			fmt.Fprintf(r.out, "%s: %s rows at %g g CO2/mile\n", res.TransformedTable,
				report.FormatCount(res.TransformedRows), res.Factor)
			return res.CleanRows, res.TransformedRows, err
		}))
	}
	return errors.Join(errs...)
}

func (r *Runner) report(ctx context.Context, s *session) error {
	reporter := report.NewReporter(s.db)

	var (
		errs    []error
		reports []*report.FleetReport
	)
	for _, fleet := range r.fleets {
		if r.skip(s, StageReport, fleet) {
			continue
		}
		table := fleet.TransformedTable()
		errs = append(errs, r.runStage(ctx, s, StageReport, fleet, table, func(ctx context.Context, log *slog.Logger) (int64, int64, error) {
			rep, err := reporter.Build(ctx, fleet)
			if errors.Is(err, warehouse.ErrTableNotFound) {
				fmt.Fprintf(r.out, "Table '%s' not found. Did you run derive?\n", table)
				return 0, 0, err
			}
			if err != nil {
				return 0, 0, err
			}
			reports = append(reports, rep)

			if err := report.RenderText(r.out, rep); err != nil {
				return rep.Rows, 0, err
			}
			chartPath := filepath.Join(r.cfg.OutputDir, fleet.ChartFile())
			if err := chart.WriteMonthlyTotals(chartPath, chart.Title(fleet, r.cfg.Year), rep.Monthly); err != nil {
				return rep.Rows, 0, err
			}
			fmt.Fprintf(r.out, "Chart written to %s\n", chartPath)
			r.narrate(ctx, rep, log)
			return rep.Rows, int64(len(rep.Monthly)), nil
		}))
	}

	if len(reports) > 0 {
		path := filepath.Join(r.cfg.OutputDir, report.WorkbookFile)
		errs = append(errs, r.runStage(ctx, s, StageReport, 0, "", func(ctx context.Context, log *slog.Logger) (int64, int64, error) {
			if err := report.WriteWorkbook(path, reports); err != nil {
				return 0, 0, err
			}
			fmt.Fprintf(r.out, "Workbook written to %s\n", path)
			return 0, int64(len(reports)), nil
		}))
	}
	return errors.Join(errs...)
}

// narrate prints the model's summary. The narrative is optional, so a failure
// is logged and the report still succeeds.
func (r *Runner) narrate(ctx context.Context, rep *report.FleetReport, log *slog.Logger) {
	if r.narrator == nil {
		return
	}
	text, err := r.narrator.Summarise(ctx, rep)
	if err != nil {
		log.Warn("narrative unavailable", "error", err)
		return
	}
	fmt.Fprintf(r.out, "\n%s\n\n", text)
}
