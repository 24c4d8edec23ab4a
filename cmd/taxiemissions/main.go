package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/taxiemissions/internal/config"
	"github.com/lox/taxiemissions/internal/logging"
	"github.com/lox/taxiemissions/internal/metrics"
	"github.com/lox/taxiemissions/internal/pipeline"
	"github.com/lox/taxiemissions/internal/report"
	"github.com/lox/taxiemissions/internal/store"
)

type Globals struct {
	EnvFile  kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`
	Config   string                   `help:"Path to the TOML config file." default:"taxiemissions.toml" env:"TAXI_CONFIG"`
	Year     int                      `help:"Target year for all stages." env:"TAXI_YEAR"`
	Database string                   `help:"DuckDB store file." env:"TAXI_DATABASE"`
	DataDir  string                   `help:"Directory holding the monthly trip files." env:"TAXI_DATA_DIR"`
	LogLevel string                   `help:"Log level (debug, info, warn, error)." env:"TAXI_LOG_LEVEL"`
}

type CLI struct {
	Globals

	Download DownloadCmd `cmd:"" help:"Fetch the year's monthly trip files for both fleets."`
	Ingest   IngestCmd   `cmd:"" help:"Load trip files and emission factors into the store."`
	Clean    CleanCmd    `cmd:"" help:"Rebuild the clean tables from the raw tables."`
	Derive   DeriveCmd   `cmd:"" help:"Rebuild the transformed tables with CO2 and calendar columns."`
	Report   ReportCmd   `cmd:"" help:"Print CO2 summaries and write charts and the workbook."`
	Run      RunCmd      `cmd:"" help:"Run ingest, clean, derive and report in order."`
	History  HistoryCmd  `cmd:"" help:"Show recent stage runs from the ledger."`
}

// app is shared by every command once configuration and logging are ready.
type app struct {
	ctx    context.Context
	cfg    *config.Config
	logger *slog.Logger
	ledger *store.Store
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("taxiemissions"),
		kong.Description("NYC taxi trip CO2 pipeline: ingest, clean, derive and report."),
		kong.UsageOnError(),
	)
	os.Exit(run(kctx, &cli.Globals))
}

func run(kctx *kong.Context, g *Globals) int {
	cfg, exists, err := config.LoadWithOverrides(g.Config, config.Overrides{
		Year:     g.Year,
		DataDir:  g.DataDir,
		Database: g.Database,
		LogLevel: g.LogLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 2
	}
	defer logger.Close()
	if !exists {
		logger.Debug("config file not found, using defaults", "path", g.Config)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &app{ctx: ctx, cfg: cfg, logger: logger.Logger}
	a.ledger, err = store.Open(cfg.Ledger, logger.Logger)
	if err != nil {
		logger.Warn("run ledger unavailable", "path", cfg.Ledger, "error", err)
	} else {
		defer a.ledger.Close()
	}

	err = kctx.Run(a)

	sink := metrics.Sink{
		Textfile:       cfg.Metrics.Textfile,
		PushgatewayURL: cfg.Metrics.PushgatewayURL,
		Job:            cfg.Metrics.Job,
	}
	if ferr := metrics.Flush(metrics.Registry, sink); ferr != nil {
		logger.Warn("flush metrics", "error", ferr)
	}

	if err != nil {
		return 1
	}
	return 0
}

func (a *app) runner() *pipeline.Runner {
	opts := pipeline.Options{
		Config: a.cfg,
		Ledger: a.ledger,
		Logger: a.logger,
		Out:    os.Stdout,
	}
	if a.cfg.Narrative.Enabled {
		n, err := report.NewNarrator(a.cfg.Narrative.APIKey, a.cfg.Narrative.Model)
		if err != nil {
			a.logger.Warn("narrative disabled", "error", err)
		} else {
			opts.Narrator = n
		}
	}
	return pipeline.NewRunner(opts)
}

type DownloadCmd struct{}

func (c *DownloadCmd) Run(a *app) error { return a.runner().Download(a.ctx) }

type IngestCmd struct{}

func (c *IngestCmd) Run(a *app) error { return a.runner().Ingest(a.ctx) }

type CleanCmd struct{}

func (c *CleanCmd) Run(a *app) error { return a.runner().Clean(a.ctx) }

type DeriveCmd struct{}

func (c *DeriveCmd) Run(a *app) error { return a.runner().Derive(a.ctx) }

type ReportCmd struct{}

func (c *ReportCmd) Run(a *app) error { return a.runner().Report(a.ctx) }

type RunCmd struct{}

func (c *RunCmd) Run(a *app) error { return a.runner().RunAll(a.ctx) }
