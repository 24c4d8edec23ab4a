// Package pipeline sequences the stages over a single scoped store
// connection and records each stage in the run ledger.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lox/taxiemissions/internal/config"
	"github.com/lox/taxiemissions/internal/logging"
	"github.com/lox/taxiemissions/internal/metrics"
	"github.com/lox/taxiemissions/internal/models"
	"github.com/lox/taxiemissions/internal/report"
	"github.com/lox/taxiemissions/internal/store"
	"github.com/lox/taxiemissions/internal/warehouse"
)

const (
	StageDownload = "download"
	StageIngest   = "ingest"
	StageClean    = "clean"
	StageDerive   = "derive"
	StageReport   = "report"

	// CommandRun is the ledger name for ingest through report in one go.
	CommandRun = "run"
)

type storeMode int

const (
	noStore storeMode = iota
	readWrite
	readOnly
)

// Options configures a Runner.
type Options struct {
	Config *config.Config
	// Ledger is optional; without it stages are only logged.
	Ledger *store.Store
	Logger *slog.Logger
	// Out receives the operator-facing summaries. Defaults to stdout.
	Out    io.Writer
	Fleets []models.Fleet
	// Narrator adds a prose summary to each fleet report when set.
	Narrator   *report.Narrator
	HTTPClient *http.Client
}

// Runner executes pipeline commands. Each command opens the store once,
// passes it to every stage, and closes it on every exit path.
type Runner struct {
	cfg      *config.Config
	ledger   *store.Store
	logger   *slog.Logger
	out      io.Writer
	fleets   []models.Fleet
	narrator *report.Narrator
	client   *http.Client
}

func NewRunner(opts Options) *Runner {
	r := &Runner{
		cfg:      opts.Config,
		ledger:   opts.Ledger,
		logger:   opts.Logger,
		out:      opts.Out,
		fleets:   opts.Fleets,
		narrator: opts.Narrator,
		client:   opts.HTTPClient,
	}
	if r.cfg == nil {
		cfg := config.Default()
		r.cfg = &cfg
	}
	if r.logger == nil {
		r.logger = logging.NewNop()
	}
	if r.out == nil {
		r.out = os.Stdout
	}
	if len(r.fleets) == 0 {
		r.fleets = models.Fleets
	}
	return r
}

// session is the scope of one command.
type session struct {
	command string
	db      *warehouse.DB
	run     *store.PipelineRun
	// failed holds fleets whose earlier stage failed in this session.
	failed map[models.Fleet]bool
}

func (s *session) runID() string {
	if s.run == nil {
		return ""
	}
	return s.run.ID
}

type stageFunc func(ctx context.Context, s *session) error

func (r *Runner) Download(ctx context.Context) error {
	return r.execute(ctx, StageDownload, noStore, r.download)
}

func (r *Runner) Ingest(ctx context.Context) error {
	return r.execute(ctx, StageIngest, readWrite, r.ingest)
}

func (r *Runner) Clean(ctx context.Context) error {
	return r.execute(ctx, StageClean, readWrite, r.clean)
}

func (r *Runner) Derive(ctx context.Context) error {
	return r.execute(ctx, StageDerive, readWrite, r.derive)
}

// Report opens the store read-only, so it never takes the writer lock.
func (r *Runner) Report(ctx context.Context) error {
	return r.execute(ctx, StageReport, readOnly, r.report)
}

// RunAll runs ingest, clean, derive and report in order on one connection.
// A fleet that fails a stage is skipped by the stages after it; the other
// fleet carries on.
func (r *Runner) RunAll(ctx context.Context) error {
	return r.execute(ctx, CommandRun, readWrite, func(ctx context.Context, s *session) error {
		var errs []error
		for _, step := range []stageFunc{r.ingest, r.clean, r.derive, r.report} {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}
			errs = append(errs, step(ctx, s))
		}
		return errors.Join(errs...)
	})
}

func (r *Runner) execute(ctx context.Context, command string, mode storeMode, fn stageFunc) (err error) {
	log := logging.WithComponent(r.logger, "pipeline").With(slog.String("command", command))
	s := &session{command: command, failed: make(map[models.Fleet]bool)}

	if mode == readWrite {
		lock, err := AcquireLock(r.cfg.LockPath())
		if err != nil {
			log.Error("acquire writer lock", "error", err)
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.Warn("release lock", "path", lock.Path(), "error", err)
			}
		}()
	}

	if mode != noStore {
		s.db, err = r.openStore(mode)
		if err != nil {
			log.Error("open store", "error", err)
			return err
		}
		defer func() {
			if cerr := s.db.Close(); cerr != nil {
				log.Warn("close store", "path", s.db.Path(), "error", cerr)
			}
		}()
	}

	if r.ledger != nil {
		run, lerr := r.ledger.StartPipelineRun(command, r.cfg.Year)
		if lerr != nil {
			log.Warn("ledger unavailable, run not recorded", "error", lerr)
		} else {
			s.run = run
			log = log.With(slog.String(logging.FieldRunID, run.ID))
		}
	}

	start := time.Now()
	log.Info("command started", "year", r.cfg.Year)
	err = fn(ctx, s)

	if s.run != nil {
		if lerr := r.ledger.CompletePipelineRun(s.run, err); lerr != nil {
			log.Warn("record pipeline run", "error", lerr)
		}
	}
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		log.Error("command failed", "duration", elapsed, "error", err)
		return err
	}
	log.Info("command finished", "duration", elapsed)
	return nil
}

func (r *Runner) openStore(mode storeMode) (*warehouse.DB, error) {
	path := r.cfg.Database
	if mode == readOnly {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(r.out, "Store '%s' not found. Did you run ingest?\n", path)
			return nil, &StageError{Stage: StageReport, Table: path, Kind: ErrMissingInput, Err: err}
		}
	}
	db, err := warehouse.Open(path, mode == readOnly)
	if err != nil {
		return nil, &StageError{Stage: "open", Table: path, Kind: ErrStore, Err: err}
	}
	return db, nil
}

// stageBody does the work of one stage for one fleet and reports row counts.
type stageBody func(ctx context.Context, log *slog.Logger) (rowsIn, rowsOut int64, err error)

// runStage wraps body with logging, metrics and a ledger record, and turns a
// failure into a *StageError. fleet is zero for stages not tied to a fleet.
func (r *Runner) runStage(ctx context.Context, s *session, stage string, fleet models.Fleet, table string, body stageBody) error {
	fleetName := ""
	if fleet != 0 {
		fleetName = fleet.String()
	}
	log := logging.WithComponent(r.logger, stage).With(
		slog.String(logging.FieldFleet, fleetName),
		slog.String(logging.FieldTable, table),
	)
	if s.run != nil {
		log = log.With(slog.String(logging.FieldRunID, s.run.ID))
	}

	var rec *store.StageRun
	if s.run != nil {
		var err error
		if rec, err = r.ledger.StartStageRun(s.run.ID, stage, fleetName, table); err != nil {
			log.Warn("record stage start", "error", err)
		}
	}

	start := time.Now()
	log.Debug("stage started")
	rowsIn, rowsOut, err := body(ctx, log)
	elapsed := time.Since(start)
	metrics.ObserveStage(stage, fleetName, elapsed.Seconds(), rowsIn, rowsOut, err)

	var stageErr *StageError
	if err != nil {
		stageErr = newStageError(stage, fleetName, table, err)
	}

	if rec != nil {
		rec.RowsIn = sql.NullInt64{Int64: rowsIn, Valid: err == nil || rowsIn > 0}
		rec.RowsOut = sql.NullInt64{Int64: rowsOut, Valid: err == nil || rowsOut > 0}
		rec.Success = err == nil
		if stageErr != nil {
			rec.ErrorKind = sql.NullString{String: stageErr.Kind.Error(), Valid: true}
			rec.ErrorMessage = sql.NullString{String: stageErr.Err.Error(), Valid: true}
		}
		if lerr := r.ledger.CompleteStageRun(rec); lerr != nil {
			log.Warn("record stage result", "error", lerr)
		}
	}

	if stageErr != nil {
		if fleet != 0 {
			s.failed[fleet] = true
		}
		log.Error("stage failed", "kind", stageErr.Kind.Error(), "error", stageErr.Err,
			"duration", elapsed.Round(time.Millisecond))
		return stageErr
	}
	log.Info("stage finished", "rows_in", rowsIn, "rows_out", rowsOut,
		"duration", elapsed.Round(time.Millisecond))
	return nil
}

// skip reports whether fleet already failed earlier in the session.
func (r *Runner) skip(s *session, stage string, fleet models.Fleet) bool {
	if !s.failed[fleet] {
		return false
	}
	logging.WithComponent(r.logger, stage).Warn("skipping fleet after earlier failure",
		logging.FieldFleet, fleet.String())
	return true
}
