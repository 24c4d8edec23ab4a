// Package transform builds the clean and transformed trip tables. Every
// output table is dropped and rebuilt on each run, so re-running a stage on
// unchanged inputs reproduces the same contents.
package transform

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lox/taxiemissions/internal/logging"
	"github.com/lox/taxiemissions/internal/models"
	"github.com/lox/taxiemissions/internal/warehouse"
)

// ErrInvariant means a stage produced output that contradicts its own rules.
// It is a defect in the stage, not a data problem.
var ErrInvariant = errors.New("invariant violated")

// ErrMissingFactor means the emission factor lookup has no row for a fleet.
var ErrMissingFactor = errors.New("missing emission factor")

// InvariantError describes which check failed on which table.
type InvariantError struct {
	Table  string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvariant, e.Table, e.Detail)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }

// Transformer runs the clean and derive stages against one store connection.
type Transformer struct {
	db     *warehouse.DB
	logger *slog.Logger
}

func New(db *warehouse.DB, logger *slog.Logger) *Transformer {
	return &Transformer{db: db, logger: logger}
}

func (t *Transformer) stageLogger(stage string, fleet models.Fleet, table string) *slog.Logger {
	log := logging.WithComponent(t.logger, stage).With(logging.FieldTable, table)
	if fleet != 0 {
		log = log.With(logging.FieldFleet, fleet.String())
	}
	return log
}
