package pipeline

import (
	"errors"
	"fmt"

	"github.com/lox/taxiemissions/internal/ingest"
	"github.com/lox/taxiemissions/internal/transform"
	"github.com/lox/taxiemissions/internal/warehouse"
)

// Error kinds. Every stage failure is classified as exactly one of these.
var (
	ErrConfiguration = errors.New("configuration")
	ErrMissingInput  = errors.New("missing input")
	ErrTransient     = errors.New("transient")
	ErrStore         = errors.New("store")
	ErrInvariant     = errors.New("invariant")
)

// StageError records which stage, fleet and table a failure belongs to.
type StageError struct {
	Stage string
	Fleet string
	Table string
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	scope := e.Stage
	if e.Fleet != "" {
		scope += " " + e.Fleet
	}
	if e.Table != "" {
		return fmt.Sprintf("%s (%s): %s error: %v", scope, e.Table, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", scope, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *StageError) Unwrap() []error { return []error{e.Kind, e.Err} }

// Classify maps a stage failure onto an error kind. Unrecognised errors come
// from the store itself.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transform.ErrInvariant):
		return ErrInvariant
	case errors.Is(err, warehouse.ErrUnresolvedRole),
		errors.Is(err, transform.ErrMissingFactor):
		return ErrConfiguration
	case errors.Is(err, ingest.ErrNoSourceFiles),
		errors.Is(err, warehouse.ErrTableNotFound):
		return ErrMissingInput
	case errors.Is(err, ingest.ErrDownload):
		return ErrTransient
	}
	return ErrStore
}

// KindName is the short label stored in the ledger and used as a log field.
func KindName(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind.Error()
	}
	if kind := Classify(err); kind != nil {
		return kind.Error()
	}
	return ""
}

func newStageError(stage, fleet, table string, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{Stage: stage, Fleet: fleet, Table: table, Kind: Classify(err), Err: err}
}
