// Package ingest fetches monthly TLC trip files and loads them into the store
// as one raw table per fleet, together with the emission factor lookup.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lox/taxiemissions/internal/logging"
	"github.com/lox/taxiemissions/internal/models"
	"github.com/lox/taxiemissions/internal/warehouse"
)

// ErrNoSourceFiles is returned when a fleet has no input files for the year.
var ErrNoSourceFiles = errors.New("no source files")

type Loader struct {
	db      *warehouse.DB
	dataDir string
	logger  *slog.Logger
}

func NewLoader(db *warehouse.DB, dataDir string, logger *slog.Logger) *Loader {
	return &Loader{db: db, dataDir: dataDir, logger: logging.WithComponent(logger, "ingest")}
}

// SourceFiles returns the fleet's monthly files for year in name order.
func (l *Loader) SourceFiles(fleet models.Fleet, year int) ([]string, error) {
	pattern := filepath.Join(l.dataDir, fleet.FileGlob(year))
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: nothing matches %s", ErrNoSourceFiles, pattern)
	}
	return files, nil
}

// LoadFleet replaces the fleet's raw table with the union of its monthly
// files. The first file's schema is authoritative. When no files exist the
// existing table is left untouched.
func (l *Loader) LoadFleet(ctx context.Context, fleet models.Fleet, year int) (*models.LoadResult, error) {
	files, err := l.SourceFiles(fleet, year)
	if err != nil {
		return nil, err
	}
	table, err := warehouse.NewIdent(fleet.RawTable(year))
	if err != nil {
		return nil, err
	}
	log := l.logger.With(logging.FieldFleet, fleet.String(), logging.FieldTable, table.Name())

	ddl, err := l.tableDDL(ctx, table, files[0])
	if err != nil {
		return nil, err
	}
	if err := l.db.DropTable(ctx, table); err != nil {
		return nil, err
	}
	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create %s: %w", table, err)
	}

	result := &models.LoadResult{Fleet: fleet, Table: table.Name()}
	insert := "INSERT INTO " + table.Quoted() + " SELECT * FROM read_parquet(?)"
	for _, file := range files {
		if _, err := l.db.ExecContext(ctx, insert, file); err != nil {
			return nil, fmt.Errorf("load %s into %s: %w", file, table, err)
		}
		src, err := Fingerprint(file)
		if err != nil {
			return nil, err
		}
		result.Files = append(result.Files, src)
		log.Debug("loaded file", "path", file, "checksum", src.Checksum)
	}

	result.Rows, err = l.db.Count(ctx, table)
	if err != nil {
		return nil, err
	}
	log.Info("raw table loaded", "files", len(files), "rows", result.Rows)

	roles, err := warehouse.ResolveRoles(ctx, l.db, table, fleet.Candidates())
	if err != nil {
		log.Warn("skipping raw statistics", "error", err)
		return result, nil
	}
	result.Stats, err = RawStats(ctx, l.db, table, roles)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// tableDDL builds CREATE TABLE from the column names and types of file.
func (l *Loader) tableDDL(ctx context.Context, table warehouse.Ident, file string) (string, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT * FROM read_parquet(?) LIMIT 0", file)
	if err != nil {
		return "", fmt.Errorf("read schema of %s: %w", file, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return "", fmt.Errorf("read schema of %s: %w", file, err)
	}
	if len(types) == 0 {
		return "", fmt.Errorf("%s has no columns", file)
	}

	cols := make([]string, 0, len(types))
	for _, ct := range types {
		// Catalog names need not pass the identifier allow-list.
		typ := ct.DatabaseTypeName()
		if typ == "" {
			return "", fmt.Errorf("column %q in %s has no type", ct.Name(), file)
		}
		cols = append(cols, warehouse.QuoteName(ct.Name())+" "+typ)
	}
	return "CREATE TABLE " + table.Quoted() + " (" + strings.Join(cols, ", ") + ")", nil
}

// LoadEmissionFactors replaces the emission factor lookup with the contents
// of the CSV at path and returns the loaded rows.
func (l *Loader) LoadEmissionFactors(ctx context.Context, path string) ([]models.EmissionFactor, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: emission factor file %s", ErrNoSourceFiles, path)
		}
		return nil, err
	}

	if err := l.db.DropTable(ctx, warehouse.EmissionsTable); err != nil {
		return nil, err
	}
	if _, err := l.db.ExecContext(ctx, "CREATE TABLE "+warehouse.EmissionsTable.Quoted()+
		" (vehicle_type VARCHAR, co2_grams_per_mile DOUBLE)"); err != nil {
		return nil, fmt.Errorf("create %s: %w", warehouse.EmissionsTable, err)
	}
	if _, err := l.db.ExecContext(ctx, "INSERT INTO "+warehouse.EmissionsTable.Quoted()+`
		SELECT CAST(vehicle_type AS VARCHAR), CAST(co2_grams_per_mile AS DOUBLE)
		FROM read_csv_auto(?, header = true)`, path); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	factors, err := EmissionFactors(ctx, l.db)
	if err != nil {
		return nil, err
	}
	l.logger.Info("emission factors loaded",
		logging.FieldTable, warehouse.EmissionsTable.Name(), "path", path, "rows", len(factors))
	return factors, nil
}

// EmissionFactors lists the lookup table ordered by vehicle type.
func EmissionFactors(ctx context.Context, db *warehouse.DB) ([]models.EmissionFactor, error) {
	rows, err := db.QueryContext(ctx, "SELECT vehicle_type, co2_grams_per_mile FROM "+
		warehouse.EmissionsTable.Quoted()+" ORDER BY vehicle_type")
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", warehouse.EmissionsTable, err)
	}
	defer rows.Close()

	var factors []models.EmissionFactor
	for rows.Next() {
		var f models.EmissionFactor
		if err := rows.Scan(&f.VehicleType, &f.CO2GramsPerMile); err != nil {
			return nil, err
		}
		factors = append(factors, f)
	}
	return factors, rows.Err()
}
