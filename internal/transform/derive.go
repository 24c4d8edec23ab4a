package transform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lox/taxiemissions/internal/models"
	"github.com/lox/taxiemissions/internal/warehouse"
)

// Derived column names appended to every clean row.
const (
	ColumnCO2Kg      = "trip_co2_kg"
	ColumnAvgSpeed   = "avg_speed_mph"
	ColumnHourOfDay  = "hour_of_day"
	ColumnDayOfWeek  = "day_of_week"
	ColumnWeekOfYear = "week_of_year"
	ColumnMonth      = "month_of_year"
)

// EmissionFactor returns grams of CO2 per mile for fleet.
func (t *Transformer) EmissionFactor(ctx context.Context, fleet models.Fleet) (float64, error) {
	ok, err := t.db.TableExists(ctx, warehouse.EmissionsTable)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: table %s does not exist (load emission factors first)",
			ErrMissingFactor, warehouse.EmissionsTable)
	}

	var factor sql.NullFloat64
	err = t.db.QueryRowContext(ctx, "SELECT co2_grams_per_mile FROM "+warehouse.EmissionsTable.Quoted()+
		" WHERE vehicle_type = ? LIMIT 1", fleet.EmissionKey()).Scan(&factor)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !factor.Valid) {
		return 0, fmt.Errorf("%w: no %s row in %s", ErrMissingFactor, fleet.EmissionKey(), warehouse.EmissionsTable)
	}
	if err != nil {
		return 0, fmt.Errorf("look up emission factor for %s: %w", fleet, err)
	}
	return factor.Float64, nil
}

// Derive rebuilds the fleet's transformed table from its clean table.
func (t *Transformer) Derive(ctx context.Context, fleet models.Fleet) (*models.DeriveResult, error) {
	clean := warehouse.MustIdent(fleet.CleanTable())
	if err := t.db.RequireTable(ctx, clean); err != nil {
		return nil, err
	}
	roles, err := warehouse.ResolveRoles(ctx, t.db, clean, fleet.Candidates())
	if err != nil {
		return nil, err
	}
	factor, err := t.EmissionFactor(ctx, fleet)
	if err != nil {
		return nil, err
	}

	result, err := t.DeriveTable(ctx, fleet, clean, warehouse.MustIdent(fleet.TransformedTable()), roles, factor)
	if result != nil {
		result.Fleet = fleet
	}
	return result, err
}

// DeriveTable replaces dst with every row of clean plus CO2, average speed
// and calendar bucket columns computed from the pickup time.
func (t *Transformer) DeriveTable(ctx context.Context, fleet models.Fleet, clean, dst warehouse.Ident, roles warehouse.ColumnRoles, factor float64) (*models.DeriveResult, error) {
	log := t.stageLogger("derive", fleet, dst.Name()).With("clean_table", clean.Name())

	if err := t.db.DropTable(ctx, dst); err != nil {
		return nil, err
	}
	create := fmt.Sprintf(`CREATE TABLE %s AS
		SELECT c.*,
			CAST(NULL AS DOUBLE) AS %s,
			CAST(NULL AS DOUBLE) AS %s,
			CAST(NULL AS INTEGER) AS %s,
			CAST(NULL AS INTEGER) AS %s,
			CAST(NULL AS INTEGER) AS %s,
			CAST(NULL AS INTEGER) AS %s
		FROM %s c LIMIT 0`,
		dst.Quoted(), ColumnCO2Kg, ColumnAvgSpeed, ColumnHourOfDay, ColumnDayOfWeek, ColumnWeekOfYear, ColumnMonth,
		clean.Quoted())
	if _, err := t.db.ExecContext(ctx, create); err != nil {
		return nil, fmt.Errorf("create %s: %w", dst, err)
	}

	pick := "c." + roles.Pickup.Quoted()
	drop := "c." + roles.Dropoff.Quoted()
	dist := "c." + roles.Distance.Quoted()
	duration := fmt.Sprintf("date_diff('second', %s, %s)", pick, drop)

	// day_of_week counts from Sunday = 0; week_of_year is the ISO week shifted to start at 0.
	insert := fmt.Sprintf(`INSERT INTO %[1]s
		SELECT c.*,
			%[3]s * ? / 1000.0,
			CASE WHEN %[4]s > 0 THEN %[3]s / (%[4]s / 3600.0) ELSE NULL END,
			CAST(date_part('hour', %[2]s) AS INTEGER),
			CAST(date_part('dow', %[2]s) AS INTEGER),
			CAST(date_part('week', %[2]s) - 1 AS INTEGER),
			CAST(date_part('month', %[2]s) AS INTEGER)
		FROM %[5]s c`,
		dst.Quoted(), pick, dist, duration, clean.Quoted())
	if _, err := t.db.ExecContext(ctx, insert, factor); err != nil {
		return nil, fmt.Errorf("populate %s: %w", dst, err)
	}

	result := &models.DeriveResult{
		CleanTable:       clean.Name(),
		TransformedTable: dst.Name(),
		Factor:           factor,
	}
	var err error
	if result.CleanRows, err = t.db.Count(ctx, clean); err != nil {
		return nil, err
	}
	if result.TransformedRows, err = t.db.Count(ctx, dst); err != nil {
		return nil, err
	}
	log.Info("transformed table built", "rows", result.TransformedRows, "factor_g_per_mile", factor)

	if result.TransformedRows != result.CleanRows {
		return result, &InvariantError{
			Table:  dst.Name(),
			Detail: fmt.Sprintf("%d transformed rows from %d clean rows", result.TransformedRows, result.CleanRows),
		}
	}
	return result, nil
}
