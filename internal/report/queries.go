// Package report runs read-only aggregate queries over transformed trip
// tables and renders the results as text, a workbook and an optional summary.
package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lox/taxiemissions/internal/models"
	"github.com/lox/taxiemissions/internal/warehouse"
)

// Reporter queries transformed tables. It never writes.
type Reporter struct {
	db *warehouse.DB
}

func NewReporter(db *warehouse.DB) *Reporter {
	return &Reporter{db: db}
}

// PeriodSummary is the heaviest and lightest bucket for one granularity.
// Both are nil when the table is empty.
type PeriodSummary struct {
	Granularity models.Granularity
	Heaviest    *models.PeriodAggregate
	Lightest    *models.PeriodAggregate
	Periods     []models.PeriodAggregate
}

// FleetReport gathers every aggregate for one fleet.
type FleetReport struct {
	Fleet      models.Fleet
	Table      string
	Rows       int64
	TotalCO2Kg float64
	Largest    *models.ExtremalTrip
	Periods    []PeriodSummary
	Monthly    []models.MonthlyTotal
}

// Build runs every report query for fleet's transformed table.
func (r *Reporter) Build(ctx context.Context, fleet models.Fleet) (*FleetReport, error) {
	table := warehouse.MustIdent(fleet.TransformedTable())
	if err := r.db.RequireTable(ctx, table); err != nil {
		return nil, err
	}
	roles, err := warehouse.ResolveRoles(ctx, r.db, table, fleet.Candidates())
	if err != nil {
		return nil, err
	}

	rep := &FleetReport{Fleet: fleet, Table: table.Name()}
	if rep.Rows, err = r.db.Count(ctx, table); err != nil {
		return nil, err
	}
	if rep.Largest, err = r.LargestTrip(ctx, table, roles); err != nil {
		return nil, err
	}
	for _, g := range models.Granularities {
		periods, err := r.PeriodAggregates(ctx, table, g)
		if err != nil {
			return nil, err
		}
		heaviest, lightest := HeaviestAndLightest(periods)
		rep.Periods = append(rep.Periods, PeriodSummary{
			Granularity: g,
			Heaviest:    heaviest,
			Lightest:    lightest,
			Periods:     periods,
		})
	}
	if rep.Monthly, err = r.MonthlyTotals(ctx, table); err != nil {
		return nil, err
	}
	for _, m := range rep.Monthly {
		rep.TotalCO2Kg += m.TotalCO2Kg
	}
	return rep, nil
}

// LargestTrip returns the trip with the most CO2, or nil for an empty table.
// Ties resolve to the earliest trip by pickup, dropoff, distance and
// passenger count.
func (r *Reporter) LargestTrip(ctx context.Context, table warehouse.Ident, roles warehouse.ColumnRoles) (*models.ExtremalTrip, error) {
	query := fmt.Sprintf(`
		SELECT trip_co2_kg, %[1]s, %[2]s
		FROM %[5]s
		ORDER BY trip_co2_kg DESC, %[2]s, %[3]s, %[1]s, %[4]s
		LIMIT 1`,
		roles.Distance.Quoted(), roles.Pickup.Quoted(), roles.Dropoff.Quoted(), roles.Passengers.Quoted(), table.Quoted())

	var trip models.ExtremalTrip
	err := r.db.QueryRowContext(ctx, query).Scan(&trip.CO2Kg, &trip.DistanceMiles, &trip.Pickup)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("largest trip in %s: %w", table, err)
	}
	return &trip, nil
}

// PeriodAggregates returns mean CO2 and trip count per bucket, ordered by
// bucket value.
func (r *Reporter) PeriodAggregates(ctx context.Context, table warehouse.Ident, g models.Granularity) ([]models.PeriodAggregate, error) {
	col, err := warehouse.NewIdent(g.Column())
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %[1]s, avg(trip_co2_kg), count(*)
		FROM %[2]s
		WHERE %[1]s IS NOT NULL
		GROUP BY %[1]s
		ORDER BY %[1]s`, col.Quoted(), table.Quoted())

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s by %s: %w", table, col, err)
	}
	defer rows.Close()

	var out []models.PeriodAggregate
	for rows.Next() {
		var p models.PeriodAggregate
		if err := rows.Scan(&p.Period, &p.AvgCO2, &p.Trips); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HeaviestAndLightest picks the buckets with the highest and lowest mean CO2
// from periods sorted by bucket value. Ties keep the smaller bucket.
func HeaviestAndLightest(periods []models.PeriodAggregate) (heaviest, lightest *models.PeriodAggregate) {
	for i := range periods {
		p := &periods[i]
		if heaviest == nil || p.AvgCO2 > heaviest.AvgCO2 {
			heaviest = p
		}
		if lightest == nil || p.AvgCO2 < lightest.AvgCO2 {
			lightest = p
		}
	}
	return heaviest, lightest
}

// MonthlyTotals sums CO2 per month, ordered by month.
func (r *Reporter) MonthlyTotals(ctx context.Context, table warehouse.Ident) ([]models.MonthlyTotal, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT month_of_year, sum(trip_co2_kg)
		FROM %s
		WHERE month_of_year IS NOT NULL
		GROUP BY month_of_year
		ORDER BY month_of_year`, table.Quoted()))
	if err != nil {
		return nil, fmt.Errorf("monthly totals for %s: %w", table, err)
	}
	defer rows.Close()

	var out []models.MonthlyTotal
	for rows.Next() {
		var m models.MonthlyTotal
		if err := rows.Scan(&m.Month, &m.TotalCO2Kg); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
