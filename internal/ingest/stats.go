package ingest

import (
	"context"
	"fmt"

	"github.com/lox/taxiemissions/internal/models"
	"github.com/lox/taxiemissions/internal/warehouse"
)

// RawStats summarises distance, passenger count and pickup range of a raw table.
func RawStats(ctx context.Context, db *warehouse.DB, table warehouse.Ident, roles warehouse.ColumnRoles) (*models.RawStats, error) {
	dist := roles.Distance.Quoted()
	pass := roles.Passengers.Quoted()
	pick := roles.Pickup.Quoted()

	query := fmt.Sprintf(`
		SELECT count(*),
			min(%[1]s)::DOUBLE, max(%[1]s)::DOUBLE, avg(%[1]s)::DOUBLE,
			min(%[2]s)::DOUBLE, max(%[2]s)::DOUBLE, avg(%[2]s)::DOUBLE,
			min(%[3]s)::TIMESTAMP, max(%[3]s)::TIMESTAMP
		FROM %[4]s`, dist, pass, pick, table.Quoted())

	stats := &models.RawStats{Table: table.Name()}
	err := db.QueryRowContext(ctx, query).Scan(
		&stats.Rows,
		&stats.MinDistance, &stats.MaxDistance, &stats.AvgDistance,
		&stats.MinPassengers, &stats.MaxPassengers, &stats.AvgPassengers,
		&stats.EarliestPickup, &stats.LatestPickup,
	)
	if err != nil {
		return nil, fmt.Errorf("raw stats for %s: %w", table, err)
	}
	return stats, nil
}
