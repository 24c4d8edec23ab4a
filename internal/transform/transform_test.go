package transform

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/lox/taxiemissions/internal/logging"
	"github.com/lox/taxiemissions/internal/models"
	"github.com/lox/taxiemissions/internal/warehouse"
)

func setupTestDB(t *testing.T) *warehouse.DB {
	t.Helper()
	w, err := warehouse.Open("", false)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func mustExec(t *testing.T, w *warehouse.DB, query string, args ...any) {
	t.Helper()
	if _, err := w.ExecContext(context.Background(), query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func createTripTable(t *testing.T, w *warehouse.DB, name string) {
	t.Helper()
	mustExec(t, w, fmt.Sprintf(`CREATE TABLE %s (
		VendorID INTEGER,
		tpep_pickup_datetime TIMESTAMP,
		tpep_dropoff_datetime TIMESTAMP,
		passenger_count DOUBLE,
		trip_distance DOUBLE
	)`, name))
}

// snapshot returns the table's rows rendered as sorted strings.
func snapshot(t *testing.T, w *warehouse.DB, table string) []string {
	t.Helper()
	rows, err := w.QueryContext(context.Background(),
		fmt.Sprintf(`SELECT CAST(COLUMNS(*) AS VARCHAR) FROM %s ORDER BY ALL`, table))
	if err != nil {
		t.Fatalf("snapshot %s: %v", table, err)
	}
	defer rows.Close()
	cols, _ := rows.Columns()
	var out []string
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			t.Fatal(err)
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = v.String
		}
		out = append(out, strings.Join(parts, "|"))
	}
	return out
}

func TestCleanAppliesEveryCheck(t *testing.T) {
	ctx := context.Background()
	w := setupTestDB(t)
	createTripTable(t, w, "yellow_trips_2024")
	mustExec(t, w, `INSERT INTO yellow_trips_2024 VALUES
		(1, '2024-01-01 10:00:00', '2024-01-01 11:00:00', 1, 10),   -- valid
		(1, '2024-01-01 10:00:00', '2024-01-01 11:00:00', 1, 10),   -- exact duplicate
		(1, '2024-01-02 10:00:00', '2024-01-02 11:00:00', 0, 10),   -- no passengers
		(1, '2024-01-03 10:00:00', '2024-01-03 11:00:00', 1, 0),    -- zero distance
		(1, '2024-01-04 10:00:00', '2024-01-04 11:00:00', 1, 150),  -- too far
		(2, '2024-06-05 10:00:00', '2024-06-05 10:00:00', 3, 100),  -- boundaries: 100 miles, 0 seconds
		(1, '2024-01-06 10:00:00', '2024-01-06 09:00:00', 1, 5),    -- dropoff before pickup
		(1, '2024-01-07 10:00:00', '2024-01-08 10:00:01', 1, 5),    -- longer than a day
		(1, '2023-12-31 23:50:00', '2024-01-01 00:10:00', 1, 5),    -- previous year
		(1, '2024-01-09 10:00:00', '2024-01-09 11:00:00', NULL, 5)  -- unknown passengers
	`)

	tr := New(w, logging.NewNop())
	res, err := tr.Clean(ctx, models.YellowFleet, DefaultCleanRules(2024))
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if res.Fleet != models.YellowFleet || res.CleanTable != "yellow_clean" || res.RawTable != "yellow_trips_2024" {
		t.Errorf("result = %+v", res)
	}
	if res.RawRows != 10 {
		t.Errorf("RawRows = %d, want 10", res.RawRows)
	}
	if res.CleanRows != 2 {
		t.Errorf("CleanRows = %d, want 2", res.CleanRows)
	}
	if len(res.Violations) != 4 {
		t.Fatalf("Violations = %+v", res.Violations)
	}
	for _, v := range res.Violations {
		if v.Count != 0 {
			t.Errorf("violation %s = %d, want 0", v.Check, v.Count)
		}
	}

	before := snapshot(t, w, "yellow_clean")
	if _, err := tr.Clean(ctx, models.YellowFleet, DefaultCleanRules(2024)); err != nil {
		t.Fatalf("second Clean: %v", err)
	}
	after := snapshot(t, w, "yellow_clean")
	if strings.Join(before, "\n") != strings.Join(after, "\n") {
		t.Errorf("clean table changed on rerun:\n%v\n%v", before, after)
	}
}

func TestCleanRespectsConfiguredBounds(t *testing.T) {
	ctx := context.Background()
	w := setupTestDB(t)
	createTripTable(t, w, "green_trips_2023")
	mustExec(t, w, `ALTER TABLE green_trips_2023 RENAME COLUMN tpep_pickup_datetime TO lpep_pickup_datetime`)
	mustExec(t, w, `ALTER TABLE green_trips_2023 RENAME COLUMN tpep_dropoff_datetime TO lpep_dropoff_datetime`)
	mustExec(t, w, `INSERT INTO green_trips_2023 VALUES
		(2, '2023-05-01 10:00:00', '2023-05-01 10:30:00', 1, 20),
		(2, '2023-05-01 11:00:00', '2023-05-01 13:00:00', 1, 5),
		(2, '2023-05-01 12:00:00', '2023-05-01 12:10:00', 1, 2)
	`)

	rules := CleanRules{Year: 2023, MaxDistanceMiles: 10, MaxDurationSeconds: 3600}
	res, err := New(w, logging.NewNop()).Clean(ctx, models.GreenFleet, rules)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if res.CleanRows != 1 {
		t.Errorf("CleanRows = %d, want 1", res.CleanRows)
	}
}

func TestCleanNeverWidensBounds(t *testing.T) {
	ctx := context.Background()
	w := setupTestDB(t)
	createTripTable(t, w, "yellow_trips_2024")
	mustExec(t, w, `INSERT INTO yellow_trips_2024 VALUES
		(1, '2024-04-01 10:00:00', '2024-04-01 11:00:00', 1, 10),
		(1, '2024-04-02 08:00:00', '2024-04-02 12:00:00', 1, 150),
		(1, '2024-04-03 08:00:00', '2024-04-05 08:00:00', 1, 20)
	`)

	rules := CleanRules{Year: 2024, MaxDistanceMiles: 500, MaxDurationSeconds: 3 * 86400}
	res, err := New(w, logging.NewNop()).Clean(ctx, models.YellowFleet, rules)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if res.CleanRows != 1 {
		t.Errorf("CleanRows = %d, want only the 10 mile trip", res.CleanRows)
	}
	var longest float64
	if err := w.QueryRowContext(ctx, `SELECT max(trip_distance) FROM yellow_clean`).Scan(&longest); err != nil {
		t.Fatal(err)
	}
	if longest != 10 {
		t.Errorf("longest clean trip = %v miles, want 10", longest)
	}
}

func TestCleanMissingRawTable(t *testing.T) {
	w := setupTestDB(t)
	_, err := New(w, logging.NewNop()).Clean(context.Background(), models.YellowFleet, DefaultCleanRules(2024))
	if !errors.Is(err, warehouse.ErrTableNotFound) {
		t.Errorf("error = %v, want ErrTableNotFound", err)
	}
}

func TestCleanUnresolvedRole(t *testing.T) {
	w := setupTestDB(t)
	mustExec(t, w, `CREATE TABLE yellow_trips_2024 (tpep_pickup_datetime TIMESTAMP, tpep_dropoff_datetime TIMESTAMP, trip_distance DOUBLE)`)
	_, err := New(w, logging.NewNop()).Clean(context.Background(), models.YellowFleet, DefaultCleanRules(2024))
	if !errors.Is(err, warehouse.ErrUnresolvedRole) {
		t.Errorf("error = %v, want ErrUnresolvedRole", err)
	}
	ok, _ := w.TableExists(context.Background(), warehouse.MustIdent("yellow_clean"))
	if ok {
		t.Error("clean table created despite unresolved role")
	}
}

func TestVerifyCleanReportsViolations(t *testing.T) {
	ctx := context.Background()
	w := setupTestDB(t)
	createTripTable(t, w, "broken")
	mustExec(t, w, `INSERT INTO broken VALUES
		(1, '2024-01-01 10:00:00', '2024-01-01 11:00:00', 0, 10),
		(1, '2024-01-01 10:00:00', '2024-01-01 09:00:00', 1, 101),
		(1, '2025-01-01 10:00:00', '2025-01-01 11:00:00', 1, 10)
	`)

	roles, err := warehouse.ResolveRoles(ctx, w, warehouse.MustIdent("broken"), models.YellowFleet.Candidates())
	if err != nil {
		t.Fatal(err)
	}
	violations, err := New(w, logging.NewNop()).VerifyClean(ctx, models.YellowFleet, warehouse.MustIdent("broken"), roles, 2024)
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("error = %v, want ErrInvariant", err)
	}
	want := map[string]int64{
		CheckPassengers: 1,
		CheckDistance:   1,
		CheckDuration:   1,
		CheckPickupYear: 1,
	}
	for _, v := range violations {
		if v.Count != want[v.Check] {
			t.Errorf("%s = %d, want %d", v.Check, v.Count, want[v.Check])
		}
	}
}

func TestVerifyCleanLogsFleet(t *testing.T) {
	ctx := context.Background()
	w := setupTestDB(t)
	createTripTable(t, w, "green_clean")
	mustExec(t, w, `INSERT INTO green_clean VALUES
		(2, '2024-06-01 10:00:00', '2024-06-01 10:20:00', 1, 3)
	`)
	roles, err := warehouse.ResolveRoles(ctx, w, warehouse.MustIdent("green_clean"), models.GreenFleet.Candidates())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	off := false
	logger, err := logging.New(logging.Options{Level: "debug", Console: &buf, Color: &off})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	defer logger.Close()

	if _, err := New(w, logger.Logger).VerifyClean(ctx, models.GreenFleet, warehouse.MustIdent("green_clean"), roles, 2024); err != nil {
		t.Fatalf("VerifyClean: %v", err)
	}
	line := buf.String()
	for _, want := range []string{"clean table verified", "fleet=green", "table=green_clean"} {
		if !strings.Contains(line, want) {
			t.Errorf("log %q missing %q", line, want)
		}
	}
}

func setupDerive(t *testing.T, factor float64) *warehouse.DB {
	t.Helper()
	w := setupTestDB(t)
	createTripTable(t, w, "yellow_clean")
	mustExec(t, w, `CREATE TABLE vehicle_emissions (vehicle_type VARCHAR, co2_grams_per_mile DOUBLE)`)
	mustExec(t, w, `INSERT INTO vehicle_emissions VALUES ('yellow_taxi', ?), ('green_taxi', 350)`, factor)
	return w
}

type derivedRow struct {
	distance float64
	co2      float64
	speed    sql.NullFloat64
	hour     int
	dow      int
	week     int
	month    int
}

func readDerived(t *testing.T, w *warehouse.DB, table string) []derivedRow {
	t.Helper()
	rows, err := w.QueryContext(context.Background(), fmt.Sprintf(`
		SELECT trip_distance, trip_co2_kg, avg_speed_mph, hour_of_day, day_of_week, week_of_year, month_of_year
		FROM %s ORDER BY tpep_pickup_datetime`, table))
	if err != nil {
		t.Fatalf("read %s: %v", table, err)
	}
	defer rows.Close()
	var out []derivedRow
	for rows.Next() {
		var r derivedRow
		if err := rows.Scan(&r.distance, &r.co2, &r.speed, &r.hour, &r.dow, &r.week, &r.month); err != nil {
			t.Fatal(err)
		}
		out = append(out, r)
	}
	return out
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestDeriveComputesMetrics(t *testing.T) {
	ctx := context.Background()
	w := setupDerive(t, 400)
	mustExec(t, w, `INSERT INTO yellow_clean VALUES
		(1, '2024-01-07 05:00:00', '2024-01-07 06:00:00', 1, 10),
		(1, '2024-03-13 22:15:00', '2024-03-13 22:45:00', 2, 5)
	`)

	tr := New(w, logging.NewNop())
	res, err := tr.Derive(ctx, models.YellowFleet)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if res.Factor != 400 || res.CleanRows != 2 || res.TransformedRows != 2 {
		t.Errorf("result = %+v", res)
	}
	if res.TransformedTable != "yellow_transformed" {
		t.Errorf("TransformedTable = %q", res.TransformedTable)
	}

	got := readDerived(t, w, "yellow_transformed")
	want := []derivedRow{
		// Sunday in ISO week 1.
		{distance: 10, co2: 4.0, speed: sql.NullFloat64{Float64: 10, Valid: true}, hour: 5, dow: 0, week: 0, month: 1},
		// Wednesday in ISO week 11.
		{distance: 5, co2: 2.0, speed: sql.NullFloat64{Float64: 10, Valid: true}, hour: 22, dow: 3, week: 10, month: 3},
	}
	if len(got) != len(want) {
		t.Fatalf("rows = %+v", got)
	}
	for i := range want {
		g, e := got[i], want[i]
		if !approx(g.co2, e.co2) || !g.speed.Valid || !approx(g.speed.Float64, e.speed.Float64) {
			t.Errorf("row %d co2/speed = %v/%v, want %v/%v", i, g.co2, g.speed, e.co2, e.speed.Float64)
		}
		if g.hour != e.hour || g.dow != e.dow || g.week != e.week || g.month != e.month {
			t.Errorf("row %d buckets = h%d d%d w%d m%d, want h%d d%d w%d m%d",
				i, g.hour, g.dow, g.week, g.month, e.hour, e.dow, e.week, e.month)
		}
	}

	before := snapshot(t, w, "yellow_transformed")
	if _, err := tr.Derive(ctx, models.YellowFleet); err != nil {
		t.Fatalf("second Derive: %v", err)
	}
	if after := snapshot(t, w, "yellow_transformed"); strings.Join(before, "\n") != strings.Join(after, "\n") {
		t.Error("transformed table changed on rerun")
	}
}

func TestDeriveCalendarAtYearEnd(t *testing.T) {
	w := setupDerive(t, 400)
	mustExec(t, w, `INSERT INTO yellow_clean VALUES
		(1, '2024-12-28 09:00:00', '2024-12-28 09:30:00', 1, 3),
		(1, '2024-12-30 00:10:00', '2024-12-30 00:40:00', 1, 3),
		(1, '2024-12-31 23:30:00', '2024-12-31 23:50:00', 1, 3)
	`)

	if _, err := New(w, logging.NewNop()).Derive(context.Background(), models.YellowFleet); err != nil {
		t.Fatalf("Derive: %v", err)
	}
	got := readDerived(t, w, "yellow_transformed")
	tests := []struct {
		name string
		hour int
		dow  int
		week int
	}{
		{"saturday in ISO week 52", 9, 6, 51},
		{"monday in ISO week 1 of next year", 0, 1, 0},
		{"last hour of the year", 23, 2, 0},
	}
	if len(got) != len(tests) {
		t.Fatalf("rows = %+v", got)
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := got[i]
			if g.hour != tt.hour || g.dow != tt.dow || g.week != tt.week || g.month != 12 {
				t.Errorf("buckets = h%d d%d w%d m%d, want h%d d%d w%d m12",
					g.hour, g.dow, g.week, g.month, tt.hour, tt.dow, tt.week)
			}
		})
	}
}

func TestDeriveZeroDurationHasNoSpeed(t *testing.T) {
	w := setupDerive(t, 400)
	mustExec(t, w, `INSERT INTO yellow_clean VALUES (1, '2024-02-01 12:00:00', '2024-02-01 12:00:00', 1, 2)`)

	if _, err := New(w, logging.NewNop()).Derive(context.Background(), models.YellowFleet); err != nil {
		t.Fatalf("Derive: %v", err)
	}
	got := readDerived(t, w, "yellow_transformed")
	if len(got) != 1 {
		t.Fatalf("rows = %+v", got)
	}
	if got[0].speed.Valid {
		t.Errorf("avg_speed_mph = %v, want NULL", got[0].speed.Float64)
	}
	if !approx(got[0].co2, 0.8) {
		t.Errorf("trip_co2_kg = %v, want 0.8", got[0].co2)
	}
}

func TestDeriveMissingFactor(t *testing.T) {
	ctx := context.Background()
	w := setupTestDB(t)
	createTripTable(t, w, "yellow_clean")
	tr := New(w, logging.NewNop())

	if _, err := tr.Derive(ctx, models.YellowFleet); !errors.Is(err, ErrMissingFactor) {
		t.Errorf("without lookup table: error = %v, want ErrMissingFactor", err)
	}

	mustExec(t, w, `CREATE TABLE vehicle_emissions (vehicle_type VARCHAR, co2_grams_per_mile DOUBLE)`)
	mustExec(t, w, `INSERT INTO vehicle_emissions VALUES ('green_taxi', 350)`)
	if _, err := tr.Derive(ctx, models.YellowFleet); !errors.Is(err, ErrMissingFactor) {
		t.Errorf("without yellow row: error = %v, want ErrMissingFactor", err)
	}
	ok, _ := w.TableExists(ctx, warehouse.MustIdent("yellow_transformed"))
	if ok {
		t.Error("transformed table created despite missing factor")
	}
}

func TestEmissionFactorLookup(t *testing.T) {
	w := setupDerive(t, 404)
	tr := New(w, logging.NewNop())
	for fleet, want := range map[models.Fleet]float64{models.YellowFleet: 404, models.GreenFleet: 350} {
		got, err := tr.EmissionFactor(context.Background(), fleet)
		if err != nil {
			t.Fatalf("%s: %v", fleet, err)
		}
		if got != want {
			t.Errorf("%s factor = %v, want %v", fleet, got, want)
		}
	}
}
