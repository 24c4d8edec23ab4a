package warehouse

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lox/taxiemissions/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	w, err := Open("", false)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestNewIdent(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"yellow_trips_2024", true},
		{"_private", true},
		{"tpep_pickup_datetime", true},
		{"", false},
		{"2024_trips", false},
		{"trips; DROP TABLE x", false},
		{`bad"quote`, false},
		{"with space", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIdent(tt.name)
			if (err == nil) != tt.valid {
				t.Errorf("NewIdent(%q) error = %v, want valid=%v", tt.name, err, tt.valid)
			}
		})
	}
}

func TestIdentQuoted(t *testing.T) {
	if got := MustIdent("green_clean").Quoted(); got != `"green_clean"` {
		t.Errorf("Quoted = %s", got)
	}
	if got := QuoteName(`cbd "fee"`); got != `"cbd ""fee"""` {
		t.Errorf("QuoteName = %s", got)
	}
}

func TestTableLifecycle(t *testing.T) {
	ctx := context.Background()
	w := setupTestDB(t)
	table := MustIdent("sample")

	ok, err := w.TableExists(ctx, table)
	if err != nil {
		t.Fatalf("TableExists: %v", err)
	}
	if ok {
		t.Fatal("table exists before creation")
	}
	if err := w.RequireTable(ctx, table); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("RequireTable error = %v, want ErrTableNotFound", err)
	}

	if _, err := w.ExecContext(ctx, `CREATE TABLE sample (a INTEGER, b VARCHAR)`); err != nil {
		t.Fatal(err)
	}
	if _, err := w.ExecContext(ctx, `INSERT INTO sample VALUES (1, 'x'), (2, 'y'), (3, 'z')`); err != nil {
		t.Fatal(err)
	}

	n, err := w.Count(ctx, table)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}

	cols, err := w.Columns(ctx, table)
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if len(cols) != 2 || cols[0] != "a" || cols[1] != "b" {
		t.Errorf("Columns = %v, want [a b]", cols)
	}

	if err := w.DropTable(ctx, table); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if err := w.DropTable(ctx, table); err != nil {
		t.Fatalf("second DropTable should be a no-op: %v", err)
	}
	if _, err := w.Columns(ctx, table); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("Columns after drop error = %v, want ErrTableNotFound", err)
	}
}

func TestReconcile(t *testing.T) {
	columns := []string{"VendorID", "TPEP_Pickup_Datetime", "tpep_dropoff_datetime", "passenger_count"}
	tests := []struct {
		name       string
		candidates []string
		want       string
		ok         bool
	}{
		{"exact", []string{"passenger_count"}, "passenger_count", true},
		{"case insensitive keeps column spelling", []string{"tpep_pickup_datetime"}, "TPEP_Pickup_Datetime", true},
		{"falls back to later candidate", []string{"lpep_dropoff_datetime", "tpep_dropoff_datetime"}, "tpep_dropoff_datetime", true},
		{"none", []string{"trip_distance"}, "", false},
		{"no candidates", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Reconcile(columns, tt.candidates)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Reconcile = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestResolveRolesPerFleet(t *testing.T) {
	ctx := context.Background()
	w := setupTestDB(t)

	if _, err := w.ExecContext(ctx, `CREATE TABLE green_raw (
		VendorID INTEGER,
		lpep_pickup_datetime TIMESTAMP,
		lpep_dropoff_datetime TIMESTAMP,
		passenger_count DOUBLE,
		trip_distance DOUBLE
	)`); err != nil {
		t.Fatal(err)
	}

	// Yellow candidates fall back to the lpep names.
	for _, fleet := range models.Fleets {
		roles, err := ResolveRoles(ctx, w, MustIdent("green_raw"), fleet.Candidates())
		if err != nil {
			t.Fatalf("%s: ResolveRoles: %v", fleet, err)
		}
		if roles.Pickup.Name() != "lpep_pickup_datetime" || roles.Dropoff.Name() != "lpep_dropoff_datetime" {
			t.Errorf("%s: roles = %+v", fleet, roles)
		}
		if roles.Passengers.Name() != "passenger_count" || roles.Distance.Name() != "trip_distance" {
			t.Errorf("%s: roles = %+v", fleet, roles)
		}
	}
}

func TestResolveRolesMissingRole(t *testing.T) {
	ctx := context.Background()
	w := setupTestDB(t)

	if _, err := w.ExecContext(ctx, `CREATE TABLE partial (tpep_pickup_datetime TIMESTAMP, tpep_dropoff_datetime TIMESTAMP, passenger_count DOUBLE)`); err != nil {
		t.Fatal(err)
	}

	_, err := ResolveRoles(ctx, w, MustIdent("partial"), models.YellowFleet.Candidates())
	if !errors.Is(err, ErrUnresolvedRole) {
		t.Fatalf("error = %v, want ErrUnresolvedRole", err)
	}
	var roleErr *RoleError
	if !errors.As(err, &roleErr) {
		t.Fatalf("error %T is not *RoleError", err)
	}
	if roleErr.Role != "distance" || roleErr.Table != "partial" {
		t.Errorf("RoleError = %+v, want role distance in table partial", roleErr)
	}
}

func TestOpenReadOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "emissions.duckdb")

	w, err := Open(path, false)
	if err != nil {
		t.Fatalf("open read-write: %v", err)
	}
	if _, err := w.ExecContext(ctx, `CREATE TABLE t (x INTEGER)`); err != nil {
		t.Fatal(err)
	}
	w.Close()

	ro, err := Open(path, true)
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer ro.Close()
	if !ro.ReadOnly() {
		t.Error("ReadOnly() = false")
	}
	if _, err := ro.ExecContext(ctx, `INSERT INTO t VALUES (1)`); err == nil {
		t.Error("write succeeded on read-only store")
	}
	if _, err := ro.Count(ctx, MustIdent("t")); err != nil {
		t.Errorf("Count on read-only store: %v", err)
	}
}
