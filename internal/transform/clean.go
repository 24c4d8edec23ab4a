package transform

import (
	"context"
	"fmt"

	"github.com/lox/taxiemissions/internal/models"
	"github.com/lox/taxiemissions/internal/warehouse"
)

// Upper bounds of a valid trip. Configured rules can tighten them but never
// widen them, and VerifyClean always checks against these.
const (
	MaxDistanceMiles   = 100.0
	MaxDurationSeconds = 86400
)

// CleanRules bounds the trips kept by Clean.
type CleanRules struct {
	Year               int
	MaxDistanceMiles   float64
	MaxDurationSeconds int64
}

// DefaultCleanRules returns the standard bounds for year.
func DefaultCleanRules(year int) CleanRules {
	return CleanRules{Year: year, MaxDistanceMiles: MaxDistanceMiles, MaxDurationSeconds: MaxDurationSeconds}
}

// bounded clamps missing or too-wide bounds to the fixed limits.
func (r CleanRules) bounded() CleanRules {
	if r.MaxDistanceMiles <= 0 || r.MaxDistanceMiles > MaxDistanceMiles {
		r.MaxDistanceMiles = MaxDistanceMiles
	}
	if r.MaxDurationSeconds <= 0 || r.MaxDurationSeconds > MaxDurationSeconds {
		r.MaxDurationSeconds = MaxDurationSeconds
	}
	return r
}

// Violation check names, in the order VerifyClean reports them.
const (
	CheckPassengers = "passenger_count"
	CheckDistance   = "distance"
	CheckDuration   = "duration"
	CheckPickupYear = "pickup_year"
)

type predicates struct {
	passengers string
	distance   string
	duration   string
	pickupYear string
}

// buildPredicates renders the four validity checks. Each carries its own
// placeholders: distance and duration take one bound, pickup year takes the
// year.
func buildPredicates(roles warehouse.ColumnRoles) predicates {
	pass := roles.Passengers.Quoted()
	dist := roles.Distance.Quoted()
	duration := fmt.Sprintf("date_diff('second', %s, %s)", roles.Pickup.Quoted(), roles.Dropoff.Quoted())
	return predicates{
		passengers: pass + " > 0",
		distance:   fmt.Sprintf("%[1]s > 0 AND %[1]s <= ?", dist),
		duration:   duration + " BETWEEN 0 AND ?",
		pickupYear: fmt.Sprintf("year(%s) = ?", roles.Pickup.Quoted()),
	}
}

// Clean rebuilds the fleet's clean table from its raw table for rules.Year.
func (t *Transformer) Clean(ctx context.Context, fleet models.Fleet, rules CleanRules) (*models.CleanResult, error) {
	raw, err := warehouse.NewIdent(fleet.RawTable(rules.Year))
	if err != nil {
		return nil, err
	}
	clean := warehouse.MustIdent(fleet.CleanTable())
	if err := t.db.RequireTable(ctx, raw); err != nil {
		return nil, err
	}
	roles, err := warehouse.ResolveRoles(ctx, t.db, raw, fleet.Candidates())
	if err != nil {
		return nil, err
	}

	result, err := t.CleanTable(ctx, fleet, raw, clean, roles, rules)
	if result != nil {
		result.Fleet = fleet
	}
	return result, err
}

// CleanTable replaces clean with the distinct rows of raw that pass every
// check, then verifies the result.
func (t *Transformer) CleanTable(ctx context.Context, fleet models.Fleet, raw, clean warehouse.Ident, roles warehouse.ColumnRoles, rules CleanRules) (*models.CleanResult, error) {
	log := t.stageLogger("clean", fleet, clean.Name()).With("raw_table", raw.Name())
	p := buildPredicates(roles)
	rules = rules.bounded()

	if err := t.db.DropTable(ctx, clean); err != nil {
		return nil, err
	}
	if _, err := t.db.ExecContext(ctx, "CREATE TABLE "+clean.Quoted()+
		" AS SELECT * FROM "+raw.Quoted()+" LIMIT 0"); err != nil {
		return nil, fmt.Errorf("create %s: %w", clean, err)
	}

	insert := fmt.Sprintf(`INSERT INTO %s
		SELECT DISTINCT * FROM %s
		WHERE %s AND %s AND %s AND %s`,
		clean.Quoted(), raw.Quoted(), p.passengers, p.distance, p.duration, p.pickupYear)
	if _, err := t.db.ExecContext(ctx, insert,
		rules.MaxDistanceMiles, rules.MaxDurationSeconds, rules.Year); err != nil {
		return nil, fmt.Errorf("populate %s: %w", clean, err)
	}

	result := &models.CleanResult{RawTable: raw.Name(), CleanTable: clean.Name()}
	var err error
	if result.RawRows, err = t.db.Count(ctx, raw); err != nil {
		return nil, err
	}
	if result.CleanRows, err = t.db.Count(ctx, clean); err != nil {
		return nil, err
	}
	log.Info("clean table built", "raw_rows", result.RawRows, "clean_rows", result.CleanRows,
		"removed", result.RawRows-result.CleanRows)

	result.Violations, err = t.VerifyClean(ctx, fleet, clean, roles, rules.Year)
	return result, err
}

// VerifyClean counts rows in table failing each check against the fixed
// limits for year. Any non-zero count is returned as an InvariantError
// alongside the counts.
func (t *Transformer) VerifyClean(ctx context.Context, fleet models.Fleet, table warehouse.Ident, roles warehouse.ColumnRoles, year int) ([]models.Violation, error) {
	rules := DefaultCleanRules(year)
	p := buildPredicates(roles)
	query := fmt.Sprintf(`
		SELECT
			count(*) FILTER (WHERE (%s) IS NOT TRUE),
			count(*) FILTER (WHERE (%s) IS NOT TRUE),
			count(*) FILTER (WHERE (%s) IS NOT TRUE),
			count(*) FILTER (WHERE (%s) IS NOT TRUE)
		FROM %s`, p.passengers, p.distance, p.duration, p.pickupYear, table.Quoted())

	violations := []models.Violation{
		{Check: CheckPassengers},
		{Check: CheckDistance},
		{Check: CheckDuration},
		{Check: CheckPickupYear},
	}
	err := t.db.QueryRowContext(ctx, query, rules.MaxDistanceMiles, rules.MaxDurationSeconds, rules.Year).Scan(
		&violations[0].Count, &violations[1].Count, &violations[2].Count, &violations[3].Count)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", table, err)
	}

	for _, v := range violations {
		if v.Count != 0 {
			return violations, &InvariantError{
				Table:  table.Name(),
				Detail: fmt.Sprintf("%d rows fail the %s check after cleaning", v.Count, v.Check),
			}
		}
	}
	t.stageLogger("clean", fleet, table.Name()).Debug("clean table verified", "checks", len(violations))
	return violations, nil
}
