package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lox/taxiemissions/internal/models"
)

// ErrUnresolvedRole marks a logical column that none of the candidate names
// matched. It needs an operator to fix the schema, so it is never retried.
var ErrUnresolvedRole = errors.New("unresolved column role")

// RoleError names the role and table that could not be reconciled.
type RoleError struct {
	Role       string
	Table      string
	Candidates []string
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("%s: no column for %s in table %s (tried %s)",
		ErrUnresolvedRole, e.Role, e.Table, strings.Join(e.Candidates, ", "))
}

func (e *RoleError) Unwrap() error { return ErrUnresolvedRole }

// ColumnRoles holds the actual column names backing each logical role.
type ColumnRoles struct {
	Pickup     Ident
	Dropoff    Ident
	Passengers Ident
	Distance   Ident
}

// Reconcile returns the actual column name for the first candidate that
// matches case-insensitively, preserving the column's own spelling.
func Reconcile(columns, candidates []string) (string, bool) {
	for _, cand := range candidates {
		for _, col := range columns {
			if strings.EqualFold(col, cand) {
				return col, true
			}
		}
	}
	return "", false
}

// ResolveRoles reconciles all four roles against table's catalog.
func ResolveRoles(ctx context.Context, w *DB, table Ident, cands models.RoleCandidates) (ColumnRoles, error) {
	columns, err := w.Columns(ctx, table)
	if err != nil {
		return ColumnRoles{}, err
	}
	return resolveFromColumns(table.Name(), columns, cands)
}

func resolveFromColumns(table string, columns []string, cands models.RoleCandidates) (ColumnRoles, error) {
	var roles ColumnRoles
	for _, r := range []struct {
		role  string
		cands []string
		dst   *Ident
	}{
		{"pickup time", cands.Pickup, &roles.Pickup},
		{"dropoff time", cands.Dropoff, &roles.Dropoff},
		{"passenger count", cands.Passengers, &roles.Passengers},
		{"distance", cands.Distance, &roles.Distance},
	} {
		name, ok := Reconcile(columns, r.cands)
		if !ok {
			return ColumnRoles{}, &RoleError{Role: r.role, Table: table, Candidates: r.cands}
		}
		id, err := NewIdent(name)
		if err != nil {
			return ColumnRoles{}, fmt.Errorf("column for %s in %s: %w", r.role, table, err)
		}
		*r.dst = id
	}
	return roles, nil
}
