package warehouse

import (
	"fmt"
	"regexp"
	"strings"
)

// EmissionsTable is the emission factor lookup shared by all fleets.
var EmissionsTable = MustIdent("vehicle_emissions")

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Ident is a validated table or column name. It is the only way a name reaches
// query text; literal values always travel as parameters.
type Ident struct {
	name string
}

// NewIdent validates name against the identifier allow-list.
func NewIdent(name string) (Ident, error) {
	if !identPattern.MatchString(name) {
		return Ident{}, fmt.Errorf("invalid identifier %q", name)
	}
	return Ident{name: name}, nil
}

// MustIdent is NewIdent for names fixed at compile time.
func MustIdent(name string) Ident {
	id, err := NewIdent(name)
	if err != nil {
		panic(err)
	}
	return id
}

func (i Ident) Name() string   { return i.name }
func (i Ident) IsZero() bool   { return i.name == "" }
func (i Ident) String() string { return i.name }

// Quoted renders the identifier for SQL text.
func (i Ident) Quoted() string {
	return QuoteName(i.name)
}

// QuoteName renders any name as a delimited identifier. Use it only for names
// read back from the catalog, never for user input.
func QuoteName(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
