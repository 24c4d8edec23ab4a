package models

import (
	"fmt"
	"strings"
)

// Fleet is one of the two taxi trip schemas published by the TLC.
type Fleet int

const (
	YellowFleet Fleet = iota + 1
	GreenFleet
)

// Fleets lists every known fleet in processing order.
var Fleets = []Fleet{YellowFleet, GreenFleet}

// RoleCandidates lists, per logical column role, the physical column names a
// source table may use. The first candidate present in the table wins.
type RoleCandidates struct {
	Pickup     []string
	Dropoff    []string
	Passengers []string
	Distance   []string
}

var fleetCandidates = map[Fleet]RoleCandidates{
	YellowFleet: {
		Pickup:     []string{"tpep_pickup_datetime", "lpep_pickup_datetime"},
		Dropoff:    []string{"tpep_dropoff_datetime", "lpep_dropoff_datetime"},
		Passengers: []string{"passenger_count"},
		Distance:   []string{"trip_distance"},
	},
	GreenFleet: {
		Pickup:     []string{"lpep_pickup_datetime", "tpep_pickup_datetime"},
		Dropoff:    []string{"lpep_dropoff_datetime", "tpep_dropoff_datetime"},
		Passengers: []string{"passenger_count"},
		Distance:   []string{"trip_distance"},
	},
}

func ParseFleet(s string) (Fleet, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yellow":
		return YellowFleet, nil
	case "green":
		return GreenFleet, nil
	}
	return 0, fmt.Errorf("unknown fleet %q", s)
}

func (f Fleet) String() string {
	switch f {
	case YellowFleet:
		return "yellow"
	case GreenFleet:
		return "green"
	}
	return fmt.Sprintf("fleet(%d)", int(f))
}

// Label is the upper-case name used in report headings.
func (f Fleet) Label() string {
	return strings.ToUpper(f.String())
}

// EmissionKey is the vehicle_type value in the emission factor lookup.
func (f Fleet) EmissionKey() string {
	return f.String() + "_taxi"
}

func (f Fleet) Candidates() RoleCandidates {
	return fleetCandidates[f]
}

func (f Fleet) RawTable(year int) string {
	return fmt.Sprintf("%s_trips_%d", f, year)
}

func (f Fleet) CleanTable() string {
	return f.String() + "_clean"
}

func (f Fleet) TransformedTable() string {
	return f.String() + "_transformed"
}

// FileName is the TLC file name for one month of trips,
// e.g. yellow_tripdata_2024-01.parquet.
func (f Fleet) FileName(year, month int) string {
	return fmt.Sprintf("%s_tripdata_%d-%02d.parquet", f, year, month)
}

// FileGlob matches every monthly file for the year.
func (f Fleet) FileGlob(year int) string {
	return fmt.Sprintf("%s_tripdata_%d-*.parquet", f, year)
}

// ChartFile is the name of the monthly totals chart written by the report stage.
func (f Fleet) ChartFile() string {
	return f.String() + "_co2_by_month_totals.png"
}
