package models

import (
	"database/sql"
	"time"
)

type EmissionFactor struct {
	VehicleType     string
	CO2GramsPerMile float64
}

// RawStats is the descriptive summary printed after a raw table is loaded.
type RawStats struct {
	Table          string
	Rows           int64
	MinDistance    sql.NullFloat64
	MaxDistance    sql.NullFloat64
	AvgDistance    sql.NullFloat64
	MinPassengers  sql.NullFloat64
	MaxPassengers  sql.NullFloat64
	AvgPassengers  sql.NullFloat64
	EarliestPickup sql.NullTime
	LatestPickup   sql.NullTime
}

type LoadResult struct {
	Fleet Fleet
	Table string
	Files []SourceFile
	Rows  int64
	Stats *RawStats
}

type SourceFile struct {
	Path      string
	SizeBytes int64
	Checksum  string // xxh3, hex
}

type Violation struct {
	Check string
	Count int64
}

type CleanResult struct {
	Fleet      Fleet
	RawTable   string
	CleanTable string
	RawRows    int64
	CleanRows  int64
	Violations []Violation
}

type DeriveResult struct {
	Fleet            Fleet
	CleanTable       string
	TransformedTable string
	Factor           float64
	CleanRows        int64
	TransformedRows  int64
}

type ExtremalTrip struct {
	CO2Kg         float64
	DistanceMiles float64
	Pickup        time.Time
}

type PeriodAggregate struct {
	Period int
	AvgCO2 float64
	Trips  int64
}

type MonthlyTotal struct {
	Month      int
	TotalCO2Kg float64
}
