package models

import "testing"

func TestFleetNames(t *testing.T) {
	tests := []struct {
		fleet       Fleet
		raw         string
		clean       string
		transformed string
		key         string
		file        string
	}{
		{YellowFleet, "yellow_trips_2024", "yellow_clean", "yellow_transformed", "yellow_taxi", "yellow_tripdata_2024-03.parquet"},
		{GreenFleet, "green_trips_2024", "green_clean", "green_transformed", "green_taxi", "green_tripdata_2024-03.parquet"},
	}

	for _, tt := range tests {
		t.Run(tt.fleet.String(), func(t *testing.T) {
			if got := tt.fleet.RawTable(2024); got != tt.raw {
				t.Errorf("RawTable = %q, want %q", got, tt.raw)
			}
			if got := tt.fleet.CleanTable(); got != tt.clean {
				t.Errorf("CleanTable = %q, want %q", got, tt.clean)
			}
			if got := tt.fleet.TransformedTable(); got != tt.transformed {
				t.Errorf("TransformedTable = %q, want %q", got, tt.transformed)
			}
			if got := tt.fleet.EmissionKey(); got != tt.key {
				t.Errorf("EmissionKey = %q, want %q", got, tt.key)
			}
			if got := tt.fleet.FileName(2024, 3); got != tt.file {
				t.Errorf("FileName = %q, want %q", got, tt.file)
			}
		})
	}
}

func TestParseFleet(t *testing.T) {
	for _, in := range []string{"yellow", " Yellow ", "YELLOW"} {
		f, err := ParseFleet(in)
		if err != nil || f != YellowFleet {
			t.Errorf("ParseFleet(%q) = %v, %v", in, f, err)
		}
	}
	if _, err := ParseFleet("fhv"); err == nil {
		t.Error("ParseFleet(fhv) should fail")
	}
}

func TestCandidatesPreferOwnSchema(t *testing.T) {
	if got := YellowFleet.Candidates().Pickup[0]; got != "tpep_pickup_datetime" {
		t.Errorf("yellow pickup candidate = %q", got)
	}
	if got := GreenFleet.Candidates().Dropoff[0]; got != "lpep_dropoff_datetime" {
		t.Errorf("green dropoff candidate = %q", got)
	}
}

func TestFormatPeriod(t *testing.T) {
	tests := []struct {
		g    Granularity
		p    int
		want string
	}{
		{HourOfDay, 0, "1"},
		{HourOfDay, 23, "24"},
		{DayOfWeek, 0, "Sun"},
		{DayOfWeek, 6, "Sat"},
		{DayOfWeek, 9, "9"},
		{WeekOfYear, 0, "0"},
		{MonthOfYear, 1, "Jan"},
		{MonthOfYear, 12, "Dec"},
	}
	for _, tt := range tests {
		if got := tt.g.FormatPeriod(tt.p); got != tt.want {
			t.Errorf("%s.FormatPeriod(%d) = %q, want %q", tt.g.Column(), tt.p, got, tt.want)
		}
	}
}
