package models

import "fmt"

// Granularity is a temporal bucket column in a transformed table.
type Granularity int

const (
	HourOfDay Granularity = iota
	DayOfWeek
	WeekOfYear
	MonthOfYear
)

var Granularities = []Granularity{HourOfDay, DayOfWeek, WeekOfYear, MonthOfYear}

var (
	dayNames   = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
	monthNames = [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
)

// Column is the derived column holding the bucket value.
func (g Granularity) Column() string {
	switch g {
	case HourOfDay:
		return "hour_of_day"
	case DayOfWeek:
		return "day_of_week"
	case WeekOfYear:
		return "week_of_year"
	case MonthOfYear:
		return "month_of_year"
	}
	return ""
}

func (g Granularity) Title() string {
	switch g {
	case HourOfDay:
		return "Hour of Day (1-24)"
	case DayOfWeek:
		return "Day of Week (Sun-Sat)"
	case WeekOfYear:
		return "Week of Year (0-52)"
	case MonthOfYear:
		return "Month of Year (Jan-Dec)"
	}
	return "Unknown"
}

// FormatPeriod renders a bucket value for humans. Hours are shown 1-24.
func (g Granularity) FormatPeriod(p int) string {
	switch g {
	case HourOfDay:
		return fmt.Sprintf("%d", (p%24)+1)
	case DayOfWeek:
		if p >= 0 && p < len(dayNames) {
			return dayNames[p]
		}
	case MonthOfYear:
		return MonthName(p)
	}
	return fmt.Sprintf("%d", p)
}

// MonthName returns the short English name for a 1-based month.
func MonthName(m int) string {
	if m >= 1 && m <= 12 {
		return monthNames[m-1]
	}
	return fmt.Sprintf("%d", m)
}
