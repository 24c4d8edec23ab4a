package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/lox/taxiemissions/internal/models"
	"github.com/lox/taxiemissions/internal/report"
)

// printLoad writes the descriptive statistics of a freshly loaded raw table.
func printLoad(w io.Writer, res *models.LoadResult) error {
	if _, err := fmt.Fprintf(w, "%s: %s rows from %d files\n",
		res.Table, report.FormatCount(res.Rows), len(res.Files)); err != nil {
		return err
	}
	st := res.Stats
	if st == nil {
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Column", "Min", "Max", "Mean"})
	t.AppendRow(table.Row{"trip distance (mi)", formatStat(st.MinDistance.Float64, st.MinDistance.Valid),
		formatStat(st.MaxDistance.Float64, st.MaxDistance.Valid), formatStat(st.AvgDistance.Float64, st.AvgDistance.Valid)})
	t.AppendRow(table.Row{"passenger count", formatStat(st.MinPassengers.Float64, st.MinPassengers.Valid),
		formatStat(st.MaxPassengers.Float64, st.MaxPassengers.Valid), formatStat(st.AvgPassengers.Float64, st.AvgPassengers.Valid)})
	t.AppendRow(table.Row{"pickup time", formatTime(st.EarliestPickup.Time, st.EarliestPickup.Valid),
		formatTime(st.LatestPickup.Time, st.LatestPickup.Valid), ""})
	t.Render()
	return nil
}

func formatStat(v float64, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

func formatTime(t time.Time, ok bool) string {
	if !ok {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}
