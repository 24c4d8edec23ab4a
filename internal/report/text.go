package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// RenderText writes the human summary for one fleet report.
func RenderText(w io.Writer, rep *FleetReport) error {
	var b strings.Builder
	label := rep.Fleet.Label()

	fmt.Fprintf(&b, "\n========== %s ==========\n", label)
	b.WriteString(printer.Sprintf("[%s] %d trips in %s, %.1f kg CO2 in total\n", label, rep.Rows, rep.Table, rep.TotalCO2Kg))

	if rep.Largest != nil {
		fmt.Fprintf(&b, "[%s] Largest CO2 trip: %.4f kg (distance = %.2f miles, pickup %s)\n",
			label, rep.Largest.CO2Kg, rep.Largest.DistanceMiles, rep.Largest.Pickup.Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintf(&b, "[%s] Largest CO2 trip: (no data)\n", label)
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Period", "Most carbon-heavy", "Avg kg", "Trips", "Least carbon-heavy", "Avg kg", "Trips"})
	for _, ps := range rep.Periods {
		if ps.Heaviest == nil || ps.Lightest == nil {
			tw.AppendRow(table.Row{ps.Granularity.Title(), "(no data)", "", "", "(no data)", "", ""})
			continue
		}
		tw.AppendRow(table.Row{
			ps.Granularity.Title(),
			ps.Granularity.FormatPeriod(ps.Heaviest.Period),
			fmt.Sprintf("%.4f", ps.Heaviest.AvgCO2),
			printer.Sprintf("%d", ps.Heaviest.Trips),
			ps.Granularity.FormatPeriod(ps.Lightest.Period),
			fmt.Sprintf("%.4f", ps.Lightest.AvgCO2),
			printer.Sprintf("%d", ps.Lightest.Trips),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	b.WriteString(tw.Render())
	b.WriteByte('\n')

	if len(rep.Monthly) > 0 {
		mt := table.NewWriter()
		mt.SetStyle(table.StyleRounded)
		mt.AppendHeader(table.Row{"Month", "Total CO2 (kg)"})
		for _, m := range rep.Monthly {
			mt.AppendRow(table.Row{monthLabel(m.Month), printer.Sprintf("%.1f", m.TotalCO2Kg)})
		}
		mt.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
		b.WriteString(mt.Render())
		b.WriteByte('\n')
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// FormatCount renders n with thousands separators.
func FormatCount(n int64) string {
	return printer.Sprintf("%d", n)
}
