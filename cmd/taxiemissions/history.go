package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

type HistoryCmd struct {
	Limit int `help:"Number of stage runs to show." default:"20"`
	Days  int `help:"Window for the per-stage health summary." default:"7"`
}

func (c *HistoryCmd) Run(a *app) error {
	if a.ledger == nil {
		return errors.New("run ledger unavailable")
	}

	runs, err := a.ledger.RecentStageRuns(c.Limit)
	if err != nil {
		return fmt.Errorf("recent stage runs: %w", err)
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Recent stage runs")
	t.AppendHeader(table.Row{"Started", "Stage", "Fleet", "Table", "Rows in", "Rows out", "Duration", "Result"})
	for _, r := range runs {
		result := "ok"
		if !r.Success {
			result = "failed"
			if r.ErrorKind.Valid {
				result += " (" + r.ErrorKind.String + ")"
			}
		}
		t.AppendRow(table.Row{
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Stage, r.Fleet, r.Table,
			nullCount(r.RowsIn.Int64, r.RowsIn.Valid),
			nullCount(r.RowsOut.Int64, r.RowsOut.Valid),
			r.Duration().Round(time.Millisecond),
			result,
		})
	}
	t.Render()

	health, err := a.ledger.GetStageHealth(c.Days)
	if err != nil {
		return fmt.Errorf("stage health: %w", err)
	}
	h := table.NewWriter()
	h.SetOutputMirror(os.Stdout)
	h.SetStyle(table.StyleRounded)
	h.SetTitle(fmt.Sprintf("Stage health, last %d days", c.Days))
	h.AppendHeader(table.Row{"Stage", "Fleet", "Runs", "Succeeded", "Failed", "Last rows out"})
	for _, s := range health {
		h.AppendRow(table.Row{
			s.Stage, s.Fleet, s.TotalRuns, s.SuccessRuns, s.FailedRuns,
			nullCount(s.LastRowsOut.Int64, s.LastRowsOut.Valid),
		})
	}
	h.Render()
	return nil
}

func nullCount(n int64, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprint(n)
}
