package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/lox/taxiemissions/internal/models"
)

// WorkbookFile is the spreadsheet written next to the charts.
const WorkbookFile = "co2_report.xlsx"

// WriteWorkbook writes one sheet per fleet report to path, replacing any
// previous workbook.
func WriteWorkbook(path string, reports []*FleetReport) error {
	if len(reports) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, rep := range reports {
		sheet := rep.Fleet.Label()
		idx, err := f.NewSheet(sheet)
		if err != nil {
			return fmt.Errorf("add sheet %s: %w", sheet, err)
		}
		if i == 0 {
			f.SetActiveSheet(idx)
		}
		if err := writeFleetSheet(f, sheet, rep); err != nil {
			return fmt.Errorf("sheet %s: %w", sheet, err)
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("remove default sheet: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

func writeFleetSheet(f *excelize.File, sheet string, rep *FleetReport) error {
	row := 1
	put := func(values ...any) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		row++
		return f.SetSheetRow(sheet, cell, &values)
	}

	if err := put("Table", rep.Table); err != nil {
		return err
	}
	if err := put("Trips", rep.Rows); err != nil {
		return err
	}
	if err := put("Total CO2 (kg)", rep.TotalCO2Kg); err != nil {
		return err
	}
	if rep.Largest != nil {
		if err := put("Largest trip CO2 (kg)", rep.Largest.CO2Kg, "Distance (miles)", rep.Largest.DistanceMiles); err != nil {
			return err
		}
	}
	row++

	if err := put("Month", "Total CO2 (kg)"); err != nil {
		return err
	}
	for _, m := range rep.Monthly {
		if err := put(models.MonthName(m.Month), m.TotalCO2Kg); err != nil {
			return err
		}
	}

	for _, ps := range rep.Periods {
		row++
		if err := put(ps.Granularity.Title(), "Avg CO2 (kg)", "Trips"); err != nil {
			return err
		}
		for _, p := range ps.Periods {
			if err := put(ps.Granularity.FormatPeriod(p.Period), p.AvgCO2, p.Trips); err != nil {
				return err
			}
		}
	}
	return nil
}

func monthLabel(m int) string { return models.MonthName(m) }
