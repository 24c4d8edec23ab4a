package chart

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/lox/taxiemissions/internal/models"
)

func TestMonthlyTotalsRendersPNG(t *testing.T) {
	totals := []models.MonthlyTotal{
		{Month: 1, TotalCO2Kg: 1200},
		{Month: 2, TotalCO2Kg: 1800.5},
		{Month: 3, TotalCO2Kg: 950},
	}
	var buf bytes.Buffer
	if err := MonthlyTotals(&buf, Title(models.YellowFleet, 2024), totals); err != nil {
		t.Fatalf("MonthlyTotals: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != Width || b.Dy() != Height {
		t.Errorf("size = %v, want %dx%d", b, Width, Height)
	}

	// The January marker sits on the left edge of the plot area.
	x := marginLeft
	found := false
	for y := marginTop; y < Height-marginBottom; y++ {
		r, g, b, _ := img.At(x, y).RGBA()
		if r>>8 == uint32(lineColor.R) && g>>8 == uint32(lineColor.G) && b>>8 == uint32(lineColor.B) {
			found = true
			break
		}
	}
	if !found {
		t.Error("no line colour found at the January column")
	}
}

func TestMonthlyTotalsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := MonthlyTotals(&buf, "empty", nil); err != nil {
		t.Fatalf("MonthlyTotals: %v", err)
	}
	if _, err := png.Decode(&buf); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestWriteMonthlyTotals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outputs", models.GreenFleet.ChartFile())
	if err := WriteMonthlyTotals(path, Title(models.GreenFleet, 2024), []models.MonthlyTotal{{Month: 6, TotalCO2Kg: 3}}); err != nil {
		t.Fatalf("WriteMonthlyTotals: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("chart file is empty")
	}
}

func TestNiceMax(t *testing.T) {
	tests := []struct {
		max  float64
		want float64
	}{
		{0, 1},
		{7, 10},
		{12, 20},
		{180, 200},
		{450, 500},
		{1000, 1000},
	}
	for _, tt := range tests {
		got := niceMax([]models.MonthlyTotal{{Month: 1, TotalCO2Kg: tt.max}})
		if got != tt.want {
			t.Errorf("niceMax(%v) = %v, want %v", tt.max, got, tt.want)
		}
	}
}

func TestTitle(t *testing.T) {
	if got := Title(models.GreenFleet, 2024); got != "Monthly Taxi Trip CO2 Totals (2024) - GREEN" {
		t.Errorf("Title = %q", got)
	}
}
