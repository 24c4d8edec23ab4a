// Package chart renders the monthly CO2 totals line chart as a PNG.
package chart

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/lox/taxiemissions/internal/models"
)

const (
	Width  = 1000
	Height = 500

	marginLeft   = 90
	marginRight  = 30
	marginTop    = 50
	marginBottom = 60
	yTicks       = 5
)

var (
	background = color.RGBA{255, 255, 255, 255}
	axisColor  = color.RGBA{60, 60, 60, 255}
	gridColor  = color.RGBA{225, 225, 225, 255}
	textColor  = color.RGBA{30, 30, 30, 255}
	lineColor  = color.RGBA{31, 119, 180, 255}
)

// Title is the chart heading for a fleet and year.
func Title(fleet models.Fleet, year int) string {
	return fmt.Sprintf("Monthly Taxi Trip CO2 Totals (%d) - %s", year, fleet.Label())
}

// WriteMonthlyTotals renders totals to a PNG file at path.
func WriteMonthlyTotals(path, title string, totals []models.MonthlyTotal) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create chart directory: %w", err)
	}
	var buf bytes.Buffer
	if err := MonthlyTotals(&buf, title, totals); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write chart %s: %w", path, err)
	}
	return nil
}

// MonthlyTotals draws totals as a line with markers over a Jan..Dec axis.
func MonthlyTotals(w io.Writer, title string, totals []models.MonthlyTotal) error {
	img := image.NewRGBA(image.Rect(0, 0, Width, Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	plot := image.Rect(marginLeft, marginTop, Width-marginRight, Height-marginBottom)
	maxY := niceMax(totals)

	xAt := func(month int) float32 {
		return float32(plot.Min.X) + float32(month-1)*float32(plot.Dx())/11
	}
	yAt := func(v float64) float32 {
		return float32(plot.Max.Y) - float32(v/maxY)*float32(plot.Dy())
	}

	// Grid and y labels.
	for i := 0; i <= yTicks; i++ {
		v := maxY * float64(i) / yTicks
		y := yAt(v)
		strokeLine(img, float32(plot.Min.X), y, float32(plot.Max.X), y, 1, gridColor)
		label := formatTick(v)
		drawText(img, label, plot.Min.X-8-textWidth(label), int(y)+4)
	}

	// Axes.
	strokeLine(img, float32(plot.Min.X), float32(plot.Max.Y), float32(plot.Max.X), float32(plot.Max.Y), 1.5, axisColor)
	strokeLine(img, float32(plot.Min.X), float32(plot.Min.Y), float32(plot.Min.X), float32(plot.Max.Y), 1.5, axisColor)

	for m := 1; m <= 12; m++ {
		x := xAt(m)
		strokeLine(img, x, float32(plot.Max.Y), x, float32(plot.Max.Y)+5, 1, axisColor)
		name := models.MonthName(m)
		drawText(img, name, int(x)-textWidth(name)/2, plot.Max.Y+20)
	}

	drawText(img, title, (Width-textWidth(title))/2, marginTop/2+5)
	drawText(img, "Month", (plot.Min.X+plot.Max.X-textWidth("Month"))/2, Height-15)
	drawText(img, "Total CO2 (kg)", 8, marginTop-12)

	if len(totals) == 0 {
		msg := "no data"
		drawText(img, msg, (plot.Min.X+plot.Max.X-textWidth(msg))/2, (plot.Min.Y+plot.Max.Y)/2)
	}

	for i := 1; i < len(totals); i++ {
		a, b := totals[i-1], totals[i]
		strokeLine(img, xAt(a.Month), yAt(a.TotalCO2Kg), xAt(b.Month), yAt(b.TotalCO2Kg), 2.5, lineColor)
	}
	for _, t := range totals {
		fillCircle(img, xAt(t.Month), yAt(t.TotalCO2Kg), 4.5, lineColor)
	}

	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode chart: %w", err)
	}
	return nil
}

// niceMax rounds the largest total up to 1, 2 or 5 times a power of ten.
func niceMax(totals []models.MonthlyTotal) float64 {
	var m float64
	for _, t := range totals {
		m = math.Max(m, t.TotalCO2Kg)
	}
	if m <= 0 {
		return 1
	}
	pow := math.Pow(10, math.Floor(math.Log10(m)))
	for _, step := range []float64{1, 2, 5, 10} {
		if m <= step*pow {
			return step * pow
		}
	}
	return 10 * pow
}

func formatTick(v float64) string {
	switch {
	case v >= 1e6:
		return strconv.FormatFloat(v/1e6, 'f', -1, 64) + "M"
	case v >= 1e3:
		return strconv.FormatFloat(v/1e3, 'f', -1, 64) + "k"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// strokeLine fills a quad of the given width around the segment.
func strokeLine(img *image.RGBA, x0, y0, x1, y1, width float32, col color.Color) {
	dx, dy := x1-x0, y1-y0
	length := float32(math.Hypot(float64(dx), float64(dy)))
	if length == 0 {
		return
	}
	nx, ny := -dy/length*width/2, dx/length*width/2

	b := img.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = draw.Over
	z.MoveTo(x0+nx, y0+ny)
	z.LineTo(x1+nx, y1+ny)
	z.LineTo(x1-nx, y1-ny)
	z.LineTo(x0-nx, y0-ny)
	z.ClosePath()
	z.Draw(img, b, image.NewUniform(col), image.Point{})
}

func fillCircle(img *image.RGBA, cx, cy, r float32, col color.Color) {
	const segments = 24
	b := img.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = draw.Over
	for i := 0; i <= segments; i++ {
		theta := 2 * math.Pi * float64(i) / segments
		x := cx + r*float32(math.Cos(theta))
		y := cy + r*float32(math.Sin(theta))
		if i == 0 {
			z.MoveTo(x, y)
			continue
		}
		z.LineTo(x, y)
	}
	z.ClosePath()
	z.Draw(img, b, image.NewUniform(col), image.Point{})
}

func drawText(img *image.RGBA, text string, x, y int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func textWidth(text string) int {
	return font.MeasureString(basicfont.Face7x13, text).Round()
}
