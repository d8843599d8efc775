package adminhttp

import (
	"fmt"
	"image/color"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// renderFixVolumeChart writes an interactive go-echarts bar chart of
// counts to w, for operators poking around the debug mux in a browser.
func renderFixVolumeChart(w io.Writer, counts []DailyCount) error {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Fix Volume", Theme: "dark"}),
		charts.WithTitleOpts(opts.Title{Title: "Daily Fix Volume", Subtitle: "last 30 days"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	days := make([]string, 0, len(counts))
	data := make([]opts.BarData, 0, len(counts))
	for _, c := range counts {
		days = append(days, c.Day)
		data = append(data, opts.BarData{Value: c.Count})
	}

	bar.SetXAxis(days).AddSeries("fixes", data)
	return bar.Render(w)
}

// renderFixVolumePNG renders counts as a static line chart PNG, for
// embedding in reports where a browser isn't available.
func renderFixVolumePNG(w io.Writer, counts []DailyCount) error {
	return renderDailyCountPNG(w, counts, "Fix Volume", "Fixes/day")
}

// renderDailyCountPNG is the shared gonum/plot renderer behind the PNG
// debug routes.
func renderDailyCountPNG(w io.Writer, counts []DailyCount, title, yLabel string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Day"
	p.Y.Label.Text = yLabel

	pts := make(plotter.XYs, len(counts))
	for i, c := range counts {
		pts[i].X = float64(i)
		pts[i].Y = float64(c.Count)
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("adminhttp: build line plotter: %w", err)
	}
	line.Color = color.RGBA{R: 0x2a, G: 0x7a, B: 0xde, A: 0xff}
	p.Add(line)

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("adminhttp: render PNG: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
