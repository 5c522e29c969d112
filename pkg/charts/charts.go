// Package charts renders small PNG charts that are logged as artifacts.
package charts

import (
	"bytes"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
)

// Default image size.
var (
	Width  = 8 * vg.Inch
	Height = 5 * vg.Inch
)

// Bar renders a bar chart with one bar per label.
func Bar(title, ylabel string, labels []string, values []float64) ([]byte, error) {
	if len(labels) != len(values) {
		return nil, errors.NewValidationError("labels", "must match values in length", len(labels))
	}
	if len(values) == 0 {
		return nil, errors.NewValidationError("values", "must not be empty", 0)
	}

	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = ylabel

	bars, err := plotter.NewBarChart(plotter.Values(values), vg.Points(18))
	if err != nil {
		return nil, errors.Wrap(err, "bar chart")
	}
	bars.LineStyle.Width = vg.Length(0)
	bars.Color = seriesColor(0)
	p.Add(bars)
	p.NominalX(labels...)
	p.X.Tick.Label.Rotation = 0.8

	return render(p)
}

// Series is one line of a line chart.
type Series struct {
	Name string
	X    []float64
	Y    []float64
	// Points draws markers instead of a connected line.
	Points bool
}

// Line renders one or more series on shared axes.
func Line(title, xlabel, ylabel string, series ...Series) ([]byte, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	p.Legend.Top = true

	for i, s := range series {
		if len(s.X) != len(s.Y) {
			return nil, errors.NewValidationError(s.Name, "x and y must have equal length", len(s.X))
		}
		xys := make(plotter.XYs, len(s.X))
		for j := range s.X {
			xys[j].X, xys[j].Y = s.X[j], s.Y[j]
		}
		if s.Points {
			sc, err := plotter.NewScatter(xys)
			if err != nil {
				return nil, errors.Wrapf(err, "series %s", s.Name)
			}
			sc.Color = seriesColor(i)
			p.Add(sc)
			p.Legend.Add(s.Name, sc)
			continue
		}
		l, err := plotter.NewLine(xys)
		if err != nil {
			return nil, errors.Wrapf(err, "series %s", s.Name)
		}
		l.Color = seriesColor(i)
		p.Add(l)
		p.Legend.Add(s.Name, l)
	}
	return render(p)
}

func render(p *plot.Plot) ([]byte, error) {
	w, err := p.WriterTo(Width, Height, "png")
	if err != nil {
		return nil, errors.Wrap(err, "render chart")
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "encode chart")
	}
	return buf.Bytes(), nil
}
