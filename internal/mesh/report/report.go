// Package report summarises the node counts of delivered examples and plots
// their distribution.
package report

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoData is returned when there are no counts to plot.
var ErrNoData = errors.New("no node counts")

// DefaultBins is the histogram bin count used by WriteHistogram.
const DefaultBins = 20

// Summary describes a set of per-example node counts.
type Summary struct {
	Examples int     `json:"examples"`
	Nodes    int     `json:"nodes"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	Median   float64 `json:"median"`
	Min      int     `json:"min"`
	Max      int     `json:"max"`
}

// Summarize computes the summary of counts. An empty input yields the zero
// Summary.
func Summarize(counts []int) Summary {
	if len(counts) == 0 {
		return Summary{}
	}
	x := values(counts)
	s := Summary{
		Examples: len(counts),
		Nodes:    int(floats.Sum(x)),
		Min:      int(floats.Min(x)),
		Max:      int(floats.Max(x)),
	}
	s.Mean, s.StdDev = stat.MeanStdDev(x, nil)
	if len(x) == 1 {
		s.StdDev = 0
	}
	sort.Float64s(x)
	s.Median = stat.Quantile(0.5, stat.Empirical, x, nil)
	return s
}

// String formats the summary for log output.
func (s Summary) String() string {
	return fmt.Sprintf("%d examples, %d nodes, mean %.1f ± %.1f, median %.0f, range [%d, %d]",
		s.Examples, s.Nodes, s.Mean, s.StdDev, s.Median, s.Min, s.Max)
}

// WriteHistogram renders a histogram of counts to path. The image format
// follows the file extension (png, svg, pdf).
func WriteHistogram(counts []int, path string) error {
	if len(counts) == 0 {
		return ErrNoData
	}
	p := plot.New()
	p.Title.Text = "Nodes per example"
	p.X.Label.Text = "nodes"
	p.Y.Label.Text = "examples"

	bins := DefaultBins
	if len(counts) < bins {
		bins = len(counts)
	}
	h, err := plotter.NewHist(plotter.Values(values(counts)), bins)
	if err != nil {
		return fmt.Errorf("build histogram: %w", err)
	}
	h.LineStyle.Width = vg.Points(0.5)
	p.Add(h)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save histogram: %w", err)
	}
	return nil
}

func values(counts []int) []float64 {
	x := make([]float64, len(counts))
	for i, c := range counts {
		x[i] = float64(c)
	}
	return x
}
