package rainnet_go

import (
	"fmt"
	"image/color"
	"sort"

	rng "github.com/leesper/go_rng"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gorgonia.org/tensor"
)

// NormRandDense Return reference to tensor.Dense of the provided shape filled with
// normally distributed float64 values
func NormRandDense(gaussian *rng.GaussianGenerator, shape ...int) *tensor.Dense {
	size := 1
	for _, s := range shape {
		size *= s
	}
	data := make([]float64, size)
	for i := range data {
		data[i] = gaussian.Gaussian(0.0, 1.0)
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// UniformRandDense Return reference to tensor.Dense of the provided shape filled with
// pseudo-random float64 values in range [0.0,1.0)
func UniformRandDense(uniform *rng.UniformGenerator, shape ...int) *tensor.Dense {
	size := 1
	for _, s := range shape {
		size *= s
	}
	data := make([]float64, size)
	for i := range data {
		data[i] = uniform.Float64()
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// SlicerOneStep Just iterator with step size = 1
type SlicerOneStep struct {
	StartIdx, EndIdx int
}

func (s SlicerOneStep) Start() int { return s.StartIdx }
func (s SlicerOneStep) End() int   { return s.EndIdx }
func (s SlicerOneStep) Step() int  { return 1 }

var lossPalette = []color.RGBA{
	{R: 255, B: 128, A: 255},
	{B: 255, G: 128, A: 255},
	{G: 200, A: 255},
	{R: 200, G: 160, A: 255},
	{R: 128, G: 128, B: 128, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
}

// PlotLossHistory Plot per-term loss curves (one line per named loss term) to a PNG file.
func PlotLossHistory(series map[string][]float64, fname string) error {
	if len(series) == 0 {
		return fmt.Errorf("Loss history must have one series atleast")
	}
	p := plot.New()
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Loss"
	p.Add(plotter.NewGrid())

	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		values := series[name]
		lineData := make(plotter.XYs, len(values))
		for j, v := range values {
			lineData[j].X = float64(j)
			lineData[j].Y = v
		}
		line, err := plotter.NewLine(lineData)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't init line for loss term '%s'", name))
		}
		line.Color = lossPalette[i%len(lossPalette)]
		p.Add(line)
		p.Legend.Add(name, line)
	}
	// Save the plot to a PNG file.
	if err := p.Save(6*vg.Inch, 4*vg.Inch, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}
