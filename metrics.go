package rainnet_go

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// MSEMetric Mean squared error between two equally shaped tensors.
func MSEMetric(a, b *tensor.Dense) (float64, error) {
	aData, bData, err := pairedData(a, b)
	if err != nil {
		return 0, err
	}
	diff := make([]float64, len(aData))
	floats.SubTo(diff, aData, bData)
	return floats.Dot(diff, diff) / float64(len(diff)), nil
}

// PSNR Peak signal-to-noise ratio in decibels for the given value range peak
// (2.0 for images normalized to [-1;1]). Identical tensors yield +Inf.
func PSNR(a, b *tensor.Dense, peak float64) (float64, error) {
	mse, err := MSEMetric(a, b)
	if err != nil {
		return 0, err
	}
	if mse == 0 {
		return math.Inf(1), nil
	}
	return 10.0 * math.Log10(peak*peak/mse), nil
}

// ForegroundMSE Mean squared error restricted to the masked region. An all-zero
// mask has no region to score and is reported as an error.
func ForegroundMSE(a, b, mask *tensor.Dense) (float64, error) {
	aData, bData, err := pairedData(a, b)
	if err != nil {
		return 0, err
	}
	maskData, ok := mask.Data().([]float64)
	if !ok {
		return 0, fmt.Errorf("Mask must be backed by float64 data")
	}
	shape := a.Shape()
	if len(shape) != 4 {
		return 0, fmt.Errorf("Foreground MSE expects 4D tensors, but got %dD", len(shape))
	}
	batch, channels, spatial := shape[0], shape[1], shape[2]*shape[3]
	sum := 0.0
	weight := 0.0
	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			imgOffset := (n*channels + c) * spatial
			maskOffset := n * spatial
			for i := 0; i < spatial; i++ {
				m := maskData[maskOffset+i]
				d := aData[imgOffset+i] - bData[imgOffset+i]
				sum += m * d * d
				weight += m
			}
		}
	}
	if weight == 0 {
		return 0, fmt.Errorf("Mask selects no foreground pixels")
	}
	return sum / weight, nil
}

func pairedData(a, b *tensor.Dense) ([]float64, []float64, error) {
	if !a.Shape().Eq(b.Shape()) {
		return nil, nil, fmt.Errorf("Shapes %v and %v mismatch", a.Shape(), b.Shape())
	}
	aData, ok := a.Data().([]float64)
	if !ok {
		return nil, nil, fmt.Errorf("First tensor must be backed by float64 data")
	}
	bData, ok := b.Data().([]float64)
	if !ok {
		return nil, nil, fmt.Errorf("Second tensor must be backed by float64 data")
	}
	return aData, bData, nil
}
