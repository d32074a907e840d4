package rainnet_go

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func evalNode(t *testing.T, g *gorgonia.ExprGraph, n *gorgonia.Node) []float64 {
	t.Helper()
	var val gorgonia.Value
	gorgonia.Read(n, &val)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	return val.Data().([]float64)
}

func regionStats(data, mask []float64) (mean, std float64) {
	sum, cnt := 0.0, 0.0
	for i := range data {
		sum += data[i] * mask[i]
		cnt += mask[i]
	}
	mean = sum / cnt
	varSum := 0.0
	for i := range data {
		d := data[i] - mean
		varSum += d * d * mask[i]
	}
	return mean, math.Sqrt(varSum / cnt)
}

func TestInstanceNorm(t *testing.T) {
	g := gorgonia.NewGraph()
	x := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, 2, 2, 2), gorgonia.WithName("x"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(1, 2, 2, 2), tensor.WithBacking([]float64{
			1.0, 2.0, 3.0, 4.0,
			10.0, 20.0, 30.0, 40.0,
		}))))
	normed, err := instanceNorm(x, 1e-8)
	require.NoError(t, err)
	out := evalNode(t, g, normed)

	// Every channel must end up with zero mean and unit variance.
	for c := 0; c < 2; c++ {
		channel := out[c*4 : (c+1)*4]
		sum, sumSq := 0.0, 0.0
		for _, v := range channel {
			sum += v
			sumSq += v * v
		}
		require.InDelta(t, 0.0, sum/4.0, 1e-6)
		require.InDelta(t, 1.0, sumSq/4.0, 1e-4)
	}
}

func TestInstanceNormRejectsNon4D(t *testing.T) {
	g := gorgonia.NewGraph()
	x := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, 2), gorgonia.WithName("x"))
	_, err := instanceNorm(x, 1e-8)
	require.Error(t, err)
}

func TestRainNormRestylesForeground(t *testing.T) {
	// Left half of the image is background with distinct statistics, right half is
	// foreground. The foreground's statistics must be pulled to the background's.
	maskData := make([]float64, 16)
	xData := make([]float64, 16)
	bgValues := []float64{1.0, 2.0, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0}
	fgValues := []float64{100.0, 120.0, 90.0, 110.0, 95.0, 105.0, 115.0, 85.0}
	bi, fi := 0, 0
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			idx := y*4 + x
			if x < 2 {
				xData[idx] = bgValues[bi]
				bi++
			} else {
				maskData[idx] = 1.0
				xData[idx] = fgValues[fi]
				fi++
			}
		}
	}

	g := gorgonia.NewGraph()
	x := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, 1, 4, 4), gorgonia.WithName("x"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(1, 1, 4, 4), tensor.WithBacking(xData))))
	mask := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, 1, 4, 4), gorgonia.WithName("mask"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(1, 1, 4, 4), tensor.WithBacking(maskData))))
	layer := RAINLayer(g, 1, "rain")
	normed, err := rainNorm(x, mask, layer)
	require.NoError(t, err)
	out := evalNode(t, g, normed)

	inverse := make([]float64, 16)
	for i := range maskData {
		inverse[i] = 1.0 - maskData[i]
	}
	bgMeanIn, bgStdIn := regionStats(xData, inverse)
	bgMeanOut, bgStdOut := regionStats(out, inverse)
	fgMeanOut, fgStdOut := regionStats(out, maskData)

	// Background is normalized to zero mean and unit std.
	require.InDelta(t, 0.0, bgMeanOut, 1e-3)
	require.InDelta(t, 1.0, bgStdOut, 1e-2)
	// Foreground is re-styled with the background's original statistics.
	require.InDelta(t, bgMeanIn, fgMeanOut, 1e-2)
	require.InDelta(t, bgStdIn, fgStdOut, 1e-1)
}

func TestRainNormRequiresAffineParams(t *testing.T) {
	g := gorgonia.NewGraph()
	x := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, 1, 2, 2), gorgonia.WithName("x"))
	mask := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, 1, 2, 2), gorgonia.WithName("mask"))
	_, err := rainNorm(x, mask, &Layer{Type: LayerRAIN})
	require.Error(t, err)
}

func TestMaskAtResolution(t *testing.T) {
	g := gorgonia.NewGraph()
	x := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, 1, 2, 2), gorgonia.WithName("x"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking(make([]float64, 4)))))
	maskData := make([]float64, 16)
	maskData[0] = 1.0
	mask := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, 1, 4, 4), gorgonia.WithName("mask"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(1, 1, 4, 4), tensor.WithBacking(maskData))))

	pooled, err := maskAtResolution(x, mask)
	require.NoError(t, err)
	out := evalNode(t, g, pooled)
	// Max pooling keeps a pixel foreground if any covered pixel was.
	require.Equal(t, []float64{1.0, 0.0, 0.0, 0.0}, out)
}

func TestMaskAtResolutionRejectsNonMultiple(t *testing.T) {
	g := gorgonia.NewGraph()
	x := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, 1, 3, 3), gorgonia.WithName("x"))
	mask := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, 1, 4, 4), gorgonia.WithName("mask"))
	_, err := maskAtResolution(x, mask)
	require.Error(t, err)
}
