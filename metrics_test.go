package rainnet_go

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestMSEMetric(t *testing.T) {
	a := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float64{1.0, 2.0, 3.0, 4.0}))
	b := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float64{0.0, 0.0, 0.0, 0.0}))
	got, err := MSEMetric(a, b)
	require.NoError(t, err)
	require.InDelta(t, 7.5, got, 1e-12)

	wrong := tensor.New(tensor.WithShape(1, 1, 1, 4), tensor.WithBacking(make([]float64, 4)))
	_, err = MSEMetric(a, wrong)
	require.Error(t, err)
}

func TestPSNR(t *testing.T) {
	a := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float64{1.0, 2.0, 3.0, 4.0}))
	b := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float64{0.0, 0.0, 0.0, 0.0}))
	got, err := PSNR(a, b, 2.0)
	require.NoError(t, err)
	require.InDelta(t, 10.0*math.Log10(4.0/7.5), got, 1e-12)

	same, err := PSNR(a, a, 2.0)
	require.NoError(t, err)
	require.True(t, math.IsInf(same, 1))
}

func TestForegroundMSE(t *testing.T) {
	a := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float64{1.0, 2.0, 3.0, 4.0}))
	b := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float64{0.0, 0.0, 0.0, 0.0}))

	// Only the first two pixels are foreground: (1 + 4) / 2.
	mask := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float64{1.0, 1.0, 0.0, 0.0}))
	got, err := ForegroundMSE(a, b, mask)
	require.NoError(t, err)
	require.InDelta(t, 2.5, got, 1e-12)

	empty := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking(make([]float64, 4)))
	_, err = ForegroundMSE(a, b, empty)
	require.Error(t, err)
}
