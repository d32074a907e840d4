package rainnet_go

import (
	"testing"

	rng "github.com/leesper/go_rng"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func validSample() *Sample {
	gaussian := rng.NewGaussianGenerator(11)
	maskData := make([]float64, 2*4*4)
	for i := 0; i < len(maskData)/2; i++ {
		maskData[i] = 1.0
	}
	return &Sample{
		Composite: NormRandDense(gaussian, 2, 3, 4, 4),
		Mask:      tensor.New(tensor.WithShape(2, 1, 4, 4), tensor.WithBacking(maskData)),
		Real:      NormRandDense(gaussian, 2, 3, 4, 4),
	}
}

func TestSampleValidate(t *testing.T) {
	require.NoError(t, validSample().Validate())

	t.Run("missing tensor", func(t *testing.T) {
		s := validSample()
		s.Real = nil
		require.Error(t, s.Validate())
	})
	t.Run("wrong dimensionality", func(t *testing.T) {
		s := validSample()
		s.Composite = tensor.New(tensor.WithShape(2, 3, 16), tensor.WithBacking(make([]float64, 96)))
		require.Error(t, s.Validate())
	})
	t.Run("batch mismatch", func(t *testing.T) {
		gaussian := rng.NewGaussianGenerator(12)
		s := validSample()
		s.Real = NormRandDense(gaussian, 1, 3, 4, 4)
		require.Error(t, s.Validate())
	})
	t.Run("multi channel mask", func(t *testing.T) {
		s := validSample()
		s.Mask = UniformRandDense(rng.NewUniformGenerator(13), 2, 2, 4, 4)
		require.Error(t, s.Validate())
	})
	t.Run("mask out of range", func(t *testing.T) {
		s := validSample()
		s.Mask.Data().([]float64)[0] = 1.5
		require.Error(t, s.Validate())
	})
	t.Run("spatial mismatch", func(t *testing.T) {
		gaussian := rng.NewGaussianGenerator(14)
		s := validSample()
		s.Real = NormRandDense(gaussian, 2, 3, 8, 8)
		require.Error(t, s.Validate())
	})
}

func TestSampleGeneratorInput(t *testing.T) {
	s := validSample()

	t.Run("matching channels pass the composite through", func(t *testing.T) {
		input, err := s.GeneratorInput(3)
		require.NoError(t, err)
		require.Equal(t, s.Composite, input)
	})
	t.Run("extra channel concatenates the mask", func(t *testing.T) {
		input, err := s.GeneratorInput(4)
		require.NoError(t, err)
		require.Equal(t, []int{2, 4, 4, 4}, []int(input.Shape()))
		// The fourth channel of every sample must be the mask itself.
		inputData := input.Data().([]float64)
		maskData := s.Mask.Data().([]float64)
		spatial := 16
		for n := 0; n < 2; n++ {
			offset := (n*4 + 3) * spatial
			for i := 0; i < spatial; i++ {
				require.Equal(t, maskData[n*spatial+i], inputData[offset+i])
			}
		}
	})
	t.Run("incompatible channel count", func(t *testing.T) {
		_, err := s.GeneratorInput(5)
		require.Error(t, err)
	})
}

func TestHarmonizeComposite(t *testing.T) {
	output := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float64{1.0, 2.0, 3.0, 4.0}))
	real := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float64{-1.0, -2.0, -3.0, -4.0}))

	t.Run("all ones mask keeps the output", func(t *testing.T) {
		mask := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float64{1.0, 1.0, 1.0, 1.0}))
		blended, err := HarmonizeComposite(output, mask, real)
		require.NoError(t, err)
		require.Equal(t, output.Data().([]float64), blended.Data().([]float64))
	})
	t.Run("all zeros mask keeps the ground truth", func(t *testing.T) {
		mask := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float64{0.0, 0.0, 0.0, 0.0}))
		blended, err := HarmonizeComposite(output, mask, real)
		require.NoError(t, err)
		require.Equal(t, real.Data().([]float64), blended.Data().([]float64))
	})
	t.Run("fractional mask interpolates", func(t *testing.T) {
		mask := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float64{0.5, 0.5, 0.5, 0.5}))
		blended, err := HarmonizeComposite(output, mask, real)
		require.NoError(t, err)
		require.Equal(t, []float64{0.0, 0.0, 0.0, 0.0}, blended.Data().([]float64))
	})
	t.Run("shape mismatch", func(t *testing.T) {
		mask := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking(make([]float64, 4)))
		wrong := tensor.New(tensor.WithShape(1, 1, 1, 4), tensor.WithBacking(make([]float64, 4)))
		_, err := HarmonizeComposite(output, mask, wrong)
		require.Error(t, err)
	})
}
