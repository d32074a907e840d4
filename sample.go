package rainnet_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Sample One batched training tuple for harmonization:
//
// Composite - composited scene where a foreground has been pasted onto a background, (batch, channels, height, width)
// Mask - single-channel foreground mask with values in [0;1], (batch, 1, height, width)
// Real - ground-truth image, same shape as Composite
type Sample struct {
	Composite *tensor.Dense
	Mask      *tensor.Dense
	Real      *tensor.Dense
}

// Validate Checks the invariants every trainer step relies on. Violations are
// programmer/configuration errors, hence returned immediately instead of being recovered.
func (s *Sample) Validate() error {
	if s.Composite == nil || s.Mask == nil || s.Real == nil {
		return fmt.Errorf("Sample must carry composite, mask and real tensors")
	}
	if s.Composite.Dims() != 4 || s.Mask.Dims() != 4 || s.Real.Dims() != 4 {
		return fmt.Errorf("Sample tensors must be 4D (batch, channels, height, width), but got %dD/%dD/%dD", s.Composite.Dims(), s.Mask.Dims(), s.Real.Dims())
	}
	cs, ms, rs := s.Composite.Shape(), s.Mask.Shape(), s.Real.Shape()
	if cs[0] < 1 {
		return fmt.Errorf("Sample batch must have one element atleast")
	}
	if cs[0] != ms[0] || cs[0] != rs[0] {
		return fmt.Errorf("Sample batch sizes mismatch: composite %d, mask %d, real %d", cs[0], ms[0], rs[0])
	}
	if ms[1] != 1 {
		return fmt.Errorf("Mask must have a single channel, but got %d", ms[1])
	}
	if cs[1] != rs[1] {
		return fmt.Errorf("Composite and real channel counts mismatch: %d vs %d", cs[1], rs[1])
	}
	if cs[2] != ms[2] || cs[3] != ms[3] || cs[2] != rs[2] || cs[3] != rs[3] {
		return fmt.Errorf("Sample spatial dimensions mismatch: composite %v, mask %v, real %v", cs, ms, rs)
	}
	maskData, ok := s.Mask.Data().([]float64)
	if !ok {
		return fmt.Errorf("Mask must be backed by float64 data")
	}
	for i := range maskData {
		if maskData[i] < 0.0 || maskData[i] > 1.0 {
			return fmt.Errorf("Mask value %f at flat index %d is outside [0;1]", maskData[i], i)
		}
	}
	return nil
}

// BatchSize Number of samples in the batch.
func (s *Sample) BatchSize() int {
	return s.Composite.Shape()[0]
}

// GeneratorInput Derives the generator's input from the sample: the composite itself
// when the generator consumes as many channels as the image has, or the composite with
// the mask concatenated as an extra channel (the input_nc==4 configuration).
func (s *Sample) GeneratorInput(inputChannels int) (*tensor.Dense, error) {
	imageChannels := s.Composite.Shape()[1]
	if inputChannels == imageChannels {
		return s.Composite, nil
	}
	if inputChannels == imageChannels+1 {
		concatenated, err := s.Composite.Concat(1, s.Mask)
		if err != nil {
			return nil, errors.Wrap(err, "Can't concatenate mask channel to composite")
		}
		return concatenated, nil
	}
	return nil, fmt.Errorf("Generator input channels %d don't match image channels %d (nor %d+1)", inputChannels, imageChannels, imageChannels)
}

// HarmonizeComposite Blends a generator output with the ground truth background:
// output*mask + real*(1-mask). Host-side counterpart of the in-graph blend, used
// for inference-time visualization.
func HarmonizeComposite(output, mask, real *tensor.Dense) (*tensor.Dense, error) {
	if !output.Shape().Eq(real.Shape()) {
		return nil, fmt.Errorf("Output shape %v and real shape %v mismatch", output.Shape(), real.Shape())
	}
	shape := output.Shape()
	b, c, h, w := shape[0], shape[1], shape[2], shape[3]
	outData, ok := output.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("Output must be backed by float64 data")
	}
	maskData, ok := mask.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("Mask must be backed by float64 data")
	}
	realData, ok := real.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("Real must be backed by float64 data")
	}
	spatial := h * w
	blended := make([]float64, len(outData))
	for n := 0; n < b; n++ {
		for ch := 0; ch < c; ch++ {
			imgOffset := (n*c + ch) * spatial
			maskOffset := n * spatial
			for i := 0; i < spatial; i++ {
				m := maskData[maskOffset+i]
				blended[imgOffset+i] = outData[imgOffset+i]*m + realData[imgOffset+i]*(1.0-m)
			}
		}
	}
	return tensor.New(tensor.WithShape(b, c, h, w), tensor.WithBacking(blended)), nil
}
