package rainnet_go

import (
	"fmt"

	rng "github.com/leesper/go_rng"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// HarmonySet In-memory batch supplier for harmonization training: parallel tensors of
// composites, masks and ground-truth images, sliced along the batch axis per step.
type HarmonySet struct {
	Composites *tensor.Dense
	Masks      *tensor.Dense
	Reals      *tensor.Dense
	DataLength int
}

// Batch Cuts samples [start;end) out of the set and validates the resulting tuple.
func (set *HarmonySet) Batch(start, end int) (*Sample, error) {
	if start < 0 || end > set.DataLength || start >= end {
		return nil, fmt.Errorf("Batch bounds [%d;%d) are out of range for %d samples", start, end, set.DataLength)
	}
	composite, err := sliceBatch(set.Composites, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "Can't slice composites")
	}
	mask, err := sliceBatch(set.Masks, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "Can't slice masks")
	}
	real, err := sliceBatch(set.Reals, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "Can't slice reals")
	}
	sample := &Sample{Composite: composite, Mask: mask, Real: real}
	if err := sample.Validate(); err != nil {
		return nil, errors.Wrap(err, "Sliced batch is not a valid sample")
	}
	return sample, nil
}

func sliceBatch(t *tensor.Dense, start, end int) (*tensor.Dense, error) {
	view, err := t.Slice(SlicerOneStep{StartIdx: start, EndIdx: end})
	if err != nil {
		return nil, err
	}
	materialized := view.Materialize()
	dense, ok := materialized.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("Materialized batch slice is not a dense tensor")
	}
	return dense, nil
}

// GenerateSyntheticHarmonySet Builds a synthetic harmonization dataset: ground-truth
// images are random smooth fields, masks are random axis-aligned rectangles, and
// composites repeat the ground truth with a per-channel gain/shift perturbation inside
// the masked region — exactly the appearance mismatch the generator must learn to undo.
func GenerateSyntheticHarmonySet(numSamples, channels, height, width int, seed int64) (*HarmonySet, error) {
	if numSamples < 1 || channels < 1 || height < 2 || width < 2 {
		return nil, fmt.Errorf("Invalid synthetic set dimensions: %d samples of (%d,%d,%d)", numSamples, channels, height, width)
	}
	uniform := rng.NewUniformGenerator(seed)
	gaussian := rng.NewGaussianGenerator(seed + 1)

	spatial := height * width
	reals := make([]float64, numSamples*channels*spatial)
	masks := make([]float64, numSamples*spatial)
	composites := make([]float64, numSamples*channels*spatial)

	for n := 0; n < numSamples; n++ {
		// Random rectangle covering roughly a quarter of the image.
		top := int(uniform.Float64() * float64(height/2))
		left := int(uniform.Float64() * float64(width/2))
		bottom := top + height/2
		right := left + width/2
		for y := top; y < bottom; y++ {
			for x := left; x < right; x++ {
				masks[n*spatial+y*width+x] = 1.0
			}
		}
		for c := 0; c < channels; c++ {
			gain := 1.0 + 0.5*gaussian.Gaussian(0.0, 1.0)
			shift := 0.3 * gaussian.Gaussian(0.0, 1.0)
			offset := (n*channels + c) * spatial
			for i := 0; i < spatial; i++ {
				v := uniform.Float64Range(-1.0, 1.0)
				reals[offset+i] = v
				if masks[n*spatial+i] > 0 {
					composites[offset+i] = clampUnit(v*gain + shift)
				} else {
					composites[offset+i] = v
				}
			}
		}
	}

	return &HarmonySet{
		Composites: tensor.New(tensor.WithShape(numSamples, channels, height, width), tensor.WithBacking(composites)),
		Masks:      tensor.New(tensor.WithShape(numSamples, 1, height, width), tensor.WithBacking(masks)),
		Reals:      tensor.New(tensor.WithShape(numSamples, channels, height, width), tensor.WithBacking(reals)),
		DataLength: numSamples,
	}, nil
}

func clampUnit(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}
