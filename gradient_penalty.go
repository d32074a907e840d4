package rainnet_go

import (
	"fmt"
	"math"

	rng "github.com/leesper/go_rng"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	// Added to input gradients before taking their norm, so an exactly-zero
	// gradient doesn't produce a NaN.
	gradientNormEps = 1e-16
	// Step of the central finite difference used for the penalty's second-order term.
	fdDelta = 1e-3
)

// GradientPenaltyResult Everything one penalty evaluation produces: the penalty scalar,
// the raw per-sample input gradients for diagnostics, and the precomputed inputs of the
// finite-difference surrogate term that carries the penalty's gradient into the critic's
// parameters (see NewGradientPenalty).
type GradientPenaltyResult struct {
	Penalty      float64
	Gradients    *tensor.Dense
	Interpolated *tensor.Dense
	Plus         *tensor.Dense
	Minus        *tensor.Dense
	Coefficients *tensor.Dense
	Delta        float64
}

// GradientPenalty Enforces the 1-Lipschitz constraint of the Wasserstein critic by
// penalizing the critic's input-gradient norm at random interpolations between real and
// fake samples: penalty = mean((||∂D/∂x|| - 1)^2).
//
// The input gradient itself comes from a dedicated probe graph via symbolic
// differentiation. Gorgonia's symbolic Grad cannot be applied again to a graph that
// already contains derivative nodes, so the penalty's own backward pass into the
// critic's parameters is realized as a first-order surrogate instead: with g the input
// gradient and u = g/||g|| held fixed,
//
//	d/dθ mean((||g||-1)^2) = mean(2(||g||-1) * d/dθ (u·g))
//
// and u·g is the directional derivative of D along u, approximated by the central
// difference (D(x+δu) - D(x-δu)) / 2δ. The trainer adds
// Σ coeff_b * (D(x_b+δu_b) - D(x_b-δu_b)) / 2δ to the discriminator loss; that term's
// parameter gradient approximates the penalty's, while the reported penalty value is
// the exact one computed here.
type GradientPenalty struct {
	graph     *gorgonia.ExprGraph
	interp    *gorgonia.Node
	mask      *gorgonia.Node
	gradVal   gorgonia.Value
	vm        gorgonia.VM
	uniform   *rng.UniformGenerator
	batchSize int
}

// NewGradientPenalty Builds the probe graph: a frozen copy of the discriminator
// evaluated on the interpolated input, with the summed score differentiated w.r.t.
// that input.
func NewGradientPenalty(dis *DiscriminatorNet, batchSize, channels, height, width int, seed int64) (*GradientPenalty, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("Gradient penalty requires a positive batch size, but got %d", batchSize)
	}
	g := gorgonia.NewGraph()
	gp := &GradientPenalty{
		graph:     g,
		interp:    gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(batchSize, channels, height, width), gorgonia.WithName("gp_interpolated")),
		mask:      gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(batchSize, 1, height, width), gorgonia.WithName("gp_mask")),
		uniform:   rng.NewUniformGenerator(seed),
		batchSize: batchSize,
	}
	mirrored, err := dis.Mirror(g)
	if err != nil {
		return nil, errors.Wrap(err, "Can't mirror discriminator onto penalty graph")
	}
	if _, _, err := mirrored.Fwd(gp.interp, gp.mask, batchSize); err != nil {
		return nil, errors.Wrap(err, "Can't initialize discriminator feedforward on penalty graph")
	}
	scores, err := mirrored.PenaltyScores()
	if err != nil {
		return nil, errors.Wrap(err, "Can't build penalty scores")
	}
	total, err := gorgonia.Sum(scores)
	if err != nil {
		return nil, errors.Wrap(err, "Can't sum penalty scores")
	}
	inputGrads, err := gorgonia.Grad(total, gp.interp)
	if err != nil {
		return nil, errors.Wrap(err, "Can't differentiate critic score w.r.t. interpolated input")
	}
	gorgonia.Read(inputGrads[0], &gp.gradVal)
	gp.vm = gorgonia.NewTapeMachine(g)
	return gp, nil
}

// Close Releases the probe tape machine.
func (gp *GradientPenalty) Close() error {
	return gp.vm.Close()
}

// Compute Evaluates the penalty between real and fake batches of identical shape.
// A zero-sized batch is a precondition violation rejected at construction; batch
// size of 1 needs no special casing.
func (gp *GradientPenalty) Compute(real, fake, mask *tensor.Dense) (*GradientPenaltyResult, error) {
	if !real.Shape().Eq(fake.Shape()) {
		return nil, fmt.Errorf("Real shape %v and fake shape %v mismatch", real.Shape(), fake.Shape())
	}
	realData, ok := real.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("Real must be backed by float64 data")
	}
	fakeData, ok := fake.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("Fake must be backed by float64 data")
	}
	sampleSize := len(realData) / gp.batchSize

	// One interpolation coefficient per sample, broadcast over the whole sample.
	interpData := make([]float64, len(realData))
	for b := 0; b < gp.batchSize; b++ {
		alpha := gp.uniform.Float64()
		offset := b * sampleSize
		for i := 0; i < sampleSize; i++ {
			interpData[offset+i] = alpha*realData[offset+i] + (1.0-alpha)*fakeData[offset+i]
		}
	}
	interpolated := tensor.New(tensor.WithShape(real.Shape()...), tensor.WithBacking(interpData))

	if err := gorgonia.Let(gp.interp, interpolated); err != nil {
		return nil, errors.Wrap(err, "Can't init interpolated input value")
	}
	if err := gorgonia.Let(gp.mask, mask); err != nil {
		return nil, errors.Wrap(err, "Can't init mask value")
	}
	if err := gp.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run penalty probe")
	}
	gp.vm.Reset()

	gradDense, ok := gp.gradVal.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("Input gradient is not a dense tensor")
	}
	gradients, ok := gradDense.Clone().(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("Can't clone input gradient")
	}
	gradData := gradients.Data().([]float64)

	penalty := 0.0
	plusData := make([]float64, len(interpData))
	minusData := make([]float64, len(interpData))
	coeffs := make([]float64, gp.batchSize)
	for b := 0; b < gp.batchSize; b++ {
		offset := b * sampleSize
		sumSq := 0.0
		for i := 0; i < sampleSize; i++ {
			v := gradData[offset+i] + gradientNormEps
			sumSq += v * v
		}
		norm := math.Sqrt(sumSq)
		penalty += (norm - 1.0) * (norm - 1.0)
		coeffs[b] = 2.0 * (norm - 1.0) / float64(gp.batchSize)
		for i := 0; i < sampleSize; i++ {
			u := gradData[offset+i] / norm
			plusData[offset+i] = interpData[offset+i] + fdDelta*u
			minusData[offset+i] = interpData[offset+i] - fdDelta*u
		}
	}
	penalty /= float64(gp.batchSize)

	if err := gradients.Reshape(gp.batchSize, sampleSize); err != nil {
		return nil, errors.Wrap(err, "Can't flatten per-sample gradients")
	}
	return &GradientPenaltyResult{
		Penalty:      penalty,
		Gradients:    gradients,
		Interpolated: interpolated,
		Plus:         tensor.New(tensor.WithShape(real.Shape()...), tensor.WithBacking(plusData)),
		Minus:        tensor.New(tensor.WithShape(real.Shape()...), tensor.WithBacking(minusData)),
		Coefficients: tensor.New(tensor.WithShape(gp.batchSize), tensor.WithBacking(coeffs)),
		Delta:        fdDelta,
	}, nil
}
