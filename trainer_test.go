package rainnet_go

import (
	"math"
	"testing"

	rng "github.com/leesper/go_rng"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func tinyTrainerConfig() TrainerConfig {
	cfg := DefaultTrainerConfig()
	cfg.BatchSize = 2
	cfg.ImageChannels = 1
	cfg.InputChannels = 2
	cfg.ImageHeight = 4
	cfg.ImageWidth = 4
	cfg.GeneratorLR = 1e-3
	cfg.DiscriminatorLR = 1e-3
	cfg.LambdaL1 = 10.0
	cfg.GPRatio = 10.0
	return cfg
}

// tinyGenerator 1x1 convolution folding composite and mask channels into one
// output channel, tanh to keep the output in [-1;1].
func tinyGenerator(g *gorgonia.ExprGraph) (*GeneratorNet, error) {
	return Generator(&Layer{
		WeightNode:   gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, 2, 1, 1), gorgonia.WithName("gen_w"), gorgonia.WithInit(gorgonia.GlorotN(1.0))),
		Type:         LayerConvolutional,
		Activation:   Tanh,
		KernelHeight: 1, KernelWidth: 1,
		Padding: []int{0, 0}, Stride: []int{1, 1}, Dilation: []int{1, 1},
	}), nil
}

func tinyDiscriminator(g *gorgonia.ExprGraph) (*DiscriminatorNet, error) {
	return Discriminator(
		&Layer{Type: LayerFlatten, Activation: NoActivation},
		&Layer{
			WeightNode: gorgonia.NewTensor(g, gorgonia.Float64, 2, gorgonia.WithShape(1, 16), gorgonia.WithName("dis_w"), gorgonia.WithInit(gorgonia.GlorotN(1.0))),
			Type:       LayerLinear,
			Activation: NoActivation,
		},
	), nil
}

func trainerSample(t *testing.T) *Sample {
	t.Helper()
	set, err := GenerateSyntheticHarmonySet(2, 1, 4, 4, 99)
	require.NoError(t, err)
	sample, err := set.Batch(0, 2)
	require.NoError(t, err)
	return sample
}

func constantMaskSample(maskValue float64) *Sample {
	gaussian := rng.NewGaussianGenerator(5)
	maskData := make([]float64, 2*4*4)
	for i := range maskData {
		maskData[i] = maskValue
	}
	return &Sample{
		Composite: NormRandDense(gaussian, 2, 1, 4, 4),
		Mask:      tensor.New(tensor.WithShape(2, 1, 4, 4), tensor.WithBacking(maskData)),
		Real:      NormRandDense(gaussian, 2, 1, 4, 4),
	}
}

func weightSnapshot(n *gorgonia.Node) []float64 {
	data := n.Value().Data().([]float64)
	snapshot := make([]float64, len(data))
	copy(snapshot, data)
	return snapshot
}

func maxAbsDiff(a, b []float64) float64 {
	maxDiff := 0.0
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > maxDiff {
			maxDiff = d
		}
	}
	return maxDiff
}

func TestTrainerStepUpdatesBothNetworks(t *testing.T) {
	trainer, err := NewTrainer(tinyTrainerConfig(), tinyGenerator, tinyDiscriminator)
	require.NoError(t, err)
	defer trainer.Close()

	genBefore := weightSnapshot(trainer.Generator().Learnables()[0])
	disBefore := weightSnapshot(trainer.Discriminator().Learnables()[0])

	res, err := trainer.Step(trainerSample(t))
	require.NoError(t, err)

	require.Greater(t, maxAbsDiff(genBefore, weightSnapshot(trainer.Generator().Learnables()[0])), 0.0)
	require.Greater(t, maxAbsDiff(disBefore, weightSnapshot(trainer.Discriminator().Learnables()[0])), 0.0)

	require.Equal(t, []int{2, 1, 4, 4}, []int(res.Output.Shape()))
	require.Equal(t, []int{2, 1, 4, 4}, []int(res.Harmonized.Shape()))
	require.False(t, math.IsNaN(res.LossD))
	require.False(t, math.IsNaN(res.LossG))
	require.GreaterOrEqual(t, res.LossDGradientPenalty, 0.0)
	require.InDelta(t, res.LossGGlobal+res.LossGLocal, res.LossGGAN, 1e-12)
}

func TestTrainerDiscriminatorUntouchedByGeneratorStep(t *testing.T) {
	// With the critic's learning rate at zero its own optimizer step is a no-op,
	// so any weight drift after a full step could only come from the generator's
	// pass. The frozen mirror must make that impossible.
	cfg := tinyTrainerConfig()
	cfg.DiscriminatorLR = 0.0
	trainer, err := NewTrainer(cfg, tinyGenerator, tinyDiscriminator)
	require.NoError(t, err)
	defer trainer.Close()

	genBefore := weightSnapshot(trainer.Generator().Learnables()[0])
	disBefore := weightSnapshot(trainer.Discriminator().Learnables()[0])

	_, err = trainer.Step(trainerSample(t))
	require.NoError(t, err)

	require.Equal(t, disBefore, weightSnapshot(trainer.Discriminator().Learnables()[0]))
	require.Greater(t, maxAbsDiff(genBefore, weightSnapshot(trainer.Generator().Learnables()[0])), 0.0)
}

func TestTrainerZeroPenaltyRatio(t *testing.T) {
	cfg := tinyTrainerConfig()
	cfg.GPRatio = 0.0
	trainer, err := NewTrainer(cfg, tinyGenerator, tinyDiscriminator)
	require.NoError(t, err)
	defer trainer.Close()

	res, err := trainer.Step(trainerSample(t))
	require.NoError(t, err)
	require.Equal(t, 0.0, res.LossDGradientPenalty)
	require.InDelta(t, res.LossDReal+res.LossDFake, res.LossD, 1e-12)
}

func TestTrainerNonWassersteinModes(t *testing.T) {
	for _, mode := range []GANMode{GANModeVanilla, GANModeLSGAN} {
		t.Run(string(mode), func(t *testing.T) {
			cfg := tinyTrainerConfig()
			cfg.GANMode = mode
			trainer, err := NewTrainer(cfg, tinyGenerator, tinyDiscriminator)
			require.NoError(t, err)
			defer trainer.Close()

			res, err := trainer.Step(trainerSample(t))
			require.NoError(t, err)
			require.Equal(t, 0.0, res.LossDGradientPenalty)
			require.False(t, math.IsNaN(res.LossD))
			require.False(t, math.IsNaN(res.LossG))
		})
	}
}

func TestTrainerHarmonizedBlendMaskExtremes(t *testing.T) {
	trainer, err := NewTrainer(tinyTrainerConfig(), tinyGenerator, tinyDiscriminator)
	require.NoError(t, err)
	defer trainer.Close()

	t.Run("all ones mask keeps the output", func(t *testing.T) {
		res, err := trainer.Step(constantMaskSample(1.0))
		require.NoError(t, err)
		require.InDelta(t, 0.0, maxAbsDiff(res.Harmonized.Data().([]float64), res.Output.Data().([]float64)), 1e-12)
	})
	t.Run("all zeros mask keeps the ground truth", func(t *testing.T) {
		sample := constantMaskSample(0.0)
		res, err := trainer.Step(sample)
		require.NoError(t, err)
		require.InDelta(t, 0.0, maxAbsDiff(res.Harmonized.Data().([]float64), sample.Real.Data().([]float64)), 1e-12)
	})
}

func TestTrainerHarmonizedMatchesHostBlend(t *testing.T) {
	trainer, err := NewTrainer(tinyTrainerConfig(), tinyGenerator, tinyDiscriminator)
	require.NoError(t, err)
	defer trainer.Close()

	sample := trainerSample(t)
	res, err := trainer.Step(sample)
	require.NoError(t, err)

	expected, err := HarmonizeComposite(res.Output, sample.Mask, sample.Real)
	require.NoError(t, err)
	require.InDelta(t, 0.0, maxAbsDiff(expected.Data().([]float64), res.Harmonized.Data().([]float64)), 1e-9)
}

func TestTrainerRejectsBadSetups(t *testing.T) {
	cfg := tinyTrainerConfig()
	cfg.GANMode = GANMode("unknown")
	_, err := NewTrainer(cfg, tinyGenerator, tinyDiscriminator)
	require.Error(t, err)

	_, err = NewTrainer(tinyTrainerConfig(), nil, tinyDiscriminator)
	require.Error(t, err)

	trainer, err := NewTrainer(tinyTrainerConfig(), tinyGenerator, tinyDiscriminator)
	require.NoError(t, err)
	defer trainer.Close()

	set, err := GenerateSyntheticHarmonySet(1, 1, 4, 4, 99)
	require.NoError(t, err)
	wrongBatch, err := set.Batch(0, 1)
	require.NoError(t, err)
	_, err = trainer.Step(wrongBatch)
	require.Error(t, err)
}

func TestMirrorSharesDiscriminatorWeights(t *testing.T) {
	g := gorgonia.NewGraph()
	dis, err := tinyDiscriminator(g)
	require.NoError(t, err)

	mirrorGraph := gorgonia.NewGraph()
	mirrored, err := dis.Mirror(mirrorGraph)
	require.NoError(t, err)

	original := dis.Learnables()[0]
	copied := mirrored.Learnables()[0]
	require.NotEqual(t, original.Name(), copied.Name())

	// Same backing slice: an optimizer step on the original is visible to the mirror.
	original.Value().Data().([]float64)[0] = 42.0
	require.Equal(t, 42.0, copied.Value().Data().([]float64)[0])
}
