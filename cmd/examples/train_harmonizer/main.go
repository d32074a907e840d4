package main

import (
	"flag"
	"fmt"
	"log"

	rainnet "github.com/LdDl/rainnet-go"
	"gorgonia.org/gorgonia"
)

const (
	imageChannels = 3
	imageSize     = 32
	baseFilters   = 16
)

func main() {
	epochs := flag.Int("epochs", 5, "Number of training epochs")
	numSamples := flag.Int("samples", 64, "Number of synthetic samples to generate")
	batchSize := flag.Int("batch", 4, "Batch size")
	ganMode := flag.String("gan-mode", "wgangp", "Adversarial objective: vanilla | lsgan | wgangp")
	gpRatio := flag.Float64("gp-ratio", 10.0, "Gradient penalty weight (wgangp only)")
	lambdaL1 := flag.Float64("lambda-l1", 100.0, "Reconstruction loss weight")
	lr := flag.Float64("lr", 2e-4, "Learning rate for both networks")
	seed := flag.Int64("seed", 1337, "Random seed")
	plotFile := flag.String("plot", "harmonizer_losses.png", "Loss history plot file")
	checkpointFile := flag.String("checkpoint", "harmonizer_generator.gob", "Generator checkpoint file")
	flag.Parse()

	cfg := rainnet.DefaultTrainerConfig()
	cfg.GANMode = rainnet.GANMode(*ganMode)
	cfg.GPRatio = *gpRatio
	cfg.LambdaL1 = *lambdaL1
	cfg.GeneratorLR = *lr
	cfg.DiscriminatorLR = *lr
	cfg.BatchSize = *batchSize
	cfg.ImageChannels = imageChannels
	// Mask travels into the generator as a fourth channel.
	cfg.InputChannels = imageChannels + 1
	cfg.ImageHeight = imageSize
	cfg.ImageWidth = imageSize
	cfg.Seed = *seed

	dataset, err := rainnet.GenerateSyntheticHarmonySet(*numSamples, imageChannels, imageSize, imageSize, *seed)
	if err != nil {
		log.Fatalf("Can't generate synthetic dataset: %v", err)
	}

	trainer, err := rainnet.NewTrainer(cfg,
		func(g *gorgonia.ExprGraph) (*rainnet.GeneratorNet, error) {
			return buildGenerator(g), nil
		},
		func(g *gorgonia.ExprGraph) (*rainnet.DiscriminatorNet, error) {
			return buildDiscriminator(g), nil
		},
	)
	if err != nil {
		log.Fatalf("Can't init trainer: %v", err)
	}
	defer trainer.Close()

	history := map[string][]float64{}
	batches := dataset.DataLength / cfg.BatchSize
	step := 0
	for epoch := 0; epoch < *epochs; epoch++ {
		for b := 0; b < batches; b++ {
			sample, err := dataset.Batch(b*cfg.BatchSize, (b+1)*cfg.BatchSize)
			if err != nil {
				log.Fatalf("Can't cut batch #%d: %v", b, err)
			}
			res, err := trainer.Step(sample)
			if err != nil {
				log.Fatalf("Training step failed at epoch %d batch %d: %v", epoch, b, err)
			}
			history["loss_d"] = append(history["loss_d"], res.LossD)
			history["loss_d_gp"] = append(history["loss_d_gp"], res.LossDGradientPenalty)
			history["loss_g_gan"] = append(history["loss_g_gan"], res.LossGGAN)
			history["loss_g_l1"] = append(history["loss_g_l1"], res.LossGL1)
			if step%10 == 0 {
				fmt.Printf("Epoch %d/%d | Batch %d/%d | D: %.4f (real %.4f fake %.4f gp %.4f) | G: %.4f (gan %.4f l1 %.4f)\n",
					epoch+1, *epochs, b+1, batches,
					res.LossD, res.LossDReal, res.LossDFake, res.LossDGradientPenalty,
					res.LossG, res.LossGGAN, res.LossGL1)
			}
			step++
		}
	}

	if err := rainnet.PlotLossHistory(history, *plotFile); err != nil {
		log.Fatalf("Can't plot loss history: %v", err)
	}
	fmt.Printf("Loss history saved to '%s'\n", *plotFile)

	if err := rainnet.SaveLearnables(*checkpointFile, trainer.Generator().Learnables()); err != nil {
		log.Fatalf("Can't save generator checkpoint: %v", err)
	}
	fmt.Printf("Generator checkpoint saved to '%s'\n", *checkpointFile)

	// Score the first batch: composite vs ground truth against harmonized vs ground truth.
	sample, err := dataset.Batch(0, cfg.BatchSize)
	if err != nil {
		log.Fatalf("Can't cut evaluation batch: %v", err)
	}
	harmonized, err := trainer.Harmonize(sample)
	if err != nil {
		log.Fatalf("Can't harmonize evaluation batch: %v", err)
	}
	psnrBefore, err := rainnet.PSNR(sample.Composite, sample.Real, 2.0)
	if err != nil {
		log.Fatalf("Can't evaluate composite PSNR: %v", err)
	}
	psnrAfter, err := rainnet.PSNR(harmonized, sample.Real, 2.0)
	if err != nil {
		log.Fatalf("Can't evaluate harmonized PSNR: %v", err)
	}
	fmt.Printf("PSNR composite: %.2f dB | PSNR harmonized: %.2f dB\n", psnrBefore, psnrAfter)
}

// buildGenerator RainNet-flavored encoder/decoder: strided convolutions down, region-aware
// normalization after each feature stage, nearest-neighbour upsampling back up, tanh output.
func buildGenerator(g *gorgonia.ExprGraph) *rainnet.GeneratorNet {
	return rainnet.Generator(
		&rainnet.Layer{
			WeightNode:   gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(baseFilters, imageChannels+1, 3, 3), gorgonia.WithName("g_conv_0"), gorgonia.WithInit(gorgonia.GlorotN(1.0))),
			Type:         rainnet.LayerConvolutional,
			Activation:   rainnet.LeakyRectify,
			KernelHeight: 3, KernelWidth: 3,
			Padding: []int{1, 1}, Stride: []int{1, 1}, Dilation: []int{1, 1},
		},
		rainnet.RAINLayer(g, baseFilters, "g_rain_0"),
		&rainnet.Layer{
			WeightNode:   gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(2*baseFilters, baseFilters, 3, 3), gorgonia.WithName("g_conv_1"), gorgonia.WithInit(gorgonia.GlorotN(1.0))),
			Type:         rainnet.LayerConvolutional,
			Activation:   rainnet.LeakyRectify,
			KernelHeight: 3, KernelWidth: 3,
			Padding: []int{1, 1}, Stride: []int{2, 2}, Dilation: []int{1, 1},
		},
		rainnet.RAINLayer(g, 2*baseFilters, "g_rain_1"),
		&rainnet.Layer{
			WeightNode:   gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(2*baseFilters, 2*baseFilters, 3, 3), gorgonia.WithName("g_conv_2"), gorgonia.WithInit(gorgonia.GlorotN(1.0))),
			Type:         rainnet.LayerConvolutional,
			Activation:   rainnet.Rectify,
			KernelHeight: 3, KernelWidth: 3,
			Padding: []int{1, 1}, Stride: []int{1, 1}, Dilation: []int{1, 1},
		},
		&rainnet.Layer{
			Type:        rainnet.LayerUpsample,
			Activation:  rainnet.NoActivation,
			ScaleFactor: 2,
		},
		&rainnet.Layer{
			WeightNode:   gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(baseFilters, 2*baseFilters, 3, 3), gorgonia.WithName("g_conv_3"), gorgonia.WithInit(gorgonia.GlorotN(1.0))),
			Type:         rainnet.LayerConvolutional,
			Activation:   rainnet.Rectify,
			KernelHeight: 3, KernelWidth: 3,
			Padding: []int{1, 1}, Stride: []int{1, 1}, Dilation: []int{1, 1},
		},
		rainnet.RAINLayer(g, baseFilters, "g_rain_2"),
		&rainnet.Layer{
			WeightNode:   gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(imageChannels, baseFilters, 3, 3), gorgonia.WithName("g_conv_4"), gorgonia.WithInit(gorgonia.GlorotN(1.0))),
			Type:         rainnet.LayerConvolutional,
			Activation:   rainnet.Tanh,
			KernelHeight: 3, KernelWidth: 3,
			Padding: []int{1, 1}, Stride: []int{1, 1}, Dilation: []int{1, 1},
		},
	)
}

// buildDiscriminator Patch critic over the whole image plus a local head over the
// mask-gated image.
func buildDiscriminator(g *gorgonia.ExprGraph) *rainnet.DiscriminatorNet {
	return rainnet.Discriminator(patchCritic(g, "d_global")...).
		WithLocalHead(patchCritic(g, "d_local")...)
}

func patchCritic(g *gorgonia.ExprGraph, prefix string) []*rainnet.Layer {
	return []*rainnet.Layer{
		{
			WeightNode:   gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(baseFilters, imageChannels, 3, 3), gorgonia.WithName(prefix+"_conv_0"), gorgonia.WithInit(gorgonia.GlorotN(1.0))),
			Type:         rainnet.LayerConvolutional,
			Activation:   rainnet.LeakyRectify,
			KernelHeight: 3, KernelWidth: 3,
			Padding: []int{1, 1}, Stride: []int{2, 2}, Dilation: []int{1, 1},
		},
		{
			WeightNode:   gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(2*baseFilters, baseFilters, 3, 3), gorgonia.WithName(prefix+"_conv_1"), gorgonia.WithInit(gorgonia.GlorotN(1.0))),
			Type:         rainnet.LayerConvolutional,
			Activation:   rainnet.LeakyRectify,
			KernelHeight: 3, KernelWidth: 3,
			Padding: []int{1, 1}, Stride: []int{2, 2}, Dilation: []int{1, 1},
		},
		{
			WeightNode:   gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, 2*baseFilters, 3, 3), gorgonia.WithName(prefix+"_conv_2"), gorgonia.WithInit(gorgonia.GlorotN(1.0))),
			Type:         rainnet.LayerConvolutional,
			Activation:   rainnet.NoActivation,
			KernelHeight: 3, KernelWidth: 3,
			Padding: []int{1, 1}, Stride: []int{1, 1}, Dilation: []int{1, 1},
		},
	}
}
