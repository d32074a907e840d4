package rainnet_go

import (
	"fmt"
)

// TrainerConfig Hyperparameters of one adversarial training step. Zero value is not
// usable; start from DefaultTrainerConfig and override.
type TrainerConfig struct {
	// GANMode selects the adversarial objective: vanilla | lsgan | wgangp.
	GANMode GANMode
	// LambdaL1 weights the reconstruction loss between generator output and ground truth.
	LambdaL1 float64
	// LambdaGlobal weights the whole-image adversarial term of the generator loss.
	LambdaGlobal float64
	// LambdaLocal weights the region adversarial term (ignored without a local head).
	LambdaLocal float64
	// GPRatio weights the gradient penalty (wgangp only).
	GPRatio float64

	GeneratorLR     float64
	DiscriminatorLR float64
	Beta1           float64
	Beta2           float64

	// BatchSize is fixed per trainer: graphs are compiled for one batch shape.
	BatchSize int
	// InputChannels is the generator's input channel count; image channels or
	// image channels + 1 to consume the mask as an extra channel.
	InputChannels int
	// ImageChannels / ImageHeight / ImageWidth describe the sample tensors.
	ImageChannels int
	ImageHeight   int
	ImageWidth    int

	// Seed drives the interpolation coefficients of the gradient penalty.
	Seed int64
}

// DefaultTrainerConfig Values matching the reference harmonization setup.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		GANMode:         GANModeWGANGP,
		LambdaL1:        100.0,
		LambdaGlobal:    1.0,
		LambdaLocal:     1.0,
		GPRatio:         10.0,
		GeneratorLR:     2e-4,
		DiscriminatorLR: 2e-4,
		Beta1:           0.5,
		Beta2:           0.999,
		BatchSize:       1,
		InputChannels:   3,
		ImageChannels:   3,
		ImageHeight:     256,
		ImageWidth:      256,
		Seed:            1337,
	}
}

// Validate Fails fast on unusable configurations.
func (cfg *TrainerConfig) Validate() error {
	if !cfg.GANMode.Valid() {
		return fmt.Errorf("GAN mode '%s' is not supported (want vanilla | lsgan | wgangp)", cfg.GANMode)
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("Batch size must be positive, but got %d", cfg.BatchSize)
	}
	if cfg.ImageChannels < 1 || cfg.ImageHeight < 1 || cfg.ImageWidth < 1 {
		return fmt.Errorf("Invalid image dimensions (%d,%d,%d)", cfg.ImageChannels, cfg.ImageHeight, cfg.ImageWidth)
	}
	if cfg.InputChannels != cfg.ImageChannels && cfg.InputChannels != cfg.ImageChannels+1 {
		return fmt.Errorf("Generator input channels %d must equal image channels %d or exceed them by one (mask channel)", cfg.InputChannels, cfg.ImageChannels)
	}
	if cfg.GeneratorLR < 0 || cfg.DiscriminatorLR < 0 {
		return fmt.Errorf("Learning rates must be non-negative")
	}
	if cfg.GPRatio < 0 {
		return fmt.Errorf("Gradient penalty ratio must be non-negative, but got %f", cfg.GPRatio)
	}
	return nil
}
