package rainnet_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

type LossReduction uint16

const (
	LossReductionSum = LossReduction(iota)
	LossReductionMean
)

// MSELoss See ref. https://en.wikipedia.org/wiki/Mean_squared_error
// Default reduction is 'mean'
func MSELoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	sqr, err := gorgonia.Square(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(sqr)
	case LossReductionMean:
		return gorgonia.Mean(sqr)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// L1Loss See ref. https://en.wikipedia.org/wiki/Least_absolute_deviations
// Default reduction is 'mean'
func L1Loss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	abs, err := gorgonia.Abs(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do |x|")
	}

	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(abs)
	case LossReductionMean:
		return gorgonia.Mean(abs)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// GANMode Adversarial objective selector, same set as the reference harmonization
// model: 'vanilla' (BCE-with-logits), 'lsgan' (least squares), 'wgangp'
// (hinge critic with gradient penalty).
type GANMode string

const (
	GANModeVanilla = GANMode("vanilla")
	GANModeLSGAN   = GANMode("lsgan")
	GANModeWGANGP  = GANMode("wgangp")
)

// Valid Reports whether the mode is one of the supported objectives.
func (m GANMode) Valid() bool {
	switch m {
	case GANModeVanilla, GANModeLSGAN, GANModeWGANGP:
		return true
	}
	return false
}

// CriticLoss Discriminator-side adversarial loss for raw (non-sigmoid) scores.
//
// vanilla: mean of softplus(-x) against real targets and softplus(x) against fake ones,
// which is BCE-with-logits with fixed 1/0 labels written in its numerically stable form.
// lsgan: mean squared distance to the fixed 1/0 labels.
// wgangp: hinge form of the critic objective, mean(relu(1-x)) for real
// and mean(relu(1+x)) for fake samples.
func CriticLoss(prediction *gorgonia.Node, targetIsReal bool, mode GANMode) (*gorgonia.Node, error) {
	switch mode {
	case GANModeVanilla:
		logits := prediction
		if targetIsReal {
			neg, err := gorgonia.Neg(prediction)
			if err != nil {
				return nil, errors.Wrap(err, "Can't do -x")
			}
			logits = neg
		}
		sp, err := gorgonia.Softplus(logits)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do softplus(x)")
		}
		return gorgonia.Mean(sp)
	case GANModeLSGAN:
		target := 0.0
		if targetIsReal {
			target = 1.0
		}
		diff, err := gorgonia.Sub(prediction, gorgonia.NewConstant(target))
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (x-target)")
		}
		sqr, err := gorgonia.Square(diff)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (x^2)")
		}
		return gorgonia.Mean(sqr)
	case GANModeWGANGP:
		var margin *gorgonia.Node
		var err error
		if targetIsReal {
			margin, err = gorgonia.Sub(gorgonia.NewConstant(1.0), prediction)
		} else {
			margin, err = gorgonia.Add(gorgonia.NewConstant(1.0), prediction)
		}
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (1∓x)")
		}
		hinge, err := gorgonia.Rectify(margin)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do relu(x)")
		}
		return gorgonia.Mean(hinge)
	default:
		return nil, fmt.Errorf("GAN mode '%s' is not supported", mode)
	}
}

// GeneratorAdversarialLoss Generator-side adversarial loss: the generator is
// rewarded for scores the critic would assign to real samples. For the
// Wasserstein critic that is the negated mean score.
func GeneratorAdversarialLoss(prediction *gorgonia.Node, mode GANMode) (*gorgonia.Node, error) {
	switch mode {
	case GANModeVanilla, GANModeLSGAN:
		return CriticLoss(prediction, true, mode)
	case GANModeWGANGP:
		mean, err := gorgonia.Mean(prediction)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do mean(x)")
		}
		return gorgonia.Neg(mean)
	default:
		return nil, fmt.Errorf("GAN mode '%s' is not supported", mode)
	}
}
