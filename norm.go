package rainnet_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// instanceNorm Per-sample per-channel normalization over the spatial dimensions.
// Input is expected to be 4D (batch, channels, height, width).
func instanceNorm(x *gorgonia.Node, eps float64) (*gorgonia.Node, error) {
	if x.Dims() != 4 {
		return nil, fmt.Errorf("Instance normalization expects 4D input, but got %dD", x.Dims())
	}
	b, c := x.Shape()[0], x.Shape()[1]
	mu, err := gorgonia.Mean(x, 2, 3)
	if err != nil {
		return nil, errors.Wrap(err, "Can't compute spatial mean")
	}
	muCol, err := gorgonia.Reshape(mu, tensor.Shape{b, c, 1, 1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape mean to (B, C, 1, 1)")
	}
	diff, err := gorgonia.BroadcastSub(x, muCol, nil, []byte{2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x-mean)")
	}
	sq, err := gorgonia.Square(diff)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x-mean)^2")
	}
	variance, err := gorgonia.Mean(sq, 2, 3)
	if err != nil {
		return nil, errors.Wrap(err, "Can't compute spatial variance")
	}
	varEps, err := gorgonia.Add(variance, gorgonia.NewConstant(eps))
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (var+eps)")
	}
	sigma, err := gorgonia.Sqrt(varEps)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sqrt(var+eps)")
	}
	sigmaCol, err := gorgonia.Reshape(sigma, tensor.Shape{b, c, 1, 1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape std to (B, C, 1, 1)")
	}
	return gorgonia.BroadcastHadamardDiv(diff, sigmaCol, nil, []byte{2, 3})
}

// regionMeanStd Mean and standard deviation of every (sample, channel) pair measured
// over the region selected by the single-channel mask. Both results are shaped
// (B, C, 1, 1) so they broadcast over spatial dimensions.
func regionMeanStd(x, region *gorgonia.Node, eps float64) (mean, std *gorgonia.Node, err error) {
	b, c := x.Shape()[0], x.Shape()[1]
	masked, err := gorgonia.BroadcastHadamardProd(x, region, nil, []byte{1})
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't select region of features")
	}
	sum, err := gorgonia.Sum(masked, 2, 3)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't sum region features")
	}
	cnt, err := gorgonia.Sum(region, 2, 3)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't sum region mask")
	}
	// Guard against empty regions (mask of all zeros or all ones).
	cntEps, err := gorgonia.Add(cnt, gorgonia.NewConstant(eps))
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't do (count+eps)")
	}
	mu, err := gorgonia.BroadcastHadamardDiv(sum, cntEps, nil, []byte{1})
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't compute region mean")
	}
	muCol, err := gorgonia.Reshape(mu, tensor.Shape{b, c, 1, 1})
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't reshape region mean to (B, C, 1, 1)")
	}
	diff, err := gorgonia.BroadcastSub(x, muCol, nil, []byte{2, 3})
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't do (x-mean)")
	}
	sq, err := gorgonia.Square(diff)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't do (x-mean)^2")
	}
	sqMasked, err := gorgonia.BroadcastHadamardProd(sq, region, nil, []byte{1})
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't select region of squared deviations")
	}
	varSum, err := gorgonia.Sum(sqMasked, 2, 3)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't sum squared deviations")
	}
	variance, err := gorgonia.BroadcastHadamardDiv(varSum, cntEps, nil, []byte{1})
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't compute region variance")
	}
	varEps, err := gorgonia.Add(variance, gorgonia.NewConstant(eps))
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't do (var+eps)")
	}
	sigma, err := gorgonia.Sqrt(varEps)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't do sqrt(var+eps)")
	}
	sigmaCol, err := gorgonia.Reshape(sigma, tensor.Shape{b, c, 1, 1})
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't reshape region std to (B, C, 1, 1)")
	}
	return muCol, sigmaCol, nil
}

// maskAtResolution Downsamples the {0,1} foreground mask to the feature map's spatial
// resolution with max-pooling, so a pixel stays foreground if any covered pixel was.
func maskAtResolution(x, mask *gorgonia.Node) (*gorgonia.Node, error) {
	maskH := mask.Shape()[2]
	featH := x.Shape()[2]
	if maskH == featH {
		return mask, nil
	}
	if featH == 0 || maskH%featH != 0 {
		return nil, fmt.Errorf("Mask height %d is not a multiple of feature height %d", maskH, featH)
	}
	factor := maskH / featH
	pooled, err := gorgonia.MaxPool2D(mask, tensor.Shape{factor, factor}, []int{0, 0}, []int{factor, factor})
	if err != nil {
		return nil, errors.Wrap(err, "Can't pool mask down to feature resolution")
	}
	return pooled, nil
}

// rainNorm Region-aware instance normalization. Background features are normalized with
// background statistics; foreground features are normalized with their own statistics
// and then re-styled with the background's mean/std, which is what pulls the composited
// region's appearance towards the background. Each branch has its own affine parameters.
func rainNorm(x, mask *gorgonia.Node, layer *Layer) (*gorgonia.Node, error) {
	if layer.ForegroundGammaNode == nil || layer.ForegroundBetaNode == nil ||
		layer.BackgroundGammaNode == nil || layer.BackgroundBetaNode == nil {
		return nil, fmt.Errorf("RAIN layer is missing affine parameter nodes")
	}
	eps := layer.normEps()
	fg, err := maskAtResolution(x, mask)
	if err != nil {
		return nil, err
	}
	bg, err := gorgonia.Sub(gorgonia.NewConstant(1.0), fg)
	if err != nil {
		return nil, errors.Wrap(err, "Can't invert mask")
	}

	meanBack, stdBack, err := regionMeanStd(x, bg, eps)
	if err != nil {
		return nil, errors.Wrap(err, "[background statistics]")
	}
	meanFore, stdFore, err := regionMeanStd(x, fg, eps)
	if err != nil {
		return nil, errors.Wrap(err, "[foreground statistics]")
	}

	// Background branch: (x - mean_b)/std_b, affine, gated by (1-mask).
	diffBack, err := gorgonia.BroadcastSub(x, meanBack, nil, []byte{2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x-mean_b)")
	}
	normBack, err := gorgonia.BroadcastHadamardDiv(diffBack, stdBack, nil, []byte{2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x-mean_b)/std_b")
	}
	affBack, err := rainAffine(normBack, layer.BackgroundGammaNode, layer.BackgroundBetaNode)
	if err != nil {
		return nil, errors.Wrap(err, "[background affine]")
	}
	outBack, err := gorgonia.BroadcastHadamardProd(affBack, bg, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't gate background branch")
	}

	// Foreground branch: normalize with foreground statistics, re-style with
	// background statistics, affine, gated by mask.
	diffFore, err := gorgonia.BroadcastSub(x, meanFore, nil, []byte{2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x-mean_f)")
	}
	normFore, err := gorgonia.BroadcastHadamardDiv(diffFore, stdFore, nil, []byte{2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x-mean_f)/std_f")
	}
	styled, err := gorgonia.BroadcastHadamardProd(normFore, stdBack, nil, []byte{2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't re-style foreground with background std")
	}
	styled, err = gorgonia.BroadcastAdd(styled, meanBack, nil, []byte{2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't re-style foreground with background mean")
	}
	affFore, err := rainAffine(styled, layer.ForegroundGammaNode, layer.ForegroundBetaNode)
	if err != nil {
		return nil, errors.Wrap(err, "[foreground affine]")
	}
	outFore, err := gorgonia.BroadcastHadamardProd(affFore, fg, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't gate foreground branch")
	}

	return gorgonia.Add(outFore, outBack)
}

// rainAffine x*(1+gamma) + beta with per-channel gamma/beta vectors.
func rainAffine(x, gamma, beta *gorgonia.Node) (*gorgonia.Node, error) {
	c := x.Shape()[1]
	gammaCol, err := gorgonia.Reshape(gamma, tensor.Shape{1, c, 1, 1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape gamma to (1, C, 1, 1)")
	}
	betaCol, err := gorgonia.Reshape(beta, tensor.Shape{1, c, 1, 1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape beta to (1, C, 1, 1)")
	}
	onePlusGamma, err := gorgonia.Add(gammaCol, gorgonia.NewConstant(1.0))
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1+gamma)")
	}
	scaled, err := gorgonia.BroadcastHadamardProd(x, onePlusGamma, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't do x*(1+gamma)")
	}
	return gorgonia.BroadcastAdd(scaled, betaCol, nil, []byte{0, 2, 3})
}

// RAINLayer Convenience constructor for a region-aware normalization layer with
// zero-initialized affine parameters (identity transform at start of training).
func RAINLayer(g *gorgonia.ExprGraph, channels int, name string) *Layer {
	return &Layer{
		Type:                LayerRAIN,
		Activation:          NoActivation,
		Eps:                 1e-5,
		ForegroundGammaNode: gorgonia.NewVector(g, gorgonia.Float64, gorgonia.WithShape(channels), gorgonia.WithName(name+"_fg_gamma"), gorgonia.WithInit(gorgonia.Zeroes())),
		ForegroundBetaNode:  gorgonia.NewVector(g, gorgonia.Float64, gorgonia.WithShape(channels), gorgonia.WithName(name+"_fg_beta"), gorgonia.WithInit(gorgonia.Zeroes())),
		BackgroundGammaNode: gorgonia.NewVector(g, gorgonia.Float64, gorgonia.WithShape(channels), gorgonia.WithName(name+"_bg_gamma"), gorgonia.WithInit(gorgonia.Zeroes())),
		BackgroundBetaNode:  gorgonia.NewVector(g, gorgonia.Float64, gorgonia.WithShape(channels), gorgonia.WithName(name+"_bg_beta"), gorgonia.WithInit(gorgonia.Zeroes())),
	}
}
