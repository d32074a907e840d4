package rainnet_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// GeneratorBuilder Constructs a generator on the provided expression graph.
type GeneratorBuilder func(g *gorgonia.ExprGraph) (*GeneratorNet, error)

// DiscriminatorBuilder Constructs a discriminator on the provided expression graph.
type DiscriminatorBuilder func(g *gorgonia.ExprGraph) (*DiscriminatorNet, error)

// StepResult Immutable outcome of one adversarial training step. All loss terms are
// plain numbers detached from any graph; Output and Harmonized are clones of this
// step's generator output and its background-preserving blend
// output*mask + real*(1-mask). The blend exists for visualization and metrics only,
// no loss is computed against it.
type StepResult struct {
	LossDReal            float64
	LossDFake            float64
	LossDGradientPenalty float64
	LossD                float64

	LossGGlobal float64
	LossGLocal  float64
	LossGGAN    float64
	LossGL1     float64
	LossG       float64

	Output     *tensor.Dense
	Harmonized *tensor.Dense
}

// Trainer Owns both players of the harmonization GAN and performs the alternating
// optimization. The discriminator trains on its own graph against by-value (hence
// detached) fake images; the generator trains on a second graph where the critic
// participates as a frozen mirror (see DiscriminatorNet.Mirror), so a generator step
// can never move critic weights. Each Step updates the discriminator exactly once and
// then the generator exactly once:
//
//  1. run the generator forward to produce the fake image
//  2. (wgangp) evaluate the gradient penalty on real/fake interpolations
//  3. run the discriminator graph on the real and detached fake batches and step its optimizer
//  4. re-run the generator graph against the freshly updated frozen critic and step its optimizer
type Trainer struct {
	cfg TrainerConfig

	gen *GeneratorNet
	dis *DiscriminatorNet

	genGraph *gorgonia.ExprGraph
	disGraph *gorgonia.ExprGraph

	// Generator graph inputs.
	genInput *gorgonia.Node
	genMask  *gorgonia.Node
	genReal  *gorgonia.Node

	// Discriminator graph inputs.
	disReal  *gorgonia.Node
	disFake  *gorgonia.Node
	disMask  *gorgonia.Node
	disPlus  *gorgonia.Node
	disMinus *gorgonia.Node
	disCoeff *gorgonia.Node

	outputVal     gorgonia.Value
	harmonizedVal gorgonia.Value
	lossDRealVal  gorgonia.Value
	lossDFakeVal  gorgonia.Value
	lossGGlobVal  gorgonia.Value
	lossGLocVal   gorgonia.Value
	lossGL1Val    gorgonia.Value
	lossGVal      gorgonia.Value

	genForwardVM gorgonia.VM
	genTrainVM   gorgonia.VM
	disTrainVM   gorgonia.VM

	solverG gorgonia.Solver
	solverD gorgonia.Solver

	gp *GradientPenalty
}

// NewTrainer Wires both graphs, their tape machines and the Adam solvers. The builders
// receive the graph each network must live on; networks built elsewhere can't be used
// since graph membership is what separates the two optimization problems.
func NewTrainer(cfg TrainerConfig, buildGenerator GeneratorBuilder, buildDiscriminator DiscriminatorBuilder) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Bad trainer configuration")
	}
	if buildGenerator == nil || buildDiscriminator == nil {
		return nil, fmt.Errorf("Trainer requires both generator and discriminator builders")
	}
	t := &Trainer{
		cfg:      cfg,
		genGraph: gorgonia.NewGraph(),
		disGraph: gorgonia.NewGraph(),
	}
	var err error
	if t.gen, err = buildGenerator(t.genGraph); err != nil {
		return nil, errors.Wrap(err, "Can't build generator")
	}
	if t.dis, err = buildDiscriminator(t.disGraph); err != nil {
		return nil, errors.Wrap(err, "Can't build discriminator")
	}
	if err = t.buildDiscriminatorGraph(); err != nil {
		return nil, errors.Wrap(err, "Can't build discriminator training graph")
	}
	if err = t.buildGeneratorGraph(); err != nil {
		return nil, errors.Wrap(err, "Can't build generator training graph")
	}
	if t.penaltyActive() {
		t.gp, err = NewGradientPenalty(t.dis, cfg.BatchSize, cfg.ImageChannels, cfg.ImageHeight, cfg.ImageWidth, cfg.Seed)
		if err != nil {
			return nil, errors.Wrap(err, "Can't build gradient penalty")
		}
	}
	t.solverG = gorgonia.NewAdamSolver(gorgonia.WithBatchSize(float64(cfg.BatchSize)), gorgonia.WithLearnRate(cfg.GeneratorLR), gorgonia.WithBeta1(cfg.Beta1), gorgonia.WithBeta2(cfg.Beta2))
	t.solverD = gorgonia.NewAdamSolver(gorgonia.WithBatchSize(float64(cfg.BatchSize)), gorgonia.WithLearnRate(cfg.DiscriminatorLR), gorgonia.WithBeta1(cfg.Beta1), gorgonia.WithBeta2(cfg.Beta2))
	return t, nil
}

// Generator Returns reference to the trained generator
func (t *Trainer) Generator() *GeneratorNet {
	return t.gen
}

// Discriminator Returns reference to the trained discriminator
func (t *Trainer) Discriminator() *DiscriminatorNet {
	return t.dis
}

// Config Returns the trainer's configuration
func (t *Trainer) Config() TrainerConfig {
	return t.cfg
}

func (t *Trainer) penaltyActive() bool {
	return t.cfg.GANMode == GANModeWGANGP && t.cfg.GPRatio > 0
}

func (t *Trainer) buildDiscriminatorGraph() error {
	cfg := t.cfg
	t.disReal = gorgonia.NewTensor(t.disGraph, gorgonia.Float64, 4, gorgonia.WithShape(cfg.BatchSize, cfg.ImageChannels, cfg.ImageHeight, cfg.ImageWidth), gorgonia.WithName("d_real"))
	t.disFake = gorgonia.NewTensor(t.disGraph, gorgonia.Float64, 4, gorgonia.WithShape(cfg.BatchSize, cfg.ImageChannels, cfg.ImageHeight, cfg.ImageWidth), gorgonia.WithName("d_fake"))
	t.disMask = gorgonia.NewTensor(t.disGraph, gorgonia.Float64, 4, gorgonia.WithShape(cfg.BatchSize, 1, cfg.ImageHeight, cfg.ImageWidth), gorgonia.WithName("d_mask"))

	realGlobal, realLocal, err := t.dis.Fwd(t.disReal, t.disMask, cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "Can't do feedforward on real batch")
	}
	lossDReal, err := t.criticLoss(realGlobal, realLocal, true)
	if err != nil {
		return errors.Wrap(err, "Can't evaluate critic loss on real batch")
	}
	fakeGlobal, fakeLocal, err := t.dis.Fwd(t.disFake, t.disMask, cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "Can't do feedforward on fake batch")
	}
	lossDFake, err := t.criticLoss(fakeGlobal, fakeLocal, false)
	if err != nil {
		return errors.Wrap(err, "Can't evaluate critic loss on fake batch")
	}
	gorgonia.Read(lossDReal, &t.lossDRealVal)
	gorgonia.Read(lossDFake, &t.lossDFakeVal)

	lossD, err := gorgonia.Add(lossDReal, lossDFake)
	if err != nil {
		return errors.Wrap(err, "Can't sum critic losses")
	}

	if t.penaltyActive() {
		surrogate, err := t.buildPenaltySurrogate()
		if err != nil {
			return errors.Wrap(err, "Can't build penalty surrogate")
		}
		weighted, err := gorgonia.Mul(surrogate, gorgonia.NewConstant(t.cfg.GPRatio))
		if err != nil {
			return errors.Wrap(err, "Can't weight penalty surrogate")
		}
		if lossD, err = gorgonia.Add(lossD, weighted); err != nil {
			return errors.Wrap(err, "Can't add penalty surrogate to critic loss")
		}
	}

	if _, err = gorgonia.Grad(lossD, t.dis.Learnables()...); err != nil {
		return errors.Wrap(err, "Can't differentiate critic loss")
	}
	t.disTrainVM = gorgonia.NewTapeMachine(t.disGraph, gorgonia.BindDualValues(t.dis.Learnables()...))
	return nil
}

// buildPenaltySurrogate Adds the finite-difference term whose parameter gradient
// approximates the gradient penalty's (see GradientPenalty). Its own value carries no
// meaning for reporting; the exact penalty is computed by the probe graph instead.
func (t *Trainer) buildPenaltySurrogate() (*gorgonia.Node, error) {
	cfg := t.cfg
	t.disPlus = gorgonia.NewTensor(t.disGraph, gorgonia.Float64, 4, gorgonia.WithShape(cfg.BatchSize, cfg.ImageChannels, cfg.ImageHeight, cfg.ImageWidth), gorgonia.WithName("d_gp_plus"))
	t.disMinus = gorgonia.NewTensor(t.disGraph, gorgonia.Float64, 4, gorgonia.WithShape(cfg.BatchSize, cfg.ImageChannels, cfg.ImageHeight, cfg.ImageWidth), gorgonia.WithName("d_gp_minus"))
	t.disCoeff = gorgonia.NewVector(t.disGraph, gorgonia.Float64, gorgonia.WithShape(cfg.BatchSize), gorgonia.WithName("d_gp_coeff"))

	if _, _, err := t.dis.Fwd(t.disPlus, t.disMask, cfg.BatchSize); err != nil {
		return nil, errors.Wrap(err, "Can't do feedforward on positive probe")
	}
	plusScores, err := t.dis.PenaltyScores()
	if err != nil {
		return nil, errors.Wrap(err, "Can't score positive probe")
	}
	if _, _, err := t.dis.Fwd(t.disMinus, t.disMask, cfg.BatchSize); err != nil {
		return nil, errors.Wrap(err, "Can't do feedforward on negative probe")
	}
	minusScores, err := t.dis.PenaltyScores()
	if err != nil {
		return nil, errors.Wrap(err, "Can't score negative probe")
	}
	diff, err := gorgonia.Sub(plusScores, minusScores)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (D(x+δu)-D(x-δu))")
	}
	scaled, err := gorgonia.HadamardProd(t.disCoeff, diff)
	if err != nil {
		return nil, errors.Wrap(err, "Can't apply per-sample coefficients")
	}
	summed, err := gorgonia.Sum(scaled)
	if err != nil {
		return nil, errors.Wrap(err, "Can't sum surrogate terms")
	}
	return gorgonia.Mul(summed, gorgonia.NewConstant(1.0/(2.0*fdDelta)))
}

func (t *Trainer) buildGeneratorGraph() error {
	cfg := t.cfg
	t.genInput = gorgonia.NewTensor(t.genGraph, gorgonia.Float64, 4, gorgonia.WithShape(cfg.BatchSize, cfg.InputChannels, cfg.ImageHeight, cfg.ImageWidth), gorgonia.WithName("g_input"))
	t.genMask = gorgonia.NewTensor(t.genGraph, gorgonia.Float64, 4, gorgonia.WithShape(cfg.BatchSize, 1, cfg.ImageHeight, cfg.ImageWidth), gorgonia.WithName("g_mask"))
	t.genReal = gorgonia.NewTensor(t.genGraph, gorgonia.Float64, 4, gorgonia.WithShape(cfg.BatchSize, cfg.ImageChannels, cfg.ImageHeight, cfg.ImageWidth), gorgonia.WithName("g_real"))

	out, err := t.gen.Fwd(t.genInput, t.genMask, cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "Can't do generator feedforward")
	}
	gorgonia.Read(out, &t.outputVal)

	// Visualization blend: output inside the mask, untouched ground truth outside.
	outMasked, err := gorgonia.BroadcastHadamardProd(out, t.genMask, nil, []byte{1})
	if err != nil {
		return errors.Wrap(err, "Can't gate output by mask")
	}
	inverseMask, err := gorgonia.Sub(gorgonia.NewConstant(1.0), t.genMask)
	if err != nil {
		return errors.Wrap(err, "Can't do (1-mask)")
	}
	realMasked, err := gorgonia.BroadcastHadamardProd(t.genReal, inverseMask, nil, []byte{1})
	if err != nil {
		return errors.Wrap(err, "Can't gate ground truth by inverse mask")
	}
	harmonized, err := gorgonia.Add(outMasked, realMasked)
	if err != nil {
		return errors.Wrap(err, "Can't blend output with ground truth")
	}
	gorgonia.Read(harmonized, &t.harmonizedVal)

	frozen, err := t.dis.Mirror(t.genGraph)
	if err != nil {
		return errors.Wrap(err, "Can't mirror discriminator onto generator graph")
	}
	fakeGlobal, fakeLocal, err := frozen.Fwd(out, t.genMask, cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "Can't do frozen critic feedforward")
	}

	advGlobal, err := GeneratorAdversarialLoss(fakeGlobal, cfg.GANMode)
	if err != nil {
		return errors.Wrap(err, "Can't evaluate whole-image adversarial loss")
	}
	lossGGlobal, err := gorgonia.Mul(advGlobal, gorgonia.NewConstant(cfg.LambdaGlobal))
	if err != nil {
		return errors.Wrap(err, "Can't weight whole-image adversarial loss")
	}
	gorgonia.Read(lossGGlobal, &t.lossGGlobVal)
	lossGGAN := lossGGlobal

	if fakeLocal != nil {
		advLocal, err := GeneratorAdversarialLoss(fakeLocal, cfg.GANMode)
		if err != nil {
			return errors.Wrap(err, "Can't evaluate region adversarial loss")
		}
		lossGLocal, err := gorgonia.Mul(advLocal, gorgonia.NewConstant(cfg.LambdaLocal))
		if err != nil {
			return errors.Wrap(err, "Can't weight region adversarial loss")
		}
		gorgonia.Read(lossGLocal, &t.lossGLocVal)
		if lossGGAN, err = gorgonia.Add(lossGGAN, lossGLocal); err != nil {
			return errors.Wrap(err, "Can't sum adversarial losses")
		}
	}

	l1, err := L1Loss(out, t.genReal)
	if err != nil {
		return errors.Wrap(err, "Can't evaluate reconstruction loss")
	}
	lossGL1, err := gorgonia.Mul(l1, gorgonia.NewConstant(cfg.LambdaL1))
	if err != nil {
		return errors.Wrap(err, "Can't weight reconstruction loss")
	}
	gorgonia.Read(lossGL1, &t.lossGL1Val)

	lossG, err := gorgonia.Add(lossGGAN, lossGL1)
	if err != nil {
		return errors.Wrap(err, "Can't sum generator losses")
	}
	gorgonia.Read(lossG, &t.lossGVal)

	if _, err = gorgonia.Grad(lossG, t.gen.Learnables()...); err != nil {
		return errors.Wrap(err, "Can't differentiate generator loss")
	}
	t.genForwardVM = gorgonia.NewTapeMachine(t.genGraph)
	t.genTrainVM = gorgonia.NewTapeMachine(t.genGraph, gorgonia.BindDualValues(t.gen.Learnables()...))
	return nil
}

// criticLoss Critic loss over both heads: the average of the global and local terms
// when a local head is attached, the global term alone otherwise.
func (t *Trainer) criticLoss(global, local *gorgonia.Node, targetIsReal bool) (*gorgonia.Node, error) {
	lossGlobal, err := CriticLoss(global, targetIsReal, t.cfg.GANMode)
	if err != nil {
		return nil, err
	}
	if local == nil {
		return lossGlobal, nil
	}
	lossLocal, err := CriticLoss(local, targetIsReal, t.cfg.GANMode)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Add(lossGlobal, lossLocal)
	if err != nil {
		return nil, errors.Wrap(err, "Can't sum head losses")
	}
	return gorgonia.Mul(sum, gorgonia.NewConstant(0.5))
}

// Step Performs one full adversarial optimization step on the sample: one discriminator
// update followed by one generator update. Returned StepResult carries every loss term
// of the step plus clones of the generator output and its blend, all detached from the
// trainer's graphs.
func (t *Trainer) Step(sample *Sample) (*StepResult, error) {
	if err := sample.Validate(); err != nil {
		return nil, errors.Wrap(err, "Bad sample")
	}
	if sample.BatchSize() != t.cfg.BatchSize {
		return nil, fmt.Errorf("Sample batch size %d doesn't match trainer batch size %d", sample.BatchSize(), t.cfg.BatchSize)
	}
	genInput, err := sample.GeneratorInput(t.cfg.InputChannels)
	if err != nil {
		return nil, errors.Wrap(err, "Can't derive generator input")
	}
	if err := gorgonia.Let(t.genInput, genInput); err != nil {
		return nil, errors.Wrap(err, "Can't init generator input value")
	}
	if err := gorgonia.Let(t.genMask, sample.Mask); err != nil {
		return nil, errors.Wrap(err, "Can't init generator mask value")
	}
	if err := gorgonia.Let(t.genReal, sample.Real); err != nil {
		return nil, errors.Wrap(err, "Can't init generator target value")
	}

	// Forward pass only: produce the fake image the discriminator trains against.
	// Passing it to the other graph by value is the detach, no generator gradient
	// can flow back through it.
	if err := t.genForwardVM.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run generator forward pass")
	}
	t.genForwardVM.Reset()
	fake, err := cloneDense(t.outputVal)
	if err != nil {
		return nil, errors.Wrap(err, "Can't detach generator output")
	}

	penalty := 0.0
	if t.gp != nil {
		gpRes, err := t.gp.Compute(sample.Real, fake, sample.Mask)
		if err != nil {
			return nil, errors.Wrap(err, "Can't evaluate gradient penalty")
		}
		penalty = gpRes.Penalty
		if err := gorgonia.Let(t.disPlus, gpRes.Plus); err != nil {
			return nil, errors.Wrap(err, "Can't init positive probe value")
		}
		if err := gorgonia.Let(t.disMinus, gpRes.Minus); err != nil {
			return nil, errors.Wrap(err, "Can't init negative probe value")
		}
		if err := gorgonia.Let(t.disCoeff, gpRes.Coefficients); err != nil {
			return nil, errors.Wrap(err, "Can't init surrogate coefficients")
		}
	}

	if err := gorgonia.Let(t.disReal, sample.Real); err != nil {
		return nil, errors.Wrap(err, "Can't init discriminator real value")
	}
	if err := gorgonia.Let(t.disFake, fake); err != nil {
		return nil, errors.Wrap(err, "Can't init discriminator fake value")
	}
	if err := gorgonia.Let(t.disMask, sample.Mask); err != nil {
		return nil, errors.Wrap(err, "Can't init discriminator mask value")
	}
	if err := t.disTrainVM.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run discriminator training pass")
	}
	if err := t.solverD.Step(gorgonia.NodesToValueGrads(t.dis.Learnables())); err != nil {
		return nil, errors.Wrap(err, "Can't do discriminator optimizer step")
	}
	t.disTrainVM.Reset()

	lossDReal, err := scalarValue(t.lossDRealVal)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read real critic loss")
	}
	lossDFake, err := scalarValue(t.lossDFakeVal)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read fake critic loss")
	}

	// Generator pass against the already-updated critic: the frozen mirror shares the
	// discriminator's weight values, so the solver step above is already in effect here.
	if err := t.genTrainVM.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run generator training pass")
	}
	if err := t.solverG.Step(gorgonia.NodesToValueGrads(t.gen.Learnables())); err != nil {
		return nil, errors.Wrap(err, "Can't do generator optimizer step")
	}
	t.genTrainVM.Reset()

	lossGGlobal, err := scalarValue(t.lossGGlobVal)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read whole-image adversarial loss")
	}
	lossGLocal := 0.0
	if t.lossGLocVal != nil {
		if lossGLocal, err = scalarValue(t.lossGLocVal); err != nil {
			return nil, errors.Wrap(err, "Can't read region adversarial loss")
		}
	}
	lossGL1, err := scalarValue(t.lossGL1Val)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read reconstruction loss")
	}
	lossG, err := scalarValue(t.lossGVal)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read generator loss")
	}
	output, err := cloneDense(t.outputVal)
	if err != nil {
		return nil, errors.Wrap(err, "Can't clone generator output")
	}
	harmonized, err := cloneDense(t.harmonizedVal)
	if err != nil {
		return nil, errors.Wrap(err, "Can't clone harmonized blend")
	}

	return &StepResult{
		LossDReal:            lossDReal,
		LossDFake:            lossDFake,
		LossDGradientPenalty: penalty,
		LossD:                lossDReal + lossDFake + t.cfg.GPRatio*penalty,
		LossGGlobal:          lossGGlobal,
		LossGLocal:           lossGLocal,
		LossGGAN:             lossGGlobal + lossGLocal,
		LossGL1:              lossGL1,
		LossG:                lossG,
		Output:               output,
		Harmonized:           harmonized,
	}, nil
}

// Harmonize Inference helper: runs the generator forward on the sample and returns
// the blend output*mask + real*(1-mask). Does not touch either optimizer.
func (t *Trainer) Harmonize(sample *Sample) (*tensor.Dense, error) {
	if err := sample.Validate(); err != nil {
		return nil, errors.Wrap(err, "Bad sample")
	}
	if sample.BatchSize() != t.cfg.BatchSize {
		return nil, fmt.Errorf("Sample batch size %d doesn't match trainer batch size %d", sample.BatchSize(), t.cfg.BatchSize)
	}
	genInput, err := sample.GeneratorInput(t.cfg.InputChannels)
	if err != nil {
		return nil, errors.Wrap(err, "Can't derive generator input")
	}
	if err := gorgonia.Let(t.genInput, genInput); err != nil {
		return nil, errors.Wrap(err, "Can't init generator input value")
	}
	if err := gorgonia.Let(t.genMask, sample.Mask); err != nil {
		return nil, errors.Wrap(err, "Can't init generator mask value")
	}
	if err := gorgonia.Let(t.genReal, sample.Real); err != nil {
		return nil, errors.Wrap(err, "Can't init generator target value")
	}
	if err := t.genForwardVM.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run generator forward pass")
	}
	t.genForwardVM.Reset()
	return cloneDense(t.harmonizedVal)
}

// Close Releases every tape machine owned by the trainer.
func (t *Trainer) Close() error {
	if err := t.genForwardVM.Close(); err != nil {
		return err
	}
	if err := t.genTrainVM.Close(); err != nil {
		return err
	}
	if err := t.disTrainVM.Close(); err != nil {
		return err
	}
	if t.gp != nil {
		return t.gp.Close()
	}
	return nil
}

func scalarValue(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("Value has not been evaluated")
	}
	switch data := v.Data().(type) {
	case float64:
		return data, nil
	case []float64:
		if len(data) == 1 {
			return data[0], nil
		}
		return 0, fmt.Errorf("Value has %d elements, want a scalar", len(data))
	default:
		return 0, fmt.Errorf("Value of type %T is not a float64 scalar", data)
	}
}

func cloneDense(v gorgonia.Value) (*tensor.Dense, error) {
	if v == nil {
		return nil, fmt.Errorf("Value has not been evaluated")
	}
	dense, ok := v.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("Value of type %T is not a dense tensor", v)
	}
	cloned, ok := dense.Clone().(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("Can't clone dense tensor")
	}
	return cloned, nil
}
