package rainnet_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// DiscriminatorNet Abstraction for the harmonization critic. The main ("global") network
// scores the whole image; the optional "local" head scores the mask-gated image, so the
// critic can judge the composited region separately from the scene.
type DiscriminatorNet struct {
	private   *Network
	localHead *Network

	globalOut *gorgonia.Node
	localOut  *gorgonia.Node
}

// Discriminator Constructor for DiscriminatorNet
func Discriminator(Layers ...*Layer) *DiscriminatorNet {
	return &DiscriminatorNet{private: &Network{
		Name:   "discriminator",
		Layers: Layers,
	}}
}

// WithLocalHead Attaches a region head evaluated on the mask-gated input.
func (net *DiscriminatorNet) WithLocalHead(Layers ...*Layer) *DiscriminatorNet {
	net.localHead = &Network{
		Name:   "discriminator_local",
		Layers: Layers,
	}
	return net
}

// HasLocalHead Reports whether a region head is attached.
func (net *DiscriminatorNet) HasLocalHead() bool {
	return net.localHead != nil
}

// GlobalOut Returns reference to output node of the whole-image score
func (net *DiscriminatorNet) GlobalOut() *gorgonia.Node {
	return net.globalOut
}

// LocalOut Returns reference to output node of the region score (nil without a local head)
func (net *DiscriminatorNet) LocalOut() *gorgonia.Node {
	return net.localOut
}

// Learnables Returns learnables nodes
func (net *DiscriminatorNet) Learnables() gorgonia.Nodes {
	learnables := net.private.Learnables()
	if net.localHead != nil {
		learnables = append(learnables, net.localHead.Learnables()...)
	}
	return learnables
}

// Fwd Initializates feedforward for provided input
//
// input - image node to score
// mask - single-channel foreground mask node at the input's resolution (needed by the local head; may be nil without one)
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
//
// Returns the whole-image score node and the region score node (nil without a local head).
func (net *DiscriminatorNet) Fwd(input, mask *gorgonia.Node, batchSize int) (*gorgonia.Node, *gorgonia.Node, error) {
	globalOut, err := net.private.Fwd(input, mask, batchSize)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[Discriminator]")
	}
	net.globalOut = globalOut
	if net.localHead == nil {
		net.localOut = nil
		return globalOut, nil, nil
	}
	if mask == nil {
		return nil, nil, fmt.Errorf("Discriminator with local head requires a mask node")
	}
	gated, err := gorgonia.BroadcastHadamardProd(input, mask, nil, []byte{1})
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't gate discriminator input by mask")
	}
	localOut, err := net.localHead.Fwd(gated, mask, batchSize)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[Discriminator local head]")
	}
	net.localOut = localOut
	return globalOut, localOut, nil
}

// perSampleScore Reduces a critic output of any shape to one scalar score per sample
// by summing over every non-batch axis.
func perSampleScore(out *gorgonia.Node) (*gorgonia.Node, error) {
	if out.Dims() < 2 {
		return out, nil
	}
	axes := make([]int, 0, out.Dims()-1)
	for i := 1; i < out.Dims(); i++ {
		axes = append(axes, i)
	}
	reduced, err := gorgonia.Sum(out, axes...)
	if err != nil {
		return nil, errors.Wrap(err, "Can't reduce critic output to per-sample scores")
	}
	return reduced, nil
}

// PenaltyScores Per-sample score the gradient penalty probes: the average of the
// global and local scores when a local head is present, matching the critic's
// dedicated penalty evaluation path in the reference model.
func (net *DiscriminatorNet) PenaltyScores() (*gorgonia.Node, error) {
	if net.globalOut == nil {
		return nil, fmt.Errorf("Discriminator feedforward must be initialized before penalty scoring")
	}
	global, err := perSampleScore(net.globalOut)
	if err != nil {
		return nil, err
	}
	if net.localOut == nil {
		return global, nil
	}
	local, err := perSampleScore(net.localOut)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Add(global, local)
	if err != nil {
		return nil, errors.Wrap(err, "Can't combine global and local scores")
	}
	return gorgonia.Mul(sum, gorgonia.NewConstant(0.5))
}
