package rainnet_go

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// GeneratorNet Abstraction for the harmonization generator. It maps a composite image
// (optionally carrying the mask as an extra channel) and its foreground mask to a
// harmonized output image of the same spatial shape.
type GeneratorNet struct {
	private *Network
}

// Generator Constructor for GeneratorNet
func Generator(Layers ...*Layer) *GeneratorNet {
	return &GeneratorNet{private: &Network{
		Name:   "generator",
		Layers: Layers,
	}}
}

// Out Returns reference to output node
func (net *GeneratorNet) Out() *gorgonia.Node {
	return net.private.out
}

// Learnables Returns learnables nodes
func (net *GeneratorNet) Learnables() gorgonia.Nodes {
	return net.private.Learnables()
}

// Fwd Initializates feedforward for provided composite input and mask
//
// input - composite image node (batch, channels, height, width)
// mask - single-channel foreground mask node at the input's resolution
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
func (net *GeneratorNet) Fwd(input, mask *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	out, err := net.private.Fwd(input, mask, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "[Generator]")
	}
	return out, nil
}
