package rainnet_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Network Abstraction for neural network.
//
// Layers - simple sequence of layers
// out - alias to activated output of last layer
type Network struct {
	Name   string
	Layers []*Layer
	out    *gorgonia.Node
}

// Out Returns reference to output node
func (net *Network) Out() *gorgonia.Node {
	return net.out
}

// Learnables Returns learnables nodes
func (net *Network) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 2*len(net.Layers))
	for _, l := range net.Layers {
		if l != nil {
			learnables = append(learnables, l.Learnables()...)
		}
	}
	return learnables
}

// Fwd Initializates feedforward for provided input
//
// input - Input node
// mask - foreground mask node at the input's resolution (needed by RAIN layers, may be nil otherwise)
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
//
// The activated output of the last layer is returned and also stored for Out().
func (net *Network) Fwd(input, mask *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	networkName := "network"
	if net.Name != "" {
		networkName = net.Name
	}

	if len(net.Layers) == 0 {
		return nil, fmt.Errorf("Network must have one layer atleast")
	}

	lastActivatedLayer := input
	for i := 0; i < len(net.Layers); i++ {
		if net.Layers[i] == nil {
			return nil, fmt.Errorf("Network's layer #%d is nil", i)
		}
		if net.Layers[i].WeightNode == nil && !noWeightsAllowed(net.Layers[i].Type) {
			return nil, fmt.Errorf("Network's layer's #%d WeightNode is nil", i)
		}
		// Feedforward input through i-th layer
		layerNonActivated, err := net.Layers[i].Fwd(lastActivatedLayer, mask, batchSize)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[Network '%s', Layer #%d] Can't feedforward input before activation", networkName, i))
		}
		gorgonia.WithName(fmt.Sprintf("%s_%d", networkName, i))(layerNonActivated)
		// Activate i-th layer's output
		activation := net.Layers[i].Activation
		if activation == nil {
			activation = NoActivation
		}
		layerActivated, err := activation(layerNonActivated)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't apply activation function to non-activated output of Network's ('%s') layer #%d", networkName, i))
		}
		gorgonia.WithName(fmt.Sprintf("%s_activated_%d", networkName, i))(layerActivated)
		lastActivatedLayer = layerActivated
	}
	net.out = lastActivatedLayer
	return net.out, nil
}
