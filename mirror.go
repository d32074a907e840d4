package rainnet_go

import (
	"fmt"

	"gorgonia.org/gorgonia"
)

// Mirror Makes a copy of the discriminator's structure on another expression graph.
// The copied weight nodes are bound to the very same backing values as the trained
// discriminator's learnables, so every discriminator optimizer step is immediately
// visible to the copy — but the copy's nodes are never part of the generator's
// gradient set. That is the whole "freeze": on the generator's graph the critic is
// a constant of differentiation rather than a parameter with a toggled flag.
func (net *DiscriminatorNet) Mirror(g *gorgonia.ExprGraph) (*DiscriminatorNet, error) {
	mirroredMain, err := mirrorNetwork(g, net.private, "frozen_discriminator")
	if err != nil {
		return nil, err
	}
	mirrored := &DiscriminatorNet{private: mirroredMain}
	if net.localHead != nil {
		mirroredLocal, err := mirrorNetwork(g, net.localHead, "frozen_discriminator_local")
		if err != nil {
			return nil, err
		}
		mirrored.localHead = mirroredLocal
	}
	return mirrored, nil
}

func mirrorNetwork(g *gorgonia.ExprGraph, src *Network, name string) (*Network, error) {
	if len(src.Layers) == 0 {
		return nil, fmt.Errorf("Network '%s' must have one layer atleast to be mirrored", src.Name)
	}
	dst := &Network{
		Name:   name,
		Layers: make([]*Layer, len(src.Layers)),
	}
	for i, l := range src.Layers {
		if l == nil {
			return nil, fmt.Errorf("Network's ('%s') layer #%d is nil", src.Name, i)
		}
		if l.WeightNode == nil && !noWeightsAllowed(l.Type) {
			return nil, fmt.Errorf("Network's ('%s') layer #%d has nil weight node", src.Name, i)
		}
		dst.Layers[i] = &Layer{
			Activation:   l.Activation,
			Type:         l.Type,
			KernelHeight: l.KernelHeight,
			KernelWidth:  l.KernelWidth,
			Padding:      l.Padding,
			Stride:       l.Stride,
			Dilation:     l.Dilation,
			ReshapeDims:  l.ReshapeDims,
			Probability:  l.Probability,
			ScaleFactor:  l.ScaleFactor,
			Eps:          l.Eps,
		}
		dst.Layers[i].WeightNode = mirrorParam(g, l.WeightNode)
		dst.Layers[i].BiasNode = mirrorParam(g, l.BiasNode)
		dst.Layers[i].ForegroundGammaNode = mirrorParam(g, l.ForegroundGammaNode)
		dst.Layers[i].ForegroundBetaNode = mirrorParam(g, l.ForegroundBetaNode)
		dst.Layers[i].BackgroundGammaNode = mirrorParam(g, l.BackgroundGammaNode)
		dst.Layers[i].BackgroundBetaNode = mirrorParam(g, l.BackgroundBetaNode)
	}
	return dst, nil
}

// mirrorParam Shares the source node's value on the destination graph.
func mirrorParam(g *gorgonia.ExprGraph, n *gorgonia.Node) *gorgonia.Node {
	if n == nil {
		return nil
	}
	return gorgonia.NewTensor(g, gorgonia.Float64, n.Dims(), gorgonia.WithShape(n.Shape()...), gorgonia.WithName(n.Name()+"_frozen"), gorgonia.WithValue(n.Value()))
}
