package rainnet_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer Just a combo of weights, bias, normalization parameters and an activation function.
// Which fields are meaningful depends on Type.
type Layer struct {
	WeightNode *gorgonia.Node
	BiasNode   *gorgonia.Node
	Activation ActivationFunc
	Type       LayerType

	KernelHeight int
	KernelWidth  int
	Padding      []int
	Stride       []int
	Dilation     []int
	ReshapeDims  []int
	Probability  float64
	ScaleFactor  int

	// Region-aware instance normalization parameters (LayerRAIN only).
	// Each is a vector of the layer's channel count.
	ForegroundGammaNode *gorgonia.Node
	ForegroundBetaNode  *gorgonia.Node
	BackgroundGammaNode *gorgonia.Node
	BackgroundBetaNode  *gorgonia.Node
	Eps                 float64
}

type LayerType uint16

const (
	LayerLinear = LayerType(iota)
	LayerFlatten
	LayerConvolutional
	LayerMaxpool
	LayerReshape
	LayerUpsample
	LayerDropout
	LayerInstanceNorm
	LayerRAIN
)

var (
	allowedNoWeights = []LayerType{LayerMaxpool, LayerFlatten, LayerReshape, LayerUpsample, LayerDropout, LayerInstanceNorm, LayerRAIN}
)

func noWeightsAllowed(checkType LayerType) bool {
	return checkLayerType(checkType, allowedNoWeights...)
}

func checkLayerType(checkType LayerType, t ...LayerType) bool {
	for _, typeOf := range t {
		if checkType == typeOf {
			return true
		}
	}
	return false
}

// Fwd Performs the layer's operation (activation function is not applied here).
//
// input - layer's input node
// mask - foreground mask at the sample's original resolution (consumed by RAIN layers only, may be nil otherwise)
// batchSize - batch size. If it's >= 2 then broadcast function will be applied for bias/matmul paths
func (layer *Layer) Fwd(input, mask *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	var err error
	nonActivated := &gorgonia.Node{}
	switch layer.Type {
	case LayerLinear:
		tOp, err := gorgonia.Transpose(layer.WeightNode)
		if err != nil {
			return nil, errors.Wrap(err, "Can't transpose weights")
		}
		if batchSize < 2 || input.Dims() == 2 {
			// 2D batched input is plain matrix multiplication.
			nonActivated, err = gorgonia.Mul(input, tOp)
			if err != nil {
				return nil, errors.Wrap(err, "Can't multiply input and weights")
			}
		} else {
			nonActivated, err = gorgonia.BatchedMatMul(input, tOp)
			if err != nil {
				return nil, errors.Wrap(err, "Can't multiply input and weights in batch term")
			}
		}
	case LayerConvolutional:
		nonActivated, err = gorgonia.Conv2d(input, layer.WeightNode, tensor.Shape{layer.KernelHeight, layer.KernelWidth}, layer.Padding, layer.Stride, layer.Dilation)
		if err != nil {
			return nil, errors.Wrap(err, "Can't convolve[2D] input by kernel")
		}
	case LayerMaxpool:
		nonActivated, err = gorgonia.MaxPool2D(input, tensor.Shape{layer.KernelHeight, layer.KernelWidth}, layer.Padding, layer.Stride)
		if err != nil {
			return nil, errors.Wrap(err, "Can't maxpool[2D] input by kernel")
		}
	case LayerFlatten:
		nonActivated, err = gorgonia.Reshape(input, tensor.Shape{batchSize, input.Shape().TotalSize() / batchSize})
		if err != nil {
			return nil, errors.Wrap(err, "Can't flatten input")
		}
	case LayerReshape:
		nonActivated, err = gorgonia.Reshape(input, layer.ReshapeDims)
		if err != nil {
			return nil, errors.Wrap(err, "Can't reshape input")
		}
	case LayerUpsample:
		scale := layer.ScaleFactor
		if scale < 1 {
			scale = 2
		}
		nonActivated, err = gorgonia.Upsample2D(input, scale)
		if err != nil {
			return nil, errors.Wrap(err, "Can't upsample[2D] input")
		}
	case LayerDropout:
		nonActivated, err = gorgonia.Dropout(input, layer.Probability)
		if err != nil {
			return nil, errors.Wrap(err, "Can't apply dropout to input")
		}
	case LayerInstanceNorm:
		nonActivated, err = instanceNorm(input, layer.normEps())
		if err != nil {
			return nil, errors.Wrap(err, "Can't apply instance normalization to input")
		}
	case LayerRAIN:
		if mask == nil {
			return nil, fmt.Errorf("RAIN layer requires a mask node")
		}
		nonActivated, err = rainNorm(input, mask, layer)
		if err != nil {
			return nil, errors.Wrap(err, "Can't apply region-aware normalization to input")
		}
	default:
		return nil, fmt.Errorf("Layer type '%d' (uint16) is not handled", layer.Type)
	}

	if layer.BiasNode != nil {
		if batchSize < 2 {
			nonActivated, err = gorgonia.Add(nonActivated, layer.BiasNode)
			if err != nil {
				return nil, errors.Wrap(err, "Can't add bias to non-activated output")
			}
		} else {
			nonActivated, err = gorgonia.BroadcastAdd(nonActivated, layer.BiasNode, nil, []byte{0})
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("Can't add bias [in broadcast term with batch_size = %d] to non-activated output", batchSize))
			}
		}
	}
	return nonActivated, nil
}

// Learnables Returns learnables nodes of a single layer
func (layer *Layer) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 6)
	if layer.WeightNode != nil {
		learnables = append(learnables, layer.WeightNode)
	}
	if layer.BiasNode != nil {
		learnables = append(learnables, layer.BiasNode)
	}
	if layer.ForegroundGammaNode != nil {
		learnables = append(learnables, layer.ForegroundGammaNode)
	}
	if layer.ForegroundBetaNode != nil {
		learnables = append(learnables, layer.ForegroundBetaNode)
	}
	if layer.BackgroundGammaNode != nil {
		learnables = append(learnables, layer.BackgroundGammaNode)
	}
	if layer.BackgroundBetaNode != nil {
		learnables = append(learnables, layer.BackgroundBetaNode)
	}
	return learnables
}

func (layer *Layer) normEps() float64 {
	if layer.Eps == 0 {
		return 1e-5
	}
	return layer.Eps
}
