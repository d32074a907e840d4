package rainnet_go

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestCheckpointRoundtrip(t *testing.T) {
	g := gorgonia.NewGraph()
	w := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, 2), gorgonia.WithName("w"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float64{1.0, 2.0, 3.0, 4.0}))))
	b := gorgonia.NewVector(g, gorgonia.Float64, gorgonia.WithShape(2), gorgonia.WithName("b"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(2), tensor.WithBacking([]float64{-1.0, -2.0}))))
	learnables := gorgonia.Nodes{w, b}

	fname := filepath.Join(t.TempDir(), "weights.gob")
	require.NoError(t, SaveLearnables(fname, learnables))

	// Wreck the live values, then restore.
	wData := w.Value().Data().([]float64)
	bData := b.Value().Data().([]float64)
	for i := range wData {
		wData[i] = 0.0
	}
	for i := range bData {
		bData[i] = 0.0
	}
	require.NoError(t, LoadLearnables(fname, learnables))
	require.Equal(t, []float64{1.0, 2.0, 3.0, 4.0}, w.Value().Data().([]float64))
	require.Equal(t, []float64{-1.0, -2.0}, b.Value().Data().([]float64))
}

func TestCheckpointLoadRestoresMirroredValues(t *testing.T) {
	// Loading copies into the existing backing slices, so a frozen mirror built
	// before the load observes the restored weights.
	g := gorgonia.NewGraph()
	dis := Discriminator(
		&Layer{Type: LayerFlatten, Activation: NoActivation},
		&Layer{
			WeightNode: gorgonia.NewTensor(g, gorgonia.Float64, 2, gorgonia.WithShape(1, 4), gorgonia.WithName("dis_w"),
				gorgonia.WithValue(tensor.New(tensor.WithShape(1, 4), tensor.WithBacking([]float64{1.0, 2.0, 3.0, 4.0})))),
			Type:       LayerLinear,
			Activation: NoActivation,
		},
	)
	mirrored, err := dis.Mirror(gorgonia.NewGraph())
	require.NoError(t, err)

	fname := filepath.Join(t.TempDir(), "critic.gob")
	require.NoError(t, SaveLearnables(fname, dis.Learnables()))

	data := dis.Learnables()[0].Value().Data().([]float64)
	for i := range data {
		data[i] = 0.0
	}
	require.NoError(t, LoadLearnables(fname, dis.Learnables()))
	require.Equal(t, []float64{1.0, 2.0, 3.0, 4.0}, mirrored.Learnables()[0].Value().Data().([]float64))
}

func TestCheckpointErrors(t *testing.T) {
	g := gorgonia.NewGraph()
	w := gorgonia.NewVector(g, gorgonia.Float64, gorgonia.WithShape(2), gorgonia.WithName("w"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(2), tensor.WithBacking([]float64{1.0, 2.0}))))

	t.Run("value-less learnable", func(t *testing.T) {
		empty := gorgonia.NewVector(g, gorgonia.Float64, gorgonia.WithShape(2), gorgonia.WithName("empty"))
		err := SaveLearnables(filepath.Join(t.TempDir(), "x.gob"), gorgonia.Nodes{empty})
		require.Error(t, err)
	})
	t.Run("missing checkpoint entry", func(t *testing.T) {
		fname := filepath.Join(t.TempDir(), "w.gob")
		require.NoError(t, SaveLearnables(fname, gorgonia.Nodes{w}))
		other := gorgonia.NewVector(g, gorgonia.Float64, gorgonia.WithShape(2), gorgonia.WithName("other"),
			gorgonia.WithValue(tensor.New(tensor.WithShape(2), tensor.WithBacking([]float64{0.0, 0.0}))))
		require.Error(t, LoadLearnables(fname, gorgonia.Nodes{other}))
	})
	t.Run("unreadable file", func(t *testing.T) {
		require.Error(t, LoadLearnables(filepath.Join(t.TempDir(), "missing.gob"), gorgonia.Nodes{w}))
	})
}
