package rainnet_go

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

type savedParam struct {
	Shape []int
	Data  []float64
}

// SaveLearnables Serializes the learnable nodes' values to a gob file keyed by node
// name. Node names must be unique across the provided set.
func SaveLearnables(fname string, learnables gorgonia.Nodes) error {
	params := make(map[string]savedParam, len(learnables))
	for _, n := range learnables {
		if n.Value() == nil {
			return fmt.Errorf("Learnable '%s' has no value to save", n.Name())
		}
		data, ok := n.Value().Data().([]float64)
		if !ok {
			return fmt.Errorf("Learnable '%s' is not backed by float64 data", n.Name())
		}
		if _, exists := params[n.Name()]; exists {
			return fmt.Errorf("Duplicate learnable name '%s'", n.Name())
		}
		stored := make([]float64, len(data))
		copy(stored, data)
		params[n.Name()] = savedParam{Shape: n.Shape(), Data: stored}
	}
	f, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create checkpoint file")
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(params); err != nil {
		return errors.Wrap(err, "Can't encode learnables")
	}
	return nil
}

// LoadLearnables Restores previously saved values into the provided learnable nodes,
// matched by node name. Data is copied into the nodes' existing backing slices, so
// frozen mirrors sharing those values observe the restored weights too.
func LoadLearnables(fname string, learnables gorgonia.Nodes) error {
	f, err := os.Open(fname)
	if err != nil {
		return errors.Wrap(err, "Can't open checkpoint file")
	}
	defer f.Close()
	params := map[string]savedParam{}
	if err := gob.NewDecoder(f).Decode(&params); err != nil {
		return errors.Wrap(err, "Can't decode learnables")
	}
	for _, n := range learnables {
		saved, found := params[n.Name()]
		if !found {
			return fmt.Errorf("Checkpoint has no entry for learnable '%s'", n.Name())
		}
		if !n.Shape().Eq(saved.Shape) {
			return fmt.Errorf("Learnable '%s' shape %v doesn't match saved shape %v", n.Name(), n.Shape(), saved.Shape)
		}
		data, ok := n.Value().Data().([]float64)
		if !ok {
			return fmt.Errorf("Learnable '%s' is not backed by float64 data", n.Name())
		}
		if len(data) != len(saved.Data) {
			return fmt.Errorf("Learnable '%s' has %d elements, checkpoint has %d", n.Name(), len(data), len(saved.Data))
		}
		copy(data, saved.Data)
	}
	return nil
}
