package inference

import (
	"encoding/gob"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ErrMissingWeight is returned when a graph asks for a parameter the artifact
// does not contain.
var ErrMissingWeight = errors.New("missing weight")

const weightsVersion = 1

// Weights is a trained parameter artifact: float32 tensors addressed by layer
// name.
type Weights struct {
	params map[string]param
}

type param struct {
	Shape []int
	Data  []float32
}

type weightsFile struct {
	Version int
	Names   []string
	Params  []param
}

// NewWeights returns an empty artifact.
func NewWeights() *Weights {
	return &Weights{params: make(map[string]param)}
}

// Set stores a copy of t under name.
func (w *Weights) Set(name string, t *tensor.Dense) error {
	data, ok := t.Data().([]float32)
	if !ok {
		return errors.Errorf("weight %s: want float32 data, got %v", name, t.Dtype())
	}
	w.params[name] = param{
		Shape: append([]int(nil), t.Shape()...),
		Data:  append([]float32(nil), data...),
	}
	return nil
}

// SetScalar stores a scalar parameter.
func (w *Weights) SetScalar(name string, v float32) {
	w.params[name] = param{Data: []float32{v}}
}

// Names returns the parameter names in sorted order.
func (w *Weights) Names() []string {
	names := make([]string, 0, len(w.params))
	for n := range w.params {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Shape returns the shape of a parameter. Scalars have an empty shape.
func (w *Weights) Shape(name string) ([]int, error) {
	p, ok := w.params[name]
	if !ok {
		return nil, errors.Wrap(ErrMissingWeight, name)
	}
	return append([]int(nil), p.Shape...), nil
}

// Node binds parameter name to a new constant-valued node of g. shape must
// match the stored shape; pass no dims for a scalar.
//
// Arguments:
//   - g: The graph to add the node to.
//   - name: The parameter (layer) name.
//   - shape: The shape the model expects.
//
// Returns:
//   - *G.Node: The bound node.
//   - error: ErrMissingWeight, or a shape mismatch.
func (w *Weights) Node(g *G.ExprGraph, name string, shape ...int) (*G.Node, error) {
	p, ok := w.params[name]
	if !ok {
		return nil, errors.Wrap(ErrMissingWeight, name)
	}
	if !sameShape(p.Shape, shape) {
		return nil, errors.Errorf("weight %s: stored shape %v, model expects %v", name, p.Shape, shape)
	}

	if len(shape) == 0 {
		return G.NewScalar(g, tensor.Float32, G.WithName(name), G.WithValue(p.Data[0])), nil
	}

	value := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(append([]float32(nil), p.Data...)))
	opts := []G.NodeConsOpt{G.WithShape(shape...), G.WithName(name), G.WithValue(value)}
	switch len(shape) {
	case 1:
		return G.NewVector(g, tensor.Float32, opts...), nil
	case 2:
		return G.NewMatrix(g, tensor.Float32, opts...), nil
	}
	return G.NewTensor(g, tensor.Float32, len(shape), opts...), nil
}

// Save writes the artifact with encoding/gob.
func (w *Weights) Save(out io.Writer) error {
	f := weightsFile{Version: weightsVersion, Names: w.Names()}
	for _, n := range f.Names {
		f.Params = append(f.Params, w.params[n])
	}
	return errors.Wrap(gob.NewEncoder(out).Encode(f), "encode weights")
}

// SaveFile writes the artifact to path.
func (w *Weights) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create weights file")
	}
	if err := w.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadWeights reads an artifact written by Save.
func LoadWeights(in io.Reader) (*Weights, error) {
	var f weightsFile
	if err := gob.NewDecoder(in).Decode(&f); err != nil {
		return nil, errors.Wrap(err, "decode weights")
	}
	if f.Version != weightsVersion {
		return nil, errors.Errorf("unsupported weights version %d", f.Version)
	}
	if len(f.Names) != len(f.Params) {
		return nil, errors.Errorf("corrupt weights: %d names, %d params", len(f.Names), len(f.Params))
	}

	w := NewWeights()
	for i, n := range f.Names {
		p := f.Params[i]
		size := 1
		for _, d := range p.Shape {
			size *= d
		}
		if size != len(p.Data) {
			return nil, errors.Errorf("corrupt weight %s: shape %v holds %d values, got %d", n, p.Shape, size, len(p.Data))
		}
		w.params[n] = p
	}
	return w, nil
}

// LoadWeightsFile reads the artifact at path.
func LoadWeightsFile(path string) (*Weights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open weights file")
	}
	defer f.Close()
	return LoadWeights(f)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
