package inference

import (
	"context"
	"sort"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Heads are the three output nodes of a built model graph.
type Heads struct {
	Region  *G.Node
	BBoxes  *G.Node
	Classes *G.Node
}

// GraphModel builds the network on an expression graph. The network itself is
// supplied by the caller; the engine only binds weights and runs it.
type GraphModel interface {
	Name() string
	// Build adds the network to g for input, a (N, H, W, 3) node.
	Build(g *G.ExprGraph, input *G.Node, w *Weights, cfg EngineConfig) (Heads, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]GraphModel{}
)

// RegisterGraphModel makes a model available by name to EngineConfig.Model.
func RegisterGraphModel(m GraphModel) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[m.Name()] = m
}

// LookupGraphModel returns a registered model.
func LookupGraphModel(name string) (GraphModel, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if m, ok := registry[name]; ok {
		return m, nil
	}
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return nil, errors.Errorf("unknown graph model %q (registered: %v)", name, names)
}

// GraphEngine is the reference backend. It executes the model graph with a
// gorgonia tape machine and accepts any batch size.
type GraphEngine struct {
	cfg     EngineConfig
	model   GraphModel
	weights *Weights
	log     logs.Log

	mu       sync.Mutex
	compiled map[int]*compiledGraph
}

type compiledGraph struct {
	g     *G.ExprGraph
	input *G.Node
	heads Heads
	vm    G.VM
}

// NewGraphEngine returns a baseline engine. Graphs are compiled lazily, once
// per batch size.
func NewGraphEngine(cfg EngineConfig, model GraphModel, weights *Weights, log logs.Log) (*GraphEngine, error) {
	if model == nil || weights == nil {
		return nil, errors.New("graph engine needs a model and weights")
	}
	log.Infof("Baseline engine: model %s, %d weights", model.Name(), len(weights.Names()))
	return &GraphEngine{
		cfg:      cfg,
		model:    model,
		weights:  weights,
		log:      log,
		compiled: make(map[int]*compiledGraph),
	}, nil
}

// Precision returns Baseline.
func (e *GraphEngine) Precision() Precision { return Baseline }

// BatchSize returns 0: any batch size is accepted.
func (e *GraphEngine) BatchSize() int { return 0 }

// Infer runs the graph on images and returns (region, bboxes, classes).
func (e *GraphEngine) Infer(ctx context.Context, images *tensor.Dense) (*Outputs, error) {
	n, err := checkInput(e.cfg, images)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.compile(n)
	if err != nil {
		return nil, err
	}
	defer c.vm.Reset()

	if err := G.Let(c.input, contiguous(images)); err != nil {
		return nil, errors.Wrap(err, "bind input")
	}
	if err := c.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "run graph")
	}

	tuple := make([]*tensor.Dense, 0, 3)
	for _, node := range []*G.Node{c.heads.Region, c.heads.BBoxes, c.heads.Classes} {
		if node == nil {
			continue
		}
		t, err := nodeValue(node)
		if err != nil {
			return nil, err
		}
		tuple = append(tuple, t)
	}
	return FromTuple(tuple)
}

func (e *GraphEngine) compile(n int) (*compiledGraph, error) {
	if c, ok := e.compiled[n]; ok {
		return c, nil
	}

	g := G.NewGraph()
	input := G.NewTensor(g, tensor.Float32, 4,
		G.WithShape(n, e.cfg.InputHeight, e.cfg.InputWidth, 3),
		G.WithName("input"),
	)
	heads, err := e.model.Build(g, input, e.weights, e.cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s graph", e.model.Name())
	}
	if heads.BBoxes == nil || heads.Classes == nil {
		return nil, errors.Wrapf(ErrOutputArity, "%s graph has no bboxes or classes head", e.model.Name())
	}

	c := &compiledGraph{g: g, input: input, heads: heads, vm: G.NewTapeMachine(g)}
	e.compiled[n] = c
	e.log.Debugf("Compiled %s graph for batch %d (%d nodes)", e.model.Name(), n, len(g.AllNodes()))
	return c, nil
}

// Close releases the compiled graphs.
func (e *GraphEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var first error
	for n, c := range e.compiled {
		if err := c.vm.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close graph for batch %d", n)
		}
		delete(e.compiled, n)
	}
	return first
}

// nodeValue copies a node's value out of the machine's memory.
func nodeValue(n *G.Node) (*tensor.Dense, error) {
	d, ok := n.Value().(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("node %s: unexpected value type %T", n.Name(), n.Value())
	}
	return contiguous(d).Clone().(*tensor.Dense), nil
}

func contiguous(t *tensor.Dense) *tensor.Dense {
	if !t.IsView() {
		return t
	}
	if d, ok := t.Materialize().(*tensor.Dense); ok {
		return d
	}
	return t
}
