package runtime

import (
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/Torch-TensorRT/plans"
	"github.com/NVIDIA/Torch-TensorRT/types/shapes"
	"github.com/NVIDIA/Torch-TensorRT/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// gatedRuntime is a plan runtime whose executions block until told to
// proceed, so tests can hold an execution in flight while exercising
// lifecycle transitions (device rebinds, releases) around it.
type gatedRuntime struct {
	plan             *gatedPlan
	deserializations int
}

var _ plans.Runtime = (*gatedRuntime)(nil)

func (r *gatedRuntime) Name() string     { return "gated test runtime" }
func (r *gatedRuntime) Platform() string { return "gated" }

func (r *gatedRuntime) Deserialize(serialized []byte) (plans.Plan, error) {
	r.deserializations++
	r.plan = &gatedPlan{serialized: serialized}
	return r.plan, nil
}

type gatedPlan struct {
	serialized []byte
	finalized  atomic.Bool

	mu       sync.Mutex
	contexts []*gatedContext
}

var _ plans.Plan = (*gatedPlan)(nil)

func (p *gatedPlan) Slots() []plans.Slot {
	return []plans.Slot{
		{Name: "input_0", IsInput: true, DType: dtypes.Float32, Min: []int{1}, Opt: []int{1}, Max: []int{1}},
		{Name: "output_0", DType: dtypes.Float32, Min: []int{1}, Opt: []int{1}, Max: []int{1}},
	}
}

func (p *gatedPlan) NewContext(deviceOrdinal int) (plans.ExecutionContext, error) {
	ctx := &gatedContext{started: make(chan struct{}), proceed: make(chan struct{})}
	p.mu.Lock()
	p.contexts = append(p.contexts, ctx)
	p.mu.Unlock()
	return ctx, nil
}

func (p *gatedPlan) Serialize() ([]byte, error) { return p.serialized, nil }
func (p *gatedPlan) Finalize()                  { p.finalized.Store(true) }

func (p *gatedPlan) context(i int) *gatedContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contexts[i]
}

// gatedContext signals started on Execute entry and blocks until proceed is
// closed. Executing on an already-finalized context fails loudly.
type gatedContext struct {
	startOnce sync.Once
	started   chan struct{}
	proceed   chan struct{}
	finalized atomic.Bool
}

var _ plans.ExecutionContext = (*gatedContext)(nil)

func (c *gatedContext) OutputShapes(inputShapes []shapes.Shape) ([]shapes.Shape, error) {
	return []shapes.Shape{shapes.Make(dtypes.Float32, 1)}, nil
}

func (c *gatedContext) Execute(inputs, outputs []*tensors.Tensor) error {
	c.startOnce.Do(func() { close(c.started) })
	<-c.proceed
	if c.finalized.Load() {
		return errors.New("execute on a finalized context")
	}
	copy(tensors.FlatData[float32](outputs[0]), tensors.FlatData[float32](inputs[0]))
	return nil
}

func (c *gatedContext) Finalize() { c.finalized.Store(true) }
