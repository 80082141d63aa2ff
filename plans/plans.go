// Package plans defines the interface a vendor plan runtime needs to implement
// to have its compiled execution plans loaded and executed by the engine
// runtime.
//
// A "plan" is the opaque, vendor-compiled executable form of a numerical
// graph. The engine runtime never interprets plan bytes itself: it selects a
// registered Runtime by the target-platform tag persisted alongside the plan
// and delegates deserialization and execution to it.
//
// Two implementations ship with this repository: plans/simgo, a portable
// pure-Go reference runtime, and plans/onnxrt, backed by ONNX Runtime.
package plans

import (
	"sort"

	"github.com/NVIDIA/Torch-TensorRT/types/shapes"
	"github.com/NVIDIA/Torch-TensorRT/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Runtime is the vendor layer able to deserialize and execute plans compiled
// for one target platform.
type Runtime interface {
	// Name returns a human-readable name of the runtime, for diagnostics.
	Name() string

	// Platform returns the target-platform tag this runtime serves. It is the
	// value persisted in serialized engine records, e.g. "simgo".
	Platform() string

	// Deserialize turns opaque plan bytes into a live Plan. Corrupt bytes or
	// plan bytes produced for an incompatible runtime build must fail here.
	Deserialize(serialized []byte) (Plan, error)
}

// Plan is a live, deserialized execution plan.
//
// A Plan is immutable after deserialization and may be shared: contexts
// created from it hold the per-execution mutable state.
type Plan interface {
	// Slots returns the plan's declared binding slots, inputs and outputs, in
	// the plan's own binding order.
	Slots() []Slot

	// NewContext creates one execution context bound to the given device
	// ordinal (the physical id of the resolved device).
	NewContext(deviceOrdinal int) (ExecutionContext, error)

	// Serialize re-encodes the plan to bytes. Deserialize(Serialize()) must
	// yield a plan with identical slots and execution behavior.
	Serialize() ([]byte, error)

	// Finalize immediately frees resources associated with the plan.
	Finalize()
}

// ExecutionContext holds the per-execution state of a plan.
type ExecutionContext interface {
	// OutputShapes infers the output shapes for the given input shapes, in
	// output slot order. Inputs are given in input-ordinal order.
	OutputShapes(inputShapes []shapes.Shape) ([]shapes.Shape, error)

	// Execute runs the plan. Inputs are in input-ordinal order; outputs are
	// pre-allocated by the caller to the shapes reported by OutputShapes and
	// are filled in place.
	Execute(inputs, outputs []*tensors.Tensor) error

	// Finalize immediately frees resources associated with the context.
	Finalize()
}

// Slot describes one named input or output binding of a plan.
//
// Min/Opt/Max carry the shape profile the plan was built for: static slots
// have all three equal; dynamic slots accept any shape within [Min, Max],
// axis by axis.
type Slot struct {
	Name    string
	IsInput bool
	DType   dtypes.DType

	Min, Opt, Max []int
}

// IsStatic reports whether the slot accepts exactly one shape.
func (s Slot) IsStatic() bool {
	if len(s.Min) != len(s.Max) {
		return false
	}
	for i := range s.Min {
		if s.Min[i] != s.Max[i] {
			return false
		}
	}
	return true
}

// Accepts reports whether the given shape lies within the slot's profile:
// exact dtype, same rank, and every dimension within [Min, Max].
func (s Slot) Accepts(shape shapes.Shape) bool {
	if shape.DType != s.DType || shape.Rank() != len(s.Min) {
		return false
	}
	for i, dim := range shape.Dimensions {
		if dim < s.Min[i] || dim > s.Max[i] {
			return false
		}
	}
	return true
}

// OptShape returns the slot's optimal (or static) shape.
func (s Slot) OptShape() shapes.Shape {
	return shapes.Make(s.DType, s.Opt...)
}

var registeredRuntimes = make(map[string]Runtime)

// Register a plan runtime under its Platform tag. To be safe, call Register
// during initialization of a package. Registering the same platform twice
// overwrites the previous runtime.
func Register(runtime Runtime) {
	registeredRuntimes[runtime.Platform()] = runtime
}

// Get returns the runtime registered for the given platform tag.
func Get(platform string) (Runtime, error) {
	runtime, found := registeredRuntimes[platform]
	if !found {
		return nil, errors.Errorf(
			"no plan runtime registered for platform %q (registered: %v) -- maybe import the reference runtime "+
				`with import _ "github.com/NVIDIA/Torch-TensorRT/plans/simgo"?`,
			platform, Platforms())
	}
	return runtime, nil
}

// Platforms lists the registered platform tags, sorted.
func Platforms() []string {
	platforms := make([]string, 0, len(registeredRuntimes))
	for platform := range registeredRuntimes {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)
	return platforms
}
