// Package simgo implements a simple, portable, pure-Go plan runtime.
//
// Its plans carry a binding-slot table (with static or min/opt/max shape
// profiles) and one trivial recipe per output (fill a constant, copy an input,
// sum an input, or apply an affine map to an input). The recipes are
// deliberately minimal: the point of this runtime is exercising the engine
// lifecycle, binding and dispatch machinery end to end on hosts without any
// vendor accelerator stack, not competing on kernels.
package simgo

import (
	"github.com/NVIDIA/Torch-TensorRT/plans"
	"github.com/pkg/errors"
)

// Platform tag to be recorded in serialized engine records targeting this runtime.
const Platform = "simgo"

func init() {
	plans.Register(&Runtime{})
}

// Runtime implements plans.Runtime for the simgo plan format.
type Runtime struct{}

// Compile-time check that simgo.Runtime implements plans.Runtime.
var _ plans.Runtime = (*Runtime)(nil)

// Name returns the human-readable name of the runtime.
func (r *Runtime) Name() string { return "SimGo (portable reference runtime)" }

// Platform returns the target-platform tag this runtime serves.
func (r *Runtime) Platform() string { return Platform }

// Deserialize parses simgo plan bytes into a live Plan.
func (r *Runtime) Deserialize(serialized []byte) (plans.Plan, error) {
	header, err := parseFormat(serialized)
	if err != nil {
		return nil, errors.WithMessage(err, "simgo: cannot deserialize plan")
	}
	plan := &Plan{header: header}
	if err := plan.validate(); err != nil {
		return nil, errors.WithMessage(err, "simgo: invalid plan")
	}
	return plan, nil
}
