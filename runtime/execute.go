package runtime

import (
	"github.com/NVIDIA/Torch-TensorRT/types/shapes"
	"github.com/NVIDIA/Torch-TensorRT/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ExecuteOption configures ExecuteEngine.
type ExecuteOption func(*executeOptions)

type executeOptions struct {
	stream *Stream
}

// WithStream makes the execution asynchronous: ExecuteEngine enqueues the
// work and returns the output tensors immediately. They must not be read
// before the stream (or the event from stream.Record) synchronizes; execution
// errors surface through stream.Synchronize.
func WithStream(stream *Stream) ExecuteOption {
	return func(o *executeOptions) { o.stream = stream }
}

// ExecuteEngine runs the engine on the given inputs, ordered by input
// ordinal, and returns freshly allocated outputs ordered by output ordinal.
//
// Inputs are checked against the engine's binding contract before anything
// runs: count, exact dtype and shape-within-profile. A violation returns an
// error wrapping ErrPrecondition and leaves the engine untouched. If an input
// tensor carries a device ordinal, it is taken as a placement hint and the
// engine may be rebound to a better-matching device first.
func ExecuteEngine(e *Engine, inputs []*tensors.Tensor, opts ...ExecuteOption) ([]*tensors.Tensor, error) {
	e.AssertValid()
	var options executeOptions
	for _, opt := range opts {
		opt(&options)
	}

	if err := checkInputs(e, inputs); err != nil {
		return nil, err
	}
	applyDeviceHint(e, inputs)

	// Pin the current context: a concurrent SetDevice may swap it, but it is
	// not finalized until this execution releases it.
	ref, device := e.acquireContext()
	inputShapes := make([]shapes.Shape, len(inputs))
	for i, input := range inputs {
		inputShapes[i] = input.Shape()
	}
	outputShapes, err := ref.ctx.OutputShapes(inputShapes)
	if err != nil {
		ref.release()
		return nil, errors.Wrapf(ErrPrecondition, "engine %q: cannot resolve output shapes: %v", e.name, err)
	}
	if len(outputShapes) != e.NumOutputs() {
		ref.release()
		return nil, errors.Errorf("engine %q: context resolved %d output shapes, engine has %d outputs",
			e.name, len(outputShapes), e.NumOutputs())
	}
	outputs := make([]*tensors.Tensor, len(outputShapes))
	for i, shape := range outputShapes {
		outputs[i] = tensors.FromShape(shape)
		outputs[i].SetDeviceOrdinal(device.PhysicalID)
	}

	run := func() error {
		if err := ref.ctx.Execute(inputs, outputs); err != nil {
			return errors.Wrapf(ErrExecution, "engine %q on %s: %v", e.name, device, err)
		}
		return nil
	}
	if options.stream != nil {
		// Release once the stream reaches (or skips) the item, the event
		// fires either way.
		ev := options.stream.Enqueue(run)
		go func() {
			ev.Wait()
			ref.release()
		}()
		return outputs, nil
	}
	err = run()
	ref.release()
	return outputs, err
}

func checkInputs(e *Engine, inputs []*tensors.Tensor) error {
	if len(inputs) != e.NumInputs() {
		return errors.Wrapf(ErrPrecondition, "engine %q takes %d inputs, got %d", e.name, e.NumInputs(), len(inputs))
	}
	for ordinal, input := range inputs {
		slot := e.inputSlots[ordinal]
		shape := input.Shape()
		if shape.DType != slot.DType {
			return errors.Wrapf(ErrPrecondition, "engine %q input %q: dtype %s, binding requires %s",
				e.name, slot.Name, shape.DType, slot.DType)
		}
		if !slot.Accepts(shape) {
			return errors.Wrapf(ErrPrecondition, "engine %q input %q: shape %s outside profile min=%v max=%v",
				e.name, slot.Name, shape, slot.Min, slot.Max)
		}
	}
	return nil
}

// applyDeviceHint rebinds the engine when an input tensor lives on a device
// that also satisfies the engine's target. Hints are best-effort: an
// unsatisfiable or unknown hint is ignored and execution stays where it is.
func applyDeviceHint(e *Engine, inputs []*tensors.Tensor) {
	hint := tensors.HostOrdinal
	for _, input := range inputs {
		if input.DeviceOrdinal() != tensors.HostOrdinal {
			hint = input.DeviceOrdinal()
			break
		}
	}
	if hint == tensors.HostOrdinal {
		return
	}
	current := e.Device()
	if hint == current.PhysicalID {
		return
	}
	list, err := Devices()
	if err != nil {
		return
	}
	hinted, err := list.Find(hint)
	if err != nil {
		klog.V(2).Infof("engine %q: ignoring placement hint for unknown device ordinal %d", e.name, hint)
		return
	}
	resolved, err := MostCompatibleDevice(e.target, &hinted, e.hardwareCompatible)
	if err != nil || resolved.PhysicalID == current.PhysicalID {
		return
	}
	if err := e.SetDevice(resolved); err != nil {
		klog.Warningf("engine %q: could not follow placement hint to %s: %+v", e.name, resolved, err)
	}
}
