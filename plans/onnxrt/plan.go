package onnxrt

import (
	"github.com/NVIDIA/Torch-TensorRT/plans"
	"github.com/NVIDIA/Torch-TensorRT/types/shapes"
	"github.com/NVIDIA/Torch-TensorRT/types/tensors"
	"github.com/NVIDIA/Torch-TensorRT/types/xslices"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"
)

// Plan is a deserialized ONNX model plus its derived slot table. The model
// bytes are kept verbatim: sessions are created per execution context and
// Serialize returns the original bytes.
type Plan struct {
	serialized  []byte
	slots       []plans.Slot
	inputNames  []string
	outputNames []string
}

var _ plans.Plan = (*Plan)(nil)

// Slots returns the model's IO bindings, inputs first, in model declaration order.
func (p *Plan) Slots() []plans.Slot {
	return xslices.Copy(p.slots)
}

// Serialize returns the original model bytes.
func (p *Plan) Serialize() ([]byte, error) {
	return p.serialized, nil
}

// Finalize is a no-op at the plan level: sessions belong to contexts.
func (p *Plan) Finalize() {}

// NewContext creates a dynamic session for the model. ONNX Runtime picks its
// execution providers from the session defaults; the device ordinal is
// recorded for diagnostics.
func (p *Plan) NewContext(deviceOrdinal int) (plans.ExecutionContext, error) {
	session, err := ort.NewDynamicAdvancedSessionWithONNXData(p.serialized, p.inputNames, p.outputNames, nil)
	if err != nil {
		return nil, errors.Wrap(err, "onnxrt: cannot create session")
	}
	return &executionContext{plan: p, session: session, deviceOrdinal: deviceOrdinal}, nil
}

type executionContext struct {
	plan          *Plan
	session       *ort.DynamicAdvancedSession
	deviceOrdinal int
}

var _ plans.ExecutionContext = (*executionContext)(nil)

// OutputShapes resolves the model's declared output shapes against the given
// input shapes: static axes are kept and a dynamic leading (batch) axis
// follows the first input's leading axis. Remaining dynamic axes cannot be
// known before the model runs; Execute re-checks against what ONNX Runtime
// actually produced.
func (c *executionContext) OutputShapes(inputShapes []shapes.Shape) ([]shapes.Shape, error) {
	if len(inputShapes) != len(c.plan.inputNames) {
		return nil, errors.Errorf("onnxrt: model has %d inputs, %d shapes given", len(c.plan.inputNames), len(inputShapes))
	}
	var outputShapes []shapes.Shape
	for _, slot := range c.plan.slots {
		if slot.IsInput {
			continue
		}
		dims := xslices.Copy(slot.Opt)
		for axis := range dims {
			if slot.Min[axis] == slot.Max[axis] {
				continue // static axis
			}
			if axis == 0 && len(inputShapes) > 0 && inputShapes[0].Rank() > 0 {
				dims[axis] = inputShapes[0].Dimensions[0]
			}
		}
		outputShapes = append(outputShapes, shapes.Make(slot.DType, dims...))
	}
	return outputShapes, nil
}

// Execute runs the session, letting ONNX Runtime allocate the raw outputs,
// then copies them into the pre-allocated output tensors.
func (c *executionContext) Execute(inputs, outputs []*tensors.Tensor) error {
	ortInputs := make([]ort.Value, len(inputs))
	defer func() {
		for _, value := range ortInputs {
			if value != nil {
				value.Destroy()
			}
		}
	}()
	for i, input := range inputs {
		value, err := tensorToValue(input)
		if err != nil {
			return errors.WithMessagef(err, "onnxrt: input #%d", i)
		}
		ortInputs[i] = value
	}

	ortOutputs := make([]ort.Value, len(outputs))
	if err := c.session.Run(ortInputs, ortOutputs); err != nil {
		return errors.Wrap(err, "onnxrt: session run failed")
	}
	defer func() {
		for _, value := range ortOutputs {
			if value != nil {
				value.Destroy()
			}
		}
	}()

	for i, value := range ortOutputs {
		if err := valueToTensor(value, outputs[i]); err != nil {
			return errors.WithMessagef(err, "onnxrt: output #%d", i)
		}
	}
	return nil
}

// Finalize destroys the session.
func (c *executionContext) Finalize() {
	if c.session == nil {
		return
	}
	if err := c.session.Destroy(); err != nil {
		klog.Warningf("onnxrt: failure while destroying session: %+v", err)
	}
	c.session = nil
}

func tensorToValue(t *tensors.Tensor) (ort.Value, error) {
	shape := ort.NewShape(xslices.Map(t.Shape().Dimensions, func(dim int) int64 { return int64(dim) })...)
	switch flat := t.Flat().(type) {
	case []float32:
		return ort.NewTensor(shape, flat)
	case []float64:
		return ort.NewTensor(shape, flat)
	case []int32:
		return ort.NewTensor(shape, flat)
	case []int64:
		return ort.NewTensor(shape, flat)
	case []uint8:
		return ort.NewTensor(shape, flat)
	default:
		return nil, errors.Errorf("dtype %s is not supported by this runtime", t.DType())
	}
}

func valueToTensor(value ort.Value, out *tensors.Tensor) error {
	switch v := value.(type) {
	case *ort.Tensor[float32]:
		return copyOut(v.GetData(), out)
	case *ort.Tensor[float64]:
		return copyOut(v.GetData(), out)
	case *ort.Tensor[int32]:
		return copyOut(v.GetData(), out)
	case *ort.Tensor[int64]:
		return copyOut(v.GetData(), out)
	case *ort.Tensor[uint8]:
		return copyOut(v.GetData(), out)
	default:
		return errors.Errorf("session produced a value of unsupported type %T", value)
	}
}

func copyOut[T float32 | float64 | int32 | int64 | uint8](data []T, out *tensors.Tensor) error {
	flat, ok := out.Flat().([]T)
	if !ok {
		return errors.Errorf("session produced %T elements, engine allocated %s", data, out.DType())
	}
	if len(data) != len(flat) {
		return errors.Errorf("session produced %d elements, engine allocated %d (shape %s)", len(data), len(flat), out.Shape())
	}
	copy(flat, data)
	return nil
}
