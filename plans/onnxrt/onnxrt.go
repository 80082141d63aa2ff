// Package onnxrt implements a plan runtime backed by ONNX Runtime, through
// github.com/yalue/onnxruntime_go.
//
// Plan bytes for this platform are a serialized ONNX model. The shared ONNX
// Runtime library must be available on the host; point the environment
// variable ONNXRUNTIME_SHARED_LIBRARY_PATH at it if it is not on the default
// search path. An unavailable library surfaces as a deserialization error,
// never a crash.
package onnxrt

import (
	"math"
	"os"
	"sync"

	"github.com/NVIDIA/Torch-TensorRT/plans"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"
)

// Platform tag to be recorded in serialized engine records targeting this runtime.
const Platform = "onnxruntime"

// SharedLibraryPathEnvVar overrides where the ONNX Runtime shared library is
// loaded from.
const SharedLibraryPathEnvVar = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// maxDynamicDim bounds axes the model declares as dynamic (-1).
const maxDynamicDim = math.MaxInt32

func init() {
	plans.Register(&Runtime{})
}

// Runtime implements plans.Runtime on top of ONNX Runtime.
type Runtime struct{}

var _ plans.Runtime = (*Runtime)(nil)

// Name returns the human-readable name of the runtime.
func (r *Runtime) Name() string { return "ONNX Runtime" }

// Platform returns the target-platform tag this runtime serves.
func (r *Runtime) Platform() string { return Platform }

var (
	initOnce sync.Once
	initErr  error
)

// ensureInitialized loads and initializes the ONNX Runtime environment once
// per process.
func ensureInitialized() error {
	initOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if path := os.Getenv(SharedLibraryPathEnvVar); path != "" {
			klog.V(1).Infof("onnxrt: using ONNX Runtime shared library from %s", path)
			ort.SetSharedLibraryPath(path)
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// Deserialize parses plan bytes as an ONNX model and derives the binding
// slots from the model's IO metadata.
func (r *Runtime) Deserialize(serialized []byte) (plans.Plan, error) {
	if err := ensureInitialized(); err != nil {
		return nil, errors.Wrap(err, "onnxrt: ONNX Runtime environment unavailable")
	}
	inputInfos, outputInfos, err := ort.GetInputOutputInfoWithONNXData(serialized)
	if err != nil {
		return nil, errors.Wrap(err, "onnxrt: cannot read model IO metadata, plan bytes are not a valid ONNX model")
	}
	plan := &Plan{serialized: serialized}
	for _, info := range inputInfos {
		slot, err := slotFromInfo(info, true)
		if err != nil {
			return nil, err
		}
		plan.slots = append(plan.slots, slot)
		plan.inputNames = append(plan.inputNames, info.Name)
	}
	for _, info := range outputInfos {
		slot, err := slotFromInfo(info, false)
		if err != nil {
			return nil, err
		}
		plan.slots = append(plan.slots, slot)
		plan.outputNames = append(plan.outputNames, info.Name)
	}
	return plan, nil
}

func slotFromInfo(info ort.InputOutputInfo, isInput bool) (plans.Slot, error) {
	dtype, err := dtypeForElementType(info.DataType)
	if err != nil {
		return plans.Slot{}, errors.WithMessagef(err, "onnxrt: binding %q", info.Name)
	}
	slot := plans.Slot{
		Name:    info.Name,
		IsInput: isInput,
		DType:   dtype,
	}
	for _, dim := range info.Dimensions {
		if dim > 0 {
			slot.Min = append(slot.Min, int(dim))
			slot.Opt = append(slot.Opt, int(dim))
			slot.Max = append(slot.Max, int(dim))
		} else {
			// Dynamic axis: the model accepts anything, bound it loosely.
			slot.Min = append(slot.Min, 1)
			slot.Opt = append(slot.Opt, 1)
			slot.Max = append(slot.Max, maxDynamicDim)
		}
	}
	return slot, nil
}

func dtypeForElementType(elementType ort.TensorElementDataType) (dtypes.DType, error) {
	switch elementType {
	case ort.TensorElementDataTypeFloat:
		return dtypes.Float32, nil
	case ort.TensorElementDataTypeDouble:
		return dtypes.Float64, nil
	case ort.TensorElementDataTypeInt32:
		return dtypes.Int32, nil
	case ort.TensorElementDataTypeInt64:
		return dtypes.Int64, nil
	case ort.TensorElementDataTypeUint8:
		return dtypes.Uint8, nil
	default:
		return dtypes.InvalidDType, errors.Errorf("element type %v is not supported by this runtime", elementType)
	}
}
