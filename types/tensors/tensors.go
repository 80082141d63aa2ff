// Package tensors implements a host-side Tensor: a multi-dimensional array
// defined by its shape (data type and axes dimensions) and a flat slice with
// its contents.
//
// Tensors are the values exchanged with an engine at execution time: each one
// carries its shape, element type and data location (host memory or a device
// ordinal hint for engines spanning multi-device hosts).
package tensors

import (
	"reflect"
	"unsafe"

	"github.com/NVIDIA/Torch-TensorRT/types/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// HostOrdinal is the data-location value for tensors resident in host memory.
const HostOrdinal = -1

// Tensor is a host-resident multi-dimensional array.
//
// The flat data is always a slice of the Go type corresponding to the shape's
// DType, of length shape.Size(). It is not synchronized: concurrent writers
// must coordinate externally. The runtime never shares one tensor across
// concurrent executions.
type Tensor struct {
	shape shapes.Shape

	// flat is a slice of the underlying data type (shape.DType).
	flat any

	// deviceOrdinal records where the data logically lives. Host tensors
	// (the only kind constructed by this package) use HostOrdinal; the
	// value is a placement hint for the execution dispatcher.
	deviceOrdinal int
}

// FromShape returns a Tensor of the given shape, with the data zero-initialized.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	flat := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size()).Interface()
	return &Tensor{shape: shape.Clone(), flat: flat, deviceOrdinal: HostOrdinal}
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions,
// initialized with the flattened data given. The data slice is copied.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions(%s): data has %d elements, shape requires %d",
			shape, len(data), shape.Size())
	}
	t := FromShape(shape)
	copy(t.flat.([]T), data)
	return t
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled
// with the given scalar value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	t := FromShape(shapes.Make(dtype, dimensions...))
	flat := t.flat.([]T)
	for i := range flat {
		flat[i] = value
	}
	return t
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements, a shortcut to Shape().DType.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Size is the number of elements, a shortcut to Shape().Size.
func (t *Tensor) Size() int { return t.shape.Size() }

// DeviceOrdinal returns the tensor's data-location hint: HostOrdinal for host
// memory, otherwise the device the data is associated with.
func (t *Tensor) DeviceOrdinal() int { return t.deviceOrdinal }

// SetDeviceOrdinal sets the data-location hint. It doesn't move any data.
func (t *Tensor) SetDeviceOrdinal(ordinal int) { t.deviceOrdinal = ordinal }

// Flat returns the tensor's flat data slice (a []T where T corresponds to the
// DType). The returned slice aliases the tensor's storage.
func (t *Tensor) Flat() any { return t.flat }

// FlatData returns the flat data of the tensor typed. It panics if T doesn't
// match the tensor's DType -- there is no implicit casting anywhere in the runtime.
func FlatData[T dtypes.Supported](t *Tensor) []T {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		exceptions.Panicf("tensors.FlatData[%s] on tensor with dtype %s",
			dtypes.FromGenericsType[T](), t.shape.DType)
	}
	return t.flat.([]T)
}

// Bytes returns a byte view over the tensor's flat data. The slice aliases the
// tensor's storage and is invalidated if the tensor is garbage collected.
func (t *Tensor) Bytes() []byte {
	flatV := reflect.ValueOf(t.flat)
	if flatV.Len() == 0 {
		return nil
	}
	sizeBytes := uintptr(flatV.Len()) * flatV.Index(0).Type().Size()
	return unsafe.Slice((*byte)(flatV.Index(0).Addr().UnsafePointer()), sizeBytes)
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	t2 := FromShape(t.shape)
	reflect.Copy(reflect.ValueOf(t2.flat), reflect.ValueOf(t.flat))
	t2.deviceOrdinal = t.deviceOrdinal
	return t2
}

// Equal reports whether the two tensors have the same shape and bit-identical contents.
func (t *Tensor) Equal(t2 *Tensor) bool {
	if !t.shape.Equal(t2.shape) {
		return false
	}
	return reflect.DeepEqual(t.flat, t2.flat)
}

// CopyFlatData copies the tensor's flat data into dst, which must be a slice
// of the matching Go type with at least Size() elements.
func (t *Tensor) CopyFlatData(dst any) {
	reflect.Copy(reflect.ValueOf(dst), reflect.ValueOf(t.flat))
}
