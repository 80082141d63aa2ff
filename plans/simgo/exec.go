package simgo

import (
	"reflect"

	"github.com/NVIDIA/Torch-TensorRT/plans"
	"github.com/NVIDIA/Torch-TensorRT/types/shapes"
	"github.com/NVIDIA/Torch-TensorRT/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// executionContext implements plans.ExecutionContext for simgo plans.
// Contexts hold no mutable state between calls, so a single context is safe
// for concurrent Execute calls; the engine runtime still creates one per engine.
type executionContext struct {
	plan *Plan
}

var _ plans.ExecutionContext = (*executionContext)(nil)

// OutputShapes infers the output shapes for the given input shapes.
func (c *executionContext) OutputShapes(inputShapes []shapes.Shape) ([]shapes.Shape, error) {
	inputs := c.plan.inputDefs()
	if len(inputShapes) != len(inputs) {
		return nil, errors.Errorf("plan has %d inputs, %d shapes given", len(inputs), len(inputShapes))
	}
	outputs := c.plan.outputDefs()
	outputShapes := make([]shapes.Shape, len(outputs))
	for i, recipe := range c.plan.header.Recipes {
		dtype := dtypes.DType(outputs[i].DType)
		switch recipe.Op {
		case OpCopy, OpAffine:
			outputShapes[i] = shapes.Make(dtype, inputShapes[recipe.Input].Dimensions...)
		default: // OpFill, OpSum: shape fixed at plan build time.
			outputShapes[i] = shapes.Make(dtype, outputs[i].Opt...)
		}
	}
	return outputShapes, nil
}

// Execute runs the plan's recipes, filling the pre-allocated outputs.
func (c *executionContext) Execute(inputs, outputs []*tensors.Tensor) error {
	if len(inputs) != len(c.plan.inputDefs()) {
		return errors.Errorf("plan has %d inputs, %d given", len(c.plan.inputDefs()), len(inputs))
	}
	if len(outputs) != len(c.plan.header.Recipes) {
		return errors.Errorf("plan has %d outputs, %d given", len(c.plan.header.Recipes), len(outputs))
	}
	for i, recipe := range c.plan.header.Recipes {
		out := outputs[i]
		switch recipe.Op {
		case OpFill:
			fillFlat(out.Flat(), recipe.Value)
		case OpCopy:
			in := inputs[recipe.Input]
			if out.Size() != in.Size() {
				return errors.Errorf("recipe #%d (copy): output has %d elements, input %d", i, out.Size(), in.Size())
			}
			reflect.Copy(reflect.ValueOf(out.Flat()), reflect.ValueOf(in.Flat()))
		case OpSum:
			fillFlat(out.Flat(), sumFlat(inputs[recipe.Input].Flat()))
		case OpAffine:
			in := inputs[recipe.Input]
			if out.Size() != in.Size() {
				return errors.Errorf("recipe #%d (affine): output has %d elements, input %d", i, out.Size(), in.Size())
			}
			affineFlat(out.Flat(), in.Flat(), recipe.Scale, recipe.Bias)
		default:
			return errors.Errorf("recipe #%d has unknown op %q", i, recipe.Op)
		}
	}
	return nil
}

// Finalize is a no-op for simgo contexts.
func (c *executionContext) Finalize() {}

func fillFlat(flat any, value float64) {
	switch data := flat.(type) {
	case []float16.Float16:
		v := float16.Fromfloat32(float32(value))
		for i := range data {
			data[i] = v
		}
	case []float32:
		for i := range data {
			data[i] = float32(value)
		}
	case []float64:
		for i := range data {
			data[i] = value
		}
	case []int32:
		for i := range data {
			data[i] = int32(value)
		}
	case []int64:
		for i := range data {
			data[i] = int64(value)
		}
	case []uint8:
		for i := range data {
			data[i] = uint8(value)
		}
	}
}

func sumFlat(flat any) (total float64) {
	switch data := flat.(type) {
	case []float16.Float16:
		for _, v := range data {
			total += float64(v.Float32())
		}
	case []float32:
		for _, v := range data {
			total += float64(v)
		}
	case []float64:
		for _, v := range data {
			total += v
		}
	case []int32:
		for _, v := range data {
			total += float64(v)
		}
	case []int64:
		for _, v := range data {
			total += float64(v)
		}
	case []uint8:
		for _, v := range data {
			total += float64(v)
		}
	}
	return
}

func affineFlat(dst, src any, scale, bias float64) {
	switch out := dst.(type) {
	case []float16.Float16:
		in := src.([]float16.Float16)
		for i := range out {
			out[i] = float16.Fromfloat32(float32(float64(in[i].Float32())*scale + bias))
		}
	case []float32:
		in := src.([]float32)
		for i := range out {
			out[i] = float32(float64(in[i])*scale + bias)
		}
	case []float64:
		in := src.([]float64)
		for i := range out {
			out[i] = in[i]*scale + bias
		}
	case []int32:
		in := src.([]int32)
		for i := range out {
			out[i] = int32(float64(in[i])*scale + bias)
		}
	case []int64:
		in := src.([]int64)
		for i := range out {
			out[i] = int64(float64(in[i])*scale + bias)
		}
	case []uint8:
		in := src.([]uint8)
		for i := range out {
			out[i] = uint8(float64(in[i])*scale + bias)
		}
	}
}
