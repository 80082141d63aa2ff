package simgo

import (
	"fmt"

	"github.com/NVIDIA/Torch-TensorRT/types/xslices"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Builder assembles simgo plan bytes. It is the producer-side counterpart of
// Runtime.Deserialize, used by export tooling and tests.
//
// Slot names follow the binding convention expected by the engine runtime:
// inputs are named input_0, input_1, ... and outputs output_0, output_1, ...,
// in declaration order.
type Builder struct {
	header  header
	numIn   int
	numOut  int
	pending []Recipe
	err     error
}

// NewBuilder creates an empty plan builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Input declares a static-shape input slot.
func (b *Builder) Input(dtype dtypes.DType, dimensions ...int) *Builder {
	return b.InputRange(dtype, dimensions, dimensions, dimensions)
}

// InputRange declares a dynamic input slot accepting shapes within [min, max],
// with opt the shape the plan is tuned for.
func (b *Builder) InputRange(dtype dtypes.DType, min, opt, max []int) *Builder {
	if b.err != nil {
		return b
	}
	b.header.Slots = append(b.header.Slots, slotDef{
		Name:  fmt.Sprintf("input_%d", b.numIn),
		Input: true,
		DType: int32(dtype),
		Min:   xslices.Copy(min),
		Opt:   xslices.Copy(opt),
		Max:   xslices.Copy(max),
	})
	b.numIn++
	return b
}

// OutputFill declares an output slot of the given static shape, computed by
// filling it with value.
func (b *Builder) OutputFill(dtype dtypes.DType, value float64, dimensions ...int) *Builder {
	return b.output(dtype, dimensions, Recipe{Op: OpFill, Value: value})
}

// OutputSum declares an output slot of the given static shape, every element
// set to the sum of the referenced input's elements.
func (b *Builder) OutputSum(dtype dtypes.DType, fromInput int, dimensions ...int) *Builder {
	return b.output(dtype, dimensions, Recipe{Op: OpSum, Input: fromInput})
}

// OutputCopy declares an output slot mirroring the referenced input. The
// declared dimensions are the input's opt shape; at execution the output
// follows the input's runtime shape.
func (b *Builder) OutputCopy(dtype dtypes.DType, fromInput int, dimensions ...int) *Builder {
	return b.output(dtype, dimensions, Recipe{Op: OpCopy, Input: fromInput})
}

// OutputAffine declares an output slot computed as input*scale+bias, element-wise.
func (b *Builder) OutputAffine(dtype dtypes.DType, fromInput int, scale, bias float64, dimensions ...int) *Builder {
	return b.output(dtype, dimensions, Recipe{Op: OpAffine, Input: fromInput, Scale: scale, Bias: bias})
}

func (b *Builder) output(dtype dtypes.DType, dimensions []int, recipe Recipe) *Builder {
	if b.err != nil {
		return b
	}
	b.header.Slots = append(b.header.Slots, slotDef{
		Name:  fmt.Sprintf("output_%d", b.numOut),
		DType: int32(dtype),
		Min:   xslices.Copy(dimensions),
		Opt:   xslices.Copy(dimensions),
		Max:   xslices.Copy(dimensions),
	})
	b.numOut++
	b.pending = append(b.pending, recipe)
	return b
}

// Done validates and encodes the plan, returning its serialized bytes.
func (b *Builder) Done() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.numOut == 0 {
		return nil, errors.New("simgo: a plan needs at least one output")
	}
	b.header.Recipes = b.pending
	plan := &Plan{header: &b.header}
	if err := plan.validate(); err != nil {
		return nil, errors.WithMessage(err, "simgo: invalid plan specification")
	}
	return encodeFormat(&b.header)
}
