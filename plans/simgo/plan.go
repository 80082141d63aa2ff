package simgo

import (
	"github.com/NVIDIA/Torch-TensorRT/plans"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Plan is a deserialized simgo plan. It is immutable and safe to share across
// execution contexts.
type Plan struct {
	header *header
}

// Compile-time check that simgo.Plan implements plans.Plan.
var _ plans.Plan = (*Plan)(nil)

func (p *Plan) validate() error {
	numInputs := 0
	for i, slot := range p.header.Slots {
		if slot.Name == "" {
			return errors.Errorf("slot #%d has an empty name", i)
		}
		dtype := dtypes.DType(slot.DType)
		if !supportedDTypes[dtype] {
			return errors.Errorf("slot %q has unsupported dtype %s", slot.Name, dtype)
		}
		if len(slot.Min) != len(slot.Opt) || len(slot.Opt) != len(slot.Max) {
			return errors.Errorf("slot %q has inconsistent profile ranks (min=%d, opt=%d, max=%d)",
				slot.Name, len(slot.Min), len(slot.Opt), len(slot.Max))
		}
		for axis := range slot.Min {
			if slot.Min[axis] <= 0 || slot.Min[axis] > slot.Opt[axis] || slot.Opt[axis] > slot.Max[axis] {
				return errors.Errorf("slot %q has invalid profile on axis %d: min=%d opt=%d max=%d",
					slot.Name, axis, slot.Min[axis], slot.Opt[axis], slot.Max[axis])
			}
		}
		if slot.Input {
			numInputs++
		}
	}
	outputs := p.outputDefs()
	if len(p.header.Recipes) != len(outputs) {
		return errors.Errorf("plan declares %d output slots but carries %d recipes", len(outputs), len(p.header.Recipes))
	}
	for i, recipe := range p.header.Recipes {
		switch recipe.Op {
		case OpFill:
			// No input reference.
		case OpCopy, OpSum, OpAffine:
			if recipe.Input < 0 || recipe.Input >= numInputs {
				return errors.Errorf("recipe #%d (%s) references input %d, plan has %d inputs",
					i, recipe.Op, recipe.Input, numInputs)
			}
			if recipe.Op != OpSum {
				inDef := p.inputDefs()[recipe.Input]
				if inDef.DType != outputs[i].DType {
					return errors.Errorf("recipe #%d (%s) maps input %q (%s) to output %q (%s), dtypes must match",
						i, recipe.Op, inDef.Name, dtypes.DType(inDef.DType),
						outputs[i].Name, dtypes.DType(outputs[i].DType))
				}
			}
		default:
			return errors.Errorf("recipe #%d has unknown op %q", i, recipe.Op)
		}
	}
	return nil
}

func (p *Plan) inputDefs() []slotDef {
	defs := make([]slotDef, 0, len(p.header.Slots))
	for _, slot := range p.header.Slots {
		if slot.Input {
			defs = append(defs, slot)
		}
	}
	return defs
}

func (p *Plan) outputDefs() []slotDef {
	defs := make([]slotDef, 0, len(p.header.Slots))
	for _, slot := range p.header.Slots {
		if !slot.Input {
			defs = append(defs, slot)
		}
	}
	return defs
}

// Slots returns the plan's declared binding slots in the plan's binding order.
func (p *Plan) Slots() []plans.Slot {
	slots := make([]plans.Slot, len(p.header.Slots))
	for i, def := range p.header.Slots {
		slots[i] = plans.Slot{
			Name:    def.Name,
			IsInput: def.Input,
			DType:   dtypes.DType(def.DType),
			Min:     def.Min,
			Opt:     def.Opt,
			Max:     def.Max,
		}
	}
	return slots
}

// NewContext creates one execution context. The device ordinal is accepted for
// interface compatibility; simgo always executes on the calling goroutine.
func (p *Plan) NewContext(deviceOrdinal int) (plans.ExecutionContext, error) {
	_ = deviceOrdinal
	return &executionContext{plan: p}, nil
}

// Serialize re-encodes the plan to bytes.
func (p *Plan) Serialize() ([]byte, error) {
	return encodeFormat(p.header)
}

// Finalize is a no-op for simgo: plans hold no resources beyond Go memory.
func (p *Plan) Finalize() {}
