package runtime

import (
	"testing"

	"github.com/NVIDIA/Torch-TensorRT/plans"
	"github.com/NVIDIA/Torch-TensorRT/plans/simgo"
	"github.com/NVIDIA/Torch-TensorRT/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPlanBytes builds a small simgo plan: 4 inputs, 2 outputs.
func testPlanBytes(t *testing.T) []byte {
	t.Helper()
	return must.M1(simgo.NewBuilder().
		Input(dtypes.Float32, 2, 2).
		Input(dtypes.Float32, 2, 2).
		Input(dtypes.Int32, 8).
		Input(dtypes.Float32, 3).
		OutputSum(dtypes.Float32, 0, 1).
		OutputAffine(dtypes.Float32, 1, 2, 0, 2, 2).
		Done())
}

func testTarget() Device {
	return Device{Kind: GeneralPurpose, Major: 1, Minor: 0}
}

func newTestEngine(t *testing.T, name string) *Engine {
	t.Helper()
	useFakeDevices(t, Device{PhysicalID: 0, Kind: GeneralPurpose, Major: 1, Minor: 0})
	e := must.M1(NewEngine(name, simgo.Platform, testPlanBytes(t), testTarget()))
	t.Cleanup(e.Release)
	return e
}

func TestEngineBindingTables(t *testing.T) {
	e := newTestEngine(t, "bindings")
	require.Equal(t, 4, e.NumInputs())
	require.Equal(t, 2, e.NumOutputs())

	inputs := e.InputSlots()
	for ordinal, slot := range inputs {
		assert.True(t, slot.IsInput)
		isInput, resolved := mustBinding(t, e, slot.Name)
		assert.True(t, isInput)
		assert.Equal(t, ordinal, resolved)
	}
	outputs := e.OutputSlots()
	assert.Equal(t, "output_0", outputs[0].Name)
	assert.Equal(t, "output_1", outputs[1].Name)
	isInput, ordinal := mustBinding(t, e, "output_1")
	assert.False(t, isInput)
	assert.Equal(t, 1, ordinal)

	_, _, err := e.BindingOrdinal("no_such_binding")
	require.Error(t, err)
}

func mustBinding(t *testing.T, e *Engine, name string) (bool, int) {
	t.Helper()
	isInput, ordinal, err := e.BindingOrdinal(name)
	require.NoError(t, err)
	return isInput, ordinal
}

func TestBindingOrdinalParsing(t *testing.T) {
	ordinal := must.M1(bindingOrdinal("input_12"))
	assert.Equal(t, 12, ordinal)
	ordinal = must.M1(bindingOrdinal("my_fancy_output_0"))
	assert.Equal(t, 0, ordinal)

	for _, name := range []string{"input", "input_", "input_-1", "input_x", ""} {
		_, err := bindingOrdinal(name)
		require.ErrorIs(t, err, ErrMalformedBindingName, "name=%q", name)
	}
}

func TestBindingTablesRequireDenseOrdinals(t *testing.T) {
	e := &Engine{}
	err := e.buildBindingTables([]plans.Slot{
		{Name: "input_0", IsInput: true, DType: dtypes.Float32},
		{Name: "input_2", IsInput: true, DType: dtypes.Float32},
		{Name: "output_0", DType: dtypes.Float32},
	})
	require.ErrorIs(t, err, ErrMalformedBindingName)

	err = e.buildBindingTables([]plans.Slot{
		{Name: "input_0", IsInput: true, DType: dtypes.Float32},
		{Name: "result", DType: dtypes.Float32},
	})
	require.ErrorIs(t, err, ErrMalformedBindingName)
}

func TestEngineNameIsSlugified(t *testing.T) {
	e := newTestEngine(t, "model.traced.v2")
	assert.Equal(t, "model_traced_v2", e.Name())
}

func TestEngineConstructionFailures(t *testing.T) {
	useFakeDevices(t, Device{PhysicalID: 0, Kind: GeneralPurpose, Major: 1, Minor: 0})

	_, err := NewEngine("e", "no-such-platform", testPlanBytes(t), testTarget())
	require.Error(t, err)

	_, err = NewEngine("e", simgo.Platform, []byte("garbage"), testTarget())
	require.ErrorIs(t, err, ErrPlanDeserialization)

	_, err = NewEngine("e", simgo.Platform, testPlanBytes(t), Device{Kind: GeneralPurpose, Major: 9, Minor: 0})
	require.ErrorIs(t, err, ErrDeviceIncompatible)
}

func TestEngineSerializeRoundTrip(t *testing.T) {
	useFakeDevices(t, Device{PhysicalID: 0, Kind: GeneralPurpose, Major: 1, Minor: 0})
	e := must.M1(NewEngine("roundtrip", simgo.Platform, testPlanBytes(t), testTarget(),
		HardwareCompatible(), WithMetadata([]byte("opaque"))))
	defer e.Release()

	restored := must.M1(DeserializeEngine(must.M1(e.Serialize())))
	defer restored.Release()
	assert.Equal(t, e.Name(), restored.Name())
	assert.Equal(t, e.Platform(), restored.Platform())
	assert.Equal(t, e.NumInputs(), restored.NumInputs())
	assert.Equal(t, e.NumOutputs(), restored.NumOutputs())
	assert.True(t, restored.HardwareCompatible())
	assert.Equal(t, []byte("opaque"), restored.Metadata())
	assert.NotEqual(t, e.ID(), restored.ID())

	// Identical inputs produce bit-identical outputs on both engines.
	inputs := []*tensors.Tensor{
		tensors.FromScalarAndDimensions(float32(1.5), 2, 2),
		tensors.FromScalarAndDimensions(float32(-3), 2, 2),
		tensors.FromScalarAndDimensions(int32(7), 8),
		tensors.FromScalarAndDimensions(float32(0), 3),
	}
	original := must.M1(ExecuteEngine(e, inputs))
	roundTripped := must.M1(ExecuteEngine(restored, inputs))
	require.Len(t, roundTripped, len(original))
	for i := range original {
		assert.True(t, original[i].Equal(roundTripped[i]), "output #%d", i)
	}
}

func TestEngineClone(t *testing.T) {
	e := newTestEngine(t, "clone-me")
	clone := must.M1(e.Clone("clone.alias"))
	defer clone.Release()
	assert.NotEqual(t, e.ID(), clone.ID())
	assert.Equal(t, "clone_alias", clone.Name())
	assert.Equal(t, e.NumInputs(), clone.NumInputs())
	assert.Equal(t, e.InputSlots(), clone.InputSlots())
	assert.Equal(t, e.OutputSlots(), clone.OutputSlots())

	// An empty name keeps the original's; releasing the original leaves the
	// clone usable.
	original := must.M1(NewEngine("short-lived", simgo.Platform, testPlanBytes(t), testTarget()))
	second := must.M1(original.Clone(""))
	assert.Equal(t, "short-lived", second.Name())
	original.Release()
	second.AssertValid()
	second.Release()
}

func TestClonesShareOnePlan(t *testing.T) {
	useFakeDevices(t, Device{PhysicalID: 0, Kind: GeneralPurpose, Major: 1, Minor: 0})
	rt := &gatedRuntime{}
	plans.Register(rt)
	e := must.M1(NewEngine("shared", rt.Platform(), []byte("plan"), testTarget()))
	require.Equal(t, 1, rt.deserializations)

	clone := must.M1(e.Clone("shared.alias"))
	assert.Equal(t, 1, rt.deserializations, "cloning must not deserialize a second plan")
	assert.Equal(t, "shared_alias", clone.Name())

	// The shared plan outlives the original and is finalized with the last
	// engine referencing it.
	plan := rt.plan
	e.Release()
	assert.False(t, plan.finalized.Load())
	clone.Release()
	assert.True(t, plan.finalized.Load())
}

func TestEngineRefCounting(t *testing.T) {
	useFakeDevices(t, Device{PhysicalID: 0, Kind: GeneralPurpose, Major: 1, Minor: 0})
	e := must.M1(NewEngine("refs", simgo.Platform, testPlanBytes(t), testTarget()))
	e.Retain()
	e.Release()
	e.AssertValid() // one reference left
	e.Release()
	assert.Panics(t, func() { e.AssertValid() })
	assert.Panics(t, func() { e.Retain() })
}

func TestEngineSetDevice(t *testing.T) {
	useFakeDevices(t,
		Device{PhysicalID: 0, Kind: GeneralPurpose, Major: 1, Minor: 0},
		Device{PhysicalID: 1, Kind: GeneralPurpose, Major: 2, Minor: 0},
	)
	e := must.M1(NewEngine("mover", simgo.Platform, testPlanBytes(t), testTarget()))
	defer e.Release()
	require.Equal(t, 1, e.Device().PhysicalID, "construction picks the highest capability")

	list := must.M1(Devices())
	other := must.M1(list.Find(0))
	require.NoError(t, e.SetDevice(other))
	assert.Equal(t, 0, e.Device().PhysicalID)

	// Downgrading below the target capability is refused.
	err := e.SetDevice(Device{PhysicalID: 2, Kind: GeneralPurpose, Major: 0, Minor: 9})
	require.ErrorIs(t, err, ErrDeviceIncompatible)
	assert.Equal(t, 0, e.Device().PhysicalID)
}
