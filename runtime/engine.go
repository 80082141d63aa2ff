package runtime

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/Torch-TensorRT/plans"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Engine is a deserialized execution plan bound to a resolved device.
//
// An engine is immutable after construction except for its device binding,
// which SetDevice may swap under lock, and its reference count. Execution is
// safe from multiple goroutines.
type Engine struct {
	id                 uuid.UUID
	name               string
	platform           string
	target             Device
	hardwareCompatible bool
	metadata           []byte
	planBytes          []byte

	// plan is shared with clones; planRefs counts the engines referencing it
	// and the last one finalizes it.
	plan     plans.Plan
	planRefs *atomic.Int64

	mu     sync.RWMutex
	device Device
	ctx    *contextRef

	// Binding tables: slot name to ordinal and slots ordered by ordinal.
	inBindings  map[string]int
	outBindings map[string]int
	inputSlots  []plans.Slot
	outputSlots []plans.Slot

	refs atomic.Int64
}

// contextRef reference-counts one execution context. A device rebind or the
// engine's last release only drops the owning reference; the context is
// finalized when the in-flight executions holding it drain.
type contextRef struct {
	ctx  plans.ExecutionContext
	refs atomic.Int64
}

func newContextRef(ctx plans.ExecutionContext) *contextRef {
	r := &contextRef{ctx: ctx}
	r.refs.Store(1)
	return r
}

func (r *contextRef) release() {
	if r.refs.Add(-1) == 0 {
		r.ctx.Finalize()
	}
}

// EngineOption configures NewEngine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	hardwareCompatible bool
	metadata           []byte
}

// HardwareCompatible marks the engine's plan as runnable on general-purpose
// hardware even when it targets a fixed-function device.
func HardwareCompatible() EngineOption {
	return func(o *engineOptions) { o.hardwareCompatible = true }
}

// WithMetadata attaches opaque producer metadata, carried verbatim through
// serialization.
func WithMetadata(metadata []byte) EngineOption {
	return func(o *engineOptions) { o.metadata = metadata }
}

// NewEngine builds an engine from raw plan bytes for the runtime registered
// under platform, resolving the most compatible host device for target.
//
// The returned engine holds one reference; Release it when done.
func NewEngine(name, platform string, planBytes []byte, target Device, opts ...EngineOption) (*Engine, error) {
	var options engineOptions
	for _, opt := range opts {
		opt(&options)
	}
	return newEngine(name, platform, planBytes, target, options.hardwareCompatible, options.metadata)
}

// DeserializeEngine reconstructs an engine from a record produced by
// Engine.Serialize, re-resolving the device on this host and re-checking the
// record's binding names against the deserialized plan.
func DeserializeEngine(recordBytes []byte) (*Engine, error) {
	record, err := DecodeRecord(recordBytes)
	if err != nil {
		return nil, err
	}
	e, err := newEngine(record.Name, record.TargetPlatform, record.PlanBytes, record.Device,
		record.HardwareCompatible, record.Metadata)
	if err != nil {
		return nil, err
	}
	if err := e.checkRecordedBindings(record); err != nil {
		e.Release()
		return nil, err
	}
	return e, nil
}

func newEngine(name, platform string, planBytes []byte, target Device, hardwareCompatible bool, metadata []byte) (*Engine, error) {
	name = slugify(name)
	device, err := MostCompatibleDevice(target, nil, hardwareCompatible)
	if err != nil {
		return nil, errors.WithMessagef(err, "engine %q", name)
	}
	runtime, err := plans.Get(platform)
	if err != nil {
		return nil, errors.WithMessagef(err, "engine %q", name)
	}
	plan, err := runtime.Deserialize(planBytes)
	if err != nil {
		return nil, errors.Wrapf(ErrPlanDeserialization, "engine %q on platform %q: %v", name, platform, err)
	}
	ctx, err := plan.NewContext(device.PhysicalID)
	if err != nil {
		plan.Finalize()
		return nil, errors.WithMessagef(err, "engine %q: cannot create execution context on %s", name, device)
	}

	e := &Engine{
		id:                 uuid.New(),
		name:               name,
		platform:           platform,
		target:             target,
		hardwareCompatible: hardwareCompatible,
		metadata:           metadata,
		planBytes:          planBytes,
		plan:               plan,
		planRefs:           &atomic.Int64{},
		device:             device,
		ctx:                newContextRef(ctx),
	}
	e.planRefs.Store(1)
	if err := e.buildBindingTables(plan.Slots()); err != nil {
		ctx.Finalize()
		plan.Finalize()
		return nil, errors.WithMessagef(err, "engine %q", name)
	}
	e.refs.Store(1)
	klog.V(1).Infof("engine %q (%s): %d inputs, %d outputs on %s",
		e.name, e.id, len(e.inputSlots), len(e.outputSlots), device)
	return e, nil
}

// buildBindingTables parses each slot's trailing ordinal and checks that the
// ordinals of each set densely cover [0, n).
func (e *Engine) buildBindingTables(slots []plans.Slot) error {
	e.inBindings = make(map[string]int)
	e.outBindings = make(map[string]int)
	inByOrdinal := make(map[int]plans.Slot)
	outByOrdinal := make(map[int]plans.Slot)
	for _, slot := range slots {
		ordinal, err := bindingOrdinal(slot.Name)
		if err != nil {
			return err
		}
		if slot.IsInput {
			e.inBindings[slot.Name] = ordinal
			inByOrdinal[ordinal] = slot
		} else {
			e.outBindings[slot.Name] = ordinal
			outByOrdinal[ordinal] = slot
		}
	}
	var err error
	if e.inputSlots, err = denseSlots(inByOrdinal); err != nil {
		return errors.WithMessage(err, "input bindings")
	}
	if e.outputSlots, err = denseSlots(outByOrdinal); err != nil {
		return errors.WithMessage(err, "output bindings")
	}
	return nil
}

func bindingOrdinal(name string) (int, error) {
	sep := strings.LastIndex(name, "_")
	if sep < 0 || sep == len(name)-1 {
		return 0, errors.Wrapf(ErrMalformedBindingName, "%q has no trailing ordinal", name)
	}
	ordinal, err := strconv.Atoi(name[sep+1:])
	if err != nil || ordinal < 0 {
		return 0, errors.Wrapf(ErrMalformedBindingName, "%q has no trailing ordinal", name)
	}
	return ordinal, nil
}

func denseSlots(byOrdinal map[int]plans.Slot) ([]plans.Slot, error) {
	slots := make([]plans.Slot, len(byOrdinal))
	for ordinal := range slots {
		slot, ok := byOrdinal[ordinal]
		if !ok {
			return nil, errors.Wrapf(ErrMalformedBindingName,
				"%d bindings but ordinal %d is missing", len(byOrdinal), ordinal)
		}
		slots[ordinal] = slot
	}
	return slots, nil
}

// checkRecordedBindings verifies that the names persisted in the record match
// the plan's bindings ordinal by ordinal.
func (e *Engine) checkRecordedBindings(record *SerializedEngineRecord) error {
	if len(record.InputNames) != len(e.inputSlots) || len(record.OutputNames) != len(e.outputSlots) {
		return errors.Errorf("engine %q: record declares %d inputs and %d outputs, plan has %d and %d",
			e.name, len(record.InputNames), len(record.OutputNames), len(e.inputSlots), len(e.outputSlots))
	}
	for ordinal, name := range record.InputNames {
		if e.inputSlots[ordinal].Name != name {
			return errors.Errorf("engine %q: record input #%d is %q, plan has %q",
				e.name, ordinal, name, e.inputSlots[ordinal].Name)
		}
	}
	for ordinal, name := range record.OutputNames {
		if e.outputSlots[ordinal].Name != name {
			return errors.Errorf("engine %q: record output #%d is %q, plan has %q",
				e.name, ordinal, name, e.outputSlots[ordinal].Name)
		}
	}
	return nil
}

// ID returns the engine's process-unique id.
func (e *Engine) ID() uuid.UUID { return e.id }

// Name returns the engine's slugified name.
func (e *Engine) Name() string { return e.name }

// Platform returns the target-platform tag of the engine's plan runtime.
func (e *Engine) Platform() string { return e.platform }

// Metadata returns the opaque producer metadata attached to the engine.
func (e *Engine) Metadata() []byte { return e.metadata }

// HardwareCompatible reports whether the plan may fall back to
// general-purpose hardware.
func (e *Engine) HardwareCompatible() bool { return e.hardwareCompatible }

// NumInputs returns the number of input bindings.
func (e *Engine) NumInputs() int { return len(e.inputSlots) }

// NumOutputs returns the number of output bindings.
func (e *Engine) NumOutputs() int { return len(e.outputSlots) }

// InputSlots returns the input bindings ordered by ordinal.
func (e *Engine) InputSlots() []plans.Slot {
	out := make([]plans.Slot, len(e.inputSlots))
	copy(out, e.inputSlots)
	return out
}

// OutputSlots returns the output bindings ordered by ordinal.
func (e *Engine) OutputSlots() []plans.Slot {
	out := make([]plans.Slot, len(e.outputSlots))
	copy(out, e.outputSlots)
	return out
}

// BindingOrdinal resolves a binding name to its (isInput, ordinal) pair.
func (e *Engine) BindingOrdinal(name string) (isInput bool, ordinal int, err error) {
	if ordinal, ok := e.inBindings[name]; ok {
		return true, ordinal, nil
	}
	if ordinal, ok := e.outBindings[name]; ok {
		return false, ordinal, nil
	}
	return false, 0, errors.Errorf("engine %q has no binding named %q", e.name, name)
}

// Device returns the device the engine is currently bound to.
func (e *Engine) Device() Device {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.device
}

// TargetDevice returns the device the engine's plan was built for.
func (e *Engine) TargetDevice() Device { return e.target }

// SetDevice rebinds the engine to another registry device: a fresh execution
// context is created there before the old one is released, so a failure
// leaves the engine on its previous device. The old context is finalized only
// once the executions still running on it complete.
func (e *Engine) SetDevice(device Device) error {
	e.AssertValid()
	if !kindSatisfies(device, e.target, e.hardwareCompatible) || !device.SignatureAtLeast(e.target) {
		return errors.Wrapf(ErrDeviceIncompatible, "engine %q targets %s, cannot move to %s", e.name, e.target, device)
	}
	ctx, err := e.plan.NewContext(device.PhysicalID)
	if err != nil {
		return errors.WithMessagef(err, "engine %q: cannot create execution context on %s", e.name, device)
	}
	e.mu.Lock()
	old := e.ctx
	e.ctx, e.device = newContextRef(ctx), device
	e.mu.Unlock()
	old.release()
	klog.V(1).Infof("engine %q moved to %s", e.name, device)
	return nil
}

// acquireContext returns the current execution context, pinned against
// finalization, and the device it lives on. The caller must release the
// returned reference when done executing on it.
func (e *Engine) acquireContext() (*contextRef, Device) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.ctx.refs.Add(1)
	return e.ctx, e.device
}

// Retain adds a reference and returns the engine for chaining.
func (e *Engine) Retain() *Engine {
	e.AssertValid()
	e.refs.Add(1)
	return e
}

// Release drops a reference. The last release releases the execution context
// and the engine's share of the plan; the engine must not be used afterwards.
// The plan itself is finalized when the last engine referencing it (original
// or clone) is released.
func (e *Engine) Release() {
	refs := e.refs.Add(-1)
	if refs > 0 {
		return
	}
	if refs < 0 {
		exceptions.Panicf("Engine %q released more times than retained", e.name)
	}
	e.mu.Lock()
	ctx := e.ctx
	e.ctx = nil
	e.mu.Unlock()
	if ctx != nil {
		ctx.release()
	}
	if e.planRefs.Add(-1) == 0 {
		e.plan.Finalize()
	}
	klog.V(1).Infof("engine %q (%s) finalized", e.name, e.id)
}

// AssertValid panics if the engine has already been fully released. Using a
// finalized engine is an API misuse, not a recoverable error.
func (e *Engine) AssertValid() {
	if e.refs.Load() <= 0 {
		exceptions.Panicf("Engine %q used after it was fully released", e.name)
	}
}

// Clone returns an engine registered under a new logical name that shares the
// original's plan, with its own device resolution, execution context, refcount
// and copies of the binding tables. An empty name keeps the original's name.
// The shared plan is finalized when the last engine referencing it is released.
func (e *Engine) Clone(name string) (*Engine, error) {
	e.AssertValid()
	if name == "" {
		name = e.name
	}
	name = slugify(name)
	current := e.Device()
	device, err := MostCompatibleDevice(e.target, &current, e.hardwareCompatible)
	if err != nil {
		return nil, errors.WithMessagef(err, "engine %q (clone of %q)", name, e.name)
	}
	ctx, err := e.plan.NewContext(device.PhysicalID)
	if err != nil {
		return nil, errors.WithMessagef(err, "engine %q (clone of %q): cannot create execution context on %s",
			name, e.name, device)
	}

	clone := &Engine{
		id:                 uuid.New(),
		name:               name,
		platform:           e.platform,
		target:             e.target,
		hardwareCompatible: e.hardwareCompatible,
		metadata:           e.metadata,
		planBytes:          e.planBytes,
		plan:               e.plan,
		planRefs:           e.planRefs,
		device:             device,
		ctx:                newContextRef(ctx),
		inBindings:         copyBindings(e.inBindings),
		outBindings:        copyBindings(e.outBindings),
		inputSlots:         e.InputSlots(),
		outputSlots:        e.OutputSlots(),
	}
	e.planRefs.Add(1)
	clone.refs.Store(1)
	klog.V(1).Infof("engine %q (%s) cloned from %q", clone.name, clone.id, e.name)
	return clone, nil
}

func copyBindings(bindings map[string]int) map[string]int {
	out := make(map[string]int, len(bindings))
	for name, ordinal := range bindings {
		out[name] = ordinal
	}
	return out
}

// Serialize encodes the engine as a portable record that DeserializeEngine
// accepts, on this or another host.
func (e *Engine) Serialize() ([]byte, error) {
	e.AssertValid()
	inputNames := make([]string, len(e.inputSlots))
	for ordinal, slot := range e.inputSlots {
		inputNames[ordinal] = slot.Name
	}
	outputNames := make([]string, len(e.outputSlots))
	for ordinal, slot := range e.outputSlots {
		outputNames[ordinal] = slot.Name
	}
	return EncodeRecord(&SerializedEngineRecord{
		ABIVersion:         ABIVersion,
		Name:               e.name,
		Device:             e.target,
		PlanBytes:          e.planBytes,
		InputNames:         inputNames,
		OutputNames:        outputNames,
		HardwareCompatible: e.hardwareCompatible,
		Metadata:           e.metadata,
		TargetPlatform:     e.platform,
	})
}

// slugify normalizes an engine name for use in serialized records and logs.
func slugify(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}
