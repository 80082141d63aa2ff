package runtime

import (
	"github.com/pkg/errors"
)

// Sentinel errors for the runtime's failure taxonomy. They are always
// returned wrapped with call-site context; match with errors.Is.
var (
	// ErrABIMismatch: the serialized record targets a different ABI version
	// than this runtime build. Recoverable only by re-exporting the engine
	// with a matching compiler.
	ErrABIMismatch = errors.New("engine record ABI version mismatch")

	// ErrDeviceIncompatible: no accelerator on this host can run the engine.
	// Fatal to construction; hardware does not change mid-process, so the
	// runtime never retries (callers may Rescan and retry manually).
	ErrDeviceIncompatible = errors.New("no compatible device found")

	// ErrPlanDeserialization: the opaque plan bytes could not be turned into
	// a live plan (corrupt bytes or a plan built for an incompatible runtime
	// build). Fatal to construction.
	ErrPlanDeserialization = errors.New("plan deserialization failed")

	// ErrMalformedBindingName: a plan slot name carries no parsable trailing
	// ordinal, or the ordinals are not dense. Indicates a producer bug; fatal
	// to construction.
	ErrMalformedBindingName = errors.New("malformed binding name")

	// ErrPrecondition: an execute call violated the engine's input contract
	// (count, dtype or shape). The engine remains usable.
	ErrPrecondition = errors.New("execution precondition violated")

	// ErrExecution: the device-side execution failed. Output buffers are in
	// an undefined state and the engine should be reconstructed.
	ErrExecution = errors.New("device execution failed")
)
