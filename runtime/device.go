// Package runtime loads, version-checks, device-matches and executes
// serialized accelerator execution plans.
//
// An Engine owns one deserialized plan bound to one resolved device; callers
// construct or deserialize it once and call ExecuteEngine repeatedly, possibly
// from many goroutines. Plan deserialization and execution are delegated to a
// vendor plan runtime (see the plans package) selected by the target-platform
// tag persisted with the engine.
package runtime

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DeviceKind distinguishes general-purpose accelerators from fixed-function ones.
type DeviceKind int

const (
	// GeneralPurpose accelerators run any plan targeting their kind.
	GeneralPurpose DeviceKind = iota
	// FixedFunction accelerators run only plans built for them; plans marked
	// hardware-compatible may instead fall back to general-purpose hardware.
	FixedFunction
)

// String implements fmt.Stringer.
func (k DeviceKind) String() string {
	switch k {
	case GeneralPurpose:
		return "GPU"
	case FixedFunction:
		return "DLA"
	default:
		return fmt.Sprintf("DeviceKind(%d)", int(k))
	}
}

// Device identifies one accelerator: its position in the registry snapshot
// (LogicalID), the OS/driver enumeration id (PhysicalID), its kind and its
// compute capability (Major.Minor).
//
// Devices are constructed at engine-build time (and recorded into the
// serialized engine) and again at load time from the host registry; they are
// only ever compared, never mutated.
type Device struct {
	LogicalID  int
	PhysicalID int
	Kind       DeviceKind
	Major      int
	Minor      int

	// AllowFallbackKind marks devices recorded by plans that may run on
	// general-purpose hardware even though they target fixed-function kind.
	AllowFallbackKind bool
}

// ComputeSignature returns the capability as the usual "major.minor" form.
func (d Device) ComputeSignature() string {
	return fmt.Sprintf("%d.%d", d.Major, d.Minor)
}

// SignatureAtLeast reports whether d's capability is >= target's,
// comparing (major, minor) lexicographically.
func (d Device) SignatureAtLeast(target Device) bool {
	if d.Major != target.Major {
		return d.Major > target.Major
	}
	return d.Minor >= target.Minor
}

// SameMajorFamilyAtLeast reports whether d is in target's major capability
// family with minor >= target's. This is the stricter test used when deciding
// whether to keep execution on an already-selected device.
func (d Device) SameMajorFamilyAtLeast(target Device) bool {
	return d.Major == target.Major && d.Minor >= target.Minor
}

// String implements fmt.Stringer.
func (d Device) String() string {
	return fmt.Sprintf("Device(id=%d, physical=%d, kind=%s, capability=%s)",
		d.LogicalID, d.PhysicalID, d.Kind, d.ComputeSignature())
}

// EncodeDevice encodes the descriptor as a short reversible string:
// "kind,logical,physical,major.minor,fallback". DecodeDevice inverts it.
func EncodeDevice(d Device) string {
	fallback := "0"
	if d.AllowFallbackKind {
		fallback = "1"
	}
	return fmt.Sprintf("%d,%d,%d,%d.%d,%s", int(d.Kind), d.LogicalID, d.PhysicalID, d.Major, d.Minor, fallback)
}

// DecodeDevice parses a descriptor encoded by EncodeDevice.
func DecodeDevice(encoded string) (Device, error) {
	parts := strings.Split(encoded, ",")
	if len(parts) != 5 {
		return Device{}, errors.Errorf("device descriptor %q: expected 5 fields, got %d", encoded, len(parts))
	}
	kind, err := strconv.Atoi(parts[0])
	if err != nil || (kind != int(GeneralPurpose) && kind != int(FixedFunction)) {
		return Device{}, errors.Errorf("device descriptor %q: bad kind %q", encoded, parts[0])
	}
	logical, err := strconv.Atoi(parts[1])
	if err != nil {
		return Device{}, errors.Errorf("device descriptor %q: bad logical id %q", encoded, parts[1])
	}
	physical, err := strconv.Atoi(parts[2])
	if err != nil {
		return Device{}, errors.Errorf("device descriptor %q: bad physical id %q", encoded, parts[2])
	}
	major, minor, err := parseSignature(parts[3])
	if err != nil {
		return Device{}, errors.WithMessagef(err, "device descriptor %q", encoded)
	}
	if parts[4] != "0" && parts[4] != "1" {
		return Device{}, errors.Errorf("device descriptor %q: bad fallback flag %q", encoded, parts[4])
	}
	return Device{
		LogicalID:         logical,
		PhysicalID:        physical,
		Kind:              DeviceKind(kind),
		Major:             major,
		Minor:             minor,
		AllowFallbackKind: parts[4] == "1",
	}, nil
}

func parseSignature(signature string) (major, minor int, err error) {
	dot := strings.IndexByte(signature, '.')
	if dot < 0 {
		return 0, 0, errors.Errorf("bad compute signature %q, expected \"major.minor\"", signature)
	}
	major, err = strconv.Atoi(signature[:dot])
	if err != nil {
		return 0, 0, errors.Errorf("bad compute signature %q, expected \"major.minor\"", signature)
	}
	minor, err = strconv.Atoi(signature[dot+1:])
	if err != nil {
		return 0, 0, errors.Errorf("bad compute signature %q, expected \"major.minor\"", signature)
	}
	return major, minor, nil
}
