package runtime

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// kindSatisfies reports whether a candidate device's kind can serve a plan
// built for target's kind. With hardwareCompatible set, plans built for
// fixed-function hardware may also run on general-purpose hardware; the
// reverse relaxation never holds.
func kindSatisfies(candidate, target Device, hardwareCompatible bool) bool {
	if candidate.Kind == target.Kind {
		return true
	}
	return hardwareCompatible && target.Kind == FixedFunction && candidate.Kind == GeneralPurpose
}

// MostCompatibleDevice selects the registry device an engine built for target
// should run on.
//
// If currentBestGuess names a device that already satisfies the target (same
// capability family, minor at least the target's, acceptable kind), it wins:
// a running engine is never migrated off a device that still fits. Otherwise
// the registry is scanned for the compatible device with the highest
// capability, breaking ties toward the lowest LogicalID so resolution is
// deterministic across processes. A candidate below the target's capability
// never matches.
func MostCompatibleDevice(target Device, currentBestGuess *Device, hardwareCompatible bool) (Device, error) {
	list, err := Devices()
	if err != nil {
		return Device{}, err
	}
	if currentBestGuess != nil {
		if current, err := list.Find(currentBestGuess.PhysicalID); err == nil {
			if kindSatisfies(current, target, hardwareCompatible) && current.SameMajorFamilyAtLeast(target) {
				return current, nil
			}
		}
	}

	best, found := Device{}, false
	for _, candidate := range list.Devices() {
		if !kindSatisfies(candidate, target, hardwareCompatible) {
			continue
		}
		if !candidate.SignatureAtLeast(target) {
			continue
		}
		if !found || betterCandidate(candidate, best) {
			best, found = candidate, true
		}
	}
	if !found {
		return Device{}, errors.Wrapf(ErrDeviceIncompatible,
			"target %s (hardware compatible: %v), registry:\n%s", target, hardwareCompatible, list.DumpList())
	}
	klog.V(2).Infof("resolved target %s to %s", target, best)
	return best, nil
}

// FindCompatibleDevices returns every registry device that could run an
// engine built for target, in registry order.
func FindCompatibleDevices(target Device, hardwareCompatible bool) ([]Device, error) {
	list, err := Devices()
	if err != nil {
		return nil, err
	}
	var compatible []Device
	for _, candidate := range list.Devices() {
		if kindSatisfies(candidate, target, hardwareCompatible) && candidate.SignatureAtLeast(target) {
			compatible = append(compatible, candidate)
		}
	}
	return compatible, nil
}

func betterCandidate(candidate, best Device) bool {
	if candidate.Major != best.Major {
		return candidate.Major > best.Major
	}
	if candidate.Minor != best.Minor {
		return candidate.Minor > best.Minor
	}
	return candidate.LogicalID < best.LogicalID
}
