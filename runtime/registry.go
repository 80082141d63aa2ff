package runtime

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DevicesEnvVar describes the host's accelerators when no real driver probe
// is available: a ";"-separated list of "kind:physicalID:major.minor" entries,
// where kind is "gpu" or "dla". Unset, the registry assumes one
// general-purpose device with capability 1.0.
const DevicesEnvVar = "TRT_RUNTIME_DEVICES"

// Prober enumerates the accelerators visible to this process.
//
// The default prober reads DevicesEnvVar; tests and embedders with a real
// driver binding install their own with SetProber.
type Prober interface {
	Probe() ([]Device, error)
}

// DeviceList is an immutable snapshot of the host's accelerators. LogicalIDs
// are the indices into the snapshot; PhysicalIDs come from the prober and are
// unique within a list.
type DeviceList struct {
	devices    []Device
	byPhysical map[int]Device
}

// Devices returns the snapshot's devices ordered by LogicalID.
func (l *DeviceList) Devices() []Device {
	out := make([]Device, len(l.devices))
	copy(out, l.devices)
	return out
}

// Len returns the number of devices in the snapshot.
func (l *DeviceList) Len() int { return len(l.devices) }

// Find returns the device with the given physical id.
func (l *DeviceList) Find(physicalID int) (Device, error) {
	device, ok := l.byPhysical[physicalID]
	if !ok {
		return Device{}, errors.Errorf("no device with physical id %d in registry (%d devices)", physicalID, len(l.devices))
	}
	return device, nil
}

// DumpList formats the snapshot for diagnostics, one device per line.
func (l *DeviceList) DumpList() string {
	if len(l.devices) == 0 {
		return "(no devices)"
	}
	var b strings.Builder
	for _, device := range l.devices {
		fmt.Fprintf(&b, "%s\n", device)
	}
	return b.String()
}

func newDeviceList(devices []Device) *DeviceList {
	list := &DeviceList{byPhysical: make(map[int]Device, len(devices))}
	for _, device := range devices {
		if prev, dup := list.byPhysical[device.PhysicalID]; dup {
			klog.Warningf("device probe returned duplicate physical id %d (%s and %s), keeping the first",
				device.PhysicalID, prev, device)
			continue
		}
		device.LogicalID = len(list.devices)
		list.devices = append(list.devices, device)
		list.byPhysical[device.PhysicalID] = device
	}
	return list
}

var (
	registryMu sync.Mutex
	registry   *DeviceList
	prober     Prober = envProber{}
)

// Devices returns the process-wide device registry, probing lazily on first
// use. An empty host is not an error: engines will fail device resolution
// with ErrDeviceIncompatible instead.
func Devices() (*DeviceList, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if registry != nil {
		return registry, nil
	}
	return rescanLocked()
}

// Rescan discards the cached registry and probes again.
func Rescan() (*DeviceList, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	return rescanLocked()
}

// SetProber installs a different device prober and invalidates the cached
// registry. The next Devices call probes with it.
func SetProber(p Prober) {
	registryMu.Lock()
	defer registryMu.Unlock()
	prober = p
	registry = nil
}

func rescanLocked() (*DeviceList, error) {
	devices, err := prober.Probe()
	if err != nil {
		return nil, errors.WithMessage(err, "device probe failed")
	}
	registry = newDeviceList(devices)
	klog.V(1).Infof("device registry: %d device(s)\n%s", registry.Len(), registry.DumpList())
	return registry, nil
}

// envProber builds the registry from DevicesEnvVar.
type envProber struct{}

func (envProber) Probe() ([]Device, error) {
	spec := strings.TrimSpace(os.Getenv(DevicesEnvVar))
	if spec == "" {
		// Bare host: one general-purpose device so pure-Go plan runtimes work
		// out of the box.
		return []Device{{PhysicalID: 0, Kind: GeneralPurpose, Major: 1, Minor: 0}}, nil
	}
	var devices []Device
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		device, err := parseDeviceSpec(entry)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s entry %q", DevicesEnvVar, entry)
		}
		devices = append(devices, device)
	}
	return devices, nil
}

func parseDeviceSpec(entry string) (Device, error) {
	parts := strings.Split(entry, ":")
	if len(parts) != 3 {
		return Device{}, errors.New("expected \"kind:physicalID:major.minor\"")
	}
	var kind DeviceKind
	switch strings.ToLower(parts[0]) {
	case "gpu":
		kind = GeneralPurpose
	case "dla":
		kind = FixedFunction
	default:
		return Device{}, errors.Errorf("unknown device kind %q, want \"gpu\" or \"dla\"", parts[0])
	}
	physicalID, err := strconv.Atoi(parts[1])
	if err != nil {
		return Device{}, errors.Errorf("bad physical id %q", parts[1])
	}
	major, minor, err := parseSignature(parts[2])
	if err != nil {
		return Device{}, err
	}
	return Device{PhysicalID: physicalID, Kind: kind, Major: major, Minor: minor}, nil
}
