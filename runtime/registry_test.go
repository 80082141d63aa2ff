package runtime

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	devices []Device
}

func (p fakeProber) Probe() ([]Device, error) {
	return p.devices, nil
}

// useFakeDevices installs a fixed device registry for the duration of a test.
func useFakeDevices(t *testing.T, devices ...Device) {
	SetProber(fakeProber{devices: devices})
	t.Cleanup(func() { SetProber(envProber{}) })
}

func TestRegistryAssignsLogicalIDs(t *testing.T) {
	useFakeDevices(t,
		Device{PhysicalID: 10, Kind: GeneralPurpose, Major: 8, Minor: 0},
		Device{PhysicalID: 3, Kind: FixedFunction, Major: 3, Minor: 0},
	)
	list := must.M1(Devices())
	require.Equal(t, 2, list.Len())
	devices := list.Devices()
	assert.Equal(t, 0, devices[0].LogicalID)
	assert.Equal(t, 10, devices[0].PhysicalID)
	assert.Equal(t, 1, devices[1].LogicalID)
	assert.Equal(t, 3, devices[1].PhysicalID)

	found := must.M1(list.Find(3))
	assert.Equal(t, FixedFunction, found.Kind)
	_, err := list.Find(99)
	require.Error(t, err)
}

func TestRegistryDropsDuplicatePhysicalIDs(t *testing.T) {
	useFakeDevices(t,
		Device{PhysicalID: 0, Kind: GeneralPurpose, Major: 8, Minor: 0},
		Device{PhysicalID: 0, Kind: GeneralPurpose, Major: 9, Minor: 0},
	)
	list := must.M1(Devices())
	require.Equal(t, 1, list.Len())
	assert.Equal(t, 8, list.Devices()[0].Major)
}

func TestRegistryEmptyHostIsNotAnError(t *testing.T) {
	useFakeDevices(t)
	list := must.M1(Devices())
	assert.Equal(t, 0, list.Len())
	assert.Equal(t, "(no devices)", list.DumpList())
}

func TestRescanPicksUpNewProber(t *testing.T) {
	useFakeDevices(t, Device{PhysicalID: 0, Kind: GeneralPurpose, Major: 1, Minor: 0})
	list := must.M1(Devices())
	require.Equal(t, 1, list.Len())

	SetProber(fakeProber{devices: []Device{
		{PhysicalID: 0, Kind: GeneralPurpose, Major: 1, Minor: 0},
		{PhysicalID: 1, Kind: GeneralPurpose, Major: 2, Minor: 0},
	}})
	list = must.M1(Rescan())
	assert.Equal(t, 2, list.Len())
}

func TestEnvProber(t *testing.T) {
	t.Setenv(DevicesEnvVar, "gpu:0:8.6; dla:2:3.0")
	devices := must.M1(envProber{}.Probe())
	require.Len(t, devices, 2)
	assert.Equal(t, Device{PhysicalID: 0, Kind: GeneralPurpose, Major: 8, Minor: 6}, devices[0])
	assert.Equal(t, Device{PhysicalID: 2, Kind: FixedFunction, Major: 3, Minor: 0}, devices[1])

	t.Setenv(DevicesEnvVar, "")
	devices = must.M1(envProber{}.Probe())
	require.Len(t, devices, 1)
	assert.Equal(t, GeneralPurpose, devices[0].Kind)

	t.Setenv(DevicesEnvVar, "tpu:0:1.0")
	_, err := envProber{}.Probe()
	require.Error(t, err)
}
