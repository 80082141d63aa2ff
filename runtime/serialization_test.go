package runtime

import (
	"bytes"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() *SerializedEngineRecord {
	return &SerializedEngineRecord{
		ABIVersion:         ABIVersion,
		Name:               "resnet50_trt",
		Device:             Device{LogicalID: 1, PhysicalID: 3, Kind: GeneralPurpose, Major: 8, Minor: 6},
		PlanBytes:          []byte{0xde, 0xad, 0xbe, 0xef},
		InputNames:         []string{"input_0", "input_1"},
		OutputNames:        []string{"output_0"},
		HardwareCompatible: true,
		Metadata:           []byte(`{"producer":"export-tool"}`),
		TargetPlatform:     "simgo",
	}
}

func TestRecordRoundTrip(t *testing.T) {
	record := testRecord()
	decoded := must.M1(DecodeRecord(must.M1(EncodeRecord(record))))
	assert.Equal(t, record, decoded)
}

func TestRecordEmptyFields(t *testing.T) {
	record := &SerializedEngineRecord{TargetPlatform: "simgo"}
	decoded := must.M1(DecodeRecord(must.M1(EncodeRecord(record))))
	assert.Equal(t, ABIVersion, decoded.ABIVersion)
	assert.Empty(t, record.ABIVersion, "encoding must not modify the caller's record")
	assert.Empty(t, decoded.InputNames)
	assert.Empty(t, decoded.OutputNames)
	assert.Empty(t, decoded.PlanBytes)
}

func TestABIGateCheckedFirst(t *testing.T) {
	encoded := must.M1(EncodeRecord(testRecord()))

	// Flip the ABI field and truncate the rest of the record: the mismatch
	// must be reported, not the truncation.
	abiOffset := len(recordMagic) + 4 + 8 // magic, field count, abi length prefix
	mutated := bytes.Clone(encoded[:abiOffset+1])
	mutated[abiOffset] = '9'
	_, err := DecodeRecord(mutated)
	require.ErrorIs(t, err, ErrABIMismatch)
}

func TestDecodeRecordRejectsMalformed(t *testing.T) {
	encoded := must.M1(EncodeRecord(testRecord()))

	_, err := DecodeRecord(nil)
	require.Error(t, err)

	_, err = DecodeRecord([]byte("PKZW not an engine record"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrABIMismatch)

	// Truncated mid-field, ABI intact.
	_, err = DecodeRecord(encoded[:len(encoded)-3])
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrABIMismatch)

	// Trailing junk.
	_, err = DecodeRecord(append(bytes.Clone(encoded), 0x00))
	require.Error(t, err)

	// A field declaring more bytes than remain.
	corrupted := bytes.Clone(encoded)
	corrupted[len(recordMagic)+4] = 0xff // abi field length
	_, err = DecodeRecord(corrupted)
	require.Error(t, err)
}

func TestNameListFraming(t *testing.T) {
	names := []string{"input_0", "input_1", "input_2"}
	decoded := must.M1(decodeNameList(encodeNameList(names)))
	assert.Equal(t, names, decoded)

	decoded = must.M1(decodeNameList(encodeNameList(nil)))
	assert.Empty(t, decoded)

	// Count larger than the data can hold.
	_, err := decodeNameList([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	require.Error(t, err)
}
