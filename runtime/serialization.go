package runtime

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ABIVersion tags serialized engine records. It changes whenever the record
// layout or the engine construction contract changes incompatibly; records
// carrying a different tag are rejected before anything else is parsed.
const ABIVersion = "6"

// recordMagic starts every serialized engine record.
var recordMagic = []byte("TRTE")

// Number of framed fields in a record, in the order of recordFieldNames.
const numRecordFields = 9

var recordFieldNames = [numRecordFields]string{
	"abi version", "name", "device", "plan", "input names", "output names",
	"hardware compatible", "metadata", "target platform",
}

// SerializedEngineRecord is the portable form of an engine: everything needed
// to reconstruct it on another host with compatible hardware.
type SerializedEngineRecord struct {
	ABIVersion         string
	Name               string
	Device             Device
	PlanBytes          []byte
	InputNames         []string
	OutputNames        []string
	HardwareCompatible bool
	Metadata           []byte
	TargetPlatform     string
}

// EncodeRecord serializes the record. Framing is little-endian: the magic,
// a u32 field count, then each field as a u64 length followed by its bytes.
// The name lists are sub-framed the same way inside their field.
func EncodeRecord(record *SerializedEngineRecord) ([]byte, error) {
	abiVersion := record.ABIVersion
	if abiVersion == "" {
		abiVersion = ABIVersion
	}
	hwCompat := "0"
	if record.HardwareCompatible {
		hwCompat = "1"
	}
	fields := [numRecordFields][]byte{
		[]byte(abiVersion),
		[]byte(record.Name),
		[]byte(EncodeDevice(record.Device)),
		record.PlanBytes,
		encodeNameList(record.InputNames),
		encodeNameList(record.OutputNames),
		[]byte(hwCompat),
		record.Metadata,
		[]byte(record.TargetPlatform),
	}

	var buf bytes.Buffer
	buf.Write(recordMagic)
	if err := binary.Write(&buf, binary.LittleEndian, uint32(numRecordFields)); err != nil {
		return nil, errors.Wrap(err, "encoding engine record")
	}
	for _, field := range fields {
		if err := binary.Write(&buf, binary.LittleEndian, uint64(len(field))); err != nil {
			return nil, errors.Wrap(err, "encoding engine record")
		}
		buf.Write(field)
	}
	return buf.Bytes(), nil
}

// DecodeRecord parses a serialized engine record. The ABI version is checked
// as soon as it is read: a record from a different ABI fails with
// ErrABIMismatch even if the rest of the record is malformed or truncated.
func DecodeRecord(serialized []byte) (*SerializedEngineRecord, error) {
	r := bytes.NewReader(serialized)
	magic := make([]byte, len(recordMagic))
	if _, err := io.ReadFull(r, magic); err != nil || !bytes.Equal(magic, recordMagic) {
		return nil, errors.New("not an engine record: bad magic")
	}
	var fieldCount uint32
	if err := binary.Read(r, binary.LittleEndian, &fieldCount); err != nil {
		return nil, errors.New("truncated engine record: missing field count")
	}

	abiField, err := readFrame(r, recordFieldNames[0])
	if err != nil {
		return nil, err
	}
	if string(abiField) != ABIVersion {
		return nil, errors.Wrapf(ErrABIMismatch, "record ABI %q, runtime ABI %q", abiField, ABIVersion)
	}
	if fieldCount != numRecordFields {
		return nil, errors.Errorf("engine record has %d fields, ABI %s requires %d", fieldCount, ABIVersion, numRecordFields)
	}

	fields := [numRecordFields][]byte{0: abiField}
	for i := 1; i < numRecordFields; i++ {
		if fields[i], err = readFrame(r, recordFieldNames[i]); err != nil {
			return nil, err
		}
	}
	if r.Len() != 0 {
		return nil, errors.Errorf("engine record has %d trailing bytes", r.Len())
	}

	device, err := DecodeDevice(string(fields[2]))
	if err != nil {
		return nil, errors.WithMessage(err, "engine record device field")
	}
	inputNames, err := decodeNameList(fields[4])
	if err != nil {
		return nil, errors.WithMessage(err, "engine record input names")
	}
	outputNames, err := decodeNameList(fields[5])
	if err != nil {
		return nil, errors.WithMessage(err, "engine record output names")
	}
	hwCompat := string(fields[6])
	if hwCompat != "0" && hwCompat != "1" {
		return nil, errors.Errorf("engine record hardware-compatible flag is %q, want \"0\" or \"1\"", hwCompat)
	}
	return &SerializedEngineRecord{
		ABIVersion:         string(fields[0]),
		Name:               string(fields[1]),
		Device:             device,
		PlanBytes:          fields[3],
		InputNames:         inputNames,
		OutputNames:        outputNames,
		HardwareCompatible: hwCompat == "1",
		Metadata:           fields[7],
		TargetPlatform:     string(fields[8]),
	}, nil
}

func readFrame(r *bytes.Reader, fieldName string) ([]byte, error) {
	var length uint64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, errors.Errorf("truncated engine record: missing %s length", fieldName)
	}
	if length > uint64(r.Len()) {
		return nil, errors.Errorf("truncated engine record: %s declares %d bytes, %d remain", fieldName, length, r.Len())
	}
	field := make([]byte, length)
	if _, err := io.ReadFull(r, field); err != nil {
		return nil, errors.Errorf("truncated engine record: short %s", fieldName)
	}
	return field, nil
}

func encodeNameList(names []string) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(names)))
	for _, name := range names {
		_ = binary.Write(&buf, binary.LittleEndian, uint64(len(name)))
		buf.WriteString(name)
	}
	return buf.Bytes()
}

func decodeNameList(field []byte) ([]string, error) {
	r := bytes.NewReader(field)
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errors.New("truncated name list")
	}
	if count > uint64(r.Len()) { // each name takes at least its length prefix
		return nil, errors.Errorf("name list declares %d entries in %d bytes", count, r.Len())
	}
	names := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		name, err := readFrame(r, "name list entry")
		if err != nil {
			return nil, err
		}
		names = append(names, string(name))
	}
	if r.Len() != 0 {
		return nil, errors.Errorf("name list has %d trailing bytes", r.Len())
	}
	return names, nil
}
