package simgo

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Plan bytes layout, all integers little-endian:
//
//	[4]byte  magic "SGPL"
//	uint32   format version
//	uint32   flags (none defined yet, must be zero)
//	uint64   header length
//	[]byte   JSON header (slot table + output recipes)
const (
	magic         = "SGPL"
	formatVersion = 1
	fixedHeader   = 4 + 4 + 4 + 8
)

// Recipe ops.
const (
	OpFill   = "fill"   // output filled with Value
	OpCopy   = "copy"   // output = input[Input]
	OpSum    = "sum"    // output filled with the sum of input[Input]'s elements
	OpAffine = "affine" // output[i] = input[Input][i]*Scale + Bias
)

// slotDef is the persisted form of a binding slot.
type slotDef struct {
	Name  string `json:"name"`
	Input bool   `json:"input"`
	DType int32  `json:"dtype"` // dtypes.DType enum value
	Min   []int  `json:"min"`
	Opt   []int  `json:"opt"`
	Max   []int  `json:"max"`
}

// Recipe computes one output slot. Recipes are stored in output slot order.
type Recipe struct {
	Op    string  `json:"op"`
	Input int     `json:"input,omitempty"` // input ordinal, for copy/sum/affine
	Value float64 `json:"value,omitempty"`
	Scale float64 `json:"scale,omitempty"`
	Bias  float64 `json:"bias,omitempty"`
}

type header struct {
	Slots   []slotDef `json:"slots"`
	Recipes []Recipe  `json:"recipes"`
}

func encodeFormat(h *header) ([]byte, error) {
	headerJSON, err := json.Marshal(h)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling plan header")
	}
	var buf bytes.Buffer
	buf.Grow(fixedHeader + len(headerJSON))
	buf.WriteString(magic)
	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], formatVersion)
	buf.Write(scratch[:4])
	binary.LittleEndian.PutUint32(scratch[:4], 0) // flags
	buf.Write(scratch[:4])
	binary.LittleEndian.PutUint64(scratch[:8], uint64(len(headerJSON)))
	buf.Write(scratch[:8])
	buf.Write(headerJSON)
	return buf.Bytes(), nil
}

func parseFormat(serialized []byte) (*header, error) {
	if len(serialized) < fixedHeader {
		return nil, errors.Errorf("plan is %d bytes, shorter than the %d bytes fixed header", len(serialized), fixedHeader)
	}
	if string(serialized[:4]) != magic {
		return nil, errors.Errorf("bad magic %q, not a simgo plan", serialized[:4])
	}
	version := binary.LittleEndian.Uint32(serialized[4:8])
	if version != formatVersion {
		return nil, errors.Errorf("plan format version %d, this runtime build reads version %d", version, formatVersion)
	}
	if flags := binary.LittleEndian.Uint32(serialized[8:12]); flags != 0 {
		return nil, errors.Errorf("unknown plan flags %#x", flags)
	}
	headerLen := binary.LittleEndian.Uint64(serialized[12:fixedHeader])
	if uint64(len(serialized)-fixedHeader) < headerLen {
		return nil, errors.Errorf("truncated plan: header declares %d bytes, %d available", headerLen, len(serialized)-fixedHeader)
	}
	h := &header{}
	if err := json.Unmarshal(serialized[fixedHeader:fixedHeader+int(headerLen)], h); err != nil {
		return nil, errors.Wrap(err, "unmarshaling plan header")
	}
	return h, nil
}

// supportedDTypes are the element types the recipe kernels handle.
var supportedDTypes = map[dtypes.DType]bool{
	dtypes.Float16: true,
	dtypes.Float32: true,
	dtypes.Float64: true,
	dtypes.Int32:   true,
	dtypes.Int64:   true,
	dtypes.Uint8:   true,
}
