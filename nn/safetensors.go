package nn

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
)

// Tensor is a named checkpoint tensor: dtype tag, shape and float32 data.
// Lower-precision dtypes are widened to float32 on load.
type Tensor struct {
	DType string
	Shape []int
	Data  []float32
}

type safetensorsEntry struct {
	DType   string `json:"dtype"`
	Shape   []int  `json:"shape"`
	Offsets [2]int `json:"data_offsets"`
}

// LoadSafetensors reads a safetensors file and returns its tensors by name.
// F32 and F16 payloads are supported; F16 is widened to float32.
func LoadSafetensors(path string) (map[string]Tensor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &rawHeader); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	tensors := make(map[string]Tensor, len(rawHeader))
	for name, raw := range rawHeader {
		if name == "__metadata__" {
			continue
		}
		var entry safetensorsEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("bad header entry for %q: %w", name, err)
		}
		start, end := entry.Offsets[0], entry.Offsets[1]
		if start < 0 || end > len(data) || start > end {
			return nil, fmt.Errorf("tensor %q offsets [%d,%d] out of range (%d data bytes)", name, start, end, len(data))
		}

		count := 1
		for _, dim := range entry.Shape {
			count *= dim
		}

		values, err := decodeTensorData(data[start:end], entry.DType, count)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		tensors[name] = Tensor{DType: entry.DType, Shape: entry.Shape, Data: values}
	}
	return tensors, nil
}

func decodeTensorData(raw []byte, dtype string, count int) ([]float32, error) {
	switch dtype {
	case "F32":
		if len(raw) != count*4 {
			return nil, fmt.Errorf("F32 payload is %d bytes, want %d", len(raw), count*4)
		}
		values := make([]float32, count)
		for i := 0; i < count; i++ {
			bits := binary.LittleEndian.Uint32(raw[i*4:])
			values[i] = math.Float32frombits(bits)
		}
		return values, nil
	case "F16":
		if len(raw) != count*2 {
			return nil, fmt.Errorf("F16 payload is %d bytes, want %d", len(raw), count*2)
		}
		values := make([]float32, count)
		for i := 0; i < count; i++ {
			values[i] = float16ToFloat32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
		return values, nil
	default:
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
}

// float16ToFloat32 widens an IEEE 754 half-precision value.
func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h) & 0x3FF

	var bits uint32
	switch {
	case exp == 0 && frac == 0:
		bits = sign << 31
	case exp == 0:
		// Subnormal: normalize.
		e := uint32(127 - 15 + 1)
		for frac&0x400 == 0 {
			frac <<= 1
			e--
		}
		frac &= 0x3FF
		bits = sign<<31 | e<<23 | frac<<13
	case exp == 0x1F:
		bits = sign<<31 | 0xFF<<23 | frac<<13
	default:
		bits = sign<<31 | (exp+127-15)<<23 | frac<<13
	}
	return math.Float32frombits(bits)
}
