package nn

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

// SaveSafetensors writes tensors to a safetensors file. Data is written as
// F32 regardless of the tensor's declared dtype.
func SaveSafetensors(path string, tensors map[string]Tensor) error {
	data, err := SerializeSafetensors(tensors)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// SerializeSafetensors converts tensors to safetensors format bytes.
// Names are sorted so output is deterministic.
func SerializeSafetensors(tensors map[string]Tensor) ([]byte, error) {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]safetensorsEntry, len(tensors))
	offset := 0
	for _, name := range names {
		t := tensors[name]
		count := 1
		for _, dim := range t.Shape {
			count *= dim
		}
		if count != len(t.Data) {
			return nil, fmt.Errorf("tensor %q: shape %v does not match %d values", name, t.Shape, len(t.Data))
		}
		size := count * 4
		header[name] = safetensorsEntry{
			DType:   "F32",
			Shape:   t.Shape,
			Offsets: [2]int{offset, offset + size},
		}
		offset += size
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}

	out := make([]byte, 8+len(headerBytes)+offset)
	binary.LittleEndian.PutUint64(out, uint64(len(headerBytes)))
	copy(out[8:], headerBytes)

	dataStart := 8 + len(headerBytes)
	for _, name := range names {
		entry := header[name]
		dest := out[dataStart+entry.Offsets[0]:]
		for i, v := range tensors[name].Data {
			binary.LittleEndian.PutUint32(dest[i*4:], math.Float32bits(v))
		}
	}
	return out, nil
}
