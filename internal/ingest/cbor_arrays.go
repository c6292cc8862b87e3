package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
	"github.com/x448/float16"

	"rgbd-stream-go/internal/publish"
)

// decodeMultiDimArray unpacks an RFC 8746 [rows, cols] typed array into a
// row-major matrix. Half and single floats both come back as [][]float32.
func decodeMultiDimArray(value any) (any, error) {
	tag, ok := value.(cbor.Tag)
	if !ok || tag.Number != publish.TagMultiDimArray {
		return nil, fmt.Errorf("expected multidim tag 40")
	}

	items, ok := tag.Content.([]any)
	if !ok || len(items) != 2 {
		return nil, fmt.Errorf("invalid multidim array content")
	}

	dimsRaw, ok := items[0].([]any)
	if !ok || len(dimsRaw) != 2 {
		return nil, fmt.Errorf("invalid multidim dimensions")
	}

	rows, err := toInt(dimsRaw[0])
	if err != nil {
		return nil, err
	}
	cols, err := toInt(dimsRaw[1])
	if err != nil {
		return nil, err
	}

	flat, err := decodeTypedArray(items[1])
	if err != nil {
		return nil, err
	}

	switch v := flat.(type) {
	case []uint8:
		return reshape(v, rows, cols)
	case []float32:
		return reshape(v, rows, cols)
	default:
		return nil, errors.New("unsupported typed array type")
	}
}

func decodeTypedArray(value any) (any, error) {
	tag, ok := value.(cbor.Tag)
	if !ok {
		return nil, fmt.Errorf("expected typed array tag")
	}
	dataBytes, ok := tag.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("unsupported typed array content %T", tag.Content)
	}

	switch tag.Number {
	case publish.TagUint8:
		return dataBytes, nil
	case publish.TagFloat16LE:
		return halfToFloat32(dataBytes), nil
	case publish.TagFloat32LE:
		return bytesToFloat32(dataBytes), nil
	default:
		return nil, fmt.Errorf("unsupported typed array tag %d", tag.Number)
	}
}

func halfToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float16.Frombits(binary.LittleEndian.Uint16(data[i*2:])).Float32()
	}
	return out
}

func bytesToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

func reshape[T any](flat []T, rows, cols int) ([][]T, error) {
	if rows < 0 || cols < 0 || rows*cols != len(flat) {
		return nil, errors.New("dimension mismatch")
	}
	out := make([][]T, rows)
	for r := 0; r < rows; r++ {
		row := make([]T, cols)
		copy(row, flat[r*cols:(r+1)*cols])
		out[r] = row
	}
	return out, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("dimension %d too large", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}
