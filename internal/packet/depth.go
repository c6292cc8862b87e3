package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/x448/float16"
)

// EncodeDepth packs depth samples as IEEE-754 half floats.
func EncodeDepth(dst []byte, depth []float32) error {
	if len(dst) < len(depth)*bytesPerDepth {
		return fmt.Errorf("packet: depth needs %d bytes, have %d", len(depth)*bytesPerDepth, len(dst))
	}
	for i, v := range depth {
		binary.LittleEndian.PutUint16(dst[i*bytesPerDepth:], float16.Fromfloat32(v).Bits())
	}
	return nil
}

// DecodeDepth unpacks a depth section into dst, allocating when dst is too
// small.
func DecodeDepth(dst []float32, src []byte) []float32 {
	n := len(src) / bytesPerDepth
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = float16.Frombits(binary.LittleEndian.Uint16(src[i*bytesPerDepth:])).Float32()
	}
	return dst
}
