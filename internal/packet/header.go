package packet

import (
	"encoding/binary"
	"fmt"
	"math"

	"rgbd-stream-go/internal/types"
)

// HeaderSize matches the naturally aligned C layout of the header: the two
// 64-bit timestamps force 4 bytes of padding after Height and 4 bytes of tail
// padding.
const HeaderSize = 88

const (
	offSize              = 0
	offSizeHeader        = 4
	offMapEntries        = 8
	offWidth             = 12
	offHeight            = 16
	offTimestampCapture  = 24
	offTimestampSent     = 32
	offFieldOfViewX      = 40
	offFieldOfViewY      = 44
	offTranslation       = 48
	offRotation          = 60
	offNumberOfObjects   = 76
	offNumberOfRelations = 80
)

type Header struct {
	Size              uint32           `json:"size"`
	SizeHeader        uint32           `json:"size_header"`
	MapEntries        uint32           `json:"map_entries"`
	Width             uint32           `json:"width"`
	Height            uint32           `json:"height"`
	TimestampCapture  uint64           `json:"timestamp_capture"`
	TimestampSent     uint64           `json:"timestamp_sent"`
	FieldOfViewX      float32          `json:"fov_x"`
	FieldOfViewY      float32          `json:"fov_y"`
	Translation       types.Vector     `json:"translation"`
	Rotation          types.Quaternion `json:"rotation"`
	// NumberOfObjects counts encoded property records, which is the sum of
	// len(Properties) over all descriptions, not len(SceneGraph.Objects).
	NumberOfObjects   uint32           `json:"number_of_objects"`
	NumberOfRelations uint32           `json:"number_of_relations"`
}

// PutHeader writes h into the first HeaderSize bytes of dst. Padding bytes
// are zeroed.
func PutHeader(dst []byte, h Header) error {
	if len(dst) < HeaderSize {
		return fmt.Errorf("packet: header needs %d bytes, have %d", HeaderSize, len(dst))
	}
	clear(dst[:HeaderSize])
	le := binary.LittleEndian
	le.PutUint32(dst[offSize:], h.Size)
	le.PutUint32(dst[offSizeHeader:], h.SizeHeader)
	le.PutUint32(dst[offMapEntries:], h.MapEntries)
	le.PutUint32(dst[offWidth:], h.Width)
	le.PutUint32(dst[offHeight:], h.Height)
	le.PutUint64(dst[offTimestampCapture:], h.TimestampCapture)
	le.PutUint64(dst[offTimestampSent:], h.TimestampSent)
	putFloat32(dst[offFieldOfViewX:], h.FieldOfViewX)
	putFloat32(dst[offFieldOfViewY:], h.FieldOfViewY)
	putFloat32(dst[offTranslation:], h.Translation.X)
	putFloat32(dst[offTranslation+4:], h.Translation.Y)
	putFloat32(dst[offTranslation+8:], h.Translation.Z)
	putFloat32(dst[offRotation:], h.Rotation.X)
	putFloat32(dst[offRotation+4:], h.Rotation.Y)
	putFloat32(dst[offRotation+8:], h.Rotation.Z)
	putFloat32(dst[offRotation+12:], h.Rotation.W)
	le.PutUint32(dst[offNumberOfObjects:], h.NumberOfObjects)
	le.PutUint32(dst[offNumberOfRelations:], h.NumberOfRelations)
	return nil
}

func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrCorrupt, HeaderSize, len(src))
	}
	le := binary.LittleEndian
	h := Header{
		Size:             le.Uint32(src[offSize:]),
		SizeHeader:       le.Uint32(src[offSizeHeader:]),
		MapEntries:       le.Uint32(src[offMapEntries:]),
		Width:            le.Uint32(src[offWidth:]),
		Height:           le.Uint32(src[offHeight:]),
		TimestampCapture: le.Uint64(src[offTimestampCapture:]),
		TimestampSent:    le.Uint64(src[offTimestampSent:]),
		FieldOfViewX:     getFloat32(src[offFieldOfViewX:]),
		FieldOfViewY:     getFloat32(src[offFieldOfViewY:]),
		Translation: types.Vector{
			X: getFloat32(src[offTranslation:]),
			Y: getFloat32(src[offTranslation+4:]),
			Z: getFloat32(src[offTranslation+8:]),
		},
		Rotation: types.Quaternion{
			X: getFloat32(src[offRotation:]),
			Y: getFloat32(src[offRotation+4:]),
			Z: getFloat32(src[offRotation+8:]),
			W: getFloat32(src[offRotation+12:]),
		},
		NumberOfObjects:   le.Uint32(src[offNumberOfObjects:]),
		NumberOfRelations: le.Uint32(src[offNumberOfRelations:]),
	}
	if h.SizeHeader != HeaderSize {
		return Header{}, fmt.Errorf("%w: header size field %d, expected %d", ErrCorrupt, h.SizeHeader, HeaderSize)
	}
	return h, nil
}

func putFloat32(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
}

func getFloat32(src []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src))
}
