package packet

import (
	"errors"
	"fmt"
	"math"
)

// Packet format:
//   - Header (HeaderSize bytes)
//   - Color image (width * height * 3 bytes, BGR)
//   - Depth image (width * height * 2 bytes, float16)
//   - Object image (width * height * 3 bytes, BGR)
//   - Map entries (MapEntries of them)
//   - Scene graph (NumberOfObjects properties, then NumberOfRelations relations)

const (
	bytesPerRGB   = 3
	bytesPerDepth = 2
)

var ErrInvalidDimensions = errors.New("packet: invalid width or height")

// maxPixels keeps the header, all three images and one growth step inside
// the u32 Size field.
const maxPixels = (math.MaxUint32 - HeaderSize - GrowIncrement) / (2*bytesPerRGB + bytesPerDepth)

type Kind int

const (
	KindHeader Kind = iota
	KindColor
	KindDepth
	KindObject
	KindMap
	KindSceneGraph
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindColor:
		return "color"
	case KindDepth:
		return "depth"
	case KindObject:
		return "object"
	case KindMap:
		return "map"
	case KindSceneGraph:
		return "scene_graph"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Section is a contiguous byte range inside a packet.
type Section struct {
	Offset int
	Length int
}

func (s Section) End() int {
	return s.Offset + s.Length
}

// Slice returns the section's bytes in buf, or an error when the range does
// not fit.
func (s Section) Slice(buf []byte) ([]byte, error) {
	if s.Offset < 0 || s.Length < 0 || s.End() > len(buf) {
		return nil, fmt.Errorf("packet: section [%d,%d) outside buffer of %d bytes", s.Offset, s.End(), len(buf))
	}
	return buf[s.Offset:s.End():s.End()], nil
}

// Layout holds the offsets that stay fixed for the lifetime of a buffer.
// Map and scene-graph sections are placed per frame by Sections.
type Layout struct {
	Width     uint32
	Height    uint32
	FOVX      float32
	FOVY      float32
	SizeRGB   int
	SizeFloat int

	Header Section
	Color  Section
	Depth  Section
	Object Section
}

func NewLayout(width, height uint32, fov float32) (Layout, error) {
	if width == 0 || height == 0 {
		return Layout{}, fmt.Errorf("%w: got %dx%d", ErrInvalidDimensions, width, height)
	}
	if uint64(width)*uint64(height) > maxPixels {
		return Layout{}, fmt.Errorf("%w: %dx%d frame does not fit a 4 GiB packet", ErrInvalidDimensions, width, height)
	}
	pixels := int(width) * int(height)
	l := Layout{
		Width:     width,
		Height:    height,
		SizeRGB:   pixels * bytesPerRGB,
		SizeFloat: pixels * bytesPerDepth,
	}
	l.FOVX, l.FOVY = SplitFOV(width, height, fov)
	l.Header = Section{Offset: 0, Length: HeaderSize}
	l.Color = Section{Offset: l.Header.End(), Length: l.SizeRGB}
	l.Depth = Section{Offset: l.Color.End(), Length: l.SizeFloat}
	l.Object = Section{Offset: l.Depth.End(), Length: l.SizeRGB}
	return l, nil
}

// SplitFOV keeps fov on the longer axis and scales the shorter one by the
// aspect ratio.
func SplitFOV(width, height uint32, fov float32) (fovX, fovY float32) {
	fovX, fovY = fov, fov
	if height > width {
		fovX = fov * float32(width) / float32(height)
	}
	if width > height {
		fovY = fov * float32(height) / float32(width)
	}
	return fovX, fovY
}

// FixedSize is the size of the header and the three images.
func (l Layout) FixedSize() int {
	return l.Object.End()
}

// Sections places the variable sections for one frame.
func (l Layout) Sections(mapSize, sceneGraphSize int) (mapSec, sceneGraph Section) {
	mapSec = Section{Offset: l.FixedSize(), Length: mapSize}
	sceneGraph = Section{Offset: mapSec.End(), Length: sceneGraphSize}
	return mapSec, sceneGraph
}

func (l Layout) Fixed(kind Kind) (Section, bool) {
	switch kind {
	case KindHeader:
		return l.Header, true
	case KindColor:
		return l.Color, true
	case KindDepth:
		return l.Depth, true
	case KindObject:
		return l.Object, true
	default:
		return Section{}, false
	}
}

// PacketSize is the Size header field for a frame with the given variable
// sections.
func (l Layout) PacketSize(mapSize, sceneGraphSize int) int {
	return l.FixedSize() + mapSize + sceneGraphSize
}
