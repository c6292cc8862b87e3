package packet

import (
	"errors"
	"fmt"
	"math"

	"rgbd-stream-go/internal/types"
)

// GrowIncrement is both the slack allocated past the image payload and the
// step by which a buffer grows when a frame's map and scene graph outgrow it.
const GrowIncrement = 1024 * 1024

var (
	ErrNotImageSection = errors.New("packet: section is not a writable image section")
	ErrTooLarge        = errors.New("packet: frame exceeds 4 GiB size field")
)

// Buffer is one growable packet. Image sections are written in place; the map
// and scene graph are encoded by Finalize, which also fixes up the header.
//
// Sections are handed out only for the duration of a call (Write, Fill), so
// no caller can hold a slice of an allocation that a later Finalize replaced.
type Buffer struct {
	layout     Layout
	data       []byte
	header     Header
	mapSec     Section
	sceneGraph Section
	grows      int
}

func NewBuffer(layout Layout) *Buffer {
	b := &Buffer{
		layout: layout,
		data:   make([]byte, layout.FixedSize()+GrowIncrement),
		header: Header{
			Size:         uint32(layout.FixedSize()),
			SizeHeader:   HeaderSize,
			Width:        layout.Width,
			Height:       layout.Height,
			FieldOfViewX: layout.FOVX,
			FieldOfViewY: layout.FOVY,
			Rotation:     types.IdentityQuaternion,
		},
	}
	b.mapSec, b.sceneGraph = layout.Sections(0, 0)
	b.syncHeader()
	return b
}

func (b *Buffer) Layout() Layout { return b.layout }

// Cap is the current allocation size in bytes.
func (b *Buffer) Cap() int { return len(b.data) }

// Grows counts reallocations over the buffer's lifetime.
func (b *Buffer) Grows() int { return b.grows }

func (b *Buffer) Header() Header { return b.header }

// Section returns the current placement of kind. Map and scene-graph
// placements change on every Finalize.
func (b *Buffer) Section(kind Kind) Section {
	switch kind {
	case KindMap:
		return b.mapSec
	case KindSceneGraph:
		return b.sceneGraph
	}
	sec, _ := b.layout.Fixed(kind)
	return sec
}

// Write copies src into the start of an image section.
func (b *Buffer) Write(kind Kind, src []byte) error {
	dst, err := b.image(kind)
	if err != nil {
		return err
	}
	if len(src) > len(dst) {
		return fmt.Errorf("packet: %d bytes do not fit %s section of %d", len(src), kind, len(dst))
	}
	copy(dst, src)
	return nil
}

// Fill hands fn the bytes of an image section. The slice must not be kept
// after fn returns.
func (b *Buffer) Fill(kind Kind, fn func(dst []byte)) error {
	dst, err := b.image(kind)
	if err != nil {
		return err
	}
	fn(dst)
	return nil
}

func (b *Buffer) image(kind Kind) ([]byte, error) {
	if kind != KindColor && kind != KindDepth && kind != KindObject {
		return nil, fmt.Errorf("%w: %s", ErrNotImageSection, kind)
	}
	return b.Section(kind).Slice(b.data)
}

func (b *Buffer) SetPose(translation types.Vector, rotation types.Quaternion) {
	b.header.Translation = translation
	b.header.Rotation = rotation
	b.syncHeader()
}

func (b *Buffer) SetCaptureTime(ts uint64) {
	b.header.TimestampCapture = ts
	b.syncHeader()
}

func (b *Buffer) SetSentTime(ts uint64) {
	b.header.TimestampSent = ts
	b.syncHeader()
}

// Finalize sizes the variable sections, grows the allocation if they do not
// fit, encodes the color map and scene graph, and rewrites the header. On
// error the buffer is unchanged.
func (b *Buffer) Finalize(cm types.ColorMap, sg types.SceneGraph) error {
	entries, mapSize, err := MapSectionSize(cm)
	if err != nil {
		return err
	}
	objects, relations, sgSize := SceneGraphSize(sg)

	total := b.layout.PacketSize(mapSize, sgSize)
	if uint64(total) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, total)
	}
	b.reserve(total)

	mapSec, sgSec := b.layout.Sections(mapSize, sgSize)
	mapDst, err := mapSec.Slice(b.data)
	if err != nil {
		return err
	}
	sgDst, err := sgSec.Slice(b.data)
	if err != nil {
		return err
	}
	if _, err := EncodeMap(mapDst, cm); err != nil {
		return err
	}
	if _, err := EncodeSceneGraph(sgDst, sg); err != nil {
		return err
	}

	b.mapSec, b.sceneGraph = mapSec, sgSec
	b.header.Size = uint32(total)
	b.header.MapEntries = entries
	b.header.NumberOfObjects = objects
	b.header.NumberOfRelations = relations
	b.syncHeader()
	return nil
}

// Bytes returns the current packet, exactly Header.Size bytes long.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.header.Size:b.header.Size]
}

// reserve grows the allocation in GrowIncrement steps until need bytes fit.
// It never shrinks, and it runs before any variable section is written so
// nothing is encoded into an allocation about to be dropped.
func (b *Buffer) reserve(need int) {
	if need <= len(b.data) {
		return
	}
	size := len(b.data)
	for size < need {
		size += GrowIncrement
	}
	next := make([]byte, size)
	copy(next, b.data[:b.layout.FixedSize()])
	b.data = next
	b.grows++
}

func (b *Buffer) syncHeader() {
	_ = PutHeader(b.data, b.header)
}
