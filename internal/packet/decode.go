package packet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"rgbd-stream-go/internal/types"
)

var ErrCorrupt = errors.New("packet: corrupt data")

// MapEntry is one decoded row of the color map.
type MapEntry struct {
	Size  uint32      `json:"size"`
	Color types.Color `json:"color"`
	Name  string      `json:"name"`
}

// Packet is a fully decoded frame. Image slices alias the input buffer.
type Packet struct {
	Header     Header           `json:"header"`
	Color      []byte           `json:"-"`
	Depth      []byte           `json:"-"`
	Object     []byte           `json:"-"`
	MapEntries []MapEntry       `json:"map_entries"`
	SceneGraph types.SceneGraph `json:"scene_graph"`
}

// Decode parses a complete packet. The buffer may be longer than the packet;
// bytes past Header.Size are ignored.
func Decode(src []byte) (*Packet, error) {
	h, err := DecodeHeader(src)
	if err != nil {
		return nil, err
	}
	if int(h.Size) > len(src) {
		return nil, fmt.Errorf("%w: packet size %d exceeds %d available bytes", ErrCorrupt, h.Size, len(src))
	}
	if uint64(h.Width)*uint64(h.Height) > uint64(h.Size)/(2*bytesPerRGB+bytesPerDepth) {
		return nil, fmt.Errorf("%w: %dx%d images do not fit in %d bytes", ErrCorrupt, h.Width, h.Height, h.Size)
	}
	layout, err := NewLayout(h.Width, h.Height, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if int(h.Size) < layout.FixedSize() {
		return nil, fmt.Errorf("%w: packet size %d below image payload %d", ErrCorrupt, h.Size, layout.FixedSize())
	}
	src = src[:h.Size]

	p := &Packet{Header: h}
	p.Color, _ = layout.Color.Slice(src)
	p.Depth, _ = layout.Depth.Slice(src)
	p.Object, _ = layout.Object.Slice(src)

	rest := src[layout.FixedSize():]
	entries, n, err := DecodeMap(rest, h.MapEntries)
	if err != nil {
		return nil, err
	}
	p.MapEntries = entries

	sg, m, err := DecodeSceneGraph(rest[n:], h.NumberOfObjects, h.NumberOfRelations)
	if err != nil {
		return nil, err
	}
	if n+m != len(rest) {
		return nil, fmt.Errorf("%w: %d trailing bytes after scene graph", ErrCorrupt, len(rest)-n-m)
	}
	p.SceneGraph = sg
	return p, nil
}

// DecodeMap reads count entries and returns them with the bytes consumed.
func DecodeMap(src []byte, count uint32) ([]MapEntry, int, error) {
	entries := make([]MapEntry, 0, capHint(count, len(src), MapEntryOverhead))
	n := 0
	for i := uint32(0); i < count; i++ {
		if len(src)-n < MapEntryOverhead {
			return nil, 0, fmt.Errorf("%w: map entry %d truncated", ErrCorrupt, i)
		}
		size := binary.LittleEndian.Uint32(src[n:])
		if size < MapEntryOverhead {
			return nil, 0, fmt.Errorf("%w: map entry %d size %d below %d", ErrCorrupt, i, size, MapEntryOverhead)
		}
		if uint64(size) > uint64(len(src)-n) {
			return nil, 0, fmt.Errorf("%w: map entry %d size %d exceeds remaining %d", ErrCorrupt, i, size, len(src)-n)
		}
		entries = append(entries, MapEntry{
			Size:  size,
			Color: types.Color{R: src[n+4], G: src[n+5], B: src[n+6]},
			Name:  string(src[n+MapEntryOverhead : n+int(size)]),
		})
		n += int(size)
	}
	return entries, n, nil
}

// DecodeSceneGraph reads the given number of property records and relations.
// Each property record becomes its own ObjectDescription.
func DecodeSceneGraph(src []byte, objects, relations uint32) (types.SceneGraph, int, error) {
	r := reader{buf: src}
	sg := types.SceneGraph{
		Objects:   make([]types.ObjectDescription, 0, capHint(objects, len(src), propertyOverhead)),
		Relations: make([]types.ObjectRelation, 0, capHint(relations, len(src), relationOverhead)),
	}
	for i := uint32(0); i < objects; i++ {
		var p types.ObjectProperty
		p.ID = r.readUint32()
		p.Mesh = r.readString()
		p.Material = r.readString()
		for j := range p.Location {
			p.Location[j] = r.readFloat32()
		}
		for j := range p.Rotation {
			p.Rotation[j] = r.readFloat32()
		}
		if r.err != nil {
			return types.SceneGraph{}, 0, fmt.Errorf("%w: object %d: %v", ErrCorrupt, i, r.err)
		}
		sg.Objects = append(sg.Objects, types.ObjectDescription{Properties: []types.ObjectProperty{p}})
	}
	for i := uint32(0); i < relations; i++ {
		var rel types.ObjectRelation
		rel.ID1 = r.readUint32()
		rel.Relation = r.readString()
		rel.ID2 = r.readUint32()
		if r.err != nil {
			return types.SceneGraph{}, 0, fmt.Errorf("%w: relation %d: %v", ErrCorrupt, i, r.err)
		}
		sg.Relations = append(sg.Relations, rel)
	}
	return sg, r.off, nil
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.buf)-r.off {
		r.err = fmt.Errorf("need %d bytes at offset %d, have %d", n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) readUint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) readFloat32() float32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return getFloat32(b)
}

func (r *reader) readString() string {
	n := r.readUint32()
	if r.err != nil {
		return ""
	}
	if uint64(n) > uint64(len(r.buf)-r.off) {
		r.err = fmt.Errorf("string length %d exceeds remaining %d", n, len(r.buf)-r.off)
		return ""
	}
	return string(r.take(int(n)))
}

// capHint bounds a preallocation by what the remaining bytes could hold, so a
// corrupt count cannot force a huge allocation.
func capHint(count uint32, available, minSize int) int {
	limit := available / minSize
	if uint64(count) < uint64(limit) {
		return int(count)
	}
	return limit
}
