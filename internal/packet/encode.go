package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"rgbd-stream-go/internal/types"
)

// MapEntryOverhead is the fixed part of a map entry: the u32 entry size and
// the three color bytes. The name takes the remaining entrySize-7 bytes.
const MapEntryOverhead = 4 + 3

const (
	propertyOverhead = 4 + 4 + 4 + 3*4 + 3*4
	relationOverhead = 4 + 4 + 4
)

var ErrColorIndex = errors.New("packet: color index outside color table")

// MapSectionSize reports how many entries the color map produces and how
// many bytes they take.
func MapSectionSize(cm types.ColorMap) (entries uint32, size int, err error) {
	for name, idx := range cm.Index {
		if int(idx) >= len(cm.Colors) {
			return 0, 0, fmt.Errorf("%w: %q -> %d (table has %d)", ErrColorIndex, name, idx, len(cm.Colors))
		}
		size += MapEntryOverhead + len(name)
		entries++
	}
	return entries, size, nil
}

// EncodeMap writes one entry per name, in ascending name order, and returns
// the number of bytes written.
func EncodeMap(dst []byte, cm types.ColorMap) (int, error) {
	_, size, err := MapSectionSize(cm)
	if err != nil {
		return 0, err
	}
	if len(dst) < size {
		return 0, fmt.Errorf("packet: map section needs %d bytes, have %d", size, len(dst))
	}

	names := make([]string, 0, len(cm.Index))
	for name := range cm.Index {
		names = append(names, name)
	}
	sort.Strings(names)

	n := 0
	for _, name := range names {
		color := cm.Colors[cm.Index[name]]
		entrySize := MapEntryOverhead + len(name)
		binary.LittleEndian.PutUint32(dst[n:], uint32(entrySize))
		dst[n+4] = color.R
		dst[n+5] = color.G
		dst[n+6] = color.B
		copy(dst[n+MapEntryOverhead:], name)
		n += entrySize
	}
	return n, nil
}

// SceneGraphSize counts property records and relations and sums their
// encoded sizes. Every property of every description is one record.
func SceneGraphSize(sg types.SceneGraph) (objects, relations uint32, size int) {
	for _, obj := range sg.Objects {
		for _, p := range obj.Properties {
			size += propertyOverhead + len(p.Mesh) + len(p.Material)
			objects++
		}
	}
	for _, r := range sg.Relations {
		size += relationOverhead + len(r.Relation)
		relations++
	}
	return objects, relations, size
}

// EncodeSceneGraph writes all property records followed by all relations and
// returns the number of bytes written. dst must hold SceneGraphSize bytes.
func EncodeSceneGraph(dst []byte, sg types.SceneGraph) (int, error) {
	_, _, size := SceneGraphSize(sg)
	if len(dst) < size {
		return 0, fmt.Errorf("packet: scene graph section needs %d bytes, have %d", size, len(dst))
	}

	n := 0
	for _, obj := range sg.Objects {
		for _, p := range obj.Properties {
			n += putProperty(dst[n:], p)
		}
	}
	for _, r := range sg.Relations {
		n += putRelation(dst[n:], r)
	}
	return n, nil
}

func putProperty(dst []byte, p types.ObjectProperty) int {
	le := binary.LittleEndian
	n := 0
	le.PutUint32(dst[n:], p.ID)
	n += 4
	n += putString(dst[n:], p.Mesh)
	n += putString(dst[n:], p.Material)
	for _, v := range p.Location {
		putFloat32(dst[n:], v)
		n += 4
	}
	for _, v := range p.Rotation {
		putFloat32(dst[n:], v)
		n += 4
	}
	return n
}

func putRelation(dst []byte, r types.ObjectRelation) int {
	le := binary.LittleEndian
	n := 0
	le.PutUint32(dst[n:], r.ID1)
	n += 4
	n += putString(dst[n:], r.Relation)
	le.PutUint32(dst[n:], r.ID2)
	n += 4
	return n
}

func putString(dst []byte, s string) int {
	binary.LittleEndian.PutUint32(dst, uint32(len(s)))
	copy(dst[4:], s)
	return 4 + len(s)
}
