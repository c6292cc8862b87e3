package packet

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"rgbd-stream-go/internal/types"
)

func sampleColorMap() types.ColorMap {
	return types.ColorMap{
		Index: map[string]uint32{
			"Table": 1,
			"Cube":  0,
			"Mug":   2,
		},
		Colors: []types.Color{
			{R: 10, G: 20, B: 30},
			{R: 40, G: 50, B: 60},
			{R: 70, G: 80, B: 90},
		},
	}
}

func sampleSceneGraph() types.SceneGraph {
	return types.NewSceneGraph(
		[]types.ObjectProperty{
			{ID: 1, Mesh: "/Game/Mesh/Cube", Material: "/Game/Mat/Red", Location: [3]float32{1, 2, 3}, Rotation: [3]float32{0, 90, 180}},
			{ID: 7, Mesh: "/Game/Mesh/Mug", Material: "", Location: [3]float32{-4.5, 0, 12}},
		},
		[]types.ObjectRelation{
			{ID1: 1, Relation: "left_of", ID2: 7},
			{ID1: 7, Relation: "on", ID2: 1},
		},
	)
}

func TestMapRoundTrip(t *testing.T) {
	cm := sampleColorMap()
	entries, size, err := MapSectionSize(cm)
	require.NoError(t, err)
	require.Equal(t, uint32(3), entries)
	require.Equal(t, 3*MapEntryOverhead+len("Table")+len("Cube")+len("Mug"), size)

	buf := make([]byte, size)
	n, err := EncodeMap(buf, cm)
	require.NoError(t, err)
	require.Equal(t, size, n)

	got, m, err := DecodeMap(buf, entries)
	require.NoError(t, err)
	require.Equal(t, size, m)

	want := []MapEntry{
		{Size: 11, Color: types.Color{R: 10, G: 20, B: 30}, Name: "Cube"},
		{Size: 10, Color: types.Color{R: 70, G: 80, B: 90}, Name: "Mug"},
		{Size: 12, Color: types.Color{R: 40, G: 50, B: 60}, Name: "Table"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("map entries mismatch (-want +got):\n%s", diff)
	}
}

func TestMapRejectsUnknownColorIndex(t *testing.T) {
	cm := types.ColorMap{Index: map[string]uint32{"Ghost": 4}, Colors: []types.Color{{}}}
	_, _, err := MapSectionSize(cm)
	require.True(t, errors.Is(err, ErrColorIndex))
}

func TestDecodeMapRejectsShortEntrySize(t *testing.T) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf, 6)
	_, _, err := DecodeMap(buf, 1)
	require.True(t, errors.Is(err, ErrCorrupt))
}

func TestDecodeMapRejectsOversizedEntry(t *testing.T) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf, 40)
	_, _, err := DecodeMap(buf, 1)
	require.True(t, errors.Is(err, ErrCorrupt))
}

func TestSceneGraphRoundTrip(t *testing.T) {
	sg := sampleSceneGraph()
	objects, relations, size := SceneGraphSize(sg)
	require.Equal(t, uint32(2), objects)
	require.Equal(t, uint32(2), relations)

	buf := make([]byte, size)
	n, err := EncodeSceneGraph(buf, sg)
	require.NoError(t, err)
	require.Equal(t, size, n)

	got, m, err := DecodeSceneGraph(buf, objects, relations)
	require.NoError(t, err)
	require.Equal(t, size, m)
	if diff := cmp.Diff(sg, got); diff != "" {
		t.Fatalf("scene graph mismatch (-want +got):\n%s", diff)
	}
}

func TestSceneGraphSizeIsLiteralSum(t *testing.T) {
	sg := types.NewSceneGraph(
		[]types.ObjectProperty{{ID: 1, Mesh: "M", Material: "Mat"}},
		[]types.ObjectRelation{{ID1: 1, Relation: "near", ID2: 2}},
	)
	_, _, size := SceneGraphSize(sg)
	property := 4 + 4 + 1 + 4 + 3 + 12 + 12
	relation := 4 + 4 + 4 + 4
	require.Equal(t, property+relation, size)
}

func TestSceneGraphFlattensMultiPropertyDescriptions(t *testing.T) {
	sg := types.SceneGraph{Objects: []types.ObjectDescription{{
		Properties: []types.ObjectProperty{{ID: 1, Mesh: "a"}, {ID: 2, Mesh: "b"}},
	}}}
	objects, _, size := SceneGraphSize(sg)
	require.Equal(t, uint32(2), objects)

	buf := make([]byte, size)
	_, err := EncodeSceneGraph(buf, sg)
	require.NoError(t, err)

	got, _, err := DecodeSceneGraph(buf, objects, 0)
	require.NoError(t, err)
	require.Len(t, got.Objects, 2)
	require.Equal(t, uint32(2), got.Objects[1].Properties[0].ID)
}

func TestDecodeSceneGraphRejectsTruncatedString(t *testing.T) {
	sg := sampleSceneGraph()
	_, _, size := SceneGraphSize(sg)
	buf := make([]byte, size)
	_, err := EncodeSceneGraph(buf, sg)
	require.NoError(t, err)

	_, _, err = DecodeSceneGraph(buf[:10], 2, 2)
	require.True(t, errors.Is(err, ErrCorrupt))

	// Corrupt the first mesh length to claim more bytes than remain.
	binary.LittleEndian.PutUint32(buf[4:], 1<<30)
	_, _, err = DecodeSceneGraph(buf, 2, 2)
	require.True(t, errors.Is(err, ErrCorrupt))
}

func TestEncodeRejectsShortDestination(t *testing.T) {
	_, err := EncodeSceneGraph(make([]byte, 3), sampleSceneGraph())
	require.Error(t, err)
	_, err = EncodeMap(make([]byte, 3), sampleColorMap())
	require.Error(t, err)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Size:              1234,
		SizeHeader:        HeaderSize,
		MapEntries:        3,
		Width:             640,
		Height:            480,
		TimestampCapture:  1 << 40,
		TimestampSent:     1<<40 + 99,
		FieldOfViewX:      90,
		FieldOfViewY:      67.5,
		Translation:       types.Vector{X: 1, Y: -2, Z: 3.5},
		Rotation:          types.Quaternion{X: 0.1, Y: 0.2, Z: 0.3, W: 0.9},
		NumberOfObjects:   5,
		NumberOfRelations: 20,
	}
	buf := make([]byte, HeaderSize)
	require.NoError(t, PutHeader(buf, h))
	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.Equal(t, uint32(640), binary.LittleEndian.Uint32(buf[12:]))
	require.Equal(t, uint64(1<<40), binary.LittleEndian.Uint64(buf[24:]))
}

func TestDecodeHeaderRejectsWrongHeaderSize(t *testing.T) {
	buf := make([]byte, HeaderSize)
	require.NoError(t, PutHeader(buf, Header{SizeHeader: 84}))
	_, err := DecodeHeader(buf)
	require.True(t, errors.Is(err, ErrCorrupt))

	_, err = DecodeHeader(buf[:20])
	require.True(t, errors.Is(err, ErrCorrupt))
}
